package feed

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/engine"
)

// DefaultPort is the UDP port capture agents send frame records to
const DefaultPort = 5790

// PcapOptions configures a PcapSource
type PcapOptions struct {
	Port   uint16        // Only UDP datagrams to or from this port; 0 accepts any
	NG     bool          // Input is pcapng rather than classic pcap
	Logger logger.Logger // Defaults to the package logger
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// PcapStats counts what a PcapSource saw
type PcapStats struct {
	Packets  uint64 // Packets read from the capture
	Frames   uint64 // Records decoded into frames
	Skipped  uint64 // Packets without a matching UDP datagram
	BadFrame uint64 // Datagrams whose payload was not a valid record
}

// PcapSource reads frame records carried as UDP payloads in a pcap or pcapng
// capture. A record without a frame ID takes the packet number (1-based);
// one without a timestamp takes the capture timestamp.
type PcapSource struct {
	r        packetReader
	linkType layers.LinkType
	port     layers.UDPPort
	closer   io.Closer
	log      logger.Logger

	packets  atomic.Uint64
	frames   atomic.Uint64
	skipped  atomic.Uint64
	badFrame atomic.Uint64
}

// NewPcapSource creates a Source over the capture in r
func NewPcapSource(r io.Reader, opts PcapOptions) (*PcapSource, error) {
	s := &PcapSource{
		port: layers.UDPPort(opts.Port),
		log:  opts.Logger,
	}
	if s.log == nil {
		s.log = logger.Component("pcap")
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}

	if opts.NG {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, errors.Wrap(err, "pcapng header")
		}
		s.r, s.linkType = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "pcap header")
		}
		s.r, s.linkType = pr, pr.LinkType()
	}

	return s, nil
}

// Next implements Source
func (s *PcapSource) Next(ctx context.Context) (engine.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return engine.Frame{}, err
		}

		data, ci, err := s.r.ReadPacketData()
		if err == io.EOF {
			return engine.Frame{}, io.EOF
		}
		if err != nil {
			return engine.Frame{}, errors.Wrap(err, "read packet")
		}
		number := s.packets.Add(1)

		payload, ok := s.datagram(data)
		if !ok {
			s.skipped.Add(1)
			continue
		}

		f, err := DecodeRecord(payload)
		if err != nil {
			s.badFrame.Add(1)
			s.log.Warn("packet %d: %v", number, err)
			continue
		}
		if f.ID == 0 {
			f.ID = number
		}
		if f.Time.IsZero() {
			f.Time = ci.Timestamp
		}

		s.frames.Add(1)
		return f, nil
	}
}

// datagram extracts the UDP payload of a packet if it passes the port filter
func (s *PcapSource) datagram(data []byte) ([]byte, bool) {
	packet := gopacket.NewPacket(data, s.linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return nil, false
	}
	if s.port != 0 && udp.DstPort != s.port && udp.SrcPort != s.port {
		return nil, false
	}
	return udp.Payload, true
}

// Stats returns the source's counters
func (s *PcapSource) Stats() PcapStats {
	return PcapStats{
		Packets:  s.packets.Load(),
		Frames:   s.frames.Load(),
		Skipped:  s.skipped.Load(),
		BadFrame: s.badFrame.Load(),
	}
}

// Close closes the underlying reader if it is closable
func (s *PcapSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// PcapWriter writes frames as UDP datagrams into a classic pcap capture.
// It is the inverse of PcapSource and is used to spool captures.
type PcapWriter struct {
	w       *pcapgo.Writer
	ip      net.IP
	srcPort layers.UDPPort
	dstPort layers.UDPPort
	buf     gopacket.SerializeBuffer
}

// NewPcapWriter writes a pcap file header to w and returns a writer
// sending datagrams to port
func NewPcapWriter(w io.Writer, port uint16) (*PcapWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return nil, errors.Wrap(err, "pcap header")
	}
	return &PcapWriter{
		w:       pw,
		ip:      net.IPv4(127, 0, 0, 1).To4(),
		srcPort: layers.UDPPort(port),
		dstPort: layers.UDPPort(port),
		buf:     gopacket.NewSerializeBuffer(),
	}, nil
}

// Write appends one frame, stamped with the frame's time
func (w *PcapWriter) Write(f engine.Frame) error {
	body, err := EncodeRecord(f)
	if err != nil {
		return err
	}

	eth := &layers.Ethernet{
		SrcMAC:       []byte{0x02, 0, 0, 0, 0, 1},
		DstMAC:       []byte{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    w.ip,
		DstIP:    w.ip,
	}
	udp := &layers.UDP{SrcPort: w.srcPort, DstPort: w.dstPort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return errors.WithStack(err)
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(w.buf, opts, eth, ip, udp, gopacket.Payload(body)); err != nil {
		return errors.Wrap(err, "serialize packet")
	}

	at := f.Time
	if at.IsZero() {
		at = time.Unix(0, 0)
	}
	data := w.buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     at,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.w.WritePacket(ci, data); err != nil {
		return errors.Wrap(err, "write packet")
	}
	return nil
}
