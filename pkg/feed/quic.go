package feed

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/engine"
)

// QUICProtocol is the ALPN protocol spoken by capture agents
const QUICProtocol = "rlc-replay"

// ErrFeedClosed is returned when sending on a closed QUIC feed
var ErrFeedClosed = errors.New("feed closed")

// QUICConfig configures a QUIC feed endpoint
type QUICConfig struct {
	Address      string        // "host:port" format
	Backlog      int           // Frames buffered ahead of Next (server only)
	WriteTimeout time.Duration // Per-record write timeout (client only, 0 = none)
	TLSConfig    *tls.Config   // Optional; a self-signed certificate is generated for servers
	Logger       logger.Logger
}

// QUICStats provides feed transport statistics
type QUICStats struct {
	Records       uint64
	BytesReceived uint64
	BytesSent     uint64
	ReadErrors    uint64
	Connects      uint64
	Disconnects   uint64
}

// QUICServer accepts capture agents over QUIC. Every stream an agent opens
// carries a sequence of length-prefixed frame records; frames of all
// streams are delivered through Next in arrival order.
type QUICServer struct {
	udpConn  *net.UDPConn
	listener *quic.Listener
	frames   chan engine.Frame
	log      logger.Logger

	conns   map[*quic.Conn]struct{}
	connsMu sync.Mutex

	stats struct {
		records       atomic.Uint64
		bytesReceived atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// ListenQUIC starts a QUIC feed server
func ListenQUIC(config QUICConfig) (*QUICServer, error) {
	if config.Address == "" {
		return nil, errors.New("address is required")
	}
	if config.Backlog <= 0 {
		config.Backlog = 256
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateTLSConfig()
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate TLS config")
		}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve UDP address %s", config.Address)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", config.Address)
	}
	listener, err := quic.Listen(udpConn, tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, errors.Wrap(err, "failed to create QUIC listener")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &QUICServer{
		udpConn:  udpConn,
		listener: listener,
		frames:   make(chan engine.Frame, config.Backlog),
		log:      config.Logger,
		conns:    make(map[*quic.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	if s.log == nil {
		s.log = logger.Component("quic")
	}

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("listening on %s", listener.Addr())
	return s, nil
}

// generateTLSConfig generates a self-signed certificate for the server
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{QUICProtocol},
	}, nil
}

// Addr returns the address the server listens on
func (s *QUICServer) Addr() net.Addr {
	return s.listener.Addr()
}

// acceptLoop accepts incoming agent connections
func (s *QUICServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			if s.closed.Load() || s.ctx.Err() != nil {
				return
			}
			s.log.Warn("accept: %v", err)
			continue
		}

		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()
		s.stats.connects.Add(1)
		s.log.Info("agent %s connected", conn.RemoteAddr())

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn accepts the streams of one agent
func (s *QUICServer) serveConn(conn *quic.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		s.stats.disconnects.Add(1)
		s.log.Info("agent %s disconnected", conn.RemoteAddr())
	}()

	var streams sync.WaitGroup
	defer streams.Wait()

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			return
		}

		streams.Add(1)
		go func() {
			defer streams.Done()
			s.readStream(stream)
		}()
	}
}

// readStream delivers the records of one stream until the agent closes it
func (s *QUICServer) readStream(stream *quic.Stream) {
	// Closing our side tells the agent every record was consumed.
	defer stream.Close()

	r := bufio.NewReader(&countingReader{r: stream, n: &s.stats.bytesReceived})
	for {
		f, err := ReadRecord(r)
		if err == io.EOF {
			return
		}
		if err != nil {
			if s.ctx.Err() == nil {
				s.stats.readErrors.Add(1)
				s.log.Warn("stream %d: %v", stream.StreamID(), err)
			}
			stream.CancelRead(0)
			return
		}

		s.stats.records.Add(1)

		select {
		case s.frames <- f:
		case <-s.ctx.Done():
			return
		}
	}
}

// Next implements Source. It returns io.EOF once the server is closed.
func (s *QUICServer) Next(ctx context.Context) (engine.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-ctx.Done():
		return engine.Frame{}, ctx.Err()
	case <-s.ctx.Done():
		return engine.Frame{}, io.EOF
	}
}

// Statistics returns feed statistics
func (s *QUICServer) Statistics() QUICStats {
	return QUICStats{
		Records:       s.stats.records.Load(),
		BytesReceived: s.stats.bytesReceived.Load(),
		ReadErrors:    s.stats.readErrors.Load(),
		Connects:      s.stats.connects.Load(),
		Disconnects:   s.stats.disconnects.Load(),
	}
}

// Close stops the server and disconnects every agent
func (s *QUICServer) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.CloseWithError(0, "server closed")
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.udpConn.Close()

	s.log.Info("closed")
	return nil
}

// QUICClient is a capture agent sending frames to a QUICServer over one
// stream
type QUICClient struct {
	udpConn      *net.UDPConn
	conn         *quic.Conn
	stream       *quic.Stream
	writeTimeout time.Duration
	mu           sync.Mutex

	sent      atomic.Uint64
	bytesSent atomic.Uint64
	closed    atomic.Bool
}

// DialQUIC connects to a QUIC feed server
func DialQUIC(ctx context.Context, config QUICConfig) (*QUICClient, error) {
	if config.Address == "" {
		return nil, errors.New("address is required")
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			NextProtos:         []string{QUICProtocol},
			InsecureSkipVerify: true, // Servers use self-signed certificates
		}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", "0.0.0.0:0")
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve local UDP address")
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create UDP socket")
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		udpConn.Close()
		return nil, errors.Wrapf(err, "failed to resolve remote address %s", config.Address)
	}

	conn, err := quic.Dial(ctx, udpConn, remoteAddr, tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s", config.Address)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		udpConn.Close()
		return nil, errors.Wrap(err, "failed to open stream")
	}

	return &QUICClient{
		udpConn:      udpConn,
		conn:         conn,
		stream:       stream,
		writeTimeout: config.WriteTimeout,
	}, nil
}

// Send writes one frame record to the server
func (c *QUICClient) Send(f engine.Frame) error {
	if c.closed.Load() {
		return ErrFeedClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		c.stream.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := WriteRecord(&countingWriter{w: c.stream, n: &c.bytesSent}, f); err != nil {
		return err
	}

	c.sent.Add(1)
	return nil
}

// Statistics returns feed statistics
func (c *QUICClient) Statistics() QUICStats {
	return QUICStats{
		Records:   c.sent.Load(),
		BytesSent: c.bytesSent.Load(),
	}
}

// Close finishes the stream, waits until the server has consumed it and
// disconnects
func (c *QUICClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.stream.Close()
	if err == nil {
		c.stream.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err = io.Copy(io.Discard, c.stream)
	}

	c.conn.CloseWithError(0, "agent done")
	c.udpConn.Close()
	return errors.WithStack(err)
}

type countingReader struct {
	r io.Reader
	n *atomic.Uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(uint64(n))
	return n, err
}

type countingWriter struct {
	w io.Writer
	n *atomic.Uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(uint64(n))
	return n, err
}
