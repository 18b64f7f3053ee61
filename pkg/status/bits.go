package status

import "avaneesh/rlc-go/pkg/types"

// bitReader reads big-endian bit fields from a byte slice
type bitReader struct {
	data []byte
	pos  int // Bit position
}

func newBitReader(data []byte, bitOffset int) *bitReader {
	return &bitReader{data: data, pos: bitOffset}
}

// remaining returns the number of unread bits
func (r *bitReader) remaining() int {
	return len(r.data)*8 - r.pos
}

// read reads n (<= 32) bits
func (r *bitReader) read(n int) (uint32, error) {
	if n > r.remaining() {
		return 0, types.Malformedf("need %d bits at bit %d, %d left", n, r.pos, r.remaining())
	}
	var v uint32
	for i := 0; i < n; i++ {
		b := r.data[(r.pos)/8]
		bit := (b >> (7 - uint(r.pos%8))) & 0x01
		v = (v << 1) | uint32(bit)
		r.pos++
	}
	return v, nil
}

func (r *bitReader) read4() (uint8, error) {
	v, err := r.read(4)
	return uint8(v), err
}

func (r *bitReader) read12() (uint16, error) {
	v, err := r.read(12)
	return uint16(v), err
}

// bitWriter appends big-endian bit fields
type bitWriter struct {
	data []byte
	pos  int
}

// write appends the low n bits of v
func (w *bitWriter) write(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.pos%8 == 0 {
			w.data = append(w.data, 0)
		}
		if (v>>uint(i))&0x01 != 0 {
			w.data[w.pos/8] |= 0x80 >> uint(w.pos%8)
		}
		w.pos++
	}
}

// bytes returns the written data, zero-padded to a whole octet
func (w *bitWriter) bytes() []byte {
	return w.data
}
