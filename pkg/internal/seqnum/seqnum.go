// Package seqnum expands wrapping link-layer sequence numbers into a
// monotonic counter.
package seqnum

import "fmt"

// Unwrapper expands sequence numbers of a modulo-N space, for example
//
//	125 126 127 0 1 2
//
// becomes
//
//	125 126 127 128 129 130
//
// A step of less than half the modulus in either direction is taken as
// the shortest distance, so small-scale disorder and retransmissions of
// recent SNs expand to the value they had the first time.
type Unwrapper struct {
	modulus int64
	half    int64

	started bool
	base    int64 // Added to the first SN after a Restart
	last    int64 // Last raw SN
	idx     int64 // Expansion of last
	high    int64 // Highest expansion since NewUnwrapper
	seen    bool  // high is valid
}

// NewUnwrapper creates an Unwrapper for SNs in [0, modulus)
func NewUnwrapper(modulus int) *Unwrapper {
	if modulus < 2 {
		panic(fmt.Sprintf("seqnum: invalid modulus %d", modulus))
	}
	return &Unwrapper{
		modulus: int64(modulus),
		half:    int64(modulus) / 2,
	}
}

// delta returns the signed shortest distance from a to b
func (u *Unwrapper) delta(a, b int64) int64 {
	d := (b - a) % u.modulus
	if d < 0 {
		d += u.modulus
	}
	if d >= u.half {
		d -= u.modulus
	}
	return d
}

// Expand returns the monotonic value of sn. The first SN seen expands to
// itself; later values may fall below zero when the stream steps backwards
// past its start.
func (u *Unwrapper) Expand(sn int) int64 {
	v := int64(sn) % u.modulus
	if v < 0 {
		v += u.modulus
	}

	if !u.started {
		u.started = true
		u.last = v
		u.idx = u.base + v
	} else {
		u.idx += u.delta(u.last, v)
		u.last = v
	}

	if !u.seen || u.idx > u.high {
		u.high = u.idx
		u.seen = true
	}
	return u.idx
}

// floorDiv divides rounding towards negative infinity
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Restart begins a new SN epoch, as after a link reset where SNs start
// over. The new epoch starts at the first multiple of the modulus above
// every value expanded so far.
func (u *Unwrapper) Restart() {
	if !u.started {
		return
	}
	u.base = (floorDiv(u.high, u.modulus) + 1) * u.modulus
	u.started = false
}

// Last returns the most recent expansion and whether any SN was seen
func (u *Unwrapper) Last() (int64, bool) {
	return u.idx, u.started
}

// Modulus returns the size of the raw SN space
func (u *Unwrapper) Modulus() int {
	return int(u.modulus)
}
