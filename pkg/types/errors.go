package types

import "github.com/pkg/errors"

// Error taxonomy shared by the decoders and the engine.
//
// MissingAddressing and Malformed are hard, per-frame failures: the frame's
// contribution is dropped but no other state is touched. OrphanFragment and
// NonContiguousSequence are never returned as errors; they surface as
// Warning values on results.
var (
	ErrMissingAddressing     = errors.New("missing channel addressing")
	ErrMalformed             = errors.New("malformed")
	ErrOrphanFragment        = errors.New("orphan fragment")
	ErrNonContiguousSequence = errors.New("non-contiguous sequence")
)

// Malformedf wraps ErrMalformed with a formatted detail
func Malformedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformed, format, args...)
}

// IsMalformed reports whether err is (or wraps) ErrMalformed
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}
