package types

import "fmt"

// WarningKind classifies soft diagnostics attached to results
type WarningKind int

const (
	WarnOrphanFragment WarningKind = iota
	WarnNonContiguousSequence
	WarnHeaderOnly
	WarnLengthMismatch
)

// String returns string representation of WarningKind
func (k WarningKind) String() string {
	switch k {
	case WarnOrphanFragment:
		return "OrphanFragment"
	case WarnNonContiguousSequence:
		return "NonContiguousSequence"
	case WarnHeaderOnly:
		return "HeaderOnly"
	case WarnLengthMismatch:
		return "LengthMismatch"
	default:
		return "Unknown"
	}
}

// Err returns the sentinel matching the warning kind, if any
func (k WarningKind) Err() error {
	switch k {
	case WarnOrphanFragment:
		return ErrOrphanFragment
	case WarnNonContiguousSequence:
		return ErrNonContiguousSequence
	default:
		return nil
	}
}

// Warning is a non-fatal annotation on a frame result or completed SDU
type Warning struct {
	Kind   WarningKind
	Detail string
}

// NewWarning creates a warning with a formatted detail
func NewWarning(kind WarningKind, format string, args ...interface{}) Warning {
	return Warning{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// String returns string representation of Warning
func (w Warning) String() string {
	if w.Detail == "" {
		return w.Kind.String()
	}
	return w.Kind.String() + ": " + w.Detail
}

// HasWarning reports whether ws contains a warning of the given kind
func HasWarning(ws []Warning, kind WarningKind) bool {
	for _, w := range ws {
		if w.Kind == kind {
			return true
		}
	}
	return false
}
