package axon

import "github.com/USA-RedDragon/axon/internal/axonerr"

// Kind classifies a failure returned by this package's operations (spec
// section 7). It is a type alias for the internal representation so
// callers can use errors.As against a single exported type without
// reaching into an internal package.
type Kind = axonerr.Kind

const (
	InvalidArgument = axonerr.InvalidArgument
	InvalidState    = axonerr.InvalidState
	MalformedFrame  = axonerr.MalformedFrame
	NetworkError    = axonerr.NetworkError
	Timeout         = axonerr.Timeout
	Cancelled       = axonerr.Cancelled
	OutOfMemory     = axonerr.OutOfMemory
)

// Error is the concrete error type returned by this package.
type Error = axonerr.Error

// IsKind reports whether err (or any error it wraps) is an Error of kind.
func IsKind(err error, kind Kind) bool {
	return axonerr.Is(err, kind)
}
