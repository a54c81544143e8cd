package protocol

import "errors"

// Framing errors are fatal for the session. ErrCancelled is not a failure
// and must be checked before treating an error as one.
var (
	ErrTruncatedHeader        = errors.New("protocol: truncated session header")
	ErrTruncatedPacketHeader  = errors.New("protocol: truncated packet header")
	ErrTruncatedPacketPayload = errors.New("protocol: truncated packet payload")
	ErrPayloadTooLarge        = errors.New("protocol: payload too large")
	ErrConnection             = errors.New("protocol: connection error")
	ErrReadTimeout            = errors.New("protocol: read timeout")
	ErrCancelled              = errors.New("protocol: cancelled")
)

// IsFraming reports whether err is one of the stream framing failures.
func IsFraming(err error) bool {
	return errors.Is(err, ErrTruncatedHeader) ||
		errors.Is(err, ErrTruncatedPacketHeader) ||
		errors.Is(err, ErrTruncatedPacketPayload) ||
		errors.Is(err, ErrPayloadTooLarge)
}
