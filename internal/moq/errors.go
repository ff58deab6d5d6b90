package moq

import (
	"errors"
	"fmt"
)

// Parse-level sentinel errors. ErrNotEnoughBytes is an incremental-parser
// hint: callers retry once more bytes arrive and never surface it to a
// peer. ErrMalformed and ErrInvalidType are terminal for the message being
// parsed.
var (
	ErrNotEnoughBytes = errors.New("moq: not enough bytes")
	ErrMalformed      = errors.New("moq: malformed field")
	ErrInvalidType    = errors.New("moq: invalid type tag")
)

// Session-level sentinel errors, distinguishable with errors.Is.
var (
	ErrVersionMismatch   = errors.New("moq: no compatible version")
	ErrUnknownTrack      = errors.New("moq: unknown track")
	ErrUnsupportedFilter = errors.New("moq: unsupported filter type")
	ErrUnknownNamespace  = errors.New("moq: unknown namespace")
)

// ParseError indicates a failure to parse a specific field of a MoQ
// message. It wraps the underlying error (typically ErrNotEnoughBytes or
// ErrMalformed) and records which field was being parsed.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("moq: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TerminationCode is the value passed to Connection.close when a session
// ends abnormally, per the MoQ Transport termination code registry.
type TerminationCode uint32

const (
	NoError                 TerminationCode = 0x00
	InternalError           TerminationCode = 0x01
	Unauthorized            TerminationCode = 0x02
	ProtocolViolation       TerminationCode = 0x03
	InvalidRequestID        TerminationCode = 0x04
	DuplicateTrackAlias     TerminationCode = 0x05
	KeyValueFormattingError TerminationCode = 0x06
	TooManyRequests         TerminationCode = 0x07
	InvalidPath             TerminationCode = 0x08
	MalformedPath           TerminationCode = 0x09
	GoawayTimeout           TerminationCode = 0x10
	ControlMessageTimeout   TerminationCode = 0x11
	DataStreamTimeout       TerminationCode = 0x12
	AuthTokenCacheOverflow  TerminationCode = 0x13
	DuplicateAuthTokenAlias TerminationCode = 0x14
	VersionNegotiationFailed TerminationCode = 0x15
	MalformedAuthToken      TerminationCode = 0x16
	UnknownAuthTokenAlias   TerminationCode = 0x17
	ExpiredAuthToken        TerminationCode = 0x18
	InvalidAuthority        TerminationCode = 0x19
	MalformedAuthority      TerminationCode = 0x1A
)

func (c TerminationCode) String() string {
	switch c {
	case NoError:
		return "NoError"
	case InternalError:
		return "InternalError"
	case Unauthorized:
		return "Unauthorized"
	case ProtocolViolation:
		return "ProtocolViolation"
	case InvalidRequestID:
		return "InvalidRequestID"
	case DuplicateTrackAlias:
		return "DuplicateTrackAlias"
	case KeyValueFormattingError:
		return "KeyValueFormattingError"
	case TooManyRequests:
		return "TooManyRequests"
	case InvalidPath:
		return "InvalidPath"
	case MalformedPath:
		return "MalformedPath"
	case GoawayTimeout:
		return "GoawayTimeout"
	case ControlMessageTimeout:
		return "ControlMessageTimeout"
	case DataStreamTimeout:
		return "DataStreamTimeout"
	case AuthTokenCacheOverflow:
		return "AuthTokenCacheOverflow"
	case DuplicateAuthTokenAlias:
		return "DuplicateAuthTokenAlias"
	case VersionNegotiationFailed:
		return "VersionNegotiationFailed"
	case MalformedAuthToken:
		return "MalformedAuthToken"
	case UnknownAuthTokenAlias:
		return "UnknownAuthTokenAlias"
	case ExpiredAuthToken:
		return "ExpiredAuthToken"
	case InvalidAuthority:
		return "InvalidAuthority"
	case MalformedAuthority:
		return "MalformedAuthority"
	default:
		return fmt.Sprintf("TerminationCode(0x%02x)", uint32(c))
	}
}

// TerminationError pairs a termination code with a human-readable reason,
// the unit of failure handlers return up to the session loop.
type TerminationError struct {
	Code   TerminationCode
	Reason string
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("moq: %s: %s", e.Code, e.Reason)
}

// Terminate builds a TerminationError.
func Terminate(code TerminationCode, reason string) *TerminationError {
	return &TerminationError{Code: code, Reason: reason}
}
