// Package errcode provides the stable error-kind vocabulary shared by
// every core subsystem, and the IPMI completion-code mapping derived
// from it.
package errcode

// Code is a stable error identifier. It is a string newtype, comparable,
// allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// The seven error kinds of the core, per spec: each propagates as a Go
// error value (never silently dropped) and classifies failures for
// logging, retry policy, and IPMI completion-code composition.
const (
	// HardwareError marks low-level init/register-access failures.
	HardwareError Code = "hardware_error"
	// DomainError marks API arguments out of the allowed range.
	DomainError Code = "domain_error"
	// OutOfRange marks a slot/id outside configured bounds.
	OutOfRange Code = "out_of_range"
	// ReservationCancelled marks a stale or mismatched SDR reservation.
	ReservationCancelled Code = "reservation_cancelled"
	// InvalidSDR marks a record that failed type validation.
	InvalidSDR Code = "invalid_sdr"
	// Timeout marks a blocking primitive that expired.
	Timeout Code = "timeout"
	// Deadlock marks a misused scope guard (double-acquire/release).
	Deadlock Code = "deadlock"

	// OK is the zero-error case, used only by Of.
	OK Code = "ok"
	// Error is the generic fallback for unclassified errors.
	Error Code = "error"
)

// E keeps context and a wrapped cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Op + ": " + e.Msg
	}
	return string(e.C) + ": " + e.Op
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New builds an *E with the given kind, operation, and message.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap builds an *E around an existing cause.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Msg: err.Error(), Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// IPMI completion codes, per the IPMI 2.0 table referenced in spec §4.4.
const (
	CompletionSuccess           = 0x00
	CompletionInvalidCommand    = 0xC1
	CompletionInvalidDataField  = 0xCC
	CompletionParamOutOfRange   = 0xC9
	CompletionRequestedDataAbsent = 0xCB
	CompletionDestinationUnavailable = 0xD3
	CompletionUnspecified       = 0xFF
)

// CompletionCode maps a Code to its IPMI completion-code byte, used by
// the dispatcher's default handler and by individual command handlers
// that want a uniform mapping rather than a bespoke completion code.
func CompletionCode(c Code) byte {
	switch c {
	case OK:
		return CompletionSuccess
	case DomainError:
		return CompletionParamOutOfRange
	case OutOfRange:
		return CompletionParamOutOfRange
	case ReservationCancelled:
		return CompletionRequestedDataAbsent
	case InvalidSDR:
		return CompletionInvalidDataField
	case Timeout:
		return CompletionDestinationUnavailable
	case HardwareError:
		return CompletionDestinationUnavailable
	default:
		return CompletionUnspecified
	}
}
