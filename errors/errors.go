package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCreate  Phase = "create"  // VM construction
	PhaseAttach  Phase = "attach"  // thread attachment
	PhaseDetach  Phase = "detach"  // thread detachment
	PhaseEncode  Phase = "encode"  // Go string to Modified-UTF-8
	PhaseDecode  Phase = "decode"  // Modified-UTF-8 to Go string
	PhaseRuntime Phase = "runtime" // calls through the env table
	PhaseMonitor Phase = "monitor" // intrinsic lock operations
	PhaseRef     Phase = "ref"     // reference management
)

// Kind categorizes the error
type Kind string

const (
	KindStatus           Kind = "status"            // non-OK code from the VM
	KindDecodeFailure    Kind = "decode_failure"    // malformed Modified-UTF-8
	KindPendingException Kind = "pending_exception" // exception raised in the VM
	KindInvalidInput     Kind = "invalid_input"
	KindFatal            Kind = "fatal" // unrecoverable, forwarded from the VM
)

// Status is the closed set of codes the VM reports from its entry points.
// The numeric values are fixed by the foreign ABI.
type Status int32

const (
	StatusOK          Status = 0
	StatusUnknown     Status = -1
	StatusDetached    Status = -2
	StatusBadVersion  Status = -3
	StatusNoMemory    Status = -4
	StatusExists      Status = -5
	StatusInvalidArgs Status = -6
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnknown:
		return "unknown error"
	case StatusDetached:
		return "thread detached"
	case StatusBadVersion:
		return "unsupported version"
	case StatusNoMemory:
		return "out of memory"
	case StatusExists:
		return "vm already created"
	case StatusInvalidArgs:
		return "invalid arguments"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Error is the structured error type used throughout the library
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Status Status
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Kind == KindStatus {
		b.WriteString(": ")
		b.WriteString(e.Status.String())
	}

	if e.Detail != "" {
		if e.Kind == KindStatus {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if e.Phase != t.Phase || e.Kind != t.Kind {
			return false
		}
		if t.Kind == KindStatus {
			return e.Status == t.Status
		}
		return true
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Status sets the VM status code
func (b *Builder) Status(s Status) *Builder {
	b.err.Status = s
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// FromStatus maps a VM status code to an error. It returns nil for
// StatusOK so call sites can return it unconditionally. The result is a
// plain error, not *Error, so the nil is an untyped nil.
func FromStatus(phase Phase, detail string, status Status) error {
	if status == StatusOK {
		return nil
	}
	return &Error{
		Phase:  phase,
		Kind:   KindStatus,
		Status: status,
		Detail: detail,
	}
}

// DecodeFailure creates a malformed Modified-UTF-8 error. The offending
// bytes are truncated to keep messages bounded.
func DecodeFailure(offset int, data []byte, detail string) *Error {
	preview := data
	if len(preview) > 16 {
		preview = preview[:16]
	}
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindDecodeFailure,
		Detail: fmt.Sprintf("%s at offset %d (bytes % x)", detail, offset, preview),
	}
}

// PendingException marks an operation that raised an exception in the VM
func PendingException(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPendingException,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ContractViolation is the value passed to panic when a caller breaks the
// library's usage contract: releasing a handle with the wrong reference
// class, reusing a consumed capability token, touching a binding from the
// wrong goroutine. Continuing after any of these would corrupt VM state,
// so they are never returned as ordinary errors.
type ContractViolation struct {
	Phase  Phase
	Detail string
}

func (v *ContractViolation) Error() string {
	return fmt.Sprintf("[%s] contract violation: %s", v.Phase, v.Detail)
}

// Violate panics with a ContractViolation. It is the single escalation
// point so tests can recover and assert on the value.
func Violate(phase Phase, detail string, args ...any) {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	panic(&ContractViolation{Phase: phase, Detail: detail})
}

// IsContract reports whether err is a contract violation
func IsContract(err error) bool {
	_, ok := err.(*ContractViolation)
	return ok
}
