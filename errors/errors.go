package errors

import (
	"fmt"
	"strings"
	"time"
)

// Phase indicates where in processing the fault occurred
type Phase string

const (
	PhaseValidate    Phase = "validate"    // schema vs export validation
	PhaseEncode      Phase = "encode"      // Go to guest memory
	PhaseDecode      Phase = "decode"      // guest memory to Go
	PhaseInstantiate Phase = "instantiate" // instance creation
	PhaseCall        Phase = "call"        // guest execution
	PhaseLoad        Phase = "load"        // module loading
	PhasePool        Phase = "pool"        // instance pool / admission
	PhaseParse       Phase = "parse"       // WIT parsing
)

// Kind categorizes the fault
type Kind string

const (
	KindSchemaMismatch Kind = "schema_mismatch"
	KindInstantiation  Kind = "instantiation"
	KindEncoding       Kind = "encoding"
	KindMemoryBounds   Kind = "memory_bounds"
	KindBusy           Kind = "instance_busy"
	KindCapacity       Kind = "capacity_exceeded"
	KindBudget         Kind = "budget_exceeded"
	KindTimeout        Kind = "timeout"
	KindFaulted        Kind = "instance_faulted"
	KindClosed         Kind = "instance_closed"
	KindTrap           Kind = "trap"
	KindAllocation     Kind = "allocation"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
)

// Error is the structured fault type used throughout the runtime.
// Every fault carries enough detail to reproduce it: the phase, the
// function involved, and the limit or value that tripped it.
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Function string
	Detail   string
	Path     []string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Function != "" {
		b.WriteString(" in ")
		b.WriteString(e.Function)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two errors match when
// their phase and kind agree; empty fields on the target act as
// wildcards, so errors.Is(err, &Error{Kind: KindBusy}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && e.Phase != t.Phase {
		return false
	}
	if t.Kind != "" && e.Kind != t.Kind {
		return false
	}
	return true
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
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

// Function sets the schema function the fault occurred in
func (b *Builder) Function(name string) *Builder {
	b.err.Function = name
	return b
}

// Path sets the value path (record field, list index)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
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

// Convenience constructors for the fault taxonomy

// SchemaMismatch reports the first schema function incompatible with
// the guest's exports. Non-retriable until module or schema changes.
func SchemaMismatch(function, detail string) *Error {
	return &Error{
		Phase:    PhaseValidate,
		Kind:     KindSchemaMismatch,
		Function: function,
		Detail:   detail,
	}
}

// Instantiation reports a failed instance creation.
func Instantiation(cause error, detail string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: detail,
		Cause:  cause,
	}
}

// Encoding reports a host value that cannot be represented in its
// declared schema type. Fatal to the call, not the instance.
func Encoding(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindEncoding,
		Path:   path,
		Detail: detail,
	}
}

// Bounds reports a guest-provided offset/length outside the current
// linear memory limit.
func Bounds(phase Phase, offset, length, memSize uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMemoryBounds,
		Detail: fmt.Sprintf("region [%d, %d) outside memory of %d bytes", offset, uint64(offset)+uint64(length), memSize),
		Value:  offset,
	}
}

// Busy reports a call issued while another call holds the instance's
// execution token. Callers retry against a different instance.
func Busy(function string) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindBusy,
		Function: function,
		Detail:   "instance is executing another call",
	}
}

// Capacity reports that the global concurrency ceiling or pool queue
// is exhausted. Callers retry after backoff.
func Capacity(detail string) *Error {
	return &Error{
		Phase:  PhasePool,
		Kind:   KindCapacity,
		Detail: detail,
	}
}

// Budget reports a call that exhausted its step budget. The instance
// is faulted and must be discarded.
func Budget(function string, limit uint64) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindBudget,
		Function: function,
		Detail:   fmt.Sprintf("step budget of %d exhausted", limit),
		Value:    limit,
	}
}

// Deadline reports a call that exceeded its wall-clock timeout. The
// instance is faulted and must be discarded.
func Deadline(function string, timeout time.Duration) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindTimeout,
		Function: function,
		Detail:   fmt.Sprintf("call exceeded timeout of %s", timeout),
		Value:    timeout,
	}
}

// Faulted reports a call against an instance already in the Faulted
// state. No transition from Faulted back to Ready exists.
func Faulted(function string) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindFaulted,
		Function: function,
		Detail:   "instance is faulted and accepts no further calls",
	}
}

// Closed reports a call against a torn-down instance.
func Closed(function string) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindClosed,
		Function: function,
		Detail:   "instance has been torn down",
	}
}

// Trap wraps a guest-side trap or engine failure during execution.
func Trap(function string, cause error) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindTrap,
		Function: function,
		Detail:   "guest execution trapped",
		Cause:    cause,
	}
}

// AllocationFailed reports a failed guest memory allocation.
func AllocationFailed(size, align uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// InvalidUTF8 reports byte content that is not valid UTF-8 where the
// schema declares a string.
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindEncoding,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
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

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
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
