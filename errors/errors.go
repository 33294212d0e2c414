package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the load pipeline the error occurred
type Phase string

const (
	PhaseResolve     Phase = "resolve"     // source classification and URL building
	PhaseFetch       Phase = "fetch"       // byte acquisition and caching
	PhaseIntegrity   Phase = "integrity"   // digest verification
	PhaseMetadata    Phase = "metadata"    // descriptor retrieval
	PhaseShim        Phase = "shim"        // runtime shim management
	PhaseInstantiate Phase = "instantiate" // compilation and instantiation
	PhaseReady       Phase = "ready"       // readiness synchronization
	PhaseCall        Phase = "call"        // bridge function calls
	PhaseBuffer      Phase = "buffer"      // buffer marshalling
	PhaseCleanup     Phase = "cleanup"     // module teardown
)

// Kind categorizes the error
type Kind string

const (
	KindSourceFormat     Kind = "source_format"     // malformed reference, pre-network
	KindAcquisition      Kind = "acquisition"       // network failure after retry budget
	KindIntegrity        Kind = "integrity"         // digest mismatch, always fatal
	KindMetadataMissing  Kind = "metadata_missing"  // non-fatal, degrades features
	KindShimVersion      Kind = "shim_version"      // non-fatal, falls back to default
	KindReadinessTimeout Kind = "readiness_timeout" // fatal for that load only
	KindFunctionNotFound Kind = "function_not_found"
	KindInvalidArguments Kind = "invalid_arguments"
	KindBuffer           Kind = "buffer"
	KindNotReady         Kind = "not_ready"
	KindUnsupported      Kind = "unsupported"
	KindInstantiation    Kind = "instantiation"
	KindInvalidInput     Kind = "invalid_input"
)

// Error is the structured error type used throughout the loader
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Module string
	Source string
	Detail string
	URLs   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != "" {
		b.WriteString(" module ")
		b.WriteString(e.Module)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Source != "" {
		b.WriteString(" (source: ")
		b.WriteString(e.Source)
		b.WriteByte(')')
	}

	if len(e.URLs) > 0 {
		b.WriteString(" (tried: ")
		b.WriteString(strings.Join(e.URLs, ", "))
		b.WriteByte(')')
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
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the error may succeed on retry.
// Only acquisition (network) failures are retryable; format,
// integrity, and validation errors never are.
func (e *Error) Retryable() bool {
	return e.Kind == KindAcquisition
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

// Module sets the module id
func (b *Builder) Module(id string) *Builder {
	b.err.Module = id
	return b
}

// Source sets the originating module source reference
func (b *Builder) Source(src string) *Builder {
	b.err.Source = src
	return b
}

// URLs records the URLs attempted before the failure
func (b *Builder) URLs(urls ...string) *Builder {
	b.err.URLs = urls
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

// SourceFormat creates a malformed-reference error. Raised before any
// network access.
func SourceFormat(source, detail string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindSourceFormat,
		Source: source,
		Detail: detail,
	}
}

// Acquisition creates a network acquisition failure after the retry
// budget is exhausted.
func Acquisition(source string, attempts int, urls []string, cause error) *Error {
	return &Error{
		Phase:  PhaseFetch,
		Kind:   KindAcquisition,
		Source: source,
		URLs:   urls,
		Detail: fmt.Sprintf("acquisition failed after %d attempt(s)", attempts),
		Cause:  cause,
	}
}

// IntegrityMismatch creates a digest mismatch error naming both digests.
// Always fatal, never suppressed.
func IntegrityMismatch(source, expected, actual string) *Error {
	return &Error{
		Phase:  PhaseIntegrity,
		Kind:   KindIntegrity,
		Source: source,
		Detail: fmt.Sprintf("digest mismatch: expected %s, computed %s", expected, actual),
	}
}

// MetadataMissing creates a non-fatal descriptor-unavailable error
func MetadataMissing(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseMetadata,
		Kind:   KindMetadataMissing,
		Module: module,
		Detail: "descriptor not available",
		Cause:  cause,
	}
}

// ShimVersion creates a non-fatal pinned-shim failure error
func ShimVersion(version string, cause error) *Error {
	return &Error{
		Phase:  PhaseShim,
		Kind:   KindShimVersion,
		Detail: fmt.Sprintf("shim version %s unavailable", version),
		Cause:  cause,
	}
}

// ReadinessTimeout creates a readiness wait timeout error naming the
// module id and elapsed time.
func ReadinessTimeout(module string, elapsed string) *Error {
	return &Error{
		Phase:  PhaseReady,
		Kind:   KindReadinessTimeout,
		Module: module,
		Detail: fmt.Sprintf("module not ready after %s", elapsed),
	}
}

// FunctionNotFound creates a function lookup failure error
func FunctionNotFound(module, name string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindFunctionNotFound,
		Module: module,
		Detail: fmt.Sprintf("function %q not found in exports, namespace, or globals", name),
	}
}

// InvalidArguments creates an argument count mismatch error carrying
// expected and actual counts.
func InvalidArguments(module, fn string, expected, actual int) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindInvalidArguments,
		Module: module,
		Detail: fmt.Sprintf("function %q expects %d required argument(s), got %d", fn, expected, actual),
	}
}

// BufferFailed creates a buffer marshalling error
func BufferFailed(module, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseBuffer,
		Kind:   KindBuffer,
		Module: module,
		Detail: detail,
		Cause:  cause,
	}
}

// NotReady creates an error for calls against a module outside the
// Ready state.
func NotReady(module, state string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindNotReady,
		Module: module,
		Detail: fmt.Sprintf("module is %s, calls require Ready", state),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Instantiation creates a compile/instantiate failure error
func Instantiation(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Module: module,
		Detail: "instantiate module",
		Cause:  cause,
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

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
