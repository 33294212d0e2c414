// Package errors provides structured error types for the wasm-loader library.
//
// Errors are categorized by Phase (where in the load pipeline the error
// occurred) and Kind (error category). Fatal kinds carry enough context to
// diagnose without re-running a load: attempted URLs, expected and computed
// digests, expected and actual argument counts.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseFetch, errors.KindAcquisition).
//		Source("owner/repo").
//		URLs(tried...).
//		Detail("all candidate filenames returned 404").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.IntegrityMismatch(src, expected, actual)
//	err := errors.InvalidArguments(moduleID, "add", 2, 1)
//
// All errors implement the standard error interface and support errors.Is/As.
// Matching with errors.Is compares Phase and Kind, so sentinel values like
//
//	&errors.Error{Phase: errors.PhaseReady, Kind: errors.KindReadinessTimeout}
//
// can be used as targets.
package errors
