// Package convert defines the shared conversion contract: the request and
// result shapes every handler produces, and the failure taxonomy.
//
// Failures never cross a component boundary as a panic or a bare error; they
// are folded into a Result by whichever component detected them.
package convert

import (
	"context"
	"time"
)

// FailureKind classifies why a conversion did not produce an output.
type FailureKind string

const (
	FailureNone FailureKind = ""

	// FailureEngineNotFound means no engine executable passed resolution.
	FailureEngineNotFound FailureKind = "engine_not_found"

	// FailureEngineValidation means a candidate executable was rejected by
	// the trust checks.
	FailureEngineValidation FailureKind = "engine_validation_failed"

	// FailureInputMissing means the input file does not exist or is empty.
	FailureInputMissing FailureKind = "input_missing"

	// FailureSpawn means the OS refused to start the engine process.
	FailureSpawn FailureKind = "spawn_failed"

	// FailureTimeout means the engine ran past its deadline and was killed.
	FailureTimeout FailureKind = "timeout"

	// FailureMissingRuntimeDep means the engine exited with the loader
	// sentinel for a missing shared library. Deployment defect, not a
	// per-file defect.
	FailureMissingRuntimeDep FailureKind = "missing_runtime_dependency"

	// FailureEngineConversion means the engine exited non-zero.
	FailureEngineConversion FailureKind = "engine_conversion_failed"

	// FailureOutputNotProduced means the engine exited zero but the expected
	// output file is absent.
	FailureOutputNotProduced FailureKind = "output_not_produced"

	// FailureOutputRelocation means the output exists but could not be moved
	// to the requested path.
	FailureOutputRelocation FailureKind = "output_relocation_failed"

	// FailureUnsupported means no handler is registered for the format pair.
	FailureUnsupported FailureKind = "unsupported_conversion"

	// FailureInternal covers recovered panics and other handler faults.
	FailureInternal FailureKind = "internal_error"
)

// Retryable reports whether the caller may reasonably retry the same request.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTimeout, FailureSpawn:
		return true
	default:
		return false
	}
}

// Request describes one logical conversion. Immutable once created.
type Request struct {
	InputPath    string
	OutputPath   string
	TargetFormat string

	// OperationID is a caller-supplied correlation token, unique per logical
	// conversion. It namespaces the isolated profile and output directories.
	OperationID string
}

// Result is the uniform outcome of a conversion attempt. Exactly one of
// OutputPath/Error is meaningful depending on Success.
type Result struct {
	Success    bool        `json:"success"`
	OutputPath string      `json:"output_path,omitempty"`
	Error      string      `json:"error,omitempty"`
	Kind       FailureKind `json:"kind,omitempty"`
	ElapsedMs  int64       `json:"elapsed_ms"`
	Method     string      `json:"method"`
}

// Succeeded builds a success result for the given output path.
func Succeeded(outputPath, method string, elapsed time.Duration) Result {
	return Result{
		Success:    true,
		OutputPath: outputPath,
		ElapsedMs:  elapsed.Milliseconds(),
		Method:     method,
	}
}

// Failed builds a tagged failure result.
func Failed(kind FailureKind, msg, method string, elapsed time.Duration) Result {
	return Result{
		Success:   false,
		Error:     msg,
		Kind:      kind,
		ElapsedMs: elapsed.Milliseconds(),
		Method:    method,
	}
}

// Codec is the contract for in-process format converters. Implementations
// produce the same result shape as engine-backed conversions so the
// dispatcher's failure handling is uniform regardless of handler type.
type Codec interface {
	// Name identifies the codec in results and logs.
	Name() string

	// Convert reads inputPath and writes outputPath.
	Convert(ctx context.Context, inputPath, outputPath string) Result
}
