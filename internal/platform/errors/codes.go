// Package errors provides the coded error type shared by hub components.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Discovery errors
	CodeDiscoveryFailed      Code = "DISCOVERY_FAILED"
	CodeConformanceViolation Code = "CONFORMANCE_VIOLATION"

	// Dispatch errors
	CodeDispatchUnmappedTool      Code = "DISPATCH_UNMAPPED_TOOL"
	CodeDispatchDiscoveryRequired Code = "DISPATCH_DISCOVERY_REQUIRED"
	CodeDispatchRequestFailed     Code = "DISPATCH_REQUEST_FAILED"
	CodeDispatchInvalidPayload    Code = "DISPATCH_INVALID_PAYLOAD"

	// Sandbox errors
	CodeSandboxRuntime Code = "SANDBOX_RUNTIME"

	// Mandate errors
	CodeMandateInvalid Code = "MANDATE_INVALID"

	// Internal errors
	CodeInternal Code = "INTERNAL"
)

// Kind groups codes into the condition families surfaced to callers.
type Kind string

const (
	KindUnknown     Kind = "unknown"
	KindDiscovery   Kind = "discovery"
	KindConformance Kind = "conformance"
	KindDispatch    Kind = "dispatch"
	KindSandbox     Kind = "sandbox"
	KindMandate     Kind = "mandate"
	KindInternal    Kind = "internal"
)

// Kind returns the condition family for the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeDiscoveryFailed:
		return KindDiscovery
	case CodeConformanceViolation:
		return KindConformance
	case CodeDispatchUnmappedTool, CodeDispatchDiscoveryRequired, CodeDispatchRequestFailed, CodeDispatchInvalidPayload:
		return KindDispatch
	case CodeSandboxRuntime:
		return KindSandbox
	case CodeMandateInvalid:
		return KindMandate
	case CodeInternal:
		return KindInternal
	default:
		return KindUnknown
	}
}
