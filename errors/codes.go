package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where a later attempt may succeed.
	// Examples: an extension process is unreachable, a bus request timed out.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where repeating the call will not help.
	// Examples: unknown registry, unknown item, duplicate registration.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: a plugin panicked, a payload could not be decoded.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable reports whether errors in this category may succeed if the
// caller tries again. The registry itself never retries.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for registry and dispatch failures.
const (
	// Registry errors
	ErrCodeDuplicateItem      ErrorCode = "DUPLICATE_ITEM"      // Item name already present in a registry
	ErrCodeItemNotFound       ErrorCode = "ITEM_NOT_FOUND"      // Item name absent from a registry
	ErrCodeRegistryNotFound   ErrorCode = "REGISTRY_NOT_FOUND"  // Registry name absent from the directory
	ErrCodePluginCallFailed   ErrorCode = "PLUGIN_CALL_FAILED"  // A plugin's own Call reported failure
	ErrCodeSetupFailed        ErrorCode = "SETUP_FAILED"        // A plugin's SetUp reported failure
	ErrCodeCapabilityMismatch ErrorCode = "CAPABILITY_MISMATCH" // Plugin or registry does not match the bound capability

	// Generic errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed or invalid input
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Requested key or resource does not exist
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Operation timed out
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"   // Remote side temporarily unavailable
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled
	ErrCodeInternal     ErrorCode = "INTERNAL"      // Unexpected internal error
	ErrCodePanic        ErrorCode = "PANIC"         // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient
	case ErrCodeDuplicateItem, ErrCodeItemNotFound, ErrCodeRegistryNotFound,
		ErrCodePluginCallFailed, ErrCodeSetupFailed, ErrCodeCapabilityMismatch,
		ErrCodeInvalidInput, ErrCodeNotFound, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeDuplicateItem:      "duplicate registry item",
	ErrCodeItemNotFound:       "registry item not found",
	ErrCodeRegistryNotFound:   "registry not found",
	ErrCodePluginCallFailed:   "plugin call failed",
	ErrCodeSetupFailed:        "plugin setup failed",
	ErrCodeCapabilityMismatch: "capability mismatch",
	ErrCodeInvalidInput:       "invalid input provided",
	ErrCodeNotFound:           "not found",
	ErrCodeTimeout:            "operation timed out",
	ErrCodeUnavailable:        "temporarily unavailable",
	ErrCodeCanceled:           "operation canceled",
	ErrCodeInternal:           "internal error",
	ErrCodePanic:              "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
