package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// RegistryError is the interface for all structured errors in pluginkit.
// It extends the standard error interface with the registry/item address the
// failure refers to and the category used for handling decisions.
type RegistryError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed if attempted again.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of RegistryError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use default based on category
	timestamp time.Time
	registry  string
	item      string
}

var (
	_ RegistryError    = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Registry returns the registry name the error refers to, if set.
func (e *Error) Registry() string {
	return e.registry
}

// Item returns the item name the error refers to, if set.
func (e *Error) Item() string {
	return e.item
}

// Locate returns a copy of e addressed to registry and item. An address
// already present on e is kept.
func (e *Error) Locate(registry, item string) *Error {
	cp := *e
	cp.metadata = e.Metadata()
	if cp.registry == "" {
		cp.registry = registry
	}
	if cp.item == "" {
		cp.item = item
	}
	return &cp
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp string            `json:"timestamp,omitempty"`
	Registry  string            `json:"registry,omitempty"`
	Item      string            `json:"item,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
		Registry:  e.registry,
		Item:      e.item,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	if e.category == "" {
		e.category = j.Code.DefaultCategory()
	}
	e.message = j.Message
	e.metadata = j.Metadata
	e.registry = j.Registry
	e.item = j.Item
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRegistry sets the registry name the error refers to.
func WithRegistry(name string) Option {
	return func(e *Error) {
		e.registry = name
	}
}

// WithItem sets the item name the error refers to.
func WithItem(name string) Option {
	return func(e *Error) {
		e.item = name
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// DuplicateItem reports an add with a name already present in a registry.
func DuplicateItem(registry, item string) *Error {
	return New(ErrCodeDuplicateItem,
		fmt.Sprintf("duplicate registry item exists: %s", item),
		WithRegistry(registry), WithItem(item))
}

// ItemNotFound reports a lookup or call for an item absent from a registry.
func ItemNotFound(registry, item string) *Error {
	return New(ErrCodeItemNotFound,
		fmt.Sprintf("cannot find registry item: %s/%s", registry, item),
		WithRegistry(registry), WithItem(item))
}

// RegistryNotFound reports a lookup or call for an unknown registry.
func RegistryNotFound(registry string) *Error {
	return New(ErrCodeRegistryNotFound,
		fmt.Sprintf("cannot find registry: %s", registry),
		WithRegistry(registry))
}

// CapabilityMismatch reports a plugin or registry whose type does not match
// the capability bound to the registry name.
func CapabilityMismatch(registry, message string, opts ...Option) *Error {
	opts = append([]Option{WithRegistry(registry)}, opts...)
	return New(ErrCodeCapabilityMismatch, message, opts...)
}

// PluginCallFailed reports a failure from a plugin's own Call.
func PluginCallFailed(message string, opts ...Option) *Error {
	return New(ErrCodePluginCallFailed, message, opts...)
}

// SetupFailed reports a plugin SetUp failure.
func SetupFailed(registry, item string, cause error) *Error {
	return New(ErrCodeSetupFailed,
		fmt.Sprintf("setup failed for %s/%s", registry, item),
		WithRegistry(registry), WithItem(item), WithCause(cause))
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// Unavailable creates an unavailable error.
func Unavailable(message string, opts ...Option) *Error {
	return New(ErrCodeUnavailable, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
