package llm

import (
	"errors"
	"fmt"
)

// Kind tags a gateway failure so upstream can tell transient transport faults
// from content faults.
type Kind string

const (
	KindProviderError Kind = "provider_error"
	KindInvalidOutput Kind = "invalid_output"
	KindToolError     Kind = "tool_error"
)

// Error is a tagged gateway failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewProviderError wraps a transport/quota failure from an LLM provider.
func NewProviderError(err error) *Error {
	return &Error{Kind: KindProviderError, Err: err}
}

// NewInvalidOutputError wraps unparseable or malformed model output.
func NewInvalidOutputError(err error) *Error {
	return &Error{Kind: KindInvalidOutput, Err: err}
}

// NewToolError wraps a failure raised by a tool resolver during the tool loop.
func NewToolError(err error) *Error {
	return &Error{Kind: KindToolError, Err: err}
}

// ErrorKind extracts the Kind from err, or "" if err is not a gateway error.
func ErrorKind(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
