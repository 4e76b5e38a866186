package agent

import (
	"errors"
	"fmt"
)

// Class tags an agent failure. Every class is fatal for the pipeline — there
// are no retries.
type Class string

const (
	ClassConfigMissing Class = "config_missing"
	ClassBadInput      Class = "bad_input"
	ClassLLMError      Class = "llm_error"
	ClassParseError    Class = "parse_error"
)

// Error is a classified agent failure.
type Error struct {
	Agent string
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Agent, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified agent error.
func NewError(agent string, class Class, err error) *Error {
	return &Error{Agent: agent, Class: class, Err: err}
}

// NewBadInput reports a missing required input key.
func NewBadInput(agent, missingKey string) *Error {
	return &Error{
		Agent: agent,
		Class: ClassBadInput,
		Err:   fmt.Errorf("bad input: missing key %q", missingKey),
	}
}

// ErrorClass extracts the Class from err, or "" if err is not an agent error.
func ErrorClass(err error) Class {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Class
	}
	return ""
}
