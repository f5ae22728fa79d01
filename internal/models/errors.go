package models

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports options that make a merge impossible to start.
type ConfigurationError struct {
	Problems []string
}

// NewConfigurationError creates a ConfigurationError from one or more problems.
func NewConfigurationError(problems ...string) *ConfigurationError {
	return &ConfigurationError{Problems: problems}
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// TransportError reports that a calendar store could not be reached or
// refused our credentials. It aborts the whole merge.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ItemError reports a failed add or delete of a single event.
type ItemError struct {
	Op      string // "add" or "delete"
	EventID string
	Summary string
	Err     error
}

func (e *ItemError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s event %q (%s): %v", e.Op, e.Summary, e.EventID, e.Err)
	}
	return fmt.Sprintf("%s event %q: %v", e.Op, e.Summary, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
