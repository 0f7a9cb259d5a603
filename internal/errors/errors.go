// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package errors provides the structured error type used across netinstall.
// Every error carries a Kind so that callers at the bus or HTTP boundary can
// decide how to report it without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind defines the category of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInternal
	KindValidation
	KindNotFound
	KindConflict
	KindUnavailable
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a categorized error with optional attributes (connection id,
// device name, object path...) used for logging and reporting.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Attributes map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a new Error of the specified kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates a new Error of the specified kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err as a new Error of the specified kind. A nil err stays nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// Attr attaches an attribute to an error. Errors that are not an *Error are
// wrapped as KindInternal first.
func Attr(err error, key string, val any) error {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		e = &Error{
			Kind:       KindInternal,
			Message:    err.Error(),
			Underlying: err,
		}
	}

	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = val
	return e
}

// GetKind returns the Kind of the first *Error in the chain, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// GetAttributes collects the attributes of every *Error in the chain. Outer
// errors win when the same key appears twice.
func GetAttributes(err error) map[string]any {
	attrs := make(map[string]any)
	var e *Error

	for cur := err; cur != nil; {
		if !errors.As(cur, &e) {
			break
		}
		for k, v := range e.Attributes {
			if _, ok := attrs[k]; !ok {
				attrs[k] = v
			}
		}
		cur = e.Underlying
	}

	return attrs
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
