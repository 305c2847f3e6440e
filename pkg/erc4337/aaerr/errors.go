// Package aaerr holds the typed failures surfaced by the user operation lifecycle.
package aaerr

import (
	"errors"
	"fmt"
)

type Code int

const (
	Unknown Code = iota
	ConfigurationError
	InvalidAddressDerivationInput
	PaymasterUnreachable
	PaymasterRejected
	ChainMismatch
	SigningFailed
	SubmissionRejected
	BundlerUnreachable
	EstimationFailed
	InvalidOperation
	StaleEstimate
)

var codeNames = map[Code]string{
	Unknown:                       "Unknown",
	ConfigurationError:            "ConfigurationError",
	InvalidAddressDerivationInput: "InvalidAddressDerivationInput",
	PaymasterUnreachable:          "PaymasterUnreachable",
	PaymasterRejected:             "PaymasterRejected",
	ChainMismatch:                 "ChainMismatch",
	SigningFailed:                 "SigningFailed",
	SubmissionRejected:            "SubmissionRejected",
	BundlerUnreachable:            "BundlerUnreachable",
	EstimationFailed:              "EstimationFailed",
	InvalidOperation:              "InvalidOperation",
	StaleEstimate:                 "StaleEstimate",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Retryable reports whether the whole lifecycle may be retried from estimation
// once the caller has adjusted its inputs or waited.
func (c Code) Retryable() bool {
	switch c {
	case PaymasterUnreachable, PaymasterRejected, BundlerUnreachable, EstimationFailed, StaleEstimate, SubmissionRejected:
		return true
	}
	return false
}

// Error is a failure with a kind, a human readable message and the underlying cause.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code so callers can write errors.Is(err, &aaerr.Error{Code: ...}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates an error of the given kind. An optional details map can be attached.
func New(code Code, message string, cause error, details ...map[string]interface{}) *Error {
	var detailsMap map[string]interface{}
	if len(details) > 0 {
		detailsMap = details[0]
	}

	return &Error{
		Code:    code,
		Message: message,
		Details: detailsMap,
		Cause:   cause,
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// CodeOf returns the code of the first *Error in err's chain, Unknown otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
