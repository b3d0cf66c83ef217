// Package apperrors carries the engine's coded error taxonomy.
//
// Every failure below the scheduler boundary is mapped to one of these codes so
// the scheduler can recover it into a HOLD-equivalent or rolled-back outcome:
//
//	err := apperrors.Newf(apperrors.CodeInsufficientData, "need %d bars, got %d", want, got)
//	if apperrors.HasCode(err, apperrors.CodeInsufficientData) { ... }
package apperrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code int

const (
	CodeUnknown Code = iota
	CodeInsufficientData
	CodeMalformedAdvisoryResponse
	CodeAdvisoryUnavailable
	CodeRiskRejected
	CodeExchangeRejected
	CodeExchangeUnavailable
	CodeInvalidConfig
	CodePersistence
	CodeInvalidRequest
)

var codeNames = map[Code]string{
	CodeUnknown:                   "Unknown",
	CodeInsufficientData:          "InsufficientData",
	CodeMalformedAdvisoryResponse: "MalformedAdvisoryResponse",
	CodeAdvisoryUnavailable:       "AdvisoryUnavailable",
	CodeRiskRejected:              "RiskRejected",
	CodeExchangeRejected:          "ExchangeRejected",
	CodeExchangeUnavailable:       "ExchangeUnavailable",
	CodeInvalidConfig:             "InvalidConfig",
	CodePersistence:               "Persistence",
	CodeInvalidRequest:            "InvalidRequest",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf attaches a code and formatted message to an existing error.
func Wrapf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
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

// Is matches another *Error by code so errors.Is works against a bare sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// CodeOf returns the code of the outermost *Error in the chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether any *Error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}
