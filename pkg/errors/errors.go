// Package errors provides standardized error types for the dataset pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeInvalidArgument      = "INVALID_ARGUMENT"
	CodeNotFound             = "NOT_FOUND"
	CodeIO                   = "IO_FAILED"
	CodeDecode               = "DECODE_FAILED"
	CodeConfig               = "CONFIG_INVALID"
	CodeMissingOptimizerPlan = "MISSING_OPTIMIZER_PLAN"
	CodeInvalidSplitSize     = "INVALID_SPLIT_SIZE"
	CodeLinearize            = "LINEARIZE_FAILED"
	CodeStorage              = "STORAGE_FAILED"
	CodeInternal             = "INTERNAL_ERROR"
)

// DatasetError carries a code, a message and optional details about a failed
// pipeline step.
type DatasetError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *DatasetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatasetError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DatasetError with the same code.
func (e *DatasetError) Is(target error) bool {
	t, ok := target.(*DatasetError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a single detail to the error.
func (e *DatasetError) WithDetail(key string, value interface{}) *DatasetError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common errors
var (
	ErrInvalidSplit         = &DatasetError{Code: CodeInvalidArgument, Message: "invalid split"}
	ErrArtifactNotFound     = &DatasetError{Code: CodeNotFound, Message: "processed artifact not found"}
	ErrMissingOptimizerPlan = &DatasetError{Code: CodeMissingOptimizerPlan, Message: "query has no optimizer-default plan"}
	ErrInvalidSplitSize     = &DatasetError{Code: CodeInvalidSplitSize, Message: "invalid split size"}
	ErrInvalidConfig        = &DatasetError{Code: CodeConfig, Message: "invalid configuration"}
)

// New creates a new DatasetError with the given code and message.
func New(code, message string) *DatasetError {
	return &DatasetError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new DatasetError with a formatted message.
func Newf(code, format string, args ...interface{}) *DatasetError {
	return &DatasetError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a DatasetError.
func Wrap(err error, code, message string) *DatasetError {
	if err == nil {
		return nil
	}
	return &DatasetError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *DatasetError {
	if err == nil {
		return nil
	}
	return &DatasetError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return GetCode(err) == CodeNotFound
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var dsErr *DatasetError
	if errors.As(err, &dsErr) {
		return dsErr.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var dsErr *DatasetError
	if errors.As(err, &dsErr) {
		return dsErr.Message
	}
	return err.Error()
}
