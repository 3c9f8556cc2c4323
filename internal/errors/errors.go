package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of the cause
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    GetCode(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// GetCode returns the code of the first coded error in the chain, or CodeInternalError
func GetCode(err error) string {
	var missing *MissingColumnError
	var appErr *AppError
	switch {
	case err == nil:
		return ""
	case stderrors.As(err, &appErr) && appErr.Code != CodeInternalError:
		return appErr.Code
	case stderrors.As(err, &missing):
		return CodeMissingColumn
	case appErr != nil:
		return appErr.Code
	}
	return CodeInternalError
}

// Predefined error codes
const (
	CodeMissingColumn   = "MISSING_COLUMN"
	CodeUnreadableInput = "UNREADABLE_INPUT"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeInternalError   = "INTERNAL_ERROR"
)

// MissingColumnError reports a required canonical field that could not be resolved.
// Found lists the source columns actually present, for diagnostics.
type MissingColumnError struct {
	Missing  []string
	Expected []string
	Found    []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing required column(s) %s (expected %s, found %s)",
		strings.Join(e.Missing, ", "),
		strings.Join(e.Expected, ", "),
		quoteList(e.Found))
}

// Code returns CodeMissingColumn
func (e *MissingColumnError) Code() string {
	return CodeMissingColumn
}

func quoteList(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return strings.Join(quoted, ", ")
}

// MissingColumn creates a MissingColumnError
func MissingColumn(missing, expected, found []string) *MissingColumnError {
	return &MissingColumnError{
		Missing:  missing,
		Expected: expected,
		Found:    append([]string(nil), found...),
	}
}

// IsMissingColumn checks for a MissingColumnError anywhere in the chain
func IsMissingColumn(err error) bool {
	return GetCode(err) == CodeMissingColumn
}

// IsUnreadableInput checks for an UNREADABLE_INPUT error anywhere in the chain
func IsUnreadableInput(err error) bool {
	return GetCode(err) == CodeUnreadableInput
}

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// UnreadableInput reports raw bytes that could not be parsed as a table
func UnreadableInput(source string, cause error) *AppError {
	return &AppError{
		Code:    CodeUnreadableInput,
		Message: fmt.Sprintf("cannot read %s as tabular data", source),
		Cause:   cause,
	}
}
