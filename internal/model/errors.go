package model

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes fatal triage errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a missing episode or ground-truth file.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeParse indicates a malformed log line.
	ErrCodeParse ErrorCode = "PARSE_ERROR"

	// ErrCodeValidation indicates a malformed filter, aggregation or config.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// ErrCodeDependency indicates a failing collaborator (asset lookup,
	// embedding function, action executor).
	ErrCodeDependency ErrorCode = "DEPENDENCY_ERROR"
)

// Error is the single error type surfaced by triage components.
//
// Path and Line locate the offending input when relevant.
type Error struct {
	Code    ErrorCode
	Op      string
	Path    string
	Line    int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	loc := ""
	switch {
	case e.Path != "" && e.Line > 0:
		loc = fmt.Sprintf(" (%s:%d)", e.Path, e.Line)
	case e.Path != "":
		loc = fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s%s", e.Code, e.Op, msg, loc)
	}
	return fmt.Sprintf("%s: %s%s", e.Code, msg, loc)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound creates an ErrCodeNotFound error for path.
func NotFound(op, path string) *Error {
	return &Error{Code: ErrCodeNotFound, Op: op, Path: path, Message: "file does not exist"}
}

// ParseError creates an ErrCodeParse error for a line of path.
func ParseError(path string, line int, err error) *Error {
	return &Error{Code: ErrCodeParse, Op: "parse", Path: path, Line: line, Message: "malformed JSON line", Err: err}
}

// Validation creates an ErrCodeValidation error.
func Validation(op string, format string, args ...any) *Error {
	return &Error{Code: ErrCodeValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Dependency wraps a collaborator failure.
func Dependency(op string, err error) *Error {
	return &Error{Code: ErrCodeDependency, Op: op, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsParseError reports whether err is a PARSE_ERROR.
func IsParseError(err error) bool { return CodeOf(err) == ErrCodeParse }

// IsValidation reports whether err is a VALIDATION_ERROR.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsDependency reports whether err is a DEPENDENCY_ERROR.
func IsDependency(err error) bool { return CodeOf(err) == ErrCodeDependency }
