package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/triage/internal/model"
)

// Process exit codes.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Pipeline or stage failure (missing episode, malformed log, failing collaborator)
	ExitCommandError = 2 // Command error (bad flags, invalid config, unsafe run id)
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error // may be nil
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of the first ExitError in err's chain, or
// ExitFailure when there is none.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCodeFor classifies a library error: bad input is a command error,
// anything else a failure.
func exitCodeFor(err error) int {
	switch model.CodeOf(err) {
	case model.ErrCodeValidation, model.ErrCodeNotFound:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// ErrorCode returns the machine-readable code reported for err.
func ErrorCode(err error) string {
	if code := model.CodeOf(err); code != "" {
		return string(code)
	}
	return "INTERNAL"
}

// textRenderer is implemented by results with a human-readable form.
type textRenderer interface {
	renderText(w io.Writer) error
}

// OutputFormatter writes command results as json or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; Writer when nil
	Verbose   bool
}

// CLIResponse is the envelope of every json-mode result.
type CLIResponse struct {
	Status string    `json:"status"`           // "ok" or "error"
	Data   any       `json:"data,omitempty"`   // success payload
	Error  *CLIError `json:"error,omitempty"`  // error details
	RunID  string    `json:"run_id,omitempty"` // run the output belongs to
}

// CLIError describes a failed command in json mode.
type CLIError struct {
	Code    string `json:"code"`              // "NOT_FOUND", "VALIDATION_ERROR", ...
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success writes data. In text mode data renders itself when it can.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetEscapeHTML(false)
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}

	if r, ok := data.(textRenderer); ok {
		return r.renderText(f.Writer)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes a coded error message.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "error", Error: &CLIError{Code: code, Message: message, Details: details}}
		return json.NewEncoder(f.Writer).Encode(resp)
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog writes a diagnostic line to the error writer when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// fail reports err on the output in JSON mode and returns it as an
// ExitError. Text mode leaves reporting to the caller of Execute.
func (f *OutputFormatter) fail(code int, message string, err error) error {
	if f.Format == "json" {
		errCode, details := "USAGE_ERROR", any(nil)
		if err != nil {
			errCode, details = ErrorCode(err), err.Error()
		}
		_ = f.Error(errCode, message, details)
	}
	return WrapExitError(code, message, err)
}
