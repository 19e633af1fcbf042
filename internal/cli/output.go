package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/dosestore/internal/config"
	"github.com/roach88/dosestore/internal/dosestore"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Store operation failed, scenarios failed, config invalid
	ExitCommandError = 2 // Command error (bad flags, missing database, unreadable files)
)

// Error codes reported by the CLI itself. Dose store failures report the
// store's own error code instead.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeUsage         = "E002" // Invalid flag or argument value
	ErrCodeConfigInvalid = "E003" // Config file failed validation
	ErrCodeNotFound      = "E005" // Path or record not found
	ErrCodeTestFailed    = "E_TEST_FAILED"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an
// ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code     string `json:"code"`               // "E001" or a dose store error code
	Message  string `json:"message"`            // human-readable message
	Recovery string `json:"recovery,omitempty"` // what to do about it, if known
	Details  any    `json:"details,omitempty"`  // additional context
}

// Success outputs a successful result in the configured format. Text
// output prints data with fmt, so payload types implement fmt.Stringer.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.writeError(&CLIError{Code: code, Message: message, Details: details})
}

func (f *OutputFormatter) writeError(e *CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  e,
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Recovery != "" {
		fmt.Fprintf(f.Writer, "Recovery: %s\n", e.Recovery)
	}
	if f.Verbose && e.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", e.Details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Fail reports err and returns the matching ExitError.
//
// Dose store errors keep their code and recovery hint. Configuration
// errors exit with ExitCommandError since the invocation has to change;
// every other store error exits with ExitFailure.
func (f *OutputFormatter) Fail(message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code := ErrCodeGeneric
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			code = ErrCodeConfigInvalid
		}
		_ = f.Error(code, exitErr.Error(), nil)
		return exitErr
	}

	var storeErr *dosestore.Error
	if errors.As(err, &storeErr) {
		_ = f.writeError(&CLIError{
			Code:     string(storeErr.Code),
			Message:  fmt.Sprintf("%s: %s", message, storeErr.Message),
			Recovery: storeErr.Recovery,
			Details:  errorDetails(storeErr.Err),
		})
		code := ExitFailure
		if storeErr.Code == dosestore.ErrCodeConfiguration {
			code = ExitCommandError
		}
		return WrapExitError(code, message, err)
	}

	_ = f.Error(ErrCodeGeneric, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(ExitFailure, message, err)
}

// Usage reports an invalid invocation.
func (f *OutputFormatter) Usage(message string) error {
	_ = f.Error(ErrCodeUsage, message, nil)
	return NewExitError(ExitCommandError, message)
}

func errorDetails(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
