package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/dosestore/internal/config"
)

// ValidationError is one problem found in a config file.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a config file without opening the database",
		Long: `Validate a YAML or CUE config file against the config schema, then
check the values the schema cannot: time zones, schedule start times
and duration ranges.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: config file not found: %s", ErrCodeNotFound, path))
	}

	formatter.VerboseLog("Validating %s", path)
	file, err := config.Load(path)
	if err == nil {
		// Options surfaces zone and clock errors; nothing is opened.
		_, err = file.Options(slog.New(slog.NewTextHandler(io.Discard, nil)))
	}
	if err != nil {
		return outputValidationErrors(formatter, path, []ValidationError{toValidationError(err)})
	}

	return outputValidateSuccess(formatter, path)
}

func toValidationError(err error) ValidationError {
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		return ValidationError{Field: "file", Message: err.Error()}
	}
	v := ValidationError{Field: cfgErr.Field, Message: cfgErr.Message}
	if cfgErr.Pos.IsValid() {
		v.File = cfgErr.Pos.Filename()
		v.Line = cfgErr.Pos.Line()
		v.Column = cfgErr.Pos.Column()
	}
	return v
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, path string) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, File: path})
	}

	fmt.Fprintln(formatter.Writer, "✓ Config valid")
	return nil
}

// outputValidationErrors outputs validation errors.
func outputValidationErrors(formatter *OutputFormatter, path string, errs []ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, File: path, Errors: errs},
			Error: &CLIError{
				Code:    ErrCodeConfigInvalid,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", err.File, err.Line, err.Column)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Field, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
