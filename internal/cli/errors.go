// Package cli provides shared configuration and utilities for the strata CLI.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/pthm/strata/pkg/migration"
)

// Exit codes.
const (
	ExitSuccess   = 0
	ExitGeneral   = 1
	ExitConfig    = 2
	ExitSource    = 3
	ExitDBConnect = 4
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// ExitWithError prints the error and exits with the appropriate code.
func ExitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(ExitCode(err))
}

// ExitCode returns the process exit code for err. ExitError codes are used
// as-is; migration sentinels map to their own codes.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case migration.IsConfigurationInvalidErr(err):
		return ExitConfig
	case migration.IsSourceUnavailableErr(err), migration.IsDefinitionUnreadableErr(err):
		return ExitSource
	case migration.IsConnectionFailedErr(err):
		return ExitDBConnect
	default:
		return ExitGeneral
	}
}

// Classify wraps err in an ExitError whose code matches its migration
// sentinel. Errors that already carry a code are returned unchanged.
func Classify(msg string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: ExitCode(err), Message: msg, Err: err}
}

// ConfigError creates an ExitError with ExitConfig code.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// SourceError creates an ExitError with ExitSource code.
func SourceError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitSource, Message: msg, Err: err}
}

// DBConnectError creates an ExitError with ExitDBConnect code.
func DBConnectError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitDBConnect, Message: msg, Err: err}
}

// GeneralError creates an ExitError with ExitGeneral code.
func GeneralError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitGeneral, Message: msg, Err: err}
}
