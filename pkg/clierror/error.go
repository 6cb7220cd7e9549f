package clierror

import (
	"encoding/json"
	"fmt"
	"os"
)

// Exit codes for wardenctl commands.
const (
	ExitSuccess  = 0 // Operation completed successfully
	ExitGeneral  = 1 // Unknown/unhandled error
	ExitConfig   = 2 // Configuration missing or invalid
	ExitDatabase = 3 // Event database unavailable or corrupt
	ExitDaemon   = 4 // Daemon socket unreachable
)

// Error codes (strings) for programmatic error handling.
const (
	CodeConfigNotFound      = "CONFIG_NOT_FOUND"
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeDatabaseUnavailable = "DATABASE_UNAVAILABLE"
	CodeDaemonUnreachable   = "DAEMON_UNREACHABLE"
	CodeInternalError       = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// ConfigNotFound creates an error for a missing configuration file.
func ConfigNotFound(path string) *CLIError {
	return &CLIError{
		Code:      CodeConfigNotFound,
		Message:   fmt.Sprintf("configuration file '%s' not found", path),
		Hint:      "Check the path or create a configuration with at least one watch item",
		Retryable: false,
		ExitCode:  ExitConfig,
	}
}

// ConfigInvalid creates an error for a configuration that failed to
// parse or compile.
func ConfigInvalid(path string, err error) *CLIError {
	return &CLIError{
		Code:      CodeConfigInvalid,
		Message:   fmt.Sprintf("configuration '%s' is invalid: %s", path, err),
		Hint:      "Run 'wardenctl validate' for the full diagnostic",
		Retryable: false,
		ExitCode:  ExitConfig,
	}
}

// DatabaseUnavailable creates an error when the event database cannot
// be opened.
func DatabaseUnavailable(path string, err error) *CLIError {
	return &CLIError{
		Code:      CodeDatabaseUnavailable,
		Message:   fmt.Sprintf("event database '%s' unavailable: %s", path, err),
		Hint:      "Check that wardend has run at least once and the path is readable",
		Retryable: true,
		ExitCode:  ExitDatabase,
	}
}

// DaemonUnreachable creates an error when the daemon socket cannot be
// reached.
func DaemonUnreachable(socket string) *CLIError {
	return &CLIError{
		Code:      CodeDaemonUnreachable,
		Message:   fmt.Sprintf("cannot reach wardend at '%s'", socket),
		Hint:      "Check that wardend is running and the socket path matches its --socket flag",
		Retryable: true,
		ExitCode:  ExitDaemon,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for human-readable format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			// Fallback to simple JSON if marshaling fails
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
