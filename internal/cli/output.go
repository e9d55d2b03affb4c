package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cinderfn/cinder/internal/alloc"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The invoked function failed
	ExitCommandError = 2 // Command error (bad flags, unreadable files, etc.)
)

// ExitError represents an error with a specific exit code.
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders allocation outcomes as JSON or text.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// WriteResult renders one terminal result.
func (f *OutputFormatter) WriteResult(snap alloc.Snapshot) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	res := snap.Result
	fmt.Fprintf(f.Writer, "allocation: %s\n", snap.AllocationID)
	fmt.Fprintf(f.Writer, "outcome:    %s\n", res.Kind)
	switch res.Kind {
	case alloc.ResultValue:
		fmt.Fprintf(f.Writer, "value id:   %s\n", res.ValueID)
		if res.Output != nil {
			fmt.Fprintf(f.Writer, "output:     %s (%d bytes)\n", res.Output.Name, res.Output.Size())
		}
	case alloc.ResultPlan:
		fmt.Fprintf(f.Writer, "updates:    %d\n", len(snap.Updates))
		for _, u := range snap.Updates {
			fmt.Fprintf(f.Writer, "  %s %s -> %s\n", u.Kind, u.Function, u.ID)
		}
	default:
		fmt.Fprintf(f.Writer, "error code: %s\n", res.ErrorCode)
		if res.Message != "" {
			fmt.Fprintf(f.Writer, "message:    %s\n", res.Message)
		}
	}
	fmt.Fprintf(f.Writer, "timing:     download %dms, execute %dms, publish %dms\n",
		res.Metrics.DownloadMillis, res.Metrics.ExecuteMillis, res.Metrics.PublishMillis)
	return nil
}
