// File: internal/cli/output.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/momentics/hioload-mq/api"
)

// Exit codes for hmq commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a transfer failed or timed out
	ExitCommandError = 2 // bad flags, endpoints or configuration
)

// ExitError carries the process exit code for a failed command.
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

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// commandError classifies err: argument and state errors are the
// caller's fault, everything else is a runtime failure.
func commandError(message string, err error) *ExitError {
	switch api.KindOf(err) {
	case api.KindInvalidArgument, api.KindNotSupported, api.KindInvalidState:
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}

// GetExitCode extracts the exit code from err, ExitFailure by default.
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

// OutputFormatter writes command results as text lines or JSON objects.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// Response is one JSON output record.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Success writes data. Text mode prints it with fmt's default verb.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error reports err without failing the command.
func (f *OutputFormatter) Error(err error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "error", Error: err.Error()})
	}
	_, werr := fmt.Fprintf(f.Writer, "error: %v\n", err)
	return werr
}

// Message writes one received message. Text mode separates frames with
// tabs; JSON mode emits the frame list.
func (f *OutputFormatter) Message(parts [][]byte) error {
	frames := make([]string, len(parts))
	for i, p := range parts {
		frames[i] = printable(p)
	}
	if f.Format == "json" {
		return f.Success(map[string]any{"frames": frames})
	}
	_, err := fmt.Fprintln(f.Writer, strings.Join(frames, "\t"))
	return err
}

// VerboseLog writes a diagnostic line when verbose output is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// printable renders text frames verbatim and anything else, such as
// ROUTER identities, as "0x" hex.
func printable(b []byte) string {
	if !utf8.Valid(b) {
		return "0x" + hex.EncodeToString(b)
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && r != ' ' {
			return "0x" + hex.EncodeToString(b)
		}
	}
	return string(b)
}
