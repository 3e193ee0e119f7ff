package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrorPrefix marks every failed tool result.
const ErrorPrefix = "error:"

// TruncationMarker is appended to any text cut at a size limit.
const TruncationMarker = "...[truncated]"

// ErrorKind classifies a tool failure before it is rendered as text.
type ErrorKind string

const (
	// KindNone means the call succeeded
	KindNone ErrorKind = ""
	// KindValidation covers unknown tools and bad arguments
	KindValidation ErrorKind = "validation"
	// KindExecution covers anything a handler failed at
	KindExecution ErrorKind = "execution"
	// KindTimeout covers wall-clock ceilings
	KindTimeout ErrorKind = "timeout"
)

var (
	// ErrToolNotFound is returned for unregistered tool names
	ErrToolNotFound = errors.New("tool not found")

	// ErrRegistrySealed is returned when registering after Seal
	ErrRegistrySealed = errors.New("tool registry is sealed")

	// ErrDuplicateTool is returned when a tool name is registered twice
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrToolDenied is returned when the tool policy rejects a call
	ErrToolDenied = errors.New("tool is not allowed by policy")
)

// ToolError is the typed failure carried across the tool boundary.
// Partial holds output produced before a timeout, if any.
type ToolError struct {
	Kind    ErrorKind
	Tool    string
	Err     error
	Partial string
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ValidationError wraps err as a validation failure.
func ValidationError(err error) *ToolError {
	return &ToolError{Kind: KindValidation, Err: err}
}

// ExecutionError wraps err as an execution failure.
func ExecutionError(err error) *ToolError {
	return &ToolError{Kind: KindExecution, Err: err}
}

// TimeoutError wraps err as a timeout, keeping any partial output.
func TimeoutError(err error, partial string) *ToolError {
	return &ToolError{Kind: KindTimeout, Err: err, Partial: partial}
}

// Validationf formats a validation failure.
func Validationf(format string, args ...interface{}) *ToolError {
	return ValidationError(fmt.Errorf(format, args...))
}

// AsToolError classifies any error returned by a handler.
func AsToolError(tool string, err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		if te.Tool == "" {
			te.Tool = tool
		}
		return te
	}
	kind := KindExecution
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &ToolError{Kind: kind, Tool: tool, Err: err}
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    string                 `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Kind      ErrorKind              `json:"kind,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Text renders the result on the plain-text channel shared by all tools.
func (r ToolResult) Text() string {
	if r.Success {
		return r.Output
	}
	return r.Error
}

// failure builds the rendered ToolResult for a typed error.
func failure(te *ToolError) ToolResult {
	return ToolResult{
		Success: false,
		Error:   RenderError(te),
		Kind:    te.Kind,
	}
}

// RenderError converts an error into "error:<message>" text.
func RenderError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	var te *ToolError
	if errors.As(err, &te) && te.Partial != "" {
		return ErrorPrefix + msg + "\n" + te.Partial
	}
	return ErrorPrefix + msg
}

// IsError reports whether a rendered result is a failure.
func IsError(text string) bool {
	return strings.HasPrefix(text, ErrorPrefix)
}

// TruncateText sanitizes text to valid UTF-8 and cuts it at maxChars runes,
// appending TruncationMarker when anything was dropped.
func TruncateText(text string, maxChars int) (string, bool) {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	if maxChars < 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	cut := 0
	for i := 0; i < maxChars; i++ {
		_, size := utf8.DecodeRuneInString(text[cut:])
		cut += size
	}
	return text[:cut] + TruncationMarker, true
}
