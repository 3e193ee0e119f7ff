package toolexecutor

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/kitool/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimeout bounds handlers that do not declare their own ceiling
	DefaultTimeout = 120 * time.Second
	// DefaultMaxResultChars bounds every result text
	DefaultMaxResultChars = 100000
)

// ToolCategory groups tools for listings and metrics
type ToolCategory string

const (
	CategoryShell ToolCategory = "shell"
	CategoryRead  ToolCategory = "read"
	CategoryWrite ToolCategory = "write"
	CategoryData  ToolCategory = "data"
	CategoryCode  ToolCategory = "code"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Nullable    bool        `json:"nullable,omitempty"`
	Items       string      `json:"items,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Minimum     *float64    `json:"minimum,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    ToolCategory    `json:"category,omitempty"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	Timeout     time.Duration   `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (string, error)

// Observer is notified once per call, after the result is final.
type Observer interface {
	ObserveToolCall(tool string, kind ErrorKind, duration time.Duration, truncated bool)
}

// Options configures a ToolExecutor. Zero values select the defaults.
type Options struct {
	DefaultTimeout time.Duration
	MaxResultChars int
	Policy         *ToolPolicy
	Observer       Observer
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	order   []string
	opts    Options
	sealed  bool
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New(opts Options) *ToolExecutor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxResultChars <= 0 {
		opts.MaxResultChars = DefaultMaxResultChars
	}

	te := &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		opts:    opts,
	}

	log.Debug().
		Dur("default_timeout", opts.DefaultTimeout).
		Int("max_result_chars", opts.MaxResultChars).
		Msg("Tool executor initialized")

	return te
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if te.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, def.Name)
	}
	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	te.order = append(te.order, def.Name)

	log.Debug().Str("tool", def.Name).Str("category", string(def.Category)).Msg("Tool registered")

	return nil
}

// Seal freezes the registry; later registrations fail.
func (te *ToolExecutor) Seal() {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.sealed = true
	log.Info().Int("tools", len(te.tools)).Msg("Tool registry sealed")
}

// SetPolicy replaces the registry-wide policy. Calls already past the policy
// check are not affected.
func (te *ToolExecutor) SetPolicy(policy *ToolPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	te.mu.Lock()
	te.opts.Policy = policy
	te.mu.Unlock()
	log.Info().Strs("allow", policyList(policy, true)).Strs("deny", policyList(policy, false)).Msg("Tool policy updated")
	return nil
}

// Policy returns the registry-wide policy, nil when every tool is allowed.
func (te *ToolExecutor) Policy() *ToolPolicy {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.opts.Policy
}

func policyList(policy *ToolPolicy, allow bool) []string {
	if policy == nil {
		return nil
	}
	if allow {
		return policy.Allow
	}
	return policy.Deny
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names in registration order
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return append([]string(nil), te.order...)
}

// Descriptors returns copies of every tool definition in registration order.
func (te *ToolExecutor) Descriptors() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	out := make([]ToolDefinition, 0, len(te.order))
	for _, name := range te.order {
		def := *te.tools[name]
		def.Parameters = append([]ToolParameter(nil), def.Parameters...)
		out = append(out, def)
	}
	return out
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Invoke runs a tool and returns its text result. It never panics and never
// returns an error; failures come back as "error:"-prefixed text.
func (te *ToolExecutor) Invoke(ctx context.Context, toolName string, params map[string]interface{}) string {
	return te.Execute(ctx, toolName, params, nil).Text()
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}

	if execCtx == nil {
		execCtx = &ExecutionContext{}
	}
	if execCtx.InvocationID == "" {
		execCtx.InvocationID = uuid.NewString()
	}
	if execCtx.SessionKey != "" && tracing.SessionKey(ctx) == "" {
		ctx = tracing.WithSessionKey(ctx, execCtx.SessionKey)
	}

	ctx, span := tracing.StartSpan(ctx, "tool."+toolName,
		attribute.String("tool.name", toolName),
		attribute.String("tool.invocation_id", execCtx.InvocationID),
	)
	defer span.End()

	result := te.execute(ctx, toolName, params, execCtx)

	duration := time.Since(startTime)
	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["duration"] = duration.Milliseconds()
	result.Metadata["invocation_id"] = execCtx.InvocationID

	if te.opts.Observer != nil {
		te.opts.Observer.ObserveToolCall(toolName, result.Kind, duration, result.Truncated)
	}

	span.SetAttributes(attribute.Bool("tool.truncated", result.Truncated))
	if !result.Success {
		span.SetStatus(codes.Error, string(result.Kind))
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	event := logger.Debug()
	if !result.Success {
		event = logger.Warn().Str("kind", string(result.Kind))
	}
	event.
		Str("tool", toolName).
		Str("invocation_id", execCtx.InvocationID).
		Dur("duration", duration).
		Bool("truncated", result.Truncated).
		Msg("Tool call finished")

	return result
}

func (te *ToolExecutor) execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	policy := execCtx.ToolPolicy
	if policy == nil {
		policy = te.Policy()
	}
	if !policy.IsToolAllowed(toolName) {
		return te.bounded(failure(Validationf("%w: %s", ErrToolDenied, toolName)))
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		return te.bounded(failure(Validationf("%w: %s", ErrToolNotFound, toolName)))
	}

	params = applyDefaults(tool, params)
	if err := validateParameters(schema, params); err != nil {
		return te.bounded(failure(Validationf("invalid arguments for %s: %v", toolName, err)))
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = te.opts.DefaultTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(WithExecution(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("tool", toolName).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Tool handler panicked")
				done <- outcome{err: ExecutionError(fmt.Errorf("tool %s panicked: %v", toolName, r))}
			}
		}()
		out, err := tool.Handler(timeoutCtx, params)
		done <- outcome{output: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return te.bounded(failure(AsToolError(toolName, res.err)))
		}
		return te.bounded(ToolResult{Success: true, Output: res.output})

	case <-timeoutCtx.Done():
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return te.bounded(failure(ExecutionError(fmt.Errorf("tool %s cancelled: %w", toolName, ctx.Err()))))
		}
		return te.bounded(failure(TimeoutError(fmt.Errorf("tool %s timed out after %v", toolName, timeout), "")))
	}
}

// bounded applies the global size rule to whichever text the result carries.
func (te *ToolExecutor) bounded(result ToolResult) ToolResult {
	if result.Success {
		result.Output, result.Truncated = TruncateText(result.Output, te.opts.MaxResultChars)
	} else {
		result.Error, result.Truncated = TruncateText(result.Error, te.opts.MaxResultChars)
	}
	if result.Truncated {
		log.Warn().Int("max_chars", te.opts.MaxResultChars).Msg("Output truncated")
	}
	return result
}

// applyDefaults returns a copy of params with declared defaults filled in.
func applyDefaults(def *ToolDefinition, params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+len(def.Parameters))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range def.Parameters {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
		if param.Type == "array" && param.Items != "" && !validTypes[param.Items] {
			return fmt.Errorf("invalid item type %q for %s", param.Items, param.Name)
		}
		if len(param.Enum) > 0 && param.Type != "string" {
			return fmt.Errorf("enum is only supported for string parameter %s", param.Name)
		}
	}

	return nil
}

// generateJSONSchema generates a JSON Schema from tool parameters
func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		var typ interface{} = param.Type
		if param.Nullable {
			typ = []interface{}{param.Type, "null"}
		}
		paramSchema := map[string]interface{}{
			"type":        typ,
			"description": param.Description,
		}
		if param.Type == "array" && param.Items != "" {
			paramSchema["items"] = map[string]interface{}{"type": param.Items}
		}
		if len(param.Enum) > 0 {
			enum := make([]interface{}, 0, len(param.Enum)+1)
			for _, e := range param.Enum {
				enum = append(enum, e)
			}
			if param.Nullable {
				enum = append(enum, nil)
			}
			paramSchema["enum"] = enum
		}
		if param.Minimum != nil {
			paramSchema["minimum"] = *param.Minimum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
