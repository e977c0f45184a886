package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kstost/aiexecode/llm"
)

// ToolClass categorizes a tool for the approval gate and the pipeline.
type ToolClass string

const (
	// ClassRead tools only observe state and never require approval.
	ClassRead ToolClass = "read"
	// ClassMutating tools change files or other local state.
	ClassMutating ToolClass = "mutating"
	// ClassEdit tools are mutating tools whose outcome is statically
	// determinable; they get snapshot capture and pre-validation.
	ClassEdit ToolClass = "edit"
	// ClassExec tools spawn commands and produce stdout/stderr/exit
	// directly; they bypass snapshot capture.
	ClassExec ToolClass = "exec"
)

// Handler executes one tool call. Failures are reported as a Failure
// outcome, never as a panic or a sentinel value.
type Handler func(ctx context.Context, args json.RawMessage, sessionID string) Outcome

// PreValidator checks whether an invocation is guaranteed to fail given
// current session state, without side effects. It returns a failure
// outcome and true when execution cannot possibly succeed.
type PreValidator func(args json.RawMessage, guard *IntegrityGuard) (Outcome, bool)

// TargetFunc extracts the filesystem path an edit-class invocation will
// touch, used for snapshot capture before approval.
type TargetFunc func(args json.RawMessage) (string, bool)

// Tool pairs a definition with its handler and dispatch metadata.
type Tool struct {
	Definition  llm.ToolDefinition
	Class       ToolClass
	External    bool // externally supplied; always requires approval
	Handler     Handler
	PreValidate PreValidator
	Target      TargetFunc
}

// RequiresApproval reports whether the tool needs human approval absent a
// cached always-allow decision. Shell/code execution, file writes, file
// edits, and all externally supplied tools require approval.
func (t Tool) RequiresApproval() bool {
	if t.External {
		return true
	}
	switch t.Class {
	case ClassMutating, ClassEdit, ClassExec:
		return true
	}
	return false
}

// Registry maps tool names to handlers and metadata.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions for a provider request.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	return defs
}

// Names returns the names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ParseToolArguments unmarshals tool call arguments into a map.
func ParseToolArguments(raw json.RawMessage) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts an integer argument from parsed tool arguments.
func GetIntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// GetBoolArg extracts a boolean argument from parsed tool arguments.
func GetBoolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
