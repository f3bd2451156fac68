// Package tools implements the schema-driven tool registry and the
// built-in retrieval/memory tools the conversation engine dispatches.
package tools

import (
	"context"
	"time"
)

// ParamDef describes one tool parameter for schema emission.
type ParamDef struct {
	Type        string // "string" | "array" | "integer" | "number" | "boolean"
	Description string
	Items       string // element type when Type == "array"
	Required    bool
	Enum        []string
}

// Definition is a schema-driven tool description: name, description, and
// parameters, plus metadata the registry and engine use for guideline
// text and guardrail checks.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]ParamDef
	Category    string
	Guideline   string // appended to the system prompt when this tool is enabled
}

// TypedParams is the interface a tool's typed parameter struct can
// implement. The built-in tools do not use it: they coerce their raw
// argument maps with the parse*Param helpers.
type TypedParams interface {
	ToolName() string
}

// Result is the structured outcome of one tool call, returned to the
// model rather than raised as an error.
type Result struct {
	OK        bool
	Value     any
	Error     string
	ElapsedMS int64
}

// Tool is one schema-driven, dispatchable capability.
type Tool interface {
	Name() string
	Definition() Definition
	// Execute receives raw JSON-decoded arguments; each implementation is
	// responsible for coercing them into its typed params.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// timeNow is a package-level clock hook. Registry.Dispatch does not read
// it (it measures ElapsedMS with time.Now), and no test overrides it.
var timeNow = time.Now
