package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/northlight-ai/corex/internal/llm"
)

// Registry maintains name -> Tool and emits API-safe schemas plus the
// concatenated enabled-tool guideline text appended to the system prompt.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	enabled map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), enabled: make(map[string]bool)}
}

// Register adds a tool, enabled by default.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.enabled[t.Name()] = true
}

// SetEnabled toggles a tool's availability for the current turn, used to
// hide web_search/get_url_content/get_url_details once seed preload is
// complete, or to honor an explicit disabled-tools request list.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[name] = enabled
}

// Schemas emits llm.ToolSpec for every enabled tool, the shape a provider
// adapter sends on the wire.
func (r *Registry) Schemas() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []llm.ToolSpec
	for name, t := range r.tools {
		if !r.enabled[name] {
			continue
		}
		def := t.Definition()
		out = append(out, llm.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  paramSchema(def.Parameters),
		})
	}
	return out
}

func paramSchema(params map[string]ParamDef) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if p.Type == "array" {
			prop["items"] = map[string]any{"type": p.Items}
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Guidelines concatenates every enabled tool's guideline text for
// inclusion in the system prompt.
func (r *Registry) Guidelines() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for name, t := range r.tools {
		if !r.enabled[name] {
			continue
		}
		g := t.Definition().Guideline
		if g == "" {
			continue
		}
		b.WriteString(g)
		b.WriteString("\n")
	}
	return b.String()
}

// Dispatch validates that the named tool exists and is enabled, executes
// it, and always returns a structured Result rather than propagating the
// tool's error to the caller: execution failures are reported to the
// model, not raised.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) *Result {
	start := time.Now()
	r.mu.RLock()
	t, ok := r.tools[name]
	enabled := r.enabled[name]
	r.mu.RUnlock()

	if !ok {
		return &Result{OK: false, Error: fmt.Sprintf("unknown tool %q", name), ElapsedMS: time.Since(start).Milliseconds()}
	}
	if !enabled {
		return &Result{OK: false, Error: fmt.Sprintf("tool %q is disabled for this turn", name), ElapsedMS: time.Since(start).Milliseconds()}
	}

	res, err := t.Execute(ctx, args)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return &Result{OK: false, Error: err.Error(), ElapsedMS: elapsed}
	}
	if res == nil {
		res = &Result{OK: true}
	}
	res.ElapsedMS = elapsed
	return res
}
