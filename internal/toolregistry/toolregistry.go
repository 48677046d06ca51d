// Package toolregistry is the per-process set of tool descriptors
// described in spec.md section 4.5: name -> {description, input schema,
// invocation strategy}. Adapted from the teacher's internal/agent's
// RWMutex-protected map-based tool registry, generalized from a single
// in-process invocation strategy to the two strategies this core needs.
package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/swarmgate/swarm/internal/swerr"
)

// MaxToolNameLength bounds a tool name, mirroring the teacher's defensive
// validation constants.
const MaxToolNameLength = 256

// MaxInputSize bounds a tool call's serialized input.
const MaxInputSize = 10 * 1024 * 1024

// InvokeFunc is the InProcess invocation strategy: a function called
// directly in this process.
type InvokeFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// RemoteInvoker is the Remote invocation strategy: dispatch through a pack
// bridge. Implemented by internal/packbridge.Bridge.
type RemoteInvoker interface {
	ExecuteTool(ctx context.Context, toolName string, input json.RawMessage) (json.RawMessage, error)
}

// Strategy tags how a Tool's invocation is carried out.
type Strategy int

const (
	StrategyInProcess Strategy = iota
	StrategyRemote
)

// Tool is one registered descriptor plus its invocation strategy.
type Tool struct {
	Name                 string
	Description          string
	InputSchema          json.RawMessage
	RequiredCapabilities []string
	Strategy             Strategy

	inProcess InvokeFunc
	remote    RemoteInvoker
	packID    string

	schema *jsonschema.Schema
}

// Registry is a concurrency-safe set of tools keyed by name. Entries stay
// until Reset; no Welcome handler calls Reset or re-registers tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Reset clears every registered tool.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]*Tool)
}

// RegisterInProcess adds a tool whose invocation runs fn directly.
func (r *Registry) RegisterInProcess(name, description string, inputSchema json.RawMessage, fn InvokeFunc) error {
	t, err := newTool(name, description, inputSchema)
	if err != nil {
		return err
	}
	t.Strategy = StrategyInProcess
	t.inProcess = fn
	return r.register(t)
}

// RegisterRemote adds a tool whose invocation is dispatched through a pack
// bridge to packID.
func (r *Registry) RegisterRemote(name, description string, inputSchema json.RawMessage, requiredCaps []string, remote RemoteInvoker, packID string) error {
	t, err := newTool(name, description, inputSchema)
	if err != nil {
		return err
	}
	t.Strategy = StrategyRemote
	t.remote = remote
	t.packID = packID
	t.RequiredCapabilities = requiredCaps
	return r.register(t)
}

func newTool(name, description string, inputSchema json.RawMessage) (*Tool, error) {
	if name == "" || len(name) > MaxToolNameLength {
		return nil, swerr.New(swerr.InvalidArgument, "tool name invalid or too long")
	}
	t := &Tool{Name: name, Description: description, InputSchema: inputSchema}
	if len(inputSchema) > 0 {
		compiled, err := compileSchema(inputSchema)
		if err != nil {
			return nil, swerr.Wrap(swerr.InvalidArgument, fmt.Errorf("tool %s: %w", name, err))
		}
		t.schema = compiled
	}
	return t, nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	const resourceURL = "inline.json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceURL)
}

func (r *Registry) register(t *Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	return nil
}

// Get resolves a tool name to its descriptor.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns a snapshot of every registered tool.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ValidateInput checks input against the tool's input schema, if any.
func (t *Tool) ValidateInput(input json.RawMessage) error {
	if t.schema == nil || len(input) == 0 {
		return nil
	}
	if len(input) > MaxInputSize {
		return swerr.New(swerr.InvalidArgument, "tool input exceeds maximum size")
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return swerr.Wrap(swerr.InvalidArgument, err)
	}
	if err := t.schema.Validate(v); err != nil {
		return swerr.Wrap(swerr.InvalidArgument, err)
	}
	return nil
}

// Invoke dispatches to the tool's invocation strategy.
func (t *Tool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	if err := t.ValidateInput(input); err != nil {
		return nil, err
	}
	switch t.Strategy {
	case StrategyInProcess:
		if t.inProcess == nil {
			return nil, swerr.New(swerr.Internal, "tool registered as in-process with no function")
		}
		return t.inProcess(ctx, input)
	case StrategyRemote:
		if t.remote == nil {
			return nil, swerr.New(swerr.Internal, "tool registered as remote with no invoker")
		}
		return t.remote.ExecuteTool(ctx, t.Name, input)
	default:
		return nil, swerr.New(swerr.Internal, "unknown tool invocation strategy")
	}
}
