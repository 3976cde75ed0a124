package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Registry is a thread-safe mapping from tool name to tool spec/handler,
	// built at construction and optionally refreshed via Discover (spec.md
	// §4.3).
	Registry struct {
		mu          sync.RWMutex
		entries     map[Ident]entry
		alwaysAllow map[Ident]struct{}
	}

	entry struct {
		spec    Spec
		handler Handler
		schema  *jsonschema.Schema
	}
)

// discoverCollisionPrefix is prepended to an externally discovered tool's
// sanitized name when it collides with a builtin, per spec.md §4.3.
const discoverCollisionPrefix = "ext__"

// NewRegistry constructs an empty Registry seeded with the given builtin
// registrations and the always-allowed discovery-only tool names used by
// policy precedence rule 1 (spec.md §4.4).
func NewRegistry(alwaysAllow []Ident, builtins ...Registration) (*Registry, error) {
	r := &Registry{
		entries:     make(map[Ident]entry, len(builtins)),
		alwaysAllow: make(map[Ident]struct{}, len(alwaysAllow)),
	}
	for _, id := range alwaysAllow {
		r.alwaysAllow[id] = struct{}{}
	}
	for _, reg := range builtins {
		if err := r.register(reg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(reg Registration) error {
	if reg.Spec.Name == "" {
		return fmt.Errorf("tools: registration requires a name")
	}
	if reg.Handler == nil {
		return fmt.Errorf("tools: registration %q requires a handler", reg.Spec.Name)
	}
	var compiled *jsonschema.Schema
	if len(reg.Spec.ParamsSchema) > 0 {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(string(reg.Spec.Name), toAny(reg.Spec.ParamsSchema)); err != nil {
			return fmt.Errorf("tools: invalid schema for %q: %w", reg.Spec.Name, err)
		}
		sch, err := c.Compile(string(reg.Spec.Name))
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", reg.Spec.Name, err)
		}
		compiled = sch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[reg.Spec.Name] = entry{spec: reg.Spec, handler: reg.Handler, schema: compiled}
	return nil
}

// Register adds a builtin tool to the registry after construction.
func (r *Registry) Register(reg Registration) error {
	return r.register(reg)
}

// Discover merges an externally discovered tool registration into the
// registry. If the discovered name collides with an existing entry, it is
// registered under the "ext__" prefix instead (spec.md §4.3).
func (r *Registry) Discover(reg Registration) (Ident, error) {
	reg.Spec.Source = SourceExternal
	r.mu.RLock()
	_, collides := r.entries[reg.Spec.Name]
	r.mu.RUnlock()
	if collides {
		reg.Spec.Name = Ident(discoverCollisionPrefix + string(reg.Spec.Name))
	}
	if err := r.register(reg); err != nil {
		return "", err
	}
	return reg.Spec.Name, nil
}

// Lookup returns the spec and handler registered under name.
func (r *Registry) Lookup(name Ident) (Spec, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Spec{}, nil, false
	}
	return e.spec, e.handler, true
}

// AlwaysAllowed reports whether name is in the discovery-only always-allow
// list used by policy precedence rule 1 (spec.md §4.4).
func (r *Registry) AlwaysAllowed(name Ident) bool {
	_, ok := r.alwaysAllow[name]
	return ok
}

// Validate checks params against name's declared JSON schema, returning a
// descriptive error when params are not valid JSON or fail validation. An
// unregistered name or a tool with no declared schema always validates
// successfully.
func (r *Registry) Validate(ctx context.Context, name Ident, params []byte) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok || e.schema == nil {
		return nil
	}
	var v any
	if len(params) == 0 {
		v = map[string]any{}
	} else if err := unmarshalAny(params, &v); err != nil {
		return fmt.Errorf("tools: invalid JSON params for %q: %w", name, err)
	}
	if err := e.schema.Validate(v); err != nil {
		return fmt.Errorf("tools: params for %q failed validation: %w", name, err)
	}
	return nil
}

// Names returns every currently registered tool name.
func (r *Registry) Names() []Ident {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Ident, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}
