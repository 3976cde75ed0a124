// Package tools holds the declarative tool spec model and the in-process
// registry that maps tool names to specs and handlers (spec.md §3, §4.3).
package tools

import (
	"context"
	"encoding/json"
)

// Ident is the strong type for tool names, distinguishing them from
// free-form strings at call sites.
type Ident string

// Source identifies where a tool spec came from.
type Source string

const (
	SourceBuiltin  Source = "builtin"
	SourceExternal Source = "external"
)

// RiskLevel classifies how much trust a tool call requires.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type (
	// Meta carries the policy- and router-relevant attributes of a tool,
	// decoupled from Spec so policy code can depend on a narrow view
	// (spec.md §3 "Tool Spec").
	Meta struct {
		RiskLevel       RiskLevel
		Mutating        bool
		SupportsParallel bool
		Timeout         int64 // milliseconds; 0 means use the router default.
		SkillID         string
	}

	// Spec is the full declarative description of a tool registered with a
	// Registry.
	Spec struct {
		// Name is unique within the registry at a given time.
		Name Ident
		Description string
		// ParamsSchema is a JSON-schema document describing the call payload.
		ParamsSchema json.RawMessage
		Source       Source
		Meta         Meta
	}

	// Handler executes a tool call. Special result shapes are interpreted by
	// the router (spec.md §6.4):
	//   - a map/struct with requiresSuspension=true signals suspension
	//   - for external tools, isError=true signals a normalized failure
	Handler func(ctx context.Context, params json.RawMessage) (any, error)

	// Registration bundles a Spec with its Handler for registry insertion.
	Registration struct {
		Spec    Spec
		Handler Handler
	}
)
