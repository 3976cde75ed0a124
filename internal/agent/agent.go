// Package agent defines identity primitives shared across the run execution
// engine. Keeping these in their own package (rather than folding them into
// run or runner) avoids import cycles between the many packages that need to
// name an agent without depending on its execution machinery.
package agent

// Ident identifies an agent within a scope. Top-level single-agent runs
// default to "main"; group members are identified by their role id.
type Ident string

// DefaultID is the agent id used when a queued run names no agent
// explicitly, per spec.md §3 ("owning agent id (default `main`)").
const DefaultID Ident = "main"

// Role describes a declarative system prompt and tool policy bound to a
// position within a group (spec.md GLOSSARY "Role / Group").
type Role struct {
	// ID identifies the role within its group.
	ID Ident
	// SystemPrompt is the system prompt used to construct the role's runner.
	SystemPrompt string
	// AllowedTools restricts the role to this tool set. Empty means no
	// restriction (subject to denied tools and policy risk rules).
	AllowedTools []string
	// DeniedTools always blocks these tool names or "skill:<id>" entries for
	// this role.
	DeniedTools []string
	// Lead marks the role whose output can short-circuit a round and which
	// produces the final synthesis when no member short-circuits (spec.md
	// §4.6).
	Lead bool
}
