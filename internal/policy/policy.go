// Package policy implements the tool-policy decision procedure: given a
// calling agent's allow/deny configuration and a tool's risk metadata, it
// decides whether a call may proceed, must be blocked, or requires human
// approval (spec.md §3, §4.4).
package policy

import (
	"fmt"
	"strings"
)

// Outcome is the tri-valued result of a policy decision.
type Outcome string

const (
	Allow Outcome = "allow"
	Deny  Outcome = "deny"
	Ask   Outcome = "ask"
)

// severity orders outcomes for the stricter-wins intersection rule
// (deny > ask > allow), per spec.md §4.4.
func (o Outcome) severity() int {
	switch o {
	case Deny:
		return 2
	case Ask:
		return 1
	default:
		return 0
	}
}

// stricter returns whichever of a, b is the more restrictive outcome.
func stricter(a, b Outcome) Outcome {
	if a.severity() >= b.severity() {
		return a
	}
	return b
}

type (
	// RiskLevel classifies how much trust a tool call requires. Mirrors
	// tools.RiskLevel without importing the tools package, keeping policy
	// decoupled from the registry.
	RiskLevel string

	// ToolMeta is the narrow view of a tool's policy-relevant attributes.
	ToolMeta struct {
		RiskLevel RiskLevel
		SkillID   string
	}

	// Context is the per-call capability bundle carried by a runner when it
	// invokes the tool router (spec.md §3 "Agent Context").
	Context struct {
		AgentID      string
		RoleID       string
		AllowedTools []string
		DeniedTools  []string
		Delegated    *Delegated
	}

	// Delegated carries optionally-glob-patterned permission overrides
	// inherited from a parent run. Never broadened after a run's creation
	// (spec.md §3 "Run" invariants).
	Delegated struct {
		AllowedTools []string
		DeniedTools  []string
	}

	// Decision is the tri-valued output of Decide, with a human-readable
	// reason for deny/ask outcomes.
	Decision struct {
		Outcome Outcome
		Reason  string
	}
)

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func allowed(reason string) Decision { return Decision{Outcome: Allow, Reason: reason} }
func denied(reason string) Decision  { return Decision{Outcome: Deny, Reason: reason} }
func ask(reason string) Decision     { return Decision{Outcome: Ask, Reason: reason} }

// skillToken returns the "skill:<id>" form used when matching deniedTools /
// allowedTools entries against a tool's skill id, or "" if the tool has no
// skill id.
func skillToken(meta ToolMeta) string {
	if meta.SkillID == "" {
		return ""
	}
	return "skill:" + meta.SkillID
}

// Decide evaluates the role-level policy for one tool call, applying the
// five precedence rules from spec.md §4.4 in order, then intersects with any
// delegated permissions.
//
// alwaysAllowed marks discovery-only tools (e.g. a skill listing tool) that
// bypass every other rule.
func Decide(ctx Context, toolName string, meta ToolMeta, alwaysAllowed bool) Decision {
	base := decideBase(ctx, toolName, meta, alwaysAllowed)
	if ctx.Delegated == nil {
		return base
	}
	delegated := decideDelegated(*ctx.Delegated, toolName, meta)
	return intersect(base, delegated)
}

func decideBase(ctx Context, toolName string, meta ToolMeta, alwaysAllowed bool) Decision {
	token := skillToken(meta)

	// Rule 1: always-allowed discovery tools.
	if alwaysAllowed {
		return allowed("always allowed")
	}

	// Rule 2: explicit deny, by tool name or skill id.
	if matchAny(ctx.DeniedTools, toolName, token) {
		return denied("explicitly denied")
	}

	// Rule 3: non-empty allow list that excludes this tool and its skill.
	if len(ctx.AllowedTools) > 0 && !matchAny(ctx.AllowedTools, toolName, token) {
		return denied("not in the allowed list")
	}

	// Rule 4: high risk tools always require approval.
	if meta.RiskLevel == RiskHigh {
		return ask("high risk")
	}

	// Rule 5: default allow.
	return allowed("")
}

// decideDelegated applies the same rule shape as decideBase restricted to
// the delegated allow/deny lists, which support glob patterns (spec.md
// §4.4). A delegated bundle with no lists at all is neutral (allow).
func decideDelegated(d Delegated, toolName string, meta ToolMeta) Decision {
	token := skillToken(meta)

	if matchAny(d.DeniedTools, toolName, token) {
		return denied("denied by delegated permissions")
	}
	if len(d.AllowedTools) > 0 && !matchAny(d.AllowedTools, toolName, token) {
		return denied("not in delegated allowed list")
	}
	return allowed("")
}

// intersect combines a role-level and a delegated decision: deny if either
// denies; allow only if both allow; otherwise the stricter of the two wins
// (deny > ask > allow), per spec.md §4.4.
func intersect(role, delegated Decision) Decision {
	out := stricter(role.Outcome, delegated.Outcome)
	if out == Allow {
		return allowed("")
	}
	reason := role.Reason
	if delegated.Outcome.severity() > role.Outcome.severity() {
		reason = delegated.Reason
	}
	if reason == "" {
		reason = fmt.Sprintf("%s by policy", out)
	}
	return Decision{Outcome: out, Reason: reason}
}

// String renders a Decision for logging and event payloads.
func (d Decision) String() string {
	if d.Reason == "" {
		return string(d.Outcome)
	}
	return strings.Join([]string{string(d.Outcome), d.Reason}, ": ")
}
