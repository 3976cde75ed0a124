package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/policy"
)

func TestDecideAlwaysAllowedBeatsEverythingElse(t *testing.T) {
	ctx := policy.Context{DeniedTools: []string{"skills_list"}}
	d := policy.Decide(ctx, "skills_list", policy.ToolMeta{RiskLevel: policy.RiskHigh}, true)
	require.Equal(t, policy.Allow, d.Outcome)
}

func TestDecideExplicitDenyByName(t *testing.T) {
	ctx := policy.Context{DeniedTools: []string{"delete_file"}}
	d := policy.Decide(ctx, "delete_file", policy.ToolMeta{RiskLevel: policy.RiskLow}, false)
	require.Equal(t, policy.Deny, d.Outcome)
	require.Equal(t, "explicitly denied", d.Reason)
}

func TestDecideExplicitDenyBySkillID(t *testing.T) {
	ctx := policy.Context{DeniedTools: []string{"skill:finance"}}
	d := policy.Decide(ctx, "wire_transfer", policy.ToolMeta{RiskLevel: policy.RiskLow, SkillID: "finance"}, false)
	require.Equal(t, policy.Deny, d.Outcome)
}

func TestDecideNotInAllowList(t *testing.T) {
	ctx := policy.Context{AllowedTools: []string{"read_file"}}
	d := policy.Decide(ctx, "write_file", policy.ToolMeta{RiskLevel: policy.RiskLow}, false)
	require.Equal(t, policy.Deny, d.Outcome)
	require.Equal(t, "not in the allowed list", d.Reason)
}

func TestDecideHighRiskAsksWhenNotFiltered(t *testing.T) {
	ctx := policy.Context{AllowedTools: []string{"wire_transfer"}}
	d := policy.Decide(ctx, "wire_transfer", policy.ToolMeta{RiskLevel: policy.RiskHigh}, false)
	require.Equal(t, policy.Ask, d.Outcome)
	require.Equal(t, "high risk", d.Reason)
}

func TestDecideDefaultAllow(t *testing.T) {
	ctx := policy.Context{}
	d := policy.Decide(ctx, "read_file", policy.ToolMeta{RiskLevel: policy.RiskLow}, false)
	require.Equal(t, policy.Allow, d.Outcome)
}

func TestDecideDelegatedDenyOverridesRoleAllow(t *testing.T) {
	ctx := policy.Context{
		Delegated: &policy.Delegated{DeniedTools: []string{"write_*"}},
	}
	d := policy.Decide(ctx, "write_file", policy.ToolMeta{RiskLevel: policy.RiskLow}, false)
	require.Equal(t, policy.Deny, d.Outcome)
}

func TestDecideDelegatedAllowGlobDoubleStar(t *testing.T) {
	ctx := policy.Context{
		Delegated: &policy.Delegated{AllowedTools: []string{"repo/**"}},
	}
	d := policy.Decide(ctx, "repo/a/b/read", policy.ToolMeta{RiskLevel: policy.RiskLow}, false)
	require.Equal(t, policy.Allow, d.Outcome)
}

func TestDecideDelegatedNotInAllowListDenies(t *testing.T) {
	ctx := policy.Context{
		Delegated: &policy.Delegated{AllowedTools: []string{"repo/*"}},
	}
	d := policy.Decide(ctx, "other/read", policy.ToolMeta{RiskLevel: policy.RiskLow}, false)
	require.Equal(t, policy.Deny, d.Outcome)
}

func TestDecideIntersectionStricterWins(t *testing.T) {
	// Role says ask (high risk); delegated says allow. Stricter (ask) wins.
	ctx := policy.Context{
		Delegated: &policy.Delegated{},
	}
	d := policy.Decide(ctx, "wire_transfer", policy.ToolMeta{RiskLevel: policy.RiskHigh}, false)
	require.Equal(t, policy.Ask, d.Outcome)
}

func TestDecideIntersectionBothMustAllow(t *testing.T) {
	ctx := policy.Context{
		AllowedTools: []string{"read_file"},
		Delegated:    &policy.Delegated{AllowedTools: []string{"write_file"}},
	}
	d := policy.Decide(ctx, "read_file", policy.ToolMeta{RiskLevel: policy.RiskLow}, false)
	require.Equal(t, policy.Deny, d.Outcome)
}
