package toolrouter_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/engineerr"
	"github.com/agentruntime/core/internal/policy"
	"github.com/agentruntime/core/internal/toolrouter"
	"github.com/agentruntime/core/internal/tools"
)

func newRegistry(t *testing.T, regs ...tools.Registration) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(nil, regs...)
	require.NoError(t, err)
	return reg
}

func TestCallToolNotFound(t *testing.T) {
	reg := newRegistry(t)
	router := toolrouter.New(reg)
	res := router.CallTool(context.Background(), "missing", nil, nil, toolrouter.CallMeta{})
	require.False(t, res.Success)
	require.Equal(t, engineerr.ToolNotFound, res.ErrorCode)
}

func TestCallToolSkipsPolicyWhenAgentContextNil(t *testing.T) {
	reg := newRegistry(t, tools.Registration{
		Spec: tools.Spec{Name: "read_file", Meta: tools.Meta{RiskLevel: tools.RiskHigh}},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	router := toolrouter.New(reg)
	res := router.CallTool(context.Background(), "read_file", nil, nil, toolrouter.CallMeta{})
	require.True(t, res.Success)
}

func TestCallToolPolicyDeny(t *testing.T) {
	reg := newRegistry(t, tools.Registration{
		Spec:    tools.Spec{Name: "delete_file"},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) { return nil, nil },
	})
	router := toolrouter.New(reg)
	agentCtx := &policy.Context{DeniedTools: []string{"delete_file"}}
	res := router.CallTool(context.Background(), "delete_file", nil, agentCtx, toolrouter.CallMeta{})
	require.False(t, res.Success)
	require.True(t, res.Blocked)
	require.Contains(t, res.Error, "Blocked:")
}

func TestCallToolPolicyAsk(t *testing.T) {
	reg := newRegistry(t, tools.Registration{
		Spec:    tools.Spec{Name: "wire_transfer", Meta: tools.Meta{RiskLevel: tools.RiskHigh}},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) { return nil, nil },
	})
	router := toolrouter.New(reg)
	res := router.CallTool(context.Background(), "wire_transfer", nil, &policy.Context{}, toolrouter.CallMeta{})
	require.False(t, res.Success)
	require.True(t, res.RequiresApproval)
	require.Equal(t, "high", res.RiskLevel)
}

func TestCallToolInvalidArgs(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["path"]}`)
	reg := newRegistry(t, tools.Registration{
		Spec:    tools.Spec{Name: "read_file", ParamsSchema: schema},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) { return nil, nil },
	})
	router := toolrouter.New(reg)
	res := router.CallTool(context.Background(), "read_file", []byte(`{}`), &policy.Context{}, toolrouter.CallMeta{})
	require.False(t, res.Success)
	require.Equal(t, engineerr.ToolInvalidArgs, res.ErrorCode)
}

func TestCallToolTimeout(t *testing.T) {
	reg := newRegistry(t, tools.Registration{
		Spec: tools.Spec{Name: "slow", Meta: tools.Meta{Timeout: 10}},
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	router := toolrouter.New(reg)
	res := router.CallTool(context.Background(), "slow", nil, nil, toolrouter.CallMeta{})
	require.False(t, res.Success)
	require.Equal(t, engineerr.ToolTimeout, res.ErrorCode)
}

func TestCallToolHandlerErrorMapped(t *testing.T) {
	boom := errors.New("boom")
	reg := newRegistry(t, tools.Registration{
		Spec:    tools.Spec{Name: "fails"},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) { return nil, boom },
	})
	router := toolrouter.New(reg)
	res := router.CallTool(context.Background(), "fails", nil, nil, toolrouter.CallMeta{})
	require.False(t, res.Success)
	require.Contains(t, res.Error, "boom")
}

func TestCallToolExternalErrorNormalized(t *testing.T) {
	reg := newRegistry(t, tools.Registration{
		Spec: tools.Spec{Name: "ext_search", Source: tools.SourceExternal},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
			return map[string]any{"isError": true, "message": "remote failed"}, nil
		},
	})
	router := toolrouter.New(reg)
	res := router.CallTool(context.Background(), "ext_search", nil, nil, toolrouter.CallMeta{})
	require.False(t, res.Success)
	require.Equal(t, "remote failed", res.Error)
}

func TestCallToolRequiresSuspension(t *testing.T) {
	reg := newRegistry(t, tools.Registration{
		Spec: tools.Spec{Name: "human_gate"},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
			return map[string]any{"requiresSuspension": true}, nil
		},
	})
	router := toolrouter.New(reg)
	res := router.CallTool(context.Background(), "human_gate", nil, nil, toolrouter.CallMeta{})
	require.False(t, res.Success)
	require.True(t, res.RequiresSuspension)
}
