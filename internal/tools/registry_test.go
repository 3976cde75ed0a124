package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/tools"
)

func echoHandler(_ context.Context, params json.RawMessage) (any, error) {
	return map[string]any{"echo": string(params)}, nil
}

func TestRegistryLookupAndAlwaysAllowed(t *testing.T) {
	reg, err := tools.NewRegistry(
		[]tools.Ident{"skills_list"},
		tools.Registration{
			Spec:    tools.Spec{Name: "skills_list", Source: tools.SourceBuiltin},
			Handler: echoHandler,
		},
	)
	require.NoError(t, err)

	spec, handler, ok := reg.Lookup("skills_list")
	require.True(t, ok)
	require.NotNil(t, handler)
	require.Equal(t, tools.SourceBuiltin, spec.Source)
	require.True(t, reg.AlwaysAllowed("skills_list"))
	require.False(t, reg.AlwaysAllowed("write_file"))
}

func TestRegistryLookupMiss(t *testing.T) {
	reg, err := tools.NewRegistry(nil)
	require.NoError(t, err)
	_, _, ok := reg.Lookup("nope")
	require.False(t, ok)
}

func TestRegistryDiscoverNoCollision(t *testing.T) {
	reg, err := tools.NewRegistry(nil)
	require.NoError(t, err)

	name, err := reg.Discover(tools.Registration{
		Spec:    tools.Spec{Name: "search_web"},
		Handler: echoHandler,
	})
	require.NoError(t, err)
	require.Equal(t, tools.Ident("search_web"), name)

	spec, _, ok := reg.Lookup("search_web")
	require.True(t, ok)
	require.Equal(t, tools.SourceExternal, spec.Source)
}

func TestRegistryDiscoverCollisionGetsPrefixed(t *testing.T) {
	reg, err := tools.NewRegistry(nil, tools.Registration{
		Spec:    tools.Spec{Name: "search_web", Source: tools.SourceBuiltin},
		Handler: echoHandler,
	})
	require.NoError(t, err)

	name, err := reg.Discover(tools.Registration{
		Spec:    tools.Spec{Name: "search_web"},
		Handler: echoHandler,
	})
	require.NoError(t, err)
	require.Equal(t, tools.Ident("ext__search_web"), name)

	// Original builtin is untouched.
	spec, _, ok := reg.Lookup("search_web")
	require.True(t, ok)
	require.Equal(t, tools.SourceBuiltin, spec.Source)

	_, _, ok = reg.Lookup("ext__search_web")
	require.True(t, ok)
}

func TestRegistryValidateAgainstSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
	reg, err := tools.NewRegistry(nil, tools.Registration{
		Spec: tools.Spec{
			Name:         "read_file",
			ParamsSchema: schema,
		},
		Handler: echoHandler,
	})
	require.NoError(t, err)

	require.NoError(t, reg.Validate(context.Background(), "read_file", []byte(`{"path":"a.txt"}`)))
	require.Error(t, reg.Validate(context.Background(), "read_file", []byte(`{}`)))
}

func TestRegistryValidateNoSchemaAlwaysPasses(t *testing.T) {
	reg, err := tools.NewRegistry(nil, tools.Registration{
		Spec:    tools.Spec{Name: "noop"},
		Handler: echoHandler,
	})
	require.NoError(t, err)
	require.NoError(t, reg.Validate(context.Background(), "noop", []byte(`{"anything":1}`)))
}

func TestRegisterRejectsMissingHandler(t *testing.T) {
	reg, err := tools.NewRegistry(nil)
	require.NoError(t, err)
	err = reg.Register(tools.Registration{Spec: tools.Spec{Name: "x"}})
	require.Error(t, err)
}
