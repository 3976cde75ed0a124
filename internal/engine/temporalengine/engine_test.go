package temporalengine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/agentruntime/core/internal/engine"
)

func TestNewRejectsMissingTaskQueue(t *testing.T) {
	_, err := New(Options{ClientOptions: &client.Options{}})
	require.Error(t, err)
}

func TestNewRejectsMissingClientAndClientOptions(t *testing.T) {
	_, err := New(Options{TaskQueue: "test-queue"})
	require.Error(t, err)
}

func TestConvertRetryPolicyNilForZeroValue(t *testing.T) {
	require.Nil(t, convertRetryPolicy(engine.RetryPolicy{}))
}

func TestConvertRetryPolicyCarriesFields(t *testing.T) {
	rp := convertRetryPolicy(engine.RetryPolicy{MaxAttempts: 5, BackoffCoefficient: 2.5})
	require.NotNil(t, rp)
	require.Equal(t, int32(5), rp.MaximumAttempts)
	require.Equal(t, 2.5, rp.BackoffCoefficient)
}

func TestConfigureInstrumentationDisabledReturnsNil(t *testing.T) {
	inst, err := configureInstrumentation(true, true)
	require.NoError(t, err)
	require.Nil(t, inst)
}

func TestConfigureInstrumentationEnabledTracingOnly(t *testing.T) {
	inst, err := configureInstrumentation(false, true)
	require.NoError(t, err)
	require.NotNil(t, inst)
	require.NotNil(t, inst.tracer)
	require.Nil(t, inst.metrics)
}

func TestApplyWorkerInstrumentationNoopWhenNil(t *testing.T) {
	opts := worker.Options{}
	applyWorkerInstrumentation(&opts, nil)
	require.Empty(t, opts.Interceptors)
}

func TestNormalizeTemporalErrorPassesThroughUnknownErrors(t *testing.T) {
	want := errors.New("activity transport unavailable")
	require.ErrorIs(t, normalizeTemporalError(want), want)
}

func TestNormalizeTemporalErrorNilIsNil(t *testing.T) {
	require.NoError(t, normalizeTemporalError(nil))
}
