package splitgate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/gapscan/internal/polygon"
	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/logger"
)

type fakeSplits struct {
	events []polygon.Split
	err    error
	from   string
	to     string
}

func (f *fakeSplits) Splits(_ context.Context, _ string, from, to string) ([]polygon.Split, error) {
	f.from, f.to = from, to
	return f.events, f.err
}

func newGate(f *fakeSplits) *Gate {
	cfg := config.DiscoveryConfig{
		HeavyRunnerDollarVolume: 10_000_000,
		HeavyRunnerPushMin:      50,
	}
	log := logger.New(&config.Config{LogLevel: "error", LogFormat: "json"})
	return New(f, cfg, log)
}

func TestCheckNoSplits(t *testing.T) {
	f := &fakeSplits{}
	d := newGate(f).Check(context.Background(), "ABCD", "2025-01-10", 1_000_000, 10)
	assert.False(t, d.NearSplit)
	assert.False(t, d.Override)

	// window is +-3 calendar days
	assert.Equal(t, "2025-01-07", f.from)
	assert.Equal(t, "2025-01-13", f.to)
}

func TestCheckForwardSplitIgnored(t *testing.T) {
	f := &fakeSplits{events: []polygon.Split{
		{ExecutionDate: "2025-01-10", From: 1, To: 4, IsReverse: false, Ratio: 0.25},
	}}
	d := newGate(f).Check(context.Background(), "ABCD", "2025-01-10", 1_000_000, 10)
	assert.False(t, d.NearSplit)
}

func TestCheckReverseSplitSuppresses(t *testing.T) {
	f := &fakeSplits{events: []polygon.Split{
		{ExecutionDate: "2025-01-09", From: 10, To: 1, IsReverse: true, Ratio: 10},
	}}
	d := newGate(f).Check(context.Background(), "ABCD", "2025-01-10", 500_000, 12)
	require.True(t, d.NearSplit)
	assert.False(t, d.Override)
	assert.Equal(t, "split_artifact_1d", d.Reason)
	require.NotNil(t, d.Context)
	assert.Equal(t, 10.0, d.Context.Ratio)
	assert.Equal(t, 1, d.Context.DaysFromEvent)
}

func TestCheckClosestSplitWins(t *testing.T) {
	f := &fakeSplits{events: []polygon.Split{
		{ExecutionDate: "2025-01-07", From: 20, To: 1, IsReverse: true, Ratio: 20},
		{ExecutionDate: "2025-01-10", From: 5, To: 1, IsReverse: true, Ratio: 5},
	}}
	d := newGate(f).Check(context.Background(), "ABCD", "2025-01-10", 500_000, 12)
	require.True(t, d.NearSplit)
	assert.Equal(t, 5.0, d.Context.Ratio)
	assert.Equal(t, 0, d.Context.DaysFromEvent)
	assert.Equal(t, "split_artifact_0d", d.Reason)
}

func TestCheckHeavyRunnerOverride(t *testing.T) {
	f := &fakeSplits{events: []polygon.Split{
		{ExecutionDate: "2025-01-10", From: 10, To: 1, IsReverse: true, Ratio: 10},
	}}

	// both conditions met: the hit stands
	d := newGate(f).Check(context.Background(), "ABCD", "2025-01-10", 15_000_000, 80)
	require.True(t, d.NearSplit)
	assert.True(t, d.Override)
	assert.Equal(t, "heavy_runner_override_split_0d", d.Reason)
	assert.NotNil(t, d.Context)

	// dollar volume alone is not enough
	d = newGate(f).Check(context.Background(), "ABCD", "2025-01-10", 15_000_000, 20)
	assert.False(t, d.Override)

	// push alone is not enough
	d = newGate(f).Check(context.Background(), "ABCD", "2025-01-10", 2_000_000, 80)
	assert.False(t, d.Override)
}

func TestCheckLookupErrorDoesNotGate(t *testing.T) {
	f := &fakeSplits{err: errors.New("api down")}
	d := newGate(f).Check(context.Background(), "ABCD", "2025-01-10", 500_000, 12)
	assert.False(t, d.NearSplit, "a flaky splits API must not suppress hits")
}
