package qsl

import (
	"context"
	"testing"

	"github.com/mlbench/loadgen/internal/schedule"
	"github.com/mlbench/loadgen/internal/settings"
	"github.com/stretchr/testify/require"
)

func TestSingleStreamFixedWorkingSet(t *testing.T) {
	es := &settings.EffectiveSettings{
		Scenario:               settings.SingleStream,
		SamplesPerQuery:        1,
		PerformanceSampleCount: 128,
		SampleIndexRngSeed:     1,
	}
	lib := NewInProcessLibrary(128, 128)
	gen := schedule.New(es)
	c := New(lib, es, gen)

	require.NoError(t, c.Prime(context.Background()))
	require.Equal(t, 128, lib.LoadedCount())

	// Advance should be a no-op for SingleStream: no rotation ever occurs.
	require.NoError(t, c.Advance(context.Background(), 1000))
	require.Equal(t, 128, lib.LoadedCount())
}

func TestOfflinePrimeStaysWithinWorkingSetSize(t *testing.T) {
	es := &settings.EffectiveSettings{
		Scenario:               settings.Offline,
		SamplesPerQuery:        1,
		PerformanceSampleCount: 16,
		SampleIndexRngSeed:     1,
		PerformanceIssueUnique: true,
	}
	lib := NewInProcessLibrary(16, 16)
	gen := schedule.New(es)
	c := New(lib, es, gen)

	require.NoError(t, c.Prime(context.Background()))
	require.LessOrEqual(t, lib.LoadedCount(), 16)
}

func TestTeardownUnloadsEverything(t *testing.T) {
	es := &settings.EffectiveSettings{
		Scenario:               settings.SingleStream,
		SamplesPerQuery:        1,
		PerformanceSampleCount: 32,
	}
	lib := NewInProcessLibrary(32, 32)
	gen := schedule.New(es)
	c := New(lib, es, gen)

	require.NoError(t, c.Prime(context.Background()))
	require.NoError(t, c.Teardown(context.Background()))
	require.Equal(t, 0, lib.LoadedCount())
}
