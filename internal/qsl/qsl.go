// Package qsl implements the sample library cache controller: it decides
// which sample indices must be resident in the external
// Query Sample Library's RAM at any point in the run and drives that
// library's Load/Unload hooks accordingly.
package qsl

import (
	"context"
	"fmt"
	"sync"

	"github.com/mlbench/loadgen/internal/metrics"
	"github.com/mlbench/loadgen/internal/schedule"
	"github.com/mlbench/loadgen/internal/settings"
)

// SampleLibrary is the surface consumed from the external query sample
// library.
type SampleLibrary interface {
	TotalSampleCount() uint64
	PerformanceSampleCount() uint64
	LoadSamplesToRam(ctx context.Context, indices []uint64) error
	UnloadSamplesFromRam(ctx context.Context, indices []uint64) error
}

// Controller implements the window-rotation policy: the
// working set size equals performance_sample_count; for SingleStream and
// Offline it is fixed at run start (no rotation); for other scenarios it walks the
// schedule in order and rotates windows as the run advances.
type Controller struct {
	lib SampleLibrary
	es  *settings.EffectiveSettings
	gen *schedule.Generator

	mu         sync.Mutex
	currentSet map[uint64]struct{}
	singleShot bool // true once SingleStream's one-time load has happened
}

// New constructs a Controller. The controller reads gen only through
// QueryAt, which neither depends on nor moves the generator's sequential
// cursor, so it never mutates shared issue-engine state.
func New(lib SampleLibrary, es *settings.EffectiveSettings, gen *schedule.Generator) *Controller {
	return &Controller{
		lib:        lib,
		es:         es,
		gen:        gen,
		currentSet: make(map[uint64]struct{}),
	}
}

// lookaheadQueries bounds how many queries' worth of sample indices the
// initial load walk inspects before issuing the first LoadSamplesToRam
// call. For SingleStream and Offline the entire working set must be loaded
// up front (no rotation), so the walk there covers performance_sample_count
// samples directly rather than a fixed query lookahead.
const lookaheadQueries = 64

// Prime performs the initial load before the issue engine transitions
// INIT -> WARMUP. It computes the ordered union of sample
// indices referenced by the first window of queries and requests they be
// loaded.
func (c *Controller) Prime(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.es.Scenario {
	case settings.SingleStream, settings.Offline:
		// Fixed working set: everything in [0, performance_sample_count)
		// is loaded once and never rotated. Load order follows the seeded
		// library shuffle so runs with the same qsl_rng_seed warm the
		// library identically.
		indices := schedule.LibraryShuffle(c.es.QSLRngSeed, c.es.PerformanceSampleCount)
		if err := c.lib.LoadSamplesToRam(ctx, indices); err != nil {
			return fmt.Errorf("qsl: initial load failed: %w", err)
		}
		for _, idx := range indices {
			c.currentSet[idx] = struct{}{}
		}
		c.singleShot = true
		metrics.WorkingSetLoaded.Set(float64(len(c.currentSet)))
		return nil
	default:
		union := c.firstWindowUnion(lookaheadQueries)
		if err := c.lib.LoadSamplesToRam(ctx, union); err != nil {
			return fmt.Errorf("qsl: initial load failed: %w", err)
		}
		for _, idx := range union {
			c.currentSet[idx] = struct{}{}
		}
		metrics.WorkingSetLoaded.Set(float64(len(c.currentSet)))
		return nil
	}
}

// firstWindowUnion walks the first n scheduled queries (without disturbing
// the generator's own sequential cursor, via QueryAt) and returns the
// ordered union of sample indices they reference, capped at
// performance_sample_count entries.
func (c *Controller) firstWindowUnion(n int) []uint64 {
	seen := make(map[uint64]struct{})
	out := make([]uint64, 0, c.es.PerformanceSampleCount)
	for q := uint64(0); q < uint64(n) && uint64(len(out)) < c.es.PerformanceSampleCount; q++ {
		sq := c.gen.QueryAt(q)
		for _, s := range sq.Samples {
			if _, ok := seen[s.SampleIndex]; ok {
				continue
			}
			seen[s.SampleIndex] = struct{}{}
			out = append(out, s.SampleIndex)
			if uint64(len(out)) >= c.es.PerformanceSampleCount {
				break
			}
		}
	}
	return out
}

// Advance is called by the issue scheduler before issuing queryIndex. If
// any referenced sample index falls outside the currently loaded window,
// it rotates: the oldest window is unloaded and the next is loaded. At
// most one rotation is in flight at a time; Advance blocks the caller
// until the rotation (if any) completes.
func (c *Controller) Advance(ctx context.Context, queryIndex uint64) error {
	if c.singleShot {
		return nil // fixed working set, no rotation ever needed.
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sq := c.gen.QueryAt(queryIndex)
	var needed []uint64
	for _, s := range sq.Samples {
		if _, ok := c.currentSet[s.SampleIndex]; !ok {
			needed = append(needed, s.SampleIndex)
		}
	}
	if len(needed) == 0 {
		return nil
	}

	// Batch the rotation: unload everything not referenced by the upcoming
	// window, load everything newly needed.
	nextWindow := c.firstWindowUnionFrom(queryIndex, lookaheadQueries)
	nextSet := make(map[uint64]struct{}, len(nextWindow))
	for _, idx := range nextWindow {
		nextSet[idx] = struct{}{}
	}

	var toUnload, toLoad []uint64
	for idx := range c.currentSet {
		if _, keep := nextSet[idx]; !keep {
			toUnload = append(toUnload, idx)
		}
	}
	for _, idx := range nextWindow {
		if _, have := c.currentSet[idx]; !have {
			toLoad = append(toLoad, idx)
		}
	}

	if len(toUnload) > 0 {
		if err := c.lib.UnloadSamplesFromRam(ctx, toUnload); err != nil {
			return fmt.Errorf("qsl: unload failed: %w", err)
		}
		for _, idx := range toUnload {
			delete(c.currentSet, idx)
		}
	}
	if len(toLoad) > 0 {
		if err := c.lib.LoadSamplesToRam(ctx, toLoad); err != nil {
			return fmt.Errorf("qsl: load failed: %w", err)
		}
		for _, idx := range toLoad {
			c.currentSet[idx] = struct{}{}
		}
	}
	metrics.LibraryRotations.Inc()
	metrics.WorkingSetLoaded.Set(float64(len(c.currentSet)))
	return nil
}

func (c *Controller) firstWindowUnionFrom(start uint64, n int) []uint64 {
	seen := make(map[uint64]struct{})
	out := make([]uint64, 0, c.es.PerformanceSampleCount)
	for q := start; q < start+uint64(n) && uint64(len(out)) < c.es.PerformanceSampleCount; q++ {
		sq := c.gen.QueryAt(q)
		for _, s := range sq.Samples {
			if _, ok := seen[s.SampleIndex]; ok {
				continue
			}
			seen[s.SampleIndex] = struct{}{}
			out = append(out, s.SampleIndex)
		}
	}
	return out
}

// Teardown unloads everything currently resident, called at DONE.
func (c *Controller) Teardown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.currentSet) == 0 {
		return nil
	}
	indices := make([]uint64, 0, len(c.currentSet))
	for idx := range c.currentSet {
		indices = append(indices, idx)
	}
	if err := c.lib.UnloadSamplesFromRam(ctx, indices); err != nil {
		return fmt.Errorf("qsl: teardown unload failed: %w", err)
	}
	c.currentSet = make(map[uint64]struct{})
	metrics.WorkingSetLoaded.Set(0)
	return nil
}
