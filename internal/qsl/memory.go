package qsl

import (
	"context"
	"sync"
)

// InProcessLibrary is the default, in-process SampleLibrary used when no
// external query sample library is wired in. Real deployments supply their
// own implementation; this one just tracks residency.
type InProcessLibrary struct {
	total       uint64
	performance uint64

	mu     sync.Mutex
	loaded map[uint64]struct{}
}

// NewInProcessLibrary constructs a library with totalSampleCount samples on
// disk/in dataset and performanceSampleCount of them eligible to be loaded
// into the working set at once.
func NewInProcessLibrary(totalSampleCount, performanceSampleCount uint64) *InProcessLibrary {
	return &InProcessLibrary{
		total:       totalSampleCount,
		performance: performanceSampleCount,
		loaded:      make(map[uint64]struct{}),
	}
}

func (l *InProcessLibrary) TotalSampleCount() uint64       { return l.total }
func (l *InProcessLibrary) PerformanceSampleCount() uint64 { return l.performance }

func (l *InProcessLibrary) LoadSamplesToRam(_ context.Context, indices []uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, idx := range indices {
		l.loaded[idx] = struct{}{}
	}
	return nil
}

func (l *InProcessLibrary) UnloadSamplesFromRam(_ context.Context, indices []uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, idx := range indices {
		delete(l.loaded, idx)
	}
	return nil
}

// Loaded reports whether idx is currently resident, for tests.
func (l *InProcessLibrary) Loaded(idx uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[idx]
	return ok
}

// LoadedCount reports how many samples are currently resident, for tests.
func (l *InProcessLibrary) LoadedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loaded)
}
