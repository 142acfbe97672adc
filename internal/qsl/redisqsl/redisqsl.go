// Package redisqsl decorates a qsl.SampleLibrary so a fleet of coordinator
// processes benchmarking the same SUT from multiple hosts can observe
// (read-only) each other's load/unload decisions. It is additive: the core's
// default SampleLibrary remains in-process; this is opt-in via config.
package redisqsl

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mlbench/loadgen/internal/qsl"
	"github.com/mlbench/loadgen/pkg/logger"
)

// Decorator wraps a qsl.SampleLibrary, mirroring every load/unload decision
// into a Redis set keyed by runID so peers can watch the working-set window
// without affecting the authoritative in-process state.
type Decorator struct {
	inner  qsl.SampleLibrary
	client *redis.Client
	log    logger.Logger
	runID  string
}

// New constructs a Decorator. addr is the first node of RedisConfig.Nodes;
// coordinator fleets are small enough that a single-node client suffices.
func New(inner qsl.SampleLibrary, addr string, db int, runID string, log logger.Logger) (*Decorator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisqsl: connect: %w", err)
	}

	return &Decorator{inner: inner, client: client, log: log, runID: runID}, nil
}

func (d *Decorator) key() string { return "loadgen:qsl:" + d.runID + ":working_set" }

func (d *Decorator) TotalSampleCount() uint64       { return d.inner.TotalSampleCount() }
func (d *Decorator) PerformanceSampleCount() uint64 { return d.inner.PerformanceSampleCount() }

func (d *Decorator) LoadSamplesToRam(ctx context.Context, indices []uint64) error {
	if err := d.inner.LoadSamplesToRam(ctx, indices); err != nil {
		return err
	}
	if len(indices) == 0 {
		return nil
	}
	members := make([]interface{}, len(indices))
	for i, idx := range indices {
		members[i] = strconv.FormatUint(idx, 10)
	}
	if err := d.client.SAdd(ctx, d.key(), members...).Err(); err != nil {
		d.log.Warn("redisqsl: failed to mirror load", "error", err)
	}
	return nil
}

func (d *Decorator) UnloadSamplesFromRam(ctx context.Context, indices []uint64) error {
	if err := d.inner.UnloadSamplesFromRam(ctx, indices); err != nil {
		return err
	}
	if len(indices) == 0 {
		return nil
	}
	members := make([]interface{}, len(indices))
	for i, idx := range indices {
		members[i] = strconv.FormatUint(idx, 10)
	}
	if err := d.client.SRem(ctx, d.key(), members...).Err(); err != nil {
		d.log.Warn("redisqsl: failed to mirror unload", "error", err)
	}
	return nil
}

// WorkingSet returns the currently-advertised window for runID, for peer
// coordinators to observe.
func (d *Decorator) WorkingSet(ctx context.Context) ([]string, error) {
	return d.client.SMembers(ctx, d.key()).Result()
}

// Close releases the Redis client.
func (d *Decorator) Close() error { return d.client.Close() }
