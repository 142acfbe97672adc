// Package loadtest implements the FindPeakPerformance search: it runs the
// benchmark repeatedly at increasing target QPS until the scenario's
// service-level objective fails, then reports the highest sustained rate.
package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/mlbench/loadgen/pkg/logger"
)

// Config holds the sweep parameters.
type Config struct {
	// StartQPS is the first rate tried.
	StartQPS float64

	// MaxQPS caps the search; 0 means no cap.
	MaxQPS float64

	// GrowthFactor multiplies the rate after each passing step. Must be
	// > 1; a typical sweep uses 1.5 or 2.
	GrowthFactor float64

	// RefineSteps bisects between the last passing and first failing rate
	// this many times once the coarse sweep overshoots.
	RefineSteps int
}

// RunFunc executes one benchmark run at the given target QPS and reports
// its outcome. Each invocation is a full, independent run of the engine.
type RunFunc func(ctx context.Context, targetQPS float64) (StepOutcome, error)

// StepOutcome is the per-step result the search decides on.
type StepOutcome struct {
	Pass               bool
	AchievedQPS        float64
	TargetPercentileNs int64
}

// StepResult records one step of the sweep.
type StepResult struct {
	TargetQPS float64
	Outcome   StepOutcome
	Elapsed   time.Duration
}

// PeakResult is the search's conclusion.
type PeakResult struct {
	// PeakQPS is the highest target rate that passed.
	PeakQPS float64

	// PeakOutcome is the outcome of the run at PeakQPS.
	PeakOutcome StepOutcome

	// Steps is every step taken, in order.
	Steps []StepResult
}

// Tester drives the peak-performance search.
type Tester struct {
	config *Config
	logger logger.Logger
	run    RunFunc
}

// NewTester creates a Tester. run executes one benchmark run per step.
func NewTester(config *Config, run RunFunc, logger logger.Logger) (*Tester, error) {
	if config.StartQPS <= 0 {
		return nil, fmt.Errorf("start qps must be positive, got %v", config.StartQPS)
	}
	if config.GrowthFactor <= 1 {
		return nil, fmt.Errorf("growth factor must exceed 1, got %v", config.GrowthFactor)
	}
	return &Tester{config: config, logger: logger, run: run}, nil
}

// FindPeak executes the sweep: multiplicative growth until a step fails or
// MaxQPS is reached, then bisection between the last passing and first
// failing rates.
func (t *Tester) FindPeak(ctx context.Context) (*PeakResult, error) {
	result := &PeakResult{}

	var lastPass, firstFail float64
	qps := t.config.StartQPS

	for {
		step, err := t.step(ctx, qps, result)
		if err != nil {
			return nil, err
		}
		if !step.Outcome.Pass {
			firstFail = qps
			break
		}
		lastPass = qps
		result.PeakQPS = qps
		result.PeakOutcome = step.Outcome

		if t.config.MaxQPS > 0 && qps >= t.config.MaxQPS {
			t.logger.Info("peak search reached qps cap", "qps", qps)
			return result, nil
		}
		qps *= t.config.GrowthFactor
		if t.config.MaxQPS > 0 && qps > t.config.MaxQPS {
			qps = t.config.MaxQPS
		}
	}

	if lastPass == 0 {
		return result, fmt.Errorf("no passing rate found: failed at start qps %v", firstFail)
	}

	for i := 0; i < t.config.RefineSteps; i++ {
		mid := (lastPass + firstFail) / 2
		step, err := t.step(ctx, mid, result)
		if err != nil {
			return nil, err
		}
		if step.Outcome.Pass {
			lastPass = mid
			result.PeakQPS = mid
			result.PeakOutcome = step.Outcome
		} else {
			firstFail = mid
		}
	}

	t.logger.Info("peak search complete",
		"peak_qps", result.PeakQPS,
		"steps", len(result.Steps))
	return result, nil
}

func (t *Tester) step(ctx context.Context, qps float64, result *PeakResult) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	t.logger.Info("peak search step", "target_qps", qps)

	start := time.Now()
	outcome, err := t.run(ctx, qps)
	if err != nil {
		return StepResult{}, fmt.Errorf("run at qps %v: %w", qps, err)
	}
	step := StepResult{TargetQPS: qps, Outcome: outcome, Elapsed: time.Since(start)}
	result.Steps = append(result.Steps, step)

	t.logger.Info("peak search step done",
		"target_qps", qps,
		"pass", outcome.Pass,
		"achieved_qps", outcome.AchievedQPS,
		"elapsed", step.Elapsed)
	return step, nil
}
