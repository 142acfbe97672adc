package loadtest

import (
	"context"
	"testing"

	"github.com/mlbench/loadgen/pkg/logger"
)

// fakeRun passes any rate at or below capacity.
func fakeRun(capacity float64) RunFunc {
	return func(_ context.Context, qps float64) (StepOutcome, error) {
		return StepOutcome{
			Pass:        qps <= capacity,
			AchievedQPS: qps,
		}, nil
	}
}

func TestFindPeakConvergesBelowCapacity(t *testing.T) {
	log := logger.New("error")
	tester, err := NewTester(&Config{
		StartQPS:     100,
		GrowthFactor: 2,
		RefineSteps:  6,
	}, fakeRun(1700), log)
	if err != nil {
		t.Fatalf("NewTester: %v", err)
	}

	result, err := tester.FindPeak(context.Background())
	if err != nil {
		t.Fatalf("FindPeak: %v", err)
	}

	if result.PeakQPS > 1700 {
		t.Fatalf("peak %v exceeds capacity 1700", result.PeakQPS)
	}
	// Coarse sweep passes at 1600, fails at 3200; six bisections should
	// land within 25 qps of the true capacity.
	if result.PeakQPS < 1675 {
		t.Fatalf("peak %v did not converge near capacity 1700", result.PeakQPS)
	}
	if len(result.Steps) == 0 {
		t.Fatal("expected steps to be recorded")
	}
}

func TestFindPeakRespectsCap(t *testing.T) {
	log := logger.New("error")
	tester, err := NewTester(&Config{
		StartQPS:     100,
		MaxQPS:       400,
		GrowthFactor: 2,
	}, fakeRun(10_000), log)
	if err != nil {
		t.Fatalf("NewTester: %v", err)
	}

	result, err := tester.FindPeak(context.Background())
	if err != nil {
		t.Fatalf("FindPeak: %v", err)
	}
	if result.PeakQPS != 400 {
		t.Fatalf("expected peak clamped to 400, got %v", result.PeakQPS)
	}
}

func TestFindPeakFailsWhenStartRateUnsustainable(t *testing.T) {
	log := logger.New("error")
	tester, err := NewTester(&Config{
		StartQPS:     100,
		GrowthFactor: 2,
	}, fakeRun(50), log)
	if err != nil {
		t.Fatalf("NewTester: %v", err)
	}

	if _, err := tester.FindPeak(context.Background()); err == nil {
		t.Fatal("expected error when the start rate already fails")
	}
}

func TestNewTesterRejectsBadConfig(t *testing.T) {
	log := logger.New("error")
	if _, err := NewTester(&Config{StartQPS: 0, GrowthFactor: 2}, fakeRun(1), log); err == nil {
		t.Fatal("expected error for zero start qps")
	}
	if _, err := NewTester(&Config{StartQPS: 1, GrowthFactor: 1}, fakeRun(1), log); err == nil {
		t.Fatal("expected error for growth factor <= 1")
	}
}
