package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentStatusSeverityOrdering(t *testing.T) {
	assert.True(t, StatusHealthy < StatusStarting)
	assert.True(t, StatusStarting < StatusDegraded)
	assert.True(t, StatusDegraded < StatusStopping)
	assert.True(t, StatusStopping < StatusUnhealthy)
}

func TestRegistryEvaluateTakesMaxSeverity(t *testing.T) {
	r := NewRegistry()
	r.Register("rpc", func(ctx context.Context) ComponentReport {
		return ComponentReport{Status: StatusHealthy}
	})
	r.Register("cache", func(ctx context.Context) ComponentReport {
		return ComponentReport{Status: StatusDegraded}
	})

	report := r.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, report.OverallStatus)
	require.Len(t, report.Components, 2)
	assert.Equal(t, "cache", report.Components[0].Name)
	assert.Equal(t, "rpc", report.Components[1].Name)
}

func TestRegistryEvaluateAllHealthyIsHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func(ctx context.Context) ComponentReport { return ComponentReport{Status: StatusHealthy} })
	r.Register("b", func(ctx context.Context) ComponentReport { return ComponentReport{Status: StatusHealthy} })

	report := r.Evaluate(context.Background())
	assert.Equal(t, StatusHealthy, report.OverallStatus)
}

func TestRegistryLastReturnsMostRecentEvaluation(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func(ctx context.Context) ComponentReport { return ComponentReport{Status: StatusUnhealthy} })

	assert.Equal(t, AggregateReport{}, r.Last())
	r.Evaluate(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Last().OverallStatus)
}

func TestRegistryRunPeriodicStopsOnStop(t *testing.T) {
	r := NewRegistry()
	var calls int
	r.Register("a", func(ctx context.Context) ComponentReport {
		calls++
		return ComponentReport{Status: StatusHealthy}
	})

	done := make(chan struct{})
	go func() {
		r.RunPeriodic(context.Background(), 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodic did not stop")
	}
	assert.Greater(t, calls, 0)
}
