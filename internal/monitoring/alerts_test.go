package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertEngineFiresImmediatelyWithZeroForDuration(t *testing.T) {
	engine := NewAlertEngine([]AlertRule{
		{MetricName: "gas_gwei", Threshold: 200, Comparator: ComparatorGT, Severity: SeverityWarning, Description: "gas spike"},
	})

	transitions := engine.EvaluateMetric("gas_gwei", 250, time.Now())
	require.Len(t, transitions, 1)
	assert.Equal(t, AlertFiring, transitions[0].State)
}

func TestAlertEnginePendingThenFiringAfterForDuration(t *testing.T) {
	engine := NewAlertEngine([]AlertRule{
		{MetricName: "error_rate", Threshold: 0.1, Comparator: ComparatorGT, Severity: SeverityCritical, ForDuration: 10 * time.Millisecond},
	})

	start := time.Now()
	transitions := engine.EvaluateMetric("error_rate", 0.5, start)
	assert.Empty(t, transitions, "should start pending, not firing")
	require.Len(t, engine.Active(), 1)
	assert.Equal(t, AlertPending, engine.Active()[0].State)

	transitions = engine.EvaluateMetric("error_rate", 0.5, start.Add(20*time.Millisecond))
	require.Len(t, transitions, 1)
	assert.Equal(t, AlertFiring, transitions[0].State)
}

func TestAlertEngineResolvesWhenNoLongerBreaching(t *testing.T) {
	engine := NewAlertEngine([]AlertRule{
		{MetricName: "gas_gwei", Threshold: 200, Comparator: ComparatorGT, Severity: SeverityWarning},
	})

	engine.EvaluateMetric("gas_gwei", 250, time.Now())
	require.Len(t, engine.Active(), 1)

	transitions := engine.EvaluateMetric("gas_gwei", 50, time.Now())
	require.Len(t, transitions, 1)
	assert.Equal(t, AlertResolved, transitions[0].State)
	assert.Empty(t, engine.Active())
}

func TestAlertEngineHealthMapsUnhealthyToCriticalAndHealthyResolves(t *testing.T) {
	engine := NewAlertEngine(nil)

	transitions := engine.EvaluateHealth(AggregateReport{OverallStatus: StatusUnhealthy, EvaluatedAt: time.Now()})
	require.Len(t, transitions, 1)
	assert.Equal(t, SeverityCritical, transitions[0].Rule.Severity)

	transitions = engine.EvaluateHealth(AggregateReport{OverallStatus: StatusHealthy, EvaluatedAt: time.Now()})
	require.Len(t, transitions, 1)
	assert.Equal(t, AlertResolved, transitions[0].State)
}

func TestAlertEngineHealthyClearsOpenHealthAlertWithNoNewAlert(t *testing.T) {
	engine := NewAlertEngine(nil)
	engine.EvaluateHealth(AggregateReport{OverallStatus: StatusDegraded, EvaluatedAt: time.Now()})
	require.Len(t, engine.Active(), 1)

	engine.EvaluateHealth(AggregateReport{OverallStatus: StatusHealthy, EvaluatedAt: time.Now()})
	assert.Empty(t, engine.Active())
}

func TestComparatorEvaluate(t *testing.T) {
	assert.True(t, ComparatorGT.evaluate(5, 1))
	assert.True(t, ComparatorGE.evaluate(5, 5))
	assert.True(t, ComparatorLT.evaluate(1, 5))
	assert.True(t, ComparatorLE.evaluate(5, 5))
	assert.True(t, ComparatorEQ.evaluate(5, 5))
	assert.True(t, ComparatorNE.evaluate(5, 1))
}
