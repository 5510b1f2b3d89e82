package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qenus"
)

func intent(id string, expectedPnL float64) qenus.TradeIntent {
	return qenus.TradeIntent{
		IntentID:       id,
		ExpectedPnLUSD: expectedPnL,
		CreatedAt:      time.Now(),
	}
}

func TestProcessFeedbackUnknownIntentIsSoftFailure(t *testing.T) {
	p := New()
	err := p.ProcessFeedback(qenus.ExecutionReceipt{IntentID: "missing"})
	require.Error(t, err)
	assert.Equal(t, uint64(1), p.MissedFeedback())
	assert.Equal(t, qenus.ModelPerformance{}, p.Performance())
}

func TestProcessFeedbackUpdatesHitRateAndPnLError(t *testing.T) {
	p := New()
	p.RegisterIntent(intent("a", 100))
	p.RegisterIntent(intent("b", 100))

	require.NoError(t, p.ProcessFeedback(qenus.ExecutionReceipt{IntentID: "a", Success: true, ActualPnLUSD: 90}))
	require.NoError(t, p.ProcessFeedback(qenus.ExecutionReceipt{IntentID: "b", Success: false, ActualPnLUSD: -10}))

	perf := p.Performance()
	assert.Equal(t, uint64(2), perf.TotalIntents)
	assert.Equal(t, uint64(1), perf.Successful)
	assert.InDelta(t, 0.5, perf.HitRate, 1e-9)
	// intent a: 10% error, intent b: 110% error -> mean 60%
	assert.InDelta(t, 60, perf.AvgPnLErrorPct, 1e-9)
	assert.InDelta(t, hitRateWeight*0.5+pnlAccuracyWeight*0.4, perf.AccuracyScore, 1e-9)
}

func TestProcessFeedbackRemovesIntentFromOutstanding(t *testing.T) {
	p := New()
	p.RegisterIntent(intent("a", 50))
	assert.Equal(t, 1, p.Outstanding())

	require.NoError(t, p.ProcessFeedback(qenus.ExecutionReceipt{IntentID: "a", Success: true, ActualPnLUSD: 50}))
	assert.Equal(t, 0, p.Outstanding())

	err := p.ProcessFeedback(qenus.ExecutionReceipt{IntentID: "a", Success: true, ActualPnLUSD: 50})
	require.Error(t, err)
}

func TestHitRateMonotonicity(t *testing.T) {
	p := New()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		p.RegisterIntent(intent(id, 10))
		require.NoError(t, p.ProcessFeedback(qenus.ExecutionReceipt{IntentID: id, Success: i%2 == 0, ActualPnLUSD: 10}))
		perf := p.Performance()
		assert.GreaterOrEqual(t, perf.TotalIntents, perf.Successful)
		assert.GreaterOrEqual(t, perf.HitRate, 0.0)
		assert.LessOrEqual(t, perf.HitRate, 1.0)
	}
}
