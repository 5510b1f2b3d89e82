package rpcpool

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qenus/internal/health"
	"qenus/internal/ratelimit"
)

func newTestPool(strategy SelectionStrategy, names ...string) *Pool {
	p := &Pool{
		chain:    "ethereum",
		strategy: strategy,
		limiter:  ratelimit.NewManager(),
		health:   health.NewTracker(),
		metrics:  newMetrics(),
	}
	for i, name := range names {
		p.limiter.AddProvider(name, 1000)
		p.health.Register(name)
		p.providers = append(p.providers, &providerEntry{cfg: ProviderConfig{Name: name, Weight: i + 1}})
	}
	return p
}

func TestSortByPriorityPrefersHealthyProvider(t *testing.T) {
	p := newTestPool(StrategyFastestFirst, "slow", "fast")
	p.health.Success("slow", 5000)
	p.health.Success("fast", 10)

	ordered := p.orderedProviders()
	require.Len(t, ordered, 2)
	assert.Equal(t, "fast", ordered[0].cfg.Name)
}

func TestSortByWeightOrdersHighestFirst(t *testing.T) {
	p := newTestPool(StrategyWeighted, "low", "high")
	p.providers[0].cfg.Weight = 1
	p.providers[1].cfg.Weight = 10

	ordered := p.orderedProviders()
	assert.Equal(t, "high", ordered[0].cfg.Name)
}

func TestRoundRobinRotatesOffset(t *testing.T) {
	p := newTestPool(StrategyRoundRobin, "a", "b", "c")

	first := p.orderedProviders()
	p.rrCounter++
	second := p.orderedProviders()

	assert.NotEqual(t, first[0].cfg.Name, second[0].cfg.Name)
}

func TestPrimaryFallbackKeepsConfiguredOrder(t *testing.T) {
	p := newTestPool(StrategyPrimaryFallback, "primary", "backup")
	ordered := p.orderedProviders()
	assert.Equal(t, "primary", ordered[0].cfg.Name)
	assert.Equal(t, "backup", ordered[1].cfg.Name)
}

func TestExecuteWithFailoverFallsBackOnError(t *testing.T) {
	p := newTestPool(StrategyPrimaryFallback, "bad", "good")

	calls := 0
	result, err := executeWithFailover(context.Background(), p, func(_ context.Context, _ *ethclient.Client) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("boom")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)

	h, _ := p.health.Get("bad")
	assert.Equal(t, 1, h.ConsecutiveFailures)
}

func TestExecuteWithFailoverReturnsErrorWhenAllFail(t *testing.T) {
	p := newTestPool(StrategyPrimaryFallback, "one", "two")

	_, err := executeWithFailover(context.Background(), p, func(_ context.Context, _ *ethclient.Client) (string, error) {
		return "", errors.New("boom")
	})
	assert.Error(t, err)
}

func TestExecuteWithFailoverHonorsRateLimit(t *testing.T) {
	p := newTestPool(StrategyPrimaryFallback, "limited")
	// Re-register at a rate too low to refill within the test, then drain
	// the single burst token it starts with.
	p.limiter.AddProvider("limited", 0.0001)
	p.limiter.TryAcquire("limited")

	_, err := executeWithFailover(context.Background(), p, func(_ context.Context, _ *ethclient.Client) (string, error) {
		return "ok", nil
	})
	assert.Error(t, err)
}
