// Package rpcpool implements the multi-provider RPC client of spec §4.C: a
// per-chain pool of JSON-RPC providers with rate limiting, health-aware
// failover and pluggable selection policies, grounded on the teacher's
// pkg/contractclient (ethclient.Client as the transport) generalized from a
// single contract connection to a provider pool.
package rpcpool

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"qenus/internal/health"
	"qenus/internal/ratelimit"
)

// SelectionStrategy chooses which provider services the next request.
type SelectionStrategy string

const (
	StrategyFastestFirst    SelectionStrategy = "fastest_first"
	StrategyRoundRobin      SelectionStrategy = "round_robin"
	StrategyWeighted        SelectionStrategy = "weighted"
	StrategyPrimaryFallback SelectionStrategy = "primary_fallback"
)

// ProviderConfig describes one RPC endpoint backing a chain's pool.
type ProviderConfig struct {
	Name           string
	HTTPURL        string
	WSURL          string
	RateLimitRPS   float64
	TimeoutSeconds int
	Weight         int
	Enabled        bool
}

// Metrics is the pool's running performance scorecard, mirroring the
// teacher's approach of a single mutex-guarded aggregate updated from every
// request path.
type Metrics struct {
	mu                sync.Mutex
	TotalRequests     uint64
	SuccessfulRequests uint64
	FailedRequests    uint64
	AvgResponseTimeMS float64
	LastRequest       time.Time
	ProviderUsage     map[string]uint64
}

func newMetrics() *Metrics {
	return &Metrics{ProviderUsage: make(map[string]uint64)}
}

const metricsEWMAAlpha = 0.1

func (m *Metrics) recordSuccess(provider string, responseTimeMS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
	m.SuccessfulRequests++
	m.LastRequest = time.Now()
	if m.AvgResponseTimeMS == 0 {
		m.AvgResponseTimeMS = responseTimeMS
	} else {
		m.AvgResponseTimeMS = metricsEWMAAlpha*responseTimeMS + (1-metricsEWMAAlpha)*m.AvgResponseTimeMS
	}
	m.ProviderUsage[provider]++
}

func (m *Metrics) recordFailure(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
	m.FailedRequests++
	m.LastRequest = time.Now()
	m.ProviderUsage[provider]++
}

// Snapshot returns a copy of the metrics safe to read without holding the
// pool's lock.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	usage := make(map[string]uint64, len(m.ProviderUsage))
	for k, v := range m.ProviderUsage {
		usage[k] = v
	}
	return Metrics{
		TotalRequests:      m.TotalRequests,
		SuccessfulRequests: m.SuccessfulRequests,
		FailedRequests:     m.FailedRequests,
		AvgResponseTimeMS:  m.AvgResponseTimeMS,
		LastRequest:        m.LastRequest,
		ProviderUsage:      usage,
	}
}

type providerEntry struct {
	cfg    ProviderConfig
	client *ethclient.Client
}

// Pool is a single chain's multi-provider RPC client.
type Pool struct {
	chain    string
	strategy SelectionStrategy

	mu        sync.RWMutex
	providers []*providerEntry

	limiter *ratelimit.Manager
	health  *health.Tracker
	metrics *Metrics

	rrCounter uint64
}

// Dial connects to every enabled provider's HTTP endpoint and returns a
// ready pool. A provider that fails to dial is skipped with its failure
// recorded in health, not treated as fatal: the pool degrades gracefully
// rather than refusing to start.
func Dial(ctx context.Context, chain string, configs []ProviderConfig, strategy SelectionStrategy) (*Pool, error) {
	p := &Pool{
		chain:    chain,
		strategy: strategy,
		limiter:  ratelimit.NewManager(),
		health:   health.NewTracker(),
		metrics:  newMetrics(),
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		p.limiter.AddProvider(cfg.Name, cfg.RateLimitRPS)
		p.health.Register(cfg.Name)

		dialCtx := ctx
		var cancel context.CancelFunc
		if cfg.TimeoutSeconds > 0 {
			dialCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		}
		c, err := ethclient.DialContext(dialCtx, cfg.HTTPURL)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			p.health.Failure(cfg.Name, err)
			continue
		}
		p.providers = append(p.providers, &providerEntry{cfg: cfg, client: c})
	}

	if len(p.providers) == 0 {
		return nil, fmt.Errorf("rpcpool: %s: no providers could be dialed", chain)
	}
	return p, nil
}

// Metrics returns a snapshot of the pool's request metrics.
func (p *Pool) Metrics() Metrics {
	return p.metrics.Snapshot()
}

// Health returns a snapshot of every provider's health.
func (p *Pool) Health() map[string]health.Health {
	return p.health.All()
}

// orderedProviders returns the candidate order for the next request
// according to the pool's selection strategy.
func (p *Pool) orderedProviders() []*providerEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	candidates := make([]*providerEntry, len(p.providers))
	copy(candidates, p.providers)

	switch p.strategy {
	case StrategyFastestFirst:
		sortByPriority(candidates, p.health)
	case StrategyWeighted:
		sortByWeight(candidates)
	case StrategyRoundRobin:
		if len(candidates) > 0 {
			offset := int(p.rrCounter % uint64(len(candidates)))
			candidates = append(candidates[offset:], candidates[:offset]...)
		}
	case StrategyPrimaryFallback:
		// providers is already ordered primary-first by configuration order.
	}
	return candidates
}

func sortByPriority(entries []*providerEntry, tracker *health.Tracker) {
	scores := make(map[string]float64, len(entries))
	for _, e := range entries {
		if h, ok := tracker.Get(e.cfg.Name); ok {
			scores[e.cfg.Name] = h.PriorityScore()
		}
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && scores[entries[j].cfg.Name] > scores[entries[j-1].cfg.Name]; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func sortByWeight(entries []*providerEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].cfg.Weight > entries[j-1].cfg.Weight; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// executeWithFailover tries op against providers in selection order,
// skipping any whose rate limit is currently exhausted, stopping at the
// first success. It is a free function rather than a method because Go
// methods cannot carry their own type parameters.
func executeWithFailover[T any](ctx context.Context, p *Pool, op func(context.Context, *ethclient.Client) (T, error)) (T, error) {
	var zero T

	p.mu.Lock()
	p.rrCounter++
	p.mu.Unlock()

	candidates := p.orderedProviders()
	if len(candidates) == 0 {
		return zero, fmt.Errorf("rpcpool: %s: no providers configured", p.chain)
	}

	var lastErr error
	for _, entry := range candidates {
		if !p.limiter.TryAcquire(entry.cfg.Name) {
			continue
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if entry.cfg.TimeoutSeconds > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(entry.cfg.TimeoutSeconds)*time.Second)
		}

		start := time.Now()
		result, err := op(callCtx, entry.client)
		elapsedMS := float64(time.Since(start).Microseconds()) / 1000.0
		if cancel != nil {
			cancel()
		}

		if err != nil {
			lastErr = err
			p.health.Failure(entry.cfg.Name, err)
			p.metrics.recordFailure(entry.cfg.Name)
			continue
		}

		p.health.Success(entry.cfg.Name, elapsedMS)
		p.metrics.recordSuccess(entry.cfg.Name, elapsedMS)
		return result, nil
	}

	if lastErr != nil {
		return zero, fmt.Errorf("rpcpool: %s: all providers failed: %w", p.chain, lastErr)
	}
	return zero, fmt.Errorf("rpcpool: %s: all providers rate-limited", p.chain)
}

// BlockNumber returns the most recent block number, per spec §4.C's
// get_block_number operation.
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	return executeWithFailover(ctx, p, func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.BlockNumber(ctx)
	})
}

// BlockByNumber returns the full block at number, or the latest block if
// number is nil, per get_block.
func (p *Pool) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return executeWithFailover(ctx, p, func(ctx context.Context, c *ethclient.Client) (*types.Block, error) {
		return c.BlockByNumber(ctx, number)
	})
}

// TransactionByHash returns the transaction identified by hash, per
// get_transaction.
func (p *Pool) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	type result struct {
		tx      *types.Transaction
		pending bool
	}
	r, err := executeWithFailover(ctx, p, func(ctx context.Context, c *ethclient.Client) (result, error) {
		tx, pending, err := c.TransactionByHash(ctx, hash)
		return result{tx: tx, pending: pending}, err
	})
	return r.tx, r.pending, err
}

// FilterLogs returns logs matching query, per get_logs.
func (p *Pool) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return executeWithFailover(ctx, p, func(ctx context.Context, c *ethclient.Client) ([]types.Log, error) {
		return c.FilterLogs(ctx, query)
	})
}

// CallContract executes msg as an eth_call against blockNumber (nil for
// latest), per call.
func (p *Pool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return executeWithFailover(ctx, p, func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.CallContract(ctx, msg, blockNumber)
	})
}

// SuggestGasPrice returns a legacy gas price suggestion, per get_gas_price.
func (p *Pool) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return executeWithFailover(ctx, p, func(ctx context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.SuggestGasPrice(ctx)
	})
}

// SuggestGasTipCap returns an EIP-1559 priority fee suggestion.
func (p *Pool) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return executeWithFailover(ctx, p, func(ctx context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.SuggestGasTipCap(ctx)
	})
}

// Close releases every provider's underlying connection.
func (p *Pool) Close() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, entry := range p.providers {
		entry.client.Close()
	}
}
