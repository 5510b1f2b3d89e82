// Package market implements the in-memory, TTL-indexed market state of
// spec §4.J: the latest Feature of each kind keyed by (chain, venue,
// asset), queried with expired entries filtered out on every read and
// swept by a periodic background evictor.
package market

import (
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"qenus"
)

type ammKey struct {
	chain       qenus.Chain
	poolAddress string
}

type bridgeKey struct {
	src, dst qenus.Chain
	asset    string
}

type flashLoanKey struct {
	chain    qenus.Chain
	provider string
	asset    string
}

type timestamped[V any] struct {
	value     V
	timestamp time.Time
}

// State is the single shared market snapshot every detector and simulator
// reads from.
type State struct {
	ttl time.Duration

	mu         sync.RWMutex
	amm        map[ammKey]timestamped[qenus.AMMPayload]
	gas        map[qenus.Chain]timestamped[qenus.GasPayload]
	bridge     map[bridgeKey]timestamped[qenus.BridgePayload]
	flashloan  map[flashLoanKey]timestamped[qenus.FlashLoanPayload]
	sequencer  map[qenus.Chain]timestamped[bool]

	stop chan struct{}
}

// New creates a market state store with the given TTL and starts its
// background evictor on a cadence of ttl/2.
func New(ttl time.Duration) *State {
	s := &State{
		ttl:       ttl,
		amm:       make(map[ammKey]timestamped[qenus.AMMPayload]),
		gas:       make(map[qenus.Chain]timestamped[qenus.GasPayload]),
		bridge:    make(map[bridgeKey]timestamped[qenus.BridgePayload]),
		flashloan: make(map[flashLoanKey]timestamped[qenus.FlashLoanPayload]),
		sequencer: make(map[qenus.Chain]timestamped[bool]),
		stop:      make(chan struct{}),
	}
	go s.runEvictor()
	return s
}

func (s *State) runEvictor() {
	interval := s.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

// Stop halts the background evictor.
func (s *State) Stop() { close(s.stop) }

func (s *State) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()

	for k, v := range s.amm {
		if now.Sub(v.timestamp) > s.ttl {
			delete(s.amm, k)
		}
	}
	for k, v := range s.gas {
		if now.Sub(v.timestamp) > s.ttl {
			delete(s.gas, k)
		}
	}
	for k, v := range s.bridge {
		if now.Sub(v.timestamp) > s.ttl {
			delete(s.bridge, k)
		}
	}
	for k, v := range s.flashloan {
		if now.Sub(v.timestamp) > s.ttl {
			delete(s.flashloan, k)
		}
	}
	for k, v := range s.sequencer {
		if now.Sub(v.timestamp) > s.ttl {
			delete(s.sequencer, k)
		}
	}
}

// Apply dispatches a Feature into the appropriate sub-map by its Kind,
// keyed off f.Timestamp rather than ingestion wall-clock time. The newest
// feature for a given key wins by timestamp: a feature that arrives out of
// order but carries a strictly older timestamp than what is already stored
// is dropped instead of clobbering the newer entry; equal timestamps fall
// back to last-write-wins.
func (s *State) Apply(f qenus.Feature) {
	switch f.Kind {
	case qenus.FeatureAMM:
		payload, ok := f.Payload.(*qenus.AMMPayload)
		if !ok {
			return
		}
		key := ammKey{chain: f.Chain, poolAddress: payload.PoolAddress}
		s.mu.Lock()
		if existing, ok := s.amm[key]; !ok || !f.Timestamp.Before(existing.timestamp) {
			s.amm[key] = timestamped[qenus.AMMPayload]{value: *payload, timestamp: f.Timestamp}
		}
		s.mu.Unlock()
	case qenus.FeatureGas:
		payload, ok := f.Payload.(*qenus.GasPayload)
		if !ok {
			return
		}
		s.mu.Lock()
		if existing, ok := s.gas[f.Chain]; !ok || !f.Timestamp.Before(existing.timestamp) {
			s.gas[f.Chain] = timestamped[qenus.GasPayload]{value: *payload, timestamp: f.Timestamp}
		}
		s.mu.Unlock()
	case qenus.FeatureBridge:
		payload, ok := f.Payload.(*qenus.BridgePayload)
		if !ok {
			return
		}
		key := bridgeKey{src: payload.SrcChain, dst: payload.DstChain, asset: payload.Asset}
		s.mu.Lock()
		if existing, ok := s.bridge[key]; !ok || !f.Timestamp.Before(existing.timestamp) {
			s.bridge[key] = timestamped[qenus.BridgePayload]{value: *payload, timestamp: f.Timestamp}
		}
		s.mu.Unlock()
	case qenus.FeatureFlashLoan:
		payload, ok := f.Payload.(*qenus.FlashLoanPayload)
		if !ok {
			return
		}
		key := flashLoanKey{chain: f.Chain, provider: payload.Provider, asset: payload.Asset}
		s.mu.Lock()
		if existing, ok := s.flashloan[key]; !ok || !f.Timestamp.Before(existing.timestamp) {
			s.flashloan[key] = timestamped[qenus.FlashLoanPayload]{value: *payload, timestamp: f.Timestamp}
		}
		s.mu.Unlock()
	case qenus.FeatureSequencerHealth:
		healthy, _ := f.Payload.(bool)
		s.mu.Lock()
		if existing, ok := s.sequencer[f.Chain]; !ok || !f.Timestamp.Before(existing.timestamp) {
			s.sequencer[f.Chain] = timestamped[bool]{value: healthy, timestamp: f.Timestamp}
		}
		s.mu.Unlock()
	}
}

func (s *State) fresh(timestamp time.Time) bool {
	return time.Since(timestamp) <= s.ttl
}

// ammKeys returns every key of s.amm in a deterministic order (by pool
// address, then chain), so callers iterating "the first match" get a
// stable answer across calls instead of Go's randomized map order.
func (s *State) ammKeys() []ammKey {
	keys := maps.Keys(s.amm)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].poolAddress != keys[j].poolAddress {
			return keys[i].poolAddress < keys[j].poolAddress
		}
		return keys[i].chain < keys[j].chain
	})
	return keys
}

// AMMPools returns every unexpired AMM feature observed on chain, in
// deterministic pool-address order.
func (s *State) AMMPools(chain qenus.Chain) []qenus.AMMPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []qenus.AMMPayload
	for _, k := range s.ammKeys() {
		v := s.amm[k]
		if k.chain == chain && s.fresh(v.timestamp) {
			out = append(out, v.value)
		}
	}
	return out
}

// Price scans chain's AMM pools, in deterministic pool-address order, for
// any involving symbol and returns the mid-price of the first unexpired
// match, per the get_price operation in §4.J.
func (s *State) Price(chain qenus.Chain, symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range s.ammKeys() {
		v := s.amm[k]
		if k.chain != chain || !s.fresh(v.timestamp) {
			continue
		}
		if strings.EqualFold(v.value.Token0Symbol, symbol) || strings.EqualFold(v.value.Token1Symbol, symbol) {
			return v.value.MidPrice, true
		}
	}
	return 0, false
}

// Gas returns chain's current unexpired gas feature.
func (s *State) Gas(chain qenus.Chain) (qenus.GasPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.gas[chain]
	if !ok || !s.fresh(v.timestamp) {
		return qenus.GasPayload{}, false
	}
	return v.value, true
}

// Bridge returns the unexpired bridge feature for (src, dst, asset).
func (s *State) Bridge(src, dst qenus.Chain, asset string) (qenus.BridgePayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.bridge[bridgeKey{src: src, dst: dst, asset: asset}]
	if !ok || !s.fresh(v.timestamp) {
		return qenus.BridgePayload{}, false
	}
	return v.value, true
}

// FlashLoan returns the unexpired flash-loan feature for (chain, provider,
// asset).
func (s *State) FlashLoan(chain qenus.Chain, provider, asset string) (qenus.FlashLoanPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.flashloan[flashLoanKey{chain: chain, provider: provider, asset: asset}]
	if !ok || !s.fresh(v.timestamp) {
		return qenus.FlashLoanPayload{}, false
	}
	return v.value, true
}

// SequencerHealthy reports whether chain's L2 sequencer was last observed
// healthy within the TTL window. Unknown or stale status is treated as
// unhealthy: a detector should never trade against a sequencer it cannot
// currently vouch for.
func (s *State) SequencerHealthy(chain qenus.Chain) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sequencer[chain]
	if !ok || !s.fresh(v.timestamp) {
		return false
	}
	return v.value
}

// Snapshot captures gas and sequencer state across every known chain, for
// embedding in a TradeIntent's metadata.
func (s *State) Snapshot() qenus.MarketSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gasByChain := make(map[qenus.Chain]qenus.GasPayload, len(s.gas))
	for chain, v := range s.gas {
		if s.fresh(v.timestamp) {
			gasByChain[chain] = v.value
		}
	}
	sequencerByChain := make(map[qenus.Chain]bool, len(s.sequencer))
	for chain, v := range s.sequencer {
		if s.fresh(v.timestamp) {
			sequencerByChain[chain] = v.value
		}
	}

	return qenus.MarketSnapshot{
		GasByChain:       gasByChain,
		SequencerByChain: sequencerByChain,
	}
}
