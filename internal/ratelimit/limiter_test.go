package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireRespectsCapacity(t *testing.T) {
	l := New(10)

	acquired := 0
	for i := 0; i < 20; i++ {
		if l.TryAcquire() {
			acquired++
		}
	}

	// after k successful TryAcquire calls in window w, k <= ceil(capacity +
	// w*rate). The burst immediately available is the capacity itself.
	assert.LessOrEqual(t, acquired, 10)
	assert.GreaterOrEqual(t, acquired, 1)
}

func TestTryAcquireRefillsOverTime(t *testing.T) {
	l := New(5)
	for i := 0; i < 5; i++ {
		require.True(t, l.TryAcquire())
	}
	require.False(t, l.TryAcquire())

	time.Sleep(300 * time.Millisecond)
	assert.True(t, l.TryAcquire())
}

func TestAcquireBlocksUntilAvailable(t *testing.T) {
	l := New(2)
	require.True(t, l.TryAcquire())
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	assert.Greater(t, time.Since(start), time.Duration(0))
}

func TestManagerPerProviderIsolation(t *testing.T) {
	m := NewManager()
	m.AddProvider("alchemy", 300)
	m.AddProvider("infura", 100)

	assert.True(t, m.TryAcquire("alchemy"))
	assert.True(t, m.TryAcquire("infura"))
	assert.False(t, m.TryAcquire("unknown-provider"))

	util := m.AllUtilization()
	assert.Contains(t, util, "alchemy")
	assert.Contains(t, util, "infura")
}

func TestManagerAcquireUnknownProviderErrors(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Acquire(ctx, "ghost")
	require.Error(t, err)
}
