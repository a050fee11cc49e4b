package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientManagerClientIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr := NewClientManager()
	t.Cleanup(func() { _ = mgr.Close() })

	dials := 0
	dial := func() *redis.Client {
		dials++
		return redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}

	first := mgr.Client("redis", dial)
	second := mgr.Client("redis", dial)

	assert.Same(t, first, second)
	assert.Equal(t, 1, dials)
}

func TestClientManagerRevivesUnknownName(t *testing.T) {
	mgr := NewClientManager()
	err := mgr.Revive(context.Background(), "nope")
	require.Error(t, err)
}

func TestClientManagerConcurrentReviveSharesOneProbe(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr := NewClientManager()
	t.Cleanup(func() { _ = mgr.Close() })

	mgr.Client("redis", func() *redis.Client {
		return redis.NewClient(&redis.Options{Addr: mr.Addr()})
	})

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = mgr.Revive(context.Background(), "redis")
		}()
	}
	close(start)
	wg.Wait()

	// Deduplication cannot be byte-exact under scheduling jitter, but 16
	// simultaneous callers must collapse to far fewer probes.
	assert.LessOrEqual(t, mgr.probes.Load(), int64(4))
	assert.GreaterOrEqual(t, mgr.probes.Load(), int64(1))
}

func TestClientManagerBackoffSuppressesProbes(t *testing.T) {
	// Unreachable address: probes fail and arm the backoff window.
	mgr := NewClientManager()
	t.Cleanup(func() { _ = mgr.Close() })

	mgr.Client("redis", func() *redis.Client {
		return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	})

	err := mgr.Revive(context.Background(), "redis")
	require.Error(t, err)
	probesAfterFailure := mgr.probes.Load()

	// Inside the window the call returns immediately without probing.
	require.NoError(t, mgr.Revive(context.Background(), "redis"))
	assert.Equal(t, probesAfterFailure, mgr.probes.Load())
}

func TestClientManagerCloseClientAllowsRedial(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr := NewClientManager()
	t.Cleanup(func() { _ = mgr.Close() })

	dials := 0
	dial := func() *redis.Client {
		dials++
		return redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}

	_ = mgr.Client("redis", dial)
	require.NoError(t, mgr.CloseClient("redis"))
	require.NoError(t, mgr.CloseClient("redis")) // idempotent

	_ = mgr.Client("redis", dial)
	assert.Equal(t, 2, dials)
}
