package symbolcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketwatch/scanscheduler/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func testKey() Key {
	return Key{Instrument: "NSE:RELIANCE", Interval: models.Interval1Day}
}

func TestGetOrFetch_SingleFlight(t *testing.T) {
	clock := newTestClock()
	c := New(clock)

	var calls int64
	release := make(chan struct{})
	fetch := func(ctx context.Context, key Key) (models.SymbolData, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return models.SymbolData{Instrument: key.Instrument, Interval: key.Interval}, nil
	}

	var wg sync.WaitGroup
	results := make([]models.SymbolData, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			data, err := c.GetOrFetch(context.Background(), testKey(), fetch)
			assert.NoError(t, err)
			results[idx] = data
		}(i)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for _, r := range results {
		assert.Equal(t, models.Instrument("NSE:RELIANCE"), r.Instrument)
	}
}

func TestGetOrFetch_ReturnsFreshWithoutRefetch(t *testing.T) {
	clock := newTestClock()
	c := New(clock)

	var calls int64
	fetch := func(ctx context.Context, key Key) (models.SymbolData, error) {
		atomic.AddInt64(&calls, 1)
		return models.SymbolData{Instrument: key.Instrument, Interval: key.Interval}, nil
	}

	_, err := c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)
	_, err = c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestGetOrFetch_RefetchesAfterExpiry(t *testing.T) {
	clock := newTestClock()
	c := New(clock, WithTTLPolicy(TTLPolicy{Intraday: time.Minute, Daily: time.Minute}))

	var calls int64
	fetch := func(ctx context.Context, key Key) (models.SymbolData, error) {
		atomic.AddInt64(&calls, 1)
		return models.SymbolData{Instrument: key.Instrument, Interval: key.Interval}, nil
	}

	_, err := c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)

	clock.advance(2 * time.Minute)

	_, err = c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestGetOrFetch_DeadlineExceededWhileFetchContinues(t *testing.T) {
	clock := newTestClock()
	c := New(clock)

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context, key Key) (models.SymbolData, error) {
		close(started)
		<-release
		return models.SymbolData{Instrument: key.Instrument, Interval: key.Interval}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, testKey(), fetch)
		errCh <- err
	}()

	<-started
	err := <-errCh
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	time.Sleep(10 * time.Millisecond)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
}

func TestInvalidate_RemovesEntry(t *testing.T) {
	clock := newTestClock()
	c := New(clock)

	fetch := func(ctx context.Context, key Key) (models.SymbolData, error) {
		return models.SymbolData{Instrument: key.Instrument, Interval: key.Interval}, nil
	}

	_, err := c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().Size)

	c.Invalidate(testKey())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestEviction_BoundsCacheSize(t *testing.T) {
	clock := newTestClock()
	c := New(clock, WithCapacity(2))

	fetch := func(ctx context.Context, key Key) (models.SymbolData, error) {
		return models.SymbolData{Instrument: key.Instrument, Interval: key.Interval}, nil
	}

	keys := []Key{
		{Instrument: "A", Interval: models.Interval1Day},
		{Instrument: "B", Interval: models.Interval1Day},
		{Instrument: "C", Interval: models.Interval1Day},
	}
	for _, k := range keys {
		_, err := c.GetOrFetch(context.Background(), k, fetch)
		require.NoError(t, err)
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Size, 2)
	assert.GreaterOrEqual(t, stats.Evictions, int64(1))
}
