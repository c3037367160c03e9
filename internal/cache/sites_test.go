package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/site-auditor/internal/models"
)

type countingLoader struct {
	calls atomic.Int32
	err   error
	gate  chan struct{}
}

func (l *countingLoader) load(context.Context) ([]models.SiteWithAudit, error) {
	n := l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	if l.err != nil {
		return nil, l.err
	}
	return []models.SiteWithAudit{{Site: models.Site{ID: "s", Domain: "example.com", CreatedAt: time.Unix(int64(n), 0)}}}, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(l *countingLoader, ttl time.Duration) (*Sites, *clock) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewSites(l.load, ttl)
	c.now = clk.now
	return c, clk
}

func TestSites_ServesFromCacheWithinTTL(t *testing.T) {
	t.Parallel()

	l := &countingLoader{}
	c, clk := newTestCache(l, time.Minute)

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	clk.advance(59 * time.Second)
	_, err = c.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), l.calls.Load())
	assert.Equal(t, clk.now().Add(-59*time.Second), c.RefreshedAt())
}

func TestSites_RefreshesWhenStale(t *testing.T) {
	t.Parallel()

	l := &countingLoader{}
	c, clk := newTestCache(l, time.Minute)

	first, err := c.Get(context.Background())
	require.NoError(t, err)
	clk.advance(time.Minute)
	second, err := c.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), l.calls.Load())
	assert.NotEqual(t, first[0].CreatedAt, second[0].CreatedAt)
}

func TestSites_Invalidate(t *testing.T) {
	t.Parallel()

	l := &countingLoader{}
	c, _ := newTestCache(l, time.Hour)

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	c.Invalidate()
	assert.True(t, c.RefreshedAt().IsZero())

	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), l.calls.Load())
}

func TestSites_LoadErrorIsNotCached(t *testing.T) {
	t.Parallel()

	l := &countingLoader{err: errors.New("db down")}
	c, _ := newTestCache(l, time.Hour)

	_, err := c.Get(context.Background())
	require.ErrorContains(t, err, "db down")
	assert.True(t, c.RefreshedAt().IsZero())

	l.err = nil
	sites, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, sites, 1)
}

func TestSites_ConcurrentRefreshSharesLoad(t *testing.T) {
	t.Parallel()

	l := &countingLoader{gate: make(chan struct{})}
	c, _ := newTestCache(l, time.Hour)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			_, err := c.Get(context.Background())
			assert.NoError(t, err)
		})
	}
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(l.gate)
	wg.Wait()

	assert.Equal(t, int32(1), l.calls.Load())
}

func TestSites_InvalidateDuringLoadDiscardsResult(t *testing.T) {
	t.Parallel()

	l := &countingLoader{gate: make(chan struct{})}
	c, _ := newTestCache(l, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get(context.Background())
	}()
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)
	c.Invalidate()
	close(l.gate)
	<-done

	assert.True(t, c.RefreshedAt().IsZero())
}
