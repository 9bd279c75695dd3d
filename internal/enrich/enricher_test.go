package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wowmeta/aggregator/internal/client"
	"wowmeta/aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rating(v float64) *float64 { return &v }

func player(name string) models.PlayerKey {
	return models.PlayerKey{Region: "eu", Realm: "draenor", Name: name}
}

func testRetry() client.RetryPolicy {
	return client.RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
}

// fakeSource answers from a table and counts requests per player
type fakeSource struct {
	mu       sync.Mutex
	calls    map[models.PlayerKey]int
	ratings  map[models.PlayerKey]*float64
	errs     map[models.PlayerKey]error
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:   make(map[models.PlayerKey]int),
		ratings: make(map[models.PlayerKey]*float64),
		errs:    make(map[models.PlayerKey]error),
	}
}

func (f *fakeSource) FetchRating(ctx context.Context, key models.PlayerKey) (*float64, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.ratings[key], nil
}

func (f *fakeSource) callsFor(key models.PlayerKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func TestEnrichReturnsRatings(t *testing.T) {
	src := newFakeSource()
	src.ratings[player("a")] = rating(3000)
	src.ratings[player("b")] = nil

	e := New(src, nil, nil, Options{Concurrency: 4, Retry: testRetry()})
	out, err := e.Enrich(context.Background(), []models.PlayerKey{player("a"), player("b")})
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.InDelta(t, 3000, *out[player("a")], 0.001)
	assert.Nil(t, out[player("b")])
}

func TestEnrichQueriesEachPlayerOncePerCycle(t *testing.T) {
	src := newFakeSource()
	src.ratings[player("a")] = rating(2500)
	src.delay = 20 * time.Millisecond

	e := New(src, nil, nil, Options{Concurrency: 4, Retry: testRetry()})

	// Same player across three tasks running concurrently
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Enrich(context.Background(), []models.PlayerKey{player("a")})
			assert.NoError(t, err)
			assert.InDelta(t, 2500, *out[player("a")], 0.001)
		}()
	}
	wg.Wait()

	_, err := e.Enrich(context.Background(), []models.PlayerKey{player("a")})
	require.NoError(t, err)
	assert.Equal(t, 1, src.callsFor(player("a")))
	assert.Equal(t, int64(1), e.Requests())
}

func TestEnrichCachesNotFound(t *testing.T) {
	src := newFakeSource()
	src.errs[player("ghost")] = client.ErrPlayerNotFound

	e := New(src, nil, nil, Options{Concurrency: 2, Retry: testRetry()})
	out, err := e.Enrich(context.Background(), []models.PlayerKey{player("ghost")})
	require.NoError(t, err)
	assert.Nil(t, out[player("ghost")])

	_, err = e.Enrich(context.Background(), []models.PlayerKey{player("ghost")})
	require.NoError(t, err)
	assert.Equal(t, 1, src.callsFor(player("ghost")), "Not found is a cached outcome and is not retried")

	v, ok := e.Cache().Get(player("ghost"))
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestEnrichExhaustedRetriesYieldNil(t *testing.T) {
	src := newFakeSource()
	src.errs[player("flaky")] = errors.New("connection reset")

	e := New(src, nil, nil, Options{Concurrency: 2, Retry: testRetry()})
	out, err := e.Enrich(context.Background(), []models.PlayerKey{player("flaky")})
	require.NoError(t, err, "Exhausted retries are a final outcome")

	assert.Contains(t, out, player("flaky"))
	assert.Nil(t, out[player("flaky")])
	assert.Equal(t, 3, src.callsFor(player("flaky")))
}

func TestEnrichBoundsConcurrency(t *testing.T) {
	src := newFakeSource()
	src.delay = 10 * time.Millisecond

	players := make([]models.PlayerKey, 20)
	for i := range players {
		players[i] = player(string(rune('a' + i)))
	}

	e := New(src, nil, nil, Options{Concurrency: 3, Retry: testRetry()})
	_, err := e.Enrich(context.Background(), players)
	require.NoError(t, err)

	assert.LessOrEqual(t, src.peak.Load(), int32(3))
	assert.Equal(t, int64(20), e.Requests())
}

func TestEnrichPacesRequests(t *testing.T) {
	src := newFakeSource()
	players := []models.PlayerKey{player("a"), player("b"), player("c"), player("d")}

	e := New(src, NewLimiter(30*time.Millisecond), nil, Options{Concurrency: 4, Retry: testRetry()})

	start := time.Now()
	_, err := e.Enrich(context.Background(), players)
	require.NoError(t, err)

	// Four requests need three full intervals between them
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestEnrichCacheHitsSkipLimiter(t *testing.T) {
	src := newFakeSource()
	cache := NewCache()
	for _, name := range []string{"a", "b", "c"} {
		cache.Set(player(name), rating(1))
	}

	e := New(src, NewLimiter(time.Second), cache, Options{Concurrency: 1, Retry: testRetry()})

	start := time.Now()
	out, err := e.Enrich(context.Background(), []models.PlayerKey{player("a"), player("b"), player("c")})
	require.NoError(t, err)

	assert.Len(t, out, 3)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, e.Requests())
}

func TestEnrichRetriesRateLimitedLookups(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"mythic_plus_scores_by_season":[{"scores":{"all":2875.5}}]}`))
	}))
	defer srv.Close()

	rio := client.NewRaiderIOClient(srv.URL, time.Second)
	e := New(rio, nil, nil, Options{Concurrency: 2, Retry: testRetry()})

	start := time.Now()
	out, err := e.Enrich(context.Background(), []models.PlayerKey{player("a")})
	require.NoError(t, err)

	require.NotNil(t, out[player("a")], "Eventual score is returned, not nil")
	assert.InDelta(t, 2875.5, *out[player("a")], 0.001)
	assert.Equal(t, int32(3), calls.Load())
	// 20ms + 40ms of backoff
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestEnrichCancelledLookupIsNotCached(t *testing.T) {
	src := newFakeSource()
	src.ratings[player("a")] = rating(100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(src, nil, nil, Options{Concurrency: 1, Retry: testRetry()})
	out, err := e.Enrich(ctx, []models.PlayerKey{player("a")})
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out[player("a")])

	_, ok := e.Cache().Get(player("a"))
	assert.False(t, ok)

	out, err = e.Enrich(context.Background(), []models.PlayerKey{player("a")})
	require.NoError(t, err)
	assert.InDelta(t, 100, *out[player("a")], 0.001)
}

func TestEnrichLimiterPastDeadlineIsIncomplete(t *testing.T) {
	src := newFakeSource()
	src.ratings[player("a")] = rating(1)
	src.ratings[player("b")] = rating(2)

	// The second slot opens long after the deadline, so the limiter refuses early
	e := New(src, NewLimiter(time.Hour), nil, Options{Concurrency: 1, Retry: testRetry()})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	out, err := e.Enrich(ctx, []models.PlayerKey{player("a"), player("b")})

	require.ErrorIs(t, err, ErrIncomplete)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "Refused slot is not retried")
	assert.Len(t, out, 2)
	assert.Equal(t, int64(1), e.Requests())

	cached := 0
	for _, name := range []string{"a", "b"} {
		if _, ok := e.Cache().Get(player(name)); ok {
			cached++
		}
	}
	assert.Equal(t, 1, cached, "Only the completed lookup is cached")
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0), "Zero interval disables pacing")

	l := NewLimiter(time.Hour)
	require.NotNil(t, l)
	assert.True(t, l.Allow(), "First request goes out at once")
	assert.False(t, l.Allow(), "Second request waits for the interval")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Wait(ctx))
}
