package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"wowmeta/aggregator/internal/client"
	"wowmeta/aggregator/internal/metrics"
	"wowmeta/aggregator/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrIncomplete marks a lookup cut short by its context or the request limiter.
// Such a player has no known rating yet, so the caller cannot treat nil as final.
var ErrIncomplete = errors.New("rating lookup incomplete")

// pacingError is returned when the limiter cannot grant a slot before the
// context deadline. Retrying would only hit the same wall.
type pacingError struct {
	err error
}

func (e *pacingError) Error() string   { return "rating limiter: " + e.err.Error() }
func (e *pacingError) Unwrap() error   { return e.err }
func (e *pacingError) Retryable() bool { return false }

// RatingSource looks up one player's rating with a single request
type RatingSource interface {
	FetchRating(ctx context.Context, key models.PlayerKey) (*float64, error)
}

// Options tunes the enricher
type Options struct {
	// Concurrency caps in-flight rating requests
	Concurrency int
	Retry       client.RetryPolicy
}

// Enricher resolves player ratings for one cycle. It shares a cache, a
// limiter and a request window between every task of the cycle.
type Enricher struct {
	source  RatingSource
	limiter *rate.Limiter
	cache   *Cache
	retry   client.RetryPolicy
	sem     *semaphore.Weighted
	group   singleflight.Group

	requests atomic.Int64
}

// New creates an enricher. A nil limiter disables pacing; a nil cache starts empty.
func New(source RatingSource, limiter *rate.Limiter, cache *Cache, opts Options) *Enricher {
	if cache == nil {
		cache = NewCache()
	}
	n := opts.Concurrency
	if n < 1 {
		n = 1
	}

	return &Enricher{
		source:  source,
		limiter: limiter,
		cache:   cache,
		retry:   opts.Retry,
		sem:     semaphore.NewWeighted(int64(n)),
	}
}

// Requests returns how many rating requests were sent, retries included
func (e *Enricher) Requests() int64 {
	return e.requests.Load()
}

// Cache returns the cycle cache
func (e *Enricher) Cache() *Cache {
	return e.cache
}

// Enrich returns a rating (possibly nil) for every player. A player with no
// profile or whose lookup exhausted its retries maps to nil. When any lookup
// was cut short the map is still filled and the first such error is returned,
// wrapping ErrIncomplete.
func (e *Enricher) Enrich(ctx context.Context, players []models.PlayerKey) (map[models.PlayerKey]*float64, error) {
	out := make(map[models.PlayerKey]*float64, len(players))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, key := range players {
		if rating, ok := e.cache.Get(key); ok {
			metrics.RecordCacheHit()
			out[key] = rating
			continue
		}

		wg.Add(1)
		go func(key models.PlayerKey) {
			defer wg.Done()
			rating, err := e.lookup(ctx, key)

			mu.Lock()
			out[key] = rating
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	return out, firstErr
}

// lookup fetches one rating, collapsing concurrent lookups of the same player.
// A caller that joined a lookup cut short by someone else's context tries
// again under its own.
func (e *Enricher) lookup(ctx context.Context, key models.PlayerKey) (*float64, error) {
	for attempt := 0; ; attempt++ {
		v, err, shared := e.group.Do(key.String(), func() (any, error) {
			return e.resolve(ctx, key)
		})
		if err != nil && shared && attempt == 0 && ctx.Err() == nil {
			continue
		}
		rating, _ := v.(*float64)
		return rating, err
	}
}

func (e *Enricher) resolve(ctx context.Context, key models.PlayerKey) (*float64, error) {
	if rating, ok := e.cache.Get(key); ok {
		metrics.RecordCacheHit()
		return rating, nil
	}
	metrics.RecordCacheMiss()

	rating, err := e.fetch(ctx, key)
	var pacing *pacingError
	switch {
	case err == nil:
	case errors.Is(err, client.ErrPlayerNotFound):
		log.Debug().Str("player", key.String()).Msg("Player has no rating profile")
	case ctx.Err() != nil:
		// Not cached: a later task with a live context may still get it
		return nil, fmt.Errorf("%w: %s: %w", ErrIncomplete, key, ctx.Err())
	case errors.As(err, &pacing):
		return nil, fmt.Errorf("%w: %s: %w", ErrIncomplete, key, err)
	default:
		log.Warn().
			Err(err).
			Str("player", key.String()).
			Msg("Rating lookup failed, continuing without rating")
	}

	e.cache.Set(key, rating)
	return rating, nil
}

func (e *Enricher) fetch(ctx context.Context, key models.PlayerKey) (*float64, error) {
	var rating *float64
	err := e.retry.Do(ctx, "rating lookup", func(ctx context.Context) error {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer e.sem.Release(1)

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &pacingError{err: err}
			}
		}

		e.requests.Add(1)
		var err error
		rating, err = e.source.FetchRating(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rating, nil
}
