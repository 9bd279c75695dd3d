package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wowmeta/aggregator/internal/metrics"
	"wowmeta/aggregator/internal/models"

	"github.com/rs/zerolog/log"
)

// TokenStore holds the shared token and the lock that serializes refreshes.
// MemoryTokenStore serves a single process; cache.RedisCache serves several
// workers.
type TokenStore interface {
	LoadToken(ctx context.Context) (models.AccessToken, bool, error)
	SaveToken(ctx context.Context, token models.AccessToken) error
	// DeleteToken drops the stored token only if its value equals value
	DeleteToken(ctx context.Context, value string) error
	// AcquireLock blocks up to wait. It returns ErrLockNotAcquired on timeout.
	AcquireLock(ctx context.Context, wait time.Duration) (release func(context.Context), err error)
}

// TokenProviderConfig configures the OAuth client-credentials exchange
type TokenProviderConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	SafetyMargin time.Duration
	LockWait     time.Duration
	Retry        RetryPolicy
	HTTPClient   *http.Client
	// ExchangeTimeout bounds the whole exchange, retries included. It must be
	// shorter than the shared lock TTL. Zero means unbounded.
	ExchangeTimeout time.Duration
}

// TokenProvider acquires and caches the ranking service bearer token
type TokenProvider struct {
	cfg   TokenProviderConfig
	store TokenStore
	now   func() time.Time

	mu      sync.RWMutex
	current models.AccessToken

	exchanges atomic.Int64
}

// NewTokenProvider creates a provider. A nil store means an in-process store.
func NewTokenProvider(cfg TokenProviderConfig, store TokenStore) *TokenProvider {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(30 * time.Second)
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 10 * time.Second
	}
	return &TokenProvider{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// Exchanges returns how many token exchanges this provider performed
func (p *TokenProvider) Exchanges() int64 {
	return p.exchanges.Load()
}

// Token returns a bearer token that is not within the safety margin of expiry
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return "", ErrAuthConfig
	}

	p.mu.RLock()
	current := p.current
	p.mu.RUnlock()
	if current.Valid(p.now()) {
		return current.Value, nil
	}

	if token, ok := p.loadShared(ctx); ok {
		return token.Value, nil
	}

	release, err := p.store.AcquireLock(ctx, p.cfg.LockWait)
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			// Someone else held the lock for the whole wait; they have most
			// likely stored a fresh token by now.
			if token, ok := p.loadShared(ctx); ok {
				return token.Value, nil
			}
			return "", &AuthFetchError{Err: ErrTokenLockTimeout}
		}
		return "", &AuthFetchError{Err: fmt.Errorf("acquire token lock: %w", err)}
	}
	defer release(context.WithoutCancel(ctx))

	if token, ok := p.loadShared(ctx); ok {
		return token.Value, nil
	}

	token, err := p.exchange(ctx)
	if err != nil {
		metrics.RecordTokenRefresh("error")
		return "", err
	}
	metrics.RecordTokenRefresh("success")

	if err := p.store.SaveToken(ctx, token); err != nil {
		log.Warn().Err(err).Msg("Failed to store access token in shared cache")
	}
	p.setCurrent(token)

	return token.Value, nil
}

// Invalidate drops rejected, e.g. after the ranking service answered 401 to
// it. A newer token, local or shared, is left alone.
func (p *TokenProvider) Invalidate(ctx context.Context, rejected string) {
	p.mu.Lock()
	if p.current.Value == rejected {
		p.current = models.AccessToken{}
	}
	p.mu.Unlock()

	if err := p.store.DeleteToken(ctx, rejected); err != nil {
		log.Warn().Err(err).Msg("Failed to delete access token from shared cache")
	}
}

func (p *TokenProvider) setCurrent(token models.AccessToken) {
	p.mu.Lock()
	p.current = token
	p.mu.Unlock()
}

// loadShared reads the store and adopts a valid token locally
func (p *TokenProvider) loadShared(ctx context.Context) (models.AccessToken, bool) {
	token, ok, err := p.store.LoadToken(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read access token from shared cache")
		return models.AccessToken{}, false
	}
	if !ok || !token.Valid(p.now()) {
		return models.AccessToken{}, false
	}
	p.setCurrent(token)
	return token, true
}

// exchange performs the client-credentials grant with retries
func (p *TokenProvider) exchange(ctx context.Context) (models.AccessToken, error) {
	var token models.AccessToken

	if p.cfg.ExchangeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ExchangeTimeout)
		defer cancel()
	}

	err := p.cfg.Retry.Do(ctx, "token exchange", func(ctx context.Context) error {
		form := url.Values{"grant_type": {"client_credentials"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("failed to create token request: %w", err)
		}
		req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := p.cfg.HTTPClient.Do(req)
		if err != nil {
			metrics.RecordAPICall("token", "error", time.Since(start).Seconds())
			return fmt.Errorf("token request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read token response: %w", err)
		}
		metrics.RecordAPICall("token", statusLabel(resp.StatusCode), time.Since(start).Seconds())

		if resp.StatusCode != http.StatusOK {
			return newStatusError("token endpoint", resp, body)
		}

		var input models.TokenInput
		if err := json.Unmarshal(body, &input); err != nil {
			return fmt.Errorf("failed to unmarshal token response: %w", err)
		}
		if input.AccessToken == "" {
			return &AuthFetchError{Err: errors.New("token response without access_token")}
		}

		expiresIn := time.Duration(input.ExpiresIn) * time.Second
		if input.ExpiresIn <= 0 {
			expiresIn = time.Hour
		}
		if expiresIn <= p.cfg.SafetyMargin {
			return &AuthFetchError{Err: fmt.Errorf("token lifetime %s is within safety margin %s", expiresIn, p.cfg.SafetyMargin)}
		}

		token = models.AccessToken{
			Value:     input.AccessToken,
			ExpiresAt: p.now().Add(expiresIn - p.cfg.SafetyMargin),
		}
		return nil
	})
	if err != nil {
		var ae *AuthFetchError
		if errors.As(err, &ae) {
			return models.AccessToken{}, err
		}
		return models.AccessToken{}, &AuthFetchError{Err: err}
	}

	p.exchanges.Add(1)
	log.Info().
		Time("expires_at", token.ExpiresAt).
		Msg("Access token refreshed")

	return token, nil
}

// MemoryTokenStore is a TokenStore for a single process
type MemoryTokenStore struct {
	mu    sync.Mutex
	token models.AccessToken
	ok    bool
	lock  chan struct{}
}

// NewMemoryTokenStore creates an empty in-process store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{lock: make(chan struct{}, 1)}
}

func (s *MemoryTokenStore) LoadToken(_ context.Context) (models.AccessToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.ok, nil
}

func (s *MemoryTokenStore) SaveToken(_ context.Context, token models.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.ok = token, true
	return nil
}

func (s *MemoryTokenStore) DeleteToken(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ok && s.token.Value == value {
		s.token, s.ok = models.AccessToken{}, false
	}
	return nil
}

func (s *MemoryTokenStore) AcquireLock(ctx context.Context, wait time.Duration) (func(context.Context), error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s.lock <- struct{}{}:
		var once sync.Once
		return func(context.Context) {
			once.Do(func() { <-s.lock })
		}, nil
	case <-timer.C:
		return nil, ErrLockNotAcquired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
