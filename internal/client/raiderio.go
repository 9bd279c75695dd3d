package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"wowmeta/aggregator/internal/metrics"
	"wowmeta/aggregator/internal/models"

	"github.com/rs/zerolog/log"
)

const currentSeasonScoresField = "mythic_plus_scores_by_season:current"

// RaiderIOClient reads player skill ratings from the rating service.
// It makes exactly one attempt per call; pacing and retries belong to the
// enricher.
type RaiderIOClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRaiderIOClient creates a rating service client for the profile endpoint
func NewRaiderIOClient(baseURL string, timeout time.Duration) *RaiderIOClient {
	return &RaiderIOClient{
		baseURL:    baseURL,
		httpClient: newHTTPClient(timeout),
	}
}

type profileInput struct {
	MythicPlusScoresBySeason []struct {
		Season string `json:"season"`
		Scores *struct {
			All *float64 `json:"all"`
		} `json:"scores"`
	} `json:"mythic_plus_scores_by_season"`
}

// FetchRating returns the current season rating of a player. A profile
// without a current season score yields nil. An unknown player yields
// ErrPlayerNotFound.
func (c *RaiderIOClient) FetchRating(ctx context.Context, key models.PlayerKey) (*float64, error) {
	params := url.Values{
		"region": {key.Region},
		"realm":  {key.Realm},
		"name":   {key.Name},
		"fields": {currentSeasonScoresField},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	log.Debug().
		Str("player", key.String()).
		Msg("Making rating request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPICall("rating", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("rating request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	metrics.RecordAPICall("rating", statusLabel(resp.StatusCode), time.Since(start).Seconds())

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusBadRequest:
		// The service answers 400 for characters it cannot resolve
		return nil, ErrPlayerNotFound
	default:
		return nil, newStatusError("rating service", resp, body)
	}

	var profile profileInput
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	for _, season := range profile.MythicPlusScoresBySeason {
		if season.Scores != nil && season.Scores.All != nil {
			return season.Scores.All, nil
		}
	}
	return nil, nil
}
