package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"wowmeta/aggregator/internal/metrics"
	"wowmeta/aggregator/internal/models"

	"github.com/rs/zerolog/log"
)

// Ranking metrics understood by the ranking service
const (
	MetricPlayerScore = "playerscore"
	MetricDPS         = "dps"
	MetricHPS         = "hps"
)

// MythicDifficulty is the fixed raid difficulty the rankings are taken from
const MythicDifficulty = 5

const characterRankingsQuery = `
query(
  $encounterID: Int!,
  $className: String!,
  $specName: String!,
  $metric: CharacterRankingMetricType,
  $bracket: Int,
  $difficulty: Int,
  $page: Int
) {
  worldData {
    encounter(id: $encounterID) {
      name
      characterRankings(
        className: $className
        specName: $specName
        metric: $metric
        leaderboard: LogsOnly
        bracket: $bracket
        difficulty: $difficulty
        page: $page
      )
    }
  }
}
`

const rateLimitQuery = `
query {
  rateLimitData {
    limitPerHour
    pointsSpentThisHour
    pointsResetIn
  }
}
`

// TokenSource hands out bearer tokens and drops them when rejected
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(ctx context.Context, rejected string)
}

// RankingQuery selects one (encounter, class, spec, bracket) ranking list
type RankingQuery struct {
	EncounterID int
	ClassName   string
	SpecName    string
	Metric      string
	Selector    models.BracketSelector
}

// MetricFor picks the ranking metric for a task: bracketed dungeon content is
// ranked by player score, raids by healing for healers and damage otherwise
func MetricFor(task models.Task) string {
	if task.Encounter.Kind == models.KindDungeon {
		return MetricPlayerScore
	}
	if task.Role == models.RoleHealer {
		return MetricHPS
	}
	return MetricDPS
}

// QueryFor builds the ranking query of a task
func QueryFor(task models.Task) RankingQuery {
	return RankingQuery{
		EncounterID: task.Encounter.ID,
		ClassName:   task.ClassName,
		SpecName:    task.SpecName,
		Metric:      MetricFor(task),
		Selector:    task.Selector,
	}
}

// RateLimitStatus is the hourly point budget of the ranking API
type RateLimitStatus struct {
	LimitPerHour        int     `json:"limitPerHour"`
	PointsSpentThisHour float64 `json:"pointsSpentThisHour"`
	PointsResetIn       int     `json:"pointsResetIn"`
}

// RankingsFetcherConfig configures the ranking service client
type RankingsFetcherConfig struct {
	APIURL     string
	Timeout    time.Duration
	Retry      RetryPolicy
	MaxPages   int
	HTTPClient *http.Client
}

// RankingsFetcher queries the ranking service GraphQL API
type RankingsFetcher struct {
	apiURL     string
	httpClient *http.Client
	retry      RetryPolicy
	maxPages   int
	tokens     TokenSource
}

// NewRankingsFetcher creates a fetcher that authenticates through tokens
func NewRankingsFetcher(cfg RankingsFetcherConfig, tokens TokenSource) *RankingsFetcher {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = newHTTPClient(timeout)
	}
	maxPages := cfg.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}

	return &RankingsFetcher{
		apiURL:     cfg.APIURL,
		httpClient: httpClient,
		retry:      cfg.Retry,
		maxPages:   maxPages,
		tokens:     tokens,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type rankingsData struct {
	WorldData *struct {
		Encounter *struct {
			Name              string                         `json:"name"`
			CharacterRankings *models.CharacterRankingsInput `json:"characterRankings"`
		} `json:"encounter"`
	} `json:"worldData"`
}

// Fetch returns the ranking entries of one tuple. An encounter or ranking list
// the service does not know yields an empty result, not an error.
func (f *RankingsFetcher) Fetch(ctx context.Context, q RankingQuery) ([]models.RankingEntry, error) {
	var entries []models.RankingEntry
	dropped := 0

	for page := 1; page <= f.maxPages; page++ {
		rankings, err := f.fetchPage(ctx, q, page)
		if err != nil {
			return nil, err
		}
		if rankings == nil {
			break
		}

		for i := range rankings.Rankings {
			entry := rankings.Rankings[i].ToRankingEntry()
			if q.Selector.MaxLevel > 0 && entry.BracketLevel != nil && *entry.BracketLevel > q.Selector.MaxLevel {
				dropped++
				continue
			}
			entries = append(entries, entry)
		}

		if !rankings.HasMorePages {
			break
		}
	}

	log.Debug().
		Int("encounter_id", q.EncounterID).
		Str("class", q.ClassName).
		Str("spec", q.SpecName).
		Str("bracket", q.Selector.String()).
		Int("entries", len(entries)).
		Int("above_ceiling", dropped).
		Msg("Fetched rankings")

	return entries, nil
}

func (f *RankingsFetcher) fetchPage(ctx context.Context, q RankingQuery, page int) (*models.CharacterRankingsInput, error) {
	vars := map[string]any{
		"encounterID": q.EncounterID,
		"className":   q.ClassName,
		"specName":    q.SpecName,
	}
	if q.Metric != "" {
		vars["metric"] = q.Metric
	}
	if q.Selector.Bracketed() {
		if q.Selector.MinLevel > 0 {
			vars["bracket"] = q.Selector.MinLevel
		}
	} else {
		vars["difficulty"] = MythicDifficulty
	}
	if page > 1 {
		vars["page"] = page
	}

	data, err := f.query(ctx, "rankings", characterRankingsQuery, vars)
	if err != nil {
		var qe *UpstreamQueryError
		if errors.As(err, &qe) {
			qe.EncounterID, qe.ClassName, qe.SpecName = q.EncounterID, q.ClassName, q.SpecName
		}
		return nil, err
	}

	var payload rankingsData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &UpstreamQueryError{
			EncounterID: q.EncounterID,
			ClassName:   q.ClassName,
			SpecName:    q.SpecName,
			Err:         fmt.Errorf("failed to unmarshal rankings: %w", err),
		}
	}
	if payload.WorldData == nil || payload.WorldData.Encounter == nil {
		return nil, nil
	}
	return payload.WorldData.Encounter.CharacterRankings, nil
}

// RateLimit reports the current hourly point budget
func (f *RankingsFetcher) RateLimit(ctx context.Context) (RateLimitStatus, error) {
	data, err := f.query(ctx, "rate_limit", rateLimitQuery, nil)
	if err != nil {
		return RateLimitStatus{}, err
	}

	var payload struct {
		RateLimitData *RateLimitStatus `json:"rateLimitData"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return RateLimitStatus{}, &UpstreamQueryError{Err: fmt.Errorf("failed to unmarshal rate limit: %w", err)}
	}
	if payload.RateLimitData == nil {
		return RateLimitStatus{}, &UpstreamQueryError{Err: errors.New("response without rateLimitData")}
	}
	return *payload.RateLimitData, nil
}

// query posts a GraphQL document and returns its data block. A 401 drops the
// cached token and the whole call is repeated once with a fresh one.
func (f *RankingsFetcher) query(ctx context.Context, endpoint, query string, vars map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	var data json.RawMessage
	for auth := 0; auth < 2; auth++ {
		token, err := f.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		err = f.retry.Do(ctx, "ranking query", func(ctx context.Context) error {
			var err error
			data, err = f.post(ctx, endpoint, token, body)
			return err
		})

		var se *StatusError
		if auth == 0 && errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			log.Warn().Msg("Ranking service rejected access token, refreshing")
			f.tokens.Invalidate(ctx, token)
			continue
		}
		return data, err
	}
	return data, nil
}

func (f *RankingsFetcher) post(ctx context.Context, endpoint, token string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPICall(endpoint, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("ranking request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	metrics.RecordAPICall(endpoint, statusLabel(resp.StatusCode), time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError("ranking service", resp, respBody)
	}

	var gql graphQLResponse
	if err := json.Unmarshal(respBody, &gql); err != nil {
		return nil, &UpstreamQueryError{Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if len(gql.Errors) > 0 {
		messages := make([]string, 0, len(gql.Errors))
		for _, e := range gql.Errors {
			messages = append(messages, e.Message)
		}
		return nil, &UpstreamQueryError{Messages: messages, Err: errors.New("graphql errors")}
	}
	if len(gql.Data) == 0 || string(gql.Data) == "null" {
		return nil, &UpstreamQueryError{Err: errors.New("response without data")}
	}

	return gql.Data, nil
}
