package models

import "strings"

// AnonymousPlayerName is what the ranking service reports for players who
// opted out of public rankings.
const AnonymousPlayerName = "Anonymous"

// RankingEntry represents one ranked run of one player for one tuple
type RankingEntry struct {
	PlayerName   string
	ServerRegion string
	ServerRealm  string
	Hidden       bool
	RawAmount    *float64
	BracketLevel *int
}

// Anonymous reports whether the entry hides who the player is
func (e RankingEntry) Anonymous() bool {
	return e.Hidden || e.PlayerName == "" || strings.EqualFold(e.PlayerName, AnonymousPlayerName)
}

// PlayerKey returns the enrichment key for the entry. The second value is
// false for anonymous entries and entries with unusable server data; those
// entries are excluded from rating enrichment.
func (e RankingEntry) PlayerKey() (PlayerKey, bool) {
	if e.Anonymous() || e.ServerRealm == "" || e.ServerRegion == "" {
		return PlayerKey{}, false
	}

	key, err := NewPlayerKey(e.ServerRegion, e.ServerRealm, e.PlayerName)
	if err != nil {
		return PlayerKey{}, false
	}
	return key, true
}

// RankingInput is a single ranking row as returned by the ranking service
type RankingInput struct {
	Name        string       `json:"name"`
	Hidden      bool         `json:"hidden"`
	Amount      *float64     `json:"amount,omitempty"`
	BracketData *int         `json:"bracketData,omitempty"`
	Server      *ServerInput `json:"server,omitempty"`
}

// ServerInput is the server block of a ranking row
type ServerInput struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

// CharacterRankingsInput is the characterRankings payload of an encounter
type CharacterRankingsInput struct {
	Page         int            `json:"page"`
	HasMorePages bool           `json:"hasMorePages"`
	Count        int            `json:"count"`
	Rankings     []RankingInput `json:"rankings"`
}

// ToRankingEntry converts RankingInput (from API) to RankingEntry model
func (ri *RankingInput) ToRankingEntry() RankingEntry {
	entry := RankingEntry{
		PlayerName:   ri.Name,
		Hidden:       ri.Hidden,
		RawAmount:    ri.Amount,
		BracketLevel: ri.BracketData,
	}
	if ri.Server != nil {
		entry.ServerRealm = ri.Server.Name
		entry.ServerRegion = ri.Server.Region
	}
	return entry
}
