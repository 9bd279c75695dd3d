package aggregate

import (
	"database/sql"
	"math"

	"wowmeta/aggregator/internal/models"
)

// EnrichmentSet returns the unique players of entries that can be enriched.
// Anonymous entries and entries without usable server data are left out.
func EnrichmentSet(entries []models.RankingEntry) []models.PlayerKey {
	seen := make(map[models.PlayerKey]struct{}, len(entries))
	keys := make([]models.PlayerKey, 0, len(entries))

	for _, e := range entries {
		key, ok := e.PlayerKey()
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// Aggregate reduces one tuple to a MetaRecord. The score is the rounded mean
// of the available ratings, else of the positive raw amounts. With neither
// the tuple has no record and ok is false.
func Aggregate(task models.Task, entries []models.RankingEntry, ratings map[models.PlayerKey]*float64) (*models.MetaRecord, bool) {
	var ratingSum float64
	var ratingCount int
	seen := make(map[models.PlayerKey]struct{}, len(entries))

	var rawSum float64
	var rawCount int

	maxLevel, haveLevel := 0, false

	for _, e := range entries {
		if e.RawAmount != nil && *e.RawAmount > 0 {
			rawSum += *e.RawAmount
			rawCount++
		}

		if e.BracketLevel != nil && (!haveLevel || *e.BracketLevel > maxLevel) {
			maxLevel, haveLevel = *e.BracketLevel, true
		}

		key, ok := e.PlayerKey()
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if r := ratings[key]; r != nil {
			ratingSum += *r
			ratingCount++
		}
	}

	var score float64
	switch {
	case ratingCount > 0:
		score = ratingSum / float64(ratingCount)
	case rawCount > 0:
		score = rawSum / float64(rawCount)
	default:
		return nil, false
	}

	rec := &models.MetaRecord{
		ClassName:   task.ClassName,
		SpecName:    task.SpecName,
		EncounterID: task.Encounter.ID,
		BracketKey:  task.Selector.Key.NullString(),
		MetaScore:   int(math.Round(score)),
		SpecRole:    task.Role,
	}
	if rawCount > 0 {
		rec.AverageRawAmount = sql.NullFloat64{Float64: rawSum / float64(rawCount), Valid: true}
	}
	if task.Selector.Bracketed() && haveLevel {
		rec.MaxBracketLevel = sql.NullInt32{Int32: int32(maxLevel), Valid: true}
	}

	return rec, true
}
