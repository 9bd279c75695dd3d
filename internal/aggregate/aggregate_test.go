package aggregate

import (
	"math"
	"math/rand/v2"
	"testing"

	"wowmeta/aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

func entry(name string, amount *float64) models.RankingEntry {
	return models.RankingEntry{PlayerName: name, ServerRegion: "US", ServerRealm: "Area 52", RawAmount: amount}
}

var holyPaladinRaid = models.Task{
	ClassSpec: models.ClassSpec{ClassName: "Paladin", SpecName: "Holy", Role: models.RoleHealer},
	Encounter: models.Encounter{ID: 2902, Kind: models.KindRaid},
	Selector:  models.NoBracket(),
}

var holyPaladinLow = models.Task{
	ClassSpec: models.ClassSpec{ClassName: "Paladin", SpecName: "Holy", Role: models.RoleHealer},
	Encounter: models.Encounter{ID: 62660, Kind: models.KindDungeon},
	Selector:  models.LowBracket(12),
}

func TestAggregateRawAmountFallback(t *testing.T) {
	entries := []models.RankingEntry{entry("a", f(1500000)), entry("b", f(1600000))}

	rec, ok := Aggregate(holyPaladinRaid, entries, nil)
	require.True(t, ok)

	assert.Equal(t, 1550000, rec.MetaScore)
	assert.True(t, rec.AverageRawAmount.Valid)
	assert.InDelta(t, 1550000, rec.AverageRawAmount.Float64, 0.001)
	assert.False(t, rec.BracketKey.Valid, "Raid records have a null bracket")
	assert.False(t, rec.MaxBracketLevel.Valid, "Bracket depth is not computed for raids")
	assert.Equal(t, models.RoleHealer, rec.SpecRole)
	assert.Equal(t, 2902, rec.EncounterID)
}

func TestAggregateAnonymousEntry(t *testing.T) {
	entries := []models.RankingEntry{{PlayerName: "Anonymous", Hidden: true, RawAmount: f(900000)}}

	assert.Empty(t, EnrichmentSet(entries), "Anonymous players are not enriched")

	rec, ok := Aggregate(holyPaladinRaid, entries, nil)
	require.True(t, ok)
	assert.Equal(t, 900000, rec.MetaScore)
	assert.InDelta(t, 900000, rec.AverageRawAmount.Float64, 0.001)
}

func TestAggregateNoEntries(t *testing.T) {
	rec, ok := Aggregate(holyPaladinRaid, nil, nil)
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestAggregateOnlyNonPositiveAmounts(t *testing.T) {
	entries := []models.RankingEntry{entry("a", f(0)), entry("b", f(-5)), entry("c", nil)}

	_, ok := Aggregate(holyPaladinRaid, entries, nil)
	assert.False(t, ok, "No rating and no positive amount means no record, not zero")
}

func TestAggregatePrefersRatings(t *testing.T) {
	entries := []models.RankingEntry{
		entry("a", f(1000)),
		entry("b", f(2000)),
		entry("c", f(3000)),
	}
	keyA, _ := entries[0].PlayerKey()
	keyB, _ := entries[1].PlayerKey()
	keyC, _ := entries[2].PlayerKey()

	ratings := map[models.PlayerKey]*float64{keyA: f(3100.4), keyB: f(2900), keyC: nil}

	rec, ok := Aggregate(holyPaladinRaid, entries, ratings)
	require.True(t, ok)
	assert.Equal(t, 3000, rec.MetaScore, "Mean of the two ratings only")
	assert.InDelta(t, 2000, rec.AverageRawAmount.Float64, 0.001, "Average raw amount is independent of the score branch")
}

func TestAggregateDuplicatePlayerCountsOnce(t *testing.T) {
	entries := []models.RankingEntry{
		entry("Alpha", f(100)),
		entry("alpha", f(200)),
		entry("beta", f(300)),
	}
	keys := EnrichmentSet(entries)
	require.Len(t, keys, 2)

	ratings := map[models.PlayerKey]*float64{keys[0]: f(1000), keys[1]: f(2000)}
	rec, ok := Aggregate(holyPaladinRaid, entries, ratings)
	require.True(t, ok)
	assert.Equal(t, 1500, rec.MetaScore)
}

func TestAggregateMaxBracketLevel(t *testing.T) {
	entries := []models.RankingEntry{
		{PlayerName: "a", RawAmount: f(10), BracketLevel: i(7)},
		{PlayerName: "b", RawAmount: f(20), BracketLevel: i(11)},
		{PlayerName: "c", RawAmount: f(30)},
	}

	rec, ok := Aggregate(holyPaladinLow, entries, nil)
	require.True(t, ok)
	assert.Equal(t, "low", rec.BracketKey.String)
	assert.True(t, rec.MaxBracketLevel.Valid)
	assert.Equal(t, int32(11), rec.MaxBracketLevel.Int32)
	assert.Equal(t, 20, rec.MetaScore)
}

func TestAggregateRoundsScore(t *testing.T) {
	entries := []models.RankingEntry{entry("a", f(1)), entry("b", f(2))}

	rec, ok := Aggregate(holyPaladinRaid, entries, nil)
	require.True(t, ok)
	assert.Equal(t, 2, rec.MetaScore, "1.5 rounds half away from zero")
}

func TestEnrichmentSetSkipsUnusableServers(t *testing.T) {
	entries := []models.RankingEntry{
		{PlayerName: "a", ServerRegion: "US", ServerRealm: "Stormrage"},
		{PlayerName: "b", ServerRegion: "", ServerRealm: "Stormrage"},
		{PlayerName: "c", ServerRegion: "Mars", ServerRealm: "Stormrage"},
		{PlayerName: "d", ServerRegion: "EU", ServerRealm: "Stormrage", Hidden: true},
	}

	keys := EnrichmentSet(entries)
	require.Len(t, keys, 1)
	assert.Equal(t, models.PlayerKey{Region: "us", Realm: "stormrage", Name: "a"}, keys[0])
}

// Property: without ratings the score is the rounded mean of positive amounts
func TestAggregateRawFallbackProperty(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	for iter := 0; iter < 200; iter++ {
		n := 1 + r.IntN(30)
		entries := make([]models.RankingEntry, 0, n)
		var sum float64
		var count int
		for j := 0; j < n; j++ {
			var amount *float64
			switch r.IntN(4) {
			case 0:
			case 1:
				amount = f(-r.Float64() * 1000)
			default:
				v := r.Float64() * 2_000_000
				amount = f(v)
				if v > 0 {
					sum += v
					count++
				}
			}
			entries = append(entries, entry("p", amount))
		}

		rec, ok := Aggregate(holyPaladinRaid, entries, map[models.PlayerKey]*float64{})
		if count == 0 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, int(math.Round(sum/float64(count))), rec.MetaScore)
	}
}

// Property: with at least one rating the raw amounts never affect the score
func TestAggregateRatingsProperty(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))

	for iter := 0; iter < 200; iter++ {
		n := 1 + r.IntN(20)
		entries := make([]models.RankingEntry, n)
		ratings := make(map[models.PlayerKey]*float64)
		var sum float64
		var count int

		for j := range entries {
			entries[j] = entry(string(rune('a'+j)), f(r.Float64()*1_000_000))
			if j == 0 || r.IntN(2) == 0 {
				key, _ := entries[j].PlayerKey()
				v := r.Float64() * 4000
				ratings[key] = &v
				sum += v
				count++
			}
		}

		rec, ok := Aggregate(holyPaladinRaid, entries, ratings)
		require.True(t, ok)
		assert.Equal(t, int(math.Round(sum/float64(count))), rec.MetaScore)
	}
}
