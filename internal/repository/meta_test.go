//go:build integration

package repository

import (
	"database/sql"
	"testing"

	"wowmeta/aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metaRecord(class, spec string, encounter int, bracket models.BracketKey, score int) *models.MetaRecord {
	return &models.MetaRecord{
		ClassName:        class,
		SpecName:         spec,
		EncounterID:      encounter,
		BracketKey:       bracket.NullString(),
		MetaScore:        score,
		SpecRole:         models.RoleDPS,
		AverageRawAmount: sql.NullFloat64{Float64: float64(score) * 1.5, Valid: true},
	}
}

func TestUpsertBatchIsIdempotent(t *testing.T) {
	db, ctx := setupTestDB(t)

	batch := []*models.MetaRecord{
		metaRecord("Mage", "Fire", 2902, models.BracketNone, 1000),
		metaRecord("Mage", "Fire", 62660, models.BracketLow, 2000),
		metaRecord("Mage", "Fire", 62660, models.BracketHigh, 3000),
	}

	require.NoError(t, db.Meta.UpsertBatch(ctx, batch))
	require.NoError(t, db.Meta.UpsertBatch(ctx, batch))

	count, err := db.Meta.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "Re-running a cycle must not duplicate rows")
}

func TestUpsertBatchUpdatesInPlace(t *testing.T) {
	db, ctx := setupTestDB(t)

	require.NoError(t, db.Meta.UpsertBatch(ctx, []*models.MetaRecord{
		metaRecord("Mage", "Fire", 2902, models.BracketNone, 1000),
		metaRecord("Mage", "Frost", 2902, models.BracketNone, 1100),
	}))
	before, err := db.Meta.GetByKey(ctx, models.MetaKey{ClassName: "Mage", SpecName: "Fire", EncounterID: 2902})
	require.NoError(t, err)

	updated := metaRecord("Mage", "Fire", 2902, models.BracketNone, 1500)
	updated.SpecRole = models.RoleHealer
	updated.MaxBracketLevel = sql.NullInt32{}
	require.NoError(t, db.Meta.UpsertBatch(ctx, []*models.MetaRecord{updated}))

	after, err := db.Meta.GetByKey(ctx, models.MetaKey{ClassName: "Mage", SpecName: "Fire", EncounterID: 2902})
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "Identity is stable across cycles")
	assert.Equal(t, 1500, after.MetaScore)
	assert.Equal(t, models.RoleHealer, after.SpecRole)
	assert.False(t, after.BracketKey.Valid)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt) || after.UpdatedAt.Equal(before.UpdatedAt))

	frost, err := db.Meta.GetByKey(ctx, models.MetaKey{ClassName: "Mage", SpecName: "Frost", EncounterID: 2902})
	require.NoError(t, err)
	assert.Equal(t, 1100, frost.MetaScore, "Unrelated tuples are untouched")

	count, err := db.Meta.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertBatchCollapsesDuplicateKeys(t *testing.T) {
	db, ctx := setupTestDB(t)

	require.NoError(t, db.Meta.UpsertBatch(ctx, []*models.MetaRecord{
		metaRecord("Rogue", "Outlaw", 62660, models.BracketLow, 100),
		metaRecord("Rogue", "Outlaw", 62660, models.BracketLow, 200),
	}))

	rec, err := db.Meta.GetByKey(ctx, models.MetaKey{ClassName: "Rogue", SpecName: "Outlaw", EncounterID: 62660, Bracket: models.BracketLow})
	require.NoError(t, err)
	assert.Equal(t, 200, rec.MetaScore)
}

func TestUpsertBatchRollsBackOnFailure(t *testing.T) {
	db, ctx := setupTestDB(t)

	bad := metaRecord("Warrior", "Fury", 2902, models.BracketNone, 100)
	bad.SpecRole = "a-role-name-longer-than-the-column"

	err := db.Meta.UpsertBatch(ctx, []*models.MetaRecord{
		metaRecord("Warrior", "Arms", 2902, models.BracketNone, 100),
		bad,
	})

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Batch)

	count, err := db.Meta.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "Partial writes within a batch are not allowed")
}

func TestListByEncounter(t *testing.T) {
	db, ctx := setupTestDB(t)

	require.NoError(t, db.Meta.UpsertBatch(ctx, []*models.MetaRecord{
		metaRecord("Mage", "Fire", 62660, models.BracketLow, 2000),
		metaRecord("Mage", "Arcane", 62660, models.BracketLow, 2500),
		metaRecord("Mage", "Fire", 2902, models.BracketNone, 9000),
	}))

	records, err := db.Meta.ListByEncounter(ctx, 62660)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Arcane", records[0].SpecName)
	assert.Equal(t, "low", records[1].BracketKey.String)
}

func TestGetByKeyNotFound(t *testing.T) {
	db, ctx := setupTestDB(t)

	_, err := db.Meta.GetByKey(ctx, models.MetaKey{ClassName: "Nope", SpecName: "Nope", EncounterID: 1})
	assert.ErrorIs(t, err, ErrMetaNotFound)
}
