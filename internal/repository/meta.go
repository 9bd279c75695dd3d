package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wowmeta/aggregator/internal/metrics"
	"wowmeta/aggregator/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const metaTable = "meta_by_spec"

// metaColumns is the number of bound values per upserted row
const metaColumns = 8

// MetaRepository stores aggregated meta records
type MetaRepository struct {
	db *Database
}

// EnsureSchema creates the meta table and its indexes when missing.
// A null bracket key is a single identity (NULLS NOT DISTINCT, Postgres 15+).
func (r *MetaRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS meta_by_spec (
			id                 SERIAL PRIMARY KEY,
			class_name         VARCHAR(50)  NOT NULL,
			spec_name          VARCHAR(50)  NOT NULL,
			encounter_id       INTEGER      NOT NULL,
			bracket_key        VARCHAR(10),
			meta_score         INTEGER      NOT NULL,
			spec_role          VARCHAR(10)  NOT NULL,
			average_raw_amount DOUBLE PRECISION,
			max_bracket_level  INTEGER,
			created_at         TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_meta_by_spec_key
				UNIQUE NULLS NOT DISTINCT (class_name, spec_name, encounter_id, bracket_key)
		);
		CREATE INDEX IF NOT EXISTS idx_meta_by_spec_encounter ON meta_by_spec (encounter_id);
	`

	if _, err := r.db.Pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure meta schema: %w", err)
	}

	log.Debug().Str("table", metaTable).Msg("Meta schema ensured")
	return nil
}

// UpsertBatch writes records in one statement inside one transaction. On a key
// conflict the mutable columns are overwritten and the identity is kept.
// Records sharing a key within the batch collapse to the last one.
func (r *MetaRepository) UpsertBatch(ctx context.Context, records []*models.MetaRecord) error {
	records = dedupByKey(records)
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO meta_by_spec (
			class_name, spec_name, encounter_id, bracket_key,
			meta_score, spec_role, average_raw_amount, max_bracket_level
		) VALUES `)

	args := make([]any, 0, len(records)*metaColumns)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * metaColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)

		args = append(args,
			rec.ClassName, rec.SpecName, rec.EncounterID, rec.BracketKey,
			rec.MetaScore, string(rec.SpecRole), rec.AverageRawAmount, rec.MaxBracketLevel,
		)
	}

	sb.WriteString(`
		ON CONFLICT (class_name, spec_name, encounter_id, bracket_key) DO UPDATE SET
			meta_score = EXCLUDED.meta_score,
			spec_role = EXCLUDED.spec_role,
			average_raw_amount = EXCLUDED.average_raw_amount,
			max_bracket_level = EXCLUDED.max_bracket_level,
			updated_at = NOW()
	`)

	start := time.Now()
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sb.String(), args...)
		return err
	})
	if err != nil {
		metrics.RecordDBQuery("upsert", metaTable, "error", time.Since(start).Seconds())
		return &PersistenceError{Batch: len(records), Err: err}
	}
	metrics.RecordDBQuery("upsert", metaTable, "success", time.Since(start).Seconds())

	log.Debug().
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Meta batch upserted")

	return nil
}

func (r *MetaRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func dedupByKey(records []*models.MetaRecord) []*models.MetaRecord {
	index := make(map[models.MetaKey]int, len(records))
	out := make([]*models.MetaRecord, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if i, ok := index[rec.Key()]; ok {
			out[i] = rec
			continue
		}
		index[rec.Key()] = len(out)
		out = append(out, rec)
	}
	return out
}

const selectMeta = `
	SELECT id, class_name, spec_name, encounter_id, bracket_key,
	       meta_score, spec_role, average_raw_amount, max_bracket_level,
	       created_at, updated_at
	FROM meta_by_spec
`

func scanMeta(row pgx.Row) (*models.MetaRecord, error) {
	var rec models.MetaRecord
	var role string
	err := row.Scan(
		&rec.ID, &rec.ClassName, &rec.SpecName, &rec.EncounterID, &rec.BracketKey,
		&rec.MetaScore, &role, &rec.AverageRawAmount, &rec.MaxBracketLevel,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.SpecRole = models.SpecRole(role)
	return &rec, nil
}

// GetByKey retrieves the record of one tuple
func (r *MetaRepository) GetByKey(ctx context.Context, key models.MetaKey) (*models.MetaRecord, error) {
	query := selectMeta + `
		WHERE class_name = $1 AND spec_name = $2 AND encounter_id = $3
		  AND bracket_key IS NOT DISTINCT FROM $4
	`

	rec, err := scanMeta(r.db.Pool.QueryRow(ctx, query, key.ClassName, key.SpecName, key.EncounterID, key.Bracket.NullString()))
	if IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s", ErrMetaNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meta record: %w", err)
	}
	return rec, nil
}

// ListByEncounter retrieves every record of an encounter, best score first
func (r *MetaRepository) ListByEncounter(ctx context.Context, encounterID int) ([]*models.MetaRecord, error) {
	query := selectMeta + `
		WHERE encounter_id = $1
		ORDER BY meta_score DESC, class_name, spec_name, bracket_key NULLS FIRST
	`

	rows, err := r.db.Pool.Query(ctx, query, encounterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query meta records: %w", err)
	}
	defer rows.Close()

	var records []*models.MetaRecord
	for rows.Next() {
		rec, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meta record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meta records: %w", err)
	}

	return records, nil
}

// Count returns the total number of stored records
func (r *MetaRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM meta_by_spec`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count meta records: %w", err)
	}
	return count, nil
}
