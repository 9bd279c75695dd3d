package models

import (
	"database/sql"
	"fmt"
	"time"
)

// SpecRole is the combat role of a specialization
type SpecRole string

const (
	RoleTank   SpecRole = "tank"
	RoleHealer SpecRole = "healer"
	RoleDPS    SpecRole = "dps"
)

// Valid reports whether r is one of the known roles
func (r SpecRole) Valid() bool {
	switch r {
	case RoleTank, RoleHealer, RoleDPS:
		return true
	}
	return false
}

// BracketKey names a difficulty-depth window. The empty key stands for
// non-bracketed content and is stored as NULL.
type BracketKey string

const (
	BracketNone BracketKey = ""
	BracketLow  BracketKey = "low"
	BracketHigh BracketKey = "high"
)

// NullString converts the key to its column value
func (b BracketKey) NullString() sql.NullString {
	if b == BracketNone {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// MetaKey is the identity of a MetaRecord
type MetaKey struct {
	ClassName   string
	SpecName    string
	EncounterID int
	Bracket     BracketKey
}

// String returns a compact representation used in logs
func (k MetaKey) String() string {
	if k.Bracket == BracketNone {
		return fmt.Sprintf("%s/%s/%d", k.ClassName, k.SpecName, k.EncounterID)
	}
	return fmt.Sprintf("%s/%s/%d/%s", k.ClassName, k.SpecName, k.EncounterID, k.Bracket)
}

// MetaRecord is the aggregated meta score of one class/spec on one encounter
// and bracket
type MetaRecord struct {
	ID          int            `db:"id"`
	ClassName   string         `db:"class_name"`
	SpecName    string         `db:"spec_name"`
	EncounterID int            `db:"encounter_id"`
	BracketKey  sql.NullString `db:"bracket_key"`

	MetaScore        int             `db:"meta_score"`
	SpecRole         SpecRole        `db:"spec_role"`
	AverageRawAmount sql.NullFloat64 `db:"average_raw_amount"`
	MaxBracketLevel  sql.NullInt32   `db:"max_bracket_level"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Key returns the unique identity of the record
func (m *MetaRecord) Key() MetaKey {
	return MetaKey{
		ClassName:   m.ClassName,
		SpecName:    m.SpecName,
		EncounterID: m.EncounterID,
		Bracket:     BracketKey(m.BracketKey.String),
	}
}
