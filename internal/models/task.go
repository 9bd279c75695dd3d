package models

import (
	"fmt"
	"time"
)

// EncounterKind distinguishes timed dungeons from fixed-difficulty bosses
type EncounterKind string

const (
	KindDungeon EncounterKind = "dungeon"
	KindRaid    EncounterKind = "raid"
)

// Encounter is a boss fight or a timed dungeon
type Encounter struct {
	ID   int           `koanf:"id"`
	Name string        `koanf:"name"`
	Kind EncounterKind `koanf:"kind"`
}

// ClassSpec is one playable class/specialization pair
type ClassSpec struct {
	ClassName string   `koanf:"class"`
	SpecName  string   `koanf:"spec"`
	Role      SpecRole `koanf:"role"`
}

// BracketSelector chooses the server-side query variant for a tuple.
// MinLevel is sent upstream; MaxLevel is enforced client-side because the
// ranking service only filters on a lower bound. Zero means unbounded.
type BracketSelector struct {
	Key      BracketKey
	MinLevel int
	MaxLevel int
}

// Bracketed reports whether bracket depth means anything for the selector
func (s BracketSelector) Bracketed() bool {
	return s.Key != BracketNone
}

// String returns a human readable range, e.g. "M+1-12" or "M+12+"
func (s BracketSelector) String() string {
	switch {
	case !s.Bracketed():
		return "no bracket"
	case s.MaxLevel > 0:
		return fmt.Sprintf("M+%d-%d", s.MinLevel, s.MaxLevel)
	default:
		return fmt.Sprintf("M+%d+", s.MinLevel)
	}
}

// Selectors for the two dungeon windows split at threshold, and for raids.
func LowBracket(threshold int) BracketSelector {
	return BracketSelector{Key: BracketLow, MinLevel: 1, MaxLevel: threshold}
}

func HighBracket(threshold int) BracketSelector {
	return BracketSelector{Key: BracketHigh, MinLevel: threshold}
}

func NoBracket() BracketSelector {
	return BracketSelector{Key: BracketNone}
}

// Task is one (class, spec, encounter, bracket) tuple to aggregate
type Task struct {
	ClassSpec
	Encounter Encounter
	Selector  BracketSelector
}

// Key returns the MetaRecord identity the task produces
func (t Task) Key() MetaKey {
	return MetaKey{
		ClassName:   t.ClassName,
		SpecName:    t.SpecName,
		EncounterID: t.Encounter.ID,
		Bracket:     t.Selector.Key,
	}
}

// TaskStatus is the outcome of one task
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskNoData    TaskStatus = "no_data"
	TaskFailed    TaskStatus = "failed"
)

// TaskResult carries a task outcome across the task boundary instead of a
// panic or a bare error.
type TaskResult struct {
	Task   Task
	Status TaskStatus
	Record *MetaRecord
	Err    error
}

// Summary counts the outcomes of one aggregation cycle
type Summary struct {
	CycleID   string        `json:"cycle_id"`
	Succeeded int           `json:"succeeded"`
	NoData    int           `json:"no_data"`
	Failed    int           `json:"failed"`
	Persisted int           `json:"persisted"`
	Duration  time.Duration `json:"duration"`
}

// Total returns the number of tasks the cycle processed
func (s Summary) Total() int {
	return s.Succeeded + s.NoData + s.Failed
}
