package main

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"wowmeta/aggregator/internal/models"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// renderRecords writes one row per record, best score first within each
// encounter and bracket.
func renderRecords(w io.Writer, records []*models.MetaRecord) error {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b *models.MetaRecord) int {
		return cmp.Or(
			cmp.Compare(a.EncounterID, b.EncounterID),
			cmp.Compare(a.BracketKey.String, b.BracketKey.String),
			cmp.Compare(b.MetaScore, a.MetaScore),
			cmp.Compare(a.ClassName, b.ClassName),
			cmp.Compare(a.SpecName, b.SpecName),
		)
	})

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Encounter", "Bracket", "Class", "Spec", "Role", "Score", "Avg Amount", "Max Level"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	data := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		data = append(data, []string{
			strconv.Itoa(r.EncounterID),
			orDash(r.BracketKey.String),
			r.ClassName,
			r.SpecName,
			string(r.SpecRole),
			strconv.Itoa(r.MetaScore),
			formatAmount(r),
			formatLevel(r),
		})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func renderSummary(w io.Writer, s models.Summary) error {
	_, err := fmt.Fprintf(w, "Cycle %s: %d succeeded, %d no data, %d failed, %d persisted in %s\n",
		s.CycleID, s.Succeeded, s.NoData, s.Failed, s.Persisted, s.Duration.Round(time.Millisecond))
	return err
}

func formatAmount(r *models.MetaRecord) string {
	if !r.AverageRawAmount.Valid {
		return "-"
	}
	return strconv.FormatFloat(r.AverageRawAmount.Float64, 'f', 1, 64)
}

func formatLevel(r *models.MetaRecord) string {
	if !r.MaxBracketLevel.Valid {
		return "-"
	}
	return strconv.Itoa(int(r.MaxBracketLevel.Int32))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
