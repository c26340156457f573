package tally

// export.go renders recorded counts as a spreadsheet.
//
// Counts are recorded elsewhere; this package only reads them. For each
// entity and day the first count of the day is exported, and animal, group
// and species counts are merged into one sheet with a shared accession column.

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportFilter selects count records by enclosure and counting date.
// Start and End are inclusive calendar dates.
type ExportFilter struct {
	Enclosures []string
	Start      time.Time
	End        time.Time
}

// Validate checks the filter is usable.
func (f ExportFilter) Validate() error {
	if len(f.Enclosures) == 0 {
		return fmt.Errorf("export: at least one enclosure is required")
	}
	if f.Start.IsZero() || f.End.IsZero() {
		return fmt.Errorf("export: start and end dates are required")
	}
	if f.End.Before(f.Start) {
		return fmt.Errorf("export: end date %s is before start date %s",
			f.End.Format(DateLayout), f.Start.Format(DateLayout))
	}
	return nil
}

// DateLayout is the calendar date format used by filters and exports.
const DateLayout = "2006-01-02"

// CountKind tells which entity a count record belongs to.
type CountKind string

const (
	CountAnimal  CountKind = "animal"
	CountGroup   CountKind = "group"
	CountSpecies CountKind = "species"
)

// CountRecord is one recorded count joined with its entity and taxonomy.
type CountRecord struct {
	Kind            CountKind
	Enclosure       string
	CountedAt       time.Time
	CountedBy       string
	AccessionNumber string // Empty for species counts
	Species         Species
	Condition       string // Animal counts only
	Count           int
	CountMale       int
	CountFemale     int
	CountUnknown    int
}

// ExportColumns is the header row of an export.
var ExportColumns = []string{
	"enclosure", "date", "time", "counted_by",
	"common_name", "class", "order", "family", "genus", "species",
	"accession_number", "kind", "condition",
	"count", "count_male", "count_female", "count_unknown",
}

const exportSheet = "Sheet1"

// WriteExport writes records as an xlsx workbook. Timestamps are converted
// to loc and split into date and time-of-day without a zone.
func WriteExport(w io.Writer, records []CountRecord, loc *time.Location) error {
	if len(records) == 0 {
		return ErrNoExportData
	}
	if loc == nil {
		loc = time.Local
	}

	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return fmt.Errorf("export: open sheet: %w", err)
	}
	header := make([]any, len(ExportColumns))
	for i, c := range ExportColumns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("export: header: %w", err)
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		local := rec.CountedAt.In(loc)
		row := []any{
			rec.Enclosure,
			local.Format(DateLayout),
			local.Format("15:04:05"),
			rec.CountedBy,
			rec.Species.CommonName,
			rec.Species.ClassName,
			rec.Species.OrderName,
			rec.Species.FamilyName,
			rec.Species.GenusName,
			rec.Species.SpeciesName,
			rec.AccessionNumber,
			string(rec.Kind),
			rec.Condition,
			rec.Count,
			rec.CountMale,
			rec.CountFemale,
			rec.CountUnknown,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("export: row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write: %w", err)
	}
	return nil
}

// ExportFileName names an export after its enclosure slugs and date range.
func ExportFileName(f ExportFilter) string {
	slugs := make([]string, len(f.Enclosures))
	for i, e := range f.Enclosures {
		slugs[i] = Slugify(e)
	}
	return fmt.Sprintf("zootally_export_%s_%s_%s.xlsx",
		strings.Join(slugs, "_"), f.Start.Format("20060102"), f.End.Format("20060102"))
}
