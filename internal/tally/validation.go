package tally

// validation.go runs the cross-row checks on a parsed Table.
//
// Every check reports all offending lines at once so the uploader can fix the
// sheet in one pass. Checks run in a fixed order and the first failing check
// is returned:
//  1. Required cells: enclosure and common name on every row
//  2. Accession width
//  3. Duplicate accession numbers

import (
	"fmt"
	"sort"
)

// DefaultAccessionWidth is the observed width of accession numbers.
const DefaultAccessionWidth = 6

// ValidateTable checks t against the row-level rules. width <= 0 selects
// DefaultAccessionWidth.
func ValidateTable(t *Table, width int) error {
	if t == nil || len(t.Rows) == 0 {
		return &ValidationError{Code: CodeNoData, Message: "no data found in file"}
	}
	if width <= 0 {
		width = DefaultAccessionWidth
	}

	if err := checkRequired(t); err != nil {
		return err
	}
	if err := checkAccessionWidth(t, width); err != nil {
		return err
	}
	return checkDuplicates(t)
}

func checkRequired(t *Table) error {
	for _, spec := range TrackColumns {
		if !spec.NonEmpty || spec.Name == ColAccession {
			continue
		}
		var lines []int
		for _, r := range t.Rows {
			if cellOf(r, spec.Name) == "" {
				lines = append(lines, r.Line)
			}
		}
		if len(lines) > 0 {
			return &ValidationError{
				Code:    CodeRequiredField,
				Field:   spec.Name,
				Message: "required field is empty",
				Lines:   lines,
			}
		}
	}
	return nil
}

func checkAccessionWidth(t *Table, width int) error {
	var (
		lines  []int
		values []string
	)
	for _, r := range t.Rows {
		if len([]rune(r.Accession)) != width {
			lines = append(lines, r.Line)
			values = append(values, fmt.Sprintf("%q", r.Accession))
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return &ValidationError{
		Code:    CodeAccessionLength,
		Field:   ColAccession,
		Message: fmt.Sprintf("accession numbers should have exactly %d characters", width),
		Lines:   lines,
		Values:  values,
	}
}

func checkDuplicates(t *Table) error {
	seen := make(map[string]int, len(t.Rows))
	dupLines := make(map[string][]int)
	for _, r := range t.Rows {
		if first, ok := seen[r.Accession]; ok {
			if len(dupLines[r.Accession]) == 0 {
				dupLines[r.Accession] = append(dupLines[r.Accession], first)
			}
			dupLines[r.Accession] = append(dupLines[r.Accession], r.Line)
			continue
		}
		seen[r.Accession] = r.Line
	}
	if len(dupLines) == 0 {
		return nil
	}

	accs := make([]string, 0, len(dupLines))
	for acc := range dupLines {
		accs = append(accs, acc)
	}
	sort.Strings(accs)

	var lines []int
	for _, acc := range accs {
		lines = append(lines, dupLines[acc]...)
	}
	sort.Ints(lines)
	return &ValidationError{
		Code:    CodeDuplicateAccession,
		Field:   ColAccession,
		Message: "accession number appears more than once",
		Lines:   lines,
		Values:  accs,
	}
}

// cellOf returns the text value of a named column of a parsed row.
func cellOf(r Row, col string) string {
	switch col {
	case ColEnclosure:
		return r.Enclosure
	case ColAccession:
		return r.Accession
	case ColCommon:
		return r.CommonName
	case ColClass:
		return r.ClassName
	case ColOrder:
		return r.OrderName
	case ColFamily:
		return r.FamilyName
	case ColGenus:
		return r.GenusName
	case ColSpecies:
		return r.SpeciesName
	case ColSex:
		return r.Sex
	case ColIdentifiers:
		return r.Identifiers
	}
	return ""
}
