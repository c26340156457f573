package tally

import "strings"

// Spreadsheet column names. Matching is case-sensitive.
const (
	ColEnclosure         = "Enclosure"
	ColAccession         = "Accession"
	ColCommon            = "Common"
	ColClass             = "Class"
	ColOrder             = "Order"
	ColFamily            = "Family"
	ColGenus             = "GSS"
	ColSpecies           = "Species"
	ColSex               = "Sex"
	ColIdentifiers       = "Identifiers"
	ColPopulationMale    = "Population _Male"
	ColPopulationFemale  = "Population _Female"
	ColPopulationUnknown = "Population _Unknown"
)

// FieldType represents the expected data type for a spreadsheet column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldCount
)

// FieldSpec defines one column of the tracks spreadsheet.
type FieldSpec struct {
	Name     string    // Column header name (must match exactly)
	Type     FieldType // Expected data type
	NonEmpty bool      // Every row must carry a value
}

// TrackColumns is the column contract of an upload, in template order.
var TrackColumns = []FieldSpec{
	{Name: ColEnclosure, Type: FieldText, NonEmpty: true},
	{Name: ColAccession, Type: FieldText, NonEmpty: true},
	{Name: ColCommon, Type: FieldText, NonEmpty: true},
	{Name: ColClass, Type: FieldText},
	{Name: ColOrder, Type: FieldText},
	{Name: ColFamily, Type: FieldText},
	{Name: ColGenus, Type: FieldText},
	{Name: ColSpecies, Type: FieldText},
	{Name: ColSex, Type: FieldText},
	{Name: ColIdentifiers, Type: FieldText},
	{Name: ColPopulationMale, Type: FieldCount},
	{Name: ColPopulationFemale, Type: FieldCount},
	{Name: ColPopulationUnknown, Type: FieldCount},
}

// RequiredColumns returns the names of TrackColumns.
func RequiredColumns() []string {
	names := make([]string, len(TrackColumns))
	for i, spec := range TrackColumns {
		names[i] = spec.Name
	}
	return names
}

// HeaderIndex maps column names to their position in a row.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from a header row.
// Names are trimmed but keep their case; the first occurrence wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if _, dup := idx[h]; !dup && h != "" {
			idx[h] = i
		}
	}
	return idx
}

// Cell returns the trimmed value of a column in a row, or "" when the column
// or the cell is absent.
func (h HeaderIndex) Cell(row []string, col string) string {
	pos, ok := h[col]
	if !ok || pos >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[pos])
}

// Missing returns the columns of specs absent from the index, in column order.
func (h HeaderIndex) Missing(specs []FieldSpec) []string {
	var missing []string
	for _, spec := range specs {
		if _, ok := h[spec.Name]; !ok {
			missing = append(missing, spec.Name)
		}
	}
	return missing
}
