package tally

// reader.go loads an uploaded tracks spreadsheet into a typed Table.
//
// Two formats are accepted, chosen by file extension:
//   - .xlsx: first worksheet, read with excelize
//   - .csv:  UTF-8 (a leading BOM is dropped, invalid bytes become '?')
//
// ReadTable checks the column contract and cell types only. Cross-row rules
// (accession width, duplicates) live in ValidateTable so callers can run
// them as a separate pass before classification.

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// Row is one data row of an upload, with cells already trimmed.
type Row struct {
	Line              int    `json:"line"` // Spreadsheet line number (header is 1)
	Enclosure         string `json:"enclosure"`
	Accession         string `json:"accession"`
	CommonName        string `json:"common_name"`
	ClassName         string `json:"class_name"`
	OrderName         string `json:"order_name"`
	FamilyName        string `json:"family_name"`
	GenusName         string `json:"genus_name"`
	SpeciesName       string `json:"species_name"`
	Sex               string `json:"sex"`
	Identifiers       string `json:"identifiers"`
	PopulationMale    int    `json:"population_male"`
	PopulationFemale  int    `json:"population_female"`
	PopulationUnknown int    `json:"population_unknown"`
}

// Population returns the sum of the three population sub-counts.
func (r Row) Population() int {
	return r.PopulationMale + r.PopulationFemale + r.PopulationUnknown
}

// Species returns the taxonomy described by the row.
func (r Row) Species() Species {
	return Species{
		CommonName:  r.CommonName,
		ClassName:   r.ClassName,
		OrderName:   r.OrderName,
		FamilyName:  r.FamilyName,
		GenusName:   r.GenusName,
		SpeciesName: r.SpeciesName,
	}
}

// Table is a parsed upload.
type Table struct {
	FileName string
	Header   []string
	Rows     []Row
}

// Accessions returns the set of accession numbers present anywhere in the table.
func (t *Table) Accessions() map[string]struct{} {
	set := make(map[string]struct{}, len(t.Rows))
	for _, r := range t.Rows {
		set[r.Accession] = struct{}{}
	}
	return set
}

// ReadTable parses an upload. name is only used to pick the format.
func ReadTable(name string, r io.Reader) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm":
		records, err = readXLSX(r)
	case ".csv":
		records, err = readCSV(r)
	default:
		return nil, &ValidationError{
			Code:    CodeUnsupportedFormat,
			Message: "unsupported file type",
			Values:  []string{ext},
		}
	}
	if err != nil {
		return nil, &ValidationError{Code: CodeUnreadable, Message: "could not read file", Err: err}
	}
	return parseRecords(name, records)
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	return f.GetRows(sheets[0])
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("?"))
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	return cr.ReadAll()
}

func parseRecords(name string, records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, &ValidationError{Code: CodeNoData, Message: "no data found in file"}
	}

	idx := MakeHeaderIndex(records[0])
	if missing := idx.Missing(TrackColumns); len(missing) > 0 {
		return nil, &ValidationError{
			Code:    CodeMissingColumns,
			Message: "not all columns found in file",
			Values:  missing,
		}
	}

	t := &Table{FileName: name, Header: records[0]}
	var (
		badLines  []int
		badValues []string
	)
	for i, rec := range records[1:] {
		if isBlankRecord(rec) {
			continue
		}
		line := i + 2
		row := Row{
			Line:        line,
			Enclosure:   idx.Cell(rec, ColEnclosure),
			Accession:   NormalizeAccession(idx.Cell(rec, ColAccession)),
			CommonName:  idx.Cell(rec, ColCommon),
			ClassName:   idx.Cell(rec, ColClass),
			OrderName:   idx.Cell(rec, ColOrder),
			FamilyName:  idx.Cell(rec, ColFamily),
			GenusName:   idx.Cell(rec, ColGenus),
			SpeciesName: idx.Cell(rec, ColSpecies),
			Sex:         idx.Cell(rec, ColSex),
			Identifiers: idx.Cell(rec, ColIdentifiers),
		}

		counts := []struct {
			col string
			dst *int
		}{
			{ColPopulationMale, &row.PopulationMale},
			{ColPopulationFemale, &row.PopulationFemale},
			{ColPopulationUnknown, &row.PopulationUnknown},
		}
		rowBad := false
		for _, c := range counts {
			raw := idx.Cell(rec, c.col)
			n, err := ParseCount(raw)
			if err != nil {
				badValues = append(badValues, fmt.Sprintf("%s=%q", c.col, raw))
				rowBad = true
				continue
			}
			*c.dst = n
		}
		if rowBad {
			badLines = append(badLines, line)
		}
		t.Rows = append(t.Rows, row)
	}

	if len(badLines) > 0 {
		return nil, &ValidationError{
			Code:    CodeInvalidNumber,
			Message: "population counts must be whole numbers of zero or more",
			Lines:   badLines,
			Values:  badValues,
		}
	}
	if len(t.Rows) == 0 {
		return nil, &ValidationError{Code: CodeNoData, Message: "no data found in file"}
	}
	return t, nil
}

func isBlankRecord(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

var floatRendering = regexp.MustCompile(`^(\d+)\.0+$`)

// NormalizeAccession keeps an accession number as text. A spreadsheet float
// rendering such as "111111.0" is reduced to "111111"; leading zeros survive.
func NormalizeAccession(s string) string {
	s = strings.TrimSpace(s)
	if m := floatRendering.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// ParseCount parses a population cell. Blank is zero; "3" and "3.0" are 3.
func ParseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative count %d", n)
		}
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("count too large: %q", s)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("not a whole count: %q", s)
	}
	return int(f), nil
}
