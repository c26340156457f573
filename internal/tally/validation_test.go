package tally

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(line int, enclosure, accession, common string, m, f, u int) Row {
	return Row{
		Line:              line,
		Enclosure:         enclosure,
		Accession:         accession,
		CommonName:        common,
		PopulationMale:    m,
		PopulationFemale:  f,
		PopulationUnknown: u,
	}
}

func TestValidateTable(t *testing.T) {
	tests := []struct {
		name      string
		rows      []Row
		width     int
		wantCode  ValidationCode
		wantField string
		wantLines []int
	}{
		{
			name: "valid",
			rows: []Row{
				row(2, "enc1", "111111", "Lion", 1, 0, 0),
				row(3, "enc1", "111112", "Meerkat", 2, 3, 0),
			},
		},
		{
			name:     "no rows",
			wantCode: CodeNoData,
		},
		{
			name: "blank enclosure",
			rows: []Row{
				row(2, "enc1", "111111", "Lion", 1, 0, 0),
				row(3, "", "111112", "Lion", 1, 0, 0),
			},
			wantCode:  CodeRequiredField,
			wantField: ColEnclosure,
			wantLines: []int{3},
		},
		{
			name: "blank common name",
			rows: []Row{
				row(2, "enc1", "111111", "", 1, 0, 0),
			},
			wantCode:  CodeRequiredField,
			wantField: ColCommon,
			wantLines: []int{2},
		},
		{
			name: "short and long accessions",
			rows: []Row{
				row(2, "enc1", "11111", "Lion", 1, 0, 0),
				row(3, "enc1", "111112", "Lion", 1, 0, 0),
				row(4, "enc1", "1111113", "Lion", 1, 0, 0),
				row(5, "enc1", "", "Lion", 1, 0, 0),
			},
			wantCode:  CodeAccessionLength,
			wantField: ColAccession,
			wantLines: []int{2, 4, 5},
		},
		{
			name: "custom width",
			rows: []Row{
				row(2, "enc1", "1234", "Lion", 1, 0, 0),
			},
			width: 4,
		},
		{
			name: "duplicate accessions",
			rows: []Row{
				row(2, "enc1", "111111", "Lion", 1, 0, 0),
				row(3, "enc2", "111112", "Lion", 1, 0, 0),
				row(4, "enc2", "111111", "Lion", 1, 0, 0),
				row(5, "enc1", "111112", "Lion", 1, 0, 0),
			},
			wantCode:  CodeDuplicateAccession,
			wantField: ColAccession,
			wantLines: []int{2, 3, 4, 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTable(&Table{Rows: tt.rows}, tt.width)
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantCode, verr.Code)
			assert.Equal(t, tt.wantField, verr.Field)
			if tt.wantLines != nil {
				assert.Equal(t, tt.wantLines, verr.Lines)
			}
		})
	}
}

func TestValidateTable_DuplicateValues(t *testing.T) {
	err := ValidateTable(&Table{Rows: []Row{
		row(2, "enc1", "222222", "Lion", 1, 0, 0),
		row(3, "enc1", "111111", "Lion", 1, 0, 0),
		row(4, "enc1", "222222", "Lion", 1, 0, 0),
		row(5, "enc1", "111111", "Lion", 1, 0, 0),
		row(6, "enc1", "111111", "Lion", 1, 0, 0),
	}}, 0)
	require.ErrorIs(t, err, ErrDuplicateAccession)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"111111", "222222"}, verr.Values)
	assert.Equal(t, []int{2, 3, 4, 5, 6}, verr.Lines)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Code:    CodeAccessionLength,
		Field:   ColAccession,
		Message: "accession numbers should have exactly 6 characters",
		Lines:   []int{2, 4},
		Values:  []string{`"11111"`},
	}
	assert.Equal(t, `validation: accession numbers should have exactly 6 characters (column "Accession"): "11111" on lines 2, 4`, err.Error())

	many := make([]int, 25)
	for i := range many {
		many[i] = i + 2
	}
	msg := (&ValidationError{Code: CodeEmptyPopulation, Lines: many}).Error()
	assert.Contains(t, msg, "validation: empty population on lines 2, 3")
	assert.Contains(t, msg, "and 5 more")
}

func TestClassify(t *testing.T) {
	rows := []Row{
		row(2, "enc1", "111111", "Lion", 0, 1, 0),
		row(3, "enc1", "111112", "Meerkat", 3, 2, 0),
		row(4, "enc1", "111113", "Lion", 0, 0, 1),
		row(5, "enc1", "111114", "Ant", 0, 0, 200),
	}
	individuals, groups, err := Classify(rows)
	require.NoError(t, err)
	require.Len(t, individuals, 2)
	require.Len(t, groups, 2)
	assert.Equal(t, "111111", individuals[0].Accession)
	assert.Equal(t, "111113", individuals[1].Accession)
	assert.Equal(t, "111112", groups[0].Accession)
	assert.Equal(t, "111114", groups[1].Accession)

	kind, ok := KindOf(rows[1])
	assert.True(t, ok)
	assert.Equal(t, KindGroup, kind)
}

func TestClassify_EmptyPopulation(t *testing.T) {
	rows := []Row{
		row(2, "enc1", "111111", "Lion", 0, 1, 0),
		row(3, "enc1", "111112", "Meerkat", 0, 0, 0),
		row(4, "enc1", "111113", "Meerkat", 0, 0, 0),
	}
	_, _, err := Classify(rows)
	require.ErrorIs(t, err, ErrEmptyPopulation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []int{3, 4}, verr.Lines)

	_, ok := KindOf(rows[1])
	assert.False(t, ok)
}

func TestParseIdentifiers(t *testing.T) {
	tests := []struct {
		in        string
		wantTags  string
		wantNames string
	}{
		{"", "", ""},
		{"Tag/Band:A12, Internal House Name:Rosie", "A12", "Rosie"},
		{"Internal House Name:Big Ben, Tag/Band:#7", "#7", "Big Ben"},
		{"Tag/Band:A1, Tag/Band:B2", "A1,B2", ""},
		{"notes only", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.wantTags, ParseTags(tt.in))
			assert.Equal(t, tt.wantNames, ParseHouseNames(tt.in))
		})
	}
}

func TestResolveSex(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want Sex
	}{
		{"explicit female", Row{Sex: "F", PopulationMale: 1}, SexFemale},
		{"explicit male word", Row{Sex: "male"}, SexMale},
		{"explicit other", Row{Sex: "X", PopulationFemale: 1}, SexUnknown},
		{"female count", Row{PopulationFemale: 1}, SexFemale},
		{"male count", Row{PopulationMale: 1}, SexMale},
		{"unknown count", Row{PopulationUnknown: 1}, SexUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveSex(tt.row))
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Savanna":           "savanna",
		"Reptile House":     "reptile-house",
		"  Big  Cat  Row ":  "big-cat-row",
		"Café Aviary":       "cafe-aviary",
		"Enclosure #12 (B)": "enclosure-12-b",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{" Enclosure ", "Accession", "Accession", "", "common"})
	assert.Equal(t, 0, idx["Enclosure"])
	assert.Equal(t, 1, idx["Accession"])
	_, ok := idx["Common"]
	assert.False(t, ok, "header matching is case-sensitive")

	assert.Equal(t, "x", idx.Cell([]string{" x ", "y"}, "Enclosure"))
	assert.Equal(t, "", idx.Cell([]string{"x"}, "Accession"))
	assert.Equal(t, "", idx.Cell([]string{"x"}, "Missing"))
}
