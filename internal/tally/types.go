// Package tally provides the bulk reconciliation engine for zoo census data.
// This package has no transport dependencies and can be used by any frontend.
package tally

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Kind distinguishes the two concrete AnimalSet types.
type Kind string

const (
	KindAnimal Kind = "animal"
	KindGroup  Kind = "group"
)

// Other returns the opposite kind.
func (k Kind) Other() Kind {
	if k == KindAnimal {
		return KindGroup
	}
	return KindAnimal
}

// Sex of an individual animal.
type Sex string

const (
	SexMale    Sex = "M"
	SexFemale  Sex = "F"
	SexUnknown Sex = "U"
)

// Enclosure is a named area animals and groups live in. Name is unique.
type Enclosure struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Species is identified by its unique common name; the taxonomy is updatable.
type Species struct {
	ID          int64  `json:"id"`
	CommonName  string `json:"common_name"`
	ClassName   string `json:"class_name"`
	OrderName   string `json:"order_name"`
	FamilyName  string `json:"family_name"`
	GenusName   string `json:"genus_name"`
	SpeciesName string `json:"species_name"`
}

// AnimalSet is the capability shared by Animal and Group.
// The accession number is unique across both kinds.
type AnimalSet interface {
	Accession() string
	Kind() Kind
	IsActive() bool
	EnclosureLabel() string
	Attributes() map[string]any
}

// Animal is an AnimalSet of exactly one individual.
type Animal struct {
	ID              int64  `json:"id"`
	AccessionNumber string `json:"accession_number"`
	Active          bool   `json:"active"`
	SpeciesID       int64  `json:"species_id"`
	CommonName      string `json:"common_name"`
	EnclosureID     int64  `json:"enclosure_id,omitempty"` // 0 when the enclosure is gone
	EnclosureName   string `json:"enclosure,omitempty"`
	Name            string `json:"name"`
	Identifier      string `json:"identifier"`
	Sex             Sex    `json:"sex"`
}

func (a Animal) Accession() string      { return a.AccessionNumber }
func (a Animal) Kind() Kind             { return KindAnimal }
func (a Animal) IsActive() bool         { return a.Active }
func (a Animal) EnclosureLabel() string { return a.EnclosureName }

// Attributes returns a snapshot of every persisted attribute, used for review.
func (a Animal) Attributes() map[string]any {
	return map[string]any{
		"accession_number": a.AccessionNumber,
		"active":           a.Active,
		"common_name":      a.CommonName,
		"enclosure":        a.EnclosureName,
		"name":             a.Name,
		"identifier":       a.Identifier,
		"sex":              string(a.Sex),
	}
}

// Group is an AnimalSet tracked by sex-disaggregated population counts.
type Group struct {
	ID                int64  `json:"id"`
	AccessionNumber   string `json:"accession_number"`
	Active            bool   `json:"active"`
	SpeciesID         int64  `json:"species_id"`
	CommonName        string `json:"common_name"`
	EnclosureID       int64  `json:"enclosure_id,omitempty"`
	EnclosureName     string `json:"enclosure,omitempty"`
	PopulationMale    int    `json:"population_male"`
	PopulationFemale  int    `json:"population_female"`
	PopulationUnknown int    `json:"population_unknown"`
}

func (g Group) Accession() string      { return g.AccessionNumber }
func (g Group) Kind() Kind             { return KindGroup }
func (g Group) IsActive() bool         { return g.Active }
func (g Group) EnclosureLabel() string { return g.EnclosureName }

// Total returns the whole population of the group.
func (g Group) Total() int {
	return g.PopulationMale + g.PopulationFemale + g.PopulationUnknown
}

// Attributes returns a snapshot of every persisted attribute, used for review.
func (g Group) Attributes() map[string]any {
	return map[string]any{
		"accession_number":   g.AccessionNumber,
		"active":             g.Active,
		"common_name":        g.CommonName,
		"enclosure":          g.EnclosureName,
		"population_male":    g.PopulationMale,
		"population_female":  g.PopulationFemale,
		"population_unknown": g.PopulationUnknown,
		"population_total":   g.Total(),
	}
}

// Repository is the unit of work every pipeline stage runs against.
// Implementations return ErrNotFound from the single-row getters.
type Repository interface {
	GetEnclosure(ctx context.Context, name string) (Enclosure, error)
	EnsureEnclosure(ctx context.Context, e Enclosure) (Enclosure, error)

	GetSpecies(ctx context.Context, commonName string) (Species, error)
	UpsertSpecies(ctx context.Context, sp Species) (Species, error)

	AnimalByAccession(ctx context.Context, accession string) (Animal, error)
	GroupByAccession(ctx context.Context, accession string) (Group, error)

	// ActiveAnimalsIn and ActiveGroupsIn list active entities whose enclosure
	// name is in the given set, ordered by enclosure name then accession.
	ActiveAnimalsIn(ctx context.Context, enclosures []string) ([]Animal, error)
	ActiveGroupsIn(ctx context.Context, enclosures []string) ([]Group, error)

	UpsertAnimal(ctx context.Context, a Animal) (Animal, error)
	UpsertGroup(ctx context.Context, g Group) (Group, error)
	SetAnimalActive(ctx context.Context, accession string, active bool) error
	SetGroupActive(ctx context.Context, accession string, active bool) error

	// DualActiveAccessions lists accession numbers active as both an
	// Animal and a Group. Always empty in a consistent store.
	DualActiveAccessions(ctx context.Context) ([]string, error)

	RecordIngest(ctx context.Context, rec IngestRecord) error
	ListIngests(ctx context.Context, limit int) ([]IngestRecord, error)

	CountRecords(ctx context.Context, f ExportFilter) ([]CountRecord, error)
}

// Store is a Repository that can open a transaction.
// fn's Repository is bound to the transaction; returning an error rolls back.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(Repository) error) error
	Close() error
}

// Slugify derives the URL-safe slug of a name: ASCII only, lowercase,
// runs of anything else collapsed to a single hyphen.
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range norm.NFKD.String(s) {
		switch {
		case r > unicode.MaxASCII:
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingDash = true
		}
	}
	return b.String()
}
