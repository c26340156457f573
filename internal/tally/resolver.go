package tally

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Resolver creates and looks up the enclosures and species rows refer to.
// Lookups are cached for the Resolver's lifetime, so one Resolver should be
// scoped to one unit of work.
type Resolver struct {
	repo       Repository
	enclosures map[string]Enclosure
	species    map[string]Species
}

// NewResolver binds a Resolver to a unit of work.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{
		repo:       repo,
		enclosures: make(map[string]Enclosure),
		species:    make(map[string]Species),
	}
}

// EnsureEnclosures creates every named enclosure that does not exist yet.
// Existing enclosures are left untouched.
func (r *Resolver) EnsureEnclosures(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, ok := r.enclosures[name]; ok {
			continue
		}
		enc, err := r.repo.EnsureEnclosure(ctx, Enclosure{Name: name, Slug: Slugify(name)})
		if err != nil {
			return fmt.Errorf("ensure enclosure %q: %w", name, err)
		}
		r.enclosures[name] = enc
	}
	return nil
}

// DistinctSpecies returns one Species per common name in rows. Rows are taken
// in upload order (by Line), so the last row naming a species supplies its
// taxonomy. The result is ordered by each name's first appearance.
func DistinctSpecies(rows []Row) []Species {
	ordered := make([]Row, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Line < ordered[j].Line })

	index := make(map[string]int, len(ordered))
	var out []Species
	for _, row := range ordered {
		if i, ok := index[row.CommonName]; ok {
			out[i] = row.Species()
			continue
		}
		index[row.CommonName] = len(out)
		out = append(out, row.Species())
	}
	return out
}

// EnsureSpecies upserts the species described by rows, matched by common name.
// When one common name carries several descriptions the last uploaded row wins.
func (r *Resolver) EnsureSpecies(ctx context.Context, rows []Row) error {
	for _, sp := range DistinctSpecies(rows) {
		saved, err := r.repo.UpsertSpecies(ctx, sp)
		if err != nil {
			return fmt.Errorf("upsert species %q: %w", sp.CommonName, err)
		}
		r.species[saved.CommonName] = saved
	}
	return nil
}

// Enclosure returns the named enclosure or a *ReferenceError.
func (r *Resolver) Enclosure(ctx context.Context, name string) (Enclosure, error) {
	if enc, ok := r.enclosures[name]; ok {
		return enc, nil
	}
	enc, err := r.repo.GetEnclosure(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return Enclosure{}, &ReferenceError{Entity: "enclosure", Key: name}
	}
	if err != nil {
		return Enclosure{}, fmt.Errorf("get enclosure %q: %w", name, err)
	}
	r.enclosures[name] = enc
	return enc, nil
}

// Species returns the species with the given common name or a *ReferenceError.
func (r *Resolver) Species(ctx context.Context, commonName string) (Species, error) {
	if sp, ok := r.species[commonName]; ok {
		return sp, nil
	}
	sp, err := r.repo.GetSpecies(ctx, commonName)
	if errors.Is(err, ErrNotFound) {
		return Species{}, &ReferenceError{Entity: "species", Key: commonName}
	}
	if err != nil {
		return Species{}, fmt.Errorf("get species %q: %w", commonName, err)
	}
	r.species[commonName] = sp
	return sp, nil
}

// Animal builds the Animal an individual row describes.
func (r *Resolver) Animal(ctx context.Context, row Row) (Animal, error) {
	sp, enc, err := r.refs(ctx, row)
	if err != nil {
		return Animal{}, err
	}
	return Animal{
		AccessionNumber: row.Accession,
		Active:          true,
		SpeciesID:       sp.ID,
		CommonName:      sp.CommonName,
		EnclosureID:     enc.ID,
		EnclosureName:   enc.Name,
		Name:            ParseHouseNames(row.Identifiers),
		Identifier:      ParseTags(row.Identifiers),
		Sex:             ResolveSex(row),
	}, nil
}

// Group builds the Group a group row describes.
func (r *Resolver) Group(ctx context.Context, row Row) (Group, error) {
	sp, enc, err := r.refs(ctx, row)
	if err != nil {
		return Group{}, err
	}
	return Group{
		AccessionNumber:   row.Accession,
		Active:            true,
		SpeciesID:         sp.ID,
		CommonName:        sp.CommonName,
		EnclosureID:       enc.ID,
		EnclosureName:     enc.Name,
		PopulationMale:    row.PopulationMale,
		PopulationFemale:  row.PopulationFemale,
		PopulationUnknown: row.PopulationUnknown,
	}, nil
}

func (r *Resolver) refs(ctx context.Context, row Row) (Species, Enclosure, error) {
	sp, err := r.Species(ctx, row.CommonName)
	if err != nil {
		return Species{}, Enclosure{}, err
	}
	enc, err := r.Enclosure(ctx, row.Enclosure)
	if err != nil {
		return Species{}, Enclosure{}, err
	}
	return sp, enc, nil
}
