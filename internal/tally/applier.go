package tally

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ApplyResult reports what Apply wrote.
type ApplyResult struct {
	Summary         Summary `json:"summary"`
	SpeciesUpserted int     `json:"species_upserted"`
	Deactivated     int     `json:"deactivated"`
	AlreadyInactive int     `json:"already_inactive"`
	IngestID        string  `json:"ingest_id,omitempty"` // Set by Service.Confirm
}

// Apply materializes a changeset against repo, in this order: enclosures,
// species, animal upserts, group upserts, deletes. It finishes by checking
// that no accession number is active as both kinds.
//
// Apply does not open a transaction; run it inside Store.WithTx so a failure
// leaves nothing behind. Applying the same changeset twice is a no-op the
// second time.
func Apply(ctx context.Context, repo Repository, cs *Changeset) (ApplyResult, error) {
	res := ApplyResult{Summary: cs.Summary()}
	resolver := NewResolver(repo)

	if err := resolver.EnsureEnclosures(ctx, applyEnclosures(cs)); err != nil {
		return res, &ApplyError{Stage: StageEnclosures, Err: err}
	}

	rows := cs.UpsertRows()
	if err := resolver.EnsureSpecies(ctx, rows); err != nil {
		return res, &ApplyError{Stage: StageSpecies, Err: err}
	}
	res.SpeciesUpserted = len(DistinctSpecies(rows))

	for _, row := range upsertRowsOf(cs.Animals) {
		if err := checkKind(row, KindAnimal); err != nil {
			return res, &ApplyError{Stage: StageAnimals, Accession: row.Accession, Err: err}
		}
		a, err := resolver.Animal(ctx, row)
		if err == nil {
			_, err = repo.UpsertAnimal(ctx, a)
		}
		if err != nil {
			return res, &ApplyError{Stage: StageAnimals, Accession: row.Accession, Err: err}
		}
	}
	for _, row := range upsertRowsOf(cs.Groups) {
		if err := checkKind(row, KindGroup); err != nil {
			return res, &ApplyError{Stage: StageGroups, Accession: row.Accession, Err: err}
		}
		g, err := resolver.Group(ctx, row)
		if err == nil {
			_, err = repo.UpsertGroup(ctx, g)
		}
		if err != nil {
			return res, &ApplyError{Stage: StageGroups, Accession: row.Accession, Err: err}
		}
	}

	deletes := []struct {
		actions []Action
		kind    Kind
	}{
		{cs.Animals, KindAnimal},
		{cs.Groups, KindGroup},
	}
	for _, d := range deletes {
		for _, a := range d.actions {
			if a.Op() != OpDelete {
				continue
			}
			changed, err := deactivate(ctx, repo, d.kind, a.Accession())
			if err != nil {
				return res, &ApplyError{Stage: StageDeletes, Accession: a.Accession(), Err: err}
			}
			if changed {
				res.Deactivated++
			} else {
				res.AlreadyInactive++
			}
		}
	}

	dual, err := repo.DualActiveAccessions(ctx)
	if err != nil {
		return res, &ApplyError{Stage: StageInvariant, Err: err}
	}
	if len(dual) > 0 {
		return res, &ApplyError{
			Stage:     StageInvariant,
			Accession: dual[0],
			Err:       fmt.Errorf("%w: %s", ErrCrossKindAccession, strings.Join(dual, ", ")),
		}
	}
	return res, nil
}

// applyEnclosures returns the changeset's enclosures plus any enclosure an
// upsert row names, sorted.
func applyEnclosures(cs *Changeset) []string {
	seen := make(map[string]struct{}, len(cs.Enclosures))
	var names []string
	add := func(n string) {
		if _, ok := seen[n]; ok || n == "" {
			return
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	for _, n := range cs.Enclosures {
		add(n)
	}
	for _, r := range cs.UpsertRows() {
		add(r.Enclosure)
	}
	sort.Strings(names)
	return names
}

// checkKind rejects a row whose population does not fit the list it sits in.
func checkKind(row Row, want Kind) error {
	if got, ok := KindOf(row); !ok || got != want {
		return fmt.Errorf("%w: %s row with population %d", ErrKindMismatch, want, row.Population())
	}
	return nil
}

func upsertRowsOf(actions []Action) []Row {
	var rows []Row
	for _, a := range actions {
		switch act := a.(type) {
		case AddAction:
			rows = append(rows, act.Row)
		case UpdateAction:
			rows = append(rows, act.Row)
		}
	}
	return rows
}

// deactivate flips active to false. It reports false when the entity was
// already inactive and a *ReferenceError when it does not exist.
func deactivate(ctx context.Context, repo Repository, kind Kind, accession string) (bool, error) {
	var (
		active bool
		err    error
	)
	switch kind {
	case KindAnimal:
		var a Animal
		a, err = repo.AnimalByAccession(ctx, accession)
		active = a.Active
	case KindGroup:
		var g Group
		g, err = repo.GroupByAccession(ctx, accession)
		active = g.Active
	}
	if errors.Is(err, ErrNotFound) {
		return false, &ReferenceError{Entity: string(kind), Key: accession}
	}
	if err != nil {
		return false, err
	}
	if !active {
		return false, nil
	}

	if kind == KindAnimal {
		err = repo.SetAnimalActive(ctx, accession, false)
	} else {
		err = repo.SetGroupActive(ctx, accession, false)
	}
	return err == nil, err
}
