package tally

// builder.go computes the changeset for an upload.
//
// The enclosures named in the upload are the scope of truth: every active
// entity in them that the upload does not mention is deleted, and enclosures
// the upload does not mention are left alone. Rows are matched to persisted
// entities by accession number within their own kind. An accession that
// switches kind yields a delete of the old kind next to the add of the new one.
//
// The builder only reads. Missing enclosures and species are created later,
// by Apply.

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// BuildChangeset diffs a validated table against the persisted store.
func BuildChangeset(ctx context.Context, repo Repository, t *Table) (*Changeset, error) {
	if t == nil {
		return nil, &ValidationError{Code: CodeNoData, Message: "no data found in file"}
	}
	enclosures, err := uploadedEnclosures(t)
	if err != nil {
		return nil, err
	}

	individuals, groups, err := Classify(t.Rows)
	if err != nil {
		return nil, err
	}
	uploaded := t.Accessions()

	animalActions, err := diffKind(ctx, individuals, func(acc string) (Animal, error) {
		return repo.AnimalByAccession(ctx, acc)
	}, diffAnimal)
	if err != nil {
		return nil, fmt.Errorf("diff animals: %w", err)
	}
	groupActions, err := diffKind(ctx, groups, func(acc string) (Group, error) {
		return repo.GroupByAccession(ctx, acc)
	}, diffGroup)
	if err != nil {
		return nil, fmt.Errorf("diff groups: %w", err)
	}

	activeAnimals, err := repo.ActiveAnimalsIn(ctx, enclosures)
	if err != nil {
		return nil, fmt.Errorf("list active animals: %w", err)
	}
	activeGroups, err := repo.ActiveGroupsIn(ctx, enclosures)
	if err != nil {
		return nil, fmt.Errorf("list active groups: %w", err)
	}
	animalActions = append(animalActions, absentDeletes(activeAnimals, uploaded)...)
	groupActions = append(groupActions, absentDeletes(activeGroups, uploaded)...)

	// Kind transitions: a row of one kind retires an active entity of the other.
	staleGroups, err := transitionDeletes(individuals, func(acc string) (Group, error) {
		return repo.GroupByAccession(ctx, acc)
	})
	if err != nil {
		return nil, fmt.Errorf("scan group transitions: %w", err)
	}
	staleAnimals, err := transitionDeletes(groups, func(acc string) (Animal, error) {
		return repo.AnimalByAccession(ctx, acc)
	})
	if err != nil {
		return nil, fmt.Errorf("scan animal transitions: %w", err)
	}
	animalActions = append(animalActions, staleAnimals...)
	groupActions = append(groupActions, staleGroups...)

	sortByEnclosure(animalActions)
	sortByEnclosure(groupActions)

	return &Changeset{
		Animals:    animalActions,
		Groups:     groupActions,
		Enclosures: enclosures,
	}, nil
}

func uploadedEnclosures(t *Table) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	var blank []int
	for _, r := range t.Rows {
		if r.Enclosure == "" {
			blank = append(blank, r.Line)
			continue
		}
		if _, ok := seen[r.Enclosure]; !ok {
			seen[r.Enclosure] = struct{}{}
			names = append(names, r.Enclosure)
		}
	}
	if len(blank) > 0 {
		return nil, &ValidationError{Code: CodeRequiredField, Field: ColEnclosure, Message: "required field is empty", Lines: blank}
	}
	sort.Strings(names)
	return names, nil
}

// diffKind emits an add or update per row, depending on whether an entity of
// the same kind already carries the accession number, active or not.
func diffKind[T AnimalSet](ctx context.Context, rows []Row, lookup func(string) (T, error), diff func(T, Row) []string) ([]Action, error) {
	actions := make([]Action, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		existing, err := lookup(row.Accession)
		switch {
		case errors.Is(err, ErrNotFound):
			actions = append(actions, AddAction{Row: row})
		case err != nil:
			return nil, fmt.Errorf("accession %s: %w", row.Accession, err)
		default:
			actions = append(actions, UpdateAction{Row: row, Changed: diff(existing, row)})
		}
	}
	return actions, nil
}

func absentDeletes[T AnimalSet](active []T, uploaded map[string]struct{}) []Action {
	var actions []Action
	for _, e := range active {
		if _, ok := uploaded[e.Accession()]; ok {
			continue
		}
		actions = append(actions, DeleteAction[T]{Snapshot: e})
	}
	return actions
}

func transitionDeletes[T AnimalSet](rows []Row, lookup func(string) (T, error)) ([]Action, error) {
	var actions []Action
	for _, row := range rows {
		other, err := lookup(row.Accession)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("accession %s: %w", row.Accession, err)
		}
		if other.IsActive() {
			actions = append(actions, DeleteAction[T]{Snapshot: other})
		}
	}
	return actions, nil
}

// sortByEnclosure orders actions by enclosure name, keeping row order within
// an enclosure.
func sortByEnclosure(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Enclosure() < actions[j].Enclosure()
	})
}

func diffAnimal(a Animal, row Row) []string {
	var changed []string
	if !a.Active {
		changed = append(changed, "active")
	}
	if a.CommonName != row.CommonName {
		changed = append(changed, "common_name")
	}
	if a.EnclosureName != row.Enclosure {
		changed = append(changed, "enclosure")
	}
	if a.Name != ParseHouseNames(row.Identifiers) {
		changed = append(changed, "name")
	}
	if a.Identifier != ParseTags(row.Identifiers) {
		changed = append(changed, "identifier")
	}
	if a.Sex != ResolveSex(row) {
		changed = append(changed, "sex")
	}
	return changed
}

func diffGroup(g Group, row Row) []string {
	var changed []string
	if !g.Active {
		changed = append(changed, "active")
	}
	if g.CommonName != row.CommonName {
		changed = append(changed, "common_name")
	}
	if g.EnclosureName != row.Enclosure {
		changed = append(changed, "enclosure")
	}
	if g.PopulationMale != row.PopulationMale {
		changed = append(changed, "population_male")
	}
	if g.PopulationFemale != row.PopulationFemale {
		changed = append(changed, "population_female")
	}
	if g.PopulationUnknown != row.PopulationUnknown {
		changed = append(changed, "population_unknown")
	}
	return changed
}
