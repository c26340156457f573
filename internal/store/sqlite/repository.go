package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/zootally/internal/tally"
)

// timeLayout stores timestamps as sortable UTC text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// repo implements tally.Repository over a querier.
type repo struct {
	q querier
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return tally.ErrNotFound
	}
	return err
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

func (r *repo) GetEnclosure(ctx context.Context, name string) (tally.Enclosure, error) {
	var e tally.Enclosure
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, slug FROM enclosures WHERE name = ?`, name,
	).Scan(&e.ID, &e.Name, &e.Slug)
	return e, notFound(err)
}

func (r *repo) EnsureEnclosure(ctx context.Context, e tally.Enclosure) (tally.Enclosure, error) {
	if e.Slug == "" {
		e.Slug = tally.Slugify(e.Name)
	}
	if _, err := r.q.ExecContext(ctx,
		`INSERT INTO enclosures (name, slug) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		e.Name, e.Slug,
	); err != nil {
		return tally.Enclosure{}, err
	}
	return r.GetEnclosure(ctx, e.Name)
}

func (r *repo) GetSpecies(ctx context.Context, commonName string) (tally.Species, error) {
	var sp tally.Species
	err := r.q.QueryRowContext(ctx, `
		SELECT id, common_name, class_name, order_name, family_name, genus_name, species_name
		FROM species WHERE common_name = ?`, commonName,
	).Scan(&sp.ID, &sp.CommonName, &sp.ClassName, &sp.OrderName, &sp.FamilyName, &sp.GenusName, &sp.SpeciesName)
	return sp, notFound(err)
}

func (r *repo) UpsertSpecies(ctx context.Context, sp tally.Species) (tally.Species, error) {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO species (common_name, class_name, order_name, family_name, genus_name, species_name)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (common_name) DO UPDATE SET
			class_name = excluded.class_name,
			order_name = excluded.order_name,
			family_name = excluded.family_name,
			genus_name = excluded.genus_name,
			species_name = excluded.species_name
		RETURNING id`,
		sp.CommonName, sp.ClassName, sp.OrderName, sp.FamilyName, sp.GenusName, sp.SpeciesName,
	).Scan(&sp.ID)
	return sp, err
}

const animalSelect = `
	SELECT a.id, a.accession_number, a.active, a.species_id, s.common_name,
	       COALESCE(a.enclosure_id, 0), COALESCE(e.name, ''), a.name, a.identifier, a.sex
	FROM animals a
	JOIN species s ON s.id = a.species_id
	LEFT JOIN enclosures e ON e.id = a.enclosure_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanAnimal(sc scanner) (tally.Animal, error) {
	var (
		a   tally.Animal
		sex string
	)
	err := sc.Scan(&a.ID, &a.AccessionNumber, &a.Active, &a.SpeciesID, &a.CommonName,
		&a.EnclosureID, &a.EnclosureName, &a.Name, &a.Identifier, &sex)
	a.Sex = tally.Sex(sex)
	return a, err
}

func (r *repo) AnimalByAccession(ctx context.Context, accession string) (tally.Animal, error) {
	a, err := scanAnimal(r.q.QueryRowContext(ctx, animalSelect+` WHERE a.accession_number = ?`, accession))
	return a, notFound(err)
}

func (r *repo) ActiveAnimalsIn(ctx context.Context, enclosures []string) ([]tally.Animal, error) {
	if len(enclosures) == 0 {
		return nil, nil
	}
	rows, err := r.q.QueryContext(ctx, animalSelect+`
		WHERE a.active = 1 AND e.name IN (`+placeholders(len(enclosures))+`)
		ORDER BY e.name, a.accession_number`, stringArgs(enclosures)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []tally.Animal
	for rows.Next() {
		a, err := scanAnimal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func (r *repo) UpsertAnimal(ctx context.Context, a tally.Animal) (tally.Animal, error) {
	if a.Sex == "" {
		a.Sex = tally.SexUnknown
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO animals (accession_number, active, species_id, enclosure_id, name, identifier, sex)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (accession_number) DO UPDATE SET
			active = excluded.active,
			species_id = excluded.species_id,
			enclosure_id = excluded.enclosure_id,
			name = excluded.name,
			identifier = excluded.identifier,
			sex = excluded.sex
		RETURNING id`,
		a.AccessionNumber, a.Active, a.SpeciesID, nullID(a.EnclosureID), a.Name, a.Identifier, string(a.Sex),
	).Scan(&a.ID)
	return a, err
}

func (r *repo) SetAnimalActive(ctx context.Context, accession string, active bool) error {
	return r.setActive(ctx, "animals", accession, active)
}

const groupSelect = `
	SELECT g.id, g.accession_number, g.active, g.species_id, s.common_name,
	       COALESCE(g.enclosure_id, 0), COALESCE(e.name, ''),
	       g.population_male, g.population_female, g.population_unknown
	FROM animal_groups g
	JOIN species s ON s.id = g.species_id
	LEFT JOIN enclosures e ON e.id = g.enclosure_id`

func scanGroup(sc scanner) (tally.Group, error) {
	var g tally.Group
	err := sc.Scan(&g.ID, &g.AccessionNumber, &g.Active, &g.SpeciesID, &g.CommonName,
		&g.EnclosureID, &g.EnclosureName, &g.PopulationMale, &g.PopulationFemale, &g.PopulationUnknown)
	return g, err
}

func (r *repo) GroupByAccession(ctx context.Context, accession string) (tally.Group, error) {
	g, err := scanGroup(r.q.QueryRowContext(ctx, groupSelect+` WHERE g.accession_number = ?`, accession))
	return g, notFound(err)
}

func (r *repo) ActiveGroupsIn(ctx context.Context, enclosures []string) ([]tally.Group, error) {
	if len(enclosures) == 0 {
		return nil, nil
	}
	rows, err := r.q.QueryContext(ctx, groupSelect+`
		WHERE g.active = 1 AND e.name IN (`+placeholders(len(enclosures))+`)
		ORDER BY e.name, g.accession_number`, stringArgs(enclosures)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []tally.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *repo) UpsertGroup(ctx context.Context, g tally.Group) (tally.Group, error) {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO animal_groups (accession_number, active, species_id, enclosure_id,
			population_male, population_female, population_unknown)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (accession_number) DO UPDATE SET
			active = excluded.active,
			species_id = excluded.species_id,
			enclosure_id = excluded.enclosure_id,
			population_male = excluded.population_male,
			population_female = excluded.population_female,
			population_unknown = excluded.population_unknown
		RETURNING id`,
		g.AccessionNumber, g.Active, g.SpeciesID, nullID(g.EnclosureID),
		g.PopulationMale, g.PopulationFemale, g.PopulationUnknown,
	).Scan(&g.ID)
	return g, err
}

func (r *repo) SetGroupActive(ctx context.Context, accession string, active bool) error {
	return r.setActive(ctx, "animal_groups", accession, active)
}

// setActive flips the active flag; table is one of two constants above.
func (r *repo) setActive(ctx context.Context, table, accession string, active bool) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE `+table+` SET active = ? WHERE accession_number = ?`, active, accession)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tally.ErrNotFound
	}
	return nil
}

func (r *repo) DualActiveAccessions(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT a.accession_number
		FROM animals a
		JOIN animal_groups g ON g.accession_number = a.accession_number
		WHERE a.active = 1 AND g.active = 1
		ORDER BY a.accession_number`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var acc string
		if err := rows.Scan(&acc); err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (r *repo) RecordIngest(ctx context.Context, rec tally.IngestRecord) error {
	encl, err := json.Marshal(rec.Enclosures)
	if err != nil {
		return fmt.Errorf("encode enclosures: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO ingest_log (id, file_name, enclosures,
			animals_added, animals_updated, animals_deleted,
			groups_added, groups_updated, groups_deleted,
			confirmed_at, ip_address, user_agent, archive_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.FileName, string(encl),
		rec.Summary.Animals.Add, rec.Summary.Animals.Update, rec.Summary.Animals.Delete,
		rec.Summary.Groups.Add, rec.Summary.Groups.Update, rec.Summary.Groups.Delete,
		rec.ConfirmedAt.UTC().Format(timeLayout), rec.IPAddress, rec.UserAgent, rec.ArchiveKey,
	)
	return err
}

func (r *repo) ListIngests(ctx context.Context, limit int) ([]tally.IngestRecord, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, file_name, enclosures,
			animals_added, animals_updated, animals_deleted,
			groups_added, groups_updated, groups_deleted,
			confirmed_at, ip_address, user_agent, archive_key
		FROM ingest_log
		ORDER BY confirmed_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []tally.IngestRecord
	for rows.Next() {
		var (
			rec         tally.IngestRecord
			encl, stamp string
		)
		if err := rows.Scan(&rec.ID, &rec.FileName, &encl,
			&rec.Summary.Animals.Add, &rec.Summary.Animals.Update, &rec.Summary.Animals.Delete,
			&rec.Summary.Groups.Add, &rec.Summary.Groups.Update, &rec.Summary.Groups.Delete,
			&stamp, &rec.IPAddress, &rec.UserAgent, &rec.ArchiveKey,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(encl), &rec.Enclosures); err != nil {
			return nil, fmt.Errorf("decode enclosures of %s: %w", rec.ID, err)
		}
		rec.Summary.Enclosures = len(rec.Enclosures)
		if rec.ConfirmedAt, err = time.Parse(timeLayout, stamp); err != nil {
			return nil, fmt.Errorf("parse confirmed_at of %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
