package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/zootally/internal/tally"
)

// repo implements tally.Repository over a DBTX.
type repo struct {
	db DBTX
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return tally.ErrNotFound
	}
	return err
}

func (r *repo) GetEnclosure(ctx context.Context, name string) (tally.Enclosure, error) {
	var e tally.Enclosure
	err := r.db.QueryRow(ctx,
		`SELECT id, name, slug FROM enclosures WHERE name = $1`, name,
	).Scan(&e.ID, &e.Name, &e.Slug)
	return e, notFound(err)
}

func (r *repo) EnsureEnclosure(ctx context.Context, e tally.Enclosure) (tally.Enclosure, error) {
	if e.Slug == "" {
		e.Slug = tally.Slugify(e.Name)
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO enclosures (name, slug) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		e.Name, e.Slug,
	); err != nil {
		return tally.Enclosure{}, err
	}
	return r.GetEnclosure(ctx, e.Name)
}

func (r *repo) GetSpecies(ctx context.Context, commonName string) (tally.Species, error) {
	var sp tally.Species
	err := r.db.QueryRow(ctx, `
		SELECT id, common_name, class_name, order_name, family_name, genus_name, species_name
		FROM species WHERE common_name = $1`, commonName,
	).Scan(&sp.ID, &sp.CommonName, &sp.ClassName, &sp.OrderName, &sp.FamilyName, &sp.GenusName, &sp.SpeciesName)
	return sp, notFound(err)
}

func (r *repo) UpsertSpecies(ctx context.Context, sp tally.Species) (tally.Species, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO species (common_name, class_name, order_name, family_name, genus_name, species_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (common_name) DO UPDATE SET
			class_name = EXCLUDED.class_name,
			order_name = EXCLUDED.order_name,
			family_name = EXCLUDED.family_name,
			genus_name = EXCLUDED.genus_name,
			species_name = EXCLUDED.species_name
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

func scanAnimal(row pgx.Row) (tally.Animal, error) {
	var (
		a   tally.Animal
		sex string
	)
	err := row.Scan(&a.ID, &a.AccessionNumber, &a.Active, &a.SpeciesID, &a.CommonName,
		&a.EnclosureID, &a.EnclosureName, &a.Name, &a.Identifier, &sex)
	a.Sex = tally.Sex(sex)
	return a, err
}

func (r *repo) AnimalByAccession(ctx context.Context, accession string) (tally.Animal, error) {
	a, err := scanAnimal(r.db.QueryRow(ctx, animalSelect+` WHERE a.accession_number = $1`, accession))
	return a, notFound(err)
}

func (r *repo) ActiveAnimalsIn(ctx context.Context, enclosures []string) ([]tally.Animal, error) {
	if len(enclosures) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, animalSelect+`
		WHERE a.active AND e.name = ANY($1)
		ORDER BY e.name, a.accession_number`, enclosures)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (tally.Animal, error) {
		return scanAnimal(row)
	})
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (r *repo) UpsertAnimal(ctx context.Context, a tally.Animal) (tally.Animal, error) {
	if a.Sex == "" {
		a.Sex = tally.SexUnknown
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO animals (accession_number, active, species_id, enclosure_id, name, identifier, sex)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (accession_number) DO UPDATE SET
			active = EXCLUDED.active,
			species_id = EXCLUDED.species_id,
			enclosure_id = EXCLUDED.enclosure_id,
			name = EXCLUDED.name,
			identifier = EXCLUDED.identifier,
			sex = EXCLUDED.sex
		RETURNING id`,
		a.AccessionNumber, a.Active, a.SpeciesID, nullID(a.EnclosureID), a.Name, a.Identifier, string(a.Sex),
	).Scan(&a.ID)
	return a, err
}

func (r *repo) SetAnimalActive(ctx context.Context, accession string, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE animals SET active = $1 WHERE accession_number = $2`, active, accession)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tally.ErrNotFound
	}
	return nil
}

const groupSelect = `
	SELECT g.id, g.accession_number, g.active, g.species_id, s.common_name,
	       COALESCE(g.enclosure_id, 0), COALESCE(e.name, ''),
	       g.population_male, g.population_female, g.population_unknown
	FROM animal_groups g
	JOIN species s ON s.id = g.species_id
	LEFT JOIN enclosures e ON e.id = g.enclosure_id`

func scanGroup(row pgx.Row) (tally.Group, error) {
	var g tally.Group
	err := row.Scan(&g.ID, &g.AccessionNumber, &g.Active, &g.SpeciesID, &g.CommonName,
		&g.EnclosureID, &g.EnclosureName, &g.PopulationMale, &g.PopulationFemale, &g.PopulationUnknown)
	return g, err
}

func (r *repo) GroupByAccession(ctx context.Context, accession string) (tally.Group, error) {
	g, err := scanGroup(r.db.QueryRow(ctx, groupSelect+` WHERE g.accession_number = $1`, accession))
	return g, notFound(err)
}

func (r *repo) ActiveGroupsIn(ctx context.Context, enclosures []string) ([]tally.Group, error) {
	if len(enclosures) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, groupSelect+`
		WHERE g.active AND e.name = ANY($1)
		ORDER BY e.name, g.accession_number`, enclosures)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (tally.Group, error) {
		return scanGroup(row)
	})
}

func (r *repo) UpsertGroup(ctx context.Context, g tally.Group) (tally.Group, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO animal_groups (accession_number, active, species_id, enclosure_id,
			population_male, population_female, population_unknown)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (accession_number) DO UPDATE SET
			active = EXCLUDED.active,
			species_id = EXCLUDED.species_id,
			enclosure_id = EXCLUDED.enclosure_id,
			population_male = EXCLUDED.population_male,
			population_female = EXCLUDED.population_female,
			population_unknown = EXCLUDED.population_unknown
		RETURNING id`,
		g.AccessionNumber, g.Active, g.SpeciesID, nullID(g.EnclosureID),
		g.PopulationMale, g.PopulationFemale, g.PopulationUnknown,
	).Scan(&g.ID)
	return g, err
}

func (r *repo) SetGroupActive(ctx context.Context, accession string, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE animal_groups SET active = $1 WHERE accession_number = $2`, active, accession)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tally.ErrNotFound
	}
	return nil
}

func (r *repo) DualActiveAccessions(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.accession_number
		FROM animals a
		JOIN animal_groups g ON g.accession_number = a.accession_number
		WHERE a.active AND g.active
		ORDER BY a.accession_number`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repo) RecordIngest(ctx context.Context, rec tally.IngestRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("ingest id %q: %w", rec.ID, err)
	}
	enclosures := rec.Enclosures
	if enclosures == nil {
		enclosures = []string{}
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO ingest_log (id, file_name, enclosures,
			animals_added, animals_updated, animals_deleted,
			groups_added, groups_updated, groups_deleted,
			confirmed_at, ip_address, user_agent, archive_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, rec.FileName, enclosures,
		rec.Summary.Animals.Add, rec.Summary.Animals.Update, rec.Summary.Animals.Delete,
		rec.Summary.Groups.Add, rec.Summary.Groups.Update, rec.Summary.Groups.Delete,
		rec.ConfirmedAt, rec.IPAddress, rec.UserAgent, rec.ArchiveKey,
	)
	return err
}

func (r *repo) ListIngests(ctx context.Context, limit int) ([]tally.IngestRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, file_name, enclosures,
			animals_added, animals_updated, animals_deleted,
			groups_added, groups_updated, groups_deleted,
			confirmed_at, ip_address, user_agent, archive_key
		FROM ingest_log
		ORDER BY confirmed_at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (tally.IngestRecord, error) {
		var (
			rec tally.IngestRecord
			id  uuid.UUID
		)
		err := row.Scan(&id, &rec.FileName, &rec.Enclosures,
			&rec.Summary.Animals.Add, &rec.Summary.Animals.Update, &rec.Summary.Animals.Delete,
			&rec.Summary.Groups.Add, &rec.Summary.Groups.Update, &rec.Summary.Groups.Delete,
			&rec.ConfirmedAt, &rec.IPAddress, &rec.UserAgent, &rec.ArchiveKey)
		rec.ID = id.String()
		rec.Summary.Enclosures = len(rec.Enclosures)
		return rec, err
	})
}

// countQueries select the first count of the day per entity, merged below.
var countQueries = []struct {
	kind tally.CountKind
	sql  string
}{
	{tally.CountAnimal, `
		SELECT DISTINCT ON (c.counted_on, c.animal_id)
		       e.name, c.counted_at, c.counted_by,
		       s.common_name, s.class_name, s.order_name, s.family_name, s.genus_name, s.species_name,
		       a.accession_number, c.condition, 0, 0, 0, 0
		FROM animal_counts c
		JOIN enclosures e ON e.id = c.enclosure_id
		JOIN animals a ON a.id = c.animal_id
		JOIN species s ON s.id = a.species_id
		WHERE e.name = ANY($1) AND c.counted_on BETWEEN $2 AND $3
		ORDER BY c.counted_on, c.animal_id, c.counted_at`},
	{tally.CountGroup, `
		SELECT DISTINCT ON (c.counted_on, c.group_id)
		       e.name, c.counted_at, c.counted_by,
		       s.common_name, s.class_name, s.order_name, s.family_name, s.genus_name, s.species_name,
		       g.accession_number, '', c.count_total, c.count_male, c.count_female, c.count_unknown
		FROM group_counts c
		JOIN enclosures e ON e.id = c.enclosure_id
		JOIN animal_groups g ON g.id = c.group_id
		JOIN species s ON s.id = g.species_id
		WHERE e.name = ANY($1) AND c.counted_on BETWEEN $2 AND $3
		ORDER BY c.counted_on, c.group_id, c.counted_at`},
	{tally.CountSpecies, `
		SELECT DISTINCT ON (c.counted_on, c.species_id)
		       e.name, c.counted_at, c.counted_by,
		       s.common_name, s.class_name, s.order_name, s.family_name, s.genus_name, s.species_name,
		       '', '', c.count, 0, 0, 0
		FROM species_counts c
		JOIN enclosures e ON e.id = c.enclosure_id
		JOIN species s ON s.id = c.species_id
		WHERE e.name = ANY($1) AND c.counted_on BETWEEN $2 AND $3
		ORDER BY c.counted_on, c.species_id, c.counted_at`},
}

func (r *repo) CountRecords(ctx context.Context, f tally.ExportFilter) ([]tally.CountRecord, error) {
	if len(f.Enclosures) == 0 {
		return nil, nil
	}
	var out []tally.CountRecord
	for _, cq := range countQueries {
		rows, err := r.db.Query(ctx, cq.sql, f.Enclosures, f.Start, f.End)
		if err != nil {
			return nil, fmt.Errorf("%s counts: %w", cq.kind, err)
		}
		recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tally.CountRecord, error) {
			rec := tally.CountRecord{Kind: cq.kind}
			err := row.Scan(&rec.Enclosure, &rec.CountedAt, &rec.CountedBy,
				&rec.Species.CommonName, &rec.Species.ClassName, &rec.Species.OrderName,
				&rec.Species.FamilyName, &rec.Species.GenusName, &rec.Species.SpeciesName,
				&rec.AccessionNumber, &rec.Condition,
				&rec.Count, &rec.CountMale, &rec.CountFemale, &rec.CountUnknown)
			return rec, err
		})
		if err != nil {
			return nil, fmt.Errorf("%s counts: %w", cq.kind, err)
		}
		out = append(out, recs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CountedAt.Before(out[j].CountedAt)
	})
	return out, nil
}
