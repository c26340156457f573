package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/zootally/internal/tally"
)

// countQuery selects the first count of the day per entity. %[1]s is the
// count table, %[2]s the entity column, %[3]s the extra selected columns,
// %[4]s the join to the entity and its species.
const countQuery = `
	WITH firsts AS (
		SELECT c.*, e.name AS enclosure_name,
		       ROW_NUMBER() OVER (PARTITION BY c.counted_on, c.%[2]s ORDER BY c.counted_at) AS rn
		FROM %[1]s c
		JOIN enclosures e ON e.id = c.enclosure_id
		WHERE e.name IN (%[5]s) AND c.counted_on BETWEEN ? AND ?
	)
	SELECT c.enclosure_name, c.counted_at, c.counted_by,
	       s.common_name, s.class_name, s.order_name, s.family_name, s.genus_name, s.species_name,
	       %[3]s
	FROM firsts c
	%[4]s
	WHERE c.rn = 1`

type countSource struct {
	kind   tally.CountKind
	table  string
	entity string
	cols   string
	join   string
	scan   func(rec *tally.CountRecord) []any
}

var countSources = []countSource{
	{
		kind:   tally.CountAnimal,
		table:  "animal_counts",
		entity: "animal_id",
		cols:   "a.accession_number, c.condition",
		join:   "JOIN animals a ON a.id = c.animal_id JOIN species s ON s.id = a.species_id",
		scan: func(rec *tally.CountRecord) []any {
			return []any{&rec.AccessionNumber, &rec.Condition}
		},
	},
	{
		kind:   tally.CountGroup,
		table:  "group_counts",
		entity: "group_id",
		cols:   "g.accession_number, c.count_total, c.count_male, c.count_female, c.count_unknown",
		join:   "JOIN animal_groups g ON g.id = c.group_id JOIN species s ON s.id = g.species_id",
		scan: func(rec *tally.CountRecord) []any {
			return []any{&rec.AccessionNumber, &rec.Count, &rec.CountMale, &rec.CountFemale, &rec.CountUnknown}
		},
	},
	{
		kind:   tally.CountSpecies,
		table:  "species_counts",
		entity: "species_id",
		cols:   "c.count",
		join:   "JOIN species s ON s.id = c.species_id",
		scan: func(rec *tally.CountRecord) []any {
			return []any{&rec.Count}
		},
	},
}

func (r *repo) CountRecords(ctx context.Context, f tally.ExportFilter) ([]tally.CountRecord, error) {
	if len(f.Enclosures) == 0 {
		return nil, nil
	}
	args := append(stringArgs(f.Enclosures), f.Start.Format(tally.DateLayout), f.End.Format(tally.DateLayout))

	var out []tally.CountRecord
	for _, src := range countSources {
		q := fmt.Sprintf(countQuery, src.table, src.entity, src.cols, src.join, placeholders(len(f.Enclosures)))
		recs, err := r.queryCounts(ctx, q, args, src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.table, err)
		}
		out = append(out, recs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CountedAt.Before(out[j].CountedAt)
	})
	return out, nil
}

func (r *repo) queryCounts(ctx context.Context, q string, args []any, src countSource) ([]tally.CountRecord, error) {
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []tally.CountRecord
	for rows.Next() {
		rec := tally.CountRecord{Kind: src.kind}
		var stamp string
		dest := []any{&rec.Enclosure, &stamp, &rec.CountedBy,
			&rec.Species.CommonName, &rec.Species.ClassName, &rec.Species.OrderName,
			&rec.Species.FamilyName, &rec.Species.GenusName, &rec.Species.SpeciesName}
		dest = append(dest, src.scan(&rec)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if rec.CountedAt, err = time.Parse(timeLayout, stamp); err != nil {
			return nil, fmt.Errorf("parse counted_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountSeed is a count row written by tests and fixtures.
type CountSeed struct {
	Kind      tally.CountKind
	Accession string // Animal or group accession number
	Species   string // Common name, for species counts
	Enclosure string
	CountedAt time.Time
	CountedOn string // Local calendar date, YYYY-MM-DD
	CountedBy string
	Condition string
	Count     int
	Male      int
	Female    int
	Unknown   int
}

// SeedCount inserts a count record. The ingest pipeline never writes counts;
// fixtures use this to exercise exports.
func (s *Store) SeedCount(ctx context.Context, c CountSeed) error {
	stamp := c.CountedAt.UTC().Format(timeLayout)
	on := c.CountedOn
	if on == "" {
		on = c.CountedAt.Format(tally.DateLayout)
	}
	var (
		res sql.Result
		err error
	)
	switch c.Kind {
	case tally.CountAnimal:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO animal_counts (animal_id, enclosure_id, counted_at, counted_on, counted_by, condition)
			SELECT a.id, e.id, ?, ?, ?, ? FROM animals a, enclosures e
			WHERE a.accession_number = ? AND e.name = ?`,
			stamp, on, c.CountedBy, c.Condition, c.Accession, c.Enclosure)
	case tally.CountGroup:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO group_counts (group_id, enclosure_id, counted_at, counted_on, counted_by,
				count_total, count_male, count_female, count_unknown)
			SELECT g.id, e.id, ?, ?, ?, ?, ?, ?, ? FROM animal_groups g, enclosures e
			WHERE g.accession_number = ? AND e.name = ?`,
			stamp, on, c.CountedBy, c.Count, c.Male, c.Female, c.Unknown, c.Accession, c.Enclosure)
	case tally.CountSpecies:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO species_counts (species_id, enclosure_id, counted_at, counted_on, counted_by, count)
			SELECT sp.id, e.id, ?, ?, ?, ? FROM species sp, enclosures e
			WHERE sp.common_name = ? AND e.name = ?`,
			stamp, on, c.CountedBy, c.Count, c.Species, c.Enclosure)
	default:
		return fmt.Errorf("unknown count kind %q", c.Kind)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tally.ErrNotFound
	}
	return nil
}
