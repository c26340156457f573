package tally

// Classify partitions rows by total population: exactly one is an individual,
// more than one is a group. Row order is kept within each partition.
// Rows totalling zero are reported together as one ValidationError.
func Classify(rows []Row) (individuals, groups []Row, err error) {
	var empty []int
	for _, r := range rows {
		switch n := r.Population(); {
		case n == 1:
			individuals = append(individuals, r)
		case n > 1:
			groups = append(groups, r)
		default:
			empty = append(empty, r.Line)
		}
	}
	if len(empty) > 0 {
		return nil, nil, &ValidationError{
			Code:    CodeEmptyPopulation,
			Message: "population counts sum to zero",
			Lines:   empty,
		}
	}
	return individuals, groups, nil
}

// KindOf classifies a single row. Rows with no population report ok=false.
func KindOf(r Row) (kind Kind, ok bool) {
	switch n := r.Population(); {
	case n == 1:
		return KindAnimal, true
	case n > 1:
		return KindGroup, true
	}
	return "", false
}
