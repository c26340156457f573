package tally

import (
	"regexp"
	"strings"
)

// The Identifiers column holds free text with tagged sections, in any order:
//
//	Tag/Band:A12, Internal House Name:Rosie
var (
	tagBandPattern   = regexp.MustCompile(`Tag/Band:([\w\s\d#]*),?`)
	houseNamePattern = regexp.MustCompile(`Internal House Name:([\w|\s\d#]*),?`)
)

// ParseTags returns every Tag/Band value in identifiers, comma-joined.
func ParseTags(identifiers string) string {
	return joinMatches(tagBandPattern, identifiers)
}

// ParseHouseNames returns every Internal House Name value, comma-joined.
func ParseHouseNames(identifiers string) string {
	return joinMatches(houseNamePattern, identifiers)
}

func joinMatches(re *regexp.Regexp, s string) string {
	matches := re.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return ""
	}
	vals := make([]string, len(matches))
	for i, m := range matches {
		vals[i] = m[1]
	}
	return strings.Join(vals, ",")
}

// ResolveSex derives the sex of an individual. The Sex cell wins when set;
// otherwise a single male or female count decides.
func ResolveSex(r Row) Sex {
	if s := strings.TrimSpace(r.Sex); s != "" {
		switch strings.ToUpper(s) {
		case "M", "MALE":
			return SexMale
		case "F", "FEMALE":
			return SexFemale
		default:
			return SexUnknown
		}
	}
	switch {
	case r.PopulationFemale == 1:
		return SexFemale
	case r.PopulationMale == 1:
		return SexMale
	}
	return SexUnknown
}
