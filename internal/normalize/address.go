package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// Street-type abbreviations. Both directions collapse to the abbreviated
// form so that PLUTO's "12 EAST 13 STREET" and a broker's "12 E 13th St."
// canonicalize identically.
var streetTypes = map[string]string{
	"AVENUE":     "AVE",
	"AV":         "AVE",
	"AVE":        "AVE",
	"STREET":     "ST",
	"ST":         "ST",
	"BOULEVARD":  "BLVD",
	"BLVD":       "BLVD",
	"DRIVE":      "DR",
	"DR":         "DR",
	"PLACE":      "PL",
	"PL":         "PL",
	"ROAD":       "RD",
	"RD":         "RD",
	"COURT":      "CT",
	"CT":         "CT",
	"LANE":       "LN",
	"LN":         "LN",
	"TERRACE":    "TERR",
	"TER":        "TERR",
	"TERR":       "TERR",
	"PARKWAY":    "PKWY",
	"PKWY":       "PKWY",
	"SQUARE":     "SQ",
	"SQ":         "SQ",
	"CRESCENT":   "CRES",
	"CRES":       "CRES",
	"CIRCLE":     "CIR",
	"CIR":        "CIR",
	"HIGHWAY":    "HWY",
	"HWY":        "HWY",
	"EXPRESSWAY": "EXPY",
	"EXPY":       "EXPY",
	"CONCOURSE":  "CONC",
	"CONC":       "CONC",
	"ALLEY":      "ALY",
	"ALY":        "ALY",
	"OVAL":       "OVAL",
	"ROW":        "ROW",
	"WALK":       "WALK",
	"WAY":        "WAY",
	"LOOP":       "LOOP",
	"PLAZA":      "PLZ",
	"PLZ":        "PLZ",
	"BROADWAY":   "BROADWAY",
	"BOWERY":     "BOWERY",
}

// Directionals collapse to single letters.
var directionals = map[string]string{
	"NORTH": "N", "N": "N",
	"SOUTH": "S", "S": "S",
	"EAST": "E", "E": "E",
	"WEST": "W", "W": "W",
}

// Spelled-out street ordinals as they appear in PLUTO ("FIFTH AVENUE").
// Only the loose key folds these; the canonical form keeps the spelling so
// exact matching stays strict.
var wordOrdinals = map[string]string{
	"FIRST": "1", "SECOND": "2", "THIRD": "3", "FOURTH": "4",
	"FIFTH": "5", "SIXTH": "6", "SEVENTH": "7", "EIGHTH": "8",
	"NINTH": "9", "TENTH": "10", "ELEVENTH": "11", "TWELFTH": "12",
}

var (
	reOrdinal     = regexp.MustCompile(`^(\d+)(ST|ND|RD|TH)$`)
	reHouseNumber = regexp.MustCompile(`^\d+[A-Z]?(-\d+[A-Z]?)?$`)
	reZip         = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)
	reUnitMarker  = regexp.MustCompile(`^(APT|APARTMENT|UNIT|STE|SUITE|PH|PENTHOUSE|FL|FLOOR)$`)
)

// Address canonicalizes a free-text NYC street address for exact index
// lookup: uppercase, punctuation stripped, street types abbreviated,
// directionals collapsed, digit ordinals reduced ("23RD" -> "23"). A
// trailing unit designation is split off and returned separately.
func Address(raw string) (canonical, unit string) {
	// Keep only the street-and-unit segment of single-line addresses like
	// "200 E 23RD ST 7C, New York, NY 10010".
	if i := strings.IndexByte(raw, ','); i >= 0 {
		raw = raw[:i]
	}
	s := upperAlnum(raw)
	if s == "" {
		return "", ""
	}

	street, unit := SplitUnit(s)

	tokens := strings.Fields(street)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if d, ok := directionals[tok]; ok {
			out = append(out, d)
			continue
		}
		if t, ok := streetTypes[tok]; ok {
			out = append(out, t)
			continue
		}
		if m := reOrdinal.FindStringSubmatch(tok); m != nil {
			out = append(out, m[1])
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " "), unit
}

// SplitUnit separates a trailing unit label from a single-line street
// address. The street ends at the last street-type or ordinal token;
// whatever follows is the unit ("200 E 23RD ST 7C" -> "200 E 23RD ST",
// "7C"). An explicit unit marker (APT, UNIT, SUITE) also starts the unit.
func SplitUnit(s string) (street, unit string) {
	tokens := strings.Fields(upperAlnum(s))
	if len(tokens) == 0 {
		return "", ""
	}

	lastSuffix := -1
	for i, tok := range tokens {
		if reUnitMarker.MatchString(tok) && i > 0 {
			return strings.Join(tokens[:i], " "), Unit(strings.Join(tokens[i+1:], ""))
		}
		if _, ok := streetTypes[tok]; ok {
			lastSuffix = i
			continue
		}
		if reOrdinal.MatchString(tok) {
			lastSuffix = i
		}
	}

	if lastSuffix >= 0 && lastSuffix < len(tokens)-1 {
		return strings.Join(tokens[:lastSuffix+1], " "),
			Unit(strings.Join(tokens[lastSuffix+1:], ""))
	}
	return strings.Join(tokens, " "), ""
}

// LooseKey reduces a canonical address to house number plus bare street
// name: directionals and street types dropped, spelled-out ordinals folded
// to digits. "43 5TH AVE" and "43 FIFTH AVENUE" share the key "43|5".
// Returns "" when no house number is present.
func LooseKey(canonical string) string {
	tokens := strings.Fields(canonical)
	if len(tokens) < 2 || !reHouseNumber.MatchString(tokens[0]) {
		return ""
	}
	house := tokens[0]

	var name []string
	for _, tok := range tokens[1:] {
		if _, ok := directionals[tok]; ok {
			continue
		}
		if _, ok := streetTypes[tok]; ok {
			continue
		}
		if w, ok := wordOrdinals[tok]; ok {
			name = append(name, w)
			continue
		}
		if m := reOrdinal.FindStringSubmatch(tok); m != nil {
			name = append(name, m[1])
			continue
		}
		name = append(name, tok)
	}
	if len(name) == 0 {
		// Proper-name streets like BROADWAY or BOWERY sit in the
		// street-type table as identity entries; when nothing else remains
		// they are the street name, not a droppable suffix.
		for _, tok := range tokens[1:] {
			if _, ok := directionals[tok]; ok {
				continue
			}
			name = append(name, tok)
		}
	}
	if len(name) == 0 {
		return ""
	}
	return house + "|" + strings.Join(name, " ")
}

// Unit normalizes a unit label for cross-source comparison: uppercase, no
// separators, no leading zeros ("Apt 03-A" -> "3A", "#7c" -> "7C").
func Unit(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	i := 0
	for i < len(s) && s[i] == '0' {
		i++
	}
	if i == len(s) {
		// All zeros (or empty): keep a single zero if anything was there.
		if len(s) > 0 {
			return "0"
		}
		return ""
	}
	return s[i:]
}

// Zip extracts a 5-digit ZIP code from free text, dropping any +4 suffix.
func Zip(raw string) string {
	if m := reZip.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// upperAlnum uppercases and replaces punctuation with spaces, collapsing
// runs of whitespace.
func upperAlnum(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
