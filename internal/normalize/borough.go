package normalize

import "strings"

// Borough codes as used in the leading digit of a BBL.
const (
	Manhattan    = "1"
	Bronx        = "2"
	Brooklyn     = "3"
	Queens       = "4"
	StatenIsland = "5"
)

// boroughNames maps every borough spelling the sources emit to its BBL
// digit. MLS feeds use city names ("New York", "Kings"), StreetEasy slugs
// use lowercase tags, and some exports already carry two-letter codes.
var boroughNames = map[string]string{
	"1": Manhattan, "MANHATTAN": Manhattan, "NEW YORK": Manhattan,
	"NEW YORK CITY": Manhattan, "MN": Manhattan,
	"2": Bronx, "BRONX": Bronx, "THE BRONX": Bronx, "BX": Bronx,
	"3": Brooklyn, "BROOKLYN": Brooklyn, "KINGS": Brooklyn, "BK": Brooklyn,
	"4": Queens, "QUEENS": Queens, "QN": Queens,
	"5": StatenIsland, "STATEN ISLAND": StatenIsland, "SI": StatenIsland,
}

// Borough normalizes a borough spelling to its BBL digit, or "" when the
// value is not recognizable as a borough.
func Borough(raw string) string {
	return boroughNames[strings.ToUpper(strings.TrimSpace(raw))]
}

// BoroughName returns the display name for a BBL borough digit.
func BoroughName(code string) string {
	switch code {
	case Manhattan:
		return "Manhattan"
	case Bronx:
		return "Bronx"
	case Brooklyn:
		return "Brooklyn"
	case Queens:
		return "Queens"
	case StatenIsland:
		return "Staten Island"
	}
	return ""
}

// SlugBorough infers the borough from a StreetEasy building slug suffix,
// e.g. "9115-colonial-road-brooklyn" -> Brooklyn.
func SlugBorough(slug string) string {
	s := strings.ToLower(slug)
	switch {
	case strings.HasSuffix(s, "-new_york"), strings.HasSuffix(s, "-new-york"),
		strings.HasSuffix(s, "-manhattan"):
		return Manhattan
	case strings.HasSuffix(s, "-brooklyn"):
		return Brooklyn
	case strings.HasSuffix(s, "-queens"):
		return Queens
	case strings.HasSuffix(s, "-bronx"), strings.HasSuffix(s, "-the_bronx"),
		strings.HasSuffix(s, "-the-bronx"):
		return Bronx
	case strings.HasSuffix(s, "-staten_island"), strings.HasSuffix(s, "-staten-island"):
		return StatenIsland
	}
	return ""
}
