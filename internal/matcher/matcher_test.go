package matcher

import (
	"testing"

	"github.com/vayo/unify/internal/refindex"
)

func buildIndex(t *testing.T, buildings []refindex.Building) *refindex.Index {
	t.Helper()
	idx, err := refindex.Build(buildings)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func testIndex(t *testing.T) *refindex.Index {
	return buildIndex(t, []refindex.Building{
		{BBL: "1002310001", Address: "12 EAST 13 STREET", Borough: "1", Zip: "10003", UnitsRes: 120},
		{BBL: "1008470043", Address: "43 FIFTH AVENUE", Borough: "1", Zip: "10003", UnitsRes: 60},
		{BBL: "3011220009", Address: "9115 COLONIAL ROAD", Borough: "3", Zip: "11209", UnitsRes: 48},
	})
}

func TestMatchExact(t *testing.T) {
	m := New(testIndex(t), DefaultOptions())

	got := m.Match("12 E 13th St", "Manhattan", "")
	if got.Method != MethodExact || got.BBL != "1002310001" || got.Confidence != 1.0 {
		t.Fatalf("Match() = %+v", got)
	}
}

func TestMatchLoose(t *testing.T) {
	m := New(testIndex(t), DefaultOptions())

	// "43 5th Ave" vs registry "43 FIFTH AVENUE": exact fails on spelling,
	// the loose house+street key recovers it.
	got := m.Match("43 5th Ave", "Manhattan", "10003")
	if got.Method != MethodLoose || got.BBL != "1008470043" {
		t.Fatalf("Match() = %+v", got)
	}
	if got.Confidence != 0.85 {
		t.Errorf("loose confidence = %v, want 0.85", got.Confidence)
	}
}

func TestMatchFuzzy(t *testing.T) {
	m := New(testIndex(t), DefaultOptions())

	// Misspelled street name in the right zip.
	got := m.Match("9115 Colonail Road", "Brooklyn", "11209")
	if got.Method != MethodFuzzy || got.BBL != "3011220009" {
		t.Fatalf("Match() = %+v", got)
	}
	if got.Confidence < 0.5 || got.Confidence > 0.8 {
		t.Errorf("fuzzy confidence %v outside [0.5, 0.8]", got.Confidence)
	}
}

func TestMatchFuzzyAmbiguousPair(t *testing.T) {
	// Two near-identical addresses in the same zip: a query equidistant
	// from both must come back unresolved, not arbitrarily picked.
	idx := buildIndex(t, []refindex.Building{
		{BBL: "1004720001", Address: "64 GRAND STREET", Borough: "1", Zip: "10013", UnitsRes: 10},
		{BBL: "1004720002", Address: "66 GRAND STREET", Borough: "1", Zip: "10013", UnitsRes: 12},
	})
	m := New(idx, DefaultOptions())

	got := m.Match("65 Grand Street", "Manhattan", "10013")
	if got.Method != MethodNone {
		t.Fatalf("ambiguous query resolved to %+v", got)
	}
	if !got.Ambiguous {
		t.Error("result should be flagged ambiguous")
	}
}

func TestMatchUnresolved(t *testing.T) {
	m := New(testIndex(t), DefaultOptions())

	got := m.Match("1 Totally Unknown Plaza", "Manhattan", "10003")
	if got.Method != MethodNone || got.Confidence != 0 || got.BBL != "" {
		t.Fatalf("Match() = %+v", got)
	}

	// No zip hint means no fuzzy tier at all.
	got = m.Match("9115 Colonail Road", "Brooklyn", "")
	if got.Method != MethodNone {
		t.Fatalf("Match() without zip = %+v", got)
	}
}

func TestMatchEmptyAddress(t *testing.T) {
	m := New(testIndex(t), DefaultOptions())
	if got := m.Match("  ", "", ""); got.Method != MethodNone {
		t.Fatalf("Match(blank) = %+v", got)
	}
}

func TestJaroWinkler(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"9115 COLONIAL RD", "9115 COLONIAL RD", 1.0, 1.0},
		{"9115 COLONAIL RD", "9115 COLONIAL RD", 0.9, 1.0},
		{"12 E 13 ST", "9115 COLONIAL RD", 0.0, 0.7},
		{"", "", 0.0, 0.0},
	}
	for _, tt := range tests {
		got := JaroWinkler(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("JaroWinkler(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}
