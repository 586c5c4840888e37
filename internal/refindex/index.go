// Package refindex holds the authoritative PLUTO-derived building registry
// in memory and answers the lookups the matching tiers need. The index is
// built once per pipeline run and is read-only afterwards, so it can be
// shared across extraction workers without locking.
package refindex

import (
	"errors"
	"sort"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/normalize"
)

// Building is one canonical building: one physical tax lot from the
// registry snapshot. Descriptive fields are enrichment, not identity.
type Building struct {
	BBL           bbl.Key
	Address       string
	Borough       string // BBL digit
	Zip           string
	UnitsRes      int
	YearBuilt     int
	BuildingClass string

	canonical string
}

// Canonical returns the normalized form of the registry address.
func (b *Building) Canonical() string { return b.canonical }

// Index is the queryable reference index.
type Index struct {
	byKey  map[bbl.Key]*Building
	exact  map[string][]*Building // canonical address -> buildings
	loose  map[string][]*Building // house|street key -> buildings
	byZip  map[string][]*Building
	blocks map[string]bbl.Key // borough+block prefix -> base building
}

// ErrEmpty is returned when the registry snapshot holds no buildings. The
// pipeline treats this as fatal before any stage runs.
var ErrEmpty = errors.New("refindex: reference snapshot is empty")

// Build constructs the index from a registry snapshot.
func Build(buildings []Building) (*Index, error) {
	if len(buildings) == 0 {
		return nil, ErrEmpty
	}

	idx := &Index{
		byKey:  make(map[bbl.Key]*Building, len(buildings)),
		exact:  make(map[string][]*Building, len(buildings)),
		loose:  make(map[string][]*Building, len(buildings)),
		byZip:  make(map[string][]*Building),
		blocks: make(map[string]bbl.Key),
	}

	// Copy so later mutation of the caller's slice cannot corrupt the
	// snapshot the matchers share.
	owned := make([]Building, len(buildings))
	copy(owned, buildings)

	for i := range owned {
		b := &owned[i]
		b.canonical, _ = normalize.Address(b.Address)

		idx.byKey[b.BBL] = b
		if b.canonical != "" {
			idx.exact[b.canonical] = append(idx.exact[b.canonical], b)
			if lk := normalize.LooseKey(b.canonical); lk != "" {
				idx.loose[lk] = append(idx.loose[lk], b)
			}
		}
		if b.Zip != "" {
			idx.byZip[b.Zip] = append(idx.byZip[b.Zip], b)
		}
	}

	idx.buildBlockIndex(owned)
	return idx, nil
}

// buildBlockIndex picks, per borough+block, the lot the registry treats as
// the residential-unit container: the one with the largest declared unit
// count. Ties break on the lowest lot number so re-runs are stable.
func (idx *Index) buildBlockIndex(buildings []Building) {
	best := make(map[string]*Building)
	for i := range buildings {
		b := &buildings[i]
		prefix := bbl.BlockPrefix(b.BBL)
		if prefix == "" {
			continue
		}
		cur, ok := best[prefix]
		if !ok || b.UnitsRes > cur.UnitsRes ||
			(b.UnitsRes == cur.UnitsRes && b.BBL < cur.BBL) {
			best[prefix] = b
		}
	}
	for prefix, b := range best {
		idx.blocks[prefix] = b.BBL
	}
}

// Len reports the number of buildings indexed.
func (idx *Index) Len() int { return len(idx.byKey) }

// Get returns the building for a canonical key.
func (idx *Index) Get(key bbl.Key) (*Building, bool) {
	b, ok := idx.byKey[key]
	return b, ok
}

// BaseLotForBlock implements bbl.BlockIndex.
func (idx *Index) BaseLotForBlock(prefix string) (bbl.Key, bool) {
	k, ok := idx.blocks[prefix]
	return k, ok
}

// Exact returns buildings whose canonical registry address equals the
// given canonical string, filtered by borough and zip hints when present.
func (idx *Index) Exact(canonical, borough, zip string) []*Building {
	return filter(idx.exact[canonical], borough, zip)
}

// Loose returns buildings sharing the house-number+street-name key,
// filtered by borough and zip hints when present.
func (idx *Index) Loose(looseKey, borough, zip string) []*Building {
	return filter(idx.loose[looseKey], borough, zip)
}

// ZipCandidates returns the fuzzy-matching candidate pool for a zip,
// sorted by key for deterministic iteration.
func (idx *Index) ZipCandidates(zip string) []*Building {
	out := append([]*Building(nil), idx.byZip[zip]...)
	sort.Slice(out, func(i, j int) bool { return out[i].BBL < out[j].BBL })
	return out
}

func filter(in []*Building, borough, zip string) []*Building {
	if borough == "" && zip == "" {
		return in
	}
	var out []*Building
	for _, b := range in {
		if borough != "" && b.Borough != borough {
			continue
		}
		if zip != "" && b.Zip != "" && b.Zip != zip {
			continue
		}
		out = append(out, b)
	}
	return out
}
