// Package bbl builds canonical building keys from the tax-lot identifiers
// the sources carry: borough-block-lot triples, per-unit condo lots, and
// DOB building identification numbers (BINs).
package bbl

import (
	"fmt"
	"strconv"
	"strings"
)

// CondoLotFloor is the conventional first lot number assigned to condo
// unit sub-lots. Lots at or above it identify a unit, not a building, and
// must be collapsed onto the block's base building lot.
const CondoLotFloor = 1000

// Key is a canonical building key: borough digit + zero-padded 5-digit
// block + zero-padded 4-digit lot, e.g. "1002310001".
type Key = string

// Make builds a Key from raw borough, block and lot strings, absorbing the
// zero-padding variants the sources produce (block "231" vs "00231").
// Returns an error for values that are not a plausible BBL.
func Make(borough, block, lot string) (Key, error) {
	boro, err := digits(borough)
	if err != nil || boro < 1 || boro > 5 {
		return "", fmt.Errorf("invalid borough %q", borough)
	}
	blk, err := digits(block)
	if err != nil || blk <= 0 || blk > 99999 {
		return "", fmt.Errorf("invalid block %q", block)
	}
	lt, err := digits(lot)
	if err != nil || lt <= 0 || lt > 9999 {
		return "", fmt.Errorf("invalid lot %q", lot)
	}
	return fmt.Sprintf("%d%05d%04d", boro, blk, lt), nil
}

// Parse splits a Key back into its components.
func Parse(key Key) (borough string, block, lot int, err error) {
	if len(key) != 10 {
		return "", 0, 0, fmt.Errorf("invalid bbl %q", key)
	}
	block, err = strconv.Atoi(key[1:6])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid bbl %q", key)
	}
	lot, err = strconv.Atoi(key[6:10])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid bbl %q", key)
	}
	return key[:1], block, lot, nil
}

// BlockPrefix returns the borough+block prefix ("100231") shared by all
// lots on a tax block, condo sub-lots included.
func BlockPrefix(key Key) string {
	if len(key) != 10 {
		return ""
	}
	return key[:6]
}

// IsCondoLot reports whether a raw lot value is a per-unit condo sub-lot.
func IsCondoLot(lot string) bool {
	n, err := digits(lot)
	return err == nil && n >= CondoLotFloor
}

// BlockIndex resolves a borough+block prefix to the block's base building
// key. The reference index implements it by picking the lot with the
// largest declared residential unit count on the block.
type BlockIndex interface {
	BaseLotForBlock(blockPrefix string) (Key, bool)
}

// Result is the outcome of identifier normalization. Confidence 1.0 marks
// deterministic derivations; the condo block lookup is heuristic and is
// scored below that.
type Result struct {
	BBL        Key
	Confidence float64
	Method     string
}

// Match method tags emitted by Resolve.
const (
	MethodDirect      = "bbl_direct"
	MethodCondoLookup = "condo_block_lookup"
	MethodBINBridge   = "bin_bridge"
	MethodNone        = "none"
)

// Unresolved is returned when no key can be derived. Callers keep the
// record with an empty key rather than dropping it.
var Unresolved = Result{Method: MethodNone}

// Resolver normalizes structured location identifiers against a block
// index and an optional BIN bridge table.
type Resolver struct {
	blocks BlockIndex
	bins   map[string]Key
}

// NewResolver builds a Resolver. bins may be nil when no bridge table is
// loaded; BIN lookups then fall through to unresolved.
func NewResolver(blocks BlockIndex, bins map[string]Key) *Resolver {
	return &Resolver{blocks: blocks, bins: bins}
}

// Resolve normalizes a borough-block-lot triple. Whole-building lots
// resolve directly; condo sub-lots are re-mapped to the block's base
// building. Never returns an error: unresolvable input yields Unresolved.
func (r *Resolver) Resolve(borough, block, lot string) Result {
	if IsCondoLot(lot) {
		key, err := Make(borough, block, "1")
		if err != nil {
			return Unresolved
		}
		base, ok := r.blocks.BaseLotForBlock(BlockPrefix(key))
		if !ok {
			return Unresolved
		}
		return Result{BBL: base, Confidence: 0.90, Method: MethodCondoLookup}
	}

	key, err := Make(borough, block, lot)
	if err != nil {
		return Unresolved
	}
	return Result{BBL: key, Confidence: 1.0, Method: MethodDirect}
}

// ResolveBIN maps a DOB building identification number through the bridge
// table. Absent an entry the identifier is unresolved and the caller falls
// back to address matching.
func (r *Resolver) ResolveBIN(bin string) Result {
	bin = strings.TrimSpace(bin)
	if bin == "" || r.bins == nil {
		return Unresolved
	}
	key, ok := r.bins[bin]
	if !ok {
		return Unresolved
	}
	return Result{BBL: key, Confidence: 1.0, Method: MethodBINBridge}
}

// digits parses a numeric field that may arrive zero-padded or as a float
// rendering ("231", "00231", "231.0").
func digits(s string) (int, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
