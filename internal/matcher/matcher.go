// Package matcher resolves free-text addresses to canonical building keys
// against the reference index. Matching is tiered: exact canonical match,
// then a loose house-number+street-name match, then fuzzy similarity with
// an ambiguity margin. Every tier is a pure function over the index
// snapshot; the matcher never errors per-address.
package matcher

import (
	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/normalize"
	"github.com/vayo/unify/internal/refindex"
)

// Match method tags.
const (
	MethodExact = "exact"
	MethodLoose = "loose"
	MethodFuzzy = "fuzzy"
	MethodNone  = "none"
)

// Confidence assigned per tier. Fuzzy confidence is scaled by similarity
// into [fuzzyConfLo, fuzzyConfHi].
const (
	looseConfidence = 0.85
	fuzzyConfLo     = 0.5
	fuzzyConfHi     = 0.8
)

// Result is a structured match outcome. An unresolved address yields
// method "none" and confidence 0; Ambiguous marks unresolved results that
// had plausible candidates too close together to pick from.
type Result struct {
	BBL        bbl.Key `json:"bbl"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Ambiguous  bool    `json:"ambiguous,omitempty"`
}

// Options are the fuzzy-tier policy knobs. They are configuration because
// the right values are empirical (see DESIGN.md).
type Options struct {
	// FuzzyThreshold is the minimum Jaro-Winkler similarity to accept.
	FuzzyThreshold float64
	// AmbiguityMargin is the minimum lead the best candidate needs over
	// the runner-up; anything closer is surfaced as unresolved.
	AmbiguityMargin float64
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{FuzzyThreshold: 0.88, AmbiguityMargin: 0.02}
}

// Matcher matches addresses against one immutable index snapshot. Safe for
// concurrent use.
type Matcher struct {
	idx  *refindex.Index
	opts Options
}

// New creates a Matcher over an index snapshot.
func New(idx *refindex.Index, opts Options) *Matcher {
	if opts.FuzzyThreshold == 0 {
		opts = DefaultOptions()
	}
	return &Matcher{idx: idx, opts: opts}
}

// Match resolves a free-text address with optional borough and zip hints.
// The borough hint accepts any spelling normalize.Borough understands.
func (m *Matcher) Match(addressText, boroughHint, zipHint string) Result {
	canonical, _ := normalize.Address(addressText)
	if canonical == "" {
		return Result{Method: MethodNone}
	}
	borough := normalize.Borough(boroughHint)
	zip := normalize.Zip(zipHint)

	// Tier 1: exact canonical match.
	if cands := m.idx.Exact(canonical, borough, zip); len(cands) == 1 {
		return Result{BBL: cands[0].BBL, Confidence: 1.0, Method: MethodExact}
	} else if len(cands) > 1 {
		// Same normalized address on multiple lots and no hint to split
		// them: picking one would be a guess.
		return Result{Method: MethodNone, Ambiguous: true}
	}

	// Tier 2: loose match drops directional and street-type variance.
	if lk := normalize.LooseKey(canonical); lk != "" {
		if cands := m.idx.Loose(lk, borough, zip); len(cands) == 1 {
			return Result{BBL: cands[0].BBL, Confidence: looseConfidence, Method: MethodLoose}
		}
	}

	// Tier 3: fuzzy similarity within the zip candidate pool.
	if zip != "" {
		if r, ok := m.fuzzy(canonical, zip); ok || r.Ambiguous {
			return r
		}
	}

	return Result{Method: MethodNone}
}

// fuzzy scans the zip's candidate pool for the best similarity score. The
// best candidate is accepted only when it clears the threshold and leads
// the runner-up by the ambiguity margin; near-ties are returned as
// ambiguous rather than guessed.
func (m *Matcher) fuzzy(canonical, zip string) (Result, bool) {
	var (
		best       *refindex.Building
		bestScore  float64
		secondBest float64
	)
	for _, cand := range m.idx.ZipCandidates(zip) {
		score := JaroWinkler(canonical, cand.Canonical())
		switch {
		case score > bestScore:
			secondBest = bestScore
			bestScore = score
			best = cand
		case score > secondBest:
			secondBest = score
		}
	}

	if best == nil || bestScore < m.opts.FuzzyThreshold {
		return Result{Method: MethodNone}, false
	}
	if bestScore-secondBest < m.opts.AmbiguityMargin {
		return Result{Method: MethodNone, Ambiguous: true}, false
	}

	// Scale similarity above the threshold into the fuzzy confidence band.
	span := 1 - m.opts.FuzzyThreshold
	conf := fuzzyConfLo + (fuzzyConfHi-fuzzyConfLo)*(bestScore-m.opts.FuzzyThreshold)/span
	if conf > fuzzyConfHi {
		conf = fuzzyConfHi
	}
	return Result{BBL: best.BBL, Confidence: conf, Method: MethodFuzzy}, true
}
