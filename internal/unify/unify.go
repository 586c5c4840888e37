// Package unify merges the per-source intermediate records into one
// listing timeline per building/unit/market-segment, reconciling the same
// real-world occurrence reported by several sources. The pass is a pure
// function of its input: records are sorted into a total order first, so
// the output is byte-identical across runs and input shufflings.
package unify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/source"
)

// Source precedence differs by the kind of fact. For closed transactions
// the city register is authoritative; for marketing facts the brokerage
// feeds are fresher and the register knows nothing.
var transactionPriority = map[string]int{
	source.ACRIS:      0,
	source.Corcoran:   1,
	source.Elliman:    2,
	source.StreetEasy: 3,
}

var listingPriority = map[string]int{
	source.Corcoran:   0,
	source.Elliman:    1,
	source.StreetEasy: 2,
	source.ACRIS:      3,
}

func priority(src string, event source.EventType) int {
	table := listingPriority
	if event == source.EventClosed {
		table = transactionPriority
	}
	if p, ok := table[src]; ok {
		return p
	}
	return len(table)
}

// Policy holds the merge knobs. The defaults are the tuned values; they
// are configuration because the right tolerance is empirical.
type Policy struct {
	// PriceTolerance is the maximum relative price difference under which
	// two same-occurrence observations of the same event type are
	// considered one occurrence.
	PriceTolerance float64

	// DateWindowDays switches the occurrence window from the default
	// same-calendar-month to an absolute day distance. Zero keeps the
	// month semantics.
	DateWindowDays int
}

// DefaultPolicy returns the tuned defaults.
func DefaultPolicy() Policy {
	return Policy{PriceTolerance: 0.10}
}

// PriceEvent is one reconciled observation on a listing's timeline.
type PriceEvent struct {
	EventType  source.EventType `json:"event_type"`
	Date       time.Time        `json:"date"`
	Price      int64            `json:"price"`
	Source     string           `json:"source"`
	SourceID   string           `json:"source_record_id"`
	Confidence float64          `json:"confidence"`

	Broker string `json:"broker,omitempty"`
	Buyer  string `json:"buyer,omitempty"`
	Seller string `json:"seller,omitempty"`

	// ConflictingPrice marks same-month observations of the same event
	// type whose prices disagree beyond tolerance. Both sides are kept
	// and flagged; the pipeline never guesses which one is right.
	ConflictingPrice bool `json:"conflicting_price,omitempty"`

	// MergedFrom lists the source observations folded into this event as
	// "source:id" tags, the winner excluded.
	MergedFrom []string `json:"merged_from,omitempty"`
}

// Listing is one unified building/unit/market-segment timeline.
type Listing struct {
	BBL         bbl.Key            `json:"bbl"`
	Borough     string             `json:"borough"`
	Address     string             `json:"address,omitempty"`
	Unit        string             `json:"unit,omitempty"`
	ListingType source.ListingType `json:"listing_type"`
	Status      source.Status      `json:"status"`

	// MatchConfidence is the weakest location-match confidence among the
	// contributing records; one shaky source taints the whole listing.
	MatchConfidence float64 `json:"match_confidence"`

	Sources []string     `json:"sources"`
	Events  []PriceEvent `json:"events"`
}

// Stats counts what the pass did, for the run report.
type Stats struct {
	Records           int
	Matched           int
	Unmatched         int
	Ambiguous         int
	Listings          int
	Events            int
	DuplicatesDropped int
	EventsMerged      int
	ConflictingEvents int
}

// SourceStats is one source's share of the run accounting, for the
// per-source data-quality report.
type SourceStats struct {
	Records     int
	Matched     int
	Unmatched   int
	Ambiguous   int
	Conflicting int
}

// Output is the result of one unification pass.
type Output struct {
	Listings  []Listing
	Unmatched []source.Record
	Stats     Stats
	PerSource map[string]SourceStats
}

// Unifier merges intermediate records under a Policy.
type Unifier struct {
	policy Policy
}

// New creates a Unifier. A zero tolerance falls back to the default.
func New(policy Policy) *Unifier {
	if policy.PriceTolerance == 0 {
		policy = DefaultPolicy()
	}
	return &Unifier{policy: policy}
}

type groupKey struct {
	bbl   bbl.Key
	unit  string
	ltype source.ListingType
}

// Unify partitions records into listings keyed by building, unit and
// sale/rental segment. Records without a resolved building key go to the
// unmatched partition untouched. The input slice is not modified.
func (u *Unifier) Unify(records []source.Record) Output {
	recs := make([]source.Record, len(records))
	copy(recs, records)
	sortRecords(recs)

	out := Output{
		Stats:     Stats{Records: len(recs)},
		PerSource: make(map[string]SourceStats),
	}

	groups := make(map[groupKey][]source.Record)
	var keys []groupKey
	for _, r := range recs {
		ss := out.PerSource[r.Source]
		ss.Records++
		if !r.Resolved() {
			ss.Unmatched++
			if r.Ambiguous {
				ss.Ambiguous++
			}
			out.PerSource[r.Source] = ss

			out.Unmatched = append(out.Unmatched, r)
			if r.Ambiguous {
				out.Stats.Ambiguous++
			}
			continue
		}
		ss.Matched++
		out.PerSource[r.Source] = ss
		k := groupKey{bbl: r.BBL, unit: r.Unit, ltype: r.ListingType}
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	out.Stats.Unmatched = len(out.Unmatched)
	out.Stats.Matched = len(recs) - out.Stats.Unmatched

	// Input is sorted, so keys already arrive in group order; sorting
	// again keeps that independent of the grouping code above.
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.bbl != b.bbl {
			return a.bbl < b.bbl
		}
		if a.unit != b.unit {
			return a.unit < b.unit
		}
		return a.ltype < b.ltype
	})

	for _, k := range keys {
		listing := u.buildListing(k, groups[k], &out.Stats)
		out.Listings = append(out.Listings, listing)
		out.Stats.Events += len(listing.Events)

		for _, e := range listing.Events {
			if e.ConflictingPrice {
				ss := out.PerSource[e.Source]
				ss.Conflicting++
				out.PerSource[e.Source] = ss
			}
		}
	}
	out.Stats.Listings = len(out.Listings)
	return out
}

func (u *Unifier) buildListing(k groupKey, recs []source.Record, stats *Stats) Listing {
	events := make([]PriceEvent, 0, len(recs))
	for _, r := range recs {
		events = append(events, PriceEvent{
			EventType:  r.EventType,
			Date:       r.EventDate,
			Price:      r.Price,
			Source:     r.Source,
			SourceID:   r.SourceRecordID,
			Confidence: r.MatchConfidence,
			Broker:     r.Broker,
			Buyer:      r.Buyer,
			Seller:     r.Seller,
		})
	}

	events, dropped := DedupeExact(events)
	stats.DuplicatesDropped += dropped

	events, merged, conflicts := u.mergeOccurrences(events)
	stats.EventsMerged += merged
	stats.ConflictingEvents += conflicts

	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.EventType != b.EventType {
			return a.EventType < b.EventType
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.Source < b.Source
	})

	return Listing{
		BBL:             k.bbl,
		Borough:         boroughOf(k.bbl),
		Address:         pickAddress(recs),
		Unit:            k.unit,
		ListingType:     k.ltype,
		Status:          pickStatus(recs),
		MatchConfidence: minConfidence(recs),
		Sources:         sourceSet(recs),
		Events:          events,
	}
}

// DedupeExact drops byte-identical observations: same event type, same
// calendar day, same price, same source. A source re-reporting its own
// fact adds nothing. Returns the surviving events and the drop count.
func DedupeExact(events []PriceEvent) ([]PriceEvent, int) {
	seen := make(map[string]bool, len(events))
	out := events[:0]
	dropped := 0
	for _, e := range events {
		key := fmt.Sprintf("%s|%s|%d|%s",
			e.EventType, e.Date.Format("2006-01-02"), e.Price, e.Source)
		if seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out, dropped
}

// mergeOccurrences folds same-occurrence observations: same event type,
// different sources, dates inside the occurrence window, prices inside
// the relative tolerance. The winner is the observation with the highest
// match confidence, ties going to the source priority for that event
// kind. Observations from one source never fold into each other: a
// source restating its own fact is handled by DedupeExact, and anything
// beyond that is genuine history, like a StreetEasy price cut two weeks
// after the list date. Cross-source in-window observations beyond
// tolerance all survive, flagged as conflicting.
func (u *Unifier) mergeOccurrences(events []PriceEvent) (out []PriceEvent, merged, conflicts int) {
	byType := make(map[source.EventType][]PriceEvent)
	var types []source.EventType
	for _, e := range events {
		if _, seen := byType[e.EventType]; !seen {
			types = append(types, e.EventType)
		}
		byType[e.EventType] = append(byType[e.EventType], e)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		cluster := byType[t]

		// Best observation first, so merging is a single forward pass and
		// the kept event is always the strongest of its tolerance band.
		sort.Slice(cluster, func(i, j int) bool {
			a, b := cluster[i], cluster[j]
			if a.Confidence != b.Confidence {
				return a.Confidence > b.Confidence
			}
			pa, pb := priority(a.Source, a.EventType), priority(b.Source, b.EventType)
			if pa != pb {
				return pa < pb
			}
			if a.Price != b.Price {
				return a.Price < b.Price
			}
			return a.SourceID < b.SourceID
		})

		var kept []PriceEvent
		for _, e := range cluster {
			folded := false
			for i := range kept {
				if kept[i].Source != e.Source &&
					u.sameOccurrence(kept[i], e) &&
					withinTolerance(kept[i].Price, e.Price, u.policy.PriceTolerance) {
					absorb(&kept[i], e)
					merged++
					folded = true
					break
				}
			}
			if !folded {
				kept = append(kept, e)
			}
		}

		// Cross-source survivors still inside each other's window disagreed
		// on price. Same-source pairs are a price trajectory, not a dispute.
		for i := range kept {
			for j := i + 1; j < len(kept); j++ {
				if kept[i].Source != kept[j].Source && u.sameOccurrence(kept[i], kept[j]) {
					if !kept[i].ConflictingPrice {
						kept[i].ConflictingPrice = true
						conflicts++
					}
					if !kept[j].ConflictingPrice {
						kept[j].ConflictingPrice = true
						conflicts++
					}
				}
			}
		}
		out = append(out, kept...)
	}
	return out, merged, conflicts
}

// sameOccurrence reports whether two observations of one event type fall
// in the same occurrence window: the same calendar month by default, or
// within DateWindowDays when configured.
func (u *Unifier) sameOccurrence(a, b PriceEvent) bool {
	if u.policy.DateWindowDays > 0 {
		d := a.Date.Sub(b.Date)
		if d < 0 {
			d = -d
		}
		return d <= time.Duration(u.policy.DateWindowDays)*24*time.Hour
	}
	return a.Date.Year() == b.Date.Year() && a.Date.Month() == b.Date.Month()
}

// withinTolerance reports whether two prices agree within the relative
// tolerance, measured against the larger of the two. A price absent on
// one side never blocks a merge.
func withinTolerance(a, b int64, tol float64) bool {
	if a == b || a == 0 || b == 0 {
		return true
	}
	hi, lo := a, b
	if b > a {
		hi, lo = b, a
	}
	return float64(hi-lo)/float64(hi) <= tol
}

// absorb folds a losing observation into the kept one: the winner's core
// facts stand, empty price and contact fields are backfilled, and the
// loser is recorded in MergedFrom.
func absorb(winner *PriceEvent, loser PriceEvent) {
	if winner.Price == 0 {
		winner.Price = loser.Price
	}
	if winner.Broker == "" {
		winner.Broker = loser.Broker
	}
	if winner.Buyer == "" {
		winner.Buyer = loser.Buyer
	}
	if winner.Seller == "" {
		winner.Seller = loser.Seller
	}
	winner.MergedFrom = append(winner.MergedFrom,
		fmt.Sprintf("%s:%s", loser.Source, loser.SourceID))
}

// pickStatus takes the status of the most recent observation, ties going
// to the listing-fact source priority.
func pickStatus(recs []source.Record) source.Status {
	best := recs[0]
	for _, r := range recs[1:] {
		switch {
		case r.EventDate.After(best.EventDate):
			best = r
		case r.EventDate.Equal(best.EventDate) &&
			priority(r.Source, "") < priority(best.Source, ""):
			best = r
		}
	}
	return best.Status
}

// pickAddress takes the raw address from the strongest-matched record, so
// the unified listing displays the spelling that actually resolved.
func pickAddress(recs []source.Record) string {
	best := ""
	bestConf := -1.0
	for _, r := range recs {
		if r.RawAddress == "" {
			continue
		}
		if r.MatchConfidence > bestConf {
			best = r.RawAddress
			bestConf = r.MatchConfidence
		}
	}
	return best
}

func minConfidence(recs []source.Record) float64 {
	min := recs[0].MatchConfidence
	for _, r := range recs[1:] {
		if r.MatchConfidence < min {
			min = r.MatchConfidence
		}
	}
	return min
}

func sourceSet(recs []source.Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range recs {
		if !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r.Source)
		}
	}
	sort.Strings(out)
	return out
}

func boroughOf(key bbl.Key) string {
	if len(key) == 10 {
		return key[:1]
	}
	return ""
}

// sortRecords puts records into a total order so every later step is
// independent of input ordering.
func sortRecords(recs []source.Record) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.BBL != b.BBL {
			return a.BBL < b.BBL
		}
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		if a.ListingType != b.ListingType {
			return a.ListingType < b.ListingType
		}
		if !a.EventDate.Equal(b.EventDate) {
			return a.EventDate.Before(b.EventDate)
		}
		if a.EventType != b.EventType {
			return a.EventType < b.EventType
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.SourceRecordID < b.SourceRecordID
	})
}

// String renders a one-line summary for logs.
func (s Stats) String() string {
	return strings.Join([]string{
		fmt.Sprintf("records=%d", s.Records),
		fmt.Sprintf("matched=%d", s.Matched),
		fmt.Sprintf("unmatched=%d", s.Unmatched),
		fmt.Sprintf("listings=%d", s.Listings),
		fmt.Sprintf("events=%d", s.Events),
		fmt.Sprintf("merged=%d", s.EventsMerged),
		fmt.Sprintf("conflicts=%d", s.ConflictingEvents),
		fmt.Sprintf("duplicates=%d", s.DuplicatesDropped),
	}, " ")
}
