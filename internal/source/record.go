// Package source maps each origin system's native listing and transaction
// rows into one common intermediate record shape. Per-source extractors
// own their vocabulary maps; unknown vocabulary is rejected, never passed
// through. A failed row never aborts a batch.
package source

import (
	"time"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/matcher"
)

// Source names, which double as the tie-break identities in the unifier's
// priority tables.
const (
	ACRIS      = "acris"
	Elliman    = "elliman"
	Corcoran   = "corcoran"
	StreetEasy = "streeteasy"
)

// ListingType is the common sale/rental dimension.
type ListingType string

const (
	Sale   ListingType = "sale"
	Rental ListingType = "rental"
)

// Status is the common listing status vocabulary. Per-source states that
// have no equivalent here are a documented lossy mapping (see DESIGN.md).
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusClosed    Status = "closed"
	StatusExpired   Status = "expired"
	StatusWithdrawn Status = "withdrawn"
)

// EventType classifies a price/status observation.
type EventType string

const (
	EventListed       EventType = "listed"
	EventPriceChanged EventType = "price_changed"
	EventInContract   EventType = "in_contract"
	EventClosed       EventType = "closed"
	EventDelisted     EventType = "delisted"
	// EventPricePoint is an archived price observation with no explicit
	// event semantics (StreetEasy snapshots).
	EventPricePoint EventType = "price_point"
)

// Record is the common intermediate shape every extractor produces. One
// record is one dated price/status observation; a single native row may
// yield several (a listing row produces a "listed" and a "closed" event).
// Records are consumed by the unifier and never persisted standalone.
type Record struct {
	Source         string
	SourceRecordID string

	// BBL is empty when the location could not be resolved; such records
	// are retained for the unmatched partition, not dropped.
	BBL             bbl.Key
	MatchConfidence float64
	MatchMethod     string
	Ambiguous       bool

	RawAddress string
	Borough    string
	Zip        string
	Unit       string

	ListingType ListingType
	Status      Status
	EventType   EventType
	EventDate   time.Time // UTC midnight
	Price       int64     // whole dollars

	Buyer  string
	Seller string
	Broker string
}

// Resolved reports whether the record carries a canonical building key.
func (r Record) Resolved() bool { return r.BBL != "" }

// Reject is a row excluded at extraction, kept for the run report.
type Reject struct {
	Source         string
	SourceRecordID string
	Reason         string
}

// Batch is one source's extraction output.
type Batch struct {
	Source  string
	Records []Record
	Rejects []Reject
}

// AddressResolver is the address-matching dependency for sources that lack
// a structured key. *matcher.Matcher satisfies it.
type AddressResolver interface {
	Match(addressText, boroughHint, zipHint string) matcher.Result
}

// Extractor converts one source's materialized rows into a Batch.
type Extractor interface {
	Name() string
	Extract() (Batch, error)
}

func applyMatch(r *Record, m matcher.Result) {
	r.BBL = m.BBL
	r.MatchConfidence = m.Confidence
	r.MatchMethod = m.Method
	r.Ambiguous = m.Ambiguous
}
