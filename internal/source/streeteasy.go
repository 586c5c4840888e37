package source

import (
	"regexp"
	"strings"

	"github.com/vayo/unify/internal/normalize"
)

// StreetEasyRow is one archived price-history row recovered from web
// snapshots. The building is identified only by the listing URL slug; the
// reader joins in the building's display address when known.
type StreetEasyRow struct {
	ID        string
	URL       string
	Address   string
	EventDate string
	EventType string
	Price     string
	Broker    string
}

var reBuildingURL = regexp.MustCompile(`/building/([^/]+?)(?:/([^/?]+))?(?:\?|$)`)

// seNoise marks scraped table rows that are not price-history events at
// all (navigation chrome, building facts panels).
var seNoise = []string{
	"Browse Buildings", "Market Data", "Facts", "Building Class",
	"District", "Owned by", "Documents and Permits", "Previously Listed",
	"Amenities", "Floor Plans", "Schools", "Transportation",
	"Nearby Buildings", "Similar", "Landmark", "Historical",
}

var reListedBy = regexp.MustCompile(`^Listed by (.+)$`)

// normalizeSEEvent maps the archive's free-text event descriptions onto
// the common event vocabulary. ok=false means the row is not an event.
func normalizeSEEvent(raw string) (event EventType, broker string, ok bool) {
	e := strings.TrimSpace(raw)

	for _, pat := range seNoise {
		if strings.Contains(e, pat) {
			return "", "", false
		}
	}

	switch {
	case e == "" || e == "-":
		return EventPricePoint, "", true
	case e == "LISTED":
		return EventListed, "", true
	case e == "Listing sold" || e == "SOLD":
		return EventClosed, "", true
	case e == "RENTED":
		return EventClosed, "", true
	case e == "Listing entered contract" || e == "IN_CONTRACT":
		return EventInContract, "", true
	case e == "Listing is no longer available" || e == "NO_LONGER_AVAILABLE" ||
		e == "No longer available":
		return EventDelisted, "", true
	case strings.Contains(e, "Price decreased") || e == "PRICE_DECREASE",
		strings.Contains(e, "Price increased") || e == "PRICE_INCREASE":
		return EventPriceChanged, "", true
	case strings.Contains(e, "Relisted") || e == "RELISTED":
		return EventListed, "", true
	case strings.Contains(e, "Previous Sale recorded") || e == "RECORDED_SALE":
		return EventClosed, "", true
	}

	if m := reListedBy.FindStringSubmatch(e); m != nil {
		return EventListed, strings.TrimSpace(m[1]), true
	}
	return EventPricePoint, "", true
}

// seStatus derives the common status implied by an archive event.
var seStatus = map[EventType]Status{
	EventListed:       StatusActive,
	EventPriceChanged: StatusActive,
	EventPricePoint:   StatusActive,
	EventInContract:   StatusPending,
	EventClosed:       StatusClosed,
	EventDelisted:     StatusWithdrawn,
}

// StreetEasyExtractor maps archived price-history rows into intermediate
// records.
type StreetEasyExtractor struct {
	rows    []StreetEasyRow
	resolve AddressResolver
}

// NewStreetEasyExtractor builds an extractor over a materialized snapshot.
func NewStreetEasyExtractor(rows []StreetEasyRow, resolve AddressResolver) *StreetEasyExtractor {
	return &StreetEasyExtractor{rows: rows, resolve: resolve}
}

func (e *StreetEasyExtractor) Name() string { return StreetEasy }

func (e *StreetEasyExtractor) Extract() (Batch, error) {
	batch := Batch{Source: StreetEasy}

	for _, row := range e.rows {
		rec, reject := e.extractRow(row)
		if reject != nil {
			batch.Rejects = append(batch.Rejects, *reject)
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

func (e *StreetEasyExtractor) extractRow(row StreetEasyRow) (Record, *Reject) {
	reject := func(reason string) *Reject {
		return &Reject{Source: StreetEasy, SourceRecordID: row.ID, Reason: reason}
	}

	event, broker, ok := normalizeSEEvent(row.EventType)
	if !ok {
		return Record{}, reject("non-event row")
	}

	slug, unit := parseSEURL(row.URL)
	if slug == "" {
		return Record{}, reject("no building slug in url")
	}

	date, err := parseDate(row.EventDate)
	if err != nil {
		return Record{}, reject("bad event date: " + err.Error())
	}

	// A bare price point with no price carries no information.
	price := int64(0)
	if strings.TrimSpace(row.Price) != "" {
		price, err = parsePrice(row.Price)
		if err != nil {
			return Record{}, reject("bad price: " + err.Error())
		}
	} else if event == EventPricePoint {
		return Record{}, reject("price point without price")
	}

	borough := normalize.SlugBorough(slug)

	rec := Record{
		Source:         StreetEasy,
		SourceRecordID: firstNonEmpty(row.ID, slug),
		RawAddress:     strings.TrimSpace(row.Address),
		Borough:        borough,
		Unit:           normalize.Unit(unit),
		Status:         seStatus[event],
		EventType:      event,
		EventDate:      date,
		Price:          price,
		Broker:         firstNonEmpty(broker, row.Broker),
	}

	// The archive has no sale/rental dimension except on closings; a
	// recorded sale implies sale, a rented closing would arrive as
	// RENTED and is handled by the same closed event with rental type
	// inferred upstream when the feed marks it.
	if event == EventClosed {
		if strings.Contains(row.EventType, "RENTED") || row.EventType == "RENTED" {
			rec.ListingType = Rental
		} else {
			rec.ListingType = Sale
		}
	}

	if rec.RawAddress != "" && borough != "" {
		applyMatch(&rec, e.resolve.Match(rec.RawAddress, borough, ""))
	}
	return rec, nil
}

// parseSEURL extracts the building slug and unit from a listing URL:
// "https://streeteasy.com/building/9115-colonial-road-brooklyn/5g" yields
// ("9115-colonial-road-brooklyn", "5g").
func parseSEURL(url string) (slug, unit string) {
	m := reBuildingURL.FindStringSubmatch(url)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}
