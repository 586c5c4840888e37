package source

import (
	"strings"

	"github.com/vayo/unify/internal/normalize"
)

// EllimanRow is a row of the Elliman MLS listings snapshot. Addresses are
// single-line: "200 E 23RD ST 7C, New York, NY 10010".
type EllimanRow struct {
	CoreListingID string
	Address       string
	Borough       string
	Unit          string
	Status        string
	Type          string
	ListPrice     string
	ClosePrice    string
	ListDate      string
	CloseDate     string
	Brokerage     string
	BuyerAgent    string
}

// Native vocabulary maps. Elliman has no state matching "expired"; its
// TemporaryOffMarket folds into "withdrawn" (lossy, documented).
var ellimanStatus = map[string]Status{
	"Active":              StatusActive,
	"ActiveUnderContract": StatusPending,
	"Pending":             StatusPending,
	"Closed":              StatusClosed,
	"Expired":             StatusExpired,
	"TemporaryOffMarket":  StatusWithdrawn,
	"Withdrawn":           StatusWithdrawn,
}

var ellimanType = map[string]ListingType{
	"Rental":      Rental,
	"Residential": Sale,
}

// EllimanExtractor maps Elliman MLS rows into intermediate records. It
// depends on the address matcher: the feed has no tax-lot identifiers.
type EllimanExtractor struct {
	rows    []EllimanRow
	resolve AddressResolver
}

// NewEllimanExtractor builds an extractor over a materialized snapshot.
func NewEllimanExtractor(rows []EllimanRow, resolve AddressResolver) *EllimanExtractor {
	return &EllimanExtractor{rows: rows, resolve: resolve}
}

func (e *EllimanExtractor) Name() string { return Elliman }

// Extract converts every row, producing a "listed" event when a list
// date+price are present and a "closed" event when close date+price are.
// Malformed rows are rejected with a reason and never abort the batch.
func (e *EllimanExtractor) Extract() (Batch, error) {
	batch := Batch{Source: Elliman}

	for _, row := range e.rows {
		recs, reject := e.extractRow(row)
		if reject != nil {
			batch.Rejects = append(batch.Rejects, *reject)
			continue
		}
		batch.Records = append(batch.Records, recs...)
	}
	return batch, nil
}

func (e *EllimanExtractor) extractRow(row EllimanRow) ([]Record, *Reject) {
	reject := func(reason string) *Reject {
		return &Reject{Source: Elliman, SourceRecordID: row.CoreListingID, Reason: reason}
	}

	if strings.TrimSpace(row.CoreListingID) == "" {
		return nil, &Reject{Source: Elliman, Reason: "missing core listing id"}
	}

	status, ok := ellimanStatus[row.Status]
	if !ok {
		return nil, reject("unknown listing status " + row.Status)
	}
	ltype, ok := ellimanType[row.Type]
	if !ok {
		return nil, reject("unknown listing type " + row.Type)
	}

	street, unit, borough, zip := parseEllimanAddress(row.Address)
	if borough == "" {
		borough = normalize.Borough(row.Borough)
	}
	if unit == "" {
		unit = normalize.Unit(row.Unit)
	}

	match := e.resolve.Match(street, borough, zip)

	base := Record{
		Source:         Elliman,
		SourceRecordID: row.CoreListingID,
		RawAddress:     street,
		Borough:        borough,
		Zip:            zip,
		Unit:           unit,
		ListingType:    ltype,
		Status:         status,
		Broker:         row.Brokerage,
	}
	applyMatch(&base, match)

	var out []Record

	if row.ListDate != "" && row.ListPrice != "" {
		date, err := parseDate(row.ListDate)
		if err != nil {
			return nil, reject("bad list date: " + err.Error())
		}
		price, err := parsePrice(row.ListPrice)
		if err != nil {
			return nil, reject("bad list price: " + err.Error())
		}
		rec := base
		rec.EventType = EventListed
		rec.EventDate = date
		rec.Price = price
		out = append(out, rec)
	}

	if row.CloseDate != "" && row.ClosePrice != "" {
		date, err := parseDate(row.CloseDate)
		if err != nil {
			return nil, reject("bad close date: " + err.Error())
		}
		price, err := parsePrice(row.ClosePrice)
		if err != nil {
			return nil, reject("bad close price: " + err.Error())
		}
		rec := base
		rec.EventType = EventClosed
		rec.EventDate = date
		rec.Price = price
		rec.Status = StatusClosed
		rec.Buyer = row.BuyerAgent
		out = append(out, rec)
	}

	if len(out) == 0 {
		return nil, reject("no dated price facts")
	}
	return out, nil
}

// parseEllimanAddress splits a single-line Elliman address into street,
// unit, borough digit and zip. The city segment names the borough
// ("New York" means Manhattan in this feed).
func parseEllimanAddress(addr string) (street, unit, borough, zip string) {
	parts := strings.Split(addr, ",")
	streetUnit := strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		borough = normalize.Borough(parts[1])
	}
	zip = normalize.Zip(addr)
	street, unit = normalize.SplitUnit(streetUnit)
	return street, unit, borough, zip
}
