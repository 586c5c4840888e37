package source

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vayo/unify/internal/normalize"
)

// CorcoranRow is a row of the Corcoran brokerage feed snapshot. The feed
// splits street and unit across address1/address2 and carries an optional
// detail JSON blob with listing dates and building-wide history.
type CorcoranRow struct {
	ListingID       string
	Address1        string
	Address2        string
	Borough         string
	Zip             string
	Status          string
	TransactionType string
	Price           string
	ClosedDate      string
	AgentName       string
	DetailJSON      string
}

var corcoranStatus = map[string]Status{
	"Active":                 StatusActive,
	"Back on Market":         StatusActive,
	"PreListing":             StatusActive,
	"Contract Signed":        StatusPending,
	"Sold":                   StatusClosed,
	"Rented":                 StatusClosed,
	"Expired":                StatusExpired,
	"Withdrawn":              StatusWithdrawn,
	"Temporarily Off Market": StatusWithdrawn,
}

var corcoranType = map[string]ListingType{
	"For Rent": Rental,
	"Rent":     Rental,
	"For Sale": Sale,
	"Sale":     Sale,
}

// corcoranDetail is the subset of the detail blob the extractor uses.
type corcoranDetail struct {
	Price            json.Number            `json:"price"`
	DateListed       string                 `json:"dateListed"`
	ListedDate       string                 `json:"listedDate"`
	DateSold         string                 `json:"dateSold"`
	BrokerageName    string                 `json:"brokerageName"`
	ListingHistories []corcoranHistoryEntry `json:"listingHistories"`
}

// corcoranHistoryEntry is one building-wide transaction from the detail
// blob, usually for a different unit than the listing itself.
type corcoranHistoryEntry struct {
	ListingID     json.Number `json:"listingId"`
	UnitNumber    string      `json:"unitNumber"`
	ListingStatus string      `json:"listingStatus"`
	DateSold      string      `json:"dateSold"`
	SoldPrice     json.Number `json:"soldPrice"`
	OriginalPrice json.Number `json:"originalPrice"`
}

// CorcoranExtractor maps Corcoran rows into intermediate records.
type CorcoranExtractor struct {
	rows    []CorcoranRow
	resolve AddressResolver
}

// NewCorcoranExtractor builds an extractor over a materialized snapshot.
func NewCorcoranExtractor(rows []CorcoranRow, resolve AddressResolver) *CorcoranExtractor {
	return &CorcoranExtractor{rows: rows, resolve: resolve}
}

func (e *CorcoranExtractor) Name() string { return Corcoran }

func (e *CorcoranExtractor) Extract() (Batch, error) {
	batch := Batch{Source: Corcoran}

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

func (e *CorcoranExtractor) extractRow(row CorcoranRow) ([]Record, *Reject) {
	reject := func(reason string) *Reject {
		return &Reject{Source: Corcoran, SourceRecordID: row.ListingID, Reason: reason}
	}

	if strings.TrimSpace(row.ListingID) == "" {
		return nil, &Reject{Source: Corcoran, Reason: "missing listing id"}
	}

	status, ok := corcoranStatus[row.Status]
	if !ok {
		return nil, reject("unknown listing status " + row.Status)
	}
	ltype, ok := corcoranType[row.TransactionType]
	if !ok {
		return nil, reject("unknown transaction type " + row.TransactionType)
	}

	var detail corcoranDetail
	if row.DetailJSON != "" {
		// A corrupt detail blob degrades the row, it does not reject it:
		// the flat columns still carry the core facts.
		_ = json.Unmarshal([]byte(row.DetailJSON), &detail)
	}

	borough := normalize.Borough(row.Borough)
	zip := normalize.Zip(row.Zip)
	unit := normalize.Unit(row.Address2)
	match := e.resolve.Match(row.Address1, borough, zip)

	base := Record{
		Source:         Corcoran,
		SourceRecordID: row.ListingID,
		RawAddress:     strings.TrimSpace(row.Address1),
		Borough:        borough,
		Zip:            zip,
		Unit:           unit,
		ListingType:    ltype,
		Status:         status,
		Broker:         firstNonEmpty(detail.BrokerageName, row.AgentName),
	}
	applyMatch(&base, match)

	var out []Record

	listDate := firstNonEmpty(detail.DateListed, detail.ListedDate)
	if listDate != "" && row.Price != "" {
		date, err := parseDate(trimISO(listDate))
		if err != nil {
			return nil, reject("bad list date: " + err.Error())
		}
		price, err := parsePrice(row.Price)
		if err != nil {
			return nil, reject("bad price: " + err.Error())
		}
		rec := base
		rec.EventType = EventListed
		rec.EventDate = date
		rec.Price = price
		out = append(out, rec)
	}

	closeDate := firstNonEmpty(trimISO(detail.DateSold), row.ClosedDate)
	if closeDate != "" {
		closePrice := firstNonEmpty(detail.Price.String(), row.Price)
		date, err := parseDate(closeDate)
		if err != nil {
			return nil, reject("bad close date: " + err.Error())
		}
		price, err := parsePrice(closePrice)
		if err != nil {
			return nil, reject("bad close price: " + err.Error())
		}
		rec := base
		rec.EventType = EventClosed
		rec.EventDate = date
		rec.Price = price
		rec.Status = StatusClosed
		out = append(out, rec)
	}

	// Building-wide history entries ride along as additional closed
	// events for the same building, attributed to their own listing IDs.
	for _, hist := range detail.ListingHistories {
		rec, ok := e.historyRecord(base, hist)
		if ok {
			out = append(out, rec)
		}
	}

	if len(out) == 0 {
		return nil, reject("no dated price facts")
	}
	return out, nil
}

func (e *CorcoranExtractor) historyRecord(base Record, hist corcoranHistoryEntry) (Record, bool) {
	date, err := parseDate(trimISO(hist.DateSold))
	if err != nil {
		return Record{}, false
	}
	price, err := parsePrice(firstNonEmpty(hist.SoldPrice.String(), hist.OriginalPrice.String()))
	if err != nil {
		return Record{}, false
	}

	ltype := Sale
	if strings.Contains(hist.ListingStatus, "Rent") {
		ltype = Rental
	}

	rec := base
	rec.SourceRecordID = fmt.Sprintf("hist:%s", hist.ListingID.String())
	rec.Unit = normalize.Unit(hist.UnitNumber)
	rec.ListingType = ltype
	rec.Status = StatusClosed
	rec.EventType = EventClosed
	rec.EventDate = date
	rec.Price = price
	rec.Broker = ""
	return rec, true
}

// trimISO drops the time component from an ISO datetime rendering.
func trimISO(s string) string {
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		return s[:i]
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
