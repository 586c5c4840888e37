package source

import (
	"strings"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/normalize"
)

// AcrisRow is one recorded document from the city register, already joined
// across the master, legals and parties tables: a document, its tax lot,
// and the grantor/grantee names.
type AcrisRow struct {
	DocumentID   string
	Borough      string
	Block        string
	Lot          string
	Unit         string
	DocType      string
	DocumentDate string
	RecordedDate string
	Amount       string
	Seller       string
	Buyer        string
}

// Deed-family documents carry an arm's-length transfer price. Mortgages,
// satisfactions and agreements do not describe a sale and are filtered
// out before extraction.
var acrisSaleDocTypes = map[string]bool{
	"DEED":  true,
	"DEEDO": true,
}

// AcrisExtractor maps register documents into intermediate records. It
// resolves locations through the tax-lot normalizer, not the address
// matcher: every document carries a borough-block-lot triple.
type AcrisExtractor struct {
	rows    []AcrisRow
	resolve *bbl.Resolver
}

// NewAcrisExtractor builds an extractor over a materialized snapshot.
func NewAcrisExtractor(rows []AcrisRow, resolve *bbl.Resolver) *AcrisExtractor {
	return &AcrisExtractor{rows: rows, resolve: resolve}
}

func (e *AcrisExtractor) Name() string { return ACRIS }

func (e *AcrisExtractor) Extract() (Batch, error) {
	batch := Batch{Source: ACRIS}

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

func (e *AcrisExtractor) extractRow(row AcrisRow) (Record, *Reject) {
	reject := func(reason string) *Reject {
		return &Reject{Source: ACRIS, SourceRecordID: row.DocumentID, Reason: reason}
	}

	if strings.TrimSpace(row.DocumentID) == "" {
		return Record{}, &Reject{Source: ACRIS, Reason: "missing document id"}
	}
	if !acrisSaleDocTypes[row.DocType] {
		return Record{}, reject("unsupported doc type " + row.DocType)
	}

	date, err := parseDate(firstNonEmpty(row.DocumentDate, row.RecordedDate))
	if err != nil {
		return Record{}, reject("bad document date: " + err.Error())
	}
	price, err := parsePrice(row.Amount)
	if err != nil {
		return Record{}, reject("bad document amount: " + err.Error())
	}

	// An unresolvable lot is not a rejection: the record is retained
	// unmatched for audit.
	res := e.resolve.Resolve(row.Borough, row.Block, row.Lot)

	rec := Record{
		Source:          ACRIS,
		SourceRecordID:  row.DocumentID,
		BBL:             res.BBL,
		MatchConfidence: res.Confidence,
		MatchMethod:     res.Method,
		Borough:         normalize.Borough(row.Borough),
		Unit:            normalize.Unit(row.Unit),
		ListingType:     Sale,
		Status:          StatusClosed,
		EventType:       EventClosed,
		EventDate:       date,
		Price:           price,
		Seller:          row.Seller,
		Buyer:           row.Buyer,
	}
	return rec, nil
}
