package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/matcher"
	"github.com/vayo/unify/internal/normalize"
)

// stubResolver resolves by canonical address against a fixed table, so the
// extractor tests do not depend on the matcher's tiers.
type stubResolver struct {
	byCanonical map[string]matcher.Result
}

func (s stubResolver) Match(addressText, boroughHint, zipHint string) matcher.Result {
	canonical, _ := normalize.Address(addressText)
	if r, ok := s.byCanonical[canonical]; ok {
		return r
	}
	return matcher.Result{Method: matcher.MethodNone}
}

func resolver() stubResolver {
	return stubResolver{byCanonical: map[string]matcher.Result{
		"200 E 23 ST":      {BBL: "1009010001", Confidence: 1.0, Method: matcher.MethodExact},
		"9115 COLONIAL RD": {BBL: "3061340038", Confidence: 1.0, Method: matcher.MethodExact},
		"443 GREENWICH ST": {BBL: "1002190001", Confidence: 1.0, Method: matcher.MethodExact},
	}}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestEllimanExtract(t *testing.T) {
	rows := []EllimanRow{{
		CoreListingID: "ell-1",
		Address:       "200 E 23RD ST 7C, New York, NY 10010",
		Status:        "Closed",
		Type:          "Residential",
		ListPrice:     "$1,250,000",
		ListDate:      "2024-01-15",
		ClosePrice:    "1200000",
		CloseDate:     "2024-03-02",
		Brokerage:     "Douglas Elliman",
		BuyerAgent:    "J. Chen",
	}}

	batch, err := NewEllimanExtractor(rows, resolver()).Extract()
	require.NoError(t, err)
	require.Empty(t, batch.Rejects)
	require.Len(t, batch.Records, 2)

	listed, closed := batch.Records[0], batch.Records[1]

	assert.Equal(t, EventListed, listed.EventType)
	assert.Equal(t, int64(1250000), listed.Price)
	assert.Equal(t, day("2024-01-15"), listed.EventDate)

	assert.Equal(t, EventClosed, closed.EventType)
	assert.Equal(t, int64(1200000), closed.Price)
	assert.Equal(t, day("2024-03-02"), closed.EventDate)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.Equal(t, "J. Chen", closed.Buyer)

	for _, rec := range batch.Records {
		assert.Equal(t, Elliman, rec.Source)
		assert.Equal(t, "ell-1", rec.SourceRecordID)
		assert.Equal(t, bbl.Key("1009010001"), rec.BBL)
		assert.Equal(t, matcher.MethodExact, rec.MatchMethod)
		assert.Equal(t, normalize.Manhattan, rec.Borough)
		assert.Equal(t, "10010", rec.Zip)
		assert.Equal(t, "7C", rec.Unit)
		assert.Equal(t, Sale, rec.ListingType)
	}
}

func TestEllimanRejectsAreContained(t *testing.T) {
	rows := []EllimanRow{
		{
			CoreListingID: "ell-bad-status",
			Address:       "200 E 23RD ST, New York, NY 10010",
			Status:        "Zombie",
			Type:          "Residential",
			ListPrice:     "1000000",
			ListDate:      "2024-01-15",
		},
		{
			CoreListingID: "ell-bad-price",
			Address:       "200 E 23RD ST, New York, NY 10010",
			Status:        "Closed",
			Type:          "Residential",
			ClosePrice:    "N/A",
			CloseDate:     "2024-03-02",
		},
		{
			CoreListingID: "ell-ok",
			Address:       "200 E 23RD ST, New York, NY 10010",
			Status:        "Active",
			Type:          "Rental",
			ListPrice:     "3200",
			ListDate:      "2024-06-01",
		},
	}

	batch, err := NewEllimanExtractor(rows, resolver()).Extract()
	require.NoError(t, err)

	// Malformed rows become rejects with a reason; the good row's output is
	// unaffected.
	require.Len(t, batch.Rejects, 2)
	assert.Contains(t, batch.Rejects[0].Reason, "unknown listing status")
	assert.Contains(t, batch.Rejects[1].Reason, "bad close price")

	require.Len(t, batch.Records, 1)
	rec := batch.Records[0]
	assert.Equal(t, "ell-ok", rec.SourceRecordID)
	assert.Equal(t, Rental, rec.ListingType)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, int64(3200), rec.Price)
}

func TestEllimanRejectsRowWithNoDatedFacts(t *testing.T) {
	rows := []EllimanRow{{
		CoreListingID: "ell-empty",
		Address:       "200 E 23RD ST, New York, NY 10010",
		Status:        "Active",
		Type:          "Residential",
	}}

	batch, err := NewEllimanExtractor(rows, resolver()).Extract()
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
	require.Len(t, batch.Rejects, 1)
	assert.Equal(t, "no dated price facts", batch.Rejects[0].Reason)
}

func TestCorcoranExtractWithDetail(t *testing.T) {
	detail := `{
		"price": 2450000,
		"dateListed": "2024-01-10T00:00:00",
		"brokerageName": "Corcoran East Side",
		"listingHistories": [
			{"listingId": 998877, "unitNumber": "12B", "listingStatus": "Sold",
			 "dateSold": "2023-06-15T00:00:00", "soldPrice": 1800000}
		]
	}`
	rows := []CorcoranRow{{
		ListingID:       "corc-1",
		Address1:        "443 Greenwich Street",
		Address2:        "PH-A",
		Borough:         "Manhattan",
		Zip:             "10013",
		Status:          "Sold",
		TransactionType: "For Sale",
		Price:           "2500000",
		ClosedDate:      "2024-05-01",
		AgentName:       "A. Russo",
		DetailJSON:      detail,
	}}

	batch, err := NewCorcoranExtractor(rows, resolver()).Extract()
	require.NoError(t, err)
	require.Empty(t, batch.Rejects)
	require.Len(t, batch.Records, 3)

	listed, closed, hist := batch.Records[0], batch.Records[1], batch.Records[2]

	assert.Equal(t, EventListed, listed.EventType)
	assert.Equal(t, day("2024-01-10"), listed.EventDate)
	assert.Equal(t, int64(2500000), listed.Price)
	assert.Equal(t, "PHA", listed.Unit)
	assert.Equal(t, "Corcoran East Side", listed.Broker)

	// The detail blob's price wins for the closing; the flat date stands in
	// for the missing dateSold.
	assert.Equal(t, EventClosed, closed.EventType)
	assert.Equal(t, day("2024-05-01"), closed.EventDate)
	assert.Equal(t, int64(2450000), closed.Price)
	assert.Equal(t, StatusClosed, closed.Status)

	// Building-wide history rides along under its own listing ID.
	assert.Equal(t, "hist:998877", hist.SourceRecordID)
	assert.Equal(t, "12B", hist.Unit)
	assert.Equal(t, EventClosed, hist.EventType)
	assert.Equal(t, day("2023-06-15"), hist.EventDate)
	assert.Equal(t, int64(1800000), hist.Price)
	assert.Equal(t, bbl.Key("1002190001"), hist.BBL)
}

func TestCorcoranCorruptDetailDegrades(t *testing.T) {
	rows := []CorcoranRow{{
		ListingID:       "corc-2",
		Address1:        "443 Greenwich Street",
		Borough:         "1",
		Zip:             "10013",
		Status:          "Sold",
		TransactionType: "For Sale",
		Price:           "1900000",
		ClosedDate:      "2024-02-20",
		DetailJSON:      `{"price": not-json`,
	}}

	batch, err := NewCorcoranExtractor(rows, resolver()).Extract()
	require.NoError(t, err)
	require.Empty(t, batch.Rejects)
	require.Len(t, batch.Records, 1)

	rec := batch.Records[0]
	assert.Equal(t, EventClosed, rec.EventType)
	assert.Equal(t, int64(1900000), rec.Price)
	assert.Equal(t, day("2024-02-20"), rec.EventDate)
}

func TestCorcoranRejectsUnknownVocabulary(t *testing.T) {
	rows := []CorcoranRow{{
		ListingID:       "corc-3",
		Address1:        "443 Greenwich Street",
		Status:          "Sold",
		TransactionType: "Timeshare",
		Price:           "100000",
		ClosedDate:      "2024-02-20",
	}}

	batch, err := NewCorcoranExtractor(rows, resolver()).Extract()
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
	require.Len(t, batch.Rejects, 1)
	assert.Contains(t, batch.Rejects[0].Reason, "unknown transaction type")
}

func TestNormalizeSEEvent(t *testing.T) {
	tests := []struct {
		raw    string
		event  EventType
		broker string
		ok     bool
	}{
		{"Listing sold", EventClosed, "", true},
		{"SOLD", EventClosed, "", true},
		{"RENTED", EventClosed, "", true},
		{"Listing entered contract", EventInContract, "", true},
		{"Listing is no longer available", EventDelisted, "", true},
		{"Price decreased by 5%", EventPriceChanged, "", true},
		{"Price increased by 2%", EventPriceChanged, "", true},
		{"Relisted at a new price", EventListed, "", true},
		{"Previous Sale recorded", EventClosed, "", true},
		{"Listed by Compass", EventListed, "Compass", true},
		{"-", EventPricePoint, "", true},
		{"", EventPricePoint, "", true},
		{"Building Class: D4", "", "", false},
		{"Nearby Buildings", "", "", false},
	}
	for _, tt := range tests {
		event, broker, ok := normalizeSEEvent(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw %q", tt.raw)
		assert.Equal(t, tt.event, event, "raw %q", tt.raw)
		assert.Equal(t, tt.broker, broker, "raw %q", tt.raw)
	}
}

func TestStreetEasyExtract(t *testing.T) {
	rows := []StreetEasyRow{{
		ID:        "se-1",
		URL:       "https://streeteasy.com/building/9115-colonial-road-brooklyn/5g",
		Address:   "9115 Colonial Road",
		EventDate: "2023-11-02",
		EventType: "Listing sold",
		Price:     "950000",
	}}

	batch, err := NewStreetEasyExtractor(rows, resolver()).Extract()
	require.NoError(t, err)
	require.Empty(t, batch.Rejects)
	require.Len(t, batch.Records, 1)

	rec := batch.Records[0]
	assert.Equal(t, StreetEasy, rec.Source)
	assert.Equal(t, normalize.Brooklyn, rec.Borough)
	assert.Equal(t, "5G", rec.Unit)
	assert.Equal(t, EventClosed, rec.EventType)
	assert.Equal(t, StatusClosed, rec.Status)
	assert.Equal(t, Sale, rec.ListingType)
	assert.Equal(t, int64(950000), rec.Price)
	assert.Equal(t, day("2023-11-02"), rec.EventDate)
	assert.Equal(t, bbl.Key("3061340038"), rec.BBL)
}

func TestStreetEasyRentedClosesAsRental(t *testing.T) {
	rows := []StreetEasyRow{{
		ID:        "se-2",
		URL:       "https://streeteasy.com/building/9115-colonial-road-brooklyn/5g",
		EventDate: "2024-02-10",
		EventType: "RENTED",
		Price:     "3400",
	}}

	batch, err := NewStreetEasyExtractor(rows, resolver()).Extract()
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, Rental, batch.Records[0].ListingType)
	assert.Equal(t, EventClosed, batch.Records[0].EventType)
}

func TestStreetEasyRejects(t *testing.T) {
	rows := []StreetEasyRow{
		// Price point with no price carries nothing.
		{ID: "se-3", URL: "https://streeteasy.com/building/9115-colonial-road-brooklyn/5g",
			EventDate: "2024-01-01", EventType: "-"},
		// Scraped chrome is not an event.
		{ID: "se-4", URL: "https://streeteasy.com/building/9115-colonial-road-brooklyn",
			EventDate: "2024-01-01", EventType: "Building Class: D4", Price: "1"},
		// No building slug means no location at all.
		{ID: "se-5", URL: "https://streeteasy.com/sales/all",
			EventDate: "2024-01-01", EventType: "SOLD", Price: "500000"},
	}

	batch, err := NewStreetEasyExtractor(rows, resolver()).Extract()
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
	require.Len(t, batch.Rejects, 3)
	assert.Equal(t, "price point without price", batch.Rejects[0].Reason)
	assert.Equal(t, "non-event row", batch.Rejects[1].Reason)
	assert.Equal(t, "no building slug in url", batch.Rejects[2].Reason)
}

func TestParseSEURL(t *testing.T) {
	tests := []struct {
		url, slug, unit string
	}{
		{"https://streeteasy.com/building/9115-colonial-road-brooklyn/5g",
			"9115-colonial-road-brooklyn", "5g"},
		{"https://streeteasy.com/building/the-dakota-new_york",
			"the-dakota-new_york", ""},
		{"https://streeteasy.com/building/200-east-23-street-new_york/7c?featured=1",
			"200-east-23-street-new_york", "7c"},
		{"https://streeteasy.com/sales/all", "", ""},
	}
	for _, tt := range tests {
		slug, unit := parseSEURL(tt.url)
		assert.Equal(t, tt.slug, slug, "url %s", tt.url)
		assert.Equal(t, tt.unit, unit, "url %s", tt.url)
	}
}

type fakeBlocks map[string]bbl.Key

func (f fakeBlocks) BaseLotForBlock(prefix string) (bbl.Key, bool) {
	k, ok := f[prefix]
	return k, ok
}

func TestAcrisExtract(t *testing.T) {
	resolve := bbl.NewResolver(fakeBlocks{"100231": "1002310001"}, nil)

	rows := []AcrisRow{
		// Condo sub-lot collapses onto the block's base building.
		{DocumentID: "doc-1", Borough: "1", Block: "231", Lot: "1705", Unit: "17A",
			DocType: "DEED", DocumentDate: "2024-04-18", Amount: "3100000",
			Seller: "ACME HOLDINGS LLC", Buyer: "SMITH, JANE"},
		// Whole-building lot resolves directly.
		{DocumentID: "doc-2", Borough: "1", Block: "231", Lot: "21",
			DocType: "DEEDO", RecordedDate: "2024-05-02T09:30:00", Amount: "8750000"},
		// Mortgages are not sales.
		{DocumentID: "doc-3", Borough: "1", Block: "231", Lot: "21",
			DocType: "MTGE", DocumentDate: "2024-05-02", Amount: "5000000"},
		// A bad lot is retained unmatched, not rejected.
		{DocumentID: "doc-4", Borough: "7", Block: "231", Lot: "21",
			DocType: "DEED", DocumentDate: "2024-05-09", Amount: "650000"},
		// A zero consideration is malformed.
		{DocumentID: "doc-5", Borough: "1", Block: "231", Lot: "21",
			DocType: "DEED", DocumentDate: "2024-05-09", Amount: "0"},
	}

	batch, err := NewAcrisExtractor(rows, resolve).Extract()
	require.NoError(t, err)
	require.Len(t, batch.Records, 3)
	require.Len(t, batch.Rejects, 2)

	condo := batch.Records[0]
	assert.Equal(t, bbl.Key("1002310001"), condo.BBL)
	assert.Equal(t, bbl.MethodCondoLookup, condo.MatchMethod)
	assert.InDelta(t, 0.90, condo.MatchConfidence, 1e-9)
	assert.Equal(t, "17A", condo.Unit)
	assert.Equal(t, EventClosed, condo.EventType)
	assert.Equal(t, Sale, condo.ListingType)
	assert.Equal(t, int64(3100000), condo.Price)
	assert.Equal(t, "ACME HOLDINGS LLC", condo.Seller)
	assert.Equal(t, "SMITH, JANE", condo.Buyer)

	direct := batch.Records[1]
	assert.Equal(t, bbl.Key("1002310021"), direct.BBL)
	assert.Equal(t, bbl.MethodDirect, direct.MatchMethod)
	assert.Equal(t, 1.0, direct.MatchConfidence)
	assert.Equal(t, day("2024-05-02"), direct.EventDate)

	unmatched := batch.Records[2]
	assert.False(t, unmatched.Resolved())
	assert.Equal(t, bbl.MethodNone, unmatched.MatchMethod)

	assert.Contains(t, batch.Rejects[0].Reason, "unsupported doc type")
	assert.Contains(t, batch.Rejects[1].Reason, "bad document amount")
}
