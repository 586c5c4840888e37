package unify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/source"
)

func rec(src, id string, key bbl.Key, unit string, lt source.ListingType,
	et source.EventType, date string, price int64, conf float64) source.Record {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	method := "exact"
	if key == "" {
		method = "none"
		conf = 0
	}
	return source.Record{
		Source:          src,
		SourceRecordID:  id,
		BBL:             key,
		MatchConfidence: conf,
		MatchMethod:     method,
		Unit:            unit,
		ListingType:     lt,
		EventType:       et,
		EventDate:       d.UTC(),
		Price:           price,
	}
}

func TestUnifyGroupsByBuildingUnitAndSegment(t *testing.T) {
	records := []source.Record{
		rec(source.Elliman, "e1", "1009010001", "7C", source.Sale, source.EventListed, "2024-01-15", 1250000, 1.0),
		rec(source.Elliman, "e2", "1009010001", "7C", source.Rental, source.EventListed, "2024-06-01", 4500, 1.0),
		rec(source.Corcoran, "c1", "1009010001", "9A", source.Sale, source.EventListed, "2024-02-01", 2000000, 1.0),
		rec(source.Corcoran, "c2", "3061340038", "5G", source.Sale, source.EventListed, "2024-02-01", 950000, 1.0),
	}

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings, 4)
	assert.Empty(t, out.Unmatched)
	assert.Equal(t, 4, out.Stats.Listings)
	assert.Equal(t, 4, out.Stats.Matched)

	// Same unit, different market segments: two separate listings.
	assert.Equal(t, source.Rental, out.Listings[0].ListingType)
	assert.Equal(t, source.Sale, out.Listings[1].ListingType)
	assert.Equal(t, out.Listings[0].BBL, out.Listings[1].BBL)
	assert.Equal(t, out.Listings[0].Unit, out.Listings[1].Unit)

	// Borough is recoverable from the key.
	assert.Equal(t, "1", out.Listings[0].Borough)
	assert.Equal(t, "3", out.Listings[3].Borough)
}

func TestUnifyMergesSameOccurrence(t *testing.T) {
	// The same April closing seen by the register and a brokerage feed:
	// same month, prices 0.16% apart. One event survives.
	records := []source.Record{
		rec(source.Corcoran, "c1", "1002310001", "17A", source.Sale, source.EventClosed, "2024-04-20", 3095000, 1.0),
		rec(source.ACRIS, "d1", "1002310001", "17A", source.Sale, source.EventClosed, "2024-04-18", 3100000, 1.0),
	}
	records[0].Broker = "Corcoran East Side"
	records[1].Buyer = "SMITH, JANE"
	records[1].Seller = "ACME HOLDINGS LLC"

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings, 1)
	listing := out.Listings[0]
	require.Len(t, listing.Events, 1)

	// Equal confidence, so the transaction-fact priority picks the
	// register's observation.
	ev := listing.Events[0]
	assert.Equal(t, source.ACRIS, ev.Source)
	assert.Equal(t, int64(3100000), ev.Price)
	assert.False(t, ev.ConflictingPrice)
	assert.Equal(t, []string{"corcoran:c1"}, ev.MergedFrom)

	// The loser's contact facts are backfilled, not lost.
	assert.Equal(t, "Corcoran East Side", ev.Broker)
	assert.Equal(t, "SMITH, JANE", ev.Buyer)
	assert.Equal(t, "ACME HOLDINGS LLC", ev.Seller)

	assert.Equal(t, 1, out.Stats.EventsMerged)
	assert.Equal(t, 0, out.Stats.ConflictingEvents)
	assert.Equal(t, []string{source.ACRIS, source.Corcoran}, listing.Sources)
}

func TestUnifyListingFactPriorityDiffersFromTransactions(t *testing.T) {
	// For a listed event the brokerage feed outranks the register-style
	// source ordering; Corcoran's observation wins the merge.
	records := []source.Record{
		rec(source.StreetEasy, "s1", "1002310001", "17A", source.Sale, source.EventListed, "2024-02-01", 3200000, 1.0),
		rec(source.Corcoran, "c1", "1002310001", "17A", source.Sale, source.EventListed, "2024-02-03", 3195000, 1.0),
	}

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings, 1)
	require.Len(t, out.Listings[0].Events, 1)
	ev := out.Listings[0].Events[0]
	assert.Equal(t, source.Corcoran, ev.Source)
	assert.Equal(t, []string{"streeteasy:s1"}, ev.MergedFrom)
}

func TestUnifyHigherConfidenceBeatsPriority(t *testing.T) {
	records := []source.Record{
		rec(source.ACRIS, "d1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-18", 3100000, 0.90),
		rec(source.Elliman, "e1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-20", 3100000, 1.0),
	}

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings, 1)
	require.Len(t, out.Listings[0].Events, 1)
	assert.Equal(t, source.Elliman, out.Listings[0].Events[0].Source)
}

func TestUnifySameSourcePriceHistorySurvives(t *testing.T) {
	// A StreetEasy price cut two weeks after the first observation: same
	// month, 3% apart, one source. Both observations are history and both
	// stay; occurrence merging reconciles sources, not a source with
	// itself.
	records := []source.Record{
		rec(source.StreetEasy, "s1", "1002310001", "4D", source.Rental, source.EventListed, "2024-04-05", 3200, 0.85),
		rec(source.StreetEasy, "s2", "1002310001", "4D", source.Rental, source.EventListed, "2024-04-20", 3100, 0.85),
	}

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings, 1)
	events := out.Listings[0].Events
	require.Len(t, events, 2)
	assert.Equal(t, int64(3200), events[0].Price)
	assert.Equal(t, int64(3100), events[1].Price)
	for _, ev := range events {
		assert.Empty(t, ev.MergedFrom)
		assert.False(t, ev.ConflictingPrice)
	}
	assert.Equal(t, 0, out.Stats.EventsMerged)
	assert.Equal(t, 0, out.Stats.ConflictingEvents)
}

func TestUnifyConflictingPricesBothKept(t *testing.T) {
	// Same month, prices 25% apart: no merging, both survive flagged.
	records := []source.Record{
		rec(source.ACRIS, "d1", "1002310001", "17A", source.Sale, source.EventClosed, "2024-04-18", 2000000, 1.0),
		rec(source.Elliman, "e1", "1002310001", "17A", source.Sale, source.EventClosed, "2024-04-25", 1500000, 1.0),
	}

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings, 1)
	events := out.Listings[0].Events
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.True(t, ev.ConflictingPrice)
		assert.Empty(t, ev.MergedFrom)
	}
	assert.Equal(t, 2, out.Stats.ConflictingEvents)
	assert.Equal(t, 0, out.Stats.EventsMerged)
}

func TestUnifyToleranceBoundary(t *testing.T) {
	u := New(Policy{PriceTolerance: 0.10})

	// Exactly 10% apart merges; just past it conflicts.
	within := u.Unify([]source.Record{
		rec(source.ACRIS, "d1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-01", 1000000, 1.0),
		rec(source.Elliman, "e1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-02", 900000, 1.0),
	})
	require.Len(t, within.Listings[0].Events, 1)

	beyond := u.Unify([]source.Record{
		rec(source.ACRIS, "d1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-01", 1000000, 1.0),
		rec(source.Elliman, "e1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-02", 899999, 1.0),
	})
	require.Len(t, beyond.Listings[0].Events, 2)
}

func TestUnifyDifferentMonthsNeverMerge(t *testing.T) {
	records := []source.Record{
		rec(source.ACRIS, "d1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-30", 1000000, 1.0),
		rec(source.Elliman, "e1", "1002310001", "", source.Sale, source.EventClosed, "2024-05-01", 1000000, 1.0),
	}

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings[0].Events, 2)
	for _, ev := range out.Listings[0].Events {
		assert.False(t, ev.ConflictingPrice)
	}
}

func TestUnifyDayWindowCrossesMonthBoundary(t *testing.T) {
	u := New(Policy{PriceTolerance: 0.10, DateWindowDays: 7})

	// Three days apart across a month boundary: one occurrence under the
	// day-window policy.
	out := u.Unify([]source.Record{
		rec(source.ACRIS, "d1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-29", 1000000, 1.0),
		rec(source.Elliman, "e1", "1002310001", "", source.Sale, source.EventClosed, "2024-05-02", 1000000, 1.0),
	})
	require.Len(t, out.Listings[0].Events, 1)

	// Ten days apart stays two occurrences.
	out = u.Unify([]source.Record{
		rec(source.ACRIS, "d1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-22", 1000000, 1.0),
		rec(source.Elliman, "e1", "1002310001", "", source.Sale, source.EventClosed, "2024-05-02", 1000000, 1.0),
	})
	require.Len(t, out.Listings[0].Events, 2)
}

func TestDedupeExact(t *testing.T) {
	d, _ := time.Parse("2006-01-02", "2024-04-18")
	events := []PriceEvent{
		{EventType: source.EventClosed, Date: d, Price: 100, Source: source.ACRIS, SourceID: "a"},
		{EventType: source.EventClosed, Date: d, Price: 100, Source: source.ACRIS, SourceID: "a"},
		// Different source: not a duplicate, a corroboration.
		{EventType: source.EventClosed, Date: d, Price: 100, Source: source.Elliman, SourceID: "e"},
	}

	out, dropped := DedupeExact(events)
	assert.Len(t, out, 2)
	assert.Equal(t, 1, dropped)
}

func TestUnifyUnmatchedPartition(t *testing.T) {
	unresolved := rec(source.StreetEasy, "s1", "", "3B", source.Sale, source.EventListed, "2024-01-01", 500000, 0)
	unresolved.Ambiguous = true

	out := New(DefaultPolicy()).Unify([]source.Record{
		unresolved,
		rec(source.ACRIS, "d1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-18", 1000000, 1.0),
	})

	require.Len(t, out.Listings, 1)
	require.Len(t, out.Unmatched, 1)
	assert.Equal(t, "s1", out.Unmatched[0].SourceRecordID)
	assert.Equal(t, 1, out.Stats.Unmatched)
	assert.Equal(t, 1, out.Stats.Ambiguous)
	assert.Equal(t, 1, out.Stats.Matched)

	// The accounting is broken down per source for the run report.
	assert.Equal(t, SourceStats{Records: 1, Unmatched: 1, Ambiguous: 1},
		out.PerSource[source.StreetEasy])
	assert.Equal(t, SourceStats{Records: 1, Matched: 1},
		out.PerSource[source.ACRIS])
}

func TestUnifyMergesWhenPriceAbsentOnOneSide(t *testing.T) {
	// The register has the consideration, the feed's in-contract row has
	// no price: one occurrence, price backfilled.
	records := []source.Record{
		rec(source.Elliman, "e1", "1002310001", "", source.Sale, source.EventInContract, "2024-03-05", 0, 1.0),
		rec(source.StreetEasy, "s1", "1002310001", "", source.Sale, source.EventInContract, "2024-03-08", 2900000, 0.85),
	}

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings, 1)
	require.Len(t, out.Listings[0].Events, 1)
	ev := out.Listings[0].Events[0]
	assert.Equal(t, source.Elliman, ev.Source)
	assert.Equal(t, int64(2900000), ev.Price)
	assert.False(t, ev.ConflictingPrice)
}

func TestUnifyStatusFollowsLatestObservation(t *testing.T) {
	records := []source.Record{
		rec(source.Elliman, "e1", "1009010001", "7C", source.Sale, source.EventListed, "2024-01-15", 1250000, 1.0),
		rec(source.Elliman, "e2", "1009010001", "7C", source.Sale, source.EventClosed, "2024-03-02", 1200000, 1.0),
	}
	records[0].Status = source.StatusActive
	records[1].Status = source.StatusClosed

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings, 1)
	assert.Equal(t, source.StatusClosed, out.Listings[0].Status)

	// Timeline is chronological.
	events := out.Listings[0].Events
	require.Len(t, events, 2)
	assert.True(t, events[0].Date.Before(events[1].Date))
}

func TestUnifyIdempotentUnderShuffle(t *testing.T) {
	records := []source.Record{
		rec(source.ACRIS, "d1", "1002310001", "17A", source.Sale, source.EventClosed, "2024-04-18", 3100000, 1.0),
		rec(source.Corcoran, "c1", "1002310001", "17A", source.Sale, source.EventClosed, "2024-04-20", 3095000, 1.0),
		rec(source.Elliman, "e1", "1002310001", "17A", source.Sale, source.EventListed, "2024-01-15", 3200000, 1.0),
		rec(source.StreetEasy, "s1", "1002310001", "17A", source.Sale, source.EventListed, "2024-01-16", 3200000, 0.85),
		rec(source.Corcoran, "c2", "3061340038", "5G", source.Sale, source.EventListed, "2024-02-01", 950000, 1.0),
		rec(source.StreetEasy, "s2", "", "", source.Sale, source.EventListed, "2024-02-01", 1, 0),
	}

	shuffled := []source.Record{
		records[3], records[5], records[0], records[4], records[2], records[1],
	}

	u := New(DefaultPolicy())
	a := u.Unify(records)
	b := u.Unify(shuffled)

	assert.Equal(t, a.Listings, b.Listings)
	assert.Equal(t, a.Unmatched, b.Unmatched)
	assert.Equal(t, a.Stats, b.Stats)
	assert.Equal(t, a.PerSource, b.PerSource)
}

func TestUnifyMinConfidenceTaintsListing(t *testing.T) {
	records := []source.Record{
		rec(source.ACRIS, "d1", "1002310001", "", source.Sale, source.EventClosed, "2024-04-18", 1000000, 1.0),
		rec(source.StreetEasy, "s1", "1002310001", "", source.Sale, source.EventListed, "2024-01-01", 1000000, 0.62),
	}

	out := New(DefaultPolicy()).Unify(records)

	require.Len(t, out.Listings, 1)
	assert.InDelta(t, 0.62, out.Listings[0].MatchConfidence, 1e-9)
}
