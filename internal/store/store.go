// Package store persists the reference snapshot and the unified output in
// Postgres. Reads serve the reference index and the web API; a run's
// output is written in a single transaction so a failed run leaves no
// partial state behind.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/refindex"
	"github.com/vayo/unify/internal/source"
	"github.com/vayo/unify/internal/unify"
)

// Store wraps the database connection.
type Store struct {
	DB *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)

	return &Store{DB: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// EnsureSchema creates the output tables when missing. The reference
// tables (ref_buildings, bin_bridge) are loaded by the snapshot import
// job and only read here.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			started_at      TIMESTAMPTZ NOT NULL,
			finished_at     TIMESTAMPTZ NOT NULL,
			records         INTEGER NOT NULL,
			matched         INTEGER NOT NULL,
			unmatched       INTEGER NOT NULL,
			ambiguous       INTEGER NOT NULL,
			listings        INTEGER NOT NULL,
			events          INTEGER NOT NULL,
			events_merged   INTEGER NOT NULL,
			conflicts       INTEGER NOT NULL,
			duplicates      INTEGER NOT NULL,
			rejected        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS listings (
			id               BIGSERIAL PRIMARY KEY,
			run_id           TEXT NOT NULL REFERENCES runs(id),
			bbl              TEXT NOT NULL,
			borough          TEXT NOT NULL,
			address          TEXT NOT NULL DEFAULT '',
			unit             TEXT NOT NULL DEFAULT '',
			listing_type     TEXT NOT NULL,
			status           TEXT NOT NULL,
			match_confidence DOUBLE PRECISION NOT NULL,
			sources          TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS listings_run_bbl ON listings (run_id, bbl)`,
		`CREATE TABLE IF NOT EXISTS price_events (
			id                BIGSERIAL PRIMARY KEY,
			listing_id        BIGINT NOT NULL REFERENCES listings(id),
			event_type        TEXT NOT NULL,
			event_date        DATE NOT NULL,
			price             BIGINT NOT NULL,
			source            TEXT NOT NULL,
			source_record_id  TEXT NOT NULL DEFAULT '',
			confidence        DOUBLE PRECISION NOT NULL,
			broker            TEXT NOT NULL DEFAULT '',
			buyer             TEXT NOT NULL DEFAULT '',
			seller            TEXT NOT NULL DEFAULT '',
			conflicting_price BOOLEAN NOT NULL DEFAULT FALSE,
			merged_from       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS unmatched_records (
			id               BIGSERIAL PRIMARY KEY,
			run_id           TEXT NOT NULL REFERENCES runs(id),
			source           TEXT NOT NULL,
			source_record_id TEXT NOT NULL DEFAULT '',
			raw_address      TEXT NOT NULL DEFAULT '',
			borough          TEXT NOT NULL DEFAULT '',
			unit             TEXT NOT NULL DEFAULT '',
			event_type       TEXT NOT NULL,
			event_date       DATE NOT NULL,
			price            BIGINT NOT NULL,
			ambiguous        BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS run_source_stats (
			run_id      TEXT NOT NULL REFERENCES runs(id),
			source      TEXT NOT NULL,
			records     INTEGER NOT NULL,
			matched     INTEGER NOT NULL,
			unmatched   INTEGER NOT NULL,
			ambiguous   INTEGER NOT NULL,
			conflicting INTEGER NOT NULL,
			rejected    INTEGER NOT NULL,
			PRIMARY KEY (run_id, source)
		)`,
		`CREATE TABLE IF NOT EXISTS rejects (
			id               BIGSERIAL PRIMARY KEY,
			run_id           TEXT NOT NULL REFERENCES runs(id),
			source           TEXT NOT NULL,
			source_record_id TEXT NOT NULL DEFAULT '',
			reason           TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// LoadBuildings reads the reference building snapshot.
func (s *Store) LoadBuildings(ctx context.Context) ([]refindex.Building, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT bbl, address, borough, COALESCE(zip, ''), COALESCE(units_res, 0),
		       COALESCE(year_built, 0), COALESCE(building_class, '')
		FROM ref_buildings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load buildings: %w", err)
	}
	defer rows.Close()

	var out []refindex.Building
	for rows.Next() {
		var b refindex.Building
		if err := rows.Scan(&b.BBL, &b.Address, &b.Borough, &b.Zip,
			&b.UnitsRes, &b.YearBuilt, &b.BuildingClass); err != nil {
			return nil, fmt.Errorf("failed to scan building: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LoadBINBridge reads the BIN-to-BBL bridge table.
func (s *Store) LoadBINBridge(ctx context.Context) (map[string]bbl.Key, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT bin, bbl FROM bin_bridge`)
	if err != nil {
		return nil, fmt.Errorf("failed to load bin bridge: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bbl.Key)
	for rows.Next() {
		var bin string
		var key bbl.Key
		if err := rows.Scan(&bin, &key); err != nil {
			return nil, fmt.Errorf("failed to scan bin bridge: %w", err)
		}
		out[bin] = key
	}
	return out, rows.Err()
}

// Run is one complete pipeline run, ready to persist.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Output     unify.Output
	Rejects    []source.Reject
}

// WriteRun persists a run's complete output in one transaction.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	st := run.Output.Stats
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, records, matched,
		                  unmatched, ambiguous, listings, events, events_merged,
		                  conflicts, duplicates, rejected)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		run.ID, run.StartedAt, run.FinishedAt, st.Records, st.Matched,
		st.Unmatched, st.Ambiguous, st.Listings, st.Events, st.EventsMerged,
		st.ConflictingEvents, st.DuplicatesDropped, len(run.Rejects)); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, l := range run.Output.Listings {
		var listingID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO listings (run_id, bbl, borough, address, unit,
			                      listing_type, status, match_confidence, sources)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id`,
			run.ID, l.BBL, l.Borough, l.Address, l.Unit,
			string(l.ListingType), string(l.Status), l.MatchConfidence,
			strings.Join(l.Sources, ",")).Scan(&listingID)
		if err != nil {
			return fmt.Errorf("failed to insert listing %s/%s: %w", l.BBL, l.Unit, err)
		}

		for _, e := range l.Events {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO price_events (listing_id, event_type, event_date,
				                          price, source, source_record_id,
				                          confidence, broker, buyer, seller,
				                          conflicting_price, merged_from)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
				listingID, string(e.EventType), e.Date, e.Price, e.Source,
				e.SourceID, e.Confidence, e.Broker, e.Buyer, e.Seller,
				e.ConflictingPrice, strings.Join(e.MergedFrom, ",")); err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
		}
	}

	for _, r := range run.Output.Unmatched {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO unmatched_records (run_id, source, source_record_id,
			                               raw_address, borough, unit,
			                               event_type, event_date, price, ambiguous)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			run.ID, r.Source, r.SourceRecordID, r.RawAddress, r.Borough,
			r.Unit, string(r.EventType), r.EventDate, r.Price, r.Ambiguous); err != nil {
			return fmt.Errorf("failed to insert unmatched record: %w", err)
		}
	}

	rejectedBySource := make(map[string]int)
	for _, r := range run.Rejects {
		rejectedBySource[r.Source]++
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rejects (run_id, source, source_record_id, reason)
			VALUES ($1,$2,$3,$4)`,
			run.ID, r.Source, r.SourceRecordID, r.Reason); err != nil {
			return fmt.Errorf("failed to insert reject: %w", err)
		}
	}

	names := make(map[string]bool)
	for name := range run.Output.PerSource {
		names[name] = true
	}
	for name := range rejectedBySource {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	for _, name := range sorted {
		ss := run.Output.PerSource[name]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_source_stats (run_id, source, records, matched,
			                              unmatched, ambiguous, conflicting, rejected)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			run.ID, name, ss.Records, ss.Matched, ss.Unmatched,
			ss.Ambiguous, ss.Conflicting, rejectedBySource[name]); err != nil {
			return fmt.Errorf("failed to insert source stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// RunSummary is the persisted accounting for one run.
type RunSummary struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Stats      unify.Stats `json:"stats"`
	Rejected   int         `json:"rejected"`
}

// LatestRun returns the most recent run's accounting.
func (s *Store) LatestRun(ctx context.Context) (RunSummary, error) {
	var r RunSummary
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, records, matched, unmatched,
		       ambiguous, listings, events, events_merged, conflicts,
		       duplicates, rejected
		FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(
		&r.ID, &r.StartedAt, &r.FinishedAt, &r.Stats.Records,
		&r.Stats.Matched, &r.Stats.Unmatched, &r.Stats.Ambiguous,
		&r.Stats.Listings, &r.Stats.Events, &r.Stats.EventsMerged,
		&r.Stats.ConflictingEvents, &r.Stats.DuplicatesDropped, &r.Rejected)
	if err == sql.ErrNoRows {
		return RunSummary{}, fmt.Errorf("no runs recorded")
	}
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to load latest run: %w", err)
	}
	return r, nil
}

// BuildingListings returns a building's unified listings from the most
// recent run, events included, in timeline order.
func (s *Store) BuildingListings(ctx context.Context, key bbl.Key) ([]unify.Listing, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, bbl, borough, address, unit, listing_type, status,
		       match_confidence, sources
		FROM listings
		WHERE bbl = $1
		  AND run_id = (SELECT id FROM runs ORDER BY started_at DESC LIMIT 1)
		ORDER BY unit, listing_type`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load listings: %w", err)
	}
	defer rows.Close()

	var out []unify.Listing
	var ids []int64
	for rows.Next() {
		var l unify.Listing
		var id int64
		var sources string
		if err := rows.Scan(&id, &l.BBL, &l.Borough, &l.Address, &l.Unit,
			&l.ListingType, &l.Status, &l.MatchConfidence, &sources); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		if sources != "" {
			l.Sources = strings.Split(sources, ",")
		}
		out = append(out, l)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		events, err := s.listingEvents(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i].Events = events
	}
	return out, nil
}

func (s *Store) listingEvents(ctx context.Context, listingID int64) ([]unify.PriceEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT event_type, event_date, price, source, source_record_id,
		       confidence, broker, buyer, seller, conflicting_price, merged_from
		FROM price_events
		WHERE listing_id = $1
		ORDER BY event_date, event_type, price, source`, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	var out []unify.PriceEvent
	for rows.Next() {
		var e unify.PriceEvent
		var merged string
		if err := rows.Scan(&e.EventType, &e.Date, &e.Price, &e.Source,
			&e.SourceID, &e.Confidence, &e.Broker, &e.Buyer, &e.Seller,
			&e.ConflictingPrice, &merged); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if merged != "" {
			e.MergedFrom = strings.Split(merged, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
