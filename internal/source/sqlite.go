package source

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// The acquisition layer materializes each source as its own SQLite file.
// These readers open them read-only; the pipeline never writes back.

func openRO(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return db, nil
}

// ReadElliman loads the Elliman MLS listings snapshot.
func ReadElliman(path string) ([]EllimanRow, error) {
	db, err := openRO(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT core_listing_id, address, borough, unit, listing_status,
		       listing_type, list_price, close_price, list_date, close_date,
		       listing_brokerage, buyer_agent
		FROM listings`)
	if err != nil {
		return nil, fmt.Errorf("elliman query: %w", err)
	}
	defer rows.Close()

	var out []EllimanRow
	for rows.Next() {
		var (
			r                     EllimanRow
			listPrice, closePrice sql.NullFloat64
			addr, boro, unit      sql.NullString
			status, ltype         sql.NullString
			listDate, closeDate   sql.NullString
			brokerage, buyer      sql.NullString
		)
		if err := rows.Scan(&r.CoreListingID, &addr, &boro, &unit, &status,
			&ltype, &listPrice, &closePrice, &listDate, &closeDate,
			&brokerage, &buyer); err != nil {
			return nil, fmt.Errorf("elliman scan: %w", err)
		}
		r.Address = addr.String
		r.Borough = boro.String
		r.Unit = unit.String
		r.Status = status.String
		r.Type = ltype.String
		r.ListPrice = formatPrice(listPrice)
		r.ClosePrice = formatPrice(closePrice)
		r.ListDate = listDate.String
		r.CloseDate = closeDate.String
		r.Brokerage = brokerage.String
		r.BuyerAgent = buyer.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadCorcoran loads the Corcoran feed snapshot.
func ReadCorcoran(path string) ([]CorcoranRow, error) {
	db, err := openRO(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT listing_id, address1, address2, borough, zip_code,
		       listing_status, transaction_type, price, closed_rented_date,
		       agent_name, detail_json
		FROM listings`)
	if err != nil {
		return nil, fmt.Errorf("corcoran query: %w", err)
	}
	defer rows.Close()

	var out []CorcoranRow
	for rows.Next() {
		var (
			r                     CorcoranRow
			price                 sql.NullFloat64
			a1, a2, boro, zip     sql.NullString
			status, ttype, closed sql.NullString
			agent, detail         sql.NullString
		)
		if err := rows.Scan(&r.ListingID, &a1, &a2, &boro, &zip, &status,
			&ttype, &price, &closed, &agent, &detail); err != nil {
			return nil, fmt.Errorf("corcoran scan: %w", err)
		}
		r.Address1 = a1.String
		r.Address2 = a2.String
		r.Borough = boro.String
		r.Zip = zip.String
		r.Status = status.String
		r.TransactionType = ttype.String
		r.Price = formatPrice(price)
		r.ClosedDate = closed.String
		r.AgentName = agent.String
		r.DetailJSON = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadStreetEasy loads the web-archive price history, joining in each
// building's display address by URL slug.
func ReadStreetEasy(path string) ([]StreetEasyRow, error) {
	db, err := openRO(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	slugAddr := make(map[string]string)
	brows, err := db.Query(`SELECT slug, address FROM buildings WHERE address IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("streeteasy buildings query: %w", err)
	}
	for brows.Next() {
		var slug, addr string
		if err := brows.Scan(&slug, &addr); err != nil {
			brows.Close()
			return nil, fmt.Errorf("streeteasy buildings scan: %w", err)
		}
		slugAddr[slug] = addr
	}
	brows.Close()
	if err := brows.Err(); err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT se_id, url, event_date, event_type, price, broker
		FROM wb_price_history`)
	if err != nil {
		return nil, fmt.Errorf("streeteasy history query: %w", err)
	}
	defer rows.Close()

	var out []StreetEasyRow
	for rows.Next() {
		var (
			r                    StreetEasyRow
			id, url, date, etype sql.NullString
			price                sql.NullFloat64
			broker               sql.NullString
		)
		if err := rows.Scan(&id, &url, &date, &etype, &price, &broker); err != nil {
			return nil, fmt.Errorf("streeteasy scan: %w", err)
		}
		r.ID = id.String
		r.URL = url.String
		r.EventDate = date.String
		r.EventType = etype.String
		r.Price = formatPrice(price)
		r.Broker = broker.String
		if slug, _ := parseSEURL(r.URL); slug != "" {
			r.Address = slugAddr[slug]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadAcris loads recorded documents, aggregating party names per
// document (party type 1 = grantor/seller, 2 = grantee/buyer).
func ReadAcris(path string) ([]AcrisRow, error) {
	db, err := openRO(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	type parties struct{ sellers, buyers []string }
	partyByDoc := make(map[string]*parties)

	prows, err := db.Query(`
		SELECT document_id, party_type, name FROM acris_parties
		WHERE party_type IN ('1', '2') AND name IS NOT NULL AND name <> ''`)
	if err != nil {
		return nil, fmt.Errorf("acris parties query: %w", err)
	}
	for prows.Next() {
		var docID, ptype, name string
		if err := prows.Scan(&docID, &ptype, &name); err != nil {
			prows.Close()
			return nil, fmt.Errorf("acris parties scan: %w", err)
		}
		p := partyByDoc[docID]
		if p == nil {
			p = &parties{}
			partyByDoc[docID] = p
		}
		if ptype == "1" {
			p.sellers = append(p.sellers, name)
		} else {
			p.buyers = append(p.buyers, name)
		}
	}
	prows.Close()
	if err := prows.Err(); err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT r.document_id, r.borough, r.block, r.lot, r.unit,
		       m.doc_type, m.document_date, m.recorded_datetime, m.document_amt
		FROM acris_real_property r
		JOIN acris_master m ON m.document_id = r.document_id
		WHERE r.borough IS NOT NULL AND r.block IS NOT NULL AND r.lot IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("acris query: %w", err)
	}
	defer rows.Close()

	var out []AcrisRow
	for rows.Next() {
		var (
			r                      AcrisRow
			boro, block, lot, unit sql.NullString
			dtype, ddate, rdate    sql.NullString
			amt                    sql.NullFloat64
		)
		if err := rows.Scan(&r.DocumentID, &boro, &block, &lot, &unit,
			&dtype, &ddate, &rdate, &amt); err != nil {
			return nil, fmt.Errorf("acris scan: %w", err)
		}
		r.Borough = boro.String
		r.Block = block.String
		r.Lot = lot.String
		r.Unit = unit.String
		r.DocType = dtype.String
		r.DocumentDate = ddate.String
		r.RecordedDate = rdate.String
		r.Amount = formatPrice(amt)
		if p := partyByDoc[r.DocumentID]; p != nil {
			r.Seller = strings.Join(p.sellers, "; ")
			r.Buyer = strings.Join(p.buyers, "; ")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatPrice(v sql.NullFloat64) string {
	if !v.Valid || v.Float64 == 0 {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}
