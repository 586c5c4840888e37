package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateLayouts covers the calendar renderings seen across the sources:
// ISO dates, ISO datetimes (ACRIS recorded_datetime), and US slash dates.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// parseDate normalizes a source date string to UTC midnight.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// parsePrice normalizes a source price rendering ("$3,200", "3200.00",
// "1250000") to whole dollars. Decimal parsing avoids binary-float
// artifacts on the cent renderings some feeds emit.
func parsePrice(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q", s)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("non-positive price %q", s)
	}
	return d.Round(0).IntPart(), nil
}
