package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// ImportCSV loads tick records from a CSV export of the offline feature
// pipeline. The file must carry a header row with at least "datetime",
// "symbol" and "price" columns; "volume" and any further numeric columns
// are treated as the indicator snapshot for that tick. Unparseable rows
// are skipped and counted, not fatal.
func (s *Store) ImportCSV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"datetime", "symbol", "price"} {
		if _, ok := col[required]; !ok {
			return 0, fmt.Errorf("csv missing required column %q", required)
		}
	}

	var imported, skipped int
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		tick, ok := parseRow(header, col, row)
		if !ok {
			skipped++
			continue
		}
		if err := s.StoreTick(tick); err != nil {
			return imported, fmt.Errorf("store tick: %w", err)
		}
		imported++
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Str("path", path).Msg("skipped malformed csv rows")
	}
	log.Info().Int("imported", imported).Str("path", path).Msg("csv import complete")
	return imported, nil
}

func parseRow(header []string, col map[string]int, row []string) (TickRecord, bool) {
	ts, err := parseTimestamp(row[col["datetime"]])
	if err != nil {
		return TickRecord{}, false
	}
	price, err := strconv.ParseFloat(row[col["price"]], 64)
	if err != nil {
		return TickRecord{}, false
	}

	tick := TickRecord{
		Symbol:    row[col["symbol"]],
		Timestamp: ts,
		Price:     price,
	}
	if i, ok := col["volume"]; ok {
		if v, err := strconv.ParseFloat(row[i], 64); err == nil {
			tick.Volume = v
		}
	}

	for i, name := range header {
		switch name {
		case "datetime", "symbol", "price", "volume":
			continue
		}
		if i >= len(row) || row[i] == "" {
			continue
		}
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			continue
		}
		if tick.Indicators == nil {
			tick.Indicators = make(map[string]float64)
		}
		tick.Indicators[name] = v
	}
	return tick, true
}

func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999",
	}
	for _, f := range formats {
		if ts, err := time.Parse(f, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
