// Package storage provides persistent tick storage for the ensemble service.
// It uses BoltDB as the underlying storage engine to store per-symbol price
// ticks together with their technical-indicator snapshots, which the window
// builder reads back to assemble prediction windows.
//
// The package provides thread-safe operations for storing and retrieving
// time-series data with efficient range queries and automatic bucket management.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	ticksBucket   = "ticks"   // Bucket name for price tick records
	symbolsBucket = "symbols" // Bucket name for the known-symbol index
)

// TickRecord is a single observed price sample with its indicator snapshot.
type TickRecord struct {
	Symbol     string             `json:"symbol"`
	Timestamp  time.Time          `json:"timestamp"`
	Price      float64            `json:"price"`
	Volume     float64            `json:"volume"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Store provides persistent storage for tick data using BoltDB.
// Keys are "symbol_unixnano" so cursor scans yield time order per symbol.
type Store struct {
	db *bbolt.DB
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "ensemble-data.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ticksBucket)); err != nil {
			return fmt.Errorf("create ticks bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(symbolsBucket)); err != nil {
			return fmt.Errorf("create symbols bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreTick stores a tick record and refreshes the symbol index.
func (s *Store) StoreTick(tick TickRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ticksBucket))

		data, err := json.Marshal(tick)
		if err != nil {
			return fmt.Errorf("marshal tick: %w", err)
		}

		key := tickKey(tick.Symbol, tick.Timestamp)
		if err := b.Put(key, data); err != nil {
			return err
		}

		idx := tx.Bucket([]byte(symbolsBucket))
		ts, err := tick.Timestamp.MarshalText()
		if err != nil {
			return fmt.Errorf("marshal timestamp: %w", err)
		}
		return idx.Put([]byte(tick.Symbol), ts)
	})
}

// RecentTicks returns up to n most recent ticks for a symbol in ascending
// time order. Fewer than n records may be returned when history is short;
// callers decide whether that is sufficient.
func (s *Store) RecentTicks(symbol string, n int) ([]TickRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	var ticks []TickRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ticksBucket))
		c := b.Cursor()

		prefix := []byte(symbol + "_")
		// Seek just past the symbol's key range, then walk backwards.
		upper := []byte(symbol + "`") // '`' sorts after '_'
		k, v := c.Seek(upper)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}

		for ; k != nil && len(ticks) < n; k, v = c.Prev() {
			if !bytes.HasPrefix(k, prefix) {
				if bytes.Compare(k, prefix) < 0 {
					break
				}
				continue
			}
			var tick TickRecord
			if err := json.Unmarshal(v, &tick); err != nil {
				continue // Skip malformed records
			}
			// Symbols containing '_' alias into shorter symbols' key
			// ranges; the stored symbol disambiguates.
			if tick.Symbol != symbol {
				continue
			}
			ticks = append(ticks, tick)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse into ascending time order.
	for i, j := 0, len(ticks)-1; i < j; i, j = i+1, j-1 {
		ticks[i], ticks[j] = ticks[j], ticks[i]
	}
	return ticks, nil
}

// Ticks retrieves tick records for a symbol within a time range, inclusive
// of both ends, in ascending time order.
func (s *Store) Ticks(symbol string, start, end time.Time) ([]TickRecord, error) {
	var ticks []TickRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ticksBucket))
		c := b.Cursor()

		prefix := []byte(symbol + "_")
		startKey := tickKey(symbol, start)
		endKey := tickKey(symbol, end)

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}
			var tick TickRecord
			if err := json.Unmarshal(v, &tick); err != nil {
				continue
			}
			if tick.Symbol != symbol {
				continue
			}
			ticks = append(ticks, tick)
		}
		return nil
	})

	return ticks, err
}

// Symbols returns all symbols that have at least one stored tick.
func (s *Store) Symbols() ([]string, error) {
	var symbols []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(symbolsBucket)).ForEach(func(k, _ []byte) error {
			symbols = append(symbols, string(k))
			return nil
		})
	})
	return symbols, err
}

// Stats summarizes the stored data for the /stats endpoint.
type Stats struct {
	TotalTicks int       `json:"total_ticks"`
	Symbols    int       `json:"symbols"`
	Oldest     time.Time `json:"oldest"`
	Newest     time.Time `json:"newest"`
}

// Stats scans the tick bucket and returns aggregate counts and time bounds.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(symbolsBucket)).ForEach(func(_, _ []byte) error {
			st.Symbols++
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket([]byte(ticksBucket)).ForEach(func(_, v []byte) error {
			var tick TickRecord
			if err := json.Unmarshal(v, &tick); err != nil {
				return nil
			}
			st.TotalTicks++
			if st.Oldest.IsZero() || tick.Timestamp.Before(st.Oldest) {
				st.Oldest = tick.Timestamp
			}
			if tick.Timestamp.After(st.Newest) {
				st.Newest = tick.Timestamp
			}
			return nil
		})
	})
	return st, err
}

func tickKey(symbol string, ts time.Time) []byte {
	// Zero-padded nanos keep lexicographic order equal to time order.
	return []byte(fmt.Sprintf("%s_%020d", symbol, ts.UnixNano()))
}
