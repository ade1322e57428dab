package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func tickAt(symbol string, ts time.Time, price float64) TickRecord {
	return TickRecord{Symbol: symbol, Timestamp: ts, Price: price, Volume: 1}
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, "ensemble-data.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	if _, err := New("/nonexistent/path/for/sure"); err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}

	nilStore := &Store{}
	if err := nilStore.Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

func TestStoreTickAndRecentTicks(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		tick := tickAt("BTCUSDT", start.Add(time.Duration(i)*time.Second), 64000+float64(i))
		if err := store.StoreTick(tick); err != nil {
			t.Fatalf("Failed to store tick %d: %v", i, err)
		}
	}

	ticks, err := store.RecentTicks("BTCUSDT", 5)
	if err != nil {
		t.Fatalf("Failed to retrieve ticks: %v", err)
	}
	if len(ticks) != 5 {
		t.Fatalf("Expected 5 ticks, got %d", len(ticks))
	}

	// The 5 most recent ticks in ascending time order.
	for i, tick := range ticks {
		wantPrice := 64000 + float64(5+i)
		if tick.Price != wantPrice {
			t.Errorf("Tick %d price = %f, want %f", i, tick.Price, wantPrice)
		}
	}
	for i := 1; i < len(ticks); i++ {
		if !ticks[i].Timestamp.After(ticks[i-1].Timestamp) {
			t.Errorf("Ticks not in ascending time order at %d", i)
		}
	}
}

func TestRecentTicksShortHistory(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := store.StoreTick(tickAt("BTCUSDT", ts, 64000)); err != nil {
		t.Fatalf("Failed to store tick: %v", err)
	}

	ticks, err := store.RecentTicks("BTCUSDT", 100)
	if err != nil {
		t.Fatalf("Failed to retrieve ticks: %v", err)
	}
	if len(ticks) != 1 {
		t.Errorf("Expected 1 tick, got %d", len(ticks))
	}
}

func TestRecentTicksSymbolIsolation(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := store.StoreTick(tickAt("BTCUSDT", ts, 64000)); err != nil {
		t.Fatalf("Failed to store tick: %v", err)
	}
	if err := store.StoreTick(tickAt("ETHUSDT", ts, 3200)); err != nil {
		t.Fatalf("Failed to store tick: %v", err)
	}

	ticks, err := store.RecentTicks("BTCUSDT", 10)
	if err != nil {
		t.Fatalf("Failed to retrieve ticks: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Symbol != "BTCUSDT" {
		t.Errorf("Expected only BTCUSDT ticks, got %+v", ticks)
	}

	ticks, err = store.RecentTicks("XRPUSDT", 10)
	if err != nil {
		t.Fatalf("Failed to retrieve ticks: %v", err)
	}
	if len(ticks) != 0 {
		t.Errorf("Expected no ticks for unknown symbol, got %d", len(ticks))
	}
}

func TestRecentTicksUnderscoreSymbols(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// "BTC_USD" keys share the "BTC_" prefix with "BTC" keys; the stored
	// symbol keeps the two ranges apart.
	if err := store.StoreTick(tickAt("BTC", ts, 64000)); err != nil {
		t.Fatalf("Failed to store tick: %v", err)
	}
	if err := store.StoreTick(tickAt("BTC_USD", ts.Add(time.Second), 64001)); err != nil {
		t.Fatalf("Failed to store tick: %v", err)
	}

	ticks, err := store.RecentTicks("BTC", 10)
	if err != nil {
		t.Fatalf("Failed to retrieve ticks: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Symbol != "BTC" {
		t.Errorf("Expected only BTC ticks, got %+v", ticks)
	}

	ticks, err = store.Ticks("BTC", ts, ts.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to retrieve range: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Symbol != "BTC" {
		t.Errorf("Expected only BTC ticks in range, got %+v", ticks)
	}

	ticks, err = store.RecentTicks("BTC_USD", 10)
	if err != nil {
		t.Fatalf("Failed to retrieve ticks: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Symbol != "BTC_USD" {
		t.Errorf("Expected only BTC_USD ticks, got %+v", ticks)
	}
}

func TestRecentTicksZeroCount(t *testing.T) {
	store := newTestStore(t)
	ticks, err := store.RecentTicks("BTCUSDT", 0)
	if err != nil {
		t.Fatalf("Failed on zero count: %v", err)
	}
	if ticks != nil {
		t.Errorf("Expected nil for zero count, got %v", ticks)
	}
}

func TestTicksRange(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		tick := tickAt("BTCUSDT", start.Add(time.Duration(i)*time.Minute), 100+float64(i))
		if err := store.StoreTick(tick); err != nil {
			t.Fatalf("Failed to store tick %d: %v", i, err)
		}
	}

	ticks, err := store.Ticks("BTCUSDT", start.Add(2*time.Minute), start.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("Failed to retrieve range: %v", err)
	}
	if len(ticks) != 4 {
		t.Fatalf("Expected 4 ticks in range, got %d", len(ticks))
	}
	if ticks[0].Price != 102 || ticks[3].Price != 105 {
		t.Errorf("Range bounds wrong: first %f last %f", ticks[0].Price, ticks[3].Price)
	}
}

func TestTickIndicatorsRoundtrip(t *testing.T) {
	store := newTestStore(t)
	tick := tickAt("BTCUSDT", time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), 64000)
	tick.Indicators = map[string]float64{"rsi_14": 63.2, "macd": -1.1}

	if err := store.StoreTick(tick); err != nil {
		t.Fatalf("Failed to store tick: %v", err)
	}

	ticks, err := store.RecentTicks("BTCUSDT", 1)
	if err != nil {
		t.Fatalf("Failed to retrieve tick: %v", err)
	}
	if len(ticks) != 1 {
		t.Fatalf("Expected 1 tick, got %d", len(ticks))
	}
	if ticks[0].Indicators["rsi_14"] != 63.2 || ticks[0].Indicators["macd"] != -1.1 {
		t.Errorf("Indicators lost in roundtrip: %v", ticks[0].Indicators)
	}
}

func TestSymbols(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, s := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		if err := store.StoreTick(tickAt(s, ts, 1)); err != nil {
			t.Fatalf("Failed to store tick: %v", err)
		}
		ts = ts.Add(time.Second)
	}

	symbols, err := store.Symbols()
	if err != nil {
		t.Fatalf("Failed to list symbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Errorf("Expected 2 symbols, got %v", symbols)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := store.StoreTick(tickAt("BTCUSDT", start, 64000)); err != nil {
		t.Fatalf("Failed to store tick: %v", err)
	}
	if err := store.StoreTick(tickAt("ETHUSDT", start.Add(time.Hour), 3200)); err != nil {
		t.Fatalf("Failed to store tick: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalTicks != 2 || stats.Symbols != 2 {
		t.Errorf("Stats = %+v", stats)
	}
	if !stats.Oldest.Equal(start) || !stats.Newest.Equal(start.Add(time.Hour)) {
		t.Errorf("Time bounds = %s .. %s", stats.Oldest, stats.Newest)
	}
}
