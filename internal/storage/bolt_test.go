package storage

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/laylaymen/vivo-opscore/internal/anomaly"
	"github.com/laylaymen/vivo-opscore/internal/drawdown"
	"github.com/laylaymen/vivo-opscore/internal/failover"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBaseline_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	b := anomaly.Baseline{Median: 1.5, MAD: 0.2, Mean: 1.4, Stdev: 0.3, EWMA: 1.45, EWMAAlpha: 0.1, PointCount: 42}

	if err := db.PutBaseline("BTCUSDT", b); err != nil {
		t.Fatalf("PutBaseline: %v", err)
	}
	got, ok, err := db.GetBaseline("BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("GetBaseline: ok=%v err=%v", ok, err)
	}
	if got.Median != b.Median || got.PointCount != b.PointCount {
		t.Fatalf("got %+v, want %+v", got, b)
	}
}

func TestGetBaseline_MissingKeyReturnsNotOK(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.GetBaseline("unknown")
	if err != nil || ok {
		t.Fatalf("expected ok=false err=nil, got ok=%v err=%v", ok, err)
	}
}

func TestDrawdownCheckpoint_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cp := drawdown.CheckpointState{
		Peak:             100000,
		CoolOffs:         map[drawdown.Level]time.Time{drawdown.LevelWarn: until},
		LastSegmentStart: 95000,
	}
	if err := db.PutDrawdownCheckpoint("acct-1", cp); err != nil {
		t.Fatalf("PutDrawdownCheckpoint: %v", err)
	}
	got, ok, err := db.GetDrawdownCheckpoint("acct-1")
	if err != nil || !ok {
		t.Fatalf("GetDrawdownCheckpoint: ok=%v err=%v", ok, err)
	}
	if got.Peak != cp.Peak || !got.CoolOffs[drawdown.LevelWarn].Equal(until) {
		t.Fatalf("got %+v, want %+v", got, cp)
	}
}

func TestEndpointCheckpoint_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	cp := failover.CheckpointState{
		Primary: "ep-a",
		Current: "ep-b",
		State:   failover.StateSwitched,
		Endpoints: map[string]failover.Endpoint{
			"ep-a": {ID: "ep-a", Score: 0.9},
			"ep-b": {ID: "ep-b", Score: 0.5},
		},
	}
	if err := db.PutEndpointCheckpoint("exchange-rest", cp); err != nil {
		t.Fatalf("PutEndpointCheckpoint: %v", err)
	}
	got, ok, err := db.GetEndpointCheckpoint("exchange-rest")
	if err != nil || !ok {
		t.Fatalf("GetEndpointCheckpoint: ok=%v err=%v", ok, err)
	}
	if got.Primary != cp.Primary || got.Current != cp.Current || got.State != cp.State {
		t.Fatalf("got %+v, want %+v", got, cp)
	}
	if got.Endpoints["ep-a"].Score != 0.9 {
		t.Fatalf("endpoint score not preserved: %+v", got.Endpoints)
	}
}

func TestOpen_RejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	// Reopening the same file with a matching schema version succeeds.
	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	// A file stamped with a different schema version is refused.
	if err := db2.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte("schema_version"), []byte("0"))
	}); err != nil {
		t.Fatalf("overwrite schema_version: %v", err)
	}
	db2.Close()

	if db3, err := Open(path); err == nil {
		db3.Close()
		t.Fatalf("Open accepted a database with a mismatched schema version")
	}
}
