// Package storage — bolt.go
//
// BoltDB-backed restart-recovery checkpoint store.
//
// This is the durability layer for in-memory state that would
// otherwise reset to empty on every restart: anomaly baselines, the
// drawdown curve's peak/cool-off watermark, and the endpoint failover
// FSM's current/primary/health table. It is a different concern than
// internal/audit's flat append-only event trail — that is a
// human-auditable record of what happened; this is a snapshot of where
// each component's state machine currently sits.
//
// Schema (BoltDB bucket layout):
//
//	/baselines
//	    key:   symbol (or any caller-chosen series key)
//	    value: JSON-encoded anomaly.Baseline
//
//	/drawdown
//	    key:   account id
//	    value: JSON-encoded drawdown.CheckpointState
//
//	/endpoints
//	    key:   logical service name
//	    value: JSON-encoded failover.CheckpointState
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The caller should log and refuse to start, or run
//     without a checkpoint store (every component starts cold).
//   - Disk full: bbolt.Update() returns an error; the caller logs it and
//     continues with in-memory state unpersisted.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/laylaymen/vivo-opscore/internal/anomaly"
	"github.com/laylaymen/vivo-opscore/internal/drawdown"
	"github.com/laylaymen/vivo-opscore/internal/failover"
)

const (
	// DefaultDBPath is the default BoltDB checkpoint file location.
	DefaultDBPath = "/var/lib/vivo-opscore/checkpoint.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketBaselines = "baselines"
	bucketDrawdown  = "drawdown"
	bucketEndpoints = "endpoints"
	bucketMeta      = "meta"
)

// DB wraps a BoltDB instance with typed accessors for each component's
// checkpoint state.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB database at the given path,
// initializing all required buckets and verifying the schema version.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketBaselines, bucketDrawdown, bucketEndpoints, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf("schema version mismatch: database has %q, this build requires %q", string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

func put(d *DB, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %s/%s: %w", bucket, key, err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func get(d *DB, bucket, key string, v any) (bool, error) {
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

// ─── Anomaly baselines ─────────────────────────────────────────────────

// PutBaseline persists the baseline for key (e.g. a symbol or metric name).
func (d *DB) PutBaseline(key string, b anomaly.Baseline) error {
	return put(d, bucketBaselines, key, b)
}

// GetBaseline loads the baseline for key. ok is false if none is stored.
func (d *DB) GetBaseline(key string) (anomaly.Baseline, bool, error) {
	var b anomaly.Baseline
	ok, err := get(d, bucketBaselines, key, &b)
	return b, ok, err
}

// ─── Drawdown curve checkpoints ────────────────────────────────────────

// PutDrawdownCheckpoint persists the drawdown curve's durable state for
// an account id.
func (d *DB) PutDrawdownCheckpoint(accountID string, cp drawdown.CheckpointState) error {
	return put(d, bucketDrawdown, accountID, cp)
}

// GetDrawdownCheckpoint loads the drawdown checkpoint for an account id.
func (d *DB) GetDrawdownCheckpoint(accountID string) (drawdown.CheckpointState, bool, error) {
	var cp drawdown.CheckpointState
	ok, err := get(d, bucketDrawdown, accountID, &cp)
	return cp, ok, err
}

// ─── Endpoint FSM checkpoints ───────────────────────────────────────────

// PutEndpointCheckpoint persists the failover orchestrator's durable
// state for a logical service name.
func (d *DB) PutEndpointCheckpoint(service string, cp failover.CheckpointState) error {
	return put(d, bucketEndpoints, service, cp)
}

// GetEndpointCheckpoint loads the failover checkpoint for a service name.
func (d *DB) GetEndpointCheckpoint(service string) (failover.CheckpointState, bool, error) {
	var cp failover.CheckpointState
	ok, err := get(d, bucketEndpoints, service, &cp)
	return cp, ok, err
}
