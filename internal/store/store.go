// Package store persists rebalance records in sqlite. Indexed columns cover
// the query patterns (wallet history, open records for the monitor); the full
// record lives in a JSON payload column.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/zeusfi/yield-agent/internal/model"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create record store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create record lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS rebalance_records (
			record_id TEXT PRIMARY KEY,
			wallet TEXT NOT NULL,
			status TEXT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_records_wallet_created ON rebalance_records(wallet, created_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_records_status_created ON rebalance_records(status, created_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init record schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts a record. The write is serialized with a file lock so a cycle
// and a monitor running as separate processes do not interleave.
func (s *Store) Save(rec *model.RebalanceRecord) error {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("save record: missing record id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock record store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock record store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	// A terminal row never regresses, even when a second process holds a
	// stale in-memory copy.
	var existing string
	err = s.db.QueryRow("SELECT status FROM rebalance_records WHERE record_id = ?", rec.ID).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read record status: %w", err)
	}
	if err == nil && model.RecordStatus(existing).Terminal() && model.RecordStatus(existing) != rec.Status {
		return fmt.Errorf("record %s is already %s", rec.ID, existing)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO rebalance_records (record_id, wallet, status, tx_hash, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			status=excluded.status,
			tx_hash=excluded.tx_hash,
			payload=excluded.payload
	`, rec.ID, rec.Wallet, string(rec.Status), rec.TxHash, rec.CreatedAt.UTC().Unix(), payload)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *Store) Get(recordID string) (*model.RebalanceRecord, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM rebalance_records WHERE record_id = ?", recordID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record not found: %s", recordID)
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	return decodeRecord(payload)
}

// OpenRecords returns every non-terminal record, oldest first. This is the
// monitor's work queue.
func (s *Store) OpenRecords() ([]*model.RebalanceRecord, error) {
	rows, err := s.db.Query(
		"SELECT payload FROM rebalance_records WHERE status IN (?, ?) ORDER BY created_at ASC",
		string(model.StatusPending), string(model.StatusSubmitted))
	if err != nil {
		return nil, fmt.Errorf("list open records: %w", err)
	}
	return collectRecords(rows)
}

// History returns a wallet's records, newest first.
func (s *Store) History(wallet string, limit int) ([]*model.RebalanceRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT payload FROM rebalance_records WHERE wallet = ? ORDER BY created_at DESC LIMIT ?",
		strings.ToLower(strings.TrimSpace(wallet)), limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet records: %w", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]*model.RebalanceRecord, error) {
	defer rows.Close()
	out := make([]*model.RebalanceRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return out, nil
}

func decodeRecord(payload []byte) (*model.RebalanceRecord, error) {
	var rec model.RebalanceRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode record payload: %w", err)
	}
	return &rec, nil
}
