// Package replica is the device-local copy of an org's sync entities. It
// backs the field agent with a sqlite file that works fully offline: reads
// and writes hit sqlite immediately, and every local write also lands in an
// outbox row that the sync driver later pushes to the server.
package replica

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"fieldline/api/internal/store"
)

// Entity names used in the outbox and over the wire.
const (
	entityJob       = "job"
	entityMaterial  = "material"
	entityPin       = "pin"
	entityChecklist = "checklist"
)

// sync_state keys.
const (
	StateCursor       = "cursor"
	StateDeviceID     = "device_id"
	StateServerURL    = "server_url"
	StateAccessToken  = "access_token"
	StateRefreshToken = "refresh_token"
)

const timeLayout = time.RFC3339Nano

// Replica owns the sqlite handle. Writes are serialized through mu so that
// an in-flight sync snapshot and a concurrent local write cannot interleave
// inside one transaction.
type Replica struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the replica database at path and bootstraps the
// schema. The schema statements are idempotent, so opening an existing file
// is safe.
func Open(path string) (*Replica, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrap replica schema: %w", err)
		}
	}
	return &Replica{db: db}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		profit_chip TEXT NOT NULL DEFAULT 'none',
		updated_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS materials (
		id         TEXT PRIMARY KEY,
		job_id     TEXT NOT NULL,
		sku        TEXT NOT NULL,
		quantity   REAL NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pins (
		id         TEXT PRIMARY KEY,
		job_id     TEXT NOT NULL,
		kind       TEXT NOT NULL,
		lat        REAL NOT NULL,
		lng        REAL NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS checklist (
		id         TEXT PRIMARY KEY,
		prompt     TEXT NOT NULL,
		required   INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`,
	// One coalesced row per (entity, row_id). Re-writing a row while a push
	// is in flight reassigns seq, so the stale in-flight payload can never
	// ack the newer write.
	`CREATE TABLE IF NOT EXISTS outbox (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		entity    TEXT NOT NULL,
		row_id    TEXT NOT NULL,
		payload   TEXT NOT NULL,
		queued_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		UNIQUE (entity, row_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

func (r *Replica) Close() error {
	return r.db.Close()
}

// State returns the value for key, or "" when unset.
func (r *Replica) State(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read sync state %q: %w", key, err)
	}
	return value, nil
}

func (r *Replica) SetState(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write sync state %q: %w", key, err)
	}
	return nil
}

// DeviceID returns this replica's stable device id, generating and
// persisting one on first call.
func (r *Replica) DeviceID(ctx context.Context) (string, error) {
	id, err := r.State(ctx, StateDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := r.SetState(ctx, StateDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Cursor returns the last acknowledged server watermark, or nil before the
// first successful pull.
func (r *Replica) Cursor(ctx context.Context) (*time.Time, error) {
	raw, err := r.State(ctx, StateCursor)
	if err != nil || raw == "" {
		return nil, err
	}
	ts, err := time.Parse(timeLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	return &ts, nil
}

// SaveJob writes the job locally and queues it for upload, atomically.
func (r *Replica) SaveJob(ctx context.Context, job store.Job) error {
	return r.saveLocal(ctx, entityJob, job.ID, job, `
		INSERT INTO jobs (id, name, profit_chip, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name,
			profit_chip = excluded.profit_chip, updated_at = excluded.updated_at
	`, job.ID, job.Name, job.ProfitChip, formatTime(job.UpdatedAt))
}

func (r *Replica) SaveMaterial(ctx context.Context, line store.MaterialLine) error {
	return r.saveLocal(ctx, entityMaterial, line.ID, line, `
		INSERT INTO materials (id, job_id, sku, quantity, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET job_id = excluded.job_id, sku = excluded.sku,
			quantity = excluded.quantity, updated_at = excluded.updated_at
	`, line.ID, line.JobID, line.SKU, line.Quantity, formatTime(line.UpdatedAt))
}

func (r *Replica) SavePin(ctx context.Context, pin store.Pin) error {
	return r.saveLocal(ctx, entityPin, pin.ID, pin, `
		INSERT INTO pins (id, job_id, kind, lat, lng, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET job_id = excluded.job_id, kind = excluded.kind,
			lat = excluded.lat, lng = excluded.lng, updated_at = excluded.updated_at
	`, pin.ID, pin.JobID, pin.Kind, pin.Lat, pin.Lng, formatTime(pin.UpdatedAt))
}

func (r *Replica) SaveChecklistItem(ctx context.Context, item store.ChecklistItem) error {
	return r.saveLocal(ctx, entityChecklist, item.ID, item, `
		INSERT INTO checklist (id, prompt, required, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET prompt = excluded.prompt,
			required = excluded.required, updated_at = excluded.updated_at
	`, item.ID, item.Prompt, item.Required, formatTime(item.UpdatedAt))
}

// saveLocal applies the optimistic local write and the outbox enqueue in one
// transaction. The outbox row is deleted and re-inserted rather than updated
// in place so a coalesced rewrite always gets a fresh seq.
func (r *Replica) saveLocal(ctx context.Context, entity, rowID string, payload any, query string, args ...any) error {
	if rowID == "" {
		return fmt.Errorf("save %s: missing id", entity)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", entity, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin local write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write local %s: %w", entity, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE entity = ? AND row_id = ?`, entity, rowID); err != nil {
		return fmt.Errorf("coalesce outbox row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (entity, row_id, payload) VALUES (?, ?, ?)
	`, entity, rowID, string(body)); err != nil {
		return fmt.Errorf("enqueue outbox row: %w", err)
	}
	return tx.Commit()
}

// Jobs lists all local jobs, most recently updated first.
func (r *Replica) Jobs(ctx context.Context) ([]store.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, profit_chip, updated_at FROM jobs ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []store.Job{}
	for rows.Next() {
		var job store.Job
		var updated string
		if err := rows.Scan(&job.ID, &job.Name, &job.ProfitChip, &updated); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if job.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return nil, fmt.Errorf("parse job updated_at: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ChecklistItems lists the local checklist, required items first.
func (r *Replica) ChecklistItems(ctx context.Context) ([]store.ChecklistItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, prompt, required, updated_at FROM checklist ORDER BY required DESC, prompt
	`)
	if err != nil {
		return nil, fmt.Errorf("list checklist: %w", err)
	}
	defer rows.Close()

	items := []store.ChecklistItem{}
	for rows.Next() {
		var item store.ChecklistItem
		var updated string
		if err := rows.Scan(&item.ID, &item.Prompt, &item.Required, &updated); err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		if item.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return nil, fmt.Errorf("parse checklist updated_at: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PendingCount reports how many local writes still await upload.
func (r *Replica) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// snapshotOutbox reads every queued row into a push batch and returns the
// highest seq included, so the post-push prune only removes rows that were
// actually part of the upload.
func (r *Replica) snapshotOutbox(ctx context.Context) (store.UpsertBatch, int64, error) {
	var batch store.UpsertBatch
	var maxSeq int64

	rows, err := r.db.QueryContext(ctx, `SELECT seq, entity, payload FROM outbox ORDER BY seq`)
	if err != nil {
		return batch, 0, fmt.Errorf("snapshot outbox: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var entity, payload string
		if err := rows.Scan(&seq, &entity, &payload); err != nil {
			return batch, 0, fmt.Errorf("scan outbox row: %w", err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
		switch entity {
		case entityJob:
			var job store.Job
			if err := json.Unmarshal([]byte(payload), &job); err != nil {
				return batch, 0, fmt.Errorf("decode queued job: %w", err)
			}
			batch.Jobs = append(batch.Jobs, job)
		case entityMaterial:
			var line store.MaterialLine
			if err := json.Unmarshal([]byte(payload), &line); err != nil {
				return batch, 0, fmt.Errorf("decode queued material: %w", err)
			}
			batch.Materials = append(batch.Materials, line)
		case entityPin:
			var pin store.Pin
			if err := json.Unmarshal([]byte(payload), &pin); err != nil {
				return batch, 0, fmt.Errorf("decode queued pin: %w", err)
			}
			batch.Pins = append(batch.Pins, pin)
		case entityChecklist:
			var item store.ChecklistItem
			if err := json.Unmarshal([]byte(payload), &item); err != nil {
				return batch, 0, fmt.Errorf("decode queued checklist item: %w", err)
			}
			batch.Checklist = append(batch.Checklist, item)
		default:
			return batch, 0, fmt.Errorf("unknown outbox entity %q", entity)
		}
	}
	return batch, maxSeq, rows.Err()
}

// applyDelta merges a pulled delta, prunes outbox rows acknowledged by the
// push that preceded it (seq <= ackSeq), and advances the cursor to the
// server's snapshot time. All of it commits in one transaction, so a crash
// mid-merge leaves the cursor at the old watermark and the next pull simply
// re-fetches the same rows.
//
// Server rows never overwrite a row that still has a queued local write:
// that local edit is newer than anything the push just acknowledged, and it
// will win or lose on the server when it is pushed.
func (r *Replica) applyDelta(ctx context.Context, delta store.Delta, ackSeq int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	if ackSeq > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE seq <= ?`, ackSeq); err != nil {
			return fmt.Errorf("prune acked outbox rows: %w", err)
		}
	}

	for _, job := range delta.Jobs {
		if err := r.mergeRow(ctx, tx, entityJob, job.ID, `
			INSERT INTO jobs (id, name, profit_chip, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name,
				profit_chip = excluded.profit_chip, updated_at = excluded.updated_at
		`, job.ID, job.Name, job.ProfitChip, formatTime(job.UpdatedAt)); err != nil {
			return err
		}
	}
	for _, line := range delta.Materials {
		if err := r.mergeRow(ctx, tx, entityMaterial, line.ID, `
			INSERT INTO materials (id, job_id, sku, quantity, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET job_id = excluded.job_id, sku = excluded.sku,
				quantity = excluded.quantity, updated_at = excluded.updated_at
		`, line.ID, line.JobID, line.SKU, line.Quantity, formatTime(line.UpdatedAt)); err != nil {
			return err
		}
	}
	for _, pin := range delta.Pins {
		if err := r.mergeRow(ctx, tx, entityPin, pin.ID, `
			INSERT INTO pins (id, job_id, kind, lat, lng, updated_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET job_id = excluded.job_id, kind = excluded.kind,
				lat = excluded.lat, lng = excluded.lng, updated_at = excluded.updated_at
		`, pin.ID, pin.JobID, pin.Kind, pin.Lat, pin.Lng, formatTime(pin.UpdatedAt)); err != nil {
			return err
		}
	}
	for _, item := range delta.Checklist {
		if err := r.mergeRow(ctx, tx, entityChecklist, item.ID, `
			INSERT INTO checklist (id, prompt, required, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET prompt = excluded.prompt,
				required = excluded.required, updated_at = excluded.updated_at
		`, item.ID, item.Prompt, item.Required, formatTime(item.UpdatedAt)); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, StateCursor, formatTime(delta.Now)); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return tx.Commit()
}

func (r *Replica) mergeRow(ctx context.Context, tx *sql.Tx, entity, rowID, query string, args ...any) error {
	var pending bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM outbox WHERE entity = ? AND row_id = ?)
	`, entity, rowID).Scan(&pending)
	if err != nil {
		return fmt.Errorf("check pending %s: %w", entity, err)
	}
	if pending {
		return nil
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("merge %s %s: %w", entity, rowID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
