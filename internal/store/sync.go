package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Each syncable entity is described declaratively: table name, payload
// columns, and binders for the id, payload values, and the client's claimed
// timestamp. One generic routine drives every upsert so adding an entity is
// a descriptor plus a model struct, not another copy of the SQL.
type entityDesc[T any] struct {
	table   string
	columns []string
	id      func(T) string
	args    func(T) []any
	claim   func(T) time.Time
}

var jobDesc = entityDesc[Job]{
	table:   "jobs",
	columns: []string{"name", "profit_chip"},
	id:      func(j Job) string { return j.ID },
	args:    func(j Job) []any { return []any{j.Name, j.ProfitChip} },
	claim:   func(j Job) time.Time { return j.UpdatedAt },
}

var materialDesc = entityDesc[MaterialLine]{
	table:   "material_lines",
	columns: []string{"job_id", "sku", "quantity"},
	id:      func(m MaterialLine) string { return m.ID },
	args:    func(m MaterialLine) []any { return []any{m.JobID, m.SKU, m.Quantity} },
	claim:   func(m MaterialLine) time.Time { return m.UpdatedAt },
}

var pinDesc = entityDesc[Pin]{
	table:   "pins",
	columns: []string{"job_id", "kind", "lat", "lng"},
	id:      func(p Pin) string { return p.ID },
	args:    func(p Pin) []any { return []any{p.JobID, p.Kind, p.Lat, p.Lng} },
	claim:   func(p Pin) time.Time { return p.UpdatedAt },
}

var checklistDesc = entityDesc[ChecklistItem]{
	table:   "checklist_items",
	columns: []string{"prompt", "required"},
	id:      func(c ChecklistItem) string { return c.ID },
	args:    func(c ChecklistItem) []any { return []any{c.Prompt, c.Required} },
	claim:   func(c ChecklistItem) time.Time { return c.UpdatedAt },
}

// upsertSQL builds the last-write-wins upsert for a descriptor. The server
// clock stamps updated_at on both insert and winning update; the client's
// claimed timestamp participates only in the not-older-than comparison.
// org_id comes from the bound session parameter, never from the payload,
// and the table's row level security policy checks it again.
func upsertSQL(table string, columns []string) string {
	insertCols := append([]string{"id", "org_id"}, columns...)
	placeholders := make([]string, 0, len(insertCols))
	for i := range insertCols {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}

	setClauses := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		setClauses = append(setClauses, fmt.Sprintf("%s=EXCLUDED.%s", col, col))
	}
	setClauses = append(setClauses, "updated_at=now()")

	return fmt.Sprintf(`
		INSERT INTO %s (%s, updated_at)
		VALUES (%s, now())
		ON CONFLICT (id) DO UPDATE SET %s
		WHERE %s.updated_at <= COALESCE($%d::timestamptz, now())
	`,
		table,
		strings.Join(insertCols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(setClauses, ", "),
		table,
		len(insertCols)+1,
	)
}

// upsertRows applies one entity type's slice of a batch and reports how many
// rows it processed. The count is per row accepted, not per row that won the
// timestamp comparison: a retried batch must report the same counts as the
// original even though its rows now lose against the server-stamped
// updated_at, and the batch is all-or-nothing either way.
func upsertRows[T any](ctx context.Context, tx *sql.Tx, orgID string, desc entityDesc[T], rows []T) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := upsertSQL(desc.table, desc.columns)
	for i, row := range rows {
		id := desc.id(row)
		if strings.TrimSpace(id) == "" {
			return 0, fmt.Errorf("%s[%d]: missing id", desc.table, i)
		}

		args := append([]any{id, orgID}, desc.args(row)...)
		args = append(args, nullableTime(desc.claim(row)))

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("upsert %s %s: %w", desc.table, id, err)
		}
	}
	return len(rows), nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// ingestBatch applies a full push inside an already-bound tenant
// transaction. Any row's failure aborts the whole batch with it.
func ingestBatch(ctx context.Context, tx *sql.Tx, orgID string, batch UpsertBatch) (UpsertCounts, error) {
	var counts UpsertCounts
	var err error

	if counts.Jobs, err = upsertRows(ctx, tx, orgID, jobDesc, batch.Jobs); err != nil {
		return UpsertCounts{}, err
	}
	if counts.Materials, err = upsertRows(ctx, tx, orgID, materialDesc, batch.Materials); err != nil {
		return UpsertCounts{}, err
	}
	if counts.Pins, err = upsertRows(ctx, tx, orgID, pinDesc, batch.Pins); err != nil {
		return UpsertCounts{}, err
	}
	if counts.Checklist, err = upsertRows(ctx, tx, orgID, checklistDesc, batch.Checklist); err != nil {
		return UpsertCounts{}, err
	}
	return counts, nil
}

// exportDelta reads every row changed strictly after since, plus the
// transaction's own snapshot time. All five queries run inside the one
// transaction tx, so the returned Now can never postdate a row the queries
// missed. A nil since means a full pull.
func exportDelta(ctx context.Context, tx *sql.Tx, since *time.Time) (Delta, error) {
	delta := Delta{Since: since}

	// Snapshot time from the database itself, not max(updated_at): a write
	// committed between the row queries and a wall-clock read here would be
	// skipped forever on the next pull.
	if err := tx.QueryRowContext(ctx, `SELECT now()`).Scan(&delta.Now); err != nil {
		return Delta{}, fmt.Errorf("read snapshot time: %w", err)
	}

	var err error
	if delta.Jobs, err = exportJobs(ctx, tx, since); err != nil {
		return Delta{}, err
	}
	if delta.Materials, err = exportMaterials(ctx, tx, since); err != nil {
		return Delta{}, err
	}
	if delta.Pins, err = exportPins(ctx, tx, since); err != nil {
		return Delta{}, err
	}
	if delta.Checklist, err = exportChecklist(ctx, tx, since); err != nil {
		return Delta{}, err
	}
	return delta, nil
}

func exportJobs(ctx context.Context, tx *sql.Tx, since *time.Time) ([]Job, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, org_id, name, profit_chip, updated_at
		FROM jobs
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY updated_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("export jobs: %w", err)
	}
	defer rows.Close()

	items := make([]Job, 0)
	for rows.Next() {
		var item Job
		if err := rows.Scan(&item.ID, &item.OrgID, &item.Name, &item.ProfitChip, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return items, nil
}

func exportMaterials(ctx context.Context, tx *sql.Tx, since *time.Time) ([]MaterialLine, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, org_id, job_id, sku, quantity, updated_at
		FROM material_lines
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY updated_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("export material lines: %w", err)
	}
	defer rows.Close()

	items := make([]MaterialLine, 0)
	for rows.Next() {
		var item MaterialLine
		if err := rows.Scan(&item.ID, &item.OrgID, &item.JobID, &item.SKU, &item.Quantity, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan material line: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate material lines: %w", err)
	}
	return items, nil
}

func exportPins(ctx context.Context, tx *sql.Tx, since *time.Time) ([]Pin, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, org_id, job_id, kind, lat, lng, updated_at
		FROM pins
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY updated_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("export pins: %w", err)
	}
	defer rows.Close()

	items := make([]Pin, 0)
	for rows.Next() {
		var item Pin
		if err := rows.Scan(&item.ID, &item.OrgID, &item.JobID, &item.Kind, &item.Lat, &item.Lng, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pins: %w", err)
	}
	return items, nil
}

func exportChecklist(ctx context.Context, tx *sql.Tx, since *time.Time) ([]ChecklistItem, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, org_id, prompt, required, updated_at
		FROM checklist_items
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY updated_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("export checklist items: %w", err)
	}
	defer rows.Close()

	items := make([]ChecklistItem, 0)
	for rows.Next() {
		var item ChecklistItem
		if err := rows.Scan(&item.ID, &item.OrgID, &item.Prompt, &item.Required, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checklist items: %w", err)
	}
	return items, nil
}

// PullDelta exports one consistent delta for the org. Pure read inside a
// snapshot scope; partial or cross-entity-inconsistent deltas are never
// returned.
func (s *PostgresStore) PullDelta(ctx context.Context, orgID string, since *time.Time) (Delta, error) {
	var delta Delta
	err := s.WithOrgSnapshot(ctx, orgID, func(tx *sql.Tx) error {
		var inner error
		delta, inner = exportDelta(ctx, tx, since)
		return inner
	})
	if err != nil {
		return Delta{}, err
	}
	return delta, nil
}

// ApplyUpserts applies a full push batch atomically for the org. The caller
// can retry a failed push wholesale; unchanged payloads re-apply as no-ops.
func (s *PostgresStore) ApplyUpserts(ctx context.Context, orgID string, batch UpsertBatch) (UpsertCounts, error) {
	var counts UpsertCounts
	err := s.WithOrg(ctx, orgID, func(tx *sql.Tx) error {
		var inner error
		counts, inner = ingestBatch(ctx, tx, orgID, batch)
		return inner
	})
	if err != nil {
		return UpsertCounts{}, err
	}
	return counts, nil
}
