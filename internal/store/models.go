package store

import "time"

// Sync entities. Every row carries a creator-chosen globally-unique id so
// field devices can create records offline, the owning org, and a server
// clock updated_at that doubles as the sync ordering key.

type Job struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id,omitempty"`
	Name       string    `json:"name"`
	ProfitChip string    `json:"profit_chip"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type MaterialLine struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id,omitempty"`
	JobID     string    `json:"job_id"`
	SKU       string    `json:"sku"`
	Quantity  float64   `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Pin struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id,omitempty"`
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChecklistItem struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id,omitempty"`
	Prompt    string    `json:"prompt"`
	Required  bool      `json:"required"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Delta is one transactional snapshot of everything changed since a
// watermark. Now is the database's own snapshot time, not derived from row
// timestamps, so it is always safe as the next pull's since.
type Delta struct {
	Since     *time.Time      `json:"since"`
	Now       time.Time       `json:"now"`
	Jobs      []Job           `json:"jobs"`
	Materials []MaterialLine  `json:"materials"`
	Pins      []Pin           `json:"pins"`
	Checklist []ChecklistItem `json:"checklist"`
}

// UpsertBatch is a client push grouped by entity type. The whole batch
// commits or rolls back as one unit.
type UpsertBatch struct {
	Jobs      []Job           `json:"jobs,omitempty"`
	Materials []MaterialLine  `json:"materials,omitempty"`
	Pins      []Pin           `json:"pins,omitempty"`
	Checklist []ChecklistItem `json:"checklist,omitempty"`
}

func (b UpsertBatch) Empty() bool {
	return len(b.Jobs) == 0 && len(b.Materials) == 0 && len(b.Pins) == 0 && len(b.Checklist) == 0
}

type UpsertCounts struct {
	Jobs      int `json:"jobs"`
	Materials int `json:"materials"`
	Pins      int `json:"pins"`
	Checklist int `json:"checklist"`
}

type User struct {
	ID           string
	OrgID        string
	Email        string
	DisplayName  string
	PasswordHash string
}

// JobSheet aggregates one job's rows for the closeout renderer.
type JobSheet struct {
	Job       Job
	Materials []MaterialLine
	Pins      []Pin
	Checklist []ChecklistItem
}

// TimesheetEntry summarizes one job's activity inside a day window.
type TimesheetEntry struct {
	JobID         string
	JobName       string
	FirstActivity time.Time
	LastActivity  time.Time
	Touches       int
}
