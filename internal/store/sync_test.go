package store

import (
	"strings"
	"testing"
	"time"
)

func TestUpsertSQLShape(t *testing.T) {
	query := upsertSQL("jobs", []string{"name", "profit_chip"})

	wantFragments := []string{
		"INSERT INTO jobs (id, org_id, name, profit_chip, updated_at)",
		"VALUES ($1, $2, $3, $4, now())",
		"ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, profit_chip=EXCLUDED.profit_chip, updated_at=now()",
		"WHERE jobs.updated_at <= COALESCE($5::timestamptz, now())",
	}
	for _, fragment := range wantFragments {
		if !strings.Contains(query, fragment) {
			t.Errorf("upsert SQL missing %q in:\n%s", fragment, query)
		}
	}
}

func TestUpsertSQLNeverTrustsPayloadOrg(t *testing.T) {
	for _, desc := range []struct {
		table   string
		columns []string
	}{
		{jobDesc.table, jobDesc.columns},
		{materialDesc.table, materialDesc.columns},
		{pinDesc.table, pinDesc.columns},
		{checklistDesc.table, checklistDesc.columns},
	} {
		query := upsertSQL(desc.table, desc.columns)
		// org_id appears in the insert column list (bound from the session
		// parameter) but never in the DO UPDATE set list: an existing row
		// cannot be relabeled to another org.
		if strings.Contains(query, "org_id=EXCLUDED.org_id") {
			t.Errorf("%s: upsert must not rewrite org_id on conflict", desc.table)
		}
		if !strings.Contains(query, "(id, org_id") {
			t.Errorf("%s: upsert must bind org_id on insert", desc.table)
		}
	}
}

func TestDescriptorBindings(t *testing.T) {
	job := Job{ID: "u1", Name: "Pole 42", ProfitChip: "green"}
	if got := jobDesc.id(job); got != "u1" {
		t.Errorf("job id binding: got %q", got)
	}
	if got := jobDesc.args(job); len(got) != len(jobDesc.columns) {
		t.Errorf("job args: got %d values for %d columns", len(got), len(jobDesc.columns))
	}

	pin := Pin{ID: "p1", JobID: "u1", Kind: "guy", Lat: 37.7, Lng: -122.4}
	args := pinDesc.args(pin)
	if len(args) != len(pinDesc.columns) {
		t.Fatalf("pin args: got %d values for %d columns", len(args), len(pinDesc.columns))
	}
	if args[0] != "u1" || args[1] != "guy" || args[2] != 37.7 || args[3] != -122.4 {
		t.Errorf("pin args order wrong: %v", args)
	}

	material := MaterialLine{ID: "m1", JobID: "u1", SKU: "GUY-WIRE-3/8", Quantity: 120}
	if got := materialDesc.args(material); got[1] != "GUY-WIRE-3/8" {
		t.Errorf("material args order wrong: %v", got)
	}

	item := ChecklistItem{ID: "c1", Prompt: "Photographed pole tag?", Required: true}
	if got := checklistDesc.args(item); got[0] != "Photographed pole tag?" || got[1] != true {
		t.Errorf("checklist args order wrong: %v", got)
	}
}

func TestNullableTime(t *testing.T) {
	if got := nullableTime(time.Time{}); got != nil {
		t.Errorf("zero time should bind NULL, got %v", got)
	}
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := nullableTime(stamp); got != stamp {
		t.Errorf("non-zero time should bind itself, got %v", got)
	}
}
