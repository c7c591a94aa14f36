package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Every entity table must carry an enforcing row level security policy;
// tenant isolation lives in the storage layer, and a table that lacks a
// policy is an unguarded gap no application filter will catch.
func TestEveryEntityTableHasRowLevelSecurity(t *testing.T) {
	migrations := readMigrations(t)

	for _, table := range []string{"jobs", "material_lines", "pins", "checklist_items"} {
		for _, clause := range []string{
			"ALTER TABLE " + table + " ENABLE ROW LEVEL SECURITY",
			"ALTER TABLE " + table + " FORCE ROW LEVEL SECURITY",
			"CREATE POLICY " + table + "_org_isolation ON " + table,
		} {
			if !strings.Contains(migrations, clause) {
				t.Errorf("migrations missing %q", clause)
			}
		}
	}
}

func TestEntityTablesCarrySyncColumns(t *testing.T) {
	migrations := readMigrations(t)

	for _, table := range []string{"jobs", "material_lines", "pins", "checklist_items"} {
		idx := strings.Index(migrations, "CREATE TABLE IF NOT EXISTS "+table+" (")
		if idx < 0 {
			t.Fatalf("migrations missing table %s", table)
		}
		body := migrations[idx:]
		if end := strings.Index(body, ");"); end > 0 {
			body = body[:end]
		}
		for _, column := range []string{"id TEXT PRIMARY KEY", "org_id TEXT NOT NULL", "updated_at TIMESTAMPTZ NOT NULL"} {
			if !strings.Contains(body, column) {
				t.Errorf("table %s missing column clause %q", table, column)
			}
		}
	}
}

func readMigrations(t *testing.T) string {
	t.Helper()
	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	var all strings.Builder
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			t.Fatalf("read migration %s: %v", entry.Name(), err)
		}
		all.Write(contents)
		all.WriteString("\n")
	}
	if all.Len() == 0 {
		t.Fatal("no .up.sql migrations found")
	}
	return all.String()
}
