package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func runAgent(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--db", dbPath))
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCreatesReplica(t *testing.T) {
	db := filepath.Join(t.TempDir(), "agent.db")
	out, err := runAgent(t, db, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Replica ready") || !strings.Contains(out, "device ") {
		t.Fatalf("init output = %q", out)
	}
}

func TestJobAddAndList(t *testing.T) {
	db := filepath.Join(t.TempDir(), "agent.db")

	out, err := runAgent(t, db, "job", "add", "Pole 42", "--chip", "green")
	if err != nil {
		t.Fatalf("job add: %v", err)
	}
	if !strings.Contains(out, "Recorded job job_") {
		t.Fatalf("job add output = %q", out)
	}

	out, err = runAgent(t, db, "jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out, "Pole 42") || !strings.Contains(out, "[green]") {
		t.Fatalf("jobs output = %q", out)
	}
}

func TestJobAddRejectsUnknownChip(t *testing.T) {
	db := filepath.Join(t.TempDir(), "agent.db")
	_, err := runAgent(t, db, "job", "add", "Pole 42", "--chip", "purple")
	if err == nil || !strings.Contains(err.Error(), "profit chip") {
		t.Fatalf("err = %v, want profit chip rejection", err)
	}
}

func TestMaterialAddValidatesQuantity(t *testing.T) {
	db := filepath.Join(t.TempDir(), "agent.db")
	_, err := runAgent(t, db, "material", "add", "job_1", "WIRE-4AWG", "twelve")
	if err == nil || !strings.Contains(err.Error(), "invalid quantity") {
		t.Fatalf("err = %v, want quantity rejection", err)
	}
	if _, err := runAgent(t, db, "material", "add", "job_1", "WIRE-4AWG", "12.5"); err != nil {
		t.Fatalf("material add: %v", err)
	}
}

func TestPinAddValidatesCoordinates(t *testing.T) {
	db := filepath.Join(t.TempDir(), "agent.db")
	_, err := runAgent(t, db, "pin", "add", "job_1", "guy", "120", "-87.6")
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("err = %v, want coordinate rejection", err)
	}
	if _, err := runAgent(t, db, "pin", "add", "job_1", "guy", "37.7", "-122.4"); err != nil {
		t.Fatalf("pin add: %v", err)
	}
}

func TestCheckDoneClearsRequired(t *testing.T) {
	db := filepath.Join(t.TempDir(), "agent.db")

	out, err := runAgent(t, db, "check", "add", "Locks verified", "--required")
	if err != nil {
		t.Fatalf("check add: %v", err)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Recorded checklist item "))
	if !strings.HasPrefix(id, "chk_") {
		t.Fatalf("unexpected id %q in output %q", id, out)
	}

	if out, err = runAgent(t, db, "check", "done", id); err != nil {
		t.Fatalf("check done: %v", err)
	}
	if !strings.Contains(out, "Completed "+id) {
		t.Fatalf("check done output = %q", out)
	}

	if _, err := runAgent(t, db, "check", "done", "chk_missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestStatusBeforeFirstSync(t *testing.T) {
	db := filepath.Join(t.TempDir(), "agent.db")
	if _, err := runAgent(t, db, "job", "add", "Pole 42"); err != nil {
		t.Fatalf("job add: %v", err)
	}

	out, err := runAgent(t, db, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Pending: 1 queued writes") {
		t.Fatalf("status output = %q", out)
	}
	if !strings.Contains(out, "never synced") {
		t.Fatalf("status output = %q", out)
	}
}
