package closeout

import (
	"strings"
	"testing"
	"time"

	"fieldline/api/internal/store"
)

func sampleSheet() store.JobSheet {
	updated := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	return store.JobSheet{
		Job: store.Job{ID: "u1", Name: "Pole 42", ProfitChip: "green", UpdatedAt: updated},
		Materials: []store.MaterialLine{
			{ID: "m1", JobID: "u1", SKU: "GUY-WIRE-3/8", Quantity: 120},
		},
		Pins: []store.Pin{
			{ID: "p1", JobID: "u1", Kind: "guy", Lat: 37.7, Lng: -122.4},
		},
		Checklist: []store.ChecklistItem{
			{ID: "c1", Prompt: "Photographed pole tag?", Required: true},
		},
	}
}

func TestBuildHTML(t *testing.T) {
	html, err := buildHTML(sampleSheet())
	if err != nil {
		t.Fatalf("buildHTML failed: %v", err)
	}

	for _, want := range []string{
		"Pole 42",
		"GUY-WIRE-3/8",
		"37.700000",
		"-122.400000",
		"Photographed pole tag?",
		"green",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("closeout HTML missing %q", want)
		}
	}
}

func TestBuildHTMLEmptySections(t *testing.T) {
	sheet := store.JobSheet{Job: store.Job{ID: "u2", Name: "Vault 7", ProfitChip: "none", UpdatedAt: time.Now()}}
	html, err := buildHTML(sheet)
	if err != nil {
		t.Fatalf("buildHTML failed: %v", err)
	}
	for _, want := range []string{"No material lines recorded.", "No pins recorded.", "No checklist items."} {
		if !strings.Contains(html, want) {
			t.Errorf("closeout HTML missing %q", want)
		}
	}
}

func TestBuildHTMLEscapesMarkup(t *testing.T) {
	sheet := sampleSheet()
	sheet.Job.Name = `<script>alert("x")</script>`
	html, err := buildHTML(sheet)
	if err != nil {
		t.Fatalf("buildHTML failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("job name was not escaped")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Pole 42":           "Pole-42",
		"Vault / 7 (north)": "Vault--7-north",
		"":                  "job",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentEncodeSpaces(t *testing.T) {
	if got := percentEncode("a b"); got != "a%20b" {
		t.Errorf("percentEncode space: got %q", got)
	}
	if got := percentEncode("<p>"); got != "%3Cp%3E" {
		t.Errorf("percentEncode markup: got %q", got)
	}
}
