package photos

import (
	"context"
	"testing"
)

func TestPresignDownloadRejectsForeignOrgKey(t *testing.T) {
	svc := &Service{bucket: "fieldline-photos"}

	// The prefix check runs before any MinIO call, so a foreign key must
	// fail without touching the client.
	if _, err := svc.PresignDownload(context.Background(), "org_a", "org_b/u1/photo.jpg"); err == nil {
		t.Error("expected error for key outside org prefix")
	}
	if _, err := svc.PresignDownload(context.Background(), "org_a", "org_ab/u1/photo.jpg"); err == nil {
		t.Error("expected error for sibling prefix sharing org_a as a substring")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"pole 42.jpg":     "pole-42.jpg",
		"guy_anchor.HEIC": "guy_anchor.HEIC",
		"../../etc":       "..-..-etc",
		"":                "photo",
	}

	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
