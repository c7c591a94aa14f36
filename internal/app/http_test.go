package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldline/api/internal/store"
)

func newTestServer(t *testing.T) (*fakeStore, *httptest.Server) {
	t.Helper()
	f := newFakeStore()
	svc := newTestService(f)
	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func signIn(t *testing.T, srv *httptest.Server, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(srv.URL+"/api/auth/signin", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("signin request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode signin: %v", err)
	}
	return payload.Token
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	resp, err = http.Get(srv.URL + "/api/ready")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d", resp.StatusCode)
	}
	var payload struct {
		OK     bool   `json:"ok"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if !payload.OK || payload.Status != "ready" {
		t.Fatalf("ready payload = %+v", payload)
	}
}

func TestSyncRequiresSession(t *testing.T) {
	_, srv := newTestServer(t)

	for _, tc := range []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage token", "not-a-token"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodGet, srv.URL+"/api/sync", tc.token, nil)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestSyncPushPullOverHTTP(t *testing.T) {
	f, srv := newTestServer(t)
	seedUser(t, f, "org_a", "crew@a.test", "hunter2")
	token := signIn(t, srv, "crew@a.test", "hunter2")

	push := map[string]any{
		"idempotency_key": "key-1",
		"upserts": map[string]any{
			"jobs": []map[string]any{{"id": "u1", "name": "Pole 42", "profit_chip": "green"}},
			"pins": []map[string]any{{"id": "p1", "job_id": "u1", "kind": "guy", "lat": 37.7, "lng": -122.4}},
		},
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sync", token, push)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("push status = %d body=%s", resp.StatusCode, raw)
	}
	var result PushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	want := store.UpsertCounts{Jobs: 1, Materials: 0, Pins: 1, Checklist: 0}
	if !result.Accepted || result.IdempotencyKey != "key-1" || result.Counts != want {
		t.Fatalf("push result = %+v", result)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sync", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pull status = %d", resp.StatusCode)
	}
	var delta store.Delta
	if err := json.NewDecoder(resp.Body).Decode(&delta); err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if len(delta.Jobs) != 1 || delta.Jobs[0].ID != "u1" || len(delta.Pins) != 1 {
		t.Fatalf("delta = %+v", delta)
	}
	if delta.Now.IsZero() {
		t.Fatal("delta missing now")
	}

	// Pulling from the returned watermark yields nothing new.
	since := delta.Now.UTC().Format(time.RFC3339Nano)
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sync?since="+since, token, nil)
	defer resp.Body.Close()
	var next store.Delta
	if err := json.NewDecoder(resp.Body).Decode(&next); err != nil {
		t.Fatalf("decode second delta: %v", err)
	}
	if len(next.Jobs)+len(next.Pins) != 0 {
		t.Fatalf("watermark pull not empty: %+v", next)
	}
}

func TestSyncRejectsMalformedSince(t *testing.T) {
	f, srv := newTestServer(t)
	seedUser(t, f, "org_a", "crew@a.test", "hunter2")
	token := signIn(t, srv, "crew@a.test", "hunter2")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sync?since=yesterday", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestSyncValidationErrorsOverHTTP(t *testing.T) {
	f, srv := newTestServer(t)
	seedUser(t, f, "org_a", "crew@a.test", "hunter2")
	token := signIn(t, srv, "crew@a.test", "hunter2")

	push := map[string]any{
		"upserts": map[string]any{
			"jobs": []map[string]any{{"id": "u1", "profit_chip": "purple"}},
		},
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sync", token, push)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Code != "VALIDATION_ERROR" {
		t.Fatalf("code = %s", payload.Code)
	}
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	f, srv := newTestServer(t)
	seedUser(t, f, "org_a", "crew@a.test", "hunter2")
	seedUser(t, f, "org_b", "crew@b.test", "hunter2")
	tokenA := signIn(t, srv, "crew@a.test", "hunter2")
	tokenB := signIn(t, srv, "crew@b.test", "hunter2")

	// Org identity comes from the token alone; a payload org_id pointing at
	// another tenant must be ignored.
	push := map[string]any{
		"upserts": map[string]any{
			"jobs": []map[string]any{{"id": "a1", "org_id": "org_b", "name": "Org A job"}},
		},
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sync", tokenA, push)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("push status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sync", tokenB, nil)
	defer resp.Body.Close()
	var deltaB store.Delta
	if err := json.NewDecoder(resp.Body).Decode(&deltaB); err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if len(deltaB.Jobs) != 0 {
		t.Fatalf("org_b sees org_a rows: %+v", deltaB.Jobs)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sync", tokenA, nil)
	defer resp.Body.Close()
	var deltaA store.Delta
	if err := json.NewDecoder(resp.Body).Decode(&deltaA); err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if len(deltaA.Jobs) != 1 || deltaA.Jobs[0].ID != "a1" {
		t.Fatalf("org_a delta = %+v", deltaA.Jobs)
	}
}

func TestCloseoutEndpoint(t *testing.T) {
	f, srv := newTestServer(t)
	seedUser(t, f, "org_a", "crew@a.test", "hunter2")
	token := signIn(t, srv, "crew@a.test", "hunter2")

	push := map[string]any{
		"upserts": map[string]any{
			"jobs": []map[string]any{{"id": "u1", "name": "Pole 42"}},
		},
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sync", token, push)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/jobs/u1/closeout.pdf", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("closeout status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("content type = %s", got)
	}
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "u1.pdf") {
		t.Fatalf("content disposition = %s", got)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/jobs/missing/closeout.pdf", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing job status = %d, want 404", resp.StatusCode)
	}
}

func TestTimesheetEndpoint(t *testing.T) {
	f, srv := newTestServer(t)
	seedUser(t, f, "org_a", "crew@a.test", "hunter2")
	token := signIn(t, srv, "crew@a.test", "hunter2")

	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	f.activity["org_a"] = []store.TimesheetEntry{{
		JobID:         "u1",
		JobName:       "Pole 42",
		FirstActivity: day.Add(8 * time.Hour),
		LastActivity:  day.Add(12 * time.Hour),
		Touches:       9,
	}}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/timesheets?day=2026-03-09", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("content type = %s", got)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "Pole 42") {
		t.Fatalf("timesheet = %s", raw)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/timesheets?day=tomorrow", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad day status = %d, want 422", resp.StatusCode)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	f, srv := newTestServer(t)
	seedUser(t, f, "org_a", "crew@a.test", "hunter2")
	token := signIn(t, srv, "crew@a.test", "hunter2")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/nope", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
