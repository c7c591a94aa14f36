package replica

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldline/api/internal/store"
)

// TokenFunc supplies the bearer token for sync requests.
type TokenFunc func(ctx context.Context) (string, error)

// Driver runs the push-then-pull cycle against the server. Only one cycle
// runs at a time; a second SyncOnce blocks until the first finishes.
type Driver struct {
	replica *Replica
	baseURL string
	token   TokenFunc
	client  *http.Client
	mu      sync.Mutex
}

func NewDriver(r *Replica, baseURL string, token TokenFunc) *Driver {
	return &Driver{
		replica: r,
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Summary reports what one sync cycle moved in each direction.
type Summary struct {
	Pushed store.UpsertCounts
	Pulled store.UpsertCounts
	Cursor time.Time
}

type pushRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Upserts        store.UpsertBatch `json:"upserts"`
}

type pushResponse struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Accepted       bool               `json:"accepted"`
	Counts         store.UpsertCounts `json:"counts"`
}

type serverError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// SyncOnce pushes the queued outbox, pulls everything newer than the local
// cursor, merges it, and advances the cursor. Each phase is all or nothing:
// a failed push leaves the outbox intact, and a failed pull or merge leaves
// the cursor untouched, so the next cycle retries from the same state. The
// server's upserts are idempotent, which makes the retry safe.
func (d *Driver) SyncOnce(ctx context.Context) (Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var summary Summary

	batch, ackSeq, err := d.replica.snapshotOutbox(ctx)
	if err != nil {
		return summary, err
	}
	if !batch.Empty() {
		result, err := d.push(ctx, batch)
		if err != nil {
			return summary, fmt.Errorf("push: %w", err)
		}
		summary.Pushed = result.Counts
	}

	since, err := d.replica.Cursor(ctx)
	if err != nil {
		return summary, err
	}
	delta, err := d.pull(ctx, since)
	if err != nil {
		return summary, fmt.Errorf("pull: %w", err)
	}
	if err := d.replica.applyDelta(ctx, delta, ackSeq); err != nil {
		return summary, fmt.Errorf("merge: %w", err)
	}

	summary.Pulled = store.UpsertCounts{
		Jobs:      len(delta.Jobs),
		Materials: len(delta.Materials),
		Pins:      len(delta.Pins),
		Checklist: len(delta.Checklist),
	}
	summary.Cursor = delta.Now
	return summary, nil
}

func (d *Driver) push(ctx context.Context, batch store.UpsertBatch) (pushResponse, error) {
	var result pushResponse

	body, err := json.Marshal(pushRequest{
		IdempotencyKey: uuid.NewString(),
		Upserts:        batch,
	})
	if err != nil {
		return result, fmt.Errorf("encode push body: %w", err)
	}
	req, err := d.newRequest(ctx, http.MethodPost, "/api/sync", bytes.NewReader(body))
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return result, responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decode push response: %w", err)
	}
	return result, nil
}

func (d *Driver) pull(ctx context.Context, since *time.Time) (store.Delta, error) {
	var delta store.Delta

	path := "/api/sync"
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(timeLayout))
	}
	req, err := d.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return delta, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return delta, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return delta, responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&delta); err != nil {
		return delta, fmt.Errorf("decode delta: %w", err)
	}
	return delta, nil
}

func (d *Driver) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	token, err := d.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body serverError
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" {
		return fmt.Errorf("server %d %s: %s", resp.StatusCode, body.Code, body.Message)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
