// Package submit implements the DA submission adapter from spec.md §4.H:
// a rate-limited, retrying HTTP client that tries the primary "turbo"
// endpoint before falling back to "light". Grounded on the teacher's
// rate.NewLimiter usage in core/virtual_machine.go and its zap/uuid usage
// in core/storage.go.
package submit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MaxSegmentSize is the largest blob this adapter will submit in one call;
// callers must split larger blocks themselves.
const MaxSegmentSize = 256 * 1024

// Backoff parameters per spec.md §4.H.
const (
	turboInitialBackoff = 500 * time.Millisecond
	turboMaxBackoff     = 30 * time.Second
	lightInitialBackoff = 3 * time.Second
	lightBackoffFactor  = 3.0
	lightMaxBackoff     = 30 * time.Second
)

// Segment is one DA submission unit: a contiguous block's serialized
// content, addressed by an idempotent id so retries and resubmissions
// never produce duplicate work on the backend.
type Segment struct {
	ID      string
	Payload []byte
}

// NewSegment stamps payload with a fresh idempotency id.
func NewSegment(payload []byte) Segment {
	return Segment{ID: uuid.NewString(), Payload: payload}
}

// Result is a successful submission's backend-assigned batch identifier.
type Result struct {
	BatchHash string
}

// Endpoint describes one backend HTTP target and its wire format.
type Endpoint struct {
	URL      string
	APIKey   string
	WireJSON bool // false: v1 octet-stream + x-api-key header; true: v2 JSON base64 body
}

// Client submits segments to a turbo primary / light fallback endpoint
// pair, rate-limited and retried per spec.md §4.H.
type Client struct {
	http            *http.Client
	turbo           Endpoint
	light           Endpoint
	limit           *rate.Limiter
	maxRetriesTurbo int
	log             *zap.SugaredLogger
}

// New builds a Client. ratePerMinute bounds total requests (turbo+light
// combined) per minute, matching spec.md's reference N=20.
func New(httpClient *http.Client, turbo, light Endpoint, ratePerMinute int, maxRetriesTurbo int) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	interval := time.Minute / time.Duration(ratePerMinute)
	return &Client{
		http:            httpClient,
		turbo:           turbo,
		light:           light,
		limit:           rate.NewLimiter(rate.Every(interval), 1),
		maxRetriesTurbo: maxRetriesTurbo,
		log:             zap.L().Sugar().With("component", "da_submit"),
	}
}

// Submit sends seg to turbo, exponentially backing off on 5xx up to
// maxRetriesTurbo attempts, then (on any turbo failure) falls back to light
// with its own backoff schedule, returning light's last error if light
// fails too.
func (c *Client) Submit(ctx context.Context, seg Segment) (Result, error) {
	if len(seg.Payload) > MaxSegmentSize {
		return Result{}, fmt.Errorf("da/submit: segment %s exceeds max size %d", seg.ID, MaxSegmentSize)
	}

	result, err := c.submitWithBackoff(ctx, c.turbo, seg, turboInitialBackoff, 2.0, turboMaxBackoff, c.maxRetriesTurbo)
	if err == nil {
		return result, nil
	}
	c.log.Warnw("turbo submission exhausted, falling back to light", "segment_id", seg.ID, "error", err)

	// Light is tried three times, waiting 3 s, 9 s and 27 s after each 5xx;
	// the next wait would pass the 30 s cap, so the last error is returned.
	return c.submitWithBackoff(ctx, c.light, seg, lightInitialBackoff, lightBackoffFactor, lightMaxBackoff, 3)
}

// submitWithBackoff retries ep until it stops returning a 5xx, doubling
// (or, for light, tripling) the delay each attempt up to maxBackoff.
// maxAttempts < 0 means retry until ctx is done.
func (c *Client) submitWithBackoff(ctx context.Context, ep Endpoint, seg Segment, initial time.Duration, factor float64, maxBackoff time.Duration, maxAttempts int) (Result, error) {
	delay := initial
	var lastErr error
	for attempt := 0; maxAttempts < 0 || attempt < maxAttempts; attempt++ {
		if err := c.limit.Wait(ctx); err != nil {
			return Result{}, err
		}
		result, status, err := c.doSubmit(ctx, ep, seg)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if status < 500 || status >= 600 {
			// Non-5xx failures are not retryable.
			return Result{}, err
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * factor)
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
	return Result{}, fmt.Errorf("da/submit: exhausted retries against %s: %w", ep.URL, lastErr)
}

// doSubmit performs one HTTP attempt, returning the response status for
// the caller's retry decision.
func (c *Client) doSubmit(ctx context.Context, ep Endpoint, seg Segment) (Result, int, error) {
	var body io.Reader
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, nil)
	if err != nil {
		return Result{}, 0, err
	}
	req.Header.Set("X-Segment-Id", seg.ID)

	if ep.WireJSON {
		encoded, marshalErr := json.Marshal(struct {
			SegmentID string `json:"segment_id"`
			Data      string `json:"data"`
		}{SegmentID: seg.ID, Data: base64.StdEncoding.EncodeToString(seg.Payload)})
		if marshalErr != nil {
			return Result{}, 0, marshalErr
		}
		body = bytes.NewReader(encoded)
		req.Header.Set("Content-Type", "application/json")
	} else {
		body = bytes.NewReader(seg.Payload)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("x-api-key", ep.APIKey)
	}
	req.Body = io.NopCloser(body)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, resp.StatusCode, fmt.Errorf("da/submit: %s returned %d: %s", ep.URL, resp.StatusCode, string(respBody))
	}

	var parsed struct {
		BatchHash string `json:"batch_hash"`
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr != nil {
		return Result{}, resp.StatusCode, decodeErr
	}
	return Result{BatchHash: parsed.BatchHash}, resp.StatusCode, nil
}
