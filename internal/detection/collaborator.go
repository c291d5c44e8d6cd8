package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensensor/lightnvr/internal/models"
)

// HTTPCollaborator POSTs raw key-frame snapshots to an external detection
// service and parses its JSON response. It intentionally carries no
// retry logic of its own: a detection call that times out or fails is
// meant to be discarded by the Tap, never retried, so the pipeline can
// never stall waiting on the collaborator. This is a plain *http.Client
// rather than a retrying HTTP client wrapper: a bundled
// retry-with-backoff loop around its own embedded circuit breaker would
// both duplicate breaker.CircuitBreaker (already purpose-built for this
// one caller, see internal/breaker) and contradict the discard-on-timeout
// contract by silently retrying behind the Tap's back.
type HTTPCollaborator struct {
	url    string
	client *http.Client
}

// NewHTTPCollaborator creates a collaborator client posting to url.
func NewHTTPCollaborator(url string, client *http.Client) *HTTPCollaborator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCollaborator{url: url, client: client}
}

type detectRequest struct {
	StreamID string `json:"stream_id"`
	Codec    string `json:"codec"`
	Payload  []byte `json:"payload"`
}

type detectResponse struct {
	Detected   bool               `json:"detected"`
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	BBox       models.BoundingBox `json:"bbox"`
}

// Detect implements Collaborator.
func (c *HTTPCollaborator) Detect(ctx context.Context, snap Snapshot) (*Result, error) {
	body, err := json.Marshal(detectRequest{
		StreamID: snap.StreamID,
		Codec:    snap.Codec,
		Payload:  snap.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode detection request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection collaborator returned status %d", resp.StatusCode)
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detection response: %w", err)
	}
	if !out.Detected {
		return nil, nil
	}
	return &Result{Label: out.Label, Confidence: out.Confidence, BBox: out.BBox}, nil
}
