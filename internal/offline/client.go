package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pipledger/backend/internal/journal"
)

const defaultHTTPTimeout = 30 * time.Second

// RemoteOutcome is the per-record verdict returned by the sync endpoint.
type RemoteOutcome struct {
	RecordID string             `json:"record_id"`
	Kind     journal.RecordKind `json:"kind"`
	Status   journal.SyncStatus `json:"status"`
	Reason   string             `json:"reason,omitempty"`
}

// APIClientConfig configures the HTTP client for the sync API.
type APIClientConfig struct {
	BaseURL     string
	AccessToken string
	Device      string
	Timeout     time.Duration
}

// APIClient talks to the pipledger API's sync surface.
type APIClient struct {
	baseURL     string
	accessToken string
	device      string
	httpClient  *http.Client
}

// NewAPIClient constructs an APIClient.
func NewAPIClient(cfg APIClientConfig) (*APIClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("offline: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &APIClient{
		baseURL:     baseURL,
		accessToken: cfg.AccessToken,
		device:      cfg.Device,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// HasSession reports whether the client holds an access token. Reconciliation
// no-ops without one.
func (c *APIClient) HasSession() bool {
	return strings.TrimSpace(c.accessToken) != ""
}

// Online probes the API health endpoint. Any transport failure counts as
// offline.
func (c *APIClient) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}

type syncRequestPayload struct {
	Records []syncRecordPayload `json:"records"`
}

type syncRecordPayload struct {
	RecordID     string          `json:"record_id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAtMs  int64           `json:"created_at_ms"`
	SourceDevice string          `json:"source_device,omitempty"`
}

type syncResponsePayload struct {
	Results []RemoteOutcome `json:"results"`
}

// SubmitBatch posts queued records to the sync endpoint and returns the
// per-record outcomes.
func (c *APIClient) SubmitBatch(ctx context.Context, records []journal.SyncRecord) ([]RemoteOutcome, error) {
	if len(records) == 0 {
		return nil, nil
	}

	request := syncRequestPayload{Records: make([]syncRecordPayload, 0, len(records))}
	for _, record := range records {
		request.Records = append(request.Records, syncRecordPayload{
			RecordID:     record.RecordID.String(),
			Kind:         string(record.Kind),
			Payload:      json.RawMessage(record.PayloadJSON),
			CreatedAtMs:  record.CreatedAtMs,
			SourceDevice: record.SourceDevice,
		})
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("offline: marshal sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("offline: sync endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var response syncResponsePayload
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("offline: decode sync response: %w", err)
	}
	return response.Results, nil
}
