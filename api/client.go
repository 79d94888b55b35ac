// ABOUTME: REST client for the Windlass backend: cascade/instance listings, session logs, artifacts, commands.
// ABOUTME: Every call takes a context so the control loop can abort stale fetches on view changes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/windlass-sh/masthead/cascade"
)

// CascadeSummary is one row of the cascade definition listing with its
// aggregate metrics.
type CascadeSummary struct {
	CascadeID   string    `json:"cascade_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PhaseCount  int       `json:"phase_count"`
	RunCount    int       `json:"run_count"`
	TotalCost   float64   `json:"total_cost"`
	LastRun     time.Time `json:"last_run,omitempty"`
}

// InstanceSummary is one row of a cascade's instance (session) listing.
type InstanceSummary struct {
	SessionID       string    `json:"session_id"`
	CascadeID       string    `json:"cascade_id"`
	ParentSessionID string    `json:"parent_session_id,omitempty"`
	Depth           int       `json:"depth"`
	Status          string    `json:"status"`
	StartTime       time.Time `json:"start_time"`
	Cost            float64   `json:"cost"`
}

// SessionLog is the full flat log for one session.
type SessionLog struct {
	SessionID string             `json:"session_id"`
	Entries   []cascade.LogEntry `json:"entries"`
}

// Artifact is one derived output attached to a session.
type Artifact struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"` // image, audio, interaction, diagram
	URL       string `json:"url,omitempty"`
	PhaseName string `json:"phase_name,omitempty"`
}

// ArtifactSet is a session's derived artifacts, including the DAG diagram
// source when the backend rendered one.
type ArtifactSet struct {
	SessionID  string     `json:"session_id"`
	Artifacts  []Artifact `json:"artifacts"`
	DiagramDOT string     `json:"diagram_dot,omitempty"`
}

// CheckpointReply is the payload submitted in response to a checkpoint.
// Which fields apply depends on the checkpoint type.
type CheckpointReply struct {
	Value   string   `json:"value,omitempty"`
	Choices []string `json:"choices,omitempty"`
	Rating  int      `json:"rating,omitempty"`
}

// RunResponse is returned when a new cascade run is triggered.
type RunResponse struct {
	SessionID string `json:"session_id"`
}

// Client talks to the backend REST API. Response schemas are owned by the
// backend; the client treats them as JSON to decode, nothing more.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client against the given base URL, e.g.
// "http://127.0.0.1:8787". A nil httpClient gets a 30s-timeout default.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// EventsURL is the SSE feed endpoint for the stream client.
func (c *Client) EventsURL() string {
	return c.baseURL + "/api/events"
}

// ListCascades fetches all cascade definitions with aggregate metrics.
func (c *Client) ListCascades(ctx context.Context) ([]CascadeSummary, error) {
	var out []CascadeSummary
	err := c.get(ctx, "/api/cascades", &out)
	return out, err
}

// ListInstances fetches the sessions of one cascade.
func (c *Client) ListInstances(ctx context.Context, cascadeID string) ([]InstanceSummary, error) {
	var out []InstanceSummary
	err := c.get(ctx, "/api/cascades/"+url.PathEscape(cascadeID)+"/instances", &out)
	return out, err
}

// FetchLog fetches the full flat log for a session. An empty Entries slice
// with no error means the persisted log has no rows yet; callers use that
// to distinguish "not yet queryable" from "confirmed".
func (c *Client) FetchLog(ctx context.Context, sessionID string) (SessionLog, error) {
	var out SessionLog
	err := c.get(ctx, "/api/instances/"+url.PathEscape(sessionID)+"/log", &out)
	return out, err
}

// FetchArtifacts fetches a session's derived artifacts.
func (c *Client) FetchArtifacts(ctx context.Context, sessionID string) (ArtifactSet, error) {
	var out ArtifactSet
	err := c.get(ctx, "/api/instances/"+url.PathEscape(sessionID)+"/artifacts", &out)
	return out, err
}

// RespondCheckpoint submits a human response to a pending checkpoint.
func (c *Client) RespondCheckpoint(ctx context.Context, checkpointID string, reply CheckpointReply) error {
	return c.post(ctx, "/api/checkpoints/"+url.PathEscape(checkpointID)+"/respond", reply, nil)
}

// CancelCheckpoint cancels a pending checkpoint.
func (c *Client) CancelCheckpoint(ctx context.Context, checkpointID string) error {
	return c.post(ctx, "/api/checkpoints/"+url.PathEscape(checkpointID)+"/cancel", nil, nil)
}

// RunCascade triggers a new run of a cascade definition.
func (c *Client) RunCascade(ctx context.Context, cascadeID string, params map[string]any) (RunResponse, error) {
	var out RunResponse
	body := map[string]any{"params": params}
	err := c.post(ctx, "/api/cascades/"+url.PathEscape(cascadeID)+"/run", body, &out)
	return out, err
}

// FreezeSession snapshots a completed session as a regression-test fixture.
func (c *Client) FreezeSession(ctx context.Context, sessionID, name string) error {
	body := map[string]string{"name": name}
	return c.post(ctx, "/api/instances/"+url.PathEscape(sessionID)+"/freeze", body, nil)
}

// get performs a GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

// post performs a POST with a JSON body and decodes the response into out,
// when out is non-nil.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
