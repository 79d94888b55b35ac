// ABOUTME: Auto-reconnecting client for the backend's SSE event feed.
// ABOUTME: Decodes each frame as a cascade.Event, drops heartbeats and malformed payloads, reports connectivity.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/windlass-sh/masthead/cascade"
)

// DefaultRetryDelay is how long the client waits before redialing after a
// connection drops. The poll coordinator covers the gap, so there is no
// backoff ladder here.
const DefaultRetryDelay = 2 * time.Second

// Client owns a single streaming connection to the backend event feed.
// OnEvent is invoked for every decoded event except heartbeats; unknown
// event types are passed through so the dispatcher can log and ignore them.
// OnConnectionChange fires with true once the feed responds and false when
// the connection is lost.
type Client struct {
	URL                string
	OnEvent            func(cascade.Event)
	OnConnectionChange func(connected bool)

	// HTTPClient overrides the transport; nil means a client with no
	// overall timeout (the feed is a long-lived response body).
	HTTPClient *http.Client

	// RetryDelay overrides DefaultRetryDelay; useful in tests.
	RetryDelay time.Duration
}

// Run connects to the feed and dispatches events until ctx is cancelled.
// Transport failures are not fatal: the client reports disconnection, waits
// RetryDelay, and redials. Run only returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	delay := c.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Printf("stream: connection lost: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consume dials the feed once and dispatches frames until the connection
// fails or ctx is cancelled.
func (c *Client) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return fmt.Errorf("building feed request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dialing feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	c.setConnected(true)
	defer c.setConnected(false)

	reader := NewReader(resp.Body)
	for {
		frame, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading feed: %w", err)
		}
		c.dispatch(frame)
	}
}

// dispatch decodes one frame and hands it to OnEvent. Heartbeats are
// silently discarded. Malformed JSON is logged and dropped; a bad payload
// must never take the stream down.
func (c *Client) dispatch(frame Frame) {
	if frame.Data == "" {
		return
	}

	var evt cascade.Event
	if err := json.Unmarshal([]byte(frame.Data), &evt); err != nil {
		log.Printf("stream: dropping malformed event payload: %v", err)
		return
	}

	if evt.Type == cascade.EventHeartbeat {
		return
	}

	if c.OnEvent != nil {
		c.OnEvent(evt)
	}
}

func (c *Client) setConnected(connected bool) {
	if c.OnConnectionChange != nil {
		c.OnConnectionChange(connected)
	}
}
