// Package viewer implements the proposal viewer's tracking runtime: session
// identity, section visibility, the signature pad and periodic time reporting.
// Everything here is fire-and-forget; a lost beacon never breaks the viewer.
package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client ships tracking beacons to the API. All sends are asynchronous and
// best-effort.
type Client struct {
	baseURL    string
	proposalID uuid.UUID
	sessionID  string
	token      string // tracking token, set when the proposal was reached via email
	httpClient *http.Client
}

// NewClient creates a tracking client for one proposal viewing session.
func NewClient(baseURL string, proposalID uuid.UUID, sessionID, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		proposalID: proposalID,
		sessionID:  sessionID,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// SessionID returns the session identity the client stamps on every beacon.
func (c *Client) SessionID() string {
	return c.sessionID
}

// TrackView reports the page view for this session.
func (c *Client) TrackView(viewerEmail string) {
	c.post(fmt.Sprintf("/api/proposals/%s/view", c.proposalID), map[string]interface{}{
		"sessionId":   c.sessionID,
		"viewerEmail": viewerEmail,
	})
	if c.token != "" {
		c.post("/api/track/view/"+c.token, map[string]interface{}{})
	}
}

// TrackEvent reports one engagement event.
func (c *Client) TrackEvent(eventType string, eventData map[string]interface{}) {
	c.post(fmt.Sprintf("/api/proposals/%s/events", c.proposalID), map[string]interface{}{
		"sessionId": c.sessionID,
		"eventType": eventType,
		"eventData": eventData,
	})
}

// TrackTime reports incremental viewing seconds. Only meaningful when the
// session carries a tracking token.
func (c *Client) TrackTime(seconds int) {
	if c.token == "" || seconds <= 0 {
		return
	}
	c.post("/api/track/time/"+c.token, map[string]interface{}{
		"timeSpent": seconds,
	})
}

// TrackScroll reports the deepest scroll position reached.
func (c *Client) TrackScroll(depth float64) {
	if c.token == "" {
		return
	}
	c.post("/api/track/scroll/"+c.token, map[string]interface{}{
		"scrollDepth": depth,
	})
}

// post fires the beacon on a goroutine. Responses are drained and dropped.
func (c *Client) post(path string, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("viewer: marshal beacon %s: %v", path, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Printf("viewer: beacon %s failed: %v", path, err)
			return
		}
		resp.Body.Close()
	}()
}
