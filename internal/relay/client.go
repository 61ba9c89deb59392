package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/source"
)

// Client talks to a relay server. The producer uses Push; consumers use
// Pull, Clear and Watch.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a relay client for baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Push replaces the relay snapshot.
func (c *Client) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.do(ctx, http.MethodPut, "/api/sync", req, &resp); err != nil {
		return nil, fmt.Errorf("pushing snapshot: %w", err)
	}
	return &resp, nil
}

// Pull returns the current snapshot, or ErrNotFound when the relay has
// none or it expired.
func (c *Client) Pull(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/sync", nil, &snap); err != nil {
		return nil, fmt.Errorf("pulling snapshot: %w", err)
	}
	if snap.Notifications == nil {
		snap.Notifications = []model.NotificationBundle{}
	}
	return &snap, nil
}

// Clear asks the relay to apply op to ids remotely and reconcile its
// snapshot.
func (c *Client) Clear(ctx context.Context, op model.Operation, ids []string) (*model.BatchResult, error) {
	var result model.BatchResult
	err := c.do(ctx, http.MethodPost, "/api/sync/clear", ClearRequest{IDs: ids, Operation: op}, &result)
	if err != nil {
		return nil, fmt.Errorf("%s via relay: %w", op, err)
	}
	return &result, nil
}

// Delete empties the relay slot.
func (c *Client) Delete(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/api/sync", nil, nil); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

// Watch subscribes to slot change events. The channel is closed when
// ctx is cancelled or the connection drops.
func (c *Client) Watch(ctx context.Context) (<-chan Event, error) {
	conn, _, err := websocket.Dial(ctx, c.baseURL+"/api/sync/watch", nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay watch: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			var ev Event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(method, c.baseURL+path, resp.StatusCode, respBody)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
	}
	return nil
}

// statusError maps relay error responses back onto the package and
// source sentinels.
func statusError(method, url string, status int, body []byte) error {
	var er ErrorResponse
	_ = json.Unmarshal(body, &er)

	switch {
	case status == http.StatusNotFound && er.Error == codeNotFound:
		return ErrNotFound
	case status == http.StatusPreconditionFailed:
		return source.ErrNoCredential
	case status == http.StatusUnauthorized && er.Error == codeExpired:
		return source.ErrCredentialExpired
	}

	msg := er.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &source.HTTPError{Method: method, URL: url, StatusCode: status, Body: msg}
}
