package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/swipe/internal/source"
)

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 200

// Client is a thin HTTP client for the web app's private endpoints. It
// authenticates with the session credential as a Bearer token, sends the
// headers the web app sends, and waits out HTTP 429 using Retry-After.
type Client struct {
	httpClient *http.Client
	maxRetries int
	sessionID  func() string
	logger     zerolog.Logger
}

// NewClient creates a client. A nil httpClient uses a default one; the
// per-candidate timeout is applied through the request context instead of
// the client.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		maxRetries: 2,
		sessionID:  func() string { return uuid.NewString() },
		logger:     zerolog.Nop(),
	}
}

// WithLogger sets the logger that records rate-limit waits.
func (c *Client) WithLogger(logger zerolog.Logger) *Client {
	c.logger = logger
	return c
}

// Request describes one authenticated call.
type Request struct {
	Method      string
	URL         string
	Body        interface{}
	Token       string
	WorkspaceID string
}

// Do executes req and unmarshals a JSON response into result (which may
// be nil). The raw body is returned so callers can validate it.
//
// A 2xx body that starts with '<' is a login page served in place of
// JSON and yields source.ErrSessionLikelyExpired. 401 and 403 yield a
// *source.AuthError; other non-2xx statuses a *source.HTTPError.
func (c *Client) Do(ctx context.Context, req Request, result interface{}) ([]byte, error) {
	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		httpReq.Header.Set("Accept", "application/json, text/plain, */*")
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
		httpReq.Header.Set("x-csrf", "1")
		httpReq.Header.Set("sessionid", c.sessionID())
		if req.WorkspaceID != "" {
			httpReq.Header.Set("x-workspace-id", req.WorkspaceID)
		}
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("executing request %s %s: %w", req.Method, req.URL, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429) on %s %s", req.Method, req.URL)
			wait := retryAfterDuration(resp, attempt)
			c.logger.Warn().
				Str("method", req.Method).
				Str("url", req.URL).
				Int("attempt", attempt+1).
				Dur("wait", wait).
				Msg("rate limited; waiting before retry")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &source.AuthError{
				Status:  resp.StatusCode,
				Message: truncate(string(respBody)),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &source.HTTPError{
				Method:     req.Method,
				URL:        req.URL,
				StatusCode: resp.StatusCode,
				Body:       truncate(string(respBody)),
			}
		}

		if looksLikeMarkup(respBody) {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, source.ErrSessionLikelyExpired)
		}

		if result == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
			return respBody, nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return nil, fmt.Errorf("unmarshaling response from %s %s: %w", req.Method, req.URL, err)
		}

		return respBody, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func looksLikeMarkup(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<"))
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
