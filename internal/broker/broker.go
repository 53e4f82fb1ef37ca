// Package broker talks to the session broker management API. It exposes
// the two collaborator operations the reaper needs: enumerating a broker's
// disconnected sessions and requesting a session logoff.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gale-rmm/reaper/internal/httputil"
	"github.com/gale-rmm/reaper/internal/logging"
	"github.com/gale-rmm/reaper/internal/session"
)

var log = logging.L("broker")

var (
	ErrUnavailable  = errors.New("broker: endpoint unavailable")
	ErrLogoffFailed = errors.New("broker: logoff request failed")
)

// SessionSource enumerates a broker's disconnected sessions. It must
// tolerate arbitrary broker identifiers and return an empty slice, not an
// error, when nothing is disconnected.
type SessionSource interface {
	FetchDisconnected(ctx context.Context, brokerID string) ([]session.Disconnected, error)
}

// LogoffExecutor requests termination of a disconnected session.
type LogoffExecutor interface {
	Logoff(ctx context.Context, brokerID string, s session.Disconnected) error
}

// Client implements SessionSource and LogoffExecutor against the broker
// management HTTP API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	retryCfg   httputil.RetryConfig
}

// NewClient creates a broker API client. timeout bounds each HTTP attempt.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   httputil.DefaultRetryConfig(),
	}
}

// FetchDisconnected returns the broker's current disconnected sessions.
func (c *Client) FetchDisconnected(ctx context.Context, brokerID string) ([]session.Disconnected, error) {
	u := fmt.Sprintf("%s/api/v1/brokers/%s/sessions?state=disconnected",
		c.baseURL, url.PathEscape(brokerID))

	resp, err := httputil.Do(ctx, c.httpClient, http.MethodGet, u, nil, c.headers(), c.retryCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, brokerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrUnavailable, brokerID, resp.StatusCode, body)
	}

	var payload struct {
		Sessions []session.Disconnected `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", ErrUnavailable, brokerID, err)
	}

	log.Debug("fetched disconnected sessions", "broker", brokerID, "count", len(payload.Sessions))
	return payload.Sessions, nil
}

// Logoff asks the broker to terminate a session. The broker is free to
// complete the logoff asynchronously; a 2xx response means accepted.
func (c *Client) Logoff(ctx context.Context, brokerID string, s session.Disconnected) error {
	u := fmt.Sprintf("%s/api/v1/brokers/%s/sessions/%s/logoff",
		c.baseURL, url.PathEscape(brokerID), url.PathEscape(s.ID))

	body, err := json.Marshal(map[string]string{"reason": "disconnected-session-reap"})
	if err != nil {
		return fmt.Errorf("broker: marshal logoff request: %w", err)
	}

	headers := c.headers()
	headers.Set("Content-Type", "application/json")

	resp, err := httputil.Do(ctx, c.httpClient, http.MethodPost, u, body, headers, httputil.NoRetry())
	if err != nil {
		return fmt.Errorf("%w: session %s on %s: %v", ErrLogoffFailed, s.ID, brokerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: session %s on %s: status %d", ErrLogoffFailed, s.ID, brokerID, resp.StatusCode)
	}
	return nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.authToken != "" {
		h.Set("Authorization", "Bearer "+c.authToken)
	}
	return h
}
