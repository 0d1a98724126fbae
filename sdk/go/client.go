package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the CodeStats HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// RegisterUsername binds a platform handle to a user. The server rejects
// usernames a platform would never accept; the persisted record is
// returned either way inside the error details.
func (c *Client) RegisterUsername(ctx context.Context, userID, platform, username string) (PlatformProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return PlatformProfile{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s/platforms/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(platform))

	payload, err := json.Marshal(map[string]string{"username": username})
	if err != nil {
		return PlatformProfile{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return PlatformProfile{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PlatformProfile{}, err
	}
	defer resp.Body.Close()

	var rec PlatformProfile
	if err := decodeJSON(resp, &rec); err != nil {
		return PlatformProfile{}, err
	}
	return rec, nil
}

// SyncUser triggers an on-demand refresh of the user's registered
// platforms. Pass platform names to restrict the sync to a subset.
func (c *Client) SyncUser(ctx context.Context, userID string, platforms ...string) (SyncResult, error) {
	if strings.TrimSpace(userID) == "" {
		return SyncResult{}, ErrEmptyUserID
	}
	u, err := url.Parse(fmt.Sprintf("%s/users/%s/sync", c.baseURL, url.PathEscape(userID)))
	if err != nil {
		return SyncResult{}, err
	}
	if len(platforms) > 0 {
		q := u.Query()
		q.Set("platforms", strings.Join(platforms, ","))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return SyncResult{}, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SyncResult{}, err
	}
	defer resp.Body.Close()

	var res SyncResult
	if err := decodeJSON(resp, &res); err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

// GetUser fetches the user's profiles, aggregate, and leaderboard rank.
func (c *Client) GetUser(ctx context.Context, userID string) (UserSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return UserSummary{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return UserSummary{}, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UserSummary{}, err
	}
	defer resp.Body.Close()

	var summary UserSummary
	if err := decodeJSON(resp, &summary); err != nil {
		return UserSummary{}, err
	}
	return summary, nil
}

// Leaderboard fetches the top ranked users. A limit of 0 uses the
// server default.
func (c *Client) Leaderboard(ctx context.Context, limit int) (LeaderboardPage, error) {
	u, err := url.Parse(c.baseURL + "/leaderboard")
	if err != nil {
		return LeaderboardPage{}, err
	}
	if limit > 0 {
		q := u.Query()
		q.Set("limit", strconv.Itoa(limit))
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return LeaderboardPage{}, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return LeaderboardPage{}, err
	}
	defer resp.Body.Close()

	var page LeaderboardPage
	if err := decodeJSON(resp, &page); err != nil {
		return LeaderboardPage{}, err
	}
	return page, nil
}

// StartFleetSync asks the server to refresh every registered user. The
// run is asynchronous; a run already in flight yields a 409 APIError.
func (c *Client) StartFleetSync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync/fleet", nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, nil)
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	u := c.baseURL + "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return HealthStatus{}, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	// healthz answers with a body on 503 too, so decode unconditionally
	var hs HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// SubscribeEvents connects to the WebSocket stream and emits sync
// events. Pass event type names to filter server-side. The returned
// channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, types ...string) (<-chan Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	wsURL := c.wsURL
	if len(types) > 0 {
		u, err := url.Parse(wsURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("types", strings.Join(types, ","))
		u.RawQuery = q.Encode()
		wsURL = u.String()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var evt Event
				if err := conn.ReadJSON(&evt); err != nil {
					return
				}
				select {
				case out <- evt:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
