package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

const userAgent = "codestats-sync/1.0"

// Client wraps an http.Client with the per-platform timeout and the
// status-code classification every adapter shares.
type Client struct {
	platform core.Platform
	http     *http.Client
}

// NewClient builds a Client for one platform. A zero timeout means the
// caller controls deadlines through its context.
func NewClient(platform core.Platform, timeout time.Duration) *Client {
	return &Client{platform: platform, http: &http.Client{Timeout: timeout}}
}

// NewClientWith uses a caller-supplied http.Client (tests).
func NewClientWith(platform core.Platform, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{platform: platform, http: hc}
}

// StatusError reports a non-2xx response the classifier left to the
// adapter. Only the adapter knows whether a 404 on its endpoint means
// the user does not exist or the endpoint moved.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		fe := core.NewFetchError(core.KindRateLimited, c.platform, "", "upstream throttled the request", nil)
		fe.RetryAfter = retryAfter
		return nil, fe
	case resp.StatusCode >= 500:
		code := resp.StatusCode
		resp.Body.Close()
		return nil, core.NewFetchError(core.KindUpstreamUnavailable, c.platform, "",
			fmt.Sprintf("upstream returned %d", code), nil)
	case resp.StatusCode >= 300:
		code := resp.StatusCode
		url := req.URL.String()
		resp.Body.Close()
		return nil, &StatusError{Code: code, URL: url}
	}
	return resp, nil
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body, out)
}

// PostJSON posts body as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body, out)
}

// GraphQL posts a GraphQL query with variables and decodes data into out.
func (c *Client) GraphQL(ctx context.Context, url, query string, variables map[string]any, headers map[string]string, out any) error {
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	body := map[string]any{"query": query, "variables": variables}
	if err := c.PostJSON(ctx, url, headers, body, &envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return core.NewFetchError(core.KindUpstreamUnavailable, c.platform, "",
			fmt.Sprintf("graphql error: %s", envelope.Errors[0].Message), nil)
	}
	if out != nil && envelope.Data != nil {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

// GetDocument fetches a page and parses it for scraping strategies.
func (c *Client) GetDocument(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func decodeJSON(r io.Reader, out any) error {
	if out == nil {
		_, err := io.Copy(io.Discard, r)
		return err
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
