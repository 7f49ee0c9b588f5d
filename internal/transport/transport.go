// Package transport implements the raw HTTP streaming plumbing shared by
// adapters that talk to vendor REST endpoints directly: a JSON POST client
// plus server-sent-events and newline-delimited JSON event sources that
// yield gjson payloads.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/openai/openai-go/packages/ssestream"
	"github.com/tidwall/gjson"
)

// Client posts JSON bodies to a base URL.
type Client struct {
	BaseURL        *url.URL
	HTTPClient     *http.Client
	DefaultHeaders http.Header
	UserAgent      string
}

// New creates a Client for baseURL. A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: u, HTTPClient: httpClient, DefaultHeaders: http.Header{}}, nil
}

// Resolve joins path (which may carry a query string) onto the base URL.
func (c *Client) Resolve(path string) string {
	return c.BaseURL.String() + "/" + strings.TrimLeft(path, "/")
}

// PostStream sends body and returns the open response for streaming. Non-2xx
// responses are drained and returned as *HTTPStatusError.
func (c *Client) PostStream(ctx context.Context, path string, hdr http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Resolve(path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	mergeHeaders(req.Header, c.DefaultHeaders)
	mergeHeaders(req.Header, hdr)
	req.Header.Set("Content-Type", "application/json")
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: raw, Header: resp.Header.Clone()}
}

func mergeHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// HTTPStatusError is returned for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (e *HTTPStatusError) Error() string {
	msg := gjson.GetBytes(e.Body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(e.Body, "error").String()
	}
	if msg == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, msg)
}

// SSESource yields the data payload of each server-sent event.
type SSESource struct {
	dec ssestream.Decoder
	cur gjson.Result
	err error
}

// NewSSESource wraps an open event-stream response.
func NewSSESource(resp *http.Response) *SSESource {
	return &SSESource{dec: ssestream.NewDecoder(resp)}
}

// Next advances to the next event with a JSON payload. A "[DONE]" sentinel
// ends the stream.
func (s *SSESource) Next() bool {
	if s.dec == nil || s.err != nil {
		return false
	}
	for s.dec.Next() {
		data := bytes.TrimSpace(s.dec.Event().Data)
		if len(data) == 0 {
			continue
		}
		if string(data) == "[DONE]" {
			return false
		}
		if !gjson.ValidBytes(data) {
			s.err = fmt.Errorf("invalid event payload: %.64q", data)
			return false
		}
		s.cur = gjson.ParseBytes(data)
		return true
	}
	s.err = s.dec.Err()
	return false
}

// Current returns the current payload.
func (s *SSESource) Current() gjson.Result { return s.cur }

// Err returns the first decoding or transport error.
func (s *SSESource) Err() error { return s.err }

// Close releases the response body.
func (s *SSESource) Close() error {
	if s.dec == nil {
		return nil
	}
	return s.dec.Close()
}

// NDJSONSource yields one payload per non-empty line.
type NDJSONSource struct {
	body io.ReadCloser
	scn  *bufio.Scanner
	cur  gjson.Result
	err  error
}

// NewNDJSONSource wraps an open newline-delimited JSON response.
func NewNDJSONSource(resp *http.Response) *NDJSONSource {
	scn := bufio.NewScanner(resp.Body)
	scn.Buffer(make([]byte, 0, 64<<10), 4<<20)
	return &NDJSONSource{body: resp.Body, scn: scn}
}

// Next advances to the next line.
func (s *NDJSONSource) Next() bool {
	if s.err != nil {
		return false
	}
	for s.scn.Scan() {
		line := bytes.TrimSpace(s.scn.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			s.err = fmt.Errorf("invalid line payload: %.64q", line)
			return false
		}
		s.cur = gjson.ParseBytes(line)
		return true
	}
	s.err = s.scn.Err()
	return false
}

// Current returns the current payload.
func (s *NDJSONSource) Current() gjson.Result { return s.cur }

// Err returns the first decoding or transport error.
func (s *NDJSONSource) Err() error { return s.err }

// Close releases the response body.
func (s *NDJSONSource) Close() error { return s.body.Close() }
