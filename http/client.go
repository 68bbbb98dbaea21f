// Package http provides a perfdash.Fetcher backed by plain HTTP GET requests.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/meigma/perfdash"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 32 << 20

// ErrBodyTooLarge is returned when a response body exceeds the configured
// limit.
var ErrBodyTooLarge = errors.New("response body too large")

// Client fetches upstream resources over HTTP.
// It satisfies perfdash.Fetcher.
type Client struct {
	client       *nethttp.Client
	headers      nethttp.Header
	timeout      time.Duration
	maxBodyBytes int64
}

var _ perfdash.Fetcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(c *Client) {
		if headers == nil {
			return
		}
		c.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(nethttp.Header)
		}
		c.headers.Set(key, value)
	}
}

// WithTimeout sets an overall limit per request, including reading the
// body. It applies on top of any context deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxBodyBytes caps the size of a response body. Values <= 0 are
// ignored.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// New creates a Client. Without WithClient, requests go through the
// default transport wrapped to negotiate gzip and zstd response encoding.
func New(opts ...Option) *Client {
	c := &Client{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &nethttp.Client{Transport: gzhttp.Transport(nethttp.DefaultTransport)}
	}
	if c.timeout > 0 {
		client := *c.client
		client.Timeout = c.timeout
		c.client = &client
	}
	return c
}

// Fetch performs a GET request and returns the full body as text.
//
// A non-2xx answer is not an error: it is returned with its status so the
// caller can decide. Errors are returned only when no complete response
// was received.
func (c *Client) Fetch(ctx context.Context, url string) (perfdash.Response, error) {
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return perfdash.Response{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return perfdash.Response{}, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return perfdash.Response{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return perfdash.Response{}, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, c.maxBodyBytes)
	}

	return perfdash.Response{
		Status:      resp.StatusCode,
		Body:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) newRequest(ctx context.Context, url string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range c.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return req, nil
}
