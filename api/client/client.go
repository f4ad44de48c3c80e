// Package client provides a thin wrapper around an HTTP client shared by the
// typed upstream API packages.
package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// Client is a wrapper object around the HTTP client.
type Client struct {
	hc      *http.Client
	baseURL *url.URL
}

// NewClient constructs a new client with the provided options (ex WithTimeout).
// `host` is the base host + port used to construct request urls. This value can be
// a URL string, or NewClient will assume an http endpoint if just `host:port` is used.
func NewClient(host string, opts ...ClientOpt) (*Client, error) {
	u, err := urlForHost(host)
	if err != nil {
		return nil, err
	}
	c := &Client{
		hc:      &http.Client{},
		baseURL: u,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the base url of the client
func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

// NodeURL returns a human-readable string representation of the upstream base url.
func (c *Client) NodeURL() string {
	return c.baseURL.String()
}

// Do execute the request against the http client
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.hc.Do(req)
}

func urlForHost(h string) (*url.URL, error) {
	// try to parse as url (being permissive)
	u, err := url.Parse(h)
	if err == nil && u.Host != "" {
		return u, nil
	}
	// try to parse as host:port
	host, port, err := net.SplitHostPort(h)
	if err != nil {
		return nil, ErrMalformedHostname
	}
	return &url.URL{Host: net.JoinHostPort(host, port), Scheme: "http"}, nil
}

// Post is a generic, opinionated POST function to reduce boilerplate amongst
// the typed endpoint packages. A 429 response surfaces as *RateLimitError so
// callers can honor the server's Retry-After.
func (c *Client) Post(ctx context.Context, path string, body []byte, opts ...ReqOption) ([]byte, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for _, o := range opts {
		o(req)
	}
	r, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = r.Body.Close()
	}()
	if r.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitErr(r)
	}
	if r.StatusCode != http.StatusOK {
		return nil, Non200Err(r)
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "error reading http response body")
	}
	return b, nil
}
