package ddf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const maxBody = 8 << 20

// Options configure the listings and token clients.
type Options struct {
	BaseURL *url.URL
	// Timeout bounds a single attempt; a timed-out attempt is retried once.
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    retryablehttp.LeveledLogger
}

// Client talks to the DDF OData Property resource.
type Client struct {
	baseURL *url.URL
	http    *retryablehttp.Client
}

// NewClient holds no per-request state; it is safe to share between requests.
func NewClient(opts Options) *Client {
	base := *opts.BaseURL
	return &Client{baseURL: &base, http: newHTTPClient(opts)}
}

func newHTTPClient(opts Options) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.RetryMax = 1
	rc.CheckRetry = retryOnTimeout
	rc.HTTPClient.Timeout = opts.Timeout
	if opts.Transport != nil {
		rc.HTTPClient.Transport = opts.Transport
	}
	// retryablehttp logs to stderr unless told otherwise.
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger
	}
	return rc
}

// retryOnTimeout retries only attempts that timed out. Status-code failures
// are returned to the caller as they are.
func retryOnTimeout(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, nil
	}
	return false, nil
}

// PropertyURL is the search endpoint for q.
func (c *Client) PropertyURL(q Query) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/Property"
	u.RawQuery = q.Encode()
	return u.String()
}

// Query fetches one page of Property records.
func (c *Client) Query(ctx context.Context, token string, q Query) (Page, error) {
	return c.get(ctx, token, c.PropertyURL(q))
}

// Next follows an @odata.nextLink. Links that leave the configured host are
// refused so the bearer token is never sent elsewhere.
func (c *Client) Next(ctx context.Context, token, link string) (Page, error) {
	u, err := c.resolveNext(link)
	if err != nil {
		return Page{}, &UpstreamRequestError{URL: link, Err: err}
	}
	return c.get(ctx, token, u)
}

func (c *Client) resolveNext(link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse next link: %w", err)
	}
	u := c.baseURL.ResolveReference(ref)
	if u.Scheme != c.baseURL.Scheme || u.Host != c.baseURL.Host {
		return "", ErrForeignNextLink
	}
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, token, u string) (Page, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, &UpstreamRequestError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, &UpstreamRequestError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	body, err := ioReadAllLimit(resp.Body, maxBody)
	if err != nil {
		return Page{}, &UpstreamRequestError{Status: resp.StatusCode, URL: u, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, &UpstreamRequestError{Status: resp.StatusCode, URL: u, Body: truncate(body)}
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, &UpstreamRequestError{Status: resp.StatusCode, URL: u, Err: fmt.Errorf("decode page: %w", err)}
	}
	page.Raw = body
	return page, nil
}

func ioReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, ErrPayloadTooLarge
	}
	return b, nil
}

// truncate keeps error bodies short enough for logs.
func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
