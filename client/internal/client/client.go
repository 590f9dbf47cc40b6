package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Header names shared with the server.
const (
	HeaderOwnerTag  = "X-Owner-Tag"
	HeaderRequestID = "X-Request-ID"
)

const (
	// DefaultRetries is how many times a transient failure is retried.
	DefaultRetries = 3

	// DefaultBackoff is the first retry delay; it doubles per attempt.
	DefaultBackoff = 200 * time.Millisecond

	backoffMax    = 5 * time.Second
	jitterPercent = 25
)

// Options configures a Client.
type Options struct {
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	// Retries after the first attempt; 0 disables retry.
	Retries int

	// Backoff before the first retry.
	Backoff time.Duration
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Retries:    DefaultRetries,
		Backoff:    DefaultBackoff,
	}
}

// Client is a fileshare-server HTTP client. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	retries int
	backoff time.Duration
}

// New returns a client for the server at baseURL, e.g. http://localhost:8787.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: server url %q: scheme must be http or https", baseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Client{base: u, http: opts.HTTPClient, retries: opts.Retries, backoff: opts.Backoff}, nil
}

// Upload stores content under a freshly claimed slot in namespace.
// owner is optional.
func (c *Client) Upload(ctx context.Context, namespace string, content []byte, owner string) (Upload, error) {
	var out Upload
	hdr := http.Header{}
	if owner != "" {
		hdr.Set(HeaderOwnerTag, owner)
	}
	err := c.doJSON(ctx, http.MethodPost, "/upload/"+url.PathEscape(namespace), hdr, content, &out)
	return out, err
}

// Download returns the bytes stored under key.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, http.MethodGet, "/download/"+url.PathEscape(key), nil, nil, func(r io.Reader) error {
		b, err := io.ReadAll(r)
		out = b
		return err
	})
	return out, err
}

// Status returns the liveness of key. An inactive entity is not an error.
func (c *Client) Status(ctx context.Context, key string) (Status, error) {
	var out Status
	err := c.doJSON(ctx, http.MethodGet, "/status/"+url.PathEscape(key), nil, nil, &out)
	return out, err
}

// Renew extends the lifetime of key and returns the new expiry.
func (c *Client) Renew(ctx context.Context, key string) (time.Time, error) {
	var out renewResponse
	if err := c.doJSON(ctx, http.MethodPost, "/renew/"+url.PathEscape(key), nil, nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.ExpireAt, nil
}

// Delete purges key. Deleting an empty entity succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.doJSON(ctx, http.MethodDelete, "/delete/"+url.PathEscape(key), nil, nil, nil)
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, hdr http.Header, body []byte, v interface{}) error {
	return c.do(ctx, method, path, hdr, body, func(r io.Reader) error {
		if v == nil {
			_, err := io.Copy(io.Discard, r)
			return err
		}
		if err := json.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// do sends one request, retrying transient failures, and hands a 2xx body to
// read. Failures of read are not retried.
func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, body []byte, read func(io.Reader) error) error {
	var readErr error
	err := retry.Do(ctx, c.backoffPolicy(), func(ctx context.Context) error {
		resp, err := c.send(ctx, method, path, hdr, body)
		if err != nil {
			if retryable(err) && ctx.Err() == nil {
				slog.Debug("client: transient failure, retrying", "method", method, "path", path, "err", err)
				return retry.RetryableError(err)
			}
			return err
		}
		defer resp.Body.Close()
		readErr = read(resp.Body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if readErr != nil {
		return fmt.Errorf("%s %s: %w", method, path, readErr)
	}
	return nil
}

func (c *Client) backoffPolicy() retry.Backoff {
	b := retry.NewExponential(c.backoff)
	b = retry.WithJitterPercent(jitterPercent, b)
	b = retry.WithCappedDuration(backoffMax, b)
	return retry.WithMaxRetries(uint64(c.retries), b)
}

// send performs one attempt. A non-2xx response is drained, closed and
// returned as *APIError.
func (c *Client) send(ctx context.Context, method, path string, hdr http.Header, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get(HeaderRequestID)}
	var er errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&er); err == nil {
		apiErr.Message = er.Error
	}
	return nil, apiErr
}

// wsURL returns the observer endpoint for key.
func (c *Client) wsURL(key string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String() + "/websocket/" + url.PathEscape(key)
}
