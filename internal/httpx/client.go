package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
)

// Client issues JSON requests with bounded retries. Retries apply to network
// failures, 429 and 5xx responses; callers that must not repeat a request
// construct a client with zero retries.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

// StatusError is attached as the cause of errors for non-2xx responses that are
// not retried, so callers can inspect provider-specific bodies.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, truncate(e.Body, 256))
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "chatswap/1.0",
	}
}

// WithoutRetries returns a copy of c that performs each request exactly once.
func (c *Client) WithoutRetries() *Client {
	cp := *c
	cp.retries = 0
	return &cp
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperr.Wrap(apperr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(Backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, apperr.Wrap(apperr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, apperr.Wrap(apperr.CodeUnavailable, "read provider response", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = apperr.New(apperr.CodeRateLimited, "provider rate limited request")
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return resp.Header, apperr.Wrap(apperr.CodeAuth, "provider authentication failed", &StatusError{StatusCode: resp.StatusCode, Body: buf})
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = apperr.New(apperr.CodeUnavailable, fmt.Sprintf("provider unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return resp.Header, apperr.Wrap(apperr.CodeUnsupported, "provider rejected request", &StatusError{StatusCode: resp.StatusCode, Body: buf})
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, apperr.New(apperr.CodeUnavailable, "provider returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, apperr.Wrap(apperr.CodeUnavailable, "decode provider JSON", err)
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apperr.New(apperr.CodeUnavailable, "request failed")
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

// PostJSON marshals payload and posts it.
func PostJSON(ctx context.Context, c *Client, url string, payload any, headers map[string]string, out any) (http.Header, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "encode request body", err)
	}
	return DoBodyJSON(ctx, c, http.MethodPost, url, body, headers, out)
}

// AsStatus extracts the StatusError cause from err, if any.
func AsStatus(err error) (*StatusError, bool) {
	typed, ok := apperr.As(err)
	if !ok {
		return nil, false
	}
	status, ok := typed.Cause.(*StatusError)
	return status, ok
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return apperr.Wrap(apperr.CodeUnavailable, "provider timeout", err)
		}
	}
	return apperr.Wrap(apperr.CodeUnavailable, "provider request failed", err)
}

// Backoff returns the jittered delay before retry attempt n (n >= 1).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
