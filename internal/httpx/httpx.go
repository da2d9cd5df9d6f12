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

	agenterr "github.com/zeusfi/yield-agent/internal/errors"
)

// Client is a shared JSON HTTP client. Read-only provider calls are retried
// with bounded exponential backoff; callers that must not retry (transaction
// submission) do not go through this client.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "zeus-yield-agent/1.0",
	}
}

// Result carries the response metadata callers occasionally branch on, most
// notably the status code for endpoints where 404 is a meaningful answer.
type Result struct {
	StatusCode int
	Header     http.Header
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (*Result, error) {
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
				return nil, agenterr.Wrap(agenterr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, agenterr.Wrap(agenterr.CodeInternal, "clone request body", err)
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
			return &Result{StatusCode: resp.StatusCode, Header: resp.Header}, agenterr.Wrap(agenterr.CodeUnavailable, "read provider response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = agenterr.New(agenterr.CodeUnavailable, fmt.Sprintf("provider unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return &Result{StatusCode: resp.StatusCode, Header: resp.Header}, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &Result{StatusCode: resp.StatusCode, Header: resp.Header}, agenterr.New(agenterr.CodeConfig, "provider authentication failed")
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &Result{StatusCode: resp.StatusCode, Header: resp.Header}, agenterr.New(agenterr.CodeUnavailable, fmt.Sprintf("provider returned unexpected status %d", resp.StatusCode))
		}

		if out == nil {
			return &Result{StatusCode: resp.StatusCode, Header: resp.Header}, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return &Result{StatusCode: resp.StatusCode, Header: resp.Header}, agenterr.New(agenterr.CodeUnavailable, "provider returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return &Result{StatusCode: resp.StatusCode, Header: resp.Header}, agenterr.Wrap(agenterr.CodeUnavailable, "decode provider JSON", err)
		}
		return &Result{StatusCode: resp.StatusCode, Header: resp.Header}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, agenterr.New(agenterr.CodeUnavailable, "request failed")
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return agenterr.Wrap(agenterr.CodeUnavailable, "provider timeout", err)
		}
	}
	return agenterr.Wrap(agenterr.CodeUnavailable, "provider request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}
