package health

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Result is the outcome of one successful HTTP exchange with a target.
// "Successful" here means a response arrived; whether the target counts as
// healthy is decided by Healthy.
type Result struct {
	StatusCode int
	Elapsed    time.Duration
}

// Healthy reports whether the exchange counts as a healthy check: a 2xx
// status delivered within the configured response timeout.
func (r Result) Healthy(timeout time.Duration) bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.Elapsed <= timeout
}

// Checker performs one target check. Implementations must respect both the
// context and the per-call timeout.
type Checker interface {
	Check(ctx context.Context, url string, timeout time.Duration) (Result, error)
}

// HTTPChecker checks targets with plain GET requests over a shared
// transport. The per-call timeout is enforced through the request context
// because the configured value is reloaded every cycle.
type HTTPChecker struct {
	client *http.Client
}

func NewHTTPChecker() *HTTPChecker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	return &HTTPChecker{client: &http.Client{Transport: transport}}
}

func (c *HTTPChecker) Check(ctx context.Context, url string, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused; elapsed time is measured to
	// first response, matching what the latency threshold means.
	elapsed := time.Since(start)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return Result{StatusCode: resp.StatusCode, Elapsed: elapsed}, nil
}
