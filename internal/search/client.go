package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPClient is a small retrying HTTP client shared by the evidence source
// adapters. Retries use exponential backoff and respect the context.
type HTTPClient struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

func NewHTTPClient(timeout time.Duration, retries int, backoff time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if backoff == 0 {
		backoff = 300 * time.Millisecond
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}, retries: retries, backoff: backoff}
}

// GetJSON fetches url and decodes the response body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// GetRaw fetches url and returns the raw response body.
func (c *HTTPClient) GetRaw(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url, "")
}

func (c *HTTPClient) get(ctx context.Context, url, accept string) ([]byte, error) {
	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			resp.Body.Close()
			if readErr != nil {
				lastErr = readErr
			} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return body, nil
			} else {
				if len(body) > 4096 {
					body = body[:4096]
				}
				lastErr = errors.New(resp.Status + ": " + string(body))
			}
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// rateGate spaces requests at a fixed minimum interval, the politeness
// contract both NCBI and OpenAlex ask of clients.
type rateGate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newRateGate(perSecond float64) *rateGate {
	if perSecond <= 0 {
		perSecond = 3
	}
	return &rateGate{interval: time.Duration(float64(time.Second) / perSecond)}
}

func (g *rateGate) wait(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	next := g.last.Add(g.interval)
	if next.Before(now) {
		next = now
	}
	g.last = next
	g.mu.Unlock()

	d := time.Until(next)
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
