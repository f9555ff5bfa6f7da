// Package fetch implements the rate-limited HTTP client used for all
// outbound provider and movie-database traffic. Each logical bucket
// enforces a concurrency cap and a rolling request window; transient
// failures are retried with exponential backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Kind classifies a fetch failure.
type Kind int

const (
	KindTransient Kind = iota
	KindHTTP4xx
	KindHTTP5xx
	KindTransport
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindHTTP4xx:
		return "http4xx"
	case KindHTTP5xx:
		return "http5xx"
	case KindTransport:
		return "transport"
	case KindCancelled:
		return "cancelled"
	default:
		return "transient"
	}
}

// Error is a classified fetch failure.
type Error struct {
	Kind   Kind
	Status int
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d (%s)", e.URL, e.Status, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindTransient when err is
// not a fetch error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindTransient
}

// bucket holds both bounds for one rate-limit scope: a semaphore for
// in-flight requests and a token bucket approximating the rolling window.
type bucket struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// Client is the shared outbound HTTP client. Buckets are registered once
// per provider (plus one for the MDB) and looked up per request.
type Client struct {
	http       *http.Client
	mu         sync.RWMutex
	buckets    map[string]*bucket
	maxRetries int
}

// NewClient creates a Client with a per-request deadline.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:       &http.Client{Timeout: timeout},
		buckets:    make(map[string]*bucket),
		maxRetries: 3,
	}
}

// RegisterBucket installs (or replaces) a named rate-limit scope allowing
// at most concurrency in-flight requests and concurrency requests per
// windowSec seconds.
func (c *Client) RegisterBucket(name string, concurrency, windowSec int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if windowSec <= 0 {
		windowSec = 1
	}
	interval := time.Duration(windowSec) * time.Second / time.Duration(concurrency)
	b := &bucket{
		sem:     make(chan struct{}, concurrency),
		limiter: rate.NewLimiter(rate.Every(interval), concurrency),
	}
	c.mu.Lock()
	c.buckets[name] = b
	c.mu.Unlock()
}

// DropBucket removes a named scope, e.g. when a provider is deleted.
func (c *Client) DropBucket(name string) {
	c.mu.Lock()
	delete(c.buckets, name)
	c.mu.Unlock()
}

func (c *Client) bucketFor(name string) *bucket {
	c.mu.RLock()
	b := c.buckets[name]
	c.mu.RUnlock()
	if b != nil {
		return b
	}
	// Unregistered buckets get a conservative default rather than failing.
	c.RegisterBucket(name, 1, 1)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buckets[name]
}

// Fetch performs a GET within the named bucket and returns the body.
// 5xx and transport errors are retried with exponential backoff; 4xx is
// returned immediately. Cancellation aborts both the bucket wait and the
// request itself.
func (c *Client) Fetch(ctx context.Context, bucketName, url string, header http.Header) ([]byte, error) {
	b := c.bucketFor(bucketName)

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &Error{Kind: KindCancelled, URL: url, Err: ctx.Err()}
	}
	defer func() { <-b.sem }()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return nil, &Error{Kind: KindCancelled, URL: url, Err: ctx.Err()}
			}
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindCancelled, URL: url, Err: err}
		}

		data, err := c.do(ctx, url, header)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCancelled, URL: url, Err: ctx.Err()}
		}
		switch KindOf(err) {
		case KindHTTP4xx, KindCancelled:
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: url, Err: err}
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "Mozilla/5.0")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCancelled, URL: url, Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindTransport, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: url, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &Error{Kind: KindHTTP4xx, Status: resp.StatusCode, URL: url}
	default:
		return nil, &Error{Kind: KindHTTP5xx, Status: resp.StatusCode, URL: url}
	}
}
