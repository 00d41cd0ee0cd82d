package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/perpjournal/tradesync/internal/model"
)

const (
	// DefaultPause is the inter-request delay enforced per host.
	DefaultPause = 200 * time.Millisecond

	defaultTimeout = 30 * time.Second
	maxRetries     = 3
)

// Transport wraps an HTTP client with per-host rate limiting, a circuit
// breaker, and bounded retries for rate-limit and transient network failures.
// One Transport is shared by all requests of a single sync job.
type Transport struct {
	exchange model.Exchange
	client   *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker

	pause time.Duration
}

// NewTransport builds a transport for one venue with the given HTTP timeout.
// A zero timeout falls back to 30s.
func NewTransport(ex model.Exchange, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Transport{
		exchange: ex,
		client:   &http.Client{Timeout: timeout},
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		pause:    DefaultPause,
	}
}

func (t *Transport) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(t.pause), 1)
	t.limiters[host] = l
	return l
}

func (t *Transport) breaker(host string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[host]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    fmt.Sprintf("%s:%s", t.exchange, host),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
		},
	})
	t.breakers[host] = b
	return b
}

// Do executes the request, waiting on the per-host limiter first and retrying
// rate-limit and transient network failures with exponential backoff. The
// response body is the caller's to close.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	host := req.URL.Host

	var resp *http.Response
	backoff := t.pause
	for attempt := 0; ; attempt++ {
		if err := t.limiter(host).Wait(ctx); err != nil {
			return nil, NewError(t.exchange, KindNetwork, "", fmt.Errorf("rate limit wait: %w", err))
		}

		// The first attempt may have drained the body; a retry needs a
		// fresh request with the body rewound via GetBody.
		attemptReq := req
		if attempt > 0 {
			attemptReq = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, NewError(t.exchange, KindInternal, "", fmt.Errorf("rewind request body: %w", err))
				}
				attemptReq.Body = body
			}
		}

		out, err := t.breaker(host).Execute(func() (interface{}, error) {
			r, err := t.client.Do(attemptReq)
			if err != nil {
				return nil, NewError(t.exchange, KindNetwork, "", err)
			}
			return r, nil
		})
		if err == nil {
			resp = out.(*http.Response)
			if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
				return resp, nil
			}
			code := fmt.Sprintf("%d", resp.StatusCode)
			resp.Body.Close()
			kind := KindNetwork
			if resp.StatusCode == http.StatusTooManyRequests {
				kind = KindRateLimited
			}
			err = NewError(t.exchange, kind, code, fmt.Errorf("HTTP %s", code))
		}

		if attempt >= maxRetries || !retryable(err) {
			return nil, err
		}
		log.Debug().Str("exchange", string(t.exchange)).Str("host", host).
			Int("attempt", attempt+1).Dur("backoff", backoff).Err(err).
			Msg("retrying exchange request")
		select {
		case <-ctx.Done():
			return nil, NewError(t.exchange, KindNetwork, "", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindNetwork:
		return true
	}
	return false
}

// Pause sleeps the inter-request delay, honoring cancellation. Clients call it
// between pagination steps that bypass the limiter's natural spacing.
func (t *Transport) Pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.pause):
		return nil
	}
}
