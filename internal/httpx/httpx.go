package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/A1anMc/GrantSGE/internal/config"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/metrics"
)

// ErrExhausted is returned when every attempt failed at the transport level.
var ErrExhausted = errors.New("httpx: exhausted retries")

// Policy controls retry behaviour for one logical client.
type Policy struct {
	// Name labels metrics and logs, e.g. "anthropic".
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxRetryAfter caps how long a Retry-After header may make us wait.
	MaxRetryAfter time.Duration
	LogRetries    bool
}

// PolicyFromConfig builds a policy from HTTP_MAX_RETRIES and HTTP_RETRY_BASE_MS.
func PolicyFromConfig(name string, cfg *config.Config) Policy {
	return Policy{
		Name:          name,
		MaxAttempts:   cfg.HTTPMaxRetries,
		BaseDelay:     cfg.HTTPRetryBase,
		MaxRetryAfter: 60 * time.Second,
		LogRetries:    cfg.LogHTTPRetries,
	}
}

// PreAttempt lets callers run logic (e.g., rate limiting) before each try; return an error to abort.
type PreAttempt func(ctx context.Context, attempt int) error

// AttemptInfo describes a single attempt outcome.
type AttemptInfo struct {
	Attempt int
	Method  string
	URL     string
	Status  int
	Err     error
	Wait    time.Duration
}

// Observer callback to report attempt telemetry.
type Observer func(info AttemptInfo)

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter parses delta-seconds or an HTTP date.
func retryAfter(h string, now time.Time) (time.Duration, bool) {
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do sends the request produced by build, retrying on transport errors,
// 429 and 5xx. Retry-After is honoured up to MaxRetryAfter; otherwise the
// delay is linear in the attempt number plus up to 200ms of jitter. The last
// 429/5xx response is returned to the caller rather than an error.
func Do(ctx context.Context, client *http.Client, p Policy, build func(ctx context.Context) (*http.Request, error), pre PreAttempt, obs Observer) (*http.Response, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	report := func(info AttemptInfo) {
		if obs != nil {
			obs(info)
		}
	}
	log := logger.WithComponent("httpx").With("client", p.Name)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if pre != nil {
			if err := pre(ctx, attempt); err != nil {
				return nil, err
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		info := AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String()}

		resp, err := client.Do(req)
		var wait time.Duration
		switch {
		case err != nil:
			metrics.OutboundHTTPRequests.WithLabelValues(p.Name, "error").Inc()
			info.Err = err
			if attempt == maxAttempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				report(info)
				return nil, err
			}
		case !retryable(resp.StatusCode):
			metrics.OutboundHTTPRequests.WithLabelValues(p.Name, "success").Inc()
			info.Status = resp.StatusCode
			report(info)
			if p.LogRetries && attempt > 1 {
				log.Info("request succeeded after retry", "attempt", attempt, "url", info.URL, "status", resp.StatusCode)
			}
			return resp, nil
		default:
			metrics.OutboundHTTPRequests.WithLabelValues(p.Name, "retry").Inc()
			info.Status = resp.StatusCode
			if attempt == maxAttempts {
				report(info)
				if p.LogRetries {
					log.Warn("giving up", "attempt", attempt, "url", info.URL, "status", resp.StatusCode)
				}
				return resp, nil
			}
			if d, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				if p.MaxRetryAfter > 0 && d > p.MaxRetryAfter {
					d = p.MaxRetryAfter
				}
				wait = d
				metrics.OutboundRetryAfterWaits.WithLabelValues(p.Name).Observe(d.Seconds())
			}
			resp.Body.Close()
		}

		if wait == 0 {
			jitter := time.Duration(rand.Intn(200)) * time.Millisecond
			wait = p.BaseDelay*time.Duration(attempt) + jitter
		}
		metrics.OutboundHTTPRetries.WithLabelValues(p.Name).Inc()
		info.Wait = wait
		report(info)
		if p.LogRetries {
			log.Info("backing off", "attempt", attempt, "wait", wait, "url", info.URL, "status", info.Status, "error", info.Err)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, ErrExhausted
}
