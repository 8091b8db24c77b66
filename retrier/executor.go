// Package retrier executes HTTP calls with bounded retries.
//
// Only transient failures are retried: transport errors, per-attempt
// timeouts and 5xx responses. Every other status, 401 included, is handed
// back to the caller on the first attempt so that authorization failures are
// resolved by the session layer instead of being hammered here.
package retrier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/rs/zerolog"
)

// ErrTransient marks failures that exhausted their retry budget.
var ErrTransient = errors.New("transient network failure")

// NetworkError is returned once every attempt has failed transiently.
type NetworkError struct {
	Attempts   int
	StatusCode int // last 5xx status, zero when the last failure was a transport error
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request failed after %d attempt(s): server returned status %d", e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrTransient
}

// Policy holds the backoff parameters.
type Policy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultPolicy mirrors config defaults for callers that build an Executor
// without configuration.
var DefaultPolicy = Policy{
	BaseDelay:      500 * time.Millisecond,
	MaxDelay:       10 * time.Second,
	AttemptTimeout: 10 * time.Second,
}

// Executor runs requests under a retry Policy.
type Executor struct {
	policy Policy
	http   *http.Client
	log    zerolog.Logger
	hook   func(attempt int, delay time.Duration)
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the underlying client. Its transport is wrapped so
// that each attempt waits at most the policy's AttemptTimeout for response
// headers. Reading the body is bounded only by the caller's context.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		clone := *c
		e.http = &clone
	}
}

// WithLogger sets the logger used for retry decisions.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// WithRetryHook registers fn to observe each scheduled backoff. attempt is
// the number of the attempt that just failed.
func WithRetryHook(fn func(attempt int, delay time.Duration)) Option {
	return func(e *Executor) {
		e.hook = fn
	}
}

// New returns an Executor for policy.
func New(policy Policy, opts ...Option) *Executor {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultPolicy.BaseDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = DefaultPolicy.AttemptTimeout
	}

	e := &Executor{
		policy: policy,
		http:   defaultHTTPClient(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	next := e.http.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	e.http.Transport = &headerDeadline{next: next, timeout: policy.AttemptTimeout}
	return e
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// Execute sends req, retrying transient failures up to maxAttempts in total
// with delays of base × 2^(attempt−1). Non-transient responses are returned
// as-is. The request body must be replayable (req.GetBody set), which
// http.NewRequest guarantees for in-memory bodies.
func (e *Executor) Execute(ctx context.Context, req *http.Request, maxAttempts int) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var retries atomic.Int32
	client, err := retry.NewClient(
		retry.WithHTTPClient(e.http),
		retry.WithMaxRetries(maxAttempts-1),
		retry.WithInitialRetryDelay(e.policy.BaseDelay),
		retry.WithMaxRetryDelay(e.policy.MaxDelay),
		retry.WithRetryDelayMultiple(2.0),
		retry.WithJitter(false),
		retry.WithNoLogging(),
		retry.WithRetryableChecker(func(err error, resp *http.Response) bool {
			return isTransient(ctx, err, resp)
		}),
		retry.WithOnRetry(func(info retry.RetryInfo) {
			n := int(retries.Add(1))
			e.log.Debug().
				Str("method", req.Method).
				Str("url", req.URL.Redacted()).
				Int("attempt", n).
				Dur("backoff", info.Delay).
				Int("status", info.StatusCode).
				AnErr("cause", info.Err).
				Msg("retrying transient failure")
			if e.hook != nil {
				e.hook(n, info.Delay)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	resp, err := client.DoWithContext(ctx, req.WithContext(ctx))
	attempts := int(retries.Load()) + 1
	var retryErr *retry.RetryError
	if errors.As(err, &retryErr) {
		// Exhausted or interrupted: the last response, if any, is still open.
		attempts = retryErr.Attempts
		err = retryErr.LastErr
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
		if err != nil || isTransientStatus(status) {
			drain(resp)
			resp = nil
		}
	}
	if resp != nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("request canceled after %d attempt(s): %w", attempts, ctxErr)
	}
	if err == nil {
		err = fmt.Errorf("server returned status %d", status)
	}
	if !isTransientStatus(status) {
		status = 0
	}
	return nil, &NetworkError{Attempts: attempts, StatusCode: status, Err: err}
}

// isTransient decides whether a failed attempt is worth repeating.
func isTransient(ctx context.Context, err error, resp *http.Response) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		// Transport errors and header timeouts. The attempt deadline
		// never cancels ctx itself.
		return !errors.Is(err, context.Canceled)
	}
	return resp != nil && isTransientStatus(resp.StatusCode)
}

func isTransientStatus(code int) bool {
	return code >= http.StatusInternalServerError
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
