// Package session is the authenticated request pipeline.
//
// Client.Send is the entry point for application code. It makes sure a
// usable access token is attached to every request, renews it through the
// refresh coordinator when it has expired, and recovers from a single 401 by
// refreshing and retrying once. Anything it cannot recover from surfaces as
// an *AuthenticationRequiredError (session cleared) or a *retrier.NetworkError
// (transient failures exhausted).
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-authgate/authsession/credential"
	"github.com/go-authgate/authsession/provider"
	"github.com/go-authgate/authsession/token"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// requestState tracks one logical request for logging.
type requestState string

const (
	statePreparing    requestState = "preparing"
	stateSending      requestState = "sending"
	stateAuthRejected requestState = "auth_rejected"
	stateRefreshing   requestState = "refreshing"
	stateRetrying     requestState = "retrying"
	stateSuccess      requestState = "success"
	stateFailed       requestState = "failed"
)

// Request is an outbound call relative to the backend base URL.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Refresher renews the stored credentials.
type Refresher interface {
	Refresh(ctx context.Context) bool
}

// Executor sends a request with bounded retries.
type Executor interface {
	Execute(ctx context.Context, req *http.Request, maxAttempts int) (*http.Response, error)
}

// Authenticator performs the password login exchange.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*provider.LoginResult, error)
}

// Config holds the pipeline settings.
type Config struct {
	BaseURL     string
	ProfilePath string
	MaxAttempts int
}

// Deps are the collaborators a Client drives. Store and Refresher must share
// the same credentials.
type Deps struct {
	Store         *credential.Store
	Inspector     *token.Inspector
	Refresher     Refresher
	Executor      Executor
	Authenticator Authenticator
}

// Client sends authenticated requests on behalf of one session.
type Client struct {
	cfg      Config
	deps     Deps
	log      zerolog.Logger
	observer Observer

	background sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the pipeline logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithObserver registers progress callbacks.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// New returns a Client.
func New(cfg Config, deps Deps, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	c := &Client{
		cfg:      cfg,
		deps:     deps,
		log:      zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send executes r with the session's credentials. The caller owns the
// returned response body.
func (c *Client) Send(ctx context.Context, r Request) (*http.Response, error) {
	requestID := uuid.NewString()
	log := c.log.With().
		Str("request_id", requestID).
		Str("method", r.Method).
		Str("path", r.Path).
		Logger()
	trace := func(s requestState) {
		log.Debug().Str("state", string(s)).Msg("request state")
	}

	trace(statePreparing)
	accessToken, err := c.usableToken(ctx, log)
	if err != nil {
		trace(stateFailed)
		return nil, err
	}

	trace(stateSending)
	resp, err := c.dispatch(ctx, r, accessToken, requestID)
	if err != nil {
		trace(stateFailed)
		c.observer.APICallFailed(err)
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		trace(stateSuccess)
		c.observer.APICallOK()
		return resp, nil
	}
	drain(resp)

	trace(stateAuthRejected)
	c.observer.AccessTokenRejected()

	trace(stateRefreshing)
	if !c.renewAfterRejection(ctx, accessToken) {
		trace(stateFailed)
		return nil, c.refreshFailure(ctx, log, fmt.Errorf("%w: %w", ErrAuthorizationRejected, ErrRefreshFailed))
	}
	accessToken, ok := c.deps.Store.Access(ctx)
	if !ok {
		trace(stateFailed)
		return nil, c.refreshFailure(ctx, log, ErrNoSession)
	}

	trace(stateRetrying)
	c.observer.TokenRefreshedRetrying()
	resp, err = c.dispatch(ctx, r, accessToken, requestID)
	if err != nil {
		trace(stateFailed)
		c.observer.APICallFailed(err)
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		trace(stateFailed)
		return nil, c.requireAuthentication(ctx, log, fmt.Errorf("%w after refresh", ErrAuthorizationRejected))
	}

	trace(stateSuccess)
	c.observer.APICallOK()
	return resp, nil
}

// Wait blocks until background refreshes started by Send have settled.
func (c *Client) Wait() {
	c.background.Wait()
}

// usableToken returns an access token that may be sent now, refreshing
// first when the stored one is absent, expired or undecodable.
func (c *Client) usableToken(ctx context.Context, log zerolog.Logger) (string, error) {
	accessToken, ok := c.deps.Store.Access(ctx)
	status := token.Malformed
	if ok {
		status = c.deps.Inspector.Classify(accessToken)
	}

	switch status {
	case token.Valid:
		c.observer.TokenValid()
		return accessToken, nil

	case token.ExpiringSoon:
		c.observer.TokenExpiringSoon()
		c.refreshInBackground(ctx)
		return accessToken, nil
	}

	cause := ErrNoSession
	if ok {
		c.observer.TokenExpired()
		cause = fmt.Errorf("access token %s", status)
	}
	log.Debug().Str("token_status", status.String()).Bool("present", ok).Msg("refresh required before sending")

	if !c.deps.Refresher.Refresh(ctx) {
		return "", c.refreshFailure(ctx, log, fmt.Errorf("%w: %w", ErrRefreshFailed, cause))
	}
	accessToken, ok = c.deps.Store.Access(ctx)
	if !ok {
		return "", c.refreshFailure(ctx, log, ErrNoSession)
	}
	return accessToken, nil
}

// refreshInBackground renews a token that still works without holding up
// the current request.
func (c *Client) refreshInBackground(ctx context.Context) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.deps.Refresher.Refresh(context.WithoutCancel(ctx))
	}()
}

// renewAfterRejection gets new credentials after a 401 on usedToken. If
// another request already rotated the stored token, that token is used
// instead of starting a second refresh.
func (c *Client) renewAfterRejection(ctx context.Context, usedToken string) bool {
	if current, ok := c.deps.Store.Access(ctx); ok && current != usedToken {
		return true
	}
	return c.deps.Refresher.Refresh(ctx)
}

// refreshFailure reports a refresh that produced no usable token. A caller
// that stopped waiting gets its context error and the session is kept.
func (c *Client) refreshFailure(ctx context.Context, log zerolog.Logger, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Debug().Err(ctxErr).Msg("canceled while waiting for token refresh")
		return fmt.Errorf("canceled while waiting for token refresh: %w", ctxErr)
	}
	return c.requireAuthentication(ctx, log, cause)
}

// requireAuthentication clears the session and wraps cause.
func (c *Client) requireAuthentication(ctx context.Context, log zerolog.Logger, cause error) error {
	if err := c.deps.Store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("failed to clear session")
	}
	log.Warn().Err(cause).Msg("authentication required")
	c.observer.ReAuthRequired()
	return &AuthenticationRequiredError{Cause: cause}
}

func (c *Client) dispatch(ctx context.Context, r Request, accessToken, requestID string) (*http.Response, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+r.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set(RequestIDHeader, requestID)

	return c.deps.Executor.Execute(ctx, req, c.cfg.MaxAttempts)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
