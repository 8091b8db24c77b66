// Package refresh renews the session's access token.
//
// A Coordinator allows at most one refresh exchange in flight. Callers that
// ask for a refresh while one is running attach to it and receive the same
// outcome; once it settles the next request starts a fresh exchange. The
// exchange runs detached from the caller that started it, so a caller giving
// up never cancels a refresh other callers are waiting on.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/authsession/credential"
	"github.com/go-authgate/authsession/provider"
)

// ErrNoRefreshToken indicates there is nothing to exchange.
var ErrNoRefreshToken = errors.New("no refresh token stored")

const flightKey = "refresh"

// State is the coordinator's refresh state.
type State int32

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// Exchanger trades a refresh token for new tokens.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (provider.Tokens, error)
}

// Observer is notified about refresh progress.
type Observer interface {
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
}

type nopObserver struct{}

func (nopObserver) Refreshing()           {}
func (nopObserver) RefreshOK()            {}
func (nopObserver) RefreshFailed(_ error) {}

// Coordinator deduplicates refresh exchanges for one credential store.
type Coordinator struct {
	store     *credential.Store
	exchanger Exchanger
	timeout   time.Duration
	log       zerolog.Logger
	observer  Observer

	group     singleflight.Group
	state     atomic.Int32
	exchanges atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithObserver registers progress callbacks.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewCoordinator returns a Coordinator whose exchanges are bounded by timeout.
func NewCoordinator(store *credential.Store, exchanger Exchanger, timeout time.Duration, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		exchanger: exchanger,
		timeout:   timeout,
		log:       zerolog.Nop(),
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports whether an exchange is in flight.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Exchanges returns how many exchanges this coordinator has started.
func (c *Coordinator) Exchanges() int64 {
	return c.exchanges.Load()
}

// Refresh renews the access token, joining any exchange already in flight.
// It reports whether the store now holds a fresh pair. If ctx ends first the
// caller stops waiting and gets false; the exchange itself carries on.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	ch := c.group.DoChan(flightKey, func() (any, error) {
		// Detached from ctx: other callers may depend on this outcome.
		return nil, c.exchange(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err == nil
	case <-ctx.Done():
		c.log.Debug().Err(ctx.Err()).Msg("stopped waiting for refresh")
		return false
	}
}

// exchange runs one refresh and settles the store either way.
func (c *Coordinator) exchange(ctx context.Context) (err error) {
	c.state.Store(int32(Refreshing))
	c.exchanges.Add(1)
	c.observer.Refreshing()
	start := time.Now()

	defer func() {
		c.state.Store(int32(Idle))
		if err != nil {
			if clearErr := c.store.Clear(ctx); clearErr != nil {
				c.log.Error().Err(clearErr).Msg("failed to clear session after refresh failure")
			}
			c.log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("token refresh failed, session cleared")
			c.observer.RefreshFailed(err)
			return
		}
		c.log.Info().Dur("elapsed", time.Since(start)).Msg("token refreshed")
		c.observer.RefreshOK()
	}()

	// Settling must not use exchangeCtx: it may already be expired.
	exchangeCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		exchangeCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	refreshToken, ok := c.store.Refresh(exchangeCtx)
	if !ok {
		return ErrNoRefreshToken
	}

	tokens, err := c.exchanger.Refresh(exchangeCtx, refreshToken)
	if err != nil {
		return err
	}

	// Fixed mode: the provider did not rotate, keep the current refresh token.
	newRefresh := tokens.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	if err := c.store.Save(exchangeCtx, tokens.AccessToken, newRefresh); err != nil {
		return fmt.Errorf("failed to save refreshed tokens: %w", err)
	}
	return nil
}
