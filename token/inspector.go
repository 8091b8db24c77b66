// Package token decodes access tokens and classifies how usable they are.
//
// Classification never touches the network: it only reads the expiry claim
// from the token's payload segment and compares it with the local clock.
// Signatures are not verified here; the provider does that on every request.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed indicates the token could not be decoded or has no expiry claim.
var ErrMalformed = errors.New("malformed credential")

// Status is the usability of an access token at a point in time.
type Status int

const (
	Valid Status = iota
	ExpiringSoon
	Expired
	Malformed
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case ExpiringSoon:
		return "expiring_soon"
	case Expired:
		return "expired"
	default:
		return "malformed"
	}
}

// Usable reports whether a request may still be sent with the token.
func (s Status) Usable() bool {
	return s == Valid || s == ExpiringSoon
}

// Claims is the decoded view of an access token.
type Claims struct {
	ExpiresAt time.Time
	Subject   string
}

// Inspector classifies tokens against a renewal threshold.
type Inspector struct {
	threshold time.Duration
	now       func() time.Time
	parser    *jwt.Parser
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithClock overrides the clock used for classification.
func WithClock(now func() time.Time) Option {
	return func(i *Inspector) {
		i.now = now
	}
}

// NewInspector returns an Inspector that reports ExpiringSoon when less than
// threshold remains before expiry.
func NewInspector(threshold time.Duration, opts ...Option) *Inspector {
	i := &Inspector{
		threshold: max(threshold, 0),
		now:       time.Now,
		parser:    jwt.NewParser(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Threshold returns the configured renewal window.
func (i *Inspector) Threshold() time.Duration {
	return i.threshold
}

// Decode reads the expiry and subject claims without verifying the signature.
func (i *Inspector) Decode(raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	var registered jwt.RegisteredClaims
	if _, _, err := i.parser.ParseUnverified(raw, &registered); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if registered.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing exp claim", ErrMalformed)
	}

	return Claims{
		ExpiresAt: registered.ExpiresAt.Time,
		Subject:   registered.Subject,
	}, nil
}

// Classify returns the token's status relative to the current time.
func (i *Inspector) Classify(raw string) Status {
	claims, err := i.Decode(raw)
	if err != nil {
		return Malformed
	}
	return i.classifyAt(claims.ExpiresAt, i.now())
}

func (i *Inspector) classifyAt(expiresAt, now time.Time) Status {
	if !now.Before(expiresAt) {
		return Expired
	}
	if expiresAt.Sub(now) < i.threshold {
		return ExpiringSoon
	}
	return Valid
}
