// Package display renders session progress for the command line.
package display

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-authgate/authsession/session"
	"github.com/go-authgate/authsession/token"
)

// Displayer is everything the CLI reports: pipeline events plus the
// command-level summaries.
type Displayer interface {
	session.Observer
	LoggedIn(email string)
	LoggedOut()
	SessionStatus(status token.Status, claims token.Claims, preview string)
	NoSession()
	Response(status int, size int)
	Fatal(err error)
}

// PlainDisplayer writes plain text lines to w. Background refreshes report
// from their own goroutine, so writes are serialized.
type PlainDisplayer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w, now: time.Now}
}

func (p *PlainDisplayer) println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, a...)
}

func (p *PlainDisplayer) printf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, a...)
}

func (p *PlainDisplayer) TokenValid() {
	p.println("Access token is still valid, using it...")
}

func (p *PlainDisplayer) TokenExpiringSoon() {
	p.println("Access token expires soon, refreshing in the background...")
}

func (p *PlainDisplayer) TokenExpired() {
	p.println("Access token expired, refreshing...")
}

func (p *PlainDisplayer) Refreshing() {
	p.println("Refreshing access token...")
}

func (p *PlainDisplayer) RefreshOK() {
	p.println("Token refreshed successfully!")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	p.printf("Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) AccessTokenRejected() {
	p.println("Access token rejected (401), refreshing...")
}

func (p *PlainDisplayer) TokenRefreshedRetrying() {
	p.println("Token refreshed, retrying API call...")
}

func (p *PlainDisplayer) ReAuthRequired() {
	p.println("Session ended, please log in again.")
}

func (p *PlainDisplayer) APICallOK() {
	p.println("API call successful!")
}

func (p *PlainDisplayer) APICallFailed(err error) {
	p.printf("API call failed: %v\n", err)
}

func (p *PlainDisplayer) LoggedIn(email string) {
	if email == "" {
		p.println("Logged in.")
		return
	}
	p.printf("Logged in as %s.\n", email)
}

func (p *PlainDisplayer) LoggedOut() {
	p.println("Logged out, stored credentials removed.")
}

func (p *PlainDisplayer) NoSession() {
	p.println("No session found. Run the login command first.")
}

func (p *PlainDisplayer) SessionStatus(status token.Status, claims token.Claims, preview string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, "========================================")
	fmt.Fprintf(p.w, "Access Token: %s...\n", preview)
	fmt.Fprintf(p.w, "Status: %s\n", status)
	if claims.Subject != "" {
		fmt.Fprintf(p.w, "Subject: %s\n", claims.Subject)
	}
	if !claims.ExpiresAt.IsZero() {
		remaining := claims.ExpiresAt.Sub(p.now()).Round(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintf(p.w, "Expires In: %s\n", remaining)
	}
	fmt.Fprintln(p.w, "========================================")
}

// Response summarizes a call whose body was written to stdout.
func (p *PlainDisplayer) Response(status int, size int) {
	p.printf("HTTP %d (%d bytes)\n", status, size)
}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %v\n", err)
}

// NoopDisplayer discards everything.
type NoopDisplayer struct{}

func (NoopDisplayer) TokenValid()                                            {}
func (NoopDisplayer) TokenExpiringSoon()                                     {}
func (NoopDisplayer) TokenExpired()                                          {}
func (NoopDisplayer) Refreshing()                                            {}
func (NoopDisplayer) RefreshOK()                                             {}
func (NoopDisplayer) RefreshFailed(_ error)                                  {}
func (NoopDisplayer) AccessTokenRejected()                                   {}
func (NoopDisplayer) TokenRefreshedRetrying()                                {}
func (NoopDisplayer) ReAuthRequired()                                        {}
func (NoopDisplayer) APICallOK()                                             {}
func (NoopDisplayer) APICallFailed(_ error)                                  {}
func (NoopDisplayer) LoggedIn(_ string)                                      {}
func (NoopDisplayer) LoggedOut()                                             {}
func (NoopDisplayer) NoSession()                                             {}
func (NoopDisplayer) SessionStatus(_ token.Status, _ token.Claims, _ string) {}
func (NoopDisplayer) Response(_ int, _ int)                                  {}
func (NoopDisplayer) Fatal(_ error)                                          {}

// Preview returns the first characters of a token for display. Full token
// values are never printed.
func Preview(raw string) string {
	const n = 12
	if len(raw) <= n {
		return raw[:len(raw)/2]
	}
	return raw[:n]
}
