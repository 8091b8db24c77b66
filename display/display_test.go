package display

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-authgate/authsession/token"
)

var (
	_ Displayer = (*PlainDisplayer)(nil)
	_ Displayer = NoopDisplayer{}
)

func TestPlainDisplayer_Events(t *testing.T) {
	tests := []struct {
		name string
		emit func(d *PlainDisplayer)
		want string
	}{
		{"valid", func(d *PlainDisplayer) { d.TokenValid() }, "Access token is still valid, using it...\n"},
		{"expired", func(d *PlainDisplayer) { d.TokenExpired() }, "Access token expired, refreshing...\n"},
		{"rejected", func(d *PlainDisplayer) { d.AccessTokenRejected() }, "Access token rejected (401), refreshing...\n"},
		{"refresh failed", func(d *PlainDisplayer) { d.RefreshFailed(errors.New("boom")) }, "Refresh failed: boom\n"},
		{"api failed", func(d *PlainDisplayer) { d.APICallFailed(errors.New("timeout")) }, "API call failed: timeout\n"},
		{"login with email", func(d *PlainDisplayer) { d.LoggedIn("ada@example.com") }, "Logged in as ada@example.com.\n"},
		{"login without email", func(d *PlainDisplayer) { d.LoggedIn("") }, "Logged in.\n"},
		{"response", func(d *PlainDisplayer) { d.Response(200, 11) }, "HTTP 200 (11 bytes)\n"},
		{"fatal", func(d *PlainDisplayer) { d.Fatal(errors.New("bad config")) }, "Error: bad config\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.emit(NewPlainDisplayer(&buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPlainDisplayer_SessionStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var buf bytes.Buffer
	d := NewPlainDisplayer(&buf)
	d.now = func() time.Time { return now }

	d.SessionStatus(token.ExpiringSoon, token.Claims{
		Subject:   "user-42",
		ExpiresAt: now.Add(90 * time.Second),
	}, "eyJhbGciOiJI")

	out := buf.String()
	assert.Contains(t, out, "Access Token: eyJhbGciOiJI...\n")
	assert.Contains(t, out, "Status: "+token.ExpiringSoon.String()+"\n")
	assert.Contains(t, out, "Subject: user-42\n")
	assert.Contains(t, out, "Expires In: 1m30s\n")

	buf.Reset()
	d.SessionStatus(token.Expired, token.Claims{ExpiresAt: now.Add(-time.Hour)}, "abc")
	assert.Contains(t, buf.String(), "Expires In: 0s\n")
	assert.NotContains(t, buf.String(), "Subject:")
}

func TestPlainDisplayer_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	d := NewPlainDisplayer(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.RefreshOK()
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 20)
	for _, line := range lines {
		assert.Equal(t, "Token refreshed successfully!", line)
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "eyJhbGciOiJI", Preview("eyJhbGciOiJIUzI1NiJ9.payload.sig"))
	assert.Equal(t, "short", Preview("shorttoken"))
	assert.Equal(t, "", Preview(""))
}
