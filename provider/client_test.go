package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/go-authgate/authsession/retrier"
)

func newTestClient(serverURL string) *Client {
	exec := retrier.New(retrier.Policy{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, AttemptTimeout: time.Second})
	return NewClient(Endpoints{
		BaseURL:     serverURL + "/",
		LoginPath:   "/auth/login",
		RefreshPath: "/auth/refresh",
	}, exec, 3)
}

func TestLogin_CachesProfileWithoutTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ada@example.com", req["email"])
		assert.Equal(t, "correct-horse", req["password"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access":"access-token-123","refresh":"refresh-token-456","email":"ada@example.com","role":"admin"}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Login(context.Background(), "ada@example.com", "correct-horse")
	require.NoError(t, err)

	assert.Equal(t, "access-token-123", result.AccessToken)
	assert.Equal(t, "refresh-token-456", result.RefreshToken)
	assert.JSONEq(t, `{"email":"ada@example.com","role":"admin"}`, string(result.Profile))
}

func TestLogin_RejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"No active account found with the given credentials"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Login(context.Background(), "ada@example.com", "wrong")
	require.Error(t, err)

	var retrieveErr *oauth2.RetrieveError
	require.True(t, errors.As(err, &retrieveErr))
	assert.Equal(t, http.StatusUnauthorized, retrieveErr.Response.StatusCode)
	assert.Equal(t, "No active account found with the given credentials", retrieveErr.ErrorDescription)
}

func TestRefresh_RotationModes(t *testing.T) {
	tests := []struct {
		name        string
		response    map[string]any
		wantRefresh string
	}{
		{
			name:        "provider rotates refresh token",
			response:    map[string]any{"access": "new-access-token", "refresh": "new-refresh-token"},
			wantRefresh: "new-refresh-token",
		},
		{
			name:        "provider keeps refresh token",
			response:    map[string]any{"access": "new-access-token"},
			wantRefresh: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "old-refresh-token", req["refresh"])
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			tokens, err := newTestClient(server.URL).Refresh(context.Background(), "old-refresh-token")
			require.NoError(t, err)
			assert.Equal(t, "new-access-token", tokens.AccessToken)
			assert.Equal(t, tt.wantRefresh, tokens.RefreshToken)
		})
	}
}

func TestRefresh_Rejection(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token is blacklisted"}`))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Refresh(context.Background(), "revoked")
			assert.ErrorIs(t, err, ErrRefreshRejected)
			assert.EqualValues(t, 1, calls.Load(), "rejections are not retried")
		})
	}
}

func TestRefresh_ServerErrorsExhaustRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Refresh(context.Background(), "refresh")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRefreshRejected)
	assert.ErrorIs(t, err, retrier.ErrTransient)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRefresh_ValidatesResponse(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		errContains string
	}{
		{name: "empty access", body: `{"access":""}`, errContains: "access is empty"},
		{name: "short access", body: `{"access":"short"}`, errContains: "access is too short"},
		{name: "not json", body: `<html>`, errContains: "failed to parse refresh response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Refresh(context.Background(), "refresh")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}
