// Package provider talks to the identity provider's login and refresh
// endpoints. It only speaks the wire contract; storing the result is the
// caller's job.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
)

// ErrRefreshRejected indicates the provider refused the refresh token. It is
// terminal: the session must re-authenticate.
var ErrRefreshRejected = errors.New("refresh token rejected")

// maxResponseBody bounds how much of a provider response is read.
const maxResponseBody = 1 << 20

// Executor sends a request with the caller's retry budget.
type Executor interface {
	Execute(ctx context.Context, req *http.Request, maxAttempts int) (*http.Response, error)
}

// Endpoints locates the provider's routes.
type Endpoints struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
}

// Tokens is a successful token response. RefreshToken is empty when the
// provider does not rotate refresh tokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult carries the issued tokens and the rest of the login response.
type LoginResult struct {
	Tokens
	Profile json.RawMessage
}

// Client calls the identity provider.
type Client struct {
	endpoints   Endpoints
	exec        Executor
	maxAttempts int
}

// NewClient returns a provider client that sends through exec.
func NewClient(endpoints Endpoints, exec Executor, maxAttempts int) *Client {
	endpoints.BaseURL = strings.TrimRight(endpoints.BaseURL, "/")
	return &Client{endpoints: endpoints, exec: exec, maxAttempts: maxAttempts}
}

// Login exchanges an email and password for a credential pair.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body, err := c.post(ctx, c.endpoints.LoginPath, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	tokens := Tokens{
		AccessToken:  gjson.GetBytes(body, "access").String(),
		RefreshToken: gjson.GetBytes(body, "refresh").String(),
	}
	if err := validateTokens(tokens.AccessToken); err != nil {
		return nil, fmt.Errorf("invalid login response: %w", err)
	}
	if tokens.RefreshToken == "" {
		return nil, errors.New("invalid login response: refresh is empty")
	}

	profile, err := stripCredentials(body)
	if err != nil {
		return nil, fmt.Errorf("invalid login response: %w", err)
	}
	return &LoginResult{Tokens: tokens, Profile: profile}, nil
}

// Refresh exchanges refreshToken for a new access token. A 400, 401 or 403
// from the provider is reported as ErrRefreshRejected.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	body, err := c.post(ctx, c.endpoints.RefreshPath, map[string]string{
		"refresh": refreshToken,
	})
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && isRejection(retrieveErr.Response.StatusCode) {
			return Tokens{}, fmt.Errorf("%w: %w", ErrRefreshRejected, err)
		}
		return Tokens{}, fmt.Errorf("refresh request failed: %w", err)
	}

	var resp struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Tokens{}, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if err := validateTokens(resp.Access); err != nil {
		return Tokens{}, fmt.Errorf("invalid refresh response: %w", err)
	}
	return Tokens{AccessToken: resp.Access, RefreshToken: resp.Refresh}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.endpoints.BaseURL+path,
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.exec.Execute(ctx, req, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newRetrieveError(resp, body)
	}
	return body, nil
}

// newRetrieveError builds the oauth2 error shape from a provider error body,
// which may use either {"error","error_description"} or {"detail"}.
func newRetrieveError(resp *http.Response, body []byte) *oauth2.RetrieveError {
	re := &oauth2.RetrieveError{Response: resp, Body: body}
	if gjson.ValidBytes(body) {
		re.ErrorCode = gjson.GetBytes(body, "error").String()
		re.ErrorDescription = gjson.GetBytes(body, "error_description").String()
		if re.ErrorDescription == "" {
			re.ErrorDescription = gjson.GetBytes(body, "detail").String()
		}
	}
	return re
}

func isRejection(status int) bool {
	return status == http.StatusBadRequest ||
		status == http.StatusUnauthorized ||
		status == http.StatusForbidden
}

// validateTokens checks the minimum shape of an issued access token.
func validateTokens(accessToken string) error {
	if accessToken == "" {
		return errors.New("access is empty")
	}
	if len(accessToken) < 10 {
		return fmt.Errorf("access is too short (length: %d)", len(accessToken))
	}
	return nil
}

// stripCredentials returns the login body without its token fields so it can
// be cached as profile data.
func stripCredentials(body []byte) (json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("body is not valid JSON")
	}
	profile := body
	for _, field := range []string{"access", "refresh"} {
		var err error
		if profile, err = sjson.DeleteBytes(profile, field); err != nil {
			return nil, fmt.Errorf("failed to strip %s: %w", field, err)
		}
	}
	return json.RawMessage(profile), nil
}
