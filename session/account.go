package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/go-authgate/authsession/provider"
	"github.com/go-authgate/authsession/token"
)

// Login exchanges credentials for a token pair, replacing any existing
// session. The profile returned by the provider is cached alongside.
func (c *Client) Login(ctx context.Context, email, password string) (*provider.LoginResult, error) {
	if c.deps.Authenticator == nil {
		return nil, errors.New("login is not configured")
	}

	result, err := c.deps.Authenticator.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.deps.Store.Save(ctx, result.AccessToken, result.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if len(result.Profile) > 0 {
		if err := c.deps.Store.SaveProfile(ctx, result.Profile); err != nil {
			c.log.Warn().Err(err).Msg("failed to cache profile")
		}
	}

	c.log.Info().Msg("logged in")
	return result, nil
}

// Logout discards the session. It does not contact the backend.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.deps.Store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	c.log.Info().Msg("logged out")
	return nil
}

// CachedProfile returns the profile stored at login or by the last
// CurrentProfile call. It is informational and may be stale.
func (c *Client) CachedProfile(ctx context.Context) (json.RawMessage, bool) {
	return c.deps.Store.Profile(ctx)
}

// CurrentProfile fetches the profile from the backend and refreshes the
// cached copy.
func (c *Client) CurrentProfile(ctx context.Context) (json.RawMessage, error) {
	if c.cfg.ProfilePath == "" {
		return nil, errors.New("profile path is not configured")
	}

	resp, err := c.Send(ctx, Request{
		Method: http.MethodGet,
		Path:   c.cfg.ProfilePath,
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request failed with status %d", resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, errors.New("profile response is not valid JSON")
	}

	profile := json.RawMessage(body)
	if err := c.deps.Store.SaveProfile(ctx, profile); err != nil {
		c.log.Warn().Err(err).Msg("failed to cache profile")
	}
	return profile, nil
}

// Status reports the classification of the stored access token.
func (c *Client) Status(ctx context.Context) (token.Status, token.Claims, bool) {
	accessToken, ok := c.deps.Store.Access(ctx)
	if !ok {
		return token.Malformed, token.Claims{}, false
	}
	claims, err := c.deps.Inspector.Decode(accessToken)
	if err != nil {
		return token.Malformed, token.Claims{}, true
	}
	return c.deps.Inspector.Classify(accessToken), claims, true
}

// TokenSource adapts the session to oauth2.TokenSource so that
// oauth2.NewClient and other consumers of that interface send the session's
// token. Each Token call goes through the same expiry handling as Send.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, client: c}
}

type tokenSource struct {
	ctx    context.Context
	client *Client
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	c := ts.client
	accessToken, err := c.usableToken(ts.ctx, c.log)
	if err != nil {
		return nil, err
	}

	t := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	if claims, err := c.deps.Inspector.Decode(accessToken); err == nil {
		t.Expiry = claims.ExpiresAt
	}
	return t, nil
}
