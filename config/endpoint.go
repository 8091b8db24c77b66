package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoEndpoint is returned when no candidate serves the environment.
var ErrNoEndpoint = errors.New("no endpoint configured for environment")

// EndpointCandidate is one entry of the endpoint table. An empty
// Environment matches any environment.
type EndpointCandidate struct {
	Environment string `yaml:"environment"`
	BaseURL     string `yaml:"base_url"`
	LoginPath   string `yaml:"login_path"`
	RefreshPath string `yaml:"refresh_path"`
	ProfilePath string `yaml:"profile_path"`
}

// EndpointConfig is the resolved backend.
type EndpointConfig struct {
	Environment string
	BaseURL     string
	LoginPath   string
	RefreshPath string
	ProfilePath string
}

// Insecure reports whether tokens would travel over plain HTTP.
func (e EndpointConfig) Insecure() bool {
	return strings.HasPrefix(strings.ToLower(e.BaseURL), "http://")
}

// Resolve returns the first candidate, in order, whose environment matches
// and whose base URL is valid. Missing paths fall back to the defaults.
func Resolve(candidates []EndpointCandidate, environment string) (EndpointConfig, error) {
	var invalid []error
	for i, c := range candidates {
		if c.Environment != "" && !strings.EqualFold(c.Environment, environment) {
			continue
		}
		if err := validateServerURL(c.BaseURL); err != nil {
			invalid = append(invalid, fmt.Errorf("endpoint %d (%q): %w", i, c.BaseURL, err))
			continue
		}
		return EndpointConfig{
			Environment: environment,
			BaseURL:     strings.TrimRight(c.BaseURL, "/"),
			LoginPath:   pick(c.LoginPath, DefaultLoginPath),
			RefreshPath: pick(c.RefreshPath, DefaultRefreshPath),
			ProfilePath: pick(c.ProfilePath, DefaultProfilePath),
		}, nil
	}

	err := fmt.Errorf("%w %q", ErrNoEndpoint, environment)
	if len(invalid) > 0 {
		return EndpointConfig{}, errors.Join(append([]error{err}, invalid...)...)
	}
	return EndpointConfig{}, err
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}
