package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values that would break the poll loop are clamped to safe
// defaults. Other validation errors are logged as warnings but do not
// prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.BrokerAPIURL != "" {
		u, err := url.Parse(c.BrokerAPIURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("broker_api_url %q is not a valid URL: %w", c.BrokerAPIURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("broker_api_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.AuthToken != "" {
		for _, r := range c.AuthToken {
			if unicode.IsControl(r) {
				errs = append(errs, fmt.Errorf("auth_token contains control characters"))
				break
			}
		}
	}

	if c.PollIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("poll_interval_seconds %d is below minimum 1, clamping", c.PollIntervalSeconds))
		c.PollIntervalSeconds = 1
	} else if c.PollIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("poll_interval_seconds %d exceeds maximum 3600, clamping", c.PollIntervalSeconds))
		c.PollIntervalSeconds = 3600
	}

	if c.RequestTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("request_timeout_seconds %d is below minimum 1, clamping", c.RequestTimeoutSeconds))
		c.RequestTimeoutSeconds = 1
	} else if c.RequestTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("request_timeout_seconds %d exceeds maximum 600, clamping", c.RequestTimeoutSeconds))
		c.RequestTimeoutSeconds = 600
	}

	if c.MaxConcurrentBrokers < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_brokers %d is below minimum 1, clamping", c.MaxConcurrentBrokers))
		c.MaxConcurrentBrokers = 1
	} else if c.MaxConcurrentBrokers > 64 {
		errs = append(errs, fmt.Errorf("max_concurrent_brokers %d exceeds maximum 64, clamping", c.MaxConcurrentBrokers))
		c.MaxConcurrentBrokers = 64
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
