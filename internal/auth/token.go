package auth

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/config"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/metrics"
)

// maxAttempts bounds token requests per acquisition: one refresh grant plus one password grant
const maxAttempts = 2

// maxExpiresIn is the largest expires_in, in seconds, that fits a time.Duration
const maxExpiresIn = float64(math.MaxInt64 / int64(time.Second))

// Grant types sent to the token endpoint
const (
	GrantPassword     = "password"
	GrantRefreshToken = "refresh_token"
)

// Credential is the cached Trap.NZ API credential
type Credential struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is zero when the token carries no known expiry
	ExpiresAt time.Time
}

// expired reports whether the access token expiry has passed
func (c Credential) expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// TokenManager owns the access token used for Trap.NZ API calls.
//
// Acquisition is single-flight: concurrent callers that find no valid token
// share one request to the token endpoint.
type TokenManager struct {
	static     string
	oauth      *oauth2.Config
	username   string
	password   string
	httpClient *http.Client
	now        func() time.Time

	mu    sync.Mutex
	cred  Credential
	group singleflight.Group
}

// Option configures a TokenManager
type Option func(*TokenManager)

// WithHTTPClient sets the client used for token requests
func WithHTTPClient(c *http.Client) Option {
	return func(m *TokenManager) {
		m.httpClient = c
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) {
		m.now = now
	}
}

// NewTokenManager creates a token manager for the configured Trap.NZ API
func NewTokenManager(cfg *config.TrapNZConfig, opts ...Option) *TokenManager {
	m := &TokenManager{
		static:   cfg.Auth.Authorization,
		username: cfg.Auth.Username,
		password: cfg.Auth.Password,
		oauth: &oauth2.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(cfg.BaseURL, "/") + cfg.TokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Authorization returns the Authorization header value for an API call.
//
// With a static authorization configured it is returned verbatim. Otherwise a
// cached bearer token is used, acquiring a new one when none is valid. When
// acquisition fails the result is "Bearer " with no token; this is never an error.
func (m *TokenManager) Authorization(ctx context.Context) string {
	if m.static != "" {
		return m.static
	}

	m.mu.Lock()
	if m.cred.expired(m.now()) {
		m.cred.AccessToken = ""
		m.cred.ExpiresAt = time.Time{}
	}
	token := m.cred.AccessToken
	m.mu.Unlock()

	if token == "" {
		// The flight is shared by every waiter and ignores caller cancellation,
		// the HTTP client timeout bounds it
		flightCtx := context.WithoutCancel(ctx)
		ch := m.group.DoChan("token", func() (interface{}, error) {
			return m.acquire(flightCtx), nil
		})
		select {
		case res := <-ch:
			token = res.Val.(string)
		case <-ctx.Done():
			zerolog.Ctx(ctx).Warn().Err(ctx.Err()).Msg("Gave up waiting for access token")
		}
	}

	return "Bearer " + token
}

// Invalidate drops the cached access token so the next call acquires a new one
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cred.AccessToken = ""
	m.cred.ExpiresAt = time.Time{}
}

// Credential returns a copy of the cached credential
func (m *TokenManager) Credential() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cred
}

// acquire requests a new access token and returns it, or "" when every attempt failed
func (m *TokenManager) acquire(ctx context.Context) string {
	logger := zerolog.Ctx(ctx)

	m.mu.Lock()
	cached := m.cred
	m.mu.Unlock()

	// Another caller may have stored a token since we looked
	if cached.AccessToken != "" && !cached.expired(m.now()) {
		return cached.AccessToken
	}

	refreshToken := cached.RefreshToken
	for attempt := 0; attempt < maxAttempts; attempt++ {
		grant := GrantPassword
		if refreshToken != "" {
			grant = GrantRefreshToken
		}

		tok, err := m.request(ctx, refreshToken)
		if err == nil {
			metrics.TokenRequests.WithLabelValues(grant, "success").Inc()
			logger.Info().Str("grant", grant).Msg("Successfully requested access token")
			return m.store(tok)
		}

		metrics.TokenRequests.WithLabelValues(grant, "failure").Inc()
		logger.Error().Err(err).Str("grant", grant).Msg("Failed to request access token")

		if refreshToken == "" {
			break
		}

		logger.Info().Msg("Attempting to request access token again, without refresh token")
		refreshToken = ""
		m.mu.Lock()
		m.cred.RefreshToken = ""
		m.mu.Unlock()
	}

	return ""
}

// request performs a refresh grant when refreshToken is set, a password grant otherwise
func (m *TokenManager) request(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	if refreshToken != "" {
		return m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	}
	return m.oauth.PasswordCredentialsToken(ctx, m.username, m.password)
}

// store caches a freshly issued token and returns its access token
func (m *TokenManager) store(tok *oauth2.Token) string {
	now := m.now()

	cred := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if ttl, ok := expiresIn(tok); ok {
		cred.ExpiresAt = now.Add(ttl)
	} else if exp, ok := jwtExpiry(tok.AccessToken); ok {
		cred.ExpiresAt = exp
	}

	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	return cred.AccessToken
}

// expiresIn reads the raw expires_in field, which servers send as a number or a string
func expiresIn(tok *oauth2.Token) (time.Duration, bool) {
	var seconds float64
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		seconds = v
	case int64:
		seconds = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		seconds = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		seconds = f
	default:
		return 0, false
	}
	// Non-positive, non-finite or overflowing lifetimes are treated as unknown
	if !(seconds > 0 && seconds <= maxExpiresIn) {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// jwtExpiry reads the exp claim of a JWT access token without verifying it
func jwtExpiry(accessToken string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
