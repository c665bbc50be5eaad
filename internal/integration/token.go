// ABOUTME: Per-credential token cache with coalesced refresh
// ABOUTME: Also parses login response bodies into tokens

package integration

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/singleflight"
)

const (
	// MaxTokenLength bounds the size of an accepted token.
	MaxTokenLength = 4096

	// DefaultLoginTimeout bounds a login shared by coalesced refreshes.
	DefaultLoginTimeout = 30 * time.Second
)

// Token is a bearer credential and the instant it stops being usable.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSink persists freshly obtained tokens, typically back to the
// credential record they were issued for.
type TokenSink func(ctx context.Context, tok Token) error

// TokenCache holds one credential's token. The value and expiry are always
// read and written together.
type TokenCache struct {
	mu           sync.RWMutex
	token        Token
	clock        func() time.Time
	sink         TokenSink
	group        singleflight.Group
	loginTimeout time.Duration
}

// NewTokenCache creates an empty cache. A nil clock uses time.Now.
func NewTokenCache(clock func() time.Time, sink TokenSink) *TokenCache {
	if clock == nil {
		clock = time.Now
	}
	return &TokenCache{clock: clock, sink: sink, loginTimeout: DefaultLoginTimeout}
}

// Set replaces the cached token.
func (c *TokenCache) Set(tok Token) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// Get returns the cached token and whether it is still valid.
func (c *TokenCache) Get() (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.validLocked()
}

// Valid reports whether a token is cached and now is strictly before its expiry.
func (c *TokenCache) Valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validLocked()
}

func (c *TokenCache) validLocked() bool {
	return c.token.Value != "" && c.clock().Before(c.token.ExpiresAt)
}

// Invalidate drops the cached token.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}

// Refresh runs login and stores its token. Concurrent callers share a single
// login call and its result. The shared login is detached from the caller
// that started it and bounded by the cache's login timeout; each caller stops
// waiting when its own ctx is done.
func (c *TokenCache) Refresh(ctx context.Context, login func(ctx context.Context) (Token, error)) (Token, error) {
	c.mu.RLock()
	timeout := c.loginTimeout
	c.mu.RUnlock()

	ch := c.group.DoChan("refresh", func() (any, error) {
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		tok, err := login(loginCtx)
		if err != nil {
			return Token{}, err
		}
		c.Set(tok)
		if c.sink != nil {
			// persistence failure leaves the in-memory token usable
			_ = c.sink(loginCtx, tok)
		}
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

// SetLoginTimeout bounds each shared login call. Non-positive values restore
// DefaultLoginTimeout.
func (c *TokenCache) SetLoginTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultLoginTimeout
	}
	c.mu.Lock()
	c.loginTimeout = d
	c.mu.Unlock()
}

// ParseToken extracts a token from a login response body. JSON bodies must be
// either an object with a "token" field or a JSON string; anything else is
// taken verbatim after trimming whitespace.
func ParseToken(client string, body []byte) (string, error) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return "", &AuthenticationError{Client: client, Reason: "empty token in login response"}
	}

	var token string
	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return "", &AuthenticationError{Client: client, Reason: "malformed login response", Err: err}
		}
		field, ok := obj["token"]
		if !ok {
			return "", &AuthenticationError{Client: client, Reason: "login response has no token field"}
		}
		if err := json.Unmarshal(field, &token); err != nil {
			return "", &AuthenticationError{Client: client, Reason: "token field is not a string", Err: err}
		}
	case '"':
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			return "", &AuthenticationError{Client: client, Reason: "malformed login response", Err: err}
		}
	default:
		token = raw
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", &AuthenticationError{Client: client, Reason: "empty token in login response"}
	}
	if !wellFormedToken(token) {
		return "", &AuthenticationError{Client: client, Reason: "login response is not a token"}
	}
	return token, nil
}

func wellFormedToken(s string) bool {
	if len(s) > MaxTokenLength {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return false
		}
		switch r {
		case '"', '\'', '{', '}', '<', '>':
			return false
		}
	}
	return true
}
