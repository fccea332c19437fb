// Package auth implements the credential broker (C1): it obtains, caches,
// and refreshes the session token required to call the upstream.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
)

// Token is the credential handed to the upstream client.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ObtainedAt time.Time `json:"obtained_at"`
}

func (t Token) expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// LoginFunc performs the upstream login exchange and returns a fresh token.
type LoginFunc func(ctx context.Context) (Token, error)

// Broker supplies a valid session token on demand, caching it on disk with
// atomic-replace semantics and collapsing concurrent refreshes into a
// single in-flight login per process.
type Broker struct {
	cachePath string
	login     LoginFunc
	logger    *zap.Logger

	mu    sync.RWMutex
	cached *Token

	group singleflight.Group
}

// NewBroker constructs a Broker. cachePath is the on-disk location of the
// small JSON cache record; login performs the actual upstream exchange.
func NewBroker(cachePath string, login LoginFunc, logger *zap.Logger) *Broker {
	b := &Broker{cachePath: cachePath, login: login, logger: logger}
	if tok, err := loadCache(cachePath); err == nil {
		b.cached = tok
	}
	return b
}

// Get returns a cached token if unexpired; otherwise performs a login
// exchange, persists the result, and returns it. Concurrent callers during
// a refresh all await the single in-flight result.
func (b *Broker) Get(ctx context.Context) (Token, error) {
	now := time.Now().UTC()

	b.mu.RLock()
	cached := b.cached
	b.mu.RUnlock()

	if cached != nil && !cached.expired(now) {
		return *cached, nil
	}

	result, err, _ := b.group.Do("refresh", func() (interface{}, error) {
		// Re-check under the singleflight key in case another goroutine's
		// refresh already completed while we were waiting to enter Do.
		b.mu.RLock()
		cached := b.cached
		b.mu.RUnlock()
		if cached != nil && !cached.expired(time.Now().UTC()) {
			return *cached, nil
		}

		tok, err := b.login(ctx)
		if err != nil {
			return Token{}, apperr.Auth("login exchange failed: %v", err)
		}
		tok.ObtainedAt = time.Now().UTC()

		b.mu.Lock()
		b.cached = &tok
		b.mu.Unlock()

		if err := saveCache(b.cachePath, tok); err != nil {
			b.logger.Warn("failed to persist credential cache", zap.Error(err))
		}
		return tok, nil
	})
	if err != nil {
		return Token{}, err
	}
	return result.(Token), nil
}

// Invalidate forces a refresh on the next Get call. It is invoked by the
// upstream client on 401/403 or on a recognized "token expired" payload.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.mu.Unlock()
}

func loadCache(path string) (*Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("parse credential cache: %w", err)
	}
	return &tok, nil
}

// saveCache writes the token to a temp file in the cache directory and
// renames it over the destination, giving callers atomic-replace semantics
// even if the process is killed mid-write.
func saveCache(path string, tok Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal credential cache: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".credential-cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp cache file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp cache file: %w", err)
	}
	return nil
}
