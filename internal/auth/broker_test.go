package auth_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/auth"
)

func TestBroker_RefreshesWhenCacheEmpty(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	login := func(ctx context.Context) (auth.Token, error) {
		atomic.AddInt32(&calls, 1)
		return auth.Token{Value: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	b := auth.NewBroker(filepath.Join(dir, "cache.json"), login, zap.NewNop())
	tok, err := b.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestBroker_ReturnsCachedTokenWithoutRefresh(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	login := func(ctx context.Context) (auth.Token, error) {
		atomic.AddInt32(&calls, 1)
		return auth.Token{Value: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	b := auth.NewBroker(filepath.Join(dir, "cache.json"), login, zap.NewNop())
	_, err := b.Get(context.Background())
	require.NoError(t, err)
	_, err = b.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestBroker_InvalidateForcesRefresh(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	login := func(ctx context.Context) (auth.Token, error) {
		atomic.AddInt32(&calls, 1)
		return auth.Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	b := auth.NewBroker(filepath.Join(dir, "cache.json"), login, zap.NewNop())
	_, err := b.Get(context.Background())
	require.NoError(t, err)
	b.Invalidate()
	_, err = b.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestBroker_ConcurrentRefreshesCollapseToOneLogin(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	login := func(ctx context.Context) (auth.Token, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return auth.Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	b := auth.NewBroker(filepath.Join(dir, "cache.json"), login, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Get(context.Background())
		}()
	}

	<-started
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestBroker_LoginFailureSurfacesAuthError(t *testing.T) {
	dir := t.TempDir()
	login := func(ctx context.Context) (auth.Token, error) {
		return auth.Token{}, assertErr{}
	}
	b := auth.NewBroker(filepath.Join(dir, "cache.json"), login, zap.NewNop())
	_, err := b.Get(context.Background())
	require.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "credentials rejected" }
