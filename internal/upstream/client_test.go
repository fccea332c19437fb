package upstream_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/auth"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/upstream"
)

func testBroker(t *testing.T) *auth.Broker {
	t.Helper()
	return auth.NewBroker(t.TempDir()+"/cache.json", func(ctx context.Context) (auth.Token, error) {
		return auth.Token{Value: "test-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}, zap.NewNop())
}

func TestSearchAggregate_ValidatesInput(t *testing.T) {
	c := upstream.NewClient("http://unused", testBroker(t), zap.NewNop())
	_, err := c.SearchAggregate(context.Background(), "", 1, 10)
	require.Error(t, err)

	_, err = c.SearchAggregate(context.Background(), "x", 0, 10)
	require.Error(t, err)

	_, err = c.SearchAggregate(context.Background(), "x", 1, 500)
	require.Error(t, err)
}

func TestSearchAggregate_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"data": []map[string]interface{}{
				{"name": "阿莫西林胶囊", "manufacturer": "某药厂", "supplier_count": 8},
			},
		})
	}))
	defer srv.Close()

	c := upstream.NewClient(srv.URL, testBroker(t), zap.NewNop(), upstream.WithRate(1000, 1000))
	aggs, err := c.SearchAggregate(context.Background(), "阿莫西林", 1, 100)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, "阿莫西林胶囊", aggs[0].Name)
}

func TestSearchAggregate_EscapesReservedQueryCharacters(t *testing.T) {
	const keyword = "A&B #1 100% x+y"
	var gotKeyword string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKeyword = r.URL.Query().Get("keyword")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "data": []map[string]interface{}{}})
	}))
	defer srv.Close()

	c := upstream.NewClient(srv.URL, testBroker(t), zap.NewNop(), upstream.WithRate(1000, 1000))
	_, err := c.SearchAggregate(context.Background(), keyword, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, keyword, gotKeyword, "reserved query characters must round-trip through escaping")
}

func TestDoCall_ReauthenticatesOnceOn401(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "data": []map[string]interface{}{}})
	}))
	defer srv.Close()

	c := upstream.NewClient(srv.URL, testBroker(t), zap.NewNop(), upstream.WithRate(1000, 1000))
	_, err := c.FacetSuppliers(context.Background(), "keyword")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestDoCall_NonRetryable4xxSurfacesUpstreamClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad keyword"}`))
	}))
	defer srv.Close()

	c := upstream.NewClient(srv.URL, testBroker(t), zap.NewNop(), upstream.WithRate(1000, 1000))
	_, err := c.FacetSuppliers(context.Background(), "keyword")
	require.Error(t, err)
}

func TestDoCall_NonSuccessEnvelopeSurfacesProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "error", "code": "E001", "message": "keyword blocked",
		})
	}))
	defer srv.Close()

	c := upstream.NewClient(srv.URL, testBroker(t), zap.NewNop(), upstream.WithRate(1000, 1000))
	_, err := c.FacetSuppliers(context.Background(), "keyword")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyword blocked")
}
