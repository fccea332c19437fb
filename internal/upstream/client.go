// Package upstream provides typed wrappers over the third-party wholesale
// marketplace's known JSON endpoints, with retry/backoff, a per-host token
// bucket, and transparent reauthentication on 401/403.
//
// The request/response plumbing (newRequest/doJSON helpers, header
// injection, error wrapping) follows the discovery-service scanner
// client's shape; retry and rate limiting are new, grounded on the
// pack's promoted indirect dependencies (cenkalti/backoff, golang.org/x/time).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/auth"
)

// Client issues authenticated HTTP calls to the three known upstream
// endpoints (SearchAggregate, FacetSuppliers, SupplierHotList).
type Client struct {
	baseURL    string
	httpClient *http.Client
	broker     *auth.Broker
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithRate overrides the default 5 rps / burst 5 per-host token bucket.
func WithRate(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient constructs a ready-to-use Client.
func NewClient(baseURL string, broker *auth.Broker, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		broker:     broker,
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchAggregate returns aggregate rows for a keyword: min/max price and
// supplier count, with no per-supplier prices.
func (c *Client) SearchAggregate(ctx context.Context, keyword string, page, pageSize int) ([]DrugAgg, error) {
	if err := validatePaging(keyword, page, pageSize); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/api/search/aggregate?keyword=%s&page=%d&page_size=%d", url.QueryEscape(keyword), page, pageSize)

	var out []DrugAgg
	if err := c.doCall(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FacetSuppliers returns up to ~1000 suppliers for a keyword, without prices.
func (c *Client) FacetSuppliers(ctx context.Context, keyword string) ([]Supplier, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, apperr.InvalidInput("keyword must not be empty")
	}
	path := fmt.Sprintf("/api/search/facets?keyword=%s", url.QueryEscape(keyword))

	var out []Supplier
	if err := c.doCall(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SupplierHotList returns a supplier's hot offers with prices.
func (c *Client) SupplierHotList(ctx context.Context, supplierID string, page, pageSize int) ([]Offer, error) {
	if err := validatePaging(supplierID, page, pageSize); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/api/suppliers/%s/hotlist?page=%d&page_size=%d", url.QueryEscape(supplierID), page, pageSize)

	var out []Offer
	if err := c.doCall(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func validatePaging(keyword string, page, pageSize int) error {
	if strings.TrimSpace(keyword) == "" {
		return apperr.InvalidInput("keyword must not be empty")
	}
	if page < 1 {
		return apperr.InvalidInput("page must be >= 1")
	}
	if pageSize < 1 || pageSize > 200 {
		return apperr.InvalidInput("page_size must be in [1, 200]")
	}
	return nil
}

// doCall executes one upstream call with rate limiting, retry/backoff, and
// transparent single reauthentication on 401/403, then unwraps the
// status/data envelope into dest.
func (c *Client) doCall(ctx context.Context, method, path string, body interface{}, dest interface{}) error {
	reauthed := false

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(apperr.Cancelled())
		}

		tok, err := c.broker.Get(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		req, err := c.newRequest(ctx, method, path, tok.Value, body)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // network error: retryable
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			if reauthed {
				return backoff.Permanent(apperr.Auth("reauthentication did not resolve 401/403"))
			}
			reauthed = true
			c.broker.Invalidate()
			return fmt.Errorf("upstream returned %d, reauthenticating", resp.StatusCode)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			return backoff.Permanent(apperr.RateLimited(retryAfter))
		}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			excerpt := string(raw)
			if len(excerpt) > 256 {
				excerpt = excerpt[:256]
			}
			return backoff.Permanent(apperr.UpstreamClient(resp.StatusCode, excerpt))
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("upstream returned %d", resp.StatusCode)
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return backoff.Permanent(fmt.Errorf("unmarshal envelope: %w", err))
		}
		if env.Status != "" && env.Status != "ok" && env.Status != "success" {
			return backoff.Permanent(apperr.UpstreamProtocol(env.Code, env.Message))
		}

		if dest != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, dest); err != nil {
				return backoff.Permanent(fmt.Errorf("unmarshal data: %w", err))
			}
		}
		return nil
	}

	policy := backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(time.Second),
			backoff.WithMultiplier(2),
			backoff.WithMaxInterval(4*time.Second),
		),
		2, // up to 3 total attempts
	)

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body interface{}) (*http.Request, error) {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("upstream client: marshal request body: %w", err)
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return nil, fmt.Errorf("upstream client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 1
	}
	n, err := strconv.Atoi(header)
	if err != nil || n < 0 {
		return 1
	}
	return n
}
