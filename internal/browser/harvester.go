// Package browser drives a headless Chrome instance to extract data no
// upstream endpoint returns directly: the full per-supplier offer list for a
// keyword, and optional detail-page fields such as approval number.
//
// The allocator-flags / navigate / settle / structured-extraction shape is
// generalized from the cookie-scanner's extractCookies implementation.
package browser

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/upstream"
)

const (
	defaultPageTimeout   = 60 * time.Second
	defaultActionTimeout = 15 * time.Second
	cardSettleWait       = 500 * time.Millisecond
)

// Options configures one harvest call.
type Options struct {
	SearchURLTemplate string // e.g. "https://upstream.example.com/search?q=%s"
	DetailURLTemplate string // e.g. "https://upstream.example.com/product/%s"
}

// Harvester owns a bounded pool of headless browser contexts: each context
// is used for exactly one keyword's work and then disposed, matching the
// "inbox channel" pool model called for in the design notes.
type Harvester struct {
	slots  chan struct{}
	logger *zap.Logger
}

// NewHarvester constructs a Harvester with at most n concurrent browser
// contexts (default 2 when n <= 0).
func NewHarvester(n int, logger *zap.Logger) *Harvester {
	if n <= 0 {
		n = 2
	}
	return &Harvester{slots: make(chan struct{}, n), logger: logger}
}

func (h *Harvester) acquire(ctx context.Context) error {
	select {
	case h.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Harvester) release() { <-h.slots }

// HarvestOffers launches a headless session, loads the search page for
// keyword, waits for the supplier-card region to settle, and extracts
// offers from the rendered cards. On any recoverable failure (layout
// change, timeout) it returns an empty slice with a BrowserHarvestError
// rather than panicking, so the caller (C4) can fall back to endpoint-only
// results.
func (h *Harvester) HarvestOffers(ctx context.Context, keyword string, opts Options) ([]upstream.Offer, error) {
	if err := h.acquire(ctx); err != nil {
		return nil, apperr.Cancelled()
	}
	defer h.release()

	pageCtx, cancel := context.WithTimeout(ctx, defaultPageTimeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(pageCtx, allocatorOptions()...)
	defer cancelAlloc()

	chromeCtx, cancelChrome := chromedp.NewContext(allocCtx)
	defer cancelChrome()

	searchURL := fmt.Sprintf(opts.SearchURLTemplate, keyword)

	var cardsJSON string
	err := chromedp.Run(chromeCtx,
		chromedp.Navigate(searchURL),
		chromedp.Sleep(cardSettleWait),
		chromedp.Evaluate(supplierCardExtractionScript, &cardsJSON),
	)
	if err != nil {
		h.logger.Warn("browser harvest failed", zap.String("keyword", keyword), zap.Error(err))
		return nil, apperr.BrowserHarvest(err.Error())
	}

	offers, err := parseSupplierCards(cardsJSON, keyword)
	if err != nil {
		h.logger.Warn("browser harvest: failed to parse supplier cards",
			zap.String("keyword", keyword), zap.Error(err))
		return nil, apperr.BrowserHarvest(err.Error())
	}
	return offers, nil
}

// DetailResult is what ExtractDetail returns: either field may be empty if
// that strategy found nothing.
type DetailResult struct {
	ApprovalNumber string
	CategoryHint   string
}

var approvalNumberPattern = regexp.MustCompile(`(国药准字[HZSJB]\d{8}|国械注[准进]\w*|卫妆准字\w*|国妆特字\w*|国食健字\w*|卫食健字\w*)`)

// ExtractDetail loads the product detail route and scans the rendered HTML
// with a regex for an approval-number-like string; network responses are
// not observed, and only ApprovalNumber is ever filled in. Extraction is
// best-effort (see the design notes' open question): failures yield a
// zero-value result rather than an error, so the classifier simply falls
// through to its keyword-based rules.
func (h *Harvester) ExtractDetail(ctx context.Context, drugIdentifier string, opts Options) DetailResult {
	if err := h.acquire(ctx); err != nil {
		return DetailResult{}
	}
	defer h.release()

	actionCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(actionCtx, allocatorOptions()...)
	defer cancelAlloc()

	chromeCtx, cancelChrome := chromedp.NewContext(allocCtx)
	defer cancelChrome()

	detailURL := fmt.Sprintf(opts.DetailURLTemplate, drugIdentifier)

	var html string
	err := chromedp.Run(chromeCtx,
		chromedp.Navigate(detailURL),
		chromedp.Sleep(cardSettleWait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		h.logger.Debug("detail extraction failed, treating as best-effort miss",
			zap.String("drug", drugIdentifier), zap.Error(err))
		return DetailResult{}
	}

	if m := approvalNumberPattern.FindString(html); m != "" {
		return DetailResult{ApprovalNumber: m}
	}
	return DetailResult{}
}

func allocatorOptions() []chromedp.ExecAllocatorOption {
	return append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/124.0.0.0 Safari/537.36"),
	)
}

// supplierCardExtractionScript reads the rendered supplier-card DOM nodes
// and serializes them to a JSON array string; the exact selectors are an
// upstream-layout concern deliberately kept in one script string so a
// layout change only requires editing this constant.
const supplierCardExtractionScript = `
JSON.stringify(Array.from(document.querySelectorAll('.supplier-card')).map(function(el) {
  return {
    name: (el.querySelector('.product-name') || {}).innerText || '',
    specification: (el.querySelector('.spec') || {}).innerText || '',
    manufacturer: (el.querySelector('.manufacturer') || {}).innerText || '',
    price: (el.querySelector('.price') || {}).innerText || '',
    supplier_id: el.getAttribute('data-supplier-id') || '',
    supplier_name: (el.querySelector('.supplier-name') || {}).innerText || '',
  };
}))
`
