// Package acquisition implements the "endpoint-first, browser-fallback"
// hybrid strategy: it drives the upstream client through a keyword search,
// decides whether the endpoint-only result is sufficient, and falls back to
// the browser harvester when it is not.
package acquisition

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/normalize"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/upstream"
)

// Method records which pass(es) produced an AcquisitionResult's offers.
type Method string

const (
	MethodEndpoint Method = "endpoint"
	MethodBrowser  Method = "browser"
	MethodHybrid   Method = "hybrid"
)

// Options tunes one AcquireSuppliersForKeyword call; zero values are
// replaced with the documented defaults.
type Options struct {
	MinProviders   int  // default 5
	SupplierCap    int  // default 100, max 1000
	APIConcurrency int  // default 8
	ForceBrowser   bool
}

func (o Options) withDefaults() Options {
	if o.MinProviders <= 0 {
		o.MinProviders = 5
	}
	if o.SupplierCap <= 0 {
		o.SupplierCap = 100
	}
	if o.SupplierCap > 1000 {
		o.SupplierCap = 1000
	}
	if o.APIConcurrency <= 0 {
		o.APIConcurrency = 8
	}
	return o
}

// upstreamClient is the subset of *upstream.Client the orchestrator calls;
// an interface here lets tests substitute a fake without an HTTP server.
type upstreamClient interface {
	SearchAggregate(ctx context.Context, keyword string, page, pageSize int) ([]upstream.DrugAgg, error)
	FacetSuppliers(ctx context.Context, keyword string) ([]upstream.Supplier, error)
	SupplierHotList(ctx context.Context, supplierID string, page, pageSize int) ([]upstream.Offer, error)
}

// Result is what AcquireSuppliersForKeyword returns.
type Result struct {
	Method        Method
	Offers        []upstream.Offer
	Aggregates    []upstream.DrugAgg
	EndpointCount int
	BrowserCount  int
}

// HarvestFunc adapts a browser harvester's HarvestOffers method (or a test
// fake) to the single shape the orchestrator needs.
type HarvestFunc func(ctx context.Context, keyword string) ([]upstream.Offer, error)

// Orchestrator drives C2 and, when needed, a browser harvester through the
// hybrid acquisition algorithm.
type Orchestrator struct {
	client  upstreamClient
	harvest HarvestFunc
}

// NewOrchestrator constructs an Orchestrator. harvest may be nil; if so the
// orchestrator always returns endpoint-only results (ForceBrowser is then
// ignored rather than causing a nil-pointer panic).
func NewOrchestrator(client upstreamClient, harvest HarvestFunc) *Orchestrator {
	return &Orchestrator{client: client, harvest: harvest}
}

// AcquireSuppliersForKeyword runs the full endpoint-then-browser algorithm
// for one keyword.
func (o *Orchestrator) AcquireSuppliersForKeyword(ctx context.Context, keyword string, opts Options) (Result, error) {
	opts = opts.withDefaults()

	aggs, err := o.client.SearchAggregate(ctx, keyword, 1, 100)
	if err != nil {
		return Result{}, err
	}
	aggs = filterAggregatesByKeyword(aggs, keyword)

	suppliers, err := o.client.FacetSuppliers(ctx, keyword)
	if err != nil {
		return Result{}, err
	}
	if len(suppliers) > opts.SupplierCap {
		suppliers = suppliers[:opts.SupplierCap]
	}

	endpointOffers, err := o.fetchHotLists(ctx, keyword, suppliers, opts.APIConcurrency)
	if err != nil {
		return Result{}, err
	}

	if len(endpointOffers) >= opts.MinProviders && !opts.ForceBrowser {
		return Result{
			Method:        MethodEndpoint,
			Offers:        dedup(endpointOffers),
			Aggregates:    aggs,
			EndpointCount: len(endpointOffers),
		}, nil
	}

	if o.harvest == nil {
		return Result{
			Method:        MethodEndpoint,
			Offers:        dedup(endpointOffers),
			Aggregates:    aggs,
			EndpointCount: len(endpointOffers),
		}, nil
	}

	browserOffers, err := o.harvest(ctx, keyword)
	if err != nil {
		if apperr.Is(err, apperr.KindBrowserHarvest) {
			// C3 already converted the failure into a recoverable signal;
			// C4 returns the endpoint-only result.
			return Result{
				Method:        MethodEndpoint,
				Offers:        dedup(endpointOffers),
				Aggregates:    aggs,
				EndpointCount: len(endpointOffers),
			}, nil
		} else {
			return Result{}, err
		}
	}

	merged := dedup(append(append([]upstream.Offer{}, endpointOffers...), browserOffers...))

	// The browser pass genuinely ran here (the early returns above cover
	// every "skipped" or failed case), so method must never collapse back to
	// MethodEndpoint: P8 only allows that when offers.count >= MinProviders
	// (already satisfied by the first early return) or the browser pass was
	// explicitly skipped. An empty browserOffers slice is still a completed
	// attempt, not a skip.
	method := MethodBrowser
	if len(endpointOffers) > 0 {
		method = MethodHybrid
	}

	return Result{
		Method:        method,
		Offers:        merged,
		Aggregates:    aggs,
		EndpointCount: len(endpointOffers),
		BrowserCount:  len(browserOffers),
	}, nil
}

func (o *Orchestrator) fetchHotLists(ctx context.Context, keyword string, suppliers []upstream.Supplier, concurrency int) ([]upstream.Offer, error) {
	results := make([][]upstream.Offer, len(suppliers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, s := range suppliers {
		i, s := i, s
		g.Go(func() error {
			offers, err := o.client.SupplierHotList(gctx, s.SupplierID, 1, 100)
			if err != nil {
				return err
			}
			results[i] = filterOffersByKeyword(offers, keyword)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []upstream.Offer
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func filterAggregatesByKeyword(aggs []upstream.DrugAgg, keyword string) []upstream.DrugAgg {
	out := make([]upstream.DrugAgg, 0, len(aggs))
	for _, a := range aggs {
		if normalize.ContainsKeyword(normalize.Name(a.Name), keyword) {
			out = append(out, a)
		}
	}
	return out
}

func filterOffersByKeyword(offers []upstream.Offer, keyword string) []upstream.Offer {
	out := make([]upstream.Offer, 0, len(offers))
	for _, of := range offers {
		if normalize.ContainsKeyword(normalize.Name(of.Name), keyword) {
			out = append(out, of)
		}
	}
	return out
}

// dedup applies the merge rule from the design notes: identity key is
// (normalized_name, normalized_spec, manufacturer, supplier_id∥supplier_name,
// price_scaled); on a collision the more-specific record wins, and among
// equally-specific records the one seen first (endpoint pass runs before
// browser pass) wins.
func dedup(offers []upstream.Offer) []upstream.Offer {
	type keyed struct {
		key   string
		offer upstream.Offer
		score int
	}
	byKey := make(map[string]keyed, len(offers))
	order := make([]string, 0, len(offers))

	for _, of := range offers {
		k := identityKey(of)
		score := specificity(of)
		if existing, ok := byKey[k]; ok {
			if score > existing.score {
				byKey[k] = keyed{key: k, offer: of, score: score}
			}
			continue
		}
		byKey[k] = keyed{key: k, offer: of, score: score}
		order = append(order, k)
	}

	out := make([]upstream.Offer, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k].offer)
	}
	return out
}

func identityKey(o upstream.Offer) string {
	supplierTag := o.SupplierID
	if supplierTag == "" {
		supplierTag = o.SupplierName
	}
	parts := []string{
		normalize.Name(o.Name),
		normalize.Specification(o.Specification),
		normalize.Manufacturer(o.Manufacturer),
		supplierTag,
		o.Price,
	}
	return strings.Join(parts, "\x1f")
}

// specificity scores how many non-empty fields an offer carries, so the
// merge step can prefer the more complete of two colliding records.
func specificity(o upstream.Offer) int {
	n := 0
	for _, f := range []string{o.Name, o.Specification, o.Manufacturer, o.SupplierID, o.SupplierName, o.SourceURL} {
		if strings.TrimSpace(f) != "" {
			n++
		}
	}
	return n
}
