// Package scheduler drives many keywords through the acquisition pipeline
// as one batch (a CrawlTask), bounding total concurrency and the stricter
// browser-heavy subset of it, retrying recoverable per-keyword failures,
// and reporting structured progress events.
//
// The independent-per-item error handling is grounded on the
// discovery-service's ScanPoller; there is no ticker or background loop
// here: a batch runs when a caller invokes RunWatchList. The
// bounded-fan-out mechanics use golang.org/x/sync/semaphore in place of
// the poller's single-goroutine loop because here many keywords must run
// truly concurrently within one batch.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/acquisition"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/classify"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/normalize"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/outlier"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/upstream"
)

// ProgressEvent is one structured record the scheduler emits as it works
// through a task's keywords; the operator console consumes these over a
// push channel.
type ProgressEvent struct {
	TaskID  string
	Keyword string
	Phase   string
	OK      bool
	Items   int
}

// Options tunes one batch run; zero values fall back to the documented
// defaults.
type Options struct {
	Concurrency        int // default 3
	BrowserConcurrency int // default 2
	MaxRetries         int // default 2
	AcquisitionOptions acquisition.Options
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.BrowserConcurrency <= 0 {
		o.BrowserConcurrency = 2
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
	return o
}

// publisher is the subset of *events.Publisher the scheduler needs; kept as
// an interface so internal/scheduler does not import internal/events
// directly and tests can substitute a recording fake.
type publisher interface {
	PublishAlert(ev AlertEvent)
}

// taskStore is the subset of *store.Store the scheduler needs; an interface
// here lets tests substitute an in-memory fake instead of a live database.
type taskStore interface {
	CreateCrawlTask(ctx context.Context, id, name string, keywords []string) error
	StartCrawlTask(ctx context.Context, id string) error
	RecordKeywordOutcome(ctx context.Context, id string, succeeded bool, priceRowsWritten int, lastErr string) error
	FinishCrawlTask(ctx context.Context, id string, status store.CrawlTaskStatus) error
	TouchWatchListItem(ctx context.Context, id string) error

	UpsertDrug(ctx context.Context, identity store.DrugIdentity, fields store.DrugFields) (string, error)
	AppendPrices(ctx context.Context, drugID string, observations []store.Observation) (int, error)
	PricesForAnnotation(ctx context.Context, drugID string) ([]store.PriceRecord, error)
	ApplyOutlierAnnotations(ctx context.Context, updates []store.OutlierUpdate) error

	ListMonitorRules(ctx context.Context, drugID string) ([]store.MonitorRule, error)
	CreateAlert(ctx context.Context, ruleID, drugID string, kind store.MonitorRuleKind, message string) (store.Alert, error)
}

// Scheduler drives CrawlTask execution.
type Scheduler struct {
	orchestrator *acquisition.Orchestrator
	store        taskStore
	locker       *outlier.Locker
	logger       *zap.Logger
	progress     chan ProgressEvent
	publisher    publisher
	metrics      schedulerMetrics

	cancelMu    sync.Mutex
	cancelFuncs map[string]context.CancelFunc
}

// NewScheduler constructs a Scheduler. progress may be nil, in which case
// progress events are dropped rather than blocking the worker pool.
func NewScheduler(orchestrator *acquisition.Orchestrator, st taskStore, logger *zap.Logger, progress chan ProgressEvent) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		store:        st,
		locker:       outlier.NewLocker(),
		logger:       logger,
		progress:     progress,
		metrics:      newSchedulerMetrics(),
		cancelFuncs:  make(map[string]context.CancelFunc),
	}
}

// CancelTask requests cancellation of a running task's in-flight keywords.
// It returns false if taskID has no registered in-flight run (already
// finished, or never started). In-flight keywords observe the cancellation
// at their next suspension point; RunWatchList itself transitions the task
// to the cancelled status once every keyword has unwound.
func (s *Scheduler) CancelTask(taskID string) bool {
	s.cancelMu.Lock()
	cancel, ok := s.cancelFuncs[taskID]
	s.cancelMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// WithPublisher attaches an alert/progress event publisher; alerts
// evaluated by monitor rules are fanned out to it in addition to being
// persisted via CreateAlert. Passing nil disables event publishing.
func (s *Scheduler) WithPublisher(p publisher) *Scheduler {
	s.publisher = p
	return s
}

// AcquireAndPersist runs the hybrid acquisition algorithm for one keyword
// and persists every resulting offer, classifying, upserting the owning
// drug, appending prices, and annotating outliers exactly as a scheduled
// keyword would. It is the synchronous counterpart RunWatchList's workers
// use internally, exposed for the ad-hoc /crawl/* HTTP operations that
// acquire and persist a single keyword outside of any CrawlTask.
func (s *Scheduler) AcquireAndPersist(ctx context.Context, keyword string, opts acquisition.Options) (acquisition.Result, int, error) {
	result, err := s.orchestrator.AcquireSuppliersForKeyword(ctx, keyword, opts)
	if err != nil {
		return acquisition.Result{}, 0, err
	}
	n, err := s.persist(ctx, keyword, result)
	if err != nil {
		return result, 0, err
	}
	return result, n, nil
}

func (s *Scheduler) emit(ev ProgressEvent) {
	if s.progress == nil {
		return
	}
	select {
	case s.progress <- ev:
	default:
		s.logger.Warn("progress channel full, dropping event",
			zap.String("task_id", ev.TaskID), zap.String("keyword", ev.Keyword))
	}
}

// RunWatchList drives the keyword of every item it is given through one
// batch task (it does not load or filter the watch list itself), bounded by opts.Concurrency workers with a stricter subordinate
// browser limit. A single keyword's failure never aborts the others.
func (s *Scheduler) RunWatchList(ctx context.Context, taskID, taskName string, items []store.WatchListItem, opts Options) error {
	opts = opts.withDefaults()

	keywords := make([]string, len(items))
	for i, it := range items {
		keywords[i] = it.Keyword
	}

	if err := s.store.CreateCrawlTask(ctx, taskID, taskName, keywords); err != nil {
		return err
	}
	if err := s.store.StartCrawlTask(ctx, taskID); err != nil {
		return err
	}

	// The run's working context is deliberately rooted at
	// context.Background(), not derived from the caller's ctx: a task
	// outlives the HTTP request that started it (batchCrawlHandler detaches
	// it into a goroutine) and must only stop on an explicit CancelTask
	// call, never because an unrelated caller context was cancelled.
	parentCtx := ctx
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelMu.Lock()
	s.cancelFuncs[taskID] = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		delete(s.cancelFuncs, taskID)
		s.cancelMu.Unlock()
		cancel()
	}()

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	browserSem := semaphore.NewWeighted(int64(opts.BrowserConcurrency))

	done := make(chan struct{}, len(items))
	cancelled := false
	dispatched := 0

	for _, item := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			cancelled = true
			break
		}

		item := item
		dispatched++
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			s.runOneKeyword(ctx, taskID, item, opts, browserSem)
		}()
	}

	for i := 0; i < dispatched; i++ {
		<-done
	}
	if ctx.Err() != nil {
		cancelled = true
	}

	finalStatus := store.TaskSucceeded
	if cancelled {
		finalStatus = store.TaskCancelled
	}
	return s.store.FinishCrawlTask(parentCtx, taskID, finalStatus)
}

// runOneKeyword runs the acquire -> classify -> persist -> annotate
// pipeline for a single keyword, retrying recoverable failures up to
// opts.MaxRetries times, and reports its outcome to the task counters and
// the progress channel. It never returns an error: failures are fully
// absorbed into task accounting so one keyword cannot abort the batch.
func (s *Scheduler) runOneKeyword(ctx context.Context, taskID string, item store.WatchListItem, opts Options, browserSem *semaphore.Weighted) {
	s.emit(ProgressEvent{TaskID: taskID, Keyword: item.Keyword, Phase: "start", OK: true})

	var itemsWritten int
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		// AcquireSuppliersForKeyword may fall through to the browser pass
		// (C3), so the whole call is gated by the stricter browser-heavy
		// subordinate limit rather than the outer worker-pool limit alone.
		if err := browserSem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		result, err := s.orchestrator.AcquireSuppliersForKeyword(ctx, item.Keyword, opts.AcquisitionOptions)
		browserSem.Release(1)
		if err != nil {
			if apperr.Is(err, apperr.KindAuth) || apperr.Is(err, apperr.KindInvalidInput) {
				return backoff.Permanent(err)
			}
			return err // recoverable: network/5xx/browser, retry
		}

		n, err := s.persist(ctx, item.Keyword, result)
		if err != nil {
			return err
		}
		itemsWritten = n
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(opts.MaxRetries))
	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))

	if err != nil {
		s.logger.Warn("keyword acquisition failed", zap.String("keyword", item.Keyword), zap.Error(err))
		_ = s.store.RecordKeywordOutcome(context.WithoutCancel(ctx), taskID, false, 0, err.Error())
		s.metrics.recordFailure(ctx)
		s.emit(ProgressEvent{TaskID: taskID, Keyword: item.Keyword, Phase: "done", OK: false})
		return
	}

	_ = s.store.RecordKeywordOutcome(ctx, taskID, true, itemsWritten, "")
	_ = s.store.TouchWatchListItem(ctx, item.ID)
	s.metrics.recordSuccess(ctx, itemsWritten)
	s.emit(ProgressEvent{TaskID: taskID, Keyword: item.Keyword, Phase: "done", OK: true, Items: itemsWritten})
}

// persist classifies and writes every offer in result under its drug
// identity, holding a per-identity in-process lock, then runs the outlier
// annotator over the affected drug's full price set. UpsertDrug and
// AppendPrices commit separately, not in one transaction: when
// AppendPrices fails, the upserted drug row stays in place.
func (s *Scheduler) persist(ctx context.Context, keyword string, result acquisition.Result) (int, error) {
	byIdentity := groupByIdentity(result.Offers)

	total := 0
	for identity, offers := range byIdentity {
		n, err := s.persistIdentity(ctx, identity, offers)
		if err != nil {
			s.logger.Warn("persisting one drug identity failed, continuing with the rest",
				zap.String("keyword", keyword), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

func (s *Scheduler) persistIdentity(ctx context.Context, identity normalize.IdentityKey, offers []upstream.Offer) (int, error) {
	unlock := s.locker.Lock(identity.Name + "|" + identity.Specification + "|" + identity.Manufacturer)
	defer unlock()

	cls := classify.Classify(classify.Input{Name: identity.Name, Manufacturer: identity.Manufacturer})

	drugID, err := s.store.UpsertDrug(ctx,
		store.DrugIdentity{Name: identity.Name, Specification: identity.Specification, Manufacturer: identity.Manufacturer},
		store.DrugFields{Category: string(cls.Category), CategoryConfidence: cls.Confidence, CategorySource: string(cls.Source)},
	)
	if err != nil {
		return 0, err
	}

	observations := make([]store.Observation, 0, len(offers))
	for _, of := range offers {
		priceScaled, ok := parsePriceScaled(of.Price)
		if !ok {
			continue
		}
		observations = append(observations, store.Observation{
			PriceScaled:  priceScaled,
			SupplierName: of.SupplierName,
			SupplierID:   of.SupplierID,
			SourceURL:    of.SourceURL,
			CrawledAt:    time.Now().UTC(),
		})
	}

	priorRows, err := s.store.PricesForAnnotation(ctx, drugID)
	if err != nil {
		s.logger.Warn("failed to load prior prices for monitor-rule evaluation",
			zap.String("drug_id", drugID), zap.Error(err))
	}

	n, err := s.store.AppendPrices(ctx, drugID, observations)
	if err != nil {
		return 0, err
	}

	if err := s.annotateOutliers(ctx, drugID); err != nil {
		s.logger.Warn("outlier annotation failed", zap.String("drug_id", drugID), zap.Error(err))
	}

	if err := s.evaluateMonitorRules(ctx, drugID, priorRows, observations); err != nil {
		s.logger.Warn("monitor rule evaluation failed", zap.String("drug_id", drugID), zap.Error(err))
	}

	return n, nil
}

func (s *Scheduler) annotateOutliers(ctx context.Context, drugID string) error {
	rows, err := s.store.PricesForAnnotation(ctx, drugID)
	if err != nil {
		return err
	}

	obs := make([]outlier.Observation, len(rows))
	for i, r := range rows {
		obs[i] = outlier.Observation{ID: r.ID, PriceScaled: r.PriceScaled}
	}

	annotations := outlier.Annotate(obs)

	updates := make([]store.OutlierUpdate, len(annotations))
	for i, a := range annotations {
		updates[i] = store.OutlierUpdate{PriceRecordID: a.ID, Flag: store.OutlierFlag(a.Flag), Reason: a.Reason}
	}
	return s.store.ApplyOutlierAnnotations(ctx, updates)
}

func groupByIdentity(offers []upstream.Offer) map[normalize.IdentityKey][]upstream.Offer {
	out := make(map[normalize.IdentityKey][]upstream.Offer)
	for _, of := range offers {
		key := normalize.Identity(of.Name, of.Specification, of.Manufacturer)
		out[key] = append(out[key], of)
	}
	return out
}

// parsePriceScaled converts a decimal price string (e.g. "12.50") to its
// ×100 fixed-point representation.
func parsePriceScaled(raw string) (int64, bool) {
	return parseDecimalToScaled(raw)
}
