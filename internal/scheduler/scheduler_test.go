package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/acquisition"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/upstream"
)

// fakeUpstream lets a keyword either resolve immediately (with no offers, so
// runOneKeyword's persist step is a no-op) or block until its context is
// cancelled, simulating a keyword caught mid-acquisition when a task is
// cancelled.
type fakeUpstream struct {
	slow map[string]bool
}

func (f *fakeUpstream) SearchAggregate(ctx context.Context, keyword string, page, pageSize int) ([]upstream.DrugAgg, error) {
	if f.slow[keyword] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, nil
}

func (f *fakeUpstream) FacetSuppliers(ctx context.Context, keyword string) ([]upstream.Supplier, error) {
	return nil, nil
}

func (f *fakeUpstream) SupplierHotList(ctx context.Context, supplierID string, page, pageSize int) ([]upstream.Offer, error) {
	return nil, nil
}

// fakeStore implements taskStore without a database, recording just enough
// to assert on task/keyword accounting.
type fakeStore struct {
	mu           sync.Mutex
	completed    int
	failed       int
	finalStatus  store.CrawlTaskStatus
	completedCh  chan struct{}
	completedAt5 bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{completedCh: make(chan struct{})}
}

func (f *fakeStore) CreateCrawlTask(ctx context.Context, id, name string, keywords []string) error {
	return nil
}
func (f *fakeStore) StartCrawlTask(ctx context.Context, id string) error { return nil }

func (f *fakeStore) RecordKeywordOutcome(ctx context.Context, id string, succeeded bool, priceRowsWritten int, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if succeeded {
		f.completed++
	} else {
		f.failed++
	}
	if f.completed == 5 && !f.completedAt5 {
		f.completedAt5 = true
		close(f.completedCh)
	}
	return nil
}

func (f *fakeStore) FinishCrawlTask(ctx context.Context, id string, status store.CrawlTaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalStatus = status
	return nil
}
func (f *fakeStore) TouchWatchListItem(ctx context.Context, id string) error { return nil }

func (f *fakeStore) UpsertDrug(ctx context.Context, identity store.DrugIdentity, fields store.DrugFields) (string, error) {
	return "drug-1", nil
}
func (f *fakeStore) AppendPrices(ctx context.Context, drugID string, observations []store.Observation) (int, error) {
	return len(observations), nil
}
func (f *fakeStore) PricesForAnnotation(ctx context.Context, drugID string) ([]store.PriceRecord, error) {
	return nil, nil
}
func (f *fakeStore) ApplyOutlierAnnotations(ctx context.Context, updates []store.OutlierUpdate) error {
	return nil
}
func (f *fakeStore) ListMonitorRules(ctx context.Context, drugID string) ([]store.MonitorRule, error) {
	return nil, nil
}
func (f *fakeStore) CreateAlert(ctx context.Context, ruleID, drugID string, kind store.MonitorRuleKind, message string) (store.Alert, error) {
	return store.Alert{}, nil
}

func (f *fakeStore) snapshot() (completed, failed int, status store.CrawlTaskStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed, f.failed, f.finalStatus
}

func TestRunWatchList_CancelMidBatchStopsInFlightKeywords(t *testing.T) {
	slow := map[string]bool{}
	items := make([]store.WatchListItem, 0, 10)
	for i := 0; i < 5; i++ {
		items = append(items, store.WatchListItem{ID: "fast-" + string(rune('0'+i)), Keyword: "fast-keyword-" + string(rune('0'+i)), Enabled: true})
	}
	for i := 0; i < 5; i++ {
		id := "slow-" + string(rune('0'+i))
		kw := "slow-keyword-" + string(rune('0'+i))
		slow[kw] = true
		items = append(items, store.WatchListItem{ID: id, Keyword: kw, Enabled: true})
	}

	client := &fakeUpstream{slow: slow}
	orchestrator := acquisition.NewOrchestrator(client, nil)
	fs := newFakeStore()
	sched := NewScheduler(orchestrator, fs, zap.NewNop(), nil)

	done := make(chan error, 1)
	go func() {
		done <- sched.RunWatchList(context.Background(), "task-1", "cancel-test",
			items, Options{Concurrency: 10, BrowserConcurrency: 10, MaxRetries: 1})
	}()

	select {
	case <-fs.completedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the 5 fast keywords to complete")
	}

	ok := sched.CancelTask("task-1")
	assert.True(t, ok, "CancelTask must find the in-flight run registered by RunWatchList")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for RunWatchList to unwind after cancellation")
	}

	completed, failed, status := fs.snapshot()
	assert.Equal(t, 5, completed, "the 5 fast keywords must have completed before cancellation")
	assert.Equal(t, 5, failed, "the 5 slow keywords must observe cancellation and be recorded, not left running")
	assert.Equal(t, store.TaskCancelled, status)

	assert.False(t, sched.CancelTask("task-1"), "the run must be deregistered once RunWatchList returns")
}
