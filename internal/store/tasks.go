package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
)

// CreateCrawlTask inserts a new task in the pending state.
func (s *Store) CreateCrawlTask(ctx context.Context, id, name string, keywords []string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_tasks (id, name, keywords, status, total_keywords)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, name, keywords, TaskPending, len(keywords),
	)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

// GetCrawlTask fetches a task by ID.
func (s *Store) GetCrawlTask(ctx context.Context, id string) (CrawlTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, keywords, status, total_keywords, completed_keywords,
		        failed_keywords, total_price_rows, started_at, completed_at, COALESCE(last_error,'')
		 FROM crawl_tasks WHERE id = $1`, id)

	var t CrawlTask
	var status string
	err := row.Scan(&t.ID, &t.Name, &t.Keywords, &status, &t.TotalKeywords, &t.CompletedKeywords,
		&t.FailedKeywords, &t.TotalPriceRows, &t.StartedAt, &t.CompletedAt, &t.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return CrawlTask{}, apperr.NotFound("crawl task %s", id)
	}
	if err != nil {
		return CrawlTask{}, apperr.Persistence(err)
	}
	t.Status = CrawlTaskStatus(status)
	return t, nil
}

// StartCrawlTask transitions pending/paused -> running and stamps started_at
// on the first transition.
func (s *Store) StartCrawlTask(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE crawl_tasks SET status = $2, started_at = COALESCE(started_at, $3) WHERE id = $1`,
		id, TaskRunning, time.Now().UTC(),
	)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

// RecordKeywordOutcome updates a running task's counters after one keyword
// finishes, successfully or not. It never aborts the batch: the caller
// decides whether to continue with the remaining keywords.
func (s *Store) RecordKeywordOutcome(ctx context.Context, id string, succeeded bool, priceRowsWritten int, lastErr string) error {
	var err error
	if succeeded {
		_, err = s.pool.Exec(ctx,
			`UPDATE crawl_tasks SET completed_keywords = completed_keywords + 1,
			        total_price_rows = total_price_rows + $2
			 WHERE id = $1`, id, priceRowsWritten)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE crawl_tasks SET failed_keywords = failed_keywords + 1, last_error = $2
			 WHERE id = $1`, id, lastErr)
	}
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

// FinishCrawlTask transitions a task into a terminal state and stamps
// completed_at.
func (s *Store) FinishCrawlTask(ctx context.Context, id string, status CrawlTaskStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE crawl_tasks SET status = $2, completed_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

// ListWatchListItems returns watch list entries; enabledOnly restricts to
// items the scheduler should actually drive.
func (s *Store) ListWatchListItems(ctx context.Context, enabledOnly bool) ([]WatchListItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, keyword, COALESCE(category_hint,''), priority, added_at, last_crawled_at, enabled
		 FROM watch_list_items WHERE ($1 OR enabled) ORDER BY priority DESC, added_at ASC`,
		!enabledOnly)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []WatchListItem
	for rows.Next() {
		var w WatchListItem
		if err := rows.Scan(&w.ID, &w.Keyword, &w.CategoryHint, &w.Priority, &w.AddedAt, &w.LastCrawledAt, &w.Enabled); err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// TouchWatchListItem stamps last_crawled_at after a keyword is processed.
func (s *Store) TouchWatchListItem(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE watch_list_items SET last_crawled_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}
