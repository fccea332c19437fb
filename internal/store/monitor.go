package store

import (
	"context"
	"time"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
)

// ListMonitorRules returns the enabled rules for a drug, used by the
// scheduler's post-annotation evaluation pass.
func (s *Store) ListMonitorRules(ctx context.Context, drugID string) ([]MonitorRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, drug_id, kind, threshold_pct, enabled
		 FROM monitor_rules WHERE drug_id = $1 AND enabled`, drugID)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []MonitorRule
	for rows.Next() {
		var r MonitorRule
		var kind string
		if err := rows.Scan(&r.ID, &r.DrugID, &kind, &r.ThresholdPct, &r.Enabled); err != nil {
			return nil, apperr.Persistence(err)
		}
		r.Kind = MonitorRuleKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateAlert inserts an immutable alert row.
func (s *Store) CreateAlert(ctx context.Context, ruleID, drugID string, kind MonitorRuleKind, message string) (Alert, error) {
	a := Alert{ID: newID(), RuleID: ruleID, DrugID: drugID, Kind: kind, Message: message, CreatedAt: time.Now().UTC()}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, rule_id, drug_id, kind, message, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.RuleID, a.DrugID, a.Kind, a.Message, a.CreatedAt,
	)
	if err != nil {
		return Alert{}, apperr.Persistence(err)
	}
	return a, nil
}

// ListAlerts returns alerts created within the last `days` days (days <= 0
// means unbounded), most recent first, capped at limit (default 100).
func (s *Store) ListAlerts(ctx context.Context, days, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	since := time.Time{}
	if days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -days)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, rule_id, drug_id, kind, message, created_at FROM alerts
		 WHERE created_at >= $1
		 ORDER BY created_at DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var kind string
		if err := rows.Scan(&a.ID, &a.RuleID, &a.DrugID, &kind, &a.Message, &a.CreatedAt); err != nil {
			return nil, apperr.Persistence(err)
		}
		a.Kind = MonitorRuleKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}
