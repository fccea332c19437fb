package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
)

// AlertEvent is the shape the scheduler hands to a publisher when a
// MonitorRule fires; it mirrors internal/events.AlertEvent field-for-field
// so the composition root can adapt one to the other without either
// package importing the other.
type AlertEvent struct {
	ID        string
	RuleID    string
	DrugID    string
	Kind      string
	Message   string
	CreatedAt string
}

// evaluateMonitorRules runs every enabled MonitorRule for drugID over the
// batch just appended, comparing each new observation against the supplier's
// prior latest price (new_supplier fires when no prior price existed for
// that supplier at all). A matching rule creates an immutable Alert row and
// fans it out to the publisher, if configured.
func (s *Scheduler) evaluateMonitorRules(ctx context.Context, drugID string, priorRows []store.PriceRecord, newObservations []store.Observation) error {
	rules, err := s.store.ListMonitorRules(ctx, drugID)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	priorLatest := latestPerSupplierKey(priorRows)

	for _, obs := range newObservations {
		key := supplierKey(obs.SupplierID, obs.SupplierName)
		prior, hadPrior := priorLatest[key]

		for _, rule := range rules {
			alert, fires := evaluateRule(rule, key, obs, prior, hadPrior)
			if !fires {
				continue
			}
			created, err := s.store.CreateAlert(ctx, rule.ID, drugID, rule.Kind, alert)
			if err != nil {
				s.logger.Warn("failed to persist alert", zap.String("drug_id", drugID), zap.Error(err))
				continue
			}
			if s.publisher != nil {
				s.publisher.PublishAlert(AlertEvent{
					ID:        created.ID,
					RuleID:    created.RuleID,
					DrugID:    created.DrugID,
					Kind:      string(created.Kind),
					Message:   created.Message,
					CreatedAt: created.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
				})
			}
		}
	}
	return nil
}

// evaluateRule checks one rule against one new observation, returning the
// alert message and whether the rule fired.
func evaluateRule(rule store.MonitorRule, key string, obs store.Observation, prior store.PriceRecord, hadPrior bool) (string, bool) {
	switch rule.Kind {
	case store.RuleKindNewSupplier:
		if hadPrior {
			return "", false
		}
		return fmt.Sprintf("new supplier %s observed", key), true

	case store.RuleKindPriceDrop:
		if !hadPrior || prior.PriceScaled <= 0 {
			return "", false
		}
		pctChange := percentChange(prior.PriceScaled, obs.PriceScaled)
		if pctChange <= -rule.ThresholdPct {
			return fmt.Sprintf("price dropped %.2f%% for supplier %s", -pctChange, key), true
		}
		return "", false

	case store.RuleKindPriceRise:
		if !hadPrior || prior.PriceScaled <= 0 {
			return "", false
		}
		pctChange := percentChange(prior.PriceScaled, obs.PriceScaled)
		if pctChange >= rule.ThresholdPct {
			return fmt.Sprintf("price rose %.2f%% for supplier %s", pctChange, key), true
		}
		return "", false

	default:
		return "", false
	}
}

func percentChange(from, to int64) float64 {
	return (float64(to) - float64(from)) / float64(from) * 100
}

func supplierKey(supplierID, supplierName string) string {
	if supplierID != "" {
		return supplierID
	}
	return supplierName
}

func latestPerSupplierKey(rows []store.PriceRecord) map[string]store.PriceRecord {
	out := make(map[string]store.PriceRecord, len(rows))
	for _, r := range rows {
		key := supplierKey(r.SupplierID, r.SupplierName)
		existing, ok := out[key]
		if !ok || r.CrawledAt.After(existing.CrawledAt) {
			out[key] = r
		}
	}
	return out
}
