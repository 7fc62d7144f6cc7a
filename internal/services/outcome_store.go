package services

import (
	"context"
	"encoding/json"
	"fmt"

	"sampark/internal/automation"
	"sampark/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutcomeStore is the gorm-backed, append-only automation.OutcomeStore.
// Each successful action also writes a receipt keyed on (rule_id, event_id, action_index).
type OutcomeStore struct {
	db *gorm.DB
}

func NewOutcomeStore(db *gorm.DB) *OutcomeStore {
	return &OutcomeStore{db: db}
}

var _ automation.OutcomeStore = (*OutcomeStore)(nil)

// Append 在同一事务中写入执行结果及成功动作凭据
func (s *OutcomeStore) Append(ctx context.Context, o automation.ExecutionOutcome) error {
	results, err := json.Marshal(o.ActionResults)
	if err != nil {
		return fmt.Errorf("encode action results: %w", err)
	}
	row := models.AutomationOutcome{
		ID:            o.ID,
		RuleID:        o.RuleID,
		EventID:       o.EventID,
		EventType:     string(o.EventType),
		SubjectID:     o.SubjectID,
		ActionResults: string(results),
		ExecutedAt:    o.ExecutedAt,
	}

	var receipts []models.AutomationActionReceipt
	for _, ar := range o.ActionResults {
		if ar.Success && !ar.Skipped {
			receipts = append(receipts, models.AutomationActionReceipt{
				RuleID:      o.RuleID,
				EventID:     o.EventID,
				ActionIndex: ar.Index,
				OutcomeID:   o.ID,
				CreatedAt:   o.ExecutedAt,
			})
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(receipts) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts).Error
	})
}

func (s *OutcomeStore) ListByRule(ctx context.Context, ruleID string) ([]automation.ExecutionOutcome, error) {
	return s.list(ctx, "rule_id = ?", ruleID)
}

func (s *OutcomeStore) ListByEvent(ctx context.Context, eventID string) ([]automation.ExecutionOutcome, error) {
	return s.list(ctx, "event_id = ?", eventID)
}

// SucceededActions 查询已成功执行的动作序号
func (s *OutcomeStore) SucceededActions(ctx context.Context, ruleID, eventID string) (map[int]bool, error) {
	var indexes []int
	if err := s.db.WithContext(ctx).Model(&models.AutomationActionReceipt{}).
		Where("rule_id = ? AND event_id = ?", ruleID, eventID).
		Pluck("action_index", &indexes).Error; err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		done[i] = true
	}
	return done, nil
}

func (s *OutcomeStore) list(ctx context.Context, where string, arg string) ([]automation.ExecutionOutcome, error) {
	var rows []models.AutomationOutcome
	if err := s.db.WithContext(ctx).Where(where, arg).
		Order("executed_at ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]automation.ExecutionOutcome, 0, len(rows))
	for _, row := range rows {
		o := automation.ExecutionOutcome{
			ID:         row.ID,
			RuleID:     row.RuleID,
			EventID:    row.EventID,
			EventType:  automation.EventType(row.EventType),
			SubjectID:  row.SubjectID,
			ExecutedAt: row.ExecutedAt,
		}
		if row.ActionResults != "" {
			if err := json.Unmarshal([]byte(row.ActionResults), &o.ActionResults); err != nil {
				return nil, fmt.Errorf("outcome %s: decode action results: %w", row.ID, err)
			}
		}
		out = append(out, o)
	}
	return out, nil
}
