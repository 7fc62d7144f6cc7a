package models

import (
	"time"

	"gorm.io/gorm"
)

// AutomationRule 自动化规则定义
type AutomationRule struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	TriggerType string         `gorm:"index;not null" json:"trigger_type"` // message_received, sentiment_detected, keyword_found, customer_created
	Conditions  string         `gorm:"type:text" json:"conditions"`        // JSON: [{field,operator,value}]
	Actions     string         `gorm:"type:text" json:"actions"`           // JSON: [{type,params}]
	Enabled     bool           `gorm:"index" json:"enabled"`
	Status      string         `gorm:"index;default:'draft'" json:"status"` // draft, enabled, disabled, deleted
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// AutomationOutcome 规则执行结果，只追加
type AutomationOutcome struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	RuleID        string    `gorm:"index;size:64;not null" json:"rule_id"`
	EventID       string    `gorm:"index;size:64;not null" json:"event_id"`
	EventType     string    `json:"event_type"`
	SubjectID     string    `gorm:"index;size:64" json:"subject_id"`
	ActionResults string    `gorm:"type:text" json:"action_results"` // JSON: [{index,action,success,...}]
	ExecutedAt    time.Time `gorm:"index" json:"executed_at"`
}

// AutomationActionReceipt 成功执行的动作凭据，(rule_id, event_id, action_index) 唯一
type AutomationActionReceipt struct {
	RuleID      string    `gorm:"primaryKey;size:64" json:"rule_id"`
	EventID     string    `gorm:"primaryKey;size:64" json:"event_id"`
	ActionIndex int       `gorm:"primaryKey;autoIncrement:false" json:"action_index"`
	OutcomeID   string    `gorm:"index;size:64" json:"outcome_id"`
	CreatedAt   time.Time `json:"created_at"`
}
