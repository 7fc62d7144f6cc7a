package models

import (
	"time"

	"gorm.io/gorm"
)

// 客户
type Customer struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `gorm:"uniqueIndex;size:255" json:"email"`
	Phone     string         `json:"phone"`
	Company   string         `json:"company"`
	Source    string         `json:"source"` // web, referral, marketing
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 客服团队
type Team struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// 客服代理
type Agent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"uniqueIndex;size:128;not null" json:"username"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Status    string         `gorm:"default:'offline'" json:"status"` // online, offline, busy, disabled
	TeamID    *uint          `gorm:"index" json:"team_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Team *Team `gorm:"foreignKey:TeamID" json:"team,omitempty"`
}

// 会话
type Conversation struct {
	ID            string     `gorm:"primaryKey;size:64" json:"id"`
	CustomerID    string     `gorm:"index;size:64" json:"customer_id"`
	Channel       string     `gorm:"default:'web'" json:"channel"` // web, email, whatsapp
	Subject       string     `json:"subject"`
	Status        string     `gorm:"default:'open'" json:"status"`       // open, pending, closed
	Priority      string     `gorm:"default:'MEDIUM'" json:"priority"`   // LOW, MEDIUM, HIGH, URGENT
	PrioritySetAt *time.Time `json:"priority_set_at,omitempty"`          // ingestion time of the event that last set priority
	AssigneeType  string     `json:"assignee_type,omitempty"`            // agent, team
	AssigneeID    *uint      `gorm:"index" json:"assignee_id,omitempty"` // agent or team id
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Customer *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Messages []Message `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

// 消息
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"index;size:64" json:"conversation_id"`
	Sender         string    `gorm:"default:'customer'" json:"sender"` // customer, agent, system
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// 标签
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// EntityTag 会话/客户与标签的关联
type EntityTag struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TagID      uint      `gorm:"uniqueIndex:idx_entity_tag" json:"tag_id"`
	TargetKind string    `gorm:"uniqueIndex:idx_entity_tag;size:32" json:"target_kind"` // conversation, customer
	TargetID   string    `gorm:"uniqueIndex:idx_entity_tag;size:64" json:"target_id"`
	CreatedAt  time.Time `json:"created_at"`

	Tag Tag `gorm:"foreignKey:TagID" json:"tag,omitempty"`
}

// 运营通知
type Notification struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Channel    string     `gorm:"index" json:"channel"` // in_app, push
	Recipient  string     `gorm:"index" json:"recipient"`
	Title      string     `json:"title"`
	Message    string     `gorm:"type:text" json:"message"`
	TargetKind string     `json:"target_kind"`
	TargetID   string     `gorm:"index" json:"target_id"`
	RuleID     string     `gorm:"index" json:"rule_id"`
	EventID    string     `json:"event_id"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// 知识库文章
type KnowledgeDoc struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	Content   string    `gorm:"type:text" json:"content"`
	Category  string    `gorm:"index;size:128" json:"category"`
	Tags      string    `json:"tags"` // comma separated
	Published bool      `gorm:"index" json:"published"`
	Views     int       `gorm:"default:0" json:"views"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&Customer{},
		&Team{},
		&Agent{},
		&Conversation{},
		&Message{},
		&Tag{},
		&EntityTag{},
		&Notification{},
		&KnowledgeDoc{},
		&AutomationRule{},
		&AutomationOutcome{},
		&AutomationActionReceipt{},
	}
}
