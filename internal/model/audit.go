package model

import (
	"time"

	"gorm.io/datatypes"
)

type AuditAction string

const (
	AuditActionCreate         AuditAction = "create"
	AuditActionUpdate         AuditAction = "update"
	AuditActionFloatTopUp     AuditAction = "float_top_up"
	AuditActionFloatWithdraw  AuditAction = "float_withdraw"
	AuditActionReverse        AuditAction = "reverse"
	AuditActionReconcile      AuditAction = "reconcile"
	AuditActionRebuild        AuditAction = "rebuild"
	AuditActionSettingsChange AuditAction = "settings_change"
)

// AuditLog is the stored form of an audit event. Rows are written once and
// never read back by the ledger.
type AuditLog struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ShopID     string         `gorm:"type:varchar(36);index" json:"shop_id"`
	UserID     string         `gorm:"type:varchar(36);index" json:"user_id"`
	Action     AuditAction    `gorm:"type:varchar(32);not null" json:"action"`
	EntityType string         `gorm:"type:varchar(32);not null" json:"entity_type"`
	EntityID   string         `gorm:"type:varchar(36);not null" json:"entity_id"`
	Details    datatypes.JSON `json:"details"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// ============================================================================
// Audit outbox
// ============================================================================

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// AuditOutbox holds an audit event written in the same database transaction
// as the balance change it describes. The relay job drains it.
type AuditOutbox struct {
	ID         int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"message_key"`
	Action     AuditAction `gorm:"type:varchar(32);not null" json:"action"`
	ShopID     string      `gorm:"type:varchar(36);index" json:"shop_id"`
	UserID     string      `gorm:"type:varchar(36)" json:"user_id"`
	EntityType string      `gorm:"type:varchar(32);not null" json:"entity_type"`
	EntityID   string      `gorm:"type:varchar(36);not null" json:"entity_id"`
	Payload    string      `gorm:"type:text;not null" json:"payload"`
	Status     string      `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int         `gorm:"not null;default:0" json:"retry_count"`
	LastError  string      `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	CreatedAt  time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AuditOutbox) TableName() string {
	return "audit_outbox"
}
