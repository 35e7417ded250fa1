package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartnerDisbursement is one disbursement attempt for a partner-owned
// invoice. IsReversal distinguishes forward entries from reversing entries.
// At most one active (non-cancelled) row may exist per (target id, target
// type) except an explicit forward/reversal pair; the engine enforces this
// with a check before insert and the unique index backstops races.
type PartnerDisbursement struct {
	ID                int                `gorm:"primary_key" json:"id"`
	TargetId          int                `gorm:"not null;uniqueIndex:uniq_partner_disb_target" json:"target_id"`
	TargetType        FlowThroughType    `gorm:"size:30;not null;uniqueIndex:uniq_partner_disb_target" json:"target_type"`
	IsReversal        *bool              `gorm:"default:false;uniqueIndex:uniq_partner_disb_target" json:"is_reversal"`
	PartnerCode       string             `gorm:"index;size:30" json:"partner_code"`
	Amount            decimal.Decimal    `gorm:"type:decimal(20,2);default:0" json:"amount"`
	Status            DisbursementStatus `gorm:"size:20;not null;index" json:"status"`
	ProcessedAt       *time.Time         `json:"processed_at"`
	FeedbackAt        *time.Time         `json:"feedback_at"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d *PartnerDisbursement) IsActive() bool {
	return d.Status != DisbursementStatusCancelled
}
