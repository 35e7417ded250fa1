package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JvBatch corresponds to one JV file uploaded to the government system.
// Its status is derived from its headers once feedback arrives.
type JvBatch struct {
	ID          int              `gorm:"primary_key" json:"id"`
	BatchNumber string           `gorm:"uniqueIndex;size:30;not null" json:"batch_number"`
	Status      JvFeedbackStatus `gorm:"size:20;not null;index" json:"status"`
	UploadedAt  *time.Time       `json:"uploaded_at"`
	FeedbackAt  *time.Time       `json:"feedback_at"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// JvHeader is one JV transaction group within a batch (one payment account
// or partner). Its status is derived from its links.
type JvHeader struct {
	ID          int              `gorm:"primary_key" json:"id"`
	JvBatchId   int              `gorm:"index;not null" json:"jv_batch_id"`
	JvNumber    string           `gorm:"index;size:30;not null" json:"jv_number"`
	Status      JvFeedbackStatus `gorm:"size:20;not null;index" json:"status"`
	TotalAmount decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"total_amount"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// JvLink associates a header to one ledger target. FlowThroughKey stores
// the literal key the detail line carried so feedback resolves back here.
type JvLink struct {
	ID                    int              `gorm:"primary_key" json:"id"`
	JvHeaderId            int              `gorm:"index;not null" json:"jv_header_id"`
	FlowThroughKey        string           `gorm:"index;size:30;not null" json:"flow_through_key"`
	TargetType            FlowThroughType  `gorm:"size:30;not null" json:"target_type"`
	InvoiceId             int              `gorm:"index;not null" json:"invoice_id"`
	PartialRefundId       *int             `gorm:"index" json:"partial_refund_id"`
	PartnerDisbursementId *int             `gorm:"index" json:"partner_disbursement_id"`
	IsReversal            *bool            `gorm:"default:false" json:"is_reversal"`
	Amount                decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"amount"`
	Status                JvFeedbackStatus `gorm:"size:20;not null;index" json:"status"`
	StatusCode            string           `gorm:"size:4" json:"status_code"`
	CreatedAt             time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// DeriveJvStatus rolls child statuses up to a parent. Any errored child
// errors the parent; any still-uploaded child keeps the parent uploaded.
func DeriveJvStatus(children []JvFeedbackStatus) JvFeedbackStatus {
	if len(children) == 0 {
		return JvFeedbackStatusUploaded
	}
	derived := JvFeedbackStatusCompleted
	for _, s := range children {
		switch s {
		case JvFeedbackStatusErrored:
			return JvFeedbackStatusErrored
		case JvFeedbackStatusUploaded:
			derived = JvFeedbackStatusUploaded
		}
	}
	return derived
}
