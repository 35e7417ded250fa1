package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Refund is an AP refund sent to the finance system, keyed by routing slip
// number in the feedback file.
type Refund struct {
	ID                int             `gorm:"primary_key" json:"id"`
	RoutingSlipNumber string          `gorm:"uniqueIndex;size:30;not null" json:"routing_slip_number"`
	AccountId         int             `gorm:"index;not null" json:"account_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"amount"`
	Status            RefundStatus    `gorm:"size:20;not null;index" json:"status"`
	StatusCode        string          `gorm:"size:4" json:"status_code"`
	ProcessedAt       *time.Time      `json:"processed_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PartialRefund refunds part of a paid invoice and is a JV disbursement
// target via the {invoiceId}-PR-{partialRefundId} flow-through form.
type PartialRefund struct {
	ID                 int                `gorm:"primary_key" json:"id"`
	InvoiceId          int                `gorm:"index;not null" json:"invoice_id"`
	Amount             decimal.Decimal    `gorm:"type:decimal(20,2);default:0" json:"amount"`
	Status             RefundStatus       `gorm:"size:20;not null;index" json:"status"`
	DisbursementStatus DisbursementStatus `gorm:"size:20;not null;index" json:"disbursement_status"`
	DisbursementDate   *time.Time         `json:"disbursement_date"`
	CreatedAt          time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// ShortNameRefund returns an unmatched EFT deposit to its payer, keyed by
// the payer short name plus refund id in the feedback file.
type ShortNameRefund struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ShortName   string          `gorm:"index;size:30;not null" json:"short_name"`
	RefundId    string          `gorm:"uniqueIndex;size:30;not null" json:"refund_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"amount"`
	Status      RefundStatus    `gorm:"size:20;not null;index" json:"status"`
	StatusCode  string          `gorm:"size:4" json:"status_code"`
	ProcessedAt *time.Time      `json:"processed_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
