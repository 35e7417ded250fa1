package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreditType string

const (
	CreditTypeOnAccount  CreditType = "OnAccount"
	CreditTypeCreditMemo CreditType = "CreditMemo"
)

// Credit is an on-account credit or a credit memo. RemainingAmount is
// monotonically non-increasing: it never exceeds OriginalAmount and never
// goes negative. Concurrent decrements serialize through a per-credit lock.
type Credit struct {
	ID              int             `gorm:"primary_key" json:"id"`
	AccountId       int             `gorm:"index;not null" json:"account_id"`
	Type            CreditType      `gorm:"size:20;not null" json:"type"`
	CreditNumber    string          `gorm:"uniqueIndex;size:30;not null" json:"credit_number"`
	OriginalAmount  decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"original_amount"`
	RemainingAmount decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"remaining_amount"`
	CreditDate      time.Time       `gorm:"not null" json:"credit_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AppliedCredit is an immutable junction record created exactly once per
// (credit id, external application id) pair. The unique index is the
// idempotency key for credit application under at-least-once delivery.
type AppliedCredit struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	CreditId              int             `gorm:"not null;uniqueIndex:uniq_credit_application" json:"credit_id"`
	InvoiceId             int             `gorm:"index;not null" json:"invoice_id"`
	AmountApplied         decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"amount_applied"`
	ExternalApplicationId string          `gorm:"size:64;not null;uniqueIndex:uniq_credit_application" json:"external_application_id"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
