package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is one row per settlement receipt. PaidAmount accumulates across
// settlement rows referencing the same receipt number.
//
// InvoiceNumber stays nil when the payment is not attributable to a single
// invoice (over-payment retained as account credit).
type Payment struct {
	ID            int             `gorm:"primary_key" json:"id"`
	ReceiptNumber string          `gorm:"uniqueIndex;size:30;not null" json:"receipt_number"`
	AccountId     int             `gorm:"index;not null" json:"account_id"`
	InvoiceNumber *string         `gorm:"size:30" json:"invoice_number"`
	PaidAmount    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"paid_amount"`
	Status        PaymentStatus   `gorm:"size:20;not null;index" json:"status"`
	PaymentDate   *time.Time      `json:"payment_date"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Receipt links one application of a payment to one invoice. Receipts are
// the only rows the engine deletes: a reversal removes them so a later
// re-settlement can recreate them. The parent Payment row is never deleted.
type Receipt struct {
	ID            int             `gorm:"primary_key" json:"id"`
	PaymentId     int             `gorm:"index;not null;uniqueIndex:uniq_receipt_application" json:"payment_id"`
	InvoiceId     int             `gorm:"index;not null" json:"invoice_id"`
	ApplicationId string          `gorm:"size:64;not null;uniqueIndex:uniq_receipt_application" json:"application_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
