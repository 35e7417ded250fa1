package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice carries two independent lifecycles: payment (Status) driven by the
// settlement reconciler, and disbursement (DisbursementStatus) driven by the
// JV feedback reconciler. Disbursement only advances once Status is settled.
type Invoice struct {
	ID                       int                `gorm:"primary_key" json:"id"`
	InvoiceNumber            string             `gorm:"uniqueIndex;size:30;not null" json:"invoice_number"`
	ConsolidatedNumber       *string            `gorm:"index;size:30" json:"consolidated_number"`
	AccountId                int                `gorm:"index;not null" json:"account_id"`
	DistributionCodeId       int                `gorm:"index" json:"distribution_code_id"`
	TotalAmount              decimal.Decimal    `gorm:"type:decimal(20,2);default:0" json:"total_amount"`
	PaidAmount               decimal.Decimal    `gorm:"type:decimal(20,2);default:0" json:"paid_amount"`
	Status                   InvoiceStatus      `gorm:"size:30;not null;index" json:"status"`
	DisbursementStatus       DisbursementStatus `gorm:"size:20;not null;index" json:"disbursement_status"`
	DisbursementDate         *time.Time         `json:"disbursement_date"`
	DisbursementReversalDate *time.Time         `json:"disbursement_reversal_date"`
	CreatedAt                time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// OutstandingAmount is total minus paid. It is derived, never stored, so
// conservation (paid + outstanding == total) holds by construction.
func (inv *Invoice) OutstandingAmount() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.PaidAmount)
}

func (inv *Invoice) IsFullyPaid() bool {
	return inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount)
}
