package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the payer's customer account. It owns the pre-authorized debit
// settlement method; PadFrozen and HasOutstandingNsf are set by the
// settlement reconciler when a PAD reverses at the bank, and cleared only by
// the external CRUD path after the operator resolves the NSF.
//
// ShortName is the externally supplied payer identifier used to match
// incoming EFT wire deposits before a formal link exists.
type Account struct {
	ID               int             `gorm:"primary_key" json:"id"`
	AccountNumber    string          `gorm:"uniqueIndex;size:30;not null" json:"account_number"`
	ShortName        string          `gorm:"index;size:30" json:"short_name"`
	Name             string          `gorm:"size:255" json:"name"`
	PadFrozen        *bool           `gorm:"default:false" json:"pad_frozen"`
	HasOutstandingNsf *bool          `gorm:"default:false" json:"has_outstanding_nsf"`
	CreditBalance    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"credit_balance"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
