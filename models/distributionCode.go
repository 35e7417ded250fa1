package models

import "time"

// DistributionCode maps an invoice's fees to a partner ledger code.
// StopFlag is a circuit breaker: when a forward disbursement errors in JV
// feedback, the code is stopped and excluded from automatic disbursement
// until an operator corrects the mapping. The audit fields record who
// tripped it, when and why.
type DistributionCode struct {
	ID          int        `gorm:"primary_key" json:"id"`
	Code        string     `gorm:"uniqueIndex;size:30;not null" json:"code"`
	Name        string     `gorm:"size:255" json:"name"`
	StopFlag    *bool      `gorm:"default:false;index" json:"stop_flag"`
	StoppedAt   *time.Time `json:"stopped_at"`
	StoppedBy   *string    `gorm:"size:64" json:"stopped_by"`
	StopReason  *string    `gorm:"type:text" json:"stop_reason"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TripStop trips the circuit breaker. Re-tripping an already stopped code
// keeps the original audit trail.
func (d *DistributionCode) TripStop(by string, reason string, at time.Time) {
	if d.StopFlag != nil && *d.StopFlag {
		return
	}
	flag := true
	d.StopFlag = &flag
	d.StoppedAt = &at
	d.StoppedBy = &by
	d.StopReason = &reason
}

// ClearStop resets the breaker after operator correction.
func (d *DistributionCode) ClearStop() {
	flag := false
	d.StopFlag = &flag
	d.StoppedAt = nil
	d.StoppedBy = nil
	d.StopReason = nil
}
