package workflow

import "fmt"

// Row fault codes. A RowFault is a row-level business error: the row's
// transaction rolls back, the fault is recorded, and processing continues
// with the next row. Anything else returned by a reconciler is treated as
// transient and fails the whole file for redelivery.
const (
	FaultUnmatchedAccount   = "UNMATCHED_ACCOUNT"
	FaultUnmatchedTarget    = "UNMATCHED_TARGET"
	FaultUnmatchedCredit    = "UNMATCHED_CREDIT"
	FaultUnmatchedLink      = "UNMATCHED_LINK"
	FaultUnmatchedRefund    = "UNMATCHED_REFUND"
	FaultInsufficientCredit = "INSUFFICIENT_CREDIT"
	FaultInvalidState       = "INVALID_STATE"
)

type RowFault struct {
	Code        string
	TargetTable string
	TargetKey   string
	Reason      string
}

func (f *RowFault) Error() string {
	return fmt.Sprintf("%s %s/%s: %s", f.Code, f.TargetTable, f.TargetKey, f.Reason)
}

func newRowFault(code, targetTable, targetKey, reason string) *RowFault {
	return &RowFault{Code: code, TargetTable: targetTable, TargetKey: targetKey, Reason: reason}
}
