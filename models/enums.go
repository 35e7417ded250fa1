package models

// FileType is the declared type carried on a file-ready event. It selects
// the decoder and the reconciler.
type FileType string

const (
	FileTypeSettlement      FileType = "SETTLEMENT"
	FileTypeJvFeedback      FileType = "JV_FEEDBACK"
	FileTypeApRefundFeedback FileType = "AP_REFUND_FEEDBACK"
)

func (t FileType) IsValid() bool {
	switch t {
	case FileTypeSettlement, FileTypeJvFeedback, FileTypeApRefundFeedback:
		return true
	}
	return false
}

// SettlementRecordType classifies one settlement row.
type SettlementRecordType string

const (
	SettlementRecordTypePad         SettlementRecordType = "PAD"     // pre-authorized debit
	SettlementRecordTypePadReversal SettlementRecordType = "PAD_REV" // NSF / reversal of a PAD
	SettlementRecordTypeOnlineBanking SettlementRecordType = "OLB"   // online banking payment
	SettlementRecordTypeOnAccount   SettlementRecordType = "OAC"     // on-account credit
	SettlementRecordTypeCreditMemo  SettlementRecordType = "CM"      // credit memo application
)

func (t SettlementRecordType) IsReversal() bool {
	return t == SettlementRecordTypePadReversal
}

func (t SettlementRecordType) IsCredit() bool {
	return t == SettlementRecordTypeOnAccount || t == SettlementRecordTypeCreditMemo
}

// TargetType is what a settlement row points at.
type TargetType string

const (
	TargetTypeInvoice TargetType = "INV"
	TargetTypeReceipt TargetType = "RCP"
)

// InvoiceStatus is the invoice lifecycle. Settlement rows drive it; the
// disbursement lifecycle is tracked independently on the same invoice.
type InvoiceStatus string

const (
	InvoiceStatusNotPaid             InvoiceStatus = "NotPaid"
	InvoiceStatusSettlementScheduled InvoiceStatus = "SettlementScheduled"
	InvoiceStatusPartialPaid         InvoiceStatus = "PartialPaid"
	InvoiceStatusPaid                InvoiceStatus = "Paid"
	InvoiceStatusRefunded            InvoiceStatus = "Refunded"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusNotPaid:             {InvoiceStatusSettlementScheduled, InvoiceStatusPartialPaid, InvoiceStatusPaid},
	InvoiceStatusSettlementScheduled: {InvoiceStatusPartialPaid, InvoiceStatusPaid},
	InvoiceStatusPartialPaid:         {InvoiceStatusPaid, InvoiceStatusSettlementScheduled},
	InvoiceStatusPaid:                {InvoiceStatusRefunded, InvoiceStatusSettlementScheduled},
	InvoiceStatusRefunded:            {},
}

func (s InvoiceStatus) CanTransition(to InvoiceStatus) bool {
	return canTransition(invoiceTransitions[s], to)
}

// IsSettled reports whether the invoice reached a state that allows the
// disbursement lifecycle to advance.
func (s InvoiceStatus) IsSettled() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusRefunded
}

// PaymentStatus is the payment (receipt) lifecycle.
type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "Created"
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusFailed    PaymentStatus = "Failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated:   {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted: {PaymentStatusFailed},
	PaymentStatusFailed:    {},
}

func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	return canTransition(paymentTransitions[s], to)
}

// DisbursementStatus is the downstream-partner payout lifecycle, tracked on
// invoices and partner disbursement rows.
type DisbursementStatus string

const (
	DisbursementStatusPending   DisbursementStatus = "Pending"
	DisbursementStatusSent      DisbursementStatus = "Sent"
	DisbursementStatusCompleted DisbursementStatus = "Completed"
	DisbursementStatusErrored   DisbursementStatus = "Errored"
	DisbursementStatusReversed  DisbursementStatus = "Reversed"
	DisbursementStatusCancelled DisbursementStatus = "Cancelled"
)

var disbursementTransitions = map[DisbursementStatus][]DisbursementStatus{
	DisbursementStatusPending:   {DisbursementStatusSent, DisbursementStatusCancelled},
	DisbursementStatusSent:      {DisbursementStatusCompleted, DisbursementStatusErrored},
	DisbursementStatusCompleted: {DisbursementStatusReversed},
	DisbursementStatusErrored:   {DisbursementStatusSent},
	DisbursementStatusReversed:  {},
	DisbursementStatusCancelled: {},
}

func (s DisbursementStatus) CanTransition(to DisbursementStatus) bool {
	return canTransition(disbursementTransitions[s], to)
}

// RefundStatus is the AP refund lifecycle.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "Pending"
	RefundStatusSent      RefundStatus = "Sent"
	RefundStatusProcessed RefundStatus = "Processed"
	RefundStatusRejected  RefundStatus = "Rejected"
)

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusPending:   {RefundStatusSent},
	RefundStatusSent:      {RefundStatusProcessed, RefundStatusRejected},
	RefundStatusProcessed: {},
	RefundStatusRejected:  {RefundStatusSent},
}

func (s RefundStatus) CanTransition(to RefundStatus) bool {
	return canTransition(refundTransitions[s], to)
}

// JvFeedbackStatus is shared by JvBatch, JvHeader and JvLink. Batch status
// is derived from header statuses, header status from its links.
type JvFeedbackStatus string

const (
	JvFeedbackStatusUploaded  JvFeedbackStatus = "Uploaded"
	JvFeedbackStatusCompleted JvFeedbackStatus = "Completed"
	JvFeedbackStatusErrored   JvFeedbackStatus = "Errored"
)

var jvFeedbackTransitions = map[JvFeedbackStatus][]JvFeedbackStatus{
	JvFeedbackStatusUploaded:  {JvFeedbackStatusCompleted, JvFeedbackStatusErrored},
	JvFeedbackStatusCompleted: {},
	JvFeedbackStatusErrored:   {},
}

func (s JvFeedbackStatus) CanTransition(to JvFeedbackStatus) bool {
	return canTransition(jvFeedbackTransitions[s], to)
}

// FileRunStatus is the outcome of one processed file.
type FileRunStatus string

const (
	FileRunStatusRunning FileRunStatus = "Running"
	FileRunStatusSuccess FileRunStatus = "Success"
	FileRunStatusPartial FileRunStatus = "Partial"
	FileRunStatusFailed  FileRunStatus = "Failed"
)

// FlowThroughType discriminates the disbursement target a JV detail line
// refers to. Produced once by the decoder, consumed everywhere else.
type FlowThroughType string

const (
	FlowThroughTypeInvoice             FlowThroughType = "Invoice"
	FlowThroughTypePartialRefund       FlowThroughType = "PartialRefund"
	FlowThroughTypePartnerDisbursement FlowThroughType = "PartnerDisbursement"
)

func canTransition[T comparable](allowed []T, to T) bool {
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}
