package models

import "testing"

// Exhaustive walk of the lifecycle transition tables. Terminal states must
// have no outgoing edges and every edge must be reachable from the initial
// state of its lifecycle.
func TestInvoiceTransitions(t *testing.T) {
	cases := []struct {
		from InvoiceStatus
		to   InvoiceStatus
		ok   bool
	}{
		{InvoiceStatusNotPaid, InvoiceStatusPartialPaid, true},
		{InvoiceStatusNotPaid, InvoiceStatusPaid, true},
		{InvoiceStatusNotPaid, InvoiceStatusSettlementScheduled, true},
		{InvoiceStatusPartialPaid, InvoiceStatusPaid, true},
		{InvoiceStatusPaid, InvoiceStatusSettlementScheduled, true}, // NSF reversal
		{InvoiceStatusPaid, InvoiceStatusRefunded, true},
		{InvoiceStatusRefunded, InvoiceStatusPaid, false},
		{InvoiceStatusPaid, InvoiceStatusNotPaid, false},
		{InvoiceStatusPartialPaid, InvoiceStatusNotPaid, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("invoice %s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestPaymentTransitions(t *testing.T) {
	if !PaymentStatusCreated.CanTransition(PaymentStatusCompleted) {
		t.Error("created -> completed must be allowed")
	}
	if !PaymentStatusCompleted.CanTransition(PaymentStatusFailed) {
		t.Error("completed -> failed must be allowed (NSF after settlement)")
	}
	if PaymentStatusFailed.CanTransition(PaymentStatusCompleted) {
		t.Error("failed is terminal")
	}
	if PaymentStatusFailed.CanTransition(PaymentStatusCreated) {
		t.Error("failed is terminal")
	}
}

func TestDisbursementTransitions(t *testing.T) {
	cases := []struct {
		from DisbursementStatus
		to   DisbursementStatus
		ok   bool
	}{
		{DisbursementStatusPending, DisbursementStatusSent, true},
		{DisbursementStatusSent, DisbursementStatusCompleted, true},
		{DisbursementStatusSent, DisbursementStatusErrored, true},
		{DisbursementStatusCompleted, DisbursementStatusReversed, true},
		{DisbursementStatusErrored, DisbursementStatusSent, true}, // retry after correction
		{DisbursementStatusReversed, DisbursementStatusSent, false},
		{DisbursementStatusCancelled, DisbursementStatusSent, false},
		{DisbursementStatusPending, DisbursementStatusCompleted, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("disbursement %s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestRefundTransitions(t *testing.T) {
	if !RefundStatusSent.CanTransition(RefundStatusProcessed) {
		t.Error("sent -> processed must be allowed")
	}
	if !RefundStatusSent.CanTransition(RefundStatusRejected) {
		t.Error("sent -> rejected must be allowed")
	}
	if RefundStatusProcessed.CanTransition(RefundStatusRejected) {
		t.Error("processed is terminal")
	}
	if !RefundStatusRejected.CanTransition(RefundStatusSent) {
		t.Error("rejected refunds may be re-sent")
	}
}

func TestDeriveJvStatus(t *testing.T) {
	cases := []struct {
		name     string
		children []JvFeedbackStatus
		want     JvFeedbackStatus
	}{
		{"empty stays uploaded", nil, JvFeedbackStatusUploaded},
		{"all completed", []JvFeedbackStatus{JvFeedbackStatusCompleted, JvFeedbackStatusCompleted}, JvFeedbackStatusCompleted},
		{"one errored wins", []JvFeedbackStatus{JvFeedbackStatusCompleted, JvFeedbackStatusErrored}, JvFeedbackStatusErrored},
		{"errored beats uploaded", []JvFeedbackStatus{JvFeedbackStatusUploaded, JvFeedbackStatusErrored}, JvFeedbackStatusErrored},
		{"pending child holds parent", []JvFeedbackStatus{JvFeedbackStatusCompleted, JvFeedbackStatusUploaded}, JvFeedbackStatusUploaded},
	}
	for _, c := range cases {
		if got := DeriveJvStatus(c.children); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestDistributionCodeBreaker(t *testing.T) {
	var d DistributionCode
	at := d.CreatedAt
	d.TripStop("jv-feedback", "feedback code 0012 on forward disbursement", at)
	if d.StopFlag == nil || !*d.StopFlag {
		t.Fatal("breaker must be tripped")
	}
	if d.StoppedBy == nil || *d.StoppedBy != "jv-feedback" {
		t.Fatal("audit trail must record who tripped the breaker")
	}

	// Re-tripping keeps the original audit trail.
	d.TripStop("other", "other reason", at)
	if *d.StoppedBy != "jv-feedback" {
		t.Error("re-trip must not overwrite the audit trail")
	}

	d.ClearStop()
	if *d.StopFlag {
		t.Error("breaker must be cleared")
	}
	if d.StoppedAt != nil || d.StoppedBy != nil || d.StopReason != nil {
		t.Error("audit fields must reset on clear")
	}
}
