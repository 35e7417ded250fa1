package decoder

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
)

func jvDetailLine(code, jvNumber, key, status, amount, date string) string {
	return code +
		fmt.Sprintf("%-10s", jvNumber) +
		strings.Repeat(" ", 6) +
		fmt.Sprintf("%-30s", key) +
		status +
		fmt.Sprintf("%15s", amount) +
		date
}

func jvGroupHeaderLine(jvNumber, total string) string {
	return jvRecordGroupHeader + fmt.Sprintf("%-10s", jvNumber) + fmt.Sprintf("%15s", total)
}

func jvTrailerLine(count int, total string) string {
	return jvRecordTrailer + fmt.Sprintf("%6d", count) + fmt.Sprintf("%15s", total)
}

func jvFixture(lines ...string) []byte {
	all := append([]string{
		"GABG20260115",
		"GABH" + fmt.Sprintf("%-10s", "B2026-001"),
	}, lines...)
	return []byte(strings.Join(all, "\n") + "\n")
}

func TestDecodeJvFeedback(t *testing.T) {
	raw := jvFixture(
		jvGroupHeaderLine("JV0001", "100.00"),
		jvDetailLine(jvRecordDetailDebit, "JV0001", "101", "0000", "100.00", "20260115"),
		jvDetailLine(jvRecordDetailCredit, "JV0001", "101", "0000", "-100.00", "20260115"),
		"GAJH"+fmt.Sprintf("%-10s", "JV0002"),
		jvDetailLine(jvRecordDetailDebit, "JV0002", "102-55", "0012", "250.00", "20260115"),
		jvDetailLine(jvRecordDetailCredit, "JV0002", "102-55", "0000", "-250.00", "20260115"),
		jvTrailerLine(4, "700.00"),
	)

	file, err := DecodeJvFeedback(raw)
	if err != nil {
		t.Fatalf("DecodeJvFeedback: %v", err)
	}
	if file.BatchNumber != "B2026-001" {
		t.Errorf("batch number = %q", file.BatchNumber)
	}
	if len(file.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(file.Groups))
	}

	first := file.Groups[0]
	if !first.IsSuccess() {
		t.Error("first group must be successful")
	}
	if first.Debit.FlowThrough.Type != models.FlowThroughTypeInvoice || first.Debit.FlowThrough.InvoiceId != 101 {
		t.Errorf("flow-through = %+v", first.Debit.FlowThrough)
	}
	if !first.Debit.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("debit amount = %s", first.Debit.Amount)
	}
	if !first.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("group total = %s", first.TotalAmount)
	}

	second := file.Groups[1]
	// A header without a total column decodes as zero.
	if !second.TotalAmount.IsZero() {
		t.Errorf("group total = %s, want zero for blank column", second.TotalAmount)
	}
	if second.IsSuccess() {
		t.Error("second group carries a failing debit code")
	}
	if second.FailedStatusCode() != "0012" {
		t.Errorf("failed status code = %q", second.FailedStatusCode())
	}
	if second.Debit.FlowThrough.Type != models.FlowThroughTypePartnerDisbursement {
		t.Errorf("flow-through type = %s", second.Debit.FlowThrough.Type)
	}
}

func TestDecodeJvFeedbackRejectsTrailerMismatch(t *testing.T) {
	raw := jvFixture(
		"GAJH"+fmt.Sprintf("%-10s", "JV0001"),
		jvDetailLine(jvRecordDetailDebit, "JV0001", "101", "0000", "100.00", "20260115"),
		jvDetailLine(jvRecordDetailCredit, "JV0001", "101", "0000", "-100.00", "20260115"),
		jvTrailerLine(2, "999.00"),
	)
	if _, err := DecodeJvFeedback(raw); !errors.Is(err, ErrTrailerMismatch) {
		t.Fatalf("expected ErrTrailerMismatch, got %v", err)
	}

	raw = jvFixture(
		"GAJH"+fmt.Sprintf("%-10s", "JV0001"),
		jvDetailLine(jvRecordDetailDebit, "JV0001", "101", "0000", "100.00", "20260115"),
		jvDetailLine(jvRecordDetailCredit, "JV0001", "101", "0000", "-100.00", "20260115"),
		jvTrailerLine(5, "200.00"),
	)
	if _, err := DecodeJvFeedback(raw); !errors.Is(err, ErrTrailerMismatch) {
		t.Fatalf("expected ErrTrailerMismatch on count, got %v", err)
	}
}

func TestDecodeJvFeedbackInformationalTrailer(t *testing.T) {
	// Zero count with a nonzero total is informational, not a checksum.
	raw := jvFixture(
		"GAJH"+fmt.Sprintf("%-10s", "JV0001"),
		jvDetailLine(jvRecordDetailDebit, "JV0001", "101", "0000", "100.00", "20260115"),
		jvDetailLine(jvRecordDetailCredit, "JV0001", "101", "0000", "-100.00", "20260115"),
		jvTrailerLine(0, "123.45"),
	)
	if _, err := DecodeJvFeedback(raw); err != nil {
		t.Fatalf("informational trailer must not fail the file: %v", err)
	}
}

func TestDecodeJvFeedbackRejectsMismatchedPair(t *testing.T) {
	raw := jvFixture(
		"GAJH"+fmt.Sprintf("%-10s", "JV0001"),
		jvDetailLine(jvRecordDetailDebit, "JV0001", "101", "0000", "100.00", "20260115"),
		jvDetailLine(jvRecordDetailCredit, "JV0001", "999", "0000", "-100.00", "20260115"),
		jvTrailerLine(2, "200.00"),
	)
	if _, err := DecodeJvFeedback(raw); err == nil {
		t.Fatal("expected error for differing flow-through keys in one group")
	}
}

func TestDecodeJvFeedbackRejectsIncompleteGroup(t *testing.T) {
	raw := jvFixture(
		"GAJH"+fmt.Sprintf("%-10s", "JV0001"),
		jvDetailLine(jvRecordDetailDebit, "JV0001", "101", "0000", "100.00", "20260115"),
		jvTrailerLine(1, "100.00"),
	)
	if _, err := DecodeJvFeedback(raw); err == nil {
		t.Fatal("expected error for group missing its credit detail")
	}
}

func TestDecodeRejectsUnknownFileType(t *testing.T) {
	if _, err := Decode(models.FileType("BOGUS"), []byte("x")); !errors.Is(err, ErrUnknownFileType) {
		t.Fatalf("expected ErrUnknownFileType, got %v", err)
	}
}
