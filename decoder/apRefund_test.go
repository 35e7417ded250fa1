package decoder

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func apDetailHeaderLine(keyType, key, amount string) string {
	return apRecordDetailHeader + keyType + fmt.Sprintf("%-30s", key) + fmt.Sprintf("%15s", amount)
}

func apDetailDataLine(status, date string) string {
	return apRecordDetailData + status + date
}

func apFixture(lines ...string) []byte {
	all := append([]string{
		"APBG20260115",
		"APBH" + fmt.Sprintf("%-10s", "AP26-01"),
	}, lines...)
	return []byte(strings.Join(all, "\n") + "\n")
}

func TestDecodeApRefundFeedback(t *testing.T) {
	raw := apFixture(
		apDetailHeaderLine("RS", "RS-9001", "150.00"),
		apDetailDataLine("0000", "20260116"),
		apDetailHeaderLine("SN", "SNR-17", "42.50"),
		apDetailDataLine("0104", "20260116"),
		apRecordTrailer+fmt.Sprintf("%6d", 2)+fmt.Sprintf("%15s", "192.50"),
	)

	file, err := DecodeApRefundFeedback(raw)
	if err != nil {
		t.Fatalf("DecodeApRefundFeedback: %v", err)
	}
	if file.BatchNumber != "AP26-01" {
		t.Errorf("batch number = %q", file.BatchNumber)
	}
	if len(file.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(file.Groups))
	}

	slip := file.Groups[0]
	if slip.KeyType != ApRefundKeyRoutingSlip || slip.Key != "RS-9001" {
		t.Errorf("routing slip group = %+v", slip)
	}
	if !slip.IsSuccess() {
		t.Error("status 0000 must classify as success")
	}
	if !slip.Amount.Equal(decimal.NewFromInt(150)) {
		t.Errorf("amount = %s", slip.Amount)
	}

	shortName := file.Groups[1]
	if shortName.KeyType != ApRefundKeyShortNameRefund || shortName.Key != "SNR-17" {
		t.Errorf("short-name group = %+v", shortName)
	}
	if shortName.IsSuccess() {
		t.Error("status 0104 must classify as rejected")
	}
}

func TestDecodeApRefundFeedbackRejectsTrailerMismatch(t *testing.T) {
	raw := apFixture(
		apDetailHeaderLine("RS", "RS-9001", "150.00"),
		apDetailDataLine("0000", "20260116"),
		apRecordTrailer+fmt.Sprintf("%6d", 1)+fmt.Sprintf("%15s", "999.99"),
	)
	if _, err := DecodeApRefundFeedback(raw); !errors.Is(err, ErrTrailerMismatch) {
		t.Fatalf("expected ErrTrailerMismatch, got %v", err)
	}
}

func TestDecodeApRefundFeedbackRejectsOrphanDetailData(t *testing.T) {
	raw := apFixture(
		apDetailDataLine("0000", "20260116"),
		apRecordTrailer+fmt.Sprintf("%6d", 0)+fmt.Sprintf("%15s", "0.00"),
	)
	if _, err := DecodeApRefundFeedback(raw); err == nil {
		t.Fatal("expected error for detail data without its header")
	}
}

func TestDecodeApRefundFeedbackRejectsUnknownKeyType(t *testing.T) {
	raw := apFixture(
		apDetailHeaderLine("XX", "RS-9001", "150.00"),
		apDetailDataLine("0000", "20260116"),
		apRecordTrailer+fmt.Sprintf("%6d", 1)+fmt.Sprintf("%15s", "150.00"),
	)
	if _, err := DecodeApRefundFeedback(raw); err == nil {
		t.Fatal("expected error for unknown key type")
	}
}
