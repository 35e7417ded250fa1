package decoder

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/shopspring/decimal"
)

// SettlementRow is one application line of a settlement report. Transient:
// produced per file, consumed once by the settlement reconciler.
type SettlementRow struct {
	LineNumber                int
	RecordType                models.SettlementRecordType
	SourceTransactionType     string
	SourceTransactionNumber   string // the receipt number
	ApplicationId             string
	ApplicationDate           time.Time
	ApplicationAmount         decimal.Decimal
	CustomerAccount           string
	TargetType                models.TargetType
	TargetNumber              string
	TargetOriginalAmount      decimal.Decimal
	TargetOutstandingAmount   decimal.Decimal
	TargetStatus              string
	ReversalReasonCode        string
	ReversalReasonDescription string
}

// Column order of the settlement report. The header row must carry exactly
// these names; the two reversal columns are optional trailing fields.
var settlementColumns = []string{
	"record_type",
	"source_transaction_type",
	"source_transaction_number",
	"application_id",
	"application_date",
	"application_amount",
	"customer_account",
	"target_type",
	"target_number",
	"target_original_amount",
	"target_outstanding_amount",
	"target_status",
	"reversal_reason_code",
	"reversal_reason_description",
}

const settlementRequiredColumns = 12

var settlementRecordTypes = map[string]models.SettlementRecordType{
	"PAD":     models.SettlementRecordTypePad,
	"PAD_REV": models.SettlementRecordTypePadReversal,
	"OLB":     models.SettlementRecordTypeOnlineBanking,
	"OAC":     models.SettlementRecordTypeOnAccount,
	"CM":      models.SettlementRecordTypeCreditMemo,
}

// DecodeSettlement parses the comma-delimited settlement report: one header
// row of column names then one row per application. The report carries no
// trailer; row-level idempotency keys are the correctness mechanism.
func DecodeSettlement(raw []byte) ([]SettlementRow, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1 // reversal columns are optional
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("settlement file is not valid csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	if err := validateSettlementHeader(records[0]); err != nil {
		return nil, err
	}

	rows := make([]SettlementRow, 0, len(records)-1)
	for i, record := range records[1:] {
		lineNumber := i + 2 // 1-based, after the header row
		if len(record) < settlementRequiredColumns {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("expected at least %d fields, got %d", settlementRequiredColumns, len(record))}
		}

		recordType, ok := settlementRecordTypes[strings.TrimSpace(record[0])]
		if !ok {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("unknown record type %q", record[0])}
		}

		applicationDate, err := time.Parse("2006-01-02", strings.TrimSpace(record[4]))
		if err != nil {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid application date %q", record[4])}
		}

		applicationAmount, err := utils.DecimalFromString(record[5])
		if err != nil {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid application amount %q", record[5])}
		}
		targetOriginal, err := utils.DecimalFromString(record[9])
		if err != nil {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid target original amount %q", record[9])}
		}
		targetOutstanding, err := utils.DecimalFromString(record[10])
		if err != nil {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid target outstanding amount %q", record[10])}
		}

		row := SettlementRow{
			LineNumber:              lineNumber,
			RecordType:              recordType,
			SourceTransactionType:   strings.TrimSpace(record[1]),
			SourceTransactionNumber: strings.TrimSpace(record[2]),
			ApplicationId:           strings.TrimSpace(record[3]),
			ApplicationDate:         applicationDate,
			ApplicationAmount:       applicationAmount,
			CustomerAccount:         strings.TrimSpace(record[6]),
			TargetType:              models.TargetType(strings.TrimSpace(record[7])),
			TargetNumber:            strings.TrimSpace(record[8]),
			TargetOriginalAmount:    targetOriginal,
			TargetOutstandingAmount: targetOutstanding,
			TargetStatus:            strings.TrimSpace(record[11]),
		}
		if len(record) > 12 {
			row.ReversalReasonCode = strings.TrimSpace(record[12])
		}
		if len(record) > 13 {
			row.ReversalReasonDescription = strings.TrimSpace(record[13])
		}
		if row.ApplicationId == "" {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "application id is required"}
		}
		if row.SourceTransactionNumber == "" && !recordType.IsCredit() {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "source transaction number is required"}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func validateSettlementHeader(header []string) error {
	if len(header) < settlementRequiredColumns {
		return &MalformedLineError{LineNumber: 1, Reason: "header row is missing required columns"}
	}
	for i, name := range header {
		if i >= len(settlementColumns) {
			break
		}
		if !strings.EqualFold(strings.TrimSpace(name), settlementColumns[i]) {
			return &MalformedLineError{LineNumber: 1, Reason: fmt.Sprintf("column %d: expected %q, got %q", i+1, settlementColumns[i], name)}
		}
	}
	return nil
}
