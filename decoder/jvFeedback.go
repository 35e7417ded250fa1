package decoder

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/shopspring/decimal"
)

// JV feedback is line-oriented fixed-width text. Record code is the first
// four characters of every line:
//
//	GABG  batch begin
//	GABH  batch header (batch number)
//	GAJH  JV group header (one per JV transaction; JV number + group total)
//	GAJD  detail debit  \ pair carrying the flow-through key,
//	GAJC  detail credit / status code, amount and feedback date
//	GABT  batch trailer (detail line count + hash total)
//
// Group header layout: record code [0:4], JV number [4:14], group total
// [14:29]. Detail layout: record code [0:4], JV number [4:14], filler
// [14:20], flow-through key [20:50], status code [50:54], signed amount
// [54:69], feedback date YYYYMMDD [69:77].

const (
	jvRecordBatchBegin  = "GABG"
	jvRecordBatchHeader = "GABH"
	jvRecordGroupHeader = "GAJH"
	jvRecordDetailDebit = "GAJD"
	jvRecordDetailCredit = "GAJC"
	jvRecordTrailer     = "GABT"

	// JvSuccessCode is the feedback status meaning the line posted cleanly.
	JvSuccessCode = "0000"

	jvDetailMinLen = 77
)

type JvDetail struct {
	LineNumber  int
	FlowThrough FlowThroughKey
	StatusCode  string
	Amount      decimal.Decimal
	Date        time.Time
}

func (d JvDetail) IsSuccess() bool {
	return d.StatusCode == JvSuccessCode
}

// JvGroup is one (header, detail-debit, detail-credit) triple. Both details
// carry the same flow-through key; a non-success code on either side fails
// the link the group resolves to. TotalAmount is the group total the header
// line carries; blank on older feeds, so zero means "not reported".
type JvGroup struct {
	LineNumber  int
	JvNumber    string
	TotalAmount decimal.Decimal
	Debit       JvDetail
	Credit      JvDetail
}

func (g JvGroup) IsSuccess() bool {
	return g.Debit.IsSuccess() && g.Credit.IsSuccess()
}

// FailedStatusCode returns the first non-success code in the pair.
func (g JvGroup) FailedStatusCode() string {
	if !g.Debit.IsSuccess() {
		return g.Debit.StatusCode
	}
	if !g.Credit.IsSuccess() {
		return g.Credit.StatusCode
	}
	return JvSuccessCode
}

type JvFeedbackFile struct {
	BatchNumber  string
	Groups       []JvGroup
	TrailerCount int
	TrailerTotal decimal.Decimal
}

// DecodeJvFeedback parses a JV feedback file and validates its trailer:
// the detail line count and the hash total (sum of absolute detail amounts)
// must match the parsed body or the whole file is rejected. A trailer whose
// count is zero while the total is nonzero is treated as informational.
func DecodeJvFeedback(raw []byte) (*JvFeedbackFile, error) {
	file := &JvFeedbackFile{}

	var (
		sawBegin    bool
		sawTrailer  bool
		current     *JvGroup
		detailCount int
		hashTotal   = decimal.Zero
	)

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if sawTrailer {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "content after batch trailer"}
		}
		if len(line) < 4 {
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "line shorter than record code"}
		}

		switch line[:4] {
		case jvRecordBatchBegin:
			if sawBegin {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "duplicate batch begin"}
			}
			sawBegin = true

		case jvRecordBatchHeader:
			if !sawBegin {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "batch header before batch begin"}
			}
			file.BatchNumber = strings.TrimSpace(fixedSlice(line, 4, 14))
			if file.BatchNumber == "" {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "batch number is required"}
			}

		case jvRecordGroupHeader:
			if err := closeJvGroup(current); err != nil {
				return nil, err
			}
			if current != nil {
				file.Groups = append(file.Groups, *current)
			}
			total, err := utils.DecimalFromString(fixedSlice(line, 14, 29))
			if err != nil {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid group total %q", fixedSlice(line, 14, 29))}
			}
			current = &JvGroup{
				LineNumber:  lineNumber,
				JvNumber:    strings.TrimSpace(fixedSlice(line, 4, 14)),
				TotalAmount: total,
			}

		case jvRecordDetailDebit, jvRecordDetailCredit:
			if current == nil {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "detail line outside a JV group"}
			}
			detail, err := parseJvDetail(line, lineNumber)
			if err != nil {
				return nil, err
			}
			if line[:4] == jvRecordDetailDebit {
				if current.Debit.LineNumber != 0 {
					return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "duplicate detail debit in JV group"}
				}
				current.Debit = detail
			} else {
				if current.Credit.LineNumber != 0 {
					return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "duplicate detail credit in JV group"}
				}
				current.Credit = detail
			}
			detailCount++
			hashTotal = hashTotal.Add(detail.Amount.Abs())

		case jvRecordTrailer:
			if err := closeJvGroup(current); err != nil {
				return nil, err
			}
			if current != nil {
				file.Groups = append(file.Groups, *current)
				current = nil
			}
			count, total, err := parseTrailer(line, lineNumber)
			if err != nil {
				return nil, err
			}
			file.TrailerCount = count
			file.TrailerTotal = total
			sawTrailer = true

		default:
			return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("unknown record code %q", line[:4])}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if !sawBegin {
		return nil, ErrEmptyFile
	}
	if !sawTrailer {
		return nil, fmt.Errorf("%w: missing batch trailer", ErrTrailerMismatch)
	}
	if err := validateTrailer(file.TrailerCount, file.TrailerTotal, detailCount, hashTotal); err != nil {
		return nil, err
	}
	return file, nil
}

func parseJvDetail(line string, lineNumber int) (JvDetail, error) {
	if len(line) < jvDetailMinLen {
		return JvDetail{}, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("detail line shorter than %d characters", jvDetailMinLen)}
	}

	flowThrough, err := ParseFlowThroughKey(fixedSlice(line, 20, 50))
	if err != nil {
		return JvDetail{}, &MalformedLineError{LineNumber: lineNumber, Reason: err.Error()}
	}

	statusCode := strings.TrimSpace(fixedSlice(line, 50, 54))
	if statusCode == "" {
		return JvDetail{}, &MalformedLineError{LineNumber: lineNumber, Reason: "status code is required"}
	}

	amount, err := utils.DecimalFromString(fixedSlice(line, 54, 69))
	if err != nil {
		return JvDetail{}, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid amount %q", fixedSlice(line, 54, 69))}
	}

	date, err := time.Parse("20060102", strings.TrimSpace(fixedSlice(line, 69, 77)))
	if err != nil {
		return JvDetail{}, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid feedback date %q", fixedSlice(line, 69, 77))}
	}

	return JvDetail{
		LineNumber:  lineNumber,
		FlowThrough: flowThrough,
		StatusCode:  statusCode,
		Amount:      amount,
		Date:        date,
	}, nil
}

func closeJvGroup(group *JvGroup) error {
	if group == nil {
		return nil
	}
	if group.Debit.LineNumber == 0 || group.Credit.LineNumber == 0 {
		return &MalformedLineError{LineNumber: group.LineNumber, Reason: "JV group is missing its debit/credit pair"}
	}
	if group.Debit.FlowThrough.Raw != group.Credit.FlowThrough.Raw {
		return &MalformedLineError{LineNumber: group.LineNumber, Reason: "debit and credit flow-through keys differ"}
	}
	return nil
}

// parseTrailer reads the detail count [4:10] and hash total [10:25].
func parseTrailer(line string, lineNumber int) (int, decimal.Decimal, error) {
	if len(line) < 25 {
		return 0, decimal.Zero, &MalformedLineError{LineNumber: lineNumber, Reason: "trailer line too short"}
	}
	count, err := strconv.Atoi(strings.TrimSpace(fixedSlice(line, 4, 10)))
	if err != nil {
		return 0, decimal.Zero, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid trailer count %q", fixedSlice(line, 4, 10))}
	}
	total, err := utils.DecimalFromString(fixedSlice(line, 10, 25))
	if err != nil {
		return 0, decimal.Zero, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid trailer total %q", fixedSlice(line, 10, 25))}
	}
	return count, total, nil
}

// validateTrailer enforces the checksum invariant. A zero count with a
// nonzero total is an informational trailer; row-level idempotency keys
// remain the primary correctness mechanism.
func validateTrailer(trailerCount int, trailerTotal decimal.Decimal, detailCount int, hashTotal decimal.Decimal) error {
	if trailerCount == 0 && !trailerTotal.IsZero() {
		return nil
	}
	if trailerCount != detailCount {
		return fmt.Errorf("%w: trailer count %d, parsed %d detail lines", ErrTrailerMismatch, trailerCount, detailCount)
	}
	if !trailerTotal.Equal(hashTotal) {
		return fmt.Errorf("%w: trailer total %s, parsed hash total %s", ErrTrailerMismatch, trailerTotal, hashTotal)
	}
	return nil
}

// fixedSlice is a bounds-safe fixed-width column read.
func fixedSlice(line string, from, to int) string {
	if from >= len(line) {
		return ""
	}
	if to > len(line) {
		to = len(line)
	}
	return line[from:to]
}
