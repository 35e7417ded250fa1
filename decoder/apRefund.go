package decoder

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/shopspring/decimal"
)

// AP refund feedback shares the JV file shape with its own record codes:
//
//	APBG  batch begin
//	APBH  batch header (batch number)
//	APDH  detail header (target key + amount)
//	APDD  detail data (4-digit status code + processed date)
//	APBT  batch trailer (group count + hash total)
//
// Detail header layout: record code [0:4], key type [4:6] ("RS" routing
// slip, "SN" short-name refund), key [6:36], amount [36:51]. Detail data
// layout: record code [0:4], status code [4:8], date YYYYMMDD [8:16].

const (
	apRecordBatchBegin   = "APBG"
	apRecordBatchHeader  = "APBH"
	apRecordDetailHeader = "APDH"
	apRecordDetailData   = "APDD"
	apRecordTrailer      = "APBT"

	// ApSuccessCode is the feedback status meaning the refund was processed.
	ApSuccessCode = "0000"
)

type ApRefundKeyType string

const (
	ApRefundKeyRoutingSlip     ApRefundKeyType = "RS"
	ApRefundKeyShortNameRefund ApRefundKeyType = "SN"
)

// ApRefundGroup is one detail-header/detail-data pair, classifying one
// refund as processed or rejected.
type ApRefundGroup struct {
	LineNumber int
	KeyType    ApRefundKeyType
	Key        string
	Amount     decimal.Decimal
	StatusCode string
	Date       time.Time
}

func (g ApRefundGroup) IsSuccess() bool {
	return g.StatusCode == ApSuccessCode
}

type ApRefundFile struct {
	BatchNumber  string
	Groups       []ApRefundGroup
	TrailerCount int
	TrailerTotal decimal.Decimal
}

// DecodeApRefundFeedback parses an AP refund feedback file. The trailer is
// validated the same way as JV feedback: group count plus hash total, with
// a zero-count trailer treated as informational.
func DecodeApRefundFeedback(raw []byte) (*ApRefundFile, error) {
	file := &ApRefundFile{}

	var (
		sawBegin   bool
		sawTrailer bool
		current    *ApRefundGroup
		hashTotal  = decimal.Zero
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
		case apRecordBatchBegin:
			if sawBegin {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "duplicate batch begin"}
			}
			sawBegin = true

		case apRecordBatchHeader:
			if !sawBegin {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "batch header before batch begin"}
			}
			file.BatchNumber = strings.TrimSpace(fixedSlice(line, 4, 14))
			if file.BatchNumber == "" {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "batch number is required"}
			}

		case apRecordDetailHeader:
			if current != nil {
				return nil, &MalformedLineError{LineNumber: current.LineNumber, Reason: "detail header without detail data"}
			}
			group, err := parseApDetailHeader(line, lineNumber)
			if err != nil {
				return nil, err
			}
			current = &group

		case apRecordDetailData:
			if current == nil {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: "detail data without detail header"}
			}
			statusCode := strings.TrimSpace(fixedSlice(line, 4, 8))
			if len(statusCode) != 4 {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid status code %q", statusCode)}
			}
			date, err := time.Parse("20060102", strings.TrimSpace(fixedSlice(line, 8, 16)))
			if err != nil {
				return nil, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid processed date %q", fixedSlice(line, 8, 16))}
			}
			current.StatusCode = statusCode
			current.Date = date
			hashTotal = hashTotal.Add(current.Amount.Abs())
			file.Groups = append(file.Groups, *current)
			current = nil

		case apRecordTrailer:
			if current != nil {
				return nil, &MalformedLineError{LineNumber: current.LineNumber, Reason: "detail header without detail data"}
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
	if err := validateTrailer(file.TrailerCount, file.TrailerTotal, len(file.Groups), hashTotal); err != nil {
		return nil, err
	}
	return file, nil
}

func parseApDetailHeader(line string, lineNumber int) (ApRefundGroup, error) {
	if len(line) < 51 {
		return ApRefundGroup{}, &MalformedLineError{LineNumber: lineNumber, Reason: "detail header line too short"}
	}

	keyType := ApRefundKeyType(strings.TrimSpace(fixedSlice(line, 4, 6)))
	if keyType != ApRefundKeyRoutingSlip && keyType != ApRefundKeyShortNameRefund {
		return ApRefundGroup{}, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("unknown refund key type %q", keyType)}
	}

	key := strings.TrimSpace(fixedSlice(line, 6, 36))
	if key == "" {
		return ApRefundGroup{}, &MalformedLineError{LineNumber: lineNumber, Reason: "refund key is required"}
	}

	amount, err := utils.DecimalFromString(fixedSlice(line, 36, 51))
	if err != nil {
		return ApRefundGroup{}, &MalformedLineError{LineNumber: lineNumber, Reason: fmt.Sprintf("invalid amount %q", fixedSlice(line, 36, 51))}
	}

	return ApRefundGroup{
		LineNumber: lineNumber,
		KeyType:    keyType,
		Key:        key,
		Amount:     amount,
	}, nil
}
