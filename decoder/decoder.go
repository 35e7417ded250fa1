package decoder

import (
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// The decoder is purely functional: bytes in, typed rows out, no side
// effects. Malformed structure or a failed trailer checksum rejects the
// whole file; nothing is silently truncated.

var (
	ErrUnknownFileType = errors.New("unknown file type")
	ErrEmptyFile       = errors.New("file is empty")
	ErrTrailerMismatch = errors.New("trailer does not match parsed body")
)

// MalformedLineError pins a structural error to its line.
type MalformedLineError struct {
	LineNumber int
	Reason     string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.LineNumber, e.Reason)
}

// File is the decoded form of one inbound file. Exactly one of the payload
// fields is set, matching Type.
type File struct {
	Type       models.FileType
	Settlement []SettlementRow
	Jv         *JvFeedbackFile
	ApRefund   *ApRefundFile
}

// Decode parses raw file bytes according to the declared file type.
func Decode(fileType models.FileType, raw []byte) (*File, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyFile
	}
	switch fileType {
	case models.FileTypeSettlement:
		rows, err := DecodeSettlement(raw)
		if err != nil {
			return nil, err
		}
		return &File{Type: fileType, Settlement: rows}, nil
	case models.FileTypeJvFeedback:
		jv, err := DecodeJvFeedback(raw)
		if err != nil {
			return nil, err
		}
		return &File{Type: fileType, Jv: jv}, nil
	case models.FileTypeApRefundFeedback:
		ap, err := DecodeApRefundFeedback(raw)
		if err != nil {
			return nil, err
		}
		return &File{Type: fileType, ApRefund: ap}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFileType, fileType)
	}
}
