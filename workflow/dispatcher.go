package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/decoder"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var validate = validator.New()

// RowError is one structured row failure, persisted as a FileRowError and
// carried on the alert event.
type RowError struct {
	LineNumber  int
	TargetTable string
	TargetKey   string
	ErrorCode   string
	Message     string
}

// ProcessFile runs one file end-to-end: download, decode, reconcile each
// row in its own transaction, persist the run outcome and alert on any
// failure.
//
// Returns allSucceeded=false with rowErrors for business failures (the
// message should be acked; errors are durably recorded and alerted). A
// non-nil error is transient: the caller nacks and the file is redelivered,
// relying on row idempotency keys to avoid double effects.
func ProcessFile(ctx context.Context, db *gorm.DB, logger *logrus.Logger, msg config.FileReadyMessage) (bool, []RowError, error) {
	if msg.CorrelationId == "" {
		msg.CorrelationId = uuid.NewString()
	}
	fileType := models.FileType(msg.FileType)

	if err := validate.Struct(msg); err != nil {
		// Poisoned message; never retryable. The rejection still leaves a
		// failed run and an alert behind before the ack.
		config.LogError(logger, "dispatcher.go", "ProcessFile", "validate message", msg, err)
		run, beginErr := beginFileRun(db, fileType, msg)
		if beginErr != nil {
			return false, nil, beginErr
		}
		if run == nil {
			return true, nil, nil
		}
		return false, nil, failFileRun(ctx, db, logger, run, msg, err)
	}

	run, err := beginFileRun(db, fileType, msg)
	if err != nil {
		return false, nil, err
	}
	if run == nil {
		// Duplicate delivery of a fully processed file.
		return true, nil, nil
	}

	raw, err := utils.DownloadFromGCS(ctx, msg.StorageLocation)
	if err != nil {
		// Storage unavailability is transient; leave the run open for the
		// redelivery to reuse.
		config.LogError(logger, "dispatcher.go", "ProcessFile", "DownloadFromGCS", msg.StorageLocation, err)
		return false, nil, err
	}

	decoded, err := decoder.Decode(fileType, raw)
	if err != nil {
		// File-level error: reject the whole file, apply nothing.
		return false, nil, failFileRun(ctx, db, logger, run, msg, err)
	}

	var rowErrors []RowError
	switch decoded.Type {
	case models.FileTypeSettlement:
		rowErrors, err = dispatchSettlement(ctx, db, logger, decoded.Settlement)
	case models.FileTypeJvFeedback:
		rowErrors, err = dispatchJvFeedback(ctx, db, logger, decoded.Jv)
	case models.FileTypeApRefundFeedback:
		rowErrors, err = dispatchApRefund(ctx, db, logger, decoded.ApRefund)
	}
	if err != nil {
		if isFileLevel(err) {
			return false, nil, failFileRun(ctx, db, logger, run, msg, err)
		}
		return false, nil, err
	}

	if err := finishFileRun(db, run, rowsInFile(decoded), rowErrors); err != nil {
		return false, nil, err
	}
	if len(rowErrors) > 0 {
		publishRowErrorAlert(ctx, logger, msg, rowErrors)
	}
	return len(rowErrors) == 0, rowErrors, nil
}

// errFileLevel wraps errors that must reject the whole file without retry.
type errFileLevel struct{ err error }

func (e *errFileLevel) Error() string { return e.err.Error() }
func (e *errFileLevel) Unwrap() error { return e.err }

func isFileLevel(err error) bool {
	var fl *errFileLevel
	return errors.As(err, &fl)
}

func dispatchSettlement(ctx context.Context, db *gorm.DB, logger *logrus.Logger, rows []decoder.SettlementRow) ([]RowError, error) {
	var rowErrors []RowError
	for _, row := range rows {
		err := db.Transaction(func(tx *gorm.DB) error {
			return ProcessSettlementRow(ctx, NewGormLedger(tx.WithContext(ctx), logger), logger, row)
		})
		if err != nil {
			var fault *RowFault
			if errors.As(err, &fault) {
				rowErrors = append(rowErrors, rowErrorFromFault(row.LineNumber, fault))
				continue
			}
			return nil, err
		}
	}
	return rowErrors, nil
}

func dispatchJvFeedback(ctx context.Context, db *gorm.DB, logger *logrus.Logger, file *decoder.JvFeedbackFile) ([]RowError, error) {
	var batch *models.JvBatch
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = NewGormLedger(tx.WithContext(ctx), logger).FindJvBatchByNumber(file.BatchNumber)
		return err
	})
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &errFileLevel{fmt.Errorf("no uploaded JV batch %q", file.BatchNumber)}
		}
		return nil, err
	}

	var rowErrors []RowError
	for _, group := range file.Groups {
		var fault *RowFault
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			fault, err = ProcessJvGroup(NewGormLedger(tx.WithContext(ctx), logger), logger, batch, group)
			return err
		})
		if err != nil {
			return nil, err
		}
		if fault != nil {
			rowErrors = append(rowErrors, rowErrorFromFault(group.LineNumber, fault))
		}
	}

	// Derived statuses roll up after every group has been applied.
	err = db.Transaction(func(tx *gorm.DB) error {
		return FinalizeJvFeedback(NewGormLedger(tx.WithContext(ctx), logger), logger, batch)
	})
	if err != nil {
		return nil, err
	}
	return rowErrors, nil
}

func dispatchApRefund(ctx context.Context, db *gorm.DB, logger *logrus.Logger, file *decoder.ApRefundFile) ([]RowError, error) {
	var rowErrors []RowError
	for _, group := range file.Groups {
		var fault *RowFault
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			fault, err = ProcessApRefundGroup(NewGormLedger(tx.WithContext(ctx), logger), logger, group)
			return err
		})
		if err != nil {
			return nil, err
		}
		if fault != nil {
			rowErrors = append(rowErrors, rowErrorFromFault(group.LineNumber, fault))
		}
	}
	return rowErrors, nil
}

func rowErrorFromFault(lineNumber int, fault *RowFault) RowError {
	return RowError{
		LineNumber:  lineNumber,
		TargetTable: fault.TargetTable,
		TargetKey:   fault.TargetKey,
		ErrorCode:   fault.Code,
		Message:     fault.Reason,
	}
}

func rowsInFile(decoded *decoder.File) int {
	switch decoded.Type {
	case models.FileTypeSettlement:
		return len(decoded.Settlement)
	case models.FileTypeJvFeedback:
		return len(decoded.Jv.Groups)
	case models.FileTypeApRefundFeedback:
		return len(decoded.ApRefund.Groups)
	}
	return 0
}

// beginFileRun creates or reopens the run for this correlation id. Returns
// nil when the run already succeeded (duplicate delivery short-circuit).
func beginFileRun(db *gorm.DB, fileType models.FileType, msg config.FileReadyMessage) (*models.FileRun, error) {
	var run models.FileRun
	err := db.Where("correlation_id = ?", msg.CorrelationId).First(&run).Error
	if err == nil {
		if run.Status == models.FileRunStatusSuccess {
			return nil, nil
		}
		run.Status = models.FileRunStatusRunning
		run.StartedAt = utils.NewTime(time.Now().UTC())
		if err := db.Save(&run).Error; err != nil {
			return nil, err
		}
		return &run, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	run = models.FileRun{
		CorrelationId:   msg.CorrelationId,
		FileName:        msg.FileName,
		StorageLocation: msg.StorageLocation,
		FileType:        fileType,
		Status:          models.FileRunStatusRunning,
		StartedAt:       utils.NewTime(time.Now().UTC()),
	}
	if err := db.Create(&run).Error; err != nil {
		if isDuplicateKeyErr(err) {
			if rerr := db.Where("correlation_id = ?", msg.CorrelationId).First(&run).Error; rerr != nil {
				return nil, rerr
			}
			if run.Status == models.FileRunStatusSuccess {
				return nil, nil
			}
			return &run, nil
		}
		return nil, err
	}
	return &run, nil
}

func finishFileRun(db *gorm.DB, run *models.FileRun, rowsTotal int, rowErrors []RowError) error {
	now := time.Now().UTC()
	run.RowsTotal = rowsTotal
	run.RowsApplied = rowsTotal - len(rowErrors)
	run.ErrorCount = len(rowErrors)
	run.Status = models.FileRunStatusSuccess
	if len(rowErrors) > 0 {
		run.Status = models.FileRunStatusPartial
	}
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	if err := db.Save(run).Error; err != nil {
		return err
	}

	for _, rowError := range rowErrors {
		record := models.FileRowError{
			FileRunId:   run.ID,
			LineNumber:  rowError.LineNumber,
			TargetTable: rowError.TargetTable,
			TargetKey:   rowError.TargetKey,
			ErrorCode:   rowError.ErrorCode,
			Message:     rowError.Message,
		}
		if err := db.Create(&record).Error; err != nil {
			return err
		}
	}

	// The ops endpoint caches run status; a finished run invalidates it.
	_ = config.RemoveRedisKey(config.RunStatusCacheKey(run.CorrelationId))
	return nil
}

func failFileRun(ctx context.Context, db *gorm.DB, logger *logrus.Logger, run *models.FileRun, msg config.FileReadyMessage, cause error) error {
	now := time.Now().UTC()
	reason := cause.Error()
	run.Status = models.FileRunStatusFailed
	run.FileError = &reason
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	if err := db.Save(run).Error; err != nil {
		return err
	}

	alert := config.ReconAlertMessage{
		FileName:        msg.FileName,
		StorageLocation: msg.StorageLocation,
		FileType:        msg.FileType,
		CorrelationId:   msg.CorrelationId,
		FileError:       reason,
	}
	if err := config.PublishReconAlert(ctx, alert); err != nil {
		config.LogError(logger, "dispatcher.go", "failFileRun", "PublishReconAlert", msg.FileName, err)
	}
	_ = config.RemoveRedisKey(config.RunStatusCacheKey(run.CorrelationId))
	return nil
}

func publishRowErrorAlert(ctx context.Context, logger *logrus.Logger, msg config.FileReadyMessage, rowErrors []RowError) {
	alert := config.ReconAlertMessage{
		FileName:        msg.FileName,
		StorageLocation: msg.StorageLocation,
		FileType:        msg.FileType,
		CorrelationId:   msg.CorrelationId,
		TargetTable:     rowErrors[0].TargetTable,
	}
	for _, rowError := range rowErrors {
		alert.RowErrors = append(alert.RowErrors, config.ReconAlertRowError{
			LineNumber:  rowError.LineNumber,
			TargetTable: rowError.TargetTable,
			TargetKey:   rowError.TargetKey,
			ErrorCode:   rowError.ErrorCode,
			Message:     rowError.Message,
		})
	}
	if err := config.PublishReconAlert(ctx, alert); err != nil {
		config.LogError(logger, "dispatcher.go", "publishRowErrorAlert", "PublishReconAlert", msg.FileName, err)
	}
}
