package workflow

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencySkipAfterSuccess(t *testing.T) {
	db := setupTestDB(t)

	skip, err := BeginIdempotency(db, "recon-file", "msg-1")
	require.NoError(t, err)
	assert.False(t, skip)

	require.NoError(t, MarkIdempotencySucceeded(db, "recon-file", "msg-1"))

	skip, err = BeginIdempotency(db, "recon-file", "msg-1")
	require.NoError(t, err)
	assert.True(t, skip, "a succeeded message must not be processed twice")
}

func TestIdempotencyInProgressAsksForRetry(t *testing.T) {
	db := setupTestDB(t)

	_, err := BeginIdempotency(db, "recon-file", "msg-1")
	require.NoError(t, err)

	_, err = BeginIdempotency(db, "recon-file", "msg-1")
	assert.ErrorIs(t, err, ErrIdempotencyInProgress)
}

func TestIdempotencyFailedAllowsRetry(t *testing.T) {
	db := setupTestDB(t)

	_, err := BeginIdempotency(db, "recon-file", "msg-1")
	require.NoError(t, err)
	require.NoError(t, MarkIdempotencyFailed(db, "recon-file", "msg-1", assert.AnError))

	skip, err := BeginIdempotency(db, "recon-file", "msg-1")
	require.NoError(t, err)
	assert.False(t, skip, "a failed message is retried")
}

func TestIdempotencyKeysAreScopedPerHandler(t *testing.T) {
	db := setupTestDB(t)

	_, err := BeginIdempotency(db, "handler-a", "msg-1")
	require.NoError(t, err)

	skip, err := BeginIdempotency(db, "handler-b", "msg-1")
	require.NoError(t, err)
	assert.False(t, skip)
}

func fileReadyMessage(correlationId string) config.FileReadyMessage {
	return config.FileReadyMessage{
		FileName:        "settlement_20240301.csv",
		StorageLocation: "gs://recon-inbound/settlement_20240301.csv",
		FileType:        string(models.FileTypeSettlement),
		CorrelationId:   correlationId,
	}
}

func TestPoisonedMessageRecordsFailedRun(t *testing.T) {
	db := setupTestDB(t)
	msg := fileReadyMessage("corr-bad")
	msg.FileType = "BOGUS"

	allSucceeded, rowErrors, err := ProcessFile(context.Background(), db, testLogger(), msg)
	require.NoError(t, err, "a poisoned message is acked, not retried")
	assert.False(t, allSucceeded)
	assert.Empty(t, rowErrors)

	// The rejection is durably visible, not silently dropped.
	var run models.FileRun
	require.NoError(t, db.Where("correlation_id = ?", "corr-bad").First(&run).Error)
	assert.Equal(t, models.FileRunStatusFailed, run.Status)
	require.NotNil(t, run.FileError)
	assert.NotEmpty(t, *run.FileError)
}

func TestFileRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	msg := fileReadyMessage("corr-1")

	run, err := beginFileRun(db, models.FileTypeSettlement, msg)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.FileRunStatusRunning, run.Status)
	assert.NotNil(t, run.StartedAt)

	rowErrors := []RowError{{
		LineNumber:  3,
		TargetTable: "invoices",
		TargetKey:   "INV-9",
		ErrorCode:   FaultUnmatchedTarget,
		Message:     "target invoice not found",
	}}
	require.NoError(t, finishFileRun(db, run, 10, rowErrors))
	assert.Equal(t, models.FileRunStatusPartial, run.Status)
	assert.Equal(t, 10, run.RowsTotal)
	assert.Equal(t, 9, run.RowsApplied)
	assert.Equal(t, 1, run.ErrorCount)

	var recorded []models.FileRowError
	require.NoError(t, db.Where("file_run_id = ?", run.ID).Find(&recorded).Error)
	require.Len(t, recorded, 1)
	assert.Equal(t, 3, recorded[0].LineNumber)
	assert.Equal(t, FaultUnmatchedTarget, recorded[0].ErrorCode)

	// A redelivery of a partial run reopens it instead of creating a second.
	reopened, err := beginFileRun(db, models.FileTypeSettlement, msg)
	require.NoError(t, err)
	require.NotNil(t, reopened)
	assert.Equal(t, run.ID, reopened.ID)
	assert.Equal(t, models.FileRunStatusRunning, reopened.Status)

	require.NoError(t, finishFileRun(db, reopened, 10, nil))
	assert.Equal(t, models.FileRunStatusSuccess, reopened.Status)

	// Once succeeded the run short-circuits further deliveries.
	again, err := beginFileRun(db, models.FileTypeSettlement, msg)
	require.NoError(t, err)
	assert.Nil(t, again)

	var runs int64
	require.NoError(t, db.Model(&models.FileRun{}).Count(&runs).Error)
	assert.EqualValues(t, 1, runs)
}
