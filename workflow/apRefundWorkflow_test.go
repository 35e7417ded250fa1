package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/decoder"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var apFeedbackDate = time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

func apGroup(keyType decoder.ApRefundKeyType, key, statusCode string) decoder.ApRefundGroup {
	return decoder.ApRefundGroup{
		KeyType:    keyType,
		Key:        key,
		Amount:     money("75.00"),
		StatusCode: statusCode,
		Date:       apFeedbackDate,
	}
}

func runApGroup(t *testing.T, db *gorm.DB, group decoder.ApRefundGroup) (*RowFault, error) {
	t.Helper()
	var fault *RowFault
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		fault, txErr = ProcessApRefundGroup(NewGormLedger(tx, testLogger()), testLogger(), group)
		return txErr
	})
	return fault, err
}

func TestApRefundProcessed(t *testing.T) {
	db := setupTestDB(t)
	refund := models.Refund{
		RoutingSlipNumber: "RS-100",
		AccountId:         1,
		Amount:            money("75.00"),
		Status:            models.RefundStatusSent,
	}
	require.NoError(t, db.Create(&refund).Error)

	fault, err := runApGroup(t, db, apGroup(decoder.ApRefundKeyRoutingSlip, "RS-100", decoder.ApSuccessCode))
	require.NoError(t, err)
	assert.Nil(t, fault)

	require.NoError(t, db.First(&refund, refund.ID).Error)
	assert.Equal(t, models.RefundStatusProcessed, refund.Status)
	assert.Equal(t, decoder.ApSuccessCode, refund.StatusCode)
	require.NotNil(t, refund.ProcessedAt)
	assert.True(t, refund.ProcessedAt.Equal(apFeedbackDate))
}

func TestApRefundRejectedIsRecordedNotFaulted(t *testing.T) {
	db := setupTestDB(t)
	refund := models.Refund{
		RoutingSlipNumber: "RS-100",
		AccountId:         1,
		Amount:            money("75.00"),
		Status:            models.RefundStatusSent,
	}
	require.NoError(t, db.Create(&refund).Error)

	fault, err := runApGroup(t, db, apGroup(decoder.ApRefundKeyRoutingSlip, "RS-100", "E404"))
	require.NoError(t, err)
	assert.Nil(t, fault, "a rejection is a ledger outcome, not a row error")

	require.NoError(t, db.First(&refund, refund.ID).Error)
	assert.Equal(t, models.RefundStatusRejected, refund.Status)
	assert.Equal(t, "E404", refund.StatusCode)
}

func TestApRefundRejectedCanBeResentAndProcessed(t *testing.T) {
	db := setupTestDB(t)
	refund := models.Refund{
		RoutingSlipNumber: "RS-100",
		AccountId:         1,
		Amount:            money("75.00"),
		Status:            models.RefundStatusSent,
	}
	require.NoError(t, db.Create(&refund).Error)

	_, err := runApGroup(t, db, apGroup(decoder.ApRefundKeyRoutingSlip, "RS-100", "E404"))
	require.NoError(t, err)

	// Operator corrects and resends; the next feedback file succeeds.
	require.NoError(t, db.Model(&refund).Update("status", models.RefundStatusSent).Error)
	fault, err := runApGroup(t, db, apGroup(decoder.ApRefundKeyRoutingSlip, "RS-100", decoder.ApSuccessCode))
	require.NoError(t, err)
	assert.Nil(t, fault)

	require.NoError(t, db.First(&refund, refund.ID).Error)
	assert.Equal(t, models.RefundStatusProcessed, refund.Status)
}

func TestApRefundReplayIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	refund := models.Refund{
		RoutingSlipNumber: "RS-100",
		AccountId:         1,
		Amount:            money("75.00"),
		Status:            models.RefundStatusSent,
	}
	require.NoError(t, db.Create(&refund).Error)

	group := apGroup(decoder.ApRefundKeyRoutingSlip, "RS-100", decoder.ApSuccessCode)
	_, err := runApGroup(t, db, group)
	require.NoError(t, err)
	fault, err := runApGroup(t, db, group)
	require.NoError(t, err)
	assert.Nil(t, fault)

	require.NoError(t, db.First(&refund, refund.ID).Error)
	assert.Equal(t, models.RefundStatusProcessed, refund.Status)
}

func TestApRefundUnmatchedFaults(t *testing.T) {
	db := setupTestDB(t)

	fault, err := runApGroup(t, db, apGroup(decoder.ApRefundKeyRoutingSlip, "NO-SUCH", decoder.ApSuccessCode))
	require.NoError(t, err)
	require.NotNil(t, fault)
	assert.Equal(t, FaultUnmatchedRefund, fault.Code)
	assert.Equal(t, "NO-SUCH", fault.TargetKey)
}

func TestApShortNameRefundProcessed(t *testing.T) {
	db := setupTestDB(t)
	refund := models.ShortNameRefund{
		ShortName: "ACME",
		RefundId:  "SNR-7",
		Amount:    money("75.00"),
		Status:    models.RefundStatusSent,
	}
	require.NoError(t, db.Create(&refund).Error)

	fault, err := runApGroup(t, db, apGroup(decoder.ApRefundKeyShortNameRefund, "SNR-7", decoder.ApSuccessCode))
	require.NoError(t, err)
	assert.Nil(t, fault)

	require.NoError(t, db.First(&refund, refund.ID).Error)
	assert.Equal(t, models.RefundStatusProcessed, refund.Status)
	require.NotNil(t, refund.ProcessedAt)
}
