package workflow

import (
	"io"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// In-memory sqlite is per connection; keep the pool at one so every
	// transaction sees the same database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.Account{},
		&models.Invoice{},
		&models.Payment{},
		&models.Receipt{},
		&models.Credit{},
		&models.AppliedCredit{},
		&models.JvBatch{},
		&models.JvHeader{},
		&models.JvLink{},
		&models.PartialRefund{},
		&models.PartnerDisbursement{},
		&models.DistributionCode{},
		&models.Refund{},
		&models.ShortNameRefund{},
		&models.FileRun{},
		&models.FileRowError{},
		&models.IdempotencyKey{},
	)
	require.NoError(t, err)
	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
