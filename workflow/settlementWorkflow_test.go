package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/decoder"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func money(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func seedAccount(t *testing.T, db *gorm.DB, number string) *models.Account {
	t.Helper()
	account := models.Account{AccountNumber: number, Name: "Test Payer", CreditBalance: decimal.Zero}
	require.NoError(t, db.Create(&account).Error)
	return &account
}

func seedInvoice(t *testing.T, db *gorm.DB, accountId int, number, total string) *models.Invoice {
	t.Helper()
	invoice := models.Invoice{
		InvoiceNumber:      number,
		AccountId:          accountId,
		TotalAmount:        money(total),
		PaidAmount:         decimal.Zero,
		Status:             models.InvoiceStatusSettlementScheduled,
		DisbursementStatus: models.DisbursementStatusPending,
	}
	require.NoError(t, db.Create(&invoice).Error)
	return &invoice
}

func paymentRow(receipt, applicationId, account, target, amount string) decoder.SettlementRow {
	return decoder.SettlementRow{
		RecordType:              models.SettlementRecordTypePad,
		SourceTransactionNumber: receipt,
		ApplicationId:           applicationId,
		ApplicationDate:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ApplicationAmount:       money(amount),
		CustomerAccount:         account,
		TargetType:              models.TargetTypeInvoice,
		TargetNumber:            target,
	}
}

func runRow(t *testing.T, db *gorm.DB, row decoder.SettlementRow) error {
	t.Helper()
	return db.Transaction(func(tx *gorm.DB) error {
		return ProcessSettlementRow(context.Background(), NewGormLedger(tx, testLogger()), testLogger(), row)
	})
}

func TestSettlementReceiptAcrossTwoInvoices(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	seedInvoice(t, db, account.ID, "INV-1", "120.00")
	seedInvoice(t, db, account.ID, "INV-2", "80.00")

	require.NoError(t, runRow(t, db, paymentRow("RCPT-1", "APP-1", "ACC-1", "INV-1", "120.00")))
	require.NoError(t, runRow(t, db, paymentRow("RCPT-1", "APP-2", "ACC-1", "INV-2", "80.00")))

	var inv1, inv2 models.Invoice
	require.NoError(t, db.Where("invoice_number = ?", "INV-1").First(&inv1).Error)
	require.NoError(t, db.Where("invoice_number = ?", "INV-2").First(&inv2).Error)
	assert.Equal(t, models.InvoiceStatusPaid, inv1.Status)
	assert.Equal(t, models.InvoiceStatusPaid, inv2.Status)
	assert.True(t, inv1.PaidAmount.Equal(money("120.00")))
	assert.True(t, inv2.PaidAmount.Equal(money("80.00")))

	var payment models.Payment
	require.NoError(t, db.Where("receipt_number = ?", "RCPT-1").First(&payment).Error)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.True(t, payment.PaidAmount.Equal(money("200.00")))
	// Two invoices under one receipt: not attributable to either.
	assert.Nil(t, payment.InvoiceNumber)

	var receipts int64
	require.NoError(t, db.Model(&models.Receipt{}).Count(&receipts).Error)
	assert.EqualValues(t, 2, receipts)
}

func TestSettlementReplayIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	seedInvoice(t, db, account.ID, "INV-1", "100.00")

	row := paymentRow("RCPT-1", "APP-1", "ACC-1", "INV-1", "100.00")
	require.NoError(t, runRow(t, db, row))
	require.NoError(t, runRow(t, db, row))
	require.NoError(t, runRow(t, db, row))

	var invoice models.Invoice
	require.NoError(t, db.Where("invoice_number = ?", "INV-1").First(&invoice).Error)
	assert.True(t, invoice.PaidAmount.Equal(money("100.00")), "replays must not double-apply")

	var payment models.Payment
	require.NoError(t, db.Where("receipt_number = ?", "RCPT-1").First(&payment).Error)
	assert.True(t, payment.PaidAmount.Equal(money("100.00")))

	var receipts int64
	require.NoError(t, db.Model(&models.Receipt{}).Count(&receipts).Error)
	assert.EqualValues(t, 1, receipts)
}

func TestSettlementPartialPayment(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	invoice := seedInvoice(t, db, account.ID, "INV-1", "100.00")

	require.NoError(t, runRow(t, db, paymentRow("RCPT-1", "APP-1", "ACC-1", "INV-1", "40.00")))

	require.NoError(t, db.First(invoice, invoice.ID).Error)
	assert.Equal(t, models.InvoiceStatusPartialPaid, invoice.Status)
	assert.True(t, invoice.OutstandingAmount().Equal(money("60.00")))

	var payment models.Payment
	require.NoError(t, db.Where("receipt_number = ?", "RCPT-1").First(&payment).Error)
	require.NotNil(t, payment.InvoiceNumber)
	assert.Equal(t, "INV-1", *payment.InvoiceNumber)
}

func TestSettlementOverpaymentBecomesAccountCredit(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	invoice := seedInvoice(t, db, account.ID, "INV-1", "50.00")

	require.NoError(t, runRow(t, db, paymentRow("RCPT-1", "APP-1", "ACC-1", "INV-1", "80.00")))

	require.NoError(t, db.First(invoice, invoice.ID).Error)
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
	assert.True(t, invoice.PaidAmount.Equal(money("50.00")), "invoice only absorbs its outstanding amount")

	require.NoError(t, db.First(account, account.ID).Error)
	assert.True(t, account.CreditBalance.Equal(money("30.00")))

	var payment models.Payment
	require.NoError(t, db.Where("receipt_number = ?", "RCPT-1").First(&payment).Error)
	assert.True(t, payment.PaidAmount.Equal(money("80.00")))
	assert.Nil(t, payment.InvoiceNumber)
}

func TestSettlementPadReversalFreezesAccount(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	invoice := seedInvoice(t, db, account.ID, "INV-1", "300.00")

	require.NoError(t, runRow(t, db, paymentRow("RCPT-1", "APP-1", "ACC-1", "INV-1", "300.00")))

	reversal := paymentRow("RCPT-1", "APP-2", "ACC-1", "INV-1", "300.00")
	reversal.RecordType = models.SettlementRecordTypePadReversal
	reversal.ReversalReasonCode = "NSF"
	require.NoError(t, runRow(t, db, reversal))

	require.NoError(t, db.First(invoice, invoice.ID).Error)
	assert.Equal(t, models.InvoiceStatusSettlementScheduled, invoice.Status)
	assert.True(t, invoice.PaidAmount.IsZero())
	assert.True(t, invoice.OutstandingAmount().Equal(money("300.00")))

	var payment models.Payment
	require.NoError(t, db.Where("receipt_number = ?", "RCPT-1").First(&payment).Error)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.True(t, payment.PaidAmount.IsZero())
	assert.Nil(t, payment.InvoiceNumber)

	var receipts int64
	require.NoError(t, db.Model(&models.Receipt{}).Count(&receipts).Error)
	assert.EqualValues(t, 0, receipts)

	require.NoError(t, db.First(account, account.ID).Error)
	assert.True(t, account.PadFrozen != nil && *account.PadFrozen)
	assert.True(t, account.HasOutstandingNsf != nil && *account.HasOutstandingNsf)

	// Replaying the reversal finds nothing to undo.
	require.NoError(t, runRow(t, db, reversal))
	require.NoError(t, db.First(invoice, invoice.ID).Error)
	assert.True(t, invoice.PaidAmount.IsZero())
}

func TestSettlementUnmatchedAccountFaults(t *testing.T) {
	db := setupTestDB(t)

	err := runRow(t, db, paymentRow("RCPT-1", "APP-1", "NO-SUCH", "INV-1", "10.00"))
	var fault *RowFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultUnmatchedAccount, fault.Code)
	assert.Equal(t, "NO-SUCH", fault.TargetKey)
}

func TestSettlementUnmatchedInvoiceFaults(t *testing.T) {
	db := setupTestDB(t)
	seedAccount(t, db, "ACC-1")

	err := runRow(t, db, paymentRow("RCPT-1", "APP-1", "ACC-1", "NO-SUCH", "10.00"))
	var fault *RowFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultUnmatchedTarget, fault.Code)
}

func TestSettlementResolvesConsolidatedInvoice(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	invoice := seedInvoice(t, db, account.ID, "INV-9-C", "25.00")

	// The report still carries the pre-consolidation number.
	require.NoError(t, runRow(t, db, paymentRow("RCPT-1", "APP-1", "ACC-1", "INV-9", "25.00")))

	require.NoError(t, db.First(invoice, invoice.ID).Error)
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
}

func creditRow(creditNumber, applicationId, account, target, amount string) decoder.SettlementRow {
	row := paymentRow(creditNumber, applicationId, account, target, amount)
	row.RecordType = models.SettlementRecordTypeOnAccount
	return row
}

func TestSettlementCreditApplication(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	invoice := seedInvoice(t, db, account.ID, "INV-1", "60.00")
	credit := models.Credit{
		AccountId:       account.ID,
		Type:            models.CreditTypeOnAccount,
		CreditNumber:    "CR-1",
		OriginalAmount:  money("100.00"),
		RemainingAmount: money("100.00"),
		CreditDate:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&credit).Error)

	row := creditRow("CR-1", "APP-1", "ACC-1", "INV-1", "60.00")
	require.NoError(t, runRow(t, db, row))

	require.NoError(t, db.First(&credit, credit.ID).Error)
	assert.True(t, credit.RemainingAmount.Equal(money("40.00")))
	require.NoError(t, db.First(invoice, invoice.ID).Error)
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)

	// Replay decrements nothing.
	require.NoError(t, runRow(t, db, row))
	require.NoError(t, db.First(&credit, credit.ID).Error)
	assert.True(t, credit.RemainingAmount.Equal(money("40.00")))
}

func TestSettlementCreditOverApplicationRetainsExcess(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	invoice := seedInvoice(t, db, account.ID, "INV-1", "50.00")
	credit := models.Credit{
		AccountId:       account.ID,
		Type:            models.CreditTypeOnAccount,
		CreditNumber:    "CR-1",
		OriginalAmount:  money("100.00"),
		RemainingAmount: money("100.00"),
		CreditDate:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&credit).Error)

	row := creditRow("CR-1", "APP-1", "ACC-1", "INV-1", "80.00")
	require.NoError(t, runRow(t, db, row))

	require.NoError(t, db.First(invoice, invoice.ID).Error)
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
	assert.True(t, invoice.PaidAmount.Equal(money("50.00")), "invoice only absorbs its outstanding amount")
	assert.False(t, invoice.OutstandingAmount().IsNegative())

	// The full 80 leaves the credit; 30 of it lands on the account.
	require.NoError(t, db.First(&credit, credit.ID).Error)
	assert.True(t, credit.RemainingAmount.Equal(money("20.00")))
	require.NoError(t, db.First(account, account.ID).Error)
	assert.True(t, account.CreditBalance.Equal(money("30.00")))

	// Replay applies nothing further.
	require.NoError(t, runRow(t, db, row))
	require.NoError(t, db.First(&credit, credit.ID).Error)
	assert.True(t, credit.RemainingAmount.Equal(money("20.00")))
	require.NoError(t, db.First(account, account.ID).Error)
	assert.True(t, account.CreditBalance.Equal(money("30.00")))
}

func TestSettlementInsufficientCreditRollsBack(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	seedInvoice(t, db, account.ID, "INV-1", "60.00")
	credit := models.Credit{
		AccountId:       account.ID,
		Type:            models.CreditTypeOnAccount,
		CreditNumber:    "CR-1",
		OriginalAmount:  money("100.00"),
		RemainingAmount: money("10.00"),
		CreditDate:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&credit).Error)

	err := runRow(t, db, creditRow("CR-1", "APP-1", "ACC-1", "INV-1", "60.00"))
	var fault *RowFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultInsufficientCredit, fault.Code)

	// The rollback undoes the junction insert so a corrected file can retry.
	var applied int64
	require.NoError(t, db.Model(&models.AppliedCredit{}).Count(&applied).Error)
	assert.EqualValues(t, 0, applied)
	require.NoError(t, db.First(&credit, credit.ID).Error)
	assert.True(t, credit.RemainingAmount.Equal(money("10.00")))
}

func TestSettlementUnmatchedCreditFaults(t *testing.T) {
	db := setupTestDB(t)
	account := seedAccount(t, db, "ACC-1")
	seedInvoice(t, db, account.ID, "INV-1", "60.00")

	err := runRow(t, db, creditRow("NO-SUCH", "APP-1", "ACC-1", "INV-1", "60.00"))
	var fault *RowFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultUnmatchedCredit, fault.Code)
}
