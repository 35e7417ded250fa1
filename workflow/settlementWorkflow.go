package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/decoder"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ProcessSettlementRow applies one settlement row to the ledger. Replays
// detect prior application through the receipt / applied-credit idempotency
// keys and change nothing.
func ProcessSettlementRow(ctx context.Context, ledger LedgerGateway, logger *logrus.Logger, row decoder.SettlementRow) error {
	if row.RecordType.IsCredit() {
		return processCreditRow(ctx, ledger, logger, row)
	}
	return processPaymentRow(ledger, logger, row)
}

func processPaymentRow(ledger LedgerGateway, logger *logrus.Logger, row decoder.SettlementRow) error {
	account, err := ledger.FindAccountByNumber(row.CustomerAccount)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return newRowFault(FaultUnmatchedAccount, "accounts", row.CustomerAccount, "customer account not found")
		}
		config.LogError(logger, "settlementWorkflow.go", "processPaymentRow", "FindAccountByNumber", row.CustomerAccount, err)
		return err
	}

	payment, err := ledger.FindOrCreatePaymentByReceipt(row.SourceTransactionNumber, account.ID, row.ApplicationDate)
	if err != nil {
		config.LogError(logger, "settlementWorkflow.go", "processPaymentRow", "FindOrCreatePaymentByReceipt", row.SourceTransactionNumber, err)
		return err
	}

	if row.RecordType.IsReversal() {
		return reverseSettlement(ledger, logger, account, payment, row)
	}

	invoice, err := ledger.FindInvoiceByNumber(row.TargetNumber)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return newRowFault(FaultUnmatchedTarget, "invoices", row.TargetNumber, "target invoice not found")
		}
		config.LogError(logger, "settlementWorkflow.go", "processPaymentRow", "FindInvoiceByNumber", row.TargetNumber, err)
		return err
	}

	created, err := ledger.CreateReceipt(payment.ID, invoice.ID, row.ApplicationId, row.ApplicationAmount)
	if err != nil {
		config.LogError(logger, "settlementWorkflow.go", "processPaymentRow", "CreateReceipt", row.ApplicationId, err)
		return err
	}
	if !created {
		// Replay: this application is already on the ledger.
		return nil
	}

	// Over-payment keeps the excess as account credit instead of failing.
	amount := row.ApplicationAmount
	applied := amount
	excess := decimal.Zero
	if outstanding := invoice.OutstandingAmount(); amount.GreaterThan(outstanding) {
		applied = outstanding
		excess = amount.Sub(outstanding)
	}

	if err := applyToInvoice(ledger, invoice, applied); err != nil {
		return err
	}

	payment.PaidAmount = payment.PaidAmount.Add(amount)
	if excess.IsPositive() {
		// Not attributable to one invoice; the payment stays unlinked.
		payment.InvoiceNumber = nil
		if err := ledger.AddAccountCredit(account.ID, excess); err != nil {
			config.LogError(logger, "settlementWorkflow.go", "processPaymentRow", "AddAccountCredit", account.ID, err)
			return err
		}
	} else {
		receipts, err := ledger.ReceiptsForPayment(payment.ID)
		if err != nil {
			return err
		}
		if len(receipts) == 1 {
			payment.InvoiceNumber = utils.NewString(invoice.InvoiceNumber)
		} else {
			// Multiple invoices settled under one receipt.
			payment.InvoiceNumber = nil
		}
	}
	if payment.Status == models.PaymentStatusCreated {
		payment.Status = models.PaymentStatusCompleted
	}
	if err := ledger.SavePayment(payment); err != nil {
		config.LogError(logger, "settlementWorkflow.go", "processPaymentRow", "SavePayment", payment.ReceiptNumber, err)
		return err
	}
	return nil
}

func applyToInvoice(ledger LedgerGateway, invoice *models.Invoice, applied decimal.Decimal) error {
	invoice.PaidAmount = invoice.PaidAmount.Add(applied)

	next := models.InvoiceStatusPartialPaid
	if invoice.IsFullyPaid() {
		next = models.InvoiceStatusPaid
	}
	if invoice.Status != next {
		if !invoice.Status.CanTransition(next) {
			return newRowFault(FaultInvalidState, "invoices", invoice.InvoiceNumber,
				fmt.Sprintf("cannot transition %s to %s", invoice.Status, next))
		}
		invoice.Status = next
	}
	return ledger.SaveInvoice(invoice)
}

// reverseSettlement undoes a previously applied receipt: invoices revert to
// settlement-scheduled, their receipts are deleted and the payment fails.
// A PAD reversal additionally freezes the account's settlement method.
// Repeating the reversal is a no-op.
func reverseSettlement(ledger LedgerGateway, logger *logrus.Logger, account *models.Account, payment *models.Payment, row decoder.SettlementRow) error {
	receipts, err := ledger.ReceiptsForPayment(payment.ID)
	if err != nil {
		return err
	}

	for _, receipt := range receipts {
		invoice, err := ledger.FindInvoiceById(receipt.InvoiceId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return newRowFault(FaultUnmatchedTarget, "invoices", fmt.Sprint(receipt.InvoiceId), "receipted invoice no longer exists")
			}
			return err
		}
		invoice.PaidAmount = invoice.PaidAmount.Sub(receipt.Amount)
		if invoice.PaidAmount.IsNegative() {
			invoice.PaidAmount = decimal.Zero
		}
		if invoice.Status != models.InvoiceStatusSettlementScheduled {
			if !invoice.Status.CanTransition(models.InvoiceStatusSettlementScheduled) {
				return newRowFault(FaultInvalidState, "invoices", invoice.InvoiceNumber,
					fmt.Sprintf("cannot revert %s to %s", invoice.Status, models.InvoiceStatusSettlementScheduled))
			}
			invoice.Status = models.InvoiceStatusSettlementScheduled
		}
		if err := ledger.SaveInvoice(invoice); err != nil {
			config.LogError(logger, "settlementWorkflow.go", "reverseSettlement", "SaveInvoice", invoice.InvoiceNumber, err)
			return err
		}

		payment.PaidAmount = payment.PaidAmount.Sub(receipt.Amount)
		if payment.PaidAmount.IsNegative() {
			payment.PaidAmount = decimal.Zero
		}
	}

	if err := ledger.DeleteReceiptsForPayment(payment.ID); err != nil {
		config.LogError(logger, "settlementWorkflow.go", "reverseSettlement", "DeleteReceiptsForPayment", payment.ID, err)
		return err
	}

	if payment.Status != models.PaymentStatusFailed {
		payment.Status = models.PaymentStatusFailed
	}
	payment.InvoiceNumber = nil
	if err := ledger.SavePayment(payment); err != nil {
		return err
	}

	// NSF side effect reaches beyond the single invoice: freeze even when
	// other rows of the same file fail.
	if row.RecordType == models.SettlementRecordTypePadReversal {
		if err := ledger.FreezeAccountSettlementMethod(account.ID); err != nil {
			config.LogError(logger, "settlementWorkflow.go", "reverseSettlement", "FreezeAccountSettlementMethod", account.ID, err)
			return err
		}
	}
	return nil
}

// processCreditRow applies an on-account credit or credit memo to an
// invoice. The decrement serializes per credit; the AppliedCredit junction
// makes replays no-ops.
func processCreditRow(ctx context.Context, ledger LedgerGateway, logger *logrus.Logger, row decoder.SettlementRow) error {
	return WithCreditLock(ctx, logger, row.SourceTransactionNumber, func() error {
		credit, err := ledger.GetCreditForUpdate(row.SourceTransactionNumber)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return newRowFault(FaultUnmatchedCredit, "credits", row.SourceTransactionNumber, "credit not found")
			}
			config.LogError(logger, "settlementWorkflow.go", "processCreditRow", "GetCreditForUpdate", row.SourceTransactionNumber, err)
			return err
		}

		invoice, err := ledger.FindInvoiceByNumber(row.TargetNumber)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return newRowFault(FaultUnmatchedTarget, "invoices", row.TargetNumber, "target invoice not found")
			}
			return err
		}

		created, err := ledger.CreateAppliedCredit(credit.ID, invoice.ID, row.ApplicationId, row.ApplicationAmount)
		if err != nil {
			config.LogError(logger, "settlementWorkflow.go", "processCreditRow", "CreateAppliedCredit", row.ApplicationId, err)
			return err
		}
		if !created {
			// Replay: this application id has already been applied.
			return nil
		}

		if credit.RemainingAmount.LessThan(row.ApplicationAmount) {
			return newRowFault(FaultInsufficientCredit, "credits", credit.CreditNumber,
				fmt.Sprintf("remaining %s < applied %s", credit.RemainingAmount, row.ApplicationAmount))
		}

		// Over-application keeps the excess as account credit; the invoice
		// only absorbs its outstanding amount.
		amount := row.ApplicationAmount
		applied := amount
		excess := decimal.Zero
		if outstanding := invoice.OutstandingAmount(); amount.GreaterThan(outstanding) {
			applied = outstanding
			excess = amount.Sub(outstanding)
		}

		credit.RemainingAmount = credit.RemainingAmount.Sub(amount)
		if err := ledger.SaveCredit(credit); err != nil {
			config.LogError(logger, "settlementWorkflow.go", "processCreditRow", "SaveCredit", credit.CreditNumber, err)
			return err
		}
		if excess.IsPositive() {
			if err := ledger.AddAccountCredit(credit.AccountId, excess); err != nil {
				config.LogError(logger, "settlementWorkflow.go", "processCreditRow", "AddAccountCredit", credit.AccountId, err)
				return err
			}
		}

		return applyToInvoice(ledger, invoice, applied)
	})
}
