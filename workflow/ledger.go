package workflow

import (
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerGateway is the narrow surface the reconcilers use to read and
// mutate ledger state. Every mutation is safe to call twice with the same
// arguments; replays must produce no additional side effects.
type LedgerGateway interface {
	FindAccountByNumber(accountNumber string) (*models.Account, error)
	FreezeAccountSettlementMethod(accountId int) error
	AddAccountCredit(accountId int, amount decimal.Decimal) error

	FindInvoiceByNumber(number string) (*models.Invoice, error)
	FindInvoiceById(id int) (*models.Invoice, error)
	SaveInvoice(invoice *models.Invoice) error

	FindOrCreatePaymentByReceipt(receiptNumber string, accountId int, paymentDate time.Time) (*models.Payment, error)
	SavePayment(payment *models.Payment) error
	CreateReceipt(paymentId, invoiceId int, applicationId string, amount decimal.Decimal) (created bool, err error)
	ReceiptsForPayment(paymentId int) ([]models.Receipt, error)
	DeleteReceiptsForPayment(paymentId int) error

	GetCreditForUpdate(creditNumber string) (*models.Credit, error)
	SaveCredit(credit *models.Credit) error
	CreateAppliedCredit(creditId, invoiceId int, applicationId string, amount decimal.Decimal) (created bool, err error)

	FindJvBatchByNumber(batchNumber string) (*models.JvBatch, error)
	SaveJvBatch(batch *models.JvBatch) error
	FindJvHeader(batchId int, jvNumber string) (*models.JvHeader, error)
	FindJvHeadersByBatch(batchId int) ([]models.JvHeader, error)
	SaveJvHeader(header *models.JvHeader) error
	FindJvLink(batchId int, flowThroughKey string) (*models.JvLink, error)
	FindJvLinksByHeader(headerId int) ([]models.JvLink, error)
	SaveJvLink(link *models.JvLink) error

	FindPartialRefundById(id int) (*models.PartialRefund, error)
	SavePartialRefund(refund *models.PartialRefund) error
	FindPartnerDisbursementById(id int) (*models.PartnerDisbursement, error)
	SavePartnerDisbursement(disbursement *models.PartnerDisbursement) error
	StopDistributionCode(id int, by, reason string) error

	FindRefundByRoutingSlip(routingSlipNumber string) (*models.Refund, error)
	SaveRefund(refund *models.Refund) error
	FindShortNameRefundById(refundId string) (*models.ShortNameRefund, error)
	SaveShortNameRefund(refund *models.ShortNameRefund) error
}

// GormLedger implements LedgerGateway on the row transaction the dispatcher
// opened. One GormLedger lives for exactly one row.
type GormLedger struct {
	tx     *gorm.DB
	logger *logrus.Logger
}

func NewGormLedger(tx *gorm.DB, logger *logrus.Logger) *GormLedger {
	return &GormLedger{tx: tx, logger: logger}
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorRecordNotFound
	}
	return err
}

func (l *GormLedger) FindAccountByNumber(accountNumber string) (*models.Account, error) {
	var account models.Account
	if err := l.tx.Where("account_number = ?", accountNumber).First(&account).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &account, nil
}

// FreezeAccountSettlementMethod freezes pre-authorized debit and marks the
// outstanding NSF. Already-frozen accounts are a no-op.
func (l *GormLedger) FreezeAccountSettlementMethod(accountId int) error {
	return l.tx.Model(&models.Account{}).
		Where("id = ?", accountId).
		Updates(models.Account{PadFrozen: utils.NewTrue(), HasOutstandingNsf: utils.NewTrue()}).Error
}

func (l *GormLedger) AddAccountCredit(accountId int, amount decimal.Decimal) error {
	return l.tx.Model(&models.Account{}).
		Where("id = ?", accountId).
		Update("credit_balance", gorm.Expr("credit_balance + ?", amount)).Error
}

// FindInvoiceByNumber resolves a target number. When the literal number is
// unknown it retries the consolidated renumbering variants before giving
// up: the stored consolidated number, then the "-C" suffix form. Invoice
// consolidation renames invoices after billing, so a consolidated match in
// a completed state is a normal outcome, not an error.
func (l *GormLedger) FindInvoiceByNumber(number string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := l.tx.Where("invoice_number = ?", number).First(&invoice).Error
	if err == nil {
		return &invoice, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = l.tx.Where("consolidated_number = ?", number).First(&invoice).Error
	if err == nil {
		return &invoice, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = l.tx.Where("invoice_number = ?", number+"-C").First(&invoice).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &invoice, nil
}

func (l *GormLedger) FindInvoiceById(id int) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := l.tx.First(&invoice, id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &invoice, nil
}

func (l *GormLedger) SaveInvoice(invoice *models.Invoice) error {
	return l.tx.Save(invoice).Error
}

func (l *GormLedger) FindOrCreatePaymentByReceipt(receiptNumber string, accountId int, paymentDate time.Time) (*models.Payment, error) {
	var payment models.Payment
	err := l.tx.Where("receipt_number = ?", receiptNumber).First(&payment).Error
	if err == nil {
		return &payment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	payment = models.Payment{
		ReceiptNumber: receiptNumber,
		AccountId:     accountId,
		PaidAmount:    decimal.Zero,
		Status:        models.PaymentStatusCreated,
		PaymentDate:   utils.NewTime(paymentDate),
	}
	if err := l.tx.Create(&payment).Error; err != nil {
		if isDuplicateKeyErr(err) {
			// Lost the race against a concurrent worker; reread.
			if rerr := l.tx.Where("receipt_number = ?", receiptNumber).First(&payment).Error; rerr != nil {
				return nil, rerr
			}
			return &payment, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (l *GormLedger) SavePayment(payment *models.Payment) error {
	return l.tx.Save(payment).Error
}

// CreateReceipt inserts the receipt for one application. (payment id,
// application id) is unique; a replayed application returns created=false
// and changes nothing.
func (l *GormLedger) CreateReceipt(paymentId, invoiceId int, applicationId string, amount decimal.Decimal) (bool, error) {
	var count int64
	if err := l.tx.Model(&models.Receipt{}).
		Where("payment_id = ? AND application_id = ?", paymentId, applicationId).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	receipt := models.Receipt{
		PaymentId:     paymentId,
		InvoiceId:     invoiceId,
		ApplicationId: applicationId,
		Amount:        amount,
	}
	if err := l.tx.Create(&receipt).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *GormLedger) ReceiptsForPayment(paymentId int) ([]models.Receipt, error) {
	var receipts []models.Receipt
	if err := l.tx.Where("payment_id = ?", paymentId).Order("id").Find(&receipts).Error; err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceiptsForPayment removes every receipt under the payment. Deleting
// zero rows is fine: a replayed reversal finds nothing to delete.
func (l *GormLedger) DeleteReceiptsForPayment(paymentId int) error {
	return l.tx.Where("payment_id = ?", paymentId).Delete(&models.Receipt{}).Error
}

// GetCreditForUpdate loads the credit under a row lock so concurrent
// decrements inside other transactions queue behind this one. sqlite has no
// FOR UPDATE; its single-writer transactions already serialize.
func (l *GormLedger) GetCreditForUpdate(creditNumber string) (*models.Credit, error) {
	query := l.tx
	if l.tx.Dialector.Name() == "mysql" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var credit models.Credit
	if err := query.Where("credit_number = ?", creditNumber).First(&credit).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &credit, nil
}

func (l *GormLedger) SaveCredit(credit *models.Credit) error {
	return l.tx.Save(credit).Error
}

// CreateAppliedCredit inserts the immutable application junction. (credit
// id, external application id) is the idempotency key: a replay returns
// created=false so the caller skips the balance decrement.
func (l *GormLedger) CreateAppliedCredit(creditId, invoiceId int, applicationId string, amount decimal.Decimal) (bool, error) {
	var count int64
	if err := l.tx.Model(&models.AppliedCredit{}).
		Where("credit_id = ? AND external_application_id = ?", creditId, applicationId).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	applied := models.AppliedCredit{
		CreditId:              creditId,
		InvoiceId:             invoiceId,
		AmountApplied:         amount,
		ExternalApplicationId: applicationId,
	}
	if err := l.tx.Create(&applied).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *GormLedger) FindJvBatchByNumber(batchNumber string) (*models.JvBatch, error) {
	var batch models.JvBatch
	if err := l.tx.Where("batch_number = ?", batchNumber).First(&batch).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &batch, nil
}

func (l *GormLedger) SaveJvBatch(batch *models.JvBatch) error {
	return l.tx.Save(batch).Error
}

func (l *GormLedger) FindJvHeader(batchId int, jvNumber string) (*models.JvHeader, error) {
	var header models.JvHeader
	if err := l.tx.Where("jv_batch_id = ? AND jv_number = ?", batchId, jvNumber).First(&header).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &header, nil
}

func (l *GormLedger) FindJvHeadersByBatch(batchId int) ([]models.JvHeader, error) {
	var headers []models.JvHeader
	if err := l.tx.Where("jv_batch_id = ?", batchId).Order("id").Find(&headers).Error; err != nil {
		return nil, err
	}
	return headers, nil
}

func (l *GormLedger) SaveJvHeader(header *models.JvHeader) error {
	return l.tx.Save(header).Error
}

func (l *GormLedger) FindJvLink(batchId int, flowThroughKey string) (*models.JvLink, error) {
	var link models.JvLink
	err := l.tx.
		Joins("JOIN jv_headers ON jv_headers.id = jv_links.jv_header_id").
		Where("jv_headers.jv_batch_id = ? AND jv_links.flow_through_key = ?", batchId, flowThroughKey).
		First(&link).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &link, nil
}

func (l *GormLedger) FindJvLinksByHeader(headerId int) ([]models.JvLink, error) {
	var links []models.JvLink
	if err := l.tx.Where("jv_header_id = ?", headerId).Order("id").Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

func (l *GormLedger) SaveJvLink(link *models.JvLink) error {
	return l.tx.Save(link).Error
}

func (l *GormLedger) FindPartialRefundById(id int) (*models.PartialRefund, error) {
	var refund models.PartialRefund
	if err := l.tx.First(&refund, id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &refund, nil
}

func (l *GormLedger) SavePartialRefund(refund *models.PartialRefund) error {
	return l.tx.Save(refund).Error
}

func (l *GormLedger) FindPartnerDisbursementById(id int) (*models.PartnerDisbursement, error) {
	var disbursement models.PartnerDisbursement
	if err := l.tx.First(&disbursement, id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &disbursement, nil
}

func (l *GormLedger) SavePartnerDisbursement(disbursement *models.PartnerDisbursement) error {
	return l.tx.Save(disbursement).Error
}

// StopDistributionCode trips the circuit breaker with its audit trail. An
// already-stopped code keeps its original audit fields.
func (l *GormLedger) StopDistributionCode(id int, by, reason string) error {
	var code models.DistributionCode
	if err := l.tx.First(&code, id).Error; err != nil {
		return mapNotFound(err)
	}
	if utils.IsTrue(code.StopFlag) {
		return nil
	}
	code.TripStop(by, reason, time.Now().UTC())
	if err := l.tx.Save(&code).Error; err != nil {
		return fmt.Errorf("stop distribution code %d: %w", id, err)
	}
	return nil
}

func (l *GormLedger) FindRefundByRoutingSlip(routingSlipNumber string) (*models.Refund, error) {
	var refund models.Refund
	if err := l.tx.Where("routing_slip_number = ?", routingSlipNumber).First(&refund).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &refund, nil
}

func (l *GormLedger) SaveRefund(refund *models.Refund) error {
	return l.tx.Save(refund).Error
}

func (l *GormLedger) FindShortNameRefundById(refundId string) (*models.ShortNameRefund, error) {
	var refund models.ShortNameRefund
	if err := l.tx.Where("refund_id = ?", refundId).First(&refund).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &refund, nil
}

func (l *GormLedger) SaveShortNameRefund(refund *models.ShortNameRefund) error {
	return l.tx.Save(refund).Error
}
