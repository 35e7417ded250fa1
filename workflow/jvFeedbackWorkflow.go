package workflow

import (
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/decoder"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/sirupsen/logrus"
)

// ProcessJvGroup applies one JV feedback group to its link and disbursement
// target.
//
// A returned *RowFault means a recorded business failure: the transaction
// still commits (an errored link is durable ledger state, not a rollback)
// and the fault goes into the alert. A returned error is transient and
// fails the whole file for redelivery.
func ProcessJvGroup(ledger LedgerGateway, logger *logrus.Logger, batch *models.JvBatch, group decoder.JvGroup) (*RowFault, error) {
	key := group.Debit.FlowThrough

	link, err := ledger.FindJvLink(batch.ID, key.Raw)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return newRowFault(FaultUnmatchedLink, "jv_links", key.Raw, "no link uploaded for flow-through key"), nil
		}
		config.LogError(logger, "jvFeedbackWorkflow.go", "ProcessJvGroup", "FindJvLink", key.Raw, err)
		return nil, err
	}
	if link.Status != models.JvFeedbackStatusUploaded {
		// Replay: feedback for this link is already applied.
		return nil, nil
	}

	if group.IsSuccess() {
		return completeJvLink(ledger, logger, link, group)
	}
	return failJvLink(ledger, logger, link, group)
}

func completeJvLink(ledger LedgerGateway, logger *logrus.Logger, link *models.JvLink, group decoder.JvGroup) (*RowFault, error) {
	invoice, err := ledger.FindInvoiceById(link.InvoiceId)
	if err != nil {
		return nil, err
	}

	// An NSF reversal can pull the invoice out of its settled state while
	// the JV is in flight. The disbursement must not complete against an
	// unsettled invoice; the link stays uploaded so a replay after
	// re-settlement can finish it.
	if !utils.IsTrue(link.IsReversal) && !invoice.Status.IsSettled() {
		return newRowFault(FaultInvalidState, "invoices", invoice.InvoiceNumber,
			fmt.Sprintf("disbursement feedback for invoice in state %s", invoice.Status)), nil
	}

	link.Status = models.JvFeedbackStatusCompleted
	link.StatusCode = decoder.JvSuccessCode

	feedbackDate := group.Debit.Date
	if utils.IsTrue(link.IsReversal) {
		// A successful reversal stamps the reversal date from the JV line.
		if invoice.DisbursementStatus != models.DisbursementStatusReversed {
			if !invoice.DisbursementStatus.CanTransition(models.DisbursementStatusReversed) {
				return nil, fmt.Errorf("invoice %s: cannot reverse disbursement in state %s", invoice.InvoiceNumber, invoice.DisbursementStatus)
			}
			invoice.DisbursementStatus = models.DisbursementStatusReversed
			invoice.DisbursementReversalDate = utils.NewTime(feedbackDate)
		}
	} else {
		if invoice.DisbursementStatus != models.DisbursementStatusCompleted {
			if !invoice.DisbursementStatus.CanTransition(models.DisbursementStatusCompleted) {
				return nil, fmt.Errorf("invoice %s: cannot complete disbursement in state %s", invoice.InvoiceNumber, invoice.DisbursementStatus)
			}
			invoice.DisbursementStatus = models.DisbursementStatusCompleted
			invoice.DisbursementDate = utils.NewTime(feedbackDate)
		}
	}
	if err := ledger.SaveInvoice(invoice); err != nil {
		config.LogError(logger, "jvFeedbackWorkflow.go", "completeJvLink", "SaveInvoice", invoice.InvoiceNumber, err)
		return nil, err
	}

	if err := updateJvTarget(ledger, link, feedbackDate, true); err != nil {
		return nil, err
	}
	return nil, ledger.SaveJvLink(link)
}

func failJvLink(ledger LedgerGateway, logger *logrus.Logger, link *models.JvLink, group decoder.JvGroup) (*RowFault, error) {
	statusCode := group.FailedStatusCode()
	link.Status = models.JvFeedbackStatusErrored
	link.StatusCode = statusCode

	invoice, err := ledger.FindInvoiceById(link.InvoiceId)
	if err != nil {
		return nil, err
	}
	if invoice.DisbursementStatus.CanTransition(models.DisbursementStatusErrored) {
		invoice.DisbursementStatus = models.DisbursementStatusErrored
		if err := ledger.SaveInvoice(invoice); err != nil {
			config.LogError(logger, "jvFeedbackWorkflow.go", "failJvLink", "SaveInvoice", invoice.InvoiceNumber, err)
			return nil, err
		}
	}

	// Circuit breaker: a failing forward disbursement stops the distribution
	// code so automatic disbursement skips it until an operator corrects the
	// mapping. Reversals do not trip it.
	if !utils.IsTrue(link.IsReversal) && invoice.DistributionCodeId > 0 {
		reason := fmt.Sprintf("feedback code %s on flow-through %s", statusCode, link.FlowThroughKey)
		if err := ledger.StopDistributionCode(invoice.DistributionCodeId, "jv-feedback", reason); err != nil {
			config.LogError(logger, "jvFeedbackWorkflow.go", "failJvLink", "StopDistributionCode", invoice.DistributionCodeId, err)
			return nil, err
		}
	}

	if err := updateJvTarget(ledger, link, group.Debit.Date, false); err != nil {
		return nil, err
	}
	if err := ledger.SaveJvLink(link); err != nil {
		return nil, err
	}

	return newRowFault(FaultInvalidState, "jv_links", link.FlowThroughKey,
		fmt.Sprintf("feedback status code %s", statusCode)), nil
}

// updateJvTarget propagates the outcome to the partial refund or partner
// disbursement the flow-through key names, so both flows observe the same
// result from one feedback line.
func updateJvTarget(ledger LedgerGateway, link *models.JvLink, feedbackDate time.Time, success bool) error {
	now := time.Now().UTC()

	switch link.TargetType {
	case models.FlowThroughTypePartialRefund:
		if link.PartialRefundId == nil {
			return fmt.Errorf("link %s: partial refund id missing", link.FlowThroughKey)
		}
		refund, err := ledger.FindPartialRefundById(*link.PartialRefundId)
		if err != nil {
			return err
		}
		next := models.DisbursementStatusErrored
		if success {
			next = models.DisbursementStatusCompleted
			if utils.IsTrue(link.IsReversal) {
				next = models.DisbursementStatusReversed
			}
		}
		if refund.DisbursementStatus != next && refund.DisbursementStatus.CanTransition(next) {
			refund.DisbursementStatus = next
			refund.DisbursementDate = utils.NewTime(feedbackDate)
			return ledger.SavePartialRefund(refund)
		}
		return nil

	case models.FlowThroughTypePartnerDisbursement:
		if link.PartnerDisbursementId == nil {
			return fmt.Errorf("link %s: partner disbursement id missing", link.FlowThroughKey)
		}
		disbursement, err := ledger.FindPartnerDisbursementById(*link.PartnerDisbursementId)
		if err != nil {
			return err
		}
		next := models.DisbursementStatusErrored
		if success {
			next = models.DisbursementStatusCompleted
			if utils.IsTrue(link.IsReversal) {
				next = models.DisbursementStatusReversed
			}
		}
		if disbursement.Status != next && disbursement.Status.CanTransition(next) {
			disbursement.Status = next
			disbursement.ProcessedAt = utils.NewTime(feedbackDate)
			disbursement.FeedbackAt = &now
			return ledger.SavePartnerDisbursement(disbursement)
		}
		return nil
	}
	return nil
}

// FinalizeJvFeedback derives header statuses from their links and the batch
// status from its headers, once every group of the file has been applied.
func FinalizeJvFeedback(ledger LedgerGateway, logger *logrus.Logger, batch *models.JvBatch) error {
	if batch.Status != models.JvFeedbackStatusUploaded && batch.FeedbackAt != nil {
		// Already finalized; a replayed file changes nothing.
		return nil
	}

	headers, err := ledger.FindJvHeadersByBatch(batch.ID)
	if err != nil {
		return err
	}

	headerStatuses := make([]models.JvFeedbackStatus, 0, len(headers))
	for i := range headers {
		header := &headers[i]
		links, err := ledger.FindJvLinksByHeader(header.ID)
		if err != nil {
			return err
		}
		linkStatuses := make([]models.JvFeedbackStatus, 0, len(links))
		for _, link := range links {
			linkStatuses = append(linkStatuses, link.Status)
		}
		derived := models.DeriveJvStatus(linkStatuses)
		if header.Status != derived && header.Status.CanTransition(derived) {
			header.Status = derived
			if err := ledger.SaveJvHeader(header); err != nil {
				config.LogError(logger, "jvFeedbackWorkflow.go", "FinalizeJvFeedback", "SaveJvHeader", header.JvNumber, err)
				return err
			}
		}
		headerStatuses = append(headerStatuses, header.Status)
	}

	derived := models.DeriveJvStatus(headerStatuses)
	if batch.Status != derived && batch.Status.CanTransition(derived) {
		batch.Status = derived
	}
	batch.FeedbackAt = utils.NewTime(time.Now().UTC())
	return ledger.SaveJvBatch(batch)
}
