package workflow

import (
	"errors"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/decoder"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/sirupsen/logrus"
)

// ProcessApRefundGroup classifies one refund from its feedback group:
// success code means processed, anything else means rejected. A rejected
// refund is a recorded ledger outcome, not a row error; only an unmatched
// target faults the row. The batch completes regardless of individual
// outcomes.
func ProcessApRefundGroup(ledger LedgerGateway, logger *logrus.Logger, group decoder.ApRefundGroup) (*RowFault, error) {
	switch group.KeyType {
	case decoder.ApRefundKeyRoutingSlip:
		return processRoutingSlipRefund(ledger, logger, group)
	case decoder.ApRefundKeyShortNameRefund:
		return processShortNameRefund(ledger, logger, group)
	default:
		return newRowFault(FaultUnmatchedRefund, "refunds", group.Key, "unknown refund key type"), nil
	}
}

func processRoutingSlipRefund(ledger LedgerGateway, logger *logrus.Logger, group decoder.ApRefundGroup) (*RowFault, error) {
	refund, err := ledger.FindRefundByRoutingSlip(group.Key)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return newRowFault(FaultUnmatchedRefund, "refunds", group.Key, "routing slip not found"), nil
		}
		config.LogError(logger, "apRefundWorkflow.go", "processRoutingSlipRefund", "FindRefundByRoutingSlip", group.Key, err)
		return nil, err
	}

	next := models.RefundStatusRejected
	if group.IsSuccess() {
		next = models.RefundStatusProcessed
	}
	if refund.Status == next {
		// Replay: already classified.
		return nil, nil
	}
	if !refund.Status.CanTransition(next) {
		return newRowFault(FaultInvalidState, "refunds", group.Key,
			"refund in state "+string(refund.Status)+" cannot move to "+string(next)), nil
	}
	refund.Status = next
	refund.StatusCode = group.StatusCode
	refund.ProcessedAt = utils.NewTime(group.Date)
	if err := ledger.SaveRefund(refund); err != nil {
		config.LogError(logger, "apRefundWorkflow.go", "processRoutingSlipRefund", "SaveRefund", group.Key, err)
		return nil, err
	}
	return nil, nil
}

func processShortNameRefund(ledger LedgerGateway, logger *logrus.Logger, group decoder.ApRefundGroup) (*RowFault, error) {
	refund, err := ledger.FindShortNameRefundById(group.Key)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return newRowFault(FaultUnmatchedRefund, "short_name_refunds", group.Key, "short-name refund not found"), nil
		}
		config.LogError(logger, "apRefundWorkflow.go", "processShortNameRefund", "FindShortNameRefundById", group.Key, err)
		return nil, err
	}

	next := models.RefundStatusRejected
	if group.IsSuccess() {
		next = models.RefundStatusProcessed
	}
	if refund.Status == next {
		return nil, nil
	}
	if !refund.Status.CanTransition(next) {
		return newRowFault(FaultInvalidState, "short_name_refunds", group.Key,
			"refund in state "+string(refund.Status)+" cannot move to "+string(next)), nil
	}
	refund.Status = next
	refund.StatusCode = group.StatusCode
	refund.ProcessedAt = utils.NewTime(group.Date)
	if err := ledger.SaveShortNameRefund(refund); err != nil {
		config.LogError(logger, "apRefundWorkflow.go", "processShortNameRefund", "SaveShortNameRefund", group.Key, err)
		return nil, err
	}
	return nil, nil
}
