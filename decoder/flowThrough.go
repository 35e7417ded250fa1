package decoder

import (
	"fmt"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// FlowThroughKey is the typed form of the identifier embedded in a JV
// detail line. Wire forms:
//
//	{invoiceId}                          -> invoice disbursement
//	{invoiceId}-PR-{partialRefundId}     -> partial refund disbursement
//	{invoiceId}-{partnerDisbursementId}  -> partner disbursement
//
// Parsed once here; everything downstream switches on Type instead of
// re-matching strings.
type FlowThroughKey struct {
	Raw                   string
	Type                  models.FlowThroughType
	InvoiceId             int
	PartialRefundId       int
	PartnerDisbursementId int
}

func ParseFlowThroughKey(raw string) (FlowThroughKey, error) {
	key := FlowThroughKey{Raw: strings.TrimSpace(raw)}
	if key.Raw == "" {
		return key, fmt.Errorf("flow-through key is empty")
	}

	if idx := strings.Index(key.Raw, "-PR-"); idx >= 0 {
		invoiceId, err := strconv.Atoi(key.Raw[:idx])
		if err != nil {
			return key, fmt.Errorf("invalid invoice id in flow-through key %q", key.Raw)
		}
		partialRefundId, err := strconv.Atoi(key.Raw[idx+len("-PR-"):])
		if err != nil {
			return key, fmt.Errorf("invalid partial refund id in flow-through key %q", key.Raw)
		}
		key.Type = models.FlowThroughTypePartialRefund
		key.InvoiceId = invoiceId
		key.PartialRefundId = partialRefundId
		return key, nil
	}

	if idx := strings.Index(key.Raw, "-"); idx >= 0 {
		invoiceId, err := strconv.Atoi(key.Raw[:idx])
		if err != nil {
			return key, fmt.Errorf("invalid invoice id in flow-through key %q", key.Raw)
		}
		disbursementId, err := strconv.Atoi(key.Raw[idx+1:])
		if err != nil {
			return key, fmt.Errorf("invalid partner disbursement id in flow-through key %q", key.Raw)
		}
		key.Type = models.FlowThroughTypePartnerDisbursement
		key.InvoiceId = invoiceId
		key.PartnerDisbursementId = disbursementId
		return key, nil
	}

	invoiceId, err := strconv.Atoi(key.Raw)
	if err != nil {
		return key, fmt.Errorf("invalid flow-through key %q", key.Raw)
	}
	key.Type = models.FlowThroughTypeInvoice
	key.InvoiceId = invoiceId
	return key, nil
}
