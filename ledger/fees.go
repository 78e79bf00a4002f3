package ledger

import (
	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/tx"
)

// feeRate is fee per encoded byte, the unit accept_transaction's relative
// fee-rate policy compares (spec.md §4.4, "fee rate ≥ min_fee_pct ×
// pool_average").
func feeRate(t *tx.Transaction, fee amount.Amount) float64 {
	size := len(tx.Encode(t))
	if size == 0 {
		return 0
	}
	return float64(fee) / float64(size)
}
