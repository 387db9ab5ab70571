package reconciliation

import (
	"sort"

	"fee-engine/internal/fees"
	"fee-engine/internal/ledger"
	"fee-engine/internal/money"

	"github.com/shopspring/decimal"
)

// figures is the part of a FeeReconciliation derived from data. Two runs over the same
// logs and ledger produce equal figures.
type figures struct {
	TotalTransactions      int
	TotalTransactionAmount decimal.Decimal
	TotalFeesCharged       decimal.Decimal
	TotalFeesCollected     decimal.Decimal
	Variance               decimal.Decimal
	VariancePercentage     *decimal.Decimal
	FeeBreakdown           map[string]FeeBreakdown
	Discrepancies          []Discrepancy
	Status                 Status
}

type logKey struct {
	tx      string
	feeType string
}

// effectiveLogs keeps the latest log per (transaction, fee type). At equal timestamps a
// MANUAL correction wins over the log it corrects.
func effectiveLogs(logs []fees.CalculationLog) []fees.CalculationLog {
	eff := map[logKey]fees.CalculationLog{}
	for _, l := range logs {
		k := logKey{tx: l.TransactionID, feeType: string(l.FeeType)}
		cur, ok := eff[k]
		switch {
		case !ok, l.CreatedAt.After(cur.CreatedAt):
			eff[k] = l
		case l.CreatedAt.Equal(cur.CreatedAt) && l.Method == fees.MethodManual:
			eff[k] = l
		}
	}

	out := make([]fees.CalculationLog, 0, len(eff))
	for _, l := range eff {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TransactionID != out[j].TransactionID {
			return out[i].TransactionID < out[j].TransactionID
		}
		return out[i].FeeType < out[j].FeeType
	})
	return out
}

func compute(logs []fees.CalculationLog, totals ledger.Totals, tol Tolerance) figures {
	f := figures{
		TotalTransactionAmount: decimal.Zero,
		TotalFeesCollected:     decimal.Zero,
		TotalFeesCharged:       totals.TotalCharged,
		FeeBreakdown:           map[string]FeeBreakdown{},
		Discrepancies:          []Discrepancy{},
	}

	perTx := map[string]decimal.Decimal{}
	for _, l := range effectiveLogs(logs) {
		if _, seen := perTx[l.TransactionID]; !seen {
			f.TotalTransactions++
			f.TotalTransactionAmount = f.TotalTransactionAmount.Add(l.TransactionAmount)
		}
		perTx[l.TransactionID] = perTx[l.TransactionID].Add(l.FinalFeeAmount)
		f.TotalFeesCollected = f.TotalFeesCollected.Add(l.FinalFeeAmount)

		b := f.FeeBreakdown[string(l.FeeType)]
		b.Count++
		b.Amount = b.Amount.Add(l.FinalFeeAmount)
		f.FeeBreakdown[string(l.FeeType)] = b
	}

	f.Variance = f.TotalFeesCharged.Sub(f.TotalFeesCollected)
	if pct, ok := money.Ratio(f.Variance, f.TotalFeesCollected, 4); ok {
		f.VariancePercentage = &pct
	}

	f.Discrepancies = discrepancies(perTx, totals.PerTransaction, tol)
	f.Status = statusFor(f, tol)
	return f
}

func discrepancies(logged, charged map[string]decimal.Decimal, tol Tolerance) []Discrepancy {
	ids := make([]string, 0, len(logged)+len(charged))
	for id := range logged {
		ids = append(ids, id)
	}
	for id := range charged {
		if _, ok := logged[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := []Discrepancy{}
	for _, id := range ids {
		logAmt, hasLog := logged[id]
		ledgerAmt, hasCharge := charged[id]
		switch {
		case hasLog && !hasCharge:
			out = append(out, Discrepancy{
				TransactionID: id,
				Kind:          KindMissingCharge,
				LogAmount:     money.Ptr(logAmt),
				Delta:         logAmt.Neg(),
			})
		case !hasLog && hasCharge:
			out = append(out, Discrepancy{
				TransactionID: id,
				Kind:          KindMissingLog,
				LedgerAmount:  money.Ptr(ledgerAmt),
				Delta:         ledgerAmt,
			})
		default:
			delta := ledgerAmt.Sub(logAmt)
			if withinTolerance(delta, logAmt, tol) {
				continue
			}
			out = append(out, Discrepancy{
				TransactionID: id,
				Kind:          KindAmountMismatch,
				LedgerAmount:  money.Ptr(ledgerAmt),
				LogAmount:     money.Ptr(logAmt),
				Delta:         delta,
			})
		}
	}
	return out
}

func withinTolerance(delta, logAmt decimal.Decimal, tol Tolerance) bool {
	abs := delta.Abs()
	if abs.LessThanOrEqual(tol.Absolute) {
		return true
	}
	if tol.RelativePct.IsPositive() && abs.LessThanOrEqual(money.Percent(logAmt.Abs(), tol.RelativePct)) {
		return true
	}
	return false
}

func statusFor(f figures, tol Tolerance) Status {
	if len(f.Discrepancies) > 0 {
		return StatusDiscrepancy
	}
	if f.VariancePercentage == nil {
		// Nothing computed: only a ledger that also charged nothing is clean.
		if f.Variance.IsZero() {
			return StatusCompleted
		}
		return StatusDiscrepancy
	}
	if f.VariancePercentage.Abs().GreaterThan(tol.VariancePct) {
		return StatusDiscrepancy
	}
	return StatusCompleted
}

func (f figures) applyTo(rec *FeeReconciliation) {
	rec.TotalTransactions = f.TotalTransactions
	rec.TotalTransactionAmount = f.TotalTransactionAmount
	rec.TotalFeesCharged = f.TotalFeesCharged
	rec.TotalFeesCollected = f.TotalFeesCollected
	rec.Variance = f.Variance
	rec.VariancePercentage = f.VariancePercentage
	rec.FeeBreakdown = f.FeeBreakdown
	rec.Discrepancies = f.Discrepancies
	rec.Status = f.Status
}

func figuresOf(rec FeeReconciliation) figures {
	return figures{
		TotalTransactions:      rec.TotalTransactions,
		TotalTransactionAmount: rec.TotalTransactionAmount,
		TotalFeesCharged:       rec.TotalFeesCharged,
		TotalFeesCollected:     rec.TotalFeesCollected,
		Variance:               rec.Variance,
		VariancePercentage:     rec.VariancePercentage,
		FeeBreakdown:           rec.FeeBreakdown,
		Discrepancies:          rec.Discrepancies,
		Status:                 rec.Status,
	}
}
