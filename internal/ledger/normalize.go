package ledger

import (
	"math"
	"math/big"
	"time"
)

// History reason tags written by the ledger itself.
const (
	reasonLoanGrant   = "loan_grant"
	reasonLoanPayment = "loan_payment"
	reasonLoanDefault = "loan_default"
	reasonLoanSweep   = "loan_sweep"
	reasonLoanClosed  = "loan_closed"
	reasonTransferIn  = "transfer_in"
	reasonTransferOut = "transfer_out"
	reasonDeposit     = "bank_deposit"
	reasonWithdraw    = "bank_withdraw"
	reasonBankExpand  = "bank_expand"
	reasonSetBalance  = "set_balance"
)

// Normalize brings an account's loan state up to date as of now. It is
// the only place the Active -> Delinquent transition happens: a loan
// past its due date is marked delinquent, its debt inflated by the
// overdue penalty, and wallet then bank funds are swept against the
// debt, clamped so neither balance goes negative. Pure: mutates acct,
// touches nothing else.
func Normalize(acct *Account, now time.Time) []Change {
	if acct.Ext.Loan == nil {
		return nil
	}
	var changes []Change
	loan := acct.Ext.Loan
	nowMs := now.UnixMilli()

	if loan.Status == LoanActive && nowMs > loan.DueAt {
		loan.Status = LoanDelinquent
		loan.DefaultedAt = nowMs
		loan.Debt = addBps(loan.Debt, loan.PenaltyBps)
		changes = append(changes, Change{Type: reasonLoanDefault, ItemID: loan.OptionID})
	}

	if loan.Status == LoanDelinquent {
		if swept := sweep(&acct.Wallet, &loan.Debt); swept > 0 {
			changes = append(changes, Change{Type: reasonLoanSweep, ItemID: loan.OptionID, Amount: -swept})
		}
		if swept := sweep(&acct.Ext.Bank.Balance, &loan.Debt); swept > 0 {
			changes = append(changes, Change{Type: reasonLoanSweep, ItemID: loan.OptionID, Amount: -swept})
		}
		if loan.Debt <= 0 {
			changes = append(changes, Change{Type: reasonLoanClosed, ItemID: loan.OptionID})
			acct.Ext.Loan = nil
		}
	}
	return changes
}

// PendingReminders reports the loan notifications that are due but not
// yet delivered. It does not mark them delivered; the consuming
// transaction does, so each fires exactly once.
func PendingReminders(acct *Account, now time.Time, nearDueWindow time.Duration) []Reminder {
	loan := acct.Ext.Loan
	if loan == nil {
		return nil
	}
	var out []Reminder
	nowMs := now.UnixMilli()
	if loan.Status == LoanActive && loan.NearDueNotifiedAt == 0 && nowMs >= loan.DueAt-nearDueWindow.Milliseconds() {
		out = append(out, Reminder{Kind: ReminderNearDue, OptionID: loan.OptionID, Debt: loan.Debt, DueAt: loan.DueAt})
	}
	if loan.Status == LoanDelinquent && loan.OverdueNotifiedAt == 0 {
		out = append(out, Reminder{Kind: ReminderOverdue, OptionID: loan.OptionID, Debt: loan.Debt, DueAt: loan.DueAt})
	}
	return out
}

func markRemindersDelivered(loan *Loan, reminders []Reminder, now time.Time) {
	nowMs := now.UnixMilli()
	for _, r := range reminders {
		switch r.Kind {
		case ReminderNearDue:
			loan.NearDueNotifiedAt = nowMs
		case ReminderOverdue:
			loan.OverdueNotifiedAt = nowMs
		}
	}
}

// sweep moves up to *debt out of *balance, clamping both at zero, and
// returns the amount moved.
func sweep(balance, debt *int64) int64 {
	if *balance <= 0 || *debt <= 0 {
		return 0
	}
	pay := *balance
	if pay > *debt {
		pay = *debt
	}
	*balance -= pay
	*debt -= pay
	return pay
}

// addBps returns v + v*bps/10000, saturating at MaxInt64. big.Int keeps
// the intermediate product from overflowing.
func addBps(v, bps int64) int64 {
	product := new(big.Int).Mul(big.NewInt(v), big.NewInt(10_000+bps))
	product.Div(product, big.NewInt(10_000))
	if !product.IsInt64() {
		return math.MaxInt64
	}
	return product.Int64()
}

// mulBps returns v*bps/10000, saturating at MaxInt64.
func mulBps(v, bps int64) int64 {
	product := new(big.Int).Mul(big.NewInt(v), big.NewInt(bps))
	product.Div(product, big.NewInt(10_000))
	if !product.IsInt64() {
		return math.MaxInt64
	}
	return product.Int64()
}

// addSat returns a + b, saturating at the int64 bounds.
func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

// mulSat returns a * b, saturating at the int64 bounds.
func mulSat(a, b int64) int64 {
	product := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	if !product.IsInt64() {
		if product.Sign() < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return product.Int64()
}
