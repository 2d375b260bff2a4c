package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// The functions in this file are the pure halves of the ledger
// operations: each mutates a row-locked Account in memory and returns
// the history entries to append. The surrounding transaction persists
// whatever they produce, so a returned error must leave no requirement
// on the caller beyond rolling back.

func applyDelta(acct *Account, delta int64, reason string, min int64) ([]Change, error) {
	loan := acct.Ext.Loan
	if loan != nil && loan.Status == LoanDelinquent {
		changes := []Change{{Type: reason, Amount: delta}}
		switch {
		case delta > 0:
			pay := delta
			if pay > loan.Debt {
				pay = loan.Debt
			}
			loan.Debt -= pay
			acct.Wallet += delta - pay
			if pay > 0 {
				changes = append(changes, Change{Type: reasonLoanPayment, ItemID: loan.OptionID, Amount: -pay})
			}
			if loan.Debt <= 0 {
				changes = append(changes, Change{Type: reasonLoanClosed, ItemID: loan.OptionID})
				acct.Ext.Loan = nil
			}
		case delta < 0:
			// A delinquent account cannot be driven negative; the loss
			// becomes additional debt instead. Debt saturates at
			// MaxInt64 and must never wrap to <= 0.
			loss := -delta
			if delta == math.MinInt64 {
				loss = math.MaxInt64
			}
			loan.Debt = addSat(loan.Debt, loss)
		}
		return changes, nil
	}

	next := acct.Wallet + delta
	if next < min {
		return nil, fmt.Errorf("%w: balance %d, delta %d", ErrMinimumBalanceViolation, acct.Wallet, delta)
	}
	acct.Wallet = next
	return []Change{{Type: reason, Amount: delta}}, nil
}

func setBalance(acct *Account, amount, min int64) []Change {
	if amount < min {
		amount = min
	}
	delta := amount - acct.Wallet
	acct.Wallet = amount
	return []Change{{Type: reasonSetBalance, Amount: delta}}
}

func deposit(acct *Account, amount int64) ([]Change, error) {
	if loan := acct.Ext.Loan; loan != nil && loan.Status == LoanDelinquent {
		return nil, fmt.Errorf("%w: bank is frozen while delinquent", ErrTransferBlocked)
	}
	if acct.Wallet < amount {
		return nil, fmt.Errorf("%w: wallet %d, deposit %d", ErrInsufficientBalance, acct.Wallet, amount)
	}
	if acct.Ext.Bank.Balance+amount > acct.Ext.Bank.Max {
		return nil, fmt.Errorf("%w: %d of %d used, deposit %d",
			ErrBankCapacityExceeded, acct.Ext.Bank.Balance, acct.Ext.Bank.Max, amount)
	}
	acct.Wallet -= amount
	acct.Ext.Bank.Balance += amount
	return []Change{{Type: reasonDeposit, Amount: -amount}}, nil
}

func withdraw(acct *Account, amount int64) ([]Change, error) {
	if loan := acct.Ext.Loan; loan != nil && loan.Status == LoanDelinquent {
		return nil, fmt.Errorf("%w: bank is frozen while delinquent", ErrTransferBlocked)
	}
	if acct.Ext.Bank.Balance < amount {
		return nil, fmt.Errorf("%w: bank %d, withdraw %d", ErrInsufficientBalance, acct.Ext.Bank.Balance, amount)
	}
	acct.Ext.Bank.Balance -= amount
	acct.Wallet += amount
	return []Change{{Type: reasonWithdraw, Amount: amount}}, nil
}

// Hard cap on upgrade units applied by a single call. The per-unit loop
// runs inside a row-locked transaction, so it must stay small.
const maxExpandUnits = 1000

// expandBank raises bankMax once per unit; later units compound off the
// already-raised max. bankMax saturates at MaxInt64 and never wraps.
func expandBank(acct *Account, quantity int64, level int64, cfg Config) []Change {
	if quantity > maxExpandUnits {
		quantity = maxExpandUnits
	}
	var total int64
	for i := int64(0); i < quantity; i++ {
		if acct.Ext.Bank.Max == math.MaxInt64 {
			break
		}
		inc := addSat(mulBps(acct.Ext.Bank.Max, cfg.BankGrowthBps), mulSat(level, cfg.BankPerLevelBonus))
		if inc < cfg.BankMinIncrease {
			inc = cfg.BankMinIncrease
		}
		next := addSat(acct.Ext.Bank.Max, inc)
		total = addSat(total, next-acct.Ext.Bank.Max)
		acct.Ext.Bank.Max = next
	}
	return []Change{{Type: reasonBankExpand, Amount: total}}
}

func takeLoan(acct *Account, opt LoanOption, now time.Time) ([]Change, error) {
	if acct.Ext.Loan != nil {
		return nil, fmt.Errorf("%w: option %s", ErrLoanAlreadyActive, acct.Ext.Loan.OptionID)
	}
	nowMs := now.UnixMilli()
	acct.Ext.Loan = &Loan{
		Status:      LoanActive,
		OptionID:    opt.ID,
		Principal:   opt.Principal,
		Debt:        opt.Principal + mulBps(opt.Principal, opt.InterestBps),
		InterestBps: opt.InterestBps,
		PenaltyBps:  opt.PenaltyBps,
		DueAt:       now.Add(time.Duration(opt.DurationDays) * 24 * time.Hour).UnixMilli(),
		TakenAt:     nowMs,
	}
	acct.Wallet += opt.Principal
	return []Change{{Type: reasonLoanGrant, ItemID: opt.ID, Amount: opt.Principal}}, nil
}

// payLoan pays down the outstanding debt from wallet first, then bank.
// amount == nil means "pay everything affordable".
func payLoan(acct *Account, amount *int64) ([]Change, error) {
	loan := acct.Ext.Loan
	if loan == nil {
		return nil, ErrNoActiveLoan
	}
	available := acct.Wallet + acct.Ext.Bank.Balance
	if available <= 0 {
		return nil, ErrNoFundsAvailable
	}
	pay := loan.Debt
	if amount != nil && *amount < pay {
		pay = *amount
	}
	if pay > available {
		pay = available
	}

	var changes []Change
	remaining := pay
	if fromWallet := sweepUpTo(&acct.Wallet, &remaining); fromWallet > 0 {
		changes = append(changes, Change{Type: reasonLoanPayment, ItemID: loan.OptionID, Amount: -fromWallet})
	}
	if fromBank := sweepUpTo(&acct.Ext.Bank.Balance, &remaining); fromBank > 0 {
		changes = append(changes, Change{Type: reasonLoanPayment, ItemID: loan.OptionID, Amount: -fromBank})
	}
	loan.Debt -= pay
	if loan.Debt <= 0 {
		changes = append(changes, Change{Type: reasonLoanClosed, ItemID: loan.OptionID})
		acct.Ext.Loan = nil
	}
	return changes, nil
}

// settleLoanPayment applies a payment on an already-normalized account.
// When normalization itself closed the loan or drained every fund, the
// request is already settled: the sweep must commit, so the would-be
// NoActiveLoan/NoFundsAvailable rejection is absorbed.
func settleLoanPayment(acct *Account, amount *int64, normalized []Change) ([]Change, error) {
	changes, err := payLoan(acct, amount)
	if err != nil {
		if len(normalized) > 0 && (errors.Is(err, ErrNoActiveLoan) || errors.Is(err, ErrNoFundsAvailable)) {
			return nil, nil
		}
		return nil, err
	}
	return changes, nil
}

func sweepUpTo(balance, want *int64) int64 {
	if *balance <= 0 || *want <= 0 {
		return 0
	}
	take := *balance
	if take > *want {
		take = *want
	}
	*balance -= take
	*want -= take
	return take
}

func transfer(from, to *Account, amount int64) ([]Change, []Change, error) {
	if from.Ext.Loan != nil || to.Ext.Loan != nil {
		return nil, nil, ErrTransferBlocked
	}
	if from.Wallet < amount {
		return nil, nil, fmt.Errorf("%w: wallet %d, transfer %d", ErrInsufficientBalance, from.Wallet, amount)
	}
	from.Wallet -= amount
	to.Wallet += amount
	fromChanges := []Change{{Type: reasonTransferOut, ItemID: to.ID.UserID, Amount: -amount}}
	toChanges := []Change{{Type: reasonTransferIn, ItemID: from.ID.UserID, Amount: amount}}
	return fromChanges, toChanges, nil
}
