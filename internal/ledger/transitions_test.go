package ledger

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{}.withDefaults()
}

func TestApplyDeltaAccumulates(t *testing.T) {
	acct := &Account{}
	deltas := []int64{100, -30, 500, -70}
	var sum int64
	for _, d := range deltas {
		changes, err := applyDelta(acct, d, "grant", 0)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.EqualValues(t, d, changes[0].Amount)
		sum += d
	}
	assert.EqualValues(t, sum, acct.Wallet)
}

func TestApplyDeltaRejectsBelowMinimum(t *testing.T) {
	acct := &Account{Wallet: 40}
	_, err := applyDelta(acct, -41, "bet", 0)
	require.ErrorIs(t, err, ErrMinimumBalanceViolation)
	assert.EqualValues(t, 40, acct.Wallet, "failed delta must leave the wallet unchanged")
}

func TestApplyDeltaDelinquentPositiveRepaysFirst(t *testing.T) {
	acct := &Account{Ext: Extension{Loan: &Loan{Status: LoanDelinquent, OptionID: "starter", Debt: 300}}}

	changes, err := applyDelta(acct, 200, "win", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, acct.Wallet)
	assert.EqualValues(t, 100, acct.Ext.Loan.Debt)
	assert.Contains(t, changeTypes(changes), reasonLoanPayment)

	// Remainder past the debt lands in the wallet and the loan closes.
	changes, err = applyDelta(acct, 250, "win", 0)
	require.NoError(t, err)
	assert.Nil(t, acct.Ext.Loan)
	assert.EqualValues(t, 150, acct.Wallet)
	assert.Contains(t, changeTypes(changes), reasonLoanClosed)
}

func TestApplyDeltaDelinquentNegativeGrowsDebt(t *testing.T) {
	acct := &Account{Wallet: 0, Ext: Extension{Loan: &Loan{Status: LoanDelinquent, OptionID: "starter", Debt: 300}}}
	_, err := applyDelta(acct, -120, "loss", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, acct.Wallet, "wallet never goes negative while delinquent")
	assert.EqualValues(t, 420, acct.Ext.Loan.Debt)
}

func TestApplyDeltaDelinquentLossSaturatesDebt(t *testing.T) {
	for _, delta := range []int64{-math.MaxInt64, math.MinInt64} {
		acct := &Account{Ext: Extension{Loan: &Loan{Status: LoanDelinquent, OptionID: "starter", Debt: 100}}}
		_, err := applyDelta(acct, delta, "loss", 0)
		require.NoError(t, err)
		assert.EqualValues(t, 0, acct.Wallet)
		require.NotNil(t, acct.Ext.Loan)
		assert.EqualValues(t, int64(math.MaxInt64), acct.Ext.Loan.Debt, "delta %d", delta)

		// The debt stayed positive, so normalization must not close it.
		Normalize(acct, time.Now())
		require.NotNil(t, acct.Ext.Loan)
		assert.Positive(t, acct.Ext.Loan.Debt)
	}
}

func TestSetBalanceClampsToMinimum(t *testing.T) {
	acct := &Account{Wallet: 500}
	changes := setBalance(acct, -50, 0)
	assert.EqualValues(t, 0, acct.Wallet)
	require.Len(t, changes, 1)
	assert.EqualValues(t, -500, changes[0].Amount)
}

func TestDepositWithdraw(t *testing.T) {
	acct := &Account{Wallet: 1000, Ext: Extension{Bank: BankState{Max: 100}}}

	_, err := deposit(acct, 101)
	require.ErrorIs(t, err, ErrBankCapacityExceeded)

	changes, err := deposit(acct, 80)
	require.NoError(t, err)
	assert.EqualValues(t, 920, acct.Wallet)
	assert.EqualValues(t, 80, acct.Ext.Bank.Balance)
	require.Len(t, changes, 1)
	assert.EqualValues(t, -80, changes[0].Amount)

	_, err = withdraw(acct, 81)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = withdraw(acct, 80)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, acct.Wallet)
	assert.EqualValues(t, 0, acct.Ext.Bank.Balance)
}

func TestDepositInsufficientWallet(t *testing.T) {
	acct := &Account{Wallet: 0, Ext: Extension{Bank: BankState{Max: 100}}}
	_, err := deposit(acct, 50)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestBankFrozenWhileDelinquent(t *testing.T) {
	acct := &Account{
		Wallet: 100,
		Ext: Extension{
			Bank: BankState{Balance: 50, Max: 100},
			Loan: &Loan{Status: LoanDelinquent, Debt: 10},
		},
	}
	_, err := deposit(acct, 10)
	require.ErrorIs(t, err, ErrTransferBlocked)
	_, err = withdraw(acct, 10)
	require.ErrorIs(t, err, ErrTransferBlocked)
}

func TestExpandBankCompounds(t *testing.T) {
	cfg := testConfig()
	acct := &Account{Ext: Extension{Bank: BankState{Max: 1000}}}

	// Unit 1: 1000*10% + 1*25 = 125. Unit 2 compounds: 1125*10% + 25 = 137.
	changes := expandBank(acct, 2, 1, cfg)
	assert.EqualValues(t, 1262, acct.Ext.Bank.Max)
	require.Len(t, changes, 1)
	assert.EqualValues(t, 262, changes[0].Amount)
}

func TestExpandBankMinimumIncrease(t *testing.T) {
	cfg := testConfig()
	acct := &Account{Ext: Extension{Bank: BankState{Max: 100}}}
	before := acct.Ext.Bank.Max
	expandBank(acct, 1, 1, cfg)
	assert.GreaterOrEqual(t, acct.Ext.Bank.Max-before, cfg.BankMinIncrease)
}

func TestExpandBankSaturates(t *testing.T) {
	cfg := testConfig()
	acct := &Account{Ext: Extension{Bank: BankState{Max: 100}}}

	prev := acct.Ext.Bank.Max
	for i := 0; i < 5; i++ {
		expandBank(acct, maxExpandUnits, 0, cfg)
		assert.GreaterOrEqual(t, acct.Ext.Bank.Max, prev, "bankMax must never decrease")
		prev = acct.Ext.Bank.Max
	}
	assert.EqualValues(t, int64(math.MaxInt64), acct.Ext.Bank.Max)

	// Fully saturated: further units are a no-op, never a wrap.
	changes := expandBank(acct, 1, 1, cfg)
	assert.EqualValues(t, int64(math.MaxInt64), acct.Ext.Bank.Max)
	assert.EqualValues(t, 0, changes[0].Amount)
}

func TestExpandBankCapsUnitsPerCall(t *testing.T) {
	cfg := testConfig()
	acct := &Account{Ext: Extension{Bank: BankState{Max: 100}}}
	expandBank(acct, math.MaxInt64, 0, cfg)
	assert.EqualValues(t, int64(math.MaxInt64), acct.Ext.Bank.Max)
	assert.Positive(t, acct.Ext.Bank.Max)
}

func TestAddSatBounds(t *testing.T) {
	assert.EqualValues(t, int64(math.MaxInt64), addSat(math.MaxInt64, 1))
	assert.EqualValues(t, int64(math.MaxInt64), addSat(1, math.MaxInt64))
	assert.EqualValues(t, int64(math.MinInt64), addSat(math.MinInt64, -1))
	assert.EqualValues(t, 5, addSat(2, 3))
	assert.EqualValues(t, -5, addSat(-2, -3))
}

func TestTakeLoan(t *testing.T) {
	cfg := testConfig()
	opt, ok := cfg.loanOption("starter")
	require.True(t, ok)

	now := time.Now()
	acct := &Account{Wallet: 920}
	changes, err := takeLoan(acct, opt, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1420, acct.Wallet)
	require.NotNil(t, acct.Ext.Loan)
	assert.Equal(t, LoanActive, acct.Ext.Loan.Status)
	assert.EqualValues(t, 550, acct.Ext.Loan.Debt)
	assert.EqualValues(t, now.Add(24*time.Hour).UnixMilli(), acct.Ext.Loan.DueAt)
	require.Len(t, changes, 1)
	assert.EqualValues(t, 500, changes[0].Amount)

	_, err = takeLoan(acct, opt, now)
	require.ErrorIs(t, err, ErrLoanAlreadyActive)
}

func TestPayLoanRoundTrip(t *testing.T) {
	cfg := testConfig()
	opt, _ := cfg.loanOption("starter")
	acct := &Account{Wallet: 100}
	_, err := takeLoan(acct, opt, time.Now())
	require.NoError(t, err)

	// Wallet 600 covers debt 550 in full; loan disappears.
	changes, err := payLoan(acct, nil)
	require.NoError(t, err)
	assert.Nil(t, acct.Ext.Loan)
	assert.EqualValues(t, 50, acct.Wallet)
	assert.Contains(t, changeTypes(changes), reasonLoanClosed)
}

func TestPayLoanWalletThenBank(t *testing.T) {
	acct := &Account{
		Wallet: 100,
		Ext: Extension{
			Bank: BankState{Balance: 200, Max: 500},
			Loan: &Loan{Status: LoanActive, OptionID: "starter", Debt: 250, DueAt: time.Now().Add(time.Hour).UnixMilli()},
		},
	}
	changes, err := payLoan(acct, nil)
	require.NoError(t, err)
	assert.Nil(t, acct.Ext.Loan)
	assert.EqualValues(t, 0, acct.Wallet)
	assert.EqualValues(t, 50, acct.Ext.Bank.Balance)
	// One payment entry per funding source plus the close marker.
	require.Len(t, changes, 3)
}

func TestPayLoanPartial(t *testing.T) {
	acct := &Account{
		Wallet: 1000,
		Ext:    Extension{Loan: &Loan{Status: LoanActive, OptionID: "starter", Debt: 550}},
	}
	amount := int64(200)
	_, err := payLoan(acct, &amount)
	require.NoError(t, err)
	assert.EqualValues(t, 800, acct.Wallet)
	require.NotNil(t, acct.Ext.Loan)
	assert.EqualValues(t, 350, acct.Ext.Loan.Debt)
}

func TestPayLoanErrors(t *testing.T) {
	acct := &Account{Wallet: 100}
	_, err := payLoan(acct, nil)
	require.ErrorIs(t, err, ErrNoActiveLoan)

	broke := &Account{Ext: Extension{Loan: &Loan{Status: LoanActive, Debt: 10}}}
	_, err = payLoan(broke, nil)
	require.ErrorIs(t, err, ErrNoFundsAvailable)
}

func TestSettleLoanPaymentAfterSweepCloses(t *testing.T) {
	now := time.Now()
	acct := &Account{Wallet: 1420, Ext: Extension{Loan: activeLoan(550, now.Add(-time.Second))}}

	normalized := Normalize(acct, now)
	require.Nil(t, acct.Ext.Loan)

	// The sweep already cleared the debt; the payment reports success so
	// the transaction commits instead of rolling the sweep back.
	changes, err := settleLoanPayment(acct, nil, normalized)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.EqualValues(t, 815, acct.Wallet)
}

func TestSettleLoanPaymentAfterSweepDrainsFunds(t *testing.T) {
	now := time.Now()
	acct := &Account{Wallet: 100, Ext: Extension{Loan: activeLoan(550, now.Add(-time.Second))}}

	normalized := Normalize(acct, now)
	require.NotNil(t, acct.Ext.Loan)
	assert.EqualValues(t, 0, acct.Wallet)

	changes, err := settleLoanPayment(acct, nil, normalized)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.EqualValues(t, 505, acct.Ext.Loan.Debt)
}

func TestSettleLoanPaymentStillRejectsWithoutSweep(t *testing.T) {
	acct := &Account{Wallet: 100}
	_, err := settleLoanPayment(acct, nil, nil)
	require.ErrorIs(t, err, ErrNoActiveLoan)

	broke := &Account{Ext: Extension{Loan: &Loan{Status: LoanActive, Debt: 10, DueAt: time.Now().Add(time.Hour).UnixMilli()}}}
	_, err = settleLoanPayment(broke, nil, nil)
	require.ErrorIs(t, err, ErrNoFundsAvailable)
}

func TestTransferConservesFunds(t *testing.T) {
	from := &Account{ID: AccountID{UserID: "a", GuildID: "g"}, Wallet: 700}
	to := &Account{ID: AccountID{UserID: "b", GuildID: "g"}, Wallet: 50}
	total := from.Wallet + to.Wallet

	fromChanges, toChanges, err := transfer(from, to, 300)
	require.NoError(t, err)
	assert.EqualValues(t, 400, from.Wallet)
	assert.EqualValues(t, 350, to.Wallet)
	assert.EqualValues(t, total, from.Wallet+to.Wallet)
	require.Len(t, fromChanges, 1)
	require.Len(t, toChanges, 1)
	assert.EqualValues(t, -300, fromChanges[0].Amount)
	assert.EqualValues(t, 300, toChanges[0].Amount)
}

func TestTransferBlockedByAnyLoan(t *testing.T) {
	loan := &Loan{Status: LoanActive, Debt: 10}
	from := &Account{Wallet: 700, Ext: Extension{Loan: loan}}
	to := &Account{Wallet: 50}
	_, _, err := transfer(from, to, 100)
	require.ErrorIs(t, err, ErrTransferBlocked)

	from2 := &Account{Wallet: 700}
	to2 := &Account{Wallet: 50, Ext: Extension{Loan: loan}}
	_, _, err = transfer(from2, to2, 100)
	require.ErrorIs(t, err, ErrTransferBlocked)
}

func TestTransferInsufficient(t *testing.T) {
	from := &Account{Wallet: 99}
	to := &Account{}
	_, _, err := transfer(from, to, 100)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.EqualValues(t, 99, from.Wallet)
	assert.EqualValues(t, 0, to.Wallet)
}

// The full worked scenario: grant, deposits, capacity upgrade, loan,
// delinquency sweep, with exact arithmetic at every step.
func TestEconomyScenario(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	acct := &Account{Ext: Extension{Bank: BankState{Max: 100}}}

	_, err := deposit(acct, 50)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = applyDelta(acct, 1000, "grant", cfg.MinBalance)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, acct.Wallet)

	_, err = deposit(acct, 80)
	require.NoError(t, err)
	assert.EqualValues(t, 920, acct.Wallet)
	assert.EqualValues(t, 80, acct.Ext.Bank.Balance)

	_, err = deposit(acct, 30)
	require.ErrorIs(t, err, ErrBankCapacityExceeded)

	before := acct.Ext.Bank.Max
	expandBank(acct, 1, 1, cfg)
	assert.GreaterOrEqual(t, acct.Ext.Bank.Max, before+cfg.BankMinIncrease)

	opt, _ := cfg.loanOption("starter")
	_, err = takeLoan(acct, opt, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1420, acct.Wallet)
	assert.EqualValues(t, 550, acct.Ext.Loan.Debt)

	// Withdraw the banked 80 back so the wallet holds everything, then
	// miss the due date.
	_, err = withdraw(acct, 80)
	require.NoError(t, err)
	assert.EqualValues(t, 1500, acct.Wallet)

	Normalize(acct, now.Add(25*time.Hour))
	assert.Nil(t, acct.Ext.Loan)
	assert.EqualValues(t, 895, acct.Wallet) // 1500 - 605
	assert.EqualValues(t, 0, acct.Ext.Bank.Balance)
}

func TestConfigLoanOptionLookup(t *testing.T) {
	cfg := testConfig()
	_, ok := cfg.loanOption("starter")
	assert.True(t, ok)
	_, ok = cfg.loanOption("payday-mega")
	assert.False(t, ok)
}

func TestErrorsAreBranchable(t *testing.T) {
	acct := &Account{}
	_, err := applyDelta(acct, -1, "bet", 0)
	assert.True(t, errors.Is(err, ErrMinimumBalanceViolation))
	assert.NotEmpty(t, err.Error())
}
