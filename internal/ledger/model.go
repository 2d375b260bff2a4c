package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMinimumBalanceViolation = errors.New("balance would fall below minimum")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrTransferBlocked         = errors.New("transfer blocked by outstanding loan")
	ErrBankCapacityExceeded    = errors.New("bank capacity exceeded")
	ErrLoanAlreadyActive       = errors.New("loan already active")
	ErrLoanOptionInvalid       = errors.New("unknown loan option")
	ErrNoActiveLoan            = errors.New("no active loan")
	ErrNoFundsAvailable        = errors.New("no funds available")
	ErrTransientStore          = errors.New("store temporarily unavailable")
	ErrTransferLimitExceeded   = errors.New("transfer limit exceeded")
)

type LoanStatus string

const (
	LoanActive     LoanStatus = "active"
	LoanDelinquent LoanStatus = "delinquent"
)

// AccountID addresses one account: one per (user, guild).
type AccountID struct {
	UserID  string
	GuildID string
}

func (id AccountID) String() string {
	return id.GuildID + "/" + id.UserID
}

// Account is the ledger row. Wallet lives in its own column; bank and
// loan state ride in the JSONB extension column.
type Account struct {
	ID        AccountID
	Wallet    int64
	Ext       Extension
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BankState is the interest-free vault attached to an account.
type BankState struct {
	Balance int64 `json:"balance"`
	Max     int64 `json:"max"`
}

// Loan is the single outstanding loan on an account. Debt stays > 0
// for as long as the loan exists; paying it to zero deletes it.
type Loan struct {
	Status            LoanStatus `json:"status"`
	OptionID          string     `json:"option_id"`
	Principal         int64      `json:"principal"`
	Debt              int64      `json:"debt"`
	InterestBps       int64      `json:"interest_bps"`
	PenaltyBps        int64      `json:"penalty_bps"`
	DueAt             int64      `json:"due_at"`
	TakenAt           int64      `json:"taken_at"`
	DefaultedAt       int64      `json:"defaulted_at,omitempty"`
	NearDueNotifiedAt int64      `json:"near_due_notified_at,omitempty"`
	OverdueNotifiedAt int64      `json:"overdue_notified_at,omitempty"`
}

// Extension is the account's JSONB side-column. The fields the ledger
// owns are typed; keys written by other features are carried in extra
// and survive every read-modify-write untouched.
type Extension struct {
	Bank       BankState
	Loan       *Loan
	LastGrowAt int64

	extra map[string]json.RawMessage
}

func (e Extension) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.extra)+3)
	for k, v := range e.extra {
		out[k] = v
	}
	bank, err := json.Marshal(e.Bank)
	if err != nil {
		return nil, err
	}
	out["bank"] = bank
	if e.Loan != nil {
		loan, err := json.Marshal(e.Loan)
		if err != nil {
			return nil, err
		}
		out["loan"] = loan
	} else {
		delete(out, "loan")
	}
	if e.LastGrowAt != 0 {
		grow, err := json.Marshal(e.LastGrowAt)
		if err != nil {
			return nil, err
		}
		out["last_grow_at"] = grow
	} else {
		delete(out, "last_grow_at")
	}
	return json.Marshal(out)
}

func (e *Extension) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Extension{}
	if v, ok := raw["bank"]; ok {
		if err := json.Unmarshal(v, &e.Bank); err != nil {
			return fmt.Errorf("decode bank extension: %w", err)
		}
		delete(raw, "bank")
	}
	if v, ok := raw["loan"]; ok {
		var loan Loan
		if err := json.Unmarshal(v, &loan); err != nil {
			return fmt.Errorf("decode loan extension: %w", err)
		}
		e.Loan = &loan
		delete(raw, "loan")
	}
	if v, ok := raw["last_grow_at"]; ok {
		if err := json.Unmarshal(v, &e.LastGrowAt); err != nil {
			return fmt.Errorf("decode last_grow_at extension: %w", err)
		}
		delete(raw, "last_grow_at")
	}
	if len(raw) > 0 {
		e.extra = raw
	}
	return nil
}

// Entry is one append-only audit record. Amount may be zero for
// notable events that moved no funds.
type Entry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	GuildID   string    `json:"guild_id"`
	Type      string    `json:"type"`
	ItemID    string    `json:"item_id,omitempty"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Change is a pending history entry produced by a pure transition and
// written by the surrounding transaction.
type Change struct {
	Type   string
	ItemID string
	Amount int64
}

type ReminderKind string

const (
	ReminderNearDue ReminderKind = "near_due"
	ReminderOverdue ReminderKind = "overdue"
)

// Reminder is a loan notification the caller relays to the user.
// Each is delivered at most once per loan phase.
type Reminder struct {
	Kind     ReminderKind `json:"kind"`
	OptionID string       `json:"option_id"`
	Debt     int64        `json:"debt"`
	DueAt    int64        `json:"due_at"`
}

// LoanOption is one loan product on offer.
type LoanOption struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Principal    int64  `json:"principal"`
	InterestBps  int64  `json:"interest_bps"`
	PenaltyBps   int64  `json:"penalty_bps"`
	DurationDays int    `json:"duration_days"`
}

// Config carries the economy knobs. Zero values are filled in by
// withDefaults, so a zero Config is usable in tests.
type Config struct {
	DefaultBalance int64
	MinBalance     int64

	BankMaxFloor      int64
	BankMinIncrease   int64
	BankGrowthBps     int64
	BankPerLevelBonus int64

	NearDueWindow time.Duration
	CacheTTL      time.Duration

	LoanOptions []LoanOption
}

func DefaultLoanOptions() []LoanOption {
	return []LoanOption{
		{ID: "starter", Label: "Starter", Principal: 500, InterestBps: 1000, PenaltyBps: 1000, DurationDays: 1},
		{ID: "standard", Label: "Standard", Principal: 2_500, InterestBps: 1500, PenaltyBps: 2000, DurationDays: 3},
		{ID: "premium", Label: "Premium", Principal: 10_000, InterestBps: 2000, PenaltyBps: 2500, DurationDays: 7},
	}
}

func (c Config) withDefaults() Config {
	if c.BankMaxFloor <= 0 {
		c.BankMaxFloor = 100
	}
	if c.BankMinIncrease <= 0 {
		c.BankMinIncrease = 50
	}
	if c.BankGrowthBps <= 0 {
		c.BankGrowthBps = 1000
	}
	if c.BankPerLevelBonus <= 0 {
		c.BankPerLevelBonus = 25
	}
	if c.NearDueWindow <= 0 {
		c.NearDueWindow = 6 * time.Hour
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Second
	}
	if len(c.LoanOptions) == 0 {
		c.LoanOptions = DefaultLoanOptions()
	}
	return c
}

func (c Config) loanOption(id string) (LoanOption, bool) {
	for _, opt := range c.LoanOptions {
		if opt.ID == id {
			return opt, true
		}
	}
	return LoanOption{}, false
}
