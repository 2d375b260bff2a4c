package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stash/internal/money"
)

// Service is the account ledger. Every mutating or loan-sensitive
// operation runs in a single transaction that row-locks the account,
// normalizes its loan, applies the change, appends history, and
// persists wallet and extension together.
type Service struct {
	db    *pgxpool.Pool
	cfg   Config
	log   *slog.Logger
	cache *balanceCache
	now   func() time.Time
}

func NewService(db *pgxpool.Pool, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Service{
		db:    db,
		cfg:   cfg,
		log:   logger,
		cache: newBalanceCache(cfg.CacheTTL),
		now:   time.Now,
	}
}

// Close stops the cache janitor. The pool is owned by the caller.
func (s *Service) Close() {
	s.cache.stop()
}

// GetBalance returns the wallet balance, normalizing the loan first.
// Loan-free accounts are served from a short-TTL read cache.
func (s *Service) GetBalance(ctx context.Context, id AccountID) (int64, error) {
	if wallet, ok := s.cache.get(id); ok {
		return wallet, nil
	}
	acct, err := s.withAccount(ctx, id, nil)
	if err != nil {
		return 0, err
	}
	if acct.Ext.Loan == nil {
		s.cache.put(id, acct.Wallet)
	}
	return acct.Wallet, nil
}

// UpdateBalance applies delta to the wallet. While the account is
// delinquent, positive deltas pay the debt first and negative deltas
// grow it; otherwise the result must stay at or above the minimum.
func (s *Service) UpdateBalance(ctx context.Context, id AccountID, delta int64, reason string) (int64, error) {
	acct, err := s.withAccount(ctx, id, func(acct *Account) ([]Change, error) {
		return applyDelta(acct, delta, reason, s.cfg.MinBalance)
	})
	if err != nil {
		return 0, err
	}
	return acct.Wallet, nil
}

// SetBalance overwrites the wallet, clamped to the configured minimum.
// Administrative paths only.
func (s *Service) SetBalance(ctx context.Context, id AccountID, amount int64) (int64, error) {
	acct, err := s.withAccount(ctx, id, func(acct *Account) ([]Change, error) {
		return setBalance(acct, amount, s.cfg.MinBalance), nil
	})
	if err != nil {
		return 0, err
	}
	return acct.Wallet, nil
}

func (s *Service) GetBankData(ctx context.Context, id AccountID) (BankState, error) {
	acct, err := s.withAccount(ctx, id, nil)
	if err != nil {
		return BankState{}, err
	}
	return acct.Ext.Bank, nil
}

func (s *Service) Deposit(ctx context.Context, id AccountID, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, fmt.Errorf("%w: deposit amount", money.ErrAmountNotPositive)
	}
	return s.mutate(ctx, id, func(acct *Account) ([]Change, error) {
		return deposit(acct, amount)
	})
}

func (s *Service) Withdraw(ctx context.Context, id AccountID, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, fmt.Errorf("%w: withdraw amount", money.ErrAmountNotPositive)
	}
	return s.mutate(ctx, id, func(acct *Account) ([]Change, error) {
		return withdraw(acct, amount)
	})
}

// ExpandBankCapacity raises bankMax by quantity upgrade units. Each
// unit compounds off the max the previous unit produced.
func (s *Service) ExpandBankCapacity(ctx context.Context, id AccountID, quantity, level int64) (BankState, error) {
	if quantity <= 0 {
		return BankState{}, fmt.Errorf("%w: upgrade quantity", money.ErrAmountNotPositive)
	}
	acct, err := s.withAccount(ctx, id, func(acct *Account) ([]Change, error) {
		return expandBank(acct, quantity, level, s.cfg), nil
	})
	if err != nil {
		return BankState{}, err
	}
	return acct.Ext.Bank, nil
}

func (s *Service) GetLoanOptions() []LoanOption {
	out := make([]LoanOption, len(s.cfg.LoanOptions))
	copy(out, s.cfg.LoanOptions)
	return out
}

func (s *Service) TakeLoan(ctx context.Context, id AccountID, optionID string) (Account, error) {
	opt, ok := s.cfg.loanOption(optionID)
	if !ok {
		return Account{}, fmt.Errorf("%w: %q", ErrLoanOptionInvalid, optionID)
	}
	return s.mutate(ctx, id, func(acct *Account) ([]Change, error) {
		return takeLoan(acct, opt, s.now())
	})
}

// PayLoan pays down the outstanding debt, wallet first then bank. A nil
// amount means "pay everything affordable". When normalization already
// settled the debt (delinquency sweep), the sweep commits and the call
// succeeds instead of rolling it back behind a rejection.
func (s *Service) PayLoan(ctx context.Context, id AccountID, amount *int64) (Account, error) {
	if amount != nil && *amount <= 0 {
		return Account{}, fmt.Errorf("%w: payment amount", money.ErrAmountNotPositive)
	}
	var out Account
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		acct, err := s.lockAccount(ctx, tx, id)
		if err != nil {
			return err
		}
		changes := Normalize(acct, s.now())
		more, err := settleLoanPayment(acct, amount, changes)
		if err != nil {
			return err
		}
		changes = append(changes, more...)
		if err := s.persist(ctx, tx, acct, changes); err != nil {
			return err
		}
		out = *acct
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.cache.invalidate(id)
	return out, nil
}

// GetLoanState returns the current loan, nil when there is none. The
// read normalizes, so an overdue loan flips to delinquent here too.
func (s *Service) GetLoanState(ctx context.Context, id AccountID) (*Loan, error) {
	acct, err := s.withAccount(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	if acct.Ext.Loan == nil {
		return nil, nil
	}
	loan := *acct.Ext.Loan
	return &loan, nil
}

// ConsumeLoanReminderEvents returns due near-due/overdue notifications
// and marks them delivered in the same transaction, so each fires at
// most once per loan phase.
func (s *Service) ConsumeLoanReminderEvents(ctx context.Context, id AccountID) ([]Reminder, error) {
	var reminders []Reminder
	_, err := s.withAccount(ctx, id, func(acct *Account) ([]Change, error) {
		reminders = PendingReminders(acct, s.now(), s.cfg.NearDueWindow)
		if len(reminders) > 0 {
			markRemindersDelivered(acct.Ext.Loan, reminders, s.now())
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return reminders, nil
}

// Transfer moves amount between two wallets atomically. Both rows are
// locked in a fixed sort order so two opposite transfers cannot
// deadlock, both loans are normalized, and any loan on either side
// blocks the transfer.
func (s *Service) Transfer(ctx context.Context, from, to AccountID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: transfer amount", money.ErrAmountNotPositive)
	}
	if from == to {
		return fmt.Errorf("%w: cannot transfer to self", money.ErrInvalidAmount)
	}
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		first, second := from, to
		if !lockBefore(first, second) {
			first, second = second, first
		}
		a, err := s.lockAccount(ctx, tx, first)
		if err != nil {
			return err
		}
		b, err := s.lockAccount(ctx, tx, second)
		if err != nil {
			return err
		}
		sender, recipient := a, b
		if first != from {
			sender, recipient = b, a
		}

		now := s.now()
		senderChanges := Normalize(sender, now)
		recipientChanges := Normalize(recipient, now)

		fromChanges, toChanges, err := transfer(sender, recipient, amount)
		if err != nil {
			return err
		}
		senderChanges = append(senderChanges, fromChanges...)
		recipientChanges = append(recipientChanges, toChanges...)

		if err := s.persist(ctx, tx, sender, senderChanges); err != nil {
			return err
		}
		return s.persist(ctx, tx, recipient, recipientChanges)
	})
	if err != nil {
		return err
	}
	s.cache.invalidate(from)
	s.cache.invalidate(to)
	return nil
}

// History returns the most recent audit entries for an account.
func (s *Service) History(ctx context.Context, id AccountID, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, guild_id, type, COALESCE(item_id, ''), amount, created_at
		FROM account_history
		WHERE guild_id = $1 AND user_id = $2
		ORDER BY id DESC
		LIMIT $3
	`, id.GuildID, id.UserID, limit)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.GuildID, &e.Type, &e.ItemID, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// mutate is withAccount plus cache invalidation, returning a snapshot.
func (s *Service) mutate(ctx context.Context, id AccountID, fn func(*Account) ([]Change, error)) (Account, error) {
	acct, err := s.withAccount(ctx, id, fn)
	if err != nil {
		return Account{}, err
	}
	return *acct, nil
}

// withAccount runs fn against the row-locked, normalized account and
// persists the result. fn may be nil for normalizing reads.
func (s *Service) withAccount(ctx context.Context, id AccountID, fn func(*Account) ([]Change, error)) (*Account, error) {
	var out *Account
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		acct, err := s.lockAccount(ctx, tx, id)
		if err != nil {
			return err
		}
		changes := Normalize(acct, s.now())
		if fn != nil {
			more, err := fn(acct)
			if err != nil {
				return err
			}
			changes = append(changes, more...)
		}
		if err := s.persist(ctx, tx, acct, changes); err != nil {
			return err
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fn != nil {
		s.cache.invalidate(id)
	}
	return out, nil
}

// lockAccount creates the row on first touch, then locks and decodes
// it. The bank capacity floor is applied here so legacy rows are lifted
// to the configured minimum.
func (s *Service) lockAccount(ctx context.Context, tx pgx.Tx, id AccountID) (*Account, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (guild_id, user_id, wallet, ext)
		VALUES ($1, $2, $3, '{}'::jsonb)
		ON CONFLICT (guild_id, user_id) DO NOTHING
	`, id.GuildID, id.UserID, s.cfg.DefaultBalance); err != nil {
		return nil, err
	}

	acct := &Account{ID: id}
	var rawExt []byte
	err := tx.QueryRow(ctx, `
		SELECT wallet, ext, created_at, updated_at
		FROM accounts
		WHERE guild_id = $1 AND user_id = $2
		FOR UPDATE
	`, id.GuildID, id.UserID).Scan(&acct.Wallet, &rawExt, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(rawExt) > 0 {
		if err := json.Unmarshal(rawExt, &acct.Ext); err != nil {
			return nil, fmt.Errorf("decode account extension %s: %w", id, err)
		}
	}
	if acct.Ext.Bank.Max < s.cfg.BankMaxFloor {
		acct.Ext.Bank.Max = s.cfg.BankMaxFloor
	}
	return acct, nil
}

// persist writes wallet and extension back and appends the history
// entries produced by this transaction.
func (s *Service) persist(ctx context.Context, tx pgx.Tx, acct *Account, changes []Change) error {
	ext, err := json.Marshal(acct.Ext)
	if err != nil {
		return fmt.Errorf("encode account extension %s: %w", acct.ID, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET wallet = $1, ext = $2, updated_at = now()
		WHERE guild_id = $3 AND user_id = $4
	`, acct.Wallet, ext, acct.ID.GuildID, acct.ID.UserID); err != nil {
		return err
	}
	for _, c := range changes {
		var itemID *string
		if c.ItemID != "" {
			itemID = &c.ItemID
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO account_history (user_id, guild_id, type, item_id, amount)
			VALUES ($1, $2, $3, $4, $5)
		`, acct.ID.UserID, acct.ID.GuildID, c.Type, itemID, c.Amount); err != nil {
			return err
		}
	}
	return nil
}

// runTx runs fn inside a transaction, retrying transient failures with
// exponential backoff. Business-rule errors are returned as-is on the
// first attempt; nothing from a failed attempt is visible afterward.
func (s *Service) runTx(ctx context.Context, fn func(pgx.Tx) error) error {
	const maxAttempts = 4
	retryDelay := 75 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			lastErr = err
			if !isTransient(err) {
				return s.classify(err)
			}
		} else {
			err = func() error {
				defer tx.Rollback(ctx)
				if err := fn(tx); err != nil {
					return err
				}
				return tx.Commit(ctx)
			}()
			if err == nil {
				return nil
			}
			if !isTransient(err) {
				return err
			}
			lastErr = err
		}
		if attempt < maxAttempts-1 {
			s.log.Warn("ledger tx retry", "attempt", attempt+1, "err", lastErr)
			if err := sleepWithContext(ctx, retryDelay); err != nil {
				return err
			}
			if retryDelay < 1200*time.Millisecond {
				retryDelay *= 2
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrTransientStore, lastErr)
}

func (s *Service) classify(err error) error {
	if isTransient(err) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock
			return true
		}
		// Class 08: connection exceptions.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// lockBefore orders account ids for two-row transactions.
func lockBefore(a, b AccountID) bool {
	if a.GuildID != b.GuildID {
		return a.GuildID < b.GuildID
	}
	return a.UserID < b.UserID
}
