package ledger

import (
	"context"
	"fmt"
	"time"
)

// UsageCounter counts uses of a key inside a rolling window. The coord
// package provides the Redis-backed implementation.
type UsageCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// TransferPolicy is an optional limit layer wrapped around
// Service.Transfer. The core transfer contract (loan gating, balance
// checks, atomicity) is unchanged; the policy only rejects earlier.
type TransferPolicy struct {
	svc     *Service
	counter UsageCounter

	// MaxPerTransfer caps a single transfer; 0 disables the cap.
	MaxPerTransfer int64
	// MaxPerDay caps accepted transfers per sender per day; 0 disables.
	MaxPerDay int64
}

func NewTransferPolicy(svc *Service, counter UsageCounter, maxPerTransfer, maxPerDay int64) *TransferPolicy {
	return &TransferPolicy{
		svc:            svc,
		counter:        counter,
		MaxPerTransfer: maxPerTransfer,
		MaxPerDay:      maxPerDay,
	}
}

func (p *TransferPolicy) Transfer(ctx context.Context, from, to AccountID, amount int64) error {
	if p.MaxPerTransfer > 0 && amount > p.MaxPerTransfer {
		return fmt.Errorf("%w: %d exceeds per-transfer cap %d", ErrTransferLimitExceeded, amount, p.MaxPerTransfer)
	}
	if p.MaxPerDay > 0 && p.counter != nil {
		key := "transfers:" + from.GuildID + ":" + from.UserID
		used, err := p.counter.IncrWindow(ctx, key, 24*time.Hour)
		if err != nil {
			// Counter outage must not allow unlimited transfers.
			return fmt.Errorf("%w: transfer limit check: %v", ErrTransientStore, err)
		}
		if used > p.MaxPerDay {
			return fmt.Errorf("%w: %d transfers today, limit %d", ErrTransferLimitExceeded, used, p.MaxPerDay)
		}
	}
	return p.svc.Transfer(ctx, from, to, amount)
}
