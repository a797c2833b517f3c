package engine

import (
	"context"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/participant"
	"github.com/mosaicforge/tessella/internal/services/canvas/event"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

// DepositResult reports one committed treasury deposit.
type DepositResult struct {
	Height   uint32
	Identity string
	Balance  uint64
}

// Deposit credits an identity's spendable balance. Deposits are accepted for
// identities in any policy standing and on a frozen canvas; they touch only
// the treasury, never the grid.
func (e *Engine) Deposit(ctx context.Context, depositor string, amount uint64) (DepositResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.deposit")
	defer span.End()

	identity, err := participant.NormalizeIdentity(depositor)
	if err != nil {
		return DepositResult{}, err
	}
	if amount == 0 {
		return DepositResult{}, apperrors.New(apperrors.CodeInvalidArgument,
			"deposit amount must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		result    DepositResult
		committed []storage.Event
		counters  storage.Meta
	)
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		committed = committed[:0]

		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		height := meta.LedgerHeight + 1

		p, err := loadParticipant(ctx, tx, identity)
		if err != nil {
			return err
		}
		p.Balance, err = addCounter(p.Balance, amount, "balance")
		if err != nil {
			return err
		}
		if err := tx.PutParticipant(ctx, p); err != nil {
			return err
		}

		meta.LedgerHeight = height
		if err := tx.PutMeta(ctx, meta); err != nil {
			return err
		}

		err = appendEvent(ctx, tx, height, event.TypeTreasuryDeposited, event.TreasuryDeposited{
			Identity: identity,
			Amount:   amount,
			Balance:  p.Balance,
		}, &committed)
		if err != nil {
			return err
		}

		counters = meta
		result = DepositResult{Height: height, Identity: identity, Balance: p.Balance}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return DepositResult{}, err
	}

	e.publish(committed)
	e.metrics.DepositCommitted(amount)
	e.metrics.ObserveState(counters.LedgerHeight, counters.Delta, counters.TributePool, counters.Frozen)
	return result, nil
}
