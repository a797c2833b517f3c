package engine

import (
	"context"

	"github.com/mosaicforge/tessella/internal/services/canvas/domain/participant"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/policy"
	"github.com/mosaicforge/tessella/internal/services/canvas/event"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

// adminMutation applies one administrative change at the given height. It
// returns false to leave stored state untouched (an idempotent no-op call).
type adminMutation func(ctx context.Context, tx storage.Tx, meta *storage.Meta, height uint32, committed *[]storage.Event) (bool, error)

// runAdmin executes one administrator-gated mutation: caller verification,
// height advance, commit, post-commit publication. The returned height is the
// committed height, or the unchanged stored height for no-op calls.
func (e *Engine) runAdmin(ctx context.Context, op, caller string, mutate adminMutation) (uint32, error) {
	ctx, span := e.tracer.Start(ctx, op)
	defer span.End()

	identity, err := participant.NormalizeIdentity(caller)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		committed []storage.Event
		counters  storage.Meta
		height    uint32
	)
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		committed = committed[:0]

		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		if err := policy.RequireAdministrator(accessState(meta), identity); err != nil {
			return err
		}

		next := meta.LedgerHeight + 1
		applied, err := mutate(ctx, tx, &meta, next, &committed)
		if err != nil {
			return err
		}
		if !applied {
			height = meta.LedgerHeight
			counters = meta
			return nil
		}

		meta.LedgerHeight = next
		if err := tx.PutMeta(ctx, meta); err != nil {
			return err
		}
		height = next
		counters = meta
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	e.publish(committed)
	e.metrics.ObserveState(counters.LedgerHeight, counters.Delta, counters.TributePool, counters.Frozen)
	return height, nil
}

// SetExclusive toggles exclusive mode. While exclusive, only the
// administrator and allowlisted editors may edit.
func (e *Engine) SetExclusive(ctx context.Context, caller string, exclusive bool) (uint32, error) {
	return e.runAdmin(ctx, "engine.set_exclusive", caller,
		func(ctx context.Context, tx storage.Tx, meta *storage.Meta, height uint32, committed *[]storage.Event) (bool, error) {
			meta.Exclusive = exclusive
			err := appendEvent(ctx, tx, height, event.TypeCanvasExclusiveChanged,
				event.ExclusiveChanged{Enabled: exclusive}, committed)
			return err == nil, err
		})
}

// SetEditorAllowed adds or removes an identity from the exclusive-mode
// allowlist. The flag may be set before the identity ever edits.
func (e *Engine) SetEditorAllowed(ctx context.Context, caller, editor string, allowed bool) (uint32, error) {
	identity, err := participant.NormalizeIdentity(editor)
	if err != nil {
		return 0, err
	}
	return e.runAdmin(ctx, "engine.set_editor_allowed", caller,
		func(ctx context.Context, tx storage.Tx, meta *storage.Meta, height uint32, committed *[]storage.Event) (bool, error) {
			p, err := loadParticipant(ctx, tx, identity)
			if err != nil {
				return false, err
			}
			p.Allowed = allowed
			if err := tx.PutParticipant(ctx, p); err != nil {
				return false, err
			}
			err = appendEvent(ctx, tx, height, event.TypeParticipantAllowed,
				event.ParticipantFlagged{Identity: identity, Active: allowed}, committed)
			return err == nil, err
		})
}

// SetBanned toggles an identity's ban. Bans are reversible; blacklists are
// not and are only ever set by Rewind.
func (e *Engine) SetBanned(ctx context.Context, caller, editor string, banned bool) (uint32, error) {
	identity, err := participant.NormalizeIdentity(editor)
	if err != nil {
		return 0, err
	}
	return e.runAdmin(ctx, "engine.set_banned", caller,
		func(ctx context.Context, tx storage.Tx, meta *storage.Meta, height uint32, committed *[]storage.Event) (bool, error) {
			p, err := loadParticipant(ctx, tx, identity)
			if err != nil {
				return false, err
			}
			p.Banned = banned
			if err := tx.PutParticipant(ctx, p); err != nil {
				return false, err
			}
			err = appendEvent(ctx, tx, height, event.TypeParticipantBanned,
				event.ParticipantFlagged{Identity: identity, Active: banned}, committed)
			return err == nil, err
		})
}

// Freeze puts the canvas into its terminal state by administrator decision.
// Freezing a frozen canvas is a no-op.
func (e *Engine) Freeze(ctx context.Context, caller string) (uint32, error) {
	return e.runAdmin(ctx, "engine.freeze", caller,
		func(ctx context.Context, tx storage.Tx, meta *storage.Meta, height uint32, committed *[]storage.Event) (bool, error) {
			if meta.Frozen {
				return false, nil
			}
			meta.Frozen = true
			err := appendEvent(ctx, tx, height, event.TypeCanvasFrozen,
				event.CanvasFrozen{Cause: event.FreezeCauseAdmin}, committed)
			return err == nil, err
		})
}

// TransferAdministration hands the canvas to a new administrator identity.
func (e *Engine) TransferAdministration(ctx context.Context, caller, successor string) (uint32, error) {
	identity, err := participant.NormalizeIdentity(successor)
	if err != nil {
		return 0, err
	}
	return e.runAdmin(ctx, "engine.transfer_administration", caller,
		func(ctx context.Context, tx storage.Tx, meta *storage.Meta, height uint32, committed *[]storage.Event) (bool, error) {
			from := meta.Administrator
			meta.Administrator = identity
			err := appendEvent(ctx, tx, height, event.TypeCanvasAdminTransferred,
				event.AdminTransferred{From: from, To: identity}, committed)
			return err == nil, err
		})
}
