package engine

import (
	"context"
	"strconv"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/grid"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/moderation"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/participant"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/policy"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
	"github.com/mosaicforge/tessella/internal/services/canvas/event"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

// RewindInput is one moderation call. Coords and Chains are parallel; each
// chain is a newest-first concatenation of encoded records claimed to be that
// cell's history. An empty batch blacklists the target without touching cells.
type RewindInput struct {
	Caller string // must be the current administrator
	Target string
	Coords []grid.Coord
	Chains [][]byte
}

// RewindCellOutcome reports one cell's rewind attempt.
type RewindCellOutcome struct {
	Coord    grid.Coord
	Outcome  moderation.Outcome
	Restored record.Record // set when Outcome is OutcomeReverted
}

// RewindResult reports one committed rewind call. The target is blacklisted
// whenever the call commits, regardless of the revert count.
type RewindResult struct {
	Height   uint32
	Target   string
	TargetID uint16
	Reverted int
	Cells    []RewindCellOutcome
}

// Rewind validates caller-supplied history chains and rolls matching cells
// back to their most recent state not authored by the target. Cell failures
// are skips, never aborts; malformed coordinates or mismatched input lengths
// abort the whole call. Rewind stays available on a frozen canvas and never
// advances the edit delta.
func (e *Engine) Rewind(ctx context.Context, input RewindInput) (RewindResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.rewind")
	defer span.End()

	caller, err := participant.NormalizeIdentity(input.Caller)
	if err != nil {
		return RewindResult{}, err
	}
	target, err := participant.NormalizeIdentity(input.Target)
	if err != nil {
		return RewindResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		result    RewindResult
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

		if err := policy.RequireAdministrator(accessState(meta), caller); err != nil {
			return err
		}

		n := len(input.Coords)
		if len(input.Chains) != n {
			return apperrors.WithMetadata(apperrors.CodeLengthMismatch,
				"chains do not match coordinates",
				map[string]string{
					"coordinates": strconv.Itoa(n),
					"chains":      strconv.Itoa(len(input.Chains)),
				})
		}
		if meta.MaxBatchCells > 0 && n > meta.MaxBatchCells {
			return apperrors.WithMetadata(apperrors.CodeBatchLimit,
				"rewind batch exceeds the cell limit",
				map[string]string{
					"cells": strconv.Itoa(n),
					"max":   strconv.Itoa(meta.MaxBatchCells),
				})
		}

		geo := geometry(meta)
		indexes := make([]uint64, n)
		for i, c := range input.Coords {
			idx, err := geo.Locate(c)
			if err != nil {
				return err
			}
			indexes[i] = idx
		}

		moderated, err := loadParticipant(ctx, tx, target)
		if err != nil {
			return err
		}

		staged := make(map[uint64]record.Record)
		outcomes := make([]RewindCellOutcome, n)
		reverted := 0
		for i, idx := range indexes {
			current, ok := staged[idx]
			if !ok {
				current, err = loadRecord(ctx, tx, meta, idx)
				if err != nil {
					return err
				}
			}
			restored, outcome := moderation.RewindCell(input.Chains[i], current, moderated.CompactID)
			outcomes[i] = RewindCellOutcome{Coord: input.Coords[i], Outcome: outcome}
			if outcome == moderation.OutcomeReverted {
				outcomes[i].Restored = restored
				staged[idx] = restored
				reverted++
			}
		}

		// Blacklisting is by identity and unconditional; an unregistered
		// target is blacklisted without ever receiving a compact id.
		moderated.Blacklisted = true
		if err := tx.PutParticipant(ctx, moderated); err != nil {
			return err
		}

		for idx, rec := range staged {
			block, err := record.Encode(rec)
			if err != nil {
				return err
			}
			if err := tx.PutCell(ctx, idx, block[:]); err != nil {
				return err
			}
		}

		meta.LedgerHeight = height
		if err := tx.PutMeta(ctx, meta); err != nil {
			return err
		}

		err = appendEvent(ctx, tx, height, event.TypeParticipantBlacklisted,
			event.ParticipantFlagged{Identity: target, Active: true}, &committed)
		if err != nil {
			return err
		}
		for _, oc := range outcomes {
			if oc.Outcome != moderation.OutcomeReverted {
				continue
			}
			err := appendEvent(ctx, tx, height, event.TypeCellUpdated, event.CellUpdated{
				X:              oc.Coord.X,
				Y:              oc.Coord.Y,
				Payload:        oc.Restored.Payload,
				Provenance:     oc.Restored.Provenance,
				EditCount:      oc.Restored.EditCount,
				LastModifiedAt: oc.Restored.LastModifiedAt,
				Link:           oc.Restored.Link,
			}, &committed)
			if err != nil {
				return err
			}
		}
		if reverted > 0 {
			err := appendEvent(ctx, tx, height, event.TypeCanvasReverted, event.CanvasReverted{
				Target:   target,
				TargetID: moderated.CompactID,
				Cells:    n,
				Reverted: reverted,
			}, &committed)
			if err != nil {
				return err
			}
		}

		counters = meta
		result = RewindResult{
			Height:   height,
			Target:   target,
			TargetID: moderated.CompactID,
			Reverted: reverted,
			Cells:    outcomes,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return RewindResult{}, err
	}

	e.publish(committed)
	e.metrics.RewindCommitted(result.Reverted)
	for _, oc := range result.Cells {
		if oc.Outcome != moderation.OutcomeReverted {
			e.metrics.CellSkipped(oc.Outcome.String())
		}
	}
	e.metrics.ObserveState(counters.LedgerHeight, counters.Delta, counters.TributePool, counters.Frozen)
	return result, nil
}
