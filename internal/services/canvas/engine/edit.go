package engine

import (
	"context"
	"errors"
	"strconv"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/freeze"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/grid"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/incentive"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/participant"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/policy"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
	"github.com/mosaicforge/tessella/internal/services/canvas/event"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

// EditInput is one edit batch. Coords, Payloads and Links are parallel
// sequences; Links may be empty when the batch carries no back-references.
// Payment authorizes spending from the editor's deposited balance.
type EditInput struct {
	Editor   string
	Coords   []grid.Coord
	Payloads []uint32
	Links    []uint32
	Payment  uint64
}

// CellState is one cell's record after a committed write.
type CellState struct {
	Coord  grid.Coord
	Record record.Record
}

// EditResult reports one committed edit batch. Cells follow the input order;
// a coordinate repeated in the batch appears once per occurrence with the
// record that occurrence produced.
type EditResult struct {
	Height     uint32
	EditorID   uint16
	Registered bool
	Charged    uint64
	EditorCred uint64
	Cells      []CellState
	Frozen     bool // this batch reached the freeze threshold
}

// Edit applies one batch of cell writes. The whole batch commits or none of
// it does: policy refusals, bounds failures, exhausted counters and payment
// shortfalls all roll back every staged write.
func (e *Engine) Edit(ctx context.Context, input EditInput) (EditResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.edit")
	defer span.End()

	editor, err := participant.NormalizeIdentity(input.Editor)
	if err != nil {
		return EditResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		result    EditResult
		committed []storage.Event
		counters  storage.Meta
		totalCred uint64
	)
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		committed = committed[:0]
		totalCred = 0

		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		height := meta.LedgerHeight + 1
		isAdmin := editor == meta.Administrator

		n := len(input.Coords)
		if n == 0 {
			return apperrors.New(apperrors.CodeInvalidArgument, "edit batch is empty")
		}
		if len(input.Payloads) != n {
			return apperrors.WithMetadata(apperrors.CodeLengthMismatch,
				"payloads do not match coordinates",
				map[string]string{
					"coordinates": strconv.Itoa(n),
					"payloads":    strconv.Itoa(len(input.Payloads)),
				})
		}
		links := input.Links
		if len(links) == 0 {
			links = make([]uint32, n)
		} else if len(links) != n {
			return apperrors.WithMetadata(apperrors.CodeLengthMismatch,
				"links do not match coordinates",
				map[string]string{
					"coordinates": strconv.Itoa(n),
					"links":       strconv.Itoa(len(links)),
				})
		}
		if meta.MaxBatchCells > 0 && n > meta.MaxBatchCells {
			return apperrors.WithMetadata(apperrors.CodeBatchLimit,
				"edit batch exceeds the cell limit",
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
			if input.Payloads[i] == record.ReservedPayload {
				return apperrors.WithMetadata(apperrors.CodeInvalidRecord,
					"payload uses the reserved sentinel value",
					map[string]string{
						"x": strconv.FormatUint(uint64(c.X), 10),
						"y": strconv.FormatUint(uint64(c.Y), 10),
					})
			}
			indexes[i] = idx
		}

		part, err := loadParticipant(ctx, tx, editor)
		if err != nil {
			return err
		}
		flags := policy.Flags{Banned: part.Banned, Blacklisted: part.Blacklisted, Allowed: part.Allowed}
		if err := policy.CanEdit(accessState(meta), editor, flags); err != nil {
			return err
		}
		if err := freeze.Check(freezeState(meta), height, isAdmin); err != nil {
			return err
		}

		// A compact id is allocated only once the edit is otherwise permitted,
		// so refused callers never consume id space.
		registered := false
		if part.CompactID == 0 {
			id, err := participant.NextID(meta.LastParticipantID, meta.IDCapacity)
			if err != nil {
				return err
			}
			part.CompactID = id
			part.RegisteredAt = height
			meta.LastParticipantID = id
			registered = true
		}

		params := economics(meta)
		staged := make(map[uint64]record.Record, n)
		states := make([]CellState, n)
		priorCred := make(map[uint16]uint64)
		var required, editorCred uint64
		for i, idx := range indexes {
			prior, ok := staged[idx]
			if !ok {
				prior, err = loadRecord(ctx, tx, meta, idx)
				if err != nil {
					return err
				}
			}
			if prior.EditCount == record.MaxEditCount {
				return apperrors.WithMetadata(apperrors.CodeCapacityExceeded,
					"cell edit counter exhausted",
					map[string]string{
						"x": strconv.FormatUint(uint64(input.Coords[i].X), 10),
						"y": strconv.FormatUint(uint64(input.Coords[i].Y), 10),
					})
			}
			if !isAdmin {
				required, err = addCounter(required, params.Tribute(prior.EditCount), "tribute total")
				if err != nil {
					return err
				}
			}
			awards := params.Award(prior, height)
			editorCred, err = addCounter(editorCred, awards.Editor, "editor cred")
			if err != nil {
				return err
			}
			if awards.Prior > 0 {
				priorCred[prior.Provenance], err = addCounter(priorCred[prior.Provenance], awards.Prior, "prior author cred")
				if err != nil {
					return err
				}
			}

			next := record.Record{
				Payload:        input.Payloads[i],
				Provenance:     part.CompactID,
				EditCount:      prior.EditCount + 1,
				LastModifiedAt: height,
				Link:           links[i],
			}
			staged[idx] = next
			states[i] = CellState{Coord: input.Coords[i], Record: next}
		}

		// The administrator pays nothing; everyone else covers the computed
		// total from their deposited balance. Refund debits exactly the
		// total; retain debits the full authorized payment into the pool.
		var charged uint64
		if !isAdmin {
			if input.Payment < required {
				return apperrors.WithMetadata(apperrors.CodeInsufficientPayment,
					"payment below required tribute",
					map[string]string{
						"required": strconv.FormatUint(required, 10),
						"supplied": strconv.FormatUint(input.Payment, 10),
					})
			}
			charged = required
			if incentive.Overpayment(meta.Overpayment) == incentive.OverpaymentRetain {
				charged = input.Payment
			}
			if part.Balance < charged {
				return apperrors.WithMetadata(apperrors.CodeInsufficientPayment,
					"balance cannot cover the charge",
					map[string]string{
						"charge":  strconv.FormatUint(charged, 10),
						"balance": strconv.FormatUint(part.Balance, 10),
					})
			}
			part.Balance -= charged
			meta.TributePool, err = addCounter(meta.TributePool, charged, "tribute pool")
			if err != nil {
				return err
			}
		}

		part.Cred, err = addCounter(part.Cred, editorCred, "editor cred")
		if err != nil {
			return err
		}
		totalCred = editorCred
		if amount, ok := priorCred[part.CompactID]; ok {
			// Survival awards fold in when the editor overwrote their own cells.
			part.Cred, err = addCounter(part.Cred, amount, "editor cred")
			if err != nil {
				return err
			}
			totalCred, err = addCounter(totalCred, amount, "awarded cred")
			if err != nil {
				return err
			}
			delete(priorCred, part.CompactID)
		}
		if err := tx.PutParticipant(ctx, part); err != nil {
			return err
		}
		for id, amount := range priorCred {
			author, err := tx.ParticipantByID(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return apperrors.Wrap(apperrors.CodeIntegrityError,
					"prior author missing from registry", err)
			}
			if err != nil {
				return err
			}
			author.Cred, err = addCounter(author.Cred, amount, "prior author cred")
			if err != nil {
				return err
			}
			if err := tx.PutParticipant(ctx, author); err != nil {
				return err
			}
			totalCred, err = addCounter(totalCred, amount, "awarded cred")
			if err != nil {
				return err
			}
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

		// The batch that reaches the threshold commits; the canvas is frozen
		// for every call after it.
		tripped := !meta.Frozen && freeze.Trips(freezeState(meta), uint64(n))
		meta.Delta, err = addCounter(meta.Delta, uint64(n), "delta")
		if err != nil {
			return err
		}
		if tripped {
			meta.Frozen = true
		}
		meta.LedgerHeight = height
		if err := tx.PutMeta(ctx, meta); err != nil {
			return err
		}

		if registered {
			err := appendEvent(ctx, tx, height, event.TypeParticipantRegistered,
				event.ParticipantRegistered{Identity: editor, CompactID: part.CompactID}, &committed)
			if err != nil {
				return err
			}
		}
		for _, st := range states {
			err := appendEvent(ctx, tx, height, event.TypeCellUpdated, event.CellUpdated{
				X:              st.Coord.X,
				Y:              st.Coord.Y,
				Payload:        st.Record.Payload,
				Provenance:     st.Record.Provenance,
				EditCount:      st.Record.EditCount,
				LastModifiedAt: st.Record.LastModifiedAt,
				Link:           st.Record.Link,
			}, &committed)
			if err != nil {
				return err
			}
		}
		err = appendEvent(ctx, tx, height, event.TypeCanvasEdited, event.CanvasEdited{
			Editor:   editor,
			EditorID: part.CompactID,
			Cells:    n,
			Charged:  charged,
		}, &committed)
		if err != nil {
			return err
		}
		if tripped {
			err := appendEvent(ctx, tx, height, event.TypeCanvasFrozen,
				event.CanvasFrozen{Cause: event.FreezeCauseThreshold}, &committed)
			if err != nil {
				return err
			}
		}

		counters = meta
		result = EditResult{
			Height:     height,
			EditorID:   part.CompactID,
			Registered: registered,
			Charged:    charged,
			EditorCred: editorCred,
			Cells:      states,
			Frozen:     tripped,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return EditResult{}, err
	}

	e.publish(committed)
	e.metrics.EditCommitted(len(result.Cells), result.Charged, totalCred)
	e.metrics.ObserveState(counters.LedgerHeight, counters.Delta, counters.TributePool, counters.Frozen)
	return result, nil
}
