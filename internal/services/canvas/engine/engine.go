// Package engine orchestrates every canvas mutation and read.
//
// Mutating operations are fully serialized: one mutex, one storage
// transaction per call. Cell writes, incentive credits, payment accounting,
// counters, and journal events all commit together or not at all. Committed
// events are fanned out to the feed hub only after the transaction commits.
// Reads run outside the mutex in read-only transactions.
package engine

import (
	"context"
	"errors"
	"math"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/freeze"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/grid"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/incentive"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/policy"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
	"github.com/mosaicforge/tessella/internal/services/canvas/event"
	"github.com/mosaicforge/tessella/internal/services/canvas/observability/metrics"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

// Engine executes canvas operations against a transactional store.
type Engine struct {
	store   storage.Store
	hub     *event.Hub
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu sync.Mutex // serializes mutating operations
}

// New wires an engine. The hub and metrics are optional; the store is not.
func New(store storage.Store, hub *event.Hub, m *metrics.Metrics) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Engine{
		store:   store,
		hub:     hub,
		metrics: m,
		tracer:  otel.Tracer("tessella/canvas/engine"),
	}, nil
}

// publish fans committed events out to feed subscribers.
func (e *Engine) publish(events []storage.Event) {
	if e.hub == nil || len(events) == 0 {
		return
	}
	e.hub.Publish(events...)
}

// freezeState projects stored counters into the freeze controller's view.
func freezeState(meta storage.Meta) freeze.State {
	return freeze.State{
		Frozen:      meta.Frozen,
		Delta:       meta.Delta,
		Threshold:   meta.FreezeThreshold,
		Deadline:    meta.FreezeDeadline,
		AdminExempt: meta.AdminFrozenExempt,
	}
}

// economics projects stored parameters into the incentive engine's view.
func economics(meta storage.Meta) incentive.Params {
	return incentive.Params{
		Policy:          incentive.Policy(meta.AwardPolicy),
		BaseCred:        meta.BaseCred,
		DecayFactor:     meta.DecayFactor,
		TributeEnabled:  meta.TributeEnabled,
		BaseTribute:     meta.BaseTribute,
		TributePerLayer: meta.TributePerLayer,
	}
}

// accessState projects governance fields into the access policy's view.
func accessState(meta storage.Meta) policy.Access {
	return policy.Access{Exclusive: meta.Exclusive, Administrator: meta.Administrator}
}

func geometry(meta storage.Meta) grid.Geometry {
	return grid.Geometry{Width: meta.Width, Height: meta.Height}
}

// loadRecord reads the live record at a cell index. Cells that were never
// written have no row and read as the seed record; a stored block that fails
// to decode is data corruption and aborts the call.
func loadRecord(ctx context.Context, tx storage.Tx, meta storage.Meta, index uint64) (record.Record, error) {
	block, err := tx.Cell(ctx, index)
	if errors.Is(err, storage.ErrNotFound) {
		return record.Seed(meta.SeedPayload), nil
	}
	if err != nil {
		return record.Record{}, err
	}
	rec, err := record.Decode(block)
	if err != nil {
		return record.Record{}, apperrors.Wrap(apperrors.CodeIntegrityError,
			"stored cell record is corrupt", err)
	}
	return rec, nil
}

// loadParticipant reads a participant row, substituting a zero-state row for
// identities the canvas has never seen.
func loadParticipant(ctx context.Context, tx storage.Tx, identity string) (storage.Participant, error) {
	p, err := tx.Participant(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Participant{Identity: identity}, nil
	}
	return p, err
}

// addCounter guards uint64 counter arithmetic. Balances, cred, delta and the
// tribute pool refuse to wrap rather than saturate.
func addCounter(current, added uint64, counter string) (uint64, error) {
	if added > math.MaxUint64-current {
		return 0, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"counter would overflow",
			map[string]string{"counter": counter})
	}
	return current + added, nil
}

// appendEvent journals one typed event and collects the stored entry for
// post-commit publication.
func appendEvent(ctx context.Context, tx storage.Tx, height uint32, eventType string, payload any, out *[]storage.Event) error {
	evt, err := event.New(height, eventType, payload)
	if err != nil {
		return err
	}
	stored, err := tx.AppendEvent(ctx, evt)
	if err != nil {
		return err
	}
	*out = append(*out, stored)
	return nil
}
