package engine

import (
	"context"
	"strconv"
	"time"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/grid"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/participant"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

// maxWindowCells bounds rectangle reads, which load cells one row at a time.
// Full-grid reads go through GridSnapshot instead.
const maxWindowCells = 4096

// maxEventPage bounds one journal replay page.
const maxEventPage = 512

// Info is the public canvas state served by the info surface.
type Info struct {
	LayoutVersion int       `json:"layout_version"`
	Width         uint32    `json:"width"`
	Height        uint32    `json:"height"`
	SeedPayload   uint32    `json:"seed_payload"`
	CreatedAt     time.Time `json:"created_at"`
	Administrator string    `json:"administrator"`
	Exclusive     bool      `json:"exclusive"`

	AwardPolicy     string `json:"award_policy"`
	BaseCred        uint64 `json:"base_cred"`
	DecayFactor     uint64 `json:"decay_factor"`
	TributeEnabled  bool   `json:"tribute_enabled"`
	BaseTribute     uint64 `json:"base_tribute"`
	TributePerLayer uint64 `json:"tribute_per_layer"`
	Overpayment     string `json:"overpayment"`
	TributePool     uint64 `json:"tribute_pool"`

	LedgerHeight    uint32 `json:"ledger_height"`
	Delta           uint64 `json:"delta"`
	Frozen          bool   `json:"frozen"`
	FreezeThreshold uint64 `json:"freeze_threshold"`
	FreezeDeadline  uint32 `json:"freeze_deadline"`

	MaxBatchCells int      `json:"max_batch_cells"`
	IDCapacity    uint16   `json:"id_capacity"`
	Participants  uint16   `json:"participants"`
	Capabilities  []string `json:"capabilities"`
}

// Canvas reports the canvas's public state. Frozen reflects what the next
// mutating call will experience, so a passed deadline reads as frozen even
// though the deadline is never materialized as a stored flag.
func (e *Engine) Canvas(ctx context.Context) (Info, error) {
	var meta storage.Meta
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		meta, err = tx.Meta(ctx)
		return err
	})
	if err != nil {
		return Info{}, err
	}

	frozen := meta.Frozen
	if meta.FreezeDeadline > 0 && meta.LedgerHeight+1 > meta.FreezeDeadline {
		frozen = true
	}

	capabilities := []string{"edits", "moderation", "treasury", "feed"}
	if meta.TributeEnabled {
		capabilities = append(capabilities, "tribute")
	}

	return Info{
		LayoutVersion:   meta.LayoutVersion,
		Width:           meta.Width,
		Height:          meta.Height,
		SeedPayload:     meta.SeedPayload,
		CreatedAt:       meta.CreatedAt,
		Administrator:   meta.Administrator,
		Exclusive:       meta.Exclusive,
		AwardPolicy:     meta.AwardPolicy,
		BaseCred:        meta.BaseCred,
		DecayFactor:     meta.DecayFactor,
		TributeEnabled:  meta.TributeEnabled,
		BaseTribute:     meta.BaseTribute,
		TributePerLayer: meta.TributePerLayer,
		Overpayment:     meta.Overpayment,
		TributePool:     meta.TributePool,
		LedgerHeight:    meta.LedgerHeight,
		Delta:           meta.Delta,
		Frozen:          frozen,
		FreezeThreshold: meta.FreezeThreshold,
		FreezeDeadline:  meta.FreezeDeadline,
		MaxBatchCells:   meta.MaxBatchCells,
		IDCapacity:      meta.IDCapacity,
		Participants:    meta.LastParticipantID,
		Capabilities:    capabilities,
	}, nil
}

// CellAt reads one cell's decoded record. Never-written cells read as the
// seed record.
func (e *Engine) CellAt(ctx context.Context, coord grid.Coord) (record.Record, error) {
	var rec record.Record
	err := e.store.View(ctx, func(tx storage.Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		index, err := geometry(meta).Locate(coord)
		if err != nil {
			return err
		}
		rec, err = loadRecord(ctx, tx, meta, index)
		return err
	})
	if err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// Snapshot is a row-major rectangle of decoded records.
type Snapshot struct {
	Origin  grid.Coord
	Width   uint32
	Height  uint32
	Records []record.Record
}

// Window reads a bounded rectangle of cells. The rectangle must lie inside
// the grid and carry at most maxWindowCells cells.
func (e *Engine) Window(ctx context.Context, origin grid.Coord, width, height uint32) (Snapshot, error) {
	if width == 0 || height == 0 {
		return Snapshot{}, apperrors.New(apperrors.CodeInvalidArgument,
			"window dimensions must be positive")
	}
	if uint64(width)*uint64(height) > maxWindowCells {
		return Snapshot{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"window exceeds the cell limit",
			map[string]string{
				"cells": strconv.FormatUint(uint64(width)*uint64(height), 10),
				"max":   strconv.Itoa(maxWindowCells),
			})
	}

	snapshot := Snapshot{Origin: origin, Width: width, Height: height}
	err := e.store.View(ctx, func(tx storage.Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		geo := geometry(meta)
		if _, err := geo.Locate(origin); err != nil {
			return err
		}
		if _, err := geo.Locate(grid.Coord{X: origin.X + width - 1, Y: origin.Y + height - 1}); err != nil {
			return err
		}

		snapshot.Records = make([]record.Record, 0, uint64(width)*uint64(height))
		for y := origin.Y; y < origin.Y+height; y++ {
			for x := origin.X; x < origin.X+width; x++ {
				index, err := geo.Locate(grid.Coord{X: x, Y: y})
				if err != nil {
					return err
				}
				rec, err := loadRecord(ctx, tx, meta, index)
				if err != nil {
					return err
				}
				snapshot.Records = append(snapshot.Records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// GridSnapshot reads the whole grid in row-major order. This is a heavy bulk
// operation intended for offline consumers, not latency-sensitive callers.
func (e *Engine) GridSnapshot(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	err := e.store.View(ctx, func(tx storage.Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		geo := geometry(meta)
		total := geo.Cells()

		records := make([]record.Record, total)
		seed := record.Seed(meta.SeedPayload)
		for i := range records {
			records[i] = seed
		}

		cells, err := tx.Cells(ctx, 0, -1)
		if err != nil {
			return err
		}
		for _, cell := range cells {
			if cell.Index >= total {
				return apperrors.WithMetadata(apperrors.CodeIntegrityError,
					"stored cell outside grid",
					map[string]string{"index": strconv.FormatUint(cell.Index, 10)})
			}
			rec, err := record.Decode(cell.Block)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeIntegrityError,
					"stored cell record is corrupt", err)
			}
			records[cell.Index] = rec
		}

		snapshot = Snapshot{Width: geo.Width, Height: geo.Height, Records: records}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// ParticipantInfo reads one identity's registry, policy and ledger state.
// Identities the canvas has never seen fail with a not-found error.
func (e *Engine) ParticipantInfo(ctx context.Context, identity string) (storage.Participant, error) {
	normalized, err := participant.NormalizeIdentity(identity)
	if err != nil {
		return storage.Participant{}, err
	}
	var p storage.Participant
	err = e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		p, err = tx.Participant(ctx, normalized)
		return err
	})
	if err != nil {
		return storage.Participant{}, err
	}
	return p, nil
}

// EventsAfter replays journal events with sequence numbers greater than
// after, oldest first. The page size is clamped to maxEventPage.
func (e *Engine) EventsAfter(ctx context.Context, after uint64, limit int) ([]storage.Event, error) {
	if limit <= 0 || limit > maxEventPage {
		limit = maxEventPage
	}
	var events []storage.Event
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		events, err = tx.Events(ctx, after, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
