package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canvas.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func fullMeta() storage.Meta {
	return storage.Meta{
		LayoutVersion:     1,
		Width:             16,
		Height:            16,
		SeedPayload:       0,
		IDCapacity:        65535,
		CreatedAt:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Administrator:     "admin@example.com",
		Exclusive:         true,
		AdminFrozenExempt: true,
		AwardPolicy:       "survival",
		BaseCred:          25,
		DecayFactor:       2,
		TributeEnabled:    true,
		BaseTribute:       10,
		TributePerLayer:   5,
		Overpayment:       "refund",
		MaxBatchCells:     128,
		LedgerHeight:      7,
		Delta:             42,
		Frozen:            false,
		FreezeThreshold:   1000,
		FreezeDeadline:    99999,
		LastParticipantID: 3,
		TributePool:       150,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCreateRejectsSecondCanvas(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Create(ctx, fullMeta()); err != nil {
		t.Fatalf("create canvas: %v", err)
	}
	if err := store.Create(ctx, fullMeta()); !errors.Is(err, storage.ErrCanvasExists) {
		t.Fatalf("second create error = %v, want ErrCanvasExists", err)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	want := fullMeta()
	if err := store.Create(ctx, want); err != nil {
		t.Fatalf("create canvas: %v", err)
	}

	err := store.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("created at = %v, want %v", got.CreatedAt, want.CreatedAt)
		}
		got.CreatedAt = time.Time{}
		check := want
		check.CreatedAt = time.Time{}
		if got != check {
			t.Errorf("meta round-trip mismatch:\n got %+v\nwant %+v", got, check)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestMetaMissingBeforeCreate(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	err := store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Meta(ctx)
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("meta before create error = %v, want ErrNotFound", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.Create(ctx, fullMeta()); err != nil {
		t.Fatalf("create canvas: %v", err)
	}

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutCell(ctx, 9, []byte{1, 2, 3, 4}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("update error = %v, want boom", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.Cell(ctx, 9); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("cell after rollback error = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.Create(ctx, fullMeta()); err != nil {
		t.Fatalf("create canvas: %v", err)
	}

	err := store.View(ctx, func(tx storage.Tx) error {
		return tx.PutCell(ctx, 0, []byte{0})
	})
	if err == nil {
		t.Fatal("expected write inside read-only transaction to fail")
	}
}

func TestCellRoundTripAndListing(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.Create(ctx, fullMeta()); err != nil {
		t.Fatalf("create canvas: %v", err)
	}

	err := store.Update(ctx, func(tx storage.Tx) error {
		for _, idx := range []uint64{11, 3, 7} {
			block := []byte{0, 0, 0, byte(idx), 0, 1, 0, 1, 0, 0, 0, 1, 0, 0, 0, 0}
			if err := tx.PutCell(ctx, idx, block); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		block, err := tx.Cell(ctx, 7)
		if err != nil {
			return err
		}
		if block[3] != 7 {
			t.Errorf("cell 7 payload byte = %d, want 7", block[3])
		}

		cells, err := tx.Cells(ctx, 4, 0)
		if err != nil {
			return err
		}
		if len(cells) != 2 || cells[0].Index != 7 || cells[1].Index != 11 {
			t.Errorf("cells from 4 = %+v, want indexes [7 11]", cells)
		}

		limited, err := tx.Cells(ctx, 0, 2)
		if err != nil {
			return err
		}
		if len(limited) != 2 || limited[0].Index != 3 || limited[1].Index != 7 {
			t.Errorf("cells limit 2 = %+v, want indexes [3 7]", limited)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestCellOverwriteReplacesBlock(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.Create(ctx, fullMeta()); err != nil {
		t.Fatalf("create canvas: %v", err)
	}

	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutCell(ctx, 2, []byte{1}); err != nil {
			return err
		}
		return tx.PutCell(ctx, 2, []byte{2})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		block, err := tx.Cell(ctx, 2)
		if err != nil {
			return err
		}
		if len(block) != 1 || block[0] != 2 {
			t.Errorf("cell block = %v, want [2]", block)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestParticipantRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.Create(ctx, fullMeta()); err != nil {
		t.Fatalf("create canvas: %v", err)
	}

	want := storage.Participant{
		Identity:     "alice@example.com",
		CompactID:    1,
		RegisteredAt: 4,
		Allowed:      true,
		Cred:         30,
		Balance:      500,
	}
	err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.PutParticipant(ctx, want)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Participant(ctx, "alice@example.com")
		if err != nil {
			return err
		}
		if got != want {
			t.Errorf("participant = %+v, want %+v", got, want)
		}
		byID, err := tx.ParticipantByID(ctx, 1)
		if err != nil {
			return err
		}
		if byID != want {
			t.Errorf("participant by id = %+v, want %+v", byID, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestParticipantByIDSkipsUnregistered(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.Create(ctx, fullMeta()); err != nil {
		t.Fatalf("create canvas: %v", err)
	}

	err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.PutParticipant(ctx, storage.Participant{Identity: "banned@example.com", Banned: true})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.ParticipantByID(ctx, 0); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("participant by id 0 error = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestEventsAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.Create(ctx, fullMeta()); err != nil {
		t.Fatalf("create canvas: %v", err)
	}

	err := store.Update(ctx, func(tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			evt, err := tx.AppendEvent(ctx, storage.Event{
				Height:  uint32(i + 1),
				Type:    "canvas.edited",
				Payload: []byte(`{"cells":1}`),
			})
			if err != nil {
				return err
			}
			if evt.Seq == 0 {
				t.Errorf("append #%d returned zero seq", i)
			}
			if evt.OccurredAt.IsZero() {
				t.Errorf("append #%d returned zero timestamp", i)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		events, err := tx.Events(ctx, 0, 0)
		if err != nil {
			return err
		}
		if len(events) != 3 {
			t.Fatalf("events = %d, want 3", len(events))
		}
		for i, evt := range events {
			if evt.Seq != uint64(i+1) {
				t.Errorf("event %d seq = %d, want %d", i, evt.Seq, i+1)
			}
			if evt.Height != uint32(i+1) {
				t.Errorf("event %d height = %d, want %d", i, evt.Height, i+1)
			}
		}

		tail, err := tx.Events(ctx, 2, 0)
		if err != nil {
			return err
		}
		if len(tail) != 1 || tail[0].Seq != 3 {
			t.Errorf("events after 2 = %+v, want seq [3]", tail)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "canvas.db")

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := first.Create(ctx, fullMeta()); err != nil {
		t.Fatalf("create canvas: %v", err)
	}
	err = first.Update(ctx, func(tx storage.Tx) error {
		return tx.PutCell(ctx, 1, []byte{9})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	second, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() {
		if err := second.Close(); err != nil {
			t.Fatalf("close reopened store: %v", err)
		}
	}()

	err = second.View(ctx, func(tx storage.Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		if meta.Width != 16 {
			t.Errorf("width after reopen = %d, want 16", meta.Width)
		}
		block, err := tx.Cell(ctx, 1)
		if err != nil {
			return err
		}
		if len(block) != 1 || block[0] != 9 {
			t.Errorf("cell after reopen = %v, want [9]", block)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view after reopen: %v", err)
	}
}
