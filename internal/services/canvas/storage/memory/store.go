// Package memory provides an in-memory canvas store for tests and ephemeral
// runs. Update transactions operate on a deep copy and swap it in on commit,
// so a failed operation leaves no partial writes, matching the SQL backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

// Store implements storage.Store on process memory.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	created      bool
	meta         storage.Meta
	cells        map[uint64][]byte
	participants map[string]storage.Participant
	byCompactID  map[uint16]string
	events       []storage.Event
	lastSeq      uint64
}

func newState() *state {
	return &state{
		cells:        make(map[uint64][]byte),
		participants: make(map[string]storage.Participant),
		byCompactID:  make(map[uint16]string),
	}
}

func (st *state) clone() *state {
	next := &state{
		created:      st.created,
		meta:         st.meta,
		cells:        make(map[uint64][]byte, len(st.cells)),
		participants: make(map[string]storage.Participant, len(st.participants)),
		byCompactID:  make(map[uint16]string, len(st.byCompactID)),
		events:       make([]storage.Event, len(st.events)),
		lastSeq:      st.lastSeq,
	}
	for k, v := range st.cells {
		block := make([]byte, len(v))
		copy(block, v)
		next.cells[k] = block
	}
	for k, v := range st.participants {
		next.participants[k] = v
	}
	for k, v := range st.byCompactID {
		next.byCompactID[k] = v
	}
	copy(next.events, st.events)
	return next
}

// Open creates an empty in-memory store.
func Open() *Store {
	return &Store{state: newState()}
}

// Create persists the initial meta row.
func (s *Store) Create(ctx context.Context, meta storage.Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.created {
		return storage.ErrCanvasExists
	}
	next := s.state.clone()
	next.created = true
	next.meta = meta
	s.state = next
	return nil
}

// View runs fn against the current state without copying.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{state: s.state, readOnly: true})
}

// Update runs fn against a copy and swaps it in when fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(&tx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Close is nil-safe and releases nothing; it exists to satisfy storage.Store.
func (s *Store) Close() error {
	return nil
}

type tx struct {
	state    *state
	readOnly bool
}

func (t *tx) guardWrite() error {
	if t.readOnly {
		return apperrors.New(apperrors.CodeInternal, "write inside read-only transaction")
	}
	return nil
}

func (t *tx) Meta(ctx context.Context) (storage.Meta, error) {
	if err := ctx.Err(); err != nil {
		return storage.Meta{}, err
	}
	if !t.state.created {
		return storage.Meta{}, storage.ErrNotFound
	}
	return t.state.meta, nil
}

func (t *tx) PutMeta(ctx context.Context, meta storage.Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.guardWrite(); err != nil {
		return err
	}
	t.state.created = true
	t.state.meta = meta
	return nil
}

func (t *tx) Cell(ctx context.Context, index uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	block, ok := t.state.cells[index]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(block))
	copy(out, block)
	return out, nil
}

func (t *tx) PutCell(ctx context.Context, index uint64, block []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.guardWrite(); err != nil {
		return err
	}
	stored := make([]byte, len(block))
	copy(stored, block)
	t.state.cells[index] = stored
	return nil
}

func (t *tx) Cells(ctx context.Context, startIndex uint64, limit int) ([]storage.Cell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	indexes := make([]uint64, 0, len(t.state.cells))
	for idx := range t.state.cells {
		if idx >= startIndex {
			indexes = append(indexes, idx)
		}
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	if limit > 0 && len(indexes) > limit {
		indexes = indexes[:limit]
	}
	cells := make([]storage.Cell, 0, len(indexes))
	for _, idx := range indexes {
		block := t.state.cells[idx]
		out := make([]byte, len(block))
		copy(out, block)
		cells = append(cells, storage.Cell{Index: idx, Block: out})
	}
	return cells, nil
}

func (t *tx) Participant(ctx context.Context, identity string) (storage.Participant, error) {
	if err := ctx.Err(); err != nil {
		return storage.Participant{}, err
	}
	p, ok := t.state.participants[identity]
	if !ok {
		return storage.Participant{}, storage.ErrNotFound
	}
	return p, nil
}

func (t *tx) ParticipantByID(ctx context.Context, compactID uint16) (storage.Participant, error) {
	if err := ctx.Err(); err != nil {
		return storage.Participant{}, err
	}
	identity, ok := t.state.byCompactID[compactID]
	if !ok {
		return storage.Participant{}, storage.ErrNotFound
	}
	return t.state.participants[identity], nil
}

func (t *tx) PutParticipant(ctx context.Context, p storage.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.guardWrite(); err != nil {
		return err
	}
	t.state.participants[p.Identity] = p
	if p.CompactID > 0 {
		t.state.byCompactID[p.CompactID] = p.Identity
	}
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, evt storage.Event) (storage.Event, error) {
	if err := ctx.Err(); err != nil {
		return storage.Event{}, err
	}
	if err := t.guardWrite(); err != nil {
		return storage.Event{}, err
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	evt.OccurredAt = evt.OccurredAt.UTC().Truncate(time.Millisecond)
	t.state.lastSeq++
	evt.Seq = t.state.lastSeq
	payload := make([]byte, len(evt.Payload))
	copy(payload, evt.Payload)
	evt.Payload = payload
	t.state.events = append(t.state.events, evt)
	return evt, nil
}

func (t *tx) Events(ctx context.Context, afterSeq uint64, limit int) ([]storage.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events := make([]storage.Event, 0)
	for _, evt := range t.state.events {
		if evt.Seq <= afterSeq {
			continue
		}
		events = append(events, evt)
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}
