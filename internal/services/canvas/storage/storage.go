package storage

import (
	"context"
	"time"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity"
// states and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrCanvasExists is returned by Create when the store already holds a canvas.
var ErrCanvasExists = apperrors.New(apperrors.CodeAlreadyExists, "canvas already exists")

// Meta is the persisted canvas global state. One row per store.
type Meta struct {
	// Immutable after creation.
	LayoutVersion int
	Width         uint32
	Height        uint32
	SeedPayload   uint32
	IDCapacity    uint16
	CreatedAt     time.Time

	// Governance, mutated by administrative operations.
	Administrator     string
	Exclusive         bool
	AdminFrozenExempt bool

	// Economics, fixed at creation.
	AwardPolicy     string
	BaseCred        uint64
	DecayFactor     uint64
	TributeEnabled  bool
	BaseTribute     uint64
	TributePerLayer uint64
	Overpayment     string

	// Limits.
	MaxBatchCells int

	// Counters, advanced by the engine.
	LedgerHeight      uint32
	Delta             uint64
	Frozen            bool
	FreezeThreshold   uint64
	FreezeDeadline    uint32
	LastParticipantID uint16
	TributePool       uint64
}

// Participant captures one identity's registry, policy, and ledger state.
// CompactID stays 0 until the identity's first permitted edit; policy flags
// and balances may exist before that.
type Participant struct {
	Identity     string
	CompactID    uint16
	RegisteredAt uint32 // ledger height of id assignment
	Banned       bool
	Allowed      bool
	Blacklisted  bool
	Cred         uint64
	Balance      uint64
}

// Cell is one written cell's encoded record keyed by row-major index. Cells
// that were never written have no row; readers substitute the seed record.
type Cell struct {
	Index uint64
	Block []byte
}

// Event is one journal entry, appended in the transaction that produced it.
type Event struct {
	Seq        uint64
	Height     uint32
	Type       string
	OccurredAt time.Time
	Payload    []byte
}

// Tx is one serialized view of the store. Within Update every method sees
// the transaction's own writes; within View mutating methods must not be
// called.
type Tx interface {
	Meta(ctx context.Context) (Meta, error)
	PutMeta(ctx context.Context, meta Meta) error

	Cell(ctx context.Context, index uint64) ([]byte, error)
	PutCell(ctx context.Context, index uint64, block []byte) error
	Cells(ctx context.Context, startIndex uint64, limit int) ([]Cell, error)

	Participant(ctx context.Context, identity string) (Participant, error)
	ParticipantByID(ctx context.Context, compactID uint16) (Participant, error)
	PutParticipant(ctx context.Context, p Participant) error

	AppendEvent(ctx context.Context, evt Event) (Event, error)
	Events(ctx context.Context, afterSeq uint64, limit int) ([]Event, error)
}

// Store is a transactional canvas store.
type Store interface {
	// Create persists the initial meta row. It fails with an already-exists
	// error when the store already holds a canvas.
	Create(ctx context.Context, meta Meta) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn in a read-write transaction. The transaction commits
	// only when fn returns nil; any error rolls every write back.
	Update(ctx context.Context, fn func(Tx) error) error

	Close() error
}
