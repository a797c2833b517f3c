// Package sqlite persists the canvas in a single SQLite database file with
// WAL journaling and embedded migrations applied on open.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mosaicforge/tessella/internal/platform/storage/sqlitemigrate"
	"github.com/mosaicforge/tessella/internal/platform/timeouts"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// toDBCounter guards uint64 counters crossing into SQLite's signed integers.
func toDBCounter(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("counter %d exceeds storable range", value)
	}
	return int64(value), nil
}

func fromDBCounter(value int64) (uint64, error) {
	if value < 0 {
		return 0, fmt.Errorf("negative counter %d in storage", value)
	}
	return uint64(value), nil
}

// Store provides a SQLite-backed canvas store.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite canvas store at the provided path and applies embedded
// migrations before the store is handed to higher layers.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create persists the initial meta row. It fails when a canvas already exists.
func (s *Store) Create(ctx context.Context, meta storage.Meta) error {
	return s.transact(ctx, false, func(tx *canvasTx) error {
		var one int
		err := tx.sqlTx.QueryRowContext(ctx, "SELECT 1 FROM canvas_meta WHERE id = 1").Scan(&one)
		if err == nil {
			return storage.ErrCanvasExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check canvas meta: %w", err)
		}
		return tx.PutMeta(ctx, meta)
	})
}

// View runs fn inside a transaction that rejects writes.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.transact(ctx, true, func(tx *canvasTx) error {
		return fn(tx)
	})
}

// Update runs fn inside a transaction committed only when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.transact(ctx, false, func(tx *canvasTx) error {
		return fn(tx)
	})
}

func (s *Store) transact(ctx context.Context, readOnly bool, fn func(*canvasTx) error) error {
	// The BeginTx context bounds the whole transaction, including statements
	// issued with the caller's context.
	ctx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()

	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &canvasTx{sqlTx: sqlTx, readOnly: readOnly}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if readOnly {
		return sqlTx.Rollback()
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type canvasTx struct {
	sqlTx    *sql.Tx
	readOnly bool
}

func (t *canvasTx) guardWrite() error {
	if t.readOnly {
		return fmt.Errorf("write inside read-only transaction")
	}
	return nil
}

func (t *canvasTx) Meta(ctx context.Context) (storage.Meta, error) {
	row := t.sqlTx.QueryRowContext(ctx, `
SELECT layout_version, width, height, seed_payload, id_capacity, created_at_ms,
       administrator, exclusive, admin_frozen_exempt,
       award_policy, base_cred, decay_factor,
       tribute_enabled, base_tribute, tribute_per_layer, overpayment,
       max_batch_cells,
       ledger_height, delta, frozen, freeze_threshold, freeze_deadline,
       last_participant_id, tribute_pool
FROM canvas_meta WHERE id = 1`)

	var (
		meta                         storage.Meta
		layoutVersion                int64
		width, height, seedPayload   int64
		idCapacity                   int64
		createdAtMillis              int64
		exclusive, exempt            int
		baseCred, decayFactor        int64
		tributeEnabled               int
		baseTribute, tributePerLayer int64
		maxBatchCells                int64
		ledgerHeight, delta          int64
		frozen                       int
		threshold, deadline          int64
		lastParticipantID            int64
		tributePool                  int64
	)
	err := row.Scan(
		&layoutVersion, &width, &height, &seedPayload, &idCapacity, &createdAtMillis,
		&meta.Administrator, &exclusive, &exempt,
		&meta.AwardPolicy, &baseCred, &decayFactor,
		&tributeEnabled, &baseTribute, &tributePerLayer, &meta.Overpayment,
		&maxBatchCells,
		&ledgerHeight, &delta, &frozen, &threshold, &deadline,
		&lastParticipantID, &tributePool,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Meta{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Meta{}, fmt.Errorf("read canvas meta: %w", err)
	}

	meta.LayoutVersion = int(layoutVersion)
	meta.Width = uint32(width)
	meta.Height = uint32(height)
	meta.SeedPayload = uint32(seedPayload)
	meta.IDCapacity = uint16(idCapacity)
	meta.CreatedAt = fromMillis(createdAtMillis)
	meta.Exclusive = exclusive != 0
	meta.AdminFrozenExempt = exempt != 0
	meta.TributeEnabled = tributeEnabled != 0
	meta.MaxBatchCells = int(maxBatchCells)
	meta.LedgerHeight = uint32(ledgerHeight)
	meta.Frozen = frozen != 0
	meta.FreezeDeadline = uint32(deadline)
	meta.LastParticipantID = uint16(lastParticipantID)

	for _, conversion := range []struct {
		name  string
		value int64
		dst   *uint64
	}{
		{"base_cred", baseCred, &meta.BaseCred},
		{"decay_factor", decayFactor, &meta.DecayFactor},
		{"base_tribute", baseTribute, &meta.BaseTribute},
		{"tribute_per_layer", tributePerLayer, &meta.TributePerLayer},
		{"delta", delta, &meta.Delta},
		{"freeze_threshold", threshold, &meta.FreezeThreshold},
		{"tribute_pool", tributePool, &meta.TributePool},
	} {
		converted, err := fromDBCounter(conversion.value)
		if err != nil {
			return storage.Meta{}, fmt.Errorf("read %s: %w", conversion.name, err)
		}
		*conversion.dst = converted
	}
	return meta, nil
}

func (t *canvasTx) PutMeta(ctx context.Context, meta storage.Meta) error {
	if err := t.guardWrite(); err != nil {
		return err
	}

	counters := make(map[string]int64, 7)
	for _, conversion := range []struct {
		name  string
		value uint64
	}{
		{"base_cred", meta.BaseCred},
		{"decay_factor", meta.DecayFactor},
		{"base_tribute", meta.BaseTribute},
		{"tribute_per_layer", meta.TributePerLayer},
		{"delta", meta.Delta},
		{"freeze_threshold", meta.FreezeThreshold},
		{"tribute_pool", meta.TributePool},
	} {
		converted, err := toDBCounter(conversion.value)
		if err != nil {
			return fmt.Errorf("store %s: %w", conversion.name, err)
		}
		counters[conversion.name] = converted
	}

	_, err := t.sqlTx.ExecContext(ctx, `
INSERT INTO canvas_meta (
    id, layout_version, width, height, seed_payload, id_capacity, created_at_ms,
    administrator, exclusive, admin_frozen_exempt,
    award_policy, base_cred, decay_factor,
    tribute_enabled, base_tribute, tribute_per_layer, overpayment,
    max_batch_cells,
    ledger_height, delta, frozen, freeze_threshold, freeze_deadline,
    last_participant_id, tribute_pool
) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    layout_version = excluded.layout_version,
    width = excluded.width,
    height = excluded.height,
    seed_payload = excluded.seed_payload,
    id_capacity = excluded.id_capacity,
    created_at_ms = excluded.created_at_ms,
    administrator = excluded.administrator,
    exclusive = excluded.exclusive,
    admin_frozen_exempt = excluded.admin_frozen_exempt,
    award_policy = excluded.award_policy,
    base_cred = excluded.base_cred,
    decay_factor = excluded.decay_factor,
    tribute_enabled = excluded.tribute_enabled,
    base_tribute = excluded.base_tribute,
    tribute_per_layer = excluded.tribute_per_layer,
    overpayment = excluded.overpayment,
    max_batch_cells = excluded.max_batch_cells,
    ledger_height = excluded.ledger_height,
    delta = excluded.delta,
    frozen = excluded.frozen,
    freeze_threshold = excluded.freeze_threshold,
    freeze_deadline = excluded.freeze_deadline,
    last_participant_id = excluded.last_participant_id,
    tribute_pool = excluded.tribute_pool`,
		int64(meta.LayoutVersion), int64(meta.Width), int64(meta.Height),
		int64(meta.SeedPayload), int64(meta.IDCapacity), toMillis(meta.CreatedAt),
		meta.Administrator, boolToInt(meta.Exclusive), boolToInt(meta.AdminFrozenExempt),
		meta.AwardPolicy, counters["base_cred"], counters["decay_factor"],
		boolToInt(meta.TributeEnabled), counters["base_tribute"], counters["tribute_per_layer"], meta.Overpayment,
		int64(meta.MaxBatchCells),
		int64(meta.LedgerHeight), counters["delta"], boolToInt(meta.Frozen),
		counters["freeze_threshold"], int64(meta.FreezeDeadline),
		int64(meta.LastParticipantID), counters["tribute_pool"],
	)
	if err != nil {
		return fmt.Errorf("write canvas meta: %w", err)
	}
	return nil
}

func (t *canvasTx) Cell(ctx context.Context, index uint64) ([]byte, error) {
	idx, err := toDBCounter(index)
	if err != nil {
		return nil, fmt.Errorf("cell index: %w", err)
	}
	var block []byte
	err = t.sqlTx.QueryRowContext(ctx, "SELECT block FROM cells WHERE idx = ?", idx).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cell %d: %w", index, err)
	}
	return block, nil
}

func (t *canvasTx) PutCell(ctx context.Context, index uint64, block []byte) error {
	if err := t.guardWrite(); err != nil {
		return err
	}
	idx, err := toDBCounter(index)
	if err != nil {
		return fmt.Errorf("cell index: %w", err)
	}
	_, err = t.sqlTx.ExecContext(ctx, `
INSERT INTO cells (idx, block) VALUES (?, ?)
ON CONFLICT (idx) DO UPDATE SET block = excluded.block`, idx, block)
	if err != nil {
		return fmt.Errorf("write cell %d: %w", index, err)
	}
	return nil
}

func (t *canvasTx) Cells(ctx context.Context, startIndex uint64, limit int) ([]storage.Cell, error) {
	start, err := toDBCounter(startIndex)
	if err != nil {
		return nil, fmt.Errorf("cell index: %w", err)
	}
	queryLimit := int64(limit)
	if limit <= 0 {
		queryLimit = -1
	}
	rows, err := t.sqlTx.QueryContext(ctx,
		"SELECT idx, block FROM cells WHERE idx >= ? ORDER BY idx ASC LIMIT ?", start, queryLimit)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()

	var cells []storage.Cell
	for rows.Next() {
		var idx int64
		var block []byte
		if err := rows.Scan(&idx, &block); err != nil {
			return nil, fmt.Errorf("scan cell row: %w", err)
		}
		index, err := fromDBCounter(idx)
		if err != nil {
			return nil, fmt.Errorf("cell index: %w", err)
		}
		cells = append(cells, storage.Cell{Index: index, Block: block})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}
	return cells, nil
}

func (t *canvasTx) Participant(ctx context.Context, identity string) (storage.Participant, error) {
	row := t.sqlTx.QueryRowContext(ctx, `
SELECT identity, compact_id, registered_at, banned, allowed, blacklisted, cred, balance
FROM participants WHERE identity = ?`, identity)
	return scanParticipant(row)
}

func (t *canvasTx) ParticipantByID(ctx context.Context, compactID uint16) (storage.Participant, error) {
	row := t.sqlTx.QueryRowContext(ctx, `
SELECT identity, compact_id, registered_at, banned, allowed, blacklisted, cred, balance
FROM participants WHERE compact_id = ? AND compact_id > 0`, int64(compactID))
	return scanParticipant(row)
}

func (t *canvasTx) PutParticipant(ctx context.Context, p storage.Participant) error {
	if err := t.guardWrite(); err != nil {
		return err
	}
	cred, err := toDBCounter(p.Cred)
	if err != nil {
		return fmt.Errorf("store cred: %w", err)
	}
	balance, err := toDBCounter(p.Balance)
	if err != nil {
		return fmt.Errorf("store balance: %w", err)
	}
	_, err = t.sqlTx.ExecContext(ctx, `
INSERT INTO participants (identity, compact_id, registered_at, banned, allowed, blacklisted, cred, balance)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (identity) DO UPDATE SET
    compact_id = excluded.compact_id,
    registered_at = excluded.registered_at,
    banned = excluded.banned,
    allowed = excluded.allowed,
    blacklisted = excluded.blacklisted,
    cred = excluded.cred,
    balance = excluded.balance`,
		p.Identity, int64(p.CompactID), int64(p.RegisteredAt),
		boolToInt(p.Banned), boolToInt(p.Allowed), boolToInt(p.Blacklisted),
		cred, balance,
	)
	if err != nil {
		return fmt.Errorf("write participant %s: %w", p.Identity, err)
	}
	return nil
}

func (t *canvasTx) AppendEvent(ctx context.Context, evt storage.Event) (storage.Event, error) {
	if err := t.guardWrite(); err != nil {
		return storage.Event{}, err
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	evt.OccurredAt = evt.OccurredAt.UTC().Truncate(time.Millisecond)
	result, err := t.sqlTx.ExecContext(ctx,
		"INSERT INTO events (height, type, occurred_at_ms, payload) VALUES (?, ?, ?, ?)",
		int64(evt.Height), evt.Type, toMillis(evt.OccurredAt), evt.Payload)
	if err != nil {
		return storage.Event{}, fmt.Errorf("append event: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return storage.Event{}, fmt.Errorf("event sequence: %w", err)
	}
	assigned, err := fromDBCounter(seq)
	if err != nil {
		return storage.Event{}, fmt.Errorf("event sequence: %w", err)
	}
	evt.Seq = assigned
	return evt, nil
}

func (t *canvasTx) Events(ctx context.Context, afterSeq uint64, limit int) ([]storage.Event, error) {
	after, err := toDBCounter(afterSeq)
	if err != nil {
		return nil, fmt.Errorf("event sequence: %w", err)
	}
	queryLimit := int64(limit)
	if limit <= 0 {
		queryLimit = -1
	}
	rows, err := t.sqlTx.QueryContext(ctx, `
SELECT seq, height, type, occurred_at_ms, payload
FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?`, after, queryLimit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []storage.Event
	for rows.Next() {
		var (
			seq        int64
			height     int64
			eventType  string
			occurredAt int64
			payload    []byte
		)
		if err := rows.Scan(&seq, &height, &eventType, &occurredAt, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		assigned, err := fromDBCounter(seq)
		if err != nil {
			return nil, fmt.Errorf("event sequence: %w", err)
		}
		events = append(events, storage.Event{
			Seq:        assigned,
			Height:     uint32(height),
			Type:       eventType,
			OccurredAt: fromMillis(occurredAt),
			Payload:    payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanParticipant(row *sql.Row) (storage.Participant, error) {
	var (
		p                            storage.Participant
		compactID, registeredAt      int64
		banned, allowed, blacklisted int
		cred, balance                int64
	)
	err := row.Scan(&p.Identity, &compactID, &registeredAt, &banned, &allowed, &blacklisted, &cred, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Participant{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Participant{}, fmt.Errorf("read participant: %w", err)
	}
	p.CompactID = uint16(compactID)
	p.RegisteredAt = uint32(registeredAt)
	p.Banned = banned != 0
	p.Allowed = allowed != 0
	p.Blacklisted = blacklisted != 0
	credValue, err := fromDBCounter(cred)
	if err != nil {
		return storage.Participant{}, fmt.Errorf("read cred: %w", err)
	}
	balanceValue, err := fromDBCounter(balance)
	if err != nil {
		return storage.Participant{}, fmt.Errorf("read balance: %w", err)
	}
	p.Cred = credValue
	p.Balance = balanceValue
	return p, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
