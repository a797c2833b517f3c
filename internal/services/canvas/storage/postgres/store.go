// Package postgres persists the canvas in PostgreSQL for multi-instance
// deployments. Write transactions take an advisory lock so concurrent
// instances serialize their mutations the same way a single process does.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mosaicforge/tessella/internal/platform/timeouts"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

const (
	metaTableName         = "tessella_meta"
	cellsTableName        = "tessella_cells"
	participantsTableName = "tessella_participants"
	eventsTableName       = "tessella_events"
)

// Store provides a PostgreSQL-backed canvas store.
type Store struct {
	db      *sql.DB
	lockKey int64
}

// Open connects to PostgreSQL and ensures the canvas schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure canvas schema: %w", err)
	}

	return &Store{db: db, lockKey: writeLockKey(metaTableName)}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id SMALLINT PRIMARY KEY CHECK (id = 1),
				layout_version BIGINT NOT NULL,
				width BIGINT NOT NULL,
				height BIGINT NOT NULL,
				seed_payload BIGINT NOT NULL,
				id_capacity BIGINT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				administrator TEXT NOT NULL,
				exclusive BOOLEAN NOT NULL DEFAULT FALSE,
				admin_frozen_exempt BOOLEAN NOT NULL DEFAULT FALSE,
				award_policy TEXT NOT NULL,
				base_cred BIGINT NOT NULL,
				decay_factor BIGINT NOT NULL,
				tribute_enabled BOOLEAN NOT NULL DEFAULT FALSE,
				base_tribute BIGINT NOT NULL,
				tribute_per_layer BIGINT NOT NULL,
				overpayment TEXT NOT NULL,
				max_batch_cells BIGINT NOT NULL,
				ledger_height BIGINT NOT NULL DEFAULT 0,
				delta BIGINT NOT NULL DEFAULT 0,
				frozen BOOLEAN NOT NULL DEFAULT FALSE,
				freeze_threshold BIGINT NOT NULL DEFAULT 0,
				freeze_deadline BIGINT NOT NULL DEFAULT 0,
				last_participant_id BIGINT NOT NULL DEFAULT 0,
				tribute_pool BIGINT NOT NULL DEFAULT 0
			)`, quoteIdentifier(metaTableName)),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				idx BIGINT PRIMARY KEY,
				block BYTEA NOT NULL
			)`, quoteIdentifier(cellsTableName)),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				identity TEXT PRIMARY KEY,
				compact_id BIGINT NOT NULL DEFAULT 0,
				registered_at BIGINT NOT NULL DEFAULT 0,
				banned BOOLEAN NOT NULL DEFAULT FALSE,
				allowed BOOLEAN NOT NULL DEFAULT FALSE,
				blacklisted BOOLEAN NOT NULL DEFAULT FALSE,
				cred BIGINT NOT NULL DEFAULT 0,
				balance BIGINT NOT NULL DEFAULT 0
			)`, quoteIdentifier(participantsTableName)),
		fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (compact_id) WHERE compact_id > 0",
			quoteIdentifier(participantsTableName+"_compact_id_idx"),
			quoteIdentifier(participantsTableName),
		),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq BIGSERIAL PRIMARY KEY,
				height BIGINT NOT NULL,
				type TEXT NOT NULL,
				occurred_at TIMESTAMPTZ NOT NULL,
				payload BYTEA NOT NULL
			)`, quoteIdentifier(eventsTableName)),
		fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (height)",
			quoteIdentifier(eventsTableName+"_height_idx"),
			quoteIdentifier(eventsTableName),
		),
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

// Close is nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create persists the initial meta row. It fails when a canvas already exists.
func (s *Store) Create(ctx context.Context, meta storage.Meta) error {
	return s.transact(ctx, false, func(tx *canvasTx) error {
		var one int
		err := tx.sqlTx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT 1 FROM %s WHERE id = 1", quoteIdentifier(metaTableName)),
		).Scan(&one)
		if err == nil {
			return storage.ErrCanvasExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check canvas meta: %w", err)
		}
		return tx.PutMeta(ctx, meta)
	})
}

// View runs fn inside a read-only transaction.
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
	// Bounds the transaction, advisory lock wait included.
	ctx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if !readOnly {
		if _, err := sqlTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", s.lockKey); err != nil {
			return fmt.Errorf("acquire write lock: %w", err)
		}
	}

	tx := &canvasTx{sqlTx: sqlTx, readOnly: readOnly}
	if err := fn(tx); err != nil {
		return err
	}
	if readOnly {
		return sqlTx.Rollback()
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
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
	query := fmt.Sprintf(`
SELECT layout_version, width, height, seed_payload, id_capacity, created_at,
       administrator, exclusive, admin_frozen_exempt,
       award_policy, base_cred, decay_factor,
       tribute_enabled, base_tribute, tribute_per_layer, overpayment,
       max_batch_cells,
       ledger_height, delta, frozen, freeze_threshold, freeze_deadline,
       last_participant_id, tribute_pool
FROM %s WHERE id = 1`, quoteIdentifier(metaTableName))

	var (
		meta                         storage.Meta
		layoutVersion                int64
		width, height, seedPayload   int64
		idCapacity                   int64
		createdAt                    time.Time
		baseCred, decayFactor        int64
		baseTribute, tributePerLayer int64
		maxBatchCells                int64
		ledgerHeight, delta          int64
		threshold, deadline          int64
		lastParticipantID            int64
		tributePool                  int64
	)
	err := t.sqlTx.QueryRowContext(ctx, query).Scan(
		&layoutVersion, &width, &height, &seedPayload, &idCapacity, &createdAt,
		&meta.Administrator, &meta.Exclusive, &meta.AdminFrozenExempt,
		&meta.AwardPolicy, &baseCred, &decayFactor,
		&meta.TributeEnabled, &baseTribute, &tributePerLayer, &meta.Overpayment,
		&maxBatchCells,
		&ledgerHeight, &delta, &meta.Frozen, &threshold, &deadline,
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
	meta.CreatedAt = createdAt.UTC()
	meta.MaxBatchCells = int(maxBatchCells)
	meta.LedgerHeight = uint32(ledgerHeight)
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

	query := fmt.Sprintf(`
INSERT INTO %s (
    id, layout_version, width, height, seed_payload, id_capacity, created_at,
    administrator, exclusive, admin_frozen_exempt,
    award_policy, base_cred, decay_factor,
    tribute_enabled, base_tribute, tribute_per_layer, overpayment,
    max_batch_cells,
    ledger_height, delta, frozen, freeze_threshold, freeze_deadline,
    last_participant_id, tribute_pool
) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
ON CONFLICT (id) DO UPDATE SET
    layout_version = EXCLUDED.layout_version,
    width = EXCLUDED.width,
    height = EXCLUDED.height,
    seed_payload = EXCLUDED.seed_payload,
    id_capacity = EXCLUDED.id_capacity,
    created_at = EXCLUDED.created_at,
    administrator = EXCLUDED.administrator,
    exclusive = EXCLUDED.exclusive,
    admin_frozen_exempt = EXCLUDED.admin_frozen_exempt,
    award_policy = EXCLUDED.award_policy,
    base_cred = EXCLUDED.base_cred,
    decay_factor = EXCLUDED.decay_factor,
    tribute_enabled = EXCLUDED.tribute_enabled,
    base_tribute = EXCLUDED.base_tribute,
    tribute_per_layer = EXCLUDED.tribute_per_layer,
    overpayment = EXCLUDED.overpayment,
    max_batch_cells = EXCLUDED.max_batch_cells,
    ledger_height = EXCLUDED.ledger_height,
    delta = EXCLUDED.delta,
    frozen = EXCLUDED.frozen,
    freeze_threshold = EXCLUDED.freeze_threshold,
    freeze_deadline = EXCLUDED.freeze_deadline,
    last_participant_id = EXCLUDED.last_participant_id,
    tribute_pool = EXCLUDED.tribute_pool`, quoteIdentifier(metaTableName))

	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := t.sqlTx.ExecContext(ctx, query,
		int64(meta.LayoutVersion), int64(meta.Width), int64(meta.Height),
		int64(meta.SeedPayload), int64(meta.IDCapacity), createdAt.UTC(),
		meta.Administrator, meta.Exclusive, meta.AdminFrozenExempt,
		meta.AwardPolicy, counters["base_cred"], counters["decay_factor"],
		meta.TributeEnabled, counters["base_tribute"], counters["tribute_per_layer"], meta.Overpayment,
		int64(meta.MaxBatchCells),
		int64(meta.LedgerHeight), counters["delta"], meta.Frozen,
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
	query := fmt.Sprintf("SELECT block FROM %s WHERE idx = $1", quoteIdentifier(cellsTableName))
	err = t.sqlTx.QueryRowContext(ctx, query, idx).Scan(&block)
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
	query := fmt.Sprintf(`
INSERT INTO %s (idx, block) VALUES ($1, $2)
ON CONFLICT (idx) DO UPDATE SET block = EXCLUDED.block`, quoteIdentifier(cellsTableName))
	if _, err := t.sqlTx.ExecContext(ctx, query, idx, block); err != nil {
		return fmt.Errorf("write cell %d: %w", index, err)
	}
	return nil
}

func (t *canvasTx) Cells(ctx context.Context, startIndex uint64, limit int) ([]storage.Cell, error) {
	start, err := toDBCounter(startIndex)
	if err != nil {
		return nil, fmt.Errorf("cell index: %w", err)
	}
	queryLimit := sql.NullInt64{}
	if limit > 0 {
		queryLimit = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	query := fmt.Sprintf(
		"SELECT idx, block FROM %s WHERE idx >= $1 ORDER BY idx ASC LIMIT $2",
		quoteIdentifier(cellsTableName))
	rows, err := t.sqlTx.QueryContext(ctx, query, start, queryLimit)
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
	query := fmt.Sprintf(`
SELECT identity, compact_id, registered_at, banned, allowed, blacklisted, cred, balance
FROM %s WHERE identity = $1`, quoteIdentifier(participantsTableName))
	return scanParticipant(t.sqlTx.QueryRowContext(ctx, query, identity))
}

func (t *canvasTx) ParticipantByID(ctx context.Context, compactID uint16) (storage.Participant, error) {
	query := fmt.Sprintf(`
SELECT identity, compact_id, registered_at, banned, allowed, blacklisted, cred, balance
FROM %s WHERE compact_id = $1 AND compact_id > 0`, quoteIdentifier(participantsTableName))
	return scanParticipant(t.sqlTx.QueryRowContext(ctx, query, int64(compactID)))
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
	query := fmt.Sprintf(`
INSERT INTO %s (identity, compact_id, registered_at, banned, allowed, blacklisted, cred, balance)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (identity) DO UPDATE SET
    compact_id = EXCLUDED.compact_id,
    registered_at = EXCLUDED.registered_at,
    banned = EXCLUDED.banned,
    allowed = EXCLUDED.allowed,
    blacklisted = EXCLUDED.blacklisted,
    cred = EXCLUDED.cred,
    balance = EXCLUDED.balance`, quoteIdentifier(participantsTableName))
	_, err = t.sqlTx.ExecContext(ctx, query,
		p.Identity, int64(p.CompactID), int64(p.RegisteredAt),
		p.Banned, p.Allowed, p.Blacklisted,
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
	query := fmt.Sprintf(
		"INSERT INTO %s (height, type, occurred_at, payload) VALUES ($1, $2, $3, $4) RETURNING seq",
		quoteIdentifier(eventsTableName))
	var seq int64
	err := t.sqlTx.QueryRowContext(ctx, query,
		int64(evt.Height), evt.Type, evt.OccurredAt, evt.Payload).Scan(&seq)
	if err != nil {
		return storage.Event{}, fmt.Errorf("append event: %w", err)
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
	queryLimit := sql.NullInt64{}
	if limit > 0 {
		queryLimit = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	query := fmt.Sprintf(`
SELECT seq, height, type, occurred_at, payload
FROM %s WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, quoteIdentifier(eventsTableName))
	rows, err := t.sqlTx.QueryContext(ctx, query, after, queryLimit)
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
			occurredAt time.Time
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
			OccurredAt: occurredAt.UTC(),
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
		p                       storage.Participant
		compactID, registeredAt int64
		cred, balance           int64
	)
	err := row.Scan(&p.Identity, &compactID, &registeredAt, &p.Banned, &p.Allowed, &p.Blacklisted, &cred, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Participant{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Participant{}, fmt.Errorf("read participant: %w", err)
	}
	p.CompactID = uint16(compactID)
	p.RegisteredAt = uint32(registeredAt)
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

// toDBCounter guards uint64 counters crossing into signed BIGINT columns.
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

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func writeLockKey(tableName string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(strings.TrimSpace(tableName)))
	return int64(hasher.Sum64())
}
