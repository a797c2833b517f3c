package client

import (
	"encoding/json"
	"time"
)

// CanvasInfo mirrors GET /v1/canvas.
type CanvasInfo struct {
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

// Cell is one grid cell with its coordinate.
type Cell struct {
	X              uint32 `json:"x"`
	Y              uint32 `json:"y"`
	Payload        uint32 `json:"payload"`
	Provenance     uint16 `json:"provenance"`
	EditCount      uint16 `json:"edit_count"`
	LastModifiedAt uint32 `json:"last_modified_at"`
	Link           uint32 `json:"link"`
}

// Record is a cell without its coordinate, as snapshots carry them.
type Record struct {
	Payload        uint32 `json:"payload"`
	Provenance     uint16 `json:"provenance"`
	EditCount      uint16 `json:"edit_count"`
	LastModifiedAt uint32 `json:"last_modified_at"`
	Link           uint32 `json:"link"`
}

// Snapshot is a rectangle of records in row-major order.
type Snapshot struct {
	X       uint32   `json:"x"`
	Y       uint32   `json:"y"`
	Width   uint32   `json:"width"`
	Height  uint32   `json:"height"`
	Records []Record `json:"records"`
}

// Participant mirrors GET /v1/participants/{identity}.
type Participant struct {
	Identity     string `json:"identity"`
	CompactID    uint16 `json:"compact_id"`
	RegisteredAt uint32 `json:"registered_at"`
	Banned       bool   `json:"banned"`
	Allowed      bool   `json:"allowed"`
	Blacklisted  bool   `json:"blacklisted"`
	Cred         uint64 `json:"cred"`
	Balance      uint64 `json:"balance"`
}

// Event is one journal entry.
type Event struct {
	Seq        uint64          `json:"seq"`
	Height     uint32          `json:"height"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type eventsPage struct {
	Events []Event `json:"events"`
}

// EditCell is one cell write within an edit batch.
type EditCell struct {
	X       uint32 `json:"x"`
	Y       uint32 `json:"y"`
	Payload uint32 `json:"payload"`
	Link    uint32 `json:"link"`
}

// EditRequest is the body of POST /v1/edits.
type EditRequest struct {
	Cells   []EditCell `json:"cells"`
	Payment uint64     `json:"payment"`
}

// EditResult mirrors the edit response.
type EditResult struct {
	Height     uint32 `json:"height"`
	EditorID   uint16 `json:"editor_id"`
	Registered bool   `json:"registered"`
	Charged    uint64 `json:"charged"`
	EditorCred uint64 `json:"editor_cred"`
	Frozen     bool   `json:"frozen"`
	Cells      []Cell `json:"cells"`
}

// DepositResult mirrors the deposit response.
type DepositResult struct {
	Height   uint32 `json:"height"`
	Identity string `json:"identity"`
	Balance  uint64 `json:"balance"`
}

// RewindCell is one claimed cell history within a rewind request. Chain is
// the concatenated encoded records, newest first, base64.
type RewindCell struct {
	X     uint32 `json:"x"`
	Y     uint32 `json:"y"`
	Chain string `json:"chain"`
}

// RewindRequest is the body of POST /v1/moderation/rewinds.
type RewindRequest struct {
	Target string       `json:"target"`
	Cells  []RewindCell `json:"cells"`
}

// RewindCellResult reports the per-cell outcome of a rewind.
type RewindCellResult struct {
	X        uint32  `json:"x"`
	Y        uint32  `json:"y"`
	Outcome  string  `json:"outcome"`
	Restored *Record `json:"restored,omitempty"`
}

// RewindResult mirrors the rewind response.
type RewindResult struct {
	Height   uint32             `json:"height"`
	Target   string             `json:"target"`
	TargetID uint16             `json:"target_id"`
	Reverted int                `json:"reverted"`
	Cells    []RewindCellResult `json:"cells"`
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

type exclusiveRequest struct {
	Enabled bool `json:"enabled"`
}

type editorRequest struct {
	Editor  string `json:"editor"`
	Allowed bool   `json:"allowed"`
}

type banRequest struct {
	Editor string `json:"editor"`
	Banned bool   `json:"banned"`
}

type transferRequest struct {
	Successor string `json:"successor"`
}

type heightResult struct {
	Height uint32 `json:"height"`
}
