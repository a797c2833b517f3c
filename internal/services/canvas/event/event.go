// Package event defines the journal's typed events and the broadcast hub
// that fans committed events out to feed subscribers.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

// Journal event types. Every committed mutation appends one aggregate event
// plus any per-entity events inside the same transaction.
const (
	TypeCellUpdated            = "cell.updated"
	TypeCanvasEdited           = "canvas.edited"
	TypeCanvasFrozen           = "canvas.frozen"
	TypeCanvasReverted         = "canvas.reverted"
	TypeCanvasExclusiveChanged = "canvas.exclusive_changed"
	TypeCanvasAdminTransferred = "canvas.administration_transferred"
	TypeParticipantRegistered  = "participant.registered"
	TypeParticipantBanned      = "participant.banned"
	TypeParticipantAllowed     = "participant.allowed"
	TypeParticipantBlacklisted = "participant.blacklisted"
	TypeTreasuryDeposited      = "treasury.deposited"
)

// Freeze causes recorded on canvas.frozen events.
const (
	FreezeCauseThreshold = "threshold"
	FreezeCauseAdmin     = "admin"
)

// CellUpdated describes one cell's record after a committed write.
type CellUpdated struct {
	X              uint32 `json:"x"`
	Y              uint32 `json:"y"`
	Payload        uint32 `json:"payload"`
	Provenance     uint16 `json:"provenance"`
	EditCount      uint16 `json:"edit_count"`
	LastModifiedAt uint32 `json:"last_modified_at"`
	Link           uint32 `json:"link"`
}

// CanvasEdited summarizes one committed edit batch.
type CanvasEdited struct {
	Editor   string `json:"editor"`
	EditorID uint16 `json:"editor_id"`
	Cells    int    `json:"cells"`
	Charged  uint64 `json:"charged"`
}

// CanvasFrozen records the canvas entering its terminal state.
type CanvasFrozen struct {
	Cause string `json:"cause"`
}

// CanvasReverted summarizes a committed rewind.
type CanvasReverted struct {
	Target   string `json:"target"`
	TargetID uint16 `json:"target_id"`
	Cells    int    `json:"cells"`
	Reverted int    `json:"reverted"`
}

// ExclusiveChanged records an exclusive-mode toggle.
type ExclusiveChanged struct {
	Enabled bool `json:"enabled"`
}

// AdminTransferred records an administration hand-off.
type AdminTransferred struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ParticipantRegistered records a compact id assignment.
type ParticipantRegistered struct {
	Identity  string `json:"identity"`
	CompactID uint16 `json:"compact_id"`
}

// ParticipantFlagged records a policy flag change.
type ParticipantFlagged struct {
	Identity string `json:"identity"`
	Active   bool   `json:"active"`
}

// TreasuryDeposited records a balance top-up.
type TreasuryDeposited struct {
	Identity string `json:"identity"`
	Amount   uint64 `json:"amount"`
	Balance  uint64 `json:"balance"`
}

// New builds a journal event at the given height with a JSON payload.
func New(height uint32, eventType string, payload any) (storage.Event, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return storage.Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return storage.Event{
		Height:  height,
		Type:    eventType,
		Payload: encoded,
	}, nil
}
