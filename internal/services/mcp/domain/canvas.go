package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mosaicforge/tessella/internal/services/canvas/api/client"
)

// CanvasAPI is the slice of the canvas client the read tools need.
type CanvasAPI interface {
	Canvas(ctx context.Context) (client.CanvasInfo, error)
	Cell(ctx context.Context, x, y uint32) (client.Cell, error)
	Window(ctx context.Context, x, y, width, height uint32) (client.Snapshot, error)
	Participant(ctx context.Context, identity string) (client.Participant, error)
}

// CanvasInfoInput represents the MCP tool input for reading canvas state.
type CanvasInfoInput struct{}

// CanvasInfoResult represents the MCP tool output for canvas state.
type CanvasInfoResult struct {
	Width         uint32   `json:"width" jsonschema:"grid width in cells"`
	Height        uint32   `json:"height" jsonschema:"grid height in cells"`
	Administrator string   `json:"administrator" jsonschema:"administrator identity"`
	LedgerHeight  uint32   `json:"ledger_height" jsonschema:"number of committed ledger entries"`
	Delta         uint64   `json:"delta" jsonschema:"total cell writes committed"`
	Participants  uint16   `json:"participants" jsonschema:"number of registered participants"`
	Frozen        bool     `json:"frozen" jsonschema:"whether edits are refused"`
	Exclusive     bool     `json:"exclusive" jsonschema:"whether only allowed editors may edit"`
	AwardPolicy   string   `json:"award_policy" jsonschema:"cred award policy (decay or survival)"`
	TributePool   uint64   `json:"tribute_pool" jsonschema:"accumulated tribute"`
	Capabilities  []string `json:"capabilities" jsonschema:"operation groups this canvas supports"`
}

// CanvasCellInput represents the MCP tool input for reading one cell.
type CanvasCellInput struct {
	X uint32 `json:"x" jsonschema:"cell column, zero-based"`
	Y uint32 `json:"y" jsonschema:"cell row, zero-based"`
}

// CanvasCellResult represents the MCP tool output for one cell.
type CanvasCellResult struct {
	X              uint32 `json:"x" jsonschema:"cell column"`
	Y              uint32 `json:"y" jsonschema:"cell row"`
	Payload        uint32 `json:"payload" jsonschema:"cell payload value"`
	Provenance     uint16 `json:"provenance" jsonschema:"compact id of the last editor, 0 for seed cells"`
	EditCount      uint16 `json:"edit_count" jsonschema:"number of edits applied to this cell"`
	LastModifiedAt uint32 `json:"last_modified_at" jsonschema:"ledger height of the last edit"`
	Link           uint32 `json:"link" jsonschema:"editor-supplied link value"`
}

// CanvasWindowInput represents the MCP tool input for reading a rectangle.
type CanvasWindowInput struct {
	X      uint32 `json:"x" jsonschema:"window origin column"`
	Y      uint32 `json:"y" jsonschema:"window origin row"`
	Width  uint32 `json:"width" jsonschema:"window width in cells"`
	Height uint32 `json:"height" jsonschema:"window height in cells"`
}

// CanvasWindowResult represents the MCP tool output for a rectangle of cells.
type CanvasWindowResult struct {
	X      uint32             `json:"x" jsonschema:"window origin column"`
	Y      uint32             `json:"y" jsonschema:"window origin row"`
	Width  uint32             `json:"width" jsonschema:"window width in cells"`
	Height uint32             `json:"height" jsonschema:"window height in cells"`
	Cells  []CanvasCellResult `json:"cells" jsonschema:"cells in row-major order with absolute coordinates"`
}

// CanvasParticipantInput represents the MCP tool input for a participant lookup.
type CanvasParticipantInput struct {
	Identity string `json:"identity" jsonschema:"participant identity string"`
}

// CanvasParticipantResult represents the MCP tool output for a participant.
type CanvasParticipantResult struct {
	Identity     string `json:"identity" jsonschema:"participant identity"`
	CompactID    uint16 `json:"compact_id" jsonschema:"compact provenance id"`
	RegisteredAt uint32 `json:"registered_at" jsonschema:"ledger height at registration"`
	Banned       bool   `json:"banned" jsonschema:"whether the participant is banned"`
	Allowed      bool   `json:"allowed" jsonschema:"whether the participant may edit in exclusive mode"`
	Blacklisted  bool   `json:"blacklisted" jsonschema:"whether moderation blacklisted the participant"`
	Cred         uint64 `json:"cred" jsonschema:"accumulated cred"`
	Balance      uint64 `json:"balance" jsonschema:"spendable balance"`
}

// CanvasInfoTool defines the MCP tool schema for canvas state.
func CanvasInfoTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "canvas_info",
		Description: "Describes the canvas: geometry, policies, ledger height, freeze state",
	}
}

// CanvasCellTool defines the MCP tool schema for reading one cell.
func CanvasCellTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "canvas_cell",
		Description: "Reads one cell with its payload and edit history summary",
	}
}

// CanvasWindowTool defines the MCP tool schema for reading a rectangle.
func CanvasWindowTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "canvas_window",
		Description: "Reads a bounded rectangle of cells in row-major order",
	}
}

// CanvasParticipantTool defines the MCP tool schema for participant lookups.
func CanvasParticipantTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "canvas_participant",
		Description: "Looks up a participant by identity",
	}
}

// CanvasInfoHandler executes a canvas state read.
func CanvasInfoHandler(api CanvasAPI) mcp.ToolHandlerFor[CanvasInfoInput, CanvasInfoResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ CanvasInfoInput) (*mcp.CallToolResult, CanvasInfoResult, error) {
		info, err := api.Canvas(ctx)
		if err != nil {
			return nil, CanvasInfoResult{}, fmt.Errorf("canvas info failed: %w", err)
		}
		return nil, CanvasInfoResult{
			Width:         info.Width,
			Height:        info.Height,
			Administrator: info.Administrator,
			LedgerHeight:  info.LedgerHeight,
			Delta:         info.Delta,
			Participants:  info.Participants,
			Frozen:        info.Frozen,
			Exclusive:     info.Exclusive,
			AwardPolicy:   info.AwardPolicy,
			TributePool:   info.TributePool,
			Capabilities:  info.Capabilities,
		}, nil
	}
}

// CanvasCellHandler executes a single-cell read.
func CanvasCellHandler(api CanvasAPI) mcp.ToolHandlerFor[CanvasCellInput, CanvasCellResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CanvasCellInput) (*mcp.CallToolResult, CanvasCellResult, error) {
		cell, err := api.Cell(ctx, input.X, input.Y)
		if err != nil {
			return nil, CanvasCellResult{}, fmt.Errorf("cell read failed: %w", err)
		}
		return nil, cellResult(cell), nil
	}
}

// CanvasWindowHandler executes a bounded rectangle read.
func CanvasWindowHandler(api CanvasAPI) mcp.ToolHandlerFor[CanvasWindowInput, CanvasWindowResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CanvasWindowInput) (*mcp.CallToolResult, CanvasWindowResult, error) {
		snapshot, err := api.Window(ctx, input.X, input.Y, input.Width, input.Height)
		if err != nil {
			return nil, CanvasWindowResult{}, fmt.Errorf("window read failed: %w", err)
		}

		result := CanvasWindowResult{
			X:      snapshot.X,
			Y:      snapshot.Y,
			Width:  snapshot.Width,
			Height: snapshot.Height,
			Cells:  make([]CanvasCellResult, 0, len(snapshot.Records)),
		}
		for i, rec := range snapshot.Records {
			// Records come back row-major relative to the window origin.
			offset := uint32(i)
			result.Cells = append(result.Cells, CanvasCellResult{
				X:              snapshot.X + offset%snapshot.Width,
				Y:              snapshot.Y + offset/snapshot.Width,
				Payload:        rec.Payload,
				Provenance:     rec.Provenance,
				EditCount:      rec.EditCount,
				LastModifiedAt: rec.LastModifiedAt,
				Link:           rec.Link,
			})
		}
		return nil, result, nil
	}
}

// CanvasParticipantHandler executes a participant lookup.
func CanvasParticipantHandler(api CanvasAPI) mcp.ToolHandlerFor[CanvasParticipantInput, CanvasParticipantResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CanvasParticipantInput) (*mcp.CallToolResult, CanvasParticipantResult, error) {
		identity := strings.TrimSpace(input.Identity)
		if identity == "" {
			return nil, CanvasParticipantResult{}, fmt.Errorf("identity is required")
		}
		participant, err := api.Participant(ctx, identity)
		if err != nil {
			return nil, CanvasParticipantResult{}, fmt.Errorf("participant lookup failed: %w", err)
		}
		return nil, CanvasParticipantResult{
			Identity:     participant.Identity,
			CompactID:    participant.CompactID,
			RegisteredAt: participant.RegisteredAt,
			Banned:       participant.Banned,
			Allowed:      participant.Allowed,
			Blacklisted:  participant.Blacklisted,
			Cred:         participant.Cred,
			Balance:      participant.Balance,
		}, nil
	}
}

func cellResult(cell client.Cell) CanvasCellResult {
	return CanvasCellResult{
		X:              cell.X,
		Y:              cell.Y,
		Payload:        cell.Payload,
		Provenance:     cell.Provenance,
		EditCount:      cell.EditCount,
		LastModifiedAt: cell.LastModifiedAt,
		Link:           cell.Link,
	}
}
