package domain

import (
	"context"
	"testing"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/api/client"
)

type fakeCanvasAPI struct {
	info        client.CanvasInfo
	cell        client.Cell
	snapshot    client.Snapshot
	participant client.Participant
	err         error
}

func (f *fakeCanvasAPI) Canvas(context.Context) (client.CanvasInfo, error) {
	return f.info, f.err
}

func (f *fakeCanvasAPI) Cell(context.Context, uint32, uint32) (client.Cell, error) {
	return f.cell, f.err
}

func (f *fakeCanvasAPI) Window(context.Context, uint32, uint32, uint32, uint32) (client.Snapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeCanvasAPI) Participant(context.Context, string) (client.Participant, error) {
	return f.participant, f.err
}

func TestCanvasInfoHandlerMapsFields(t *testing.T) {
	api := &fakeCanvasAPI{info: client.CanvasInfo{
		Width:         16,
		Height:        16,
		Administrator: "ed25519:admin",
		LedgerHeight:  42,
		Delta:         99,
		Participants:  3,
		Frozen:        true,
		AwardPolicy:   "decay",
		Capabilities:  []string{"edits", "feed"},
	}}

	_, result, err := CanvasInfoHandler(api)(context.Background(), nil, CanvasInfoInput{})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.Width != 16 || result.LedgerHeight != 42 || !result.Frozen {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Capabilities) != 2 {
		t.Fatalf("capabilities = %v", result.Capabilities)
	}
}

func TestCanvasCellHandlerSurfacesAPIErrors(t *testing.T) {
	api := &fakeCanvasAPI{err: apperrors.New(apperrors.CodeOutOfBounds, "coordinate outside grid")}

	_, _, err := CanvasCellHandler(api)(context.Background(), nil, CanvasCellInput{X: 99, Y: 99})
	if err == nil {
		t.Fatal("expected an error")
	}
	if apperrors.CodeOf(err) != apperrors.CodeOutOfBounds {
		t.Fatalf("err = %v, want the API code preserved", err)
	}
}

func TestCanvasWindowHandlerRestoresCoordinates(t *testing.T) {
	api := &fakeCanvasAPI{snapshot: client.Snapshot{
		X: 2, Y: 3, Width: 2, Height: 2,
		Records: []client.Record{
			{Payload: 1}, {Payload: 2},
			{Payload: 3}, {Payload: 4},
		},
	}}

	_, result, err := CanvasWindowHandler(api)(context.Background(), nil, CanvasWindowInput{X: 2, Y: 3, Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(result.Cells) != 4 {
		t.Fatalf("cells = %+v", result.Cells)
	}
	last := result.Cells[3]
	if last.X != 3 || last.Y != 4 || last.Payload != 4 {
		t.Fatalf("last cell = %+v", last)
	}
}

func TestCanvasParticipantHandlerRequiresIdentity(t *testing.T) {
	api := &fakeCanvasAPI{}

	_, _, err := CanvasParticipantHandler(api)(context.Background(), nil, CanvasParticipantInput{Identity: "   "})
	if err == nil {
		t.Fatal("expected an error for a blank identity")
	}

	api.participant = client.Participant{Identity: "ed25519:alice", CompactID: 7, Cred: 50}
	_, result, err := CanvasParticipantHandler(api)(context.Background(), nil, CanvasParticipantInput{Identity: "ed25519:alice"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.CompactID != 7 || result.Cred != 50 {
		t.Fatalf("result = %+v", result)
	}
}
