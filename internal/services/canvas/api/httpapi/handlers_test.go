package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/grid"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
	"github.com/mosaicforge/tessella/internal/services/canvas/engine"
	"github.com/mosaicforge/tessella/internal/services/canvas/grant"
)

// edit applies a single-cell edit straight through the engine, staging state
// without going over the wire.
func (a *testAPI) edit(t *testing.T, editor string, x, y, payload uint32) engine.EditResult {
	t.Helper()
	res, err := a.eng.Edit(context.Background(), engine.EditInput{
		Editor:   editor,
		Coords:   []grid.Coord{{X: x, Y: y}},
		Payloads: []uint32{payload},
	})
	if err != nil {
		t.Fatalf("edit (%d,%d): %v", x, y, err)
	}
	return res
}

func TestCanvasRoute(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	api.edit(t, testAlice, 0, 0, 1)

	res := api.get(t, "/v1/canvas")
	wantStatus(t, res, http.StatusOK)
	var info engine.Info
	decodeInto(t, res, &info)
	if info.Width != 4 || info.Height != 4 {
		t.Fatalf("geometry = %dx%d", info.Width, info.Height)
	}
	if info.LedgerHeight != 1 || info.Participants != 1 {
		t.Fatalf("info = %+v", info)
	}
}

func TestCellRouteValidation(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})

	res := api.get(t, "/v1/cells/abc/0")
	envelope := wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeInvalidArgument)
	if envelope.Error.Metadata["segment"] != "x" {
		t.Fatalf("metadata = %v", envelope.Error.Metadata)
	}

	res = api.get(t, "/v1/cells/9/9")
	wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeOutOfBounds)
}

func TestGridRoutes(t *testing.T) {
	meta := baseMeta()
	meta.SeedPayload = 3
	api := newTestAPI(t, meta, Config{})
	api.edit(t, testAlice, 1, 1, 5)
	api.edit(t, testAlice, 2, 1, 6)

	res := api.get(t, "/v1/grid")
	wantStatus(t, res, http.StatusOK)
	var snapshot snapshotResponse
	decodeInto(t, res, &snapshot)
	if snapshot.Width != 4 || snapshot.Height != 4 || len(snapshot.Records) != 16 {
		t.Fatalf("snapshot = %dx%d with %d records", snapshot.Width, snapshot.Height, len(snapshot.Records))
	}
	if snapshot.Records[0] != toRecordJSON(record.Seed(3)) {
		t.Fatalf("untouched cell = %+v", snapshot.Records[0])
	}

	res = api.get(t, "/v1/grid?x=1&y=1&width=2&height=2")
	wantStatus(t, res, http.StatusOK)
	var window snapshotResponse
	decodeInto(t, res, &window)
	if window.X != 1 || window.Y != 1 || len(window.Records) != 4 {
		t.Fatalf("window = %+v", window)
	}
	if window.Records[0].Payload != 5 || window.Records[1].Payload != 6 {
		t.Fatalf("window row = %+v", window.Records[:2])
	}

	res = api.get(t, "/v1/grid?width=0&height=2")
	wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeInvalidArgument)

	res = api.get(t, "/v1/grid?width=nope")
	envelope := wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeInvalidArgument)
	if envelope.Error.Metadata["parameter"] != "width" {
		t.Fatalf("metadata = %v", envelope.Error.Metadata)
	}
}

func TestParticipantRoute(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	api.edit(t, testAlice, 0, 0, 1)

	res := api.get(t, "/v1/participants/"+url.PathEscape(testAlice))
	wantStatus(t, res, http.StatusOK)
	var participant participantJSON
	decodeInto(t, res, &participant)
	if participant.Identity != testAlice || participant.CompactID != 1 {
		t.Fatalf("participant = %+v", participant)
	}
	if participant.Cred != 100 {
		t.Fatalf("cred = %d", participant.Cred)
	}

	res = api.get(t, "/v1/participants/ed25519:stranger")
	wantErrorCode(t, res, http.StatusNotFound, apperrors.CodeNotFound)
}

func TestEventsRoute(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	api.edit(t, testAlice, 0, 0, 1) // registered + cell.updated + edited
	api.edit(t, testAlice, 1, 0, 2) // cell.updated + edited

	res := api.get(t, "/v1/events?after=0&limit=3")
	wantStatus(t, res, http.StatusOK)
	var page eventsResponse
	decodeInto(t, res, &page)
	if len(page.Events) != 3 {
		t.Fatalf("got %d events", len(page.Events))
	}
	for i, evt := range page.Events {
		if evt.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, evt.Seq)
		}
	}

	res = api.get(t, "/v1/events?after=3")
	wantStatus(t, res, http.StatusOK)
	page = eventsResponse{}
	decodeInto(t, res, &page)
	if len(page.Events) != 2 || page.Events[0].Seq != 4 {
		t.Fatalf("tail page = %+v", page.Events)
	}

	res = api.get(t, "/v1/events?after=zzz")
	wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeInvalidArgument)
}

func TestDepositRoute(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	token := api.signGrant(t, testAlice, grant.ScopeEdit)

	res := api.post(t, "/v1/treasury/deposits", token, depositRequest{Amount: 500})
	wantStatus(t, res, http.StatusOK)
	var deposited depositResponse
	decodeInto(t, res, &deposited)
	if deposited.Height != 1 || deposited.Identity != testAlice || deposited.Balance != 500 {
		t.Fatalf("deposit = %+v", deposited)
	}

	res = api.post(t, "/v1/treasury/deposits", token, depositRequest{Amount: 0})
	wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeInvalidArgument)
}

func TestRewindRoute(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	api.edit(t, testAlice, 1, 1, 10)
	malletRes := api.edit(t, testMallet, 1, 1, 66)

	victim, err := api.eng.CellAt(context.Background(), grid.Coord{X: 1, Y: 1})
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	prior := record.Record{Payload: 10, Provenance: 1, EditCount: 1, LastModifiedAt: 1}
	chain, err := encodeChain(victim, prior)
	if err != nil {
		t.Fatalf("encode chain: %v", err)
	}

	token := api.signGrant(t, testAdmin, grant.ScopeModerate)
	res := api.post(t, "/v1/moderation/rewinds", token, rewindRequest{
		Target: testMallet,
		Cells: []rewindCellRequest{{
			X: 1, Y: 1,
			Chain: base64.StdEncoding.EncodeToString(chain),
		}},
	})
	wantStatus(t, res, http.StatusOK)
	var rewound rewindResponse
	decodeInto(t, res, &rewound)
	if rewound.Reverted != 1 || rewound.TargetID != malletRes.EditorID {
		t.Fatalf("rewind = %+v", rewound)
	}
	if len(rewound.Cells) != 1 || rewound.Cells[0].Outcome != "reverted" {
		t.Fatalf("cells = %+v", rewound.Cells)
	}
	if rewound.Cells[0].Restored == nil || rewound.Cells[0].Restored.Payload != 10 {
		t.Fatalf("restored = %+v", rewound.Cells[0].Restored)
	}

	// Moderation scope alone is not authority; the engine checks the caller.
	aliceToken := api.signGrant(t, testAlice, grant.ScopeModerate)
	res = api.post(t, "/v1/moderation/rewinds", aliceToken, rewindRequest{Target: testMallet})
	wantErrorCode(t, res, http.StatusForbidden, apperrors.CodeAccessDenied)
}

func TestRewindRejectsBadChainEncoding(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	token := api.signGrant(t, testAdmin, grant.ScopeModerate)

	res := api.post(t, "/v1/moderation/rewinds", token, rewindRequest{
		Target: testMallet,
		Cells:  []rewindCellRequest{{X: 0, Y: 0, Chain: "!!not-base64!!"}},
	})
	envelope := wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeInvalidArgument)
	if envelope.Error.Metadata["cell"] != "0" {
		t.Fatalf("metadata = %v", envelope.Error.Metadata)
	}
}

// encodeChain concatenates encoded records newest-first, the wire layout the
// rewind endpoint expects inside each base64 chain.
func encodeChain(records ...record.Record) ([]byte, error) {
	var chain []byte
	for i, rec := range records {
		encoded, err := record.Encode(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		chain = append(chain, encoded[:]...)
	}
	return chain, nil
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	adminToken := api.signGrant(t, testAdmin, grant.ScopeAdmin)

	res := api.post(t, "/v1/admin/exclusive", adminToken, exclusiveRequest{Enabled: true})
	wantStatus(t, res, http.StatusOK)
	var height heightResponse
	decodeInto(t, res, &height)
	if height.Height != 1 {
		t.Fatalf("height = %d", height.Height)
	}

	res = api.post(t, "/v1/admin/editors", adminToken, editorRequest{Editor: testAlice, Allowed: true})
	wantStatus(t, res, http.StatusOK)

	res = api.post(t, "/v1/admin/bans", adminToken, banRequest{Editor: testMallet, Banned: true})
	wantStatus(t, res, http.StatusOK)

	res = api.post(t, "/v1/admin/freeze", adminToken, nil)
	wantStatus(t, res, http.StatusOK)
	decodeInto(t, res, &height)
	if height.Height != 4 {
		t.Fatalf("freeze height = %d", height.Height)
	}

	res = api.post(t, "/v1/admin/administrator", adminToken, transferRequest{Successor: testAlice})
	wantStatus(t, res, http.StatusOK)

	info, err := api.eng.Canvas(context.Background())
	if err != nil {
		t.Fatalf("canvas info: %v", err)
	}
	if info.Administrator != testAlice || !info.Frozen || !info.Exclusive {
		t.Fatalf("canvas = %+v", info)
	}
}

func TestAdminRoutesRejectNonAdministrator(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})

	// The scope names the capability; only the stored administrator has it.
	token := api.signGrant(t, testMallet, grant.ScopeAdmin)
	res := api.post(t, "/v1/admin/freeze", token, nil)
	wantErrorCode(t, res, http.StatusForbidden, apperrors.CodeAccessDenied)

	editToken := api.signGrant(t, testAdmin, grant.ScopeEdit)
	res = api.post(t, "/v1/admin/freeze", editToken, nil)
	wantErrorCode(t, res, http.StatusForbidden, apperrors.CodeAccessDenied)
}
