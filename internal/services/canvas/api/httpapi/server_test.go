package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/incentive"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
	"github.com/mosaicforge/tessella/internal/services/canvas/engine"
	"github.com/mosaicforge/tessella/internal/services/canvas/event"
	"github.com/mosaicforge/tessella/internal/services/canvas/grant"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage/memory"
)

const (
	testIssuer   = "tessella"
	testAudience = "canvas"

	testAdmin  = "ed25519:admin"
	testAlice  = "ed25519:alice"
	testMallet = "ed25519:mallet"
)

func baseMeta() storage.Meta {
	return storage.Meta{
		LayoutVersion: record.LayoutVersion,
		Width:         4,
		Height:        4,
		IDCapacity:    100,
		CreatedAt:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Administrator: testAdmin,
		AwardPolicy:   string(incentive.PolicyDecay),
		BaseCred:      100,
		DecayFactor:   10,
		Overpayment:   string(incentive.OverpaymentRefund),
		MaxBatchCells: 16,
	}
}

type testAPI struct {
	ts      *httptest.Server
	eng     *engine.Engine
	hub     *event.Hub
	store   *memory.Store
	signKey ed25519.PrivateKey
}

func newTestAPI(t *testing.T, meta storage.Meta, cfg Config) *testAPI {
	t.Helper()

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier, err := grant.NewVerifier(grant.Config{
		Issuer:   testIssuer,
		Audience: testAudience,
	}, public)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	store := memory.Open()
	if err := store.Create(context.Background(), meta); err != nil {
		t.Fatalf("create canvas: %v", err)
	}
	hub := event.NewHub()
	t.Cleanup(hub.Close)

	eng, err := engine.New(store, hub, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	server, err := New(Dependencies{Engine: eng, Hub: hub, Verifier: verifier}, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testAPI{ts: ts, eng: eng, hub: hub, store: store, signKey: private}
}

func (a *testAPI) signGrant(t *testing.T, identity string, scopes ...string) string {
	t.Helper()
	token, err := grant.Sign(a.signKey, grant.SignParams{
		Issuer:    testIssuer,
		Audience:  testAudience,
		Identity:  identity,
		Scopes:    scopes,
		JWTID:     "jti-test",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}
	return token
}

func (a *testAPI) get(t *testing.T, path string) *http.Response {
	t.Helper()
	res, err := http.Get(a.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return res
}

func (a *testAPI) post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, a.ts.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return res
}

func decodeInto(t *testing.T, res *http.Response, dst any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func wantStatus(t *testing.T, res *http.Response, want int) {
	t.Helper()
	if res.StatusCode != want {
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		t.Fatalf("status = %d, want %d (body %s)", res.StatusCode, want, body)
	}
}

func wantErrorCode(t *testing.T, res *http.Response, status int, code apperrors.Code) errorEnvelope {
	t.Helper()
	wantStatus(t, res, status)
	var envelope errorEnvelope
	decodeInto(t, res, &envelope)
	if envelope.Error.Code != code {
		t.Fatalf("error code = %s, want %s", envelope.Error.Code, code)
	}
	return envelope
}

func TestNewValidatesDependencies(t *testing.T) {
	if _, err := New(Dependencies{}, Config{}); err == nil {
		t.Fatal("expected an error without an engine")
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})

	res := api.get(t, "/healthz")
	wantStatus(t, res, http.StatusOK)
	var body map[string]string
	decodeInto(t, res, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestEditRequiresGrant(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})

	res := api.post(t, "/v1/edits", "", editRequest{})
	wantErrorCode(t, res, http.StatusUnauthorized, apperrors.CodeUnauthenticated)

	res = api.post(t, "/v1/edits", "not.a.grant", editRequest{})
	wantErrorCode(t, res, http.StatusUnauthorized, apperrors.CodeGrantInvalid)

	moderateOnly := api.signGrant(t, testAdmin, grant.ScopeModerate)
	res = api.post(t, "/v1/edits", moderateOnly, editRequest{})
	envelope := wantErrorCode(t, res, http.StatusForbidden, apperrors.CodeAccessDenied)
	if envelope.Error.Metadata["scope"] != grant.ScopeEdit {
		t.Fatalf("metadata = %v, want the missing scope named", envelope.Error.Metadata)
	}
}

func TestEditRoundTrip(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	token := api.signGrant(t, testAlice, grant.ScopeEdit)

	res := api.post(t, "/v1/edits", token, editRequest{
		Cells: []editCellRequest{{X: 1, Y: 2, Payload: 7, Link: 9}},
	})
	wantStatus(t, res, http.StatusOK)
	var edited editResponse
	decodeInto(t, res, &edited)
	if edited.Height != 1 || edited.EditorID != 1 || !edited.Registered {
		t.Fatalf("unexpected response %+v", edited)
	}
	if len(edited.Cells) != 1 || edited.Cells[0].Payload != 7 || edited.Cells[0].Link != 9 {
		t.Fatalf("unexpected cells %+v", edited.Cells)
	}

	res = api.get(t, "/v1/cells/1/2")
	wantStatus(t, res, http.StatusOK)
	var cell cellJSON
	decodeInto(t, res, &cell)
	if cell != edited.Cells[0] {
		t.Fatalf("read back %+v, want %+v", cell, edited.Cells[0])
	}
}

func TestErrorEnvelopeCarriesDomainCode(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	token := api.signGrant(t, testAlice, grant.ScopeEdit)

	req, err := http.NewRequest(http.MethodPost, api.ts.URL+"/v1/edits",
		bytes.NewReader(mustJSON(t, editRequest{
			Cells: []editCellRequest{{X: 9, Y: 9, Payload: 1}},
		})))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Correlation-Id", "corr-test-1")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}

	if got := res.Header.Get("X-Correlation-Id"); got != "corr-test-1" {
		t.Fatalf("correlation header = %q", got)
	}
	envelope := wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeOutOfBounds)
	if envelope.Error.CorrelationID != "corr-test-1" {
		t.Fatalf("envelope correlation = %q", envelope.Error.CorrelationID)
	}
	if envelope.Error.Metadata["x"] != "9" {
		t.Fatalf("metadata = %v", envelope.Error.Metadata)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return payload
}

func TestRequestsWithoutInboundCorrelationGetOne(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})

	res := api.get(t, "/healthz")
	defer res.Body.Close()
	if res.Header.Get("X-Correlation-Id") == "" {
		t.Fatal("expected a generated correlation id")
	}
}

func TestBodySizeCap(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{MaxBodyBytes: 64})
	token := api.signGrant(t, testAlice, grant.ScopeEdit)

	cells := make([]editCellRequest, 64)
	res := api.post(t, "/v1/edits", token, editRequest{Cells: cells})
	envelope := wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeInvalidArgument)
	if envelope.Error.Metadata["max_bytes"] != "64" {
		t.Fatalf("metadata = %v", envelope.Error.Metadata)
	}
}

func TestMalformedJSONBody(t *testing.T) {
	api := newTestAPI(t, baseMeta(), Config{})
	token := api.signGrant(t, testAlice, grant.ScopeEdit)

	req, err := http.NewRequest(http.MethodPost, api.ts.URL+"/v1/edits",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	wantErrorCode(t, res, http.StatusBadRequest, apperrors.CodeInvalidArgument)
}
