package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/grid"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/moderation"
	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
	"github.com/mosaicforge/tessella/internal/services/canvas/engine"
	"github.com/mosaicforge/tessella/internal/services/canvas/grant"
)

// cellJSON is a coordinate together with its decoded record.
type cellJSON struct {
	X              uint32 `json:"x"`
	Y              uint32 `json:"y"`
	Payload        uint32 `json:"payload"`
	Provenance     uint16 `json:"provenance"`
	EditCount      uint16 `json:"edit_count"`
	LastModifiedAt uint32 `json:"last_modified_at"`
	Link           uint32 `json:"link"`
}

// recordJSON is a record without its coordinate, used by snapshots where the
// position is implied by row-major order.
type recordJSON struct {
	Payload        uint32 `json:"payload"`
	Provenance     uint16 `json:"provenance"`
	EditCount      uint16 `json:"edit_count"`
	LastModifiedAt uint32 `json:"last_modified_at"`
	Link           uint32 `json:"link"`
}

type participantJSON struct {
	Identity     string `json:"identity"`
	CompactID    uint16 `json:"compact_id"`
	RegisteredAt uint32 `json:"registered_at"`
	Banned       bool   `json:"banned"`
	Allowed      bool   `json:"allowed"`
	Blacklisted  bool   `json:"blacklisted"`
	Cred         uint64 `json:"cred"`
	Balance      uint64 `json:"balance"`
}

type eventJSON struct {
	Seq        uint64          `json:"seq"`
	Height     uint32          `json:"height"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func toCellJSON(coord grid.Coord, rec record.Record) cellJSON {
	return cellJSON{
		X:              coord.X,
		Y:              coord.Y,
		Payload:        rec.Payload,
		Provenance:     rec.Provenance,
		EditCount:      rec.EditCount,
		LastModifiedAt: rec.LastModifiedAt,
		Link:           rec.Link,
	}
}

func toRecordJSON(rec record.Record) recordJSON {
	return recordJSON{
		Payload:        rec.Payload,
		Provenance:     rec.Provenance,
		EditCount:      rec.EditCount,
		LastModifiedAt: rec.LastModifiedAt,
		Link:           rec.Link,
	}
}

func pathUint32(r *http.Request, segment string) (uint32, error) {
	value, err := strconv.ParseUint(r.PathValue(segment), 10, 32)
	if err != nil {
		return 0, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"path segment is not a 32-bit unsigned integer",
			map[string]string{"segment": segment})
	}
	return uint32(value), nil
}

func queryUint32(values url.Values, key string) (uint32, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"query parameter is not a 32-bit unsigned integer",
			map[string]string{"parameter": key})
	}
	return uint32(value), nil
}

func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Canvas(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	x, err := pathUint32(r, "x")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	y, err := pathUint32(r, "y")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	coord := grid.Coord{X: x, Y: y}
	rec, err := s.engine.CellAt(r.Context(), coord)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCellJSON(coord, rec))
}

type snapshotResponse struct {
	X       uint32       `json:"x"`
	Y       uint32       `json:"y"`
	Width   uint32       `json:"width"`
	Height  uint32       `json:"height"`
	Records []recordJSON `json:"records"`
}

// handleGrid returns either the full grid or, when width and height query
// parameters are present, a bounded window.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var snap engine.Snapshot
	if query.Get("width") != "" || query.Get("height") != "" {
		x, err := queryUint32(query, "x")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		y, err := queryUint32(query, "y")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		width, err := queryUint32(query, "width")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		height, err := queryUint32(query, "height")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err = s.engine.Window(r.Context(), grid.Coord{X: x, Y: y}, width, height)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		var err error
		snap, err = s.engine.GridSnapshot(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	out := snapshotResponse{
		X:       snap.Origin.X,
		Y:       snap.Origin.Y,
		Width:   snap.Width,
		Height:  snap.Height,
		Records: make([]recordJSON, len(snap.Records)),
	}
	for i, rec := range snap.Records {
		out.Records[i] = toRecordJSON(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.ParticipantInfo(r.Context(), r.PathValue("identity"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participantJSON{
		Identity:     p.Identity,
		CompactID:    p.CompactID,
		RegisteredAt: p.RegisteredAt,
		Banned:       p.Banned,
		Allowed:      p.Allowed,
		Blacklisted:  p.Blacklisted,
		Cred:         p.Cred,
		Balance:      p.Balance,
	})
}

type eventsResponse struct {
	Events []eventJSON `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var after uint64
	if raw := query.Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument,
				"after is not an unsigned integer"))
			return
		}
		after = parsed
	}
	var limit int
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument,
				"limit is not an integer"))
			return
		}
		limit = parsed
	}

	events, err := s.engine.EventsAfter(r.Context(), after, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := eventsResponse{Events: make([]eventJSON, len(events))}
	for i, evt := range events {
		out.Events[i] = toEventJSON(evt)
	}
	writeJSON(w, http.StatusOK, out)
}

type editCellRequest struct {
	X       uint32 `json:"x"`
	Y       uint32 `json:"y"`
	Payload uint32 `json:"payload"`
	Link    uint32 `json:"link"`
}

type editRequest struct {
	Cells   []editCellRequest `json:"cells"`
	Payment uint64            `json:"payment"`
}

type editResponse struct {
	Height     uint32     `json:"height"`
	EditorID   uint16     `json:"editor_id"`
	Registered bool       `json:"registered"`
	Charged    uint64     `json:"charged"`
	EditorCred uint64     `json:"editor_cred"`
	Frozen     bool       `json:"frozen"`
	Cells      []cellJSON `json:"cells"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authorize(r, grant.ScopeEdit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.throttle(w, r, claims.Identity) {
		return
	}

	var req editRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	input := engine.EditInput{
		Editor:   claims.Identity,
		Coords:   make([]grid.Coord, len(req.Cells)),
		Payloads: make([]uint32, len(req.Cells)),
		Links:    make([]uint32, len(req.Cells)),
		Payment:  req.Payment,
	}
	for i, cell := range req.Cells {
		input.Coords[i] = grid.Coord{X: cell.X, Y: cell.Y}
		input.Payloads[i] = cell.Payload
		input.Links[i] = cell.Link
	}

	res, err := s.engine.Edit(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := editResponse{
		Height:     res.Height,
		EditorID:   res.EditorID,
		Registered: res.Registered,
		Charged:    res.Charged,
		EditorCred: res.EditorCred,
		Frozen:     res.Frozen,
		Cells:      make([]cellJSON, len(res.Cells)),
	}
	for i, cell := range res.Cells {
		out.Cells[i] = toCellJSON(cell.Coord, cell.Record)
	}
	writeJSON(w, http.StatusOK, out)
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

type depositResponse struct {
	Height   uint32 `json:"height"`
	Identity string `json:"identity"`
	Balance  uint64 `json:"balance"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authorize(r, grant.ScopeEdit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.throttle(w, r, claims.Identity) {
		return
	}

	var req depositRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.Deposit(r.Context(), claims.Identity, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{
		Height:   res.Height,
		Identity: res.Identity,
		Balance:  res.Balance,
	})
}

type rewindCellRequest struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`

	// Chain is the claimed history, newest first: concatenated encoded
	// records, base64.
	Chain string `json:"chain"`
}

type rewindRequest struct {
	Target string              `json:"target"`
	Cells  []rewindCellRequest `json:"cells"`
}

type rewindCellResponse struct {
	X        uint32      `json:"x"`
	Y        uint32      `json:"y"`
	Outcome  string      `json:"outcome"`
	Restored *recordJSON `json:"restored,omitempty"`
}

type rewindResponse struct {
	Height   uint32               `json:"height"`
	Target   string               `json:"target"`
	TargetID uint16               `json:"target_id"`
	Reverted int                  `json:"reverted"`
	Cells    []rewindCellResponse `json:"cells"`
}

func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authorize(r, grant.ScopeModerate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.throttle(w, r, claims.Identity) {
		return
	}

	var req rewindRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	input := engine.RewindInput{
		Caller: claims.Identity,
		Target: req.Target,
		Coords: make([]grid.Coord, len(req.Cells)),
		Chains: make([][]byte, len(req.Cells)),
	}
	for i, cell := range req.Cells {
		chain, err := base64.StdEncoding.DecodeString(cell.Chain)
		if err != nil {
			s.writeError(w, r, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
				"chain is not valid base64",
				map[string]string{"cell": strconv.Itoa(i)}))
			return
		}
		input.Coords[i] = grid.Coord{X: cell.X, Y: cell.Y}
		input.Chains[i] = chain
	}

	res, err := s.engine.Rewind(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := rewindResponse{
		Height:   res.Height,
		Target:   res.Target,
		TargetID: res.TargetID,
		Reverted: res.Reverted,
		Cells:    make([]rewindCellResponse, len(res.Cells)),
	}
	for i, cell := range res.Cells {
		out.Cells[i] = rewindCellResponse{
			X:       cell.Coord.X,
			Y:       cell.Coord.Y,
			Outcome: cell.Outcome.String(),
		}
		if cell.Outcome == moderation.OutcomeReverted {
			restored := toRecordJSON(cell.Restored)
			out.Cells[i].Restored = &restored
		}
	}
	writeJSON(w, http.StatusOK, out)
}
