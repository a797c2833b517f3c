package httpapi

import (
	"net/http"

	"github.com/mosaicforge/tessella/internal/services/canvas/grant"
)

type heightResponse struct {
	Height uint32 `json:"height"`
}

// adminCall authorizes the admin scope, rate-limits the caller, and runs the
// engine operation. The engine separately checks that the grant identity is
// the canvas administrator; the scope alone grants nothing.
func (s *Server) adminCall(w http.ResponseWriter, r *http.Request,
	run func(caller string) (uint32, error)) {

	claims, err := s.authorize(r, grant.ScopeAdmin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.throttle(w, r, claims.Identity) {
		return
	}
	height, err := run(claims.Identity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, heightResponse{Height: height})
}

type exclusiveRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetExclusive(w http.ResponseWriter, r *http.Request) {
	var req exclusiveRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.adminCall(w, r, func(caller string) (uint32, error) {
		return s.engine.SetExclusive(r.Context(), caller, req.Enabled)
	})
}

type editorRequest struct {
	Editor  string `json:"editor"`
	Allowed bool   `json:"allowed"`
}

func (s *Server) handleSetEditorAllowed(w http.ResponseWriter, r *http.Request) {
	var req editorRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.adminCall(w, r, func(caller string) (uint32, error) {
		return s.engine.SetEditorAllowed(r.Context(), caller, req.Editor, req.Allowed)
	})
}

type banRequest struct {
	Editor string `json:"editor"`
	Banned bool   `json:"banned"`
}

func (s *Server) handleSetBanned(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.adminCall(w, r, func(caller string) (uint32, error) {
		return s.engine.SetBanned(r.Context(), caller, req.Editor, req.Banned)
	})
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	s.adminCall(w, r, func(caller string) (uint32, error) {
		return s.engine.Freeze(r.Context(), caller)
	})
}

type transferRequest struct {
	Successor string `json:"successor"`
}

func (s *Server) handleTransferAdministration(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.adminCall(w, r, func(caller string) (uint32, error) {
		return s.engine.TransferAdministration(r.Context(), caller, req.Successor)
	})
}
