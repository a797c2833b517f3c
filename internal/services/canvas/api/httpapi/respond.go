package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/platform/requestctx"
)

type errorBody struct {
	Code          apperrors.Code    `json:"code"`
	Message       string            `json:"message"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

// writeError maps a domain error to its HTTP status and JSON envelope.
// Non-domain errors leave as an opaque internal error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{
		Code:          apperrors.CodeInternal,
		Message:       "internal error",
		CorrelationID: requestctx.CorrelationIDFromContext(r.Context()),
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body.Code = appErr.Code
		body.Message = appErr.Message
		body.Metadata = appErr.Metadata
	}

	status := body.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("request %s %s failed: %v (correlation %s)",
			r.Method, r.URL.Path, err, body.CorrelationID)
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

// decodeBody parses a JSON request body under the configured size cap.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
				"request body exceeds the size cap",
				map[string]string{"max_bytes": strconv.FormatInt(s.cfg.MaxBodyBytes, 10)})
		}
		return apperrors.Wrap(apperrors.CodeInvalidArgument,
			"request body is not valid JSON", err)
	}
	return nil
}
