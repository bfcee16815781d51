package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"recalld/internal/domain"
)

// maxBodyBytes caps request bodies; context payloads are short text.
const maxBodyBytes = 1 << 20

// StoreRequest is the JSON body for POST /api/v1/contexts.
type StoreRequest struct {
	SessionID   string            `json:"session_id"`
	Content     string            `json:"content"`
	ContextType string            `json:"context_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RecallRequest is the JSON body for POST /api/v1/recall.
type RecallRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
}

// ErrorResponse is the JSON body for all error replies.
type ErrorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.metrics.StoreErrors.Add(1)
		writeError(w, domain.NewDomainError("gateway.store", domain.ErrInvalidInput, err.Error()))
		return
	}

	mem, err := s.engine.StoreContext(r.Context(), req.SessionID, req.Content, req.ContextType, req.Metadata)
	if err != nil {
		s.metrics.StoreErrors.Add(1)
		s.logger.Warn("store context failed", "session_id", req.SessionID, "error", err)
		writeError(w, err)
		return
	}

	s.metrics.StoreTotal.Add(1)
	writeJSON(w, http.StatusCreated, mem)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req RecallRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.metrics.RecallErrors.Add(1)
		writeError(w, domain.NewDomainError("gateway.recall", domain.ErrInvalidInput, err.Error()))
		return
	}

	res, err := s.engine.RetrieveFast(r.Context(), req.SessionID, req.Query, req.Limit)
	if err != nil {
		s.metrics.RecallErrors.Add(1)
		s.logger.Warn("recall failed", "session_id", req.SessionID, "error", err)
		writeError(w, err)
		return
	}

	s.metrics.RecallTotal.Add(1)
	if res.Degraded {
		s.metrics.RecallDegraded.Add(1)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	stats, err := s.engine.SessionStats(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decodeBody parses a JSON request body, rejecting unknown fields and
// oversized payloads.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// A second decode catching io.EOF guarantees a single JSON document.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps a domain error to an HTTP status and JSON error body.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), ErrorResponse{
		Error: err.Error(),
		Code:  domain.ErrorCodeOf(err),
	})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrEngineClosed), errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrEmbeddingFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
