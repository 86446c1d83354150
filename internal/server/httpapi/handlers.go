package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/planbook/internal/common"
	"github.com/dmitrijs2005/planbook/internal/server/models"
)

const maxBodyBytes = 1 << 20

const (
	codeInvalidRequest    = "invalid_request"
	codeAuthFailed        = "authentication_failed"
	codeNotFound          = "not_found"
	codeReferenceNotFound = "reference_not_found"
	codeInternal          = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type listResponse struct {
	Records []*models.Record `json:"records"`
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	kind, ok := collectionKind(w, r)
	if !ok {
		return
	}

	var since *time.Time
	if v := r.URL.Query().Get(common.SinceQueryParam); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	recs, err := s.records.ListSince(r.Context(), userIDFrom(r.Context()), kind, since)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Records: recs})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	kind, ok := collectionKind(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	rec, err := s.records.Create(r.Context(), userIDFrom(r.Context()), kind, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	kind, ok := collectionKind(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	rec, err := s.records.Update(r.Context(), userIDFrom(r.Context()), kind, id, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	kind, ok := collectionKind(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	if err := s.records.Delete(r.Context(), userIDFrom(r.Context()), kind, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps a service error onto the API error contract.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, common.ErrorReferenceNotFound):
		writeError(w, http.StatusConflict, codeReferenceNotFound, err.Error())
	case errors.Is(err, common.ErrorValidation):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	default:
		s.logger.Error(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func collectionKind(w http.ResponseWriter, r *http.Request) (models.Kind, bool) {
	kind, ok := models.KindFromCollection(r.PathValue("collection"))
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "unknown collection")
	}
	return kind, ok
}

func recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "cannot read body")
		return nil, false
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "body is not valid JSON")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}
