package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"careloop.org/internal/access"
	"careloop.org/internal/child"
	"careloop.org/internal/mission"
	"careloop.org/internal/note"
	"careloop.org/internal/storage"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps core sentinels onto HTTP statuses. Unauthorized
// record reads surface as 404 from the core already, so 403 only appears when
// the caller may see a record but not mutate it.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isInvalidArgument(err):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case isPermissionDenied(err):
		writeError(w, r, http.StatusForbidden, err.Error())
	case isNotFound(err):
		writeError(w, r, http.StatusNotFound, err.Error())
	case isConflict(err):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func isInvalidArgument(err error) bool {
	return errors.Is(err, access.ErrInvalidArgument) ||
		errors.Is(err, access.ErrInvalidRole) ||
		errors.Is(err, child.ErrInvalidArgument) ||
		errors.Is(err, child.ErrInvalidRole) ||
		errors.Is(err, note.ErrInvalidArgument) ||
		errors.Is(err, mission.ErrInvalidArgument) ||
		errors.Is(err, storage.ErrInvalidKey)
}

func isPermissionDenied(err error) bool {
	return errors.Is(err, access.ErrPermissionDenied) ||
		errors.Is(err, note.ErrPermissionDenied) ||
		errors.Is(err, mission.ErrPermissionDenied)
}

func isNotFound(err error) bool {
	return errors.Is(err, access.ErrNotFound) ||
		errors.Is(err, child.ErrNotFound) ||
		errors.Is(err, note.ErrNotFound) ||
		errors.Is(err, mission.ErrNotFound) ||
		errors.Is(err, storage.ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, access.ErrConflict) ||
		errors.Is(err, mission.ErrConflict) ||
		errors.Is(err, mission.ErrInvalidTransition) ||
		errors.Is(err, mission.ErrLimitExceeded)
}
