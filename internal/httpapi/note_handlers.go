package httpapi

import (
	"net/http"
	"strings"

	"careloop.org/internal/note"
)

type createNoteRequest struct {
	Kind    string `json:"kind"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

type updateNoteRequest struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

type createCommentRequest struct {
	ParentID string `json:"parent_id,omitempty"`
	Content  string `json:"content"`
}

func (a *API) handleChildNotes(w http.ResponseWriter, r *http.Request, childID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := a.notes.ListForChild(r.Context(), childID, actor.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req createNoteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		n, err := a.notes.Create(r.Context(), childID, actor, note.Kind(strings.TrimSpace(req.Kind)), req.Title, req.Content)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "note.create", "note", n.ID, map[string]string{
			"child_id": childID,
			"kind":     string(n.Kind),
		})
		w.Header().Set("Location", "/v1/notes/"+n.ID)
		writeJSON(w, http.StatusCreated, n)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleNoteScoped dispatches /v1/notes/{id}[/comments].
func (a *API) handleNoteScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/notes/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	noteID := parts[0]

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	if len(parts) == 2 && parts[1] == "comments" {
		a.handleNoteComments(w, r, noteID)
		return
	}
	if len(parts) == 2 && parts[1] == "assets" {
		a.handleNoteAssets(w, r, noteID)
		return
	}
	if len(parts) == 3 && parts[1] == "assets" {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if err := a.notes.RemoveAsset(r.Context(), noteID, parts[2], actor.UserID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "note.asset.remove", "asset", parts[2], map[string]string{
			"note_id": noteID,
		})
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		n, err := a.notes.Get(r.Context(), noteID, actor.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	case http.MethodPatch:
		var req updateNoteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		n, err := a.notes.Update(r.Context(), noteID, actor.UserID, req.Title, req.Content)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "note.update", "note", n.ID, nil)
		writeJSON(w, http.StatusOK, n)
	case http.MethodDelete:
		if err := a.notes.Delete(r.Context(), noteID, actor.UserID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "note.delete", "note", noteID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleNoteComments(w http.ResponseWriter, r *http.Request, noteID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := a.notes.Comments(r.Context(), noteID, actor.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req createCommentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		c, err := a.notes.Comment(r.Context(), noteID, strings.TrimSpace(req.ParentID), actor, req.Content)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "note.comment.create", "comment", c.ID, map[string]string{
			"note_id": noteID,
		})
		writeJSON(w, http.StatusCreated, c)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleNoteAssets(w http.ResponseWriter, r *http.Request, noteID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := a.notes.Assets(r.Context(), noteID, actor.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if err := r.ParseMultipartForm(12 << 20); err != nil {
			writeError(w, r, http.StatusBadRequest, "multipart form expected")
			return
		}
		file, header, err := r.FormFile("asset")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "asset file field is required")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		asset, err := a.notes.AddAsset(r.Context(), noteID, actor, header.Filename, contentType, header.Size, file)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "note.asset.add", "asset", asset.ID, map[string]string{
			"note_id": noteID,
		})
		writeJSON(w, http.StatusCreated, asset)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCommentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/comments/"), "/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := a.notes.DeleteComment(r.Context(), path, actor.UserID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "note.comment.delete", "comment", path, nil)
	w.WriteHeader(http.StatusNoContent)
}
