package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type createChildRequest struct {
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"`
}

type updateChildRequest struct {
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"`
}

type pinRequest struct {
	PIN string `json:"pin"`
}

func (a *API) handleChildrenCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createChildRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	birth, err := parseDate(req.BirthDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, grant, err := a.children.Create(r.Context(), actor, req.Name, birth)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "child.create", "child", c.ID, map[string]string{
		"primary_grant": grant.ID,
	})
	w.Header().Set("Location", "/v1/children/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

// handleChildScoped dispatches /v1/children/{id}[/...] to the child, grant,
// mission and note sub-resources.
func (a *API) handleChildScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/children/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	childID := parts[0]

	if len(parts) == 1 {
		a.handleChildResource(w, r, childID)
		return
	}
	switch parts[1] {
	case "pin":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleChildPIN(w, r, childID)
	case "grants":
		a.handleGrants(w, r, childID, parts[2:])
	case "missions":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleChildMissions(w, r, childID)
	case "notes":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleChildNotes(w, r, childID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleChildResource(w http.ResponseWriter, r *http.Request, childID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, err := a.children.Get(r.Context(), childID, actor.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodPatch:
		var req updateChildRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		birth, err := parseDate(req.BirthDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		c, err := a.children.Update(r.Context(), childID, actor.UserID, req.Name, birth)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "child.update", "child", c.ID, nil)
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if err := a.children.Delete(r.Context(), childID, actor.UserID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "child.delete", "child", childID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleChildPIN(w http.ResponseWriter, r *http.Request, childID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req pinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	switch r.Method {
	case http.MethodPut:
		if err := a.children.SetPIN(r.Context(), childID, actor.UserID, req.PIN); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "child.pin.set", "child", childID, nil)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		if err := a.children.CheckPIN(r.Context(), childID, actor.UserID, req.PIN); err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodPost)
	}
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(raw))
}
