package httpapi

import (
	"net/http"
	"strings"
	"time"

	"careloop.org/internal/mission"
)

type templateRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	Difficulty      string `json:"difficulty"`
	Instructions    string `json:"instructions"`
	DurationMinutes int    `json:"duration_minutes"`
	LLMGenerated    bool   `json:"llm_generated"`
}

func (req templateRequest) toInput() mission.TemplateInput {
	return mission.TemplateInput{
		Title:        req.Title,
		Description:  req.Description,
		Category:     mission.Category(strings.TrimSpace(req.Category)),
		Difficulty:   mission.Difficulty(strings.TrimSpace(req.Difficulty)),
		Instructions: req.Instructions,
		Duration:     time.Duration(req.DurationMinutes) * time.Minute,
		LLMGenerated: req.LLMGenerated,
	}
}

func (a *API) handleTemplatesCollection(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("active") == "true"
		items, err := a.catalog.List(r.Context(), activeOnly)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req templateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		tpl, err := a.catalog.Create(r.Context(), actor, req.toInput())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "template.create", "template", tpl.ID, nil)
		w.Header().Set("Location", "/v1/templates/"+tpl.ID)
		writeJSON(w, http.StatusCreated, tpl)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTemplateResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/templates/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		var active bool
		switch parts[1] {
		case "activate":
			active = true
		case "deactivate":
			active = false
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		tpl, err := a.catalog.SetActive(r.Context(), actor, id, active)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "template.set_active", "template", tpl.ID, map[string]string{
			"active": parts[1],
		})
		writeJSON(w, http.StatusOK, tpl)
		return
	}
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		tpl, err := a.catalog.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tpl)
	case http.MethodPut:
		var req templateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		tpl, err := a.catalog.Update(r.Context(), actor, id, req.toInput())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "template.update", "template", tpl.ID, nil)
		writeJSON(w, http.StatusOK, tpl)
	case http.MethodDelete:
		if err := a.catalog.Delete(r.Context(), actor, id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "template.delete", "template", id, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}
