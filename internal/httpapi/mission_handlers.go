package httpapi

import (
	"net/http"
	"strings"
	"time"

	"careloop.org/internal/mission"
)

type assignMissionRequest struct {
	TemplateID string `json:"template_id"`
	DueDate    string `json:"due_date,omitempty"`
}

type completeMissionRequest struct {
	ParentNote string `json:"parent_note,omitempty"`
}

type verifyMissionRequest struct {
	Feedback string `json:"feedback,omitempty"`
}

// missionResponse decorates a mission with its derived overdue flag.
type missionResponse struct {
	mission.Mission
	Overdue bool `json:"overdue"`
}

func toMissionResponse(m mission.Mission) missionResponse {
	return missionResponse{Mission: m, Overdue: m.Overdue(time.Now().UTC())}
}

func toMissionResponses(ms []mission.Mission) []missionResponse {
	now := time.Now().UTC()
	out := make([]missionResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, missionResponse{Mission: m, Overdue: m.Overdue(now)})
	}
	return out
}

func (a *API) handleChildMissions(w http.ResponseWriter, r *http.Request, childID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := a.missions.ListForChild(r.Context(), childID, actor.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": toMissionResponses(items)})
	case http.MethodPost:
		var req assignMissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var due *time.Time
		if strings.TrimSpace(req.DueDate) != "" {
			parsed, err := time.Parse(time.RFC3339, req.DueDate)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "due_date must be RFC3339")
				return
			}
			due = &parsed
		}
		m, err := a.missions.Assign(r.Context(), childID, actor, req.TemplateID, due)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "mission.assign", "mission", m.ID, map[string]string{
			"child_id":    childID,
			"template_id": req.TemplateID,
		})
		w.Header().Set("Location", "/v1/missions/"+m.ID)
		writeJSON(w, http.StatusCreated, toMissionResponse(m))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleMissionScoped dispatches /v1/missions/{id}[/...].
func (a *API) handleMissionScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/missions/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	missionID := parts[0]

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		m, err := a.missions.Get(r.Context(), missionID, actor.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toMissionResponse(m))

	case len(parts) == 2 && parts[1] == "photos":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.uploadPhoto(w, r, missionID)

	case len(parts) == 3 && parts[1] == "photos":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if err := a.missions.RemovePhoto(r.Context(), missionID, parts[2], actor); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "mission.photo.remove", "photo", parts[2], map[string]string{
			"mission_id": missionID,
		})
		w.WriteHeader(http.StatusNoContent)

	case len(parts) == 2:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.transitionMission(w, r, missionID, parts[1])

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) transitionMission(w http.ResponseWriter, r *http.Request, missionID, action string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		m   mission.Mission
		err error
	)
	switch action {
	case "start":
		m, err = a.missions.Start(ctx, missionID, actor)
	case "complete":
		var req completeMissionRequest
		if r.ContentLength > 0 {
			if derr := decodeJSON(w, r, &req); derr != nil {
				writeError(w, r, http.StatusBadRequest, derr.Error())
				return
			}
		}
		m, err = a.missions.Complete(ctx, missionID, actor, req.ParentNote)
	case "verify":
		var req verifyMissionRequest
		if r.ContentLength > 0 {
			if derr := decodeJSON(w, r, &req); derr != nil {
				writeError(w, r, http.StatusBadRequest, derr.Error())
				return
			}
		}
		m, err = a.missions.Verify(ctx, missionID, actor, req.Feedback)
	case "cancel":
		m, err = a.missions.Cancel(ctx, missionID, actor)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(ctx, "mission."+action, "mission", m.ID, map[string]string{
		"status": string(m.Status),
	})
	writeJSON(w, http.StatusOK, toMissionResponse(m))
}

func (a *API) uploadPhoto(w http.ResponseWriter, r *http.Request, missionID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(12 << 20); err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart form expected")
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "photo file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	p, err := a.missions.AddPhoto(r.Context(), missionID, actor, header.Filename, contentType, header.Size, file)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "mission.photo.add", "photo", p.ID, map[string]string{
		"mission_id": missionID,
	})
	writeJSON(w, http.StatusCreated, p)
}
