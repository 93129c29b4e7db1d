package httpapi

import (
	"net/http"
	"strings"

	"careloop.org/internal/access"
)

type createGrantRequest struct {
	UserID       string   `json:"user_id"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	IsPrimary    bool     `json:"is_primary"`
}

type reviseGrantRequest struct {
	Capabilities []string `json:"capabilities"`
}

type transferPrimaryRequest struct {
	NewPrimaryUserID string `json:"new_primary_user_id"`
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request, childID string, rest []string) {
	switch {
	case len(rest) == 0:
		a.handleGrantsCollection(w, r, childID)
	case len(rest) == 1 && rest[0] == "transfer":
		a.handleTransferPrimary(w, r, childID)
	case len(rest) == 1:
		a.handleGrantResource(w, r, childID, rest[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleGrantsCollection(w http.ResponseWriter, r *http.Request, childID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		grants, err := a.ledger.GrantsForChild(r.Context(), childID, actor.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": grants})
	case http.MethodPost:
		var req createGrantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		target := access.Actor{
			UserID: strings.TrimSpace(req.UserID),
			Role:   access.Role(strings.TrimSpace(req.Role)),
		}
		grant, err := a.ledger.Grant(r.Context(), childID, actor.UserID, target, toCapabilities(req.Capabilities), req.IsPrimary)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "access.grant.create", "grant", grant.ID, map[string]string{
			"child_id": childID,
			"user_id":  target.UserID,
		})
		writeJSON(w, http.StatusCreated, grant)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request, childID, userID string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req reviseGrantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant, err := a.ledger.Revise(r.Context(), childID, actor.UserID, userID, toCapabilities(req.Capabilities))
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "access.grant.revise", "grant", grant.ID, map[string]string{
			"child_id": childID,
			"user_id":  userID,
		})
		writeJSON(w, http.StatusOK, grant)
	case http.MethodDelete:
		if err := a.ledger.Revoke(r.Context(), childID, actor.UserID, userID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "access.grant.revoke", "grant", userID, map[string]string{
			"child_id": childID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleTransferPrimary(w http.ResponseWriter, r *http.Request, childID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req transferPrimaryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	newPrimary := strings.TrimSpace(req.NewPrimaryUserID)
	if newPrimary == "" {
		writeError(w, r, http.StatusBadRequest, "new_primary_user_id is required")
		return
	}
	if err := a.ledger.TransferPrimary(r.Context(), childID, actor.UserID, newPrimary); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "access.primary.transfer", "child", childID, map[string]string{
		"new_primary": newPrimary,
	})
	w.WriteHeader(http.StatusNoContent)
}

func toCapabilities(raw []string) []access.Capability {
	caps := make([]access.Capability, 0, len(raw))
	for _, c := range raw {
		caps = append(caps, access.Capability(strings.TrimSpace(c)))
	}
	return caps
}
