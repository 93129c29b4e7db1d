package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"careloop.org/internal/access"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	tokenTTL   = time.Hour
)

var errInvalidToken = errors.New("httpapi: invalid token")

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth resolves the caller into an access.Actor. With a signing secret
// configured, identity comes from a bearer JWT; without one (dev mode),
// X-User-ID and X-User-Role headers are trusted instead.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		actor, err := a.resolveActor(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(access.ContextWithActor(r.Context(), actor)))
	})
}

func (a *API) resolveActor(r *http.Request) (access.Actor, error) {
	if len(a.secret) == 0 {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		role := access.Role(strings.TrimSpace(r.Header.Get("X-User-Role")))
		if userID == "" || !role.Valid() {
			return access.Actor{}, errors.New("missing identity headers")
		}
		return access.Actor{UserID: userID, Role: role}, nil
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return access.Actor{}, err
	}
	return a.parseToken(token)
}

type actorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (a *API) parseToken(token string) (access.Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &actorClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return access.Actor{}, errInvalidToken
	}
	claims, ok := parsed.Claims.(*actorClaims)
	if !ok || claims.Subject == "" {
		return access.Actor{}, errInvalidToken
	}
	role := access.Role(claims.Role)
	if !role.Valid() {
		return access.Actor{}, errInvalidToken
	}
	return access.Actor{UserID: claims.Subject, Role: role}, nil
}

func (a *API) mintToken(userID string, role access.Role) (string, error) {
	now := time.Now().UTC()
	claims := actorClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			Issuer:    serviceName,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type tokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// handleAuthToken issues short-lived tokens. There is no user directory in
// this service; upstream identity is assumed to have vetted the caller.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if len(a.secret) == 0 {
		writeError(w, r, http.StatusServiceUnavailable, "token signing is not configured")
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	role := access.Role(strings.TrimSpace(req.Role))
	if userID == "" || !role.Valid() {
		writeError(w, r, http.StatusBadRequest, "user_id and a valid role are required")
		return
	}
	token, err := a.mintToken(userID, role)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token signing failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int64(tokenTTL.Seconds()),
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// actorFrom returns the authenticated actor or reports the failure itself.
func actorFrom(w http.ResponseWriter, r *http.Request) (access.Actor, bool) {
	actor, ok := access.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return actor, ok
}
