package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"careloop.org/internal/access"
	"careloop.org/internal/audit"
	"careloop.org/internal/child"
	"careloop.org/internal/events"
	"careloop.org/internal/mission"
	"careloop.org/internal/note"
	"careloop.org/internal/obs"
)

const serviceName = "careloop-api"

// ReadyProbe checks the service's backing dependencies.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the HTTP layer to the core services.
type Config struct {
	Version    string
	AuthSecret string
	Probe      ReadyProbe
	Children   *child.Service
	Ledger     *access.Ledger
	Notes      *note.Service
	Missions   *mission.Engine
	Catalog    *mission.Catalog
	Stream     *events.Stream
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	probe   ReadyProbe
	version string
	secret  []byte

	children *child.Service
	ledger   *access.Ledger
	notes    *note.Service
	missions *mission.Engine
	catalog  *mission.Catalog
	stream   *events.Stream

	rateBurst  int
	ratePerSec int
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		probe:      cfg.Probe,
		version:    cfg.Version,
		children:   cfg.Children,
		ledger:     cfg.Ledger,
		notes:      cfg.Notes,
		missions:   cfg.Missions,
		catalog:    cfg.Catalog,
		stream:     cfg.Stream,
		rateBurst:  40,
		ratePerSec: 20,
	}
	if cfg.AuthSecret != "" {
		a.secret = []byte(cfg.AuthSecret)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// identity
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// domain
	a.mux.HandleFunc("/v1/children", a.handleChildrenCollection)
	a.mux.HandleFunc("/v1/children/", a.handleChildScoped)
	a.mux.HandleFunc("/v1/missions/", a.handleMissionScoped)
	a.mux.HandleFunc("/v1/notes/", a.handleNoteScoped)
	a.mux.HandleFunc("/v1/comments/", a.handleCommentResource)
	a.mux.HandleFunc("/v1/templates", a.handleTemplatesCollection)
	a.mux.HandleFunc("/v1/templates/", a.handleTemplateResource)

	// SSE
	a.mux.HandleFunc("/v1/events", a.Stream)

	// root: 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 12<<20) // photo uploads included
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, meta map[string]string) {
	fields := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}
