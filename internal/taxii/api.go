// Package taxii is the protocol boundary of the exchange: TAXII 2.1-shaped
// endpoints over the collection store, with trust resolution and
// anonymization applied to every cross-organization disclosure.
package taxii

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"crispintel.org/internal/anonymize"
	"crispintel.org/internal/auth"
	"crispintel.org/internal/intel"
	"crispintel.org/internal/obs"
	"crispintel.org/internal/stream"
	"crispintel.org/internal/trust"
)

const (
	// MediaTypeTaxii frames protocol envelopes; object payloads inside them
	// use intel.MediaTypeStix.
	MediaTypeTaxii = "application/taxii+json;version=2.1"

	apiRootPath = "/taxii2/default/"

	defaultPageLimit = 100
	maxPageLimit     = 1000

	maxBodyBytes = 10 << 20
)

// ReadyProbe is a simple readiness check (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	orgs       auth.OrganizationStore
	trustStore trust.Store
	resolver   *trust.Resolver
	trustSvc   *trust.Service
	objects    intel.Store
	engine     *anonymize.Engine
	events     *stream.Stream

	rateBurst  int
	ratePerSec int

	now func() time.Time
}

// New wires the API over its stores. A nil events stream disables /v1/events.
func New(rp ReadyProbe, version string, orgs auth.OrganizationStore, trustStore trust.Store, objects intel.Store, events *stream.Stream, thresholds anonymize.Thresholds) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		orgs:       orgs,
		trustStore: trustStore,
		resolver:   trust.NewResolver(trustStore),
		trustSvc:   trust.NewService(trustStore),
		objects:    objects,
		engine:     anonymize.NewEngine(thresholds),
		events:     events,
		rateBurst:  50,
		ratePerSec: 25,
		now:        func() time.Time { return time.Now().UTC() },
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// Identity: token mint (the auth collaborator stub) and org bootstrap.
	a.mux.HandleFunc("/v1/auth/token", a.handleToken)
	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationResource)

	// Trust administration.
	a.mux.HandleFunc("/v1/trust/levels", a.handleTrustLevels)
	a.mux.HandleFunc("/v1/trust/relationships", a.handleRelationships)
	a.mux.HandleFunc("/v1/trust/relationships/", a.handleRelationshipResource)
	a.mux.HandleFunc("/v1/trust/groups", a.handleGroups)
	a.mux.HandleFunc("/v1/trust/groups/", a.handleGroupResource)

	// Collection administration and the ingest event feed.
	a.mux.HandleFunc("/v1/collections", a.handleCreateCollection)
	a.mux.HandleFunc("/v1/events", a.handleEvents)

	// TAXII protocol surface.
	a.mux.HandleFunc("/taxii2/", a.handleTaxii)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "crisp-exchange",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "crisp-exchange",
		"time":    a.now().Format(time.RFC3339),
		"version": a.version,
	})
}
