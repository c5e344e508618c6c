package taxii

import (
	"encoding/json"
	"fmt"
	"net/http"

	"crispintel.org/internal/stream"
	"crispintel.org/internal/trust"
)

// handleEvents streams ingest notifications over SSE. A subscriber only
// receives events for collections it could read: its own, plus foreign ones
// whose owner grants at least subscribe access through trust.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if a.events == nil {
		writeError(w, r, http.StatusNotFound, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	keep := func(evt stream.ObjectEvent) bool {
		if evt.OwnerOrg == principal.OrgID {
			return true
		}
		allowed, err := a.resolver.CanAccess(ctx, principal.OrgID, evt.OwnerOrg, trust.AccessSubscribe)
		return err == nil && allowed
	}
	ch := a.events.Subscribe(ctx, keep)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for evt := range ch {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: object\ndata: %s\n\n", payload)
		flusher.Flush()
	}
}
