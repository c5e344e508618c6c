package taxii

import (
	"errors"
	"net/http"
	"strings"

	"crispintel.org/internal/audit"
	"crispintel.org/internal/ids"
	"crispintel.org/internal/intel"
	"crispintel.org/internal/trust"
)

// handleListCollections serves the authenticated organization's own
// collections. Foreign collections are reachable by id when trust allows,
// but are never enumerated here.
func (a *API) handleListCollections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	collections, err := a.objects.ListCollectionsByOrg(r.Context(), principal.OrgID)
	if err != nil {
		writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if collections == nil {
		collections = []*intel.Collection{}
	}
	writeTAXII(w, http.StatusOK, map[string]any{
		"collections": collections,
	})
}

// handleCollection serves a single collection document. Collections the
// requester may not read resolve to 404, indistinguishable from absence.
func (a *API) handleCollection(w http.ResponseWriter, r *http.Request, collectionID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	col, err := a.visibleCollection(w, r, collectionID, principal.OrgID)
	if err != nil {
		return
	}
	writeTAXII(w, http.StatusOK, col)
}

// visibleCollection loads a collection and applies the read gate: the owner
// always sees it, others need can_read plus resolved trust at read access.
// Writes the error response itself; callers stop on error.
func (a *API) visibleCollection(w http.ResponseWriter, r *http.Request, collectionID, orgID string) (*intel.Collection, error) {
	col, err := a.objects.GetCollection(r.Context(), collectionID)
	if errors.Is(err, intel.ErrNotFound) {
		writeTAXIIError(w, r, http.StatusNotFound, "collection not found")
		return nil, err
	}
	if err != nil {
		writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
		return nil, err
	}
	if col.OwnerOrg == orgID {
		return col, nil
	}
	if !col.CanRead {
		writeTAXIIError(w, r, http.StatusNotFound, "collection not found")
		return nil, intel.ErrNotFound
	}
	allowed, err := a.resolver.CanAccess(r.Context(), orgID, col.OwnerOrg, trust.AccessRead)
	if err != nil {
		writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
		return nil, err
	}
	if !allowed {
		writeTAXIIError(w, r, http.StatusNotFound, "collection not found")
		return nil, intel.ErrNotFound
	}
	return col, nil
}

type createCollectionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Alias       string `json:"alias"`
	CanRead     *bool  `json:"can_read"`
	CanWrite    *bool  `json:"can_write"`
}

// handleCreateCollection is the administrative endpoint for minting a new
// collection owned by the caller.
func (a *API) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req createCollectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, r, http.StatusBadRequest, "title is required")
		return
	}

	col := &intel.Collection{
		ID:          ids.New(),
		OwnerOrg:    principal.OrgID,
		Title:       req.Title,
		Description: strings.TrimSpace(req.Description),
		Alias:       strings.TrimSpace(req.Alias),
		CanRead:     true,
		CanWrite:    true,
		MediaTypes:  []string{intel.MediaTypeStix},
		CreatedAt:   a.now(),
	}
	if req.CanRead != nil {
		col.CanRead = *req.CanRead
	}
	if req.CanWrite != nil {
		col.CanWrite = *req.CanWrite
	}

	if err := a.objects.CreateCollection(r.Context(), col); err != nil {
		if errors.Is(err, intel.ErrConflict) {
			writeError(w, r, http.StatusConflict, "collection already exists")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "collection_created", map[string]any{
		"collection_id": col.ID,
		"title":         col.Title,
	})
	writeJSON(w, http.StatusCreated, col)
}
