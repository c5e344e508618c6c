package taxii

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"crispintel.org/internal/anonymize"
	"crispintel.org/internal/audit"
	"crispintel.org/internal/ids"
	"crispintel.org/internal/intel"
	"crispintel.org/internal/obs"
	"crispintel.org/internal/stix"
	"crispintel.org/internal/stream"
	"crispintel.org/internal/trust"
)

func (a *API) handleObjects(w http.ResponseWriter, r *http.Request, collectionID string) {
	switch r.Method {
	case http.MethodGet:
		a.listObjects(w, r, collectionID)
	case http.MethodPost:
		a.ingestObjects(w, r, collectionID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// listObjects serves a filtered, paginated page of a collection's objects.
// Every record crosses the disclosure gate: objects from sources the
// requester holds no trust with are omitted entirely, the rest are
// anonymized per the resolved level before leaving the process.
func (a *API) listObjects(w http.ResponseWriter, r *http.Request, collectionID string) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	col, err := a.visibleCollection(w, r, collectionID, principal.OrgID)
	if err != nil {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeTAXIIError(w, r, http.StatusBadRequest, "invalid filter", err.Error())
		return
	}

	records, more, err := a.objects.ListRecords(r.Context(), col.ID, f)
	if err != nil {
		writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	objects := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		disclosed, visible, err := a.disclose(r.Context(), principal.OrgID, rec.Object)
		if err != nil {
			writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		if !visible {
			continue
		}
		objects = append(objects, disclosed)
	}

	envelope := map[string]any{
		"objects": objects,
		"more":    more,
	}
	if more {
		envelope["next"] = nextCursor(f, len(records))
	}
	writeTAXII(w, http.StatusOK, envelope)
}

// handleObject serves one object by STIX id. Objects the requester may not
// see, including those present but sourced from an untrusted organization,
// are 404.
func (a *API) handleObject(w http.ResponseWriter, r *http.Request, collectionID, objectID string) {
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

	rec, err := a.objects.GetRecord(r.Context(), col.ID, objectID)
	if errors.Is(err, intel.ErrNotFound) {
		writeTAXIIError(w, r, http.StatusNotFound, "object not found")
		return
	}
	if err != nil {
		writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	disclosed, visible, err := a.disclose(r.Context(), principal.OrgID, rec.Object)
	if err != nil {
		writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !visible {
		writeTAXIIError(w, r, http.StatusNotFound, "object not found")
		return
	}
	writeTAXII(w, http.StatusOK, map[string]any{
		"objects": []map[string]any{disclosed},
		"more":    false,
	})
}

// handleManifest serves membership metadata. Entries from untrusted sources
// are filtered the same way objects are; metadata needs no anonymization.
func (a *API) handleManifest(w http.ResponseWriter, r *http.Request, collectionID string) {
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
	f, err := parseFilter(r)
	if err != nil {
		writeTAXIIError(w, r, http.StatusBadRequest, "invalid filter", err.Error())
		return
	}

	var (
		entries []intel.ManifestEntry
		more    bool
		paged   int
	)
	if col.OwnerOrg == principal.OrgID {
		entries, more, err = a.objects.Manifest(r.Context(), col.ID, f)
		if err != nil {
			writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		paged = len(entries)
	} else {
		// Non-owners get the record path so per-source trust can filter
		// what the manifest admits to holding.
		records, m, err := a.objects.ListRecords(r.Context(), col.ID, f)
		if err != nil {
			writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		more = m
		paged = len(records)
		for _, rec := range records {
			res, err := a.resolver.Resolve(r.Context(), principal.OrgID, rec.SourceOrg)
			if err != nil {
				writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
				return
			}
			if !res.Trusted() {
				continue
			}
			entries = append(entries, intel.ManifestEntry{
				ID:        rec.StixID,
				DateAdded: rec.DateAdded,
				Version:   formatTime(rec.Modified),
				MediaType: intel.MediaTypeStix,
			})
		}
	}
	if entries == nil {
		entries = []intel.ManifestEntry{}
	}
	envelope := map[string]any{
		"objects": entries,
		"more":    more,
	}
	if more {
		// The cursor advances past the stored page, not just past the
		// entries that survived trust filtering.
		envelope["next"] = nextCursor(f, paged)
	}
	writeTAXII(w, http.StatusOK, envelope)
}

// disclose applies the outbound gate to a single object: resolve trust
// between requester and source, pick the strategy, transform a copy of the
// raw payload. visible==false means the object must be treated as absent.
func (a *API) disclose(ctx context.Context, requesterOrg string, obj intel.Object) (map[string]any, bool, error) {
	if obj.SourceOrg == requesterOrg {
		obs.ObjectServed(string(anonymize.LevelNone))
		return obj.Raw, true, nil
	}
	res, err := a.resolver.Resolve(ctx, requesterOrg, obj.SourceOrg)
	if err != nil {
		return nil, false, err
	}
	if !res.Trusted() {
		return nil, false, nil
	}
	strategy := a.strategyFor(res.Level)
	obs.ObjectServed(string(strategy.Name()))
	return strategy.Anonymize(obj.Raw), true, nil
}

// strategyFor honors the level's configured strategy name, falling back to
// the numeric thresholds when the name is absent or unknown.
func (a *API) strategyFor(level trust.Level) anonymize.Strategy {
	if name, err := anonymize.ParseLevel(level.DefaultAnonymization); err == nil {
		if s, err := a.engine.ForName(name); err == nil {
			return s
		}
	}
	return a.engine.ForTrust(level.Trust())
}

type ingestFailure struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type ingestSuccess struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// ingestObjects is the TAXII add-objects operation. Only the owning
// organization writes to a collection; objects are validated before any of
// them touch storage state, and every accepted one becomes visible to later
// reads immediately.
func (a *API) ingestObjects(w http.ResponseWriter, r *http.Request, collectionID string) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	col, err := a.objects.GetCollection(r.Context(), collectionID)
	if errors.Is(err, intel.ErrNotFound) {
		writeTAXIIError(w, r, http.StatusNotFound, "collection not found")
		return
	}
	if err != nil {
		writeTAXIIError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if col.OwnerOrg != principal.OrgID {
		// Foreign collections stay indistinguishable from absent ones.
		writeTAXIIError(w, r, http.StatusNotFound, "collection not found")
		return
	}
	if !col.CanWrite {
		writeTAXIIError(w, r, http.StatusForbidden, "collection does not accept writes")
		return
	}

	var body map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		writeTAXIIError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	incoming, err := unpackEnvelope(body)
	if err != nil {
		writeTAXIIError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(incoming) == 0 {
		writeTAXIIError(w, r, http.StatusBadRequest, "invalid request body", "no objects in envelope")
		return
	}

	now := a.now()
	var successes []ingestSuccess
	var failures []ingestFailure

	for _, raw := range incoming {
		obj, failure := a.ingestOne(r.Context(), col, principal.OrgID, raw, now)
		if failure != nil {
			failures = append(failures, *failure)
			continue
		}
		successes = append(successes, ingestSuccess{ID: obj.StixID, Version: formatTime(obj.Modified)})
	}

	status := http.StatusOK
	if len(failures) > 0 {
		status = http.StatusMultiStatus
	}
	if successes == nil {
		successes = []ingestSuccess{}
	}
	if failures == nil {
		failures = []ingestFailure{}
	}
	writeTAXII(w, status, map[string]any{
		"id":                ids.New(),
		"status":            "complete",
		"request_timestamp": formatTime(now),
		"total_count":       len(incoming),
		"success_count":     len(successes),
		"successes":         successes,
		"failure_count":     len(failures),
		"failures":          failures,
		"pending_count":     0,
	})
}

// ingestOne validates and persists a single incoming object. A non-nil
// failure means nothing was stored for it.
func (a *API) ingestOne(ctx context.Context, col *intel.Collection, orgID string, raw map[string]any, now time.Time) (*intel.Object, *ingestFailure) {
	id, _ := raw["id"].(string)
	stixType, _ := raw["type"].(string)

	version := stix.SpecVersion21
	if sv, ok := raw["spec_version"].(string); ok && sv != "" {
		version = sv
	}

	if valid, errs := stix.Validate(raw, version); !valid {
		return nil, &ingestFailure{ID: id, Message: fmt.Sprintf("validation failed: %v", errs)}
	}

	created := now
	if v, ok := raw["created"].(string); ok {
		if ts, err := stix.ParseTimestamp(v); err == nil {
			created = ts
		}
	}
	modified := created
	if v, ok := raw["modified"].(string); ok {
		if ts, err := stix.ParseTimestamp(v); err == nil {
			modified = ts
		}
	}

	obj := &intel.Object{
		StixID:      id,
		StixType:    stixType,
		SpecVersion: version,
		Created:     created,
		Modified:    modified,
		SourceOrg:   orgID,
		Raw:         raw,
	}
	// Ownership is enforced by the store under its own lock: an existing
	// stix_id may only be updated by the organization that first
	// contributed it.
	if _, err := a.objects.UpsertObject(ctx, obj); err != nil {
		if errors.Is(err, intel.ErrWrongOwner) {
			return nil, &ingestFailure{ID: id, Message: "object id is owned by another organization"}
		}
		return nil, &ingestFailure{ID: id, Message: "storage error"}
	}
	added, err := a.objects.AddToCollection(ctx, col.ID, id, now)
	if err != nil {
		return nil, &ingestFailure{ID: id, Message: "storage error"}
	}

	obs.ObjectIngested(stixType)
	_ = audit.LogEvent(ctx, "object_ingested", map[string]any{
		"collection_id":     col.ID,
		"stix_id":           id,
		"stix_type":         stixType,
		"new_to_collection": added,
	})
	if a.events != nil && added {
		a.events.Publish(stream.ObjectEvent{
			CollectionID: col.ID,
			OwnerOrg:     col.OwnerOrg,
			StixID:       id,
			StixType:     stixType,
			Added:        now,
		})
	}
	return obj, nil
}

// unpackEnvelope accepts the TAXII envelope form {"objects": [...]}, a bare
// STIX bundle, or a single object.
func unpackEnvelope(body map[string]any) ([]map[string]any, error) {
	extract := func(v any) ([]map[string]any, error) {
		list, ok := v.([]any)
		if !ok {
			return nil, errors.New("objects must be an array")
		}
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, errors.New("each object must be a JSON object")
			}
			out = append(out, obj)
		}
		return out, nil
	}

	if v, ok := body["objects"]; ok {
		if t, _ := body["type"].(string); t == stix.TypeBundle {
			objs, err := extract(v)
			if err != nil {
				return nil, err
			}
			// 2.0 bundles carry spec_version on the envelope, not the
			// objects; propagate it so each one validates correctly.
			if sv, _ := body["spec_version"].(string); sv != "" {
				for _, obj := range objs {
					if _, has := obj["spec_version"]; !has {
						obj["spec_version"] = sv
					}
				}
			}
			return objs, nil
		}
		return extract(v)
	}
	if _, ok := body["type"].(string); ok {
		return []map[string]any{body}, nil
	}
	return nil, errors.New("body must be an envelope, bundle or single object")
}
