package taxii

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"crispintel.org/internal/trust"
)

// sharedFixture wires two organizations with a trust relationship at the
// named anonymization level, a collection owned by the first, and one
// ingested indicator.
type sharedFixture struct {
	api          *apiClient
	ownerID      string
	ownerHeader  map[string]string
	readerID     string
	readerHeader map[string]string
	collectionID string
	indicatorID  string
}

func newSharedFixture(t *testing.T, levelValue int, anonLevel string, access trust.AccessLevel) *sharedFixture {
	t.Helper()
	api := newTestAPI(t)

	ownerID, ownerHeader := api.registerOrg("Alpha CERT")
	readerID, readerHeader := api.registerOrg("Beta SOC")

	level := api.seedLevel("fixture-level", levelValue, anonLevel, access)
	api.establishTrust(ownerID, ownerHeader, readerID, readerHeader, level.ID)

	collectionID := api.createCollection(ownerHeader, "alpha-indicators")
	indicatorID := newIndicatorID()
	api.ingest(ownerHeader, collectionID, indicator(indicatorID))

	return &sharedFixture{
		api:          api,
		ownerID:      ownerID,
		ownerHeader:  ownerHeader,
		readerID:     readerID,
		readerHeader: readerHeader,
		collectionID: collectionID,
		indicatorID:  indicatorID,
	}
}

func (f *sharedFixture) fetchObjects(t *testing.T, header map[string]string) []map[string]any {
	t.Helper()
	resp := f.api.get("/taxii2/default/collections/"+f.collectionID+"/objects/", nil, header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get objects: status %d", resp.StatusCode)
	}
	envelope := decode[map[string]any](t, resp)
	raw := envelope["objects"].([]any)
	out := make([]map[string]any, len(raw))
	for i, item := range raw {
		out[i] = item.(map[string]any)
	}
	return out
}

func TestOwnerSeesOwnObjectsUnmodified(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)

	objects := f.fetchObjects(t, f.ownerHeader)
	if len(objects) != 1 {
		t.Fatalf("owner object count: %d", len(objects))
	}
	obj := objects[0]
	if obj["x_crisp_analyst"] != "j.doe" {
		t.Fatalf("owner must see analyst field, got %v", obj["x_crisp_analyst"])
	}
	if obj["pattern"] != "[ipv4-addr:value = '203.0.113.42']" {
		t.Fatalf("owner must see exact pattern, got %v", obj["pattern"])
	}
}

func TestHighTrustPartnerSeesPassThrough(t *testing.T) {
	f := newSharedFixture(t, 90, "none", trust.AccessFull)

	objects := f.fetchObjects(t, f.readerHeader)
	if len(objects) != 1 {
		t.Fatalf("partner object count: %d", len(objects))
	}
	if objects[0]["pattern"] != "[ipv4-addr:value = '203.0.113.42']" {
		t.Fatalf("high trust must pass the pattern through, got %v", objects[0]["pattern"])
	}
	if objects[0]["created_by_ref"] == nil {
		t.Fatalf("high trust must keep created_by_ref")
	}
}

func TestStandardTrustPartnerGetsPartialAnonymization(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)

	objects := f.fetchObjects(t, f.readerHeader)
	if len(objects) != 1 {
		t.Fatalf("partner object count: %d", len(objects))
	}
	obj := objects[0]
	if _, has := obj["x_crisp_analyst"]; has {
		t.Fatalf("partial must remove analyst attribution")
	}
	if _, has := obj["created_by_ref"]; has {
		t.Fatalf("partial must remove created_by_ref")
	}
	if obj["pattern"] != "[ipv4-addr:value = '203.0.113.0/24']" {
		t.Fatalf("partial must generalize the IP to /24, got %v", obj["pattern"])
	}
	// Identity fields survive anonymization untouched.
	if obj["id"] != f.indicatorID {
		t.Fatalf("object id changed: %v", obj["id"])
	}
}

func TestLowTrustPartnerGetsFullAnonymization(t *testing.T) {
	f := newSharedFixture(t, 25, "full", trust.AccessRead)

	objects := f.fetchObjects(t, f.readerHeader)
	if len(objects) != 1 {
		t.Fatalf("partner object count: %d", len(objects))
	}
	obj := objects[0]
	if obj["pattern"] != "[ipv4-addr:value != '']" {
		t.Fatalf("full must collapse the pattern, got %v", obj["pattern"])
	}
	for key := range obj {
		if strings.HasPrefix(key, "x_") {
			t.Fatalf("full must strip extension field %s", key)
		}
	}
	if desc, _ := obj["description"].(string); strings.Contains(desc, "203.0.113") {
		t.Fatalf("full must not leak observables in description: %s", desc)
	}
}

func TestUntrustedOrgSeesNothing(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)
	_, strangerHeader := f.api.registerOrg("Gamma Stranger")

	// The collection itself is invisible without resolved trust.
	resp := f.api.get("/taxii2/default/collections/"+f.collectionID+"/", nil, strangerHeader)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger collection access: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.api.get("/taxii2/default/collections/"+f.collectionID+"/objects/"+f.indicatorID+"/", nil, strangerHeader)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger object access: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTrustedPartnerReadsCollectionDetail(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)

	resp := f.api.get("/taxii2/default/collections/"+f.collectionID+"/", nil, f.readerHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("partner collection detail: status %d", resp.StatusCode)
	}
	col := decode[map[string]any](t, resp)
	if col["title"] != "alpha-indicators" {
		t.Fatalf("collection title: %v", col["title"])
	}
}

func TestCollectionListShowsOnlyOwnCollections(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)

	resp := f.api.get("/taxii2/default/collections/", nil, f.readerHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list collections: status %d", resp.StatusCode)
	}
	envelope := decode[map[string]any](t, resp)
	if got := len(envelope["collections"].([]any)); got != 0 {
		t.Fatalf("partner must not enumerate foreign collections, got %d", got)
	}
}

func TestNonOwnerCannotIngest(t *testing.T) {
	f := newSharedFixture(t, 90, "none", trust.AccessFull)

	resp := f.api.post("/taxii2/default/collections/"+f.collectionID+"/objects/", map[string]any{
		"objects": []map[string]any{indicator(newIndicatorID())},
	}, f.readerHeader)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("non-owner ingest: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIngestRejectsInvalidObjects(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)

	bad := indicator(newIndicatorID())
	delete(bad, "pattern")
	good := indicator(newIndicatorID())

	resp := f.api.post("/taxii2/default/collections/"+f.collectionID+"/objects/", map[string]any{
		"objects": []map[string]any{bad, good},
	}, f.ownerHeader)
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("mixed ingest: status %d, want 207", resp.StatusCode)
	}
	status := decode[map[string]any](t, resp)
	if int(status["success_count"].(float64)) != 1 {
		t.Fatalf("success_count: %v", status["success_count"])
	}
	if int(status["failure_count"].(float64)) != 1 {
		t.Fatalf("failure_count: %v", status["failure_count"])
	}
	failures := status["failures"].([]any)
	msg := failures[0].(map[string]any)["message"].(string)
	if !strings.Contains(msg, "pattern") {
		t.Fatalf("failure message should name the missing field: %s", msg)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)

	// Re-posting the same object must succeed and not duplicate it.
	f.api.ingest(f.ownerHeader, f.collectionID, indicator(f.indicatorID))

	objects := f.fetchObjects(t, f.ownerHeader)
	if len(objects) != 1 {
		t.Fatalf("object count after re-ingest: %d", len(objects))
	}
}

func TestObjectIDOwnedByAnotherOrg(t *testing.T) {
	f := newSharedFixture(t, 90, "none", trust.AccessFull)

	// The partner reuses the owner's STIX id in its own collection.
	partnerCol := f.api.createCollection(f.readerHeader, "beta-indicators")
	resp := f.api.post("/taxii2/default/collections/"+partnerCol+"/objects/", map[string]any{
		"objects": []map[string]any{indicator(f.indicatorID)},
	}, f.readerHeader)
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("cross-org id reuse: status %d, want 207", resp.StatusCode)
	}
	status := decode[map[string]any](t, resp)
	if int(status["failure_count"].(float64)) != 1 {
		t.Fatalf("failure_count: %v", status["failure_count"])
	}
}

func TestObjectPagination(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)
	f.api.ingest(f.ownerHeader, f.collectionID, indicator(newIndicatorID()), indicator(newIndicatorID()))

	params := url.Values{"limit": {"2"}}
	resp := f.api.get("/taxii2/default/collections/"+f.collectionID+"/objects/", params, f.ownerHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("page 1: status %d", resp.StatusCode)
	}
	page1 := decode[map[string]any](t, resp)
	if got := len(page1["objects"].([]any)); got != 2 {
		t.Fatalf("page 1 size: %d", got)
	}
	if page1["more"] != true {
		t.Fatalf("page 1 must report more")
	}
	next, _ := page1["next"].(string)
	if next == "" {
		t.Fatalf("page 1 must carry a next cursor")
	}

	params = url.Values{"limit": {"2"}, "offset": {next}}
	resp = f.api.get("/taxii2/default/collections/"+f.collectionID+"/objects/", params, f.ownerHeader)
	page2 := decode[map[string]any](t, resp)
	if got := len(page2["objects"].([]any)); got != 1 {
		t.Fatalf("page 2 size: %d", got)
	}
	if page2["more"] != false {
		t.Fatalf("page 2 must be final")
	}
}

func TestObjectTypeFilter(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)
	f.api.ingest(f.ownerHeader, f.collectionID, map[string]any{
		"type":          "malware",
		"spec_version":  "2.1",
		"id":            "malware--6f3a1c0a-12de-4bfa-9d36-5b1c7a0e2f11",
		"created":       "2026-01-11T08:00:00Z",
		"modified":      "2026-01-11T08:00:00Z",
		"name":          "loader-x",
		"malware_types": []string{"downloader"},
		"is_family":     false,
	})

	params := url.Values{"type": {"malware"}}
	resp := f.api.get("/taxii2/default/collections/"+f.collectionID+"/objects/", params, f.ownerHeader)
	envelope := decode[map[string]any](t, resp)
	objects := envelope["objects"].([]any)
	if len(objects) != 1 {
		t.Fatalf("filtered count: %d", len(objects))
	}
	if objects[0].(map[string]any)["type"] != "malware" {
		t.Fatalf("filter leaked wrong type")
	}
}

func TestManifestFiltersUntrustedSources(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)

	// Owner manifest lists the entry with membership metadata.
	resp := f.api.get("/taxii2/default/collections/"+f.collectionID+"/manifest/", nil, f.ownerHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner manifest: status %d", resp.StatusCode)
	}
	manifest := decode[map[string]any](t, resp)
	entries := manifest["objects"].([]any)
	if len(entries) != 1 {
		t.Fatalf("owner manifest entries: %d", len(entries))
	}
	entry := entries[0].(map[string]any)
	if entry["id"] != f.indicatorID {
		t.Fatalf("manifest id: %v", entry["id"])
	}
	if entry["media_type"] != "application/stix+json;version=2.1" {
		t.Fatalf("manifest media type: %v", entry["media_type"])
	}

	// The trusted partner sees the entry too; manifests are metadata only.
	resp = f.api.get("/taxii2/default/collections/"+f.collectionID+"/manifest/", nil, f.readerHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("partner manifest: status %d", resp.StatusCode)
	}
	manifest = decode[map[string]any](t, resp)
	if got := len(manifest["objects"].([]any)); got != 1 {
		t.Fatalf("partner manifest entries: %d", got)
	}
}

func TestManifestPagination(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)
	f.api.ingest(f.ownerHeader, f.collectionID, indicator(newIndicatorID()), indicator(newIndicatorID()))

	for _, header := range []map[string]string{f.ownerHeader, f.readerHeader} {
		params := url.Values{"limit": {"2"}}
		resp := f.api.get("/taxii2/default/collections/"+f.collectionID+"/manifest/", params, header)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("manifest page 1: status %d", resp.StatusCode)
		}
		page1 := decode[map[string]any](t, resp)
		if got := len(page1["objects"].([]any)); got != 2 {
			t.Fatalf("manifest page 1 size: %d", got)
		}
		if page1["more"] != true {
			t.Fatalf("manifest page 1 must report more")
		}
		next, _ := page1["next"].(string)
		if next == "" {
			t.Fatalf("truncated manifest must carry a next cursor")
		}

		params = url.Values{"limit": {"2"}, "offset": {next}}
		resp = f.api.get("/taxii2/default/collections/"+f.collectionID+"/manifest/", params, header)
		page2 := decode[map[string]any](t, resp)
		if got := len(page2["objects"].([]any)); got != 1 {
			t.Fatalf("manifest page 2 size: %d", got)
		}
		if page2["more"] != false {
			t.Fatalf("manifest page 2 must be final")
		}
		if _, ok := page2["next"]; ok {
			t.Fatalf("final manifest page must not carry a cursor")
		}
	}
}

func TestSingleObjectRoundTrip(t *testing.T) {
	f := newSharedFixture(t, 60, "partial", trust.AccessRead)

	resp := f.api.get("/taxii2/default/collections/"+f.collectionID+"/objects/"+f.indicatorID+"/", nil, f.readerHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("single object: status %d", resp.StatusCode)
	}
	envelope := decode[map[string]any](t, resp)
	objects := envelope["objects"].([]any)
	if len(objects) != 1 {
		t.Fatalf("single object envelope size: %d", len(objects))
	}
	obj := objects[0].(map[string]any)
	if obj["pattern"] != "[ipv4-addr:value = '203.0.113.0/24']" {
		t.Fatalf("single object must be anonymized, got %v", obj["pattern"])
	}
}

func TestExpiredRelationshipCutsAccess(t *testing.T) {
	api := newTestAPI(t)
	_, ownerHeader := api.registerOrg("Alpha CERT")
	readerID, readerHeader := api.registerOrg("Beta SOC")
	level := api.seedLevel("standard", 60, "partial", trust.AccessRead)

	resp := api.post("/v1/trust/relationships", map[string]any{
		"target_org":     readerID,
		"trust_level_id": level.ID,
		"valid_until":    "2001-01-01T00:00:00Z",
	}, ownerHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create relationship: status %d", resp.StatusCode)
	}
	rel := decode[map[string]any](t, resp)
	resp = api.post("/v1/trust/relationships/"+rel["id"].(string)+"/approve", nil, readerHeader)
	resp.Body.Close()

	collectionID := api.createCollection(ownerHeader, "alpha-indicators")
	api.ingest(ownerHeader, collectionID, indicator(newIndicatorID()))

	// valid_until is in the past relative to the server clock, so the
	// relationship never grants anything.
	resp = api.get("/taxii2/default/collections/"+collectionID+"/", nil, readerHeader)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expired trust collection access: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}
