package taxii

import (
	"net/http"
	"strings"
)

// handleTaxii dispatches everything under /taxii2/. The mux gives us the
// prefix; the segment walk below gives us the resource.
func (a *API) handleTaxii(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/taxii2/" {
		a.handleDiscovery(w, r)
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, apiRootPath)
	if !ok {
		writeTAXIIError(w, r, http.StatusNotFound, "unknown API root")
		return
	}
	segments := splitPath(rest)

	switch {
	case len(segments) == 0:
		a.handleAPIRoot(w, r)
	case segments[0] != "collections":
		writeTAXIIError(w, r, http.StatusNotFound, "resource not found")
	case len(segments) == 1:
		a.handleListCollections(w, r)
	case len(segments) == 2:
		a.handleCollection(w, r, segments[1])
	case len(segments) == 3 && segments[2] == "objects":
		a.handleObjects(w, r, segments[1])
	case len(segments) == 3 && segments[2] == "manifest":
		a.handleManifest(w, r, segments[1])
	case len(segments) == 4 && segments[2] == "objects":
		a.handleObject(w, r, segments[1], segments[3])
	default:
		writeTAXIIError(w, r, http.StatusNotFound, "resource not found")
	}
}

func splitPath(rest string) []string {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func (a *API) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeTAXII(w, http.StatusOK, map[string]any{
		"title":       "CRISP Exchange",
		"description": "Trust-graded threat intelligence sharing",
		"contact":     "ops@crispintel.org",
		"default":     apiRootPath,
		"api_roots":   []string{apiRootPath},
	})
}

func (a *API) handleAPIRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeTAXII(w, http.StatusOK, map[string]any{
		"title":              "CRISP Exchange API root",
		"versions":           []string{MediaTypeTaxii},
		"max_content_length": maxBodyBytes,
	})
}
