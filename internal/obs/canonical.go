package obs

import "strings"

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded. Unrecognized paths are returned as-is (minus query).
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")

	// /taxii2/<root>/collections/<id>[/objects[/<object_id>]|/manifest]
	if len(parts) >= 4 && parts[0] == "taxii2" && parts[2] == "collections" {
		parts[3] = ":id"
		if len(parts) == 6 && parts[4] == "objects" {
			parts[5] = ":object_id"
		}
		return "/" + strings.Join(parts, "/")
	}

	// /v1/organizations/<id>
	if len(parts) == 3 && parts[0] == "v1" && parts[1] == "organizations" {
		parts[2] = ":id"
		return "/" + strings.Join(parts, "/")
	}

	// /v1/trust/relationships/<id>[/approve]
	if len(parts) >= 4 && parts[0] == "v1" && parts[1] == "trust" {
		parts[3] = ":id"
		return "/" + strings.Join(parts, "/")
	}

	return path
}
