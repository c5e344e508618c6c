package taxii

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crispintel.org/internal/intel"
	"crispintel.org/internal/stix"
	"crispintel.org/internal/trust"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeTAXII serializes a protocol envelope with the TAXII media type.
func writeTAXII(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", MediaTypeTaxii)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// taxiiError is the protocol error envelope. Descriptions never reveal
// whether an invisible resource exists.
type taxiiError struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	ErrorID     string   `json:"error_id,omitempty"`
	HTTPStatus  string   `json:"http_status"`
	Details     []string `json:"details,omitempty"`
}

func writeTAXIIError(w http.ResponseWriter, r *http.Request, code int, title string, details ...string) {
	writeTAXII(w, code, taxiiError{
		Title:      title,
		ErrorID:    RequestIDFromContext(r.Context()),
		HTTPStatus: strconv.Itoa(code),
		Details:    details,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// parseFilter builds an object filter from TAXII query parameters.
func parseFilter(r *http.Request) (intel.Filter, error) {
	q := r.URL.Query()
	f := intel.Filter{Limit: defaultPageLimit}

	if raw := strings.TrimSpace(q.Get("added_after")); raw != "" {
		ts, err := stix.ParseTimestamp(raw)
		if err != nil {
			return f, errors.New("added_after must be an ISO-8601 timestamp")
		}
		f.AddedAfter = &ts
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxPageLimit {
			return f, errors.New("limit must be an integer between 1 and 1000")
		}
		f.Limit = v
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = v
	}
	f.Types = splitParam(q.Get("type"))
	f.IDs = splitParam(q.Get("id"))
	f.SpecVersions = splitParam(q.Get("spec_version"))
	return f, nil
}

func splitParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// nextCursor encodes the follow-up offset for a truncated page.
func nextCursor(f intel.Filter, served int) string {
	return strconv.Itoa(f.Offset + served)
}

// formatTime renders protocol timestamps.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// handleTrustError maps trust-layer sentinels onto HTTP codes for the
// administration endpoints.
func handleTrustError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, trust.ErrInvalidInput), errors.Is(err, trust.ErrSelfRelationship):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, trust.ErrRelationshipExists),
		errors.Is(err, trust.ErrAlreadyMember),
		errors.Is(err, trust.ErrFormerMember),
		errors.Is(err, trust.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, trust.ErrNotAdministrator),
		errors.Is(err, trust.ErrNotParticipant),
		errors.Is(err, trust.ErrNotMember):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, trust.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
