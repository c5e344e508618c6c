package stix

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idPattern matches "<type>--<uuid>"; the uuid part is verified separately.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*--[0-9a-fA-F-]{36}$`)

// Validate checks a STIX object against the structural rules of the given
// spec version ("2.0" or "2.1"). It is pure: no I/O, no mutation of the input.
// It reports every problem it finds rather than stopping at the first.
func Validate(object map[string]any, specVersion string) (bool, []string) {
	var errs []string

	if specVersion != SpecVersion20 && specVersion != SpecVersion21 {
		return false, []string{fmt.Sprintf("unsupported spec version %q", specVersion)}
	}
	if object == nil {
		return false, []string{"object is empty"}
	}

	objType, _ := object["type"].(string)
	if objType == "" {
		errs = append(errs, "missing required field: type")
	} else if !KnownType(objType, specVersion) {
		errs = append(errs, fmt.Sprintf("unknown STIX %s type %q", specVersion, objType))
	}

	errs = append(errs, checkID(object, objType)...)

	// Bundles carry no spec_version of their own in 2.1; everything else must.
	if specVersion == SpecVersion21 && objType != TypeBundle {
		sv, _ := object["spec_version"].(string)
		if sv == "" {
			errs = append(errs, "missing required field: spec_version")
		} else if sv != SpecVersion21 {
			errs = append(errs, fmt.Sprintf("spec_version must be %q, got %q", SpecVersion21, sv))
		}
	}

	errs = append(errs, checkRequiredFields(object, objType, specVersion)...)
	errs = append(errs, checkTimestamps(object)...)
	errs = append(errs, checkConfidence(object)...)
	errs = append(errs, checkExternalReferences(object)...)
	errs = append(errs, checkCrossField(object, objType, specVersion)...)

	if objType == TypeBundle {
		errs = append(errs, validateBundleContents(object, specVersion)...)
	}

	return len(errs) == 0, errs
}

func checkID(object map[string]any, objType string) []string {
	id, _ := object["id"].(string)
	if id == "" {
		return []string{"missing required field: id"}
	}
	if !idPattern.MatchString(id) {
		return []string{fmt.Sprintf("id %q does not match <type>--<uuid>", id)}
	}
	prefix, rest, _ := strings.Cut(id, "--")
	if objType != "" && prefix != objType {
		return []string{fmt.Sprintf("id prefix %q does not match type %q", prefix, objType)}
	}
	if _, err := uuid.Parse(rest); err != nil {
		return []string{fmt.Sprintf("id %q does not end in a valid uuid", id)}
	}
	return nil
}

func checkRequiredFields(object map[string]any, objType, specVersion string) []string {
	var required []string
	if specVersion == SpecVersion20 {
		required = requiredFields20[objType]
	} else {
		required = requiredFields21[objType]
	}

	var errs []string
	for _, field := range required {
		if isMissing(object[field]) {
			errs = append(errs, fmt.Sprintf("%s: missing required field: %s", objType, field))
		}
	}

	// location carries a one-of constraint instead of a flat checklist.
	if objType == "location" && specVersion == SpecVersion21 {
		_, hasRegion := object["region"].(string)
		_, hasCountry := object["country"].(string)
		_, hasLat := object["latitude"]
		_, hasLon := object["longitude"]
		if !hasRegion && !hasCountry && !(hasLat && hasLon) {
			errs = append(errs, "location: requires region, country, or latitude+longitude")
		}
	}
	return errs
}

// isMissing treats absent keys and empty strings/lists as missing; explicit
// false is a present value (malware.is_family may legitimately be false).
func isMissing(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

func checkTimestamps(object map[string]any) []string {
	var errs []string
	for _, field := range timestampFields {
		raw, ok := object[field]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s must be an RFC 3339 timestamp string", field))
			continue
		}
		if _, err := ParseTimestamp(s); err != nil {
			errs = append(errs, fmt.Sprintf("%s is not a valid RFC 3339 timestamp: %q", field, s))
		}
	}
	return errs
}

// ParseTimestamp parses a STIX timestamp (RFC 3339, optional fractional
// seconds, UTC or offset).
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func checkConfidence(object map[string]any) []string {
	raw, ok := object["confidence"]
	if !ok {
		return nil
	}
	f, ok := raw.(float64)
	if !ok || f != float64(int(f)) {
		return []string{"confidence must be an integer"}
	}
	if f < 0 || f > 100 {
		return []string{fmt.Sprintf("confidence must be within [0,100], got %d", int(f))}
	}
	return nil
}

func checkExternalReferences(object map[string]any) []string {
	raw, ok := object["external_references"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return []string{"external_references must be a list"}
	}
	var errs []string
	for i, item := range list {
		ref, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("external_references[%d] must be an object", i))
			continue
		}
		if name, _ := ref["source_name"].(string); strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Sprintf("external_references[%d] missing source_name", i))
		}
	}
	return errs
}

func checkCrossField(object map[string]any, objType, specVersion string) []string {
	var errs []string

	created, cerr := timestampField(object, "created")
	modified, merr := timestampField(object, "modified")
	if cerr == nil && merr == nil && created.After(modified) {
		errs = append(errs, "created must not be later than modified")
	}

	if specVersion == SpecVersion21 && objType == "indicator" {
		if !isMissing(object["pattern"]) && isMissing(object["pattern_type"]) {
			errs = append(errs, "indicator: pattern requires pattern_type")
		}
	}
	return errs
}

var errFieldAbsent = fmt.Errorf("field absent")

func timestampField(object map[string]any, field string) (time.Time, error) {
	s, ok := object[field].(string)
	if !ok || s == "" {
		return time.Time{}, errFieldAbsent
	}
	return ParseTimestamp(s)
}

func validateBundleContents(bundle map[string]any, specVersion string) []string {
	raw, ok := bundle["objects"]
	if !ok {
		if specVersion == SpecVersion20 {
			return []string{"bundle: missing required field: objects"}
		}
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return []string{"bundle: objects must be a list"}
	}

	var errs []string
	for i, item := range list {
		inner, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("objects[%d]: not a JSON object", i))
			continue
		}
		if ok, innerErrs := Validate(inner, specVersion); !ok {
			for _, e := range innerErrs {
				errs = append(errs, fmt.Sprintf("objects[%d]: %s", i, e))
			}
		}
	}
	return errs
}
