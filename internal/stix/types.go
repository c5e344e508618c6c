package stix

// Spec versions accepted by the validator.
const (
	SpecVersion20 = "2.0"
	SpecVersion21 = "2.1"
)

// TypeBundle is the transport envelope type; it is exempt from the
// spec_version requirement in both versions.
const TypeBundle = "bundle"

var knownTypes20 = map[string]bool{
	"attack-pattern":     true,
	"bundle":             true,
	"campaign":           true,
	"course-of-action":   true,
	"identity":           true,
	"indicator":          true,
	"intrusion-set":      true,
	"malware":            true,
	"marking-definition": true,
	"observed-data":      true,
	"relationship":       true,
	"report":             true,
	"sighting":           true,
	"threat-actor":       true,
	"tool":               true,
	"vulnerability":      true,
}

var knownTypes21 = map[string]bool{
	"attack-pattern":     true,
	"bundle":             true,
	"campaign":           true,
	"course-of-action":   true,
	"grouping":           true,
	"identity":           true,
	"incident":           true,
	"indicator":          true,
	"infrastructure":     true,
	"intrusion-set":      true,
	"language-content":   true,
	"location":           true,
	"malware":            true,
	"malware-analysis":   true,
	"marking-definition": true,
	"note":               true,
	"observed-data":      true,
	"opinion":            true,
	"relationship":       true,
	"report":             true,
	"sighting":           true,
	"threat-actor":       true,
	"tool":               true,
	"vulnerability":      true,
}

// Required fields beyond the common set, keyed by object type.
var requiredFields20 = map[string][]string{
	"attack-pattern":   {"name"},
	"campaign":         {"name"},
	"course-of-action": {"name"},
	"identity":         {"name", "identity_class"},
	"indicator":        {"labels", "pattern", "valid_from"},
	"intrusion-set":    {"name"},
	"malware":          {"name", "labels"},
	"observed-data":    {"first_observed", "last_observed", "number_observed", "objects"},
	"relationship":     {"relationship_type", "source_ref", "target_ref"},
	"report":           {"name", "labels", "published", "object_refs"},
	"sighting":         {"sighting_of_ref"},
	"threat-actor":     {"name", "labels"},
	"tool":             {"name", "labels"},
	"vulnerability":    {"name"},
}

var requiredFields21 = map[string][]string{
	"attack-pattern":   {"name"},
	"campaign":         {"name"},
	"course-of-action": {"name"},
	"grouping":         {"context", "object_refs"},
	"identity":         {"name"},
	"incident":         {"name"},
	"indicator":        {"pattern", "pattern_type", "valid_from"},
	"infrastructure":   {"name"},
	"intrusion-set":    {"name"},
	"location":         nil, // one-of constraint handled in code
	"malware":          {"malware_types", "is_family"},
	"malware-analysis": {"product"},
	"note":             {"content", "object_refs"},
	"observed-data":    {"first_observed", "last_observed", "number_observed"},
	"opinion":          {"opinion", "object_refs"},
	"relationship":     {"relationship_type", "source_ref", "target_ref"},
	"report":           {"name", "published", "object_refs"},
	"sighting":         {"sighting_of_ref"},
	"threat-actor":     {"name"},
	"tool":             {"name"},
	"vulnerability":    {"name"},
}

// Timestamp fields checked for RFC 3339 format wherever they appear.
var timestampFields = []string{
	"created",
	"modified",
	"valid_from",
	"valid_until",
	"first_seen",
	"last_seen",
	"first_observed",
	"last_observed",
	"published",
}

// KnownType reports whether the type is defined for the given spec version.
func KnownType(stixType, specVersion string) bool {
	if specVersion == SpecVersion20 {
		return knownTypes20[stixType]
	}
	return knownTypes21[stixType]
}
