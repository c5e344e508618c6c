package anonymize

import (
	"regexp"
	"strings"
)

// Fields that directly identify the producing analyst or organization.
// minimal strips exactly these; partial and full strip supersets.
var identifyingFields = []string{
	"created_by_ref",
	"contact_information",
	"x_crisp_analyst",
	"x_crisp_contact_email",
	"x_analyst_notes",
}

// Additional attribution carriers removed by full.
var attributionFields = []string{
	"external_references",
	"object_marking_refs",
	"granular_markings",
}

const genericSourceMarker = "partner-organization"

var (
	ipv4Pattern = regexp.MustCompile(`\b(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})\b`)
	urlPattern  = regexp.MustCompile(`(https?://)([^/'"\s\]]+)[^'"\s\]]*`)
	emailLocal  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@`)
)

// noneStrategy is the identity transform for fully trusted peers.
type noneStrategy struct{}

func (noneStrategy) Name() Level { return LevelNone }

func (noneStrategy) Anonymize(object map[string]any) map[string]any {
	return copyObject(object)
}

// minimalStrategy strips analyst/contact metadata and nothing else:
// indicators and patterns survive verbatim.
type minimalStrategy struct {
	engine *Engine
}

func (minimalStrategy) Name() Level { return LevelMinimal }

func (s minimalStrategy) Anonymize(object map[string]any) map[string]any {
	out := copyObject(object)
	for _, field := range identifyingFields {
		delete(out, field)
	}
	return out
}

// partialStrategy generalizes specific observables (exact IP to /24, full URL
// to scheme+host, email to domain part) and swaps source labels for a generic
// marker. The object stays schema-valid.
type partialStrategy struct {
	engine *Engine
}

func (partialStrategy) Name() Level { return LevelPartial }

func (s partialStrategy) Anonymize(object map[string]any) map[string]any {
	out := minimalStrategy{engine: s.engine}.Anonymize(object)

	if pattern, ok := out["pattern"].(string); ok && pattern != "" {
		out["pattern"] = generalizePattern(pattern)
	}
	if desc, ok := out["description"].(string); ok && desc != "" {
		out["description"] = generalizePattern(desc)
	}
	if refs, ok := out["external_references"].([]any); ok {
		for _, item := range refs {
			if ref, ok := item.(map[string]any); ok {
				if _, has := ref["source_name"]; has {
					ref["source_name"] = genericSourceMarker
				}
				delete(ref, "url")
				delete(ref, "external_id")
			}
		}
	}
	return out
}

// fullStrategy removes every attribution carrier and collapses the pattern to
// its broadest non-empty category. Output carries materially less information
// but must still pass validation.
type fullStrategy struct {
	engine *Engine
}

func (fullStrategy) Name() Level { return LevelFull }

func (s fullStrategy) Anonymize(object map[string]any) map[string]any {
	out := partialStrategy{engine: s.engine}.Anonymize(object)
	for _, field := range attributionFields {
		delete(out, field)
	}
	for key := range out {
		if strings.HasPrefix(key, "x_") {
			delete(out, key)
		}
	}
	if pattern, ok := out["pattern"].(string); ok && pattern != "" {
		out["pattern"] = broadestPattern(pattern)
	}
	if _, ok := out["description"]; ok {
		out["description"] = "Shared threat indicator (details withheld by source policy)."
	}
	if name, ok := out["name"].(string); ok && out["type"] != "indicator" {
		// Names of actors/campaigns can attribute the reporter's visibility;
		// replace with a stable token so cross-references stay correlatable.
		out["name"] = s.engine.redact(name)
	}
	return out
}

// customStrategy applies an explicit caller-supplied field policy.
type customStrategy struct {
	engine *Engine
	policy Policy
}

func (customStrategy) Name() Level { return LevelCustom }

func (s customStrategy) Anonymize(object map[string]any) map[string]any {
	out := copyObject(object)
	for _, field := range s.policy.RemoveFields {
		delete(out, field)
	}
	for _, field := range s.policy.AnonymizeFields {
		if v, ok := out[field].(string); ok && v != "" {
			out[field] = s.engine.redact(v)
		}
	}
	return out
}

// generalizePattern widens specific observables in a STIX pattern or free
// text: exact IPv4 addresses to their /24, URLs to scheme and host, email
// local parts dropped.
func generalizePattern(s string) string {
	s = ipv4Pattern.ReplaceAllString(s, "$1.$2.$3.0/24")
	s = urlPattern.ReplaceAllString(s, "$1$2")
	s = emailLocal.ReplaceAllString(s, "")
	return s
}

// broadestPattern reduces a comparison pattern to its object-path category:
// "[ipv4-addr:value = '1.2.3.4']" becomes a not-equal-empty comparison on the
// same path, which states only the observable kind. Unparseable patterns are
// generalized instead of dropped so the field never goes empty.
func broadestPattern(pattern string) string {
	trimmed := strings.TrimSpace(pattern)
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
	path := inner
	for _, op := range []string{"!=", ">=", "<=", "=", ">", "<", " LIKE ", " MATCHES ", " IN "} {
		if idx := strings.Index(inner, op); idx >= 0 && idx < len(path) {
			path = inner[:idx]
		}
	}
	path = strings.TrimSpace(path)
	if path == "" || !strings.Contains(path, ":") {
		return generalizePattern(pattern)
	}
	return "[" + path + " != '']"
}
