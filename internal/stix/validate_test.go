package stix

import (
	"strings"
	"testing"
)

func validIndicator21() map[string]any {
	return map[string]any{
		"type":         "indicator",
		"spec_version": "2.1",
		"id":           "indicator--8e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f",
		"created":      "2026-01-05T08:00:00Z",
		"modified":     "2026-01-06T08:00:00Z",
		"pattern":      "[ipv4-addr:value = '203.0.113.44']",
		"pattern_type": "stix",
		"valid_from":   "2026-01-05T08:00:00Z",
	}
}

func TestValidateAcceptsWellFormedIndicator(t *testing.T) {
	ok, errs := Validate(validIndicator21(), SpecVersion21)
	if !ok {
		t.Fatalf("expected valid, got errors: %v", errs)
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	obj := validIndicator21()
	obj["type"] = "flux-capacitor"
	obj["id"] = "flux-capacitor--8e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f"
	ok, errs := Validate(obj, SpecVersion21)
	if ok {
		t.Fatal("expected invalid")
	}
	assertHasError(t, errs, "unknown STIX")
}

func TestValidateRejectsBadID(t *testing.T) {
	cases := map[string]string{
		"prefix mismatch": "malware--8e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f",
		"not a uuid":      "indicator--not-a-uuid-at-all-but-36-chars-x",
		"no separator":    "indicator",
	}
	for name, id := range cases {
		obj := validIndicator21()
		obj["id"] = id
		if ok, _ := Validate(obj, SpecVersion21); ok {
			t.Fatalf("%s: expected invalid for id %q", name, id)
		}
	}
}

func TestValidateSpecVersionField(t *testing.T) {
	obj := validIndicator21()
	delete(obj, "spec_version")
	ok, errs := Validate(obj, SpecVersion21)
	if ok {
		t.Fatal("expected invalid without spec_version")
	}
	assertHasError(t, errs, "spec_version")

	// 2.0 objects carry no spec_version requirement.
	obj20 := map[string]any{
		"type":       "indicator",
		"id":         "indicator--8e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f",
		"labels":     []any{"malicious-activity"},
		"pattern":    "[ipv4-addr:value = '203.0.113.44']",
		"valid_from": "2026-01-05T08:00:00Z",
	}
	if ok, errs := Validate(obj20, SpecVersion20); !ok {
		t.Fatalf("expected 2.0 indicator valid, got %v", errs)
	}
}

func TestValidateVersionedRequiredFields(t *testing.T) {
	// 2.1 malware requires malware_types and is_family.
	malware := map[string]any{
		"type":         "malware",
		"spec_version": "2.1",
		"id":           "malware--5e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f",
		"is_family":    false,
	}
	ok, errs := Validate(malware, SpecVersion21)
	if ok {
		t.Fatal("expected invalid without malware_types")
	}
	assertHasError(t, errs, "malware_types")

	malware["malware_types"] = []any{"trojan"}
	if ok, errs := Validate(malware, SpecVersion21); !ok {
		t.Fatalf("expected valid, got %v", errs)
	}

	// 2.0 malware requires labels instead.
	malware20 := map[string]any{
		"type": "malware",
		"id":   "malware--5e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f",
		"name": "nasty",
	}
	ok, errs = Validate(malware20, SpecVersion20)
	if ok {
		t.Fatal("expected invalid without labels")
	}
	assertHasError(t, errs, "labels")
}

func TestValidateTimestampsAndConfidence(t *testing.T) {
	obj := validIndicator21()
	obj["created"] = "yesterday"
	ok, errs := Validate(obj, SpecVersion21)
	if ok {
		t.Fatal("expected invalid timestamp to be rejected")
	}
	assertHasError(t, errs, "created")

	obj = validIndicator21()
	obj["confidence"] = float64(150)
	if ok, _ := Validate(obj, SpecVersion21); ok {
		t.Fatal("expected out-of-range confidence to be rejected")
	}
	obj["confidence"] = 42.5
	if ok, _ := Validate(obj, SpecVersion21); ok {
		t.Fatal("expected fractional confidence to be rejected")
	}
	obj["confidence"] = float64(85)
	if ok, errs := Validate(obj, SpecVersion21); !ok {
		t.Fatalf("expected valid, got %v", errs)
	}
}

func TestValidateCreatedNotAfterModified(t *testing.T) {
	obj := validIndicator21()
	obj["created"] = "2026-02-01T00:00:00Z"
	obj["modified"] = "2026-01-01T00:00:00Z"
	ok, errs := Validate(obj, SpecVersion21)
	if ok {
		t.Fatal("expected invalid")
	}
	assertHasError(t, errs, "created must not be later")
}

func TestValidateExternalReferences(t *testing.T) {
	obj := validIndicator21()
	obj["external_references"] = []any{
		map[string]any{"source_name": "vendor-x", "url": "https://example.com/report"},
		map[string]any{"url": "https://example.com/anonymous"},
	}
	ok, errs := Validate(obj, SpecVersion21)
	if ok {
		t.Fatal("expected invalid")
	}
	assertHasError(t, errs, "external_references[1]")
}

func TestValidateBundleRecursion(t *testing.T) {
	bundle := map[string]any{
		"type": "bundle",
		"id":   "bundle--6e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f",
		"objects": []any{
			validIndicator21(),
			map[string]any{
				"type":         "indicator",
				"spec_version": "2.1",
				"id":           "indicator--7e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f",
				// no pattern/pattern_type/valid_from
			},
		},
	}
	ok, errs := Validate(bundle, SpecVersion21)
	if ok {
		t.Fatal("expected invalid bundle")
	}
	assertHasError(t, errs, "objects[1]")

	// A bundle of valid objects passes, and the wrapper itself needs no
	// spec_version field.
	bundle["objects"] = []any{validIndicator21()}
	if ok, errs := Validate(bundle, SpecVersion21); !ok {
		t.Fatalf("expected valid bundle, got %v", errs)
	}
}

func assertHasError(t *testing.T, errs []string, fragment string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e, fragment) {
			return
		}
	}
	t.Fatalf("expected an error containing %q, got %v", fragment, errs)
}
