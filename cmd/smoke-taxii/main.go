// smoke-taxii exercises a running exchange end to end: two organizations,
// a bilateral trust relationship at the Standard level, one indicator
// shared and read back anonymized.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"crispintel.org/internal/ids"
)

func main() {
	base := os.Getenv("CRISP_API_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}
	s := smoke{base: base, client: client}

	suffix := ids.New()[:8]
	orgA := s.call(http.MethodPost, "/v1/organizations", map[string]any{"name": "smoke-alpha-" + suffix}, "", http.StatusCreated)
	orgB := s.call(http.MethodPost, "/v1/organizations", map[string]any{"name": "smoke-beta-" + suffix}, "", http.StatusCreated)

	tokenA := s.token(orgA["id"].(string))
	tokenB := s.token(orgB["id"].(string))

	levelID := s.findLevel(tokenA, "Standard")

	rel := s.call(http.MethodPost, "/v1/trust/relationships", map[string]any{
		"target_org":     orgB["id"],
		"trust_level_id": levelID,
	}, tokenA, http.StatusCreated)
	s.call(http.MethodPost, "/v1/trust/relationships/"+rel["id"].(string)+"/approve", nil, tokenB, http.StatusOK)

	col := s.call(http.MethodPost, "/v1/collections", map[string]any{"title": "smoke-" + suffix}, tokenA, http.StatusCreated)
	colID := col["id"].(string)

	stixID := ids.NewSTIX("indicator")
	status := s.call(http.MethodPost, "/taxii2/default/collections/"+colID+"/objects/", map[string]any{
		"objects": []map[string]any{{
			"type":            "indicator",
			"spec_version":    "2.1",
			"id":              stixID,
			"created":         "2026-01-10T08:00:00Z",
			"modified":        "2026-01-10T08:00:00Z",
			"pattern":         "[ipv4-addr:value = '203.0.113.42']",
			"pattern_type":    "stix",
			"valid_from":      "2026-01-10T08:00:00Z",
			"x_crisp_analyst": "smoke",
		}},
	}, tokenA, http.StatusOK)
	if int(status["success_count"].(float64)) != 1 {
		log.Fatalf("ingest failed: %v", status["failures"])
	}

	envelope := s.call(http.MethodGet, "/taxii2/default/collections/"+colID+"/objects/", nil, tokenB, http.StatusOK)
	objects := envelope["objects"].([]any)
	if len(objects) != 1 {
		log.Fatalf("partner read: expected 1 object, got %d", len(objects))
	}
	obj := objects[0].(map[string]any)
	if _, leaked := obj["x_crisp_analyst"]; leaked {
		log.Fatalf("anonymization failed: analyst attribution leaked")
	}
	pattern, _ := obj["pattern"].(string)
	if strings.Contains(pattern, "203.0.113.42") {
		log.Fatalf("anonymization failed: exact IP leaked in %q", pattern)
	}

	fmt.Printf("✅ exchange smoke test passed: collection=%s object=%s\n", colID, stixID)
}

type smoke struct {
	base   string
	client *http.Client
}

func (s smoke) call(method, path string, body any, token string, wantStatus int) map[string]any {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s %s: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, s.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d, want %d", method, path, resp.StatusCode, wantStatus)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode %s %s: %v", method, path, err)
	}
	return out
}

func (s smoke) token(orgID string) string {
	resp := s.call(http.MethodPost, "/v1/auth/token", map[string]any{"organization_id": orgID}, "", http.StatusOK)
	return resp["token"].(string)
}

func (s smoke) findLevel(token, name string) string {
	resp := s.call(http.MethodGet, "/v1/trust/levels", nil, token, http.StatusOK)
	for _, item := range resp["trust_levels"].([]any) {
		level := item.(map[string]any)
		if level["name"] == name {
			return level["id"].(string)
		}
	}
	log.Fatalf("trust level %q not seeded; run migrate seed first", name)
	return ""
}
