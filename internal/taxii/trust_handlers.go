package taxii

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"crispintel.org/internal/anonymize"
	"crispintel.org/internal/audit"
	"crispintel.org/internal/auth"
	"crispintel.org/internal/ids"
	"crispintel.org/internal/stix"
	"crispintel.org/internal/trust"
)

const tokenTTL = 24 * time.Hour

// handleToken mints a bearer token for a registered organization. This
// stands in for an external identity provider; the token is what every
// other endpoint authenticates.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		OrganizationID string `json:"organization_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	if req.OrganizationID == "" {
		writeError(w, r, http.StatusBadRequest, "organization_id is required")
		return
	}

	org, err := a.orgs.Find(r.Context(), req.OrganizationID)
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "organization not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := auth.GenerateToken(org.ID, org.Name, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(tokenTTL.Seconds()),
	})
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createOrganization(w, r)
	case http.MethodGet:
		a.listOrganizations(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	org := &auth.Organization{
		ID:        ids.New(),
		Name:      req.Name,
		CreatedAt: a.now(),
	}
	if err := a.orgs.Create(r.Context(), org); err != nil {
		if errors.Is(err, auth.ErrConflict) {
			writeError(w, r, http.StatusConflict, "organization already exists")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "organization_registered", map[string]any{
		"new_org_id": org.ID,
		"name":       org.Name,
	})
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) listOrganizations(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	orgs, err := a.orgs.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if orgs == nil {
		orgs = []*auth.Organization{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (a *API) handleOrganizationResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/organizations/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "organization not found")
		return
	}
	org, err := a.orgs.Find(r.Context(), id)
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "organization not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// --- trust levels ---

func (a *API) handleTrustLevels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTrustLevels(w, r)
	case http.MethodPost:
		a.createTrustLevel(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listTrustLevels(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	levels, err := a.trustStore.ListLevels(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if levels == nil {
		levels = []*trust.Level{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trust_levels": levels})
}

func (a *API) createTrustLevel(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	var req struct {
		Name                 string `json:"name"`
		NumericalValue       int    `json:"numerical_value"`
		DefaultAnonymization string `json:"default_anonymization_level"`
		DefaultAccess        string `json:"default_access_level"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	if req.NumericalValue < 0 || req.NumericalValue > 100 {
		writeError(w, r, http.StatusBadRequest, "numerical_value must be between 0 and 100")
		return
	}
	anonLevel, err := anonymize.ParseLevel(req.DefaultAnonymization)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	access, err := trust.ParseAccessLevel(req.DefaultAccess)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	level := &trust.Level{
		ID:                   ids.New(),
		Name:                 req.Name,
		NumericalValue:       req.NumericalValue,
		DefaultAnonymization: string(anonLevel),
		DefaultAccess:        access,
		CreatedAt:            a.now(),
	}
	if err := a.trustStore.CreateLevel(r.Context(), level); err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, level)
}

// --- relationships ---

func (a *API) handleRelationships(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRelationships(w, r)
	case http.MethodPost:
		a.createRelationship(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listRelationships(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	rels, err := a.trustStore.ListRelationshipsForOrg(r.Context(), principal.OrgID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if rels == nil {
		rels = []*trust.Relationship{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
}

func (a *API) createRelationship(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		TargetOrg        string `json:"target_org"`
		TrustLevelID     string `json:"trust_level_id"`
		RelationshipType string `json:"relationship_type"`
		ValidUntil       string `json:"valid_until"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	relType := trust.RelationshipBilateral
	if req.RelationshipType != "" {
		relType = trust.RelationshipType(req.RelationshipType)
	}
	var validUntil *time.Time
	if req.ValidUntil != "" {
		ts, err := stix.ParseTimestamp(req.ValidUntil)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "valid_until must be an ISO-8601 timestamp")
			return
		}
		validUntil = &ts
	}
	// The counterpart must exist before a relationship can name it.
	if _, err := a.orgs.Find(r.Context(), req.TargetOrg); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "target organization not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	rel, err := a.trustSvc.CreateRelationship(r.Context(), principal.OrgID, req.TargetOrg, req.TrustLevelID, relType, validUntil)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "trust_relationship_created", map[string]any{
		"relationship_id": rel.ID,
		"target_org":      rel.TargetOrg,
		"trust_level_id":  rel.TrustLevelID,
	})
	writeJSON(w, http.StatusCreated, rel)
}

// handleRelationshipResource covers /v1/trust/relationships/{id} and the
// approve/revoke actions beneath it.
func (a *API) handleRelationshipResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	segments := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/trust/relationships/"))

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		a.getRelationship(w, r, principal, segments[0])
	case len(segments) == 2 && segments[1] == "approve" && r.Method == http.MethodPost:
		rel, err := a.trustSvc.ApproveRelationship(r.Context(), segments[0], principal.OrgID)
		if err != nil {
			handleTrustError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "trust_relationship_approved", map[string]any{
			"relationship_id": rel.ID,
			"status":          string(rel.Status),
		})
		writeJSON(w, http.StatusOK, rel)
	case len(segments) == 2 && segments[1] == "revoke" && r.Method == http.MethodPost:
		rel, err := a.trustSvc.RevokeRelationship(r.Context(), segments[0], principal.OrgID)
		if err != nil {
			handleTrustError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "trust_relationship_revoked", map[string]any{
			"relationship_id": rel.ID,
		})
		writeJSON(w, http.StatusOK, rel)
	case len(segments) == 1:
		methodNotAllowed(w, r, http.MethodGet)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getRelationship(w http.ResponseWriter, r *http.Request, principal auth.Principal, id string) {
	rel, err := a.trustStore.GetRelationship(r.Context(), id)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	// Relationships are only visible to their two sides.
	if !rel.Involves(principal.OrgID) {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// --- groups ---

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		Name                string `json:"name"`
		GroupType           string `json:"group_type"`
		IsPublic            bool   `json:"is_public"`
		RequiresApproval    bool   `json:"requires_approval"`
		DefaultTrustLevelID string `json:"default_trust_level_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	groupType := trust.GroupCommunity
	if req.GroupType != "" {
		groupType = trust.GroupType(req.GroupType)
	}

	group, err := a.trustSvc.CreateGroup(r.Context(), principal.OrgID, strings.TrimSpace(req.Name), groupType, req.IsPublic, req.RequiresApproval, req.DefaultTrustLevelID)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "trust_group_created", map[string]any{
		"group_id": group.ID,
		"name":     group.Name,
	})
	writeJSON(w, http.StatusCreated, group)
}

// handleGroupResource covers /v1/trust/groups/{id} plus the join, leave,
// members, approve and promote actions beneath it.
func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	segments := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/trust/groups/"))
	if len(segments) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	groupID := segments[0]

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		group, err := a.trustStore.GetGroup(r.Context(), groupID)
		if err != nil {
			handleTrustError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	case len(segments) == 2 && segments[1] == "join" && r.Method == http.MethodPost:
		membership, err := a.trustSvc.JoinGroup(r.Context(), groupID, principal.OrgID, "")
		if err != nil {
			handleTrustError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "trust_group_joined", map[string]any{
			"group_id":        groupID,
			"membership_type": string(membership.MembershipType),
		})
		writeJSON(w, http.StatusCreated, membership)
	case len(segments) == 2 && segments[1] == "leave" && r.Method == http.MethodPost:
		if err := a.trustSvc.LeaveGroup(r.Context(), groupID, principal.OrgID); err != nil {
			handleTrustError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "trust_group_left", map[string]any{
			"group_id": groupID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"left": true})
	case len(segments) == 2 && segments[1] == "members" && r.Method == http.MethodGet:
		members, err := a.trustStore.ListMemberships(r.Context(), groupID)
		if err != nil {
			handleTrustError(w, r, err)
			return
		}
		if members == nil {
			members = []*trust.Membership{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": members})
	case len(segments) == 4 && segments[1] == "members" && segments[3] == "approve" && r.Method == http.MethodPost:
		membership, err := a.trustSvc.ApproveMember(r.Context(), groupID, segments[2], principal.OrgID)
		if err != nil {
			handleTrustError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, membership)
	case len(segments) == 4 && segments[1] == "members" && segments[3] == "promote" && r.Method == http.MethodPost:
		membership, err := a.trustSvc.PromoteMember(r.Context(), groupID, segments[2], principal.OrgID)
		if err != nil {
			handleTrustError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, membership)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
