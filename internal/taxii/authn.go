package taxii

import (
	"net/http"
	"strings"

	"crispintel.org/internal/auth"
)

// publicPath reports whether a request may proceed without a bearer token.
// The discovery document is public per the protocol; bootstrap endpoints
// (org registration and token mint) are public because nothing exists to
// authenticate against before an organization is registered.
func publicPath(method, path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/v1/info", "/taxii2/":
		return true
	case "/v1/auth/token":
		return true
	case "/v1/organizations":
		return method == http.MethodPost
	}
	return false
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPath(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="crisp"`)
			writeTAXIIError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="crisp"`)
			writeTAXIIError(w, r, http.StatusUnauthorized, "authorization header must use the Bearer scheme")
			return
		}

		claims, err := auth.ParseAndValidate(strings.TrimSpace(raw))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="crisp", error="invalid_token"`)
			writeTAXIIError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		principal := auth.Principal{OrgID: claims.Subject, OrgName: claims.OrgName}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePrincipal fetches the authenticated organization or writes a 401.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeTAXIIError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return principal, true
}
