package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"classdesk.org/internal/audit"
	"classdesk.org/internal/auth"
	"classdesk.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "bearer"
)

// Reasons surfaced to clients on a rejected request.
const (
	reasonMissingHeader = "Missing authorization header"
	reasonInvalidScheme = "Invalid authentication scheme"
	reasonExpired       = "Token has expired"
	reasonInvalidToken  = "Invalid token"
)

func newPublicPaths() map[string]struct{} {
	paths := []string{
		"/healthz",
		"/health",
		"/readyz",
		"/metrics",
		"/v1/auth/login",
		"/docs",
		"/openapi.yaml",
	}
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func (a *API) isPublicPath(path string) bool {
	_, ok := a.public[path]
	return ok
}

// gateFailure describes why a bearer credential was rejected.
type gateFailure struct {
	reason  string
	outcome string
}

// authenticateBearer validates an Authorization header value.
func authenticateBearer(tokens *auth.TokenService, header string) (*auth.Claims, string, *gateFailure) {
	token, fail := extractBearerToken(header)
	if fail != nil {
		return nil, "", fail
	}
	claims, err := tokens.Verify(token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			return nil, "", &gateFailure{reason: reasonExpired, outcome: "expired"}
		case errors.Is(err, auth.ErrTokenRevoked):
			return nil, "", &gateFailure{reason: reasonInvalidToken, outcome: "revoked"}
		default:
			return nil, "", &gateFailure{reason: reasonInvalidToken, outcome: "invalid"}
		}
	}
	return claims, token, nil
}

func extractBearerToken(header string) (string, *gateFailure) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", &gateFailure{reason: reasonMissingHeader, outcome: "missing"}
	}
	scheme, rest, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, bearer) {
		return "", &gateFailure{reason: reasonInvalidScheme, outcome: "invalid_scheme"}
	}
	token := strings.TrimSpace(rest)
	if token == "" {
		return "", &gateFailure{reason: reasonInvalidToken, outcome: "invalid"}
	}
	return token, nil
}

// withAuth rejects every non-public request without a valid bearer token. The
// wrapped handler never runs on failure.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || a.isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		claims, token, fail := authenticateBearer(a.tokens, r.Header.Get(authHeader))
		if fail != nil {
			obs.ObserveTokenVerification(fail.outcome)
			_ = a.audit.LogEvent(r.Context(), audit.EventAccessDenied, map[string]any{
				"path":   r.URL.Path,
				"reason": fail.outcome,
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="classdesk"`)
			writeError(w, r, http.StatusUnauthorized, fail.reason)
			return
		}
		obs.ObserveTokenVerification("ok")

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func expiresInSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
