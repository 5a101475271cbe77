package middleware

import (
	"net/http"
	"strconv"

	"github.com/memberhq/memberhq/pkg/auth"
	"github.com/memberhq/memberhq/pkg/contextkeys"
	"github.com/memberhq/memberhq/pkg/httputil"
	"github.com/memberhq/memberhq/pkg/tenants"
)

// TenantHeader selects which of the caller's tenants the request
// addresses. When absent, the caller's sole tenant is used.
const TenantHeader = "X-Tenant-ID"

// AuthMiddleware resolves bearer tokens into an AuthContext carrying
// the caller's user, tenant, and role
type AuthMiddleware struct {
	tokenManager *auth.TokenManager
	tenantSvc    tenants.Service
	optional     bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware. In
// optional mode unauthenticated requests pass through with no
// AuthContext and the handler decides how to reject them.
func NewAuthMiddleware(tokenManager *auth.TokenManager, tenantSvc tenants.Service, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokenManager: tokenManager,
		tenantSvc:    tenantSvc,
		optional:     optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := httputil.BearerToken(r)
		if token == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		user, apiToken, err := m.tokenManager.ValidateToken(r.Context(), token)
		if err != nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		authCtx := &auth.AuthContext{
			User:  user,
			Token: apiToken,
		}

		if tenantID, role, ok := m.resolveTenant(r, user.ID); ok {
			authCtx.TenantID = tenantID
			authCtx.Role = role
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		if authCtx.TenantID != "" {
			ctx = contextkeys.WithTenant(ctx, authCtx.TenantID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveTenant determines the tenant and role for the request. The
// tenant header wins when present; otherwise a caller belonging to
// exactly one tenant is scoped to it.
func (m *AuthMiddleware) resolveTenant(r *http.Request, userID int64) (string, auth.Role, bool) {
	if m.tenantSvc == nil {
		return "", "", false
	}

	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		list, err := m.tenantSvc.ListTenantsForUser(userID)
		if err != nil || len(list) != 1 {
			return "", "", false
		}
		tenantID = list[0].ID
	}

	membership, err := m.tenantSvc.GetMembership(tenantID, userID)
	if err != nil {
		return "", "", false
	}
	return tenantID, membership.Role, true
}

// GetAuthContext extracts auth context from a request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	ctx := r.Context().Value(contextkeys.AuthKey)
	if ctx == nil {
		return nil
	}
	authCtx, ok := ctx.(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// RequireRole creates middleware that checks for a minimum tenant role
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteForbidden(w, "authentication required")
				return
			}

			if !authCtx.HasRole(role) {
				httputil.WriteForbidden(w, "insufficient role permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
