package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"fee-engine/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, id auth.Identity, path, route string, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		if id.UserID != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		}
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET(route, handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	code := serve(t, auth.Identity{UserID: "u", Role: RoleAdmin}, "/x", "/x", RequireAnyRole(RoleFinance))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	id := auth.Identity{UserID: "batch", Role: RoleReconciler}
	if code := serve(t, id, "/x", "/x", RequireAnyRole(RoleFinance)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, id, "/x", "/x", RequireAnyRole(RoleFinance, RoleReconciler)); code != http.StatusOK {
		t.Fatalf("expected 200 when explicitly allowed, got %d", code)
	}
}

func TestRequireAnyRole_IdentityRequired(t *testing.T) {
	if code := serve(t, auth.Identity{}, "/x", "/x", RequireAnyRole(RoleFinance)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireClientParam_ScopesClientIdentities(t *testing.T) {
	scoped := auth.Identity{UserID: "svc", ClientID: "acme", Role: RoleService}
	if code := serve(t, scoped, "/c/acme", "/c/:client_id", RequireClientParam("client_id")); code != http.StatusOK {
		t.Fatalf("own client: expected 200, got %d", code)
	}
	if code := serve(t, scoped, "/c/zeta", "/c/:client_id", RequireClientParam("client_id")); code != http.StatusForbidden {
		t.Fatalf("foreign client: expected 403, got %d", code)
	}

	staff := auth.Identity{UserID: "fin", Role: RoleFinance}
	if code := serve(t, staff, "/c/zeta", "/c/:client_id", RequireClientParam("client_id")); code != http.StatusOK {
		t.Fatalf("staff: expected 200, got %d", code)
	}
}
