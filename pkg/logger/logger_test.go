package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFromFallsBack(t *testing.T) {
	fb := Discard()
	if got := From(context.Background(), fb); got != fb {
		t.Fatalf("expected fallback logger")
	}
	if got := From(context.Background(), nil); got == nil {
		t.Fatalf("expected default logger")
	}
	l := Discard()
	if got := From(With(context.Background(), l), fb); got != l {
		t.Fatalf("expected context logger")
	}
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(Discard()))

	var fromCtx bool
	r.GET("/x", func(c *gin.Context) {
		fromCtx = From(c.Request.Context(), nil) == FromGin(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) != "rid-1" {
		t.Fatalf("expected request id to be echoed, got %q", w.Header().Get(headerRequestID))
	}
	if !fromCtx {
		t.Fatalf("expected request logger in request context")
	}
}
