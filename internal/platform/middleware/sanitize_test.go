package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func runSanitize(t *testing.T, target string, mutate func(*http.Request)) int {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := Sanitize()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c); err != nil {
		t.Fatal(err)
	}
	return rec.Code
}

func TestSanitize_PathTraversal(t *testing.T) {
	for _, target := range []string{
		"/api/files/../../etc/passwd",
		"/api/files/%2e%2e/secret",
		"/api/files/%252e%252e/secret",
	} {
		if code := runSanitize(t, target, nil); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, code)
		}
	}
}

func TestSanitize_NullBytes(t *testing.T) {
	if code := runSanitize(t, "/api/records?id=1%00", nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestSanitize_HeaderLimits(t *testing.T) {
	code := runSanitize(t, "/api/records", func(req *http.Request) {
		req.Header.Set("X-Custom", strings.Repeat("a", maxHeaderValueSize+1))
	})
	if code != http.StatusBadRequest {
		t.Errorf("oversized header: status = %d, want 400", code)
	}
}

func TestSanitize_CleanRequestPasses(t *testing.T) {
	code := runSanitize(t, "/api/medical-records?patient=7&page=2", func(req *http.Request) {
		req.Header.Set("X-Tenant-ID", "mercy")
	})
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}
