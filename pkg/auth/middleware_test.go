package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestValidateServiceToken(t *testing.T) {
	cases := []struct {
		name     string
		token    string
		expected string
		want     error
	}{
		{"match", "s3cret", "s3cret", nil},
		{"mismatch", "nope", "s3cret", ErrInvalidServiceToken},
		{"missing", "", "s3cret", ErrMissingServiceToken},
		{"not configured", "s3cret", "", ErrTokenNotConfigured},
		{"prefix is not a match", "s3c", "s3cret", ErrInvalidServiceToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateServiceToken(tc.token, tc.expected)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := BearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("expected abc, got %q %v", tok, ok)
	}
	if tok, ok := BearerToken("bearer   xyz "); !ok || tok != "xyz" {
		t.Fatalf("expected xyz, got %q %v", tok, ok)
	}
	if _, ok := BearerToken("Basic abc"); ok {
		t.Fatalf("expected Basic scheme to be rejected")
	}
	if _, ok := BearerToken("Bearer "); ok {
		t.Fatalf("expected empty bearer to be rejected")
	}
}

func TestServiceAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(expected string) *gin.Engine {
		r := gin.New()
		r.Use(ServiceAuthMiddleware(expected))
		r.GET("/admin", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
		return r
	}

	cases := []struct {
		name     string
		expected string
		header   string
		code     int
	}{
		{"valid", "tok", "Bearer tok", http.StatusOK},
		{"no header", "tok", "", http.StatusUnauthorized},
		{"wrong scheme", "tok", "Token tok", http.StatusUnauthorized},
		{"wrong token", "tok", "Bearer other", http.StatusUnauthorized},
		{"not configured", "", "Bearer tok", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			newRouter(tc.expected).ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, w.Code)
			}
		})
	}
}
