package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"questboard/internal/config"

	"github.com/gin-gonic/gin"
)

const testSecret = "test-secret"

func signToken(t *testing.T, payload map[string]interface{}, secret string) string {
	t.Helper()
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	payloadJSON, _ := json.Marshal(payload)
	enc := base64.RawURLEncoding.EncodeToString

	signing := enc(headerJSON) + "." + enc(payloadJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	return signing + "." + enc(mac.Sum(nil))
}

func newAuthRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{JWT: config.JWTConfig{Secret: secret}}

	r := gin.New()
	r.Use(AuthMiddleware(cfg))
	r.GET("/protected", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	r := newAuthRouter(testSecret)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_InvalidSignature(t *testing.T) {
	r := newAuthRouter(testSecret)

	token := signToken(t, map[string]interface{}{"username": "alice"}, "wrong-secret")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", w.Code)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	r := newAuthRouter(testSecret)

	token := signToken(t, map[string]interface{}{
		"username": "alice",
		"exp":      time.Now().Add(-time.Hour).Unix(),
	}, testSecret)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", w.Code)
	}
}

func TestAuthMiddleware_ValidToken_SetsUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{JWT: config.JWTConfig{Secret: testSecret}}

	var gotUsername string
	var gotRoles []string
	r := gin.New()
	r.Use(AuthMiddleware(cfg))
	r.GET("/protected", func(c *gin.Context) {
		gotUsername = c.GetString("username")
		if v, ok := c.Get("roles"); ok {
			gotRoles, _ = v.([]string)
		}
		c.Status(http.StatusOK)
	})

	token := signToken(t, map[string]interface{}{
		"username": "pm-alice",
		"roles":    []string{"pm", "admin"},
		"exp":      time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if gotUsername != "pm-alice" {
		t.Errorf("expected username pm-alice, got %q", gotUsername)
	}
	if len(gotRoles) != 2 || gotRoles[0] != "pm" {
		t.Errorf("expected roles [pm admin], got %v", gotRoles)
	}
}

func TestAuthMiddleware_SubFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{JWT: config.JWTConfig{Secret: testSecret}}

	var gotUsername string
	r := gin.New()
	r.Use(AuthMiddleware(cfg))
	r.GET("/protected", func(c *gin.Context) {
		gotUsername = c.GetString("username")
		c.Status(http.StatusOK)
	})

	// 没有 username/name 声明时回落到 sub
	token := signToken(t, map[string]interface{}{"sub": "bob"}, testSecret)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotUsername != "bob" {
		t.Errorf("expected username bob (from sub), got %q", gotUsername)
	}
}

func TestNormalizeStringList(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  int
	}{
		{"nil", nil, 0},
		{"string slice", []string{"a", " b ", ""}, 2},
		{"interface slice", []interface{}{"a", 1, "b"}, 2},
		{"comma string", "a, b, ,c", 3},
		{"empty string", "  ", 0},
		{"unsupported type", 42, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeStringList(tt.input)
			if len(got) != tt.want {
				t.Errorf("expected %d entries, got %v", tt.want, got)
			}
		})
	}
}
