package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mykrex/dimeloc-backend/internal/config"
	"github.com/mykrex/dimeloc-backend/internal/http/handlers"
	"github.com/mykrex/dimeloc-backend/internal/memstore"
	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/service"
)

func newRouter(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := memstore.New()
	repo.SetCatalog(models.FeatureCollection{Type: "FeatureCollection", Features: []models.Feature{}})
	hash, err := bcrypt.GenerateFromPassword([]byte("secreto"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	repo.AddUser(models.User{ID: "u1", Email: "ana@example.com", Role: "collaborator", PasswordHash: string(hash)})

	logger := zerolog.Nop()
	cat := &service.CatalogService{Repo: repo, Logger: logger}
	h := &handlers.Handler{
		Repo:    repo,
		Catalog: cat,
		Auth:    &service.AuthService{Repo: repo, Secret: []byte(secret), TTL: time.Hour},
		Logger:  logger,
	}
	cfg := config.Config{JWTSecret: secret, CORSAllowed: "*", RequestTimeout: 5 * time.Second}
	return Router(cfg, h, logger)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSecuredRoutesRequireToken(t *testing.T) {
	r := newRouter(t, "s3cret")

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/stores", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", w.Code)
	}

	login := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"email":"ana@example.com","password":"secreto"}`))
	login.Header.Set("Content-Type", "application/json")
	w = serve(r, login)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	body := w.Body.String()
	start := strings.Index(body, `"token":"`)
	if start < 0 {
		t.Fatalf("no token in %s", body)
	}
	token := body[start+len(`"token":"`):]
	token = token[:strings.Index(token, `"`)]

	req := httptest.NewRequest(http.MethodGet, "/api/stores", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestWrongPasswordIsUnauthorized(t *testing.T) {
	r := newRouter(t, "s3cret")
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"email":"ana@example.com","password":"otro"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := serve(r, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestOpenModeWithoutSecret(t *testing.T) {
	r := newRouter(t, "")
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/stores", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected open access without JWT_SECRET, got %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil)); w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
}
