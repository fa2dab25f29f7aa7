package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mykrex/dimeloc-backend/internal/ai"
	"github.com/mykrex/dimeloc-backend/internal/memstore"
	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/service"
)

type failingAdapter struct{ calls int }

func (f *failingAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return "", errors.New("provider down")
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			Fields []string `json:"fields"`
		} `json:"details"`
	} `json:"error"`
}

func catalog() models.FeatureCollection {
	return models.FeatureCollection{
		Type: "FeatureCollection",
		Features: []models.Feature{
			{
				Type:       "Feature",
				Properties: map[string]any{"col0": "5", "nombre": "OXXO Centro", "nps": "45", "direccion": "Av. Constitución 100"},
				Geometry:   models.Geometry{Type: "Point", Coordinates: []float64{-100.3161, 25.6866}},
			},
			{
				Type:       "Feature",
				Properties: map[string]any{"col0": "12", "nombre": "OXXO Norte", "nps": 20, "out_of_stock": "5.5"},
				Geometry:   models.Geometry{Type: "Point", Coordinates: []float64{-100.29, 25.70}},
			},
		},
	}
}

func newTestEngine(t *testing.T, repo *memstore.Memory, adapter ai.Adapter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()
	cat := &service.CatalogService{Repo: repo, Logger: logger}
	orch := &service.Orchestrator{Repo: repo, Catalog: cat, AI: adapter, Logger: logger}
	h := &Handler{
		Repo:     repo,
		Catalog:  cat,
		Visits:   &service.VisitService{Repo: repo, Catalog: cat, Location: time.UTC, Logger: logger},
		Feedback: &service.FeedbackService{Repo: repo, Analysis: orch, Logger: logger},
		Analysis: orch,
		Logger:   logger,
	}

	r := gin.New()
	r.GET("/api/health", h.Health)
	r.GET("/api/stores", h.StoresList)
	r.GET("/api/stores/problematic", h.StoresProblematic)
	r.GET("/api/stores/nps/:min", h.StoresByNPS)
	r.GET("/api/stores/:id", h.StoreDetails)
	r.POST("/api/visits", h.VisitSchedule)
	r.PUT("/api/visits/:id/confirm", h.VisitConfirm)
	r.POST("/api/visits/:id/start", h.VisitStart)
	r.POST("/api/visits/:id/finish", h.VisitFinish)
	r.GET("/api/agenda/:userId", h.Agenda)
	r.POST("/api/feedback/tendero", h.TenderoFeedback)
	r.POST("/api/analysis/postvisit", h.Postvisit)
	r.GET("/api/analysis/trends", h.Trends)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func TestScheduleVisitStatusCodes(t *testing.T) {
	repo := memstore.New()
	repo.SetCatalog(catalog())
	r := newTestEngine(t, repo, ai.MockAdapter{})

	body := map[string]any{"storeId": 5, "collaboratorId": "c1", "scheduledAt": "2025-06-10T10:00:00Z"}
	code, env := do(t, r, http.MethodPost, "/api/visits", body)
	if code != http.StatusCreated || !env.Success {
		t.Fatalf("expected 201 success, got %d %+v", code, env)
	}

	body["scheduledAt"] = "2025-06-10T16:00:00Z"
	code, env = do(t, r, http.MethodPost, "/api/visits", body)
	if code != http.StatusConflict || env.Success {
		t.Fatalf("expected 409, got %d", code)
	}
	if env.Error.Code != string(service.KindConflict) {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}

	code, _ = do(t, r, http.MethodPost, "/api/visits", map[string]any{"storeId": 999, "collaboratorId": "c1", "scheduledAt": "2025-06-10T10:00:00Z"})
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown store, got %d", code)
	}

	code, env = do(t, r, http.MethodPost, "/api/visits", map[string]any{"storeId": 5})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if len(env.Error.Details.Fields) != 2 {
		t.Fatalf("expected the two missing fields, got %v", env.Error.Details.Fields)
	}
}

func TestVisitLifecycleThroughPostvisit(t *testing.T) {
	repo := memstore.New()
	repo.SetCatalog(catalog())
	r := newTestEngine(t, repo, ai.MockAdapter{ModelVersion: "mock"})

	code, env := do(t, r, http.MethodPost, "/api/visits", map[string]any{"storeId": 12, "collaboratorId": "c1", "scheduledAt": "2025-06-11T09:00:00Z"})
	if code != http.StatusCreated {
		t.Fatalf("schedule: %d", code)
	}
	var v models.Visit
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatal(err)
	}

	code, env = do(t, r, http.MethodPost, "/api/analysis/postvisit", map[string]any{"visitId": v.ID})
	if code != http.StatusBadRequest || env.Error.Code != string(service.KindState) {
		t.Fatalf("postvisit before completion: expected 400 INVALID_STATE, got %d %s", code, env.Error.Code)
	}

	if code, _ = do(t, r, http.MethodPut, "/api/visits/"+v.ID+"/confirm", map[string]any{"userId": "c1", "role": "colaborador"}); code != http.StatusOK {
		t.Fatalf("confirm: %d", code)
	}
	if code, _ = do(t, r, http.MethodPost, "/api/visits/"+v.ID+"/start", nil); code != http.StatusOK {
		t.Fatalf("start: %d", code)
	}
	code, env = do(t, r, http.MethodPost, "/api/visits/"+v.ID+"/finish", map[string]any{"durationMinutes": 40})
	if code != http.StatusOK {
		t.Fatalf("finish: %d", code)
	}
	var fin service.FinishResult
	if err := json.Unmarshal(env.Data, &fin); err != nil {
		t.Fatal(err)
	}
	if fin.Visit.State != models.VisitStateCompleted || !fin.StoreFreshnessUpdated {
		t.Fatalf("unexpected finish result %+v", fin)
	}

	if code, _ = do(t, r, http.MethodPost, "/api/visits/"+v.ID+"/finish", nil); code != http.StatusConflict {
		t.Fatalf("second finish: expected 409, got %d", code)
	}

	code, env = do(t, r, http.MethodPost, "/api/analysis/postvisit", map[string]any{"visitId": v.ID})
	if code != http.StatusOK {
		t.Fatalf("postvisit: %d", code)
	}
	var post service.PostvisitResponse
	if err := json.Unmarshal(env.Data, &post); err != nil {
		t.Fatal(err)
	}
	if !post.Generated || post.InsightID == "" {
		t.Fatalf("expected a generated and persisted review, got %+v", post.Outcome)
	}

	code, env = do(t, r, http.MethodGet, "/api/stores/12", nil)
	if code != http.StatusOK {
		t.Fatalf("store details: %d", code)
	}
	var st models.StoreWithStatus
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.LastVisitAt == nil {
		t.Fatalf("expected store freshness to follow the finished visit")
	}
}

func TestOptionalBodyMayBeEmptyAndChunked(t *testing.T) {
	repo := memstore.New()
	repo.SetCatalog(catalog())
	r := newTestEngine(t, repo, ai.MockAdapter{})

	code, env := do(t, r, http.MethodPost, "/api/visits", map[string]any{"storeId": 5, "collaboratorId": "c1", "scheduledAt": "2025-06-12T09:00:00Z"})
	if code != http.StatusCreated {
		t.Fatalf("schedule: %d", code)
	}
	var v models.Visit
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatal(err)
	}

	send := func(body io.Reader) int {
		req := httptest.NewRequest(http.MethodPost, "/api/visits/"+v.ID+"/start", body)
		req.ContentLength = -1
		req.TransferEncoding = []string{"chunked"}
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if code := send(strings.NewReader("{")); code != http.StatusBadRequest {
		t.Fatalf("truncated body: expected 400, got %d", code)
	}
	if code := send(io.MultiReader()); code != http.StatusOK {
		t.Fatalf("empty chunked body: expected 200, got %d", code)
	}
}

func TestTenderoFeedbackSurvivesProviderFailure(t *testing.T) {
	repo := memstore.New()
	repo.SetCatalog(catalog())
	provider := &failingAdapter{}
	r := newTestEngine(t, repo, provider)

	code, env := do(t, r, http.MethodPost, "/api/feedback/tendero", map[string]any{
		"storeId": 5, "collaboratorId": "c1", "category": "equipment", "type": "complaint",
		"urgency": "alta", "title": "Refrigerador dañado", "description": "No enfría desde ayer",
	})
	if code != http.StatusCreated || !env.Success {
		t.Fatalf("expected 201, got %d", code)
	}
	var res service.TenderoFeedbackResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Feedback.ID == "" {
		t.Fatalf("feedback was not persisted")
	}
	if res.Analysis == nil || res.Analysis.Generated || !res.Analysis.Fallback {
		t.Fatalf("expected a fallback analysis, got %+v", res.Analysis)
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", provider.calls)
	}
}

func TestTrendsWithoutDataSkipsProvider(t *testing.T) {
	repo := memstore.New()
	repo.SetCatalog(catalog())
	provider := &failingAdapter{}
	r := newTestEngine(t, repo, provider)

	code, env := do(t, r, http.MethodGet, "/api/analysis/trends?period=6m", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var tr service.TrendResponse
	if err := json.Unmarshal(env.Data, &tr); err != nil {
		t.Fatal(err)
	}
	if tr.Generated || tr.Reason != service.ReasonInsufficientFeedback || provider.calls != 0 {
		t.Fatalf("unexpected trend outcome %+v with %d calls", tr.Outcome, provider.calls)
	}

	if code, _ = do(t, r, http.MethodGet, "/api/analysis/trends?period=2w", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown period, got %d", code)
	}
}

func TestStoreEndpoints(t *testing.T) {
	repo := memstore.New()
	repo.SetCatalog(catalog())
	r := newTestEngine(t, repo, nil)

	code, env := do(t, r, http.MethodGet, "/api/stores/problematic", nil)
	if code != http.StatusOK {
		t.Fatalf("problematic: %d", code)
	}
	var stores []models.Store
	if err := json.Unmarshal(env.Data, &stores); err != nil {
		t.Fatal(err)
	}
	if len(stores) != 1 || stores[0].ID != 12 {
		t.Fatalf("expected only store 12, got %+v", stores)
	}

	if code, _ = do(t, r, http.MethodGet, "/api/stores/nps/abc", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non numeric NPS, got %d", code)
	}
	if code, _ = do(t, r, http.MethodGet, "/api/stores/77", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestMissingCatalogIsDataSourceError(t *testing.T) {
	r := newTestEngine(t, memstore.New(), nil)
	code, env := do(t, r, http.MethodGet, "/api/stores", nil)
	if code != http.StatusInternalServerError || env.Error.Code != string(service.KindDataSource) {
		t.Fatalf("expected 500 DATA_SOURCE_ERROR, got %d %q", code, env.Error.Code)
	}

	code, env = do(t, r, http.MethodGet, "/api/health", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("health should not depend on the catalog, got %d", code)
	}
}

func TestAgendaRejectsInvertedRange(t *testing.T) {
	repo := memstore.New()
	repo.SetCatalog(catalog())
	r := newTestEngine(t, repo, nil)
	code, env := do(t, r, http.MethodGet, "/api/agenda/c1?from=2025-06-10&to=2025-06-01", nil)
	if code != http.StatusBadRequest || env.Error.Code != string(service.KindValidation) {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d %q", code, env.Error.Code)
	}
}
