package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mykrex/dimeloc-backend/internal/memstore"
	"github.com/mykrex/dimeloc-backend/internal/models"
)

type scriptedAdapter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (a *scriptedAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)
	if a.err != nil {
		return "", a.err
	}
	return a.reply, nil
}

func (a *scriptedAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

// stepClock advances one second per reading so records created in sequence never share
// a timestamp.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	repo     *memstore.Memory
	clock    *stepClock
	provider *scriptedAdapter
	catalog  *CatalogService
	visits   *VisitService
	feedback *FeedbackService
	analysis *Orchestrator
}

var monterrey = time.FixedZone("CST", -6*60*60)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memstore.New()
	repo.SetCatalog(testCatalog())
	clock := &stepClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	provider := &scriptedAdapter{}
	logger := zerolog.Nop()

	catalog := &CatalogService{Repo: repo, Logger: logger, Now: clock.Now}
	analysis := &Orchestrator{Repo: repo, Catalog: catalog, AI: provider, Logger: logger, Now: clock.Now}
	return &fixture{
		repo:     repo,
		clock:    clock,
		provider: provider,
		catalog:  catalog,
		visits:   &VisitService{Repo: repo, Catalog: catalog, Location: monterrey, Logger: logger, Now: clock.Now},
		feedback: &FeedbackService{Repo: repo, Analysis: analysis, Logger: logger, Now: clock.Now},
		analysis: analysis,
	}
}

func testCatalog() models.FeatureCollection {
	feature := func(lon, lat float64, props map[string]any) models.Feature {
		return models.Feature{
			Type:       "Feature",
			Properties: props,
			Geometry:   models.Geometry{Type: "Point", Coordinates: []float64{lon, lat}},
		}
	}
	return models.FeatureCollection{
		Type: "FeatureCollection",
		Features: []models.Feature{
			feature(-100.3161, 25.6866, map[string]any{
				"col0": "5", "nombre": "OXXO Centro", "nps": "45", "fillfoundrate": 92.5,
				"damage_rate": "0.5", "out_of_stock": "2", "complaint_resolution_time_hrs": "24",
				"direccion": "Av. Constitución 100",
			}),
			feature(-100.2900, 25.7000, map[string]any{
				"col0": float64(12), "nombre": "OXXO Norte", "nps": 20, "damage_rate": 0.2,
				"out_of_stock": "5.5", "complaint_resolution_time_hrs": 12,
			}),
			feature(-99.1332, 19.4326, map[string]any{
				"nombre": "OXXO Sin Clave", "nps": "80", "damage_rate": "abc", "out_of_stock": "1",
			}),
			feature(-100.3100, 25.6800, map[string]any{
				"col0": "0", "nombre": "OXXO Cero", "nps": "60", "complaint_resolution_time_hrs": "72",
			}),
		},
	}
}

func strPtr(s string) *string { return &s }

const (
	feedbackReply = "```json\n{\"alerts\":[\"Refrigerador sin reparar\"],\"insights\":[\"Quejas recurrentes de refrigeración\"],\"recommendations\":[\"Enviar técnico\"],\"priority\":\"alta\",\"summary\":\"Atender refrigeración\"}\n```"
	previsitReply = `{"problemas_pendientes":["Refrigerador dañado"],"puntos_verificar":["Temperatura del refrigerador"],"preguntas_tendero":["¿Llegó el técnico?"],"evidencias_capturar":["Foto del refrigerador"],"areas_oportunidad":[],"prioridad_visita":"alta","tiempo_estimado":"30 minutos","preparacion_especial":"Ninguna"}`
	postvisitReply = `{"resumen_ejecutivo":"Visita con hallazgos","mejoras_confirmadas":[],"problemas_nuevos":["Fuga de agua"],"seguimiento_requerido":["Confirmar reparación"],"efectividad_recomendaciones":"media","proximas_acciones":["Llamar al tendero"],"nivel_seguimiento":"alto","fecha_proxima_visita":"2025-06-20","acciones_inmediatas":[]}`
)

func mustSchedule(t *testing.T, f *fixture, storeID int, collaborator string, advisor *string, at string) models.Visit {
	t.Helper()
	v, err := f.visits.Schedule(context.Background(), ScheduleVisitInput{
		StoreID:        &storeID,
		CollaboratorID: collaborator,
		AdvisorID:      advisor,
		ScheduledAt:    at,
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	return v
}
