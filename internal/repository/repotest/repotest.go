// Package repotest holds behavior checks every repository.Repository backend must pass.
package repotest

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

// Run exercises repo with records under a random store id, so it is safe to point at a
// shared database.
func Run(t *testing.T, repo repository.Repository) {
	t.Helper()
	storeID := 100000 + rand.Intn(800000)
	base := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

	t.Run("visit slot is unique while active", func(t *testing.T) { visitSlot(t, repo, storeID, base) })
	t.Run("visit filters", func(t *testing.T) { visitFilters(t, repo, storeID+1, base) })
	t.Run("feedback ordering", func(t *testing.T) { feedbackOrdering(t, repo, storeID+2, base) })
	t.Run("insights", func(t *testing.T) { insights(t, repo, storeID+3, base) })
	t.Run("store freshness", func(t *testing.T) { freshness(t, repo, storeID+4, base) })
	t.Run("stale visit update", func(t *testing.T) { staleUpdate(t, repo, storeID+5, base) })
}

func visit(storeID int, collaborator string, at time.Time) models.Visit {
	return models.Visit{
		ID:             uuid.NewString(),
		StoreID:        storeID,
		CollaboratorID: collaborator,
		ScheduledAt:    at,
		ScheduledDate:  at.Format("2006-01-02"),
		State:          models.VisitStateScheduled,
		VisitType:      "regular",
		CreatedAt:      at.Add(-time.Hour),
	}
}

func visitSlot(t *testing.T, repo repository.Repository, storeID int, base time.Time) {
	ctx := context.Background()
	first := visit(storeID, "c1", base)
	if err := repo.InsertVisit(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	second := visit(storeID, "c2", base.Add(2*time.Hour))
	if err := repo.InsertVisit(ctx, second); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for the same day, got %v", err)
	}

	cancelled := base.Add(time.Minute)
	first.State = models.VisitStateCancelled
	first.CancelledAt = &cancelled
	if err := repo.UpdateVisit(ctx, first); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := repo.InsertVisit(ctx, second); err != nil {
		t.Fatalf("a cancelled visit must free the slot: %v", err)
	}

	got, err := repo.GetVisit(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.VisitStateCancelled || got.CancelledAt == nil {
		t.Fatalf("update not persisted: %+v", got)
	}
	if _, err := repo.GetVisit(ctx, uuid.NewString()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// staleUpdate writes twice from the same read. The second write must not land.
func staleUpdate(t *testing.T, repo repository.Repository, storeID int, base time.Time) {
	ctx := context.Background()
	v := visit(storeID, "c1", base)
	if err := repo.InsertVisit(ctx, v); err != nil {
		t.Fatalf("insert: %v", err)
	}
	read, err := repo.GetVisit(ctx, v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	completed := base.Add(time.Hour)
	finished := read
	finished.State = models.VisitStateCompleted
	finished.CompletedAt = &completed
	if err := repo.UpdateVisit(ctx, finished); err != nil {
		t.Fatalf("first update: %v", err)
	}

	confirmed := read
	confirmed.State = models.VisitStateConfirmed
	confirmed.CollaboratorConfirmed = true
	if err := repo.UpdateVisit(ctx, confirmed); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict for a stale write, got %v", err)
	}

	got, err := repo.GetVisit(ctx, v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.VisitStateCompleted || got.CollaboratorConfirmed {
		t.Fatalf("stale write overwrote the visit: %+v", got)
	}
	if got.Version != read.Version+1 {
		t.Fatalf("expected version %d, got %d", read.Version+1, got.Version)
	}

	missing := visit(storeID, "c1", base.AddDate(0, 0, 1))
	if err := repo.UpdateVisit(ctx, missing); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown visit, got %v", err)
	}
}

func visitFilters(t *testing.T, repo repository.Repository, storeID int, base time.Time) {
	ctx := context.Background()
	collaborator := "col-" + uuid.NewString()
	for i := 0; i < 3; i++ {
		v := visit(storeID, collaborator, base.AddDate(0, 0, 2-i))
		if i == 1 {
			v.CollaboratorID = "someone-else"
			v.AdvisorID = &collaborator
		}
		if err := repo.InsertVisit(ctx, v); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	items, err := repo.ListVisits(ctx, repository.VisitFilter{UserID: collaborator, SortBy: repository.SortScheduledAt})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected collaborator and advisor visits, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].ScheduledAt.Before(items[i-1].ScheduledAt) {
			t.Fatalf("visits not sorted by scheduled_at")
		}
	}

	items, err = repo.ListVisits(ctx, repository.VisitFilter{CollaboratorID: collaborator, Limit: 1, SortBy: repository.SortScheduledAt, Descending: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || !items[0].ScheduledAt.Equal(base.AddDate(0, 0, 2)) {
		t.Fatalf("expected the latest visit only, got %+v", items)
	}
}

func feedbackOrdering(t *testing.T, repo repository.Repository, storeID int, base time.Time) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		fb := models.TenderoFeedback{
			ID:             uuid.NewString(),
			StoreID:        storeID,
			CollaboratorID: "c1",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			Category:       "service",
			Type:           "complaint",
			Urgency:        models.UrgencyMedium,
			Title:          "Queja",
			Description:    "Atención lenta",
			Status:         models.FeedbackStatusOpen,
		}
		if err := repo.InsertTenderoFeedback(ctx, fb); err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, fb.ID)
	}

	items, err := repo.ListTenderoFeedback(ctx, repository.FeedbackFilter{StoreID: &storeID, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].ID != ids[3] || items[1].ID != ids[2] {
		t.Fatalf("expected the two newest, newest first")
	}

	items, err = repo.ListTenderoFeedback(ctx, repository.FeedbackFilter{StoreID: &storeID, Since: base.Add(2 * time.Minute), Ascending: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].ID != ids[2] {
		t.Fatalf("since filter or ascending order broken: %d items", len(items))
	}

	fb, err := repo.GetTenderoFeedback(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resolved := base.Add(time.Hour)
	fb.Status = models.FeedbackStatusResolved
	fb.ResolvedAt = &resolved
	fb.ResolutionNotes = "Atendido"
	if err := repo.UpdateTenderoFeedback(ctx, fb); err != nil {
		t.Fatalf("update: %v", err)
	}
	fb, err = repo.GetTenderoFeedback(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fb.Status != models.FeedbackStatusResolved || fb.ResolutionNotes != "Atendido" {
		t.Fatalf("resolution not persisted: %+v", fb)
	}
}

func insights(t *testing.T, repo repository.Repository, storeID int, base time.Time) {
	ctx := context.Background()
	in := models.Insight{
		ID:             uuid.NewString(),
		StoreID:        storeID,
		CollaboratorID: "c1",
		AnalysisType:   models.AnalysisPrevisit,
		InputRefs:      []string{"a", "b"},
		Result:         []byte(`{"prioridad_visita":"alta"}`),
		CreatedAt:      base,
	}
	if err := repo.InsertInsight(ctx, in); err != nil {
		t.Fatalf("insert: %v", err)
	}
	other := in
	other.ID = uuid.NewString()
	other.AnalysisType = models.AnalysisPrediction
	other.CreatedAt = base.Add(time.Minute)
	if err := repo.InsertInsight(ctx, other); err != nil {
		t.Fatalf("insert: %v", err)
	}

	items, err := repo.ListInsights(ctx, repository.InsightFilter{StoreID: &storeID, Type: models.AnalysisPrevisit})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != in.ID || items[0].Used {
		t.Fatalf("unexpected previsit insights %+v", items)
	}

	if err := repo.MarkInsightUsed(ctx, in.ID); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	items, err = repo.ListInsights(ctx, repository.InsightFilter{StoreID: &storeID, Type: models.AnalysisPrevisit})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || !items[0].Used {
		t.Fatalf("insight not marked used")
	}
	if err := repo.MarkInsightUsed(ctx, uuid.NewString()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func freshness(t *testing.T, repo repository.Repository, storeID int, base time.Time) {
	ctx := context.Background()
	if err := repo.SetStoreLastVisit(ctx, storeID, base); err != nil {
		t.Fatalf("set: %v", err)
	}
	later := base.Add(48 * time.Hour)
	if err := repo.SetStoreLastVisit(ctx, storeID, later); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := repo.StoreLastVisits(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if at, ok := got[storeID]; !ok || !at.Equal(later) {
		t.Fatalf("expected %v, got %v", later, got[storeID])
	}
}
