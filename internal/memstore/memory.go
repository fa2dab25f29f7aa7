// Package memstore is an in-process Repository used for local development and tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

type Memory struct {
	mu          sync.RWMutex
	catalog     *models.FeatureCollection
	lastVisits  map[int]time.Time
	visits      map[string]models.Visit
	feedback    []models.TenderoFeedback
	evaluations []models.StoreEvaluation
	evidence    []models.Evidence
	insights    []models.Insight
	users       map[string]models.User
}

var _ repository.Repository = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		lastVisits: map[int]time.Time{},
		visits:     map[string]models.Visit{},
		users:      map[string]models.User{},
	}
}

func (m *Memory) SetCatalog(fc models.FeatureCollection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = &fc
}

func (m *Memory) AddUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[strings.ToLower(u.Email)] = u
}

func (m *Memory) Ping(ctx context.Context) error  { return nil }
func (m *Memory) Close(ctx context.Context) error { return nil }

func (m *Memory) LoadCatalog(ctx context.Context) (models.FeatureCollection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.catalog == nil || m.catalog.Features == nil {
		return models.FeatureCollection{}, repository.ErrCatalogMissing
	}
	return *m.catalog, nil
}

func (m *Memory) StoreLastVisits(ctx context.Context) (map[int]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]time.Time, len(m.lastVisits))
	for k, v := range m.lastVisits {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SetStoreLastVisit(ctx context.Context, storeID int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastVisits[storeID] = at
	return nil
}

// InsertVisit checks the (store, date) slot under the write lock, so the memory backend
// never admits two active visits for one store and day.
func (m *Memory) InsertVisit(ctx context.Context, v models.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.visits[v.ID]; ok {
		return repository.ErrDuplicate
	}
	if v.State != models.VisitStateCancelled {
		for _, other := range m.visits {
			if other.StoreID == v.StoreID && other.ScheduledDate == v.ScheduledDate && other.State != models.VisitStateCancelled {
				return repository.ErrDuplicate
			}
		}
	}
	m.visits[v.ID] = v
	return nil
}

func (m *Memory) GetVisit(ctx context.Context, id string) (models.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visits[id]
	if !ok {
		return models.Visit{}, repository.ErrNotFound
	}
	return v, nil
}

func (m *Memory) UpdateVisit(ctx context.Context, v models.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.visits[v.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != v.Version {
		return repository.ErrConflict
	}
	v.Version++
	m.visits[v.ID] = v
	return nil
}

func (m *Memory) ListVisits(ctx context.Context, f repository.VisitFilter) ([]models.Visit, error) {
	m.mu.RLock()
	var out []models.Visit
	for _, v := range m.visits {
		if f.MatchVisit(v) {
			out = append(out, v)
		}
	}
	m.mu.RUnlock()

	key := func(v models.Visit) time.Time { return v.ScheduledAt }
	if f.SortBy == repository.SortCompletedAt {
		key = func(v models.Visit) time.Time {
			if v.CompletedAt == nil {
				return time.Time{}
			}
			return *v.CompletedAt
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if f.Descending {
			return key(out[i]).After(key(out[j]))
		}
		return key(out[i]).Before(key(out[j]))
	})
	return limit(out, f.Limit), nil
}

func (m *Memory) InsertTenderoFeedback(ctx context.Context, fb models.TenderoFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, fb)
	return nil
}

func (m *Memory) GetTenderoFeedback(ctx context.Context, id string) (models.TenderoFeedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fb := range m.feedback {
		if fb.ID == id {
			return fb, nil
		}
	}
	return models.TenderoFeedback{}, repository.ErrNotFound
}

func (m *Memory) UpdateTenderoFeedback(ctx context.Context, fb models.TenderoFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.feedback {
		if m.feedback[i].ID == fb.ID {
			m.feedback[i] = fb
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *Memory) ListTenderoFeedback(ctx context.Context, f repository.FeedbackFilter) ([]models.TenderoFeedback, error) {
	m.mu.RLock()
	var out []models.TenderoFeedback
	for _, fb := range m.feedback {
		if f.MatchRecord(fb.StoreID, fb.VisitID, fb.CreatedAt) {
			out = append(out, fb)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if f.Ascending {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limit(out, f.Limit), nil
}

func (m *Memory) InsertStoreEvaluation(ctx context.Context, ev models.StoreEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations = append(m.evaluations, ev)
	return nil
}

func (m *Memory) ListStoreEvaluations(ctx context.Context, f repository.FeedbackFilter) ([]models.StoreEvaluation, error) {
	m.mu.RLock()
	var out []models.StoreEvaluation
	for _, ev := range m.evaluations {
		if f.MatchRecord(ev.StoreID, ev.VisitID, ev.CreatedAt) {
			out = append(out, ev)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if f.Ascending {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limit(out, f.Limit), nil
}

func (m *Memory) InsertEvidence(ctx context.Context, e models.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evidence = append(m.evidence, e)
	return nil
}

func (m *Memory) ListEvidence(ctx context.Context, visitID string) ([]models.Evidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Evidence
	for _, e := range m.evidence {
		if e.VisitID == visitID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) InsertInsight(ctx context.Context, in models.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights = append(m.insights, in)
	return nil
}

func (m *Memory) ListInsights(ctx context.Context, f repository.InsightFilter) ([]models.Insight, error) {
	m.mu.RLock()
	var out []models.Insight
	for _, in := range m.insights {
		if f.MatchInsight(in) {
			out = append(out, in)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limit(out, f.Limit), nil
}

func (m *Memory) MarkInsightUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.insights {
		if m.insights[i].ID == id {
			m.insights[i].Used = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return models.User{}, repository.ErrNotFound
	}
	return u, nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
