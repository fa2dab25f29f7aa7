// Package repository declares the storage contract shared by the Postgres, Mongo and
// in-memory backends.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mykrex/dimeloc-backend/internal/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicate      = errors.New("duplicate")
	ErrCatalogMissing = errors.New("catalog document missing")
	// ErrConflict means the record changed since it was read.
	ErrConflict = errors.New("concurrent update")
)

// Repository is the single long-lived storage handle. Every method is one round trip;
// there are no multi-record transactions.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	// LoadCatalog returns ErrCatalogMissing when the document or its features are absent.
	LoadCatalog(ctx context.Context) (models.FeatureCollection, error)
	StoreLastVisits(ctx context.Context) (map[int]time.Time, error)
	SetStoreLastVisit(ctx context.Context, storeID int, at time.Time) error

	// InsertVisit returns ErrDuplicate when a non-cancelled visit already holds the
	// (store_id, scheduled_date) slot and the backend can enforce it.
	InsertVisit(ctx context.Context, v models.Visit) error
	GetVisit(ctx context.Context, id string) (models.Visit, error)
	// UpdateVisit writes v only while the stored version still equals v.Version and then
	// bumps the stored version. A newer stored version yields ErrConflict.
	UpdateVisit(ctx context.Context, v models.Visit) error
	ListVisits(ctx context.Context, f VisitFilter) ([]models.Visit, error)

	InsertTenderoFeedback(ctx context.Context, fb models.TenderoFeedback) error
	GetTenderoFeedback(ctx context.Context, id string) (models.TenderoFeedback, error)
	UpdateTenderoFeedback(ctx context.Context, fb models.TenderoFeedback) error
	ListTenderoFeedback(ctx context.Context, f FeedbackFilter) ([]models.TenderoFeedback, error)

	InsertStoreEvaluation(ctx context.Context, ev models.StoreEvaluation) error
	ListStoreEvaluations(ctx context.Context, f FeedbackFilter) ([]models.StoreEvaluation, error)

	InsertEvidence(ctx context.Context, e models.Evidence) error
	ListEvidence(ctx context.Context, visitID string) ([]models.Evidence, error)

	InsertInsight(ctx context.Context, in models.Insight) error
	ListInsights(ctx context.Context, f InsightFilter) ([]models.Insight, error)
	MarkInsightUsed(ctx context.Context, id string) error

	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

const (
	SortScheduledAt = "scheduled_at"
	SortCompletedAt = "completed_at"
)

// VisitFilter zero values mean "no constraint".
type VisitFilter struct {
	StoreID         *int
	UserID          string
	CollaboratorID  string
	States          []string
	ScheduledDate   string
	ScheduledFrom   time.Time
	ScheduledTo     time.Time
	CompletedBefore time.Time
	SortBy          string
	Descending      bool
	Limit           int
}

// FeedbackFilter applies to both feedback kinds. Results are ordered by created_at,
// newest first unless Ascending is set.
type FeedbackFilter struct {
	StoreID   *int
	VisitID   string
	Since     time.Time
	Before    time.Time
	Ascending bool
	Limit     int
}

type InsightFilter struct {
	StoreID        *int
	VisitID        string
	CollaboratorID string
	Type           string
	Since          time.Time
	Limit          int
}

func IntPtr(v int) *int { return &v }

// MatchVisit reports whether v satisfies every constraint of f except ordering and limit.
// Backends without a query language use it directly.
func (f VisitFilter) MatchVisit(v models.Visit) bool {
	if f.StoreID != nil && v.StoreID != *f.StoreID {
		return false
	}
	if f.UserID != "" && v.CollaboratorID != f.UserID && (v.AdvisorID == nil || *v.AdvisorID != f.UserID) {
		return false
	}
	if f.CollaboratorID != "" && v.CollaboratorID != f.CollaboratorID {
		return false
	}
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if v.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.ScheduledDate != "" && v.ScheduledDate != f.ScheduledDate {
		return false
	}
	if !f.ScheduledFrom.IsZero() && v.ScheduledAt.Before(f.ScheduledFrom) {
		return false
	}
	if !f.ScheduledTo.IsZero() && v.ScheduledAt.After(f.ScheduledTo) {
		return false
	}
	if !f.CompletedBefore.IsZero() && (v.CompletedAt == nil || !v.CompletedAt.Before(f.CompletedBefore)) {
		return false
	}
	return true
}

func (f FeedbackFilter) MatchRecord(storeID int, visitID *string, createdAt time.Time) bool {
	if f.StoreID != nil && storeID != *f.StoreID {
		return false
	}
	if f.VisitID != "" && (visitID == nil || *visitID != f.VisitID) {
		return false
	}
	if !f.Since.IsZero() && createdAt.Before(f.Since) {
		return false
	}
	if !f.Before.IsZero() && !createdAt.Before(f.Before) {
		return false
	}
	return true
}

func (f InsightFilter) MatchInsight(in models.Insight) bool {
	if f.StoreID != nil && in.StoreID != *f.StoreID {
		return false
	}
	if f.VisitID != "" && (in.VisitID == nil || *in.VisitID != f.VisitID) {
		return false
	}
	if f.CollaboratorID != "" && in.CollaboratorID != f.CollaboratorID {
		return false
	}
	if f.Type != "" && in.AnalysisType != f.Type {
		return false
	}
	if !f.Since.IsZero() && in.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
