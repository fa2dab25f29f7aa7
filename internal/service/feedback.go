package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

const (
	FeedbackKindTendero    = "tendero"
	FeedbackKindEvaluation = "evaluation"

	defaultFeedbackLimit = 20
)

type FeedbackService struct {
	Repo repository.Repository
	// Analysis runs after every tendero feedback insert when set.
	Analysis *Orchestrator
	Logger   zerolog.Logger
	Now      func() time.Time
}

type TenderoFeedbackInput struct {
	VisitID        *string `json:"visitId"`
	StoreID        *int    `json:"storeId" validate:"required"`
	CollaboratorID string  `json:"collaboratorId" validate:"required"`
	Category       string  `json:"category" validate:"required"`
	Type           string  `json:"type" validate:"required"`
	Urgency        string  `json:"urgency" validate:"required"`
	Title          string  `json:"title" validate:"required"`
	Description    string  `json:"description" validate:"required"`
}

type TenderoFeedbackResult struct {
	Feedback models.TenderoFeedback `json:"feedback"`
	Analysis *FeedbackAnalysis      `json:"analysis,omitempty"`
}

// NormalizeUrgency accepts the English levels and their Spanish equivalents.
func NormalizeUrgency(u string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(u)) {
	case models.UrgencyLow, "baja":
		return models.UrgencyLow, true
	case models.UrgencyMedium, "media":
		return models.UrgencyMedium, true
	case models.UrgencyHigh, "alta":
		return models.UrgencyHigh, true
	case models.UrgencyCritical, "critica", "crítica":
		return models.UrgencyCritical, true
	}
	return "", false
}

func ResolutionRequired(urgency string) bool {
	return urgency == models.UrgencyHigh || urgency == models.UrgencyCritical
}

// RecordTenderoFeedback persists the feedback, then runs the feedback analysis. Analysis
// problems never fail the call; the record is durable either way.
func (s *FeedbackService) RecordTenderoFeedback(ctx context.Context, in TenderoFeedbackInput) (TenderoFeedbackResult, error) {
	in.CollaboratorID = strings.TrimSpace(in.CollaboratorID)
	in.Category = strings.TrimSpace(in.Category)
	in.Type = strings.TrimSpace(in.Type)
	in.Urgency = strings.TrimSpace(in.Urgency)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := checkStruct(in); err != nil {
		return TenderoFeedbackResult{}, err
	}
	urgency, ok := NormalizeUrgency(in.Urgency)
	if !ok {
		return TenderoFeedbackResult{}, validationError("urgency must be low, medium, high or critical", "urgency")
	}
	visitID, err := s.resolveVisit(ctx, in.VisitID)
	if err != nil {
		return TenderoFeedbackResult{}, err
	}

	fb := models.TenderoFeedback{
		ID:                 uuid.NewString(),
		VisitID:            visitID,
		StoreID:            *in.StoreID,
		CollaboratorID:     in.CollaboratorID,
		CreatedAt:          now(s.Now),
		Category:           in.Category,
		Type:               in.Type,
		Urgency:            urgency,
		Title:              in.Title,
		Description:        in.Description,
		Status:             models.FeedbackStatusOpen,
		ResolutionRequired: ResolutionRequired(urgency),
	}
	if err := s.Repo.InsertTenderoFeedback(ctx, fb); err != nil {
		return TenderoFeedbackResult{}, err
	}

	res := TenderoFeedbackResult{Feedback: fb}
	if s.Analysis != nil {
		analysis, err := s.Analysis.AnalyzeAfterFeedback(ctx, fb.StoreID)
		if err != nil {
			s.Logger.Warn().Err(err).Int("store_id", fb.StoreID).Str("feedback_id", fb.ID).Msg("feedback analysis skipped")
		} else {
			res.Analysis = &analysis
		}
	}
	return res, nil
}

func (s *FeedbackService) resolveVisit(ctx context.Context, id *string) (*string, error) {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil, nil
	}
	v := strings.TrimSpace(*id)
	if _, err := s.Repo.GetVisit(ctx, v); err != nil {
		return nil, storageError(err, "visit")
	}
	return &v, nil
}

type RatingsInput struct {
	Cleanliness     int `json:"cleanliness" validate:"min=0,max=5"`
	Fixtures        int `json:"fixtures" validate:"min=0,max=5"`
	Inventory       int `json:"inventory" validate:"min=0,max=5"`
	CustomerService int `json:"customerService" validate:"min=0,max=5"`
	Organization    int `json:"organization" validate:"min=0,max=5"`
}

type StoreEvaluationInput struct {
	VisitID                 *string       `json:"visitId"`
	StoreID                 *int          `json:"storeId" validate:"required"`
	CollaboratorID          string        `json:"collaboratorId" validate:"required"`
	Ratings                 *RatingsInput `json:"ratings"`
	InventoryNotes          string        `json:"inventoryNotes"`
	Comments                string        `json:"comments"`
	Strengths               []string      `json:"strengths"`
	ImprovementAreas        []string      `json:"improvementAreas"`
	PriorityRecommendations []string      `json:"priorityRecommendations"`
}

// RecordStoreEvaluation requires only the store and collaborator; omitted ratings and
// lists are stored zero filled.
func (s *FeedbackService) RecordStoreEvaluation(ctx context.Context, in StoreEvaluationInput) (models.StoreEvaluation, error) {
	in.CollaboratorID = strings.TrimSpace(in.CollaboratorID)
	if err := checkStruct(in); err != nil {
		return models.StoreEvaluation{}, err
	}
	visitID, err := s.resolveVisit(ctx, in.VisitID)
	if err != nil {
		return models.StoreEvaluation{}, err
	}
	ev := models.StoreEvaluation{
		ID:                      uuid.NewString(),
		VisitID:                 visitID,
		StoreID:                 *in.StoreID,
		CollaboratorID:          in.CollaboratorID,
		CreatedAt:               now(s.Now),
		InventoryNotes:          strings.TrimSpace(in.InventoryNotes),
		Comments:                strings.TrimSpace(in.Comments),
		Strengths:               cleanList(in.Strengths),
		ImprovementAreas:        cleanList(in.ImprovementAreas),
		PriorityRecommendations: cleanList(in.PriorityRecommendations),
	}
	if in.Ratings != nil {
		ev.Ratings = models.Ratings{
			Cleanliness:     in.Ratings.Cleanliness,
			Fixtures:        in.Ratings.Fixtures,
			Inventory:       in.Ratings.Inventory,
			CustomerService: in.Ratings.CustomerService,
			Organization:    in.Ratings.Organization,
		}
	}
	if err := s.Repo.InsertStoreEvaluation(ctx, ev); err != nil {
		return models.StoreEvaluation{}, err
	}
	return ev, nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

type FeedbackList struct {
	StoreID     int                      `json:"store_id"`
	Tendero     []models.TenderoFeedback `json:"tendero"`
	Evaluations []models.StoreEvaluation `json:"evaluations"`
}

// ListFeedback returns up to limit records per requested kind. An empty kind lists both.
func (s *FeedbackService) ListFeedback(ctx context.Context, storeID int, kind string, limit int, descending bool) (FeedbackList, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "" && kind != FeedbackKindTendero && kind != FeedbackKindEvaluation {
		return FeedbackList{}, validationError("kind must be tendero or evaluation", "kind")
	}
	if limit <= 0 {
		limit = defaultFeedbackLimit
	}
	f := repository.FeedbackFilter{StoreID: &storeID, Limit: limit, Ascending: !descending}
	out := FeedbackList{StoreID: storeID}
	if kind == "" || kind == FeedbackKindTendero {
		items, err := s.Repo.ListTenderoFeedback(ctx, f)
		if err != nil {
			return FeedbackList{}, err
		}
		out.Tendero = nonNilFeedback(items)
	}
	if kind == "" || kind == FeedbackKindEvaluation {
		items, err := s.Repo.ListStoreEvaluations(ctx, f)
		if err != nil {
			return FeedbackList{}, err
		}
		if items == nil {
			items = []models.StoreEvaluation{}
		}
		out.Evaluations = items
	}
	return out, nil
}

func nonNilFeedback(items []models.TenderoFeedback) []models.TenderoFeedback {
	if items == nil {
		return []models.TenderoFeedback{}
	}
	return items
}

func (s *FeedbackService) Resolve(ctx context.Context, id, notes string) (models.TenderoFeedback, error) {
	fb, err := s.Repo.GetTenderoFeedback(ctx, id)
	if err != nil {
		return models.TenderoFeedback{}, storageError(err, "feedback")
	}
	if fb.Status == models.FeedbackStatusResolved {
		return models.TenderoFeedback{}, stateError("feedback already resolved")
	}
	at := now(s.Now)
	fb.Status = models.FeedbackStatusResolved
	fb.ResolvedAt = &at
	fb.ResolutionNotes = strings.TrimSpace(notes)
	if err := s.Repo.UpdateTenderoFeedback(ctx, fb); err != nil {
		return models.TenderoFeedback{}, storageError(err, "feedback")
	}
	return fb, nil
}
