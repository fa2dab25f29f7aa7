package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

func TestAnalyzeAfterFeedbackWithoutFeedback(t *testing.T) {
	f := newFixture(t)
	res, err := f.analysis.AnalyzeAfterFeedback(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Generated || res.Reason != ReasonInsufficientFeedback {
		t.Fatalf("expected insufficient feedback, got %+v", res)
	}
	if f.provider.calls() != 0 {
		t.Fatalf("provider must not be called without feedback")
	}
}

func TestAnalyzeAfterFeedbackMissingPriorityFallsBack(t *testing.T) {
	f := newFixture(t)
	f.feedback.Analysis = nil
	if _, err := f.feedback.RecordTenderoFeedback(context.Background(), refrigeratorFeedback()); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	f.provider.reply = `{"alerts":["a"],"insights":["b"],"recommendations":["c"],"summary":"sin prioridad"}`

	res, err := f.analysis.AnalyzeAfterFeedback(context.Background(), 12)
	if err != nil {
		t.Fatalf("fallback must not surface an error: %v", err)
	}
	if res.Generated || !res.Fallback || res.Analysis == nil || res.Analysis.Priority != "media" {
		t.Fatalf("expected fallback with priority media, got %+v", res)
	}
	if !strings.Contains(res.Analysis.Insights[0], "1 comentario") {
		t.Fatalf("unexpected fallback insight: %v", res.Analysis.Insights)
	}
	insights, _ := f.repo.ListInsights(context.Background(), repository.InsightFilter{})
	if len(insights) != 0 {
		t.Fatalf("fallback analyses are not persisted")
	}
}

func TestAnalyzeAfterFeedbackUnparsableOutput(t *testing.T) {
	f := newFixture(t)
	f.feedback.Analysis = nil
	if _, err := f.feedback.RecordTenderoFeedback(context.Background(), refrigeratorFeedback()); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	f.provider.reply = "Lo siento, no puedo ayudar con eso."
	res, err := f.analysis.AnalyzeAfterFeedback(context.Background(), 12)
	if err != nil || !res.Fallback {
		t.Fatalf("expected fallback, got %+v (%v)", res, err)
	}
}

func TestAnalyzeAfterFeedbackPersistsInsight(t *testing.T) {
	f := newFixture(t)
	f.feedback.Analysis = nil
	ctx := context.Background()
	var ids []string
	for i := 0; i < 12; i++ {
		res, err := f.feedback.RecordTenderoFeedback(ctx, refrigeratorFeedback())
		if err != nil {
			t.Fatalf("record failed: %v", err)
		}
		ids = append(ids, res.Feedback.ID)
	}
	f.provider.reply = feedbackReply

	res, err := f.analysis.AnalyzeAfterFeedback(ctx, 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Generated || res.InsightID == "" || res.FeedbackCount != 10 {
		t.Fatalf("unexpected result: %+v", res)
	}

	insights, err := f.repo.ListInsights(ctx, repository.InsightFilter{Type: models.AnalysisFeedbackSummary})
	if err != nil || len(insights) != 1 {
		t.Fatalf("expected one insight, got %d (%v)", len(insights), err)
	}
	in := insights[0]
	if len(in.InputRefs) != 10 || in.InputRefs[0] != ids[11] {
		t.Fatalf("expected the ten newest feedback ids, got %v", in.InputRefs)
	}
	for _, ref := range in.InputRefs {
		fb, err := f.repo.GetTenderoFeedback(ctx, ref)
		if err != nil {
			t.Fatalf("unknown input ref %s", ref)
		}
		if !fb.CreatedAt.Before(in.CreatedAt) {
			t.Fatalf("input %s created at %v, not before insight %v", ref, fb.CreatedAt, in.CreatedAt)
		}
	}
}

func TestPrevisitBrief(t *testing.T) {
	f := newFixture(t)
	f.feedback.Analysis = nil
	ctx := context.Background()
	if _, err := f.feedback.RecordTenderoFeedback(ctx, refrigeratorFeedback()); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	f.provider.reply = previsitReply

	res, err := f.analysis.GeneratePrevisitBrief(ctx, 12, PrevisitInput{CollaboratorID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Generated || res.Brief.VisitPriority != "alta" || res.Context.FeedbackCount != 1 {
		t.Fatalf("unexpected brief: %+v", res)
	}
	insights, _ := f.repo.ListInsights(ctx, repository.InsightFilter{Type: models.AnalysisPrevisit})
	if len(insights) != 1 || insights[0].Used || insights[0].CollaboratorID != "c1" {
		t.Fatalf("expected one unused previsit insight, got %+v", insights)
	}

	f.provider.reply = `{"puntos_verificar":["x"]}`
	res, err = f.analysis.GeneratePrevisitBrief(ctx, 12, PrevisitInput{CollaboratorID: "c1"})
	if err != nil || !res.Fallback || len(res.Brief.PointsToVerify) == 0 {
		t.Fatalf("expected fallback brief, got %+v (%v)", res, err)
	}

	if _, err := f.analysis.GeneratePrevisitBrief(ctx, 12, PrevisitInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPrevisitBriefToleratesMistypedOptionalFields(t *testing.T) {
	f := newFixture(t)
	f.provider.reply = `{"problemas_pendientes":["Refrigerador dañado"],"puntos_verificar":["Temperatura"],"tiempo_estimado":45}`
	res, err := f.analysis.GeneratePrevisitBrief(context.Background(), 12, PrevisitInput{CollaboratorID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Generated || res.Fallback {
		t.Fatalf("a numeric estimate must not discard the brief: %+v", res)
	}
	if len(res.Brief.PointsToVerify) != 1 || res.Brief.PointsToVerify[0] != "Temperatura" || res.Brief.EstimatedTime != "" {
		t.Fatalf("unexpected brief: %+v", res.Brief)
	}
}

func TestAnalyzeAfterFeedbackBlankPriorityFallsBack(t *testing.T) {
	f := newFixture(t)
	f.feedback.Analysis = nil
	if _, err := f.feedback.RecordTenderoFeedback(context.Background(), refrigeratorFeedback()); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	f.provider.reply = `{"alerts":["a"],"insights":["b"],"recommendations":["c"],"priority":""}`
	res, err := f.analysis.AnalyzeAfterFeedback(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Generated || !res.Fallback {
		t.Fatalf("expected fallback for a blank priority, got %+v", res)
	}
}

func TestPrevisitBriefForUnknownStoreUsesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.provider.reply = previsitReply
	res, err := f.analysis.GeneratePrevisitBrief(context.Background(), 777, PrevisitInput{CollaboratorID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StoreName != "Tienda 777" || !strings.Contains(f.provider.prompts[0], "Tienda 777") {
		t.Fatalf("expected placeholder store name, got %q", res.StoreName)
	}
}

func TestPostvisitRequiresCompletedVisit(t *testing.T) {
	f := newFixture(t)
	v := mustSchedule(t, f, 5, "c1", nil, "2025-06-10T10:00")
	if _, err := f.analysis.GeneratePostvisitReview(context.Background(), v.ID); !errors.Is(err, ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
	if _, err := f.analysis.GeneratePostvisitReview(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.provider.calls() != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestPostvisitReview(t *testing.T) {
	f := newFixture(t)
	f.feedback.Analysis = nil
	ctx := context.Background()

	earlier := mustSchedule(t, f, 12, "c1", nil, "2025-06-02T10:00")
	if _, err := f.visits.Finish(ctx, earlier.ID, FinishInput{}); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	f.provider.reply = previsitReply
	brief, err := f.analysis.GeneratePrevisitBrief(ctx, 12, PrevisitInput{CollaboratorID: "c1"})
	if err != nil || !brief.Generated {
		t.Fatalf("brief failed: %+v (%v)", brief, err)
	}

	v := mustSchedule(t, f, 12, "c1", nil, "2025-06-10T10:00")
	in := refrigeratorFeedback()
	in.VisitID = &v.ID
	if _, err := f.feedback.RecordTenderoFeedback(ctx, in); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if _, err := f.visits.AddEvidence(ctx, v.ID, EvidenceInput{CollaboratorID: "c1", URL: "https://cdn.example.com/r.jpg", Description: "refrigerador"}); err != nil {
		t.Fatalf("evidence failed: %v", err)
	}
	if _, err := f.visits.Finish(ctx, v.ID, FinishInput{}); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	f.provider.reply = postvisitReply
	res, err := f.analysis.GeneratePostvisitReview(ctx, v.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Generated || !res.FollowUpRequired || res.Review.FollowUpLevel != "alto" {
		t.Fatalf("unexpected review: %+v", res)
	}
	if res.Context.FeedbackCount != 1 || res.Context.EvidenceCount != 1 {
		t.Fatalf("unexpected context: %+v", res.Context)
	}
	if res.Context.PrevisitID != brief.InsightID || res.Context.PriorVisitID != earlier.ID {
		t.Fatalf("expected previsit %s and prior visit %s, got %+v", brief.InsightID, earlier.ID, res.Context)
	}

	prompt := f.provider.prompts[len(f.provider.prompts)-1]
	if !strings.Contains(prompt, "Refrigerador dañado") || !strings.Contains(prompt, "refrigerador") {
		t.Fatalf("postvisit prompt misses visit context:\n%s", prompt)
	}

	previsits, _ := f.repo.ListInsights(ctx, repository.InsightFilter{Type: models.AnalysisPrevisit})
	if len(previsits) != 1 || !previsits[0].Used {
		t.Fatalf("consumed previsit brief must be marked used: %+v", previsits)
	}
	postvisits, _ := f.repo.ListInsights(ctx, repository.InsightFilter{Type: models.AnalysisPostvisit})
	if len(postvisits) != 1 || !postvisits[0].FollowUpRequired || postvisits[0].VisitID == nil {
		t.Fatalf("unexpected postvisit insight: %+v", postvisits)
	}
}

func TestPostvisitFallbackOnProviderError(t *testing.T) {
	f := newFixture(t)
	v := mustSchedule(t, f, 5, "c1", nil, "2025-06-10T10:00")
	if _, err := f.visits.Finish(context.Background(), v.ID, FinishInput{}); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	f.provider.err = errors.New("timeout")
	res, err := f.analysis.GeneratePostvisitReview(context.Background(), v.ID)
	if err != nil || !res.Fallback || res.Review.FollowUpLevel != "medio" || res.FollowUpRequired {
		t.Fatalf("expected fallback review, got %+v (%v)", res, err)
	}
}

func TestTrendReport(t *testing.T) {
	f := newFixture(t)
	f.feedback.Analysis = nil
	ctx := context.Background()

	if _, err := f.analysis.GenerateTrendReport(ctx, "2w", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for period, got %v", err)
	}

	empty, err := f.analysis.GenerateTrendReport(ctx, "1m", "")
	if err != nil || empty.Generated || empty.Reason != ReasonInsufficientFeedback || f.provider.calls() != 0 {
		t.Fatalf("expected insufficient feedback without a provider call, got %+v (%v)", empty, err)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.feedback.RecordTenderoFeedback(ctx, refrigeratorFeedback()); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	storeID := 5
	if _, err := f.feedback.RecordStoreEvaluation(ctx, StoreEvaluationInput{StoreID: &storeID, CollaboratorID: "c1"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	f.provider.reply = `{"tendencias_principales":["Fallas de refrigeración"],"mapa_estacional":{"junio":"calor"},"recomendaciones_estrategicas":["Mantenimiento preventivo"]}`
	res, err := f.analysis.GenerateTrendReport(ctx, "3months", "bebidas")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Generated || res.Period != "3m" || res.FeedbackCount != 3 || res.EvaluationCount != 1 {
		t.Fatalf("unexpected report: %+v", res)
	}
	if len(res.ByCategory) != 1 || res.ByCategory[0].Key != "servicio/queja" || res.ByCategory[0].Count != 3 {
		t.Fatalf("unexpected category tally: %+v", res.ByCategory)
	}
	if len(res.ByMonth) != 1 || res.ByMonth[0].Key != "2025-06" || res.ByMonth[0].Count != 4 {
		t.Fatalf("unexpected month tally: %+v", res.ByMonth)
	}
	if !strings.Contains(f.provider.prompts[0], "bebidas") {
		t.Fatalf("sector must be part of the prompt")
	}
	trends, _ := f.repo.ListInsights(ctx, repository.InsightFilter{Type: models.AnalysisTrend})
	if len(trends) != 0 {
		t.Fatalf("trend reports are not persisted")
	}
}

func TestPrediction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.reply = `{"nivel_riesgo":"alto","problemas_potenciales":["Desabasto"]}`
	res, err := f.analysis.GeneratePrediction(ctx, 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Generated || res.Prediction.RiskLevel != "alto" || res.InsightID == "" {
		t.Fatalf("unexpected prediction: %+v", res)
	}

	f.provider.reply = `{"problemas_potenciales":["Desabasto"]}`
	res, err = f.analysis.GeneratePrediction(ctx, 12)
	if err != nil || !res.Fallback || res.Prediction.RiskLevel != "medio" {
		t.Fatalf("expected fallback prediction, got %+v (%v)", res, err)
	}
	preds, _ := f.repo.ListInsights(ctx, repository.InsightFilter{Type: models.AnalysisPrediction})
	if len(preds) != 1 {
		t.Fatalf("expected only the validated prediction persisted, got %d", len(preds))
	}
}

func TestInsightsListingAndUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.analysis.ListInsights(ctx, repository.InsightFilter{Type: "horoscope"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := f.analysis.MarkInsightUsed(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	items, err := f.analysis.ListInsights(ctx, repository.InsightFilter{})
	if err != nil || items == nil {
		t.Fatalf("expected empty list, got %v (%v)", items, err)
	}
}
