package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mykrex/dimeloc-backend/internal/ai"
	"github.com/mykrex/dimeloc-backend/internal/metrics"
	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

const (
	feedbackAnalysisWindow = 10
	previsitFeedbackLimit  = 20
	previsitEvalLimit      = 10
	previsitVisitLimit     = 5
	previsitFreshness      = 7 * 24 * time.Hour

	ReasonInsufficientFeedback = "insufficient feedback"
	ReasonProviderUnavailable  = "analysis provider unavailable"
)

// Orchestrator builds analysis context, calls the text analysis provider once and checks
// its answer. A provider failure of any kind yields the method's fallback payload instead
// of an error.
type Orchestrator struct {
	Repo    repository.Repository
	Catalog *CatalogService
	AI      ai.Adapter
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Outcome is shared by every analysis response. Generated is true only when the provider
// answer passed validation.
type Outcome struct {
	Generated bool   `json:"generated"`
	Fallback  bool   `json:"fallback"`
	Reason    string `json:"reason,omitempty"`
	InsightID string `json:"insight_id,omitempty"`
}

// ask sends prompt and decodes the answer into out. The returned raw JSON is nil on any
// failure, which the caller turns into its fallback.
func (o *Orchestrator) ask(ctx context.Context, analysisType, prompt string, out any, required ...string) json.RawMessage {
	log := o.Logger.With().Str("analysis_type", analysisType).Logger()
	if o.AI == nil {
		metrics.AnalysisFallbacks.WithLabelValues(analysisType).Inc()
		log.Warn().Msg("no analysis provider configured")
		return nil
	}
	text, err := o.AI.Generate(ctx, prompt)
	if err != nil {
		metrics.AnalysisFallbacks.WithLabelValues(analysisType).Inc()
		log.Warn().Err(err).Msg("analysis provider call failed")
		return nil
	}
	raw, err := ai.Decode(text, out, required...)
	if err != nil {
		metrics.AnalysisFallbacks.WithLabelValues(analysisType).Inc()
		var missing *ai.MissingKeysError
		if errors.As(err, &missing) {
			log.Warn().Strs("missing", missing.Keys).Msg("analysis answer incomplete")
		} else {
			log.Warn().Err(err).Msg("analysis answer unparsable")
		}
		return nil
	}
	return raw
}

// store resolves the store for prompt context. Analysis continues with a placeholder when
// the store or the catalog is unavailable.
func (o *Orchestrator) store(ctx context.Context, id int) models.Store {
	if o.Catalog != nil {
		st, found, err := o.Catalog.GetStore(ctx, id)
		if err != nil {
			o.Logger.Warn().Err(err).Int("store_id", id).Msg("catalog unavailable for analysis")
		} else if found {
			if st.Name == "" {
				st.Name = PlaceholderName(id)
			}
			return st
		}
	}
	return models.Store{ID: id, Name: PlaceholderName(id)}
}

// persist stores a validated analysis. created is pushed past the newest input so every
// input ref predates the insight. Failures are logged and return "".
func (o *Orchestrator) persist(ctx context.Context, in models.Insight, newestInput time.Time) string {
	in.ID = uuid.NewString()
	in.CreatedAt = now(o.Now)
	if !in.CreatedAt.After(newestInput) {
		in.CreatedAt = newestInput.Add(time.Millisecond)
	}
	if in.InputRefs == nil {
		in.InputRefs = []string{}
	}
	if err := o.Repo.InsertInsight(ctx, in); err != nil {
		o.Logger.Error().Err(err).Int("store_id", in.StoreID).Str("analysis_type", in.AnalysisType).Msg("insight write failed")
		return ""
	}
	return in.ID
}

type FeedbackAnalysisResult struct {
	Alerts          []string `json:"alerts"`
	Insights        []string `json:"insights"`
	Recommendations []string `json:"recommendations"`
	Priority        string   `json:"priority"`
	Summary         string   `json:"summary"`
}

func feedbackFallback(n int) FeedbackAnalysisResult {
	return FeedbackAnalysisResult{
		Alerts:          []string{"Error en análisis automático - revisar manualmente"},
		Insights:        []string{fmt.Sprintf("Análisis no disponible para %d comentario(s)", n)},
		Recommendations: []string{"Revisar comentarios manualmente", "Verificar conectividad con sistema de análisis"},
		Priority:        "media",
		Summary:         "Análisis automático falló - requiere revisión manual",
	}
}

type FeedbackAnalysis struct {
	Outcome
	StoreID       int                     `json:"store_id"`
	StoreName     string                  `json:"store_name"`
	FeedbackCount int                     `json:"feedback_count"`
	Analysis      *FeedbackAnalysisResult `json:"analysis,omitempty"`
}

// AnalyzeAfterFeedback summarizes the store's most recent feedback. With no feedback it
// returns generated=false without calling the provider.
func (o *Orchestrator) AnalyzeAfterFeedback(ctx context.Context, storeID int) (FeedbackAnalysis, error) {
	items, err := o.Repo.ListTenderoFeedback(ctx, repository.FeedbackFilter{
		StoreID: &storeID,
		Limit:   feedbackAnalysisWindow,
	})
	if err != nil {
		return FeedbackAnalysis{}, err
	}
	st := o.store(ctx, storeID)
	res := FeedbackAnalysis{StoreID: storeID, StoreName: st.Name, FeedbackCount: len(items)}
	if len(items) == 0 {
		res.Reason = ReasonInsufficientFeedback
		return res, nil
	}

	var out FeedbackAnalysisResult
	raw := o.ask(ctx, models.AnalysisFeedbackSummary, feedbackAnalysisPrompt(st.Name, items), &out,
		"alerts", "insights", "recommendations", "priority")
	if raw == nil {
		fb := feedbackFallback(len(items))
		res.Fallback = true
		res.Reason = ReasonProviderUnavailable
		res.Analysis = &fb
		return res, nil
	}

	refs := make([]string, 0, len(items))
	var newest time.Time
	for _, fb := range items {
		refs = append(refs, fb.ID)
		if fb.CreatedAt.After(newest) {
			newest = fb.CreatedAt
		}
	}
	res.Generated = true
	res.Analysis = &out
	res.InsightID = o.persist(ctx, models.Insight{
		StoreID:      storeID,
		AnalysisType: models.AnalysisFeedbackSummary,
		InputRefs:    refs,
		Result:       raw,
	}, newest)
	return res, nil
}

type PrevisitBrief struct {
	PendingProblems    []string `json:"problemas_pendientes"`
	PointsToVerify     []string `json:"puntos_verificar"`
	OwnerQuestions     []string `json:"preguntas_tendero"`
	EvidenceToCapture  []string `json:"evidencias_capturar"`
	OpportunityAreas   []string `json:"areas_oportunidad"`
	VisitPriority      string   `json:"prioridad_visita"`
	EstimatedTime      string   `json:"tiempo_estimado"`
	SpecialPreparation string   `json:"preparacion_especial"`
}

func previsitFallback() PrevisitBrief {
	return PrevisitBrief{
		PendingProblems:    []string{"Revisar manualmente el historial de feedback de la tienda"},
		PointsToVerify:     []string{"Estado general de la tienda", "Exhibición y disponibilidad de producto", "Equipos de refrigeración"},
		OwnerQuestions:     []string{"¿Hay algún problema pendiente que debamos atender?"},
		EvidenceToCapture:  []string{"Foto general de la tienda", "Foto de anaqueles principales"},
		OpportunityAreas:   []string{},
		VisitPriority:      "media",
		EstimatedTime:      "45 minutos",
		SpecialPreparation: "Brief automático no disponible - revisar historial manualmente",
	}
}

type PrevisitContextSummary struct {
	FeedbackCount   int `json:"feedback_count"`
	EvaluationCount int `json:"evaluation_count"`
	PriorVisits     int `json:"prior_visits"`
}

type PrevisitResponse struct {
	Outcome
	StoreID        int                    `json:"store_id"`
	StoreName      string                 `json:"store_name"`
	CollaboratorID string                 `json:"collaborator_id"`
	VisitType      string                 `json:"visit_type"`
	Context        PrevisitContextSummary `json:"context"`
	Brief          PrevisitBrief          `json:"brief"`
}

type PrevisitInput struct {
	CollaboratorID string `json:"collaboratorId" validate:"required"`
	VisitType      string `json:"visitType"`
}

// GeneratePrevisitBrief prepares a collaborator for a store visit. Validated briefs are
// stored as unused previsit insights.
func (o *Orchestrator) GeneratePrevisitBrief(ctx context.Context, storeID int, in PrevisitInput) (PrevisitResponse, error) {
	in.CollaboratorID = strings.TrimSpace(in.CollaboratorID)
	if err := checkStruct(in); err != nil {
		return PrevisitResponse{}, err
	}
	visitType := strings.TrimSpace(in.VisitType)
	if visitType == "" {
		visitType = defaultVisitType
	}
	at := now(o.Now)

	feedback, err := o.Repo.ListTenderoFeedback(ctx, repository.FeedbackFilter{
		StoreID: &storeID,
		Since:   at.AddDate(0, -6, 0),
		Limit:   previsitFeedbackLimit,
	})
	if err != nil {
		return PrevisitResponse{}, err
	}
	evals, err := o.Repo.ListStoreEvaluations(ctx, repository.FeedbackFilter{StoreID: &storeID, Limit: previsitEvalLimit})
	if err != nil {
		return PrevisitResponse{}, err
	}
	visits, err := o.Repo.ListVisits(ctx, repository.VisitFilter{
		StoreID:    &storeID,
		States:     []string{models.VisitStateCompleted},
		SortBy:     repository.SortCompletedAt,
		Descending: true,
		Limit:      previsitVisitLimit,
	})
	if err != nil {
		return PrevisitResponse{}, err
	}

	st := o.store(ctx, storeID)
	res := PrevisitResponse{
		StoreID:        storeID,
		StoreName:      st.Name,
		CollaboratorID: in.CollaboratorID,
		VisitType:      visitType,
		Context: PrevisitContextSummary{
			FeedbackCount:   len(feedback),
			EvaluationCount: len(evals),
			PriorVisits:     len(visits),
		},
	}

	var brief PrevisitBrief
	raw := o.ask(ctx, models.AnalysisPrevisit, previsitPrompt(st, in.CollaboratorID, visitType, feedback, evals, visits), &brief,
		"problemas_pendientes", "puntos_verificar")
	if raw == nil {
		res.Fallback = true
		res.Reason = ReasonProviderUnavailable
		res.Brief = previsitFallback()
		return res, nil
	}

	refs, newest := feedbackRefs(feedback, evals)
	res.Generated = true
	res.Brief = brief
	res.InsightID = o.persist(ctx, models.Insight{
		StoreID:        storeID,
		CollaboratorID: in.CollaboratorID,
		AnalysisType:   models.AnalysisPrevisit,
		InputRefs:      refs,
		Result:         raw,
	}, newest)
	return res, nil
}

func feedbackRefs(feedback []models.TenderoFeedback, evals []models.StoreEvaluation) ([]string, time.Time) {
	refs := make([]string, 0, len(feedback)+len(evals))
	var newest time.Time
	for _, fb := range feedback {
		refs = append(refs, fb.ID)
		if fb.CreatedAt.After(newest) {
			newest = fb.CreatedAt
		}
	}
	for _, ev := range evals {
		refs = append(refs, ev.ID)
		if ev.CreatedAt.After(newest) {
			newest = ev.CreatedAt
		}
	}
	return refs, newest
}

type PostvisitReview struct {
	ExecutiveSummary            string   `json:"resumen_ejecutivo"`
	ConfirmedImprovements       []string `json:"mejoras_confirmadas"`
	NewProblems                 []string `json:"problemas_nuevos"`
	RequiredFollowUp            []string `json:"seguimiento_requerido"`
	RecommendationEffectiveness string   `json:"efectividad_recomendaciones"`
	NextActions                 []string `json:"proximas_acciones"`
	FollowUpLevel               string   `json:"nivel_seguimiento"`
	NextVisitDate               string   `json:"fecha_proxima_visita"`
	ImmediateActions            []string `json:"acciones_inmediatas"`
}

func postvisitFallback() PostvisitReview {
	return PostvisitReview{
		ExecutiveSummary:            "Análisis automático de la visita no disponible - requiere revisión manual",
		ConfirmedImprovements:       []string{},
		NewProblems:                 []string{},
		RequiredFollowUp:            []string{"Revisar manualmente el feedback y las evidencias de la visita"},
		RecommendationEffectiveness: "sin evaluar",
		NextActions:                 []string{"Revisar resultados de la visita con el supervisor"},
		FollowUpLevel:               "medio",
		NextVisitDate:               "según calendario regular",
		ImmediateActions:            []string{},
	}
}

type PostvisitContextSummary struct {
	FeedbackCount int    `json:"feedback_count"`
	HasEvaluation bool   `json:"has_evaluation"`
	EvidenceCount int    `json:"evidence_count"`
	PrevisitID    string `json:"previsit_insight_id,omitempty"`
	PriorVisitID  string `json:"prior_visit_id,omitempty"`
}

type PostvisitResponse struct {
	Outcome
	VisitID          string                  `json:"visit_id"`
	StoreID          int                     `json:"store_id"`
	StoreName        string                  `json:"store_name"`
	FollowUpRequired bool                    `json:"seguimiento_requerido"`
	Context          PostvisitContextSummary `json:"context"`
	Review           PostvisitReview         `json:"review"`
}

// GeneratePostvisitReview reviews a completed visit against its previsit brief and the
// store's previous completed visit.
func (o *Orchestrator) GeneratePostvisitReview(ctx context.Context, visitID string) (PostvisitResponse, error) {
	visitID = strings.TrimSpace(visitID)
	if visitID == "" {
		return PostvisitResponse{}, validationError("missing required fields", "visitId")
	}
	v, err := o.Repo.GetVisit(ctx, visitID)
	if err != nil {
		return PostvisitResponse{}, storageError(err, "visit")
	}
	if v.State != models.VisitStateCompleted || v.CompletedAt == nil {
		return PostvisitResponse{}, stateError("visit is not completed")
	}
	at := now(o.Now)

	pc := postvisitContext{Visit: v, Store: o.store(ctx, v.StoreID)}
	if pc.Feedback, err = o.Repo.ListTenderoFeedback(ctx, repository.FeedbackFilter{VisitID: v.ID}); err != nil {
		return PostvisitResponse{}, err
	}
	evals, err := o.Repo.ListStoreEvaluations(ctx, repository.FeedbackFilter{VisitID: v.ID, Limit: 1})
	if err != nil {
		return PostvisitResponse{}, err
	}
	if len(evals) > 0 {
		pc.Evaluation = &evals[0]
	}
	if pc.Evidence, err = o.Repo.ListEvidence(ctx, v.ID); err != nil {
		return PostvisitResponse{}, err
	}
	briefs, err := o.Repo.ListInsights(ctx, repository.InsightFilter{
		StoreID:        &v.StoreID,
		CollaboratorID: v.CollaboratorID,
		Type:           models.AnalysisPrevisit,
		Since:          at.Add(-previsitFreshness),
		Limit:          1,
	})
	if err != nil {
		return PostvisitResponse{}, err
	}
	if len(briefs) > 0 {
		pc.Previsit = &briefs[0]
	}
	prior, err := o.Repo.ListVisits(ctx, repository.VisitFilter{
		StoreID:         &v.StoreID,
		States:          []string{models.VisitStateCompleted},
		CompletedBefore: *v.CompletedAt,
		SortBy:          repository.SortCompletedAt,
		Descending:      true,
		Limit:           1,
	})
	if err != nil {
		return PostvisitResponse{}, err
	}
	if len(prior) > 0 {
		pc.PriorVisit = &prior[0]
		if pc.PriorEvals, err = o.Repo.ListStoreEvaluations(ctx, repository.FeedbackFilter{VisitID: prior[0].ID, Limit: 1}); err != nil {
			return PostvisitResponse{}, err
		}
	}

	res := PostvisitResponse{
		VisitID:   v.ID,
		StoreID:   v.StoreID,
		StoreName: pc.Store.Name,
		Context: PostvisitContextSummary{
			FeedbackCount: len(pc.Feedback),
			HasEvaluation: pc.Evaluation != nil,
			EvidenceCount: len(pc.Evidence),
		},
	}
	if pc.Previsit != nil {
		res.Context.PrevisitID = pc.Previsit.ID
	}
	if pc.PriorVisit != nil {
		res.Context.PriorVisitID = pc.PriorVisit.ID
	}

	var review PostvisitReview
	raw := o.ask(ctx, models.AnalysisPostvisit, postvisitPrompt(pc), &review, "resumen_ejecutivo", "nivel_seguimiento")
	if raw == nil {
		res.Fallback = true
		res.Reason = ReasonProviderUnavailable
		res.Review = postvisitFallback()
		res.FollowUpRequired = followUpRequired(res.Review.FollowUpLevel)
		return res, nil
	}

	refs, newest := feedbackRefs(pc.Feedback, evals)
	if pc.Previsit != nil {
		refs = append(refs, pc.Previsit.ID)
		if pc.Previsit.CreatedAt.After(newest) {
			newest = pc.Previsit.CreatedAt
		}
	}
	visitRef := v.ID
	res.Generated = true
	res.Review = review
	res.FollowUpRequired = followUpRequired(review.FollowUpLevel)
	res.InsightID = o.persist(ctx, models.Insight{
		StoreID:          v.StoreID,
		VisitID:          &visitRef,
		CollaboratorID:   v.CollaboratorID,
		AnalysisType:     models.AnalysisPostvisit,
		InputRefs:        refs,
		Result:           raw,
		FollowUpRequired: res.FollowUpRequired,
	}, newest)
	if pc.Previsit != nil && !pc.Previsit.Used {
		if err := o.Repo.MarkInsightUsed(ctx, pc.Previsit.ID); err != nil {
			o.Logger.Warn().Err(err).Str("insight_id", pc.Previsit.ID).Msg("previsit brief not marked used")
		}
	}
	return res, nil
}

func followUpRequired(level string) bool {
	return strings.EqualFold(strings.TrimSpace(level), "alto")
}

type TrendReport struct {
	MainTrends               []string       `json:"tendencias_principales"`
	SeasonalMap              map[string]any `json:"mapa_estacional"`
	SystemicOpportunityAreas []string       `json:"areas_oportunidad_sistemicas"`
	Predictions3Months       []string       `json:"predicciones_3_meses"`
	EarlyWarningSignals      []string       `json:"senales_alerta_temprana"`
	StrategicRecommendations []string       `json:"recomendaciones_estrategicas"`
}

func trendFallback() TrendReport {
	return TrendReport{
		MainTrends:               []string{"Análisis de tendencias no disponible - revisar frecuencias manualmente"},
		SeasonalMap:              map[string]any{},
		SystemicOpportunityAreas: []string{},
		Predictions3Months:       []string{},
		EarlyWarningSignals:      []string{},
		StrategicRecommendations: []string{"Revisar las categorías con mayor frecuencia de reportes"},
	}
}

type TrendResponse struct {
	Outcome
	Period          string      `json:"period"`
	Sector          string      `json:"sector,omitempty"`
	Since           time.Time   `json:"since"`
	FeedbackCount   int         `json:"feedback_count"`
	EvaluationCount int         `json:"evaluation_count"`
	ByCategory      []Tally     `json:"by_category"`
	ByMonth         []Tally     `json:"by_month"`
	Report          TrendReport `json:"report"`
}

// ParsePeriod returns the lookback start for 1m, 3m, 6m or 1y (long forms accepted).
// Empty means 3 months.
func ParsePeriod(period string, from time.Time) (string, time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "1m", "1month", "1_month":
		return "1m", from.AddDate(0, -1, 0), nil
	case "", "3m", "3months", "3_months":
		return "3m", from.AddDate(0, -3, 0), nil
	case "6m", "6months", "6_months":
		return "6m", from.AddDate(0, -6, 0), nil
	case "1y", "1year", "1_year", "12m":
		return "1y", from.AddDate(-1, 0, 0), nil
	}
	return "", time.Time{}, validationError("period must be 1m, 3m, 6m or 1y", "period")
}

// GenerateTrendReport tallies all feedback in the window and asks for a network-wide
// trend report. Reports are not persisted.
func (o *Orchestrator) GenerateTrendReport(ctx context.Context, period, sector string) (TrendResponse, error) {
	at := now(o.Now)
	label, since, err := ParsePeriod(period, at)
	if err != nil {
		return TrendResponse{}, err
	}
	sector = strings.TrimSpace(sector)
	feedback, err := o.Repo.ListTenderoFeedback(ctx, repository.FeedbackFilter{Since: since})
	if err != nil {
		return TrendResponse{}, err
	}
	evals, err := o.Repo.ListStoreEvaluations(ctx, repository.FeedbackFilter{Since: since})
	if err != nil {
		return TrendResponse{}, err
	}

	byCategory := map[string]int{}
	byMonth := map[string]int{}
	for _, fb := range feedback {
		byCategory[fb.Category+"/"+fb.Type]++
		byMonth[fb.CreatedAt.Format("2006-01")]++
	}
	for _, ev := range evals {
		byMonth[ev.CreatedAt.Format("2006-01")]++
	}

	res := TrendResponse{
		Period:          label,
		Sector:          sector,
		Since:           since,
		FeedbackCount:   len(feedback),
		EvaluationCount: len(evals),
		ByCategory:      sortedTallies(byCategory),
		ByMonth:         sortedTallies(byMonth),
	}
	if len(feedback)+len(evals) == 0 {
		res.Reason = ReasonInsufficientFeedback
		res.Report = trendFallback()
		return res, nil
	}

	var report TrendReport
	raw := o.ask(ctx, models.AnalysisTrend, trendPrompt(label, sector, len(feedback), len(evals), res.ByCategory, res.ByMonth, averageRatings(evals)),
		&report, "tendencias_principales", "recomendaciones_estrategicas")
	if raw == nil {
		res.Fallback = true
		res.Reason = ReasonProviderUnavailable
		res.Report = trendFallback()
		return res, nil
	}
	res.Generated = true
	res.Report = report
	return res, nil
}

func averageRatings(evals []models.StoreEvaluation) models.Ratings {
	var sum models.Ratings
	if len(evals) == 0 {
		return sum
	}
	for _, ev := range evals {
		sum.Cleanliness += ev.Ratings.Cleanliness
		sum.Fixtures += ev.Ratings.Fixtures
		sum.Inventory += ev.Ratings.Inventory
		sum.CustomerService += ev.Ratings.CustomerService
		sum.Organization += ev.Ratings.Organization
	}
	n := len(evals)
	return models.Ratings{
		Cleanliness:     sum.Cleanliness / n,
		Fixtures:        sum.Fixtures / n,
		Inventory:       sum.Inventory / n,
		CustomerService: sum.CustomerService / n,
		Organization:    sum.Organization / n,
	}
}

type Prediction struct {
	PotentialProblems        []string `json:"problemas_potenciales"`
	AtRiskMetrics            []string `json:"metricas_riesgo"`
	PreventiveActions        []string `json:"acciones_preventivas"`
	SuggestedVisitCadence    string   `json:"frecuencia_visitas_sugerida"`
	RiskLevel                string   `json:"nivel_riesgo"`
	AlertIndicators          []string `json:"indicadores_alerta"`
	ImmediateRecommendations []string `json:"recomendaciones_inmediatas"`
}

func predictionFallback() Prediction {
	return Prediction{
		PotentialProblems:        []string{"Predicción no disponible - revisar métricas manualmente"},
		AtRiskMetrics:            []string{},
		PreventiveActions:        []string{"Mantener frecuencia de visitas regular"},
		SuggestedVisitCadence:    "quincenal",
		RiskLevel:                "medio",
		AlertIndicators:          []string{},
		ImmediateRecommendations: []string{},
	}
}

type PredictionResponse struct {
	Outcome
	StoreID         int        `json:"store_id"`
	StoreName       string     `json:"store_name"`
	FeedbackCount   int        `json:"feedback_count"`
	EvaluationCount int        `json:"evaluation_count"`
	Prediction      Prediction `json:"prediction"`
}

// GeneratePrediction forecasts store problems from the last six months of feedback and
// the current metrics. Validated predictions are stored as prediction insights.
func (o *Orchestrator) GeneratePrediction(ctx context.Context, storeID int) (PredictionResponse, error) {
	since := now(o.Now).AddDate(0, -6, 0)
	feedback, err := o.Repo.ListTenderoFeedback(ctx, repository.FeedbackFilter{StoreID: &storeID, Since: since})
	if err != nil {
		return PredictionResponse{}, err
	}
	evals, err := o.Repo.ListStoreEvaluations(ctx, repository.FeedbackFilter{StoreID: &storeID, Since: since})
	if err != nil {
		return PredictionResponse{}, err
	}
	st := o.store(ctx, storeID)
	res := PredictionResponse{
		StoreID:         storeID,
		StoreName:       st.Name,
		FeedbackCount:   len(feedback),
		EvaluationCount: len(evals),
	}

	var p Prediction
	raw := o.ask(ctx, models.AnalysisPrediction, predictionPrompt(st, feedback, evals), &p, "nivel_riesgo")
	if raw == nil {
		res.Fallback = true
		res.Reason = ReasonProviderUnavailable
		res.Prediction = predictionFallback()
		return res, nil
	}
	refs, newest := feedbackRefs(feedback, evals)
	res.Generated = true
	res.Prediction = p
	res.InsightID = o.persist(ctx, models.Insight{
		StoreID:      storeID,
		AnalysisType: models.AnalysisPrediction,
		InputRefs:    refs,
		Result:       raw,
	}, newest)
	return res, nil
}

var analysisTypes = map[string]bool{
	models.AnalysisPrevisit:        true,
	models.AnalysisPostvisit:       true,
	models.AnalysisTrend:           true,
	models.AnalysisPrediction:      true,
	models.AnalysisFeedbackSummary: true,
}

func (o *Orchestrator) ListInsights(ctx context.Context, f repository.InsightFilter) ([]models.Insight, error) {
	if f.Type != "" && !analysisTypes[f.Type] {
		return nil, validationError("unknown analysis type", "type")
	}
	if f.Limit <= 0 {
		f.Limit = defaultFeedbackLimit
	}
	items, err := o.Repo.ListInsights(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Insight{}
	}
	return items, nil
}

func (o *Orchestrator) MarkInsightUsed(ctx context.Context, id string) error {
	return storageError(o.Repo.MarkInsightUsed(ctx, id), "insight")
}
