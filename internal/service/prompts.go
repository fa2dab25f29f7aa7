package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mykrex/dimeloc-backend/internal/models"
)

const promptDateLayout = "2006-01-02 15:04"

func feedbackAnalysisPrompt(storeName string, items []models.TenderoFeedback) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Eres un analista de retail experto. Analiza el feedback de la tienda %q:\n\n", storeName)
	sb.WriteString("COMENTARIOS RECIENTES:\n")
	for i, fb := range items {
		fmt.Fprintf(&sb, "%d. [%s] %s: \"%s - %s\" (Categoría: %s, Tipo: %s, Urgencia: %s)\n",
			i+1, fb.CreatedAt.Format(promptDateLayout), fb.CollaboratorID, fb.Title, fb.Description, fb.Category, fb.Type, fb.Urgency)
	}
	sb.WriteString(`
INSTRUCCIONES:
- Identifica problemas recurrentes o urgentes que requieren acción inmediata
- Detecta tendencias preocupantes que puedan afectar el negocio
- Genera recomendaciones específicas y accionables
- Prioriza por impacto en ventas, seguridad y satisfacción del cliente

RESPONDE EXACTAMENTE EN ESTE FORMATO JSON (sin texto adicional):
{
  "alerts": ["problema urgente que requiere acción inmediata"],
  "insights": ["patrones o tendencias identificadas"],
  "recommendations": ["acciones específicas recomendadas"],
  "priority": "alta|media|baja",
  "summary": "resumen ejecutivo en máximo 50 palabras"
}`)
	return sb.String()
}

func writeStoreMetrics(sb *strings.Builder, st models.Store) {
	fmt.Fprintf(sb, "MÉTRICAS ACTUALES DE LA TIENDA %q (id %d):\n", st.Name, st.ID)
	fmt.Fprintf(sb, "- NPS: %.1f\n- Fill found rate: %.2f%%\n- Damage rate: %.2f%%\n- Out of stock: %.2f%%\n- Tiempo de resolución de quejas: %.1f hrs\n",
		st.NPS, st.FillFoundRate, st.DamageRate, st.OutOfStock, st.ComplaintResolutionHours)
	if st.LastVisitAt != nil {
		fmt.Fprintf(sb, "- Última visita: %s\n", st.LastVisitAt.Format(promptDateLayout))
	} else {
		sb.WriteString("- Última visita: sin registro\n")
	}
}

func writeFeedbackLines(sb *strings.Builder, title string, items []models.TenderoFeedback) {
	fmt.Fprintf(sb, "\n%s (%d):\n", title, len(items))
	if len(items) == 0 {
		sb.WriteString("- Sin registros\n")
		return
	}
	for i, fb := range items {
		status := fb.Status
		if status == "" {
			status = models.FeedbackStatusOpen
		}
		fmt.Fprintf(sb, "%d. [%s] %s/%s urgencia %s, estado %s: %s - %s\n",
			i+1, fb.CreatedAt.Format(promptDateLayout), fb.Category, fb.Type, fb.Urgency, status, fb.Title, fb.Description)
	}
}

func writeEvaluationLines(sb *strings.Builder, title string, items []models.StoreEvaluation) {
	fmt.Fprintf(sb, "\n%s (%d):\n", title, len(items))
	if len(items) == 0 {
		sb.WriteString("- Sin registros\n")
		return
	}
	for i, ev := range items {
		r := ev.Ratings
		fmt.Fprintf(sb, "%d. [%s] limpieza %d, mobiliario %d, inventario %d, servicio %d, organización %d",
			i+1, ev.CreatedAt.Format(promptDateLayout), r.Cleanliness, r.Fixtures, r.Inventory, r.CustomerService, r.Organization)
		if len(ev.Strengths) > 0 {
			fmt.Fprintf(sb, "; fortalezas: %s", strings.Join(ev.Strengths, ", "))
		}
		if len(ev.ImprovementAreas) > 0 {
			fmt.Fprintf(sb, "; áreas de mejora: %s", strings.Join(ev.ImprovementAreas, ", "))
		}
		if len(ev.PriorityRecommendations) > 0 {
			fmt.Fprintf(sb, "; recomendaciones: %s", strings.Join(ev.PriorityRecommendations, ", "))
		}
		if ev.Comments != "" {
			fmt.Fprintf(sb, "; comentarios: %s", ev.Comments)
		}
		sb.WriteString("\n")
	}
}

func writeVisitLines(sb *strings.Builder, title string, items []models.Visit) {
	fmt.Fprintf(sb, "\n%s (%d):\n", title, len(items))
	if len(items) == 0 {
		sb.WriteString("- Sin registros\n")
		return
	}
	for i, v := range items {
		completed := "sin fecha"
		if v.CompletedAt != nil {
			completed = v.CompletedAt.Format(promptDateLayout)
		}
		fmt.Fprintf(sb, "%d. [%s] tipo %s, colaborador %s", i+1, completed, v.VisitType, v.CollaboratorID)
		if v.DurationMinutes != nil {
			fmt.Fprintf(sb, ", duración %d min", *v.DurationMinutes)
		}
		if v.Notes != "" {
			fmt.Fprintf(sb, ", notas: %s", v.Notes)
		}
		sb.WriteString("\n")
	}
}

func previsitPrompt(st models.Store, collaboratorID, visitType string, feedback []models.TenderoFeedback, evals []models.StoreEvaluation, visits []models.Visit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Eres un supervisor de campo experto en retail. El colaborador %s realizará una visita de tipo %q.\n", collaboratorID, visitType)
	sb.WriteString("Prepara un brief previo a la visita con base en el siguiente contexto.\n\n")
	writeStoreMetrics(&sb, st)
	writeFeedbackLines(&sb, "FEEDBACK DEL TENDERO (ÚLTIMOS 6 MESES)", feedback)
	writeEvaluationLines(&sb, "EVALUACIONES PREVIAS", evals)
	writeVisitLines(&sb, "VISITAS COMPLETADAS ANTERIORES", visits)
	sb.WriteString(`
RESPONDE EXACTAMENTE EN ESTE FORMATO JSON (sin texto adicional):
{
  "problemas_pendientes": ["problemas reportados aún sin resolver"],
  "puntos_verificar": ["aspectos a verificar físicamente en la tienda"],
  "preguntas_tendero": ["preguntas específicas para el tendero"],
  "evidencias_capturar": ["fotos o evidencias a capturar"],
  "areas_oportunidad": ["áreas de oportunidad detectadas"],
  "prioridad_visita": "alta|media|baja",
  "tiempo_estimado": "duración estimada de la visita",
  "preparacion_especial": "material o preparación necesaria"
}`)
	return sb.String()
}

type postvisitContext struct {
	Visit      models.Visit
	Store      models.Store
	Feedback   []models.TenderoFeedback
	Evaluation *models.StoreEvaluation
	Evidence   []models.Evidence
	Previsit   *models.Insight
	PriorVisit *models.Visit
	PriorEvals []models.StoreEvaluation
}

func postvisitPrompt(pc postvisitContext) string {
	var sb strings.Builder
	v := pc.Visit
	sb.WriteString("Eres un supervisor de campo experto en retail. Evalúa los resultados de la visita que acaba de concluir.\n\n")
	writeStoreMetrics(&sb, pc.Store)
	fmt.Fprintf(&sb, "\nVISITA: tipo %s, colaborador %s", v.VisitType, v.CollaboratorID)
	if v.CompletedAt != nil {
		fmt.Fprintf(&sb, ", completada %s", v.CompletedAt.Format(promptDateLayout))
	}
	if v.DurationMinutes != nil {
		fmt.Fprintf(&sb, ", duración %d min", *v.DurationMinutes)
	}
	if v.Notes != "" {
		fmt.Fprintf(&sb, ", notas: %s", v.Notes)
	}
	sb.WriteString("\n")
	writeFeedbackLines(&sb, "FEEDBACK CAPTURADO EN LA VISITA", pc.Feedback)
	if pc.Evaluation != nil {
		writeEvaluationLines(&sb, "EVALUACIÓN DE LA TIENDA EN LA VISITA", []models.StoreEvaluation{*pc.Evaluation})
	} else {
		sb.WriteString("\nEVALUACIÓN DE LA TIENDA EN LA VISITA: no registrada\n")
	}
	fmt.Fprintf(&sb, "\nEVIDENCIAS (%d):\n", len(pc.Evidence))
	for i, e := range pc.Evidence {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, e.Kind, e.Description)
	}
	if pc.Previsit != nil {
		fmt.Fprintf(&sb, "\nBRIEF PREVIO A LA VISITA (%s):\n%s\n", pc.Previsit.CreatedAt.Format(promptDateLayout), string(pc.Previsit.Result))
	} else {
		sb.WriteString("\nBRIEF PREVIO A LA VISITA: no generado\n")
	}
	if pc.PriorVisit != nil {
		writeVisitLines(&sb, "VISITA COMPLETADA ANTERIOR", []models.Visit{*pc.PriorVisit})
		if len(pc.PriorEvals) > 0 {
			writeEvaluationLines(&sb, "EVALUACIÓN DE LA VISITA ANTERIOR", pc.PriorEvals)
		}
	}
	sb.WriteString(`
RESPONDE EXACTAMENTE EN ESTE FORMATO JSON (sin texto adicional):
{
  "resumen_ejecutivo": "resumen de la visita en máximo 60 palabras",
  "mejoras_confirmadas": ["mejoras observadas respecto a la visita anterior"],
  "problemas_nuevos": ["problemas detectados por primera vez"],
  "seguimiento_requerido": ["temas que requieren seguimiento"],
  "efectividad_recomendaciones": "alta|media|baja",
  "proximas_acciones": ["acciones para la siguiente visita"],
  "nivel_seguimiento": "alto|medio|bajo",
  "fecha_proxima_visita": "fecha sugerida para la próxima visita",
  "acciones_inmediatas": ["acciones que deben ejecutarse de inmediato"]
}`)
	return sb.String()
}

type Tally struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// sortedTallies orders by count descending, then key, so prompts are stable.
func sortedTallies(m map[string]int) []Tally {
	out := make([]Tally, 0, len(m))
	for k, n := range m {
		out = append(out, Tally{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func trendPrompt(period, sector string, feedbackCount, evalCount int, byCategory, byMonth []Tally, avg models.Ratings) string {
	var sb strings.Builder
	sb.WriteString("Eres un analista estratégico de retail. Identifica tendencias en el feedback de la red de tiendas.\n\n")
	fmt.Fprintf(&sb, "PERIODO ANALIZADO: %s\n", period)
	if sector != "" {
		fmt.Fprintf(&sb, "SECTOR: %s\n", sector)
	}
	fmt.Fprintf(&sb, "TOTAL DE FEEDBACK DEL TENDERO: %d\nTOTAL DE EVALUACIONES: %d\n", feedbackCount, evalCount)
	sb.WriteString("\nFRECUENCIA POR CATEGORÍA/TIPO:\n")
	for _, t := range byCategory {
		fmt.Fprintf(&sb, "- %s: %d\n", t.Key, t.Count)
	}
	sb.WriteString("\nFRECUENCIA POR MES:\n")
	for _, t := range byMonth {
		fmt.Fprintf(&sb, "- %s: %d\n", t.Key, t.Count)
	}
	if evalCount > 0 {
		fmt.Fprintf(&sb, "\nPROMEDIO DE CALIFICACIONES: limpieza %d, mobiliario %d, inventario %d, servicio %d, organización %d\n",
			avg.Cleanliness, avg.Fixtures, avg.Inventory, avg.CustomerService, avg.Organization)
	}
	sb.WriteString(`
RESPONDE EXACTAMENTE EN ESTE FORMATO JSON (sin texto adicional):
{
  "tendencias_principales": ["tendencias más relevantes"],
  "mapa_estacional": {"mes": "problema típico del mes"},
  "areas_oportunidad_sistemicas": ["áreas de oportunidad de toda la red"],
  "predicciones_3_meses": ["predicciones para los próximos 3 meses"],
  "senales_alerta_temprana": ["señales de alerta temprana"],
  "recomendaciones_estrategicas": ["recomendaciones estratégicas"]
}`)
	return sb.String()
}

func predictionPrompt(st models.Store, feedback []models.TenderoFeedback, evals []models.StoreEvaluation) string {
	var sb strings.Builder
	sb.WriteString("Eres un analista predictivo de retail. Anticipa los problemas que puede presentar esta tienda.\n\n")
	writeStoreMetrics(&sb, st)
	writeFeedbackLines(&sb, "FEEDBACK DEL TENDERO (ÚLTIMOS 6 MESES)", feedback)
	writeEvaluationLines(&sb, "EVALUACIONES (ÚLTIMOS 6 MESES)", evals)
	sb.WriteString(`
RESPONDE EXACTAMENTE EN ESTE FORMATO JSON (sin texto adicional):
{
  "problemas_potenciales": ["problemas que probablemente ocurrirán"],
  "metricas_riesgo": ["métricas en riesgo"],
  "acciones_preventivas": ["acciones preventivas"],
  "frecuencia_visitas_sugerida": "frecuencia de visitas recomendada",
  "nivel_riesgo": "alto|medio|bajo",
  "indicadores_alerta": ["indicadores a monitorear"],
  "recomendaciones_inmediatas": ["recomendaciones inmediatas"]
}`)
	return sb.String()
}
