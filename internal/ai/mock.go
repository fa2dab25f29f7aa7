package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// MockAdapter answers every prompt with one fenced JSON object that carries the keys of
// every analysis schema. Values are derived from a hash of the prompt so repeated prompts
// get the same answer.
type MockAdapter struct {
	ModelVersion string
}

func (m MockAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := promptSeed(prompt)
	levels := []string{"alta", "media", "baja"}
	followUps := []string{"alto", "medio", "bajo"}
	level := levels[int(h%uint64(len(levels)))]
	followUp := followUps[int((h/7)%uint64(len(followUps)))]

	payload := map[string]any{
		"alerts":          []string{"Revisar incidencias abiertas de la tienda"},
		"insights":        []string{fmt.Sprintf("Patrón simulado %d", h%1000)},
		"recommendations": []string{"Programar visita de seguimiento"},
		"priority":        level,
		"summary":         "Análisis simulado para entorno de desarrollo",

		"problemas_pendientes": []string{"Incidencias sin resolver en el último mes"},
		"puntos_verificar":     []string{"Estado de refrigeradores", "Exhibición de producto"},
		"preguntas_tendero":    []string{"¿Se resolvió la última queja?"},
		"evidencias_capturar":  []string{"Foto de anaquel principal"},
		"areas_oportunidad":    []string{"Reducir desabasto"},
		"prioridad_visita":     level,
		"tiempo_estimado":      "45 minutos",
		"preparacion_especial": "Ninguna",

		"resumen_ejecutivo":           "Visita simulada completada",
		"mejoras_confirmadas":         []string{"Orden en bodega"},
		"problemas_nuevos":            []string{},
		"seguimiento_requerido":       []string{"Confirmar reposición de inventario"},
		"efectividad_recomendaciones": "parcial",
		"proximas_acciones":           []string{"Llamar al tendero en una semana"},
		"nivel_seguimiento":           followUp,
		"fecha_proxima_visita":        "en 15 días",
		"acciones_inmediatas":         []string{},

		"tendencias_principales":       []string{"Quejas de servicio estables"},
		"mapa_estacional":              map[string]string{"diciembre": "desabasto por temporada alta"},
		"areas_oportunidad_sistemicas": []string{"Logística de reparto"},
		"predicciones_3_meses":         []string{"Aumento de reportes de refrigeración"},
		"senales_alerta_temprana":      []string{"Dos quejas críticas en una semana"},
		"recomendaciones_estrategicas": []string{"Revisar proveedor de refrigeración"},

		"problemas_potenciales":       []string{"Desabasto recurrente"},
		"metricas_riesgo":             []string{"out_of_stock"},
		"acciones_preventivas":        []string{"Aumentar frecuencia de pedido"},
		"frecuencia_visitas_sugerida": "quincenal",
		"nivel_riesgo":                level,
		"indicadores_alerta":          []string{"NPS menor a 30"},
		"recomendaciones_inmediatas":  []string{"Visitar esta semana"},

		"modelo": m.ModelVersion,
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return "```json\n" + string(b) + "\n```", nil
}

func promptSeed(prompt string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	return h.Sum64()
}
