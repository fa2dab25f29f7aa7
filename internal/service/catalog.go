package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mykrex/dimeloc-backend/internal/geocode"
	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

const (
	VisitStatusRecent  = "recent"
	VisitStatusNormal  = "normal"
	VisitStatusPending = "pending"
	VisitStatusUrgent  = "urgent"

	// neverVisitedDays is a policy default, not a measured duration.
	neverVisitedDays = 30

	defaultNearRadiusKm = 5.0
)

// CatalogService reads the GeoJSON store catalog and the per-store freshness markers.
type CatalogService struct {
	Repo   repository.Repository
	Logger zerolog.Logger
	Now    func() time.Time
}

// ComputeVisitStatus buckets the days since the last visit: <=7 recent, <=15 normal,
// <=25 pending, otherwise urgent.
func ComputeVisitStatus(store models.Store, at time.Time) (int, string) {
	if store.LastVisitAt == nil {
		return neverVisitedDays, VisitStatusUrgent
	}
	days := int(at.Sub(*store.LastVisitAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	switch {
	case days <= 7:
		return days, VisitStatusRecent
	case days <= 15:
		return days, VisitStatusNormal
	case days <= 25:
		return days, VisitStatusPending
	default:
		return days, VisitStatusUrgent
	}
}

// ProjectFeatures maps each feature to a Store. The id comes from col0 when it parses as
// an integer, else the feature's position.
func ProjectFeatures(fc models.FeatureCollection) []models.Store {
	stores := make([]models.Store, 0, len(fc.Features))
	for i, f := range fc.Features {
		p := f.Properties
		s := models.Store{
			ID:                       i,
			Name:                     propString(p, "nombre", "name"),
			Address:                  propString(p, "direccion", "address"),
			Hours:                    propString(p, "horario", "hours"),
			NPS:                      propFloat(p, "nps"),
			FillFoundRate:            propFloat(p, "fillfoundrate", "fill_found_rate"),
			DamageRate:               propFloat(p, "damage_rate"),
			OutOfStock:               propFloat(p, "out_of_stock"),
			ComplaintResolutionHours: propFloat(p, "complaint_resolution_time_hrs", "complaint_resolution_hours"),
		}
		if id, ok := propInt(p, "col0"); ok {
			s.ID = id
		}
		if len(f.Geometry.Coordinates) >= 2 {
			s.Longitude = f.Geometry.Coordinates[0]
			s.Latitude = f.Geometry.Coordinates[1]
		}
		stores = append(stores, s)
	}
	return stores
}

func (c *CatalogService) ListStores(ctx context.Context) ([]models.Store, error) {
	fc, err := c.Repo.LoadCatalog(ctx)
	if err != nil {
		return nil, storageError(err, "catalog")
	}
	stores := ProjectFeatures(fc)
	last, err := c.Repo.StoreLastVisits(ctx)
	if err != nil {
		return nil, err
	}
	for i := range stores {
		if at, ok := last[stores[i].ID]; ok {
			stores[i].LastVisitAt = &at
		}
	}
	return stores, nil
}

// GetStore reports found=false for ids absent from the catalog. Callers substitute
// PlaceholderName and carry on.
func (c *CatalogService) GetStore(ctx context.Context, id int) (models.Store, bool, error) {
	stores, err := c.ListStores(ctx)
	if err != nil {
		return models.Store{}, false, err
	}
	for _, s := range stores {
		if s.ID == id {
			return s, true, nil
		}
	}
	return models.Store{}, false, nil
}

func PlaceholderName(id int) string {
	return fmt.Sprintf("Tienda %d", id)
}

func (c *CatalogService) WithStatus(stores []models.Store) []models.StoreWithStatus {
	at := now(c.Now)
	out := make([]models.StoreWithStatus, 0, len(stores))
	for _, s := range stores {
		days, status := ComputeVisitStatus(s, at)
		out = append(out, models.StoreWithStatus{Store: s, DaysSinceVisit: days, VisitStatus: status})
	}
	return out
}

func (c *CatalogService) ListWithStatus(ctx context.Context) ([]models.StoreWithStatus, error) {
	stores, err := c.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	return c.WithStatus(stores), nil
}

func (c *CatalogService) StoreWithStatus(ctx context.Context, id int) (models.StoreWithStatus, error) {
	s, found, err := c.GetStore(ctx, id)
	if err != nil {
		return models.StoreWithStatus{}, err
	}
	if !found {
		return models.StoreWithStatus{}, notFound("store not found")
	}
	return c.WithStatus([]models.Store{s})[0], nil
}

const ProblemCriteria = "NPS < 30 OR desabasto > 4% OR daños > 1% OR quejas > 48hrs"

func isProblematic(s models.Store) bool {
	return s.NPS < 30 || s.OutOfStock > 4 || s.DamageRate > 1 || s.ComplaintResolutionHours > 48
}

// ProblemStores returns stores failing any quality threshold, worst NPS first.
func (c *CatalogService) ProblemStores(ctx context.Context) ([]models.Store, error) {
	stores, err := c.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Store, 0)
	for _, s := range stores {
		if isProblematic(s) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NPS < out[j].NPS })
	return out, nil
}

func (c *CatalogService) ByMinNPS(ctx context.Context, min float64) ([]models.Store, error) {
	stores, err := c.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Store, 0)
	for _, s := range stores {
		if s.NPS >= min {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NPS > out[j].NPS })
	return out, nil
}

type NearbyStore struct {
	models.Store
	DistanceKm float64 `json:"distance_km"`
}

// Near returns stores within radiusKm of the point, closest first. A non-positive radius
// means the default of 5 km.
func (c *CatalogService) Near(ctx context.Context, lat, lng, radiusKm float64) ([]NearbyStore, float64, error) {
	if radiusKm <= 0 || math.IsNaN(radiusKm) {
		radiusKm = defaultNearRadiusKm
	}
	stores, err := c.ListStores(ctx)
	if err != nil {
		return nil, radiusKm, err
	}
	out := make([]NearbyStore, 0)
	for _, s := range stores {
		d := geocode.DistanceKm(lat, lng, s.Latitude, s.Longitude)
		if d <= radiusKm {
			out = append(out, NearbyStore{Store: s, DistanceKm: math.Round(d*1000) / 1000})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, radiusKm, nil
}

type CatalogStats struct {
	TotalStores          int            `json:"total_tiendas"`
	AvgNPS               float64        `json:"nps_promedio"`
	MaxNPS               float64        `json:"nps_maximo"`
	MinNPS               float64        `json:"nps_minimo"`
	AvgDamageRate        float64        `json:"damage_rate_promedio"`
	AvgOutOfStock        float64        `json:"out_of_stock_promedio"`
	AvgComplaintHours    float64        `json:"tiempo_quejas_promedio"`
	ProblemStores        int            `json:"tiendas_problematicas"`
	VisitStatusBreakdown map[string]int `json:"visit_status"`
}

// Stats aggregates the catalog. The problem count uses NPS, stock-outs and damage only.
func (c *CatalogService) Stats(ctx context.Context) (CatalogStats, error) {
	stores, err := c.ListStores(ctx)
	if err != nil {
		return CatalogStats{}, err
	}
	st := CatalogStats{
		TotalStores: len(stores),
		VisitStatusBreakdown: map[string]int{
			VisitStatusRecent: 0, VisitStatusNormal: 0, VisitStatusPending: 0, VisitStatusUrgent: 0,
		},
	}
	if len(stores) == 0 {
		return st, nil
	}
	st.MaxNPS = math.Inf(-1)
	st.MinNPS = math.Inf(1)
	for _, s := range c.WithStatus(stores) {
		st.AvgNPS += s.NPS
		st.AvgDamageRate += s.DamageRate
		st.AvgOutOfStock += s.OutOfStock
		st.AvgComplaintHours += s.ComplaintResolutionHours
		st.MaxNPS = math.Max(st.MaxNPS, s.NPS)
		st.MinNPS = math.Min(st.MinNPS, s.NPS)
		if s.NPS < 30 || s.OutOfStock > 4 || s.DamageRate > 1 {
			st.ProblemStores++
		}
		st.VisitStatusBreakdown[s.VisitStatus]++
	}
	n := float64(len(stores))
	st.AvgNPS /= n
	st.AvgDamageRate /= n
	st.AvgOutOfStock /= n
	st.AvgComplaintHours /= n
	return st, nil
}

func (c *CatalogService) Document(ctx context.Context) (models.FeatureCollection, error) {
	fc, err := c.Repo.LoadCatalog(ctx)
	if err != nil {
		return models.FeatureCollection{}, storageError(err, "catalog")
	}
	return fc, nil
}

func propString(p map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// propFloat accepts numbers or numeric strings; anything else is 0.
func propFloat(p map[string]any, keys ...string) float64 {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f
		}
		return 0
	}
	return 0
}

func propInt(p map[string]any, key string) (int, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	if s, isStr := v.(string); isStr {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
