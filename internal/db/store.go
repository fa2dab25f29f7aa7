package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	Pool *pgxpool.Pool
}

var _ repository.Repository = (*Postgres)(nil)

func New(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{Pool: pool}, nil
}

// Migrate creates the tables if they do not exist yet.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schemaSQL)
	return err
}

func (s *Postgres) Close(ctx context.Context) error {
	s.Pool.Close()
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Postgres) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReplaceCatalog swaps the catalog document. Used by the import tooling and tests.
func (s *Postgres) ReplaceCatalog(ctx context.Context, fc models.FeatureCollection) error {
	doc, err := json.Marshal(fc)
	if err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM catalog_documents`); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO catalog_documents (doc) VALUES ($1)`, doc)
		return err
	})
}

func (s *Postgres) LoadCatalog(ctx context.Context) (models.FeatureCollection, error) {
	var raw []byte
	err := s.Pool.QueryRow(ctx, `SELECT doc FROM catalog_documents ORDER BY id ASC LIMIT 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FeatureCollection{}, repository.ErrCatalogMissing
		}
		return models.FeatureCollection{}, err
	}
	var fc models.FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return models.FeatureCollection{}, fmt.Errorf("decode catalog: %w", err)
	}
	if fc.Features == nil {
		return models.FeatureCollection{}, repository.ErrCatalogMissing
	}
	return fc, nil
}

func (s *Postgres) StoreLastVisits(ctx context.Context) (map[int]time.Time, error) {
	rows, err := s.Pool.Query(ctx, `SELECT store_id, last_visit_at FROM store_visits`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]time.Time{}
	for rows.Next() {
		var (
			id int
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	return out, rows.Err()
}

func (s *Postgres) SetStoreLastVisit(ctx context.Context, storeID int, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO store_visits (store_id, last_visit_at) VALUES ($1, $2)
		ON CONFLICT (store_id) DO UPDATE SET last_visit_at = EXCLUDED.last_visit_at
	`, storeID, at)
	return err
}

const visitColumns = `id, store_id, collaborator_id, advisor_id, scheduled_at, scheduled_date::text,
	started_at, completed_at, cancelled_at, state, visit_type,
	collaborator_confirmed, collaborator_confirmed_at, advisor_confirmed, advisor_confirmed_at,
	arrival_lat, arrival_lon, duration_minutes, notes, cancel_reason, created_at, version`

func scanVisit(row pgx.Row) (models.Visit, error) {
	var (
		v        models.Visit
		lat, lon *float64
	)
	err := row.Scan(&v.ID, &v.StoreID, &v.CollaboratorID, &v.AdvisorID, &v.ScheduledAt, &v.ScheduledDate,
		&v.StartedAt, &v.CompletedAt, &v.CancelledAt, &v.State, &v.VisitType,
		&v.CollaboratorConfirmed, &v.CollaboratorConfirmedAt, &v.AdvisorConfirmed, &v.AdvisorConfirmedAt,
		&lat, &lon, &v.DurationMinutes, &v.Notes, &v.CancelReason, &v.CreatedAt, &v.Version)
	if err != nil {
		return models.Visit{}, err
	}
	if lat != nil && lon != nil {
		v.ArrivalLocation = &models.Location{Latitude: *lat, Longitude: *lon}
	}
	return v, nil
}

func arrivalArgs(loc *models.Location) (*float64, *float64) {
	if loc == nil {
		return nil, nil
	}
	return &loc.Latitude, &loc.Longitude
}

func (s *Postgres) InsertVisit(ctx context.Context, v models.Visit) error {
	lat, lon := arrivalArgs(v.ArrivalLocation)
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO visits (id, store_id, collaborator_id, advisor_id, scheduled_at, scheduled_date,
			started_at, completed_at, cancelled_at, state, visit_type,
			collaborator_confirmed, collaborator_confirmed_at, advisor_confirmed, advisor_confirmed_at,
			arrival_lat, arrival_lon, duration_minutes, notes, cancel_reason, created_at, version)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`, v.ID, v.StoreID, v.CollaboratorID, v.AdvisorID, v.ScheduledAt, v.ScheduledDate,
		v.StartedAt, v.CompletedAt, v.CancelledAt, v.State, v.VisitType,
		v.CollaboratorConfirmed, v.CollaboratorConfirmedAt, v.AdvisorConfirmed, v.AdvisorConfirmedAt,
		lat, lon, v.DurationMinutes, v.Notes, v.CancelReason, v.CreatedAt, v.Version)
	return translate(err)
}

func (s *Postgres) GetVisit(ctx context.Context, id string) (models.Visit, error) {
	v, err := scanVisit(s.Pool.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id))
	return v, translate(err)
}

func (s *Postgres) UpdateVisit(ctx context.Context, v models.Visit) error {
	lat, lon := arrivalArgs(v.ArrivalLocation)
	tag, err := s.Pool.Exec(ctx, `
		UPDATE visits SET
			started_at = $2, completed_at = $3, cancelled_at = $4, state = $5,
			collaborator_confirmed = $6, collaborator_confirmed_at = $7,
			advisor_confirmed = $8, advisor_confirmed_at = $9,
			arrival_lat = $10, arrival_lon = $11, duration_minutes = $12, notes = $13, cancel_reason = $14,
			version = version + 1
		WHERE id = $1 AND version = $15
	`, v.ID, v.StartedAt, v.CompletedAt, v.CancelledAt, v.State,
		v.CollaboratorConfirmed, v.CollaboratorConfirmedAt, v.AdvisorConfirmed, v.AdvisorConfirmedAt,
		lat, lon, v.DurationMinutes, v.Notes, v.CancelReason, v.Version)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM visits WHERE id = $1)`, v.ID).Scan(&exists); err != nil {
			return translate(err)
		}
		if exists {
			return repository.ErrConflict
		}
		return repository.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListVisits(ctx context.Context, f repository.VisitFilter) ([]models.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits`
	var args []any
	var wheres []string
	if f.StoreID != nil {
		args = append(args, *f.StoreID)
		wheres = append(wheres, fmt.Sprintf("store_id = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		wheres = append(wheres, fmt.Sprintf("(collaborator_id = $%d OR advisor_id = $%d)", len(args), len(args)))
	}
	if f.CollaboratorID != "" {
		args = append(args, f.CollaboratorID)
		wheres = append(wheres, fmt.Sprintf("collaborator_id = $%d", len(args)))
	}
	if len(f.States) > 0 {
		args = append(args, f.States)
		wheres = append(wheres, fmt.Sprintf("state = ANY($%d)", len(args)))
	}
	if f.ScheduledDate != "" {
		args = append(args, f.ScheduledDate)
		wheres = append(wheres, fmt.Sprintf("scheduled_date = $%d::date", len(args)))
	}
	if !f.ScheduledFrom.IsZero() {
		args = append(args, f.ScheduledFrom)
		wheres = append(wheres, fmt.Sprintf("scheduled_at >= $%d", len(args)))
	}
	if !f.ScheduledTo.IsZero() {
		args = append(args, f.ScheduledTo)
		wheres = append(wheres, fmt.Sprintf("scheduled_at <= $%d", len(args)))
	}
	if !f.CompletedBefore.IsZero() {
		args = append(args, f.CompletedBefore)
		wheres = append(wheres, fmt.Sprintf("completed_at < $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	order := "scheduled_at"
	if f.SortBy == repository.SortCompletedAt {
		order = "completed_at"
	}
	if f.Descending {
		query += " ORDER BY " + order + " DESC NULLS LAST"
	} else {
		query += " ORDER BY " + order + " ASC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const feedbackColumns = `id, visit_id, store_id, collaborator_id, created_at, category, type, urgency,
	title, description, status, resolution_required, resolved_at, resolution_notes`

func scanFeedback(row pgx.Row) (models.TenderoFeedback, error) {
	var fb models.TenderoFeedback
	err := row.Scan(&fb.ID, &fb.VisitID, &fb.StoreID, &fb.CollaboratorID, &fb.CreatedAt, &fb.Category, &fb.Type, &fb.Urgency,
		&fb.Title, &fb.Description, &fb.Status, &fb.ResolutionRequired, &fb.ResolvedAt, &fb.ResolutionNotes)
	return fb, err
}

func (s *Postgres) InsertTenderoFeedback(ctx context.Context, fb models.TenderoFeedback) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO tendero_feedback (`+feedbackColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, fb.ID, fb.VisitID, fb.StoreID, fb.CollaboratorID, fb.CreatedAt, fb.Category, fb.Type, fb.Urgency,
		fb.Title, fb.Description, fb.Status, fb.ResolutionRequired, fb.ResolvedAt, fb.ResolutionNotes)
	return translate(err)
}

func (s *Postgres) GetTenderoFeedback(ctx context.Context, id string) (models.TenderoFeedback, error) {
	fb, err := scanFeedback(s.Pool.QueryRow(ctx, `SELECT `+feedbackColumns+` FROM tendero_feedback WHERE id = $1`, id))
	return fb, translate(err)
}

func (s *Postgres) UpdateTenderoFeedback(ctx context.Context, fb models.TenderoFeedback) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE tendero_feedback SET status = $2, resolved_at = $3, resolution_notes = $4 WHERE id = $1
	`, fb.ID, fb.Status, fb.ResolvedAt, fb.ResolutionNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func feedbackWhere(f repository.FeedbackFilter) (string, []any) {
	var args []any
	var wheres []string
	if f.StoreID != nil {
		args = append(args, *f.StoreID)
		wheres = append(wheres, fmt.Sprintf("store_id = $%d", len(args)))
	}
	if f.VisitID != "" {
		args = append(args, f.VisitID)
		wheres = append(wheres, fmt.Sprintf("visit_id = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		wheres = append(wheres, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.Before.IsZero() {
		args = append(args, f.Before)
		wheres = append(wheres, fmt.Sprintf("created_at < $%d", len(args)))
	}
	clause := ""
	if len(wheres) > 0 {
		clause = " WHERE " + strings.Join(wheres, " AND ")
	}
	if f.Ascending {
		clause += " ORDER BY created_at ASC"
	} else {
		clause += " ORDER BY created_at DESC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return clause, args
}

func (s *Postgres) ListTenderoFeedback(ctx context.Context, f repository.FeedbackFilter) ([]models.TenderoFeedback, error) {
	clause, args := feedbackWhere(f)
	rows, err := s.Pool.Query(ctx, `SELECT `+feedbackColumns+` FROM tendero_feedback`+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TenderoFeedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertStoreEvaluation(ctx context.Context, ev models.StoreEvaluation) error {
	ratings, err := json.Marshal(ev.Ratings)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO store_evaluations (id, visit_id, store_id, collaborator_id, created_at, ratings,
			inventory_notes, comments, strengths, improvement_areas, priority_recommendations)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, ev.ID, ev.VisitID, ev.StoreID, ev.CollaboratorID, ev.CreatedAt, ratings,
		ev.InventoryNotes, ev.Comments, nonNil(ev.Strengths), nonNil(ev.ImprovementAreas), nonNil(ev.PriorityRecommendations))
	return translate(err)
}

func (s *Postgres) ListStoreEvaluations(ctx context.Context, f repository.FeedbackFilter) ([]models.StoreEvaluation, error) {
	clause, args := feedbackWhere(f)
	rows, err := s.Pool.Query(ctx, `
		SELECT id, visit_id, store_id, collaborator_id, created_at, ratings,
			inventory_notes, comments, strengths, improvement_areas, priority_recommendations
		FROM store_evaluations`+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StoreEvaluation
	for rows.Next() {
		var (
			ev      models.StoreEvaluation
			ratings []byte
		)
		if err := rows.Scan(&ev.ID, &ev.VisitID, &ev.StoreID, &ev.CollaboratorID, &ev.CreatedAt, &ratings,
			&ev.InventoryNotes, &ev.Comments, &ev.Strengths, &ev.ImprovementAreas, &ev.PriorityRecommendations); err != nil {
			return nil, err
		}
		if len(ratings) > 0 {
			if err := json.Unmarshal(ratings, &ev.Ratings); err != nil {
				return nil, fmt.Errorf("decode ratings %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertEvidence(ctx context.Context, e models.Evidence) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO evidence (id, visit_id, store_id, collaborator_id, kind, url, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.VisitID, e.StoreID, e.CollaboratorID, e.Kind, e.URL, e.Description, e.CreatedAt)
	return translate(err)
}

func (s *Postgres) ListEvidence(ctx context.Context, visitID string) ([]models.Evidence, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, visit_id, store_id, collaborator_id, kind, url, description, created_at
		FROM evidence WHERE visit_id = $1 ORDER BY created_at ASC
	`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Evidence
	for rows.Next() {
		var e models.Evidence
		if err := rows.Scan(&e.ID, &e.VisitID, &e.StoreID, &e.CollaboratorID, &e.Kind, &e.URL, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertInsight(ctx context.Context, in models.Insight) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO insights (id, store_id, visit_id, collaborator_id, analysis_type, created_at,
			input_refs, result, used, follow_up_required)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, in.ID, in.StoreID, in.VisitID, in.CollaboratorID, in.AnalysisType, in.CreatedAt,
		nonNil(in.InputRefs), []byte(in.Result), in.Used, in.FollowUpRequired)
	return translate(err)
}

func (s *Postgres) ListInsights(ctx context.Context, f repository.InsightFilter) ([]models.Insight, error) {
	query := `SELECT id, store_id, visit_id, collaborator_id, analysis_type, created_at,
		input_refs, result, used, follow_up_required FROM insights`
	var args []any
	var wheres []string
	if f.StoreID != nil {
		args = append(args, *f.StoreID)
		wheres = append(wheres, fmt.Sprintf("store_id = $%d", len(args)))
	}
	if f.VisitID != "" {
		args = append(args, f.VisitID)
		wheres = append(wheres, fmt.Sprintf("visit_id = $%d", len(args)))
	}
	if f.CollaboratorID != "" {
		args = append(args, f.CollaboratorID)
		wheres = append(wheres, fmt.Sprintf("collaborator_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		wheres = append(wheres, fmt.Sprintf("analysis_type = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		wheres = append(wheres, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Insight
	for rows.Next() {
		var (
			in     models.Insight
			result []byte
		)
		if err := rows.Scan(&in.ID, &in.StoreID, &in.VisitID, &in.CollaboratorID, &in.AnalysisType, &in.CreatedAt,
			&in.InputRefs, &result, &in.Used, &in.FollowUpRequired); err != nil {
			return nil, err
		}
		in.Result = json.RawMessage(result)
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Postgres) MarkInsightUsed(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE insights SET used = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.Pool.QueryRow(ctx, `
		SELECT id, email, name, role, password_hash FROM users WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash)
	return u, translate(err)
}

// translate maps driver errors onto the repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", repository.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
