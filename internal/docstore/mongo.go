// Package docstore implements the Repository on MongoDB. The catalog lives as a single
// GeoJSON document; every other entity has its own collection.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

const (
	collVisits      = "visitas"
	collFeedback    = "feedback_tendero"
	collEvaluations = "evaluaciones_tienda"
	collEvidence    = "evidencias"
	collInsights    = "insights"
	collStoreVisits = "store_visits"
	collUsers       = "usuarios"
)

type Mongo struct {
	Client            *mongo.Client
	DB                *mongo.Database
	CatalogCollection string
}

var _ repository.Repository = (*Mongo)(nil)

func New(ctx context.Context, uri, database, catalogCollection string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return &Mongo{
		Client:            client,
		DB:                client.Database(database),
		CatalogCollection: catalogCollection,
	}, nil
}

// EnsureIndexes creates the lookup indexes and the partial unique index that keeps one
// active visit per store and calendar date.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	active := bson.A{models.VisitStateScheduled, models.VisitStateConfirmed, models.VisitStateInProgress, models.VisitStateCompleted}
	_, err := m.DB.Collection(collVisits).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "store_id", Value: 1}, {Key: "scheduled_date", Value: 1}},
			Options: options.Index().
				SetName("store_day_active").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"state": bson.M{"$in": active}}),
		},
		{Keys: bson.D{{Key: "collaborator_id", Value: 1}, {Key: "scheduled_at", Value: 1}}},
		{Keys: bson.D{{Key: "advisor_id", Value: 1}, {Key: "scheduled_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("visit indexes: %w", err)
	}
	for _, name := range []string{collFeedback, collEvaluations, collInsights} {
		_, err := m.DB.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "store_id", Value: 1}, {Key: "created_at", Value: -1}},
		})
		if err != nil {
			return fmt.Errorf("%s index: %w", name, err)
		}
	}
	_, err = m.DB.Collection(collUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

func (m *Mongo) LoadCatalog(ctx context.Context) (models.FeatureCollection, error) {
	var fc models.FeatureCollection
	err := m.DB.Collection(m.CatalogCollection).FindOne(ctx, bson.M{}).Decode(&fc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.FeatureCollection{}, repository.ErrCatalogMissing
		}
		return models.FeatureCollection{}, err
	}
	if fc.Features == nil {
		return models.FeatureCollection{}, repository.ErrCatalogMissing
	}
	return fc, nil
}

type storeVisitDoc struct {
	StoreID     int       `bson:"_id"`
	LastVisitAt time.Time `bson:"last_visit_at"`
}

func (m *Mongo) StoreLastVisits(ctx context.Context) (map[int]time.Time, error) {
	cur, err := m.DB.Collection(collStoreVisits).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var docs []storeVisitDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[int]time.Time, len(docs))
	for _, d := range docs {
		out[d.StoreID] = d.LastVisitAt
	}
	return out, nil
}

func (m *Mongo) SetStoreLastVisit(ctx context.Context, storeID int, at time.Time) error {
	_, err := m.DB.Collection(collStoreVisits).UpdateOne(ctx,
		bson.M{"_id": storeID},
		bson.M{"$set": bson.M{"last_visit_at": at}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) InsertVisit(ctx context.Context, v models.Visit) error {
	_, err := m.DB.Collection(collVisits).InsertOne(ctx, v)
	return translate(err)
}

func (m *Mongo) GetVisit(ctx context.Context, id string) (models.Visit, error) {
	var v models.Visit
	err := m.DB.Collection(collVisits).FindOne(ctx, bson.M{"_id": id}).Decode(&v)
	return v, translate(err)
}

// UpdateVisit sets only the fields a lifecycle transition may change. Documents written
// before versioning have no version field and count as version 0.
func (m *Mongo) UpdateVisit(ctx context.Context, v models.Visit) error {
	filter := bson.M{"_id": v.ID, "version": v.Version}
	if v.Version == 0 {
		filter = bson.M{"_id": v.ID, "$or": bson.A{
			bson.M{"version": 0},
			bson.M{"version": bson.M{"$exists": false}},
		}}
	}
	update := bson.M{
		"$set": bson.M{
			"started_at":                v.StartedAt,
			"completed_at":              v.CompletedAt,
			"cancelled_at":              v.CancelledAt,
			"state":                     v.State,
			"collaborator_confirmed":    v.CollaboratorConfirmed,
			"collaborator_confirmed_at": v.CollaboratorConfirmedAt,
			"advisor_confirmed":         v.AdvisorConfirmed,
			"advisor_confirmed_at":      v.AdvisorConfirmedAt,
			"arrival_location":          v.ArrivalLocation,
			"duration_minutes":          v.DurationMinutes,
			"notes":                     v.Notes,
			"cancel_reason":             v.CancelReason,
		},
		"$inc": bson.M{"version": 1},
	}
	coll := m.DB.Collection(collVisits)
	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		n, err := coll.CountDocuments(ctx, bson.M{"_id": v.ID})
		if err != nil {
			return translate(err)
		}
		if n > 0 {
			return repository.ErrConflict
		}
		return repository.ErrNotFound
	}
	return nil
}

func visitQuery(f repository.VisitFilter) bson.M {
	q := bson.M{}
	if f.StoreID != nil {
		q["store_id"] = *f.StoreID
	}
	if f.UserID != "" {
		q["$or"] = bson.A{bson.M{"collaborator_id": f.UserID}, bson.M{"advisor_id": f.UserID}}
	}
	if f.CollaboratorID != "" {
		q["collaborator_id"] = f.CollaboratorID
	}
	if len(f.States) > 0 {
		q["state"] = bson.M{"$in": f.States}
	}
	if f.ScheduledDate != "" {
		q["scheduled_date"] = f.ScheduledDate
	}
	scheduled := bson.M{}
	if !f.ScheduledFrom.IsZero() {
		scheduled["$gte"] = f.ScheduledFrom
	}
	if !f.ScheduledTo.IsZero() {
		scheduled["$lte"] = f.ScheduledTo
	}
	if len(scheduled) > 0 {
		q["scheduled_at"] = scheduled
	}
	if !f.CompletedBefore.IsZero() {
		q["completed_at"] = bson.M{"$lt": f.CompletedBefore}
	}
	return q
}

func (m *Mongo) ListVisits(ctx context.Context, f repository.VisitFilter) ([]models.Visit, error) {
	field := "scheduled_at"
	if f.SortBy == repository.SortCompletedAt {
		field = "completed_at"
	}
	dir := 1
	if f.Descending {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: field, Value: dir}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := m.DB.Collection(collVisits).Find(ctx, visitQuery(f), opts)
	if err != nil {
		return nil, err
	}
	var out []models.Visit
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func feedbackQuery(f repository.FeedbackFilter) (bson.M, *options.FindOptions) {
	q := bson.M{}
	if f.StoreID != nil {
		q["store_id"] = *f.StoreID
	}
	if f.VisitID != "" {
		q["visit_id"] = f.VisitID
	}
	created := bson.M{}
	if !f.Since.IsZero() {
		created["$gte"] = f.Since
	}
	if !f.Before.IsZero() {
		created["$lt"] = f.Before
	}
	if len(created) > 0 {
		q["created_at"] = created
	}
	dir := -1
	if f.Ascending {
		dir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: dir}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	return q, opts
}

func (m *Mongo) InsertTenderoFeedback(ctx context.Context, fb models.TenderoFeedback) error {
	_, err := m.DB.Collection(collFeedback).InsertOne(ctx, fb)
	return translate(err)
}

func (m *Mongo) GetTenderoFeedback(ctx context.Context, id string) (models.TenderoFeedback, error) {
	var fb models.TenderoFeedback
	err := m.DB.Collection(collFeedback).FindOne(ctx, bson.M{"_id": id}).Decode(&fb)
	return fb, translate(err)
}

func (m *Mongo) UpdateTenderoFeedback(ctx context.Context, fb models.TenderoFeedback) error {
	res, err := m.DB.Collection(collFeedback).UpdateOne(ctx, bson.M{"_id": fb.ID}, bson.M{"$set": bson.M{
		"status":           fb.Status,
		"resolved_at":      fb.ResolvedAt,
		"resolution_notes": fb.ResolutionNotes,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (m *Mongo) ListTenderoFeedback(ctx context.Context, f repository.FeedbackFilter) ([]models.TenderoFeedback, error) {
	q, opts := feedbackQuery(f)
	cur, err := m.DB.Collection(collFeedback).Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	var out []models.TenderoFeedback
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) InsertStoreEvaluation(ctx context.Context, ev models.StoreEvaluation) error {
	_, err := m.DB.Collection(collEvaluations).InsertOne(ctx, ev)
	return translate(err)
}

func (m *Mongo) ListStoreEvaluations(ctx context.Context, f repository.FeedbackFilter) ([]models.StoreEvaluation, error) {
	q, opts := feedbackQuery(f)
	cur, err := m.DB.Collection(collEvaluations).Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	var out []models.StoreEvaluation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) InsertEvidence(ctx context.Context, e models.Evidence) error {
	_, err := m.DB.Collection(collEvidence).InsertOne(ctx, e)
	return translate(err)
}

func (m *Mongo) ListEvidence(ctx context.Context, visitID string) ([]models.Evidence, error) {
	cur, err := m.DB.Collection(collEvidence).Find(ctx, bson.M{"visit_id": visitID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []models.Evidence
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// insightDoc stores the provider payload as a nested document instead of a JSON string.
type insightDoc struct {
	models.Insight `bson:",inline"`
	Result         bson.D `bson:"result"`
}

func (m *Mongo) InsertInsight(ctx context.Context, in models.Insight) error {
	doc := insightDoc{Insight: in}
	if len(in.Result) > 0 {
		if err := bson.UnmarshalExtJSON(in.Result, false, &doc.Result); err != nil {
			return fmt.Errorf("encode insight result: %w", err)
		}
	}
	_, err := m.DB.Collection(collInsights).InsertOne(ctx, doc)
	return translate(err)
}

func (m *Mongo) ListInsights(ctx context.Context, f repository.InsightFilter) ([]models.Insight, error) {
	q := bson.M{}
	if f.StoreID != nil {
		q["store_id"] = *f.StoreID
	}
	if f.VisitID != "" {
		q["visit_id"] = f.VisitID
	}
	if f.CollaboratorID != "" {
		q["collaborator_id"] = f.CollaboratorID
	}
	if f.Type != "" {
		q["analysis_type"] = f.Type
	}
	if !f.Since.IsZero() {
		q["created_at"] = bson.M{"$gte": f.Since}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := m.DB.Collection(collInsights).Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	var docs []insightDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Insight, 0, len(docs))
	for _, d := range docs {
		in := d.Insight
		if d.Result != nil {
			raw, err := bson.MarshalExtJSON(d.Result, false, false)
			if err != nil {
				return nil, fmt.Errorf("decode insight result %s: %w", in.ID, err)
			}
			in.Result = raw
		}
		out = append(out, in)
	}
	return out, nil
}

func (m *Mongo) MarkInsightUsed(ctx context.Context, id string) error {
	res, err := m.DB.Collection(collInsights).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"used": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (m *Mongo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := m.DB.Collection(collUsers).FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&u)
	return u, translate(err)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", repository.ErrDuplicate, err)
	}
	return err
}
