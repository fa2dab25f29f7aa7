package models

import (
	"encoding/json"
	"time"
)

type Store struct {
	ID                       int        `json:"id"`
	Name                     string     `json:"name"`
	Address                  string     `json:"address,omitempty"`
	Hours                    string     `json:"hours,omitempty"`
	Longitude                float64    `json:"longitude"`
	Latitude                 float64    `json:"latitude"`
	NPS                      float64    `json:"nps"`
	FillFoundRate            float64    `json:"fill_found_rate"`
	DamageRate               float64    `json:"damage_rate"`
	OutOfStock               float64    `json:"out_of_stock"`
	ComplaintResolutionHours float64    `json:"complaint_resolution_hours"`
	LastVisitAt              *time.Time `json:"last_visit_at"`
}

// StoreWithStatus is a Store plus its freshness at query time. Never persisted.
type StoreWithStatus struct {
	Store
	DaysSinceVisit int    `json:"days_since_visit"`
	VisitStatus    string `json:"visit_status"`
}

const (
	VisitStateScheduled  = "scheduled"
	VisitStateConfirmed  = "confirmed"
	VisitStateInProgress = "in_progress"
	VisitStateCompleted  = "completed"
	VisitStateCancelled  = "cancelled"
)

type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

type Visit struct {
	ID                      string     `json:"id" bson:"_id"`
	StoreID                 int        `json:"store_id" bson:"store_id"`
	CollaboratorID          string     `json:"collaborator_id" bson:"collaborator_id"`
	AdvisorID               *string    `json:"advisor_id" bson:"advisor_id"`
	ScheduledAt             time.Time  `json:"scheduled_at" bson:"scheduled_at"`
	ScheduledDate           string     `json:"scheduled_date" bson:"scheduled_date"`
	StartedAt               *time.Time `json:"started_at" bson:"started_at"`
	CompletedAt             *time.Time `json:"completed_at" bson:"completed_at"`
	CancelledAt             *time.Time `json:"cancelled_at" bson:"cancelled_at"`
	State                   string     `json:"state" bson:"state"`
	VisitType               string     `json:"visit_type" bson:"visit_type"`
	CollaboratorConfirmed   bool       `json:"collaborator_confirmed" bson:"collaborator_confirmed"`
	CollaboratorConfirmedAt *time.Time `json:"collaborator_confirmed_at" bson:"collaborator_confirmed_at"`
	AdvisorConfirmed        *bool      `json:"advisor_confirmed" bson:"advisor_confirmed"`
	AdvisorConfirmedAt      *time.Time `json:"advisor_confirmed_at" bson:"advisor_confirmed_at"`
	ArrivalLocation         *Location  `json:"arrival_location" bson:"arrival_location"`
	DurationMinutes         *int       `json:"duration_minutes" bson:"duration_minutes"`
	Notes                   string     `json:"notes" bson:"notes"`
	CancelReason            string     `json:"cancel_reason,omitempty" bson:"cancel_reason"`
	CreatedAt               time.Time  `json:"created_at" bson:"created_at"`
	// Version counts successful updates; writers must present the version they read.
	Version int `json:"version" bson:"version"`
}

func (v Visit) HasAdvisor() bool {
	return v.AdvisorID != nil && *v.AdvisorID != ""
}

func (v Visit) Terminal() bool {
	return v.State == VisitStateCompleted || v.State == VisitStateCancelled
}

const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"

	FeedbackStatusOpen     = "open"
	FeedbackStatusResolved = "resolved"
)

type TenderoFeedback struct {
	ID                 string     `json:"id" bson:"_id"`
	VisitID            *string    `json:"visit_id" bson:"visit_id"`
	StoreID            int        `json:"store_id" bson:"store_id"`
	CollaboratorID     string     `json:"collaborator_id" bson:"collaborator_id"`
	CreatedAt          time.Time  `json:"created_at" bson:"created_at"`
	Category           string     `json:"category" bson:"category"`
	Type               string     `json:"type" bson:"type"`
	Urgency            string     `json:"urgency" bson:"urgency"`
	Title              string     `json:"title" bson:"title"`
	Description        string     `json:"description" bson:"description"`
	Status             string     `json:"status" bson:"status"`
	ResolutionRequired bool       `json:"resolution_required" bson:"resolution_required"`
	ResolvedAt         *time.Time `json:"resolved_at" bson:"resolved_at"`
	ResolutionNotes    string     `json:"resolution_notes,omitempty" bson:"resolution_notes"`
}

type Ratings struct {
	Cleanliness     int `json:"cleanliness" bson:"cleanliness"`
	Fixtures        int `json:"fixtures" bson:"fixtures"`
	Inventory       int `json:"inventory" bson:"inventory"`
	CustomerService int `json:"customer_service" bson:"customer_service"`
	Organization    int `json:"organization" bson:"organization"`
}

type StoreEvaluation struct {
	ID                      string    `json:"id" bson:"_id"`
	VisitID                 *string   `json:"visit_id" bson:"visit_id"`
	StoreID                 int       `json:"store_id" bson:"store_id"`
	CollaboratorID          string    `json:"collaborator_id" bson:"collaborator_id"`
	CreatedAt               time.Time `json:"created_at" bson:"created_at"`
	Ratings                 Ratings   `json:"ratings" bson:"ratings"`
	InventoryNotes          string    `json:"inventory_notes" bson:"inventory_notes"`
	Comments                string    `json:"comments" bson:"comments"`
	Strengths               []string  `json:"strengths" bson:"strengths"`
	ImprovementAreas        []string  `json:"improvement_areas" bson:"improvement_areas"`
	PriorityRecommendations []string  `json:"priority_recommendations" bson:"priority_recommendations"`
}

type Evidence struct {
	ID             string    `json:"id" bson:"_id"`
	VisitID        string    `json:"visit_id" bson:"visit_id"`
	StoreID        int       `json:"store_id" bson:"store_id"`
	CollaboratorID string    `json:"collaborator_id" bson:"collaborator_id"`
	Kind           string    `json:"kind" bson:"kind"`
	URL            string    `json:"url" bson:"url"`
	Description    string    `json:"description" bson:"description"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

const (
	AnalysisPrevisit        = "previsit"
	AnalysisPostvisit       = "postvisit"
	AnalysisTrend           = "trend"
	AnalysisPrediction      = "prediction"
	AnalysisFeedbackSummary = "feedback_summary"
)

// Insight is a persisted provider analysis. Result holds the validated JSON payload.
type Insight struct {
	ID               string          `json:"id" bson:"_id"`
	StoreID          int             `json:"store_id" bson:"store_id"`
	VisitID          *string         `json:"visit_id" bson:"visit_id"`
	CollaboratorID   string          `json:"collaborator_id,omitempty" bson:"collaborator_id"`
	AnalysisType     string          `json:"analysis_type" bson:"analysis_type"`
	CreatedAt        time.Time       `json:"created_at" bson:"created_at"`
	InputRefs        []string        `json:"input_refs" bson:"input_refs"`
	Result           json.RawMessage `json:"result" bson:"-"`
	Used             bool            `json:"used" bson:"used"`
	FollowUpRequired bool            `json:"follow_up_required" bson:"follow_up_required"`
}

type User struct {
	ID           string `json:"id" bson:"_id"`
	Email        string `json:"email" bson:"email"`
	Name         string `json:"name" bson:"name"`
	Role         string `json:"role" bson:"role"`
	PasswordHash string `json:"-" bson:"password_hash"`
}
