package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mykrex/dimeloc-backend/internal/geocode"
	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

const (
	RoleCollaborator = "collaborator"
	RoleAdvisor      = "advisor"

	defaultVisitType  = "regular"
	defaultAgendaDays = 7
)

var localLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"}

type VisitService struct {
	Repo     repository.Repository
	Catalog  *CatalogService
	Geocoder geocode.Reverser
	// Location decides the calendar day a visit belongs to.
	Location                       *time.Location
	RequireConfirmationBeforeStart bool
	Logger                         zerolog.Logger
	Now                            func() time.Time
}

type ScheduleVisitInput struct {
	StoreID        *int    `json:"storeId" validate:"required"`
	CollaboratorID string  `json:"collaboratorId" validate:"required"`
	AdvisorID      *string `json:"advisorId"`
	ScheduledAt    string  `json:"scheduledAt" validate:"required"`
	VisitType      string  `json:"visitType"`
	Notes          string  `json:"notes"`
}

func (s *VisitService) loc() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// ParseScheduledAt accepts RFC 3339 or a local wall clock time in the service location.
func (s *VisitService) ParseScheduledAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(s.loc()), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, s.loc()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, validationError("invalid date format", "scheduledAt")
}

func (s *VisitService) Schedule(ctx context.Context, in ScheduleVisitInput) (models.Visit, error) {
	in.CollaboratorID = strings.TrimSpace(in.CollaboratorID)
	in.ScheduledAt = strings.TrimSpace(in.ScheduledAt)
	if err := checkStruct(in); err != nil {
		return models.Visit{}, err
	}
	at, err := s.ParseScheduledAt(in.ScheduledAt)
	if err != nil {
		return models.Visit{}, err
	}

	_, found, err := s.Catalog.GetStore(ctx, *in.StoreID)
	if err != nil {
		return models.Visit{}, err
	}
	if !found {
		return models.Visit{}, notFound("store not found")
	}

	day := at.Format("2006-01-02")
	existing, err := s.Repo.ListVisits(ctx, repository.VisitFilter{
		StoreID:       in.StoreID,
		ScheduledDate: day,
		States:        activeStates,
		Limit:         1,
	})
	if err != nil {
		return models.Visit{}, err
	}
	if len(existing) > 0 {
		return models.Visit{}, conflict("a visit is already scheduled for this store on " + day)
	}

	created := now(s.Now)
	v := models.Visit{
		ID:             uuid.NewString(),
		StoreID:        *in.StoreID,
		CollaboratorID: in.CollaboratorID,
		ScheduledAt:    at.UTC(),
		ScheduledDate:  day,
		State:          models.VisitStateScheduled,
		VisitType:      strings.TrimSpace(in.VisitType),
		Notes:          strings.TrimSpace(in.Notes),
		CreatedAt:      created,
	}
	if v.VisitType == "" {
		v.VisitType = defaultVisitType
	}
	if in.AdvisorID != nil && strings.TrimSpace(*in.AdvisorID) != "" {
		advisor := strings.TrimSpace(*in.AdvisorID)
		confirmed := false
		v.AdvisorID = &advisor
		v.AdvisorConfirmed = &confirmed
	}

	if err := s.Repo.InsertVisit(ctx, v); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return models.Visit{}, conflict("a visit is already scheduled for this store on " + day)
		}
		return models.Visit{}, err
	}
	s.Logger.Info().Str("visit_id", v.ID).Int("store_id", v.StoreID).Str("date", day).Msg("visit scheduled")
	return v, nil
}

var activeStates = []string{
	models.VisitStateScheduled,
	models.VisitStateConfirmed,
	models.VisitStateInProgress,
	models.VisitStateCompleted,
}

func (s *VisitService) Get(ctx context.Context, id string) (models.Visit, error) {
	v, err := s.Repo.GetVisit(ctx, id)
	if err != nil {
		return models.Visit{}, storageError(err, "visit")
	}
	return v, nil
}

type ConfirmResult struct {
	Visit        models.Visit `json:"visit"`
	AllConfirmed bool         `json:"all_confirmed"`
}

// NormalizeRole maps the accepted role spellings onto collaborator or advisor.
func NormalizeRole(role string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleCollaborator, "colaborador":
		return RoleCollaborator, true
	case RoleAdvisor, "asesor":
		return RoleAdvisor, true
	}
	return "", false
}

const visitWriteAttempts = 3

// mutateVisit reads the visit, applies change and writes it back guarded by the version
// it read. When another writer got there first it reads again and reapplies change, so
// every precondition in change is checked against the state that actually gets replaced.
func (s *VisitService) mutateVisit(ctx context.Context, id string, change func(v *models.Visit) error) (models.Visit, error) {
	for attempt := 1; ; attempt++ {
		v, err := s.Get(ctx, id)
		if err != nil {
			return models.Visit{}, err
		}
		if err := change(&v); err != nil {
			return models.Visit{}, err
		}
		err = s.Repo.UpdateVisit(ctx, v)
		if err == nil {
			v.Version++
			return v, nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == visitWriteAttempts {
			return models.Visit{}, storageError(err, "visit")
		}
		s.Logger.Debug().Str("visit_id", id).Int("attempt", attempt).Msg("visit changed concurrently, retrying")
	}
}

// Confirm records one party's confirmation. The visit moves to confirmed only from
// scheduled and only once every required party has confirmed.
func (s *VisitService) Confirm(ctx context.Context, id, userID, role string) (ConfirmResult, error) {
	r, ok := NormalizeRole(role)
	if !ok {
		return ConfirmResult{}, validationError("role must be collaborator or advisor", "role")
	}
	userID = strings.TrimSpace(userID)
	at := now(s.Now)

	var all bool
	v, err := s.mutateVisit(ctx, id, func(v *models.Visit) error {
		if v.Terminal() {
			return stateError("visit is " + v.State)
		}
		switch r {
		case RoleCollaborator:
			if userID != "" && userID != v.CollaboratorID {
				return validationError("user is not the visit collaborator", "userId")
			}
			v.CollaboratorConfirmed = true
			v.CollaboratorConfirmedAt = &at
		case RoleAdvisor:
			if !v.HasAdvisor() {
				return validationError("visit has no advisor assigned", "role")
			}
			if userID != "" && userID != *v.AdvisorID {
				return validationError("user is not the visit advisor", "userId")
			}
			confirmed := true
			v.AdvisorConfirmed = &confirmed
			v.AdvisorConfirmedAt = &at
		}
		all = allConfirmed(*v)
		if all && v.State == models.VisitStateScheduled {
			v.State = models.VisitStateConfirmed
		}
		return nil
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Visit: v, AllConfirmed: all}, nil
}

func allConfirmed(v models.Visit) bool {
	if !v.CollaboratorConfirmed {
		return false
	}
	if v.HasAdvisor() {
		return v.AdvisorConfirmed != nil && *v.AdvisorConfirmed
	}
	return true
}

func (s *VisitService) Start(ctx context.Context, id string, arrival *models.Location) (models.Visit, error) {
	at := now(s.Now)
	return s.mutateVisit(ctx, id, func(v *models.Visit) error {
		if v.Terminal() {
			return stateError("visit is " + v.State)
		}
		if s.RequireConfirmationBeforeStart && v.State == models.VisitStateScheduled {
			return stateError("visit must be confirmed before it starts")
		}
		v.State = models.VisitStateInProgress
		if v.StartedAt == nil {
			v.StartedAt = &at
		}
		if arrival != nil {
			v.ArrivalLocation = arrival
		}
		return nil
	})
}

type FinishInput struct {
	DurationMinutes *int   `json:"durationMinutes" validate:"omitempty,min=0"`
	Notes           string `json:"notes"`
}

type FinishResult struct {
	Visit                 models.Visit `json:"visit"`
	StoreFreshnessUpdated bool         `json:"store_freshness_updated"`
}

// Finish completes the visit and then, as a separate write, moves the store's last visit
// marker to the completion time. A failed marker write leaves the visit completed.
func (s *VisitService) Finish(ctx context.Context, id string, in FinishInput) (FinishResult, error) {
	if err := checkStruct(in); err != nil {
		return FinishResult{}, err
	}
	at := now(s.Now)
	v, err := s.mutateVisit(ctx, id, func(v *models.Visit) error {
		switch v.State {
		case models.VisitStateCompleted:
			return ErrVisitAlreadyCompleted
		case models.VisitStateCancelled:
			return stateError("visit is cancelled")
		}
		v.State = models.VisitStateCompleted
		v.CompletedAt = &at
		if in.DurationMinutes != nil {
			d := *in.DurationMinutes
			v.DurationMinutes = &d
		} else if v.StartedAt != nil {
			d := int(at.Sub(*v.StartedAt).Minutes())
			v.DurationMinutes = &d
		}
		if notes := strings.TrimSpace(in.Notes); notes != "" {
			v.Notes = notes
		}
		return nil
	})
	if err != nil {
		return FinishResult{}, err
	}

	res := FinishResult{Visit: v, StoreFreshnessUpdated: true}
	if err := s.Repo.SetStoreLastVisit(ctx, v.StoreID, at); err != nil {
		res.StoreFreshnessUpdated = false
		s.Logger.Error().Err(err).Str("visit_id", v.ID).Int("store_id", v.StoreID).Msg("store last visit update failed")
	}
	return res, nil
}

func (s *VisitService) Cancel(ctx context.Context, id, reason string) (models.Visit, error) {
	at := now(s.Now)
	return s.mutateVisit(ctx, id, func(v *models.Visit) error {
		if v.State != models.VisitStateScheduled && v.State != models.VisitStateConfirmed {
			return stateError("only scheduled or confirmed visits can be cancelled")
		}
		v.State = models.VisitStateCancelled
		v.CancelledAt = &at
		v.CancelReason = strings.TrimSpace(reason)
		return nil
	})
}

type StoreSnapshot struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Hours   string `json:"hours"`
	Found   bool   `json:"found"`
}

type AgendaEntry struct {
	models.Visit
	Store StoreSnapshot `json:"store"`
}

type Agenda struct {
	UserID string        `json:"user_id"`
	From   string        `json:"from"`
	To     string        `json:"to"`
	Visits []AgendaEntry `json:"visits"`
}

// GetAgenda lists the user's visits scheduled within [from, to] (local dates, both
// inclusive), oldest first. Empty from means today; empty to means a week after from.
func (s *VisitService) GetAgenda(ctx context.Context, userID, from, to string) (Agenda, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Agenda{}, validationError("missing required fields", "userId")
	}
	loc := s.loc()
	today := now(s.Now).In(loc)
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	if strings.TrimSpace(from) != "" {
		t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(from), loc)
		if err != nil {
			return Agenda{}, validationError("invalid date format", "from")
		}
		start = t
	}
	end := start.AddDate(0, 0, defaultAgendaDays)
	if strings.TrimSpace(to) != "" {
		t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(to), loc)
		if err != nil {
			return Agenda{}, validationError("invalid date format", "to")
		}
		end = t
	}
	if end.Before(start) {
		return Agenda{}, validationError("to must not be before from", "to")
	}
	endOfDay := end.AddDate(0, 0, 1).Add(-time.Nanosecond)

	visits, err := s.Repo.ListVisits(ctx, repository.VisitFilter{
		UserID:        userID,
		ScheduledFrom: start.UTC(),
		ScheduledTo:   endOfDay.UTC(),
		SortBy:        repository.SortScheduledAt,
	})
	if err != nil {
		return Agenda{}, err
	}

	byID := map[int]models.Store{}
	if len(visits) > 0 {
		stores, err := s.Catalog.ListStores(ctx)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("agenda without store snapshot")
		}
		for _, st := range stores {
			byID[st.ID] = st
		}
	}

	agenda := Agenda{
		UserID: userID,
		From:   start.Format("2006-01-02"),
		To:     end.Format("2006-01-02"),
		Visits: make([]AgendaEntry, 0, len(visits)),
	}
	for _, v := range visits {
		agenda.Visits = append(agenda.Visits, AgendaEntry{Visit: v, Store: s.snapshot(ctx, v.StoreID, byID)})
	}
	return agenda, nil
}

func (s *VisitService) snapshot(ctx context.Context, storeID int, byID map[int]models.Store) StoreSnapshot {
	st, ok := byID[storeID]
	if !ok {
		return StoreSnapshot{ID: storeID, Name: PlaceholderName(storeID)}
	}
	snap := StoreSnapshot{ID: st.ID, Name: st.Name, Address: st.Address, Hours: st.Hours, Found: true}
	if snap.Name == "" {
		snap.Name = PlaceholderName(storeID)
	}
	if snap.Address == "" && s.Geocoder != nil {
		addr, err := s.Geocoder.Reverse(ctx, st.Latitude, st.Longitude)
		if err != nil {
			if !errors.Is(err, geocode.ErrNotFound) {
				s.Logger.Debug().Err(err).Int("store_id", storeID).Msg("reverse geocode failed")
			}
		} else {
			snap.Address = addr
		}
	}
	return snap
}

type EvidenceInput struct {
	CollaboratorID string `json:"collaboratorId" validate:"required"`
	Kind           string `json:"kind" validate:"omitempty,oneof=photo video document audio"`
	URL            string `json:"url" validate:"required,url"`
	Description    string `json:"description"`
}

func (s *VisitService) AddEvidence(ctx context.Context, visitID string, in EvidenceInput) (models.Evidence, error) {
	in.CollaboratorID = strings.TrimSpace(in.CollaboratorID)
	in.URL = strings.TrimSpace(in.URL)
	in.Kind = strings.ToLower(strings.TrimSpace(in.Kind))
	if err := checkStruct(in); err != nil {
		return models.Evidence{}, err
	}
	v, err := s.Get(ctx, visitID)
	if err != nil {
		return models.Evidence{}, err
	}
	if v.State == models.VisitStateCancelled {
		return models.Evidence{}, stateError("visit is cancelled")
	}
	e := models.Evidence{
		ID:             uuid.NewString(),
		VisitID:        v.ID,
		StoreID:        v.StoreID,
		CollaboratorID: in.CollaboratorID,
		Kind:           in.Kind,
		URL:            in.URL,
		Description:    strings.TrimSpace(in.Description),
		CreatedAt:      now(s.Now),
	}
	if e.Kind == "" {
		e.Kind = "photo"
	}
	if err := s.Repo.InsertEvidence(ctx, e); err != nil {
		return models.Evidence{}, err
	}
	return e, nil
}

func (s *VisitService) ListEvidence(ctx context.Context, visitID string) ([]models.Evidence, error) {
	if _, err := s.Get(ctx, visitID); err != nil {
		return nil, err
	}
	items, err := s.Repo.ListEvidence(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Evidence{}
	}
	return items, nil
}
