package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mykrex/dimeloc-backend/internal/memstore"
	"github.com/mykrex/dimeloc-backend/internal/models"
)

func TestProjectFeatures(t *testing.T) {
	stores := ProjectFeatures(testCatalog())
	if len(stores) != 4 {
		t.Fatalf("expected 4 stores, got %d", len(stores))
	}
	wantIDs := []int{5, 12, 2, 0}
	for i, id := range wantIDs {
		if stores[i].ID != id {
			t.Fatalf("store %d: expected id %d, got %d", i, id, stores[i].ID)
		}
	}
	if stores[0].NPS != 45 || stores[0].FillFoundRate != 92.5 || stores[0].Address != "Av. Constitución 100" {
		t.Fatalf("unexpected projection: %+v", stores[0])
	}
	if stores[0].Longitude != -100.3161 || stores[0].Latitude != 25.6866 {
		t.Fatalf("unexpected coordinates: %+v", stores[0])
	}
	if stores[2].DamageRate != 0 {
		t.Fatalf("unparseable numeric should default to 0, got %f", stores[2].DamageRate)
	}
	if stores[1].OutOfStock != 5.5 {
		t.Fatalf("expected numeric string to parse, got %f", stores[1].OutOfStock)
	}
}

func TestComputeVisitStatusBuckets(t *testing.T) {
	at := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		days int
		want string
	}{
		{0, VisitStatusRecent},
		{7, VisitStatusRecent},
		{8, VisitStatusNormal},
		{15, VisitStatusNormal},
		{16, VisitStatusPending},
		{25, VisitStatusPending},
		{26, VisitStatusUrgent},
		{90, VisitStatusUrgent},
	}
	for _, tc := range cases {
		last := at.AddDate(0, 0, -tc.days)
		days, status := ComputeVisitStatus(models.Store{LastVisitAt: &last}, at)
		if days != tc.days || status != tc.want {
			t.Fatalf("%d days: got (%d, %s), want %s", tc.days, days, status, tc.want)
		}
	}
}

func TestComputeVisitStatusNeverVisited(t *testing.T) {
	days, status := ComputeVisitStatus(models.Store{ID: 1}, time.Now())
	if days != 30 || status != VisitStatusUrgent {
		t.Fatalf("expected (30, urgent), got (%d, %s)", days, status)
	}
}

func TestListStoresMissingCatalog(t *testing.T) {
	c := &CatalogService{Repo: memstore.New(), Logger: zerolog.Nop()}
	_, err := c.ListStores(context.Background())
	if !errors.Is(err, ErrDataSource) {
		t.Fatalf("expected data source error, got %v", err)
	}
}

func TestGetStoreNotFoundIsNotAnError(t *testing.T) {
	f := newFixture(t)
	_, found, err := f.catalog.GetStore(context.Background(), 999)
	if err != nil || found {
		t.Fatalf("expected (not found, nil), got (%v, %v)", found, err)
	}
	if _, err := f.catalog.StoreWithStatus(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found from StoreWithStatus, got %v", err)
	}
}

func TestProblemStoresSortedByNPS(t *testing.T) {
	f := newFixture(t)
	stores, err := f.catalog.ProblemStores(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stores) != 2 || stores[0].ID != 12 || stores[1].ID != 0 {
		t.Fatalf("unexpected problem stores: %+v", stores)
	}
}

func TestByMinNPSDescending(t *testing.T) {
	f := newFixture(t)
	stores, err := f.catalog.ByMinNPS(context.Background(), 45)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stores) != 3 || stores[0].NPS != 80 || stores[2].NPS != 45 {
		t.Fatalf("unexpected result: %+v", stores)
	}
}

func TestNearUsesGreatCircleDistance(t *testing.T) {
	f := newFixture(t)
	stores, radius, err := f.catalog.Near(context.Background(), 25.6866, -100.3161, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if radius != 5 {
		t.Fatalf("expected default radius 5, got %f", radius)
	}
	if len(stores) != 3 || stores[0].ID != 5 {
		t.Fatalf("expected the three Monterrey stores, closest first: %+v", stores)
	}
}

func TestStatsAndFreshnessMerge(t *testing.T) {
	f := newFixture(t)
	if err := f.repo.SetStoreLastVisit(context.Background(), 5, f.clock.Now().AddDate(0, 0, -3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, err := f.catalog.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalStores != 4 || st.MaxNPS != 80 || st.MinNPS != 20 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.AvgNPS != (45+20+80+60)/4.0 {
		t.Fatalf("unexpected average NPS: %f", st.AvgNPS)
	}
	// store 0 is only problematic by complaint hours, which stats ignore
	if st.ProblemStores != 1 {
		t.Fatalf("expected 1 problem store, got %d", st.ProblemStores)
	}
	if st.VisitStatusBreakdown[VisitStatusRecent] != 1 || st.VisitStatusBreakdown[VisitStatusUrgent] != 3 {
		t.Fatalf("unexpected status breakdown: %+v", st.VisitStatusBreakdown)
	}
}
