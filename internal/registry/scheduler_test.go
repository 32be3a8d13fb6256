package registry

import (
	"context"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

// fakeEndpointRepo — in-memory реализация хранилища каталога.
type fakeEndpointRepo struct {
	endpoints []*domain.Endpoint
	nextID    int
}

func (f *fakeEndpointRepo) CreateEndpoint(_ context.Context, e *domain.Endpoint) (string, error) {
	f.nextID++
	cp := *e
	cp.ID = "ep-" + string(rune('0'+f.nextID))
	cp.IsActive = true
	f.endpoints = append(f.endpoints, &cp)
	return cp.ID, nil
}

func (f *fakeEndpointRepo) GetEndpoint(_ context.Context, id string) (*domain.Endpoint, error) {
	for _, e := range f.endpoints {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeEndpointRepo) GetEndpointByURL(_ context.Context, baseURL, path string) (*domain.Endpoint, error) {
	for _, e := range f.endpoints {
		if e.BaseURL == baseURL && e.Path == path {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeEndpointRepo) ListEndpoints(_ context.Context) ([]*domain.Endpoint, error) {
	return f.endpoints, nil
}

func (f *fakeEndpointRepo) ListActiveCandidates(_ context.Context, limit int) ([]*domain.Endpoint, error) {
	var active []*domain.Endpoint
	for _, e := range f.endpoints {
		if e.IsActive {
			active = append(active, e)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].LastTestedAt.Before(active[j].LastTestedAt)
	})
	if len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (f *fakeEndpointRepo) SetEndpointActive(_ context.Context, id string, on bool) error {
	for _, e := range f.endpoints {
		if e.ID == id {
			e.IsActive = on
			return nil
		}
	}
	return nil
}

func addEndpoint(f *fakeEndpointRepo, id string, price float64, lastTested time.Time, active bool) {
	f.endpoints = append(f.endpoints, &domain.Endpoint{
		ID:           id,
		AgentAddress: "agent-" + id,
		BaseURL:      "https://example.com",
		Path:         "/" + id,
		Method:       "GET",
		PriceUSDC:    price,
		Category:     domain.CategoryUtility,
		IsActive:     active,
		LastTestedAt: lastTested,
	})
}

func TestSchedulerPicksOldest(t *testing.T) {
	f := &fakeEndpointRepo{}
	now := time.Now()
	addEndpoint(f, "fresh", 0.01, now, true)
	addEndpoint(f, "stale", 0.01, now.Add(-48*time.Hour), true)
	addEndpoint(f, "older", 0.01, now.Add(-24*time.Hour), true)

	s := NewScheduler(f, 100)
	got, err := s.Next(context.Background(), 0.05, nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || got.ID != "stale" {
		t.Errorf("picked %v, want stale", got)
	}
}

// Никогда не тестированный (zero time) приоритетнее любых тестированных.
func TestSchedulerNeverTestedFirst(t *testing.T) {
	f := &fakeEndpointRepo{}
	addEndpoint(f, "tested", 0.01, time.Now().Add(-1000*time.Hour), true)
	addEndpoint(f, "virgin", 0.01, time.Time{}, true)

	s := NewScheduler(f, 100)
	got, err := s.Next(context.Background(), 0.05, nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || got.ID != "virgin" {
		t.Errorf("picked %v, want virgin", got)
	}
}

func TestSchedulerRespectsPriceCeiling(t *testing.T) {
	f := &fakeEndpointRepo{}
	addEndpoint(f, "pricey", 1.00, time.Time{}, true)
	addEndpoint(f, "cheap", 0.01, time.Now(), true)

	s := NewScheduler(f, 100)
	got, err := s.Next(context.Background(), 0.05, nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || got.ID != "cheap" {
		t.Errorf("picked %v, want cheap", got)
	}
}

func TestSchedulerSkipsInactive(t *testing.T) {
	f := &fakeEndpointRepo{}
	addEndpoint(f, "off", 0.01, time.Time{}, false)

	s := NewScheduler(f, 100)
	got, err := s.Next(context.Background(), 0.05, nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != nil {
		t.Errorf("picked %v, want none", got)
	}
}

func TestSchedulerNoEligible(t *testing.T) {
	s := NewScheduler(&fakeEndpointRepo{}, 100)
	got, err := s.Next(context.Background(), 0.05, nil)
	if err != nil || got != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", got, err)
	}
}

// Окно кандидатов ограничено: эндпоинт за пределами окна не виден,
// даже если он дешевле. Это зафиксированное поведение, не дефект.
func TestSchedulerBoundedWindow(t *testing.T) {
	f := &fakeEndpointRepo{}
	now := time.Now()
	// Два старых, но дорогих кандидата занимают окно размером 2
	addEndpoint(f, "old-pricey-1", 1.0, now.Add(-72*time.Hour), true)
	addEndpoint(f, "old-pricey-2", 1.0, now.Add(-71*time.Hour), true)
	// Дешевый, но свежий — за пределами окна
	addEndpoint(f, "cheap-fresh", 0.01, now, true)

	s := NewScheduler(f, 2)
	got, err := s.Next(context.Background(), 0.05, nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != nil {
		t.Errorf("picked %v, want none: cheap endpoint is outside the candidate window", got.ID)
	}
}

// Исключенные эндпоинты не выдаются повторно — следующий по давности
// кандидат занимает их место.
func TestSchedulerExcludesSeen(t *testing.T) {
	f := &fakeEndpointRepo{}
	now := time.Now()
	addEndpoint(f, "oldest", 0.01, now.Add(-48*time.Hour), true)
	addEndpoint(f, "second", 0.01, now.Add(-24*time.Hour), true)

	s := NewScheduler(f, 100)
	got, err := s.Next(context.Background(), 0.05, map[string]struct{}{"oldest": {}})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || got.ID != "second" {
		t.Errorf("picked %v, want second", got)
	}
}

func TestServiceAddEndpointIdempotent(t *testing.T) {
	f := &fakeEndpointRepo{}
	s := NewService(f, zap.NewNop())

	e := &domain.Endpoint{
		AgentAddress: "AgentA",
		BaseURL:      "https://api.example.com",
		Path:         "/v1/answer",
		Method:       "POST",
		PriceUSDC:    0.01,
		Category:     domain.CategoryResearch,
	}

	first, created, err := s.AddEndpoint(context.Background(), e)
	if err != nil {
		t.Fatalf("AddEndpoint: %v", err)
	}
	if !created {
		t.Error("first registration must create")
	}

	second, created, err := s.AddEndpoint(context.Background(), e)
	if err != nil {
		t.Fatalf("AddEndpoint repeat: %v", err)
	}
	if created {
		t.Error("second registration must not create")
	}
	if second.ID != first.ID {
		t.Errorf("repeat returned id %q, want %q", second.ID, first.ID)
	}
}

func TestServiceAddEndpointValidation(t *testing.T) {
	s := NewService(&fakeEndpointRepo{}, zap.NewNop())

	tests := []struct {
		name string
		e    domain.Endpoint
	}{
		{"bad method", domain.Endpoint{AgentAddress: "a", BaseURL: "https://x", Method: "DELETE", Category: domain.CategoryOther}},
		{"bad category", domain.Endpoint{AgentAddress: "a", BaseURL: "https://x", Method: "GET", Category: "weird"}},
		{"no address", domain.Endpoint{BaseURL: "https://x", Method: "GET", Category: domain.CategoryOther}},
		{"negative price", domain.Endpoint{AgentAddress: "a", BaseURL: "https://x", Method: "GET", Category: domain.CategoryOther, PriceUSDC: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := s.AddEndpoint(context.Background(), &tt.e); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
