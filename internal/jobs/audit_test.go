package jobs

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"github.com/xela07ax/agent-trust-auditor/internal/engine"
	"github.com/xela07ax/agent-trust-auditor/internal/infra"
)

// fakePicker выдает эндпоинты по очереди, уважая exclude.
type fakePicker struct {
	endpoints []*domain.Endpoint
}

func (f *fakePicker) Next(_ context.Context, ceiling float64, exclude map[string]struct{}) (*domain.Endpoint, error) {
	for _, e := range f.endpoints {
		if e.PriceUSDC > ceiling {
			continue
		}
		if _, skip := exclude[e.ID]; skip {
			continue
		}
		return e, nil
	}
	return nil, nil
}

type fakeProber struct {
	probed    []string
	costUSDC  float64
	panicOnID string
}

func (f *fakeProber) Probe(_ context.Context, ep *domain.Endpoint) *domain.TestResult {
	if ep.ID == f.panicOnID {
		panic("prober exploded")
	}
	f.probed = append(f.probed, ep.ID)
	return &domain.TestResult{
		ID:                "t-" + ep.ID,
		EndpointID:        ep.ID,
		AgentAddress:      ep.AgentAddress,
		Success:           true,
		QualityScore:      100,
		PaymentAmountUSDC: f.costUSDC,
		TestedAt:          time.Now(),
	}
}

type fakeSink struct {
	recorded []*domain.TestResult
}

func (f *fakeSink) Record(_ context.Context, res *domain.TestResult) error {
	f.recorded = append(f.recorded, res)
	return nil
}

type fakeSuppressor map[string]bool

func (f fakeSuppressor) IsSuppressed(agent string) bool { return f[agent] }

func jobConfig() infra.AuditorConfig {
	return infra.AuditorConfig{
		MaxSpendUSDC:     1.0,
		MaxProbes:        50,
		PriceCeilingUSDC: 0.05,
		ProbeTimeout:     15 * time.Second,
	}
}

func someEndpoints(n int) []*domain.Endpoint {
	var out []*domain.Endpoint
	for i := 0; i < n; i++ {
		out = append(out, &domain.Endpoint{
			ID:           "ep-" + string(rune('a'+i)),
			AgentAddress: "agent-" + string(rune('a'+i)),
			PriceUSDC:    0.01,
		})
	}
	return out
}

func TestAuditRunProbesAllCandidates(t *testing.T) {
	prober := &fakeProber{}
	sink := &fakeSink{}
	job := NewAuditJob(&fakePicker{endpoints: someEndpoints(3)}, prober, sink,
		fakeSuppressor{}, nil, jobConfig(), engine.NewMetrics(nil), zap.NewNop())

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(prober.probed) != 3 || len(sink.recorded) != 3 {
		t.Errorf("probed %d, recorded %d, want 3/3", len(prober.probed), len(sink.recorded))
	}
}

func TestAuditRunStopsAtProbeBudget(t *testing.T) {
	cfg := jobConfig()
	cfg.MaxProbes = 2

	prober := &fakeProber{}
	job := NewAuditJob(&fakePicker{endpoints: someEndpoints(5)}, prober, &fakeSink{},
		fakeSuppressor{}, nil, cfg, engine.NewMetrics(nil), zap.NewNop())

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(prober.probed) != 2 {
		t.Errorf("probed %d, want 2", len(prober.probed))
	}
}

// Бюджет трат проверяется между итерациями: цикл останавливается, как только
// накопленные траты достигают лимита.
func TestAuditRunStopsAtSpendBudget(t *testing.T) {
	cfg := jobConfig()
	cfg.MaxSpendUSDC = 0.02

	prober := &fakeProber{costUSDC: 0.01}
	job := NewAuditJob(&fakePicker{endpoints: someEndpoints(5)}, prober, &fakeSink{},
		fakeSuppressor{}, nil, cfg, engine.NewMetrics(nil), zap.NewNop())

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(prober.probed) != 2 {
		t.Errorf("probed %d, want 2 (0.01+0.01 reaches the 0.02 cap)", len(prober.probed))
	}
}

// Пауза агента пропускает его пробу, но не останавливает цикл.
func TestAuditRunSkipsSuppressed(t *testing.T) {
	eps := someEndpoints(3)
	prober := &fakeProber{}
	job := NewAuditJob(&fakePicker{endpoints: eps}, prober, &fakeSink{},
		fakeSuppressor{eps[0].AgentAddress: true}, nil, jobConfig(), engine.NewMetrics(nil), zap.NewNop())

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(prober.probed) != 2 {
		t.Fatalf("probed %d, want 2", len(prober.probed))
	}
	for _, id := range prober.probed {
		if id == eps[0].ID {
			t.Error("suppressed agent's endpoint was probed")
		}
	}
}

// Паника одной итерации поглощается, остальные эндпоинты пробуются.
func TestAuditRunSurvivesPanic(t *testing.T) {
	eps := someEndpoints(3)
	prober := &fakeProber{panicOnID: eps[1].ID}
	sink := &fakeSink{}
	job := NewAuditJob(&fakePicker{endpoints: eps}, prober, sink,
		fakeSuppressor{}, nil, jobConfig(), engine.NewMetrics(nil), zap.NewNop())

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(sink.recorded) != 2 {
		t.Errorf("recorded %d, want 2 (panicking endpoint is lost, not the run)", len(sink.recorded))
	}
}

func TestDailyJobDayMath(t *testing.T) {
	j := &DailyJob{cfg: infra.ReportsConfig{DailyOffset: 15 * time.Minute}, loc: time.UTC, logger: zap.NewNop()}

	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	if got := j.DayStart(now); !got.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DayStart = %v", got)
	}
	wantNext := time.Date(2026, 3, 15, 0, 15, 0, 0, time.UTC)
	if got := j.NextRun(now); !got.Equal(wantNext) {
		t.Errorf("NextRun = %v, want %v", got, wantNext)
	}

	// Сразу после полуночи, но до смещения — запуск сегодня же
	early := time.Date(2026, 3, 15, 0, 5, 0, 0, time.UTC)
	if got := j.NextRun(early); !got.Equal(wantNext) {
		t.Errorf("NextRun(early) = %v, want %v", got, wantNext)
	}
}
