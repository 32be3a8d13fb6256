package report

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

type fakeReportStore struct {
	tests     map[string][]*domain.TestResult // agent -> пробы
	endpoints map[string]*domain.Endpoint
	reports   map[string]*domain.DailyReport // agent|date -> отчет
	upserts   int
	fraud     int
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{
		tests:     map[string][]*domain.TestResult{},
		endpoints: map[string]*domain.Endpoint{},
		reports:   map[string]*domain.DailyReport{},
	}
}

func (f *fakeReportStore) ListTestsByAgentBetween(_ context.Context, agent string, from, to time.Time) ([]*domain.TestResult, error) {
	var out []*domain.TestResult
	for _, t := range f.tests[agent] {
		if !t.TestedAt.Before(from) && t.TestedAt.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeReportStore) DistinctAgentsBetween(_ context.Context, _, _ time.Time) ([]string, error) {
	var agents []string
	for a := range f.tests {
		agents = append(agents, a)
	}
	return agents, nil
}

func (f *fakeReportStore) GetEndpoint(_ context.Context, id string) (*domain.Endpoint, error) {
	return f.endpoints[id], nil
}

func (f *fakeReportStore) UpsertDailyReport(_ context.Context, d *domain.DailyReport) error {
	f.upserts++
	f.reports[d.AgentAddress+"|"+d.ReportDate.Format("2006-01-02")] = d
	return nil
}

func (f *fakeReportStore) CountFraudSignalsBetween(_ context.Context, _ string, _, _ time.Time) (int, error) {
	return f.fraud, nil
}

type fakeIssuer struct {
	reports []*domain.DailyReport
}

func (f *fakeIssuer) EvaluateReport(_ context.Context, r *domain.DailyReport) {
	f.reports = append(f.reports, r)
}

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func addTest(f *fakeReportStore, agent, endpointID string, success, verified bool, rtMs int64, quality int) {
	f.tests[agent] = append(f.tests[agent], &domain.TestResult{
		EndpointID:         endpointID,
		AgentAddress:       agent,
		Success:            success,
		CapabilityVerified: verified,
		ResponseTimeMs:     rtMs,
		QualityScore:       quality,
		TestedAt:           day.Add(time.Duration(len(f.tests[agent])+1) * time.Hour),
	})
}

func TestCompileNoTests(t *testing.T) {
	c := NewCompiler(newFakeReportStore(), newFakeReportStore(), newFakeReportStore(), nil, zap.NewNop())
	if _, err := c.Compile(context.Background(), "ghost", day); err != ErrNoTests {
		t.Errorf("err = %v, want ErrNoTests", err)
	}
}

func TestCompileAggregates(t *testing.T) {
	f := newFakeReportStore()
	f.endpoints["ep-1"] = &domain.Endpoint{ID: "ep-1", Description: "web search", Path: "/search"}
	f.endpoints["ep-2"] = &domain.Endpoint{ID: "ep-2", Path: "/quote"} // без описания

	// 4 пробы: 3 успеха, 2 верификации, латентности 100/300/100/300
	addTest(f, "agent", "ep-1", true, true, 100, 100)
	addTest(f, "agent", "ep-1", true, true, 300, 80)
	addTest(f, "agent", "ep-2", true, false, 100, 60)
	addTest(f, "agent", "ep-2", false, false, 300, 0)

	issuer := &fakeIssuer{}
	c := NewCompiler(f, f, f, issuer, zap.NewNop())

	got, err := c.Compile(context.Background(), "agent", day)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if got.TestsRun != 4 || got.TestsSucceeded != 3 {
		t.Errorf("counts = %d/%d, want 4/3", got.TestsRun, got.TestsSucceeded)
	}
	if got.SuccessRate != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", got.SuccessRate)
	}
	if got.AvgResponseTimeMs != 200 {
		t.Errorf("AvgResponseTimeMs = %v, want 200", got.AvgResponseTimeMs)
	}
	if got.AvgQualityScore != 60 {
		t.Errorf("AvgQualityScore = %v, want 60", got.AvgQualityScore)
	}

	// mean=200, stddev=100 (population), CV=0.5 -> 50
	if got.ConsistencyScore != 50 {
		t.Errorf("ConsistencyScore = %d, want 50", got.ConsistencyScore)
	}

	// trust = round(0.75*40 + 0.5*40 + 0.6*20) = 62 -> D
	if got.Trustworthiness != 62 {
		t.Errorf("Trustworthiness = %d, want 62", got.Trustworthiness)
	}
	if got.Grade != "D" {
		t.Errorf("Grade = %q, want D", got.Grade)
	}
	if got.Recommendation != domain.RecommendationFor("D") {
		t.Errorf("Recommendation mismatch for grade D")
	}

	if len(got.VerifiedCapabilities) != 1 || got.VerifiedCapabilities[0] != "web search" {
		t.Errorf("VerifiedCapabilities = %v", got.VerifiedCapabilities)
	}
	if len(got.FailedCapabilities) != 1 || got.FailedCapabilities[0] != "/quote" {
		t.Errorf("FailedCapabilities = %v", got.FailedCapabilities)
	}

	if len(issuer.reports) != 1 || issuer.reports[0] != got {
		t.Error("credential issuer must receive the freshly compiled report")
	}
}

// Повторная компиляция перезаписывает, а не дублирует.
func TestCompileIdempotent(t *testing.T) {
	f := newFakeReportStore()
	f.endpoints["ep-1"] = &domain.Endpoint{ID: "ep-1", Description: "search"}
	addTest(f, "agent", "ep-1", true, true, 100, 100)

	c := NewCompiler(f, f, f, nil, zap.NewNop())

	first, err := c.Compile(context.Background(), "agent", day)
	if err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	second, err := c.Compile(context.Background(), "agent", day)
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}

	if len(f.reports) != 1 {
		t.Fatalf("reports stored = %d, want 1", len(f.reports))
	}
	if first.Trustworthiness != second.Trustworthiness || first.Grade != second.Grade ||
		first.ConsistencyScore != second.ConsistencyScore {
		t.Error("recompile over identical tests must produce identical derived fields")
	}
}

func TestConsistency(t *testing.T) {
	tests := []struct {
		name      string
		latencies []float64
		want      int
	}{
		{"zero variance", []float64{250, 250, 250}, 100},
		{"single sample", []float64{42}, 100},
		{"all zero", []float64{0, 0}, 100},
		{"cv at half", []float64{100, 300, 100, 300}, 50},
		{"variation exceeds mean", []float64{1, 1, 1, 1000}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := consistency(tt.latencies); got != tt.want {
				t.Errorf("consistency(%v) = %d, want %d", tt.latencies, got, tt.want)
			}
		})
	}
}

func TestFraudRisk(t *testing.T) {
	f := newFakeReportStore()
	f.endpoints["ep-1"] = &domain.Endpoint{ID: "ep-1"}
	addTest(f, "agent", "ep-1", true, true, 100, 100)
	f.fraud = 6 // 6*25 = 150, потолок 100

	c := NewCompiler(f, f, f, nil, zap.NewNop())
	got, err := c.Compile(context.Background(), "agent", day)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got.FraudRiskScore != 100 {
		t.Errorf("FraudRiskScore = %d, want 100 (capped)", got.FraudRiskScore)
	}
}

func TestFraudRiskScaling(t *testing.T) {
	for signals, want := range map[int]int{0: 0, 1: 25, 3: 75, 4: 100, 10: 100} {
		if got := fraudRisk(signals); got != want {
			t.Errorf("fraudRisk(%d) = %d, want %d", signals, got, want)
		}
	}
}
