package risk

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

type fakeSignalStore struct {
	signals []*domain.FraudSignal
}

func (f *fakeSignalStore) InsertFraudSignal(_ context.Context, s *domain.FraudSignal) error {
	f.signals = append(f.signals, s)
	return nil
}

func TestInspectHeuristics(t *testing.T) {
	ep := &domain.Endpoint{ID: "ep-1", AgentAddress: "agent", PriceUSDC: 0.01}

	tests := []struct {
		name      string
		res       domain.TestResult
		wantTypes []domain.FraudSignalType
	}{
		{
			name: "honest paid probe",
			res:  domain.TestResult{AgentAddress: "agent", Success: true, PaymentAmountUSDC: 0.01, ResponseTimeMs: 300},
		},
		{
			name: "free probe never flags",
			res:  domain.TestResult{AgentAddress: "agent", Success: true, ResponseTimeMs: 1},
		},
		{
			name:      "price gouging",
			res:       domain.TestResult{AgentAddress: "agent", Success: true, PaymentAmountUSDC: 0.05, ResponseTimeMs: 300},
			wantTypes: []domain.FraudSignalType{domain.FraudPriceManipulation},
		},
		{
			name:      "canned paid response",
			res:       domain.TestResult{AgentAddress: "agent", Success: true, PaymentAmountUSDC: 0.01, ResponseTimeMs: 2},
			wantTypes: []domain.FraudSignalType{domain.FraudFakeVolume},
		},
		{
			name:      "both at once",
			res:       domain.TestResult{AgentAddress: "agent", Success: true, PaymentAmountUSDC: 0.05, ResponseTimeMs: 2},
			wantTypes: []domain.FraudSignalType{domain.FraudPriceManipulation, domain.FraudFakeVolume},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeSignalStore{}
			a := NewAnalyzer(store, zap.NewNop())

			a.Inspect(context.Background(), ep, &tt.res)

			if len(store.signals) != len(tt.wantTypes) {
				t.Fatalf("signals = %d, want %d", len(store.signals), len(tt.wantTypes))
			}
			for i, want := range tt.wantTypes {
				if store.signals[i].SignalType != want {
					t.Errorf("signal[%d] = %s, want %s", i, store.signals[i].SignalType, want)
				}
			}
		})
	}
}

// Удвоение цены ровно в 2 раза — еще не сигнал: порог строгий.
func TestInspectExactFactorNotFlagged(t *testing.T) {
	store := &fakeSignalStore{}
	a := NewAnalyzer(store, zap.NewNop())

	ep := &domain.Endpoint{AgentAddress: "agent", PriceUSDC: 0.01}
	a.Inspect(context.Background(), ep, &domain.TestResult{
		AgentAddress: "agent", Success: true, PaymentAmountUSDC: 0.02, ResponseTimeMs: 300,
	})
	if len(store.signals) != 0 {
		t.Errorf("signals = %d, want 0", len(store.signals))
	}
}
