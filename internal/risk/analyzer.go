package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

// SignalStore принимает найденные улики (реализуется postgres-репозиторием).
type SignalStore interface {
	InsertFraudSignal(ctx context.Context, s *domain.FraudSignal) error
}

// Пороги эвристик. Значения консервативные: автоматический сигнал — это
// улика для дневного fraud-risk, а не вердикт.
const (
	// Запрошенная в 402 сумма превышает заявленную цену более чем вдвое
	priceGougingFactor = 2.0

	// Платный ответ быстрее этого порога неотличим от заготовки
	cannedResponseMs = 5
)

// Analyzer ищет фрод-паттерны в исходе каждой записанной пробы и складывает
// улики в хранилище сигналов. Ошибка записи не валит пробу: эвристика —
// побочный наблюдатель, не участник конвейера.
type Analyzer struct {
	store  SignalStore
	logger *zap.Logger
}

func NewAnalyzer(store SignalStore, logger *zap.Logger) *Analyzer {
	return &Analyzer{store: store, logger: logger.Named("risk")}
}

// Inspect проверяет один исход пробы против эвристик и персистит улики.
func (a *Analyzer) Inspect(ctx context.Context, ep *domain.Endpoint, res *domain.TestResult) {
	for _, sig := range a.evaluate(ep, res) {
		if err := a.store.InsertFraudSignal(ctx, sig); err != nil {
			a.logger.Error("fraud signal write failed",
				zap.String("agent", sig.AgentAddress),
				zap.String("type", string(sig.SignalType)),
				zap.Error(err))
			continue
		}
		a.logger.Warn("fraud heuristic triggered",
			zap.String("agent", sig.AgentAddress),
			zap.String("type", string(sig.SignalType)),
			zap.String("evidence", sig.Evidence))
	}
}

func (a *Analyzer) evaluate(ep *domain.Endpoint, res *domain.TestResult) []*domain.FraudSignal {
	var signals []*domain.FraudSignal

	emit := func(t domain.FraudSignalType, severity domain.FraudSeverity, evidence string) {
		signals = append(signals, &domain.FraudSignal{
			ID:           uuid.New().String(),
			AgentAddress: res.AgentAddress,
			SignalType:   t,
			Severity:     severity,
			Evidence:     evidence,
			DetectedAt:   time.Now().UTC(),
		})
	}

	// 1. Завышение цены: реально затребованная сумма против заявленной в каталоге
	if res.PaymentAmountUSDC > 0 && ep.PriceUSDC > 0 &&
		res.PaymentAmountUSDC > ep.PriceUSDC*priceGougingFactor {
		emit(domain.FraudPriceManipulation, domain.SeverityMedium,
			fmt.Sprintf("advertised %.6f USDC, the 402 offer demanded %.6f USDC",
				ep.PriceUSDC, res.PaymentAmountUSDC))
	}

	// 2. Заготовленный ответ: платный успех с нереалистичной латентностью
	if res.Success && res.PaymentAmountUSDC > 0 && res.ResponseTimeMs < cannedResponseMs {
		emit(domain.FraudFakeVolume, domain.SeverityLow,
			fmt.Sprintf("paid response arrived in %dms, likely canned", res.ResponseTimeMs))
	}

	return signals
}
