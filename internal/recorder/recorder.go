package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

// EndpointStore — часть хранилища, нужная для обновления агрегатов.
type EndpointStore interface {
	GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error)
	UpdateEndpointAggregates(ctx context.Context, id string, totalTests, successfulTests int64,
		avgResponseTimeMs, avgQualityScore float64, lastTestedAt time.Time) error
}

type TestStore interface {
	InsertTestResult(ctx context.Context, t *domain.TestResult) error
}

type PaymentStore interface {
	PaymentSeen(ctx context.Context, signature string) (bool, error)
	InsertPayment(ctx context.Context, p *domain.PaymentRecord) error
}

// Recorder сохраняет исход пробы и обновляет скользящие агрегаты эндпоинта.
//
// Агрегаты пересчитываются по инкрементальной формуле
// newAvg = (oldAvg*(n-1) + value) / n под пер-эндпоинтным мьютексом.
// В последовательном часовом цикле гонок нет по построению, но инвариант
// обязан выдержать и параллельный планировщик.
type Recorder struct {
	endpoints EndpointStore
	tests     TestStore
	payments  PaymentStore

	// Адрес аудитора — плательщик во всех платежных записях
	payerAddress string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // endpoint_id -> лок

	logger *zap.Logger
}

func New(endpoints EndpointStore, tests TestStore, payments PaymentStore, payerAddress string, logger *zap.Logger) *Recorder {
	return &Recorder{
		endpoints:    endpoints,
		tests:        tests,
		payments:     payments,
		payerAddress: payerAddress,
		locks:        make(map[string]*sync.Mutex),
		logger:       logger.Named("recorder"),
	}
}

func (r *Recorder) lockFor(endpointID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[endpointID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[endpointID] = l
	}
	return l
}

// Record персистит результат, двигает агрегаты и (при платеже) добавляет
// платежную запись. Все побочные эффекты локальны для одной тройки
// (TestResult, Endpoint, PaymentRecord).
func (r *Recorder) Record(ctx context.Context, res *domain.TestResult) error {
	truncate(res)

	if err := r.tests.InsertTestResult(ctx, res); err != nil {
		return fmt.Errorf("recorder: persist test result: %w", err)
	}

	if err := r.updateAggregates(ctx, res); err != nil {
		return fmt.Errorf("recorder: update aggregates: %w", err)
	}

	if res.PaymentSignature != "" {
		if err := r.recordPayment(ctx, res); err != nil {
			// Платежный фид не должен ронять запись пробы
			r.logger.Error("payment record failed",
				zap.String("signature", res.PaymentSignature), zap.Error(err))
		}
	}

	return nil
}

func (r *Recorder) updateAggregates(ctx context.Context, res *domain.TestResult) error {
	lock := r.lockFor(res.EndpointID)
	lock.Lock()
	defer lock.Unlock()

	ep, err := r.endpoints.GetEndpoint(ctx, res.EndpointID)
	if err != nil {
		return err
	}
	if ep == nil {
		return fmt.Errorf("endpoint %s disappeared", res.EndpointID)
	}

	n := ep.TotalTests + 1
	successes := ep.SuccessfulTests
	if res.Success {
		successes++
	}

	avgRt := incrementalAvg(ep.AvgResponseTimeMs, n, float64(res.ResponseTimeMs))
	avgQ := incrementalAvg(ep.AvgQualityScore, n, float64(res.QualityScore))

	return r.endpoints.UpdateEndpointAggregates(ctx, ep.ID, n, successes, avgRt, avgQ, res.TestedAt)
}

// incrementalAvg — скользящее среднее: newAvg = (oldAvg*(n-1) + v) / n.
func incrementalAvg(oldAvg float64, n int64, v float64) float64 {
	return (oldAvg*float64(n-1) + v) / float64(n)
}

func (r *Recorder) recordPayment(ctx context.Context, res *domain.TestResult) error {
	seen, err := r.payments.PaymentSeen(ctx, res.PaymentSignature)
	if err != nil {
		return err
	}
	if seen {
		// Подпись уже в фиде — дубль не пишем
		return nil
	}

	return r.payments.InsertPayment(ctx, &domain.PaymentRecord{
		ID:           uuid.New().String(),
		Signature:    res.PaymentSignature,
		AgentAddress: res.AgentAddress,
		EndpointID:   res.EndpointID,
		AmountUSDC:   res.PaymentAmountUSDC,
		PayerAddress: r.payerAddress,
		PaidAt:       res.TestedAt,
	})
}

// truncate приводит запись к лимитам хранения.
func truncate(res *domain.TestResult) {
	if len(res.RequestBody) > domain.MaxStoredBodyBytes {
		res.RequestBody = res.RequestBody[:domain.MaxStoredBodyBytes]
	}
	if len(res.ResponseBody) > domain.MaxStoredBodyBytes {
		res.ResponseBody = res.ResponseBody[:domain.MaxStoredBodyBytes]
	}
	if len(res.Transcript) > domain.MaxTranscriptMessages {
		res.Transcript = res.Transcript[:domain.MaxTranscriptMessages]
	}
	for i := range res.Transcript {
		if len(res.Transcript[i].Content) > domain.MaxTranscriptMsgBytes {
			res.Transcript[i].Content = res.Transcript[i].Content[:domain.MaxTranscriptMsgBytes]
		}
	}
}
