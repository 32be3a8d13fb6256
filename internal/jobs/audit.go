package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"github.com/xela07ax/agent-trust-auditor/internal/engine"
	"github.com/xela07ax/agent-trust-auditor/internal/infra"
)

// Prober — исполнитель одной пробы (реализуется пакетом executor).
type Prober interface {
	Probe(ctx context.Context, ep *domain.Endpoint) *domain.TestResult
}

// Picker — планировщик выбора следующего эндпоинта.
type Picker interface {
	Next(ctx context.Context, priceCeilingUSDC float64, exclude map[string]struct{}) (*domain.Endpoint, error)
}

// Sink — запись исхода пробы (реализуется пакетом recorder).
type Sink interface {
	Record(ctx context.Context, res *domain.TestResult) error
}

// Suppressor отвечает, поставлен ли агент оператором на паузу.
type Suppressor interface {
	IsSuppressed(agentAddress string) bool
}

// Inspector — фрод-эвристика по исходу пробы (реализуется пакетом risk).
type Inspector interface {
	Inspect(ctx context.Context, ep *domain.Endpoint, res *domain.TestResult)
}

// AuditJob — часовой цикл: планировщик -> исполнитель -> рекордер.
// Пробы идут строго последовательно: общий бюджет запуска (траты и счетчик
// проб) проверяется между итерациями, и вендоры не получают параллельной
// нагрузки от аудитора.
type AuditJob struct {
	picker      Picker
	prober      Prober
	sink        Sink
	suppression Suppressor
	inspector   Inspector
	cfg         infra.AuditorConfig
	metrics     *engine.Metrics
	logger      *zap.Logger
}

func NewAuditJob(picker Picker, prober Prober, sink Sink, suppression Suppressor,
	inspector Inspector, cfg infra.AuditorConfig, metrics *engine.Metrics, logger *zap.Logger) *AuditJob {
	return &AuditJob{
		picker:      picker,
		prober:      prober,
		sink:        sink,
		suppression: suppression,
		inspector:   inspector,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger.Named("audit-job"),
	}
}

// RunOnce прогоняет один цикл до исчерпания бюджета или кандидатов.
// Сбой одной итерации логируется и не прерывает остальные.
func (j *AuditJob) RunOnce(ctx context.Context) error {
	var (
		spentUSDC float64
		probes    int
		visited   = map[string]struct{}{} // Эндпоинты, уже встреченные в этом запуске
	)

	j.logger.Info("audit run started",
		zap.Float64("max_spend_usdc", j.cfg.MaxSpendUSDC),
		zap.Int("max_probes", j.cfg.MaxProbes))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if probes >= j.cfg.MaxProbes {
			j.logger.Info("probe budget exhausted", zap.Int("probes", probes))
			break
		}
		if spentUSDC >= j.cfg.MaxSpendUSDC {
			j.logger.Info("spend budget exhausted", zap.Float64("spent_usdc", spentUSDC))
			break
		}

		ep, err := j.picker.Next(ctx, j.cfg.PriceCeilingUSDC, visited)
		if err != nil {
			j.logger.Error("scheduler failed", zap.Error(err))
			break
		}
		if ep == nil {
			j.logger.Info("no eligible endpoints left")
			break
		}
		visited[ep.ID] = struct{}{}

		if j.suppression.IsSuppressed(ep.AgentAddress) {
			j.metrics.SuppressedSkips.Inc()
			j.logger.Info("agent suppressed, probe skipped",
				zap.String("agent", ep.AgentAddress), zap.String("endpoint_id", ep.ID))
			continue
		}

		spentUSDC += j.probeOne(ctx, ep)
		probes++
	}

	j.logger.Info("audit run finished",
		zap.Int("probes", probes), zap.Float64("spent_usdc", spentUSDC))
	return nil
}

// probeOne выполняет и записывает одну пробу; паника итерации поглощается.
// Возвращает потраченное по пробе.
func (j *AuditJob) probeOne(ctx context.Context, ep *domain.Endpoint) (spent float64) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("probe iteration panicked",
				zap.String("endpoint_id", ep.ID), zap.Any("panic", r))
		}
	}()

	res := j.prober.Probe(ctx, ep)

	if err := j.sink.Record(ctx, res); err != nil {
		j.logger.Error("probe result not recorded",
			zap.String("endpoint_id", ep.ID), zap.Error(err))
	}

	// Фрод-эвристика — побочный наблюдатель, ее сбои поглощает общий recover
	if j.inspector != nil {
		j.inspector.Inspect(ctx, ep, res)
	}
	return res.PaymentAmountUSDC
}

// LockTTL часового запуска: щедро больше максимальной длительности цикла.
func (j *AuditJob) LockTTL() time.Duration {
	return time.Duration(j.cfg.MaxProbes+1) * j.cfg.ProbeTimeout
}
