package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/infra"
)

// Имена джобов — ими же именуются распределенные локи.
const (
	JobHourlyAudit = "hourly"
	JobDailyReport = "daily"
)

// Runner владеет расписанием обеих джобов и каналом ручных запусков.
// Непрерывного сервисного цикла нет: каждая джоба триггерится и отрабатывает
// до конца либо до упора бюджета.
type Runner struct {
	audit  *AuditJob
	daily  *DailyJob
	locker *Locker
	cfg    infra.AuditorConfig
	logger *zap.Logger

	auditTrigger chan struct{}
	dailyTrigger chan time.Time
}

func NewRunner(audit *AuditJob, daily *DailyJob, locker *Locker, cfg infra.AuditorConfig, logger *zap.Logger) *Runner {
	return &Runner{
		audit:        audit,
		daily:        daily,
		locker:       locker,
		cfg:          cfg,
		logger:       logger.Named("jobs"),
		auditTrigger: make(chan struct{}, 1),
		dailyTrigger: make(chan time.Time, 1),
	}
}

// TriggerAudit ставит внеочередной часовой цикл. Неблокирующий: если запуск
// уже стоит в очереди, второй не добавляется.
func (r *Runner) TriggerAudit() bool {
	select {
	case r.auditTrigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// TriggerDaily ставит внеочередную компиляцию отчетов за указанную дату.
func (r *Runner) TriggerDaily(day time.Time) bool {
	select {
	case r.dailyTrigger <- day:
		return true
	default:
		return false
	}
}

// Start блокирует до отмены контекста, выполняя расписание и ручные запуски.
func (r *Runner) Start(ctx context.Context) {
	hourly := time.NewTicker(r.cfg.HourlyInterval)
	defer hourly.Stop()

	dailyTimer := time.NewTimer(time.Until(r.daily.NextRun(time.Now())))
	defer dailyTimer.Stop()

	r.logger.Info("job runner started",
		zap.Duration("hourly_interval", r.cfg.HourlyInterval),
		zap.Time("next_daily_run", r.daily.NextRun(time.Now())))

	// Первый цикл — сразу при старте, не через час
	r.runAudit(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped")
			return

		case <-hourly.C:
			r.runAudit(ctx)
		case <-r.auditTrigger:
			r.runAudit(ctx)

		case now := <-dailyTimer.C:
			r.runDaily(ctx, func(c context.Context) error {
				return r.daily.RunOnce(c, now)
			})
			dailyTimer.Reset(time.Until(r.daily.NextRun(time.Now())))

		case day := <-r.dailyTrigger:
			r.runDaily(ctx, func(c context.Context) error {
				return r.daily.RunForDay(c, day)
			})
		}
	}
}

func (r *Runner) runAudit(ctx context.Context) {
	err := r.locker.withLock(ctx, JobHourlyAudit, r.audit.LockTTL(), r.audit.RunOnce)
	if err != nil {
		r.logger.Error("hourly audit run failed", zap.Error(err))
	}
}

func (r *Runner) runDaily(ctx context.Context, fn func(context.Context) error) {
	err := r.locker.withLock(ctx, JobDailyReport, 30*time.Minute, fn)
	if err != nil {
		r.logger.Error("daily report run failed", zap.Error(err))
	}
}
