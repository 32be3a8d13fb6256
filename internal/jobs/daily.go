package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/infra"
	"github.com/xela07ax/agent-trust-auditor/internal/report"
)

// DailyJob компилирует отчеты за прошедшие календарные сутки опорной
// таймзоны. Запускается со смещением от полуночи, чтобы гарантированно
// накрыть весь вчерашний день.
type DailyJob struct {
	runner *report.Runner
	cfg    infra.ReportsConfig
	loc    *time.Location
	logger *zap.Logger
}

func NewDailyJob(runner *report.Runner, cfg infra.ReportsConfig, logger *zap.Logger) (*DailyJob, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("jobs: bad reference timezone %q: %w", cfg.Timezone, err)
	}
	return &DailyJob{
		runner: runner,
		cfg:    cfg,
		loc:    loc,
		logger: logger.Named("daily-job"),
	}, nil
}

// RunOnce компилирует отчеты за вчера (относительно now).
func (j *DailyJob) RunOnce(ctx context.Context, now time.Time) error {
	day := j.DayStart(now).AddDate(0, 0, -1)
	return j.runner.RunDay(ctx, day)
}

// RunForDay — ручной запуск консолью за произвольную дату.
func (j *DailyJob) RunForDay(ctx context.Context, day time.Time) error {
	return j.runner.RunDay(ctx, j.DayStart(day))
}

// DayStart — полночь опорной таймзоны для момента t.
func (j *DailyJob) DayStart(t time.Time) time.Time {
	local := t.In(j.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, j.loc)
}

// NextRun — ближайший момент запуска: следующая полночь плюс смещение.
func (j *DailyJob) NextRun(now time.Time) time.Time {
	next := j.DayStart(now).Add(j.cfg.DailyOffset)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
