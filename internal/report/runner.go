package report

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/engine"
)

// Runner прогоняет компилятор по всем агентам, замеченным за сутки.
// Компиляции независимы (каждая читает и пишет только своего агента),
// поэтому выполняются параллельно пулом воркеров.
type Runner struct {
	compiler *Compiler
	tests    TestStore
	workers  int
	metrics  *engine.Metrics
	logger   *zap.Logger
}

func NewRunner(compiler *Compiler, tests TestStore, workers int, metrics *engine.Metrics, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		compiler: compiler,
		tests:    tests,
		workers:  workers,
		metrics:  metrics,
		logger:   logger.Named("report-runner"),
	}
}

// RunDay компилирует отчеты за сутки [day, day+24h) по каждому агенту.
// Ошибка одного агента логируется и не прерывает остальных.
func (r *Runner) RunDay(ctx context.Context, day time.Time) error {
	agents, err := r.tests.DistinctAgentsBetween(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		r.logger.Info("no agents observed, nothing to compile", zap.Time("date", day))
		return nil
	}

	r.logger.Info("daily compile started",
		zap.Time("date", day), zap.Int("agents", len(agents)), zap.Int("workers", r.workers))

	queue := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for agent := range queue {
				r.compileOne(ctx, agent, day)
			}
		}()
	}

	for _, agent := range agents {
		select {
		case queue <- agent:
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(queue)
	wg.Wait()

	r.logger.Info("daily compile finished", zap.Time("date", day))
	return nil
}

func (r *Runner) compileOne(ctx context.Context, agent string, day time.Time) {
	_, err := r.compiler.Compile(ctx, agent, day)
	switch {
	case err == nil:
		r.metrics.ReportCompiles.WithLabelValues("compiled").Inc()
	case errors.Is(err, ErrNoTests):
		r.metrics.ReportCompiles.WithLabelValues("skipped").Inc()
	default:
		r.metrics.ReportCompiles.WithLabelValues("failed").Inc()
		r.logger.Error("agent compile failed", zap.String("agent", agent), zap.Error(err))
	}
}
