package audit

/*
Файл trail.go реализует операторский след консоли (Audit Trail).

Архитектура записи:
- Non-blocking Logging: события уходят в буферизованный канал, хендлеры
  консоли не ждут Postgres.
- Batching: события копятся в памяти и пишутся пачкой по таймеру или при
  достижении лимита (100 событий).
- Drain Pattern: при остановке сервиса канал закрывается, воркер дочитывает
  остатки и делает финальный flush — след не теряется на рестарте.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняется след
type StorageInterface interface {
	// WriteOperatorActions сохраняет пачку событий за один раз
	WriteOperatorActions(ctx context.Context, actions []OperatorAction) error
}

type Trail struct {
	ch     chan OperatorAction // Буфер для асинхронности
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup
	// Защита от Log после остановки
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewTrail(repo StorageInterface, logger *zap.Logger) *Trail {
	return &Trail{
		ch:     make(chan OperatorAction, 1000),
		repo:   repo,
		logger: logger.Named("audit-trail"),
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход в канал и ждет, пока воркер все допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("trail stopped gracefully")
}

func (t *Trail) Log(action OperatorAction) {
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("operator action dropped: trail is stopping", zap.String("action", action.Action))
		return
	}

	// Load Shedding: переполненный буфер не блокирует консоль
	select {
	case t.ch <- action:
	default:
		t.logger.Error("trail_buffer_overflow",
			zap.String("operator", action.OperatorID),
			zap.String("action", action.Action))
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]OperatorAction, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к моменту финального flush уже закрыт
			if err := t.repo.WriteOperatorActions(context.Background(), batch); err != nil {
				t.logger.Error("trail flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case action, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): дочитали остатки, финальный сброс
				flush()
				t.logger.Info("trail worker finished")
				return
			}
			batch = append(batch, action)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
