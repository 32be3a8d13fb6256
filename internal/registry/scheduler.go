package registry

import (
	"context"
	"fmt"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

// Scheduler выбирает следующий эндпоинт для пробы.
//
// Намеренный trade-off: вместо честного глобального LRU берется ограниченное
// окно кандидатов (windowSize, по умолчанию 100) из активных, отсортированных
// по давности последней пробы. Глобально самый старый эндпоинт может не
// попасть в окно — это best-effort round-robin с предсказуемой ценой запроса,
// а не баг. Размер окна — настроечный параметр.
type Scheduler struct {
	repo       EndpointRepository
	windowSize int
}

func NewScheduler(repo EndpointRepository, windowSize int) *Scheduler {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Scheduler{repo: repo, windowSize: windowSize}
}

// Next возвращает лучшего кандидата дешевле потолка или (nil, nil), когда
// подходящих нет. Никогда-не-тестированные считаются самыми приоритетными.
// exclude — эндпоинты, которые текущий запуск уже видел (например, пробу
// пропустили из-за паузы агента): без исключения планировщик выдавал бы их
// снова и снова, ведь lastTestedAt у них не сдвинулся.
func (s *Scheduler) Next(ctx context.Context, priceCeilingUSDC float64, exclude map[string]struct{}) (*domain.Endpoint, error) {
	candidates, err := s.repo.ListActiveCandidates(ctx, s.windowSize)
	if err != nil {
		return nil, fmt.Errorf("scheduler: candidate fetch failed: %w", err)
	}

	var best *domain.Endpoint
	for _, e := range candidates {
		if e.PriceUSDC > priceCeilingUSDC {
			continue
		}
		if _, skip := exclude[e.ID]; skip {
			continue
		}
		// Кандидаты уже отсортированы по давности; берем первого подходящего.
		// При равенстве времен побеждает стабильный порядок выборки.
		if best == nil || e.LastTestedAt.Before(best.LastTestedAt) {
			best = e
		}
	}
	return best, nil
}
