package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/infra"
)

// SuppressionManager держит в памяти множество агентов, аудит которых
// оператор поставил на паузу. Часовой цикл проверяет его перед каждой пробой.
// Состояние синхронизируется с Redis: Set для персистентности между
// рестартами, Pub/Sub для мгновенной доставки решений оператора.
type SuppressionManager struct {
	mu         sync.RWMutex
	suppressed map[string]struct{}
	rdb        *redis.Client
	logger     *zap.Logger
}

func NewSuppressionManager(rdb *redis.Client, logger *zap.Logger) *SuppressionManager {
	return &SuppressionManager{
		suppressed: make(map[string]struct{}),
		rdb:        rdb,
		logger:     logger.Named("suppression"),
	}
}

// Init загружает текущее множество пауз при старте сервиса.
func (m *SuppressionManager) Init(ctx context.Context) error {
	agents, err := m.rdb.SMembers(ctx, infra.RedisKeySuppressedAgents).Result()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.suppressed = make(map[string]struct{}, len(agents))
	for _, addr := range agents {
		m.suppressed[addr] = struct{}{}
	}
	m.mu.Unlock()

	m.logger.Info("suppression set loaded", zap.Int("count", len(agents)))
	return nil
}

// IsSuppressed — горячий путь планировщика, только RAM.
func (m *SuppressionManager) IsSuppressed(agentAddress string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.suppressed[agentAddress]
	return ok
}

func (m *SuppressionManager) apply(agentAddress string, on bool) {
	m.mu.Lock()
	if on {
		m.suppressed[agentAddress] = struct{}{}
	} else {
		delete(m.suppressed, agentAddress)
	}
	m.mu.Unlock()
}

// StartListener — "живучая" подписка на канал решений оператора.
// Переподписывается при обрывах; на каждом успешном коннекте перечитывает
// множество из Redis, чтобы не потерять сигналы, ушедшие мимо нас.
func (m *SuppressionManager) StartListener(ctx context.Context) {
	for {
		pubsub := m.rdb.Subscribe(ctx, infra.RedisChanSuppression)

		if _, err := pubsub.Receive(ctx); err != nil {
			m.logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanSuppression), zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация состояния при каждом успешном коннекте
		if err := m.Init(ctx); err != nil {
			m.logger.Error("suppression sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Формат сигнала: "agent_address:on|off"
				parts := strings.Split(msg.Payload, ":")
				if len(parts) != 2 {
					m.logger.Error("invalid suppression signal", zap.String("payload", msg.Payload))
					continue
				}

				on := parts[1] == "on" || parts[1] == "true"
				m.apply(parts[0], on)
				m.logger.Info("suppression state changed",
					zap.String("agent", parts[0]),
					zap.Bool("suppressed", on))
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}
