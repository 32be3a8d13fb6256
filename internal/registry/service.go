package registry

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

// EndpointRepository описывает требования каталога к хранилищу.
type EndpointRepository interface {
	CreateEndpoint(ctx context.Context, e *domain.Endpoint) (string, error)
	GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error)
	GetEndpointByURL(ctx context.Context, baseURL, path string) (*domain.Endpoint, error)
	ListEndpoints(ctx context.Context) ([]*domain.Endpoint, error)
	ListActiveCandidates(ctx context.Context, limit int) ([]*domain.Endpoint, error)
	SetEndpointActive(ctx context.Context, id string, active bool) error
}

// Service — операции каталога эндпоинтов.
type Service struct {
	repo   EndpointRepository
	logger *zap.Logger
}

func NewService(repo EndpointRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger.Named("registry")}
}

// AddEndpoint регистрирует эндпоинт. Идемпотентность — по URL: повторная
// регистрация возвращает существующую запись и created=false.
func (s *Service) AddEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, bool, error) {
	if e.Method != http.MethodGet && e.Method != http.MethodPost {
		return nil, false, fmt.Errorf("registry: unsupported method %q", e.Method)
	}
	if !domain.ValidCategory(e.Category) {
		return nil, false, fmt.Errorf("registry: unknown category %q", e.Category)
	}
	if e.AgentAddress == "" || e.BaseURL == "" {
		return nil, false, fmt.Errorf("registry: agent address and base url are required")
	}
	if e.PriceUSDC < 0 {
		return nil, false, fmt.Errorf("registry: price must not be negative")
	}

	existing, err := s.repo.GetEndpointByURL(ctx, e.BaseURL, e.Path)
	if err != nil {
		return nil, false, fmt.Errorf("registry: lookup failed: %w", err)
	}
	if existing != nil {
		s.logger.Debug("endpoint already registered",
			zap.String("id", existing.ID), zap.String("url", e.FullURL()))
		return existing, false, nil
	}

	id, err := s.repo.CreateEndpoint(ctx, e)
	if err != nil {
		return nil, false, fmt.Errorf("registry: create failed: %w", err)
	}

	created, err := s.repo.GetEndpoint(ctx, id)
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("endpoint registered",
		zap.String("id", id),
		zap.String("agent", e.AgentAddress),
		zap.String("url", e.FullURL()),
		zap.Float64("price_usdc", e.PriceUSDC))
	return created, true, nil
}

// Deactivate выключает эндпоинт из ротации проб. Записи не удаляются.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.SetEndpointActive(ctx, id, false); err != nil {
		s.logger.Error("failed to deactivate endpoint", zap.String("id", id), zap.Error(err))
		return err
	}
	s.logger.Info("endpoint deactivated", zap.String("id", id))
	return nil
}

// List возвращает весь каталог. Гарантируем пустой массив вместо nil.
func (s *Service) List(ctx context.Context) ([]*domain.Endpoint, error) {
	endpoints, err := s.repo.ListEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: could not list endpoints: %w", err)
	}
	if endpoints == nil {
		return []*domain.Endpoint{}, nil
	}
	return endpoints, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Endpoint, error) {
	return s.repo.GetEndpoint(ctx, id)
}
