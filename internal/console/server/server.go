package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/console/handler"
	"github.com/xela07ax/agent-trust-auditor/internal/infra"
	"github.com/xela07ax/agent-trust-auditor/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка RS256-токенов; реализуется через embedding BaseValidator
	// в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler     *handler.AuthHandler     // /auth/token
	endpointHandler *handler.EndpointHandler // /v1/endpoints
	publicHandler   *handler.PublicHandler   // отчеты, документы, фиды
	opsHandler      *handler.OpsHandler      // операторские действия
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	endpointH *handler.EndpointHandler,
	publicH *handler.PublicHandler,
	opsH *handler.OpsHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		cfg:             cfg,
		authValidator:   validator,
		authHandler:     authH,
		endpointHandler: endpointH,
		publicHandler:   publicH,
		opsHandler:      opsH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		// Каталог: регистрация идемпотентна и потому открыта
		r.Post("/v1/endpoints", s.endpointHandler.Create)
		r.Get("/v1/endpoints", s.endpointHandler.List)

		// Отчеты и документы доверия агента
		r.Get("/v1/agents/{address}/reports/{date}", s.publicHandler.GetReport)
		r.Get("/v1/agents/{address}/credentials", s.publicHandler.GetCredentials)

		// Публичные аудит-фиды (адреса редактированы)
		r.Get("/v1/feed/tests", s.publicHandler.TestFeed)
		r.Get("/v1/feed/payments", s.publicHandler.PaymentFeed)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Паузы аудита и фрод-сигналы по агенту
		r.Post("/v1/agents/{address}/suppress", s.opsHandler.Suppress)
		r.Post("/v1/agents/{address}/unsuppress", s.opsHandler.Unsuppress)
		r.Post("/v1/agents/{address}/fraud-signals", s.opsHandler.ReportFraud)

		// Вывод эндпоинта из ротации
		r.Post("/v1/endpoints/{id}/deactivate", s.endpointHandler.Deactivate)

		// Голос по записи пробы
		r.Post("/v1/tests/{id}/vote", s.opsHandler.Vote)

		// Ручные запуски джобов
		r.Post("/v1/jobs/audit/run", s.opsHandler.RunAudit)
		r.Post("/v1/jobs/report/run", s.opsHandler.RunReport)

		// Отладочный перевод мимо платежного цикла
		r.Post("/v1/debug/transfer", s.opsHandler.DebugTransfer)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
