package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/console/handler"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка RS256-токенов. nil означает, что публичный ключ не задан
	// и API отдаётся без аутентификации (докладываем об этом в лог).
	validator auth.TokenValidator

	// Обработчики бизнес-доменов
	serviceHandler *handler.ServiceHandler   // /api/v1/services
	agentHandler   *handler.AgentHandler     // /api/v1/agents
	taskHandler    *handler.TaskHandler      // /api/v1/tasks
	planHandler    *handler.PlanHandler      // /api/v1/plans
	breakerHandler *handler.BreakerHandler   // /api/v1/breakers
	eventHandler   *handler.EventHandler     // /api/v1/events
	dashHandler    *handler.DashboardHandler // /api/v1/stats
}

// NewConsoleServer инициализирует HTTP-поверхность оркестратора со всеми
// зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	serviceH *handler.ServiceHandler,
	agentH *handler.AgentHandler,
	taskH *handler.TaskHandler,
	planH *handler.PlanHandler,
	breakerH *handler.BreakerHandler,
	eventH *handler.EventHandler,
	dashH *handler.DashboardHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		validator:      validator,
		serviceHandler: serviceH,
		agentHandler:   agentH,
		taskHandler:    taskH,
		planHandler:    planH,
		breakerHandler: breakerH,
		eventHandler:   eventH,
		dashHandler:    dashH,
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

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требует RS256 токен) ---
	r.Group(func(r chi.Router) {
		if s.validator != nil {
			r.Use(auth.NewMiddleware(s.validator, s.logger))
		} else {
			s.logger.Warn("console auth disabled, API is served without token checks")
		}

		// Dashboard & Events
		r.Get("/api/v1/stats", s.dashHandler.GetStats)
		r.Get("/api/v1/events", s.eventHandler.GetEvents)

		// Реестр сервисов и ожидание готовности
		r.Route("/api/v1/services", func(r chi.Router) {
			r.Get("/", s.serviceHandler.List)
			r.Post("/", s.serviceHandler.Register)
			r.Get("/topology", s.serviceHandler.Topology)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.serviceHandler.Get)
				r.Delete("/", s.serviceHandler.Deregister)
				r.Get("/wait", s.serviceHandler.Wait)
				r.Get("/dependencies/wait", s.serviceHandler.WaitDependencies)
			})
		})

		// Управление агентами (pause/resume/restart с рассылкой по экземплярам)
		r.Route("/api/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List)
			r.Post("/", s.agentHandler.Register)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)
				r.Delete("/", s.agentHandler.Deregister)
				r.Post("/pause", s.agentHandler.Pause)
				r.Post("/resume", s.agentHandler.Resume)
				r.Post("/restart", s.agentHandler.Restart)
			})
		})

		// Задачи: постановка, прогресс исполнителей, ручной провал
		r.Route("/api/v1/tasks", func(r chi.Router) {
			r.Get("/", s.taskHandler.List)
			r.Post("/", s.taskHandler.Submit)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.taskHandler.Get)
				r.Post("/progress", s.taskHandler.Progress)
				r.Post("/fail", s.taskHandler.Fail)
			})
		})

		// Планы оркестрации
		r.Route("/api/v1/plans", func(r chi.Router) {
			r.Get("/", s.planHandler.List)
			r.Post("/", s.planHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.planHandler.Get)
				r.Post("/execute", s.planHandler.Execute)
			})
		})

		// Предохранители исходящих вызовов
		r.Route("/api/v1/breakers", func(r chi.Router) {
			r.Get("/", s.breakerHandler.List)
			r.Post("/{service}/reset", s.breakerHandler.Reset)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
