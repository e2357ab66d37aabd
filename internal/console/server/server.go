package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/console/handler"
	"github.com/xela07ax/trustgate/internal/infra/auth"
)

// Разрешения оператора консоли (роль admin проходит везде)
const (
	PermConsoleRead   = "console.read"
	PermConsoleManage = "console.manage"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler     *handler.AuthHandler     // /auth/token
	resourceHandler *handler.ResourceHandler // /v1/resources, /v1/health/run
	recordsHandler  *handler.RecordsHandler  // /v1/validations, /v1/journal
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	resourceH *handler.ResourceHandler,
	recordsH *handler.RecordsHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		authValidator:   validator,
		authHandler:     authH,
		resourceHandler: resourceH,
		recordsHandler:  recordsH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Реестр ресурсов пула
		r.Route("/v1/resources", func(r chi.Router) {
			r.With(auth.RequirePermission(PermConsoleRead)).Get("/", s.resourceHandler.List)
			r.With(auth.RequirePermission(PermConsoleManage)).Post("/", s.resourceHandler.Save)
			r.Route("/{id}", func(r chi.Router) {
				r.With(auth.RequirePermission(PermConsoleRead)).Get("/", s.resourceHandler.Get)
				r.With(auth.RequirePermission(PermConsoleRead)).Get("/probes", s.recordsHandler.ProbeHistory)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequirePermission(PermConsoleManage))
					r.Put("/", s.resourceHandler.Save)
					r.Delete("/", s.resourceHandler.Delete)
					r.Post("/enable", s.resourceHandler.Enable)
					r.Post("/disable", s.resourceHandler.Disable) // Kill-switch
				})
			})
		})

		// Внеочередная проверка здоровья на всех инстансах
		r.With(auth.RequirePermission(PermConsoleManage)).Post("/v1/health/run", s.resourceHandler.RunHealth)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequirePermission(PermConsoleRead))
			r.Get("/v1/validations", s.recordsHandler.ListValidations)
			r.Get("/v1/validations/{id}", s.recordsHandler.GetValidation)
			r.Get("/v1/journal", s.recordsHandler.Journal)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
