package console

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/feed"
	"github.com/townbasket/liveops/internal/infra"
	"github.com/townbasket/liveops/internal/rbac"
	"github.com/townbasket/liveops/internal/stream"
)

// Server — локальный Console API подложки: отдает живое состояние,
// ленту алертов и принимает команды UI (пауза потока, bulk-операции).
// Слушает только loopback; авторизация оператора — забота апстрима.
type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	feed      *feed.Router
	alerts    *feed.AlertBus
	coord     *stream.Coordinator
	transport *stream.Client
	registry  *rbac.Registry

	actions *ActionsHandler
	prefs   *Prefs

	promReg *prometheus.Registry
}

// NewServer собирает Console API со всеми зависимостями.
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	feedRouter *feed.Router,
	alerts *feed.AlertBus,
	coord *stream.Coordinator,
	transport *stream.Client,
	registry *rbac.Registry,
	actions *ActionsHandler,
	prefs *Prefs,
	promReg *prometheus.Registry,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("console"),
		cfg:       cfg,
		feed:      feedRouter,
		alerts:    alerts,
		coord:     coord,
		transport: transport,
		registry:  registry,
		actions:   actions,
		prefs:     prefs,
		promReg:   promReg,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. Наблюдаемость ---
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	// --- 3. API для UI-поверхностей ---
	r.Route("/api/v1", func(r chi.Router) {
		// Живое состояние дашборда
		r.Get("/state", s.handleState)
		r.Get("/state/events", s.handleEventRing) // отладочное кольцо

		// Лента алертов
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleAlerts)
			r.Post("/clear", s.handleAlertsClear)
			r.Post("/{id}/read", s.handleAlertRead)
			r.Delete("/{id}", s.handleAlertDismiss)
		})

		// Видимость: UI сообщает об уходе в фон и возврате
		r.Post("/stream/pause", s.handleStreamPause)
		r.Post("/stream/resume", s.handleStreamResume)

		// Права и преференции
		r.Get("/permissions", s.handlePermissions)
		r.Get("/prefs/dark-mode", s.handleDarkModeGet)
		r.Put("/prefs/dark-mode", s.handleDarkModeSet)

		// Чувствительные мутации: гейт прав, затем REST-вызов и
		// инвалидация декларированных ключей кэша
		r.Route("/actions", func(r chi.Router) {
			gate := func(perm string) func(http.Handler) http.Handler {
				return rbac.Middleware(s.registry, rbac.RequireAll(perm), s.logger)
			}

			// Bulk-операции дополнительно проходят step-up церемонию
			r.With(gate("bulk.execute")).Post("/bulk/shops", s.actions.BulkShops)
			r.With(gate("bulk.execute")).Post("/bulk/users", s.actions.BulkUsers)

			r.With(gate("shops.approve")).Post("/shops/{id}/approve", s.actions.ShopApprove)
			r.With(gate("shops.approve")).Post("/shops/{id}/reject", s.actions.ShopReject)
			r.With(gate("shops.approve")).Post("/shops/{id}/toggle-active", s.actions.ShopToggleActive)
			r.With(gate("users.manage")).Post("/users/{id}/toggle-active", s.actions.UserToggleActive)
			r.With(gate("complaints.resolve")).Post("/complaints/{id}/resolve", s.actions.ComplaintResolve)
			r.With(gate("fraud.review")).Post("/fraud/{id}/{action}", s.actions.FraudAction)
			r.With(gate("settings.update")).Post("/settings", s.actions.SettingsUpdate)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
