package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/cache"
	"github.com/townbasket/liveops/internal/console"
	"github.com/townbasket/liveops/internal/domain"
	"github.com/townbasket/liveops/internal/feed"
	"github.com/townbasket/liveops/internal/infra"
	"github.com/townbasket/liveops/internal/metrics"
	"github.com/townbasket/liveops/internal/rbac"
	"github.com/townbasket/liveops/internal/rest"
	"github.com/townbasket/liveops/internal/session"
	"github.com/townbasket/liveops/internal/stream"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	// run_id связывает логи одного запуска при нескольких инстансах на хосте
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	// Контекст жизненного цикла фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	// Redis опционален: пустой адрес — одиночный режим без межпроцессной шины
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to single mode", zap.Error(err))
			rdb = nil
		}
		pingCancel()
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// 3. Сессия и REST-адаптер
	bridge := session.NewBridge(logger)
	bridge.SetToken(cfg.Auth.Token)

	httpClient := &http.Client{Timeout: cfg.Upstream.RequestTimeout}
	doer := rest.NewReliableDoer(httpClient, cfg.Upstream)
	api, err := rest.NewClient(cfg.Upstream.BaseURL, doer, bridge, logger)
	if err != nil {
		logger.Fatal("rest client", zap.Error(err))
	}
	verifier := rest.NewVerifier(api, logger)

	// 4. Кэш именованных запросов и реестр прав
	store := cache.NewStore(logger, m)
	registerFetchers(store, api)

	registry := rbac.NewRegistry(api, logger)
	loadCtx, loadCancel := context.WithTimeout(appCtx, cfg.Upstream.RequestTimeout)
	if err := registry.Load(loadCtx); err != nil {
		// Без прав гейты закрыты; реестр дозагрузится read-through'ом
		logger.Warn("initial permission load failed", zap.Error(err))
	}
	loadCancel()

	// 5. Поток: лента алертов, роутер кадров, транспорт, координатор
	alerts := feed.NewAlertBus(logger, m)
	router := feed.NewRouter(alerts, store.Invalidate, m, logger)

	transport := stream.NewClient(cfg.Upstream.BaseURL, bridge, nil, stream.Options{
		BackoffBase:   cfg.Stream.BackoffBase,
		BackoffFactor: cfg.Stream.BackoffFactor,
		BackoffCap:    cfg.Stream.BackoffCap,
	}, m, logger)

	var bus stream.Bus
	instanceID := int64(os.Getpid())
	if rdb != nil {
		bus = stream.NewRedisBus(rdb, infra.FeedChannel(cfg.Redis.Group), logger)
		idCtx, idCancel := context.WithTimeout(appCtx, 5*time.Second)
		if id, err := stream.AllocateInstanceID(idCtx, rdb, infra.RedisKeyInstanceSeq); err == nil {
			instanceID = id
		} else {
			logger.Warn("instance id allocation failed, using pid", zap.Error(err))
		}
		idCancel()
	}

	coord := stream.NewCoordinator(bus, instanceID, transport, router, cfg.Stream.LeaderTimeout, m, logger)
	go coord.Run(appCtx)

	// Переходы сессии управляют потоком: sign-in поднимает стрим,
	// sign-out гасит его и чистит ленту
	go watchSession(appCtx, bridge, coord, alerts, logger)

	// 6. Console API
	prefs, err := console.NewPrefs("liveops_prefs.json")
	if err != nil {
		logger.Fatal("prefs store", zap.Error(err))
	}
	actions := console.NewActionsHandler(api, verifier, store, logger)
	srv := console.NewServer(cfg, logger, router, alerts, coord, transport, registry, actions, prefs, reg)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("console api started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel()
	transport.Disconnect()
	store.Close()
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("stopped")
}

// registerFetchers привязывает именованные запросы дашборда к REST-вызовам.
// Политики свежести берутся из таблицы кэша.
func registerFetchers(store *cache.Store, api *rest.Client) {
	store.Register(cache.KeyOverview, func(ctx context.Context) (any, error) {
		return api.Overview(ctx)
	})
	store.Register(cache.KeySystemHealth, func(ctx context.Context) (any, error) {
		return api.SystemHealth(ctx)
	})
	store.Register(cache.KeyFraudAlerts, func(ctx context.Context) (any, error) {
		return api.FraudAlerts(ctx)
	})
	store.Register(cache.KeyUserGrowth, func(ctx context.Context) (any, error) {
		return api.UserGrowth(ctx)
	})
	store.Register(cache.KeyOrders, func(ctx context.Context) (any, error) {
		return api.OrdersAll(ctx)
	})
	store.Register(cache.KeyShops, func(ctx context.Context) (any, error) {
		return api.ShopsAll(ctx)
	})
	store.Register(cache.KeySettings, func(ctx context.Context) (any, error) {
		return api.Settings(ctx)
	})
	store.Register(cache.KeyPermissions, func(ctx context.Context) (any, error) {
		return api.Permissions(ctx)
	})
	store.Register(cache.KeyUsers(""), func(ctx context.Context) (any, error) {
		return api.UsersList(ctx, "", 0)
	})
	store.Register(cache.KeyComplaints(""), func(ctx context.Context) (any, error) {
		return api.ComplaintsList(ctx, "")
	})
	for _, period := range []string{"today", "week", "month"} {
		p := period
		store.Register(cache.KeyRevenue(p), func(ctx context.Context) (any, error) {
			return api.RevenueAnalytics(ctx, p)
		})
	}
	store.Register(cache.KeyAuditLogs(1), func(ctx context.Context) (any, error) {
		return api.AuditLogs(ctx, 1, url.Values{})
	})
	for _, report := range []string{"top-products", "top-shops", "peak-hours", "conversion-funnel"} {
		rep := report
		store.Register(cache.KeyAnalytics(rep, 30), func(ctx context.Context) (any, error) {
			return api.Analytics(ctx, rep, 30)
		})
	}
}

// watchSession транслирует переходы сессии в команды координатору.
func watchSession(ctx context.Context, bridge *session.Bridge, coord *stream.Coordinator, alerts *feed.AlertBus, logger *zap.Logger) {
	ch := bridge.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-ch:
			switch state {
			case domain.SessionSignedIn:
				coord.Resume()
			case domain.SessionSignedOut:
				// Teardown: стрим гаснет, лента оператора очищается
				coord.Pause()
				alerts.ClearAll()
			}
			logger.Debug("session transition", zap.String("state", state.String()))
		}
	}
}
