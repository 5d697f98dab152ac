package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/cache"
	"github.com/townbasket/liveops/internal/domain"
	"github.com/townbasket/liveops/internal/metrics"
)

// State — типизированные срезы живого состояния дашборда.
// Наблюдатели в рамках процесса видят переходы строго в порядке прихода кадров.
type State struct {
	Connected    bool                   `json:"connected"`
	Connections  int                    `json:"connections"`
	Uptime       int                    `json:"uptime"`
	Heartbeats   int64                  `json:"heartbeats"`
	LatestOrder  *domain.OrderSummary   `json:"latest_order,omitempty"`
	TodayRevenue float64                `json:"today_revenue"`
	TodayOrders  int                    `json:"today_orders"`
	Health       *domain.HealthSnapshot `json:"health,omitempty"`
	LastEventAt  time.Time              `json:"last_event_at"`
}

// Router — единая точка входа кадров: и от собственного транспорта,
// и от ретрансляции координатора. Разбирает кадр по дискриминатору,
// обновляет срезы состояния, переводит алертные кадры в ленту и
// подсказывает кэшу, какие ключи протухли.
type Router struct {
	mu    sync.RWMutex
	state State

	ring       *EventRing
	alerts     *AlertBus
	invalidate func(keys ...cache.Key)

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewRouter(alerts *AlertBus, invalidate func(keys ...cache.Key), m *metrics.Metrics, logger *zap.Logger) *Router {
	return &Router{
		ring:       NewEventRing(),
		alerts:     alerts,
		invalidate: invalidate,
		logger:     logger.Named("router"),
		metrics:    m,
	}
}

// HandleFrame принимает сырой кадр. Нечитаемый JSON молча отбрасывается —
// это транзиентная транспортная ошибка, не повод для алерта.
func (r *Router) HandleFrame(eventID string, data []byte) {
	var frame domain.StreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.logger.Debug("dropping unparseable frame", zap.String("event_id", eventID))
		return
	}

	r.ring.Push(RawFrame{ID: eventID, ReceivedAt: time.Now(), Data: append([]byte(nil), data...)})
	r.metrics.FramesTotal.WithLabelValues(frame.Type).Inc()

	switch frame.Type {
	case domain.FrameConnected:
		r.mu.Lock()
		r.state.Connected = true
		r.state.LastEventAt = time.Now()
		r.mu.Unlock()

	case domain.FrameHeartbeat:
		r.mu.Lock()
		r.state.Connections = frame.Connections
		r.state.Uptime = frame.Uptime
		r.state.Heartbeats++
		r.state.LastEventAt = time.Now()
		r.mu.Unlock()

	case domain.FrameNewOrder:
		if frame.Order == nil {
			return
		}
		r.mu.Lock()
		r.state.LatestOrder = frame.Order
		r.state.LastEventAt = time.Now()
		r.mu.Unlock()
		r.invalidate(cache.KeyOverview, cache.KeyOrders)

	case domain.FrameRevenueUpdate:
		// Сервер присылает готовые итоги дня — замещаем, не суммируем.
		// Это делает обработку дубликатов идемпотентной.
		r.mu.Lock()
		r.state.TodayRevenue = frame.TodayRevenue
		r.state.TodayOrders = frame.TodayOrders
		r.state.LastEventAt = time.Now()
		r.mu.Unlock()
		r.invalidate(cache.KeyOverview, cache.KeyOrders)

	case domain.FrameSystemAlert:
		r.alerts.Push(domain.Alert{
			Kind:     domain.AlertAnomaly,
			Severity: domain.ParseSeverity(frame.Severity),
			Title:    frame.AlertCode(),
			Message:  frame.Message,
		})
		r.touch()

	case domain.FrameFraudAlert:
		fa, err := frame.FraudAlert()
		if err != nil {
			r.logger.Debug("dropping malformed fraud alert", zap.Error(err))
			return
		}
		r.alerts.Push(domain.Alert{
			ID:       fmt.Sprintf("fraud-%d", fa.ID),
			Kind:     domain.AlertFraud,
			Severity: domain.ParseSeverity(fa.Severity),
			Title:    fa.Title,
			Message:  fa.Description,
		})
		r.touch()
		r.invalidate(cache.KeyFraudAlerts)

	case domain.FrameComplaintSpike:
		r.alerts.Push(domain.Alert{
			Kind:     domain.AlertComplaint,
			Severity: domain.ParseSeverity(frame.Severity),
			Title:    "complaint_spike",
			Message:  frame.Message,
		})
		r.touch()

	case domain.FrameHealthStatus:
		snapshot := &domain.HealthSnapshot{
			Status:      frame.Status,
			DB:          frame.DB,
			CacheStatus: frame.CacheStatus,
		}
		r.mu.Lock()
		r.state.Health = snapshot
		r.state.LastEventAt = time.Now()
		r.mu.Unlock()

	case domain.FrameTimeout:
		// Транспорт сам увидит этот кадр и мягко переподключится
		r.logger.Debug("server-initiated idle close", zap.String("event_id", eventID))

	case domain.FrameError:
		// Серверная транзиентная ошибка: индикатор, не алерт
		r.logger.Warn("server stream error", zap.String("message", frame.Message))

	default:
		// Неизвестный вариант — логируемый no-op, набор кадров может расти
		r.logger.Info("unknown frame type ignored", zap.String("type", frame.Type))
	}
}

// SetConnected выставляет индикатор соединения. Координатор синтезирует
// connected=true у фолловеров с первым ретранслированным кадром.
func (r *Router) SetConnected(connected bool) {
	r.mu.Lock()
	r.state.Connected = connected
	r.mu.Unlock()
	if connected {
		r.metrics.ConnectionState.Set(1)
	} else {
		r.metrics.ConnectionState.Set(0)
	}
}

// State — копия срезов состояния.
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Ring — снимок отладочного кольца.
func (r *Router) Ring() []RawFrame {
	return r.ring.Snapshot()
}

func (r *Router) touch() {
	r.mu.Lock()
	r.state.LastEventAt = time.Now()
	r.mu.Unlock()
}
