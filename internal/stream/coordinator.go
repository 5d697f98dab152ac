package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/metrics"
)

// Bus — межпроцессная broadcast-шина группы оператора (FIFO, без персиста).
// Реализация в проде — Redis Pub/Sub; в тестах — канал в памяти.
type Bus interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// Виды сообщений шины.
const (
	busKindLeader = "leader"
	busKindEvent  = "sse_event"
)

// busMessage — конверт сообщения шины.
type busMessage struct {
	Kind       string          `json:"kind"`
	InstanceID int64           `json:"instance_id"`
	EventID    string          `json:"event_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// feedSink — локальный приемник координатора: роутер кадров плюс
// синтетический индикатор соединения для фолловеров.
type feedSink interface {
	HandleFrame(eventID string, data []byte)
	SetConnected(connected bool)
}

// Coordinator гарантирует: на всю broadcast-группу — не больше одного
// живого SSE-подключения, при этом каждый инстанс видит каждый кадр.
// Выборы оптимистичные: последний анонс побеждает; короткое двоевластие
// допустимо, дубликаты гасятся дедупликацией ниже по течению.
type Coordinator struct {
	bus        Bus
	instanceID int64
	transport  *Client
	sink       feedSink

	mu        sync.Mutex
	isLeader  bool
	leaderID  int64
	watchdog  *time.Timer
	paused    bool
	relaySeen bool

	leaderTimeout time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// NewCoordinator связывает транспорт и шину. bus == nil переводит инстанс
// в одиночный режим: он всегда сам себе лидер, шина не используется.
func NewCoordinator(bus Bus, instanceID int64, transport *Client, sink feedSink, leaderTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		bus:           bus,
		instanceID:    instanceID,
		transport:     transport,
		sink:          sink,
		leaderTimeout: leaderTimeout,
		logger:        logger.Named("coordinator"),
		metrics:       m,
	}
	transport.SetSink(c)
	transport.SetHooks(c.becameLeader, c.transportClosed)
	return c
}

// HandleFrame — транспорт лидера отдает кадры сюда: локальному роутеру
// и, если мы лидер, в ретрансляцию для фолловеров.
func (c *Coordinator) HandleFrame(eventID string, data []byte) {
	c.sink.HandleFrame(eventID, data)

	c.mu.Lock()
	leader := c.isLeader
	c.mu.Unlock()
	if !leader || c.bus == nil {
		return
	}

	msg := busMessage{
		Kind:       busKindEvent,
		InstanceID: c.instanceID,
		EventID:    eventID,
		Data:       json.RawMessage(data),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	// Публикация неблокирующая по контракту шины; потерю кадра фолловером
	// закрывает его собственный резюм при промоушене
	if err := c.bus.Publish(context.Background(), payload); err != nil {
		c.logger.Warn("frame relay failed", zap.Error(err))
		return
	}
	c.metrics.RelayMessagesTotal.WithLabelValues(busKindEvent, "out").Inc()
}

// Run слушает шину до отмены контекста. Цикл живучий: обрыв подписки
// ведет к переподключению, а не к падению.
func (c *Coordinator) Run(ctx context.Context) {
	if c.bus == nil {
		// Одиночный режим: шины нет, транспорт просто подключается
		c.mu.Lock()
		c.isLeader = true
		c.mu.Unlock()
		c.transport.Connect()
		return
	}

	c.transport.Connect()

	for {
		ch, err := c.bus.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("bus subscribe failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

	loop:
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-ch:
				if !ok {
					break loop // шина закрылась, идем на переподписку
				}
				c.handleBusMessage(payload)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Pause — аналог ухода вкладки в фон: стрим гасится намеренно.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.paused = true
	c.stopWatchdogLocked()
	c.mu.Unlock()

	c.transport.Disconnect()
	c.sink.SetConnected(false)
	c.logger.Info("stream paused")
}

// Resume — возврат в фокус: подключаемся заново, резюм по last event id.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()

	c.transport.Connect()
	c.logger.Info("stream resumed")
}

// IsLeader — для отладочных поверхностей.
func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLeader
}

// becameLeader — транспорт успешно открыл стрим: анонсируем лидерство.
func (c *Coordinator) becameLeader() {
	c.mu.Lock()
	c.isLeader = true
	c.leaderID = c.instanceID
	c.stopWatchdogLocked()
	c.mu.Unlock()

	c.sink.SetConnected(true)

	if c.bus == nil {
		return
	}
	payload, _ := json.Marshal(busMessage{Kind: busKindLeader, InstanceID: c.instanceID})
	if err := c.bus.Publish(context.Background(), payload); err != nil {
		c.logger.Warn("leader announce failed", zap.Error(err))
		return
	}
	c.metrics.RelayMessagesTotal.WithLabelValues(busKindLeader, "out").Inc()
	c.logger.Info("leadership announced", zap.Int64("instance_id", c.instanceID))
}

// transportClosed — наш стрим порвался. Лидерство не складываем:
// транспорт сам переподключится по бэкоффу, а если нас опередит другой
// инстанс — увидим его анонс и уступим.
func (c *Coordinator) transportClosed(err error) {
	c.sink.SetConnected(false)
}

func (c *Coordinator) handleBusMessage(payload []byte) {
	var msg busMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Debug("dropping malformed bus message")
		return
	}
	if msg.InstanceID == c.instanceID {
		return // собственное эхо
	}

	switch msg.Kind {
	case busKindLeader:
		c.metrics.RelayMessagesTotal.WithLabelValues(busKindLeader, "in").Inc()
		c.mu.Lock()
		c.leaderID = msg.InstanceID
		wasLeader := c.isLeader
		c.isLeader = false
		c.armWatchdogLocked()
		c.mu.Unlock()

		if wasLeader {
			// Чужой анонс при живом собственном стриме: последний побеждает
			c.logger.Info("yielding leadership", zap.Int64("to", msg.InstanceID))
			c.transport.Disconnect()
			// Без анонса мы фолловер; синтетический connected придет с первым кадром
			c.sink.SetConnected(false)
		}

	case busKindEvent:
		c.metrics.RelayMessagesTotal.WithLabelValues(busKindEvent, "in").Inc()
		c.mu.Lock()
		first := !c.relaySeen
		c.relaySeen = true
		paused := c.paused
		c.armWatchdogLocked()
		c.mu.Unlock()

		if paused {
			return // скрытый инстанс кадры не обрабатывает
		}
		if first {
			c.sink.SetConnected(true)
		}
		// Фолловер запоминает id: после промоушена резюм продолжится
		// с места лидера
		c.transport.ObserveEventID(msg.EventID)
		c.sink.HandleFrame(msg.EventID, msg.Data)

	default:
		c.logger.Debug("unknown bus message kind ignored", zap.String("kind", msg.Kind))
	}
}

// armWatchdogLocked перевзводит сторожа тишины: если лидер замолчал
// на leaderTimeout, фолловер пробует забрать стрим себе.
func (c *Coordinator) armWatchdogLocked() {
	c.stopWatchdogLocked()
	if c.leaderTimeout <= 0 {
		return
	}
	c.watchdog = time.AfterFunc(c.leaderTimeout, c.promote)
}

func (c *Coordinator) stopWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

func (c *Coordinator) promote() {
	c.mu.Lock()
	if c.isLeader || c.paused {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Info("leader went silent, attempting takeover")
	c.transport.Connect()
}
