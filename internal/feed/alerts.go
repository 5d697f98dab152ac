package feed

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/domain"
	"github.com/townbasket/liveops/internal/metrics"
)

// AlertLimit — верхняя граница ленты; при переполнении теряются старейшие.
const AlertLimit = 50

// AlertBus — ограниченная дедуплицированная лента алертов оператора.
// Наружу отдаются только копии: снимок наблюдаемо неизменяем.
type AlertBus struct {
	mu     sync.RWMutex
	alerts []domain.Alert // новейшие в начале

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewAlertBus(logger *zap.Logger, m *metrics.Metrics) *AlertBus {
	return &AlertBus{
		logger:  logger.Named("alerts"),
		metrics: m,
	}
}

// syntheticAlertID выводит стабильный id из вида и ключа дедупликации.
// Кадры без серверного id (system_alert, complaint_spike) получают
// адресуемую запись: повторная доставка того же кадра дает тот же id.
func syntheticAlertID(a domain.Alert) string {
	h := fnv.New32a()
	h.Write([]byte(a.DedupKey()))
	return fmt.Sprintf("%s-%08x", a.Kind, h.Sum32())
}

// Push вставляет алерт в начало ленты. Дубликат по ключу дедупликации
// отбрасывается; возвращает true если запись принята.
func (b *AlertBus) Push(a domain.Alert) bool {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if a.ID == "" {
		a.ID = syntheticAlertID(a)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := a.DedupKey()
	for _, existing := range b.alerts {
		if existing.DedupKey() == key {
			return false
		}
	}

	b.alerts = append([]domain.Alert{a}, b.alerts...)
	if len(b.alerts) > AlertLimit {
		b.alerts = b.alerts[:AlertLimit]
	}

	b.publishGauges()
	b.logger.Debug("alert accepted",
		zap.String("kind", string(a.Kind)),
		zap.String("severity", string(a.Severity)))
	return true
}

// MarkRead помечает запись прочитанной; отсутствие записи — no-op.
func (b *AlertBus) MarkRead(id string) bool {
	if id == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.alerts {
		if b.alerts[i].ID == id {
			b.alerts[i].Read = true
			b.publishGauges()
			return true
		}
	}
	return false
}

// Dismiss удаляет запись из ленты.
func (b *AlertBus) Dismiss(id string) bool {
	if id == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.alerts {
		if b.alerts[i].ID == id {
			b.alerts = append(b.alerts[:i], b.alerts[i+1:]...)
			b.publishGauges()
			return true
		}
	}
	return false
}

// ClearAll опустошает ленту.
func (b *AlertBus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = nil
	b.publishGauges()
}

// UnreadCount — количество непрочитанных записей.
func (b *AlertBus) UnreadCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unreadLocked()
}

func (b *AlertBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.alerts)
}

// Snapshot — копия ленты, новейшие первыми.
func (b *AlertBus) Snapshot() []domain.Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Alert, len(b.alerts))
	copy(out, b.alerts)
	return out
}

func (b *AlertBus) unreadLocked() int {
	n := 0
	for _, a := range b.alerts {
		if !a.Read {
			n++
		}
	}
	return n
}

func (b *AlertBus) publishGauges() {
	b.metrics.ActiveAlerts.Set(float64(len(b.alerts)))
	b.metrics.UnreadAlerts.Set(float64(b.unreadLocked()))
}
