package domain

import (
	"encoding/json"
	"fmt"
)

// Типы кадров админского SSE-потока. Поле type — единственный дискриминатор.
const (
	FrameConnected      = "connected"
	FrameHeartbeat      = "heartbeat"
	FrameNewOrder       = "new_order"
	FrameRevenueUpdate  = "revenue_update"
	FrameSystemAlert    = "system_alert"
	FrameFraudAlert     = "fraud_alert"
	FrameComplaintSpike = "complaint_spike"
	FrameHealthStatus   = "health_status"
	FrameTimeout        = "timeout"
	FrameError          = "error"
)

// StreamFrame — один кадр серверного потока.
// Набор заполненных полей зависит от Type; сервер переиспользует ключ "alert"
// и для строкового кода аномалии, и для объекта fraud-алерта, поэтому
// это поле держим сырым и разбираем по месту.
type StreamFrame struct {
	Type string `json:"type"`

	// connected
	MaxDuration int `json:"maxDuration,omitempty"`

	// heartbeat
	Uptime      int `json:"uptime,omitempty"`
	Connections int `json:"connections,omitempty"`

	// new_order
	Order *OrderSummary `json:"order,omitempty"`

	// revenue_update
	TodayRevenue float64 `json:"today_revenue,omitempty"`
	TodayOrders  int     `json:"today_orders,omitempty"`

	// system_alert (строка-код) / fraud_alert (объект)
	Alert json.RawMessage `json:"alert,omitempty"`

	// system_alert / complaint_spike / timeout / error
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`

	// complaint_spike
	PendingCount int `json:"pending_count,omitempty"`
	Delta        int `json:"delta,omitempty"`

	// health_status
	Status      string `json:"status,omitempty"`
	DB          string `json:"db,omitempty"`
	CacheStatus string `json:"cache_status,omitempty"`
}

// AlertCode возвращает строковый код аномалии из system_alert кадра.
func (f *StreamFrame) AlertCode() string {
	var code string
	if err := json.Unmarshal(f.Alert, &code); err != nil {
		return ""
	}
	return code
}

// FraudAlert разбирает вложенный объект fraud_alert кадра.
func (f *StreamFrame) FraudAlert() (*FraudAlert, error) {
	if len(f.Alert) == 0 {
		return nil, fmt.Errorf("frame: fraud_alert without alert payload")
	}
	var fa FraudAlert
	if err := json.Unmarshal(f.Alert, &fa); err != nil {
		return nil, fmt.Errorf("frame: bad fraud alert payload: %w", err)
	}
	return &fa, nil
}

// OrderSummary — метаданные последнего заказа из кадра new_order.
// Total приходит строкой: сервер сериализует decimal без потери точности.
type OrderSummary struct {
	ID            int64  `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	Total         string `json:"total"`
	ShopName      string `json:"shop_name"`
	CustomerName  string `json:"customer_name"`
	CreatedAt     string `json:"created_at"`
	PaymentMethod string `json:"payment_method"`
}

// FraudAlert — кандидат на мошенничество из кадра fraud_alert.
type FraudAlert struct {
	ID          int64  `json:"id"`
	AlertType   string `json:"alert_type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	TargetType  string `json:"target_type"`
	TargetName  string `json:"target_name"`
	CreatedAt   string `json:"created_at"`
}

// HealthSnapshot — снимок здоровья зависимостей сервера.
// Заменяется целиком на каждый health_status кадр.
type HealthSnapshot struct {
	Status      string `json:"status"`
	DB          string `json:"db"`
	CacheStatus string `json:"cache_status"`
}
