package cache

import (
	"strconv"
	"strings"
	"time"
)

// argSep — непечатаемый разделитель аргументов внутри ключа.
// Исключает коллизии вида ["a","b,c"] против ["a,b","c"], которые
// неизбежны при склейке ключей в строку через запятую.
const argSep = "\x1f"

// Key — структурный ключ кэша. Сравним (comparable), пригоден как ключ мапы.
type Key struct {
	Scope string
	Name  string
	Args  string
}

// NewKey канонизирует аргументы запроса в ключ.
func NewKey(scope, name string, args ...string) Key {
	return Key{Scope: scope, Name: name, Args: strings.Join(args, argSep)}
}

// String — человекочитаемая форма для логов и метрик.
func (k Key) String() string {
	s := k.Scope + "/" + k.Name
	if k.Args != "" {
		s += "?" + strings.ReplaceAll(k.Args, argSep, ",")
	}
	return s
}

// Статические ключи админских запросов.
var (
	KeyOverview     = NewKey("admin", "overview")
	KeySystemHealth = NewKey("admin", "system-health")
	KeyFraudAlerts  = NewKey("admin", "fraud-alerts")
	KeyUserGrowth   = NewKey("admin", "user-growth")
	KeyOrders       = NewKey("admin", "orders")
	KeyShops        = NewKey("admin", "shops")
	KeyPermissions  = NewKey("admin", "permissions")
	KeySettings     = NewKey("admin", "settings")
)

// Параметризованные ключи.

func KeyRevenue(period string) Key {
	return NewKey("admin", "revenue", period)
}

func KeyAuditLogs(page int, filters ...string) Key {
	args := append([]string{strconv.Itoa(page)}, filters...)
	return NewKey("admin", "audit-logs", args...)
}

func KeyAnalytics(report string, days int) Key {
	return NewKey("admin", "analytics", report, strconv.Itoa(days))
}

func KeyUsers(role string) Key {
	return NewKey("admin", "users", role)
}

func KeyComplaints(status string) Key {
	return NewKey("admin", "complaints", status)
}

// Policy — политика свежести одного ключа.
type Policy struct {
	// Staleness — окно, в течение которого значение отдается без дозагрузки.
	Staleness time.Duration
	// RefetchInterval — период фонового обновления при живых подписчиках.
	// Ноль — фонового обновления нет.
	RefetchInterval time.Duration
}

// PolicyFor возвращает политику свежести по имени запроса.
// Таблица зафиксирована контрактом: тесты и поведение дашбордов зависят
// от этих значений.
func PolicyFor(k Key) Policy {
	switch k.Name {
	case "overview":
		return Policy{Staleness: 30 * time.Second, RefetchInterval: 60 * time.Second}
	case "system-health", "fraud-alerts":
		return Policy{Staleness: 15 * time.Second, RefetchInterval: 30 * time.Second}
	case "revenue":
		return Policy{Staleness: 60 * time.Second}
	case "user-growth", "analytics":
		return Policy{Staleness: 120 * time.Second}
	case "audit-logs":
		return Policy{Staleness: 30 * time.Second}
	case "permissions":
		return Policy{Staleness: 5 * time.Minute}
	default:
		return Policy{Staleness: 30 * time.Second}
	}
}
