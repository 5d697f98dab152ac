package domain

import "time"

// AlertKind классифицирует источник алерта.
type AlertKind string

const (
	AlertAnomaly   AlertKind = "anomaly"
	AlertFraud     AlertKind = "fraud"
	AlertComplaint AlertKind = "complaint"
)

// Severity — важность алерта для оператора.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity приводит серверное значение к известной важности.
// Неизвестное значение считаем info, а не ошибкой.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityWarning:
		return SeverityWarning
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Rank — числовой вес для сортировки по важности (больше = важнее).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Alert — видимая оператору запись в ленте алертов.
type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// DedupKey — ключ дедупликации: ID если он есть, иначе текст сообщения.
func (a Alert) DedupKey() string {
	if a.ID != "" {
		return a.ID
	}
	return a.Message
}
