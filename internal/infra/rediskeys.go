package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "townbasket"
)

// Ключи состояния
const (
	// RedisKeyInstanceSeq — монотонный счетчик для выдачи instance_id
	// новым процессам консоли (аналог tabId).
	RedisKeyInstanceSeq = RedisNamespace + ":liveops:instance_seq"
)

// Каналы Pub/Sub (межпроцессная шина)
const (
	// redisChanFeedPrefix — префикс канала трансляции кадров и анонсов лидера.
	// Полное имя канала зависит от broadcast-группы оператора.
	redisChanFeedPrefix = RedisNamespace + ":liveops:feed:"
)

// FeedChannel Генератор имени канала для конкретной broadcast-группы
func FeedChannel(group string) string {
	return fmt.Sprintf("%s%s", redisChanFeedPrefix, group)
}
