package stream

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus — реализация Bus поверх Redis Pub/Sub: канал на broadcast-группу,
// FIFO в рамках паблишера, без персиста — ровно семантика BroadcastChannel.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisBus(rdb *redis.Client, channel string, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		logger:  logger.Named("bus"),
	}
}

func (b *RedisBus) Publish(ctx context.Context, payload []byte) error {
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Subscribe открывает подписку и транслирует сообщения в канал байтов.
// Закрытие канала — сигнал переподписаться (живучий цикл у координатора).
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)

	// Проверка успешности подписки
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// AllocateInstanceID выдает монотонный идентификатор инстанса через INCR.
// Fallback при недоступном Redis — за вызывающим (одиночный режим).
func AllocateInstanceID(ctx context.Context, rdb *redis.Client, key string) (int64, error) {
	return rdb.Incr(ctx, key).Result()
}
