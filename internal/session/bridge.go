package session

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/domain"
)

// ErrNoToken — нет активной сессии. REST-адаптер транслирует это
// в ошибку аутентификации, транспорт — просто молчит.
var ErrNoToken = errors.New("session: no bearer token")

// Bridge абстрагирует провайдера аутентификации: хранит bearer-токен,
// следит за переходами signed-in/signed-out и оповещает подписчиков.
// Сам токен для подложки read-only: обновление — забота внешнего провайдера.
type Bridge struct {
	mu         sync.RWMutex
	token      string
	operatorID string
	expiresAt  time.Time
	state      domain.SessionState

	subs   []chan domain.SessionState
	logger *zap.Logger
}

func NewBridge(logger *zap.Logger) *Bridge {
	return &Bridge{
		state:  domain.SessionUnknown,
		logger: logger.Named("session"),
	}
}

// SetToken принимает свежий bearer-токен и переводит сессию в signed-in.
// Из JWT вычитываются claims (sub, exp) без проверки подписи:
// верификатор — сервер, клиенту подпись ничего не дает.
func (b *Bridge) SetToken(raw string) {
	if raw == "" {
		b.Clear()
		return
	}

	operatorID := ""
	var expiresAt time.Time
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
		if sub, err := claims.GetSubject(); err == nil {
			operatorID = sub
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			expiresAt = exp.Time
		}
	} else {
		// Непрозрачный токен — тоже валидный случай
		b.logger.Debug("token is not a JWT, treating as opaque")
	}

	b.mu.Lock()
	b.token = raw
	b.operatorID = operatorID
	b.expiresAt = expiresAt
	changed := b.state != domain.SessionSignedIn
	b.state = domain.SessionSignedIn
	b.mu.Unlock()

	if changed {
		b.logger.Info("session established", zap.String("operator_id", operatorID))
		b.notify(domain.SessionSignedIn)
	}
}

// Clear сбрасывает токен (sign-out). Материал токена не переживает teardown.
func (b *Bridge) Clear() {
	b.mu.Lock()
	b.token = ""
	b.operatorID = ""
	b.expiresAt = time.Time{}
	changed := b.state != domain.SessionSignedOut
	b.state = domain.SessionSignedOut
	b.mu.Unlock()

	if changed {
		b.logger.Info("session cleared")
		b.notify(domain.SessionSignedOut)
	}
}

// Token возвращает токен или ErrNoToken — для REST-адаптера.
func (b *Bridge) Token() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.token == "" {
		return "", ErrNoToken
	}
	return b.token, nil
}

// TokenValue — «тихий» вариант для транспорта: пустая строка вместо ошибки.
func (b *Bridge) TokenValue() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.token
}

func (b *Bridge) OperatorID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.operatorID
}

func (b *Bridge) State() domain.SessionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// ExpiresAt — срок жизни токена из exp claim, нулевое время если неизвестен.
func (b *Bridge) ExpiresAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.expiresAt
}

// Subscribe возвращает канал переходов состояния сессии.
// Канал буферизован; медленный подписчик теряет промежуточные переходы,
// но всегда получит последний.
func (b *Bridge) Subscribe() <-chan domain.SessionState {
	ch := make(chan domain.SessionState, 1)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bridge) notify(s domain.SessionState) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
			// Вытесняем устаревшее значение, кладем актуальное
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
