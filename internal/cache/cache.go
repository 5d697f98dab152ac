package cache

/*
Файл cache.go реализует кэширующий слой доступа к данным админки.

Ключевые особенности архитектуры:
- Structured Keys: идентичность запроса — структурный ключ, не склейка строк.
- Stale-While-Revalidate: протухшее значение остается видимым подписчикам,
  пока фоновая загрузка не принесет свежее. Ошибка загрузки значение не вытесняет.
- Coalescing: инвалидации, пришедшие в одном тике (мутации + хинты от
  Event Router), схлопываются в одну дозагрузку на ключ.
- Cancellation: уход последнего подписчика отменяет висящий fetch ключа.
*/

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/metrics"
)

// ErrUnknownKey — обращение к ключу без зарегистрированного фетчера.
var ErrUnknownKey = errors.New("cache: unknown key")

// Status — фаза жизни записи кэша.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusFetching Status = "fetching"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// Fetcher загружает значение ключа из REST-адаптера.
type Fetcher func(ctx context.Context) (any, error)

// Snapshot — то, что видит подписчик: значение (возможно отсутствующее),
// статус и признак протухания.
type Snapshot struct {
	Key       Key
	Value     any
	Status    Status
	Err       error
	FetchedAt time.Time
	Stale     bool
}

// coalesceWindow — окно схлопывания инвалидаций одного тика.
const coalesceWindow = 10 * time.Millisecond

type entry struct {
	key     Key
	fetcher Fetcher
	policy  Policy

	mu        sync.Mutex
	value     any
	hasValue  bool
	status    Status
	err       error
	fetchedAt time.Time
	stale     bool

	fetching    bool
	fetchCancel context.CancelFunc

	subs      map[int]chan Snapshot
	nextSubID int

	refetchStop chan struct{}
}

// isStaleLocked — значение отсутствует, помечено или пережило окно свежести.
func (e *entry) isStaleLocked() bool {
	if !e.hasValue {
		return true
	}
	return e.stale || time.Since(e.fetchedAt) > e.policy.Staleness
}

func (e *entry) snapshotLocked() Snapshot {
	return Snapshot{
		Key:       e.key,
		Value:     e.value,
		Status:    e.status,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
		Stale:     e.isStaleLocked(),
	}
}

// Store — единый реестр именованных запросов со своими политиками свежести.
// Один на процесс; per-view копий не бывает.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*entry

	pendingMu  sync.Mutex
	pending    map[Key]struct{}
	flushArmed bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewStore(logger *zap.Logger, m *metrics.Metrics) *Store {
	return &Store{
		entries: make(map[Key]*entry),
		pending: make(map[Key]struct{}),
		logger:  logger.Named("cache"),
		metrics: m,
	}
}

// Register привязывает фетчер к ключу; политика берется из таблицы свежести.
func (s *Store) Register(key Key, f Fetcher) {
	s.RegisterWithPolicy(key, f, PolicyFor(key))
}

func (s *Store) RegisterWithPolicy(key Key, f Fetcher, p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{
		key:     key,
		fetcher: f,
		policy:  p,
		status:  StatusIdle,
		subs:    make(map[int]chan Snapshot),
	}
}

func (s *Store) lookup(key Key) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Get возвращает текущий снимок и при протухании запускает фоновую загрузку.
func (s *Store) Get(key Key) (Snapshot, error) {
	e, ok := s.lookup(key)
	if !ok {
		return Snapshot{}, ErrUnknownKey
	}

	e.mu.Lock()
	snap := e.snapshotLocked()
	needFetch := snap.Stale && !e.fetching
	e.mu.Unlock()

	if needFetch {
		s.maybeFetch(e)
	}
	return snap, nil
}

// Subscribe подключает наблюдателя ключа. Текущий снимок приходит сразу,
// дальше — каждое обновление. Возвращенная функция отписывает; когда уходит
// последний подписчик, фоновые работы ключа останавливаются, висящий fetch
// отменяется.
func (s *Store) Subscribe(key Key) (<-chan Snapshot, func(), error) {
	e, ok := s.lookup(key)
	if !ok {
		return nil, nil, ErrUnknownKey
	}

	ch := make(chan Snapshot, 8)

	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = ch
	ch <- e.snapshotLocked()
	needFetch := e.isStaleLocked() && !e.fetching
	startLoop := e.policy.RefetchInterval > 0 && e.refetchStop == nil
	if startLoop {
		e.refetchStop = make(chan struct{})
		go s.refetchLoop(e, e.refetchStop)
	}
	e.mu.Unlock()

	if needFetch {
		s.maybeFetch(e)
	}

	cancel := func() {
		e.mu.Lock()
		delete(e.subs, id)
		if len(e.subs) == 0 {
			if e.refetchStop != nil {
				close(e.refetchStop)
				e.refetchStop = nil
			}
			if e.fetchCancel != nil {
				e.fetchCancel()
			}
		}
		e.mu.Unlock()
	}
	return ch, cancel, nil
}

// Invalidate помечает ключи протухшими. Дубликаты одного тика схлопываются.
func (s *Store) Invalidate(keys ...Key) {
	if len(keys) == 0 {
		return
	}
	s.pendingMu.Lock()
	for _, k := range keys {
		s.pending[k] = struct{}{}
	}
	if !s.flushArmed {
		s.flushArmed = true
		time.AfterFunc(coalesceWindow, s.flushInvalidations)
	}
	s.pendingMu.Unlock()
}

func (s *Store) flushInvalidations() {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = make(map[Key]struct{})
	s.flushArmed = false
	s.pendingMu.Unlock()

	for k := range batch {
		e, ok := s.lookup(k)
		if !ok {
			continue
		}
		e.mu.Lock()
		e.stale = true
		hasSubs := len(e.subs) > 0
		e.mu.Unlock()

		s.metrics.CacheInvalidations.Inc()
		s.logger.Debug("key invalidated", zap.String("key", k.String()))

		// Дозагружаем только то, на что кто-то смотрит
		if hasSubs {
			s.maybeFetch(e)
		}
	}
}

func (s *Store) maybeFetch(e *entry) {
	e.mu.Lock()
	if e.fetching {
		e.mu.Unlock()
		return
	}
	e.fetching = true
	e.status = StatusFetching
	ctx, cancel := context.WithCancel(context.Background())
	e.fetchCancel = cancel
	snap := e.snapshotLocked()
	subs := collectSubs(e)
	e.mu.Unlock()

	broadcast(subs, snap)
	go s.runFetch(e, ctx)
}

func (s *Store) runFetch(e *entry, ctx context.Context) {
	val, err := e.fetcher(ctx)

	e.mu.Lock()
	e.fetching = false
	if e.fetchCancel != nil {
		e.fetchCancel()
		e.fetchCancel = nil
	}

	outcome := "success"
	switch {
	case err == nil:
		e.value = val
		e.hasValue = true
		e.status = StatusSuccess
		e.err = nil
		e.fetchedAt = time.Now()
		e.stale = false
	case errors.Is(err, context.Canceled):
		// Подписчики ушли — запись остается как была
		e.status = StatusIdle
		outcome = "canceled"
	default:
		// Ошибка не вытесняет прежнее значение; stale-индикатор остается
		e.status = StatusError
		e.err = err
		outcome = "error"
	}
	snap := e.snapshotLocked()
	subs := collectSubs(e)
	e.mu.Unlock()

	s.metrics.CacheFetchTotal.WithLabelValues(e.key.String(), outcome).Inc()
	if outcome == "error" {
		s.logger.Warn("fetch failed, keeping prior value",
			zap.String("key", e.key.String()), zap.Error(err))
	}

	broadcast(subs, snap)
}

func (s *Store) refetchLoop(e *entry, stop chan struct{}) {
	ticker := time.NewTicker(e.policy.RefetchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.maybeFetch(e)
		}
	}
}

// Close останавливает фоновые работы всех записей (graceful shutdown).
func (s *Store) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		e.mu.Lock()
		if e.refetchStop != nil {
			close(e.refetchStop)
			e.refetchStop = nil
		}
		if e.fetchCancel != nil {
			e.fetchCancel()
		}
		e.mu.Unlock()
	}
}

func collectSubs(e *entry) []chan Snapshot {
	subs := make([]chan Snapshot, 0, len(e.subs))
	for _, ch := range e.subs {
		subs = append(subs, ch)
	}
	return subs
}

// broadcast — неблокирующая рассылка: переполненный подписчик теряет
// старейший снимок, но всегда получает новейший.
func broadcast(subs []chan Snapshot, snap Snapshot) {
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
