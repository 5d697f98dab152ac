package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/domain"
	"github.com/townbasket/liveops/internal/metrics"
)

// FrameSink получает кадры потока в порядке прихода.
type FrameSink interface {
	HandleFrame(eventID string, data []byte)
}

// TokenSource — «тихий» источник токена: пустая строка значит,
// что сессии еще нет и подключаться рано.
type TokenSource interface {
	TokenValue() string
}

// connState — фазы жизни транспорта.
type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
	stateBackoff
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateBackoff:
		return "backoff"
	default:
		return "idle"
	}
}

// Client держит не более одного живого подключения к админскому SSE-потоку.
// Переподключение — экспоненциальный бэкофф с потолком; id последнего кадра
// запоминается в памяти и передается серверу для резюма.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	sink    FrameSink

	backoffBase   time.Duration
	backoffFactor float64
	backoffCap    time.Duration

	mu          sync.Mutex
	state       connState
	intentional bool
	retries     int
	lastEventID string
	gen         int
	reconnect   *time.Timer
	cancel      context.CancelFunc

	// Хуки координатора: анонс лидерства и индикатор разрыва
	onOpen  func()
	onClose func(err error)

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Options — параметры бэкоффа; нулевые поля берут дефолты контракта.
type Options struct {
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffCap    time.Duration
	HTTPClient    *http.Client
}

func NewClient(baseURL string, tokens TokenSource, sink FrameSink, opts Options, m *metrics.Metrics, logger *zap.Logger) *Client {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.BackoffFactor <= 0 {
		opts.BackoffFactor = 2
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		// Без общего таймаута: стрим живет минутами, рвет его сервер
		opts.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:       baseURL,
		http:          opts.HTTPClient,
		tokens:        tokens,
		sink:          sink,
		backoffBase:   opts.BackoffBase,
		backoffFactor: opts.BackoffFactor,
		backoffCap:    opts.BackoffCap,
		logger:        logger.Named("stream"),
		metrics:       m,
	}
}

// SetHooks подключает координатора. Вызывается до Connect.
func (c *Client) SetHooks(onOpen func(), onClose func(err error)) {
	c.onOpen = onOpen
	c.onClose = onClose
}

// SetSink заменяет приемник кадров. Вызывается до Connect: координатор
// встраивает себя между транспортом и роутером при сборке.
func (c *Client) SetSink(sink FrameSink) {
	c.sink = sink
}

// Connect идемпотентен: открытое или ожидающее соединение — no-op.
// Без токена молча выходим: это retryable-условие, не ошибка.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return
	}
	token := c.tokens.TokenValue()
	if token == "" {
		c.mu.Unlock()
		return
	}
	c.intentional = false
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = stateConnecting
	last := c.lastEventID
	c.mu.Unlock()

	go c.run(ctx, gen, token, last)
}

// Disconnect идемпотентен: гасит таймер переподключения, закрывает стрим
// и помечает разрыв намеренным, чтобы бэкофф не взводился заново.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++ // хвосты старых горутин отсекаются по поколению
	wasOpen := c.state == stateOpen
	c.state = stateIdle
	c.mu.Unlock()

	if wasOpen {
		c.metrics.ConnectionState.Set(0)
	}
}

// LastEventID — id последнего наблюдавшегося кадра (для резюма).
func (c *Client) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// ObserveEventID фиксирует id кадра, пришедшего по ретрансляции:
// фолловер при промоушене резюмирует с того же места, что и лидер.
func (c *Client) ObserveEventID(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.lastEventID = id
	c.mu.Unlock()
}

// Retries — текущий счетчик неудач (обнуляется успешным открытием).
func (c *Client) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// StateName — для отладочных поверхностей.
func (c *Client) StateName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

func (c *Client) run(ctx context.Context, gen int, token, lastEventID string) {
	streamURL, err := c.buildURL(token, lastEventID)
	if err != nil {
		c.logger.Error("bad stream url", zap.Error(err))
		c.streamClosed(gen, err, false)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		c.streamClosed(gen, err, false)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		c.streamClosed(gen, err, false)
		return
	}
	defer resp.Body.Close()

	// 4xx/5xx на коннекте уходят в общий бэкофф — различать незачем
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		c.streamClosed(gen, fmt.Errorf("stream: unexpected status %d", resp.StatusCode), false)
		return
	}

	c.markOpen(gen)

	sc := NewScanner(resp.Body)
	for {
		ev, err := sc.Next()
		if err != nil {
			c.streamClosed(gen, err, false)
			return
		}
		if c.handleEvent(gen, ev) {
			// Сервер закрыл стрим по idle-таймауту: мягкий реконнект
			c.streamClosed(gen, nil, true)
			return
		}
	}
}

// handleEvent фиксирует id, отдает кадр приемнику и распознает
// серверный timeout. Возвращает true при мягком закрытии.
func (c *Client) handleEvent(gen int, ev *RawEvent) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return true
	}
	if ev.ID != "" {
		c.lastEventID = ev.ID
	}
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.HandleFrame(ev.ID, ev.Data)
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(ev.Data, &probe); err != nil {
		return false // нечитаемый кадр уже отброшен приемником
	}
	return probe.Type == domain.FrameTimeout
}

func (c *Client) markOpen(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = stateOpen
	c.retries = 0
	c.mu.Unlock()

	c.metrics.ConnectionState.Set(1)
	c.logger.Info("stream opened")
	if c.onOpen != nil {
		c.onOpen()
	}
}

// streamClosed планирует переподключение, если разрыв не был намеренным.
// graceful (серверный timeout-кадр) не увеличивает счетчик неудач.
func (c *Client) streamClosed(gen int, cause error, graceful bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == stateOpen
	if c.intentional {
		c.state = stateIdle
		c.mu.Unlock()
		if wasOpen {
			c.metrics.ConnectionState.Set(0)
		}
		return
	}

	var delay time.Duration
	if !graceful {
		delay = c.backoffDelay(c.retries)
		c.retries++
	}
	c.state = stateBackoff
	c.reconnect = time.AfterFunc(delay, c.retryConnect)
	retries := c.retries
	c.mu.Unlock()

	c.metrics.ConnectionState.Set(0)
	c.metrics.ReconnectsTotal.Inc()

	if graceful {
		c.logger.Info("stream closed by server, reconnecting")
	} else {
		c.logger.Warn("stream lost, backing off",
			zap.Duration("delay", delay),
			zap.Int("retries", retries),
			zap.Error(cause))
	}
	if c.onClose != nil {
		c.onClose(cause)
	}
}

func (c *Client) retryConnect() {
	c.mu.Lock()
	if c.state != stateBackoff {
		c.mu.Unlock()
		return
	}
	c.state = stateIdle
	c.reconnect = nil
	c.mu.Unlock()

	c.Connect()
}

// backoffDelay: min(base × factor^n, cap).
func (c *Client) backoffDelay(n int) time.Duration {
	d := time.Duration(float64(c.backoffBase) * math.Pow(c.backoffFactor, float64(n)))
	if d > c.backoffCap || d <= 0 {
		return c.backoffCap
	}
	return d
}

func (c *Client) buildURL(token, lastEventID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("stream: parse base url: %w", err)
	}
	u.Path = u.Path + "/admin/sse/"
	q := u.Query()
	q.Set("token", token)
	if lastEventID != "" {
		q.Set("lastEventId", lastEventID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
