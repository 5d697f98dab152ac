package rest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/townbasket/liveops/internal/infra"
)

// ThrottleError — апстрим просит притормозить (429/503 с Retry-After).
type ThrottleError struct {
	Status     int
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("upstream throttled (%d), retry after %s", e.Status, e.RetryAfter)
}

// ReliableDoer оборачивает HTTP-транспорт в слой надежности:
// лимитер, предохранитель и ретраи идемпотентных запросов.
type ReliableDoer struct {
	next    Doer
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableDoer(next Doer, cfg infra.UpstreamConfig) *ReliableDoer {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "liveops-upstream",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	return &ReliableDoer{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

func (d *ReliableDoer) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// 1. Rate Limiter
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	result, err := d.cb.Execute(func() (interface{}, error) {
		// Мутации не ретраим: повтор не-идемпотентного POST опаснее отказа
		if req.Method != http.MethodGet {
			return d.next.Do(req)
		}

		var resp *http.Response
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если апстрим вернул ThrottleError (считали Retry-After заголовок)
				var tErr *ThrottleError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			var callErr error
			resp, callErr = d.next.Do(req)
			if callErr != nil {
				return callErr
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				status := resp.StatusCode
				after := parseRetryAfter(resp)
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				resp = nil
				return &ThrottleError{Status: status, RetryAfter: after}
			}
			return nil
		})

		if retryErr != nil {
			return nil, retryErr
		}
		return resp, nil
	})

	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
