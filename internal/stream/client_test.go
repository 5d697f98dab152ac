package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/metrics"
)

type fakeTokens struct {
	mu    sync.Mutex
	token string
}

func (f *fakeTokens) TokenValue() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// frameCollector копит кадры, отданные транспортом.
type frameCollector struct {
	mu     sync.Mutex
	frames []string
	ids    []string
}

func (c *frameCollector) HandleFrame(eventID string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, eventID)
	c.frames = append(c.frames, string(data))
}

func (c *frameCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newStreamClient(baseURL string, tokens TokenSource, sink FrameSink) *Client {
	return NewClient(baseURL, tokens, sink, Options{
		BackoffBase:   10 * time.Millisecond,
		BackoffFactor: 2,
		BackoffCap:    80 * time.Millisecond,
	}, metrics.New(nil), zap.NewNop())
}

func TestClient_BackoffSchedule(t *testing.T) {
	c := NewClient("http://x", &fakeTokens{}, nil, Options{}, metrics.New(nil), zap.NewNop())

	// Контрактная последовательность: 2s, 4s, 8s, 16s, потолок 30s
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for n, d := range want {
		assert.Equal(t, d, c.backoffDelay(n), "attempt %d", n)
	}
}

func TestClient_ConnectWithoutTokenIsNoOp(t *testing.T) {
	c := newStreamClient("http://127.0.0.1:1", &fakeTokens{}, &frameCollector{})

	c.Connect()
	assert.Equal(t, "idle", c.StateName())
}

func TestClient_StreamsAndRemembersLastEventID(t *testing.T) {
	sink := &frameCollector{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/sse/", r.URL.Path)
		assert.Equal(t, "op-token", r.URL.Query().Get("token"))

		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "id: 1\ndata: {\"type\":\"connected\"}\n\n")
		fmt.Fprint(w, "id: 2\ndata: {\"type\":\"heartbeat\"}\n\n")
		fl.Flush()
		// Закрываем стрим мягко, чтобы клиент не завис на чтении
		fmt.Fprint(w, "data: {\"type\":\"timeout\"}\n\n")
		fl.Flush()
	}))
	defer srv.Close()

	c := newStreamClient(srv.URL, &fakeTokens{token: "op-token"}, sink)
	c.Connect()

	require.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "2", c.LastEventID())
	c.Disconnect()
}

func TestClient_ResumesWithLastEventID(t *testing.T) {
	sink := &frameCollector{}
	var mu sync.Mutex
	var resumeParams []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resumeParams = append(resumeParams, r.URL.Query().Get("lastEventId"))
		conn := len(resumeParams)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprintf(w, "id: %d\ndata: {\"type\":\"heartbeat\"}\n\n", conn*10)
		fmt.Fprint(w, "data: {\"type\":\"timeout\"}\n\n")
		fl.Flush()
	}))
	defer srv.Close()

	c := newStreamClient(srv.URL, &fakeTokens{token: "op-token"}, sink)
	c.Connect()

	// Timeout-кадр ведет к мягкому реконнекту; второе подключение резюмирует
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(resumeParams) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	c.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "", resumeParams[0])
	assert.Equal(t, "10", resumeParams[1])
	// Мягкое закрытие не копит счетчик неудач
	assert.Equal(t, 0, c.Retries())
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	sink := &frameCollector{}
	var mu sync.Mutex
	conns := 0
	hold := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		conns++
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 1\ndata: {\"type\":\"connected\"}\n\n")
		w.(http.Flusher).Flush()
		<-hold
	}))
	defer srv.Close()
	defer close(hold)

	c := newStreamClient(srv.URL, &fakeTokens{token: "op-token"}, sink)
	c.Connect()
	c.Connect()
	c.Connect()

	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, conns)
	mu.Unlock()
	c.Disconnect()
}

func TestClient_DisconnectStopsReconnects(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		conns++
		mu.Unlock()
		// Жесткий обрыв: клиент уйдет в бэкофф
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newStreamClient(srv.URL, &fakeTokens{token: "op-token"}, &frameCollector{})
	c.Connect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conns >= 2
	}, 2*time.Second, 5*time.Millisecond)

	c.Disconnect()
	mu.Lock()
	after := conns
	mu.Unlock()

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, conns, "no reconnects after intentional disconnect")
	mu.Unlock()
	assert.Equal(t, "idle", c.StateName())
}

func TestClient_ObserveEventID(t *testing.T) {
	c := newStreamClient("http://x", &fakeTokens{}, nil)

	c.ObserveEventID("41")
	assert.Equal(t, "41", c.LastEventID())
	// Пустой id не затирает сохраненный
	c.ObserveEventID("")
	assert.Equal(t, "41", c.LastEventID())
}

func TestClient_OpenResetsRetryCounter(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 1\ndata: {\"type\":\"connected\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"timeout\"}\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	sink := &frameCollector{}
	c := newStreamClient(srv.URL, &fakeTokens{token: "op-token"}, sink)
	c.Connect()

	require.Eventually(t, func() bool { return sink.count() >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Retries())
	c.Disconnect()
}
