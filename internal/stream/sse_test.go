package stream

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanner_ParsesFrames(t *testing.T) {
	wire := "id: 1\ndata: {\"type\":\"connected\"}\n\n" +
		"id: 2\ndata: {\"type\":\"heartbeat\"}\n\n"
	sc := NewScanner(strings.NewReader(wire))

	ev, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "1", ev.ID)
	assert.JSONEq(t, `{"type":"connected"}`, string(ev.Data))

	ev, err = sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "2", ev.ID)

	_, err = sc.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScanner_MultilineData(t *testing.T) {
	wire := "data: line one\ndata: line two\n\n"
	sc := NewScanner(strings.NewReader(wire))

	ev, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(ev.Data))
}

func TestScanner_SkipsCommentsAndBlankFrames(t *testing.T) {
	wire := ": keep-alive\n\n: another\n\nid: 5\ndata: x\n\n"
	sc := NewScanner(strings.NewReader(wire))

	ev, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "5", ev.ID)
	assert.Equal(t, "x", string(ev.Data))
}

func TestScanner_RetryField(t *testing.T) {
	wire := "retry: 5000\ndata: y\n\n"
	sc := NewScanner(strings.NewReader(wire))

	ev, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, ev.Retry)
}

func TestScanner_CRLFAndNoSpaceAfterColon(t *testing.T) {
	wire := "id:9\r\ndata:{\"type\":\"timeout\"}\r\n\r\n"
	sc := NewScanner(strings.NewReader(wire))

	ev, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "9", ev.ID)
	assert.JSONEq(t, `{"type":"timeout"}`, string(ev.Data))
}

func TestScanner_TruncatedTrailingFrame(t *testing.T) {
	// Обрыв соединения посреди кадра без закрывающей пустой строки
	wire := "id: 3\ndata: partial"
	sc := NewScanner(strings.NewReader(wire))

	ev, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial", string(ev.Data))

	_, err = sc.Next()
	assert.ErrorIs(t, err, io.EOF)
}
