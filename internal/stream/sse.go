package stream

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// RawEvent — один разобранный кадр SSE-провода.
type RawEvent struct {
	ID    string
	Data  []byte
	Retry time.Duration
}

// maxLineSize — запас под жирные кадры (списки заказов и т.п.).
const maxLineSize = 1 << 20

// Scanner разбирает text/event-stream: строки "id:", "data:", "retry:",
// пустая строка завершает кадр. Комментарии (строки с ":") пропускаются.
type Scanner struct {
	sc *bufio.Scanner
}

func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Scanner{sc: sc}
}

// Next возвращает следующий кадр или ошибку чтения (io.EOF на конце потока).
// Кадры без данных (чистые keep-alive комментарии) пропускаются.
func (s *Scanner) Next() (*RawEvent, error) {
	ev := &RawEvent{}
	var data []string

	for s.sc.Scan() {
		line := strings.TrimSuffix(s.sc.Text(), "\r")

		if line == "" {
			// Граница кадра
			if len(data) == 0 && ev.ID == "" && ev.Retry == 0 {
				continue // пустой кадр, ждем следующий
			}
			ev.Data = []byte(strings.Join(data, "\n"))
			return ev, nil
		}

		if strings.HasPrefix(line, ":") {
			continue // комментарий/keep-alive
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			ev.ID = value
		case "data":
			data = append(data, value)
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
		}
		// прочие поля (event и т.д.) сервер не шлет — игнорируем
	}

	if err := s.sc.Err(); err != nil {
		return nil, err
	}

	// Обрывок кадра без закрывающей пустой строки — отдаем что есть
	if len(data) > 0 {
		ev.Data = []byte(strings.Join(data, "\n"))
		return ev, nil
	}
	return nil, io.EOF
}
