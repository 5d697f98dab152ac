package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// TokenSource — источник bearer-токена (Auth/Session Bridge).
// Отсутствие токена — ошибка: аутентифицированных вызовов без сессии не бывает.
type TokenSource interface {
	Token() (string, error)
}

// Doer — транспортный слой; в проде это ReliableDoer поверх http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError — типизированная ошибка апстрима с HTTP-статусом.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.Status, e.Message)
}

// errorEnvelope — конверт ошибки апстрима: {error}|{detail} плюс
// опциональный машинный код.
type errorEnvelope struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// Client — типизированная обертка над авторитетным REST-сервером.
// Каждый вызов штампует Authorization и нормализует конверт ошибок.
type Client struct {
	base   *url.URL
	doer   Doer
	tokens TokenSource
	logger *zap.Logger
}

func NewClient(baseURL string, doer Doer, tokens TokenSource, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: bad base url: %w", err)
	}
	return &Client{
		base:   u,
		doer:   doer,
		tokens: tokens,
		logger: logger.Named("rest"),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, nil, out)
}

// postVerified — POST с заголовком step-up верификации.
// Токен одноразовый и живет только в заголовке этого запроса.
func (c *Client) postVerified(ctx context.Context, path string, body, out any, verifyToken string) error {
	headers := map[string]string{"X-Admin-Verify-Token": verifyToken}
	return c.do(ctx, http.MethodPost, path, nil, body, headers, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body, headers)
	if err != nil {
		return err
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.readError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s: %w", path, err)
	}
	return nil
}

// download стримит тело ответа (CSV-экспорт) напрямую в писателя,
// минуя JSON-разбор.
func (c *Client) download(ctx context.Context, path string, query url.Values, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil, nil)
	if err != nil {
		return err
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("rest: export %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.readError(resp)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("rest: stream export: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string) (*http.Request, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("rest: %w", err)
	}

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("rest: encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// readError разбирает конверт ошибки: первый непустой из error, detail,
// иначе синтезированное сообщение со статусом.
func (c *Client) readError(resp *http.Response) error {
	var env errorEnvelope
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &env)

	msg := env.Error
	if msg == "" {
		msg = env.Detail
	}
	if msg == "" {
		msg = fmt.Sprintf("Request failed (%d)", resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg, Code: env.Code}
}

// AsAPIError — хелпер для веток по типу ошибки.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
