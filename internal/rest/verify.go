package rest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// VerifyGrant — ответ сервера на запрос step-up верификации.
// Токен одноразовый, живет expires_in секунд и нигде не сохраняется.
type VerifyGrant struct {
	Token     string `json:"verify_token"`
	ExpiresIn int    `json:"expires_in"`
}

// VerifyError — отдельный вид ошибки: UI по нему перезапрашивает церемонию.
type VerifyError struct {
	Message string
}

func (e *VerifyError) Error() string {
	return "verify: " + e.Message
}

// IsVerifyFailure распознает провал верификации в обеих формах:
// наш VerifyError и серверный конверт с кодом VERIFY_REQUIRED.
func IsVerifyFailure(err error) bool {
	var vErr *VerifyError
	if errors.As(err, &vErr) {
		return true
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Code == "VERIFY_REQUIRED"
	}
	return false
}

// RequestVerify выпускает короткоживущий verify-токен.
// POST /admin/request-verify/
func (c *Client) RequestVerify(ctx context.Context) (*VerifyGrant, error) {
	var grant VerifyGrant
	if err := c.postJSON(ctx, "/admin/request-verify/", nil, &grant); err != nil {
		return nil, fmt.Errorf("verify request: %w", err)
	}
	if grant.Token == "" {
		// Сервер ответил 200, но токена нет — это провал церемонии
		return nil, &VerifyError{Message: "server returned no verify token"}
	}
	return &grant, nil
}

// Verifier — церемония step-up: получить токен, передать его в действие.
// Действие обязано приложить токен ровно к следующему чувствительному вызову.
type Verifier struct {
	api      *Client
	inFlight atomic.Bool
	logger   *zap.Logger
}

func NewVerifier(api *Client, logger *zap.Logger) *Verifier {
	return &Verifier{api: api, logger: logger.Named("verify")}
}

// Run исполняет церемонию. Ошибки обоих шагов уходят вызывающему;
// сам токен не логируется.
func (v *Verifier) Run(ctx context.Context, action func(ctx context.Context, verifyToken string) error) error {
	v.inFlight.Store(true)
	defer v.inFlight.Store(false)

	grant, err := v.api.RequestVerify(ctx)
	if err != nil {
		return err
	}

	v.logger.Debug("verify token issued", zap.Int("expires_in", grant.ExpiresIn))
	return action(ctx, grant.Token)
}

// InFlight — флаг для UI: пока церемония идет, триггеры заблокированы.
func (v *Verifier) InFlight() bool {
	return v.inFlight.Load()
}
