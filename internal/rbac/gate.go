package rbac

import (
	"net/http"

	"go.uber.org/zap"
)

// GateMode — режим проверки списка прав.
type GateMode int

const (
	ModeAll GateMode = iota // нужны все права
	ModeAny                 // достаточно одного
)

// Gate — условный примитив рендера: пропускает или отдает fallback.
type Gate struct {
	Mode        GateMode
	Permissions []string
}

// RequireAll — гейт на одно или несколько прав в режиме all.
func RequireAll(permissions ...string) Gate {
	return Gate{Mode: ModeAll, Permissions: permissions}
}

// RequireAny — гейт в режиме any.
func RequireAny(permissions ...string) Gate {
	return Gate{Mode: ModeAny, Permissions: permissions}
}

// Allows проверяет гейт против реестра.
func (g Gate) Allows(r *Registry) bool {
	if len(g.Permissions) == 0 {
		return true
	}
	if g.Mode == ModeAny {
		return r.HasAny(g.Permissions...)
	}
	return r.HasAll(g.Permissions...)
}

// Render исполняет одну из двух веток — children либо fallback.
// Go-эквивалент условного рендера: вызывающий поставляет обе ветки.
func (g Gate) Render(r *Registry, children, fallback func()) {
	if g.Allows(r) {
		if children != nil {
			children()
		}
		return
	}
	if fallback != nil {
		fallback()
	}
}

// Middleware оборачивает HTTP-обработчики Console API: при отказе
// отдается стандартный fallback-конверт в формате апстрима.
func Middleware(reg *Registry, g Gate, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.Allows(reg) {
				logger.Warn("permission denied",
					zap.String("path", r.URL.Path),
					zap.Strings("required", g.Permissions),
					zap.String("role", reg.Role()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error": "Insufficient permissions", "code": "PERMISSION_DENIED"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
