package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/domain"
)

// permissionsTTL — read-through окно реестра (таблица свежести кэша).
// Фокус-события реестр не обновляют — только явный Refresh.
const permissionsTTL = 5 * time.Minute

// PermissionAPI описывает требование к REST-адаптеру
type PermissionAPI interface {
	Permissions(ctx context.Context) (*domain.PermissionSet, error)
}

// Registry — in-memory реестр прав оператора. Представляет материализованную
// мапу для синхронных membership-запросов: Hot Path дашборда в сеть не ходит.
type Registry struct {
	mu        sync.RWMutex
	role      string
	perms     map[string]struct{}
	fetchedAt time.Time

	api    PermissionAPI
	logger *zap.Logger
}

func NewRegistry(api PermissionAPI, logger *zap.Logger) *Registry {
	return &Registry{
		perms:  make(map[string]struct{}),
		api:    api,
		logger: logger.Named("rbac"),
	}
}

// Load выполняет read-through загрузку: в пределах TTL — no-op.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.RLock()
	fresh := !r.fetchedAt.IsZero() && time.Since(r.fetchedAt) < permissionsTTL
	r.mu.RUnlock()
	if fresh {
		return nil
	}
	return r.Refresh(ctx)
}

// Refresh принудительно перечитывает {role, permissions[]} с сервера.
func (r *Registry) Refresh(ctx context.Context) error {
	set, err := r.api.Permissions(ctx)
	if err != nil {
		return fmt.Errorf("rbac: fetch permissions: %w", err)
	}

	next := make(map[string]struct{}, len(set.Permissions))
	for _, p := range set.Permissions {
		next[p] = struct{}{}
	}

	r.mu.Lock()
	r.role = set.Role
	r.perms = next
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	r.logger.Info("permission set refreshed",
		zap.String("role", set.Role),
		zap.Int("count", len(next)))
	return nil
}

func (r *Registry) Role() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role
}

// Has — синхронный membership-запрос.
func (r *Registry) Has(permission string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.perms[permission]
	return ok
}

// HasAll — у оператора есть каждое из перечисленных прав.
func (r *Registry) HasAll(permissions ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range permissions {
		if _, ok := r.perms[p]; !ok {
			return false
		}
	}
	return true
}

// HasAny — хотя бы одно из перечисленных прав.
func (r *Registry) HasAny(permissions ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range permissions {
		if _, ok := r.perms[p]; ok {
			return true
		}
	}
	return false
}

// Snapshot — роль и отсортированная копия прав для отдачи наружу.
func (r *Registry) Snapshot() domain.PermissionSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.perms))
	for p := range r.perms {
		out = append(out, p)
	}
	return domain.PermissionSet{Role: r.role, Permissions: out}
}
