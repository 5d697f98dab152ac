package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/domain"
)

// fakePermissionAPI — управляемый источник прав для тестов.
type fakePermissionAPI struct {
	set   *domain.PermissionSet
	err   error
	calls atomic.Int32
}

func (f *fakePermissionAPI) Permissions(ctx context.Context) (*domain.PermissionSet, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.set, nil
}

func moderatorAPI() *fakePermissionAPI {
	return &fakePermissionAPI{set: &domain.PermissionSet{
		Role:        "moderator",
		Permissions: []string{"shops.approve", "complaints.resolve", "bulk.execute"},
	}}
}

func TestRegistry_LoadAndMembership(t *testing.T) {
	api := moderatorAPI()
	reg := NewRegistry(api, zap.NewNop())

	require.NoError(t, reg.Load(context.Background()))

	assert.Equal(t, "moderator", reg.Role())
	assert.True(t, reg.Has("shops.approve"))
	assert.False(t, reg.Has("settings.update"))

	assert.True(t, reg.HasAll("shops.approve", "complaints.resolve"))
	assert.False(t, reg.HasAll("shops.approve", "settings.update"))

	assert.True(t, reg.HasAny("settings.update", "bulk.execute"))
	assert.False(t, reg.HasAny("settings.update", "users.ban"))
}

func TestRegistry_LoadIsReadThrough(t *testing.T) {
	api := moderatorAPI()
	reg := NewRegistry(api, zap.NewNop())

	require.NoError(t, reg.Load(context.Background()))
	// Повторный Load в пределах TTL в сеть не ходит
	require.NoError(t, reg.Load(context.Background()))
	assert.Equal(t, int32(1), api.calls.Load())

	// Явный Refresh ходит всегда
	require.NoError(t, reg.Refresh(context.Background()))
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestRegistry_RefreshFailureKeepsOldSet(t *testing.T) {
	api := moderatorAPI()
	reg := NewRegistry(api, zap.NewNop())
	require.NoError(t, reg.Load(context.Background()))

	api.err = errors.New("upstream down")
	require.Error(t, reg.Refresh(context.Background()))

	// Прежний набор прав продолжает действовать
	assert.True(t, reg.Has("shops.approve"))
	assert.Equal(t, "moderator", reg.Role())
}

func TestRegistry_EmptyDeniesEverything(t *testing.T) {
	reg := NewRegistry(moderatorAPI(), zap.NewNop())

	assert.False(t, reg.Has("shops.approve"))
	assert.False(t, reg.HasAny("shops.approve"))
	// HasAll на пустом списке тривиально истинно
	assert.True(t, reg.HasAll())
}

func TestGate_Allows(t *testing.T) {
	reg := NewRegistry(moderatorAPI(), zap.NewNop())
	require.NoError(t, reg.Load(context.Background()))

	assert.True(t, RequireAll("shops.approve", "bulk.execute").Allows(reg))
	assert.False(t, RequireAll("shops.approve", "settings.update").Allows(reg))
	assert.True(t, RequireAny("settings.update", "bulk.execute").Allows(reg))
	assert.False(t, RequireAny("settings.update", "users.ban").Allows(reg))
	// Пустой гейт пропускает всех
	assert.True(t, Gate{}.Allows(reg))
}

func TestGate_RenderFallback(t *testing.T) {
	reg := NewRegistry(moderatorAPI(), zap.NewNop())
	require.NoError(t, reg.Load(context.Background()))

	var rendered string
	RequireAll("shops.approve").Render(reg,
		func() { rendered = "children" },
		func() { rendered = "fallback" })
	assert.Equal(t, "children", rendered)

	RequireAll("settings.update").Render(reg,
		func() { rendered = "children" },
		func() { rendered = "fallback" })
	assert.Equal(t, "fallback", rendered)
}

func TestMiddleware_DeniedEnvelope(t *testing.T) {
	reg := NewRegistry(moderatorAPI(), zap.NewNop())
	require.NoError(t, reg.Load(context.Background()))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	denied := Middleware(reg, RequireAll("settings.update"), zap.NewNop())(next)
	rec := httptest.NewRecorder()
	denied.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/bulk/shops", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error": "Insufficient permissions", "code": "PERMISSION_DENIED"}`, rec.Body.String())

	allowed := Middleware(reg, RequireAll("bulk.execute"), zap.NewNop())(next)
	rec = httptest.NewRecorder()
	allowed.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/bulk/shops", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
