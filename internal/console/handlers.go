package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/cache"
	"github.com/townbasket/liveops/internal/rest"
	"github.com/townbasket/liveops/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"leader":    s.coord.IsLeader(),
		"transport": s.transport.StateName(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.State())
}

func (s *Server) handleEventRing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Ring())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": s.alerts.Snapshot(),
		"unread": s.alerts.UnreadCount(),
	})
}

func (s *Server) handleAlertRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "alert id is required")
		return
	}
	s.alerts.MarkRead(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlertDismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "alert id is required")
		return
	}
	s.alerts.Dismiss(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlertsClear(w http.ResponseWriter, r *http.Request) {
	s.alerts.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStreamPause(w http.ResponseWriter, r *http.Request) {
	s.coord.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStreamResume(w http.ResponseWriter, r *http.Request) {
	s.coord.Resume()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *Server) handleDarkModeGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"dark_mode": s.prefs.DarkMode()})
}

func (s *Server) handleDarkModeSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DarkMode bool `json:"dark_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.prefs.SetDarkMode(body.DarkMode); err != nil {
		s.logger.Warn("failed to persist preference", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to persist preference")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActionsHandler исполняет чувствительные мутации: церемония step-up,
// REST-вызов и инвалидация декларированных ключей кэша — в таком порядке.
type ActionsHandler struct {
	api      *rest.Client
	verifier *rest.Verifier
	store    *cache.Store
	logger   *zap.Logger
}

func NewActionsHandler(api *rest.Client, verifier *rest.Verifier, store *cache.Store, logger *zap.Logger) *ActionsHandler {
	return &ActionsHandler{
		api:      api,
		verifier: verifier,
		store:    store,
		logger:   logger.Named("actions"),
	}
}

type bulkBody struct {
	Action string  `json:"action"`
	IDs    []int64 `json:"ids"`
}

func (h *ActionsHandler) BulkShops(w http.ResponseWriter, r *http.Request) {
	h.runBulk(w, r, "bulk-shops",
		map[string]bool{"approve": true, "reject": true},
		[]cache.Key{cache.KeyShops, cache.KeyOverview},
		h.api.BulkShops)
}

func (h *ActionsHandler) BulkUsers(w http.ResponseWriter, r *http.Request) {
	h.runBulk(w, r, "bulk-users",
		map[string]bool{"activate": true, "deactivate": true},
		[]cache.Key{cache.KeyUsers(""), cache.KeyOverview},
		h.api.BulkUsers)
}

func (h *ActionsHandler) runBulk(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	allowed map[string]bool,
	invalidates []cache.Key,
	call func(ctx context.Context, action string, ids []int64, verifyToken string) (*rest.BulkResult, error),
) {
	var body bulkBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !allowed[body.Action] {
		writeError(w, http.StatusBadRequest, "unsupported action")
		return
	}
	if len(body.IDs) == 0 || len(body.IDs) > 100 {
		writeError(w, http.StatusBadRequest, "ids must contain between 1 and 100 entries")
		return
	}

	var result *rest.BulkResult
	err := h.store.RunMutation(r.Context(), cache.Mutation{
		Name:        name,
		Invalidates: invalidates,
		Do: func(ctx context.Context) error {
			return h.verifier.Run(ctx, func(ctx context.Context, verifyToken string) error {
				res, err := call(ctx, body.Action, body.IDs, verifyToken)
				if err != nil {
					return err
				}
				result = res
				return nil
			})
		},
	})
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Точечные модерационные действия. Та же дисциплина, что и у bulk:
// каждая мутация декларирует набор ключей, которые гасятся при успехе.
// Step-up церемония здесь не нужна — апстрим требует verify-токен
// только для пакетных операций.

func (h *ActionsHandler) ShopApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	h.runAction(w, r, "approve-shop",
		[]cache.Key{cache.KeyShops, cache.KeyOverview},
		func(ctx context.Context) error { return h.api.ApproveShop(ctx, id) })
}

func (h *ActionsHandler) ShopReject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	h.runAction(w, r, "reject-shop",
		[]cache.Key{cache.KeyShops, cache.KeyOverview},
		func(ctx context.Context) error { return h.api.RejectShop(ctx, id) })
}

func (h *ActionsHandler) ShopToggleActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	h.runAction(w, r, "toggle-shop",
		[]cache.Key{cache.KeyShops},
		func(ctx context.Context) error { return h.api.ToggleShopActive(ctx, id) })
}

func (h *ActionsHandler) UserToggleActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	h.runAction(w, r, "toggle-user",
		[]cache.Key{cache.KeyUsers(""), cache.KeyOverview},
		func(ctx context.Context) error { return h.api.ToggleUserActive(ctx, id) })
}

func (h *ActionsHandler) ComplaintResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	h.runAction(w, r, "resolve-complaint",
		[]cache.Key{cache.KeyComplaints(""), cache.KeyOverview},
		func(ctx context.Context) error { return h.api.ResolveComplaint(ctx, id) })
}

// fraudActions — действия, которые апстрим принимает по фрод-алерту.
var fraudActions = map[string]bool{"dismiss": true, "investigate": true, "confirm": true}

func (h *ActionsHandler) FraudAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	action := chi.URLParam(r, "action")
	if !fraudActions[action] {
		writeError(w, http.StatusBadRequest, "unsupported action")
		return
	}
	h.runAction(w, r, "fraud-alert-action",
		[]cache.Key{cache.KeyFraudAlerts},
		func(ctx context.Context) error { return h.api.FraudAlertAction(ctx, id, action) })
}

func (h *ActionsHandler) SettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var settings json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	h.runAction(w, r, "settings-update",
		[]cache.Key{cache.KeySettings},
		func(ctx context.Context) error { return h.api.UpdateSettings(ctx, settings) })
}

func (h *ActionsHandler) runAction(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	invalidates []cache.Key,
	do func(ctx context.Context) error,
) {
	err := h.store.RunMutation(r.Context(), cache.Mutation{
		Name:        name,
		Invalidates: invalidates,
		Do:          do,
	})
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// writeActionError транслирует таксономию ошибок в HTTP-ответы:
// провал верификации — отдельный код, чтобы UI мог перезапросить церемонию.
func (h *ActionsHandler) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case rest.IsVerifyFailure(err):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": "Admin verification required",
			"code":  "VERIFY_REQUIRED",
		})
	case errors.Is(err, session.ErrNoToken):
		writeError(w, http.StatusUnauthorized, "Authentication required")
	default:
		if apiErr, ok := rest.AsAPIError(err); ok {
			writeError(w, apiErr.Status, apiErr.Message)
			return
		}
		h.logger.Error("action failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream request failed")
	}
}
