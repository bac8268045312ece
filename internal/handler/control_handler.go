package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/bilitrack/internal/model"
	"github.com/hitoshi/bilitrack/internal/settings"
)

// SchedulerControl は巡回スケジューラの制御インターフェース。
type SchedulerControl interface {
	// Enable は監視を開始する。設定ストアのスイッチも更新する。
	Enable(ctx context.Context) error
	// Disable は監視を停止する。
	Disable(ctx context.Context) error
	// RunOnce は全件巡回をキューに積む。キューが満杯の場合はfalseを返す。
	RunOnce() bool
}

// SettingsReader は設定ストアの読み取りインターフェース。
type SettingsReader interface {
	GetAll(ctx context.Context) (map[string]string, error)
}

// ControlHandler は監視の開始/停止と状態取得のHTTPハンドラー。
type ControlHandler struct {
	scheduler    SchedulerControl
	settingsRepo SettingsReader
}

// NewControlHandler はControlHandlerを生成する。
func NewControlHandler(scheduler SchedulerControl, settingsRepo SettingsReader) *ControlHandler {
	return &ControlHandler{
		scheduler:    scheduler,
		settingsRepo: settingsRepo,
	}
}

// statusResponse は監視状態のAPIレスポンス。
type statusResponse struct {
	MonitorActive  bool   `json:"monitor_active"`
	NextCheckTime  string `json:"next_check_time"`
	GlobalCooldown int    `json:"global_cooldown_seconds"`
	ItemCooldown   int    `json:"item_cooldown_seconds"`
	SMTPEnabled    bool   `json:"smtp_enabled"`
}

// Status は監視の現在状態を返す。
// GET /api/status
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	raw, err := h.settingsRepo.GetAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	snap := settings.NewSnapshot(raw)

	writeJSON(w, http.StatusOK, statusResponse{
		MonitorActive:  snap.MonitorActive(),
		NextCheckTime:  raw[settings.KeyNextCheckTime],
		GlobalCooldown: int(snap.GlobalCooldown().Seconds()),
		ItemCooldown:   int(snap.ItemCooldown().Seconds()),
		SMTPEnabled:    snap.SMTPEnabled(),
	})
}

// Start は監視を開始する。
// POST /api/control/start
func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Enable(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stop は監視を停止する。
// POST /api/control/stop
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Disable(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunOnce は全件巡回を即時実行キューに積む。
// POST /api/control/run-once
func (h *ControlHandler) RunOnce(w http.ResponseWriter, r *http.Request) {
	if !h.scheduler.RunOnce() {
		writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     "QUEUE_FULL",
			Message:  "確認キューが満杯です。しばらく待ってから再度お試しください。",
			Category: "system",
		})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
