package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/bilitrack/internal/model"
	"github.com/hitoshi/bilitrack/internal/monitor"
)

// MonitorServiceInterface は監視対象ハンドラーが必要とするサービスインターフェース。
type MonitorServiceInterface interface {
	// Add は参照URLから監視対象を登録する。
	Add(ctx context.Context, rawURL string) (*model.Monitor, error)
	// Delete は監視対象と関連する更新記録を削除する。
	Delete(ctx context.Context, id int64) error
	// SetActive は監視対象の有効/無効を切り替える。
	SetActive(ctx context.Context, id int64, active bool) error
	// SetArchived は監視対象のアーカイブ状態を切り替える。
	SetArchived(ctx context.Context, id int64, archived bool) error
	// ListWithStats は非アーカイブの監視対象を統計付きで取得する。
	ListWithStats(ctx context.Context) ([]monitor.MonitorWithStats, error)
	// Stats は監視対象1件の更新間隔統計を返す。
	Stats(ctx context.Context, id int64) (*model.UpdateStats, error)
	// ListArchived はアーカイブ済みの監視対象を取得する。
	ListArchived(ctx context.Context) ([]*model.Monitor, error)
	// Recent は画面表示用の更新記録を新しい順に取得する。
	Recent(ctx context.Context) ([]*model.VideoUpdateWithMonitor, error)
}

// SingleChecker は監視対象1件の即時確認をスケジューラに依頼するインターフェース。
type SingleChecker interface {
	// CheckSingle は単発確認をキューに積む。キューが満杯の場合はfalseを返す。
	CheckSingle(monitorID int64) bool
}

// MonitorHandler は監視対象管理のHTTPハンドラー。
type MonitorHandler struct {
	service MonitorServiceInterface
	checker SingleChecker
}

// NewMonitorHandler はMonitorHandlerを生成する。
func NewMonitorHandler(service MonitorServiceInterface, checker SingleChecker) *MonitorHandler {
	return &MonitorHandler{
		service: service,
		checker: checker,
	}
}

// addMonitorRequest は監視対象登録リクエストのボディ。
type addMonitorRequest struct {
	URL string `json:"url"`
}

// setActiveRequest は有効/無効切り替えリクエストのボディ。
type setActiveRequest struct {
	Active bool `json:"active"`
}

// setArchivedRequest はアーカイブ切り替えリクエストのボディ。
type setArchivedRequest struct {
	Archived bool `json:"archived"`
}

// monitorResponse は監視対象のAPIレスポンス。
type monitorResponse struct {
	ID          int64  `json:"id"`
	Mid         string `json:"mid"`
	RemoteID    string `json:"remote_id"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Cover       string `json:"cover"`
	TotalCount  int    `json:"total_count"`
	LastCheckTS int64  `json:"last_check_ts"`
	IsActive    bool   `json:"is_active"`
	Archived    bool   `json:"archived"`
}

// monitorWithStatsResponse は監視対象に統計を結合した一覧用レスポンス。
type monitorWithStatsResponse struct {
	Monitor monitorResponse   `json:"monitor"`
	Stats   model.UpdateStats `json:"stats"`
}

// videoUpdateResponse は更新記録のAPIレスポンス。
type videoUpdateResponse struct {
	ID          int64  `json:"id"`
	MonitorID   int64  `json:"monitor_id"`
	MonitorName string `json:"monitor_name"`
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	PublishTime int64  `json:"publish_time"`
	Cover       string `json:"cover"`
}

// Add は監視対象を登録する。
// POST /api/monitors
func (h *MonitorHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	m, err := h.service.Add(r.Context(), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMonitorResponse(m))
}

// List は非アーカイブの監視対象を統計付きで返す。
// GET /api/monitors
func (h *MonitorHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListWithStats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result := make([]monitorWithStatsResponse, len(list))
	for i, ms := range list {
		result[i] = monitorWithStatsResponse{
			Monitor: toMonitorResponse(ms.Monitor),
			Stats:   ms.Stats,
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// ListArchived はアーカイブ済みの監視対象を返す。
// GET /api/monitors/archived
func (h *MonitorHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListArchived(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result := make([]monitorResponse, len(list))
	for i, m := range list {
		result[i] = toMonitorResponse(m)
	}

	writeJSON(w, http.StatusOK, result)
}

// Delete は監視対象を削除する。
// DELETE /api/monitors/:id
func (h *MonitorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := monitorIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetActive は監視対象の有効/無効を切り替える。
// PUT /api/monitors/:id/active
func (h *MonitorHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := monitorIDFromPath(w, r)
	if !ok {
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if err := h.service.SetActive(r.Context(), id, req.Active); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetArchived は監視対象のアーカイブ状態を切り替える。
// PUT /api/monitors/:id/archive
func (h *MonitorHandler) SetArchived(w http.ResponseWriter, r *http.Request) {
	id, ok := monitorIDFromPath(w, r)
	if !ok {
		return
	}

	var req setArchivedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if err := h.service.SetArchived(r.Context(), id, req.Archived); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stats は監視対象1件の更新間隔統計を返す。
// GET /api/monitors/:id/stats
func (h *MonitorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := monitorIDFromPath(w, r)
	if !ok {
		return
	}

	st, err := h.service.Stats(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// Check は監視対象1件の即時確認をキューに積む。
// POST /api/monitors/:id/check
func (h *MonitorHandler) Check(w http.ResponseWriter, r *http.Request) {
	id, ok := monitorIDFromPath(w, r)
	if !ok {
		return
	}

	if !h.checker.CheckSingle(id) {
		writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     "QUEUE_FULL",
			Message:  "確認キューが満杯です。しばらく待ってから再度お試しください。",
			Category: "system",
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Recent は更新記録を新しい順に返す。
// GET /api/updates/recent
func (h *MonitorHandler) Recent(w http.ResponseWriter, r *http.Request) {
	updates, err := h.service.Recent(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result := make([]videoUpdateResponse, len(updates))
	for i, u := range updates {
		result[i] = videoUpdateResponse{
			ID:          u.ID,
			MonitorID:   u.MonitorID,
			MonitorName: u.MonitorName,
			VideoID:     u.VideoID,
			Title:       u.Title,
			PublishTime: u.PublishTime,
			Cover:       u.Cover,
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// --- ヘルパー関数 ---

// monitorIDFromPath はパスパラメータから監視対象IDを取り出す。
// 不正な場合は400を書き込んでfalseを返す。
func monitorIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "監視対象IDが不正です。",
			Category: "validation",
		})
		return 0, false
	}
	return id, true
}

// toMonitorResponse はmodel.MonitorからAPIレスポンスに変換する。
func toMonitorResponse(m *model.Monitor) monitorResponse {
	return monitorResponse{
		ID:          m.ID,
		Mid:         m.Mid,
		RemoteID:    m.RemoteID,
		Kind:        string(m.Kind),
		Name:        m.Name,
		Description: m.Description,
		Cover:       m.Cover,
		TotalCount:  m.TotalCount,
		LastCheckTS: m.LastCheckTS,
		IsActive:    m.IsActive,
		Archived:    m.Archived,
	}
}
