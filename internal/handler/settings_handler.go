package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/bilitrack/internal/model"
	"github.com/hitoshi/bilitrack/internal/notifier"
	"github.com/hitoshi/bilitrack/internal/settings"
)

// SettingsStore は設定ストアの読み書きインターフェース。
type SettingsStore interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Update(ctx context.Context, values map[string]string) error
}

// SchedulerReloader は設定変更をスケジューラに反映させるインターフェース。
type SchedulerReloader interface {
	Reload()
}

// MailSender は通知メールの送信インターフェース。
type MailSender interface {
	Send(cfg notifier.Config, subject, htmlBody string) bool
}

// authCodeMask は認証コードの代わりに返すマスク文字列。
// 保存時にこの値が来た場合は保存済みの値を維持する。
const authCodeMask = "******"

// SettingsHandler は設定管理のHTTPハンドラー。
type SettingsHandler struct {
	store    SettingsStore
	reloader SchedulerReloader
	mailer   MailSender
}

// NewSettingsHandler はSettingsHandlerを生成する。
func NewSettingsHandler(store SettingsStore, reloader SchedulerReloader, mailer MailSender) *SettingsHandler {
	return &SettingsHandler{
		store:    store,
		reloader: reloader,
		mailer:   mailer,
	}
}

// Get は全設定を返す。認証コードはマスクする。
// GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	raw, err := h.store.GetAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if raw[settings.KeyEmailAuthCode] != "" {
		raw[settings.KeyEmailAuthCode] = authCodeMask
	}

	writeJSON(w, http.StatusOK, raw)
}

// Save は設定を保存し、スケジューラに反映させる。
// 未知のキーは無視する。next_check_timeはスケジューラ管理のため受け付けない。
// PUT /api/settings
func (h *SettingsHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	known := settings.Defaults()
	values := make(map[string]string)
	for key, value := range req {
		if _, ok := known[key]; !ok {
			continue
		}
		if key == settings.KeyNextCheckTime {
			continue
		}
		// マスクされたままの認証コードは保存済みの値を維持する
		if key == settings.KeyEmailAuthCode && value == authCodeMask {
			continue
		}
		values[key] = value
	}

	if len(values) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "保存可能な設定項目がありません。",
			Category: "validation",
		})
		return
	}

	if err := h.store.Update(r.Context(), values); err != nil {
		handleServiceError(w, err)
		return
	}

	h.reloader.Reload()
	w.WriteHeader(http.StatusNoContent)
}

// TestMail は保存済みのSMTP設定でテストメールを送信する。
// POST /api/settings/test-mail
func (h *SettingsHandler) TestMail(w http.ResponseWriter, r *http.Request) {
	raw, err := h.store.GetAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	snap := settings.NewSnapshot(raw)

	cfg := snap.MailConfig()
	// テスト送信はスイッチの状態によらず実行する
	cfg.Enabled = true

	ok := h.mailer.Send(cfg, "【bilitrack】テストメール", "<p>SMTP設定のテストメールです。このメールが届いていれば設定は正常です。</p>")
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "MAIL_SEND_FAILED",
			Message:  "テストメールの送信に失敗しました。SMTP設定を確認してください。",
			Category: "system",
		})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
