package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/bilitrack/internal/notifier"
	"github.com/hitoshi/bilitrack/internal/settings"
)

// mockReloader はSchedulerReloaderのモック実装。
type mockReloader struct {
	reloadCalls int
}

func (m *mockReloader) Reload() {
	m.reloadCalls++
}

// mockMailSender はMailSenderのモック実装。
type mockMailSender struct {
	sendFn func(cfg notifier.Config, subject, htmlBody string) bool
	sent   []notifier.Config
}

func (m *mockMailSender) Send(cfg notifier.Config, subject, htmlBody string) bool {
	m.sent = append(m.sent, cfg)
	if m.sendFn != nil {
		return m.sendFn(cfg, subject, htmlBody)
	}
	return true
}

func TestSettingsHandler_Get_MasksAuthCode(t *testing.T) {
	store := &mockSettingsStore{
		values: map[string]string{
			settings.KeySMTPServer:    "smtp.example.com",
			settings.KeyEmailAuthCode: "secret-code",
		},
	}

	h := NewSettingsHandler(store, &mockReloader{}, &mockMailSender{})

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got[settings.KeyEmailAuthCode] != authCodeMask {
		t.Errorf("email_auth_code = %q, want masked", got[settings.KeyEmailAuthCode])
	}
	if got[settings.KeySMTPServer] != "smtp.example.com" {
		t.Errorf("smtp_server = %q, want %q", got[settings.KeySMTPServer], "smtp.example.com")
	}
}

func TestSettingsHandler_Get_EmptyAuthCodeStaysEmpty(t *testing.T) {
	store := &mockSettingsStore{
		values: map[string]string{
			settings.KeyEmailAuthCode: "",
		},
	}

	h := NewSettingsHandler(store, &mockReloader{}, &mockMailSender{})

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w := httptest.NewRecorder()

	h.Get(w, req)

	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got[settings.KeyEmailAuthCode] != "" {
		t.Errorf("email_auth_code = %q, want empty", got[settings.KeyEmailAuthCode])
	}
}

func TestSettingsHandler_Save_UpdatesAndReloads(t *testing.T) {
	store := &mockSettingsStore{values: map[string]string{}}
	reloader := &mockReloader{}

	h := NewSettingsHandler(store, reloader, &mockMailSender{})

	body := `{"global_cooldown": "300", "smtp_enable": "1"}`
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Save(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if len(store.updates) != 1 {
		t.Fatalf("update calls = %d, want 1", len(store.updates))
	}
	if store.updates[0][settings.KeyGlobalCooldown] != "300" {
		t.Errorf("global_cooldown = %q, want %q", store.updates[0][settings.KeyGlobalCooldown], "300")
	}
	if reloader.reloadCalls != 1 {
		t.Errorf("reload calls = %d, want 1", reloader.reloadCalls)
	}
}

func TestSettingsHandler_Save_IgnoresUnknownAndManagedKeys(t *testing.T) {
	store := &mockSettingsStore{values: map[string]string{}}

	h := NewSettingsHandler(store, &mockReloader{}, &mockMailSender{})

	body := `{"unknown_key": "x", "next_check_time": "2026-01-01 00:00:00", "item_cooldown": "60"}`
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Save(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if len(store.updates) != 1 {
		t.Fatalf("update calls = %d, want 1", len(store.updates))
	}

	saved := store.updates[0]
	if _, ok := saved["unknown_key"]; ok {
		t.Error("unknown_key should not be saved")
	}
	if _, ok := saved[settings.KeyNextCheckTime]; ok {
		t.Error("next_check_time should not be saved")
	}
	if saved[settings.KeyItemCooldown] != "60" {
		t.Errorf("item_cooldown = %q, want %q", saved[settings.KeyItemCooldown], "60")
	}
}

func TestSettingsHandler_Save_MaskedAuthCodeKeepsStored(t *testing.T) {
	store := &mockSettingsStore{values: map[string]string{}}

	h := NewSettingsHandler(store, &mockReloader{}, &mockMailSender{})

	body := `{"email_auth_code": "******", "smtp_server": "smtp.example.com"}`
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Save(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}

	saved := store.updates[0]
	if _, ok := saved[settings.KeyEmailAuthCode]; ok {
		t.Error("masked auth code should not overwrite the stored value")
	}
	if saved[settings.KeySMTPServer] != "smtp.example.com" {
		t.Errorf("smtp_server = %q, want %q", saved[settings.KeySMTPServer], "smtp.example.com")
	}
}

func TestSettingsHandler_Save_NoSavableKeysReturns400(t *testing.T) {
	store := &mockSettingsStore{values: map[string]string{}}

	h := NewSettingsHandler(store, &mockReloader{}, &mockMailSender{})

	body := `{"unknown_key": "x"}`
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Save(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
	if len(store.updates) != 0 {
		t.Errorf("update calls = %d, want 0", len(store.updates))
	}
}

func TestSettingsHandler_TestMail_SendsWithStoredConfig(t *testing.T) {
	store := &mockSettingsStore{
		values: map[string]string{
			settings.KeySMTPEnable:     "0", // スイッチが無効でもテスト送信は実行される
			settings.KeySMTPServer:     "smtp.example.com",
			settings.KeySMTPPort:       "465",
			settings.KeyEmailAccount:   "sender@example.com",
			settings.KeyEmailAuthCode:  "code",
			settings.KeyReceiverEmails: "to@example.com",
			settings.KeyUseTLS:         "1",
		},
	}
	mailer := &mockMailSender{}

	h := NewSettingsHandler(store, &mockReloader{}, mailer)

	req := httptest.NewRequest(http.MethodPost, "/api/settings/test-mail", nil)
	w := httptest.NewRecorder()

	h.TestMail(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("send calls = %d, want 1", len(mailer.sent))
	}
	if !mailer.sent[0].Enabled {
		t.Error("test mail should force Enabled = true")
	}
	if mailer.sent[0].Host != "smtp.example.com" {
		t.Errorf("host = %q, want %q", mailer.sent[0].Host, "smtp.example.com")
	}
}

func TestSettingsHandler_TestMail_FailureReturns502(t *testing.T) {
	store := &mockSettingsStore{values: map[string]string{}}
	mailer := &mockMailSender{
		sendFn: func(cfg notifier.Config, subject, htmlBody string) bool { return false },
	}

	h := NewSettingsHandler(store, &mockReloader{}, mailer)

	req := httptest.NewRequest(http.MethodPost, "/api/settings/test-mail", nil)
	w := httptest.NewRecorder()

	h.TestMail(w, req)

	if w.Result().StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadGateway)
	}
}
