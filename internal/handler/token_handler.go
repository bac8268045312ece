package handler

import (
	"context"
	"net/http"
	"strings"
)

// TokenServiceInterface はアクセストークン管理のインターフェース。
type TokenServiceInterface interface {
	// Verify はトークンを検証する。
	Verify(ctx context.Context, token string) (bool, error)
	// Reset はトークンを再生成し、新しい平文トークンを返す。
	Reset(ctx context.Context) (string, error)
}

// TokenHandler はアクセストークン管理のHTTPハンドラー。
type TokenHandler struct {
	service TokenServiceInterface
}

// NewTokenHandler はTokenHandlerを生成する。
func NewTokenHandler(service TokenServiceInterface) *TokenHandler {
	return &TokenHandler{service: service}
}

// tokenVerifyResponse はトークン検証のAPIレスポンス。
type tokenVerifyResponse struct {
	Valid bool `json:"valid"`
}

// tokenResetResponse はトークン再生成のAPIレスポンス。
// 平文トークンはこのレスポンスでのみ返され、以後取得できない。
type tokenResetResponse struct {
	Token string `json:"token"`
}

// Verify はリクエストヘッダーのトークンが有効かを返す。
// UIのログイン画面が認証前にトークンを検証するために使う。
// POST /api/token/verify
func (h *TokenHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		token = r.Header.Get("X-Access-Token")
	}

	valid, err := h.service.Verify(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenVerifyResponse{Valid: valid})
}

// Reset はトークンを再生成し、新しい平文トークンを1回だけ返す。
// POST /api/token/reset
func (h *TokenHandler) Reset(w http.ResponseWriter, r *http.Request) {
	token, err := h.service.Reset(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResetResponse{Token: token})
}
