package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/bilitrack/internal/model"
)

// ImageFetcher はカバー画像のキャッシュ付き取得インターフェース。
type ImageFetcher interface {
	// Fetch は画像データとContent-Typeを返す。
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// ImageHandler はカバー画像プロキシのHTTPハンドラー。
// ブラウザから直接リモートの画像を参照するとリファラ検査で拒否されるため、
// サーバー側で取得してキャッシュした画像を配信する。
type ImageHandler struct {
	fetcher ImageFetcher
}

// NewImageHandler はImageHandlerを生成する。
func NewImageHandler(fetcher ImageFetcher) *ImageHandler {
	return &ImageHandler{fetcher: fetcher}
}

// Proxy はクエリパラメータのURLの画像を取得して返す。
// GET /proxy/image?url=...
func (h *ImageHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	data, contentType, err := h.fetcher.Fetch(r.Context(), rawURL)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "IMAGE_FETCH_FAILED",
			Message:  "画像の取得に失敗しました。",
			Category: "remote",
		})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
