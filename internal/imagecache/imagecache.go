// Package imagecache はカバー画像のディスクキャッシュを提供する。
// カバーURLはリモートAPIのペイロード由来のため、取得にはSSRF防止付きの
// HTTPクライアントを使用し、事前にURL検証も行う。
package imagecache

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Doer はHTTPリクエストを実行するインターフェース。
// 本番ではSSRF防止付きクライアント、テストではhttptestのクライアントを渡す。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// URLValidator は取得前のURL検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Cache はカバー画像のディスクキャッシュ。
// ファイル名はURLのMD5ハッシュから導出するため、同一URLは常に同一ファイルになる。
type Cache struct {
	dir       string
	client    Doer
	validator URLValidator
	logger    *slog.Logger
	maxSize   int64
}

// New はCacheを生成する。ディレクトリが存在しない場合は作成する。
func New(dir string, client Doer, validator URLValidator, logger *slog.Logger, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("キャッシュディレクトリの作成に失敗しました: %w", err)
	}
	return &Cache{
		dir:       dir,
		client:    client,
		validator: validator,
		logger:    logger,
		maxSize:   maxSize,
	}, nil
}

// extToMIME は拡張子とMIMEタイプの対応。未知の拡張子はjpegとして扱う。
var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

// cachePath はURLに対応するキャッシュファイルのパスとMIMEタイプを返す。
func (c *Cache) cachePath(rawURL string) (string, string) {
	ext := ".jpg"
	if u, err := url.Parse(rawURL); err == nil {
		if e := strings.ToLower(filepath.Ext(u.Path)); e != "" {
			if _, ok := extToMIME[e]; ok {
				ext = e
			}
		}
	}
	name := fmt.Sprintf("%x%s", md5.Sum([]byte(rawURL)), ext)
	return filepath.Join(c.dir, name), extToMIME[ext]
}

// Fetch はカバー画像を取得して返す。キャッシュにあればディスクから読み、
// なければリモートから取得してキャッシュに保存する。
func (c *Cache) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := c.validator.ValidateURL(rawURL); err != nil {
		return nil, "", fmt.Errorf("カバーURLの検証に失敗しました: %w", err)
	}

	path, mime := c.cachePath(rawURL)

	if data, err := os.ReadFile(path); err == nil {
		return data, mime, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("画像リクエストの作成に失敗しました: %w", err)
	}
	// bilibiliの画像CDNはリファラなしのリクエストを拒否することがある
	req.Header.Set("Referer", "https://www.bilibili.com/")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("画像の取得が%dを返しました: %s", resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("画像の読み取りに失敗しました: %w", err)
	}
	if int64(len(data)) > c.maxSize {
		return nil, "", fmt.Errorf("画像がサイズ上限(%dバイト)を超えています: %s", c.maxSize, rawURL)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		// キャッシュへの保存失敗は取得自体の失敗にはしない
		c.logger.Warn("画像キャッシュの保存に失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
	}

	return data, mime, nil
}

// Invalidate はURLに対応するキャッシュファイルを削除する。
// ファイルが存在しない場合は何もしない。
func (c *Cache) Invalidate(rawURL string) {
	if rawURL == "" {
		return
	}
	path, _ := c.cachePath(rawURL)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("画像キャッシュの削除に失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
	}
}
