// Package bili はbilibili APIのクライアントを提供する。
// シリーズ/合集のメタ情報取得、最新動画リストの取得、
// 指数バックオフ付きリトライを含む。状態は持たない。
package bili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/bilitrack/internal/model"
)

const (
	// defaultBaseURL はbilibili APIのベースURL。
	defaultBaseURL = "https://api.bilibili.com"
	// spaceBaseURL はリファラ生成に使う投稿者ページのベースURL。
	// 汎用リファラはプロバイダ側で拒否されるため、mid入りのリファラが必須。
	spaceBaseURL = "https://space.bilibili.com"
	// userAgent は実ブラウザ相当のUser-Agent。これもプロトコル上の必須要件。
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// maxAttempts は1リクエストあたりの最大試行回数。
	maxAttempts = 3
	// infoTimeout はメタ情報取得のHTTPタイムアウト。
	infoTimeout = 10 * time.Second
	// bulkTimeout は動画リスト取得のHTTPタイムアウト。
	bulkTimeout = 15 * time.Second
)

// StatusRecorder はリモート呼び出しのメトリクス記録のインターフェース。
type StatusRecorder interface {
	RecordRemoteStatus(statusCode int)
	RecordRemoteRetry()
}

// Client はbilibili APIのクライアント。
// baseURLとsleepはテスト用に差し替え可能。
type Client struct {
	infoClient *http.Client
	bulkClient *http.Client
	logger     *slog.Logger
	metrics    StatusRecorder
	baseURL    string
	sleep      func(time.Duration)
}

// NewClient はデフォルトのタイムアウトでClientを生成する。
// metricsはnilでもよい。
func NewClient(logger *slog.Logger, metrics StatusRecorder) *Client {
	return NewClientWithTimeouts(logger, metrics, infoTimeout, bulkTimeout)
}

// NewClientWithTimeouts はタイムアウトを指定してClientを生成する。
// 0以下の値にはデフォルトのタイムアウトを適用する。
func NewClientWithTimeouts(logger *slog.Logger, metrics StatusRecorder, info, bulk time.Duration) *Client {
	if info <= 0 {
		info = infoTimeout
	}
	if bulk <= 0 {
		bulk = bulkTimeout
	}
	return &Client{
		infoClient: &http.Client{Timeout: info},
		bulkClient: &http.Client{Timeout: bulk},
		logger:     logger,
		metrics:    metrics,
		baseURL:    defaultBaseURL,
		sleep:      time.Sleep,
	}
}

// envelope はbilibili APIの共通レスポンス形式。
// codeが0以外の値はすべて「データなし」として扱う。
type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

// archive はAPIレスポンス中の動画オブジェクト。
type archive struct {
	Aid     int64  `json:"aid"`
	Title   string `json:"title"`
	Pubdate int64  `json:"pubdate"`
	Pic     string `json:"pic"` // カバーはpicフィールドで返る（coverではない）
}

// backoffDelay はリトライ前の待機時間を返す。1秒、2秒、4秒と2倍ずつ増える。
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// get はGETリクエストを送信し、共通レスポンスをデコードして返す。
// 200以外の応答とネットワークエラーは指数バックオフでリトライし、
// 上限まで失敗した場合はリクエストURLを保持するRemoteErrorを返す。
// すべてのリクエストにmid入りリファラと実ブラウザ相当のUAを付与する。
func (c *Client) get(ctx context.Context, httpClient *http.Client, reqURL, mid string) (*envelope, error) {
	referer := fmt.Sprintf("%s/%s", spaceBaseURL, mid)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Origin", spaceBaseURL)
		req.Header.Set("Referer", referer)

		resp, err := httpClient.Do(req)
		if err != nil {
			c.logger.Error("APIリクエストに失敗しました",
				slog.String("url", reqURL),
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", maxAttempts),
				slog.String("error", err.Error()),
			)
		} else {
			status := resp.StatusCode
			if c.metrics != nil {
				c.metrics.RecordRemoteStatus(status)
			}

			if status == http.StatusOK {
				var env envelope
				decodeErr := json.NewDecoder(resp.Body).Decode(&env)
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if decodeErr != nil {
					return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", decodeErr)
				}
				return &env, nil
			}

			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.logger.Error("APIが200以外のステータスを返しました",
				slog.String("url", reqURL),
				slog.Int("http_status", status),
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", maxAttempts),
			)
		}

		// 最終試行の後はバックオフせずに失敗を確定する
		if attempt < maxAttempts-1 {
			if c.metrics != nil {
				c.metrics.RecordRemoteRetry()
			}
			c.sleep(backoffDelay(attempt))
		}
	}

	c.logger.Error("APIリクエストがリトライ上限まで失敗しました",
		slog.String("url", reqURL),
		slog.Int("max_attempts", maxAttempts),
	)
	return nil, model.NewRemoteError(reqURL, fmt.Sprintf("APIリクエストが%d回失敗しました", maxAttempts))
}

// GetInfo は監視対象のメタ情報を取得し、種別ごとのペイロードを
// CollectionInfoに正規化して返す。
// リトライ上限まで失敗した場合はRemoteError、APIが「データなし」を
// 返した場合は (nil, nil) を返す。
func (c *Client) GetInfo(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
	if !model.ValidKind(kind) {
		return nil, model.NewValidationError("無効な監視種別です: %s", kind)
	}

	switch kind {
	case model.KindSeries:
		return c.getSeriesInfo(ctx, remoteID, mid)
	default:
		return c.getSeasonInfo(ctx, remoteID, mid)
	}
}

// getSeriesInfo はシリーズAPIからメタ情報を取得する。
func (c *Client) getSeriesInfo(ctx context.Context, remoteID, mid string) (*model.CollectionInfo, error) {
	reqURL := fmt.Sprintf("%s/x/series/series?series_id=%s", c.baseURL, url.QueryEscape(remoteID))

	env, err := c.get(ctx, c.infoClient, reqURL, mid)
	if err != nil {
		return nil, err
	}
	if env.Code != 0 || len(env.Data) == 0 {
		c.logger.Info("シリーズ情報を取得できませんでした",
			slog.String("series_id", remoteID),
			slog.Int("code", env.Code),
		)
		return nil, nil
	}

	var payload struct {
		Meta *struct {
			Name         string `json:"name"`
			Description  string `json:"description"`
			Total        int    `json:"total"`
			Cover        string `json:"cover"`
			LastUpdateTS int64  `json:"last_update_ts"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("シリーズ情報のパースに失敗しました: %w", err)
	}
	if payload.Meta == nil {
		return nil, nil
	}

	return &model.CollectionInfo{
		Name:        stripCategoryPrefix(payload.Meta.Name),
		Description: payload.Meta.Description,
		Total:       payload.Meta.Total,
		Cover:       payload.Meta.Cover,
		LastUpdate:  payload.Meta.LastUpdateTS,
	}, nil
}

// getSeasonInfo は合集APIからメタ情報を取得する。
// 最終更新時刻はメタに含まれないため、先頭ページのarchivesの
// pubdate最大値を採用する（取得できない場合は0）。
func (c *Client) getSeasonInfo(ctx context.Context, remoteID, mid string) (*model.CollectionInfo, error) {
	reqURL := fmt.Sprintf(
		"%s/x/polymer/web-space/seasons_archives_list?mid=%s&season_id=%s&sort_reverse=false&page_size=1&page_num=1",
		c.baseURL, url.QueryEscape(mid), url.QueryEscape(remoteID),
	)

	env, err := c.get(ctx, c.infoClient, reqURL, mid)
	if err != nil {
		return nil, err
	}
	if env.Code != 0 || len(env.Data) == 0 {
		c.logger.Info("合集情報を取得できませんでした",
			slog.String("season_id", remoteID),
			slog.Int("code", env.Code),
		)
		return nil, nil
	}

	var payload struct {
		Meta *struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Total       int    `json:"total"`
			Cover       string `json:"cover"`
		} `json:"meta"`
		Archives []archive `json:"archives"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("合集情報のパースに失敗しました: %w", err)
	}
	if payload.Meta == nil {
		return nil, nil
	}

	var lastUpdate int64
	for _, a := range payload.Archives {
		if a.Pubdate > lastUpdate {
			lastUpdate = a.Pubdate
		}
	}

	return &model.CollectionInfo{
		Name:        stripCategoryPrefix(payload.Meta.Name),
		Description: payload.Meta.Description,
		Total:       payload.Meta.Total,
		Cover:       payload.Meta.Cover,
		LastUpdate:  lastUpdate,
	}, nil
}

// GetLatestVideos は監視対象の最新動画を新しい順でcount件取得する。
// idのないエントリはスキップし（プロバイダのペイロードは完全とは限らない）、
// idは10進文字列に正規化する。データがない場合は空スライスを返す。
func (c *Client) GetLatestVideos(ctx context.Context, kind model.MonitorKind, remoteID, mid string, count int) ([]model.Video, error) {
	if !model.ValidKind(kind) {
		return nil, model.NewValidationError("無効な監視種別です: %s", kind)
	}

	var reqURL string
	switch kind {
	case model.KindSeason:
		reqURL = fmt.Sprintf(
			"%s/x/polymer/web-space/seasons_archives_list?mid=%s&season_id=%s&sort_reverse=true&page_size=%d&page_num=1",
			c.baseURL, url.QueryEscape(mid), url.QueryEscape(remoteID), count,
		)
	default:
		reqURL = fmt.Sprintf(
			"%s/x/polymer/web-space/home/seasons_series?mid=%s&series_id=%s&sort_reverse=true&page_size=%d&page_num=1",
			c.baseURL, url.QueryEscape(mid), url.QueryEscape(remoteID), count,
		)
	}

	env, err := c.get(ctx, c.bulkClient, reqURL, mid)
	if err != nil {
		return nil, err
	}
	if env.Code != 0 || len(env.Data) == 0 {
		c.logger.Info("最新動画を取得できませんでした",
			slog.String("kind", string(kind)),
			slog.String("remote_id", remoteID),
			slog.Int("code", env.Code),
		)
		return []model.Video{}, nil
	}

	var payload struct {
		Archives []archive `json:"archives"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("動画リストのパースに失敗しました: %w", err)
	}

	videos := make([]model.Video, 0, len(payload.Archives))
	for _, a := range payload.Archives {
		if a.Aid == 0 {
			c.logger.Warn("動画IDのないエントリをスキップします",
				slog.String("remote_id", remoteID),
				slog.String("title", a.Title),
			)
			continue
		}
		title := a.Title
		if title == "" {
			title = "無題の動画"
		}
		videos = append(videos, model.Video{
			VideoID:     strconv.FormatInt(a.Aid, 10),
			Title:       title,
			PublishTime: a.Pubdate,
			Cover:       a.Pic,
		})
	}

	return videos, nil
}

// stripCategoryPrefix はリモート側タイトルの「合集·」カテゴリ接頭辞を除去する。
// 接頭辞の直後に空白が入る変種にも対応する。
func stripCategoryPrefix(name string) string {
	name = strings.ReplaceAll(name, "合集· ", "")
	return strings.ReplaceAll(name, "合集·", "")
}
