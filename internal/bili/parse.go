package bili

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/hitoshi/bilitrack/internal/model"
)

// midPattern はパス構造が崩れたURLから投稿者IDを拾うためのフォールバック。
var midPattern = regexp.MustCompile(`space\.bilibili\.com/(\d+)`)

// ParseListURL は監視対象リストのURLから投稿者ID、リストID、種別を抽出する。
// 正規の形式は https://space.bilibili.com/<mid>/lists/<id>?type=series|season で、
// パス構造が崩れている場合も投稿者IDだけはホスト部の直後から拾う。
// 必要な要素が欠けている場合はValidationErrorを返す。
func ParseListURL(raw string) (mid, remoteID string, kind model.MonitorKind, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", "", model.NewValidationError("URLが指定されていません")
	}

	u, parseErr := url.Parse(raw)
	if parseErr != nil {
		return "", "", "", model.NewValidationError("URLの形式が不正です: %s", raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 3 && parts[1] == "lists" {
		mid = parts[0]
		remoteID = parts[2]
	} else if m := midPattern.FindStringSubmatch(raw); m != nil {
		mid = m[1]
	}

	kind = model.MonitorKind(u.Query().Get("type"))

	if mid == "" || remoteID == "" {
		return "", "", "", model.NewValidationError("URLから投稿者IDとリストIDを抽出できませんでした: %s", raw)
	}
	if !model.ValidKind(kind) {
		return "", "", "", model.NewValidationError("URLのtypeパラメータはseriesまたはseasonである必要があります: %s", raw)
	}

	return mid, remoteID, kind, nil
}
