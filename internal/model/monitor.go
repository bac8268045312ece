// Package model はドメインモデルを定義する。
package model

// MonitorKind は監視対象の種別を表す。
// bilibiliの「シリーズ」と「合集（シーズン）」の2種類のみをサポートする。
type MonitorKind string

const (
	// KindSeries はシリーズ（series API）を示す。
	KindSeries MonitorKind = "series"
	// KindSeason は合集（seasons_archives_list API）を示す。
	KindSeason MonitorKind = "season"
)

// ValidKind はサポートされている監視種別かどうかを返す。
func ValidKind(kind MonitorKind) bool {
	return kind == KindSeries || kind == KindSeason
}

// Monitor は監視対象の合集/シリーズを表す。
// (RemoteID, Kind) の組は未削除の監視対象の中で一意である。
type Monitor struct {
	ID          int64
	Mid         string // 投稿者のユーザーID（リファラ生成にも使用する）
	RemoteID    string // リモート側の合集/シリーズID
	Kind        MonitorKind
	Name        string
	Description string
	Cover       string
	TotalCount  int   // 前回確認時の動画総数
	LastCheckTS int64 // 最終確認時刻（エポック秒）
	IsActive    bool
	Archived    bool
}

// VideoUpdate は検出された新着動画1件の更新記録を表す。
// VideoID は全記録を通して一意（プロバイダはIDを再利用しない）。
type VideoUpdate struct {
	ID          int64
	MonitorID   int64
	VideoID     string
	Title       string
	PublishTime int64 // 公開時刻（エポック秒）
	Cover       string
}

// VideoUpdateWithMonitor は更新記録に監視対象名を結合した読み取り用の形。
type VideoUpdateWithMonitor struct {
	VideoUpdate
	MonitorName string
}

// CollectionInfo はリモートAPIの2種類のペイロードを正規化した合集情報。
type CollectionInfo struct {
	Name        string
	Description string
	Total       int
	Cover       string
	LastUpdate  int64 // 最終更新時刻（エポック秒、取得できない場合は0）
}

// Video はリモートAPIのarchiveオブジェクトを正規化した動画情報。
type Video struct {
	VideoID     string
	Title       string
	PublishTime int64
	Cover       string
}

// UpdateStats は更新記録の公開時刻列から導出する更新間隔統計。
// 永続化せず、要求の都度計算する。
type UpdateStats struct {
	// AverageIntervalDays は隣接する公開時刻の平均間隔（日、小数2桁）。
	// サンプルが2件未満の場合はnil。
	AverageIntervalDays *float64 `json:"average_interval_days"`
	// NextUpdatePrediction は次回更新の予測時刻（エポック秒）。
	// サンプルが2件未満の場合はnil。
	NextUpdatePrediction *int64 `json:"next_update_prediction"`
	// TotalVideos は統計対象の動画数。
	TotalVideos int `json:"total_videos"`
	// LastUpdateTime は最新の公開時刻。記録がない場合はnil。
	LastUpdateTime *int64 `json:"last_update_time"`
	// IntervalsCount は平均の算出に使った間隔の数。
	IntervalsCount int `json:"intervals_count"`
}
