// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/bilitrack/internal/model"
)

// SettingsRepository は設定ストア（key/value）の永続化インターフェース。
type SettingsRepository interface {
	// GetAll は全設定をマップとして取得する。
	GetAll(ctx context.Context) (map[string]string, error)

	// Update は複数の設定キーをまとめて更新する。存在しないキーは挿入する。
	Update(ctx context.Context, values map[string]string) error

	// EnsureDefaults は欠損している設定キーをデフォルト値で補完する。
	// 既存の値は上書きしない。
	EnsureDefaults(ctx context.Context, defaults map[string]string) error
}

// MonitorRepository は監視対象の永続化インターフェース。
type MonitorRepository interface {
	// Create は監視対象を作成し、採番されたIDを返す。
	// (remote_id, kind) が重複している場合はok=falseを返す。
	Create(ctx context.Context, m *model.Monitor) (id int64, ok bool, err error)

	// FindByID は指定IDの監視対象を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Monitor, error)

	// ListActive は有効かつ非アーカイブの監視対象を取得する。
	ListActive(ctx context.Context) ([]*model.Monitor, error)

	// ListAll は非アーカイブの監視対象をすべて取得する。
	ListAll(ctx context.Context) ([]*model.Monitor, error)

	// ListArchived はアーカイブ済みの監視対象をすべて取得する。
	ListArchived(ctx context.Context) ([]*model.Monitor, error)

	// UpdateStatus は動画総数と最終確認時刻をまとめて更新する。
	UpdateStatus(ctx context.Context, id int64, totalCount int, checkedAt int64) error

	// UpdateLastChecked は最終確認時刻のみ更新する。
	UpdateLastChecked(ctx context.Context, id int64, checkedAt int64) error

	// UpdateActive は有効/無効を切り替える。
	UpdateActive(ctx context.Context, id int64, active bool) error

	// UpdateArchived はアーカイブ状態を切り替える。
	UpdateArchived(ctx context.Context, id int64, archived bool) error

	// Delete は監視対象を削除する。関連する更新記録はCASCADE削除される。
	Delete(ctx context.Context, id int64) error
}

// UpdateRepository は更新記録の永続化インターフェース。
type UpdateRepository interface {
	// Append は更新記録を追記する。video_idが既存の場合はok=falseを返し、
	// エラーにはしない（重複は正常系として扱う）。
	Append(ctx context.Context, u *model.VideoUpdate) (ok bool, err error)

	// PurgeExcess は保存上限を超えた古い記録を削除し、
	// 削除した記録のカバーURLを返す（キャッシュ無効化に使う）。
	PurgeExcess(ctx context.Context, limit int) ([]string, error)

	// ListRecent は新しい順にlimit件の更新記録を監視対象名付きで取得する。
	ListRecent(ctx context.Context, limit int) ([]*model.VideoUpdateWithMonitor, error)

	// ListPublishTimes は指定監視対象の公開時刻を新しい順に取得する。
	ListPublishTimes(ctx context.Context, monitorID int64) ([]int64, error)

	// ListPublishTimesBatch は複数の監視対象の公開時刻を1クエリでまとめて取得する。
	// 記録のない監視対象は結果に空スライスで含まれる。
	ListPublishTimesBatch(ctx context.Context, monitorIDs []int64) (map[int64][]int64, error)
}

// TokenRepository はアクセストークンの永続化インターフェース。
type TokenRepository interface {
	// GetHash は保存済みのトークンハッシュを取得する。未設定の場合は空文字列を返す。
	GetHash(ctx context.Context) (string, error)

	// SetHash はトークンハッシュを保存する（1行のみ保持する）。
	SetHash(ctx context.Context, hash string) error
}
