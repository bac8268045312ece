package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/bilitrack/internal/model"
)

// PostgresUpdateRepo はPostgreSQLを使用した更新記録リポジトリ。
type PostgresUpdateRepo struct {
	db *sql.DB
}

// NewPostgresUpdateRepo はPostgresUpdateRepoを生成する。
func NewPostgresUpdateRepo(db *sql.DB) *PostgresUpdateRepo {
	return &PostgresUpdateRepo{db: db}
}

// Append は更新記録を追記する。video_idが既存の場合はok=falseを返し、
// エラーにはしない（重複は正常系として扱う）。
func (r *PostgresUpdateRepo) Append(ctx context.Context, u *model.VideoUpdate) (bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO video_updates (monitor_id, video_id, title, publish_time, cover)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		u.MonitorID, u.VideoID, u.Title, u.PublishTime, u.Cover,
	).Scan(&id)

	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("更新記録の追記に失敗しました: %w", err)
	}

	u.ID = id
	return true, nil
}

// PurgeExcess は公開時刻の新しいlimit件を残して古い記録を削除し、
// 削除した記録のカバーURLを返す（キャッシュ無効化に使う）。
func (r *PostgresUpdateRepo) PurgeExcess(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM video_updates
		 WHERE id NOT IN (
		     SELECT id FROM video_updates ORDER BY publish_time DESC, id DESC LIMIT $1
		 )
		 RETURNING cover`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("古い更新記録の削除に失敗しました: %w", err)
	}
	defer rows.Close()

	var covers []string
	for rows.Next() {
		var cover string
		if err := rows.Scan(&cover); err != nil {
			return nil, fmt.Errorf("削除記録のスキャンに失敗しました: %w", err)
		}
		if cover != "" {
			covers = append(covers, cover)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("削除記録の読み取り中にエラーが発生しました: %w", err)
	}

	return covers, nil
}

// ListRecent は公開時刻の新しい順にlimit件の更新記録を監視対象名付きで取得する。
func (r *PostgresUpdateRepo) ListRecent(ctx context.Context, limit int) ([]*model.VideoUpdateWithMonitor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.monitor_id, u.video_id, u.title, u.publish_time, u.cover, m.name
		 FROM video_updates u
		 JOIN monitor_list m ON m.id = u.monitor_id
		 ORDER BY u.publish_time DESC, u.id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("更新記録の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var updates []*model.VideoUpdateWithMonitor
	for rows.Next() {
		u := &model.VideoUpdateWithMonitor{}
		err := rows.Scan(&u.ID, &u.MonitorID, &u.VideoID, &u.Title, &u.PublishTime, &u.Cover, &u.MonitorName)
		if err != nil {
			return nil, fmt.Errorf("更新記録のスキャンに失敗しました: %w", err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("更新記録の読み取り中にエラーが発生しました: %w", err)
	}

	return updates, nil
}

// ListPublishTimes は指定監視対象の公開時刻を新しい順に取得する。
func (r *PostgresUpdateRepo) ListPublishTimes(ctx context.Context, monitorID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT publish_time FROM video_updates
		 WHERE monitor_id = $1 AND publish_time > 0
		 ORDER BY publish_time DESC`,
		monitorID,
	)
	if err != nil {
		return nil, fmt.Errorf("公開時刻の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var times []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("公開時刻のスキャンに失敗しました: %w", err)
		}
		times = append(times, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公開時刻の読み取り中にエラーが発生しました: %w", err)
	}

	return times, nil
}

// ListPublishTimesBatch は複数の監視対象の公開時刻を1クエリでまとめて取得する。
// 記録のない監視対象は結果に空スライスで含まれる。
func (r *PostgresUpdateRepo) ListPublishTimesBatch(ctx context.Context, monitorIDs []int64) (map[int64][]int64, error) {
	result := make(map[int64][]int64, len(monitorIDs))
	for _, id := range monitorIDs {
		result[id] = []int64{}
	}
	if len(monitorIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT monitor_id, publish_time FROM video_updates
		 WHERE monitor_id = ANY($1) AND publish_time > 0
		 ORDER BY monitor_id, publish_time DESC`,
		pq.Array(monitorIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("公開時刻の一括取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var monitorID, ts int64
		if err := rows.Scan(&monitorID, &ts); err != nil {
			return nil, fmt.Errorf("公開時刻のスキャンに失敗しました: %w", err)
		}
		result[monitorID] = append(result[monitorID], ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公開時刻の読み取り中にエラーが発生しました: %w", err)
	}

	return result, nil
}
