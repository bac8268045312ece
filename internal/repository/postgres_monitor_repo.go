package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/bilitrack/internal/model"
)

// uniqueViolation はPostgreSQLのunique_violationエラーコード。
const uniqueViolation = pq.ErrorCode("23505")

// isUniqueViolation はユニーク制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresMonitorRepo はPostgreSQLを使用した監視対象リポジトリ。
type PostgresMonitorRepo struct {
	db *sql.DB
}

// NewPostgresMonitorRepo はPostgresMonitorRepoを生成する。
func NewPostgresMonitorRepo(db *sql.DB) *PostgresMonitorRepo {
	return &PostgresMonitorRepo{db: db}
}

// Create は監視対象を作成し、採番されたIDを返す。
// (remote_id, kind) が重複している場合はok=falseを返す。
func (r *PostgresMonitorRepo) Create(ctx context.Context, m *model.Monitor) (int64, bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO monitor_list (mid, remote_id, kind, name, description, cover,
		                           total_count, last_check_ts, is_active, archived)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		m.Mid, m.RemoteID, string(m.Kind), m.Name, m.Description, m.Cover,
		m.TotalCount, m.LastCheckTS, m.IsActive, m.Archived,
	).Scan(&id)

	if isUniqueViolation(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("監視対象の作成に失敗しました: %w", err)
	}

	return id, true, nil
}

const monitorColumns = `id, mid, remote_id, kind, name, description, cover,
       total_count, last_check_ts, is_active, archived`

// scanMonitor は1行を読み取ってMonitorを組み立てる。
func scanMonitor(scan func(dest ...any) error) (*model.Monitor, error) {
	m := &model.Monitor{}
	var kind string
	err := scan(
		&m.ID, &m.Mid, &m.RemoteID, &kind, &m.Name, &m.Description, &m.Cover,
		&m.TotalCount, &m.LastCheckTS, &m.IsActive, &m.Archived,
	)
	if err != nil {
		return nil, err
	}
	m.Kind = model.MonitorKind(kind)
	return m, nil
}

// FindByID は指定IDの監視対象を取得する。見つからない場合はnilを返す。
func (r *PostgresMonitorRepo) FindByID(ctx context.Context, id int64) (*model.Monitor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+monitorColumns+` FROM monitor_list WHERE id = $1`, id)

	m, err := scanMonitor(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("監視対象の取得に失敗しました: %w", err)
	}
	return m, nil
}

// ListActive は有効かつ非アーカイブの監視対象を取得する。
func (r *PostgresMonitorRepo) ListActive(ctx context.Context) ([]*model.Monitor, error) {
	return r.list(ctx,
		`SELECT `+monitorColumns+` FROM monitor_list
		 WHERE is_active = true AND archived = false ORDER BY id DESC`)
}

// ListAll は非アーカイブの監視対象をすべて取得する。
func (r *PostgresMonitorRepo) ListAll(ctx context.Context) ([]*model.Monitor, error) {
	return r.list(ctx,
		`SELECT `+monitorColumns+` FROM monitor_list
		 WHERE archived = false ORDER BY id DESC`)
}

// ListArchived はアーカイブ済みの監視対象をすべて取得する。
func (r *PostgresMonitorRepo) ListArchived(ctx context.Context) ([]*model.Monitor, error) {
	return r.list(ctx,
		`SELECT `+monitorColumns+` FROM monitor_list
		 WHERE archived = true ORDER BY id DESC`)
}

func (r *PostgresMonitorRepo) list(ctx context.Context, query string) ([]*model.Monitor, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("監視対象リストの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var monitors []*model.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("監視対象のスキャンに失敗しました: %w", err)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監視対象リストの読み取り中にエラーが発生しました: %w", err)
	}

	return monitors, nil
}

// UpdateStatus は動画総数と最終確認時刻をまとめて更新する。
func (r *PostgresMonitorRepo) UpdateStatus(ctx context.Context, id int64, totalCount int, checkedAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE monitor_list SET total_count = $2, last_check_ts = $3, updated_at = now()
		 WHERE id = $1`,
		id, totalCount, checkedAt,
	)
	if err != nil {
		return fmt.Errorf("監視対象の状態更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateLastChecked は最終確認時刻のみ更新する。
func (r *PostgresMonitorRepo) UpdateLastChecked(ctx context.Context, id int64, checkedAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE monitor_list SET last_check_ts = $2, updated_at = now() WHERE id = $1`,
		id, checkedAt,
	)
	if err != nil {
		return fmt.Errorf("最終確認時刻の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateActive は有効/無効を切り替える。
func (r *PostgresMonitorRepo) UpdateActive(ctx context.Context, id int64, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE monitor_list SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("有効状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateArchived はアーカイブ状態を切り替える。
// アーカイブ時は監視も無効化する。復元しても無効のままで、再有効化は明示的に行う。
func (r *PostgresMonitorRepo) UpdateArchived(ctx context.Context, id int64, archived bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE monitor_list
		 SET archived = $2,
		     is_active = CASE WHEN $2 THEN false ELSE is_active END,
		     updated_at = now()
		 WHERE id = $1`,
		id, archived,
	)
	if err != nil {
		return fmt.Errorf("アーカイブ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は監視対象を削除する。関連する更新記録はCASCADE削除される。
func (r *PostgresMonitorRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM monitor_list WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("監視対象の削除に失敗しました: %w", err)
	}
	return nil
}
