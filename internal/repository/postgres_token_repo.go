package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresTokenRepo はPostgreSQLを使用したアクセストークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// GetHash は保存済みのトークンハッシュを取得する。未設定の場合は空文字列を返す。
func (r *PostgresTokenRepo) GetHash(ctx context.Context) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `SELECT token_hash FROM auth_token WHERE id = 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("トークンハッシュの取得に失敗しました: %w", err)
	}
	return hash, nil
}

// SetHash はトークンハッシュを保存する（1行のみ保持する）。
func (r *PostgresTokenRepo) SetHash(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_token (id, token_hash, updated_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET token_hash = EXCLUDED.token_hash, updated_at = now()`,
		hash,
	)
	if err != nil {
		return fmt.Errorf("トークンハッシュの保存に失敗しました: %w", err)
	}
	return nil
}
