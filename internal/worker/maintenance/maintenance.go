// Package maintenance はログファイルの日次整理ジョブを提供する。
// ログのローテーションと保持期限切れバックアップの削除を、
// 毎日深夜0時に実行する。
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/bilitrack/internal/repository"
	"github.com/hitoshi/bilitrack/internal/settings"
)

// LogRotator はログのローテーションとバックアップ整理のインターフェース。
type LogRotator interface {
	Rotate() error
	CleanBackups(retentionDays int) (int, error)
}

// Job はログ整理の日次ジョブ。
// 実行のたびに設定を読み直すため、自動整理スイッチや保持日数の変更は
// 次回実行から反映される。
type Job struct {
	settingsRepo repository.SettingsRepository
	rotator      LogRotator
	logger       *slog.Logger

	// nowはテスト用に差し替え可能。
	now func() time.Time
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(settingsRepo repository.SettingsRepository, rotator LogRotator, logger *slog.Logger) *Job {
	return &Job{
		settingsRepo: settingsRepo,
		rotator:      rotator,
		logger:       logger,
		now:          time.Now,
	}
}

// Start は深夜0時ごとにジョブを実行するループを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	j.logger.Info("ログ整理ジョブを開始しました")

	for {
		wait := j.untilNextMidnight()
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info("ログ整理ジョブを停止しました")
			return
		case <-timer.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("ログ整理ジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// untilNextMidnight は次の深夜0時までの待機時間を返す。
func (j *Job) untilNextMidnight() time.Duration {
	now := j.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}

// Run はログ整理を1回実行する。
// 自動整理スイッチが無効な場合は何もしない。冪等。
func (j *Job) Run(ctx context.Context) error {
	raw, err := j.settingsRepo.GetAll(ctx)
	if err != nil {
		return err
	}
	snap := settings.NewSnapshot(raw)

	if !snap.LogAutoClean() {
		j.logger.Info("ログ自動整理が無効のためスキップします")
		return nil
	}

	if err := j.rotator.Rotate(); err != nil {
		return err
	}

	removed, err := j.rotator.CleanBackups(snap.LogRetentionDays())
	if err != nil {
		return err
	}

	j.logger.Info("ログ整理ジョブが完了しました",
		slog.Int("removed_backups", removed),
		slog.Int("retention_days", snap.LogRetentionDays()),
	)
	return nil
}
