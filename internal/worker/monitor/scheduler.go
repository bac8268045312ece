// Package monitor は監視対象の巡回と更新検出のバックグラウンド処理を提供する。
// スケジューラ、差分検出、通知メールの組み立てを含む。
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/bilitrack/internal/metrics"
	"github.com/hitoshi/bilitrack/internal/model"
	"github.com/hitoshi/bilitrack/internal/notifier"
	"github.com/hitoshi/bilitrack/internal/repository"
	"github.com/hitoshi/bilitrack/internal/settings"
)

// BiliClient はリモートAPIクライアントのインターフェース。
type BiliClient interface {
	// GetInfo は監視対象のメタ情報を取得する。データがない場合は (nil, nil) を返す。
	GetInfo(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error)

	// GetLatestVideos は最新動画を新しい順でcount件取得する。
	GetLatestVideos(ctx context.Context, kind model.MonitorKind, remoteID, mid string, count int) ([]model.Video, error)
}

// MailSender は通知メール送信のインターフェース。
type MailSender interface {
	// Send は通知メールを送信し、実際に送信できた場合のみtrueを返す。
	Send(cfg notifier.Config, subject, htmlBody string) bool
}

// CacheInvalidator はカバー画像キャッシュの無効化インターフェース。
type CacheInvalidator interface {
	Invalidate(url string)
}

// TitleSanitizer はメール本文に埋め込むタイトルのサニタイズインターフェース。
type TitleSanitizer interface {
	Sanitize(raw string) string
}

// taskKind はアドホックタスクの種別。
type taskKind int

const (
	taskFullPass taskKind = iota
	taskSingleCheck
)

// task はスケジューラのタスクキューに積まれるアドホック処理。
type task struct {
	kind      taskKind
	monitorID int64
}

// nextCheckTimeLayout は画面表示用の次回確認時刻の形式。
const nextCheckTimeLayout = "2006-01-02 15:04:05"

// checkingMarker は巡回実行中であることを示す表示値。
const checkingMarker = "実行中..."

// Scheduler は監視対象の定期巡回とアドホック確認を直列に実行する。
// 巡回処理はすべて単一のゴルーチンで実行されるため、
// 定期巡回と手動実行が重なっても並走しない。
// 設定は判断のたびにストアから読み直すため、変更は再起動なしで反映される。
type Scheduler struct {
	monitorRepo  repository.MonitorRepository
	updateRepo   repository.UpdateRepository
	settingsRepo repository.SettingsRepository
	client       BiliClient
	mailer       MailSender
	cache        CacheInvalidator
	sanitizer    TitleSanitizer
	metrics      metrics.MetricsCollector
	logger       *slog.Logger

	tasks  chan task
	reload chan struct{}

	// nowとsleepはテスト用に差し替え可能。
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	monitorRepo repository.MonitorRepository,
	updateRepo repository.UpdateRepository,
	settingsRepo repository.SettingsRepository,
	client BiliClient,
	mailer MailSender,
	cache CacheInvalidator,
	sanitizer TitleSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		monitorRepo:  monitorRepo,
		updateRepo:   updateRepo,
		settingsRepo: settingsRepo,
		client:       client,
		mailer:       mailer,
		cache:        cache,
		sanitizer:    sanitizer,
		metrics:      collector,
		logger:       logger,
		tasks:        make(chan task, 16),
		reload:       make(chan struct{}, 1),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Run はスケジューラのメインループを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
// 定期タイマーは設定の再読込と定期巡回の完了時にだけ張り直す。
// アドホックタスクの処理中もタイマーは走り続けるため、
// 手動実行や単発確認が続いても定期巡回の予定はずれない。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("監視スケジューラを開始しました")

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	var tick <-chan time.Time
	var next time.Time

	// arm は設定を読み直して定期タイマーを張り直し、次回確認時刻を公開する。
	arm := func() {
		if tick != nil && !timer.Stop() {
			<-timer.C
		}
		tick = nil
		next = time.Time{}

		snap := s.snapshot(ctx)
		if snap.MonitorActive() {
			interval := snap.GlobalCooldown()
			timer.Reset(interval)
			tick = timer.C
			next = s.now().Add(interval)
		}
		s.publishNextCheckTime(ctx, next)
	}

	arm()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("監視スケジューラを停止しました")
			return
		case <-s.reload:
			arm()
		case t := <-s.tasks:
			s.handleTask(ctx, t)
			if t.kind == taskFullPass {
				// 手動巡回は実行中マーカーを書くので、スケジュールは変えずに表示だけ戻す
				s.publishNextCheckTime(ctx, next)
			}
		case <-tick:
			tick = nil
			s.runPass(ctx)
			arm()
		}
	}
}

// Reload はスケジューラに設定の再読込を促す。
// すでに再読込が保留中の場合は何もしない。ブロックしない。
func (s *Scheduler) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Enable は全体の監視スイッチを有効化し、スケジューラに反映させる。
func (s *Scheduler) Enable(ctx context.Context) error {
	if err := s.settingsRepo.Update(ctx, map[string]string{settings.KeyMonitorActive: "1"}); err != nil {
		return err
	}
	s.Reload()
	return nil
}

// Disable は全体の監視スイッチを無効化し、スケジューラに反映させる。
func (s *Scheduler) Disable(ctx context.Context) error {
	if err := s.settingsRepo.Update(ctx, map[string]string{settings.KeyMonitorActive: "0"}); err != nil {
		return err
	}
	s.Reload()
	return nil
}

// RunOnce は全監視対象の巡回を1回だけ要求する。
// 監視スイッチの状態にかかわらず実行される。キューが満杯の場合はfalseを返す。
func (s *Scheduler) RunOnce() bool {
	return s.enqueue(task{kind: taskFullPass})
}

// CheckSingle は指定監視対象の確認を1回だけ要求する。
// キューが満杯の場合はfalseを返す。
func (s *Scheduler) CheckSingle(monitorID int64) bool {
	return s.enqueue(task{kind: taskSingleCheck, monitorID: monitorID})
}

func (s *Scheduler) enqueue(t task) bool {
	select {
	case s.tasks <- t:
		return true
	default:
		s.logger.Warn("タスクキューが満杯のため要求を破棄しました",
			slog.Int("kind", int(t.kind)),
			slog.Int64("monitor_id", t.monitorID),
		)
		return false
	}
}

func (s *Scheduler) handleTask(ctx context.Context, t task) {
	switch t.kind {
	case taskFullPass:
		s.runPass(ctx)
	case taskSingleCheck:
		s.checkSingle(ctx, t.monitorID)
	}
}

// snapshot は設定ストアから最新の設定を読み込む。
// 読み込みに失敗した場合はデフォルト値のみのSnapshotを返す。
func (s *Scheduler) snapshot(ctx context.Context) *settings.Snapshot {
	raw, err := s.settingsRepo.GetAll(ctx)
	if err != nil {
		s.logger.Error("設定の読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
		return settings.NewSnapshot(nil)
	}
	return settings.NewSnapshot(raw)
}

// publishNextCheckTime は画面表示用の次回確認時刻を設定ストアに書き込む。
// ゼロ値のときは未スケジュールを示す値を書く。
func (s *Scheduler) publishNextCheckTime(ctx context.Context, at time.Time) {
	value := "未スケジュール"
	if !at.IsZero() {
		value = at.Format(nextCheckTimeLayout)
	}
	if err := s.settingsRepo.Update(ctx, map[string]string{settings.KeyNextCheckTime: value}); err != nil {
		s.logger.Warn("次回確認時刻の更新に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// sleepCtx はdだけ待機する。コンテキストがキャンセルされた場合はfalseを返す。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
