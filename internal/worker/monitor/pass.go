package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/bilitrack/internal/model"
	"github.com/hitoshi/bilitrack/internal/settings"
)

// runPass は全監視対象の巡回を1回実行する。
// 監視対象ごとのエラーは巡回全体を止めず、その対象をスキップして続行する。
func (s *Scheduler) runPass(ctx context.Context) {
	start := s.now()
	s.metrics.RecordPass()

	snap := s.snapshot(ctx)
	s.markChecking(ctx)

	monitors, err := s.monitorRepo.ListActive(ctx)
	if err != nil {
		s.logger.Error("監視対象リストの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	if len(monitors) == 0 {
		s.logger.Info("巡回対象の監視対象はありません")
		return
	}

	s.logger.Info("巡回を開始します",
		slog.Int("monitor_count", len(monitors)),
	)

	var summaries []*updateSummary
	checked := 0
	updated := 0

	for i, m := range monitors {
		// 監視対象ごとの確認間隔。リモートAPIへの連続リクエストを避ける。
		if i > 0 && !s.sleep(ctx, snap.ItemCooldown()) {
			break
		}

		summary, err := s.checkMonitor(ctx, snap, m)
		if err != nil {
			s.logger.Error("監視対象の確認に失敗しました",
				slog.Int64("monitor_id", m.ID),
				slog.String("name", m.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		checked++
		if summary == nil {
			continue
		}
		updated++

		if snap.BatchSend() {
			// 統一推送は巡回の最後に1通へ集約する
			summaries = append(summaries, summary)
			continue
		}
		// 個別送信は次の監視対象へ進む前に同期的に送る。
		// 巡回が途中で打ち切られても確認済みぶんの通知は失われない。
		s.notify(snap, []*updateSummary{summary})
	}

	s.metrics.RecordMonitorsChecked(checked)
	s.notify(snap, summaries)

	duration := time.Since(start)
	s.metrics.RecordPassDuration(duration)
	s.logger.Info("巡回が完了しました",
		slog.Int("monitor_count", len(monitors)),
		slog.Int("updated_count", updated),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// markChecking は巡回実行中であることを画面表示用の設定に書き込む。
func (s *Scheduler) markChecking(ctx context.Context) {
	if err := s.settingsRepo.Update(ctx, map[string]string{settings.KeyNextCheckTime: checkingMarker}); err != nil {
		s.logger.Warn("実行中マーカーの書き込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// checkMonitor は監視対象1件の更新を確認する。
// リモートの動画総数が記録値より増えている場合のみ差分を取得して記録する。
// 総数が同じか減っている場合は最終確認時刻だけ更新する（削除は追いかけない）。
func (s *Scheduler) checkMonitor(ctx context.Context, snap *settings.Snapshot, m *model.Monitor) (*updateSummary, error) {
	info, err := s.client.GetInfo(ctx, m.Kind, m.RemoteID, m.Mid)
	if err != nil {
		return nil, err
	}
	if info == nil {
		// 情報が取得できない対象はスキップするが、確認の試行自体は記録する
		s.logger.Warn("監視対象の情報が取得できないためスキップします",
			slog.Int64("monitor_id", m.ID),
			slog.String("name", m.Name),
		)
		if err := s.monitorRepo.UpdateLastChecked(ctx, m.ID, s.now().Unix()); err != nil {
			s.logger.Error("最終確認時刻の更新に失敗しました",
				slog.Int64("monitor_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, nil
	}

	if info.Total <= m.TotalCount {
		if err := s.monitorRepo.UpdateLastChecked(ctx, m.ID, s.now().Unix()); err != nil {
			return nil, err
		}
		return nil, nil
	}

	delta := info.Total - m.TotalCount
	s.logger.Info("更新を検出しました",
		slog.Int64("monitor_id", m.ID),
		slog.String("name", m.Name),
		slog.Int("recorded_total", m.TotalCount),
		slog.Int("remote_total", info.Total),
		slog.Int("delta", delta),
	)

	recorded := s.recordNewVideos(ctx, snap, m, delta)

	// 記録できた件数にかかわらず総数はリモートの値で確定させる。
	// 取りこぼした動画を次回以降に再検出し続けないため。
	if err := s.monitorRepo.UpdateStatus(ctx, m.ID, info.Total, s.now().Unix()); err != nil {
		return nil, err
	}

	s.metrics.RecordUpdatesDetected(1)

	return &updateSummary{
		monitor:  m,
		newCount: delta,
		videos:   recorded,
	}, nil
}

// recordNewVideos は差分ぶんの最新動画を取得して記録し、記録できた動画を返す。
// 重複（既知のvideo_id）は正常系として黙ってスキップする。
func (s *Scheduler) recordNewVideos(ctx context.Context, snap *settings.Snapshot, m *model.Monitor, delta int) []model.Video {
	videos, err := s.client.GetLatestVideos(ctx, m.Kind, m.RemoteID, m.Mid, delta)
	if err != nil {
		s.logger.Warn("最新動画の取得に失敗しました",
			slog.Int64("monitor_id", m.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var recorded []model.Video
	for _, v := range videos {
		ok, err := s.updateRepo.Append(ctx, &model.VideoUpdate{
			MonitorID:   m.ID,
			VideoID:     v.VideoID,
			Title:       v.Title,
			PublishTime: v.PublishTime,
			Cover:       v.Cover,
		})
		if err != nil {
			s.logger.Error("更新記録の追記に失敗しました",
				slog.Int64("monitor_id", m.ID),
				slog.String("video_id", v.VideoID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			// すでに記録済みの動画。プロバイダ側の並び替えで起こりうる。
			continue
		}
		recorded = append(recorded, v)
	}

	s.metrics.RecordVideosRecorded(len(recorded))
	s.purgeExcess(ctx, snap)

	return recorded
}

// purgeExcess は保存上限を超えた古い更新記録を削除し、
// 削除した記録のカバー画像キャッシュを無効化する。
func (s *Scheduler) purgeExcess(ctx context.Context, snap *settings.Snapshot) {
	covers, err := s.updateRepo.PurgeExcess(ctx, snap.RecentSaveLimit())
	if err != nil {
		s.logger.Error("古い更新記録の削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, cover := range covers {
		s.cache.Invalidate(cover)
	}
}

// checkSingle は指定監視対象の更新を即時に1件だけ確認する。
// 巡回と異なり、総数はリモートの値で無条件に書き換える。
// 総数が減った場合もここで記録値が追従する。
func (s *Scheduler) checkSingle(ctx context.Context, monitorID int64) {
	snap := s.snapshot(ctx)

	m, err := s.monitorRepo.FindByID(ctx, monitorID)
	if err != nil {
		s.logger.Error("監視対象の取得に失敗しました",
			slog.Int64("monitor_id", monitorID),
			slog.String("error", err.Error()),
		)
		return
	}
	if m == nil {
		s.logger.Warn("指定された監視対象が存在しません",
			slog.Int64("monitor_id", monitorID),
		)
		return
	}

	info, err := s.client.GetInfo(ctx, m.Kind, m.RemoteID, m.Mid)
	if err != nil || info == nil {
		if err != nil {
			s.logger.Error("監視対象の情報取得に失敗しました",
				slog.Int64("monitor_id", monitorID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	var summary *updateSummary
	if info.Total > m.TotalCount {
		delta := info.Total - m.TotalCount
		recorded := s.recordNewVideos(ctx, snap, m, delta)
		s.metrics.RecordUpdatesDetected(1)
		summary = &updateSummary{monitor: m, newCount: delta, videos: recorded}
	}

	if err := s.monitorRepo.UpdateStatus(ctx, m.ID, info.Total, s.now().Unix()); err != nil {
		s.logger.Error("監視対象の状態更新に失敗しました",
			slog.Int64("monitor_id", monitorID),
			slog.String("error", err.Error()),
		)
		return
	}

	if summary != nil {
		s.notify(snap, []*updateSummary{summary})
	}

	s.logger.Info("単発確認が完了しました",
		slog.Int64("monitor_id", monitorID),
		slog.String("name", m.Name),
		slog.Int("total", info.Total),
	)
}
