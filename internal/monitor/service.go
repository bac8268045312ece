// Package monitor は監視対象の登録・管理と統計付き一覧のサービス層を提供する。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bilitrack/internal/bili"
	"github.com/hitoshi/bilitrack/internal/model"
	"github.com/hitoshi/bilitrack/internal/repository"
	"github.com/hitoshi/bilitrack/internal/settings"
	"github.com/hitoshi/bilitrack/internal/stats"
)

// InfoClient は監視対象の登録時に使うリモートAPIのインターフェース。
type InfoClient interface {
	GetInfo(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error)
}

// MonitorWithStats は監視対象に更新間隔統計を結合した一覧表示用の形。
type MonitorWithStats struct {
	Monitor *model.Monitor    `json:"monitor"`
	Stats   model.UpdateStats `json:"stats"`
}

// Service は監視対象管理のサービス。
type Service struct {
	monitorRepo  repository.MonitorRepository
	updateRepo   repository.UpdateRepository
	settingsRepo repository.SettingsRepository
	client       InfoClient
	logger       *slog.Logger

	// nowはテスト用に差し替え可能。
	now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	monitorRepo repository.MonitorRepository,
	updateRepo repository.UpdateRepository,
	settingsRepo repository.SettingsRepository,
	client InfoClient,
	logger *slog.Logger,
) *Service {
	return &Service{
		monitorRepo:  monitorRepo,
		updateRepo:   updateRepo,
		settingsRepo: settingsRepo,
		client:       client,
		logger:       logger,
		now:          time.Now,
	}
}

// Add は参照URLから監視対象を登録する。
// URLの形式不正はINVALID_URL、リモート情報の取得失敗はREMOTE_UNAVAILABLE、
// 登録済みの対象はDUPLICATE_MONITORのAPIErrorを返す。
func (s *Service) Add(ctx context.Context, rawURL string) (*model.Monitor, error) {
	mid, remoteID, kind, err := bili.ParseListURL(rawURL)
	if err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			return nil, model.NewInvalidURLError(vErr.Message)
		}
		return nil, err
	}

	info, err := s.client.GetInfo(ctx, kind, remoteID, mid)
	if err != nil {
		s.logger.Error("登録時のリモート情報取得に失敗しました",
			slog.String("remote_id", remoteID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewRemoteUnavailableError()
	}
	if info == nil {
		return nil, model.NewRemoteUnavailableError()
	}

	m := &model.Monitor{
		Mid:         mid,
		RemoteID:    remoteID,
		Kind:        kind,
		Name:        info.Name,
		Description: info.Description,
		Cover:       info.Cover,
		TotalCount:  info.Total,
		LastCheckTS: s.now().Unix(),
		IsActive:    true,
	}

	id, ok, err := s.monitorRepo.Create(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("監視対象の登録に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewDuplicateMonitorError()
	}
	m.ID = id

	s.logger.Info("監視対象を登録しました",
		slog.Int64("monitor_id", id),
		slog.String("name", m.Name),
		slog.String("kind", string(kind)),
		slog.Int("total", m.TotalCount),
	)
	return m, nil
}

// Delete は監視対象を削除する。関連する更新記録もCASCADE削除される。
func (s *Service) Delete(ctx context.Context, id int64) error {
	m, err := s.monitorRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return model.NewMonitorNotFoundError(id)
	}

	if err := s.monitorRepo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("監視対象を削除しました",
		slog.Int64("monitor_id", id),
		slog.String("name", m.Name),
	)
	return nil
}

// SetActive は監視対象の有効/無効を切り替える。
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	m, err := s.monitorRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return model.NewMonitorNotFoundError(id)
	}
	return s.monitorRepo.UpdateActive(ctx, id, active)
}

// SetArchived は監視対象のアーカイブ状態を切り替える。
// アーカイブすると監視も無効化されて巡回から外れるが、記録は保持される。
// 復元しても監視は無効のままで、再開には明示的な有効化が必要。
func (s *Service) SetArchived(ctx context.Context, id int64, archived bool) error {
	m, err := s.monitorRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return model.NewMonitorNotFoundError(id)
	}
	return s.monitorRepo.UpdateArchived(ctx, id, archived)
}

// ListWithStats は非アーカイブの監視対象を更新間隔統計付きで取得する。
// 統計は全対象の公開時刻を1クエリで引いた上でまとめて計算する。
func (s *Service) ListWithStats(ctx context.Context) ([]MonitorWithStats, error) {
	monitors, err := s.monitorRepo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(monitors))
	for i, m := range monitors {
		ids[i] = m.ID
	}

	times, err := s.updateRepo.ListPublishTimesBatch(ctx, ids)
	if err != nil {
		return nil, err
	}
	statsByID := stats.CalculateBatch(times)

	result := make([]MonitorWithStats, len(monitors))
	for i, m := range monitors {
		result[i] = MonitorWithStats{Monitor: m, Stats: statsByID[m.ID]}
	}
	return result, nil
}

// Stats は監視対象1件の更新間隔統計を返す。
func (s *Service) Stats(ctx context.Context, id int64) (*model.UpdateStats, error) {
	m, err := s.monitorRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, model.NewMonitorNotFoundError(id)
	}

	times, err := s.updateRepo.ListPublishTimes(ctx, id)
	if err != nil {
		return nil, err
	}
	st := stats.Calculate(times)
	return &st, nil
}

// ListArchived はアーカイブ済みの監視対象を取得する。
func (s *Service) ListArchived(ctx context.Context) ([]*model.Monitor, error) {
	return s.monitorRepo.ListArchived(ctx)
}

// Recent は画面表示用の更新記録を新しい順に取得する。
// 件数は設定ストアの値に従う。
func (s *Service) Recent(ctx context.Context) ([]*model.VideoUpdateWithMonitor, error) {
	raw, err := s.settingsRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	snap := settings.NewSnapshot(raw)
	return s.updateRepo.ListRecent(ctx, snap.RecentLimit())
}
