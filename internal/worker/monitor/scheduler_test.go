package monitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/bilitrack/internal/model"
	"github.com/hitoshi/bilitrack/internal/notifier"
	"github.com/hitoshi/bilitrack/internal/settings"
)

// ============================================================
// モック
// ============================================================

type mockMonitorRepo struct {
	listActiveFunc        func(ctx context.Context) ([]*model.Monitor, error)
	findByIDFunc          func(ctx context.Context, id int64) (*model.Monitor, error)
	updateStatusCalls     []statusCall
	updateLastCheckedIDs  []int64
	mu                    sync.Mutex
}

type statusCall struct {
	id         int64
	totalCount int
	checkedAt  int64
}

func (m *mockMonitorRepo) Create(ctx context.Context, mon *model.Monitor) (int64, bool, error) {
	return 0, false, errors.New("not implemented")
}

func (m *mockMonitorRepo) FindByID(ctx context.Context, id int64) (*model.Monitor, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockMonitorRepo) ListActive(ctx context.Context) ([]*model.Monitor, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx)
	}
	return nil, nil
}

func (m *mockMonitorRepo) ListAll(ctx context.Context) ([]*model.Monitor, error)      { return nil, nil }
func (m *mockMonitorRepo) ListArchived(ctx context.Context) ([]*model.Monitor, error) { return nil, nil }

func (m *mockMonitorRepo) UpdateStatus(ctx context.Context, id int64, totalCount int, checkedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateStatusCalls = append(m.updateStatusCalls, statusCall{id, totalCount, checkedAt})
	return nil
}

func (m *mockMonitorRepo) UpdateLastChecked(ctx context.Context, id int64, checkedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateLastCheckedIDs = append(m.updateLastCheckedIDs, id)
	return nil
}

func (m *mockMonitorRepo) UpdateActive(ctx context.Context, id int64, active bool) error     { return nil }
func (m *mockMonitorRepo) UpdateArchived(ctx context.Context, id int64, archived bool) error { return nil }
func (m *mockMonitorRepo) Delete(ctx context.Context, id int64) error                        { return nil }

type mockUpdateRepo struct {
	appendFunc      func(ctx context.Context, u *model.VideoUpdate) (bool, error)
	purgeExcessFunc func(ctx context.Context, limit int) ([]string, error)
	appended        []*model.VideoUpdate
	mu              sync.Mutex
}

func (m *mockUpdateRepo) Append(ctx context.Context, u *model.VideoUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendFunc != nil {
		ok, err := m.appendFunc(ctx, u)
		if ok {
			m.appended = append(m.appended, u)
		}
		return ok, err
	}
	m.appended = append(m.appended, u)
	return true, nil
}

func (m *mockUpdateRepo) PurgeExcess(ctx context.Context, limit int) ([]string, error) {
	if m.purgeExcessFunc != nil {
		return m.purgeExcessFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockUpdateRepo) ListRecent(ctx context.Context, limit int) ([]*model.VideoUpdateWithMonitor, error) {
	return nil, nil
}

func (m *mockUpdateRepo) ListPublishTimes(ctx context.Context, monitorID int64) ([]int64, error) {
	return nil, nil
}

func (m *mockUpdateRepo) ListPublishTimesBatch(ctx context.Context, monitorIDs []int64) (map[int64][]int64, error) {
	return map[int64][]int64{}, nil
}

type mockSettingsRepo struct {
	values  map[string]string
	updates []map[string]string
	mu      sync.Mutex
}

func (m *mockSettingsRepo) GetAll(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string]string, len(m.values))
	for k, v := range m.values {
		copied[k] = v
	}
	return copied, nil
}

func (m *mockSettingsRepo) Update(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, values)
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *mockSettingsRepo) EnsureDefaults(ctx context.Context, defaults map[string]string) error {
	return nil
}

// updatesForKey は指定キーへの書き込み履歴を順に返す。
func (m *mockSettingsRepo) updatesForKey(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var values []string
	for _, update := range m.updates {
		if v, ok := update[key]; ok {
			values = append(values, v)
		}
	}
	return values
}

type mockBiliClient struct {
	getInfoFunc         func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error)
	getLatestVideosFunc func(ctx context.Context, kind model.MonitorKind, remoteID, mid string, count int) ([]model.Video, error)
	latestVideoCounts   []int
	mu                  sync.Mutex
}

func (m *mockBiliClient) GetInfo(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
	if m.getInfoFunc != nil {
		return m.getInfoFunc(ctx, kind, remoteID, mid)
	}
	return nil, nil
}

func (m *mockBiliClient) GetLatestVideos(ctx context.Context, kind model.MonitorKind, remoteID, mid string, count int) ([]model.Video, error) {
	m.mu.Lock()
	m.latestVideoCounts = append(m.latestVideoCounts, count)
	m.mu.Unlock()
	if m.getLatestVideosFunc != nil {
		return m.getLatestVideosFunc(ctx, kind, remoteID, mid, count)
	}
	return []model.Video{}, nil
}

type sentMail struct {
	subject string
	body    string
}

type mockMailer struct {
	sent []sentMail
	mu   sync.Mutex
}

func (m *mockMailer) Send(cfg notifier.Config, subject, htmlBody string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{subject, htmlBody})
	return true
}

type mockCache struct {
	invalidated []string
	mu          sync.Mutex
}

func (m *mockCache) Invalidate(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, url)
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(raw string) string { return raw }

type noopMetrics struct{}

func (noopMetrics) RecordPass()                          {}
func (noopMetrics) RecordPassDuration(time.Duration)     {}
func (noopMetrics) RecordMonitorsChecked(int)            {}
func (noopMetrics) RecordUpdatesDetected(int)            {}
func (noopMetrics) RecordVideosRecorded(int)             {}
func (noopMetrics) RecordRemoteStatus(int)               {}
func (noopMetrics) RecordRemoteRetry()                   {}
func (noopMetrics) RecordNotification(string)            {}

// ============================================================
// ヘルパー
// ============================================================

type testDeps struct {
	monitorRepo  *mockMonitorRepo
	updateRepo   *mockUpdateRepo
	settingsRepo *mockSettingsRepo
	client       *mockBiliClient
	mailer       *mockMailer
	cache        *mockCache
}

func newTestScheduler(deps *testDeps) *Scheduler {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	s := NewScheduler(
		deps.monitorRepo,
		deps.updateRepo,
		deps.settingsRepo,
		deps.client,
		deps.mailer,
		deps.cache,
		passthroughSanitizer{},
		noopMetrics{},
		logger,
	)
	s.sleep = func(ctx context.Context, d time.Duration) bool { return true }
	s.now = func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) }
	return s
}

func defaultDeps() *testDeps {
	return &testDeps{
		monitorRepo:  &mockMonitorRepo{},
		updateRepo:   &mockUpdateRepo{},
		settingsRepo: &mockSettingsRepo{values: settings.Defaults()},
		client:       &mockBiliClient{},
		mailer:       &mockMailer{},
		cache:        &mockCache{},
	}
}

func testMonitor(id int64, total int) *model.Monitor {
	return &model.Monitor{
		ID: id, Mid: "100", RemoteID: "200", Kind: model.KindSeries,
		Name: "テスト合集", TotalCount: total, IsActive: true,
	}
}

// ============================================================
// テスト
// ============================================================

func TestRunPass_NoChangeOnlyTouchesLastChecked(t *testing.T) {
	deps := defaultDeps()
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		return []*model.Monitor{testMonitor(1, 10)}, nil
	}
	deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
		return &model.CollectionInfo{Name: "テスト合集", Total: 10}, nil
	}

	s := newTestScheduler(deps)
	s.runPass(context.Background())

	if len(deps.client.latestVideoCounts) != 0 {
		t.Error("総数が変わらない場合は動画リストを取得しないべき")
	}
	if len(deps.monitorRepo.updateLastCheckedIDs) != 1 || deps.monitorRepo.updateLastCheckedIDs[0] != 1 {
		t.Errorf("UpdateLastChecked呼び出し = %v, want [1]", deps.monitorRepo.updateLastCheckedIDs)
	}
	if len(deps.monitorRepo.updateStatusCalls) != 0 {
		t.Error("総数が変わらない場合はUpdateStatusを呼ばないべき")
	}
	if len(deps.updateRepo.appended) != 0 {
		t.Error("総数が変わらない場合は記録を追記しないべき")
	}
}

func TestRunPass_DecreasedTotalIsNotChased(t *testing.T) {
	deps := defaultDeps()
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		return []*model.Monitor{testMonitor(1, 10)}, nil
	}
	deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
		return &model.CollectionInfo{Name: "テスト合集", Total: 7}, nil
	}

	s := newTestScheduler(deps)
	s.runPass(context.Background())

	// 巡回では減少を追いかけず、記録値は据え置き
	if len(deps.monitorRepo.updateStatusCalls) != 0 {
		t.Error("総数減少の巡回ではUpdateStatusを呼ばないべき")
	}
	if len(deps.monitorRepo.updateLastCheckedIDs) != 1 {
		t.Errorf("UpdateLastChecked呼び出し = %v, want 1回", deps.monitorRepo.updateLastCheckedIDs)
	}
}

func TestRunPass_FetchesExactlyDelta(t *testing.T) {
	deps := defaultDeps()
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		return []*model.Monitor{testMonitor(1, 10)}, nil
	}
	deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
		return &model.CollectionInfo{Name: "テスト合集", Total: 13}, nil
	}
	deps.client.getLatestVideosFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string, count int) ([]model.Video, error) {
		return []model.Video{
			{VideoID: "3", Title: "C", PublishTime: 300},
			{VideoID: "2", Title: "B", PublishTime: 200},
			{VideoID: "1", Title: "A", PublishTime: 100},
		}, nil
	}

	s := newTestScheduler(deps)
	s.runPass(context.Background())

	if len(deps.client.latestVideoCounts) != 1 || deps.client.latestVideoCounts[0] != 3 {
		t.Errorf("動画リスト取得件数 = %v, want 差分ちょうどの[3]", deps.client.latestVideoCounts)
	}
	if len(deps.updateRepo.appended) != 3 {
		t.Errorf("追記された記録 = %d件, want 3件", len(deps.updateRepo.appended))
	}
	if len(deps.monitorRepo.updateStatusCalls) != 1 {
		t.Fatalf("UpdateStatus呼び出し = %d回, want 1回", len(deps.monitorRepo.updateStatusCalls))
	}
	call := deps.monitorRepo.updateStatusCalls[0]
	if call.id != 1 || call.totalCount != 13 {
		t.Errorf("UpdateStatus = (%d, %d), want (1, 13)", call.id, call.totalCount)
	}
}

func TestRunPass_DuplicateAppendIsTolerated(t *testing.T) {
	deps := defaultDeps()
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		return []*model.Monitor{testMonitor(1, 10)}, nil
	}
	deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
		return &model.CollectionInfo{Name: "テスト合集", Total: 12}, nil
	}
	deps.client.getLatestVideosFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string, count int) ([]model.Video, error) {
		return []model.Video{
			{VideoID: "dup", Title: "既知", PublishTime: 200},
			{VideoID: "new", Title: "新規", PublishTime: 300},
		}, nil
	}
	deps.updateRepo.appendFunc = func(ctx context.Context, u *model.VideoUpdate) (bool, error) {
		if u.VideoID == "dup" {
			return false, nil
		}
		return true, nil
	}

	s := newTestScheduler(deps)
	s.runPass(context.Background())

	if len(deps.updateRepo.appended) != 1 || deps.updateRepo.appended[0].VideoID != "new" {
		t.Errorf("記録された動画 = %v, 重複を除いたnewのみを期待", deps.updateRepo.appended)
	}
	// 重複があっても総数はリモート値で確定する
	if len(deps.monitorRepo.updateStatusCalls) != 1 || deps.monitorRepo.updateStatusCalls[0].totalCount != 12 {
		t.Errorf("UpdateStatus呼び出し = %+v, want total=12", deps.monitorRepo.updateStatusCalls)
	}
}

func TestRunPass_RemoteFailureDoesNotStopPass(t *testing.T) {
	deps := defaultDeps()
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		return []*model.Monitor{testMonitor(1, 10), testMonitor(2, 5)}, nil
	}
	calls := 0
	deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
		calls++
		if calls == 1 {
			return nil, model.NewRemoteError("http://example.com", "失敗")
		}
		return &model.CollectionInfo{Name: "B", Total: 5}, nil
	}

	s := newTestScheduler(deps)
	s.runPass(context.Background())

	if calls != 2 {
		t.Errorf("GetInfo呼び出し = %d回, 1件目の失敗後も2件目を確認するべき", calls)
	}
	// 2件目（変化なし）の最終確認時刻は更新される
	if len(deps.monitorRepo.updateLastCheckedIDs) != 1 || deps.monitorRepo.updateLastCheckedIDs[0] != 2 {
		t.Errorf("UpdateLastChecked = %v, want [2]", deps.monitorRepo.updateLastCheckedIDs)
	}
}

func TestRunPass_BatchSendCollapsesToOneMail(t *testing.T) {
	run := func(batchSend string) *mockMailer {
		deps := defaultDeps()
		deps.settingsRepo.values[settings.KeySMTPEnable] = "1"
		deps.settingsRepo.values[settings.KeySMTPBatchSend] = batchSend
		deps.settingsRepo.values[settings.KeySMTPServer] = "smtp.example.com"
		deps.settingsRepo.values[settings.KeyEmailAccount] = "a@example.com"
		deps.settingsRepo.values[settings.KeyEmailAuthCode] = "x"
		deps.settingsRepo.values[settings.KeyReceiverEmails] = "r@example.com"

		deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
			a := testMonitor(1, 10)
			b := testMonitor(2, 5)
			b.RemoteID = "201"
			return []*model.Monitor{a, b}, nil
		}
		deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
			if remoteID == "200" {
				return &model.CollectionInfo{Name: "A", Total: 11}, nil
			}
			return &model.CollectionInfo{Name: "B", Total: 6}, nil
		}
		deps.client.getLatestVideosFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string, count int) ([]model.Video, error) {
			return []model.Video{{VideoID: remoteID, Title: "V", PublishTime: 100}}, nil
		}

		s := newTestScheduler(deps)
		s.runPass(context.Background())
		return deps.mailer
	}

	if mailer := run("1"); len(mailer.sent) != 1 {
		t.Errorf("統一推送時の送信数 = %d, want 1通に集約", len(mailer.sent))
	}
	if mailer := run("0"); len(mailer.sent) != 2 {
		t.Errorf("個別送信時の送信数 = %d, want 監視対象ごとに2通", len(mailer.sent))
	}
}

func TestRunPass_NoMailWhenSMTPDisabled(t *testing.T) {
	deps := defaultDeps()
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		return []*model.Monitor{testMonitor(1, 10)}, nil
	}
	deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
		return &model.CollectionInfo{Name: "A", Total: 11}, nil
	}

	s := newTestScheduler(deps)
	s.runPass(context.Background())

	if len(deps.mailer.sent) != 0 {
		t.Error("SMTP無効時はメールを送らないべき")
	}
}

func TestRunPass_PurgeInvalidatesEvictedCovers(t *testing.T) {
	deps := defaultDeps()
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		return []*model.Monitor{testMonitor(1, 10)}, nil
	}
	deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
		return &model.CollectionInfo{Name: "A", Total: 11}, nil
	}
	deps.client.getLatestVideosFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string, count int) ([]model.Video, error) {
		return []model.Video{{VideoID: "1", Title: "V", PublishTime: 100}}, nil
	}
	deps.updateRepo.purgeExcessFunc = func(ctx context.Context, limit int) ([]string, error) {
		if limit != 30 {
			t.Errorf("PurgeExcessのlimit = %d, want 設定値の30", limit)
		}
		return []string{"http://example.com/old1.jpg", "http://example.com/old2.jpg"}, nil
	}

	s := newTestScheduler(deps)
	s.runPass(context.Background())

	if len(deps.cache.invalidated) != 2 {
		t.Errorf("無効化されたキャッシュ = %v, want 2件", deps.cache.invalidated)
	}
}

func TestRunPass_MarksCheckingDuringPass(t *testing.T) {
	deps := defaultDeps()
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		return nil, nil
	}

	s := newTestScheduler(deps)
	s.runPass(context.Background())

	found := false
	for _, update := range deps.settingsRepo.updates {
		if update[settings.KeyNextCheckTime] == checkingMarker {
			found = true
		}
	}
	if !found {
		t.Error("巡回中は実行中マーカーが書き込まれるべき")
	}
}

func TestCheckSingle_RewritesTotalUnconditionally(t *testing.T) {
	deps := defaultDeps()
	deps.monitorRepo.findByIDFunc = func(ctx context.Context, id int64) (*model.Monitor, error) {
		return testMonitor(1, 10), nil
	}
	// リモートの総数が記録値より少ない（動画が削除された）
	deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
		return &model.CollectionInfo{Name: "A", Total: 7}, nil
	}

	s := newTestScheduler(deps)
	s.checkSingle(context.Background(), 1)

	if len(deps.monitorRepo.updateStatusCalls) != 1 {
		t.Fatalf("UpdateStatus呼び出し = %d回, want 1回", len(deps.monitorRepo.updateStatusCalls))
	}
	// 単発確認では減少にも追従する
	if got := deps.monitorRepo.updateStatusCalls[0].totalCount; got != 7 {
		t.Errorf("UpdateStatusのtotal = %d, want リモート値の7", got)
	}
	if len(deps.updateRepo.appended) != 0 {
		t.Error("総数減少時は記録を追記しないべき")
	}
}

func TestCheckSingle_UnknownMonitorIsNoop(t *testing.T) {
	deps := defaultDeps()

	s := newTestScheduler(deps)
	s.checkSingle(context.Background(), 999)

	if len(deps.monitorRepo.updateStatusCalls) != 0 {
		t.Error("存在しない監視対象の単発確認は何もしないべき")
	}
}

func TestScheduler_RunOnceViaQueue(t *testing.T) {
	deps := defaultDeps()
	passRan := make(chan struct{}, 1)
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		select {
		case passRan <- struct{}{}:
		default:
		}
		return nil, nil
	}

	s := newTestScheduler(deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	if !s.RunOnce() {
		t.Fatal("RunOnceがfalseを返した")
	}

	select {
	case <-passRan:
	case <-time.After(3 * time.Second):
		t.Error("RunOnceの要求から3秒以内に巡回が実行されなかった")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Error("コンテキストキャンセル後にRunが停止しなかった")
	}
}

func TestScheduler_SingleChecksDoNotStarvePeriodicPass(t *testing.T) {
	deps := defaultDeps()
	deps.settingsRepo.values[settings.KeyMonitorActive] = "1"
	deps.settingsRepo.values[settings.KeyGlobalCooldown] = "1"

	passRan := make(chan struct{}, 1)
	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		select {
		case passRan <- struct{}{}:
		default:
		}
		return nil, nil
	}

	s := newTestScheduler(deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// 巡回間隔より短い周期で単発確認を要求し続ける
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.CheckSingle(99)
			}
		}
	}()

	select {
	case <-passRan:
	case <-time.After(3 * time.Second):
		t.Error("単発確認が続いていても定期巡回は予定どおり実行されるべき")
	}

	close(stop)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Error("コンテキストキャンセル後にRunが停止しなかった")
	}
}

func TestScheduler_SingleCheckDoesNotTouchNextCheckTime(t *testing.T) {
	deps := defaultDeps()
	deps.settingsRepo.values[settings.KeyMonitorActive] = "1"

	checked := make(chan struct{}, 1)
	deps.monitorRepo.findByIDFunc = func(ctx context.Context, id int64) (*model.Monitor, error) {
		select {
		case checked <- struct{}{}:
		default:
		}
		return nil, nil
	}

	s := newTestScheduler(deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("コンテキストキャンセル後にRunが停止しなかった")
		}
	}()

	// 起動時に次回確認時刻が1回公開されるのを待つ
	deadline := time.Now().Add(3 * time.Second)
	for len(deps.settingsRepo.updatesForKey(settings.KeyNextCheckTime)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("起動時に次回確認時刻が公開されなかった")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !s.CheckSingle(99) {
		t.Fatal("CheckSingleがfalseを返した")
	}
	select {
	case <-checked:
	case <-time.After(3 * time.Second):
		t.Fatal("単発確認が実行されなかった")
	}
	// 単発確認の直後の書き込みを取りこぼさないよう少し待つ
	time.Sleep(200 * time.Millisecond)

	if got := deps.settingsRepo.updatesForKey(settings.KeyNextCheckTime); len(got) != 1 {
		t.Errorf("next_check_timeの書き込み = %d回 %v, 単発確認では書き換えないべき", len(got), got)
	}
}

func TestRunPass_ImmediateMailSentBeforeNextMonitor(t *testing.T) {
	deps := defaultDeps()
	deps.settingsRepo.values[settings.KeySMTPEnable] = "1"
	deps.settingsRepo.values[settings.KeySMTPBatchSend] = "0"
	deps.settingsRepo.values[settings.KeySMTPServer] = "smtp.example.com"
	deps.settingsRepo.values[settings.KeyEmailAccount] = "a@example.com"
	deps.settingsRepo.values[settings.KeyEmailAuthCode] = "x"
	deps.settingsRepo.values[settings.KeyReceiverEmails] = "r@example.com"

	deps.monitorRepo.listActiveFunc = func(ctx context.Context) ([]*model.Monitor, error) {
		a := testMonitor(1, 10)
		b := testMonitor(2, 5)
		b.RemoteID = "201"
		return []*model.Monitor{a, b}, nil
	}
	infoCalls := 0
	deps.client.getInfoFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string) (*model.CollectionInfo, error) {
		infoCalls++
		return &model.CollectionInfo{Name: "A", Total: 11}, nil
	}
	deps.client.getLatestVideosFunc = func(ctx context.Context, kind model.MonitorKind, remoteID, mid string, count int) ([]model.Video, error) {
		return []model.Video{{VideoID: remoteID, Title: "V", PublishTime: 100}}, nil
	}

	s := newTestScheduler(deps)
	// 1件目の確認後、次の監視対象へ進む前に巡回が打ち切られる
	s.sleep = func(ctx context.Context, d time.Duration) bool { return false }
	s.runPass(context.Background())

	if infoCalls != 1 {
		t.Fatalf("GetInfo呼び出し = %d回, 打ち切り後は確認しないべき", infoCalls)
	}
	// 確認済みの1件目の通知は巡回打ち切り前に送られている
	if len(deps.mailer.sent) != 1 {
		t.Fatalf("送信されたメール = %d通, want 1通", len(deps.mailer.sent))
	}
	if !strings.Contains(deps.mailer.sent[0].subject, "テスト合集") {
		t.Errorf("件名 = %q, 監視対象名を含むべき", deps.mailer.sent[0].subject)
	}
}

func TestVideoURL(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"12345", "https://www.bilibili.com/video/av12345"},
		{"BV1xx411c7mD", "https://www.bilibili.com/video/BV1xx411c7mD"},
	}
	for _, tt := range tests {
		if got := videoURL(tt.id); got != tt.want {
			t.Errorf("videoURL(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
