package maintenance

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/bilitrack/internal/settings"
)

type mockSettingsRepo struct {
	values map[string]string
}

func (m *mockSettingsRepo) GetAll(ctx context.Context) (map[string]string, error) {
	return m.values, nil
}

func (m *mockSettingsRepo) Update(ctx context.Context, values map[string]string) error {
	return nil
}

func (m *mockSettingsRepo) EnsureDefaults(ctx context.Context, defaults map[string]string) error {
	return nil
}

type mockRotator struct {
	rotateFunc    func() error
	rotated       int
	cleanedDays   []int
	cleanBackups  func(retentionDays int) (int, error)
}

func (m *mockRotator) Rotate() error {
	m.rotated++
	if m.rotateFunc != nil {
		return m.rotateFunc()
	}
	return nil
}

func (m *mockRotator) CleanBackups(retentionDays int) (int, error) {
	m.cleanedDays = append(m.cleanedDays, retentionDays)
	if m.cleanBackups != nil {
		return m.cleanBackups(retentionDays)
	}
	return 0, nil
}

func newTestJob(values map[string]string, rotator *mockRotator) *Job {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return NewJob(&mockSettingsRepo{values: values}, rotator, logger)
}

func TestRun_RotatesAndCleans(t *testing.T) {
	rotator := &mockRotator{}
	j := newTestJob(map[string]string{
		settings.KeyLogAutoClean:     "1",
		settings.KeyLogRetentionDays: "14",
	}, rotator)

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Runに失敗: %v", err)
	}

	if rotator.rotated != 1 {
		t.Errorf("Rotate呼び出し = %d回, want 1回", rotator.rotated)
	}
	if len(rotator.cleanedDays) != 1 || rotator.cleanedDays[0] != 14 {
		t.Errorf("CleanBackups = %v, want 設定値の[14]", rotator.cleanedDays)
	}
}

func TestRun_SkipsWhenAutoCleanDisabled(t *testing.T) {
	rotator := &mockRotator{}
	j := newTestJob(map[string]string{
		settings.KeyLogAutoClean: "0",
	}, rotator)

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Runに失敗: %v", err)
	}

	if rotator.rotated != 0 {
		t.Error("自動整理が無効な場合はローテーションしないべき")
	}
}

func TestRun_RotateFailureIsReturned(t *testing.T) {
	rotator := &mockRotator{rotateFunc: func() error { return errors.New("rotate failed") }}
	j := newTestJob(map[string]string{settings.KeyLogAutoClean: "1"}, rotator)

	if err := j.Run(context.Background()); err == nil {
		t.Error("ローテーション失敗はエラーを返すべき")
	}
	if len(rotator.cleanedDays) != 0 {
		t.Error("ローテーション失敗後はバックアップ整理を実行しないべき")
	}
}

func TestUntilNextMidnight(t *testing.T) {
	rotator := &mockRotator{}
	j := newTestJob(map[string]string{}, rotator)
	j.now = func() time.Time {
		return time.Date(2026, 8, 23, 23, 0, 0, 0, time.UTC)
	}

	if got := j.untilNextMidnight(); got != time.Hour {
		t.Errorf("untilNextMidnight = %v, want 1h", got)
	}
}
