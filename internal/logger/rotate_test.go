package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingFile_WriteAndRotate(t *testing.T) {
	dir := t.TempDir()

	r, err := NewRotatingFile(dir)
	if err != nil {
		t.Fatalf("NewRotatingFileに失敗: %v", err)
	}
	defer r.Close()

	fixed := time.Date(2026, 8, 23, 12, 30, 45, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	if _, err := r.Write([]byte("1行目\n")); err != nil {
		t.Fatalf("Writeに失敗: %v", err)
	}

	if err := r.Rotate(); err != nil {
		t.Fatalf("Rotateに失敗: %v", err)
	}

	backup := filepath.Join(dir, "bilitrack_20260823_123045.log")
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("バックアップファイルが作成されていない: %v", err)
	}
	if !strings.Contains(string(data), "1行目") {
		t.Errorf("バックアップファイルの内容が不正: %q", data)
	}

	// ローテーション後も新しいファイルへ書き込める
	if _, err := r.Write([]byte("2行目\n")); err != nil {
		t.Fatalf("ローテーション後のWriteに失敗: %v", err)
	}
	active, err := os.ReadFile(filepath.Join(dir, activeLogName))
	if err != nil {
		t.Fatalf("アクティブなログファイルが読めない: %v", err)
	}
	if strings.Contains(string(active), "1行目") {
		t.Error("ローテーション後のアクティブファイルに旧内容が残っている")
	}
}

func TestRotatingFile_RotateSkipsEmptyFile(t *testing.T) {
	dir := t.TempDir()

	r, err := NewRotatingFile(dir)
	if err != nil {
		t.Fatalf("NewRotatingFileに失敗: %v", err)
	}
	defer r.Close()

	if err := r.Rotate(); err != nil {
		t.Fatalf("空ファイルのRotateはエラーにならないべき: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("空ファイルはローテーションしないべき: %d個のファイル", len(entries))
	}
}

func TestRotatingFile_CleanBackups(t *testing.T) {
	dir := t.TempDir()

	r, err := NewRotatingFile(dir)
	if err != nil {
		t.Fatalf("NewRotatingFileに失敗: %v", err)
	}
	defer r.Close()

	old := filepath.Join(dir, "bilitrack_20260801_000000.log")
	recent := filepath.Join(dir, "bilitrack_20260822_000000.log")
	unrelated := filepath.Join(dir, "other.txt")
	for _, p := range []string{old, recent, unrelated} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("テストファイルの作成に失敗: %v", err)
		}
	}

	now := time.Now()
	if err := os.Chtimes(old, now.AddDate(0, 0, -10), now.AddDate(0, 0, -10)); err != nil {
		t.Fatalf("Chtimesに失敗: %v", err)
	}

	removed, err := r.CleanBackups(7)
	if err != nil {
		t.Fatalf("CleanBackupsに失敗: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("保持期限切れのバックアップが削除されていない")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Error("保持期間内のバックアップが削除された")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("バックアップパターン外のファイルが削除された")
	}
}
