package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// activeLogName は書き込み中のログファイル名。
	activeLogName = "bilitrack.log"
	// backupPrefix はローテーション後のバックアップファイル名の接頭辞。
	backupPrefix = "bilitrack_"
	// backupTimeLayout はバックアップファイル名に埋め込むタイムスタンプの形式。
	backupTimeLayout = "20060102_150405"
)

// RotatingFile はローテーション可能なログファイル。
// io.Writerを実装し、slogの出力先として使う。
// WriteとRotateは並行に呼ばれるためmutexで直列化する。
type RotatingFile struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	now  func() time.Time
}

// NewRotatingFile はdir配下のログファイルを開いてRotatingFileを返す。
// ディレクトリが存在しない場合は作成する。
func NewRotatingFile(dir string) (*RotatingFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ログディレクトリの作成に失敗しました: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, activeLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ログファイルのオープンに失敗しました: %w", err)
	}

	return &RotatingFile{
		dir:  dir,
		file: f,
		now:  time.Now,
	}, nil
}

// Write はio.Writerを実装する。
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Write(p)
}

// Rotate は現在のログファイルをタイムスタンプ付きのバックアップ名にリネームし、
// 新しいログファイルを開き直す。空のログファイルはローテーションしない。
func (r *RotatingFile) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := filepath.Join(r.dir, activeLogName)

	info, err := os.Stat(active)
	if err != nil || info.Size() == 0 {
		return nil
	}

	if err := r.file.Close(); err != nil {
		return fmt.Errorf("ログファイルのクローズに失敗しました: %w", err)
	}

	backup := filepath.Join(r.dir, fmt.Sprintf("%s%s.log", backupPrefix, r.now().Format(backupTimeLayout)))
	if err := os.Rename(active, backup); err != nil {
		return fmt.Errorf("ログファイルのリネームに失敗しました: %w", err)
	}

	f, err := os.OpenFile(active, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("新しいログファイルのオープンに失敗しました: %w", err)
	}
	r.file = f

	return nil
}

// CleanBackups は保持日数を超えたバックアップファイルを削除し、削除件数を返す。
// 書き込み中のログファイルは対象外。
func (r *RotatingFile) CleanBackups(retentionDays int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("ログディレクトリの読み取りに失敗しました: %w", err)
	}

	cutoff := r.now().AddDate(0, 0, -retentionDays)
	removed := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(r.dir, name)); err != nil {
			continue
		}
		removed++
	}

	return removed, nil
}

// Close はログファイルを閉じる。
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
