// Package settings は設定ストア（key/value）の型付きアクセスを提供する。
// スケジューラは判断のたびにストアを読み直すため、Snapshotは巡回の先頭で
// 1回だけ組み立て、巡回をまたいでキャッシュしてはならない。
package settings

import (
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/bilitrack/internal/notifier"
)

// 設定キー。値はすべて文字列としてストアに保存される。
const (
	KeyMonitorActive     = "monitor_active"      // 全体の監視開始/停止スイッチ (0/1)
	KeyGlobalCooldown    = "global_cooldown"     // 巡回間隔（秒）
	KeyItemCooldown      = "item_cooldown"       // 監視対象ごとの確認間隔（秒）
	KeyNextCheckTime     = "next_check_time"     // 画面表示用の次回確認時刻
	KeySMTPEnable        = "smtp_enable"         // SMTP通知スイッチ (0/1)
	KeySMTPServer        = "smtp_server"
	KeySMTPPort          = "smtp_port"
	KeyEmailAccount      = "email_account"
	KeyEmailAuthCode     = "email_auth_code"
	KeySenderName        = "sender_name"
	KeyReceiverEmails    = "receiver_emails" // カンマ区切りの宛先リスト
	KeyUseTLS            = "use_tls"
	KeySMTPBatchSend     = "smtp_batch_send"           // 統一推送スイッチ (0/1)
	KeyRecentLimit       = "recent_updates_limit"      // 画面表示する更新記録数
	KeyRecentSaveLimit   = "recent_updates_save_limit" // 保存する更新記録数の上限
	KeyLogAutoClean      = "log_auto_clean"            // ログ自動整理スイッチ (0/1)
	KeyLogRetentionDays  = "log_retention_days"        // ログバックアップの保持日数
)

// デフォルト値
const (
	DefaultGlobalCooldown   = 600 * time.Second
	DefaultItemCooldown     = 30 * time.Second
	DefaultRecentLimit      = 10
	DefaultRecentSaveLimit  = 30
	DefaultLogRetentionDays = 7
	DefaultSMTPPort         = 465
)

// Defaults は初期設定のマップを返す。
// マイグレーションで投入するほか、起動時に欠損キーの補完にも使う。
func Defaults() map[string]string {
	return map[string]string{
		KeyMonitorActive:    "0",
		KeyGlobalCooldown:   "600",
		KeyItemCooldown:     "30",
		KeyNextCheckTime:    "未スケジュール",
		KeySMTPEnable:       "0",
		KeySMTPServer:       "smtp.163.com",
		KeySMTPPort:         "465",
		KeyEmailAccount:     "",
		KeyEmailAuthCode:    "",
		KeySenderName:       "bilitrack",
		KeyReceiverEmails:   "",
		KeyUseTLS:           "1",
		KeySMTPBatchSend:    "0",
		KeyRecentLimit:      "10",
		KeyRecentSaveLimit:  "30",
		KeyLogAutoClean:     "1",
		KeyLogRetentionDays: "7",
	}
}

// Snapshot は設定ストアの生の値に型付きアクセサをかぶせた読み取り専用ビュー。
type Snapshot struct {
	raw map[string]string
}

// NewSnapshot は生のkey/valueマップからSnapshotを生成する。
func NewSnapshot(raw map[string]string) *Snapshot {
	if raw == nil {
		raw = map[string]string{}
	}
	return &Snapshot{raw: raw}
}

// MonitorActive は全体の監視スイッチが有効かを返す。
func (s *Snapshot) MonitorActive() bool {
	return s.raw[KeyMonitorActive] == "1"
}

// GlobalCooldown は巡回間隔を返す。不正値・未設定時はデフォルト600秒。
func (s *Snapshot) GlobalCooldown() time.Duration {
	return s.seconds(KeyGlobalCooldown, DefaultGlobalCooldown)
}

// ItemCooldown は監視対象ごとの確認間隔を返す。デフォルト30秒。
func (s *Snapshot) ItemCooldown() time.Duration {
	return s.seconds(KeyItemCooldown, DefaultItemCooldown)
}

// BatchSend は統一推送（1巡回につき1通の集約メール）が有効かを返す。
func (s *Snapshot) BatchSend() bool {
	return s.raw[KeySMTPBatchSend] == "1"
}

// SMTPEnabled はSMTP通知が有効かを返す。
func (s *Snapshot) SMTPEnabled() bool {
	return s.raw[KeySMTPEnable] == "1"
}

// RecentLimit は画面表示する更新記録数を返す。デフォルト10。
func (s *Snapshot) RecentLimit() int {
	return s.intValue(KeyRecentLimit, DefaultRecentLimit)
}

// RecentSaveLimit は保存する更新記録数の上限を返す。デフォルト30。
func (s *Snapshot) RecentSaveLimit() int {
	return s.intValue(KeyRecentSaveLimit, DefaultRecentSaveLimit)
}

// LogAutoClean はログ自動整理が有効かを返す。
func (s *Snapshot) LogAutoClean() bool {
	return s.raw[KeyLogAutoClean] == "1"
}

// LogRetentionDays はログバックアップの保持日数を返す。デフォルト7日。
func (s *Snapshot) LogRetentionDays() int {
	return s.intValue(KeyLogRetentionDays, DefaultLogRetentionDays)
}

// MailConfig は通知送信用の設定を組み立てて返す。
func (s *Snapshot) MailConfig() notifier.Config {
	var receivers []string
	for _, r := range strings.Split(s.raw[KeyReceiverEmails], ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			receivers = append(receivers, r)
		}
	}

	sender := s.raw[KeySenderName]
	if sender == "" {
		sender = "bilitrack"
	}

	return notifier.Config{
		Enabled:    s.SMTPEnabled(),
		Host:       s.raw[KeySMTPServer],
		Port:       s.intValue(KeySMTPPort, DefaultSMTPPort),
		Account:    s.raw[KeyEmailAccount],
		AuthCode:   s.raw[KeyEmailAuthCode],
		SenderName: sender,
		Receivers:  receivers,
		UseTLS:     s.raw[KeyUseTLS] == "1",
	}
}

func (s *Snapshot) intValue(key string, def int) int {
	v := s.raw[key]
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Snapshot) seconds(key string, def time.Duration) time.Duration {
	v := s.raw[key]
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
