// Package notifier はメール通知の送信を提供する。
// 送信は呼び出し元から見てfire-and-forgetであり、失敗してもエラーを
// 返さずfalseを返すだけで、巡回処理を止めることはない。
package notifier

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Config はSMTP通知の設定。設定ストアの値から巡回ごとに組み立てる。
type Config struct {
	Enabled    bool
	Host       string
	Port       int
	Account    string
	AuthCode   string
	SenderName string
	Receivers  []string
	UseTLS     bool
}

// complete は送信に必要な項目がそろっているかを返す。
func (c Config) complete() bool {
	return c.Host != "" && c.Account != "" && c.AuthCode != "" && len(c.Receivers) > 0
}

// Mailer はSMTPによるメール送信を行う。
type Mailer struct {
	logger *slog.Logger
}

// NewMailer はMailerの新しいインスタンスを生成する。
func NewMailer(logger *slog.Logger) *Mailer {
	return &Mailer{logger: logger}
}

// Send はHTMLメールを送信する。
// 無効化・設定不足・送信失敗のいずれでもfalseを返し、エラーは送出しない。
// 失敗はログに残すのみで、呼び出し元の巡回処理には影響させない。
func (m *Mailer) Send(cfg Config, subject, htmlBody string) bool {
	if !cfg.Enabled {
		m.logger.Info("SMTP通知が無効のため送信をスキップします",
			slog.String("subject", subject),
		)
		return false
	}

	if !cfg.complete() {
		m.logger.Info("SMTP設定が不完全のため送信をスキップします",
			slog.String("subject", subject),
		)
		return false
	}

	msg := buildMessage(cfg, subject, htmlBody)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	if err := m.deliver(addr, cfg, msg); err != nil {
		m.logger.Error("メール送信に失敗しました",
			slog.String("subject", subject),
			slog.String("smtp_addr", addr),
			slog.String("error", err.Error()),
		)
		return false
	}

	m.logger.Info("メールを送信しました",
		slog.String("subject", subject),
		slog.Int("receiver_count", len(cfg.Receivers)),
	)
	return true
}

// deliver はSMTPサーバーへ接続してメッセージを送信する。
// UseTLSが有効な場合は接続時からTLSで包む（SMTPS、465番ポート方式）。
func (m *Mailer) deliver(addr string, cfg Config, msg []byte) error {
	auth := smtp.PlainAuth("", cfg.Account, cfg.AuthCode, cfg.Host)

	if !cfg.UseTLS {
		return smtp.SendMail(addr, auth, cfg.Account, cfg.Receivers, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.Host})
	if err != nil {
		return fmt.Errorf("TLS接続に失敗: %w", err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTPクライアントの生成に失敗: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP認証に失敗: %w", err)
	}
	if err := client.Mail(cfg.Account); err != nil {
		return fmt.Errorf("MAILコマンドに失敗: %w", err)
	}
	for _, rcpt := range cfg.Receivers {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPTコマンドに失敗 (%s): %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATAコマンドに失敗: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("本文の書き込みに失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("本文の確定に失敗: %w", err)
	}

	return client.Quit()
}

// buildMessage はRFC 5322形式のHTMLメールメッセージを組み立てる。
func buildMessage(cfg Config, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", mimeEncode(cfg.SenderName), cfg.Account)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(cfg.Receivers, ","))
	fmt.Fprintf(&b, "Subject: %s\r\n", mimeEncode(subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")
	b.WriteString(base64Wrap(htmlBody))
	return []byte(b.String())
}
