package monitor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/bilitrack/internal/model"
	"github.com/hitoshi/bilitrack/internal/notifier"
	"github.com/hitoshi/bilitrack/internal/settings"
)

// updateSummary は巡回で更新を検出した監視対象1件の通知内容。
type updateSummary struct {
	monitor  *model.Monitor
	newCount int
	videos   []model.Video
}

// notify は検出結果を通知メールにして送信する。
// 統一推送が有効な場合は巡回全体で1通に集約し、
// 無効な場合は監視対象ごとに1通ずつ送る。
func (s *Scheduler) notify(snap *settings.Snapshot, summaries []*updateSummary) {
	if len(summaries) == 0 || !snap.SMTPEnabled() {
		return
	}

	cfg := snap.MailConfig()

	if snap.BatchSend() {
		subject, body := s.buildBatchMail(summaries)
		s.deliver(cfg, subject, body)
		return
	}

	for _, summary := range summaries {
		subject, body := s.buildMonitorMail(summary)
		s.deliver(cfg, subject, body)
	}
}

// deliver はメールを送信し、結果をメトリクスとログに記録する。
func (s *Scheduler) deliver(cfg notifier.Config, subject, body string) {
	if s.mailer.Send(cfg, subject, body) {
		s.metrics.RecordNotification("sent")
		s.logger.Info("通知メールを送信しました",
			slog.String("subject", subject),
		)
		return
	}
	s.metrics.RecordNotification("failed")
	s.logger.Warn("通知メールを送信できませんでした",
		slog.String("subject", subject),
	)
}

// buildMonitorMail は監視対象1件の通知メールを組み立てる。
func (s *Scheduler) buildMonitorMail(summary *updateSummary) (subject, body string) {
	name := s.sanitizer.Sanitize(summary.monitor.Name)
	subject = fmt.Sprintf("【更新通知】%s に新着動画 %d件", name, summary.newCount)

	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>%s</h2>", name)
	fmt.Fprintf(&b, "<p>新着動画を %d件 検出しました。</p>", summary.newCount)
	b.WriteString(s.videoListHTML(summary.videos))
	b.WriteString("</body></html>")

	return subject, b.String()
}

// buildBatchMail は巡回全体の検出結果を1通に集約した通知メールを組み立てる。
func (s *Scheduler) buildBatchMail(summaries []*updateSummary) (subject, body string) {
	total := 0
	for _, summary := range summaries {
		total += summary.newCount
	}
	subject = fmt.Sprintf("【更新通知】%d件の監視対象に新着動画 計%d件", len(summaries), total)

	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<p>%d件の監視対象で更新を検出しました。</p>", len(summaries))
	for _, summary := range summaries {
		name := s.sanitizer.Sanitize(summary.monitor.Name)
		fmt.Fprintf(&b, "<h3>%s（新着 %d件）</h3>", name, summary.newCount)
		b.WriteString(s.videoListHTML(summary.videos))
	}
	b.WriteString("</body></html>")

	return subject, b.String()
}

// videoListHTML は動画リストをHTMLに整形する。タイトルはサニタイズ済みの値を使う。
func (s *Scheduler) videoListHTML(videos []model.Video) string {
	if len(videos) == 0 {
		return "<p>（動画詳細は取得できませんでした）</p>"
	}

	var b strings.Builder
	b.WriteString("<ul>")
	for _, v := range videos {
		title := s.sanitizer.Sanitize(v.Title)
		published := ""
		if v.PublishTime > 0 {
			published = time.Unix(v.PublishTime, 0).Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, `<li><a href="%s">%s</a> %s</li>`, videoURL(v.VideoID), title, published)
	}
	b.WriteString("</ul>")
	return b.String()
}

// videoURL は動画IDから視聴ページのURLを組み立てる。
// 数値IDはav番号としてプレフィックスを付け、BV形式のIDはそのまま使う。
func videoURL(videoID string) string {
	if strings.HasPrefix(videoID, "BV") {
		return "https://www.bilibili.com/video/" + videoID
	}
	return "https://www.bilibili.com/video/av" + videoID
}
