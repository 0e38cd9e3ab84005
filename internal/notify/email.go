package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"rush_engine/internal/logbus"
	"rush_engine/internal/model"
)

// SettingsSource provides the mailbox used for notifications.
type SettingsSource interface {
	GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error)
}

type EmailNotifier struct {
	settings SettingsSource
	bus      *logbus.Bus
	send     func(ctx context.Context, settings model.EmailSettings, events []PurchaseEvent) error

	mu     sync.Mutex
	queue  chan PurchaseEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
}

func NewEmailNotifier(settings SettingsSource, bus *logbus.Bus) *EmailNotifier {
	return newEmailNotifier(settings, bus, emailSummaryWindow(), SendPurchaseSummaryEmail)
}

func newEmailNotifier(settings SettingsSource, bus *logbus.Bus, window time.Duration, send func(context.Context, model.EmailSettings, []PurchaseEvent) error) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		settings:      settings,
		bus:           bus,
		send:          send,
		queue:         make(chan PurchaseEvent, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: window,
		maxBatch:      50,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Close flushes pending events and stops the batching loop.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyPurchased(_ context.Context, evt PurchaseEvent) {
	select {
	case n.queue <- evt:
	default:
		if n.bus != nil {
			n.bus.Log("warn", "邮件通知丢弃：队列已满", map[string]any{
				"target": evt.TargetName,
				"price":  evt.Price,
			})
		}
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []PurchaseEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	flush := func(reason string) {
		stopTimer()
		if len(pending) == 0 {
			return
		}
		events := append([]PurchaseEvent(nil), pending...)
		pending = pending[:0]
		n.handleBatch(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
		drain:
			for {
				select {
				case evt := <-n.queue:
					pending = append(pending, evt)
				default:
					break drain
				}
			}
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush("immediate")
				continue
			}
			if timer == nil {
				timer = time.NewTimer(n.summaryWindow)
				timerCh = timer.C
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			flush("window")
		}
	}
}

func (n *EmailNotifier) handleBatch(reason string, events []PurchaseEvent) {
	if n.settings == nil {
		return
	}

	// n.ctx is already cancelled during the shutdown flush.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	settings, ok, err := n.settings.GetEmailSettings(ctx)
	if err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "读取邮件配置失败", map[string]any{"error": err.Error()})
		}
		return
	}
	if !ok || !settings.Enabled {
		if n.bus != nil {
			n.bus.Log("debug", "邮件通知未启用", map[string]any{"count": len(events), "reason": reason})
		}
		return
	}
	if err := ValidateEmailSettings(settings); err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "邮件配置无效", map[string]any{"error": err.Error()})
		}
		return
	}

	if err := n.send(ctx, settings, events); err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "邮件发送失败", map[string]any{
				"error":  err.Error(),
				"count":  len(events),
				"reason": reason,
			})
		}
		return
	}
	if n.bus != nil {
		n.bus.Log("info", "通知邮件已发送", map[string]any{
			"count":  len(events),
			"reason": reason,
			"to":     strings.TrimSpace(settings.Email),
		})
	}
}

func ValidateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

func newMessage(email, subject, textBody, htmlBody string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email, "抢购助手"))
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)
	return msg
}

func dialAndSend(settings model.EmailSettings, msg *gomail.Message) error {
	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpConfigForEmail(email)
	if err != nil {
		return err
	}
	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

// SendPurchaseEmail mails a single event. The settings API uses it to send a
// test message.
func SendPurchaseEmail(ctx context.Context, settings model.EmailSettings, evt PurchaseEvent) error {
	if err := ValidateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	htmlBody, textBody, err := buildEmailBody(evt)
	if err != nil {
		return err
	}
	email := strings.TrimSpace(settings.Email)
	return dialAndSend(settings, newMessage(email, buildSubject(evt), textBody, htmlBody))
}

func SendPurchaseSummaryEmail(ctx context.Context, settings model.EmailSettings, events []PurchaseEvent) error {
	if err := ValidateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return errors.New("no events")
	}
	if len(events) == 1 {
		return SendPurchaseEmail(ctx, settings, events[0])
	}
	htmlBody, textBody, err := buildSummaryEmailBody(events)
	if err != nil {
		return err
	}
	email := strings.TrimSpace(settings.Email)
	return dialAndSend(settings, newMessage(email, buildSummarySubject(events), textBody, htmlBody))
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))

	is := func(d string) bool { return domain == d || strings.HasSuffix(domain, "."+d) }
	switch {
	case is("qq.com") || is("foxmail.com"):
		return "smtp.qq.com", 465, true, nil
	case is("163.com") || is("126.com") || is("yeah.net"):
		return "smtp.163.com", 465, true, nil
	case is("gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case is("outlook.com") || is("hotmail.com") || is("live.com"):
		return "smtp.office365.com", 587, false, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func targetLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "未知商品"
	}
	return name
}

func buildSubject(evt PurchaseEvent) string {
	return fmt.Sprintf("购买成功：%s ¥%d", targetLabel(evt.TargetName), evt.Price)
}

func buildSummarySubject(events []PurchaseEvent) string {
	return fmt.Sprintf("购买结果汇总（%d件）", len(events))
}

func formatAt(ms int64) string {
	at := time.Now()
	if ms > 0 {
		at = time.UnixMilli(ms)
	}
	return at.Format("2006-01-02 15:04:05")
}

func formatPremium(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64) + "%"
}

var emailHTMLTpl = template.Must(template.New("email").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head><meta charset="utf-8" /><title>购买成功</title></head>
  <body style="margin:0;padding:24px;background:#f6f8fb;font-family:-apple-system,'PingFang SC','Microsoft YaHei',sans-serif;">
    <div style="max-width:640px;margin:0 auto;background:#ffffff;border:1px solid #e6e8ef;border-radius:12px;">
      <div style="padding:16px 20px;background:#0ea5e9;color:#ffffff;font-weight:700;">购买成功</div>
      <div style="padding:20px;">
        <div style="font-size:18px;font-weight:700;color:#111827;">{{ .TargetName }}</div>
        <table role="presentation" style="margin-top:14px;width:100%;border-collapse:collapse;">
          {{ range .Rows }}
          <tr>
            <td style="width:140px;padding:10px;background:#fafbff;border-bottom:1px solid #eef0f6;color:#6b7280;font-size:12px;">{{ .K }}</td>
            <td style="padding:10px;border-bottom:1px solid #eef0f6;color:#111827;font-size:12px;font-weight:600;">{{ .V }}</td>
          </tr>
          {{ end }}
        </table>
        <div style="margin-top:14px;color:#9ca3af;font-size:12px;">此邮件由系统自动发送</div>
      </div>
    </div>
  </body>
</html>
`))

var emailSummaryHTMLTpl = template.Must(template.New("email-summary").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head><meta charset="utf-8" /><title>购买结果汇总</title></head>
  <body style="margin:0;padding:24px;background:#f6f8fb;font-family:-apple-system,'PingFang SC','Microsoft YaHei',sans-serif;">
    <div style="max-width:720px;margin:0 auto;background:#ffffff;border:1px solid #e6e8ef;border-radius:12px;">
      <div style="padding:16px 20px;background:#0ea5e9;color:#ffffff;font-weight:700;">购买结果汇总</div>
      <div style="padding:20px;">
        <div style="font-size:14px;color:#111827;">共 <strong>{{ .Total }}</strong> 件，时间范围：{{ .Start }} ~ {{ .End }}</div>
        <table role="presentation" style="margin-top:12px;width:100%;border-collapse:collapse;">
          <tr style="background:#fafbff;">
            <th style="padding:8px;text-align:left;font-size:12px;color:#6b7280;">时间</th>
            <th style="padding:8px;text-align:left;font-size:12px;color:#6b7280;">商品</th>
            <th style="padding:8px;text-align:left;font-size:12px;color:#6b7280;">成交价</th>
            <th style="padding:8px;text-align:left;font-size:12px;color:#6b7280;">溢价</th>
            <th style="padding:8px;text-align:left;font-size:12px;color:#6b7280;">进度</th>
          </tr>
          {{ range .Rows }}
          <tr>
            <td style="padding:8px;font-size:12px;border-top:1px solid #eef0f6;">{{ .At }}</td>
            <td style="padding:8px;font-size:12px;border-top:1px solid #eef0f6;">{{ .Target }}</td>
            <td style="padding:8px;font-size:12px;border-top:1px solid #eef0f6;">{{ .Price }}</td>
            <td style="padding:8px;font-size:12px;border-top:1px solid #eef0f6;">{{ .Premium }}</td>
            <td style="padding:8px;font-size:12px;border-top:1px solid #eef0f6;">{{ .Progress }}</td>
          </tr>
          {{ end }}
        </table>
      </div>
    </div>
  </body>
</html>
`))

type rowKV struct {
	K string
	V string
}

func eventRows(evt PurchaseEvent) []rowKV {
	return []rowKV{
		{K: "时间", V: formatAt(evt.At)},
		{K: "成交价", V: strconv.FormatInt(evt.Price, 10)},
		{K: "预期价格", V: strconv.FormatFloat(evt.ExpectedPrice, 'f', -1, 64)},
		{K: "价格上限", V: strconv.FormatFloat(evt.Ceiling, 'f', 2, 64)},
		{K: "溢价", V: formatPremium(evt.PremiumPercent)},
		{K: "进度", V: fmt.Sprintf("%d/%d", evt.AlreadyBought, evt.BuyGoal)},
	}
}

func buildEmailBody(evt PurchaseEvent) (htmlBody string, textBody string, err error) {
	name := targetLabel(evt.TargetName)
	rows := eventRows(evt)

	var buf bytes.Buffer
	data := struct {
		TargetName string
		Rows       []rowKV
	}{TargetName: name, Rows: rows}
	if err := emailHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	text.WriteString("购买成功\n")
	text.WriteString("商品：" + name + "\n")
	for _, r := range rows {
		text.WriteString(r.K + "：" + r.V + "\n")
	}
	return buf.String(), text.String(), nil
}

func buildSummaryEmailBody(events []PurchaseEvent) (htmlBody string, textBody string, err error) {
	if len(events) == 0 {
		return "", "", errors.New("no events")
	}

	type summaryRow struct {
		At       string
		Target   string
		Price    string
		Premium  string
		Progress string
	}

	rows := make([]summaryRow, 0, len(events))
	var minAt, maxAt int64
	for i, evt := range events {
		if i == 0 || evt.At < minAt {
			minAt = evt.At
		}
		if i == 0 || evt.At > maxAt {
			maxAt = evt.At
		}
		rows = append(rows, summaryRow{
			At:       formatAt(evt.At),
			Target:   targetLabel(evt.TargetName),
			Price:    strconv.FormatInt(evt.Price, 10),
			Premium:  formatPremium(evt.PremiumPercent),
			Progress: fmt.Sprintf("%d/%d", evt.AlreadyBought, evt.BuyGoal),
		})
	}

	data := struct {
		Total int
		Start string
		End   string
		Rows  []summaryRow
	}{
		Total: len(events),
		Start: formatAt(minAt),
		End:   formatAt(maxAt),
		Rows:  rows,
	}

	var buf bytes.Buffer
	if err := emailSummaryHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	text.WriteString("购买结果汇总\n")
	text.WriteString(fmt.Sprintf("共 %d 件，时间范围：%s ~ %s\n", len(events), data.Start, data.End))
	for _, row := range rows {
		text.WriteString(fmt.Sprintf("- %s | %s | %s | 溢价 %s | %s\n", row.At, row.Target, row.Price, row.Premium, row.Progress))
	}
	return buf.String(), text.String(), nil
}

func emailSummaryWindow() time.Duration {
	v := strings.TrimSpace(os.Getenv("RUSH_ENGINE_EMAIL_SUMMARY_SECONDS"))
	if v == "" {
		return 20 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 20 * time.Second
	}
	if n <= 0 {
		return 0
	}
	if n > 600 {
		n = 600
	}
	return time.Duration(n) * time.Second
}
