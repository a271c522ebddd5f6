package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/jurismatch/backend/internal/config"
)

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

var emailTemplates = template.Must(template.New("email").Parse(`
{{define "new_lead"}}<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
    <h2>New lead in your area</h2>
    <p>Hello {{.LawyerName}},</p>
    <p>A {{.Urgency}} urgency case in {{.City}}/{{.State}} is now available to {{.Tier}} lawyers.</p>
    <p>Your compatibility score: <strong>{{.Score}}</strong></p>
    <p><a href="{{.Link}}">Review the lead</a></p>
</body>
</html>{{end}}
{{define "lead_accepted"}}<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
    <h2>A lawyer accepted your case</h2>
    <p>Hello {{.ClientName}},</p>
    <p>{{.LawyerName}} accepted your case and can talk to you now.</p>
    <p><a href="{{.Link}}">Open the conversation</a></p>
</body>
</html>{{end}}
`))

// EmailNotifier sends notifications over SMTP. A Deduper, when set, keeps a
// retried job from mailing the same person twice.
type EmailNotifier struct {
	sender  Sender
	from    string
	baseURL string
	dedup   Deduper
	logger  *slog.Logger
}

func NewEmailNotifier(cfg config.SMTPConfig, baseURL string, dedup Deduper, logger *slog.Logger) *EmailNotifier {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return NewEmailNotifierWithSender(d, cfg.From, baseURL, dedup, logger)
}

func NewEmailNotifierWithSender(sender Sender, from, baseURL string, dedup Deduper, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{sender: sender, from: from, baseURL: baseURL, dedup: dedup, logger: logger}
}

func (n *EmailNotifier) NewLeadAvailable(ctx context.Context, msg NewLeadNotice) error {
	if msg.LawyerEmail == "" {
		return fmt.Errorf("lawyer %s has no email", msg.LawyerID)
	}
	data := struct {
		NewLeadNotice
		Link string
	}{msg, fmt.Sprintf("%s/leads/%s", n.baseURL, msg.LeadID)}
	return n.send(ctx, leadAvailableKey(msg), msg.LawyerEmail, "New lead available", "new_lead", data)
}

func (n *EmailNotifier) LeadAccepted(ctx context.Context, msg LeadAcceptedNotice) error {
	if msg.ClientEmail == "" {
		return fmt.Errorf("lead %s has no client email", msg.LeadID)
	}
	data := struct {
		LeadAcceptedNotice
		Link string
	}{msg, fmt.Sprintf("%s/conversations/%s", n.baseURL, msg.ConversationRef)}
	return n.send(ctx, leadAcceptedKey(msg), msg.ClientEmail, "A lawyer accepted your case", "lead_accepted", data)
}

func (n *EmailNotifier) send(ctx context.Context, key, to, subject, tmpl string, data any) error {
	if n.dedup != nil {
		first, err := n.dedup.Claim(ctx, key, DedupTTL)
		if err != nil {
			// Redis being down must not block delivery.
			n.logger.Warn("notification dedup unavailable", "key", key, "error", err)
		} else if !first {
			n.logger.Debug("notification already sent", "key", key)
			return nil
		}
	}

	var body bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&body, tmpl, data); err != nil {
		n.release(ctx, key)
		return fmt.Errorf("render %s: %w", tmpl, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetDateHeader("Date", time.Now())
	m.SetBody("text/html", body.String())

	if err := n.sender.DialAndSend(m); err != nil {
		n.release(ctx, key)
		return fmt.Errorf("send %s: %w", tmpl, err)
	}
	return nil
}

func (n *EmailNotifier) release(ctx context.Context, key string) {
	if n.dedup == nil {
		return
	}
	if err := n.dedup.Release(ctx, key); err != nil {
		n.logger.Warn("release notification key failed", "key", key, "error", err)
	}
}
