package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"wattmate/internal/config"
	"wattmate/internal/logger"
)

// Notifier delivers one HTML message. Callers treat failures as non-fatal.
type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type EmailService struct {
	auth     smtp.Auth
	from     string
	fromName string
	host     string
	port     string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailService(cfg *config.Config) *EmailService {
	auth := smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	return &EmailService{
		auth:     auth,
		from:     cfg.EmailFrom,
		fromName: cfg.AppName,
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		send:     smtp.SendMail,
	}
}

func (s *EmailService) Send(_ context.Context, to, subject, htmlBody string) error {
	if s.host == "" {
		return errors.New("smtp host is not configured")
	}
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return s.send(addr, s.auth, s.from, []string{to}, s.buildMessage(to, subject, htmlBody))
}

func (s *EmailService) buildMessage(to, subject, htmlBody string) []byte {
	var b strings.Builder
	from := s.from
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.fromName), s.from)
	}
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

type EmailJob struct {
	To      string
	Subject string
	Body    string
}

// EmailQueue hands messages to background workers so request handlers never wait on SMTP.
type EmailQueue struct {
	jobs   chan EmailJob
	sender Notifier
}

func NewEmailQueue(sender Notifier, size int) *EmailQueue {
	if size <= 0 {
		size = 100
	}
	return &EmailQueue{jobs: make(chan EmailJob, size), sender: sender}
}

// Send enqueues without blocking. A full queue is reported as an error.
func (q *EmailQueue) Send(_ context.Context, to, subject, htmlBody string) error {
	select {
	case q.jobs <- EmailJob{To: to, Subject: subject, Body: htmlBody}:
		return nil
	default:
		return errors.New("email queue is full")
	}
}

// StartWorkers runs n senders until ctx is done.
func (q *EmailQueue) StartWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go func(worker int) {
			for {
				select {
				case job := <-q.jobs:
					if err := q.sender.Send(ctx, job.To, job.Subject, job.Body); err != nil {
						logger.Log.Error("Email send failed",
							zap.Int("worker", worker),
							zap.String("to", MaskEmail(job.To)),
							zap.Error(err),
						)
						continue
					}
					logger.Log.Info("Email sent", zap.Int("worker", worker), zap.String("to", MaskEmail(job.To)))
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// DisabledNotifier stands in when SMTP is not configured. Every send fails and gets logged.
type DisabledNotifier struct{}

func (DisabledNotifier) Send(context.Context, string, string, string) error {
	return errors.New("email delivery is not configured")
}
