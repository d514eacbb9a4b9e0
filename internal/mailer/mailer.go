// Package mailer delivers account and license emails.
package mailer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"licensehub/internal/config"
)

type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// New returns an SMTP sender, or a log-only sender when no host is set.
func New(cfg config.MailConfig, lg *zap.SugaredLogger) (Sender, error) {
	if cfg.Host == "" {
		lg.Warnw("smtp host not configured, emails will only be logged")
		return &LogSender{lg: lg}, nil
	}
	return NewSMTP(cfg, lg)
}

type SMTP struct {
	client *mail.Client
	from   string
	lg     *zap.SugaredLogger
}

func NewSMTP(cfg config.MailConfig, lg *zap.SugaredLogger) (*SMTP, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTP{client: c, from: cfg.From, lg: lg}, nil
}

func (s *SMTP) Send(ctx context.Context, to, subject, html string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("invalid sender %q: %w", s.from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, html)
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	s.lg.Infow("email sent", "to", to, "subject", subject)
	return nil
}

type LogSender struct {
	lg *zap.SugaredLogger
}

func NewLogSender(lg *zap.SugaredLogger) *LogSender {
	return &LogSender{lg: lg}
}

func (s *LogSender) Send(_ context.Context, to, subject, _ string) error {
	s.lg.Infow("email not delivered, no smtp host", "to", to, "subject", subject)
	return nil
}

// Async delivers through next on a background goroutine so callers never
// wait on the mail server. Each send gets its own deadline, detached from the
// caller's context; failures are only logged.
type Async struct {
	next    Sender
	timeout time.Duration
	lg      *zap.SugaredLogger
	wg      sync.WaitGroup
}

func NewAsync(next Sender, timeout time.Duration, lg *zap.SugaredLogger) *Async {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Async{next: next, timeout: timeout, lg: lg}
}

func (a *Async) Send(ctx context.Context, to, subject, html string) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Send(sendCtx, to, subject, html); err != nil {
			a.lg.Errorw("email delivery failed", "to", to, "subject", subject, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every queued send has finished.
func (a *Async) Wait() {
	a.wg.Wait()
}

type Message struct {
	To, Subject, HTML string
}

// Recorder keeps messages in memory. Err, when set, is returned from Send
// after recording.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func (r *Recorder) Send(_ context.Context, to, subject, html string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{To: to, Subject: subject, HTML: html})
	return r.Err
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}
