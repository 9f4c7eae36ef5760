// Package notify delivers the run summary by email and escalates CRITICAL
// runs with an SMS sent through the carrier's email gateway.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"eodcollector/internal/domain"
	"eodcollector/internal/report"
)

const (
	smsMaxChars     = 120
	smsSubject      = "系统告警"
	missingListSize = 30
)

// Config holds the SMTP account and the recipients.
type Config struct {
	Enabled   bool
	SMTPHost  string
	SMTPPort  int
	SMTPUser  string
	SMTPPass  string
	From      string
	To        string
	Phone     string
	SMSDomain string
}

// Email is the notification sink. Delivery failures are logged and never
// returned to the pipeline.
type Email struct {
	cfg    Config
	ledger SentLedger
	dialer *gomail.Dialer
	sender gomail.Sender
	now    func() time.Time
	log    *slog.Logger
}

// New creates an Email notifier. ledger records the days an SMS went out;
// nil disables the SMS escalation.
func New(cfg Config, ledger SentLedger) *Email {
	return &Email{
		cfg:    cfg,
		ledger: ledger,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		now:    time.Now,
		log:    slog.Default().With("component", "notify"),
	}
}

// Notify mails s to the configured recipient and, for a CRITICAL run, sends
// at most one SMS per day.
func (e *Email) Notify(ctx context.Context, s *report.Summary, missing []string) {
	if !e.cfg.Enabled {
		e.log.Info("email notification disabled")
		return
	}
	if err := e.send(e.cfg.To, Subject(s), Body(s, missing)); err != nil {
		e.log.Warn("sending summary email failed", "date", s.Date, "error", err)
	} else {
		e.log.Info("summary email sent", "date", s.Date, "to", e.cfg.To)
	}

	if s.Level == domain.LevelCritical {
		e.sendSMSOncePerDay(ctx, SMSText(s))
	}
}

var errIncompleteConfig = errors.New("smtp settings incomplete")

func (e *Email) send(to, subject, body string) error {
	var missing []string
	if e.cfg.SMTPHost == "" {
		missing = append(missing, "smtp_host")
	}
	if e.cfg.SMTPPort <= 0 {
		missing = append(missing, "smtp_port")
	}
	if e.cfg.From == "" {
		missing = append(missing, "from")
	}
	if to == "" {
		missing = append(missing, "to")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errIncompleteConfig, strings.Join(missing, ","))
	}
	if e.sender == nil && (e.cfg.SMTPUser == "" || e.cfg.SMTPPass == "") {
		return fmt.Errorf("%w: smtp_user and smtp_pass are required", errIncompleteConfig)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if e.sender != nil {
		return gomail.Send(e.sender, m)
	}
	return e.dialer.DialAndSend(m)
}

func (e *Email) sendSMSOncePerDay(ctx context.Context, text string) {
	if e.ledger == nil {
		return
	}
	if e.cfg.Phone == "" {
		e.log.Info("phone number not set, skipping sms")
		return
	}
	day := e.now().Format(domain.DateLayout)
	sent, err := e.ledger.SentOn(ctx, day)
	if err != nil {
		e.log.Warn("reading sms ledger failed", "error", err)
		return
	}
	if sent {
		e.log.Info("sms already sent today", "day", day)
		return
	}

	addr := e.cfg.Phone + "@" + e.cfg.SMSDomain
	if err := e.send(addr, smsSubject, truncate(text, smsMaxChars)); err != nil {
		e.log.Warn("sending sms failed", "to", addr, "error", err)
		return
	}
	if err := e.ledger.MarkSent(ctx, day); err != nil {
		e.log.Warn("recording sms in ledger failed", "error", err)
	}
	e.log.Info("sms sent", "to", addr)
}

// ---------------------------------------------------------------------------
// Message text
// ---------------------------------------------------------------------------

// Subject renders the email subject line of s.
func Subject(s *report.Summary) string {
	return fmt.Sprintf("[A股采集][%s] %s %.1f%% (%d/%d) missing=%d",
		s.Date, s.Level, s.SuccessRate*100, s.Success, s.Expected, s.Missing)
}

// Body renders the plain-text email body of s. A runbook is appended when a
// human is required, followed by the first missing symbols.
func Body(s *report.Summary, missing []string) string {
	lines := []string{
		"日期: " + s.Date,
		fmt.Sprintf("成功率: %.1f%%", s.SuccessRate*100),
		fmt.Sprintf("成功: %d", s.Success),
		fmt.Sprintf("失败: %d", s.Failed),
		fmt.Sprintf("缺失: %d", s.Missing),
		"告警级别: " + string(s.Level),
		fmt.Sprintf("人工介入: %t", s.HumanRequired),
		"",
	}
	if s.HumanRequired {
		lines = append(lines,
			"建议动作（Runbook 简版）:",
			"1) 检查日志确认失败原因",
			"2) 重新运行补缺任务",
			"3) 必要时手动补录",
			"",
		)
	}
	if len(missing) > 0 {
		lines = append(lines, fmt.Sprintf("缺失股票前 %d 只:", missingListSize))
		lines = append(lines, missing[:min(len(missing), missingListSize)]...)
	}
	return strings.Join(lines, "\n")
}

// SMSText is the short CRITICAL alert.
func SMSText(s *report.Summary) string {
	return fmt.Sprintf("A股采集 CRITICAL\n%s %d/%d\nmissing=%d", s.Date, s.Success, s.Expected, s.Missing)
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
