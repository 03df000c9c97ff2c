package sender

import (
	"context"
	"fmt"

	"story-engine/shared/models"

	"go.uber.org/zap"
	"gopkg.in/mail.v2"
)

// --- Заглушка для Email Sender ---

type stubEmailSender struct {
	logger *zap.Logger
}

func NewStubEmailSender(logger *zap.Logger) EmailSender {
	return &stubEmailSender{logger: logger.Named("stub_email_sender")}
}

func (s *stubEmailSender) SendEpisodeEmail(_ context.Context, to string, n models.EpisodeNotification) (Outcome, error) {
	s.logger.Info("ЗАГЛУШКА: Отправка email",
		zap.String("to", to),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
	)
	return OutcomeSent, nil
}

// --- Реальный Email Sender ---

// SMTPConfig — реквизиты SMTP-сервера.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM"`
}

type smtpEmailSender struct {
	dialer *mail.Dialer
	from   string
	logger *zap.Logger
}

// NewSMTPEmailSender создает отправитель писем через SMTP.
// Возвращает nil, nil если SMTP не сконфигурирован.
func NewSMTPEmailSender(cfg SMTPConfig, logger *zap.Logger) (EmailSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		logger.Warn("SMTP конфигурация не полная (Host, From), email sender не будет создан.")
		return nil, nil
	}

	logger.Info("Email Sender успешно инициализирован",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("from", cfg.From),
	)
	return &smtpEmailSender{
		dialer: mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger.Named("email_sender"),
	}, nil
}

var _ EmailSender = (*smtpEmailSender)(nil)

func (s *smtpEmailSender) SendEpisodeEmail(_ context.Context, to string, n models.EpisodeNotification) (Outcome, error) {
	message := mail.NewMessage()
	message.SetHeader("From", s.from)
	message.SetHeader("To", to)
	message.SetHeader("Subject", n.Title)

	body := n.Body
	if n.Link != "" {
		body = fmt.Sprintf("%s\n\n%s", n.Body, n.Link)
	}
	message.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(message); err != nil {
		// SMTP-ошибки не разделяем: сервер мог быть недоступен, ящик мог
		// переполниться — повтор безопасен в обоих случаях.
		s.logger.Warn("Ошибка отправки email", zap.String("to", to), zap.Error(err))
		return OutcomeRetryable, fmt.Errorf("ошибка отправки email: %w", err)
	}

	s.logger.Debug("Email отправлен", zap.String("to", to))
	return OutcomeSent, nil
}
