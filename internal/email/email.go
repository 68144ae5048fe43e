package email

import (
	"gopkg.in/gomail.v2"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/config"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/template"
)

type EmailService struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailService(cfg config.SMTPConfig) *EmailService {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &EmailService{dialer: d, from: cfg.From}
}

// SendNotification delivers a marketplace notification as an HTML email.
func (e *EmailService) SendNotification(to, subject, message string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", template.NotificationTemplate(subject, message))
	return e.dialer.DialAndSend(m)
}
