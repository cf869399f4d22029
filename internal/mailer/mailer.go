package mailer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/kanghyki/badang-post-office/internal/pipeline"
	"github.com/kanghyki/badang-post-office/pkg/config"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

const bodyTemplate = `<html><body>
<p>%s sent you a postcard%s.</p>
<p>The postcard is attached to this email.</p>
</body></html>`

// SMTPMailer delivers rendered postcards over SMTP, rate limited so a burst
// of scheduled sends cannot trip the provider.
type SMTPMailer struct {
	from    string
	limiter *rate.Limiter
	send    func(m *gomail.Message) error
}

func New(cfg config.SMTPConfig) *SMTPMailer {
	perMin := cfg.RatePerMin
	if perMin <= 0 {
		perMin = 1
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPMailer{
		from:    cfg.From,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		send:    func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}
}

// Send mails the rendered postcard image as an attachment. Exactly one
// attempt is made; the caller decides what a failure means.
func (s *SMTPMailer) Send(ctx context.Context, toEmail, imagePath string, meta pipeline.MailMeta) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mail rate limiter interrupted")
	}

	sender := meta.SenderName
	if sender == "" {
		sender = "Someone"
	}
	greeting := ""
	if meta.RecipientName != "" {
		greeting = ", " + meta.RecipientName
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", fmt.Sprintf("A postcard from %s", sender))
	m.SetBody("text/html", fmt.Sprintf(bodyTemplate, sender, greeting))
	m.Attach(imagePath)

	if err := s.send(m); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "smtp delivery failed")
	}
	return nil
}
