package emailsvc

import (
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
)

// smtpService sends mails through an authenticated SMTP relay (MAILER_* settings).
type smtpService struct {
	consoleService // message formatting

	addr   string
	auth   smtp.Auth
	logger core.Logger
}

var _ core.EmailService = (*smtpService)(nil)

func NewSMTPService(tmpls *core.EmailTemplates, logger core.Logger, conf *core.Config) core.EmailService {
	return &smtpService{
		consoleService: consoleService{
			tmpls:            tmpls,
			defaultFromEmail: conf.DefaultFromEmail,
			subjPrefix:       "[" + conf.AppName + "] ",
		},
		addr:   net.JoinHostPort(conf.Mailer.Host, strconv.Itoa(conf.Mailer.Port)),
		auth:   smtp.PlainAuth("", conf.Mailer.Username, conf.Mailer.Password, conf.Mailer.Host),
		logger: logger,
	}
}

func (svc smtpService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go func(msg *core.EmailMessage) {
			if err := svc.send(msg); err != nil {
				svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
			}
		}(msg)
	}
}

func (svc smtpService) send(msg *core.EmailMessage) error {
	if err := svc.tmpls.Render(msg); err != nil {
		return errors.Wrap(err, "rendering email")
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return nil
	}
	body, err := svc.format(*msg, false)
	if err != nil {
		return err
	}

	rcpts := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	for _, group := range [][]mail.Address{msg.To, msg.Cc, msg.Bcc} {
		for _, a := range group {
			rcpts = append(rcpts, a.Address)
		}
	}
	return errors.Wrap(smtp.SendMail(svc.addr, svc.auth, svc.defaultFromEmail.Address, rcpts, []byte(body)), "smtp")
}
