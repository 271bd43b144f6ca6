package mail

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"

	"github.com/youruser/chainoftrust/internal/config"
	"github.com/youruser/chainoftrust/internal/log"
)

// SMTPProvider sends through an SMTP relay with opportunistic TLS.
type SMTPProvider struct {
	from   string
	domain string
	client *gomail.Client
}

func NewSMTPProvider(cfg config.MailConfig) (*SMTPProvider, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPProvider{from: cfg.From, domain: cfg.Host, client: client}, nil
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, msg *Message) (string, error) {
	m, id, err := p.build(msg)
	if err != nil {
		return "", err
	}
	if err := p.client.DialAndSendWithContext(ctx, m); err != nil {
		log.ErrorErr(log.CatMail, "smtp send failed", err, "to", msg.To)
		return "", fmt.Errorf("smtp send: %w", err)
	}
	log.Info(log.CatMail, "mail sent", "to", msg.To, "id", id)
	return id, nil
}

func (p *SMTPProvider) build(msg *Message) (*gomail.Msg, string, error) {
	m := gomail.NewMsg()
	if err := m.From(p.from); err != nil {
		return nil, "", fmt.Errorf("from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, "", fmt.Errorf("to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	for _, a := range msg.Attachments {
		name := a.Name
		if name == "" {
			name = filepath.Base(a.Path)
		}
		m.AttachFile(a.Path, gomail.WithFileName(name))
	}

	id := uuid.NewString()
	domain := strings.TrimSpace(p.domain)
	if domain == "" {
		domain = "localhost"
	}
	m.SetGenHeader(gomail.HeaderMessageID, fmt.Sprintf("<%s@%s>", id, domain))
	return m, id, nil
}
