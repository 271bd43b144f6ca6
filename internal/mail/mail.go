// Package mail delivers registration mail.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/youruser/chainoftrust/internal/config"
)

// Attachment is a file sent along with a message.
type Attachment struct {
	Path string
	// Name is the filename shown to the recipient; defaults to the base of Path.
	Name string
}

// Message is a rendered mail ready for delivery.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Provider delivers a message and returns the provider's message ID.
type Provider interface {
	Send(ctx context.Context, msg *Message) (string, error)
	Name() string
}

// NewProvider builds the provider selected by cfg.Driver.
func NewProvider(cfg config.MailConfig) (Provider, error) {
	switch cfg.Driver {
	case "smtp":
		return NewSMTPProvider(cfg)
	case "log", "":
		return LogProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported mail driver %q", cfg.Driver)
	}
}

var welcomeTmpl = template.Must(template.New("welcome").Parse(`<html>
  <body>
    <p><strong>Greetings, Subject {{.SubjectNo}}.</strong></p>
    <p>Your registration has been acknowledged.<br>
    Enclosed is your Identification Card. Keep it secure. It will be required for entry.<br><br>
    <strong>Your username:</strong> <span style='font-size:1.2em'>{{.Username}}</span><br>
    <strong>Your personal access key:</strong> <span style='font-size:1.2em'>{{.Key}}</span><br>
    <span style='font-weight:bold; color:#b00;'>*This is confidential. Do not share it. Do not lose it.*</span><br><br>
    You'll receive further instructions very soon.<br><br>
    <strong>- The Lab<br>Chain of Trust</strong>
    </p>
  </body>
</html>
`))

// WelcomeSubject is the subject line of the card mail.
func WelcomeSubject(subjectNo string) string {
	return fmt.Sprintf("⚠️ WELCOME TO THE LAB | Subject #%s | CONFIDENTIAL", subjectNo)
}

// Welcome renders the card mail for a freshly registered subject.
func Welcome(to, subjectNo, username, key, cardPath string) (*Message, error) {
	var buf bytes.Buffer
	err := welcomeTmpl.Execute(&buf, struct {
		SubjectNo, Username, Key string
	}{subjectNo, username, key})
	if err != nil {
		return nil, fmt.Errorf("render welcome: %w", err)
	}
	return &Message{
		To:          to,
		Subject:     WelcomeSubject(subjectNo),
		HTML:        buf.String(),
		Attachments: []Attachment{{Path: cardPath}},
	}, nil
}
