package mail

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/youruser/chainoftrust/internal/log"
)

// LogProvider records messages in the log instead of sending them. It is the
// development default.
type LogProvider struct{}

func (LogProvider) Name() string { return "log" }

func (LogProvider) Send(ctx context.Context, msg *Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, a := range msg.Attachments {
		if _, err := os.Stat(a.Path); err != nil {
			return "", fmt.Errorf("attachment %s: %w", a.Path, err)
		}
	}
	id := uuid.NewString()
	log.Info(log.CatMail, "mail (not sent, log driver)",
		"id", id, "to", msg.To, "subject", msg.Subject, "attachments", len(msg.Attachments))
	return id, nil
}
