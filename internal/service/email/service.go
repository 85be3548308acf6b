// internal/service/email/service.go
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidConfig     = errors.New("email: invalid config")
	ErrFailedToSendEmail = errors.New("email: failed to send")
)

// Message is one outgoing HTML email. Tag groups messages by purpose.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	Tag      string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidConfig)
	}
	return nil
}

// Sender delivers a message through some transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
