// Package provider defines the interface for release backends: the
// destinations a captured message can be forwarded to on request.
package provider

import (
	"context"
	"errors"

	"github.com/shineum/mailhits/internal/email"
)

// ErrNoRecipients is returned when a message is released without any
// destination address.
var ErrNoRecipients = errors.New("message has no recipients")

// Provider is the interface that release backends must implement.
// Each provider forwards a captured message to a real destination
// (e.g., stdout, AWS SES, an upstream SMTP relay).
type Provider interface {
	// Send forwards a captured message to msg.To through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
