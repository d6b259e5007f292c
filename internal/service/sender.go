package service

import "context"

// Notification channels.
const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// Content is a rendered notification. Subject is ignored by channels that
// have no notion of it.
type Content struct {
	Subject string
	Body    string
}

// Sender delivers content to a single destination. Implementations must
// honour ctx cancellation and deadlines.
type Sender interface {
	Send(ctx context.Context, destination string, content Content) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, destination string, content Content) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, destination string, content Content) error {
	return f(ctx, destination, content)
}
