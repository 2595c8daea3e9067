package notification

import (
	"context"
	"time"
)

// Notifier delivers one message body to the external channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Message 待投递通知
type Message struct {
	ID        string
	Body      string
	CreatedAt time.Time
	Attempts  int
}
