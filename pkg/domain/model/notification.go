package model

import "context"

type NotificationSender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}
