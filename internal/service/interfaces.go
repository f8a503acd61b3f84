package service

import (
	"context"

	"github.com/pesio-ai/be-form-workflows/internal/notify"
)

// IdentityDirectory resolves user ids to display names. Implemented by
// client.IdentityGRPCClient and client.StaticDirectory.
type IdentityDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// EventSink accepts post-commit notifications. Implemented by
// notify.Dispatcher; Enqueue must not block.
type EventSink interface {
	Enqueue(evt *notify.Event) bool
}

type nopSink struct{}

func (nopSink) Enqueue(*notify.Event) bool { return false }
