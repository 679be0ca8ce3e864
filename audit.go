package authcore

import (
	"context"
	"fmt"

	"github.com/dpup/authcore/eventbus"
	"github.com/dpup/authcore/logging"
)

// subscribeAudit logs credential lifecycle events.
func subscribeAudit(bus eventbus.EventBus) {
	for _, topic := range []string{
		eventbus.TopicLogin,
		eventbus.TopicAPIKeyCreated,
		eventbus.TopicAPIKeyRevoked,
		eventbus.TopicRefreshFailed,
	} {
		bus.Subscribe(topic, auditEvent)
	}
}

func auditEvent(ctx context.Context, data any) error {
	switch e := data.(type) {
	case eventbus.LoginEvent:
		logging.Infow(ctx, "audit: login",
			"user.id", e.UserID, "provider", e.Provider, "new_user", e.NewUser, "at", e.At)
	case eventbus.APIKeyEvent:
		logging.Infow(ctx, "audit: api key",
			"user.id", e.UserID, "key.id", e.KeyID, "key.name", e.Name, "at", e.At)
	case eventbus.RefreshFailedEvent:
		logging.Warnw(ctx, "audit: provider refresh failed",
			"user.id", e.UserID, "provider", e.Provider, "error", e.Err, "at", e.At)
	default:
		logging.Debugw(ctx, "audit: unrecognized event", "type", fmt.Sprintf("%T", data))
	}
	return nil
}
