// Package eventbus carries credential lifecycle events from the components
// that cause them to interested subscribers, such as the audit logger and
// metrics.
package eventbus

import (
	"context"
	"time"
)

// Topics published by authcore.
const (
	TopicLogin         = "auth.login"
	TopicAPIKeyCreated = "apikey.created"
	TopicAPIKeyRevoked = "apikey.revoked"
	TopicRefreshFailed = "oauth.refresh_failed"
)

// Subscriber handles one event. Subscribers may be called concurrently.
type Subscriber func(ctx context.Context, data any) error

// Publisher is the half of the bus that components depend on.
type Publisher interface {
	Publish(topic string, data any)
}

// EventBus is a publish/subscribe bus.
type EventBus interface {
	Publisher

	Subscribe(topic string, subscriber Subscriber)

	// Wait for in-flight events. Publishers should be stopped first, the bus
	// does not reject new events.
	Wait(ctx context.Context) error

	// Shutdown stops the workers once in-flight events are processed.
	Shutdown(ctx context.Context) error
}

// LoginEvent is published after a successful OAuth or password login.
type LoginEvent struct {
	UserID   string
	Email    string
	Provider string
	NewUser  bool
	At       time.Time
}

// APIKeyEvent is published when a key is created or revoked. It never carries
// key material.
type APIKeyEvent struct {
	UserID string
	KeyID  string
	Name   string
	At     time.Time
}

// RefreshFailedEvent is published when a provider rejects a token refresh.
type RefreshFailedEvent struct {
	UserID   string
	Provider string
	Err      error
	At       time.Time
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, any) {}
