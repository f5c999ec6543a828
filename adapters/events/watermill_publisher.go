package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/oceanix/walletgate/ports"
)

// Topics other instances and downstream consumers subscribe to.
const (
	TopicLogout     = "auth.logout"
	TopicRevocation = "auth.revoked"
	TopicReuseAlert = "auth.reuse_alert"
)

// LogoutEvent announces a user-initiated revocation.
type LogoutEvent struct {
	Address     string    `json:"address"`
	AssertionID string    `json:"assertion_id"`
	At          time.Time `json:"at"`
}

// RevocationEvent announces a service-initiated revocation sweep.
type RevocationEvent struct {
	Address      string    `json:"address"`
	AssertionIDs []string  `json:"assertion_ids"`
	At           time.Time `json:"at"`
}

// ReuseAlertEvent announces a rotated refresh token replayed outside the
// grace window. Consumers should treat this as an account-compromise signal.
type ReuseAlertEvent struct {
	Address   string    `json:"address"`
	RefreshID string    `json:"refresh_id"`
	At        time.Time `json:"at"`
}

// WatermillPublisher implements the EventPublisher port on watermill.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher wraps a watermill publisher.
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) PublishLogout(ctx context.Context, address, assertionID string) error {
	return p.publish(TopicLogout, LogoutEvent{
		Address:     address,
		AssertionID: assertionID,
		At:          time.Now().UTC(),
	})
}

func (p *WatermillPublisher) PublishRevocation(ctx context.Context, address string, assertionIDs []string) error {
	return p.publish(TopicRevocation, RevocationEvent{
		Address:      address,
		AssertionIDs: assertionIDs,
		At:           time.Now().UTC(),
	})
}

func (p *WatermillPublisher) PublishReuseAlert(ctx context.Context, address, refreshID string) error {
	return p.publish(TopicReuseAlert, ReuseAlertEvent{
		Address:   address,
		RefreshID: refreshID,
		At:        time.Now().UTC(),
	})
}

func (p *WatermillPublisher) publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NopPublisher discards all events. Used for single-instance deployments
// without a broker and in tests.
type NopPublisher struct{}

func (NopPublisher) PublishLogout(context.Context, string, string) error        { return nil }
func (NopPublisher) PublishRevocation(context.Context, string, []string) error { return nil }
func (NopPublisher) PublishReuseAlert(context.Context, string, string) error   { return nil }

var (
	_ ports.EventPublisher = (*WatermillPublisher)(nil)
	_ ports.EventPublisher = NopPublisher{}
)
