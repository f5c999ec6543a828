package ports

import "context"

// EventPublisher notifies other instances and downstream consumers about
// session lifecycle events. Publishing is best effort; the store is the
// source of truth for revocation.
type EventPublisher interface {
	// PublishLogout announces that an assertion was revoked by its owner.
	PublishLogout(ctx context.Context, address, assertionID string) error

	// PublishRevocation announces that assertions were revoked by the
	// service (incident response or reuse cascade).
	PublishRevocation(ctx context.Context, address string, assertionIDs []string) error

	// PublishReuseAlert announces that a rotated refresh token was presented
	// again outside the grace window, which signals token theft.
	PublishReuseAlert(ctx context.Context, address, refreshID string) error
}
