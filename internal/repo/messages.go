package repo

import (
	"context"
	"errors"

	"github.com/cbruun/smsbridge/internal/model"
)

// ErrNotFound is returned when a lookup matches no message.
var ErrNotFound = errors.New("message not found")

// MessageRepository owns persistence of outbound messages. Per-message
// updates must be atomic: concurrent delivery reports for different
// gateway ids must not interfere, and re-applying the same report must be
// a safe no-op.
type MessageRepository interface {
	// Enqueue creates a pending message with a fresh correlation id.
	Enqueue(ctx context.Context, recipient, body string) (model.Message, error)

	// ClaimPending leases up to limit pending messages for dispatch.
	ClaimPending(ctx context.Context, limit int) ([]model.Message, error)

	// MarkSubmitted records the gateway-assigned id after the gateway
	// accepted the message.
	MarkSubmitted(ctx context.Context, correlationID, gatewayID string) error

	// MarkFailed moves a message to its terminal failed state with the
	// failure category and error detail attached.
	MarkFailed(ctx context.Context, correlationID string, category model.FailureCategory, reason string) error

	// FindByGatewayID resolves a delivery report to a tracked message.
	FindByGatewayID(ctx context.Context, gatewayID string) (model.Message, error)

	// ApplyDelivery persists a reconciled delivery outcome. The write is
	// guarded by the terminal-state policy so a stale or duplicate report
	// never clobbers a terminal message; it reports whether a row changed.
	ApplyDelivery(ctx context.Context, gatewayID string, state model.State, category *model.FailureCategory, errText string) (bool, error)

	// ListByState pages through messages in a given lifecycle state.
	ListByState(ctx context.Context, state model.State, limit, offset int) ([]model.Message, error)
}
