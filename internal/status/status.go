// Package status maps the gateway's delivery-status vocabulary onto the
// local message lifecycle and enforces the terminal-state policy. It is
// shared by the batch dispatcher (submission outcomes) and the webhook
// handler (delivery reports).
package status

import "github.com/cbruun/smsbridge/internal/model"

// Gateway status vocabulary. Values are defined by the gateway, not us.
const (
	GwDelivered     = "DELIVERED"
	GwAccepted      = "ACCEPTED"
	GwUndeliverable = "UNDELIVERABLE"
	GwRejected      = "REJECTED"
	GwExpired       = "EXPIRED"
	GwSkipped       = "SKIPPED"
)

// Transient statuses: the message is still in flight, nothing to record.
var intermediate = map[string]bool{
	"SCHEDULED": true,
	"BUFFERED":  true,
	"ENROUTE":   true,
	"UNKNOWN":   true,
}

// Intermediate reports whether the status describes an in-flight message.
// Intermediate reports are acknowledged and discarded.
func Intermediate(gatewayStatus string) bool {
	return intermediate[gatewayStatus]
}

// FromGateway translates a final gateway status into the local state and
// failure category. Unrecognized statuses are conservatively treated as
// failures of unknown cause.
func FromGateway(gatewayStatus string) (model.State, *model.FailureCategory) {
	switch gatewayStatus {
	case GwDelivered, GwAccepted:
		return model.Delivered, nil
	case GwUndeliverable:
		return model.Failed, categoryPtr(model.FailureUnregisteredRecipient)
	case GwRejected:
		return model.Failed, categoryPtr(model.FailureBlacklisted)
	case GwExpired, GwSkipped:
		return model.Failed, categoryPtr(model.FailureOther)
	default:
		return model.Failed, categoryPtr(model.FailureOther)
	}
}

// Decision is the outcome of reconciling one report against the current
// message state. Apply is false for no-ops: duplicates, stale reports
// against a failed message, and intermediate statuses.
type Decision struct {
	Apply           bool
	State           model.State
	FailureCategory *model.FailureCategory
}

// Reconcile applies the terminal-state policy:
//
//   - non-terminal messages take whatever the report says;
//   - a delivered message can only be downgraded to failed (the gateway
//     revising an earlier accepted verdict);
//   - a failed message is never resurrected;
//   - a report matching the current state is a no-op.
func Reconcile(current model.State, currentCategory *model.FailureCategory, gatewayStatus string) Decision {
	if Intermediate(gatewayStatus) {
		return Decision{}
	}

	next, category := FromGateway(gatewayStatus)

	switch {
	case !current.Terminal():
		// fall through to the change check
	case current == model.Delivered:
		if next != model.Failed {
			return Decision{}
		}
	case current == model.Failed:
		return Decision{}
	}

	if next == current && equalCategory(category, currentCategory) {
		return Decision{}
	}
	return Decision{Apply: true, State: next, FailureCategory: category}
}

func equalCategory(a, b *model.FailureCategory) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func categoryPtr(c model.FailureCategory) *model.FailureCategory {
	return &c
}
