package model

import "time"

type State string

const (
	Pending   State = "pending"
	Submitted State = "submitted"
	Delivered State = "delivered"
	Failed    State = "failed"
)

// Terminal reports whether the state admits no further automatic
// transition, other than the delivered-to-failed downgrade.
func (s State) Terminal() bool {
	return s == Delivered || s == Failed
}

type FailureCategory string

const (
	FailureInvalidRecipient      FailureCategory = "invalid_recipient"
	FailureUnregisteredRecipient FailureCategory = "unregistered_recipient"
	FailureBlacklisted           FailureCategory = "blacklisted"
	FailureMissingInResponse     FailureCategory = "missing_in_response"
	FailureUnrecognizedResponse  FailureCategory = "unrecognized_response_format"
	FailureServerError           FailureCategory = "server_error"
	FailureOther                 FailureCategory = "other"
)

type Message struct {
	ID            int64
	CorrelationID string
	Recipient     string
	Body          string
	State         State

	FailureCategory *FailureCategory
	GatewayID       *string
	LastError       *string

	CreatedAt time.Time
	UpdatedAt time.Time
	SentAt    *time.Time
}
