package dispatch

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/cbruun/smsbridge/internal/gateway"
	"github.com/cbruun/smsbridge/internal/model"
)

// DefaultBatchLimit stays well under the gateway's 1000-per-call ceiling
// while keeping the blast radius of a failed call small.
const DefaultBatchLimit = 200

// GatewayClient is the slice of the gateway client the dispatcher needs.
type GatewayClient interface {
	SubmitBatch(ctx context.Context, acct model.Account, payloads []gateway.Payload) (*gateway.BatchResponse, error)
}

// Outcome is the per-message result of one dispatch attempt.
type Outcome struct {
	CorrelationID   string
	State           model.State
	GatewayID       string
	FailureCategory *model.FailureCategory
	Error           string
}

type Dispatcher struct {
	client        GatewayClient
	batchLimit    int
	publicBaseURL string

	onSubmitted func(ctx context.Context, correlationID, gatewayID string) error
	onFailed    func(ctx context.Context, correlationID string, category model.FailureCategory, reason string) error
}

func New(client GatewayClient, batchLimit int, publicBaseURL string) *Dispatcher {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Dispatcher{
		client:        client,
		batchLimit:    batchLimit,
		publicBaseURL: publicBaseURL,
	}
}

// WithHooks registers the persistence side effects: recording the
// gateway-assigned id on acceptance and the failure detail on rejection.
func (d *Dispatcher) WithHooks(
	onSubmitted func(ctx context.Context, correlationID, gatewayID string) error,
	onFailed func(ctx context.Context, correlationID string, category model.FailureCategory, reason string) error,
) *Dispatcher {
	d.onSubmitted = onSubmitted
	d.onFailed = onFailed
	return d
}

// Send submits the messages in bounded groups and reconciles the
// gateway's response onto each message by correlation id. One group's
// failure never aborts the remaining groups.
func (d *Dispatcher) Send(ctx context.Context, msgs []model.Message, acct model.Account) []Outcome {
	outcomes := make([]Outcome, 0, len(msgs))

	// Messages with no usable recipient never reach the gateway.
	sendable := make([]model.Message, 0, len(msgs))
	payloads := make([]gateway.Payload, 0, len(msgs))
	for _, m := range msgs {
		p, ok := gateway.BuildPayload(m, acct, d.publicBaseURL)
		if !ok {
			outcomes = append(outcomes, d.fail(ctx, m.CorrelationID, model.FailureInvalidRecipient, "no usable recipient number"))
			continue
		}
		sendable = append(sendable, m)
		payloads = append(payloads, p)
	}

	for start := 0; start < len(sendable); start += d.batchLimit {
		end := min(start+d.batchLimit, len(sendable))
		group := sendable[start:end]

		resp, err := d.client.SubmitBatch(ctx, acct, payloads[start:end])
		if err != nil {
			slog.Warn("batch submission failed", "group_size", len(group), "error", err)
			for _, m := range group {
				outcomes = append(outcomes, d.fail(ctx, m.CorrelationID, model.FailureServerError, err.Error()))
			}
			continue
		}

		outcomes = append(outcomes, d.reconcile(ctx, group, resp)...)
	}

	return outcomes
}

// reconcile joins one group's response back onto its messages, trying the
// strategies in priority order: per-message manifest keyed by the echoed
// correlation id, then a positional id list of exactly matching length.
// Anything else fails the whole group rather than guessing.
func (d *Dispatcher) reconcile(ctx context.Context, group []model.Message, resp *gateway.BatchResponse) []Outcome {
	if resp.Details != nil && len(resp.Details.Messages) > 0 {
		return d.reconcileManifest(ctx, group, resp.Details.Messages)
	}

	if len(resp.IDs) == len(group) {
		// Positional fallback: zip order, silently wrong if the gateway
		// reorders. Only trusted on an exact length match.
		out := make([]Outcome, 0, len(group))
		for i, m := range group {
			out = append(out, d.accept(ctx, m.CorrelationID, strconv.FormatInt(resp.IDs[i], 10)))
		}
		return out
	}

	out := make([]Outcome, 0, len(group))
	for _, m := range group {
		out = append(out, d.fail(ctx, m.CorrelationID, model.FailureUnrecognizedResponse, "gateway response matched no known format"))
	}
	return out
}

func (d *Dispatcher) reconcileManifest(ctx context.Context, group []model.Message, manifest []gateway.BatchMessage) []Outcome {
	byRef := make(map[string]gateway.BatchMessage, len(manifest))
	for _, item := range manifest {
		byRef[item.UserRef] = item
	}

	out := make([]Outcome, 0, len(group))
	for _, m := range group {
		item, ok := byRef[m.CorrelationID]
		if !ok {
			out = append(out, d.fail(ctx, m.CorrelationID, model.FailureMissingInResponse, "message absent from gateway response manifest"))
			continue
		}
		if reason, rejected := rejectionReason(item); rejected {
			out = append(out, d.fail(ctx, m.CorrelationID, model.FailureServerError, reason))
			continue
		}
		out = append(out, d.accept(ctx, m.CorrelationID, strconv.FormatInt(item.ID, 10)))
	}
	return out
}

func rejectionReason(item gateway.BatchMessage) (string, bool) {
	if item.ID == 0 {
		return "gateway assigned no message id", true
	}
	for _, rcpt := range item.Recipients {
		if rcpt.ErrorCode != nil && *rcpt.ErrorCode != "" {
			reason := *rcpt.ErrorCode
			if rcpt.Status != "" {
				reason = rcpt.Status + ": " + reason
			}
			return reason, true
		}
	}
	return "", false
}

func (d *Dispatcher) accept(ctx context.Context, correlationID, gatewayID string) Outcome {
	if d.onSubmitted != nil {
		if err := d.onSubmitted(ctx, correlationID, gatewayID); err != nil {
			slog.Error("recording submitted message failed", "correlation_id", correlationID, "error", err)
		}
	}
	return Outcome{
		CorrelationID: correlationID,
		State:         model.Submitted,
		GatewayID:     gatewayID,
	}
}

func (d *Dispatcher) fail(ctx context.Context, correlationID string, category model.FailureCategory, reason string) Outcome {
	if d.onFailed != nil {
		if err := d.onFailed(ctx, correlationID, category, reason); err != nil {
			slog.Error("recording failed message failed", "correlation_id", correlationID, "error", err)
		}
	}
	return Outcome{
		CorrelationID:   correlationID,
		State:           model.Failed,
		FailureCategory: &category,
		Error:           reason,
	}
}
