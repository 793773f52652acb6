package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cbruun/smsbridge/internal/model"
	"github.com/cbruun/smsbridge/internal/repo"
	"github.com/cbruun/smsbridge/internal/status"
)

// SignatureHeader carries the HS256 JWT the gateway signs each delivery
// report with.
const SignatureHeader = "X-Gwapi-Signature"

type deliveryPayload struct {
	ID      any    `json:"id"`
	Status  string `json:"status"`
	Error   string `json:"error"`
	MSISDN  any    `json:"msisdn"`
	UserRef string `json:"userref"`
	Time    int64  `json:"time"`
}

// DeliveryReport handles POST /gatewayapi/dlr: authenticate, parse,
// resolve, reconcile, acknowledge. The gateway treats the callback as
// fire-and-forget, so everything after successful authentication and
// parsing answers 200 — including unknown message ids and no-ops.
func (h *Handler) DeliveryReport(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.Get(r.Context())
	if err != nil {
		slog.Error("delivery report: account config unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errEnvelope("account configuration unavailable"))
		return
	}
	if acct.WebhookSecret == "" {
		slog.Error("delivery report: webhook secret not configured")
		writeJSON(w, http.StatusServiceUnavailable, errEnvelope("webhook secret not configured"))
		return
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		if h.requireSignature {
			slog.Warn("delivery report: missing signature header")
			writeJSON(w, http.StatusUnauthorized, errEnvelope("missing "+SignatureHeader+" header"))
			return
		}
		slog.Debug("delivery report: unsigned callback accepted, signature not required")
	} else if code, msg := verifySignature(sig, acct.WebhookSecret); code != 0 {
		writeJSON(w, code, errEnvelope(msg))
		return
	}

	report, ok := parseDeliveryPayload(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errEnvelope("missing required fields (id, status) in payload"))
		return
	}

	msg, err := h.repo.FindByGatewayID(r.Context(), report.GatewayID)
	if errors.Is(err, repo.ErrNotFound) {
		// Acknowledge anyway: the gateway would otherwise retry forever
		// for a message this system never tracked or has purged.
		slog.Warn("delivery report for unknown gateway id", "gateway_id", report.GatewayID, "status", report.Status)
		writeJSON(w, http.StatusOK, okEnvelope("message not found but acknowledged"))
		return
	}
	if err != nil {
		slog.Error("delivery report: message lookup failed", "gateway_id", report.GatewayID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errEnvelope("message lookup failed"))
		return
	}

	decision := status.Reconcile(msg.State, msg.FailureCategory, report.Status)
	if !decision.Apply {
		slog.Info("delivery report is a no-op",
			"gateway_id", report.GatewayID, "status", report.Status, "state", string(msg.State))
		writeJSON(w, http.StatusOK, okEnvelope("no state change"))
		return
	}

	changed, err := h.repo.ApplyDelivery(r.Context(), report.GatewayID, decision.State, decision.FailureCategory, report.Error)
	if err != nil {
		slog.Error("delivery report: state update failed", "gateway_id", report.GatewayID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errEnvelope("state update failed"))
		return
	}
	if changed {
		slog.Info("delivery report applied",
			"gateway_id", report.GatewayID,
			"from", string(msg.State),
			"to", string(decision.State),
			"gateway_status", report.Status)
	}

	writeJSON(w, http.StatusOK, okEnvelope("webhook processed successfully"))
}

// verifySignature returns a non-zero HTTP status plus a message on
// rejection, and 0 when the token checks out.
func verifySignature(sig, secret string) (int, string) {
	token, err := jwt.Parse(sig, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			slog.Warn("delivery report: signature token expired")
			return http.StatusUnauthorized, "token has expired"
		}
		slog.Warn("delivery report: signature verification failed", "error", err)
		return http.StatusForbidden, "invalid token"
	}
	if !token.Valid {
		return http.StatusForbidden, "invalid token"
	}
	return 0, ""
}

func parseDeliveryPayload(r *http.Request) (model.DeliveryReport, bool) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var payload deliveryPayload
	if err := dec.Decode(&payload); err != nil {
		slog.Warn("delivery report: invalid JSON body", "error", err)
		return model.DeliveryReport{}, false
	}

	gatewayID := stringifyID(payload.ID)
	if gatewayID == "" || payload.Status == "" {
		return model.DeliveryReport{}, false
	}

	return model.DeliveryReport{
		GatewayID: gatewayID,
		Status:    payload.Status,
		Error:     payload.Error,
		MSISDN:    stringifyID(payload.MSISDN),
		UserRef:   payload.UserRef,
		Time:      payload.Time,
	}, true
}

// stringifyID normalizes the gateway's id field, which has been observed
// both as a JSON number and as a string.
func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

func okEnvelope(msg string) map[string]any {
	return map[string]any{"status": "ok", "message": msg}
}

func errEnvelope(msg string) map[string]any {
	return map[string]any{"status": "error", "message": msg}
}
