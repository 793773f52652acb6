package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cbruun/smsbridge/internal/account"
	"github.com/cbruun/smsbridge/internal/gateway"
	"github.com/cbruun/smsbridge/internal/model"
	"github.com/cbruun/smsbridge/internal/repo"
	"github.com/cbruun/smsbridge/internal/scheduler"
)

type BalanceClient interface {
	GetBalance(ctx context.Context, acct model.Account) (gateway.Balance, error)
}

type Handler struct {
	sched    *scheduler.Scheduler
	repo     repo.MessageRepository
	accounts account.Store
	gateway  BalanceClient

	// requireSignature rejects unsigned delivery-report callbacks.
	requireSignature bool
}

func NewHandler(s *scheduler.Scheduler, r repo.MessageRepository, accounts account.Store, gw BalanceClient, requireSignature bool) *Handler {
	return &Handler{
		sched:            s,
		repo:             r,
		accounts:         accounts,
		gateway:          gw,
		requireSignature: requireSignature,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

type enqueueRequest struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

func (h *Handler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Recipient) == "" || req.Body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "recipient and body are required"})
		return
	}

	msg, err := h.repo.Enqueue(r.Context(), strings.TrimSpace(req.Recipient), req.Body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, toMessageView(msg))
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	state := model.State(r.URL.Query().Get("state"))
	if state == "" {
		state = model.Pending
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.repo.ListByState(r.Context(), state, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	views := make([]messageView, 0, len(items))
	for _, m := range items {
		views = append(views, toMessageView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

// Balance doubles as the connection test: a successful round trip to
// /rest/me proves base URL and token are usable.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.Get(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "account config unavailable"})
		return
	}

	bal, err := h.gateway.GetBalance(r.Context(), acct)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credit": bal.Credit, "currency": bal.Currency})
}

type messageView struct {
	CorrelationID   string     `json:"correlationId"`
	Recipient       string     `json:"recipient"`
	Body            string     `json:"body"`
	State           string     `json:"state"`
	FailureCategory *string    `json:"failureCategory,omitempty"`
	GatewayID       *string    `json:"gatewayId,omitempty"`
	LastError       *string    `json:"lastError,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	SentAt          *time.Time `json:"sentAt,omitempty"`
}

func toMessageView(m model.Message) messageView {
	v := messageView{
		CorrelationID: m.CorrelationID,
		Recipient:     m.Recipient,
		Body:          m.Body,
		State:         string(m.State),
		GatewayID:     m.GatewayID,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		SentAt:        m.SentAt,
	}
	if m.FailureCategory != nil {
		s := string(*m.FailureCategory)
		v.FailureCategory = &s
	}
	return v
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
