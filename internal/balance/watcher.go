// Package balance implements the periodic credit check against the
// gateway account, alerting when the balance drops under the configured
// minimum.
package balance

import (
	"context"
	"log/slog"

	"github.com/cbruun/smsbridge/internal/account"
	"github.com/cbruun/smsbridge/internal/gateway"
	"github.com/cbruun/smsbridge/internal/model"
)

type BalanceClient interface {
	GetBalance(ctx context.Context, acct model.Account) (gateway.Balance, error)
}

// Notifier receives the low-credit alert. The host application decides
// what a notification is; the default just logs.
type Notifier interface {
	LowCredits(ctx context.Context, acct model.Account, bal gateway.Balance)
}

type Watcher struct {
	client   BalanceClient
	accounts account.Store
	notifier Notifier
}

func NewWatcher(client BalanceClient, accounts account.Store, notifier Notifier) *Watcher {
	if notifier == nil {
		notifier = SlogNotifier{}
	}
	return &Watcher{client: client, accounts: accounts, notifier: notifier}
}

// Check runs one balance poll. Best effort: every failure is logged and
// swallowed, the next tick tries again.
func (w *Watcher) Check(ctx context.Context) {
	acct, err := w.accounts.Get(ctx)
	if err != nil {
		slog.Warn("balance check: account config unavailable", "error", err)
		return
	}
	if !acct.CheckMinCredits {
		slog.Debug("balance check disabled for account")
		return
	}

	bal, err := w.client.GetBalance(ctx, acct)
	if err != nil {
		slog.Warn("balance check: gateway query failed", "error", err)
		return
	}

	if bal.Credit < acct.MinCredits {
		slog.Warn("gateway credits below minimum",
			"credit", bal.Credit, "currency", bal.Currency, "min", acct.MinCredits)
		w.notifier.LowCredits(ctx, acct, bal)
		return
	}
	slog.Info("gateway credit balance ok",
		"credit", bal.Credit, "currency", bal.Currency, "min", acct.MinCredits)
}

// SlogNotifier is the default alert sink.
type SlogNotifier struct{}

func (SlogNotifier) LowCredits(ctx context.Context, acct model.Account, bal gateway.Balance) {
	slog.Warn("low SMS credits alert",
		"sender", acct.SenderName(), "credit", bal.Credit, "currency", bal.Currency, "min", acct.MinCredits)
}
