package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cbruun/smsbridge/internal/account"
	"github.com/cbruun/smsbridge/internal/api"
	"github.com/cbruun/smsbridge/internal/balance"
	"github.com/cbruun/smsbridge/internal/config"
	"github.com/cbruun/smsbridge/internal/dispatch"
	"github.com/cbruun/smsbridge/internal/gateway"
	"github.com/cbruun/smsbridge/internal/model"
	"github.com/cbruun/smsbridge/internal/repo"
	"github.com/cbruun/smsbridge/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	slog.Info("smsbridge starting",
		"addr", cfg.Server.Address,
		"dispatch_interval", cfg.Dispatch.Interval.String(),
		"batch_limit", cfg.Dispatch.BatchLimit,
	)

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		slog.Error("opening postgres failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	accounts := account.NewRedisStore(rdb)
	if err := seedAccount(context.Background(), accounts, cfg); err != nil {
		slog.Error("seeding account config failed", "error", err)
		os.Exit(1)
	}

	messages := repo.NewPostgresMessageRepo(db)
	gwClient := gateway.NewClient(cfg.Gateway.Timeout)

	dispatcher := dispatch.New(gwClient, cfg.Dispatch.BatchLimit, cfg.Webhook.PublicBaseURL).
		WithHooks(messages.MarkSubmitted,
			func(ctx context.Context, correlationID string, category model.FailureCategory, reason string) error {
				return messages.MarkFailed(ctx, correlationID, category, reason)
			})

	dispatchTick := func(ctx context.Context) {
		acct, err := accounts.Get(ctx)
		if err != nil {
			slog.Warn("dispatch tick skipped, account config unavailable", "error", err)
			return
		}
		pending, err := messages.ClaimPending(ctx, cfg.Dispatch.ClaimLimit)
		if err != nil {
			slog.Error("claiming pending messages failed", "error", err)
			return
		}
		if len(pending) == 0 {
			return
		}
		outcomes := dispatcher.Send(ctx, pending, acct)

		var submitted, failed int
		for _, o := range outcomes {
			if o.State == model.Submitted {
				submitted++
			} else {
				failed++
			}
		}
		slog.Info("dispatch tick done", "claimed", len(pending), "submitted", submitted, "failed", failed)
	}

	dispatchSched, err := scheduler.New("dispatch", cfg.Dispatch.Interval, dispatchTick)
	if err != nil {
		slog.Error("creating dispatch scheduler failed", "error", err)
		os.Exit(1)
	}
	dispatchSched.Start()
	defer dispatchSched.Stop()

	watcher := balance.NewWatcher(gwClient, accounts, nil)
	balanceSched, err := scheduler.New("balance", cfg.Balance.Interval, watcher.Check)
	if err != nil {
		slog.Error("creating balance scheduler failed", "error", err)
		os.Exit(1)
	}
	balanceSched.Start()
	defer balanceSched.Stop()

	handler := api.NewHandler(dispatchSched, messages, accounts, gwClient, cfg.Webhook.RequireSignature)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: api.Router(handler),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}
}

// seedAccount writes the env-derived account snapshot into the store on
// first boot. An existing snapshot wins: the store is the live source of
// truth for account settings.
func seedAccount(ctx context.Context, store account.Store, cfg *config.Config) error {
	_, err := store.Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, account.ErrNotFound) {
		return err
	}

	acct := model.Account{
		BaseURL:         cfg.Gateway.BaseURL,
		APIToken:        cfg.Gateway.APIToken,
		Sender:          cfg.Gateway.Sender,
		ServiceLabel:    cfg.Gateway.ServiceLabel,
		WebhookSecret:   cfg.Webhook.Secret,
		MinCredits:      cfg.Gateway.MinCredits,
		CheckMinCredits: cfg.Gateway.CheckMinCredits,
	}
	slog.Info("seeding account config from environment")
	return store.Set(ctx, acct)
}
