package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"licensehub/internal/auth"
	"licensehub/internal/config"
	"licensehub/internal/httpserver"
	"licensehub/internal/licensing"
	"licensehub/internal/logger"
	"licensehub/internal/mailer"
	"licensehub/internal/metrics"
	"licensehub/internal/session"
	"licensehub/internal/store"
	"licensehub/internal/token"
)

const purgeInterval = time.Hour

func main() {
	envFile := pflag.String("env-file", "", "path to a .env file (defaults to ./.env when present)")
	migrateOnly := pflag.Bool("migrate-only", false, "apply the schema and exit")
	pflag.Parse()

	if err := run(*envFile, *migrateOnly); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(envFile string, migrateOnly bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	lg, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, lg)
	if err != nil {
		lg.Errorw("db connect failed", "driver", cfg.Database.Driver, "error", err)
		return err
	}
	st := store.New(db)
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		lg.Errorw("automigrate failed", "error", err)
		return err
	}
	if migrateOnly {
		lg.Infow("schema migrated")
		return nil
	}

	m := metrics.New()
	smtp, err := mailer.New(cfg.Mail, lg)
	if err != nil {
		return err
	}
	mail := mailer.NewAsync(smtp, cfg.Mail.SendTimeout, lg)
	defer mail.Wait()

	tokens := token.NewService(st,
		auth.NewSigner(cfg.Auth.AccessSecret), auth.NewSigner(cfg.Auth.RefreshSecret),
		token.Config{AccessTTL: token.DefaultAccessTTL, RefreshTTL: cfg.Auth.RefreshTTL}, lg, m)
	binder := licensing.NewBinder(st, mail,
		licensing.Options{AutoActivateOnFirstDevice: cfg.Auth.AutoActivateOnFirstDevice}, lg, m)
	ctrl := session.New(st, tokens, binder, mail,
		session.Options{BaseURL: cfg.App.BaseURL, ResetTTL: cfg.Auth.ResetTTL}, lg, m)

	if cfg.Seed.AdminEmail != "" {
		if _, err := ctrl.SeedAdmin(ctx, cfg.Seed.AdminEmail, cfg.Seed.AdminPassword); err != nil {
			lg.Errorw("admin seed failed", "error", err)
			return err
		}
	}

	go purgeExpiredTokens(ctx, st, lg)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpserver.NewRouter(httpserver.Deps{
			Store: st, Session: ctrl, Tokens: tokens, Binder: binder, Metrics: m, Logger: lg,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		lg.Infow("listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			lg.Errorw("server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	lg.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Errorw("graceful shutdown failed", "error", err)
		return err
	}
	return nil
}

// purgeExpiredTokens drops expired token rows until ctx is done.
func purgeExpiredTokens(ctx context.Context, st *store.Store, lg *zap.SugaredLogger) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := st.PurgeExpiredTokens(ctx, time.Now().UTC())
			if err != nil {
				lg.Warnw("token purge failed", "error", err)
				continue
			}
			if n > 0 {
				lg.Infow("purged expired tokens", "count", n)
			}
		}
	}
}
