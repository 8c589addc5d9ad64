package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"csebu.org/internal/auth"
	"csebu.org/internal/booking"
	"csebu.org/internal/config"
	"csebu.org/internal/httpapi"
	"csebu.org/internal/obs"
	"csebu.org/internal/payment"
	"csebu.org/internal/payment/sslcommerz"
	"csebu.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "csebu-api",
		Short:         "CSE department API server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "", "path to a YAML config file (default $"+config.FileEnv+")")

	if err := root.Execute(); err != nil {
		obs.Error("api exited", map[string]any{"error": err})
		os.Exit(1)
	}
}

// stores groups the persistence backends chosen at startup.
type stores struct {
	users    auth.UserStore
	payments payment.Store
	bookings booking.Store
	ready    httpapi.ReadyProbe
	close    func() error
}

func openStores(cfg *config.Config) (stores, error) {
	if cfg.DatabaseURL == "" {
		obs.Warn("DATABASE_URL not set, using in-memory stores", nil)
		return stores{
			users:    auth.NewMemoryStore(),
			payments: payment.NewInMemory(),
			bookings: booking.NewInMemory(),
			close:    func() error { return nil },
		}, nil
	}
	db, err := pg.Open(cfg.DatabaseURL, pg.Pool{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("open database: %w", err)
	}
	return stores{
		users:    db,
		payments: db,
		bookings: db,
		ready:    httpapi.ReadyProbe{DB: db.DB()},
		close:    db.Close,
	}, nil
}

func openPayments(cfg *config.Config, store payment.Store) (*payment.Manager, error) {
	if !cfg.PaymentsEnabled() {
		obs.Warn("SSL_STORE_ID not set, payments disabled", nil)
		return nil, nil
	}
	gw, err := sslcommerz.New(sslcommerz.Config{
		StoreID:       cfg.Gateway.StoreID,
		StorePassword: cfg.Gateway.StorePassword,
		Live:          cfg.Gateway.Live,
		Timeout:       cfg.Gateway.Timeout,
		Retries:       cfg.Gateway.Retries,
	})
	if err != nil {
		return nil, err
	}
	return payment.NewManager(store, gw, payment.Config{
		ServerOrigin:  cfg.ServerOrigin,
		AppOrigin:     cfg.AppOrigin,
		GatewayBudget: cfg.Gateway.Budget,
	}), nil
}

func run(ctx context.Context, cfg *config.Config) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			obs.Warn("close stores", map[string]any{"error": err})
		}
	}()

	tokens, err := auth.NewTokenService(cfg.JWT.Secret, auth.WithIssuer(cfg.JWT.Issuer))
	if err != nil {
		return err
	}
	users := auth.NewService(st.users, tokens)
	if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
		if _, created, err := users.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.Name); err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		} else if created {
			obs.Info("admin account created", map[string]any{"email": auth.NormalizeEmail(cfg.Admin.Email)})
		}
	}
	payments, err := openPayments(cfg, st.payments)
	if err != nil {
		return err
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Options{
		Auth:           users,
		Cookies:        auth.NewCookies(auth.CookieConfig{Secure: cfg.Production()}),
		Payments:       payments,
		Bookings:       booking.NewService(st.bookings),
		Ready:          st.ready,
		Version:        version,
		CORSOrigins:    cfg.ClientOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AuthRateBurst:  cfg.HTTP.AuthRateBurst,
		AuthRatePerSec: cfg.HTTP.AuthRatePerSec,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.Info("starting csebu-api", map[string]any{"version": version, "addr": srv.Addr, "env": cfg.Env})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	obs.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	obs.Info("stopped", nil)
	return nil
}
