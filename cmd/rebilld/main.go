// Command rebilld runs the recurring billing service: it mounts the
// TossPayments webhook handler, the subscription API and the billing run
// trigger on a single HTTP server. The Firestore client is constructed
// here once and injected; nothing below main holds SDK state.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gorebill/pkg/api"
	"github.com/mihaimyh/gorebill/pkg/gateway"
	"github.com/mihaimyh/gorebill/pkg/gateway/toss"
	"github.com/mihaimyh/gorebill/pkg/notify"
	brevonotify "github.com/mihaimyh/gorebill/pkg/notify/brevo"
	"github.com/mihaimyh/gorebill/pkg/rebill"
	zerologadapter "github.com/mihaimyh/gorebill/pkg/rebill/logger/zerolog"
	prommetrics "github.com/mihaimyh/gorebill/pkg/rebill/metrics/prometheus"
	firestorestorage "github.com/mihaimyh/gorebill/storage/firestore"
)

func main() {
	// Best-effort .env load for local development.
	_ = godotenv.Load()

	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger := zerologadapter.NewLogger(zl)

	cfg, err := loadConfig()
	if err != nil {
		zl.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to create firestore client")
	}
	defer fsClient.Close()

	store, err := firestorestorage.New(fsClient, firestorestorage.Config{})
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to create firestore storage")
	}

	metrics := prommetrics.DefaultMetrics("rebill")

	charger, err := toss.NewClient(toss.ClientConfig{
		SecretKey: cfg.TossSecretKey,
		Logger:    logger,
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to create toss client")
	}

	notifier := buildNotifier(cfg, zl)

	orch := rebill.NewOrchestrator(store, store, charger, rebill.OrchestratorConfig{
		Logger:  logger,
		Metrics: metrics,
	})

	provider, err := toss.NewProvider(gateway.Config{
		Applier:       orch.Applier(),
		SecretKey:     cfg.TossSecretKey,
		WebhookSecret: cfg.TossWebhookSecret,
		Notifier:      notifier,
		Logger:        logger,
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to create toss provider")
	}

	handler, err := api.NewHandler(api.Config{
		Orchestrator:  orch,
		Subscriptions: store,
		GetUserID:     api.FromHeader("X-User-ID"),
		TriggerToken:  cfg.TriggerToken,
		Logger:        logger,
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to create api handler")
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/webhooks/toss", provider.WebhookHandler())
	r.Get("/billing/subscription", handler.GetSubscription)
	r.Post("/billing/run", handler.TriggerRun)
	r.Post("/billing/charge", handler.BillUser)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunInterval > 0 {
		go runLoop(shutdownCtx, orch, notifier, zl, cfg.RunInterval)
	}

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			zl.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	zl.Info().Str("addr", cfg.Addr).Msg("rebilld starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Fatal().Err(err).Msg("server exited with error")
	}
}

// runLoop drives periodic billing sweeps when no external scheduler is
// configured. Deployments behind Cloud Scheduler leave RunInterval unset
// and POST /billing/run instead.
func runLoop(ctx context.Context, orch *rebill.Orchestrator, notifier notify.Notifier, zl zerolog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := orch.Run(ctx)
			if err != nil {
				zl.Error().Err(err).Msg("scheduled billing run failed")
				continue
			}
			if err := notifier.RunReport(ctx, summary); err != nil {
				zl.Warn().Err(err).Msg("failed to deliver run report")
			}
		}
	}
}

func buildNotifier(cfg config, zl zerolog.Logger) notify.Notifier {
	if cfg.BrevoAPIKey == "" {
		return notify.Noop{}
	}
	n, err := brevonotify.New(brevonotify.Config{
		APIKey:      cfg.BrevoAPIKey,
		FromEmail:   cfg.BrevoFromEmail,
		FromName:    cfg.BrevoFromName,
		ReportEmail: cfg.BrevoReportEmail,
		ResolveEmail: func(_ context.Context, userID string) (string, error) {
			// User IDs are email addresses in the default deployment.
			return userID, nil
		},
	})
	if err != nil {
		zl.Warn().Err(err).Msg("brevo notifier disabled")
		return notify.Noop{}
	}
	return n
}
