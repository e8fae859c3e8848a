package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/app"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/clock"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/config"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/httpx"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/observability"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/payment"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/postgres"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/redisx"
	"github.com/Ahmed-Saalah/MarketCore-sub000/migrations"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load("payment")

	log := observability.NewLogger(cfg.ServiceName, observability.LevelFromEnv())
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("payment service stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db, "payment"); err != nil {
		return err
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	dedup := redisx.NewDedup(rdb)

	b, err := app.OpenBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	// The provider is the sandbox until a real gateway client exists; the webhook endpoint
	// below is the same either way.
	gw := payment.NewSandbox(cfg.Payment.WebhookSecret)
	svc := payment.NewService(
		postgres.NewPaymentRepository(db),
		gw,
		bus.NewEmitter(b, cfg.ServiceName),
		clock.NewSystem(),
		log,
		cfg.Payment.WebhookSecret,
		payment.WithWebhookDedup(dedup),
		payment.WithWebhookTolerance(cfg.Payment.WebhookTolerance),
	)
	if cfg.Payment.AutoConfirm {
		gw.AutoConfirm(svc.HandleWebhook, 0)
		defer gw.Wait()
	}
	if err := app.Bind(ctx, b, svc.Routes(), dedup, log); err != nil {
		return err
	}

	router := httpx.NewRouter(log)
	httpx.NewPaymentsHandler(svc, log).Register(router)

	return app.Serve(ctx, &http.Server{Addr: cfg.HTTPAddr, Handler: router}, log)
}
