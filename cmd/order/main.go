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
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/orders"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/postgres"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/redisx"
	"github.com/Ahmed-Saalah/MarketCore-sub000/migrations"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load("order")

	log := observability.NewLogger(cfg.ServiceName, observability.LevelFromEnv())
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("order service stopped", zap.Error(err))
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

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db, "order"); err != nil {
		return err
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	b, err := app.OpenBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	svc := orders.NewService(
		postgres.NewOrderRepository(db),
		bus.NewEmitter(b, cfg.ServiceName),
		clock.NewSystem(),
		log,
		orders.Pricing{TaxRate: cfg.Order.TaxRate, ShippingFee: cfg.Order.ShippingFee, Currency: cfg.Order.Currency},
		orders.WithCache(redisx.NewOrderCache(rdb)),
	)
	if err := app.Bind(ctx, b, svc.Routes(), redisx.NewDedup(rdb), log); err != nil {
		return err
	}

	router := httpx.NewRouter(log)
	httpx.NewOrdersHandler(svc, log).Register(router)

	return app.Serve(ctx, &http.Server{Addr: cfg.HTTPAddr, Handler: router}, log)
}
