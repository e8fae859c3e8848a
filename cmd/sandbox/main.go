// Command sandbox runs the order, warehouse and payment services in one process on the
// in-memory bus and stores. It needs no infrastructure and is meant for demos and local work.
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
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/inventory"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/observability"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/orders"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/payment"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/storage/memory"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load("sandbox")
	cfg.BusDriver = "memory"

	log := observability.NewLogger(cfg.ServiceName, observability.LevelFromEnv())
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("sandbox stopped", zap.Error(err))
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

	b, err := app.OpenBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()
	clk := clock.NewSystem()

	orderSvc := orders.NewService(
		memory.NewOrderStore(),
		bus.NewEmitter(b, "order"),
		clk,
		log.Named("order"),
		orders.Pricing{TaxRate: cfg.Order.TaxRate, ShippingFee: cfg.Order.ShippingFee, Currency: cfg.Order.Currency},
	)
	stockSvc := inventory.NewService(
		memory.NewInventoryStore(),
		bus.NewEmitter(b, "warehouse"),
		clk,
		log.Named("warehouse"),
		inventory.WithLowStockThreshold(cfg.Warehouse.LowStockThreshold),
		inventory.WithConflictRetries(cfg.Warehouse.ConflictRetries),
	)
	gw := payment.NewSandbox(cfg.Payment.WebhookSecret)
	paySvc := payment.NewService(
		memory.NewPaymentStore(),
		gw,
		bus.NewEmitter(b, "payment"),
		clk,
		log.Named("payment"),
		cfg.Payment.WebhookSecret,
		payment.WithWebhookTolerance(cfg.Payment.WebhookTolerance),
	)
	if cfg.Payment.AutoConfirm {
		gw.AutoConfirm(paySvc.HandleWebhook, 0)
		defer gw.Wait()
	}

	// every consumer must be bound before the first order comes in, or its event is unroutable
	var routes []bus.Route
	routes = append(routes, orderSvc.Routes()...)
	routes = append(routes, stockSvc.Routes()...)
	routes = append(routes, paySvc.Routes()...)
	if err := app.Bind(ctx, b, routes, nil, log); err != nil {
		return err
	}

	router := httpx.NewRouter(log)
	httpx.NewOrdersHandler(orderSvc, log).Register(router)
	httpx.NewInventoryHandler(stockSvc, log).Register(router)
	httpx.NewPaymentsHandler(paySvc, log).Register(router)

	return app.Serve(ctx, &http.Server{Addr: cfg.HTTPAddr, Handler: router}, log)
}
