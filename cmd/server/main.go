package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boutique/cmd/server/config"
	"boutique/internal/cart"
	"boutique/internal/catalog"
	"boutique/internal/checkout"
	checkoutdb "boutique/internal/db/checkout"
	"boutique/internal/events"
	"boutique/internal/mail"
	"boutique/internal/money"
	"boutique/internal/observability"
	"boutique/internal/realtime"
	"boutique/internal/reliability"
	"boutique/internal/shipping"
	"boutique/internal/tasks"
	httptransport "boutique/internal/transport/http"

	"github.com/joho/godotenv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()

	cartStore, cleanupCarts, err := buildCartStore(ctx)
	if err != nil {
		return err
	}
	defer cleanupCarts()
	carts := cart.NewService(cartStore)

	products, err := catalog.Load()
	if err != nil {
		return err
	}
	converter, err := money.NewConverter()
	if err != nil {
		return err
	}

	schedCfg, err := config.LoadScheduler()
	if err != nil {
		return err
	}
	wal, err := tasks.NewFileWAL(schedCfg.JournalPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := wal.Close(); err != nil {
			logger.Error("close task journal", "error", err)
		}
	}()
	scheduler := tasks.NewScheduler(wal, tasks.WithLogger(logger), tasks.WithObserver(metrics))

	shippingMgr := shipping.NewManager(scheduler, shipping.WithLogger(logger))
	scheduler.Register(shipping.TaskKindExpireQuote, shippingMgr.ExpireQuoteTask)
	scheduler.Register(shipping.TaskKindShipOrder, shippingMgr.ShipOrderTask)

	mailCfg, err := config.LoadMail()
	if err != nil {
		return err
	}
	emailer := buildEmailer(mailCfg, scheduler, logger)
	scheduler.Register(mail.TaskKindSendEmail, emailer.SendEmailTask)

	// All handlers are registered; replaying the journal can now re-arm
	// tasks left over from the previous run.
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	orderStore, cleanupOrders := checkoutdb.BuildOrderStore(ctx, os.Getenv("DATABASE_URL"), log.Printf)
	defer cleanupOrders()

	hub := realtime.NewHub()
	go hub.Run()
	defer hub.Stop()

	checkoutOpts := []checkout.ServiceOption{
		checkout.WithLogger(logger),
		checkout.WithPublisher(&countingPublisher{
			inner:   events.NewBroadcastPublisher(hub),
			metrics: metrics,
		}),
	}
	if mailCfg.Sender != "" {
		checkoutOpts = append(checkoutOpts, checkout.WithSender(mailCfg.Sender))
	}
	checkoutSvc := checkout.NewService(carts, products, converter, shippingMgr, emailer, orderStore, checkoutOpts...)

	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	limiter := reliability.NewRateLimiter(httpCfg.RateLimitInterval, httpCfg.RateLimitBurst, metrics.AddRateLimitWait)

	api := httptransport.NewServer(carts, products, converter, shippingMgr, checkoutSvc,
		httptransport.WithHub(hub),
		httptransport.WithMetrics(metrics),
		httptransport.WithRateLimiter(limiter),
		httptransport.WithLogger(logger),
	)

	server := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: api.Router(),
	}

	obsSrv, err := startObservabilityServer(metrics)
	if err != nil {
		return err
	}

	logger.Info("server listening", "addr", httpCfg.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		snap := metrics.Snapshot()
		metrics.MarkShutdown(snap.InFlight)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
		if obsSrv != nil {
			obsCtx, cancelObs := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancelObs()
			_ = obsSrv.Shutdown(obsCtx)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// buildEmailer wires the confirmation-email pipeline. Without Mailgun
// credentials the emailer runs degraded: tasks are journaled and acked, and
// each send is logged instead of delivered.
func buildEmailer(cfg config.MailConfig, scheduler mail.Scheduler, logger *slog.Logger) *mail.Emailer {
	if !cfg.Configured() {
		logger.Warn("mailgun credentials not set, email delivery is degraded")
		return mail.NewEmailer(scheduler, nil, logger)
	}

	breaker := reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	})
	provider := mail.NewMailgun(cfg.APIKey, cfg.Domain, mail.WithBreaker(breaker))

	var guardOpts []mail.GuardOption
	if cfg.Quiescence != nil {
		guardOpts = append(guardOpts, mail.WithQuiescence(*cfg.Quiescence))
	}
	guard := mail.NewGuard(provider, guardOpts...)

	return mail.NewEmailer(scheduler, guard, logger)
}

// countingPublisher bumps the orders-placed counter on its way to the feed.
type countingPublisher struct {
	inner   checkout.EventPublisher
	metrics *observability.Metrics
}

func (p *countingPublisher) OrderPlaced(ctx context.Context, order checkout.OrderResult) error {
	p.metrics.OrderPlaced()
	return p.inner.OrderPlaced(ctx, order)
}

func startObservabilityServer(metrics *observability.Metrics) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv, nil
}
