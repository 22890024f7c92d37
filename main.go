package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"storefront/pkg/domain/model"
	"storefront/pkg/domain/service"
	"storefront/pkg/infrastructure/auth"
	"storefront/pkg/infrastructure/broker"
	"storefront/pkg/infrastructure/event"
	"storefront/pkg/infrastructure/filestore"
	"storefront/pkg/infrastructure/memory"
	"storefront/pkg/infrastructure/mercadopago"
	"storefront/pkg/infrastructure/mysqlrepo"
	"storefront/pkg/infrastructure/redisstore"
	"storefront/pkg/infrastructure/resend"
	"storefront/pkg/transport"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	decimal.MarshalJSONWithoutQuotes = true

	app := &cli.App{
		Name:  appID,
		Usage: "storefront ordering and PIX payment service",
		Commands: []*cli.Command{
			{
				Name:   "service",
				Usage:  "serve the HTTP API and the gRPC health endpoint",
				Action: runService,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: runMigrate,
			},
			{
				Name:  "issue-token",
				Usage: "sign a bearer token for an admin or customer",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Required: true},
					&cli.StringFlag{Name: "role", Value: string(model.RoleAdmin)},
					&cli.BoolFlag{Name: "override", Usage: "allow forced order status changes"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: runIssueToken,
			},
			{
				Name:   "expire-payments",
				Usage:  "cancel orders whose PIX charge was not paid in time",
				Action: runExpirePayments,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runService(c *cli.Context) error {
	cfg, err := parseEnv()
	if err != nil {
		return err
	}
	cfg.configureLogging()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	app, err := newApplication(cfg, b)
	if err != nil {
		return err
	}
	defer app.close()

	options := transport.Options{Limiter: b.limiter}
	if app.issuer != nil {
		options.Verifier = app.issuer
	}
	router := transport.Router(transport.Services{
		Orders:   app.orders,
		Catalog:  app.catalog,
		Carts:    app.carts,
		Settings: app.settings,
	}, options)

	httpServer := &http.Server{
		Addr:              cfg.ServeHTTPAddress,
		Handler:           otelhttp.NewHandler(router, appID),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(appID, healthpb.HealthCheckResponse_SERVING)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("address", cfg.ServeHTTPAddress).Info("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	group.Go(func() error {
		listener, err := net.Listen("tcp", cfg.ServeGRPCAddress)
		if err != nil {
			return errors.Wrap(err, "listen grpc")
		}
		log.WithField("address", cfg.ServeGRPCAddress).Info("starting grpc health server")
		return grpcServer.Serve(listener)
	})
	group.Go(func() error {
		expirePeriodically(groupCtx, app.orders, cfg)
		return nil
	})
	group.Go(func() error {
		select {
		case sig := <-killSignalChan():
			log.WithField("signal", sig.String()).Info("shutting down")
		case <-groupCtx.Done():
		}
		cancel()
		healthServer.Shutdown()
		grpcServer.GracefulStop()

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func runMigrate(*cli.Context) error {
	cfg, err := parseEnv()
	if err != nil {
		return err
	}
	cfg.configureLogging()
	if cfg.DBDSN == "" {
		return errors.New("STOREFRONT_DB_DSN is required to migrate")
	}
	return mysqlrepo.Migrate(cfg.DBDSN)
}

func runIssueToken(c *cli.Context) error {
	cfg, err := parseEnv()
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(model.Principal{
		Subject:     c.String("subject"),
		Role:        model.Role(c.String("role")),
		CanOverride: c.Bool("override"),
	}, c.Duration("ttl"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, token)
	return err
}

func runExpirePayments(c *cli.Context) error {
	cfg, err := parseEnv()
	if err != nil {
		return err
	}
	cfg.configureLogging()

	b, err := openBackends(c.Context, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	app, err := newApplication(cfg, b)
	if err != nil {
		return err
	}
	defer app.close()

	expired, err := app.orders.ExpirePendingPayments(c.Context, time.Now().Add(-cfg.PixExpiration))
	if err != nil {
		return err
	}
	log.WithField("expired", expired).Info("expired pending payments")
	return nil
}

// expirePeriodically runs the payment expiry sweep until ctx is done.
func expirePeriodically(ctx context.Context, orders service.OrderService, cfg *config) {
	ticker := time.NewTicker(cfg.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := orders.ExpirePendingPayments(ctx, now.Add(-cfg.PixExpiration))
			if err != nil {
				log.WithError(err).Error("payment expiry sweep failed")
				continue
			}
			if expired > 0 {
				log.WithField("expired", expired).Info("expired pending payments")
			}
		}
	}
}

type backends struct {
	orders     model.OrderRepository
	settings   model.SettingsRepository
	categories model.CategoryRepository
	products   model.ProductRepository
	extras     model.ExtraRepository
	carts      model.CartStorage
	limiter    model.RateLimiter
	closers    []func() error
}

// openBackends picks MySQL when a DSN is configured and in-memory
// repositories otherwise. Carts and the rate limiter live in Redis when it is
// configured; without it carts are kept on disk.
func openBackends(ctx context.Context, cfg *config) (*backends, error) {
	b := &backends{}

	if cfg.DBDSN != "" {
		if err := mysqlrepo.Migrate(cfg.DBDSN); err != nil {
			return nil, err
		}
		db, err := mysqlrepo.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		b.orders = mysqlrepo.NewOrderRepository(db)
		b.settings = mysqlrepo.NewSettingsRepository(db)
		b.categories = mysqlrepo.NewCategoryRepository(db)
		b.products = mysqlrepo.NewProductRepository(db)
		b.extras = mysqlrepo.NewExtraRepository(db)
	} else {
		log.Warn("STOREFRONT_DB_DSN is not set, keeping orders and catalog in memory")
		catalog := memory.NewCatalog()
		b.orders = memory.NewOrderRepository()
		b.settings = memory.NewSettingsRepository(model.Settings{DeliveryEnabled: true})
		b.categories = catalog.Categories()
		b.products = catalog.Products()
		b.extras = catalog.Extras()
	}

	if cfg.RedisURL != "" {
		client, err := redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.carts = redisstore.NewCartStorage(client, cfg.CartTTL)
		b.limiter = redisstore.NewSlidingWindowLimiter(client, cfg.RateLimit, cfg.RateWindow)
	} else {
		carts, err := filestore.NewCartStorage(cfg.CartDir)
		if err != nil {
			b.close()
			return nil, err
		}
		b.carts = carts
		b.limiter = memory.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	}
	return b, nil
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.WithError(err).Warn("failed to close backend")
		}
	}
}

type application struct {
	orders     service.OrderService
	catalog    service.CatalogService
	carts      *service.CartService
	settings   service.SettingsService
	issuer     *auth.Issuer
	dispatcher *event.AsyncDispatcher
	publisher  *broker.Publisher
}

func newApplication(cfg *config, b *backends) (*application, error) {
	app := &application{
		dispatcher: event.NewAsyncDispatcher(cfg.EventWorkers, cfg.EventQueueSize, 30*time.Second),
		catalog:    service.NewCatalogService(b.categories, b.products, b.extras),
		carts:      service.NewCartService(b.carts),
		settings:   service.NewSettingsService(b.settings),
	}

	if cfg.JWTSecret != "" {
		issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			app.close()
			return nil, err
		}
		app.issuer = issuer
	} else {
		log.Warn("STOREFRONT_JWT_SECRET is not set, admin endpoints are unreachable")
	}

	if cfg.MercadoPagoAccessToken == "" {
		log.Warn("STOREFRONT_MERCADOPAGO_ACCESS_TOKEN is not set, PIX charges will be rejected")
	}
	gateway := mercadopago.NewClient(mercadopago.Config{
		BaseURL:     cfg.MercadoPagoBaseURL,
		AccessToken: cfg.MercadoPagoAccessToken,
		PayerEmail:  cfg.MercadoPagoPayerEmail,
	})

	app.orders = service.NewOrderService(b.orders, b.settings, app.catalog, gateway, app.dispatcher, service.OrderServiceConfig{
		StrictPricing: cfg.StrictPricing,
		PixExpiration: cfg.PixExpiration,
	})

	var sender model.NotificationSender = logSender{}
	if cfg.ResendAPIKey != "" {
		sender = resend.NewSender(resend.Config{APIKey: cfg.ResendAPIKey, From: cfg.EmailFrom})
	}
	notifications := service.NewNotificationService(b.orders, sender, cfg.OrderNotifyEmail)
	app.dispatcher.Subscribe(model.OrderCreated{}.Type(), func(ctx context.Context, e service.Event) error {
		created, ok := e.(model.OrderCreated)
		if !ok {
			return nil
		}
		return notifications.NotifyNewOrder(ctx, created.OrderID)
	})

	if cfg.AMQPURL != "" {
		publisher, err := broker.NewPublisher(cfg.AMQPURL, broker.DefaultExchange)
		if err != nil {
			app.close()
			return nil, err
		}
		app.publisher = publisher
		app.dispatcher.SubscribeAll(publisher.Publish)
	}
	return app, nil
}

// close drains queued events before the publisher goes away.
func (a *application) close() {
	a.dispatcher.Close()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.WithError(err).Warn("failed to close event publisher")
		}
	}
}

// logSender stands in for the email provider when no API key is configured.
type logSender struct{}

func (logSender) Send(_ context.Context, recipient, subject, _ string) error {
	log.WithFields(log.Fields{"recipient": recipient, "subject": subject}).Info("email delivery disabled, notification logged")
	return nil
}

func killSignalChan() <-chan os.Signal {
	osKillSignalChan := make(chan os.Signal, 1)
	signal.Notify(osKillSignalChan, os.Interrupt, syscall.SIGTERM)
	return osKillSignalChan
}
