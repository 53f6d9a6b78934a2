package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"ticketline/config"
	"ticketline/handlers"
	"ticketline/internal/services/gateway"
	"ticketline/internal/services/gateway/payline"
	"ticketline/security"
	"ticketline/services"
	"ticketline/store"
	"ticketline/utils"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"github.com/pocketbase/pocketbase"

	_ "ticketline/migrations"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the payment gateway
	factory := gateway.NewFactory()
	gw, err := factory.CreateGateway(ctx, gateway.Provider(cfg.GatewayProvider), &payline.Config{
		BaseURL:       cfg.GatewayBaseURL,
		AccessToken:   cfg.GatewayAccessToken,
		WebhookSecret: cfg.GatewayWebhookSecret,
	})
	if err != nil {
		return err
	}
	defer gw.Close(ctx)

	// Initialize services
	pbStore := store.NewPBStore(app)
	notifier := services.NewNotificationService(app, pn, app.Logger())
	reservationService := services.NewReservationService(pbStore, gw, cfg, app.Logger())
	reconcileService := services.NewReconcileService(pbStore, notifier, redisClient, app.Logger())
	sweeperService := services.NewSweeperService(pbStore, cfg.SweepInterval, app.Logger())

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(app, reservationService, pbStore)
	paymentHandler := handlers.NewPaymentHandler(app, gw, reconcileService)

	rateLimiter := security.NewRateLimiter(redisClient, cfg.CheckoutRateLimit, cfg.CheckoutRateWindow)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Checkout endpoints
		e.Router.POST("/api/v1/checkout/reserve", bookingHandler.Reserve).BindFunc(rateLimiter.CheckoutRateLimit())

		// Payment endpoints
		e.Router.GET("/api/v1/payments/{paymentId}", bookingHandler.GetPayment)
		e.Router.POST("/api/v1/payments/webhook", paymentHandler.Webhook)

		// Metrics
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", func(e *core.RequestEvent) error {
				promhttp.Handler().ServeHTTP(e.Response, e.Request)
				return nil
			})
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		// The sweeper only starts once the server is actually accepting
		// traffic, so a migration-only invocation never touches tickets.
		go sweeperService.Run(ctx)

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Shutdown signal received, cleaning up...")
	cancel()
}
