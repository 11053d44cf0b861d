package main

import (
	"context"

	"airvend/internal/handlers"
	"airvend/internal/provider"
	"airvend/pkg/auth"
	"airvend/pkg/clients"
	"airvend/pkg/config"
	"airvend/pkg/database"
	"airvend/pkg/logging"
	"airvend/pkg/monitoring"
	"airvend/pkg/server"
	"airvend/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("teller")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Teller (Top-up Reselling API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	providerURL := config.RequireEnv("TOPUP_PROVIDER_URL")
	providerKey := config.RequireEnv("TOPUP_PROVIDER_API_KEY")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("teller", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("teller", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("provider", monitoring.HTTPServiceHealthCheck("topup-provider", providerURL+"/health"))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":           dbURL,
		"JWT_SECRET":             jwtSecret,
		"TOPUP_PROVIDER_URL":     providerURL,
		"PAYMENT_WEBHOOK_SECRET": config.GetEnv("PAYMENT_WEBHOOK_SECRET", ""),
	}))

	// Create custom teller metrics
	metrics := &handlers.TellerMetrics{
		Checkouts:        metricsCollector.NewCounter("checkouts_total", "Checkout attempts", []string{"status"}),
		LedgerOperations: metricsCollector.NewCounter("ledger_operations_total", "Ledger operations", []string{"operation", "status"}),
		WebhookEvents:    metricsCollector.NewCounter("webhook_events_total", "Webhook events received", []string{"provider", "status"}),
		ProviderCalls:    metricsCollector.NewCounter("provider_calls_total", "Top-up provider API calls", []string{"operation", "status"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Top-up provider client
	topupClient := provider.NewClient(provider.Config{
		BaseURL: providerURL,
		APIKey:  providerKey,
		Retry:   clients.DefaultRetryConfig(),
	}, logger)

	// Initialize handlers
	handlers.Init(db, logger, metrics, topupClient, config.GetEnv("PAYMENT_WEBHOOK_SECRET", ""))

	// Start background jobs
	jobManager := handlers.NewJobManager(db, logger, topupClient)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "teller", healthChecker, metricsCollector)

	// API routes
	v1 := router.Group("/api/v1")
	{
		// Public storefront endpoints
		v1.GET("/tiers", handlers.GetTiers)
		v1.GET("/storefronts/:org_id/products", handlers.GetStorefrontProducts)

		// Authentication required endpoints
		protected := v1.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/customers", handlers.GetCustomers)
			protected.POST("/customers", handlers.CreateCustomer)
			protected.GET("/customers/:id", handlers.GetCustomer)
			protected.PUT("/customers/:id", handlers.UpdateCustomer)
			protected.DELETE("/customers/:id", handlers.DeleteCustomer)

			protected.GET("/customers/:id/balance", handlers.GetBalance)
			protected.GET("/customers/:id/balance/history", handlers.GetBalanceHistory)
			protected.POST("/customers/:id/balance/assign", handlers.AssignBalance)
			protected.POST("/customers/:id/balance/withdraw", handlers.WithdrawBalance)
			protected.POST("/customers/:id/balance/adjust", handlers.AdjustBalance)

			protected.GET("/transactions", handlers.GetTransactions)
			protected.GET("/transactions/:id", handlers.GetTransaction)
			protected.POST("/transactions/:id/retry", handlers.RetryTransaction)
			protected.POST("/transactions/:id/refund", handlers.RefundTransaction)

			protected.POST("/checkout", handlers.Checkout)

			protected.GET("/subscription", handlers.GetSubscription)
			protected.PUT("/subscription/tier", handlers.ChangeTier)
			protected.GET("/subscription/usage", handlers.GetUsage)

			protected.GET("/integrations", handlers.GetIntegrations)
			protected.POST("/integrations", handlers.CreateIntegration)
			protected.PUT("/integrations/:id", handlers.UpdateIntegration)
			protected.DELETE("/integrations/:id", handlers.DeleteIntegration)
			protected.POST("/integrations/:id/set-primary-email", handlers.SetPrimaryEmailIntegration)

			protected.GET("/storefront/settings", handlers.GetStorefrontSettings)
			protected.PUT("/storefront/settings", handlers.UpdateStorefrontSettings)

			// Admin-only operations
			admin := protected.Group("")
			admin.Use(auth.RequireRole("admin"))
			{
				admin.POST("/customers/:id/balance/reset", handlers.ResetBalance)
				admin.POST("/transactions/:id/override-status", handlers.OverrideTransactionStatus)
				admin.PUT("/subscription/status", handlers.SetSubscriptionStatus)
			}
		}

		// Webhook endpoints (payment webhooks are HMAC-verified, not JWT'd)
		v1.POST("/webhooks/payment", handlers.HandlePaymentWebhook)

		// Provider callbacks (service-to-service)
		serviceAPI := v1.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/webhooks/topup", handlers.HandleTopupWebhook)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("teller", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
