package handlers

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"airvend/internal/ledger"
	"airvend/internal/provider"
	"airvend/pkg/cache"
	"airvend/pkg/ctxkeys"
	"airvend/pkg/logging"
	"airvend/pkg/middleware"
)

var (
	db                   *sql.DB
	logger               logging.Logger
	emailService         *EmailService
	ledgerSvc            *ledger.Ledger
	topupClient          *provider.Client
	catalogCache         *cache.Cache
	metrics              *TellerMetrics
	paymentWebhookSecret string
)

// TellerMetrics holds all Prometheus metrics for Teller
type TellerMetrics struct {
	Checkouts        *prometheus.CounterVec
	LedgerOperations *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	ProviderCalls    *prometheus.CounterVec
	DBQueries        *prometheus.CounterVec
	DBDuration       *prometheus.HistogramVec
	DBConnections    *prometheus.GaugeVec
}

// Init initializes the handlers with database, logger, metrics, the top-up
// provider client, and the payment webhook signing secret.
func Init(database *sql.DB, log logging.Logger, tellerMetrics *TellerMetrics, providerClient *provider.Client, webhookSecret string) {
	db = database
	logger = log
	emailService = NewEmailService(log)
	ledgerSvc = ledger.New(database, log)
	topupClient = providerClient
	metrics = tellerMetrics
	paymentWebhookSecret = webhookSecret
	catalogCache = cache.New(cache.Options{
		TTL:                  5 * time.Minute,
		StaleWhileRevalidate: 10 * time.Minute,
		NegativeTTL:          30 * time.Second,
		MaxEntries:           256,
	}, cache.Hooks{})
}

// orgID extracts the authenticated organization from the request context.
func orgID(c middleware.Context) string {
	return c.GetString(string(ctxkeys.KeyOrgID))
}

func countLedgerOp(operation, status string) {
	if metrics != nil && metrics.LedgerOperations != nil {
		metrics.LedgerOperations.WithLabelValues(operation, status).Inc()
	}
}

func countCheckout(status string) {
	if metrics != nil && metrics.Checkouts != nil {
		metrics.Checkouts.WithLabelValues(status).Inc()
	}
}

func countWebhook(providerName, status string) {
	if metrics != nil && metrics.WebhookEvents != nil {
		metrics.WebhookEvents.WithLabelValues(providerName, status).Inc()
	}
}

func countProviderCall(operation, status string) {
	if metrics != nil && metrics.ProviderCalls != nil {
		metrics.ProviderCalls.WithLabelValues(operation, status).Inc()
	}
}
