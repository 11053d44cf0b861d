package handlers

import (
	"context"
	"database/sql"
	"time"

	"airvend/internal/provider"
	"airvend/pkg/logging"
	"airvend/pkg/models"
)

// JobManager runs Teller's periodic maintenance loops: billing-period
// rollover, provider reconciliation for stuck transactions, and expiry of
// stale pending checkouts.
type JobManager struct {
	db          *sql.DB
	logger      logging.Logger
	topupClient *provider.Client
	stopCh      chan struct{}
}

func NewJobManager(database *sql.DB, log logging.Logger, client *provider.Client) *JobManager {
	return &JobManager{
		db:          database,
		logger:      log,
		topupClient: client,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the background loops. They stop when ctx is cancelled or
// Stop is called.
func (jm *JobManager) Start(ctx context.Context) {
	go jm.runPeriodRollover(ctx)
	go jm.runReconciliation(ctx)
	go jm.runStalePendingExpiry(ctx)
	jm.logger.Info("Job manager started")
}

// Stop signals all loops to exit.
func (jm *JobManager) Stop() {
	close(jm.stopCh)
	jm.logger.Info("Job manager stopped")
}

// runPeriodRollover resets subscription usage counters once the billing
// period is a month old.
func (jm *JobManager) runPeriodRollover(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.rolloverExpiredPeriods(ctx)
		}
	}
}

func (jm *JobManager) rolloverExpiredPeriods(ctx context.Context) {
	result, err := jm.db.ExecContext(ctx, `
		UPDATE teller.subscriptions
		SET period_started_at = NOW(), period_transactions = 0, updated_at = NOW()
		WHERE status = $1 AND period_started_at < NOW() - INTERVAL '1 month'
	`, models.SubscriptionActive)
	if err != nil {
		jm.logger.WithError(err).Error("Billing period rollover failed")
		return
	}
	if n, _ := result.RowsAffected(); n > 0 {
		jm.logger.WithField("subscriptions", n).Info("Billing periods rolled over")
	}
}

// runReconciliation polls the provider for transactions stuck in processing,
// catching webhooks that never arrived.
func (jm *JobManager) runReconciliation(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.reconcileProcessing(ctx)
		}
	}
}

func (jm *JobManager) reconcileProcessing(ctx context.Context) {
	rows, err := jm.db.QueryContext(ctx, `
		SELECT id, order_id, metadata
		FROM teller.transactions
		WHERE status = $1 AND updated_at < NOW() - INTERVAL '15 minutes'
		ORDER BY updated_at
		LIMIT 50
	`, models.StatusProcessing)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to query stuck transactions")
		return
	}
	defer rows.Close()

	type stuck struct {
		id, orderID string
		meta        models.JSONB
	}
	var candidates []stuck
	for rows.Next() {
		var s stuck
		if err := rows.Scan(&s.id, &s.orderID, &s.meta); err != nil {
			jm.logger.WithError(err).Error("Failed to scan stuck transaction")
			continue
		}
		candidates = append(candidates, s)
	}

	for _, s := range candidates {
		providerID := providerIDFromMetadata(s.meta)
		if providerID == "" {
			continue
		}

		status, err := jm.topupClient.Status(ctx, providerID)
		if err != nil {
			jm.logger.WithError(err).WithField("order_id", s.orderID).Warn("Provider status poll failed")
			continue
		}

		switch status.Status {
		case provider.SubmitDelivered:
			jm.settle(ctx, s.id, s.orderID, models.StatusCompleted, "")
		case provider.SubmitFailed:
			reason := status.Reason
			if reason == "" {
				reason = "provider reported failure"
			}
			jm.settle(ctx, s.id, s.orderID, models.StatusFailed, reason)
		}
	}
}

func (jm *JobManager) settle(ctx context.Context, txID, orderID, target, reason string) {
	result, err := jm.db.ExecContext(ctx, `
		UPDATE teller.transactions
		SET status = $1, status_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, target, reason, txID, models.StatusProcessing)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to settle reconciled transaction")
		return
	}
	if n, _ := result.RowsAffected(); n > 0 {
		jm.logger.WithFields(logging.Fields{
			"order_id": orderID,
			"status":   target,
		}).Info("Transaction reconciled from provider status")
	}
}

// runStalePendingExpiry fails pending transactions whose payment never
// arrived.
func (jm *JobManager) runStalePendingExpiry(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.expireStalePending(ctx)
		}
	}
}

func (jm *JobManager) expireStalePending(ctx context.Context) {
	result, err := jm.db.ExecContext(ctx, `
		UPDATE teller.transactions
		SET status = $1, status_reason = 'payment window expired', updated_at = NOW()
		WHERE status = $2 AND created_at < NOW() - INTERVAL '24 hours'
	`, models.StatusFailed, models.StatusPending)
	if err != nil {
		jm.logger.WithError(err).Error("Stale pending expiry failed")
		return
	}
	if n, _ := result.RowsAffected(); n > 0 {
		jm.logger.WithField("transactions", n).Info("Stale pending transactions expired")
	}
}

func providerIDFromMetadata(meta models.JSONB) string {
	if meta == nil {
		return ""
	}
	topup, ok := meta["topup"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := topup["provider_id"].(string)
	return id
}
