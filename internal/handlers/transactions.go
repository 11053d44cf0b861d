package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"

	tellerapi "airvend/pkg/api/teller"
	"airvend/pkg/middleware"
	"airvend/pkg/models"
)

const transactionColumns = `id, org_id, customer_id, order_id, status,
	       amount_cents, cost_cents, currency, recipient_phone, operator, sku_code,
	       payment_type, status_reason, metadata, created_at, updated_at`

func scanTransaction(row interface {
	Scan(dest ...interface{}) error
}) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.OrgID, &t.CustomerID, &t.OrderID, &t.Status,
		&t.AmountCents, &t.CostCents, &t.Currency, &t.RecipientPhone, &t.Operator, &t.SKUCode,
		&t.PaymentType, &t.StatusReason, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransactions lists the org's transactions with pagination and optional
// status, customer and payment-type filters.
func GetTransactions(c middleware.Context) {
	org := orgID(c)
	if org == "" {
		c.JSON(http.StatusUnauthorized, tellerapi.ErrorResponse{Error: "Organization context required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + transactionColumns + ` FROM teller.transactions WHERE org_id = $1`
	countQuery := `SELECT COUNT(*) FROM teller.transactions WHERE org_id = $1`
	args := []interface{}{org}
	argCount := 1

	if status := c.Query("status"); status != "" {
		argCount++
		clause := fmt.Sprintf(" AND status = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, status)
	}
	if customerID := c.Query("customer_id"); customerID != "" {
		argCount++
		clause := fmt.Sprintf(" AND customer_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, customerID)
	}
	if paymentType := c.Query("payment_type"); paymentType != "" {
		argCount++
		clause := fmt.Sprintf(" AND payment_type = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, paymentType)
	}

	var total int
	if err := db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		logger.WithError(err).Error("Failed to count transactions")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get transactions"})
		return
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argCount+1, argCount+2)
	args = append(args, limit, offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		logger.WithError(err).Error("Failed to query transactions")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get transactions"})
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			logger.WithError(err).Error("Failed to scan transaction")
			continue
		}
		transactions = append(transactions, *t)
	}

	c.JSON(http.StatusOK, tellerapi.ListTransactionsResponse{
		Transactions: transactions,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	})
}

// GetTransaction returns a single transaction scoped to the caller's org.
func GetTransaction(c middleware.Context) {
	org := orgID(c)
	txID := c.Param("id")

	t, err := getTransactionByID(org, txID)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Transaction not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get transaction")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get transaction"})
		return
	}

	c.JSON(http.StatusOK, t)
}

func getTransactionByID(org, txID string) (*models.Transaction, error) {
	row := db.QueryRow(`SELECT `+transactionColumns+` FROM teller.transactions WHERE id = $1 AND org_id = $2`, txID, org)
	return scanTransaction(row)
}

func getTransactionByOrderID(orderID string) (*models.Transaction, error) {
	row := db.QueryRow(`SELECT `+transactionColumns+` FROM teller.transactions WHERE order_id = $1`, orderID)
	return scanTransaction(row)
}
