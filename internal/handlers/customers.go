package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tellerapi "airvend/pkg/api/teller"
	"airvend/pkg/countries"
	"airvend/pkg/logging"
	"airvend/pkg/middleware"
	"airvend/pkg/models"
)

// CreateCustomer registers a new storefront customer under the caller's org.
func CreateCustomer(c middleware.Context) {
	org := orgID(c)
	if org == "" {
		c.JSON(http.StatusUnauthorized, tellerapi.ErrorResponse{Error: "Organization context required"})
		return
	}

	var req tellerapi.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	country := countries.Normalize(req.Country)
	if req.Country != "" && !countries.IsValid(country) {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid country code", Code: "invalid_country"})
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	var customer models.Customer
	err := db.QueryRow(`
		INSERT INTO teller.customers (org_id, phone, email, name, country, balance_currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, org_id, phone, email, name, country,
		          current_balance_cents, balance_currency, total_assigned_cents, total_used_cents,
		          created_at, updated_at
	`, org, req.Phone, req.Email, req.Name, country, currency).Scan(
		&customer.ID, &customer.OrgID, &customer.Phone, &customer.Email, &customer.Name, &customer.Country,
		&customer.CurrentBalanceCents, &customer.BalanceCurrency, &customer.TotalAssignedCents, &customer.TotalUsedCents,
		&customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate") {
			c.JSON(http.StatusConflict, tellerapi.ErrorResponse{Error: "Customer with this phone already exists", Code: "duplicate_phone"})
			return
		}
		logger.WithError(err).Error("Failed to create customer")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to create customer"})
		return
	}

	logger.WithFields(logging.Fields{
		"customer_id": customer.ID,
		"org_id":      org,
	}).Info("Customer created")

	c.JSON(http.StatusCreated, customer)
}

// GetCustomers lists the org's customers with pagination and optional
// search over phone, email and name.
func GetCustomers(c middleware.Context) {
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

	query := `
		SELECT id, org_id, phone, email, name, country,
		       current_balance_cents, balance_currency, total_assigned_cents, total_used_cents,
		       created_at, updated_at
		FROM teller.customers
		WHERE org_id = $1`
	countQuery := `SELECT COUNT(*) FROM teller.customers WHERE org_id = $1`
	args := []interface{}{org}
	argCount := 1

	if search := c.Query("search"); search != "" {
		argCount++
		clause := fmt.Sprintf(" AND (phone ILIKE $%d OR email ILIKE $%d OR name ILIKE $%d)", argCount, argCount, argCount)
		query += clause
		countQuery += clause
		args = append(args, "%"+search+"%")
	}
	if country := c.Query("country"); country != "" {
		argCount++
		clause := fmt.Sprintf(" AND country = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, countries.Normalize(country))
	}

	var total int
	if err := db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		logger.WithError(err).Error("Failed to count customers")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get customers"})
		return
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argCount+1, argCount+2)
	args = append(args, limit, offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		logger.WithError(err).Error("Failed to query customers")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get customers"})
		return
	}
	defer rows.Close()

	customers := []models.Customer{}
	for rows.Next() {
		var cu models.Customer
		if err := rows.Scan(&cu.ID, &cu.OrgID, &cu.Phone, &cu.Email, &cu.Name, &cu.Country,
			&cu.CurrentBalanceCents, &cu.BalanceCurrency, &cu.TotalAssignedCents, &cu.TotalUsedCents,
			&cu.CreatedAt, &cu.UpdatedAt); err != nil {
			logger.WithError(err).Error("Failed to scan customer")
			continue
		}
		customers = append(customers, cu)
	}

	c.JSON(http.StatusOK, tellerapi.ListCustomersResponse{
		Customers: customers,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

// GetCustomer returns a single customer scoped to the caller's org.
func GetCustomer(c middleware.Context) {
	org := orgID(c)
	customerID := c.Param("id")

	var cu models.Customer
	err := db.QueryRow(`
		SELECT id, org_id, phone, email, name, country,
		       current_balance_cents, balance_currency, total_assigned_cents, total_used_cents,
		       created_at, updated_at
		FROM teller.customers
		WHERE id = $1 AND org_id = $2
	`, customerID, org).Scan(
		&cu.ID, &cu.OrgID, &cu.Phone, &cu.Email, &cu.Name, &cu.Country,
		&cu.CurrentBalanceCents, &cu.BalanceCurrency, &cu.TotalAssignedCents, &cu.TotalUsedCents,
		&cu.CreatedAt, &cu.UpdatedAt)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Customer not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get customer")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get customer"})
		return
	}

	c.JSON(http.StatusOK, cu)
}

// UpdateCustomer updates identity fields. Balance fields are owned by the
// ledger and cannot be written here.
func UpdateCustomer(c middleware.Context) {
	org := orgID(c)
	customerID := c.Param("id")

	var req tellerapi.UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	setClauses := []string{}
	args := []interface{}{}
	argCount := 0

	if req.Email != nil {
		argCount++
		setClauses = append(setClauses, fmt.Sprintf("email = $%d", argCount))
		args = append(args, *req.Email)
	}
	if req.Name != nil {
		argCount++
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argCount))
		args = append(args, *req.Name)
	}
	if req.Country != nil {
		country := countries.Normalize(*req.Country)
		if *req.Country != "" && !countries.IsValid(country) {
			c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid country code", Code: "invalid_country"})
			return
		}
		argCount++
		setClauses = append(setClauses, fmt.Sprintf("country = $%d", argCount))
		args = append(args, country)
	}

	if len(setClauses) == 0 {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "No fields to update"})
		return
	}

	query := fmt.Sprintf(`
		UPDATE teller.customers
		SET %s, updated_at = NOW()
		WHERE id = $%d AND org_id = $%d
		RETURNING id, org_id, phone, email, name, country,
		          current_balance_cents, balance_currency, total_assigned_cents, total_used_cents,
		          created_at, updated_at
	`, strings.Join(setClauses, ", "), argCount+1, argCount+2)
	args = append(args, customerID, org)

	var cu models.Customer
	err := db.QueryRow(query, args...).Scan(
		&cu.ID, &cu.OrgID, &cu.Phone, &cu.Email, &cu.Name, &cu.Country,
		&cu.CurrentBalanceCents, &cu.BalanceCurrency, &cu.TotalAssignedCents, &cu.TotalUsedCents,
		&cu.CreatedAt, &cu.UpdatedAt)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Customer not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to update customer")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to update customer"})
		return
	}

	c.JSON(http.StatusOK, cu)
}

// DeleteCustomer removes a customer. The balance must be zero and no ledger
// history or transactions may reference the row; the audit trail is
// append-only and is never deleted with the customer.
func DeleteCustomer(c middleware.Context) {
	org := orgID(c)
	customerID := c.Param("id")

	var balance int64
	err := db.QueryRow(`
		SELECT current_balance_cents FROM teller.customers WHERE id = $1 AND org_id = $2
	`, customerID, org).Scan(&balance)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Customer not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to check customer balance")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to delete customer"})
		return
	}
	if balance != 0 {
		c.JSON(http.StatusUnprocessableEntity, tellerapi.ErrorResponse{
			Error: "Customer balance must be zero before deletion",
			Code:  "balance_not_zero",
		})
		return
	}

	// Ledger history and transactions reference the customer row and are
	// never deleted, so a customer with either cannot be removed.
	var hasHistory bool
	err = db.QueryRow(`
		SELECT EXISTS (SELECT 1 FROM teller.balance_history WHERE customer_id = $1)
		    OR EXISTS (SELECT 1 FROM teller.transactions WHERE customer_id = $1)
	`, customerID).Scan(&hasHistory)
	if err != nil {
		logger.WithError(err).Error("Failed to check customer history")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to delete customer"})
		return
	}
	if hasHistory {
		c.JSON(http.StatusUnprocessableEntity, tellerapi.ErrorResponse{
			Error: "Customer has ledger history or transactions and cannot be deleted",
			Code:  "customer_has_history",
		})
		return
	}

	result, err := db.Exec(`DELETE FROM teller.customers WHERE id = $1 AND org_id = $2`, customerID, org)
	if err != nil {
		logger.WithError(err).Error("Failed to delete customer")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to delete customer"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Customer not found"})
		return
	}

	logger.WithFields(logging.Fields{
		"customer_id": customerID,
		"org_id":      org,
	}).Info("Customer deleted")

	c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Customer deleted"})
}
