package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	tellerapi "airvend/pkg/api/teller"
	"airvend/pkg/logging"
	"airvend/pkg/middleware"
	"airvend/pkg/models"
)

const integrationColumns = `id, org_id, provider, display_name, credentials,
	       is_primary_email, is_active, created_at, updated_at`

func scanIntegration(row interface {
	Scan(dest ...interface{}) error
}) (*models.Integration, error) {
	var in models.Integration
	err := row.Scan(&in.ID, &in.OrgID, &in.Provider, &in.DisplayName, &in.Credentials,
		&in.IsPrimaryEmail, &in.IsActive, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// GetIntegrations lists the org's third-party integrations.
func GetIntegrations(c middleware.Context) {
	org := orgID(c)

	rows, err := db.Query(`
		SELECT `+integrationColumns+`
		FROM teller.integrations
		WHERE org_id = $1
		ORDER BY created_at DESC
	`, org)
	if err != nil {
		logger.WithError(err).Error("Failed to query integrations")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get integrations"})
		return
	}
	defer rows.Close()

	integrations := []models.Integration{}
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			logger.WithError(err).Error("Failed to scan integration")
			continue
		}
		integrations = append(integrations, *in)
	}

	c.JSON(http.StatusOK, tellerapi.ListIntegrationsResponse{
		Integrations: integrations,
		Count:        len(integrations),
	})
}

// CreateIntegration registers third-party credentials for the org.
func CreateIntegration(c middleware.Context) {
	org := orgID(c)

	var req tellerapi.CreateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	row := db.QueryRow(`
		INSERT INTO teller.integrations (org_id, provider, display_name, credentials)
		VALUES ($1, $2, $3, $4)
		RETURNING `+integrationColumns+`
	`, org, req.Provider, req.DisplayName, req.Credentials)

	in, err := scanIntegration(row)
	if err != nil {
		logger.WithError(err).Error("Failed to create integration")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to create integration"})
		return
	}

	logger.WithFields(logging.Fields{
		"integration_id": in.ID,
		"org_id":         org,
		"provider":       in.Provider,
	}).Info("Integration created")

	c.JSON(http.StatusCreated, in)
}

// UpdateIntegration updates mutable integration fields.
func UpdateIntegration(c middleware.Context) {
	org := orgID(c)
	integrationID := c.Param("id")

	var req tellerapi.UpdateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	setClauses := []string{}
	args := []interface{}{}
	argCount := 0

	if req.DisplayName != nil {
		argCount++
		setClauses = append(setClauses, fmt.Sprintf("display_name = $%d", argCount))
		args = append(args, *req.DisplayName)
	}
	if req.Credentials != nil {
		argCount++
		setClauses = append(setClauses, fmt.Sprintf("credentials = $%d", argCount))
		args = append(args, req.Credentials)
	}
	if req.IsActive != nil {
		argCount++
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", argCount))
		args = append(args, *req.IsActive)
	}

	if len(setClauses) == 0 {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "No fields to update"})
		return
	}

	query := fmt.Sprintf(`
		UPDATE teller.integrations
		SET %s, updated_at = NOW()
		WHERE id = $%d AND org_id = $%d
		RETURNING `+integrationColumns,
		strings.Join(setClauses, ", "), argCount+1, argCount+2)
	args = append(args, integrationID, org)

	in, err := scanIntegration(db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Integration not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to update integration")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to update integration"})
		return
	}

	c.JSON(http.StatusOK, in)
}

// DeleteIntegration removes an integration.
func DeleteIntegration(c middleware.Context) {
	org := orgID(c)
	integrationID := c.Param("id")

	result, err := db.Exec(`DELETE FROM teller.integrations WHERE id = $1 AND org_id = $2`, integrationID, org)
	if err != nil {
		logger.WithError(err).Error("Failed to delete integration")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to delete integration"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Integration not found"})
		return
	}

	c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Integration deleted"})
}

// SetPrimaryEmailIntegration marks one integration as the org's primary email
// channel. The previous primary is cleared in the same transaction so the
// partial unique index never trips.
func SetPrimaryEmailIntegration(c middleware.Context) {
	org := orgID(c)
	integrationID := c.Param("id")

	tx, err := db.Begin()
	if err != nil {
		logger.WithError(err).Error("Failed to start transaction")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to set primary email"})
		return
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	if _, err := tx.Exec(`
		UPDATE teller.integrations SET is_primary_email = false, updated_at = NOW()
		WHERE org_id = $1 AND is_primary_email
	`, org); err != nil {
		logger.WithError(err).Error("Failed to clear primary email flag")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to set primary email"})
		return
	}

	result, err := tx.Exec(`
		UPDATE teller.integrations SET is_primary_email = true, updated_at = NOW()
		WHERE id = $1 AND org_id = $2
	`, integrationID, org)
	if err != nil {
		logger.WithError(err).Error("Failed to set primary email flag")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to set primary email"})
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Integration not found"})
		return
	}

	if err := tx.Commit(); err != nil {
		logger.WithError(err).Error("Failed to commit primary email change")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to set primary email"})
		return
	}

	logger.WithFields(logging.Fields{
		"integration_id": integrationID,
		"org_id":         org,
	}).Info("Primary email integration changed")

	c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Primary email integration set"})
}
