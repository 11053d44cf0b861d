package handlers

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/lib/pq"

	"airvend/internal/pricing"
	tellerapi "airvend/pkg/api/teller"
	"airvend/pkg/countries"
	"airvend/pkg/middleware"
	"airvend/pkg/models"
)

func loadStorefrontSettings(org string) (*models.StorefrontSettings, error) {
	var s models.StorefrontSettings
	err := db.QueryRow(`
		SELECT org_id, display_name, accent_color, visible_operators, updated_at
		FROM teller.storefront_settings
		WHERE org_id = $1
	`, org).Scan(&s.OrgID, &s.DisplayName, &s.AccentColor, &s.VisibleOperators, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStorefrontSettings returns the org's storefront presentation config.
func GetStorefrontSettings(c middleware.Context) {
	org := orgID(c)

	s, err := loadStorefrontSettings(org)
	if err == sql.ErrNoRows {
		// Settings are lazy; absent rows read as defaults.
		c.JSON(http.StatusOK, models.StorefrontSettings{
			OrgID:            org,
			AccentColor:      "#0050ff",
			VisibleOperators: pq.StringArray{},
		})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get storefront settings")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get storefront settings"})
		return
	}

	c.JSON(http.StatusOK, s)
}

// UpdateStorefrontSettings upserts storefront presentation config. The
// provider catalog cache is keyed by country and operator only, so settings
// changes take effect on the next read without any invalidation.
func UpdateStorefrontSettings(c middleware.Context) {
	org := orgID(c)

	var req tellerapi.UpdateStorefrontSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	current, err := loadStorefrontSettings(org)
	if err == sql.ErrNoRows {
		current = &models.StorefrontSettings{OrgID: org, AccentColor: "#0050ff", VisibleOperators: pq.StringArray{}}
	} else if err != nil {
		logger.WithError(err).Error("Failed to load storefront settings")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to update storefront settings"})
		return
	}

	if req.DisplayName != nil {
		current.DisplayName = *req.DisplayName
	}
	if req.AccentColor != nil {
		if !strings.HasPrefix(*req.AccentColor, "#") || len(*req.AccentColor) != 7 {
			c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "accent_color must be a #rrggbb value", Code: "invalid_color"})
			return
		}
		current.AccentColor = *req.AccentColor
	}
	if req.VisibleOperators != nil {
		current.VisibleOperators = pq.StringArray(req.VisibleOperators)
	}

	var s models.StorefrontSettings
	err = db.QueryRow(`
		INSERT INTO teller.storefront_settings (org_id, display_name, accent_color, visible_operators, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (org_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    accent_color = EXCLUDED.accent_color,
		    visible_operators = EXCLUDED.visible_operators,
		    updated_at = NOW()
		RETURNING org_id, display_name, accent_color, visible_operators, updated_at
	`, org, current.DisplayName, current.AccentColor, current.VisibleOperators).Scan(
		&s.OrgID, &s.DisplayName, &s.AccentColor, &s.VisibleOperators, &s.UpdatedAt)
	if err != nil {
		logger.WithError(err).Error("Failed to update storefront settings")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to update storefront settings"})
		return
	}

	c.JSON(http.StatusOK, s)
}

// GetStorefrontProducts is the public storefront catalog: provider products
// priced through the org's rules and discount. Provider cost is never part
// of the response.
func GetStorefrontProducts(c middleware.Context) {
	org := c.Param("org_id")
	country := countries.Normalize(c.Query("country"))
	operator := c.Query("operator")

	if country == "" || !countries.IsValid(country) {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "A valid country query parameter is required", Code: "invalid_country"})
		return
	}

	var orgExists bool
	if err := db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM teller.organizations WHERE id = $1 AND is_active)
	`, org).Scan(&orgExists); err != nil {
		logger.WithError(err).Error("Failed to check organization")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get products"})
		return
	}
	if !orgExists {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Storefront not found"})
		return
	}

	settings, err := loadStorefrontSettings(org)
	if err != nil && err != sql.ErrNoRows {
		logger.WithError(err).Error("Failed to load storefront settings")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get products"})
		return
	}

	products, err := loadCatalog(c.Request.Context(), country, operator)
	if err != nil {
		logger.WithError(err).Error("Failed to load provider catalog")
		c.JSON(http.StatusBadGateway, tellerapi.ErrorResponse{Error: "Provider catalog unavailable", Code: "provider_unavailable"})
		return
	}

	rules, err := loadPricingRules(org)
	if err != nil {
		logger.WithError(err).Error("Failed to load pricing rules")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get products"})
		return
	}
	discount, err := loadActiveDiscount(org)
	if err != nil {
		logger.WithError(err).Error("Failed to load discount")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get products"})
		return
	}

	visible := func(operator string) bool {
		if settings == nil || len(settings.VisibleOperators) == 0 {
			return true
		}
		for _, op := range settings.VisibleOperators {
			if strings.EqualFold(op, operator) {
				return true
			}
		}
		return false
	}

	out := []tellerapi.StorefrontProduct{}
	for _, p := range products {
		if !visible(p.Operator) {
			continue
		}
		quote := pricing.Evaluate(p.CostCents, rules, discount, country, p.Operator)
		if quote.RequiresReview {
			// Misconfigured pricing hides the product rather than
			// exposing a zero price.
			continue
		}
		out = append(out, tellerapi.StorefrontProduct{
			SKUCode:                  p.SKU,
			Operator:                 p.Operator,
			Country:                  p.Country,
			DisplayName:              p.DisplayName,
			CostCents:                p.CostCents,
			PriceBeforeDiscountCents: quote.PriceBeforeDiscountCents,
			FinalPriceCents:          quote.FinalPriceCents,
			DiscountApplied:          quote.DiscountApplied,
			Currency:                 p.Currency,
		})
	}

	c.JSON(http.StatusOK, tellerapi.StorefrontProductsResponse{Products: out, Count: len(out)})
}
