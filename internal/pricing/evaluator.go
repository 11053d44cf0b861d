package pricing

import (
	"github.com/shopspring/decimal"

	"airvend/pkg/models"
)

// Quote is the priced result of running a base cost through an org's
// pricing rules and discount.
type Quote struct {
	BaseCostCents            int64
	PriceBeforeDiscountCents int64
	FinalPriceCents          int64
	DiscountApplied          bool
	AppliedRuleID            string
	// RequiresReview is set when the configured rules produced a
	// non-sensical price (negative before clamping).
	RequiresReview bool
}

// specificity ranks rule scope: operator match beats country match beats
// a global rule.
func specificity(r *models.PricingRule) int {
	switch {
	case r.Operator != "":
		return 2
	case r.Country != "":
		return 1
	default:
		return 0
	}
}

// matches reports whether a rule's scope covers the given country and
// operator. Empty scope fields match anything.
func matches(r *models.PricingRule, country, operator string) bool {
	if !r.IsActive {
		return false
	}
	if r.Country != "" && r.Country != country {
		return false
	}
	if r.Operator != "" && r.Operator != operator {
		return false
	}
	return true
}

// selectRule picks the winning rule: highest priority first, most specific
// scope on ties. Returns nil when nothing matches.
func selectRule(rules []models.PricingRule, country, operator string) *models.PricingRule {
	var best *models.PricingRule
	for i := range rules {
		r := &rules[i]
		if !matches(r, country, operator) {
			continue
		}
		if best == nil ||
			r.Priority > best.Priority ||
			(r.Priority == best.Priority && specificity(r) > specificity(best)) {
			best = r
		}
	}
	return best
}

// applyPercent adds pct percent of amount, rounding half-up to whole cents.
func applyPercent(amountCents int64, pct float64) int64 {
	amount := decimal.NewFromInt(amountCents)
	factor := decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))
	return amount.Add(amount.Mul(factor)).Round(0).IntPart()
}

// subtractPercent removes pct percent of amount, rounding half-up.
func subtractPercent(amountCents int64, pct float64) int64 {
	amount := decimal.NewFromInt(amountCents)
	factor := decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))
	return amount.Sub(amount.Mul(factor)).Round(0).IntPart()
}

// Evaluate prices a provider base cost through the org's rules and discount.
// The winning markup rule is applied first; the discount only applies when
// the post-markup price clears its minimum purchase gate. A negative result
// clamps to zero and flags the quote for review.
func Evaluate(baseCostCents int64, rules []models.PricingRule, discount *models.Discount, country, operator string) Quote {
	q := Quote{BaseCostCents: baseCostCents}

	price := baseCostCents
	if rule := selectRule(rules, country, operator); rule != nil {
		q.AppliedRuleID = rule.ID
		switch rule.RuleType {
		case models.RuleTypePercentage:
			price = applyPercent(price, rule.Percent)
		case models.RuleTypeFixed:
			price += rule.ValueCents
		}
	}
	q.PriceBeforeDiscountCents = price

	if discount != nil && discount.IsActive && price >= discount.MinPurchaseCents {
		switch discount.DiscountType {
		case models.RuleTypePercentage:
			price = subtractPercent(price, discount.Percent)
		case models.RuleTypeFixed:
			price -= discount.ValueCents
		}
		q.DiscountApplied = true
	}

	if price < 0 {
		price = 0
		q.RequiresReview = true
	}
	q.FinalPriceCents = price
	return q
}
