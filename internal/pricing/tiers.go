package pricing

// Tier defines a subscription plan tier for reseller organizations.
type Tier struct {
	Name              string
	DisplayName       string
	MonthlyPriceCents int64
	// FeePercent is the platform fee taken on each top-up sale.
	FeePercent float64
	// MonthlyTxLimit caps transactions per billing period; 0 means unlimited.
	MonthlyTxLimit int
	// CustomerLimit caps stored customers; 0 means unlimited.
	CustomerLimit int

	CustomBranding  bool
	APIAccess       bool
	PrioritySupport bool
	WhiteLabel      bool

	// IsEnterprise marks tiers whose fee can be overridden per subscription.
	IsEnterprise bool
}

// Tiers holds all available subscription tiers keyed by tier name.
var Tiers = map[string]*Tier{
	"starter": {
		Name:              "starter",
		DisplayName:       "Starter",
		MonthlyPriceCents: 0,
		FeePercent:        5.0,
		MonthlyTxLimit:    100,
		CustomerLimit:     50,
	},
	"growth": {
		Name:              "growth",
		DisplayName:       "Growth",
		MonthlyPriceCents: 4900,
		FeePercent:        3.5,
		MonthlyTxLimit:    1000,
		CustomerLimit:     500,
		CustomBranding:    true,
		APIAccess:         true,
	},
	"scale": {
		Name:              "scale",
		DisplayName:       "Scale",
		MonthlyPriceCents: 19900,
		FeePercent:        2.5,
		MonthlyTxLimit:    10000,
		CustomerLimit:     5000,
		CustomBranding:    true,
		APIAccess:         true,
		PrioritySupport:   true,
	},
	"enterprise": {
		Name:              "enterprise",
		DisplayName:       "Enterprise",
		MonthlyPriceCents: 49900,
		FeePercent:        1.5,
		MonthlyTxLimit:    0,
		CustomerLimit:     0,
		CustomBranding:    true,
		APIAccess:         true,
		PrioritySupport:   true,
		WhiteLabel:        true,
		IsEnterprise:      true,
	},
}

// TierOrder defines the display ordering of tiers.
var TierOrder = []string{"starter", "growth", "scale", "enterprise"}

// GetTier returns a tier by its name, or nil when unknown.
func GetTier(name string) *Tier {
	return Tiers[name]
}

// ListTiers returns all tiers in display order.
func ListTiers() []*Tier {
	out := make([]*Tier, 0, len(TierOrder))
	for _, name := range TierOrder {
		out = append(out, Tiers[name])
	}
	return out
}

// EffectiveFeePercent resolves the fee for a subscription, honoring an
// enterprise per-org override when present.
func EffectiveFeePercent(tierName string, customFeePercent *float64) float64 {
	tier := GetTier(tierName)
	if tier == nil {
		return Tiers["starter"].FeePercent
	}
	if tier.IsEnterprise && customFeePercent != nil {
		return *customFeePercent
	}
	return tier.FeePercent
}

// Features returns the feature flags of a tier as a list of names.
func (t *Tier) Features() []string {
	var out []string
	if t.CustomBranding {
		out = append(out, "custom_branding")
	}
	if t.APIAccess {
		out = append(out, "api_access")
	}
	if t.PrioritySupport {
		out = append(out, "priority_support")
	}
	if t.WhiteLabel {
		out = append(out, "white_label")
	}
	return out
}
