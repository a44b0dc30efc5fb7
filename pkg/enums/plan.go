package enums

// Plan is a subscription tier. The set is closed; payments only ever
// reference the two paid tiers.
type Plan string

const (
	PlanFree               Plan = "free"
	PlanEnhancedProtection Plan = "enhanced_protection"
	PlanTeam               Plan = "team"
)

// Valid reports whether the plan is a known tier.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanEnhancedProtection, PlanTeam:
		return true
	}
	return false
}

// Paid reports whether payments can exist for the plan.
func (p Plan) Paid() bool {
	return p == PlanEnhancedProtection || p == PlanTeam
}
