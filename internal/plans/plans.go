package plans

import (
	"fmt"

	"github.com/lunamail/billing-backend/pkg/enums"
)

// Static catalog correlating provider product/price identifiers with plan
// tiers and credit durations. The catalog is append-only: removing an entry
// would orphan historical payments, so retired prices stay listed (see the
// legacy one-time prices below).

var stripeProducts = map[string]enums.Plan{
	"prod_LfNqe2hAlSturC": enums.PlanEnhancedProtection,
	"prod_LfNsMRVmLkXFAY": enums.PlanTeam,
}

// PlanForStripeProduct resolves the plan tier sold under a Stripe product.
func PlanForStripeProduct(productID string) (enums.Plan, bool) {
	plan, ok := stripeProducts[productID]
	return plan, ok
}

var stripePrices = map[enums.Plan]map[enums.PaymentKind]map[string]enums.Duration{
	enums.PlanEnhancedProtection: {
		enums.PaymentKindOneTime: {
			"price_1L0IeyFjcK3YBSOyJ30d001": enums.Duration30Days,
			"price_1L0IeyFjcK3YBSOyJ60d001": enums.Duration60Days,
			"price_1L0IeyFjcK3YBSOyJ90d001": enums.Duration90Days,
			"price_1L0IeyFjcK3YBSOyJ180001": enums.Duration180Days,
			"price_1L0IeyFjcK3YBSOyJ1yr001": enums.Duration1Year,
		},
		enums.PaymentKindSubscription: {
			"price_1L0IfVFjcK3YBSOyMo00001": enums.Duration1Month,
			"price_1L0IfVFjcK3YBSOyYr00001": enums.Duration1Year,
		},
	},
	enums.PlanTeam: {
		enums.PaymentKindOneTime: {
			"price_1L0IhrFjcK3YBSOyT30d001": enums.Duration30Days,
			"price_1L0IhrFjcK3YBSOyT60d001": enums.Duration60Days,
			"price_1L0IhrFjcK3YBSOyT90d001": enums.Duration90Days,
			"price_1L0IhrFjcK3YBSOyT180001": enums.Duration180Days,
			"price_1L0IhrFjcK3YBSOyT1yr001": enums.Duration1Year,
		},
		enums.PaymentKindSubscription: {
			"price_1L0IiWFjcK3YBSOyTMo0001": enums.Duration1Month,
			"price_1L0IiWFjcK3YBSOyTYr0001": enums.Duration1Year,
		},
	},
}

// Two price ids from the first year of the product predate the catalog
// above; payments referencing them still arrive through history syncs.
var legacyStripePrices = map[string]enums.Duration{
	"price_1HbLh0FjcK3YBSOyD4lYB3Jz": enums.Duration60Days,
	"price_1HbLhFFjcK3YBSOyBPD5hScR": enums.Duration90Days,
}

// DurationForStripePrice resolves how much plan credit a Stripe price buys.
func DurationForStripePrice(plan enums.Plan, kind enums.PaymentKind, priceID string) (enums.Duration, error) {
	if byKind, ok := stripePrices[plan]; ok {
		if byPrice, ok := byKind[kind]; ok {
			if duration, ok := byPrice[priceID]; ok {
				return duration, nil
			}
		}
	}
	if duration, ok := legacyStripePrices[priceID]; ok {
		return duration, nil
	}
	return "", fmt.Errorf("invalid price id %s: could not find matching duration", priceID)
}

type paypalPlan struct {
	plan     enums.Plan
	duration enums.Duration
}

var paypalPlans = map[string]paypalPlan{
	"P-5ML4271244454362WXNWU5NQ": {enums.PlanEnhancedProtection, enums.Duration1Month},
	"P-94P38600HS023511BXNWU5NQ": {enums.PlanEnhancedProtection, enums.Duration1Year},
	"P-1GJ4893505510233TXNWU5NQ": {enums.PlanTeam, enums.Duration1Month},
	"P-6PV08533X81064630XNWU5NQ": {enums.PlanTeam, enums.Duration1Year},
}

// ForPayPalPlan resolves the plan tier and credit duration of a PayPal
// billing plan id.
func ForPayPalPlan(planID string) (enums.Plan, enums.Duration, error) {
	entry, ok := paypalPlans[planID]
	if !ok {
		return "", "", fmt.Errorf("unknown paypal plan id %s", planID)
	}
	return entry.plan, entry.duration, nil
}
