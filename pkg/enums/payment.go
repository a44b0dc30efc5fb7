package enums

import "time"

// PaymentKind distinguishes one-off checkouts from recurring subscription
// charges. One-time payments carry no invoice or subscription reference.
type PaymentKind string

const (
	PaymentKindOneTime      PaymentKind = "one_time"
	PaymentKindSubscription PaymentKind = "subscription"
)

func (k PaymentKind) Valid() bool {
	return k == PaymentKindOneTime || k == PaymentKindSubscription
}

// PaymentMethod values beyond the card brands reported by the processor.
const (
	PaymentMethodPayPal         = "paypal"
	PaymentMethodFreeBeta       = "free_beta_program"
	PaymentMethodPlanConversion = "plan_conversion"
)

// RefundImmuneMethods never lose plan credit on refund; beta and
// plan-conversion entries represent internal bookkeeping, not real charges.
var RefundImmuneMethods = map[string]struct{}{
	PaymentMethodFreeBeta:       {},
	PaymentMethodPlanConversion: {},
}

// IsRefundImmuneMethod reports whether a refund on the method keeps credit.
func IsRefundImmuneMethod(method string) bool {
	_, ok := RefundImmuneMethods[method]
	return ok
}

// Duration is the span of plan credit one payment buys. Addition is
// calendar-aware so monthly billing tracks calendar months rather than a
// fixed number of days.
type Duration string

const (
	Duration1Month  Duration = "1m"
	Duration30Days  Duration = "30d"
	Duration60Days  Duration = "60d"
	Duration90Days  Duration = "90d"
	Duration180Days Duration = "180d"
	Duration1Year   Duration = "1y"
)

func (d Duration) Valid() bool {
	switch d {
	case Duration1Month, Duration30Days, Duration60Days, Duration90Days, Duration180Days, Duration1Year:
		return true
	}
	return false
}

// AddTo advances t by the duration using calendar arithmetic.
func (d Duration) AddTo(t time.Time) time.Time {
	switch d {
	case Duration1Month:
		return t.AddDate(0, 1, 0)
	case Duration30Days:
		return t.AddDate(0, 0, 30)
	case Duration60Days:
		return t.AddDate(0, 0, 60)
	case Duration90Days:
		return t.AddDate(0, 0, 90)
	case Duration180Days:
		return t.AddDate(0, 0, 180)
	case Duration1Year:
		return t.AddDate(1, 0, 0)
	}
	return t
}
