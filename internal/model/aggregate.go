package model

// Summary aggregate names. Each is persisted as table "agg_" + name.
const (
	AggByRegion        = "by_region"
	AggByTier          = "by_tier"
	AggByEmployment    = "by_employment"
	AggByPaymentMethod = "by_payment_method"
	AggByGenderMarital = "by_gender_marital"
	AggByReferral      = "by_referral"
	AggByHour          = "by_hour"
	AggByAgeBand       = "by_age_band"
	AggByMonth         = "by_month"
)

// AggregateNames lists the fixed aggregate set in refresh order.
var AggregateNames = []string{
	AggByRegion,
	AggByTier,
	AggByEmployment,
	AggByPaymentMethod,
	AggByGenderMarital,
	AggByReferral,
	AggByHour,
	AggByAgeBand,
	AggByMonth,
}

// AggregateTable returns the table that stores the named aggregate.
func AggregateTable(name string) string { return "agg_" + name }
