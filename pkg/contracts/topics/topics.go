package topics

const (
	// Cupons
	CouponSettled    = "coupon_settled"
	CouponSettledDLQ = "coupon_settled_dlq"
)
