package events

import "time"

// Evento publicado no tópico "coupon_settled" quando um cupom atinge
// status terminal (WON, LOST ou CANCELED).
type CouponSettled struct {
	CouponID   int64     `json:"coupon_id"`
	UserID     int64     `json:"user_id"`
	AccountID  int64     `json:"account_id"`
	Status     string    `json:"status"`  // "WON" | "LOST" | "CANCELED"
	Balance    string    `json:"balance"` // lucro/prejuízo realizado (decimal em string)
	Stake      string    `json:"stake"`
	Multiplier string    `json:"multiplier"`
	SettledAt  time.Time `json:"settled_at"`
}
