package dto

import (
	"github.com/radieske/bet-ledger/internal/ledger/analytics"
	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/money"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// As entidades do model já carregam tags JSON; as respostas compostas
// ficam aqui.

type TransactionSummaryResponse struct {
	Deposits    string `json:"deposits"`
	Withdrawals string `json:"withdrawals"`
	Net         string `json:"net"`
}

type CouponListResponse struct {
	Coupons []model.Coupon `json:"coupons"`
	Count   int            `json:"count"`
}

type MetricsResponse struct {
	Metrics analytics.Metrics `json:"metrics"`
	Count   int               `json:"count"`
}

type BudgetResponse struct {
	Limit    money.NullDecimal `json:"limit"`
	Spent    string            `json:"spent"`
	Exceeded bool              `json:"exceeded"`
}
