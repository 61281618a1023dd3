package dto

import "time"

// Valores monetários e odds chegam como string e são convertidos para
// decimal na borda; float64 nunca entra no domínio.

type CreateAccountRequest struct {
	BookmakerID int64  `json:"bookmaker_id"`
	CurrencyID  int64  `json:"currency_id"`
	Alias       string `json:"alias"`
}

type UpdateAccountRequest struct {
	Alias  string `json:"alias"`
	Active *bool  `json:"active"`
}

type TransactionRequest struct {
	Type   string `json:"type"` // DEPOSIT | WITHDRAWAL
	Amount string `json:"amount"`
}

type BetRequest struct {
	EventID      int64     `json:"event_id,omitempty"`
	EventName    string    `json:"event_name,omitempty"`
	HomeTeam     string    `json:"home_team,omitempty"`
	AwayTeam     string    `json:"away_team,omitempty"`
	StartTime    time.Time `json:"start_time,omitempty"`
	DisciplineID int64     `json:"discipline_id,omitempty"`
	BetTypeID    *int64    `json:"bet_type_id,omitempty"`
	Line         string    `json:"line"`
	Odds         string    `json:"odds"`
}

type CreateCouponRequest struct {
	AccountID  int64        `json:"account_id"`
	StrategyID *int64       `json:"strategy_id,omitempty"`
	CouponType string       `json:"coupon_type,omitempty"`
	Stake      string       `json:"bet_stake"`
	Bets       []BetRequest `json:"bets"`
}

type UpdateBetRequest struct {
	Line   string  `json:"line"`
	Odds   string  `json:"odds"`
	Result *string `json:"result"`
}

// SettleRequest carrega os resultados por aposta; apostas omitidas
// permanecem como estão
type SettleRequest struct {
	Results []BetResultUpdate `json:"results"`
}

type BetResultUpdate struct {
	BetID  int64  `json:"bet_id"`
	Result string `json:"result"` // WIN | LOST | CANCELED
}

type StrategyRequest struct {
	Name string `json:"name"`
}

type AlertRuleRequest struct {
	RuleType        string `json:"rule_type"`
	Metric          string `json:"metric,omitempty"`
	Comparator      string `json:"comparator"`
	Threshold       string `json:"threshold"`
	WindowDays      int    `json:"window_days"`
	QueryID         *int64 `json:"query_id,omitempty"`
	MessageTemplate string `json:"message_template,omitempty"`
	IsActive        *bool  `json:"is_active,omitempty"`
}

type ReportRequest struct {
	QueryID   *int64     `json:"query_id,omitempty"`
	Frequency string     `json:"frequency"`
	Channels  []string   `json:"channels,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	IsActive  *bool      `json:"is_active,omitempty"`
}

type SettingsRequest struct {
	DateFormat         string  `json:"date_format,omitempty"`
	MonthlyBudgetLimit *string `json:"monthly_budget_limit"` // null remove o limite
	Language           string  `json:"language,omitempty"`
}

type BindingRequest struct {
	ChatID   int64  `json:"chat_id"`
	Language string `json:"language,omitempty"`
}
