// Pacote model define as entidades persistidas do ledger de apostas.
// Todo valor monetário usa shopspring/decimal — nunca float64 para dinheiro.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/bet-ledger/internal/ledger/money"
)

// Status do cupom (máquina de estados da liquidação)
const (
	StatusInProgress = "IN_PROGRESS"
	StatusWon        = "WON"
	StatusLost       = "LOST"
	StatusCanceled   = "CANCELED"
)

// Tipo do cupom
const (
	CouponSolo   = "SOLO"
	CouponAko    = "AKO"
	CouponSystem = "SYSTEM"
)

// Resultado de uma aposta individual
const (
	BetWin      = "WIN"
	BetLost     = "LOST"
	BetCanceled = "CANCELED"
)

// Tipo de transação de conta
const (
	TxDeposit    = "DEPOSIT"
	TxWithdrawal = "WITHDRAWAL"
)

// Bookmaker é entrada imutável de dicionário. TaxMultiplier escala o
// ganho bruto (0.88 ≈ 12% de imposto retido na fonte).
type Bookmaker struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	TaxMultiplier decimal.Decimal `json:"tax_multiplier"`
}

// Currency é entrada imutável de dicionário. PLN dispara a dedução de
// ganho alto (2280 PLN) no cálculo de payout.
type Currency struct {
	ID      int64             `json:"id"`
	Code    string            `json:"code"` // 3 letras maiúsculas, ex: "PLN"
	Symbol  string            `json:"symbol"`
	FxValue money.NullDecimal `json:"fx_value"`
}

// Discipline é entrada imutável de dicionário (ex: "football")
type Discipline struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// BetType é o código de tipo de aposta dentro de uma disciplina
type BetType struct {
	ID           int64  `json:"id"`
	DisciplineID int64  `json:"discipline_id"`
	Code         string `json:"code"` // ex: "1x2", "over_under"
}

// BookmakerAccount é a conta por (usuário, bookmaker); saldo com 2 casas
type BookmakerAccount struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	BookmakerID int64           `json:"bookmaker_id"`
	CurrencyID  int64           `json:"currency_id"`
	Alias       string          `json:"alias,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`

	// Hidratados nos pontos de entrada de liquidação e analytics
	Bookmaker *Bookmaker `json:"bookmaker,omitempty"`
	Currency  *Currency  `json:"currency,omitempty"`
}

// Transaction é depósito ou saque contra uma conta; amount sempre > 0
type Transaction struct {
	ID        int64             `json:"id"`
	AccountID int64             `json:"account_id"`
	UserID    int64             `json:"user_id"`
	Type      string            `json:"type"` // DEPOSIT | WITHDRAWAL
	Amount    decimal.Decimal   `json:"amount"`
	Fee       money.NullDecimal `json:"fee"` // reservado, sem semântica ainda
	CreatedAt time.Time         `json:"created_at"`
}

// Event é deduplicado por (name, start_time, discipline)
type Event struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	HomeTeam     string    `json:"home_team,omitempty"`
	AwayTeam     string    `json:"away_team,omitempty"`
	StartTime    time.Time `json:"start_time"`
	DisciplineID int64     `json:"discipline_id"`
}

// UserStrategy é um rótulo nomeado pelo usuário; único por (user, name)
type UserStrategy struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// Bet é filha de exatamente um cupom. Result nulo = em aberto.
type Bet struct {
	ID        int64           `json:"id"`
	CouponID  int64           `json:"coupon_id"`
	EventID   int64           `json:"event_id"`
	BetTypeID *int64          `json:"bet_type_id"`
	Line      string          `json:"line"` // seleção textual, ex: "1", "Over 2.5"
	Odds      decimal.Decimal `json:"odds"` // >= 1.01
	Result    *string         `json:"result"`

	Event *Event `json:"event,omitempty"`
}

// Coupon é a raiz de agregado de um conjunto de apostas.
// Balance é o lucro/prejuízo realizado (assinado) no cupom.
type Coupon struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	AccountID  int64           `json:"account_id"`
	StrategyID *int64          `json:"strategy_id"`
	CouponType string          `json:"coupon_type"` // SOLO | AKO | SYSTEM
	Stake      decimal.Decimal `json:"bet_stake"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Status     string          `json:"status"`
	Balance    decimal.Decimal `json:"balance"`
	// Trava de idempotência: o crédito do saldo terminal na conta
	// é aplicado no máximo uma vez por cupom.
	SettledDeltaApplied bool      `json:"-"`
	CreatedAt           time.Time `json:"created_at"`

	Bets     []Bet             `json:"bets,omitempty"`
	Account  *BookmakerAccount `json:"bookmaker_account,omitempty"`
	Strategy *UserStrategy     `json:"strategy,omitempty"`
}

// Terminal informa se o status encerra a máquina de estados
func Terminal(status string) bool {
	return status == StatusWon || status == StatusLost || status == StatusCanceled
}

// AnalyticsQuery é o filtro composto persistido (árvore de grupos)
type AnalyticsQuery struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	SortBy    string    `json:"sort_by,omitempty"`
	DateFrom  *time.Time `json:"date_from,omitempty"`
	DateTo    *time.Time `json:"date_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Groups []AnalyticsQueryGroup `json:"groups,omitempty"`
}

// AnalyticsQueryGroup combina condições e subgrupos com AND/OR, em ordem
type AnalyticsQueryGroup struct {
	ID       int64  `json:"id"`
	QueryID  int64  `json:"query_id"`
	ParentID *int64 `json:"parent_id"`
	Operator string `json:"operator"` // "AND" | "OR"
	Order    int    `json:"order"`

	Conditions []AnalyticsQueryCondition `json:"conditions,omitempty"`
	Subgroups  []AnalyticsQueryGroup     `json:"subgroups,omitempty"`
}

// AnalyticsQueryCondition é o predicado folha da árvore
type AnalyticsQueryCondition struct {
	ID       int64  `json:"id"`
	GroupID  int64  `json:"group_id"`
	Field    string `json:"field"`    // caminho com "." como separador de relação
	Operator string `json:"operator"` // equals, contains, gt, in, ...
	Value    string `json:"value"`
	Negate   bool   `json:"negate"`
	Order    int    `json:"order"`
}

// Tipos de regra de alerta
const (
	RuleRoi        = "roi"
	RuleYield      = "yield"
	RuleLoss       = "loss"
	RuleStreakLoss = "streak_loss"
	RuleCustom     = "custom"
)

// AlertRule é a regra ativa do usuário; no máximo uma streak_loss ativa
type AlertRule struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	RuleType        string          `json:"rule_type"`
	Metric          string          `json:"metric"` // deve casar com rule_type
	Comparator      string          `json:"comparator"` // lt, lte, gt, gte, eq
	Threshold       decimal.Decimal `json:"threshold"`
	WindowDays      int             `json:"window_days"` // >= 1
	MessageTemplate string          `json:"message_template,omitempty"`
	QueryID         *int64          `json:"query_id"`
	IsActive        bool            `json:"is_active"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AlertEvent é o disparo materializado de uma regra.
// Unicidade: (rule, window_start, window_end), exceto streak_loss
// que atualiza o evento vivo no lugar.
type AlertEvent struct {
	ID             int64           `json:"id"`
	RuleID         int64           `json:"rule_id"`
	UserID         int64           `json:"user_id"`
	Metric         string          `json:"metric"`
	Comparator     string          `json:"comparator"`
	ThresholdValue decimal.Decimal `json:"threshold_value"`
	MetricValue    decimal.Decimal `json:"metric_value"`
	WindowStart    time.Time       `json:"window_start"`
	WindowEnd      time.Time       `json:"window_end"`
	Message        string          `json:"message"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	SentAt         *time.Time      `json:"sent_at"`
}

// Frequências de relatório
const (
	FreqDaily   = "DAILY"
	FreqWeekly  = "WEEKLY"
	FreqMonthly = "MONTHLY"
	FreqYearly  = "YEARLY"
	FreqCustom  = "CUSTOM"
)

// Report é o snapshot agendado de analytics; NextRun é marca d'água
// monotônica avançada só após entrega bem-sucedida.
type Report struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	QueryID         *int64     `json:"query_id"`
	Frequency       string     `json:"frequency"`
	Channels        []string   `json:"channels"` // email, dashboard, sms, telegram
	SchedulePayload string     `json:"schedule_payload,omitempty"` // reservado
	IsActive        bool       `json:"is_active"`
	NextRun         time.Time  `json:"next_run"`
	LastSentAt      *time.Time `json:"last_sent_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// UserSettings guarda preferências do usuário lidas pelo dispatcher
type UserSettings struct {
	UserID             int64             `json:"user_id"`
	DateFormat         string            `json:"date_format,omitempty"`
	MonthlyBudgetLimit money.NullDecimal `json:"monthly_budget_limit"`
	Language           string            `json:"language"` // "pl" | "en"
}

// MessagingBinding associa o usuário ao chat do Telegram (no máximo um)
type MessagingBinding struct {
	UserID   int64  `json:"user_id"`
	ChatID   int64  `json:"chat_id"`
	Language string `json:"language"`
}
