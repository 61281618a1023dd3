// Package alerts avalia as regras de alerta do usuário sobre janelas de
// dias-calendário e materializa eventos de disparo deduplicados.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/ledger/analytics"
	"github.com/radieske/bet-ledger/internal/ledger/model"
)

// streakScanLimit limita quantos cupons recentes entram na contagem da
// sequência de derrotas; uma streak real nunca chega perto disso
const streakScanLimit = 200

// CouponSource entrega os cupons do escopo de uma regra
type CouponSource interface {
	ListScoped(ctx context.Context, userID int64, q *model.AnalyticsQuery, from, to time.Time) ([]model.Coupon, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]model.Coupon, error)
}

// RuleStore persiste regras e eventos
type RuleStore interface {
	ListRules(ctx context.Context, userID int64, onlyActive bool) ([]model.AlertRule, error)
	ListActiveRuleUsers(ctx context.Context) ([]int64, error)
	HasEvent(ctx context.Context, ruleID int64, windowStart, windowEnd time.Time) (bool, error)
	CreateEvent(ctx context.Context, ev *model.AlertEvent) error
	UpsertStreakEvent(ctx context.Context, ev *model.AlertEvent) error
	ResetStreakEvents(ctx context.Context, userID int64) (bool, error)
	MarkTriggered(ctx context.Context, ruleID int64, at time.Time) error
}

// QuerySource resolve o filtro salvo referenciado pela regra
type QuerySource interface {
	Get(ctx context.Context, userID, queryID int64) (*model.AnalyticsQuery, error)
}

// Evaluator roda as regras de um usuário por vez; regras do mesmo
// usuário são seriais, então duas avaliações nunca duplicam um evento
type Evaluator struct {
	rules   RuleStore
	coupons CouponSource
	queries QuerySource
	loc     *time.Location
	log     *zap.Logger
}

func NewEvaluator(rules RuleStore, coupons CouponSource, queries QuerySource, loc *time.Location, log *zap.Logger) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{rules: rules, coupons: coupons, queries: queries, loc: loc, log: log}
}

// Window devolve a janela de N dias-calendário terminando hoje, com as
// bordas nos limites de dia do fuso configurado
func (e *Evaluator) Window(now time.Time, days int) (time.Time, time.Time) {
	local := now.In(e.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	end := dayStart.AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)
	return start, end
}

// EvaluateAll roda todos os usuários com regra ativa
func (e *Evaluator) EvaluateAll(ctx context.Context, now time.Time) error {
	users, err := e.rules.ListActiveRuleUsers(ctx)
	if err != nil {
		return fmt.Errorf("list alert users: %w", err)
	}
	for _, userID := range users {
		if err := e.EvaluateUser(ctx, now, userID); err != nil {
			e.log.Error("falha avaliando regras do usuário",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// EvaluateUser avalia as regras ativas de um usuário; o erro de uma
// regra não bloqueia as demais
func (e *Evaluator) EvaluateUser(ctx context.Context, now time.Time, userID int64) error {
	rules, err := e.rules.ListRules(ctx, userID, true)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := e.evaluateRule(ctx, now, rule); err != nil {
			e.log.Error("falha avaliando regra",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule_type", rule.RuleType),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, now time.Time, rule model.AlertRule) error {
	if rule.RuleType == model.RuleStreakLoss {
		return e.evaluateStreak(ctx, now, rule)
	}

	start, end := e.Window(now, rule.WindowDays)

	var scope *model.AnalyticsQuery
	if rule.QueryID != nil {
		q, err := e.queries.Get(ctx, rule.UserID, *rule.QueryID)
		if err != nil {
			return fmt.Errorf("rule scope query: %w", err)
		}
		scope = q
	}
	coupons, err := e.coupons.ListScoped(ctx, rule.UserID, scope, start, end)
	if err != nil {
		return err
	}

	value, ok := metricValue(rule.Metric, coupons)
	if !ok {
		// Razão indefinida (denominador zero): sem veredito, sem evento
		return nil
	}
	if !Compare(value, rule.Comparator, rule.Threshold) {
		return nil
	}

	dup, err := e.rules.HasEvent(ctx, rule.ID, start, end)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	ev := e.buildEvent(rule, value, start, end, now)
	if err := e.rules.CreateEvent(ctx, ev); err != nil {
		return err
	}
	return e.rules.MarkTriggered(ctx, rule.ID, now)
}

// evaluateStreak conta a sequência de derrotas mais recente; o evento
// vivo é atualizado no lugar enquanto a sequência cresce, mesmo depois
// de entregue, e é descartado quando um WON a quebra
func (e *Evaluator) evaluateStreak(ctx context.Context, now time.Time, rule model.AlertRule) error {
	coupons, err := e.coupons.ListRecent(ctx, rule.UserID, streakScanLimit)
	if err != nil {
		return err
	}
	streak := analytics.LossStreak(coupons)
	value := decimal.NewFromInt(int64(streak))

	if !Compare(value, rule.Comparator, rule.Threshold) {
		if streak == 0 {
			_, err := e.rules.ResetStreakEvents(ctx, rule.UserID)
			return err
		}
		return nil
	}

	start, end := e.Window(now, rule.WindowDays)
	ev := e.buildEvent(rule, value, start, end, now)
	if err := e.rules.UpsertStreakEvent(ctx, ev); err != nil {
		return err
	}
	return e.rules.MarkTriggered(ctx, rule.ID, now)
}

func (e *Evaluator) buildEvent(rule model.AlertRule, value decimal.Decimal, start, end, now time.Time) *model.AlertEvent {
	return &model.AlertEvent{
		RuleID:         rule.ID,
		UserID:         rule.UserID,
		Metric:         rule.Metric,
		Comparator:     rule.Comparator,
		ThresholdValue: rule.Threshold,
		MetricValue:    value,
		WindowStart:    start,
		WindowEnd:      end,
		Message:        RenderMessage(rule, value, start, end, e.loc),
		TriggeredAt:    now,
	}
}

// metricValue extrai o valor da métrica observada; ok=false quando a
// métrica é uma razão indefinida no escopo
func metricValue(metric string, coupons []model.Coupon) (decimal.Decimal, bool) {
	m := analytics.Compute(coupons)
	switch metric {
	case "roi":
		return m.Roi.Decimal, m.Roi.Valid
	case "yield":
		return m.Yield.Decimal, m.Yield.Valid
	case "win_rate":
		return m.WinRate.Decimal, m.WinRate.Valid
	case "loss":
		return analytics.LossTotal(coupons), true
	case "total_stake":
		return m.TotalStake, true
	case "realized_profit":
		return m.RealizedProfit, true
	case "avg_stake":
		return m.AvgStake, true
	case "avg_multiplier":
		return m.AvgMultiplier, true
	default:
		return decimal.Decimal{}, false
	}
}

// Compare aplica o comparador da regra
func Compare(value decimal.Decimal, comparator string, threshold decimal.Decimal) bool {
	switch comparator {
	case "gt":
		return value.GreaterThan(threshold)
	case "gte":
		return value.GreaterThanOrEqual(threshold)
	case "lt":
		return value.LessThan(threshold)
	case "lte":
		return value.LessThanOrEqual(threshold)
	case "eq":
		return value.Equal(threshold)
	}
	return false
}

const defaultTemplate = "Alerta {metric}: valor {value} atingiu o limiar {threshold} na janela {start} a {end}"

// RenderMessage preenche o template da regra; os placeholders aceitos
// são {metric}, {value}, {threshold}, {start} e {end}
func RenderMessage(rule model.AlertRule, value decimal.Decimal, start, end time.Time, loc *time.Location) string {
	tpl := rule.MessageTemplate
	if tpl == "" {
		tpl = defaultTemplate
	}
	// A borda final é exclusiva; o último dia da janela é end-1d
	lastDay := end.AddDate(0, 0, -1)
	repl := strings.NewReplacer(
		"{metric}", rule.Metric,
		"{value}", value.String(),
		"{threshold}", rule.Threshold.String(),
		"{start}", start.In(loc).Format("2006-01-02"),
		"{end}", lastDay.In(loc).Format("2006-01-02"),
	)
	return repl.Replace(tpl)
}
