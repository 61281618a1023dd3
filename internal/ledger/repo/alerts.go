package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

// Alerts persiste as regras de alerta e os eventos disparados. A dedupe
// por janela fica no UNIQUE (rule_id, window_start, window_end) do schema;
// a regra streak_loss reusa o evento positivo mais recente (update in
// place) em vez de acumular um por avaliação.
type Alerts struct{ db *sql.DB }

func NewAlerts(db *sql.DB) *Alerts { return &Alerts{db: db} }

// ruleMetric diz qual métrica cada tipo de regra observa
var ruleMetric = map[string]string{
	model.RuleRoi:        "roi",
	model.RuleYield:      "yield",
	model.RuleLoss:       "loss",
	model.RuleStreakLoss: "streak_loss",
	model.RuleCustom:     "",
}

func validateRule(rule *model.AlertRule) error {
	metric, ok := ruleMetric[rule.RuleType]
	if !ok {
		return fmt.Errorf("rule type %q: %w", rule.RuleType, model.ErrInvalid)
	}
	if rule.RuleType == model.RuleCustom {
		if rule.Metric == "" {
			return fmt.Errorf("custom rule needs a metric: %w", model.ErrInvalid)
		}
	} else if rule.Metric != "" && rule.Metric != metric {
		return fmt.Errorf("metric %q does not match rule type %q: %w", rule.Metric, rule.RuleType, model.ErrInvalid)
	} else {
		rule.Metric = metric
	}
	switch rule.Comparator {
	case "gt", "gte", "lt", "lte", "eq":
	default:
		return fmt.Errorf("comparator %q: %w", rule.Comparator, model.ErrInvalid)
	}
	if rule.WindowDays < 1 {
		return fmt.Errorf("window_days must be >= 1: %w", model.ErrInvalid)
	}
	return nil
}

// CreateRule insere a regra; para streak_loss as regras anteriores do
// usuário do mesmo tipo são desativadas — só uma streak ativa por vez
func (r *Alerts) CreateRule(ctx context.Context, rule *model.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if rule.RuleType == model.RuleStreakLoss {
		if _, err := tx.ExecContext(ctx, `
			UPDATE alert_rules SET is_active=FALSE
			WHERE user_id=$1 AND rule_type=$2 AND is_active`,
			rule.UserID, model.RuleStreakLoss); err != nil {
			return err
		}
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO alert_rules
			(user_id, rule_type, metric, comparator, threshold, window_days, message_template, query_id, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE)
		RETURNING id, created_at`,
		rule.UserID, rule.RuleType, rule.Metric, rule.Comparator,
		rule.Threshold, rule.WindowDays, rule.MessageTemplate, rule.QueryID,
	).Scan(&rule.ID, &rule.CreatedAt); err != nil {
		return mapPQError(err, "alert rule")
	}
	rule.IsActive = true
	return tx.Commit()
}

func (r *Alerts) UpdateRule(ctx context.Context, rule *model.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_rules
		SET comparator=$1, threshold=$2, window_days=$3, message_template=$4,
		    query_id=$5, is_active=$6
		WHERE id=$7 AND user_id=$8`,
		rule.Comparator, rule.Threshold, rule.WindowDays, rule.MessageTemplate,
		rule.QueryID, rule.IsActive, rule.ID, rule.UserID)
	if err != nil {
		return mapPQError(err, "alert rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert rule %d: %w", rule.ID, model.ErrNotFound)
	}
	return nil
}

const ruleColumns = `
	id, user_id, rule_type, metric, comparator, threshold, window_days,
	message_template, query_id, is_active, last_triggered_at, created_at`

func scanRule(row interface{ Scan(...any) error }) (*model.AlertRule, error) {
	var rule model.AlertRule
	err := row.Scan(
		&rule.ID, &rule.UserID, &rule.RuleType, &rule.Metric,
		&rule.Comparator, &rule.Threshold, &rule.WindowDays,
		&rule.MessageTemplate, &rule.QueryID, &rule.IsActive,
		&rule.LastTriggeredAt, &rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *Alerts) GetRule(ctx context.Context, userID, ruleID int64) (*model.AlertRule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE id=$1 AND user_id=$2`, ruleID, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert rule %d: %w", ruleID, model.ErrNotFound)
	}
	return rule, err
}

func (r *Alerts) ListRules(ctx context.Context, userID int64, onlyActive bool) ([]model.AlertRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE user_id=$1`
	if onlyActive {
		q += ` AND is_active`
	}
	q += ` ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()
	var out []model.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// ListActiveRuleUsers devolve os usuários com pelo menos uma regra ativa
// (o tick do avaliador itera só sobre eles)
func (r *Alerts) ListActiveRuleUsers(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM alert_rules WHERE is_active ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Alerts) DeleteRule(ctx context.Context, userID, ruleID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM alert_rules WHERE id=$1 AND user_id=$2`, ruleID, userID)
	if err != nil {
		return mapPQError(err, "alert rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert rule %d: %w", ruleID, model.ErrNotFound)
	}
	return nil
}

// MarkTriggered atualiza o carimbo de último disparo da regra
func (r *Alerts) MarkTriggered(ctx context.Context, ruleID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_rules SET last_triggered_at=$1 WHERE id=$2`, at, ruleID)
	return err
}

// HasEvent diz se a regra já disparou para a janela (dedupe por janela)
func (r *Alerts) HasEvent(ctx context.Context, ruleID int64, windowStart, windowEnd time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alert_events
			WHERE rule_id=$1 AND window_start=$2 AND window_end=$3
		)`, ruleID, windowStart, windowEnd).Scan(&exists)
	return exists, err
}

func (r *Alerts) CreateEvent(ctx context.Context, ev *model.AlertEvent) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO alert_events
			(rule_id, user_id, metric, comparator, threshold_value, metric_value, window_start, window_end, message, triggered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		ev.RuleID, ev.UserID, ev.Metric, ev.Comparator, ev.ThresholdValue,
		ev.MetricValue, ev.WindowStart, ev.WindowEnd, ev.Message, ev.TriggeredAt).Scan(&ev.ID)
	return mapPQError(err, "alert event")
}

// UpsertStreakEvent mantém um único evento vivo por regra de streak: o
// evento positivo mais recente é o alvo do update in place enquanto a
// sequência cresce, independente de já ter sido entregue. Eventos com
// valor zero são marcas de quebra e não contam como evento vivo. Um novo
// registro só nasce quando não há evento positivo anterior.
func (r *Alerts) UpsertStreakEvent(ctx context.Context, ev *model.AlertEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		existing int64
		stored   decimal.Decimal
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, metric_value FROM alert_events
		WHERE rule_id=$1 AND metric_value > 0
		ORDER BY triggered_at DESC, id DESC LIMIT 1
		FOR UPDATE`, ev.RuleID).Scan(&existing, &stored)
	switch {
	case err == sql.ErrNoRows:
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO alert_events
				(rule_id, user_id, metric, comparator, threshold_value, metric_value, window_start, window_end, message, triggered_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING id`,
			ev.RuleID, ev.UserID, ev.Metric, ev.Comparator, ev.ThresholdValue,
			ev.MetricValue, ev.WindowStart, ev.WindowEnd, ev.Message, ev.TriggeredAt).Scan(&ev.ID); err != nil {
			return mapPQError(err, "alert event")
		}
	case err != nil:
		return err
	default:
		ev.ID = existing
		if ev.MetricValue.GreaterThan(stored) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE alert_events
				SET metric_value=$1, message=$2, window_start=$3, window_end=$4, triggered_at=$5
				WHERE id=$6`,
				ev.MetricValue, ev.Message, ev.WindowStart, ev.WindowEnd, ev.TriggeredAt, existing); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// streakBrokenMessage é a notificação de sequência encerrada
const streakBrokenMessage = "Sequência de derrotas encerrada"

// ResetStreakEvents apaga os eventos de streak com valor positivo do
// usuário; chamado quando um cupom WON zera a sequência de derrotas.
// Quando havia um disparo pendente e a regra segue ativa, um único
// evento com metric_value=0 fica na fila como aviso de quebra.
// Devolve true quando a sequência realmente foi zerada.
func (r *Alerts) ResetStreakEvents(ctx context.Context, userID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM alert_events e
		USING alert_rules r
		WHERE e.rule_id = r.id AND r.user_id=$1 AND r.rule_type=$2 AND e.metric_value > 0`,
		userID, model.RuleStreakLoss)
	if err != nil {
		return false, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if deleted == 0 {
		return false, tx.Commit()
	}

	var ruleID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM alert_rules
		WHERE user_id=$1 AND rule_type=$2 AND is_active
		ORDER BY id DESC LIMIT 1`, userID, model.RuleStreakLoss).Scan(&ruleID)
	switch {
	case err == sql.ErrNoRows:
		// Regra desativada no meio do caminho: zera sem avisar
		return true, tx.Commit()
	case err != nil:
		return false, err
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO alert_events
			(rule_id, user_id, metric, comparator, threshold_value, metric_value, window_start, window_end, message, triggered_at)
		VALUES ($1,$2,$3,'eq',0,0,$4,$4,$5,$4)`,
		ruleID, userID, model.RuleStreakLoss, now, streakBrokenMessage); err != nil {
		return false, mapPQError(err, "streak reset event")
	}
	return true, tx.Commit()
}

const eventColumns = `
	e.id, e.rule_id, e.user_id, e.metric, e.comparator, e.threshold_value,
	e.metric_value, e.window_start, e.window_end, e.message, e.triggered_at, e.sent_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.AlertEvent, error) {
	var ev model.AlertEvent
	err := row.Scan(
		&ev.ID, &ev.RuleID, &ev.UserID, &ev.Metric, &ev.Comparator, &ev.ThresholdValue,
		&ev.MetricValue, &ev.WindowStart, &ev.WindowEnd, &ev.Message, &ev.TriggeredAt, &ev.SentAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListUnsent devolve os eventos pendentes de entrega, do mais antigo
// para o mais recente (ordem FIFO de despacho)
func (r *Alerts) ListUnsent(ctx context.Context) ([]model.AlertEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM alert_events e
		WHERE e.sent_at IS NULL
		ORDER BY e.triggered_at, e.id`)
	if err != nil {
		return nil, fmt.Errorf("list unsent alert events: %w", err)
	}
	defer rows.Close()
	var out []model.AlertEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (r *Alerts) ListEvents(ctx context.Context, userID int64, limit int) ([]model.AlertEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM alert_events e
		WHERE e.user_id=$1
		ORDER BY e.triggered_at DESC, e.id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alert events: %w", err)
	}
	defer rows.Close()
	var out []model.AlertEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (r *Alerts) MarkSent(ctx context.Context, eventID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alert_events SET sent_at=$1 WHERE id=$2 AND sent_at IS NULL`, at, eventID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert event %d: %w", eventID, model.ErrNotFound)
	}
	return nil
}
