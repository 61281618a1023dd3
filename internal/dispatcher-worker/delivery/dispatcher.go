// Package delivery despacha alertas, relatórios e avisos de orçamento
// para o canal de mensagens do usuário.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/repo"
	"github.com/radieske/bet-ledger/internal/shared/i18n"
	"github.com/radieske/bet-ledger/internal/shared/messaging"
)

// budgetDedupTTL mantém a chave de dedupe até bem depois da virada do mês
const budgetDedupTTL = 45 * 24 * time.Hour

type EventStore interface {
	ListUnsent(ctx context.Context) ([]model.AlertEvent, error)
	MarkSent(ctx context.Context, eventID int64, at time.Time) error
}

type UserSource interface {
	Binding(ctx context.Context, userID int64) (*model.MessagingBinding, error)
	ListWithBudget(ctx context.Context) ([]repo.BudgetUser, error)
}

type DepositSource interface {
	MonthlyDeposits(ctx context.Context, userID int64, monthStart time.Time) (decimal.Decimal, error)
}

type Evaluator interface {
	EvaluateAll(ctx context.Context, now time.Time) error
}

type ReportRunner interface {
	RunDue(ctx context.Context, now time.Time) (int, error)
}

// Dedup marca uma chave como vista uma única vez; Forget desfaz a marca
// quando a entrega correspondente falhou
type Dedup interface {
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// RedisDedup implementa Dedup com SET NX
type RedisDedup struct{ Client *redis.Client }

func (d RedisDedup) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.Client.SetNX(ctx, key, "1", ttl).Result()
}

func (d RedisDedup) Forget(ctx context.Context, key string) error {
	return d.Client.Del(ctx, key).Err()
}

// Dispatcher reúne os três ticks do worker. Cada tick tem guarda de
// reentrada: se a rodada anterior ainda roda, a nova é pulada.
type Dispatcher struct {
	Log       *zap.Logger
	Events    EventStore
	Users     UserSource
	Deposits  DepositSource
	Evaluator Evaluator
	Reports   ReportRunner
	Sender    messaging.Sender
	Dedup     Dedup
	Loc       *time.Location

	OnAlertSent  func()
	OnReportSent func()
	OnBudgetSent func()
	OnError      func(stage string)

	alertsBusy  atomic.Bool
	reportsBusy atomic.Bool
	budgetBusy  atomic.Bool
}

func (d *Dispatcher) fail(stage string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	d.Log.Error("dispatcher "+stage, fields...)
	if d.OnError != nil {
		d.OnError(stage)
	}
}

// AlertsTick avalia as regras e drena os eventos pendentes, na ordem de
// disparo. Usuário sem chat vinculado fica com os eventos represados.
func (d *Dispatcher) AlertsTick(ctx context.Context, now time.Time) {
	if !d.alertsBusy.CompareAndSwap(false, true) {
		return
	}
	defer d.alertsBusy.Store(false)

	if err := d.Evaluator.EvaluateAll(ctx, now); err != nil {
		d.fail("evaluate", err)
	}

	pending, err := d.Events.ListUnsent(ctx)
	if err != nil {
		d.fail("list_unsent", err)
		return
	}

	bindings := map[int64]*model.MessagingBinding{}
	skipped := map[int64]bool{}
	for _, ev := range pending {
		if skipped[ev.UserID] {
			continue
		}
		binding, ok := bindings[ev.UserID]
		if !ok {
			binding, err = d.Users.Binding(ctx, ev.UserID)
			if err != nil {
				if !errors.Is(err, model.ErrNotFound) {
					d.fail("binding", err, zap.Int64("user_id", ev.UserID))
				}
				skipped[ev.UserID] = true
				continue
			}
			bindings[ev.UserID] = binding
		}

		text := i18n.Render(binding.Language, "alert.prefix", map[string]string{"message": ev.Message})
		if err := d.Sender.Send(ctx, binding.ChatID, text); err != nil {
			d.fail("send_alert", err, zap.Int64("event_id", ev.ID))
			// Entrega falhou: não marca e preserva a ordem do usuário
			skipped[ev.UserID] = true
			continue
		}
		if err := d.Events.MarkSent(ctx, ev.ID, now); err != nil {
			d.fail("mark_sent", err, zap.Int64("event_id", ev.ID))
			continue
		}
		if d.OnAlertSent != nil {
			d.OnAlertSent()
		}
	}
}

// ReportsTick entrega os relatórios vencidos
func (d *Dispatcher) ReportsTick(ctx context.Context, now time.Time) {
	if !d.reportsBusy.CompareAndSwap(false, true) {
		return
	}
	defer d.reportsBusy.Store(false)

	sent, err := d.Reports.RunDue(ctx, now)
	if err != nil {
		d.fail("reports", err)
		return
	}
	if d.OnReportSent != nil {
		for i := 0; i < sent; i++ {
			d.OnReportSent()
		}
	}
}

// BudgetTick compara os depósitos do mês corrente com o limite mensal de
// cada usuário e avisa uma vez por mês quando estourar
func (d *Dispatcher) BudgetTick(ctx context.Context, now time.Time) {
	if !d.budgetBusy.CompareAndSwap(false, true) {
		return
	}
	defer d.budgetBusy.Store(false)

	users, err := d.Users.ListWithBudget(ctx)
	if err != nil {
		d.fail("list_budget", err)
		return
	}

	local := now.In(d.Loc)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, d.Loc)

	for _, u := range users {
		// Limite ausente ou não positivo não dispara aviso
		if !u.Limit.Valid || !u.Limit.Decimal.IsPositive() {
			continue
		}
		spent, err := d.Deposits.MonthlyDeposits(ctx, u.UserID, monthStart)
		if err != nil {
			d.fail("monthly_deposits", err, zap.Int64("user_id", u.UserID))
			continue
		}
		if spent.LessThanOrEqual(u.Limit.Decimal) {
			continue
		}

		key := fmt.Sprintf("budget_alert:%d:%s", u.UserID, local.Format("2006-01"))
		first, err := d.Dedup.Once(ctx, key, budgetDedupTTL)
		if err != nil {
			d.fail("dedup", err, zap.Int64("user_id", u.UserID))
			continue
		}
		if !first {
			continue
		}

		binding, err := d.Users.Binding(ctx, u.UserID)
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				d.fail("binding", err, zap.Int64("user_id", u.UserID))
			}
			// Sem chat não há aviso; libera a chave para quando vincular
			_ = d.Dedup.Forget(ctx, key)
			continue
		}

		text := i18n.Render(binding.Language, "budget.exceeded", map[string]string{
			"spent": i18n.FormatMoney(spent, "", true),
			"limit": i18n.FormatMoney(u.Limit.Decimal, "", true),
		})
		if err := d.Sender.Send(ctx, binding.ChatID, text); err != nil {
			d.fail("send_budget", err, zap.Int64("user_id", u.UserID))
			_ = d.Dedup.Forget(ctx, key)
			continue
		}
		if d.OnBudgetSent != nil {
			d.OnBudgetSent()
		}
	}
}
