// Package reports agenda e entrega os relatórios periódicos de métricas.
package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/ledger/analytics"
	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/shared/i18n"
	"github.com/radieske/bet-ledger/internal/shared/messaging"
)

type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]model.Report, error)
	AdvanceNextRun(ctx context.Context, reportID int64, from, to, sentAt time.Time) (bool, error)
}

type CouponSource interface {
	ListScoped(ctx context.Context, userID int64, q *model.AnalyticsQuery, from, to time.Time) ([]model.Coupon, error)
}

type QuerySource interface {
	Get(ctx context.Context, userID, queryID int64) (*model.AnalyticsQuery, error)
}

type BindingSource interface {
	Binding(ctx context.Context, userID int64) (*model.MessagingBinding, error)
}

// Scheduler percorre os relatórios vencidos, monta a mensagem e entrega.
// next_run só avança depois do envio: falha de entrega deixa o relatório
// vencido para a próxima rodada.
type Scheduler struct {
	store   Store
	coupons CouponSource
	queries QuerySource
	users   BindingSource
	sender  messaging.Sender
	loc     *time.Location
	fancy   bool
	log     *zap.Logger
}

func NewScheduler(store Store, coupons CouponSource, queries QuerySource, users BindingSource, sender messaging.Sender, loc *time.Location, fancy bool, log *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store: store, coupons: coupons, queries: queries, users: users,
		sender: sender, loc: loc, fancy: fancy, log: log,
	}
}

// RunDue processa todos os relatórios vencidos; devolve quantos entregou
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due reports: %w", err)
	}
	sent := 0
	for _, rep := range due {
		delivered, err := s.deliver(ctx, now, rep)
		if err != nil {
			s.log.Error("falha entregando relatório",
				zap.Int64("report_id", rep.ID),
				zap.Int64("user_id", rep.UserID),
				zap.Error(err))
			continue
		}
		if delivered {
			sent++
		}
	}
	return sent, nil
}

func (s *Scheduler) deliver(ctx context.Context, now time.Time, rep model.Report) (bool, error) {
	binding, err := s.users.Binding(ctx, rep.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Sem chat vinculado não há entrega; fica vencido até vincular
			s.log.Warn("relatório sem chat vinculado", zap.Int64("report_id", rep.ID))
			return false, nil
		}
		return false, err
	}

	var scope *model.AnalyticsQuery
	if rep.QueryID != nil {
		q, err := s.queries.Get(ctx, rep.UserID, *rep.QueryID)
		if err != nil {
			return false, fmt.Errorf("report scope query: %w", err)
		}
		scope = q
	}

	start, end := s.Period(rep, scope, now)
	coupons, err := s.coupons.ListScoped(ctx, rep.UserID, scope, start, end)
	if err != nil {
		return false, err
	}

	msg := RenderReport(binding.Language, rep.Frequency, analytics.Compute(coupons), start, end, s.loc, s.fancy)
	if err := s.sender.Send(ctx, binding.ChatID, msg); err != nil {
		return false, err
	}

	next := NextRunAfter(rep.Frequency, rep.NextRun, now, s.loc)
	advanced, err := s.store.AdvanceNextRun(ctx, rep.ID, rep.NextRun, next, now)
	if err != nil {
		return false, err
	}
	if !advanced {
		s.log.Warn("next_run já avançado por outra rodada", zap.Int64("report_id", rep.ID))
	}
	return true, nil
}

// Period devolve o intervalo coberto pelo relatório, nas bordas de dia
// do fuso configurado. DAILY cobre ontem; as demais frequências cobrem
// a janela retroativa incluindo hoje. CUSTOM usa o intervalo do filtro
// quando definido, senão cai no mensal.
func (s *Scheduler) Period(rep model.Report, scope *model.AnalyticsQuery, now time.Time) (time.Time, time.Time) {
	local := now.In(s.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	tomorrow := dayStart.AddDate(0, 0, 1)

	switch rep.Frequency {
	case model.FreqDaily:
		return dayStart.AddDate(0, 0, -1), dayStart
	case model.FreqWeekly:
		return tomorrow.AddDate(0, 0, -7), tomorrow
	case model.FreqYearly:
		return tomorrow.AddDate(0, 0, -365), tomorrow
	case model.FreqCustom:
		if scope != nil && scope.DateFrom != nil && scope.DateTo != nil {
			return *scope.DateFrom, *scope.DateTo
		}
		return tomorrow.AddDate(0, 0, -30), tomorrow
	default: // MONTHLY
		return tomorrow.AddDate(0, 0, -30), tomorrow
	}
}

// NextRunAfter avança o marco dágua pelo passo da frequência até passar
// de now; saltos grandes (worker parado) não geram rajada de relatórios
func NextRunAfter(frequency string, from, now time.Time, loc *time.Location) time.Time {
	next := from.In(loc)
	for !next.After(now) {
		switch frequency {
		case model.FreqDaily:
			next = next.AddDate(0, 0, 1)
		case model.FreqWeekly:
			next = next.AddDate(0, 0, 7)
		case model.FreqYearly:
			next = next.AddDate(0, 0, 365)
		default: // MONTHLY e CUSTOM usam o mesmo passo de 30 dias
			next = next.AddDate(0, 0, 30)
		}
	}
	return next
}

// RenderReport monta o corpo da mensagem no idioma do destinatário
func RenderReport(lang, frequency string, m analytics.Metrics, start, end time.Time, loc *time.Location, fancy bool) string {
	lastDay := end.AddDate(0, 0, -1)
	header := i18n.Render(lang, "report.header", map[string]string{
		"freq":  i18n.T(lang, "report.freq."+strings.ToLower(frequency)),
		"start": start.In(loc).Format("2006-01-02"),
		"end":   lastDay.In(loc).Format("2006-01-02"),
	})

	if m.TotalCoupons == 0 {
		return header + "\n" + i18n.T(lang, "report.empty")
	}

	undefined := i18n.T(lang, "report.undefined")
	roi := undefined
	if m.Roi.Valid {
		roi = m.Roi.Decimal.String()
	}
	yield := undefined
	if m.Yield.Valid {
		yield = m.Yield.Decimal.String()
	}
	winRate := undefined
	if m.WinRate.Valid {
		winRate = m.WinRate.Decimal.String()
	}

	lines := []string{
		header,
		i18n.Render(lang, "report.total", map[string]string{
			"total":    fmt.Sprint(m.TotalCoupons),
			"won":      fmt.Sprint(m.Won),
			"lost":     fmt.Sprint(m.Lost),
			"canceled": fmt.Sprint(m.Canceled),
		}),
		i18n.Render(lang, "report.stake", map[string]string{
			"stake": i18n.FormatMoney(m.TotalStake, "", fancy),
		}),
		i18n.Render(lang, "report.profit", map[string]string{
			"profit": i18n.FormatMoney(m.RealizedProfit, "", fancy),
		}),
		i18n.Render(lang, "report.roi", map[string]string{"roi": roi}),
		i18n.Render(lang, "report.yield", map[string]string{"yield": yield}),
		i18n.Render(lang, "report.winrate", map[string]string{"winrate": winRate}),
	}

	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}
