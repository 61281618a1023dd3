package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/money"
	"github.com/radieske/bet-ledger/internal/ledger/repo"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeWorld struct {
	unsent   []model.AlertEvent
	bindings map[int64]*model.MessagingBinding
	budgets  []repo.BudgetUser
	deposits map[int64]decimal.Decimal

	evaluated  int
	reportsRun int
	sent       []string
	sentChats  []int64
	marked     []int64
	sendErr    error
	dedup      map[string]bool
}

func (f *fakeWorld) ListUnsent(context.Context) ([]model.AlertEvent, error) {
	var out []model.AlertEvent
	for _, ev := range f.unsent {
		sent := false
		for _, id := range f.marked {
			if id == ev.ID {
				sent = true
			}
		}
		if !sent {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeWorld) MarkSent(_ context.Context, eventID int64, _ time.Time) error {
	f.marked = append(f.marked, eventID)
	return nil
}

func (f *fakeWorld) Binding(_ context.Context, userID int64) (*model.MessagingBinding, error) {
	if b, ok := f.bindings[userID]; ok {
		return b, nil
	}
	return nil, model.ErrNotFound
}

func (f *fakeWorld) ListWithBudget(context.Context) ([]repo.BudgetUser, error) {
	return f.budgets, nil
}

func (f *fakeWorld) MonthlyDeposits(_ context.Context, userID int64, _ time.Time) (decimal.Decimal, error) {
	return f.deposits[userID], nil
}

func (f *fakeWorld) EvaluateAll(context.Context, time.Time) error {
	f.evaluated++
	return nil
}

func (f *fakeWorld) RunDue(context.Context, time.Time) (int, error) {
	f.reportsRun++
	return 1, nil
}

func (f *fakeWorld) Send(_ context.Context, chatID int64, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	f.sentChats = append(f.sentChats, chatID)
	return nil
}

func (f *fakeWorld) Once(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.dedup == nil {
		f.dedup = map[string]bool{}
	}
	if f.dedup[key] {
		return false, nil
	}
	f.dedup[key] = true
	return true, nil
}

func (f *fakeWorld) Forget(_ context.Context, key string) error {
	delete(f.dedup, key)
	return nil
}

func newDispatcher(f *fakeWorld) *Dispatcher {
	return &Dispatcher{
		Log:       zap.NewNop(),
		Events:    f,
		Users:     f,
		Deposits:  f,
		Evaluator: f,
		Reports:   f,
		Sender:    f,
		Dedup:     f,
		Loc:       time.UTC,
	}
}

func TestAlertsTickDrainsInOrder(t *testing.T) {
	f := &fakeWorld{
		unsent: []model.AlertEvent{
			{ID: 1, UserID: 7, Message: "primeiro"},
			{ID: 2, UserID: 7, Message: "segundo"},
			{ID: 3, UserID: 9, Message: "sem chat"},
		},
		bindings: map[int64]*model.MessagingBinding{
			7: {UserID: 7, ChatID: 70, Language: "pl"},
		},
	}
	d := newDispatcher(f)

	d.AlertsTick(context.Background(), time.Now())

	if f.evaluated != 1 {
		t.Fatalf("evaluated = %d", f.evaluated)
	}
	if len(f.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(f.sent))
	}
	if !strings.Contains(f.sent[0], "primeiro") || !strings.Contains(f.sent[1], "segundo") {
		t.Fatalf("ordem errada: %v", f.sent)
	}
	// Usuário 9 não tem chat: evento fica pendente
	if len(f.marked) != 2 {
		t.Fatalf("marked = %v", f.marked)
	}
}

func TestAlertsTickSendFailureLeavesUnsent(t *testing.T) {
	f := &fakeWorld{
		unsent: []model.AlertEvent{{ID: 1, UserID: 7, Message: "x"}},
		bindings: map[int64]*model.MessagingBinding{
			7: {UserID: 7, ChatID: 70, Language: "pl"},
		},
		sendErr: errors.New("indisponível"),
	}
	d := newDispatcher(f)

	d.AlertsTick(context.Background(), time.Now())

	if len(f.marked) != 0 {
		t.Fatalf("evento marcado com envio falho: %v", f.marked)
	}
}

func TestReportsTick(t *testing.T) {
	f := &fakeWorld{}
	d := newDispatcher(f)
	reported := 0
	d.OnReportSent = func() { reported++ }

	d.ReportsTick(context.Background(), time.Now())

	if f.reportsRun != 1 || reported != 1 {
		t.Fatalf("reportsRun=%d reported=%d", f.reportsRun, reported)
	}
}

func TestBudgetTickNotifiesOncePerMonth(t *testing.T) {
	f := &fakeWorld{
		budgets: []repo.BudgetUser{
			{UserID: 7, Limit: money.Some(dec("500")), Language: "pl"},
			{UserID: 8, Limit: money.Some(dec("500")), Language: "pl"},
		},
		deposits: map[int64]decimal.Decimal{
			7: dec("620.50"),
			8: dec("100"),
		},
		bindings: map[int64]*model.MessagingBinding{
			7: {UserID: 7, ChatID: 70, Language: "pl"},
			8: {UserID: 8, ChatID: 80, Language: "pl"},
		},
	}
	d := newDispatcher(f)

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	d.BudgetTick(context.Background(), now)

	if len(f.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.sent))
	}
	if f.sentChats[0] != 70 {
		t.Fatalf("chat = %d", f.sentChats[0])
	}
	if !strings.Contains(f.sent[0], "620.50") {
		t.Fatalf("mensagem sem o gasto: %s", f.sent[0])
	}

	// Segundo tick do mesmo mês: dedupe segura
	d.BudgetTick(context.Background(), now.Add(time.Hour))
	if len(f.sent) != 1 {
		t.Fatalf("reenviou no mesmo mês: %d", len(f.sent))
	}

	// Mês seguinte: chave nova, avisa de novo
	d.BudgetTick(context.Background(), now.AddDate(0, 1, 0))
	if len(f.sent) != 2 {
		t.Fatalf("não avisou no mês novo: %d", len(f.sent))
	}
}

func TestBudgetTickIgnoresNonPositiveLimit(t *testing.T) {
	f := &fakeWorld{
		budgets: []repo.BudgetUser{
			{UserID: 7, Limit: money.Some(dec("0")), Language: "pl"},
			{UserID: 8, Limit: money.Some(dec("-100")), Language: "pl"},
		},
		deposits: map[int64]decimal.Decimal{7: dec("250"), 8: dec("250")},
		bindings: map[int64]*model.MessagingBinding{
			7: {UserID: 7, ChatID: 70, Language: "pl"},
			8: {UserID: 8, ChatID: 80, Language: "pl"},
		},
	}
	d := newDispatcher(f)

	d.BudgetTick(context.Background(), time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	if len(f.sent) != 0 {
		t.Fatalf("limite não positivo não deveria avisar: sent = %d", len(f.sent))
	}
}

func TestBudgetTickSendFailureReleasesDedup(t *testing.T) {
	f := &fakeWorld{
		budgets:  []repo.BudgetUser{{UserID: 7, Limit: money.Some(dec("500"))}},
		deposits: map[int64]decimal.Decimal{7: dec("600")},
		bindings: map[int64]*model.MessagingBinding{
			7: {UserID: 7, ChatID: 70, Language: "pl"},
		},
		sendErr: errors.New("indisponível"),
	}
	d := newDispatcher(f)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	d.BudgetTick(context.Background(), now)
	if len(f.sent) != 0 {
		t.Fatal("não deveria ter enviado")
	}

	// Canal volta: o aviso sai porque a chave foi liberada
	f.sendErr = nil
	d.BudgetTick(context.Background(), now.Add(time.Hour))
	if len(f.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.sent))
	}
}
