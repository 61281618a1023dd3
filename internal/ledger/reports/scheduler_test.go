package reports

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/ledger/analytics"
	"github.com/radieske/bet-ledger/internal/ledger/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeBackend struct {
	due      []model.Report
	coupons  []model.Coupon
	binding  *model.MessagingBinding
	sendErr  error
	sent     []string
	advanced []int64
}

func (f *fakeBackend) ListDue(context.Context, time.Time) ([]model.Report, error) {
	return f.due, nil
}

func (f *fakeBackend) AdvanceNextRun(_ context.Context, reportID int64, _, _, _ time.Time) (bool, error) {
	f.advanced = append(f.advanced, reportID)
	return true, nil
}

func (f *fakeBackend) ListScoped(_ context.Context, _ int64, _ *model.AnalyticsQuery, _, _ time.Time) ([]model.Coupon, error) {
	return f.coupons, nil
}

func (f *fakeBackend) Get(_ context.Context, _, queryID int64) (*model.AnalyticsQuery, error) {
	return &model.AnalyticsQuery{ID: queryID}, nil
}

func (f *fakeBackend) Binding(_ context.Context, userID int64) (*model.MessagingBinding, error) {
	if f.binding == nil {
		return nil, model.ErrNotFound
	}
	return f.binding, nil
}

func (f *fakeBackend) Send(_ context.Context, _ int64, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func warsaw(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Skip("tzdata indisponível")
	}
	return loc
}

func newScheduler(f *fakeBackend, loc *time.Location) *Scheduler {
	return NewScheduler(f, f, f, f, f, loc, false, zap.NewNop())
}

func TestPeriodPerFrequency(t *testing.T) {
	loc := warsaw(t)
	s := newScheduler(&fakeBackend{}, loc)
	now := time.Date(2025, 6, 10, 9, 30, 0, 0, loc)

	day := func(d int) time.Time { return time.Date(2025, 6, d, 0, 0, 0, 0, loc) }

	tests := []struct {
		name       string
		frequency  string
		scope      *model.AnalyticsQuery
		start, end time.Time
	}{
		{"diário cobre ontem", model.FreqDaily, nil, day(9), day(10)},
		{"semanal inclui hoje", model.FreqWeekly, nil, day(4), day(11)},
		{"mensal são 30 dias", model.FreqMonthly, nil, time.Date(2025, 5, 12, 0, 0, 0, 0, loc), day(11)},
		{"custom sem intervalo cai no mensal", model.FreqCustom, &model.AnalyticsQuery{}, time.Date(2025, 5, 12, 0, 0, 0, 0, loc), day(11)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := s.Period(model.Report{Frequency: tt.frequency}, tt.scope, now)
			if !start.Equal(tt.start) || !end.Equal(tt.end) {
				t.Fatalf("period = [%s, %s), want [%s, %s)", start, end, tt.start, tt.end)
			}
		})
	}

	t.Run("custom usa o intervalo do filtro", func(t *testing.T) {
		from := day(1)
		to := day(8)
		scope := &model.AnalyticsQuery{DateFrom: &from, DateTo: &to}
		start, end := s.Period(model.Report{Frequency: model.FreqCustom}, scope, now)
		if !start.Equal(from) || !end.Equal(to) {
			t.Fatalf("period = [%s, %s)", start, end)
		}
	})
}

func TestNextRunAfterSkipsMissedRuns(t *testing.T) {
	loc := warsaw(t)
	from := time.Date(2025, 6, 1, 8, 0, 0, 0, loc)

	// Worker parado por dez dias: um único salto até depois de now
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, loc)
	next := NextRunAfter(model.FreqDaily, from, now, loc)
	if want := time.Date(2025, 6, 12, 8, 0, 0, 0, loc); !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next, want)
	}

	next = NextRunAfter(model.FreqMonthly, from, now, loc)
	if want := time.Date(2025, 7, 1, 8, 0, 0, 0, loc); !next.Equal(want) {
		t.Fatalf("next mensal = %s, want %s", next, want)
	}
}

func TestNextRunAfterFixedDeltas(t *testing.T) {
	loc := warsaw(t)

	// Passo mensal é sempre 30 dias corridos, não mês de calendário
	from := time.Date(2025, 2, 1, 8, 0, 0, 0, loc)
	now := time.Date(2025, 2, 1, 9, 0, 0, 0, loc)
	next := NextRunAfter(model.FreqMonthly, from, now, loc)
	if want := time.Date(2025, 3, 3, 8, 0, 0, 0, loc); !next.Equal(want) {
		t.Fatalf("next mensal = %s, want %s", next, want)
	}

	// Idem anual: 365 dias, mesmo cruzando ano bissexto
	from = time.Date(2023, 6, 1, 8, 0, 0, 0, loc)
	now = time.Date(2023, 6, 1, 9, 0, 0, 0, loc)
	next = NextRunAfter(model.FreqYearly, from, now, loc)
	if want := time.Date(2024, 5, 31, 8, 0, 0, 0, loc); !next.Equal(want) {
		t.Fatalf("next anual = %s, want %s", next, want)
	}
}

func TestRunDueDeliversAndAdvances(t *testing.T) {
	loc := warsaw(t)
	f := &fakeBackend{
		due: []model.Report{{
			ID: 1, UserID: 7, Frequency: model.FreqDaily,
			NextRun: time.Date(2025, 6, 10, 8, 0, 0, 0, loc),
		}},
		coupons: []model.Coupon{
			{Stake: dec("100"), Balance: dec("76"), Status: model.StatusWon},
			{Stake: dec("50"), Balance: dec("-50"), Status: model.StatusLost},
		},
		binding: &model.MessagingBinding{UserID: 7, ChatID: 42, Language: "en"},
	}
	s := newScheduler(f, loc)

	sent, err := s.RunDue(context.Background(), time.Date(2025, 6, 10, 9, 0, 0, 0, loc))
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if len(f.advanced) != 1 || f.advanced[0] != 1 {
		t.Fatalf("advanced = %v", f.advanced)
	}
	if len(f.sent) != 1 {
		t.Fatalf("mensagens = %d", len(f.sent))
	}
	msg := f.sent[0]
	for _, want := range []string{"Coupons: 2", "won 1", "lost 1", "150.00", "26.00"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("mensagem sem %q:\n%s", want, msg)
		}
	}
}

func TestRunDueSendFailureKeepsWatermark(t *testing.T) {
	loc := warsaw(t)
	f := &fakeBackend{
		due: []model.Report{{
			ID: 1, UserID: 7, Frequency: model.FreqDaily,
			NextRun: time.Date(2025, 6, 10, 8, 0, 0, 0, loc),
		}},
		binding: &model.MessagingBinding{UserID: 7, ChatID: 42, Language: "pl"},
		sendErr: errors.New("telegram fora do ar"),
	}
	s := newScheduler(f, loc)

	sent, err := s.RunDue(context.Background(), time.Date(2025, 6, 10, 9, 0, 0, 0, loc))
	if err != nil {
		t.Fatal(err)
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
	if len(f.advanced) != 0 {
		t.Fatalf("next_run avançou com envio falho: %v", f.advanced)
	}
}

func TestRenderReportEmptyScope(t *testing.T) {
	loc := warsaw(t)
	start := time.Date(2025, 6, 9, 0, 0, 0, 0, loc)
	end := time.Date(2025, 6, 10, 0, 0, 0, 0, loc)

	msg := RenderReport("en", model.FreqDaily, analytics.Compute(nil), start, end, loc, false)
	if !strings.Contains(msg, "No settled coupons") {
		t.Fatalf("mensagem inesperada:\n%s", msg)
	}
	if !strings.Contains(msg, "daily") {
		t.Fatalf("frequência ausente no cabeçalho:\n%s", msg)
	}
	if !strings.Contains(msg, "2025-06-09") {
		t.Fatalf("período ausente:\n%s", msg)
	}
}
