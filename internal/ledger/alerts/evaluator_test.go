package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeStore implementa RuleStore, CouponSource e QuerySource em memória
type fakeStore struct {
	rules   []model.AlertRule
	coupons []model.Coupon
	recent  []model.Coupon

	events    []model.AlertEvent
	upserts   int
	resets    int
	triggered []int64
}

func (f *fakeStore) ListRules(_ context.Context, userID int64, onlyActive bool) ([]model.AlertRule, error) {
	var out []model.AlertRule
	for _, r := range f.rules {
		if r.UserID == userID && (!onlyActive || r.IsActive) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveRuleUsers(context.Context) ([]int64, error) {
	seen := map[int64]bool{}
	var out []int64
	for _, r := range f.rules {
		if r.IsActive && !seen[r.UserID] {
			seen[r.UserID] = true
			out = append(out, r.UserID)
		}
	}
	return out, nil
}

func (f *fakeStore) HasEvent(_ context.Context, ruleID int64, start, end time.Time) (bool, error) {
	for _, ev := range f.events {
		if ev.RuleID == ruleID && ev.WindowStart.Equal(start) && ev.WindowEnd.Equal(end) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateEvent(_ context.Context, ev *model.AlertEvent) error {
	ev.ID = int64(len(f.events) + 1)
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeStore) UpsertStreakEvent(_ context.Context, ev *model.AlertEvent) error {
	f.upserts++
	// Alvo é o evento positivo mais recente da regra, enviado ou não
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].RuleID == ev.RuleID && f.events[i].MetricValue.IsPositive() {
			if ev.MetricValue.GreaterThan(f.events[i].MetricValue) {
				f.events[i].MetricValue = ev.MetricValue
				f.events[i].Message = ev.Message
			}
			ev.ID = f.events[i].ID
			return nil
		}
	}
	return f.CreateEvent(nil, ev)
}

func (f *fakeStore) ResetStreakEvents(_ context.Context, userID int64) (bool, error) {
	f.resets++
	var kept []model.AlertEvent
	deleted := false
	var ruleID int64
	for _, ev := range f.events {
		if ev.UserID == userID && ev.MetricValue.IsPositive() {
			deleted = true
			ruleID = ev.RuleID
			continue
		}
		kept = append(kept, ev)
	}
	f.events = kept
	if deleted {
		// Aviso de sequência encerrada fica na fila
		f.events = append(f.events, model.AlertEvent{
			ID: int64(len(f.events) + 100), RuleID: ruleID, UserID: userID,
			Metric: model.RuleStreakLoss, MetricValue: decimal.Zero,
		})
	}
	return deleted, nil
}

func (f *fakeStore) MarkTriggered(_ context.Context, ruleID int64, _ time.Time) error {
	f.triggered = append(f.triggered, ruleID)
	return nil
}

func (f *fakeStore) ListScoped(_ context.Context, _ int64, _ *model.AnalyticsQuery, _, _ time.Time) ([]model.Coupon, error) {
	return f.coupons, nil
}

func (f *fakeStore) ListRecent(_ context.Context, _ int64, _ int) ([]model.Coupon, error) {
	return f.recent, nil
}

func (f *fakeStore) Get(_ context.Context, _, queryID int64) (*model.AnalyticsQuery, error) {
	return &model.AnalyticsQuery{ID: queryID}, nil
}

func settled(stake, balance, status string) model.Coupon {
	return model.Coupon{Stake: dec(stake), Balance: dec(balance), Status: status}
}

func warsaw(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Skip("tzdata indisponível")
	}
	return loc
}

func newEvaluator(f *fakeStore, loc *time.Location) *Evaluator {
	return NewEvaluator(f, f, f, loc, zap.NewNop())
}

func TestWindowCalendarDays(t *testing.T) {
	loc := warsaw(t)
	e := newEvaluator(&fakeStore{}, loc)

	now := time.Date(2025, 3, 15, 13, 45, 0, 0, loc)
	start, end := e.Window(now, 7)

	if want := time.Date(2025, 3, 16, 0, 0, 0, 0, loc); !end.Equal(want) {
		t.Fatalf("end = %s, want %s", end, want)
	}
	if want := time.Date(2025, 3, 9, 0, 0, 0, 0, loc); !start.Equal(want) {
		t.Fatalf("start = %s, want %s", start, want)
	}
}

func TestEvaluateYieldBelowThreshold(t *testing.T) {
	loc := warsaw(t)
	f := &fakeStore{
		rules: []model.AlertRule{{
			ID: 1, UserID: 7, RuleType: model.RuleYield, Metric: "yield",
			Comparator: "lt", Threshold: dec("-10"), WindowDays: 7, IsActive: true,
		}},
		coupons: []model.Coupon{
			settled("100", "-100", model.StatusLost),
			settled("100", "76", model.StatusWon),
		},
	}
	e := newEvaluator(f, loc)
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, loc)

	if err := e.EvaluateUser(context.Background(), now, 7); err != nil {
		t.Fatal(err)
	}
	// yield = (-24/200)*100 = -12.00 < -10 → dispara
	if len(f.events) != 1 {
		t.Fatalf("events = %d, want 1", len(f.events))
	}
	ev := f.events[0]
	if !ev.MetricValue.Equal(dec("-12")) {
		t.Fatalf("metric_value = %s, want -12", ev.MetricValue)
	}
	if ev.Metric != "yield" {
		t.Fatalf("metric = %s", ev.Metric)
	}

	// Reavaliar a mesma janela não duplica
	if err := e.EvaluateUser(context.Background(), now, 7); err != nil {
		t.Fatal(err)
	}
	if len(f.events) != 1 {
		t.Fatalf("após segunda avaliação: events = %d, want 1", len(f.events))
	}
}

func TestEvaluateUndefinedRatioSkips(t *testing.T) {
	loc := warsaw(t)
	f := &fakeStore{
		rules: []model.AlertRule{{
			ID: 1, UserID: 7, RuleType: model.RuleRoi, Metric: "roi",
			Comparator: "lt", Threshold: dec("0"), WindowDays: 7, IsActive: true,
		}},
		// Só cupons em aberto: denominador zero, roi indefinido
		coupons: []model.Coupon{{Stake: dec("50"), Status: model.StatusInProgress}},
	}
	e := newEvaluator(f, loc)

	if err := e.EvaluateUser(context.Background(), time.Now(), 7); err != nil {
		t.Fatal(err)
	}
	if len(f.events) != 0 {
		t.Fatalf("events = %d, want 0", len(f.events))
	}
}

func TestEvaluateLossTotal(t *testing.T) {
	loc := warsaw(t)
	f := &fakeStore{
		rules: []model.AlertRule{{
			ID: 2, UserID: 3, RuleType: model.RuleLoss, Metric: "loss",
			Comparator: "gte", Threshold: dec("150"), WindowDays: 30, IsActive: true,
		}},
		coupons: []model.Coupon{
			settled("100", "-100", model.StatusLost),
			settled("80", "-80", model.StatusLost),
			settled("50", "60", model.StatusWon),
		},
	}
	e := newEvaluator(f, loc)

	if err := e.EvaluateUser(context.Background(), time.Now(), 3); err != nil {
		t.Fatal(err)
	}
	if len(f.events) != 1 {
		t.Fatalf("events = %d, want 1", len(f.events))
	}
	if !f.events[0].MetricValue.Equal(dec("180")) {
		t.Fatalf("loss = %s, want 180", f.events[0].MetricValue)
	}
}

func TestStreakGrowsInPlace(t *testing.T) {
	loc := warsaw(t)
	f := &fakeStore{
		rules: []model.AlertRule{{
			ID: 5, UserID: 9, RuleType: model.RuleStreakLoss, Metric: "streak_loss",
			Comparator: "gte", Threshold: dec("3"), WindowDays: 30, IsActive: true,
		}},
		recent: []model.Coupon{
			settled("10", "-10", model.StatusLost),
			settled("10", "-10", model.StatusLost),
			settled("10", "0", model.StatusCanceled), // cancelado não quebra
			settled("10", "-10", model.StatusLost),
			settled("10", "12", model.StatusWon),
		},
	}
	e := newEvaluator(f, loc)

	if err := e.EvaluateUser(context.Background(), time.Now(), 9); err != nil {
		t.Fatal(err)
	}
	if len(f.events) != 1 {
		t.Fatalf("events = %d, want 1", len(f.events))
	}
	if !f.events[0].MetricValue.Equal(dec("3")) {
		t.Fatalf("streak = %s, want 3", f.events[0].MetricValue)
	}

	// Mais uma derrota: o mesmo evento cresce, não nasce outro
	f.recent = append([]model.Coupon{settled("10", "-10", model.StatusLost)}, f.recent...)
	if err := e.EvaluateUser(context.Background(), time.Now(), 9); err != nil {
		t.Fatal(err)
	}
	if len(f.events) != 1 {
		t.Fatalf("após crescer: events = %d, want 1", len(f.events))
	}
	if !f.events[0].MetricValue.Equal(dec("4")) {
		t.Fatalf("streak = %s, want 4", f.events[0].MetricValue)
	}

	// Uma vitória zera a sequência: o evento pendente é descartado e só
	// fica o aviso de quebra com valor 0
	f.recent = append([]model.Coupon{settled("10", "12", model.StatusWon)}, f.recent...)
	if err := e.EvaluateUser(context.Background(), time.Now(), 9); err != nil {
		t.Fatal(err)
	}
	if len(f.events) != 1 {
		t.Fatalf("após vitória: events = %d, want 1", len(f.events))
	}
	if !f.events[0].MetricValue.IsZero() {
		t.Fatalf("após vitória: metric_value = %s, want 0", f.events[0].MetricValue)
	}
	if f.resets == 0 {
		t.Fatal("reset não foi chamado")
	}
}

func TestStreakGrowsAfterDelivery(t *testing.T) {
	loc := warsaw(t)
	f := &fakeStore{
		rules: []model.AlertRule{{
			ID: 5, UserID: 9, RuleType: model.RuleStreakLoss, Metric: "streak_loss",
			Comparator: "gte", Threshold: dec("3"), WindowDays: 30, IsActive: true,
		}},
		recent: []model.Coupon{
			settled("10", "-10", model.StatusLost),
			settled("10", "-10", model.StatusLost),
			settled("10", "-10", model.StatusLost),
		},
	}
	e := newEvaluator(f, loc)
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, loc)

	if err := e.EvaluateUser(context.Background(), now, 9); err != nil {
		t.Fatal(err)
	}
	if len(f.events) != 1 {
		t.Fatalf("events = %d, want 1", len(f.events))
	}

	// Evento já entregue e mais uma derrota no mesmo dia: a janela não
	// muda e o mesmo registro cresce, sem violar a dedupe por janela
	sent := now
	f.events[0].SentAt = &sent
	f.recent = append([]model.Coupon{settled("10", "-10", model.StatusLost)}, f.recent...)

	if err := e.EvaluateUser(context.Background(), now.Add(2*time.Hour), 9); err != nil {
		t.Fatal(err)
	}
	if len(f.events) != 1 {
		t.Fatalf("após crescer: events = %d, want 1", len(f.events))
	}
	if !f.events[0].MetricValue.Equal(dec("4")) {
		t.Fatalf("streak = %s, want 4", f.events[0].MetricValue)
	}
	if len(f.triggered) != 2 {
		t.Fatalf("triggered = %d, want 2", len(f.triggered))
	}
}

func TestRenderMessage(t *testing.T) {
	loc := warsaw(t)
	rule := model.AlertRule{
		Metric:          "yield",
		Threshold:       dec("-10"),
		MessageTemplate: "{metric} em {value} (limiar {threshold}) de {start} a {end}",
	}
	start := time.Date(2025, 3, 9, 0, 0, 0, 0, loc)
	end := time.Date(2025, 3, 16, 0, 0, 0, 0, loc)

	got := RenderMessage(rule, dec("-12"), start, end, loc)
	want := "yield em -12 (limiar -10) de 2025-03-09 a 2025-03-15"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		value, threshold string
		comparator       string
		want             bool
	}{
		{"5", "3", "gt", true},
		{"3", "3", "gt", false},
		{"3", "3", "gte", true},
		{"-12", "-10", "lt", true},
		{"-10", "-10", "lte", true},
		{"2", "2", "eq", true},
		{"2", "3", "eq", false},
		{"1", "1", "??", false},
	}
	for _, tt := range tests {
		got := Compare(dec(tt.value), tt.comparator, dec(tt.threshold))
		if got != tt.want {
			t.Fatalf("Compare(%s %s %s) = %v, want %v", tt.value, tt.comparator, tt.threshold, got, tt.want)
		}
	}
}
