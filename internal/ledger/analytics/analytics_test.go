package analytics

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func c(status, stake, mult, balance string) model.Coupon {
	return model.Coupon{
		Status:     status,
		Stake:      dec(stake),
		Multiplier: dec(mult),
		Balance:    dec(balance),
	}
}

func TestComputeEmptyScope(t *testing.T) {
	m := Compute(nil)

	if m.TotalCoupons != 0 || m.FinishedCoupons != 0 || m.InProgressCoupons != 0 {
		t.Fatalf("contagens nao zeradas: %+v", m)
	}
	if !m.TotalStake.IsZero() || !m.RealizedProfit.IsZero() {
		t.Fatalf("somas nao zeradas: %+v", m)
	}
	if m.Roi.Valid || m.Yield.Valid || m.WinRate.Valid {
		t.Fatalf("razoes deveriam ser nulas: %+v", m)
	}
}

func TestComputeMetricVector(t *testing.T) {
	coupons := []model.Coupon{
		c(model.StatusWon, "100.00", "2.00", "76.00"),
		c(model.StatusLost, "50.00", "3.50", "-50.00"),
		c(model.StatusCanceled, "20.00", "1.80", "0.00"),
		c(model.StatusInProgress, "30.00", "2.40", "0.00"),
	}

	m := Compute(coupons)

	if m.TotalCoupons != 4 || m.FinishedCoupons != 3 || m.InProgressCoupons != 1 {
		t.Fatalf("contagens: %+v", m)
	}
	if m.Won != 1 || m.Lost != 1 || m.Canceled != 1 {
		t.Fatalf("por status: %+v", m)
	}
	// total_stake e realized_profit contam só WON e LOST
	if !m.TotalStake.Equal(dec("150.00")) {
		t.Errorf("total_stake = %s", m.TotalStake)
	}
	if !m.RealizedProfit.Equal(dec("26.00")) {
		t.Errorf("realized_profit = %s", m.RealizedProfit)
	}
	// roi = 26/150 = 0.1733 (4dp), yield = 17.33
	if !m.Roi.Valid || !m.Roi.Decimal.Equal(dec("0.1733")) {
		t.Errorf("roi = %+v", m.Roi)
	}
	if !m.Yield.Valid || !m.Yield.Decimal.Equal(dec("17.33")) {
		t.Errorf("yield = %+v", m.Yield)
	}
	if !m.WinRate.Valid || !m.WinRate.Decimal.Equal(dec("0.5")) {
		t.Errorf("win_rate = %+v", m.WinRate)
	}
	// médias sobre todo o escopo: (100+50+20+30)/4, (2+3.5+1.8+2.4)/4
	if !m.AvgStake.Equal(dec("50.00")) {
		t.Errorf("avg_stake = %s", m.AvgStake)
	}
	if !m.AvgMultiplier.Equal(dec("2.43")) { // 9.7/4 = 2.425 → 2.43 half up
		t.Errorf("avg_multiplier = %s", m.AvgMultiplier)
	}
}

// Decimais serializam como string; razões nulas como null; "yield" sem sufixo
func TestMetricsJSONBoundary(t *testing.T) {
	b, err := json.Marshal(Compute(nil))
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"total_stake":"0"`) {
		t.Errorf("total_stake deveria ser string: %s", s)
	}
	if !strings.Contains(s, `"roi":null`) || !strings.Contains(s, `"yield":null`) {
		t.Errorf("razoes nulas: %s", s)
	}
	if strings.Contains(s, "yield_") {
		t.Errorf("yield_ vazou para o JSON: %s", s)
	}
}

func TestLossTotal(t *testing.T) {
	coupons := []model.Coupon{
		c(model.StatusLost, "50.00", "2.00", "-50.00"),
		c(model.StatusLost, "25.00", "2.00", "-25.00"),
		c(model.StatusWon, "10.00", "2.00", "7.60"),
	}
	if got := LossTotal(coupons); !got.Equal(dec("75.00")) {
		t.Fatalf("LossTotal = %s", got)
	}
	if got := LossTotal(nil); !got.IsZero() {
		t.Fatalf("LossTotal vazio = %s", got)
	}
}

func TestLossStreak(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     int
	}{
		{"vazio", nil, 0},
		{"tres perdidos", []string{model.StatusLost, model.StatusLost, model.StatusLost}, 3},
		{"cancelado nao conta nem quebra", []string{model.StatusLost, model.StatusCanceled, model.StatusLost}, 2},
		{"won quebra", []string{model.StatusLost, model.StatusWon, model.StatusLost}, 1},
		{"in progress quebra", []string{model.StatusInProgress, model.StatusLost}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var coupons []model.Coupon
			for _, st := range tt.statuses {
				coupons = append(coupons, c(st, "10.00", "2.00", "0.00"))
			}
			if got := LossStreak(coupons); got != tt.want {
				t.Fatalf("LossStreak = %d, want %d", got, tt.want)
			}
		})
	}
}
