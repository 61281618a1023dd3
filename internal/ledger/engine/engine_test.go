package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

func bet(odds string, result *string) model.Bet {
	return model.Bet{Odds: dec(odds), Result: result}
}

func coupon(stake, tax, ccy string, bets ...model.Bet) *model.Coupon {
	return &model.Coupon{
		Stake:  dec(stake),
		Status: model.StatusInProgress,
		Bets:   bets,
		Account: &model.BookmakerAccount{
			Bookmaker: &model.Bookmaker{TaxMultiplier: dec(tax)},
			Currency:  &model.Currency{Code: ccy},
		},
	}
}

func TestMultiplier(t *testing.T) {
	tests := []struct {
		name string
		bets []model.Bet
		want string
	}{
		{"sem apostas", nil, "1"},
		{"solo", []model.Bet{bet("2.00", nil)}, "2"},
		{"ako", []model.Bet{bet("1.50", nil), bet("2.20", nil)}, "3.3"},
		{"cancelada vale 1.00", []model.Bet{bet("3.00", nil), bet("4.00", strPtr(model.BetCanceled)), bet("5.00", nil)}, "15"},
		{"arredonda half up", []model.Bet{bet("1.33", nil), bet("1.27", nil)}, "1.69"}, // 1.6891
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Multiplier(tt.bets)
			if !got.Equal(dec(tt.want)) {
				t.Fatalf("Multiplier = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCouponType(t *testing.T) {
	if got := CouponType("", 0); got != model.CouponSolo {
		t.Fatalf("0 apostas: got %s", got)
	}
	if got := CouponType(model.CouponSolo, 1); got != model.CouponSolo {
		t.Fatalf("1 aposta: got %s", got)
	}
	if got := CouponType(model.CouponSolo, 3); got != model.CouponAko {
		t.Fatalf("3 apostas: got %s", got)
	}
	// SYSTEM é preservado, nunca sintetizado
	if got := CouponType(model.CouponSystem, 3); got != model.CouponSystem {
		t.Fatalf("system: got %s", got)
	}
}

func TestPayout(t *testing.T) {
	tests := []struct {
		name       string
		stake      string
		mult       string
		tax        string
		ccy        string
		wantPayout string
		wantProfit string
	}{
		{"EUR sem deducao", "100.00", "2.00", "0.88", "EUR", "176.00", "76.00"},
		{"PLN abaixo do limite", "100.00", "2.00", "0.88", "PLN", "176.00", "76.00"},
		{"PLN acima de 2280", "200.00", "15.00", "0.88", "PLN", "2376.00", "2176.00"},
		{"PLN exatamente no limite nao deduz", "2280.00", "1.00", "1.00", "PLN", "2280.00", "0.00"},
		{"EUR acima de 2280 nao deduz", "200.00", "15.00", "0.88", "EUR", "2640.00", "2440.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payout, profit := Payout(dec(tt.stake), dec(tt.mult), dec(tt.tax), tt.ccy)
			if !payout.Equal(dec(tt.wantPayout)) {
				t.Errorf("payout = %s, want %s", payout, tt.wantPayout)
			}
			if !profit.Equal(dec(tt.wantProfit)) {
				t.Errorf("profit = %s, want %s", profit, tt.wantProfit)
			}
		})
	}
}

// Cenário: SOLO vencedor em conta EUR com imposto 0.88
func TestClassifySoloWinEUR(t *testing.T) {
	c := coupon("100.00", "0.88", "EUR", bet("2.00", strPtr(model.BetWin)))

	out := Classify(c)

	if out.Status != model.StatusWon {
		t.Fatalf("status = %s", out.Status)
	}
	if !out.Multiplier.Equal(dec("2.00")) {
		t.Errorf("multiplier = %s", out.Multiplier)
	}
	if out.CouponType != model.CouponSolo {
		t.Errorf("type = %s", out.CouponType)
	}
	if !out.Balance.Equal(dec("76.00")) {
		t.Errorf("balance = %s, want 76.00", out.Balance)
	}
}

// Cenário: SOLO perdedor em PLN; balance = −stake
func TestClassifySoloLostPLN(t *testing.T) {
	c := coupon("50.00", "0.88", "PLN", bet("3.50", strPtr(model.BetLost)))

	out := Classify(c)

	if out.Status != model.StatusLost {
		t.Fatalf("status = %s", out.Status)
	}
	if !out.Multiplier.Equal(dec("3.50")) {
		t.Errorf("multiplier = %s", out.Multiplier)
	}
	if !out.Balance.Equal(dec("-50.00")) {
		t.Errorf("balance = %s, want -50.00", out.Balance)
	}
}

// Cenário: AKO de 3 com a aposta do meio cancelada, vencedor, com dedução
// de ganho alto em PLN (bruto 2640 > 2280 → ×0.90 = 2376)
func TestClassifyAkoCanceledLegHighWinPLN(t *testing.T) {
	c := coupon("200.00", "0.88", "PLN",
		bet("3.00", strPtr(model.BetWin)),
		bet("4.00", strPtr(model.BetCanceled)),
		bet("5.00", strPtr(model.BetWin)),
	)

	out := Classify(c)

	if out.Status != model.StatusWon {
		t.Fatalf("status = %s", out.Status)
	}
	if !out.Multiplier.Equal(dec("15.00")) {
		t.Errorf("multiplier = %s, want 15.00", out.Multiplier)
	}
	if out.CouponType != model.CouponAko {
		t.Errorf("type = %s", out.CouponType)
	}
	if !out.Balance.Equal(dec("2176.00")) {
		t.Errorf("balance = %s, want 2176.00", out.Balance)
	}
}

func TestClassifyEdgeCases(t *testing.T) {
	t.Run("sem apostas cancela com balance zero", func(t *testing.T) {
		out := Classify(coupon("30.00", "0.88", "EUR"))
		if out.Status != model.StatusCanceled || !out.Balance.IsZero() {
			t.Fatalf("out = %+v", out)
		}
	})

	t.Run("aposta em aberto mantem in progress", func(t *testing.T) {
		out := Classify(coupon("30.00", "0.88", "EUR",
			bet("2.00", strPtr(model.BetWin)), bet("1.80", nil)))
		if out.Status != model.StatusInProgress {
			t.Fatalf("status = %s", out.Status)
		}
		if !out.Balance.IsZero() {
			t.Fatalf("balance = %s", out.Balance)
		}
	})

	t.Run("qualquer LOST encerra mesmo com apostas em aberto", func(t *testing.T) {
		out := Classify(coupon("30.00", "0.88", "EUR",
			bet("2.00", strPtr(model.BetLost)), bet("1.80", nil)))
		if out.Status != model.StatusLost {
			t.Fatalf("status = %s", out.Status)
		}
		if !out.Balance.Equal(dec("-30.00")) {
			t.Fatalf("balance = %s", out.Balance)
		}
	})
}

func TestApplyResults(t *testing.T) {
	c := coupon("10.00", "0.88", "EUR", bet("2.00", nil))
	c.Bets[0].ID = 7

	if err := ApplyResults(c, map[int64]string{7: model.BetWin}); err != nil {
		t.Fatalf("ApplyResults: %v", err)
	}
	if c.Bets[0].Result == nil || *c.Bets[0].Result != model.BetWin {
		t.Fatalf("result nao aplicado")
	}

	if err := ApplyResults(c, map[int64]string{7: "DRAW"}); err != model.ErrInvalid {
		t.Fatalf("resultado invalido: err = %v", err)
	}
	if err := ApplyResults(c, map[int64]string{99: model.BetWin}); err != model.ErrNotFound {
		t.Fatalf("aposta inexistente: err = %v", err)
	}
}

func TestForceWin(t *testing.T) {
	c := coupon("10.00", "0.88", "EUR", bet("2.00", nil), bet("1.50", strPtr(model.BetLost)))
	ForceWin(c)
	for i, b := range c.Bets {
		if b.Result == nil || *b.Result != model.BetWin {
			t.Fatalf("aposta %d nao coagida para WIN", i)
		}
	}
	if out := Classify(c); out.Status != model.StatusWon {
		t.Fatalf("status = %s", out.Status)
	}
}
