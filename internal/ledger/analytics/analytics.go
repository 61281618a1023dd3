// Pacote analytics agrega o conjunto de cupons de um usuário no vetor de
// métricas financeiras (contagens, stake, lucro, roi, yield, win-rate).
// Decimais saem como string no JSON para preservar precisão.
package analytics

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/money"
)

// Metrics é o vetor de métricas do §analytics. Razões (roi, win_rate)
// ficam nulas quando o denominador é zero; "yield_" vira "yield" na borda.
type Metrics struct {
	TotalCoupons      int `json:"total_coupons"`
	FinishedCoupons   int `json:"finished_coupons"`
	InProgressCoupons int `json:"in_progress_coupons"`
	Won               int `json:"won"`
	Lost              int `json:"lost"`
	Canceled          int `json:"canceled"`

	TotalStake     decimal.Decimal   `json:"total_stake"`     // Σ stake em WON ∪ LOST
	RealizedProfit decimal.Decimal   `json:"realized_profit"` // Σ balance em WON ∪ LOST
	Roi            money.NullDecimal `json:"roi"`             // 4 casas
	Yield          money.NullDecimal `json:"yield"`           // roi × 100, 2 casas
	WinRate        money.NullDecimal `json:"win_rate"`        // won / (won+lost), 4 casas
	AvgStake       decimal.Decimal   `json:"avg_stake"`       // média sobre todo o escopo, 2 casas
	AvgMultiplier  decimal.Decimal   `json:"avg_multiplier"`  // idem
}

// Compute calcula o vetor de métricas sobre o conjunto de cupons do escopo.
// Conjunto vazio resulta em contagens zero e razões nulas.
func Compute(coupons []model.Coupon) Metrics {
	m := Metrics{
		TotalStake:     money.Zero,
		RealizedProfit: money.Zero,
		AvgStake:       money.Zero,
		AvgMultiplier:  money.Zero,
	}

	sumStake := money.Zero
	sumMult := money.Zero

	for _, c := range coupons {
		m.TotalCoupons++
		sumStake = sumStake.Add(c.Stake)
		sumMult = sumMult.Add(c.Multiplier)

		switch c.Status {
		case model.StatusWon:
			m.Won++
			m.FinishedCoupons++
			m.TotalStake = m.TotalStake.Add(c.Stake)
			m.RealizedProfit = m.RealizedProfit.Add(c.Balance)
		case model.StatusLost:
			m.Lost++
			m.FinishedCoupons++
			m.TotalStake = m.TotalStake.Add(c.Stake)
			m.RealizedProfit = m.RealizedProfit.Add(c.Balance)
		case model.StatusCanceled:
			m.Canceled++
			m.FinishedCoupons++
		case model.StatusInProgress:
			m.InProgressCoupons++
		}
	}

	if m.TotalStake.IsPositive() {
		roi := money.Round4(m.RealizedProfit.Div(m.TotalStake))
		m.Roi = money.Some(roi)
		m.Yield = money.Some(money.Round2(roi.Mul(money.Hundred)))
	}

	if finished := m.Won + m.Lost; finished > 0 {
		m.WinRate = money.Some(money.Round4(
			decimal.NewFromInt(int64(m.Won)).Div(decimal.NewFromInt(int64(finished)))))
	}

	if m.TotalCoupons > 0 {
		n := decimal.NewFromInt(int64(m.TotalCoupons))
		m.AvgStake = money.Round2(sumStake.Div(n))
		m.AvgMultiplier = money.Round2(sumMult.Div(n))
	}

	return m
}

// LossTotal soma, em valor absoluto, o balance dos cupons LOST do escopo.
// Usado pela métrica "loss" das regras de alerta (sempre não-negativo).
func LossTotal(coupons []model.Coupon) decimal.Decimal {
	total := money.Zero
	for _, c := range coupons {
		if c.Status == model.StatusLost {
			total = total.Add(c.Balance)
		}
	}
	return total.Abs()
}

// LossStreak conta os LOST consecutivos a partir do cupom mais recente,
// pulando CANCELED; qualquer WON ou IN_PROGRESS quebra a sequência.
// A fatia deve vir ordenada do mais recente para o mais antigo.
func LossStreak(coupons []model.Coupon) int {
	streak := 0
	for _, c := range coupons {
		switch c.Status {
		case model.StatusLost:
			streak++
		case model.StatusCanceled:
			continue
		default:
			return streak
		}
	}
	return streak
}
