// Pacote engine implementa a máquina de liquidação de cupons: odds efetivas,
// multiplicador, tipo do cupom, payout com imposto e dedução de ganho alto
// em PLN, e a classificação do status a partir dos resultados das apostas.
//
// O pacote é puro (sem I/O); o repositório orquestra a transação, chama o
// engine sob o lock do cupom e aplica os efeitos colaterais no saldo.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/money"
)

// Dedução polonesa de ganho alto: ganhos brutos em PLN acima de 2280.00
// sofrem redução de 10% sobre o bruto inteiro (comportamento do produto;
// a descontinuidade em 2280 é intencional).
var (
	plnHighWinThreshold = decimal.RequireFromString("2280.00")
	plnHighWinFactor    = decimal.RequireFromString("0.90")
)

// EffectiveOdds retorna as odds efetivas de uma aposta: 1.00 se a aposta
// foi cancelada (void), senão as odds originais.
func EffectiveOdds(b model.Bet) decimal.Decimal {
	if b.Result != nil && *b.Result == model.BetCanceled {
		return money.One
	}
	return b.Odds
}

// Multiplier é o produto das odds efetivas das apostas, HALF_UP em 2 casas.
// Cupom sem apostas tem multiplicador 1.00.
func Multiplier(bets []model.Bet) decimal.Decimal {
	prod := money.One
	for _, b := range bets {
		prod = prod.Mul(EffectiveOdds(b))
	}
	return money.Round2(prod)
}

// CouponType deriva o tipo: SOLO com até 1 aposta, AKO com 2 ou mais.
// SYSTEM é aceito como entrada do usuário e preservado, nunca sintetizado.
func CouponType(current string, betCount int) string {
	if current == model.CouponSystem {
		return model.CouponSystem
	}
	if betCount <= 1 {
		return model.CouponSolo
	}
	return model.CouponAko
}

// Payout calcula o retorno bruto e o lucro de um cupom vencedor:
//
//	gross  = stake × mult × tax
//	gross  = gross × 0.90  (se moeda PLN e gross > 2280.00)
//	payout = round₂(gross)
//	profit = round₂(gross − stake)
func Payout(stake, mult, tax decimal.Decimal, currencyCode string) (payout, profit decimal.Decimal) {
	gross := stake.Mul(mult).Mul(tax)
	if currencyCode == "PLN" && gross.GreaterThan(plnHighWinThreshold) {
		gross = gross.Mul(plnHighWinFactor)
	}
	return money.Round2(gross), money.Round2(gross.Sub(stake))
}

// Outcome é o estado derivado do cupom após recomputar multiplicador,
// tipo e classificação de status.
type Outcome struct {
	Multiplier decimal.Decimal
	CouponType string
	Status     string
	Balance    decimal.Decimal
}

// Classify recomputa o cupom a partir do conjunto atual de apostas:
//
//	0 apostas                        → CANCELED, balance 0
//	≥1 aposta LOST                   → LOST, balance = −stake
//	alguma aposta sem resultado      → IN_PROGRESS, balance 0
//	todas em {WIN, CANCELED}         → WON, balance = profit do Payout
//
// A conta precisa vir hidratada (bookmaker e moeda) para o caso WON.
func Classify(c *model.Coupon) Outcome {
	out := Outcome{
		Multiplier: Multiplier(c.Bets),
		CouponType: CouponType(c.CouponType, len(c.Bets)),
	}

	if len(c.Bets) == 0 {
		out.Status = model.StatusCanceled
		out.Balance = money.Zero
		return out
	}

	open := 0
	for _, b := range c.Bets {
		if b.Result == nil {
			open++
			continue
		}
		if *b.Result == model.BetLost {
			out.Status = model.StatusLost
			out.Balance = c.Stake.Neg()
			return out
		}
	}

	if open > 0 {
		out.Status = model.StatusInProgress
		out.Balance = money.Zero
		return out
	}

	// todas as apostas em WIN ou CANCELED
	out.Status = model.StatusWon
	_, profit := Payout(c.Stake, out.Multiplier, c.Account.Bookmaker.TaxMultiplier, c.Account.Currency.Code)
	out.Balance = profit
	return out
}

// ApplyResults aplica atualizações de resultado vindas da liquidação.
// Resultados fora de {WIN, LOST, CANCELED} são rejeitados com ErrInvalid.
func ApplyResults(c *model.Coupon, updates map[int64]string) error {
	for betID, res := range updates {
		if res != model.BetWin && res != model.BetLost && res != model.BetCanceled {
			return model.ErrInvalid
		}
		found := false
		for i := range c.Bets {
			if c.Bets[i].ID == betID {
				r := res
				c.Bets[i].Result = &r
				found = true
				break
			}
		}
		if !found {
			return model.ErrNotFound
		}
	}
	return nil
}

// ForceWin coage todas as apostas para WIN (operação force-win)
func ForceWin(c *model.Coupon) {
	for i := range c.Bets {
		r := model.BetWin
		c.Bets[i].Result = &r
	}
}
