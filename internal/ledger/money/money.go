// Pacote money concentra a aritmética decimal da carteira e dos cupons.
// Todo valor monetário usa shopspring/decimal — nunca float64 para dinheiro.
// Arredondamento sempre HALF_UP: 2 casas para dinheiro, 4 para razões.
package money

import (
	"database/sql/driver"

	"github.com/shopspring/decimal"
)

var (
	Zero    = decimal.Zero
	One     = decimal.NewFromInt(1)
	Hundred = decimal.NewFromInt(100)
)

// Round2 arredonda HALF_UP em 2 casas (escala de moeda e médias)
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Round4 arredonda HALF_UP em 4 casas (escala de razões: roi, win_rate)
func Round4(d decimal.Decimal) decimal.Decimal { return d.Round(4) }

// FromString converte string decimal, retornando zero se vazia
func FromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// NullDecimal é uma razão opcional (roi, yield, win_rate ficam nulos
// quando o denominador é zero). Serializa como string ou null.
type NullDecimal struct {
	Decimal decimal.Decimal
	Valid   bool
}

// Some embrulha um decimal presente
func Some(d decimal.Decimal) NullDecimal { return NullDecimal{Decimal: d, Valid: true} }

// None representa razão indefinida
func None() NullDecimal { return NullDecimal{} }

func (n NullDecimal) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(`"` + n.Decimal.String() + `"`), nil
}

func (n *NullDecimal) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = NullDecimal{}
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*n = NullDecimal{Decimal: d, Valid: true}
	return nil
}

// Scan implementa sql.Scanner para colunas NUMERIC nuláveis
func (n *NullDecimal) Scan(value any) error {
	if value == nil {
		*n = NullDecimal{}
		return nil
	}
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return err
	}
	*n = NullDecimal{Decimal: d, Valid: true}
	return nil
}

// Value implementa driver.Valuer
func (n NullDecimal) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Decimal.String(), nil
}
