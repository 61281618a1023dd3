// Package i18n guarda os catálogos de mensagens do bot (pl e en) e a
// formatação de valores monetários das notificações.
package i18n

import (
	"strings"

	"github.com/shopspring/decimal"
)

// defaultLanguage é o fallback dos catálogos; configurável via
// SetDefaultLanguage no boot dos serviços
var defaultLanguage = "pl"

// SetDefaultLanguage troca o idioma de fallback; idiomas sem catálogo
// são ignorados
func SetDefaultLanguage(lang string) {
	if _, ok := catalogs[lang]; ok {
		defaultLanguage = lang
	}
}

var catalogs = map[string]map[string]string{
	"pl": {
		"report.header":        "📊 Raport {freq} ({start} – {end})",
		"report.freq.daily":    "dzienny",
		"report.freq.weekly":   "tygodniowy",
		"report.freq.monthly":  "miesięczny",
		"report.freq.yearly":   "roczny",
		"report.freq.custom":   "niestandardowy",
		"report.total":         "Kupony: {total} (wygrane {won}, przegrane {lost}, anulowane {canceled})",
		"report.stake":         "Suma stawek: {stake}",
		"report.profit":        "Wynik: {profit}",
		"report.roi":           "ROI: {roi}",
		"report.yield":         "Yield: {yield}%",
		"report.winrate":       "Skuteczność: {winrate}",
		"report.undefined":     "—",
		"report.empty":         "Brak rozliczonych kuponów w tym okresie.",
		"alert.prefix":         "🔔 Alert: {message}",
		"budget.exceeded":      "⚠️ Przekroczono miesięczny budżet wpłat: {spent} z {limit}",
	},
	"en": {
		"report.header":        "📊 Report: {freq} ({start} – {end})",
		"report.freq.daily":    "daily",
		"report.freq.weekly":   "weekly",
		"report.freq.monthly":  "monthly",
		"report.freq.yearly":   "yearly",
		"report.freq.custom":   "custom",
		"report.total":         "Coupons: {total} (won {won}, lost {lost}, canceled {canceled})",
		"report.stake":         "Total stake: {stake}",
		"report.profit":        "Net result: {profit}",
		"report.roi":           "ROI: {roi}",
		"report.yield":         "Yield: {yield}%",
		"report.winrate":       "Win rate: {winrate}",
		"report.undefined":     "—",
		"report.empty":         "No settled coupons in this period.",
		"alert.prefix":         "🔔 Alert: {message}",
		"budget.exceeded":      "⚠️ Monthly deposit budget exceeded: {spent} of {limit}",
	},
}

// T busca a mensagem no catálogo do idioma, caindo para o default quando
// o idioma ou a chave não existem
func T(lang, key string) string {
	if msgs, ok := catalogs[lang]; ok {
		if msg, ok := msgs[key]; ok {
			return msg
		}
	}
	if msg, ok := catalogs[defaultLanguage][key]; ok {
		return msg
	}
	return key
}

// Render preenche os placeholders {nome} da mensagem
func Render(lang, key string, params map[string]string) string {
	msg := T(lang, key)
	if len(params) == 0 {
		return msg
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

// FormatMoney apresenta o valor com o símbolo da moeda; fancy usa o
// separador fino de milhar nas notificações
func FormatMoney(amount decimal.Decimal, symbol string, fancy bool) string {
	s := amount.StringFixed(2)
	if fancy {
		s = groupThousands(s)
	}
	if symbol == "" {
		return s
	}
	return s + " " + symbol
}

func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
