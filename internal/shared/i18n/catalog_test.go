package i18n

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFallbackLanguage(t *testing.T) {
	// Idioma sem catálogo cai para o fallback configurado
	if got := T("de", "report.empty"); got != catalogs["pl"]["report.empty"] {
		t.Fatalf("fallback pl: got %q", got)
	}

	SetDefaultLanguage("en")
	defer SetDefaultLanguage("pl")

	if got := T("de", "report.empty"); got != catalogs["en"]["report.empty"] {
		t.Fatalf("fallback en: got %q", got)
	}

	// Idioma desconhecido não derruba o fallback válido
	SetDefaultLanguage("xx")
	if got := T("de", "report.empty"); got != catalogs["en"]["report.empty"] {
		t.Fatalf("fallback após idioma inválido: got %q", got)
	}

	// Chave inexistente volta como está
	if got := T("pl", "no.such.key"); got != "no.such.key" {
		t.Fatalf("chave ausente: got %q", got)
	}
}

func TestRenderPlaceholders(t *testing.T) {
	got := Render("en", "budget.exceeded", map[string]string{
		"spent": "620.50",
		"limit": "500.00",
	})
	if !strings.Contains(got, "620.50") || !strings.Contains(got, "500.00") {
		t.Fatalf("placeholders não preenchidos: %q", got)
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		amount string
		symbol string
		fancy  bool
		want   string
	}{
		{"1234567.5", "PLN", true, "1 234 567.50 PLN"},
		{"1234567.5", "", false, "1234567.50"},
		{"-9876.4", "", true, "-9 876.40"},
		{"12.00", "zł", true, "12.00 zł"},
	}
	for _, tt := range tests {
		got := FormatMoney(decimal.RequireFromString(tt.amount), tt.symbol, tt.fancy)
		if got != tt.want {
			t.Fatalf("FormatMoney(%s) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}
