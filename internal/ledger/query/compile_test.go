package query

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

func TestNormalize1X2(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"1", []string{"home_win"}},
		{"2", []string{"away_win"}},
		{"x", []string{"draw"}},
		{"X", []string{"draw"}},
		{"1x", []string{"home_win", "draw"}},
		{"x2", []string{"draw", "away_win"}},
		{"Over 2.5", []string{"Over 2.5"}},
	}
	for _, tt := range tests {
		if got := Normalize1X2(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Normalize1X2(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCompileEmptyQuery(t *testing.T) {
	out, err := Compile(nil, Scalars{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out.Where != "TRUE" {
		t.Errorf("where = %q", out.Where)
	}
	if out.OrderBy != "c.created_at DESC, c.id DESC" {
		t.Errorf("order = %q", out.OrderBy)
	}
	if len(out.Args) != 0 {
		t.Errorf("args = %v", out.Args)
	}
}

func TestCompileConditionTree(t *testing.T) {
	q := &model.AnalyticsQuery{
		Groups: []model.AnalyticsQueryGroup{{
			Operator: "AND",
			Conditions: []model.AnalyticsQueryCondition{
				{Field: "event.home_team", Operator: "contains", Value: "Barcelona", Order: 0},
				{Field: "bets.result", Operator: "equals", Value: "WIN", Order: 1},
			},
		}},
	}

	out, err := Compile(q, Scalars{}, 1)
	if err != nil {
		t.Fatal(err)
	}

	// cada condição de aposta/evento vira um EXISTS independente
	if got := strings.Count(out.Where, "EXISTS"); got != 2 {
		t.Fatalf("esperava 2 EXISTS, where = %q", out.Where)
	}
	if !strings.Contains(out.Where, "e.home_team ILIKE $1") {
		t.Errorf("where = %q", out.Where)
	}
	if !strings.Contains(out.Where, "b.result = $2") {
		t.Errorf("where = %q", out.Where)
	}
	if out.Args[0] != "%Barcelona%" || out.Args[1] != "WIN" {
		t.Errorf("args = %v", out.Args)
	}
}

func TestCompileOrGroupAndNegate(t *testing.T) {
	q := &model.AnalyticsQuery{
		Groups: []model.AnalyticsQueryGroup{{
			Operator: "OR",
			Conditions: []model.AnalyticsQueryCondition{
				{Field: "status", Operator: "equals", Value: "WON", Order: 0},
				{Field: "status", Operator: "equals", Value: "LOST", Order: 1, Negate: true},
			},
		}},
	}

	out, err := Compile(q, Scalars{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Where, "c.status = $1 OR NOT (c.status = $2)") {
		t.Fatalf("where = %q", out.Where)
	}
}

func TestCompileNormalizesConditionValues(t *testing.T) {
	q := &model.AnalyticsQuery{
		Groups: []model.AnalyticsQueryGroup{{
			Conditions: []model.AnalyticsQueryCondition{
				{Field: "bets.line", Operator: "equals", Value: "1x"},
			},
		}},
	}

	out, err := Compile(q, Scalars{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	// "1x" expande para [home_win draw] e vira ANY
	if !strings.Contains(out.Where, "b.line = ANY($1)") {
		t.Fatalf("where = %q", out.Where)
	}
}

func TestCompileScalars(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	bk := int64(3)

	out, err := Compile(nil, Scalars{
		DateFrom:    &from,
		DateTo:      &to,
		BookmakerID: &bk,
		Statuses:    []string{"WON", "LOST"},
		CouponType:  "SOLO",
		SortBy:      "-balance",
	}, 1)
	if err != nil {
		t.Fatal(err)
	}

	for _, frag := range []string{
		"c.created_at >= $1",
		"c.created_at <= $2",
		"a.bookmaker_id = $3",
		"c.status = ANY($4)",
		"c.coupon_type = ANY($5)",
	} {
		if !strings.Contains(out.Where, frag) {
			t.Errorf("where sem %q: %q", frag, out.Where)
		}
	}
	if out.OrderBy != "c.balance DESC, c.id DESC" {
		t.Errorf("order = %q", out.OrderBy)
	}
}

func TestCompileRejectsBadInput(t *testing.T) {
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := Compile(nil, Scalars{DateFrom: &from, DateTo: &to}, 1); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("date_from > date_to: err = %v", err)
	}

	q := &model.AnalyticsQuery{Groups: []model.AnalyticsQueryGroup{{
		Conditions: []model.AnalyticsQueryCondition{{Field: "no_such.field", Operator: "equals", Value: "x"}},
	}}}
	if _, err := Compile(q, Scalars{}, 1); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("campo desconhecido: err = %v", err)
	}

	q = &model.AnalyticsQuery{Groups: []model.AnalyticsQueryGroup{{
		Conditions: []model.AnalyticsQueryCondition{{Field: "status", Operator: "between", Value: "x"}},
	}}}
	if _, err := Compile(q, Scalars{}, 1); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("operador desconhecido: err = %v", err)
	}

	if _, err := Compile(nil, Scalars{SortBy: "weird"}, 1); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("sort_by desconhecido: err = %v", err)
	}
}

func TestCompilePlaceholderOffset(t *testing.T) {
	out, err := Compile(nil, Scalars{Statuses: []string{"WON"}}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Where, "$5") {
		t.Fatalf("placeholder deveria começar em $5: %q", out.Where)
	}
}
