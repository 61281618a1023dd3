// Pacote query compila a árvore de AnalyticsQuery (grupos AND/OR com
// condições folha) em um fragmento SQL parametrizado sobre o conjunto de
// cupons. Campos de aposta/evento viram sub-predicados EXISTS, de modo que
// "cupom LOST contendo aposta WIN" seja exprimível por condição.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

// Aliases esperados na consulta externa:
//
//	coupons c
//	JOIN bookmaker_accounts a  ON a.id = c.account_id
//	JOIN bookmakers bk         ON bk.id = a.bookmaker_id
//	JOIN currencies cur        ON cur.id = a.currency_id
//	LEFT JOIN user_strategies st ON st.id = c.strategy_id
var couponFields = map[string]string{
	"status":                          "c.status",
	"coupon_type":                     "c.coupon_type",
	"bet_stake":                       "c.bet_stake",
	"stake":                           "c.bet_stake",
	"multiplier":                      "c.multiplier",
	"balance":                         "c.balance",
	"created_at":                      "c.created_at",
	"bookmaker_account.alias":         "a.alias",
	"bookmaker_account.bookmaker.name": "bk.name",
	"bookmaker_account.currency.code": "cur.code",
	"strategy.name":                   "st.name",
}

// Campos resolvidos dentro do EXISTS por aposta
var betFields = map[string]string{
	"bets.result":          "b.result",
	"bets.odds":            "b.odds",
	"bets.line":            "b.line",
	"bets.bet_type":        "bt.code",
	"bets.event.name":      "e.name",
	"bets.event.home_team": "e.home_team",
	"bets.event.away_team": "e.away_team",
	"event.name":           "e.name",
	"event.home_team":      "e.home_team",
	"event.away_team":      "e.away_team",
	"event.discipline":     "d.name",
}

// Normalização 1X2 aplicada a valores de condição e ao filtro escalar de
// linha: "1"→home_win, "2"→away_win, "x"→draw, "1x" e "x2" expandem.
func Normalize1X2(value string) []string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1":
		return []string{"home_win"}
	case "2":
		return []string{"away_win"}
	case "x":
		return []string{"draw"}
	case "1x":
		return []string{"home_win", "draw"}
	case "x2":
		return []string{"draw", "away_win"}
	}
	return []string{value}
}

// Scalars são os filtros escalares interseccionados com a árvore compilada
type Scalars struct {
	DateFrom    *time.Time
	DateTo      *time.Time
	BookmakerID *int64
	Statuses    []string
	CouponType  string // aceita também "1"/"x"/"2"/"1x"/"x2"
	SortBy      string
}

// Compiled é o resultado: fragmento WHERE com placeholders $n e ORDER BY
type Compiled struct {
	Where   string
	Args    []any
	OrderBy string
}

type compiler struct {
	args []any
	next int
}

func (cp *compiler) bind(v any) string {
	cp.args = append(cp.args, v)
	n := cp.next
	cp.next++
	return fmt.Sprintf("$%d", n)
}

// Compile traduz a árvore do AnalyticsQuery mais os filtros escalares em um
// fragmento SQL. startArg é o índice do primeiro placeholder livre ($n).
func Compile(q *model.AnalyticsQuery, sc Scalars, startArg int) (Compiled, error) {
	if sc.DateFrom != nil && sc.DateTo != nil && sc.DateFrom.After(*sc.DateTo) {
		return Compiled{}, fmt.Errorf("date_from after date_to: %w", model.ErrInvalid)
	}

	cp := &compiler{next: startArg}
	var parts []string

	// Grupos raiz são conjugados entre si
	if q != nil {
		roots := append([]model.AnalyticsQueryGroup(nil), q.Groups...)
		sort.SliceStable(roots, func(i, j int) bool { return roots[i].Order < roots[j].Order })
		for _, g := range roots {
			frag, err := cp.group(g)
			if err != nil {
				return Compiled{}, err
			}
			if frag != "" {
				parts = append(parts, frag)
			}
		}
		if q.DateFrom != nil && sc.DateFrom == nil {
			parts = append(parts, "c.created_at >= "+cp.bind(*q.DateFrom))
		}
		if q.DateTo != nil && sc.DateTo == nil {
			parts = append(parts, "c.created_at <= "+cp.bind(*q.DateTo))
		}
	}

	if sc.DateFrom != nil {
		parts = append(parts, "c.created_at >= "+cp.bind(*sc.DateFrom))
	}
	if sc.DateTo != nil {
		parts = append(parts, "c.created_at <= "+cp.bind(*sc.DateTo))
	}
	if sc.BookmakerID != nil {
		parts = append(parts, "a.bookmaker_id = "+cp.bind(*sc.BookmakerID))
	}
	if len(sc.Statuses) > 0 {
		parts = append(parts, "c.status = ANY("+cp.bind(pq.Array(sc.Statuses))+")")
	}
	if sc.CouponType != "" {
		vals := Normalize1X2(sc.CouponType)
		parts = append(parts, "c.coupon_type = ANY("+cp.bind(pq.Array(vals))+")")
	}

	where := strings.Join(parts, " AND ")
	if where == "" {
		where = "TRUE"
	}

	orderBy, err := sortClause(sc.SortBy)
	if err != nil {
		return Compiled{}, err
	}

	return Compiled{Where: where, Args: cp.args, OrderBy: orderBy}, nil
}

// group combina condições e subgrupos com o operador do grupo, em ordem
func (cp *compiler) group(g model.AnalyticsQueryGroup) (string, error) {
	op := " AND "
	switch strings.ToUpper(g.Operator) {
	case "AND", "":
	case "OR":
		op = " OR "
	default:
		return "", fmt.Errorf("group operator %q: %w", g.Operator, model.ErrInvalid)
	}

	conds := append([]model.AnalyticsQueryCondition(nil), g.Conditions...)
	sort.SliceStable(conds, func(i, j int) bool { return conds[i].Order < conds[j].Order })
	subs := append([]model.AnalyticsQueryGroup(nil), g.Subgroups...)
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].Order < subs[j].Order })

	var parts []string
	for _, c := range conds {
		frag, err := cp.condition(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, frag)
	}
	for _, sub := range subs {
		frag, err := cp.group(sub)
		if err != nil {
			return "", err
		}
		if frag != "" {
			parts = append(parts, frag)
		}
	}

	if len(parts) == 0 {
		return "", nil
	}
	return "(" + strings.Join(parts, op) + ")", nil
}

// condition compila uma folha. Campos de aposta/evento ganham EXISTS
// próprio; negate embrulha a folha inteira em NOT.
func (cp *compiler) condition(c model.AnalyticsQueryCondition) (string, error) {
	field := strings.TrimSpace(c.Field)

	if col, ok := couponFields[field]; ok {
		pred, err := cp.predicate(col, c.Operator, c.Value)
		if err != nil {
			return "", err
		}
		if c.Negate {
			pred = "NOT (" + pred + ")"
		}
		return pred, nil
	}

	if col, ok := betFields[field]; ok {
		pred, err := cp.predicate(col, c.Operator, c.Value)
		if err != nil {
			return "", err
		}
		exists := "EXISTS (SELECT 1 FROM bets b" +
			" JOIN events e ON e.id = b.event_id" +
			" JOIN disciplines d ON d.id = e.discipline_id" +
			" LEFT JOIN bet_types bt ON bt.id = b.bet_type_id" +
			" WHERE b.coupon_id = c.id AND " + pred + ")"
		if c.Negate {
			exists = "NOT " + exists
		}
		return exists, nil
	}

	return "", fmt.Errorf("unknown field %q: %w", c.Field, model.ErrInvalid)
}

// predicate resolve o operador da folha; not_* é a negação da forma positiva
func (cp *compiler) predicate(col, operator, value string) (string, error) {
	vals := Normalize1X2(value)

	switch operator {
	case "equals":
		if len(vals) > 1 {
			return col + " = ANY(" + cp.bind(pq.Array(vals)) + ")", nil
		}
		return col + " = " + cp.bind(vals[0]), nil
	case "not_equals":
		inner, _ := cp.predicate(col, "equals", value)
		return "NOT (" + inner + ")", nil
	case "contains":
		// substring case-insensitive
		return col + " ILIKE " + cp.bind("%"+escapeLike(value)+"%"), nil
	case "not_contains":
		inner, _ := cp.predicate(col, "contains", value)
		return "NOT (" + inner + ")", nil
	case "gt":
		return col + " > " + cp.bind(value), nil
	case "gte":
		return col + " >= " + cp.bind(value), nil
	case "lt":
		return col + " < " + cp.bind(value), nil
	case "lte":
		return col + " <= " + cp.bind(value), nil
	case "in":
		return col + " = ANY(" + cp.bind(pq.Array(splitList(value))) + ")", nil
	case "not_in":
		inner, _ := cp.predicate(col, "in", value)
		return "NOT (" + inner + ")", nil
	}
	return "", fmt.Errorf("operator %q: %w", operator, model.ErrInvalid)
}

// splitList expande lista separada por vírgula aplicando a normalização 1X2
func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		out = append(out, Normalize1X2(strings.TrimSpace(v))...)
	}
	return out
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// sortClause mapeia sort_by para ORDER BY; prefixo "-" inverte a direção
func sortClause(sortBy string) (string, error) {
	dir := "ASC"
	key := sortBy
	if strings.HasPrefix(sortBy, "-") {
		dir = "DESC"
		key = sortBy[1:]
	}

	col := ""
	switch key {
	case "":
		return "c.created_at DESC, c.id DESC", nil
	case "created_at":
		col = "c.created_at"
	case "stake", "bet_stake":
		col = "c.bet_stake"
	case "balance":
		col = "c.balance"
	case "multiplier":
		col = "c.multiplier"
	case "status":
		col = "c.status"
	default:
		return "", fmt.Errorf("sort_by %q: %w", sortBy, model.ErrInvalid)
	}
	return col + " " + dir + ", c.id " + dir, nil
}
