package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/bet-ledger/internal/ledger/engine"
	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/query"
)

// Coupons implementa o ciclo de vida do cupom. Toda mutação roda sob o
// lock exclusivo da linha do cupom (SELECT … FOR UPDATE); o recompute do
// engine e os efeitos no saldo da conta acontecem dentro da mesma transação.
type Coupons struct{ db *sql.DB }

func NewCoupons(db *sql.DB) *Coupons { return &Coupons{db: db} }

// NewBet é a entrada de criação de aposta; o evento pode vir por id ou
// por (nome, início, disciplina) para resolução/criação sob demanda
type NewBet struct {
	EventID      int64
	EventName    string
	HomeTeam     string
	AwayTeam     string
	StartTime    time.Time
	DisciplineID int64

	BetTypeID *int64
	Line      string
	Odds      decimal.Decimal
}

// NewCoupon é a entrada da criação de cupom
type NewCoupon struct {
	UserID     int64
	AccountID  int64
	StrategyID *int64
	CouponType string // override opcional; SYSTEM aceito, nunca sintetizado
	Stake      decimal.Decimal
	Bets       []NewBet
}

// getOrCreateEvent resolve o evento por (name, start_time, discipline),
// criando sob demanda; o upsert devolve o id em qualquer caso
func getOrCreateEvent(ctx context.Context, tx *sql.Tx, b NewBet) (int64, error) {
	if b.EventID != 0 {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM events WHERE id=$1`, b.EventID).Scan(&id)
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("event %d: %w", b.EventID, model.ErrNotFound)
		}
		return id, err
	}
	if b.EventName == "" || b.DisciplineID == 0 {
		return 0, fmt.Errorf("event name and discipline required: %w", model.ErrInvalid)
	}
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO events (name, home_team, away_team, start_time, discipline_id)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (name, start_time, discipline_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		b.EventName, b.HomeTeam, b.AwayTeam, b.StartTime, b.DisciplineID).Scan(&id)
	return id, err
}

// Create persiste o cupom com suas apostas e debita o stake da conta.
// O débito é incondicional; saldo negativo é permitido.
func (r *Coupons) Create(ctx context.Context, in NewCoupon) (*model.Coupon, error) {
	if !in.Stake.IsPositive() {
		return nil, fmt.Errorf("stake must be > 0: %w", model.ErrInvalid)
	}
	minOdds := decimal.RequireFromString("1.01")
	for _, b := range in.Bets {
		if b.Odds.LessThan(minOdds) {
			return nil, fmt.Errorf("odds must be >= 1.01: %w", model.ErrInvalid)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := lockAccount(ctx, tx, in.UserID, in.AccountID); err != nil {
		return nil, err
	}

	couponType := in.CouponType
	if couponType == "" {
		couponType = model.CouponSolo
	}

	var couponID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO coupons (user_id, account_id, strategy_id, coupon_type, bet_stake, multiplier, status, balance)
		VALUES ($1,$2,$3,$4,$5,1.00,'IN_PROGRESS',0)
		RETURNING id`,
		in.UserID, in.AccountID, in.StrategyID, couponType, in.Stake).Scan(&couponID); err != nil {
		return nil, err
	}

	for _, b := range in.Bets {
		eventID, err := getOrCreateEvent(ctx, tx, b)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bets (coupon_id, event_id, bet_type_id, line, odds)
			VALUES ($1,$2,$3,$4,$5)`,
			couponID, eventID, b.BetTypeID, b.Line, b.Odds); err != nil {
			return nil, err
		}
	}

	c, err := loadCouponTx(ctx, tx, in.UserID, couponID, false)
	if err != nil {
		return nil, err
	}

	// Recompute inicial de multiplicador e tipo
	out := engine.Classify(c)
	if _, err := tx.ExecContext(ctx,
		`UPDATE coupons SET multiplier=$1, coupon_type=$2 WHERE id=$3`,
		out.Multiplier, out.CouponType, couponID); err != nil {
		return nil, err
	}
	c.Multiplier = out.Multiplier
	c.CouponType = out.CouponType

	// Débito incondicional do stake na criação
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookmaker_accounts SET balance = balance - $1 WHERE id=$2`,
		in.Stake, in.AccountID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

const couponColumns = `
	c.id, c.user_id, c.account_id, c.strategy_id, c.coupon_type, c.bet_stake,
	c.multiplier, c.status, c.balance, c.settled_delta_applied, c.created_at`

func scanCoupon(row interface{ Scan(...any) error }) (*model.Coupon, error) {
	var c model.Coupon
	err := row.Scan(
		&c.ID, &c.UserID, &c.AccountID, &c.StrategyID, &c.CouponType, &c.Stake,
		&c.Multiplier, &c.Status, &c.Balance, &c.SettledDeltaApplied, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// loadCouponTx carrega o cupom hidratado (apostas, eventos, conta,
// bookmaker, moeda) dentro da transação; forUpdate trava a linha do cupom
func loadCouponTx(ctx context.Context, tx *sql.Tx, userID, couponID int64, forUpdate bool) (*model.Coupon, error) {
	q := `SELECT ` + couponColumns + ` FROM coupons c WHERE c.id=$1 AND c.user_id=$2`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	c, err := scanCoupon(tx.QueryRowContext(ctx, q, couponID, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("coupon %d: %w", couponID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	acc, err := scanAccount(tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM bookmaker_accounts a
		JOIN bookmakers bk ON bk.id = a.bookmaker_id
		JOIN currencies cur ON cur.id = a.currency_id
		WHERE a.id=$1`, c.AccountID))
	if err != nil {
		return nil, err
	}
	c.Account = acc

	rows, err := tx.QueryContext(ctx, `
		SELECT b.id, b.coupon_id, b.event_id, b.bet_type_id, b.line, b.odds, b.result,
		       e.id, e.name, e.home_team, e.away_team, e.start_time, e.discipline_id
		FROM bets b
		JOIN events e ON e.id = b.event_id
		WHERE b.coupon_id=$1
		ORDER BY b.id`, couponID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var b model.Bet
		var ev model.Event
		if err := rows.Scan(&b.ID, &b.CouponID, &b.EventID, &b.BetTypeID, &b.Line, &b.Odds, &b.Result,
			&ev.ID, &ev.Name, &ev.HomeTeam, &ev.AwayTeam, &ev.StartTime, &ev.DisciplineID); err != nil {
			return nil, err
		}
		b.Event = &ev
		c.Bets = append(c.Bets, b)
	}
	return c, rows.Err()
}

// Get carrega o cupom hidratado fora de transação de escrita
func (r *Coupons) Get(ctx context.Context, userID, couponID int64) (*model.Coupon, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	c, err := loadCouponTx(ctx, tx, userID, couponID, false)
	if err != nil {
		return nil, err
	}
	return c, tx.Commit()
}

// persistOutcome grava os campos derivados pelo engine na linha do cupom
func persistOutcome(ctx context.Context, tx *sql.Tx, couponID int64, out engine.Outcome) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE coupons SET multiplier=$1, coupon_type=$2, status=$3, balance=$4
		WHERE id=$5`,
		out.Multiplier, out.CouponType, out.Status, out.Balance, couponID)
	return err
}

// SettleResult devolve o cupom liquidado e se o crédito terminal foi
// aplicado agora (dispara o evento coupon_settled)
type SettleResult struct {
	Coupon       *model.Coupon
	Transitioned bool
}

// Settle aplica atualizações de resultado e reclassifica o cupom.
// O crédito de +balance na conta só acontece quando um status terminal
// WON/LOST é atingido e o delta ainda não foi aplicado — re-liquidar um
// cupom terminal nunca credita de novo.
func (r *Coupons) Settle(ctx context.Context, userID, couponID int64, updates map[int64]string) (*SettleResult, error) {
	return r.settleWith(ctx, userID, couponID, func(c *model.Coupon) error {
		return engine.ApplyResults(c, updates)
	})
}

// ForceWin é a liquidação com todas as apostas coagidas para WIN
func (r *Coupons) ForceWin(ctx context.Context, userID, couponID int64) (*SettleResult, error) {
	return r.settleWith(ctx, userID, couponID, func(c *model.Coupon) error {
		engine.ForceWin(c)
		return nil
	})
}

func (r *Coupons) settleWith(ctx context.Context, userID, couponID int64, mutate func(*model.Coupon) error) (*SettleResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCouponTx(ctx, tx, userID, couponID, true)
	if err != nil {
		return nil, err
	}

	if err := mutate(c); err != nil {
		return nil, err
	}

	// Persiste os resultados das apostas alterados
	for _, b := range c.Bets {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bets SET result=$1 WHERE id=$2`, b.Result, b.ID); err != nil {
			return nil, err
		}
	}

	out := engine.Classify(c)
	if err := persistOutcome(ctx, tx, couponID, out); err != nil {
		return nil, err
	}

	transitioned := false
	terminalCredit := out.Status == model.StatusWon || out.Status == model.StatusLost
	if terminalCredit && !c.SettledDeltaApplied {
		if err := lockAccount(ctx, tx, userID, c.AccountID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookmaker_accounts SET balance = balance + $1 WHERE id=$2`,
			out.Balance, c.AccountID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE coupons SET settled_delta_applied=TRUE WHERE id=$1`, couponID); err != nil {
			return nil, err
		}
		c.SettledDeltaApplied = true
		transitioned = true
	}

	c.Multiplier = out.Multiplier
	c.CouponType = out.CouponType
	c.Status = out.Status
	c.Balance = out.Balance

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &SettleResult{Coupon: c, Transitioned: transitioned}, nil
}

// Recalc recomputa multiplicador, tipo e classificação sem aceitar
// resultados novos e sem efeitos no saldo; usado após editar apostas
func (r *Coupons) Recalc(ctx context.Context, userID, couponID int64) (*model.Coupon, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCouponTx(ctx, tx, userID, couponID, true)
	if err != nil {
		return nil, err
	}

	out := engine.Classify(c)
	if err := persistOutcome(ctx, tx, couponID, out); err != nil {
		return nil, err
	}
	c.Multiplier = out.Multiplier
	c.CouponType = out.CouponType
	c.Status = out.Status
	c.Balance = out.Balance

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete apaga o cupom; se ainda IN_PROGRESS devolve +stake à conta
// (desfaz o débito da criação)
func (r *Coupons) Delete(ctx context.Context, userID, couponID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c, err := loadCouponTx(ctx, tx, userID, couponID, true)
	if err != nil {
		return err
	}

	if c.Status == model.StatusInProgress {
		if err := lockAccount(ctx, tx, userID, c.AccountID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookmaker_accounts SET balance = balance + $1 WHERE id=$2`,
			c.Stake, c.AccountID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM coupons WHERE id=$1`, couponID); err != nil {
		return err
	}
	return tx.Commit()
}

// Copy clona o cupom e suas apostas como um cupom novo IN_PROGRESS
// (resultados limpos), debitando o stake da conta outra vez
func (r *Coupons) Copy(ctx context.Context, userID, couponID int64) (*model.Coupon, error) {
	src, err := r.Get(ctx, userID, couponID)
	if err != nil {
		return nil, err
	}

	in := NewCoupon{
		UserID:     userID,
		AccountID:  src.AccountID,
		StrategyID: src.StrategyID,
		CouponType: src.CouponType,
		Stake:      src.Stake,
	}
	for _, b := range src.Bets {
		in.Bets = append(in.Bets, NewBet{
			EventID:   b.EventID,
			BetTypeID: b.BetTypeID,
			Line:      b.Line,
			Odds:      b.Odds,
		})
	}
	return r.Create(ctx, in)
}

// AddBet insere a aposta e recomputa o cupom sob o mesmo lock
func (r *Coupons) AddBet(ctx context.Context, userID, couponID int64, nb NewBet) (*model.Coupon, error) {
	if nb.Odds.LessThan(decimal.RequireFromString("1.01")) {
		return nil, fmt.Errorf("odds must be >= 1.01: %w", model.ErrInvalid)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCouponTx(ctx, tx, userID, couponID, true)
	if err != nil {
		return nil, err
	}

	eventID, err := getOrCreateEvent(ctx, tx, nb)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bets (coupon_id, event_id, bet_type_id, line, odds)
		VALUES ($1,$2,$3,$4,$5)`,
		couponID, eventID, nb.BetTypeID, nb.Line, nb.Odds); err != nil {
		return nil, err
	}

	return recalcAfterBetChange(ctx, tx, c, userID, couponID)
}

// UpdateBet altera line/odds/resultado de uma aposta e recomputa
func (r *Coupons) UpdateBet(ctx context.Context, userID, couponID, betID int64, line string, odds decimal.Decimal, result *string) (*model.Coupon, error) {
	if odds.LessThan(decimal.RequireFromString("1.01")) {
		return nil, fmt.Errorf("odds must be >= 1.01: %w", model.ErrInvalid)
	}
	if result != nil && *result != model.BetWin && *result != model.BetLost && *result != model.BetCanceled {
		return nil, fmt.Errorf("result %q: %w", *result, model.ErrInvalid)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCouponTx(ctx, tx, userID, couponID, true)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE bets SET line=$1, odds=$2, result=$3 WHERE id=$4 AND coupon_id=$5`,
		line, odds, result, betID, couponID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("bet %d: %w", betID, model.ErrNotFound)
	}

	return recalcAfterBetChange(ctx, tx, c, userID, couponID)
}

// DeleteBet remove a aposta e recomputa
func (r *Coupons) DeleteBet(ctx context.Context, userID, couponID, betID int64) (*model.Coupon, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCouponTx(ctx, tx, userID, couponID, true)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM bets WHERE id=$1 AND coupon_id=$2`, betID, couponID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("bet %d: %w", betID, model.ErrNotFound)
	}

	return recalcAfterBetChange(ctx, tx, c, userID, couponID)
}

// recalcAfterBetChange recarrega as apostas, reclassifica e comita.
// Edição de apostas não mexe no saldo (isso é papel da liquidação).
func recalcAfterBetChange(ctx context.Context, tx *sql.Tx, c *model.Coupon, userID, couponID int64) (*model.Coupon, error) {
	fresh, err := loadCouponTx(ctx, tx, userID, couponID, false)
	if err != nil {
		return nil, err
	}
	fresh.SettledDeltaApplied = c.SettledDeltaApplied

	out := engine.Classify(fresh)
	if err := persistOutcome(ctx, tx, couponID, out); err != nil {
		return nil, err
	}
	fresh.Multiplier = out.Multiplier
	fresh.CouponType = out.CouponType
	fresh.Status = out.Status
	fresh.Balance = out.Balance

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return fresh, nil
}

// List materializa o conjunto de cupons do usuário a partir do filtro
// compilado; o resultado sai sem duplicatas (DISTINCT) e ordenado
func (r *Coupons) List(ctx context.Context, userID int64, compiled query.Compiled, withBets bool) ([]model.Coupon, error) {
	q := `
		SELECT DISTINCT ` + couponColumns + `, ` + accountColumns + `
		FROM coupons c
		JOIN bookmaker_accounts a ON a.id = c.account_id
		JOIN bookmakers bk ON bk.id = a.bookmaker_id
		JOIN currencies cur ON cur.id = a.currency_id
		LEFT JOIN user_strategies st ON st.id = c.strategy_id
		WHERE c.user_id=$1 AND (` + compiled.Where + `)
		ORDER BY ` + compiled.OrderBy

	args := append([]any{userID}, compiled.Args...)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	var out []model.Coupon
	for rows.Next() {
		var c model.Coupon
		var acc model.BookmakerAccount
		var bk model.Bookmaker
		var cur model.Currency
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.AccountID, &c.StrategyID, &c.CouponType, &c.Stake,
			&c.Multiplier, &c.Status, &c.Balance, &c.SettledDeltaApplied, &c.CreatedAt,
			&acc.ID, &acc.UserID, &acc.BookmakerID, &acc.CurrencyID, &acc.Alias, &acc.Balance, &acc.Active, &acc.CreatedAt,
			&bk.ID, &bk.Name, &bk.TaxMultiplier,
			&cur.ID, &cur.Code, &cur.Symbol, &cur.FxValue,
		); err != nil {
			return nil, err
		}
		acc.Bookmaker = &bk
		acc.Currency = &cur
		c.Account = &acc
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if withBets && len(out) > 0 {
		if err := r.attachBets(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// attachBets carrega as apostas dos cupons listados em uma query só
func (r *Coupons) attachBets(ctx context.Context, coupons []model.Coupon) error {
	ids := make([]int64, len(coupons))
	byID := make(map[int64]*model.Coupon, len(coupons))
	for i := range coupons {
		ids[i] = coupons[i].ID
		byID[coupons[i].ID] = &coupons[i]
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT b.id, b.coupon_id, b.event_id, b.bet_type_id, b.line, b.odds, b.result,
		       e.id, e.name, e.home_team, e.away_team, e.start_time, e.discipline_id
		FROM bets b
		JOIN events e ON e.id = b.event_id
		WHERE b.coupon_id = ANY($1)
		ORDER BY b.id`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var b model.Bet
		var ev model.Event
		if err := rows.Scan(&b.ID, &b.CouponID, &b.EventID, &b.BetTypeID, &b.Line, &b.Odds, &b.Result,
			&ev.ID, &ev.Name, &ev.HomeTeam, &ev.AwayTeam, &ev.StartTime, &ev.DisciplineID); err != nil {
			return err
		}
		b.Event = &ev
		if c, ok := byID[b.CouponID]; ok {
			c.Bets = append(c.Bets, b)
		}
	}
	return rows.Err()
}

// ListScoped materializa os cupons criados no intervalo, do mais recente
// para o mais antigo, restritos ao filtro salvo quando há um (escopo das
// métricas de alertas e relatórios)
func (r *Coupons) ListScoped(ctx context.Context, userID int64, q *model.AnalyticsQuery, from, to time.Time) ([]model.Coupon, error) {
	compiled, err := query.Compile(q, query.Scalars{DateFrom: &from, DateTo: &to, SortBy: "-created_at"}, 2)
	if err != nil {
		return nil, err
	}
	return r.List(ctx, userID, compiled, false)
}

// ListRecent devolve os cupons mais recentes do usuário (escopo da streak)
func (r *Coupons) ListRecent(ctx context.Context, userID int64, limit int) ([]model.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons c
		WHERE c.user_id=$1
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent coupons: %w", err)
	}
	defer rows.Close()
	var out []model.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
