package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/money"
)

// Accounts implementa as operações de conta de bookmaker e de transações
// (depósito/saque). Toda mutação de saldo roda com a linha da conta
// travada (FOR UPDATE), no padrão read-modify-write serializado.
type Accounts struct{ db *sql.DB }

func NewAccounts(db *sql.DB) *Accounts { return &Accounts{db: db} }

// CreateAccount cria a conta do par (usuário, bookmaker); o par é único
func (a *Accounts) CreateAccount(ctx context.Context, acc *model.BookmakerAccount) error {
	err := a.db.QueryRowContext(ctx, `
		INSERT INTO bookmaker_accounts (user_id, bookmaker_id, currency_id, alias, balance, active)
		VALUES ($1,$2,$3,$4,0,TRUE)
		RETURNING id, created_at`,
		acc.UserID, acc.BookmakerID, acc.CurrencyID, acc.Alias,
	).Scan(&acc.ID, &acc.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case "23505":
				return fmt.Errorf("account for bookmaker already exists: %w", model.ErrConflict)
			case "23503":
				return fmt.Errorf("bookmaker or currency: %w", model.ErrNotFound)
			}
		}
		return err
	}
	acc.Balance = money.Zero
	acc.Active = true
	return nil
}

const accountColumns = `
	a.id, a.user_id, a.bookmaker_id, a.currency_id, a.alias, a.balance, a.active, a.created_at,
	bk.id, bk.name, bk.tax_multiplier,
	cur.id, cur.code, cur.symbol, cur.fx_value`

func scanAccount(row interface{ Scan(...any) error }) (*model.BookmakerAccount, error) {
	var acc model.BookmakerAccount
	var bk model.Bookmaker
	var cur model.Currency
	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.BookmakerID, &acc.CurrencyID, &acc.Alias, &acc.Balance, &acc.Active, &acc.CreatedAt,
		&bk.ID, &bk.Name, &bk.TaxMultiplier,
		&cur.ID, &cur.Code, &cur.Symbol, &cur.FxValue,
	)
	if err != nil {
		return nil, err
	}
	acc.Bookmaker = &bk
	acc.Currency = &cur
	return &acc, nil
}

// GetAccount retorna a conta hidratada (bookmaker e moeda carregados)
func (a *Accounts) GetAccount(ctx context.Context, userID, accountID int64) (*model.BookmakerAccount, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM bookmaker_accounts a
		JOIN bookmakers bk ON bk.id = a.bookmaker_id
		JOIN currencies cur ON cur.id = a.currency_id
		WHERE a.id=$1 AND a.user_id=$2`, accountID, userID)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %d: %w", accountID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (a *Accounts) ListAccounts(ctx context.Context, userID int64) ([]model.BookmakerAccount, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM bookmaker_accounts a
		JOIN bookmakers bk ON bk.id = a.bookmaker_id
		JOIN currencies cur ON cur.id = a.currency_id
		WHERE a.user_id=$1
		ORDER BY a.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []model.BookmakerAccount
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *acc)
	}
	return out, rows.Err()
}

// UpdateAccount altera apenas alias e flag de ativa; saldo é intocável aqui
func (a *Accounts) UpdateAccount(ctx context.Context, userID, accountID int64, alias string, active bool) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE bookmaker_accounts SET alias=$1, active=$2 WHERE id=$3 AND user_id=$4`,
		alias, active, accountID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteAccount apaga a conta; cupons referenciando bloqueiam (PROTECT)
func (a *Accounts) DeleteAccount(ctx context.Context, userID, accountID int64) error {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM bookmaker_accounts WHERE id=$1 AND user_id=$2`, accountID, userID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("account has coupons: %w", model.ErrConflict)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// txDelta é o efeito da transação no saldo: +amount para depósito,
// −amount para saque
func txDelta(txType string, amount decimal.Decimal) (decimal.Decimal, error) {
	switch txType {
	case model.TxDeposit:
		return amount, nil
	case model.TxWithdrawal:
		return amount.Neg(), nil
	}
	return decimal.Decimal{}, fmt.Errorf("transaction type %q: %w", txType, model.ErrInvalid)
}

// lockAccount trava a linha da conta do usuário dentro da transação
func lockAccount(ctx context.Context, tx *sql.Tx, userID, accountID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM bookmaker_accounts WHERE id=$1 AND user_id=$2 FOR UPDATE`,
		accountID, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("account %d: %w", accountID, model.ErrNotFound)
	}
	return err
}

// CreateTransaction registra depósito/saque e aplica o delta no saldo,
// tudo na mesma transação serializada
func (a *Accounts) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	if !t.Amount.IsPositive() {
		return fmt.Errorf("amount must be > 0: %w", model.ErrInvalid)
	}
	delta, err := txDelta(t.Type, t.Amount)
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockAccount(ctx, tx, t.UserID, t.AccountID); err != nil {
		return err
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO account_transactions (account_id, user_id, type, amount, fee)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		t.AccountID, t.UserID, t.Type, t.Amount, t.Fee,
	).Scan(&t.ID, &t.CreatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bookmaker_accounts SET balance = balance + $1 WHERE id=$2`,
		delta, t.AccountID); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateTransaction desfaz o delta antigo e aplica o novo na mesma operação
func (a *Accounts) UpdateTransaction(ctx context.Context, userID, txID int64, newType string, newAmount decimal.Decimal) error {
	if !newAmount.IsPositive() {
		return fmt.Errorf("amount must be > 0: %w", model.ErrInvalid)
	}
	newDelta, err := txDelta(newType, newAmount)
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var accountID int64
	var oldType string
	var oldAmount decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT t.account_id, t.type, t.amount
		FROM account_transactions t
		JOIN bookmaker_accounts a ON a.id = t.account_id
		WHERE t.id=$1 AND t.user_id=$2
		FOR UPDATE OF a`, txID, userID).Scan(&accountID, &oldType, &oldAmount)
	if err == sql.ErrNoRows {
		return fmt.Errorf("transaction %d: %w", txID, model.ErrNotFound)
	}
	if err != nil {
		return err
	}

	oldDelta, err := txDelta(oldType, oldAmount)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE account_transactions SET type=$1, amount=$2 WHERE id=$3`,
		newType, newAmount, txID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookmaker_accounts SET balance = balance - $1 + $2 WHERE id=$3`,
		oldDelta, newDelta, accountID); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteTransaction remove a transação revertendo seu delta do saldo
func (a *Accounts) DeleteTransaction(ctx context.Context, userID, txID int64) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var accountID int64
	var txType string
	var amount decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT t.account_id, t.type, t.amount
		FROM account_transactions t
		JOIN bookmaker_accounts a ON a.id = t.account_id
		WHERE t.id=$1 AND t.user_id=$2
		FOR UPDATE OF a`, txID, userID).Scan(&accountID, &txType, &amount)
	if err == sql.ErrNoRows {
		return fmt.Errorf("transaction %d: %w", txID, model.ErrNotFound)
	}
	if err != nil {
		return err
	}

	delta, err := txDelta(txType, amount)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM account_transactions WHERE id=$1`, txID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookmaker_accounts SET balance = balance - $1 WHERE id=$2`,
		delta, accountID); err != nil {
		return err
	}

	return tx.Commit()
}

func (a *Accounts) ListTransactions(ctx context.Context, userID, accountID int64) ([]model.Transaction, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, account_id, user_id, type, amount, fee, created_at
		FROM account_transactions
		WHERE user_id=$1 AND ($2 = 0 OR account_id=$2)
		ORDER BY created_at DESC, id DESC`, userID, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.UserID, &t.Type, &t.Amount, &t.Fee, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransactionSummary soma depósitos e saques do usuário no intervalo
func (a *Accounts) TransactionSummary(ctx context.Context, userID int64, from, to time.Time) (deposits, withdrawals decimal.Decimal, err error) {
	err = a.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type='DEPOSIT'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type='WITHDRAWAL'), 0)
		FROM account_transactions
		WHERE user_id=$1 AND created_at >= $2 AND created_at <= $3`,
		userID, from, to).Scan(&deposits, &withdrawals)
	return deposits, withdrawals, err
}

// MonthlyDeposits soma os depósitos do usuário desde o primeiro dia do mês
// corrente; usado pelo tick de orçamento excedido
func (a *Accounts) MonthlyDeposits(ctx context.Context, userID int64, monthStart time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := a.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM account_transactions
		WHERE user_id=$1 AND type='DEPOSIT' AND created_at >= $2`,
		userID, monthStart).Scan(&total)
	return total, err
}
