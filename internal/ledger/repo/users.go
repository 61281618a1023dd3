package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/money"
)

// Users cuida do cadastro mínimo: a linha do usuário, as preferências e
// o vínculo com o chat do Telegram
type Users struct{ db *sql.DB }

func NewUsers(db *sql.DB) *Users { return &Users{db: db} }

// Ensure garante que o usuário e suas settings default existem
func (r *Users) Ensure(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

// Settings devolve as preferências; defaults quando a linha não existe
func (r *Users) Settings(ctx context.Context, userID int64) (*model.UserSettings, error) {
	s := &model.UserSettings{UserID: userID, DateFormat: "YYYY-MM-DD", Language: "pl"}
	err := r.db.QueryRowContext(ctx, `
		SELECT date_format, monthly_budget_limit, language
		FROM user_settings WHERE user_id=$1`, userID).
		Scan(&s.DateFormat, &s.MonthlyBudgetLimit, &s.Language)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Users) UpdateSettings(ctx context.Context, s *model.UserSettings) error {
	if s.Language != "pl" && s.Language != "en" {
		return fmt.Errorf("language %q: %w", s.Language, model.ErrInvalid)
	}
	if s.MonthlyBudgetLimit.Valid && !s.MonthlyBudgetLimit.Decimal.IsPositive() {
		return fmt.Errorf("monthly_budget_limit must be positive: %w", model.ErrInvalid)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, date_format, monthly_budget_limit, language)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE
		SET date_format=EXCLUDED.date_format,
		    monthly_budget_limit=EXCLUDED.monthly_budget_limit,
		    language=EXCLUDED.language`,
		s.UserID, s.DateFormat, s.MonthlyBudgetLimit, s.Language)
	return err
}

// Binding devolve o vínculo de chat do usuário; ErrNotFound sem vínculo
func (r *Users) Binding(ctx context.Context, userID int64) (*model.MessagingBinding, error) {
	var b model.MessagingBinding
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, language
		FROM messaging_bindings WHERE user_id=$1`, userID).
		Scan(&b.UserID, &b.ChatID, &b.Language)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("messaging binding for user %d: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SetBinding cria ou substitui o vínculo (um chat por usuário)
func (r *Users) SetBinding(ctx context.Context, b *model.MessagingBinding) error {
	if b.Language == "" {
		b.Language = "pl"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messaging_bindings (user_id, chat_id, language)
		VALUES ($1,$2,$3)
		ON CONFLICT (user_id) DO UPDATE
		SET chat_id=EXCLUDED.chat_id, language=EXCLUDED.language`,
		b.UserID, b.ChatID, b.Language)
	return err
}

func (r *Users) DeleteBinding(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM messaging_bindings WHERE user_id=$1`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("messaging binding for user %d: %w", userID, model.ErrNotFound)
	}
	return nil
}

// BudgetUser é a projeção lida pelo tick de orçamento mensal
type BudgetUser struct {
	UserID   int64
	Limit    money.NullDecimal
	Language string
}

// ListWithBudget devolve os usuários com limite mensal configurado
func (r *Users) ListWithBudget(ctx context.Context) ([]BudgetUser, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, monthly_budget_limit, language
		FROM user_settings
		WHERE monthly_budget_limit > 0
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list budget users: %w", err)
	}
	defer rows.Close()
	var out []BudgetUser
	for rows.Next() {
		var u BudgetUser
		if err := rows.Scan(&u.UserID, &u.Limit, &u.Language); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
