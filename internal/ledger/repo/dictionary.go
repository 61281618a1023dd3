package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

// Dictionaries expõe os catálogos imutáveis em runtime (bookmakers, moedas,
// disciplinas, tipos de aposta) com cache read-through no Redis, e as
// estratégias nomeadas pelo usuário.
type Dictionaries struct {
	db  *sql.DB
	rdb *redis.Client // opcional; nil desliga o cache
	ttl time.Duration
}

func NewDictionaries(db *sql.DB, rdb *redis.Client) *Dictionaries {
	return &Dictionaries{db: db, rdb: rdb, ttl: 5 * time.Minute}
}

func dictKey(name string) string { return "dict:" + name }

// cached tenta o Redis antes do banco; falha de cache não bloqueia a leitura
func cachedList[T any](ctx context.Context, d *Dictionaries, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	if d.rdb != nil {
		if b, err := d.rdb.Get(ctx, dictKey(key)).Bytes(); err == nil {
			var out []T
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			// segue para o banco; cache indisponível não é erro do usuário
		}
	}

	out, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if d.rdb != nil {
		if b, err := json.Marshal(out); err == nil {
			_ = d.rdb.Set(ctx, dictKey(key), b, d.ttl).Err()
		}
	}
	return out, nil
}

func (d *Dictionaries) ListBookmakers(ctx context.Context) ([]model.Bookmaker, error) {
	return cachedList(ctx, d, "bookmakers", func(ctx context.Context) ([]model.Bookmaker, error) {
		rows, err := d.db.QueryContext(ctx, `SELECT id, name, tax_multiplier FROM bookmakers ORDER BY name`)
		if err != nil {
			return nil, fmt.Errorf("list bookmakers: %w", err)
		}
		defer rows.Close()
		var out []model.Bookmaker
		for rows.Next() {
			var b model.Bookmaker
			if err := rows.Scan(&b.ID, &b.Name, &b.TaxMultiplier); err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, rows.Err()
	})
}

func (d *Dictionaries) ListCurrencies(ctx context.Context) ([]model.Currency, error) {
	return cachedList(ctx, d, "currencies", func(ctx context.Context) ([]model.Currency, error) {
		rows, err := d.db.QueryContext(ctx, `SELECT id, code, symbol, fx_value FROM currencies ORDER BY code`)
		if err != nil {
			return nil, fmt.Errorf("list currencies: %w", err)
		}
		defer rows.Close()
		var out []model.Currency
		for rows.Next() {
			var c model.Currency
			if err := rows.Scan(&c.ID, &c.Code, &c.Symbol, &c.FxValue); err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, rows.Err()
	})
}

func (d *Dictionaries) ListDisciplines(ctx context.Context) ([]model.Discipline, error) {
	return cachedList(ctx, d, "disciplines", func(ctx context.Context) ([]model.Discipline, error) {
		rows, err := d.db.QueryContext(ctx, `SELECT id, name FROM disciplines ORDER BY name`)
		if err != nil {
			return nil, fmt.Errorf("list disciplines: %w", err)
		}
		defer rows.Close()
		var out []model.Discipline
		for rows.Next() {
			var dd model.Discipline
			if err := rows.Scan(&dd.ID, &dd.Name); err != nil {
				return nil, err
			}
			out = append(out, dd)
		}
		return out, rows.Err()
	})
}

func (d *Dictionaries) ListBetTypes(ctx context.Context, disciplineID int64) ([]model.BetType, error) {
	key := fmt.Sprintf("bet_types:%d", disciplineID)
	return cachedList(ctx, d, key, func(ctx context.Context) ([]model.BetType, error) {
		rows, err := d.db.QueryContext(ctx,
			`SELECT id, discipline_id, code FROM bet_types WHERE discipline_id=$1 ORDER BY code`, disciplineID)
		if err != nil {
			return nil, fmt.Errorf("list bet types: %w", err)
		}
		defer rows.Close()
		var out []model.BetType
		for rows.Next() {
			var bt model.BetType
			if err := rows.Scan(&bt.ID, &bt.DisciplineID, &bt.Code); err != nil {
				return nil, err
			}
			out = append(out, bt)
		}
		return out, rows.Err()
	})
}

// --- Estratégias do usuário (rótulos, sem semântica automática) ---

func (d *Dictionaries) ListStrategies(ctx context.Context, userID int64) ([]model.UserStrategy, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, name FROM user_strategies WHERE user_id=$1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()
	var out []model.UserStrategy
	for rows.Next() {
		var s model.UserStrategy
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *Dictionaries) CreateStrategy(ctx context.Context, userID int64, name string) (*model.UserStrategy, error) {
	if name == "" {
		return nil, fmt.Errorf("strategy name required: %w", model.ErrInvalid)
	}
	s := model.UserStrategy{UserID: userID, Name: name}
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO user_strategies (user_id, name) VALUES ($1,$2) RETURNING id`, userID, name).
		Scan(&s.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, fmt.Errorf("strategy %q already exists: %w", name, model.ErrConflict)
		}
		return nil, err
	}
	return &s, nil
}

func (d *Dictionaries) DeleteStrategy(ctx context.Context, userID, strategyID int64) error {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM user_strategies WHERE id=$1 AND user_id=$2`, strategyID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}
