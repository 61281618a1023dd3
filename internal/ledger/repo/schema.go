package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema cria as tabelas do ledger e semeia os dicionários
// (bookmakers, moedas, disciplinas, tipos de aposta). Idempotente;
// executado no arranque de cada serviço.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         BIGSERIAL PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id              BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		date_format          TEXT NOT NULL DEFAULT 'YYYY-MM-DD',
		monthly_budget_limit NUMERIC(14,2),
		language             TEXT NOT NULL DEFAULT 'pl'
	)`,

	`CREATE TABLE IF NOT EXISTS messaging_bindings (
		user_id  BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		chat_id  BIGINT NOT NULL,
		language TEXT NOT NULL DEFAULT 'pl'
	)`,

	`CREATE TABLE IF NOT EXISTS bookmakers (
		id             BIGSERIAL PRIMARY KEY,
		name           TEXT NOT NULL UNIQUE,
		tax_multiplier NUMERIC(5,4) NOT NULL DEFAULT 0.88
	)`,

	`CREATE TABLE IF NOT EXISTS currencies (
		id       BIGSERIAL PRIMARY KEY,
		code     CHAR(3) NOT NULL UNIQUE,
		symbol   TEXT NOT NULL DEFAULT '',
		fx_value NUMERIC(18,6)
	)`,

	`CREATE TABLE IF NOT EXISTS disciplines (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS bet_types (
		id            BIGSERIAL PRIMARY KEY,
		discipline_id BIGINT NOT NULL REFERENCES disciplines(id),
		code          TEXT NOT NULL,
		UNIQUE (discipline_id, code)
	)`,

	`CREATE TABLE IF NOT EXISTS user_strategies (
		id      BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name    TEXT NOT NULL,
		UNIQUE (user_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS bookmaker_accounts (
		id           BIGSERIAL PRIMARY KEY,
		user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		bookmaker_id BIGINT NOT NULL REFERENCES bookmakers(id),
		currency_id  BIGINT NOT NULL REFERENCES currencies(id),
		alias        TEXT NOT NULL DEFAULT '',
		balance      NUMERIC(14,2) NOT NULL DEFAULT 0,
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, bookmaker_id)
	)`,

	`CREATE TABLE IF NOT EXISTS account_transactions (
		id         BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES bookmaker_accounts(id) ON DELETE CASCADE,
		user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		type       TEXT NOT NULL CHECK (type IN ('DEPOSIT','WITHDRAWAL')),
		amount     NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		fee        NUMERIC(14,2),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_account_created ON account_transactions (account_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_user_type_created ON account_transactions (user_id, type, created_at)`,

	`CREATE TABLE IF NOT EXISTS events (
		id            BIGSERIAL PRIMARY KEY,
		name          TEXT NOT NULL,
		home_team     TEXT NOT NULL DEFAULT '',
		away_team     TEXT NOT NULL DEFAULT '',
		start_time    TIMESTAMPTZ NOT NULL,
		discipline_id BIGINT NOT NULL REFERENCES disciplines(id),
		UNIQUE (name, start_time, discipline_id)
	)`,

	// account_id é RESTRICT: conta com cupons não pode ser apagada (protect)
	`CREATE TABLE IF NOT EXISTS coupons (
		id                    BIGSERIAL PRIMARY KEY,
		user_id               BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		account_id            BIGINT NOT NULL REFERENCES bookmaker_accounts(id) ON DELETE RESTRICT,
		strategy_id           BIGINT REFERENCES user_strategies(id) ON DELETE SET NULL,
		coupon_type           TEXT NOT NULL DEFAULT 'SOLO',
		bet_stake             NUMERIC(14,2) NOT NULL CHECK (bet_stake > 0),
		multiplier            NUMERIC(12,2) NOT NULL DEFAULT 1.00,
		status                TEXT NOT NULL DEFAULT 'IN_PROGRESS',
		balance               NUMERIC(14,2) NOT NULL DEFAULT 0,
		settled_delta_applied BOOLEAN NOT NULL DEFAULT FALSE,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_coupons_user_created ON coupons (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS bets (
		id          BIGSERIAL PRIMARY KEY,
		coupon_id   BIGINT NOT NULL REFERENCES coupons(id) ON DELETE CASCADE,
		event_id    BIGINT NOT NULL REFERENCES events(id),
		bet_type_id BIGINT REFERENCES bet_types(id),
		line        TEXT NOT NULL DEFAULT '',
		odds        NUMERIC(8,2) NOT NULL CHECK (odds >= 1.01),
		result      TEXT CHECK (result IN ('WIN','LOST','CANCELED'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bets_coupon ON bets (coupon_id)`,

	`CREATE TABLE IF NOT EXISTS analytics_queries (
		id           BIGSERIAL PRIMARY KEY,
		user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name         TEXT NOT NULL DEFAULT '',
		sort_by      TEXT NOT NULL DEFAULT '',
		date_from    TIMESTAMPTZ,
		date_to      TIMESTAMPTZ,
		legacy_query JSONB,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS analytics_query_groups (
		id        BIGSERIAL PRIMARY KEY,
		query_id  BIGINT NOT NULL REFERENCES analytics_queries(id) ON DELETE CASCADE,
		parent_id BIGINT REFERENCES analytics_query_groups(id) ON DELETE CASCADE,
		operator  TEXT NOT NULL DEFAULT 'AND' CHECK (operator IN ('AND','OR')),
		ord       INT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS analytics_query_conditions (
		id       BIGSERIAL PRIMARY KEY,
		group_id BIGINT NOT NULL REFERENCES analytics_query_groups(id) ON DELETE CASCADE,
		field    TEXT NOT NULL,
		operator TEXT NOT NULL,
		value    TEXT NOT NULL DEFAULT '',
		negate   BOOLEAN NOT NULL DEFAULT FALSE,
		ord      INT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS alert_rules (
		id                BIGSERIAL PRIMARY KEY,
		user_id           BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		rule_type         TEXT NOT NULL,
		metric            TEXT NOT NULL,
		comparator        TEXT NOT NULL CHECK (comparator IN ('lt','lte','gt','gte','eq')),
		threshold         NUMERIC(14,4) NOT NULL,
		window_days       INT NOT NULL CHECK (window_days >= 1),
		message_template  TEXT NOT NULL DEFAULT '',
		query_id          BIGINT REFERENCES analytics_queries(id) ON DELETE SET NULL,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		last_triggered_at TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS alert_events (
		id              BIGSERIAL PRIMARY KEY,
		rule_id         BIGINT NOT NULL REFERENCES alert_rules(id) ON DELETE CASCADE,
		user_id         BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		metric          TEXT NOT NULL,
		comparator      TEXT NOT NULL,
		threshold_value NUMERIC(14,4) NOT NULL,
		metric_value    NUMERIC(14,4) NOT NULL,
		window_start    TIMESTAMPTZ NOT NULL,
		window_end      TIMESTAMPTZ NOT NULL,
		message         TEXT NOT NULL DEFAULT '',
		triggered_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_at         TIMESTAMPTZ,
		UNIQUE (rule_id, window_start, window_end)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_events_unsent ON alert_events (triggered_at) WHERE sent_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS reports (
		id               BIGSERIAL PRIMARY KEY,
		user_id          BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		query_id         BIGINT REFERENCES analytics_queries(id) ON DELETE SET NULL,
		frequency        TEXT NOT NULL CHECK (frequency IN ('DAILY','WEEKLY','MONTHLY','YEARLY','CUSTOM')),
		channels         TEXT[] NOT NULL DEFAULT '{telegram}',
		schedule_payload JSONB,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		next_run         TIMESTAMPTZ NOT NULL,
		last_sent_at     TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_due ON reports (next_run) WHERE is_active`,

	// Seeds de dicionário (imutáveis em runtime)
	`INSERT INTO currencies (code, symbol) VALUES
		('PLN','zł'), ('EUR','€'), ('USD','$'), ('GBP','£')
		ON CONFLICT (code) DO NOTHING`,
	`INSERT INTO bookmakers (name, tax_multiplier) VALUES
		('Fortuna', 0.88), ('STS', 0.88), ('Betclic', 0.88), ('Superbet', 0.88)
		ON CONFLICT (name) DO NOTHING`,
	`INSERT INTO disciplines (name) VALUES
		('football'), ('basketball'), ('tennis'), ('esports')
		ON CONFLICT (name) DO NOTHING`,
	`INSERT INTO bet_types (discipline_id, code)
		SELECT d.id, c.code
		FROM disciplines d
		CROSS JOIN (VALUES ('1x2'), ('over_under'), ('btts'), ('handicap')) AS c(code)
		WHERE d.name = 'football'
		ON CONFLICT (discipline_id, code) DO NOTHING`,
}
