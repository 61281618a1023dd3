package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

// Reports persiste os agendamentos de relatório. next_run é o marco
// dágua do scheduler: só avança (condicionalmente) depois de uma
// entrega bem sucedida, então falha de envio repete na próxima rodada.
type Reports struct{ db *sql.DB }

func NewReports(db *sql.DB) *Reports { return &Reports{db: db} }

func validFrequency(f string) bool {
	switch f {
	case model.FreqDaily, model.FreqWeekly, model.FreqMonthly, model.FreqYearly, model.FreqCustom:
		return true
	}
	return false
}

func (r *Reports) Create(ctx context.Context, rep *model.Report) error {
	if !validFrequency(rep.Frequency) {
		return fmt.Errorf("frequency %q: %w", rep.Frequency, model.ErrInvalid)
	}
	if len(rep.Channels) == 0 {
		rep.Channels = []string{"telegram"}
	}
	var payload any
	if rep.SchedulePayload != "" {
		payload = rep.SchedulePayload
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO reports (user_id, query_id, frequency, channels, schedule_payload, is_active, next_run)
		VALUES ($1,$2,$3,$4,$5,TRUE,$6)
		RETURNING id, created_at`,
		rep.UserID, rep.QueryID, rep.Frequency, pq.Array(rep.Channels), payload, rep.NextRun,
	).Scan(&rep.ID, &rep.CreatedAt)
	if err != nil {
		return mapPQError(err, "report")
	}
	rep.IsActive = true
	return nil
}

func (r *Reports) Update(ctx context.Context, rep *model.Report) error {
	if !validFrequency(rep.Frequency) {
		return fmt.Errorf("frequency %q: %w", rep.Frequency, model.ErrInvalid)
	}
	var payload any
	if rep.SchedulePayload != "" {
		payload = rep.SchedulePayload
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE reports
		SET query_id=$1, frequency=$2, channels=$3, schedule_payload=$4, is_active=$5, next_run=$6
		WHERE id=$7 AND user_id=$8`,
		rep.QueryID, rep.Frequency, pq.Array(rep.Channels), payload, rep.IsActive, rep.NextRun,
		rep.ID, rep.UserID)
	if err != nil {
		return mapPQError(err, "report")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %d: %w", rep.ID, model.ErrNotFound)
	}
	return nil
}

const reportColumns = `
	id, user_id, query_id, frequency, channels, COALESCE(schedule_payload::text, ''),
	is_active, next_run, last_sent_at, created_at`

func scanReport(row interface{ Scan(...any) error }) (*model.Report, error) {
	var rep model.Report
	err := row.Scan(
		&rep.ID, &rep.UserID, &rep.QueryID, &rep.Frequency, pq.Array(&rep.Channels),
		&rep.SchedulePayload, &rep.IsActive, &rep.NextRun, &rep.LastSentAt, &rep.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *Reports) Get(ctx context.Context, userID, reportID int64) (*model.Report, error) {
	rep, err := scanReport(r.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id=$1 AND user_id=$2`, reportID, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report %d: %w", reportID, model.ErrNotFound)
	}
	return rep, err
}

func (r *Reports) List(ctx context.Context, userID int64) ([]model.Report, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var out []model.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

func (r *Reports) Delete(ctx context.Context, userID, reportID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM reports WHERE id=$1 AND user_id=$2`, reportID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %d: %w", reportID, model.ErrNotFound)
	}
	return nil
}

// ListDue devolve os relatórios ativos com next_run vencido
func (r *Reports) ListDue(ctx context.Context, now time.Time) ([]model.Report, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE is_active AND next_run <= $1 ORDER BY next_run, id`, now)
	if err != nil {
		return nil, fmt.Errorf("list due reports: %w", err)
	}
	defer rows.Close()
	var out []model.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

// MarkDue antecipa o next_run para agora; a próxima rodada do worker
// entrega o relatório (caminho do "enviar agora" da API)
func (r *Reports) MarkDue(ctx context.Context, userID, reportID int64, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reports SET next_run=$1, is_active=TRUE
		WHERE id=$2 AND user_id=$3`, now, reportID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %d: %w", reportID, model.ErrNotFound)
	}
	return nil
}

// AdvanceNextRun move o marco dágua de forma condicional: só escreve se
// next_run ainda for o valor lido (dois workers não avançam duas vezes)
func (r *Reports) AdvanceNextRun(ctx context.Context, reportID int64, from, to, sentAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reports SET next_run=$1, last_sent_at=$2
		WHERE id=$3 AND next_run=$4`,
		to, sentAt, reportID, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
