package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

// Queries persiste as definições de filtro salvas (árvore de grupos e
// condições). A árvore inteira é substituída a cada update; é pequena e
// o replace evita diffs de nós.
type Queries struct{ db *sql.DB }

func NewQueries(db *sql.DB) *Queries { return &Queries{db: db} }

func (r *Queries) Create(ctx context.Context, q *model.AnalyticsQuery) (*model.AnalyticsQuery, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO analytics_queries (user_id, name, sort_by, date_from, date_to)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		q.UserID, q.Name, q.SortBy, q.DateFrom, q.DateTo).Scan(&q.ID, &q.CreatedAt); err != nil {
		return nil, mapPQError(err, "analytics query")
	}

	if err := insertGroups(ctx, tx, q.ID, nil, q.Groups); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.Get(ctx, q.UserID, q.ID)
}

func (r *Queries) Update(ctx context.Context, q *model.AnalyticsQuery) (*model.AnalyticsQuery, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE analytics_queries SET name=$1, sort_by=$2, date_from=$3, date_to=$4
		WHERE id=$5 AND user_id=$6`,
		q.Name, q.SortBy, q.DateFrom, q.DateTo, q.ID, q.UserID)
	if err != nil {
		return nil, mapPQError(err, "analytics query")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("analytics query %d: %w", q.ID, model.ErrNotFound)
	}

	// Replace total da árvore; o cascade apaga as condições junto
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM analytics_query_groups WHERE query_id=$1`, q.ID); err != nil {
		return nil, err
	}
	if err := insertGroups(ctx, tx, q.ID, nil, q.Groups); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.Get(ctx, q.UserID, q.ID)
}

func insertGroups(ctx context.Context, tx *sql.Tx, queryID int64, parentID *int64, groups []model.AnalyticsQueryGroup) error {
	for _, g := range groups {
		op := g.Operator
		if op == "" {
			op = "AND"
		}
		var gid int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO analytics_query_groups (query_id, parent_id, operator, ord)
			VALUES ($1,$2,$3,$4)
			RETURNING id`,
			queryID, parentID, op, g.Order).Scan(&gid); err != nil {
			return err
		}
		for _, c := range g.Conditions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO analytics_query_conditions (group_id, field, operator, value, negate, ord)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				gid, c.Field, c.Operator, c.Value, c.Negate, c.Order); err != nil {
				return err
			}
		}
		if err := insertGroups(ctx, tx, queryID, &gid, g.Subgroups); err != nil {
			return err
		}
	}
	return nil
}

func (r *Queries) Get(ctx context.Context, userID, queryID int64) (*model.AnalyticsQuery, error) {
	var q model.AnalyticsQuery
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, sort_by, date_from, date_to, created_at
		FROM analytics_queries WHERE id=$1 AND user_id=$2`, queryID, userID).
		Scan(&q.ID, &q.UserID, &q.Name, &q.SortBy, &q.DateFrom, &q.DateTo, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("analytics query %d: %w", queryID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadTree(ctx, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *Queries) List(ctx context.Context, userID int64) ([]model.AnalyticsQuery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, sort_by, date_from, date_to, created_at
		FROM analytics_queries WHERE user_id=$1 ORDER BY name, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list analytics queries: %w", err)
	}
	defer rows.Close()
	var out []model.AnalyticsQuery
	for rows.Next() {
		var q model.AnalyticsQuery
		if err := rows.Scan(&q.ID, &q.UserID, &q.Name, &q.SortBy, &q.DateFrom, &q.DateTo, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadTree(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Queries) Delete(ctx context.Context, userID, queryID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM analytics_queries WHERE id=$1 AND user_id=$2`, queryID, userID)
	if err != nil {
		return mapPQError(err, "analytics query")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("analytics query %d: %w", queryID, model.ErrNotFound)
	}
	return nil
}

// loadTree monta a árvore em memória a partir das duas tabelas planas;
// filhos agrupados por parent_id, tudo ordenado por ord
func (r *Queries) loadTree(ctx context.Context, q *model.AnalyticsQuery) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, parent_id, operator, ord
		FROM analytics_query_groups WHERE query_id=$1 ORDER BY ord, id`, q.ID)
	if err != nil {
		return err
	}
	nodes := make(map[int64]*model.AnalyticsQueryGroup)
	var order []int64
	for rows.Next() {
		g := &model.AnalyticsQueryGroup{QueryID: q.ID}
		if err := rows.Scan(&g.ID, &g.ParentID, &g.Operator, &g.Order); err != nil {
			rows.Close()
			return err
		}
		nodes[g.ID] = g
		order = append(order, g.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(nodes) == 0 {
		q.Groups = nil
		return nil
	}

	condRows, err := r.db.QueryContext(ctx, `
		SELECT c.group_id, c.id, c.field, c.operator, c.value, c.negate, c.ord
		FROM analytics_query_conditions c
		JOIN analytics_query_groups g ON g.id = c.group_id
		WHERE g.query_id=$1 ORDER BY c.ord, c.id`, q.ID)
	if err != nil {
		return err
	}
	for condRows.Next() {
		var gid int64
		var c model.AnalyticsQueryCondition
		if err := condRows.Scan(&gid, &c.ID, &c.Field, &c.Operator, &c.Value, &c.Negate, &c.Order); err != nil {
			condRows.Close()
			return err
		}
		c.GroupID = gid
		if g, ok := nodes[gid]; ok {
			g.Conditions = append(g.Conditions, c)
		}
	}
	condRows.Close()
	if err := condRows.Err(); err != nil {
		return err
	}

	// Resolve de baixo para cima: folhas primeiro, raízes por último
	var roots []int64
	children := make(map[int64][]int64)
	for _, id := range order {
		g := nodes[id]
		if g.ParentID == nil {
			roots = append(roots, id)
		} else {
			children[*g.ParentID] = append(children[*g.ParentID], id)
		}
	}
	var build func(id int64) model.AnalyticsQueryGroup
	build = func(id int64) model.AnalyticsQueryGroup {
		g := *nodes[id]
		for _, cid := range children[id] {
			g.Subgroups = append(g.Subgroups, build(cid))
		}
		sort.SliceStable(g.Subgroups, func(i, j int) bool { return g.Subgroups[i].Order < g.Subgroups[j].Order })
		return g
	}
	q.Groups = nil
	for _, id := range roots {
		q.Groups = append(q.Groups, build(id))
	}
	sort.SliceStable(q.Groups, func(i, j int) bool { return q.Groups[i].Order < q.Groups[j].Order })
	return nil
}
