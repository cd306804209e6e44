package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldchart/fieldchart/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const eventCols = `id, user_id, action, resource_type, resource_id, details,
	severity, category, checksum, created_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.UserID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Details,
		&e.Severity, &e.Category, &e.Checksum, &e.CreatedAt,
	)
	return &e, err
}

func (r *RepoPG) Append(ctx context.Context, e *Event) error {
	q := fmt.Sprintf(`INSERT INTO audit_event (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, eventCols)
	_, err := r.conn(ctx).Exec(ctx, q,
		e.ID, e.UserID, e.Action, e.ResourceType, e.ResourceID, e.Details,
		e.Severity, e.Category, e.Checksum, e.CreatedAt,
	)
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_event WHERE id = $1", eventCols)
	return scanEvent(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *RepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Event, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if v, ok := params["user"]; ok {
		where = append(where, fmt.Sprintf("user_id = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["action"]; ok {
		where = append(where, fmt.Sprintf("action = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["resource-type"]; ok {
		where = append(where, fmt.Sprintf("resource_type = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["resource"]; ok {
		where = append(where, fmt.Sprintf("resource_id = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["category"]; ok {
		where = append(where, fmt.Sprintf("category = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["severity"]; ok {
		where = append(where, fmt.Sprintf("severity = $%d", idx))
		args = append(args, v)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM audit_event %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM audit_event %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		eventCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}
