package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const reconciliationGapColumns = `id, kind, external_order_id, trace_id, detail, payload, created_at, resolved_at, resolution`

const insertReconciliationGap = `
INSERT INTO reconciliation_gaps (kind, external_order_id, trace_id, detail, payload)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + reconciliationGapColumns

type InsertReconciliationGapParams struct {
	Kind            string
	ExternalOrderID string
	TraceID         string
	Detail          string
	Payload         []byte
}

func (q *Queries) InsertReconciliationGap(ctx context.Context, arg InsertReconciliationGapParams) (ReconciliationGap, error) {
	row := q.db.QueryRow(ctx, insertReconciliationGap,
		arg.Kind,
		arg.ExternalOrderID,
		arg.TraceID,
		arg.Detail,
		arg.Payload,
	)
	return scanReconciliationGap(row)
}

const listOpenReconciliationGaps = `
SELECT ` + reconciliationGapColumns + `
FROM reconciliation_gaps
WHERE resolved_at IS NULL
  AND ($1::text = '' OR kind = $1::text)
ORDER BY created_at ASC, id ASC
LIMIT $2
`

type ListOpenReconciliationGapsParams struct {
	Kind  string
	Limit int32
}

func (q *Queries) ListOpenReconciliationGaps(ctx context.Context, arg ListOpenReconciliationGapsParams) ([]ReconciliationGap, error) {
	rows, err := q.db.Query(ctx, listOpenReconciliationGaps, arg.Kind, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ReconciliationGap{}
	for rows.Next() {
		i, err := scanReconciliationGap(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countOpenReconciliationGaps = `SELECT COUNT(*) FROM reconciliation_gaps WHERE resolved_at IS NULL`

func (q *Queries) CountOpenReconciliationGaps(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countOpenReconciliationGaps).Scan(&count)
	return count, err
}

const resolveReconciliationGap = `
UPDATE reconciliation_gaps
SET resolved_at = $2, resolution = $3
WHERE id = $1 AND resolved_at IS NULL
`

type ResolveReconciliationGapParams struct {
	ID         int64
	ResolvedAt pgtype.Timestamptz
	Resolution string
}

func (q *Queries) ResolveReconciliationGap(ctx context.Context, arg ResolveReconciliationGapParams) (int64, error) {
	tag, err := q.db.Exec(ctx, resolveReconciliationGap, arg.ID, arg.ResolvedAt, arg.Resolution)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanReconciliationGap(row pgx.Row) (ReconciliationGap, error) {
	var i ReconciliationGap
	err := row.Scan(
		&i.ID,
		&i.Kind,
		&i.ExternalOrderID,
		&i.TraceID,
		&i.Detail,
		&i.Payload,
		&i.CreatedAt,
		&i.ResolvedAt,
		&i.Resolution,
	)
	return i, err
}
