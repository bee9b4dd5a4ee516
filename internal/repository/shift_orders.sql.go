package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const shiftOrderColumns = `id, external_order_id, creator_id, donor_id, deposit_token, deposit_network,
	settle_token, settle_network, donor_address, creator_address, settle_address, refund_address,
	amount, status, created_at, expires_at, cancellable_at, cancelled_at, updated_at`

const createShiftOrder = `
INSERT INTO shift_orders (
    id, external_order_id, creator_id, donor_id, deposit_token, deposit_network,
    settle_token, settle_network, donor_address, creator_address, settle_address, refund_address,
    amount, status, created_at, expires_at, cancellable_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $15)
RETURNING ` + shiftOrderColumns

type CreateShiftOrderParams struct {
	ID              pgtype.UUID
	ExternalOrderID string
	CreatorID       pgtype.UUID
	DonorID         pgtype.UUID
	DepositToken    string
	DepositNetwork  string
	SettleToken     string
	SettleNetwork   string
	DonorAddress    string
	CreatorAddress  string
	SettleAddress   string
	RefundAddress   *string
	Amount          decimal.Decimal
	Status          string
	CreatedAt       pgtype.Timestamptz
	ExpiresAt       pgtype.Timestamptz
	CancellableAt   pgtype.Timestamptz
}

func (q *Queries) CreateShiftOrder(ctx context.Context, arg CreateShiftOrderParams) (ShiftOrder, error) {
	row := q.db.QueryRow(ctx, createShiftOrder,
		arg.ID,
		arg.ExternalOrderID,
		arg.CreatorID,
		arg.DonorID,
		arg.DepositToken,
		arg.DepositNetwork,
		arg.SettleToken,
		arg.SettleNetwork,
		arg.DonorAddress,
		arg.CreatorAddress,
		arg.SettleAddress,
		arg.RefundAddress,
		arg.Amount,
		arg.Status,
		arg.CreatedAt,
		arg.ExpiresAt,
		arg.CancellableAt,
	)
	return scanShiftOrder(row)
}

const getShiftOrder = `SELECT ` + shiftOrderColumns + ` FROM shift_orders WHERE id = $1`

func (q *Queries) GetShiftOrder(ctx context.Context, id pgtype.UUID) (ShiftOrder, error) {
	return scanShiftOrder(q.db.QueryRow(ctx, getShiftOrder, id))
}

const getShiftOrderByExternalID = `SELECT ` + shiftOrderColumns + ` FROM shift_orders WHERE external_order_id = $1`

func (q *Queries) GetShiftOrderByExternalID(ctx context.Context, externalOrderID string) (ShiftOrder, error) {
	return scanShiftOrder(q.db.QueryRow(ctx, getShiftOrderByExternalID, externalOrderID))
}

const updateShiftStatus = `
UPDATE shift_orders
SET status = $2,
    cancelled_at = COALESCE($3, cancelled_at),
    updated_at = NOW()
WHERE external_order_id = $1
  AND (cardinality($4::text[]) = 0 OR status = ANY($4::text[]))
`

type UpdateShiftStatusParams struct {
	ExternalOrderID string
	Status          string
	CancelledAt     pgtype.Timestamptz
	// FromStatuses restricts the update to rows currently in one of these statuses.
	// Empty means unconditional.
	FromStatuses []string
}

func (q *Queries) UpdateShiftStatus(ctx context.Context, arg UpdateShiftStatusParams) (int64, error) {
	from := arg.FromStatuses
	if from == nil {
		from = []string{}
	}
	tag, err := q.db.Exec(ctx, updateShiftStatus, arg.ExternalOrderID, arg.Status, arg.CancelledAt, from)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listShiftOrdersByDonor = `
SELECT ` + shiftOrderColumns + `
FROM shift_orders
WHERE donor_address = $1
ORDER BY created_at DESC, id DESC
`

func (q *Queries) ListShiftOrdersByDonor(ctx context.Context, donorAddress string) ([]ShiftOrder, error) {
	return q.listShiftOrders(ctx, listShiftOrdersByDonor, donorAddress)
}

const listShiftOrdersByCreator = `
SELECT ` + shiftOrderColumns + `
FROM shift_orders
WHERE creator_address = $1
ORDER BY created_at DESC, id DESC
`

func (q *Queries) ListShiftOrdersByCreator(ctx context.Context, creatorAddress string) ([]ShiftOrder, error) {
	return q.listShiftOrders(ctx, listShiftOrdersByCreator, creatorAddress)
}

const listOpenShiftOrders = `
SELECT ` + shiftOrderColumns + `
FROM shift_orders
WHERE status IN ('waiting', 'confirming')
  AND ($1::uuid IS NULL OR id > $1::uuid)
ORDER BY id ASC
LIMIT $2
`

// ListOpenShiftOrdersParams pages through non-terminal shifts by id. A NULL AfterID starts from the beginning.
type ListOpenShiftOrdersParams struct {
	AfterID pgtype.UUID
	Limit   int32
}

func (q *Queries) ListOpenShiftOrders(ctx context.Context, arg ListOpenShiftOrdersParams) ([]ShiftOrder, error) {
	return q.listShiftOrders(ctx, listOpenShiftOrders, arg.AfterID, arg.Limit)
}

func (q *Queries) listShiftOrders(ctx context.Context, query string, args ...interface{}) ([]ShiftOrder, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ShiftOrder{}
	for rows.Next() {
		i, err := scanShiftOrder(rows)
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

const insertShiftEvent = `
INSERT INTO shift_events (shift_id, trace_id, action, prev_status, next_status, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`

type InsertShiftEventParams struct {
	ShiftID    pgtype.UUID
	TraceID    *string
	Action     string
	PrevStatus *string
	NextStatus *string
	Metadata   []byte
}

func (q *Queries) InsertShiftEvent(ctx context.Context, arg InsertShiftEventParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertShiftEvent,
		arg.ShiftID,
		arg.TraceID,
		arg.Action,
		arg.PrevStatus,
		arg.NextStatus,
		arg.Metadata,
	).Scan(&id)
	return id, err
}

func scanShiftOrder(row pgx.Row) (ShiftOrder, error) {
	var i ShiftOrder
	err := row.Scan(
		&i.ID,
		&i.ExternalOrderID,
		&i.CreatorID,
		&i.DonorID,
		&i.DepositToken,
		&i.DepositNetwork,
		&i.SettleToken,
		&i.SettleNetwork,
		&i.DonorAddress,
		&i.CreatorAddress,
		&i.SettleAddress,
		&i.RefundAddress,
		&i.Amount,
		&i.Status,
		&i.CreatedAt,
		&i.ExpiresAt,
		&i.CancellableAt,
		&i.CancelledAt,
		&i.UpdatedAt,
	)
	return i, err
}
