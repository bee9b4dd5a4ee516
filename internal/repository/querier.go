package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	UpsertIdentity(ctx context.Context, arg UpsertIdentityParams) (Identity, error)
	GetIdentityByWallet(ctx context.Context, walletAddress string) (Identity, error)

	CreateShiftOrder(ctx context.Context, arg CreateShiftOrderParams) (ShiftOrder, error)
	GetShiftOrder(ctx context.Context, id pgtype.UUID) (ShiftOrder, error)
	GetShiftOrderByExternalID(ctx context.Context, externalOrderID string) (ShiftOrder, error)
	UpdateShiftStatus(ctx context.Context, arg UpdateShiftStatusParams) (int64, error)
	ListShiftOrdersByDonor(ctx context.Context, donorAddress string) ([]ShiftOrder, error)
	ListShiftOrdersByCreator(ctx context.Context, creatorAddress string) ([]ShiftOrder, error)
	ListOpenShiftOrders(ctx context.Context, arg ListOpenShiftOrdersParams) ([]ShiftOrder, error)
	InsertShiftEvent(ctx context.Context, arg InsertShiftEventParams) (int64, error)

	InsertReconciliationGap(ctx context.Context, arg InsertReconciliationGapParams) (ReconciliationGap, error)
	ListOpenReconciliationGaps(ctx context.Context, arg ListOpenReconciliationGapsParams) ([]ReconciliationGap, error)
	CountOpenReconciliationGaps(ctx context.Context) (int64, error)
	ResolveReconciliationGap(ctx context.Context, arg ResolveReconciliationGapParams) (int64, error)

	GetIdempotencyKey(ctx context.Context, idempotencyKey string) (IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKey, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error)
}

var _ Querier = (*Queries)(nil)
