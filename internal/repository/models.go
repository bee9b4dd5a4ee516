package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type Identity struct {
	ID                     pgtype.UUID
	WalletAddress          string
	DisplayName            *string
	PreferredSettleToken   *string
	PreferredSettleNetwork *string
	IsCreator              bool
	IsDonor                bool
	CreatedAt              pgtype.Timestamptz
	UpdatedAt              pgtype.Timestamptz
}

type ShiftOrder struct {
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
	CancelledAt     pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

type ReconciliationGap struct {
	ID              int64
	Kind            string
	ExternalOrderID string
	TraceID         string
	Detail          string
	Payload         []byte
	CreatedAt       pgtype.Timestamptz
	ResolvedAt      pgtype.Timestamptz
	Resolution      *string
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}
