package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ShiftOrder is one donation shift as mirrored locally.
type ShiftOrder struct {
	ID              uuid.UUID       `json:"id"`
	ExternalOrderID string          `json:"externalOrderId"`
	CreatorID       uuid.UUID       `json:"creatorId"`
	DonorID         uuid.UUID       `json:"donorId"`
	DepositToken    string          `json:"depositToken"`
	DepositNetwork  string          `json:"depositNetwork"`
	SettleToken     string          `json:"settleToken"`
	SettleNetwork   string          `json:"settleNetwork"`
	DonorAddress    string          `json:"donorAddress"`
	CreatorAddress  string          `json:"creatorAddress"`
	SettleAddress   string          `json:"settleAddress"` // provider-generated deposit address
	RefundAddress   string          `json:"refundAddress,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	ExpiresAt       *time.Time      `json:"expiresAt,omitempty"`
	CancellableAt   time.Time       `json:"cancellableAt"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Identity is a donor and/or creator keyed by wallet address.
type Identity struct {
	ID                     uuid.UUID `json:"id"`
	WalletAddress          string    `json:"wallet"`
	DisplayName            *string   `json:"name,omitempty"`
	PreferredSettleToken   *string   `json:"preferredToken,omitempty"`
	PreferredSettleNetwork *string   `json:"preferredChain,omitempty"`
	IsCreator              bool      `json:"isCreator"`
	IsDonor                bool      `json:"isDonor"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// Profile is an identity together with the shifts it sent and received.
type Profile struct {
	Identity
	ShiftsSent     []ShiftOrder `json:"shiftsSent"`
	ShiftsReceived []ShiftOrder `json:"shiftsReceived"`
}

// ReconciliationGap records drift between the provider and the local store.
type ReconciliationGap struct {
	ID              int64           `json:"id"`
	Kind            string          `json:"kind"`
	ExternalOrderID string          `json:"externalOrderId"`
	TraceID         string          `json:"traceId"`
	Detail          string          `json:"detail"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
	Resolution      *string         `json:"resolution,omitempty"`
}
