package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const identityColumns = `id, wallet_address, display_name, preferred_settle_token, preferred_settle_network,
	is_creator, is_donor, created_at, updated_at`

const upsertIdentity = `
INSERT INTO identities (
    id, wallet_address, display_name, preferred_settle_token, preferred_settle_network,
    is_creator, is_donor, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
ON CONFLICT (wallet_address) DO UPDATE SET
    display_name = COALESCE(EXCLUDED.display_name, identities.display_name),
    preferred_settle_token = COALESCE(EXCLUDED.preferred_settle_token, identities.preferred_settle_token),
    preferred_settle_network = COALESCE(EXCLUDED.preferred_settle_network, identities.preferred_settle_network),
    is_creator = identities.is_creator OR EXCLUDED.is_creator,
    is_donor = identities.is_donor OR EXCLUDED.is_donor,
    updated_at = NOW()
WHERE (identities.is_creator OR EXCLUDED.is_creator) IS DISTINCT FROM identities.is_creator
   OR (identities.is_donor OR EXCLUDED.is_donor) IS DISTINCT FROM identities.is_donor
   OR COALESCE(EXCLUDED.display_name, identities.display_name) IS DISTINCT FROM identities.display_name
   OR COALESCE(EXCLUDED.preferred_settle_token, identities.preferred_settle_token) IS DISTINCT FROM identities.preferred_settle_token
   OR COALESCE(EXCLUDED.preferred_settle_network, identities.preferred_settle_network) IS DISTINCT FROM identities.preferred_settle_network
RETURNING ` + identityColumns

type UpsertIdentityParams struct {
	ID                     pgtype.UUID
	WalletAddress          string
	DisplayName            *string
	PreferredSettleToken   *string
	PreferredSettleNetwork *string
	IsCreator              bool
	IsDonor                bool
}

// UpsertIdentity inserts the identity or merges roles and profile fields into the existing row.
// Role flags are only ever OR-ed in and nil profile fields never overwrite stored values.
// When nothing would change the row is left untouched and the stored identity is returned.
func (q *Queries) UpsertIdentity(ctx context.Context, arg UpsertIdentityParams) (Identity, error) {
	row := q.db.QueryRow(ctx, upsertIdentity,
		arg.ID,
		arg.WalletAddress,
		arg.DisplayName,
		arg.PreferredSettleToken,
		arg.PreferredSettleNetwork,
		arg.IsCreator,
		arg.IsDonor,
	)
	i, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return q.GetIdentityByWallet(ctx, arg.WalletAddress)
	}
	return i, err
}

const getIdentityByWallet = `SELECT ` + identityColumns + ` FROM identities WHERE wallet_address = $1`

func (q *Queries) GetIdentityByWallet(ctx context.Context, walletAddress string) (Identity, error) {
	return scanIdentity(q.db.QueryRow(ctx, getIdentityByWallet, walletAddress))
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var i Identity
	err := row.Scan(
		&i.ID,
		&i.WalletAddress,
		&i.DisplayName,
		&i.PreferredSettleToken,
		&i.PreferredSettleNetwork,
		&i.IsCreator,
		&i.IsDonor,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
