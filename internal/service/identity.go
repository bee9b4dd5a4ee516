package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/shift-donations/internal/models"
	"github.com/ayo6706/shift-donations/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// IdentityService keeps exactly one identity per wallet and merges donor/creator roles.
type IdentityService struct {
	store QueryStore
}

func NewIdentityService(store QueryStore) *IdentityService {
	return &IdentityService{store: store}
}

// CreatorProfile is the payout preference a creator registers.
type CreatorProfile struct {
	Wallet        string
	DisplayName   string
	SettleToken   string
	SettleNetwork string
}

// Validate ensures every profile field is present.
func (p CreatorProfile) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Wallet) == "" {
		missing = append(missing, "wallet")
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(p.SettleToken) == "" {
		missing = append(missing, "token")
	}
	if strings.TrimSpace(p.SettleNetwork) == "" {
		missing = append(missing, "chain")
	}
	if len(missing) > 0 {
		return &MissingFieldError{Fields: missing}
	}
	return nil
}

// EnsureDonor creates the identity if needed and sets the donor role. The creator role is preserved.
func (s *IdentityService) EnsureDonor(ctx context.Context, wallet string) (*models.Identity, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, &MissingFieldError{Fields: []string{"wallet"}}
	}
	row, err := ensureDonor(ctx, s.store.Queries(), wallet)
	if err != nil {
		return nil, err
	}
	identity := toIdentityModel(row)
	return &identity, nil
}

// EnsureCreator creates or updates a creator profile. created reports whether a new identity was inserted.
func (s *IdentityService) EnsureCreator(ctx context.Context, profile CreatorProfile) (*models.Identity, bool, error) {
	if err := profile.Validate(); err != nil {
		return nil, false, err
	}
	id := uuid.New()
	name := strings.TrimSpace(profile.DisplayName)
	token := strings.TrimSpace(profile.SettleToken)
	network := strings.TrimSpace(profile.SettleNetwork)

	row, err := s.store.Queries().UpsertIdentity(ctx, repository.UpsertIdentityParams{
		ID:                     repository.ToPgUUID(id),
		WalletAddress:          strings.TrimSpace(profile.Wallet),
		DisplayName:            &name,
		PreferredSettleToken:   &token,
		PreferredSettleNetwork: &network,
		IsCreator:              true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert creator: %w", err)
	}
	created := repository.FromPgUUID(row.ID) == id
	zap.L().Info("creator profile saved",
		zap.String("wallet", row.WalletAddress),
		zap.Bool("created", created),
	)
	identity := toIdentityModel(row)
	return &identity, created, nil
}

// GetProfile returns the identity with the shifts it sent and received, newest first.
func (s *IdentityService) GetProfile(ctx context.Context, wallet string) (*models.Profile, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, &MissingFieldError{Fields: []string{"wallet"}}
	}
	queries := s.store.Queries()
	row, err := queries.GetIdentityByWallet(ctx, wallet)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	sent, err := queries.ListShiftOrdersByDonor(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("list shifts sent: %w", err)
	}
	received, err := queries.ListShiftOrdersByCreator(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("list shifts received: %w", err)
	}
	return &models.Profile{
		Identity:       toIdentityModel(row),
		ShiftsSent:     toShiftModels(sent),
		ShiftsReceived: toShiftModels(received),
	}, nil
}

func ensureDonor(ctx context.Context, q repository.Querier, wallet string) (repository.Identity, error) {
	row, err := q.UpsertIdentity(ctx, repository.UpsertIdentityParams{
		ID:            repository.ToPgUUID(uuid.New()),
		WalletAddress: wallet,
		IsDonor:       true,
	})
	if err != nil {
		return repository.Identity{}, fmt.Errorf("upsert donor: %w", err)
	}
	return row, nil
}

// ensureCreatorRole marks wallet as a creator without touching its profile fields.
func ensureCreatorRole(ctx context.Context, q repository.Querier, wallet string) (repository.Identity, error) {
	row, err := q.UpsertIdentity(ctx, repository.UpsertIdentityParams{
		ID:            repository.ToPgUUID(uuid.New()),
		WalletAddress: wallet,
		IsCreator:     true,
	})
	if err != nil {
		return repository.Identity{}, fmt.Errorf("upsert creator: %w", err)
	}
	return row, nil
}
