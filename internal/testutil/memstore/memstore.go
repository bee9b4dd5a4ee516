// Package memstore is an in-memory implementation of repository.Querier with
// transaction scoping, for service and handler tests.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/shift-donations/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type state struct {
	identities map[string]repository.Identity
	shifts     map[[16]byte]repository.ShiftOrder
	events     []repository.InsertShiftEventParams
	gaps       []repository.ReconciliationGap
	idem       map[string]repository.IdempotencyKey
	nextGapID  int64
}

func (s *state) clone() *state {
	cp := &state{
		identities: make(map[string]repository.Identity, len(s.identities)),
		shifts:     make(map[[16]byte]repository.ShiftOrder, len(s.shifts)),
		events:     append([]repository.InsertShiftEventParams(nil), s.events...),
		gaps:       append([]repository.ReconciliationGap(nil), s.gaps...),
		idem:       make(map[string]repository.IdempotencyKey, len(s.idem)),
		nextGapID:  s.nextGapID,
	}
	for k, v := range s.identities {
		cp.identities[k] = v
	}
	for k, v := range s.shifts {
		cp.shifts[k] = v
	}
	for k, v := range s.idem {
		cp.idem[k] = v
	}
	return cp
}

// Store is safe for concurrent use. Transactions are serialised and rolled back on error.
type Store struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	st       *state
	failures map[string]error
	writes   int
	now      func() time.Time
}

var _ repository.Querier = (*Store)(nil)

func New() *Store {
	return &Store{
		st: &state{
			identities: make(map[string]repository.Identity),
			shifts:     make(map[[16]byte]repository.ShiftOrder),
			idem:       make(map[string]repository.IdempotencyKey),
		},
		failures: make(map[string]error),
		now:      time.Now,
	}
}

func (s *Store) Queries() repository.Querier {
	return s
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	writes := s.writes
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.writes = writes
		s.mu.Unlock()
		return err
	}
	return nil
}

// FailOn makes the next call to the named Querier method return err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// Writes counts successful mutating calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Events returns a copy of recorded shift events.
func (s *Store) Events() []repository.InsertShiftEventParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.InsertShiftEventParams(nil), s.st.events...)
}

// Gaps returns a copy of all reconciliation gaps.
func (s *Store) Gaps() []repository.ReconciliationGap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.ReconciliationGap(nil), s.st.gaps...)
}

// IdentityCount returns the number of stored identities.
func (s *Store) IdentityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.identities)
}

// PutShift inserts or replaces a shift row directly.
func (s *Store) PutShift(row repository.ShiftOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.shifts[row.ID.Bytes] = row
}

func (s *Store) fail(method string) error {
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

func (s *Store) ts() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: s.now().UTC().Truncate(time.Microsecond), Valid: true}
}

func (s *Store) UpsertIdentity(ctx context.Context, arg repository.UpsertIdentityParams) (repository.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertIdentity"); err != nil {
		return repository.Identity{}, err
	}

	cur, ok := s.st.identities[arg.WalletAddress]
	if !ok {
		now := s.ts()
		row := repository.Identity{
			ID:                     arg.ID,
			WalletAddress:          arg.WalletAddress,
			DisplayName:            arg.DisplayName,
			PreferredSettleToken:   arg.PreferredSettleToken,
			PreferredSettleNetwork: arg.PreferredSettleNetwork,
			IsCreator:              arg.IsCreator,
			IsDonor:                arg.IsDonor,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		s.st.identities[arg.WalletAddress] = row
		s.writes++
		return row, nil
	}

	next := cur
	next.IsCreator = cur.IsCreator || arg.IsCreator
	next.IsDonor = cur.IsDonor || arg.IsDonor
	next.DisplayName = coalesce(arg.DisplayName, cur.DisplayName)
	next.PreferredSettleToken = coalesce(arg.PreferredSettleToken, cur.PreferredSettleToken)
	next.PreferredSettleNetwork = coalesce(arg.PreferredSettleNetwork, cur.PreferredSettleNetwork)
	if next.IsCreator == cur.IsCreator &&
		next.IsDonor == cur.IsDonor &&
		strEqual(next.DisplayName, cur.DisplayName) &&
		strEqual(next.PreferredSettleToken, cur.PreferredSettleToken) &&
		strEqual(next.PreferredSettleNetwork, cur.PreferredSettleNetwork) {
		return cur, nil
	}
	next.UpdatedAt = s.ts()
	s.st.identities[arg.WalletAddress] = next
	s.writes++
	return next, nil
}

func (s *Store) GetIdentityByWallet(ctx context.Context, walletAddress string) (repository.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetIdentityByWallet"); err != nil {
		return repository.Identity{}, err
	}
	row, ok := s.st.identities[walletAddress]
	if !ok {
		return repository.Identity{}, pgx.ErrNoRows
	}
	return row, nil
}

func (s *Store) CreateShiftOrder(ctx context.Context, arg repository.CreateShiftOrderParams) (repository.ShiftOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateShiftOrder"); err != nil {
		return repository.ShiftOrder{}, err
	}
	for _, row := range s.st.shifts {
		if row.ExternalOrderID == arg.ExternalOrderID {
			return repository.ShiftOrder{}, &pgconn.PgError{Code: "23505", ConstraintName: "shift_orders_external_order_id_key"}
		}
	}
	if !s.hasIdentityID(arg.CreatorID) || !s.hasIdentityID(arg.DonorID) {
		return repository.ShiftOrder{}, &pgconn.PgError{Code: "23503", ConstraintName: "shift_orders_identity_fkey"}
	}

	row := repository.ShiftOrder{
		ID:              arg.ID,
		ExternalOrderID: arg.ExternalOrderID,
		CreatorID:       arg.CreatorID,
		DonorID:         arg.DonorID,
		DepositToken:    arg.DepositToken,
		DepositNetwork:  arg.DepositNetwork,
		SettleToken:     arg.SettleToken,
		SettleNetwork:   arg.SettleNetwork,
		DonorAddress:    arg.DonorAddress,
		CreatorAddress:  arg.CreatorAddress,
		SettleAddress:   arg.SettleAddress,
		RefundAddress:   arg.RefundAddress,
		Amount:          arg.Amount,
		Status:          arg.Status,
		CreatedAt:       arg.CreatedAt,
		ExpiresAt:       arg.ExpiresAt,
		CancellableAt:   arg.CancellableAt,
		UpdatedAt:       arg.CreatedAt,
	}
	s.st.shifts[arg.ID.Bytes] = row
	s.writes++
	return row, nil
}

func (s *Store) hasIdentityID(id pgtype.UUID) bool {
	for _, row := range s.st.identities {
		if row.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) GetShiftOrder(ctx context.Context, id pgtype.UUID) (repository.ShiftOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetShiftOrder"); err != nil {
		return repository.ShiftOrder{}, err
	}
	row, ok := s.st.shifts[id.Bytes]
	if !ok {
		return repository.ShiftOrder{}, pgx.ErrNoRows
	}
	return row, nil
}

func (s *Store) GetShiftOrderByExternalID(ctx context.Context, externalOrderID string) (repository.ShiftOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetShiftOrderByExternalID"); err != nil {
		return repository.ShiftOrder{}, err
	}
	for _, row := range s.st.shifts {
		if row.ExternalOrderID == externalOrderID {
			return row, nil
		}
	}
	return repository.ShiftOrder{}, pgx.ErrNoRows
}

func (s *Store) UpdateShiftStatus(ctx context.Context, arg repository.UpdateShiftStatusParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateShiftStatus"); err != nil {
		return 0, err
	}
	var rows int64
	for id, row := range s.st.shifts {
		if row.ExternalOrderID != arg.ExternalOrderID {
			continue
		}
		if len(arg.FromStatuses) > 0 && !contains(arg.FromStatuses, row.Status) {
			continue
		}
		row.Status = arg.Status
		if arg.CancelledAt.Valid {
			row.CancelledAt = arg.CancelledAt
		}
		row.UpdatedAt = s.ts()
		s.st.shifts[id] = row
		rows++
	}
	if rows > 0 {
		s.writes++
	}
	return rows, nil
}

func (s *Store) ListShiftOrdersByDonor(ctx context.Context, donorAddress string) ([]repository.ShiftOrder, error) {
	return s.listShifts("ListShiftOrdersByDonor", func(row repository.ShiftOrder) bool {
		return row.DonorAddress == donorAddress
	})
}

func (s *Store) ListShiftOrdersByCreator(ctx context.Context, creatorAddress string) ([]repository.ShiftOrder, error) {
	return s.listShifts("ListShiftOrdersByCreator", func(row repository.ShiftOrder) bool {
		return row.CreatorAddress == creatorAddress
	})
}

func (s *Store) listShifts(method string, match func(repository.ShiftOrder) bool) ([]repository.ShiftOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(method); err != nil {
		return nil, err
	}
	items := []repository.ShiftOrder{}
	for _, row := range s.st.shifts {
		if match(row) {
			items = append(items, row)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].CreatedAt.Time, items[j].CreatedAt.Time
		if !a.Equal(b) {
			return a.After(b)
		}
		return bytes.Compare(items[i].ID.Bytes[:], items[j].ID.Bytes[:]) > 0
	})
	return items, nil
}

func (s *Store) ListOpenShiftOrders(ctx context.Context, arg repository.ListOpenShiftOrdersParams) ([]repository.ShiftOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListOpenShiftOrders"); err != nil {
		return nil, err
	}
	items := []repository.ShiftOrder{}
	for _, row := range s.st.shifts {
		if row.Status != "waiting" && row.Status != "confirming" {
			continue
		}
		if arg.AfterID.Valid && bytes.Compare(row.ID.Bytes[:], arg.AfterID.Bytes[:]) <= 0 {
			continue
		}
		items = append(items, row)
	}
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].ID.Bytes[:], items[j].ID.Bytes[:]) < 0
	})
	if arg.Limit >= 0 && int(arg.Limit) < len(items) {
		items = items[:arg.Limit]
	}
	return items, nil
}

func (s *Store) InsertShiftEvent(ctx context.Context, arg repository.InsertShiftEventParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertShiftEvent"); err != nil {
		return 0, err
	}
	if _, ok := s.st.shifts[arg.ShiftID.Bytes]; !ok {
		return 0, &pgconn.PgError{Code: "23503", ConstraintName: "shift_events_shift_id_fkey"}
	}
	s.st.events = append(s.st.events, arg)
	s.writes++
	return int64(len(s.st.events)), nil
}

func (s *Store) InsertReconciliationGap(ctx context.Context, arg repository.InsertReconciliationGapParams) (repository.ReconciliationGap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertReconciliationGap"); err != nil {
		return repository.ReconciliationGap{}, err
	}
	s.st.nextGapID++
	row := repository.ReconciliationGap{
		ID:              s.st.nextGapID,
		Kind:            arg.Kind,
		ExternalOrderID: arg.ExternalOrderID,
		TraceID:         arg.TraceID,
		Detail:          arg.Detail,
		Payload:         arg.Payload,
		CreatedAt:       s.ts(),
	}
	s.st.gaps = append(s.st.gaps, row)
	s.writes++
	return row, nil
}

func (s *Store) ListOpenReconciliationGaps(ctx context.Context, arg repository.ListOpenReconciliationGapsParams) ([]repository.ReconciliationGap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListOpenReconciliationGaps"); err != nil {
		return nil, err
	}
	items := []repository.ReconciliationGap{}
	for _, row := range s.st.gaps {
		if row.ResolvedAt.Valid || (arg.Kind != "" && row.Kind != arg.Kind) {
			continue
		}
		items = append(items, row)
		if arg.Limit > 0 && len(items) == int(arg.Limit) {
			break
		}
	}
	return items, nil
}

func (s *Store) CountOpenReconciliationGaps(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CountOpenReconciliationGaps"); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range s.st.gaps {
		if !row.ResolvedAt.Valid {
			n++
		}
	}
	return n, nil
}

func (s *Store) ResolveReconciliationGap(ctx context.Context, arg repository.ResolveReconciliationGapParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ResolveReconciliationGap"); err != nil {
		return 0, err
	}
	for i, row := range s.st.gaps {
		if row.ID != arg.ID || row.ResolvedAt.Valid {
			continue
		}
		resolution := arg.Resolution
		row.ResolvedAt = arg.ResolvedAt
		row.Resolution = &resolution
		s.st.gaps[i] = row
		s.writes++
		return 1, nil
	}
	return 0, nil
}

func (s *Store) GetIdempotencyKey(ctx context.Context, idempotencyKey string) (repository.IdempotencyKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetIdempotencyKey"); err != nil {
		return repository.IdempotencyKey{}, err
	}
	row, ok := s.st.idem[idempotencyKey]
	if !ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	return row, nil
}

func (s *Store) ReserveIdempotencyKey(ctx context.Context, arg repository.ReserveIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReserveIdempotencyKey"); err != nil {
		return repository.IdempotencyKey{}, err
	}
	if _, ok := s.st.idem[arg.IdempotencyKey]; ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	now := s.ts()
	row := repository.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		Method:         arg.Method,
		Path:           arg.Path,
		InProgress:     true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.st.idem[arg.IdempotencyKey] = row
	s.writes++
	return row, nil
}

func (s *Store) FinalizeIdempotencyKey(ctx context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FinalizeIdempotencyKey"); err != nil {
		return repository.IdempotencyKey{}, err
	}
	row, ok := s.st.idem[arg.IdempotencyKey]
	if !ok || row.RequestHash != arg.RequestHash {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	row.ResponseStatus = arg.ResponseStatus
	row.ResponseBody = arg.ResponseBody
	row.ContentType = arg.ContentType
	row.InProgress = false
	row.UpdatedAt = s.ts()
	s.st.idem[arg.IdempotencyKey] = row
	s.writes++
	return row, nil
}

func coalesce(next, cur *string) *string {
	if next != nil {
		return next
	}
	return cur
}

func strEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
