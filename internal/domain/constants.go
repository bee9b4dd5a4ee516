package domain

import "time"

// Shift statuses as mirrored locally. The provider is the source of truth.
const (
	ShiftStatusWaiting    = "waiting"
	ShiftStatusConfirming = "confirming"
	ShiftStatusSettled    = "settled"
	ShiftStatusRefunded   = "refunded"
	ShiftStatusCancelled  = "cancelled"
)

// CancelGracePeriod is the fixed window after creation during which a shift cannot be cancelled.
const CancelGracePeriod = 5 * time.Minute

// Audit actions written to shift_events.
const (
	ShiftEventCreated       = "created"
	ShiftEventStatusChanged = "status_changed"
	ShiftEventCancelled     = "cancelled"
	ShiftEventGapRepaired   = "gap_repaired"
)

// Reconciliation gap kinds.
const (
	GapKindCreate = "create"
	GapKindCancel = "cancel"
)

// NativeTokenAddress identifies a chain's native asset in price feed ids.
const NativeTokenAddress = "0x0000000000000000000000000000000000000000"
