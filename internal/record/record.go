package record

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates observability records.
type Type int32

const (
	TypeUnknown Type = iota
	TypeDeposit
	TypeWithdrawal
	TypeSwapWithdrawal
	TypeRegistration
	TypeCapacityUpdate
	TypePause
	TypeResume
	TypeRescue
)

func (t Type) String() string {
	switch t {
	case TypeDeposit:
		return "Deposit"
	case TypeWithdrawal:
		return "Withdrawal"
	case TypeSwapWithdrawal:
		return "SwapWithdrawal"
	case TypeRegistration:
		return "Registration"
	case TypeCapacityUpdate:
		return "CapacityUpdate"
	case TypePause:
		return "Pause"
	case TypeResume:
		return "Resume"
	case TypeRescue:
		return "Rescue"
	default:
		return "Unknown"
	}
}

// Record is the durable observability output emitted after a protocol
// commits. A record is considered durable only once the persistence worker
// has written it; the orchestrator blocks on the persist channel so no
// committed record is lost.
//
// Fields are a union across record types: native amounts are decimal
// strings (they can exceed int64), USD amounts are int64 USD-6.
type Record struct {
	RecordID uuid.UUID `json:"record_id"`
	Sequence int64     `json:"sequence"`
	Type     Type      `json:"type"`

	User         uuid.UUID `json:"user,omitempty"`
	Asset        string    `json:"asset,omitempty"`
	NativeAmount string    `json:"native_amount,omitempty"`
	USDAmount    int64     `json:"usd_amount,omitempty"`

	// Registration records
	Decimals uint8  `json:"decimals,omitempty"`
	FeedRef  string `json:"feed_ref,omitempty"`

	// Capacity-update records
	Ceiling int64 `json:"ceiling,omitempty"`

	// Swap-withdrawal records
	SwapPath  []string `json:"swap_path,omitempty"`
	AmountOut string   `json:"amount_out,omitempty"`

	Caller    string    `json:"caller,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
