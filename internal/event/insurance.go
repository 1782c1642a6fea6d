package event

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	fpmath "SpotLedger/internal/math"
)

// InsuranceOp is the share-ledger mutation an InsuranceFundUpdate requests.
type InsuranceOp uint8

const (
	InsuranceOpUnknown InsuranceOp = iota
	InsuranceOpAddUserShares
	InsuranceOpRemoveUserShares
	InsuranceOpAddProtocolShares
	InsuranceOpRemoveProtocolShares
	InsuranceOpRebase
	InsuranceOpSettleRevenue
	InsuranceOpStake
	InsuranceOpUnstake
)

var insuranceOpNames = [...]string{
	"unknown",
	"add_user_shares",
	"remove_user_shares",
	"add_protocol_shares",
	"remove_protocol_shares",
	"rebase",
	"settle_revenue",
	"stake",
	"unstake",
}

func (op InsuranceOp) String() string {
	if int(op) < len(insuranceOpNames) {
		return insuranceOpNames[op]
	}
	return fmt.Sprintf("InsuranceOp(%d)", uint8(op))
}

func (op InsuranceOp) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

func (op *InsuranceOp) UnmarshalText(text []byte) error {
	for i, name := range insuranceOpNames {
		if strings.EqualFold(name, string(text)) {
			*op = InsuranceOp(i)
			return nil
		}
	}
	return fmt.Errorf("unknown insurance op %q", text)
}

// InsuranceFundUpdate mutates a market's insurance share ledger.
// Shares is used by the add/remove ops and by unstake. Amount is the token
// amount a stake deposits. VaultBalance is the vault's token balance before
// the update, used by stake, unstake and rebase to price shares.
// SettleRevenue only records the settlement time; moving revenue is handled
// elsewhere.
type InsuranceFundUpdate struct {
	EventID      uuid.UUID   `json:"event_id"`
	Market       uint16      `json:"market_index"`
	Op           InsuranceOp `json:"op"`
	Shares       fpmath.U128 `json:"shares"`
	Amount       uint64      `json:"amount,omitempty"`
	VaultBalance uint64      `json:"vault_balance"`
	Sequence     int64       `json:"sequence"`
	Ts           int64       `json:"ts"`
}

func (e *InsuranceFundUpdate) IdempotencyKey() string {
	return e.EventID.String()
}

func (e *InsuranceFundUpdate) EventType() EventType {
	return EventTypeInsuranceFundUpdate
}

func (e *InsuranceFundUpdate) MarketIndex() uint16 {
	return e.Market
}

func (e *InsuranceFundUpdate) SourceSequence() int64 {
	return e.Sequence
}

func (e *InsuranceFundUpdate) Timestamp() int64 {
	return e.Ts
}
