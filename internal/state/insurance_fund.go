package state

import (
	"encoding/binary"
	"fmt"

	fpmath "SpotLedger/internal/math"
)

// InsuranceFund is the share ledger of a market's insurance vault. Shares
// are split between stakers (UserShares) and the protocol (the remainder).
// UserShares never exceeds TotalShares.
type InsuranceFund struct {
	Vault       Pubkey      `json:"vault"`
	TotalShares fpmath.U128 `json:"total_shares"`
	UserShares  fpmath.U128 `json:"user_shares"`
	// SharesBase is the rebase exponent: one share today equals
	// 10^SharesBase shares at listing.
	SharesBase          fpmath.U128 `json:"shares_base"`
	UnstakingPeriod     int64       `json:"unstaking_period"`
	LastRevenueSettleTs int64       `json:"last_revenue_settle_ts"`
	RevenueSettlePeriod int64       `json:"revenue_settle_period"`
	TotalFactor         uint32      `json:"total_factor"` // share of interest routed to insurance
	UserFactor          uint32      `json:"user_factor"`  // share of interest routed to stakers
}

// Validate checks the share invariant.
func (f *InsuranceFund) Validate() error {
	if f.UserShares.Gt(f.TotalShares) {
		return fmt.Errorf("user_shares %s > total_shares %s: %w",
			f.UserShares, f.TotalShares, fpmath.ErrMathError)
	}
	return nil
}

// ProtocolShares is the part of the fund not owned by stakers.
func (f *InsuranceFund) ProtocolShares() (fpmath.U128, error) {
	return f.TotalShares.SafeSub(f.UserShares)
}

// AddUserShares mints shares to stakers.
func (f *InsuranceFund) AddUserShares(n fpmath.U128) error {
	total, err := f.TotalShares.SafeAdd(n)
	if err != nil {
		return err
	}
	user, err := f.UserShares.SafeAdd(n)
	if err != nil {
		return err
	}
	f.TotalShares, f.UserShares = total, user
	return nil
}

// RemoveUserShares burns staker shares.
func (f *InsuranceFund) RemoveUserShares(n fpmath.U128) error {
	user, err := f.UserShares.SafeSub(n)
	if err != nil {
		return err
	}
	total, err := f.TotalShares.SafeSub(n)
	if err != nil {
		return err
	}
	f.TotalShares, f.UserShares = total, user
	return nil
}

// AddProtocolShares mints shares owned by the protocol.
func (f *InsuranceFund) AddProtocolShares(n fpmath.U128) error {
	total, err := f.TotalShares.SafeAdd(n)
	if err != nil {
		return err
	}
	f.TotalShares = total
	return nil
}

// RemoveProtocolShares burns protocol shares. Staker shares are untouched,
// so n may not exceed ProtocolShares.
func (f *InsuranceFund) RemoveProtocolShares(n fpmath.U128) error {
	protocol, err := f.ProtocolShares()
	if err != nil {
		return err
	}
	if n.Gt(protocol) {
		return fmt.Errorf("remove %s protocol shares, have %s: %w", n, protocol, fpmath.ErrMathError)
	}
	total, err := f.TotalShares.SafeSub(n)
	if err != nil {
		return err
	}
	f.TotalShares = total
	return nil
}

// Rebase divides all shares down when they have outgrown the vault balance
// by more than an order of magnitude, bumping SharesBase by the exponent
// removed. Returns the exponent applied; 0 means nothing changed.
func (f *InsuranceFund) Rebase(vaultBalance uint64) (uint32, error) {
	if vaultBalance == 0 || f.TotalShares.IsZero() {
		return 0, nil
	}
	expo, divisor, err := fpmath.CalculateRebaseInfo(f.TotalShares, vaultBalance)
	if err != nil {
		return 0, err
	}
	if expo == 0 {
		return 0, nil
	}
	total, err := f.TotalShares.SafeDiv(divisor)
	if err != nil {
		return 0, err
	}
	user, err := f.UserShares.SafeDiv(divisor)
	if err != nil {
		return 0, err
	}
	base, err := f.SharesBase.SafeAddUint64(uint64(expo))
	if err != nil {
		return 0, err
	}
	f.TotalShares, f.UserShares, f.SharesBase = total, user, base
	return expo, nil
}

// NextRevenueSettleTs is when the next revenue settlement becomes due.
func (f *InsuranceFund) NextRevenueSettleTs() int64 {
	return f.LastRevenueSettleTs + f.RevenueSettlePeriod
}

// RevenueSettleDue reports whether a settlement period has elapsed. A zero
// period disables settlement.
func (f *InsuranceFund) RevenueSettleDue(now int64) bool {
	return f.RevenueSettlePeriod > 0 && now >= f.NextRevenueSettleTs()
}

func (f *InsuranceFund) appendCanonical(buf []byte) []byte {
	buf = append(buf, f.Vault[:]...)
	buf = appendU128LE(buf, f.TotalShares)
	buf = appendU128LE(buf, f.UserShares)
	buf = appendU128LE(buf, f.SharesBase)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.UnstakingPeriod))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.LastRevenueSettleTs))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.RevenueSettlePeriod))
	buf = binary.LittleEndian.AppendUint32(buf, f.TotalFactor)
	return binary.LittleEndian.AppendUint32(buf, f.UserFactor)
}
