// internal/state/balance.go
package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	fpmath "SpotLedger/internal/math"
)

// ErrCantUpdatePoolBalanceType is returned when something tries to flip a
// pool balance to the borrow side.
var ErrCantUpdatePoolBalanceType = errors.New("cannot update pool balance type")

// SpotBalance is anything holding a scaled balance in one spot market.
type SpotBalance interface {
	MarketIndex() uint16
	BalanceType() SpotBalanceType
	Balance() fpmath.U128
	IncreaseBalance(delta fpmath.U128) error
	DecreaseBalance(delta fpmath.U128) error
	UpdateBalanceType(t SpotBalanceType) error
}

// SpotPosition is a user's balance in one spot market plus its open order
// exposure.
type SpotPosition struct {
	ScaledBalance      uint64          `json:"scaled_balance"`
	OpenBids           int64           `json:"open_bids"`
	OpenAsks           int64           `json:"open_asks"`
	CumulativeDeposits int64           `json:"cumulative_deposits"`
	Market             uint16          `json:"market_index"`
	Type               SpotBalanceType `json:"balance_type"`
	OpenOrders         uint8           `json:"open_orders"`
}

func (p *SpotPosition) MarketIndex() uint16          { return p.Market }
func (p *SpotPosition) BalanceType() SpotBalanceType { return p.Type }
func (p *SpotPosition) Balance() fpmath.U128         { return fpmath.NewU128(p.ScaledBalance) }

func (p *SpotPosition) IncreaseBalance(delta fpmath.U128) error {
	d, err := delta.CastU64()
	if err != nil {
		return err
	}
	next, err := fpmath.SafeAddU(p.ScaledBalance, d)
	if err != nil {
		return err
	}
	p.ScaledBalance = next
	return nil
}

func (p *SpotPosition) DecreaseBalance(delta fpmath.U128) error {
	d, err := delta.CastU64()
	if err != nil {
		return err
	}
	next, err := fpmath.SafeSubU(p.ScaledBalance, d)
	if err != nil {
		return err
	}
	p.ScaledBalance = next
	return nil
}

func (p *SpotPosition) UpdateBalanceType(t SpotBalanceType) error {
	p.Type = t
	return nil
}

// IsAvailable reports whether the slot holds nothing and can be reused.
func (p *SpotPosition) IsAvailable() bool {
	return p.ScaledBalance == 0 && p.OpenOrders == 0
}

// PoolBalance is a protocol-owned balance such as a revenue or fee pool.
// It is always on the deposit side.
type PoolBalance struct {
	ScaledBalance fpmath.U128 `json:"scaled_balance"`
	Market        uint16      `json:"market_index"`
}

func (b *PoolBalance) MarketIndex() uint16          { return b.Market }
func (b *PoolBalance) BalanceType() SpotBalanceType { return SpotBalanceTypeDeposit }
func (b *PoolBalance) Balance() fpmath.U128         { return b.ScaledBalance }

func (b *PoolBalance) IncreaseBalance(delta fpmath.U128) error {
	next, err := b.ScaledBalance.SafeAdd(delta)
	if err != nil {
		return err
	}
	b.ScaledBalance = next
	return nil
}

func (b *PoolBalance) DecreaseBalance(delta fpmath.U128) error {
	next, err := b.ScaledBalance.SafeSub(delta)
	if err != nil {
		return err
	}
	b.ScaledBalance = next
	return nil
}

func (b *PoolBalance) UpdateBalanceType(t SpotBalanceType) error {
	if t != SpotBalanceTypeDeposit {
		return fmt.Errorf("pool in market %d: %w", b.Market, ErrCantUpdatePoolBalanceType)
	}
	return nil
}

func (b *PoolBalance) appendCanonical(buf []byte) []byte {
	buf = appendU128LE(buf, b.ScaledBalance)
	return binary.LittleEndian.AppendUint16(buf, b.Market)
}

// UpdateSpotBalances moves tokenAmount in direction through balance,
// netting against an opposite-side balance first and flipping the side when
// the amount crosses zero. The market's pooled deposit and borrow balances
// move in step. Rounding always favours the protocol: a new borrow is
// recorded one unit high, a repayment clears the truncated balance and a
// withdrawal debits the deposit rounded up.
//
// Both market and balance are mutated in place and may be left partially
// updated on error; callers apply it to a copy.
func UpdateSpotBalances(tokenAmount fpmath.U128, direction SpotBalanceType, market *SpotMarket, balance SpotBalance) error {
	if balance.MarketIndex() != market.MarketIndex {
		return fmt.Errorf("balance for market %d applied to market %d: %w",
			balance.MarketIndex(), market.MarketIndex, ErrInvalidParams)
	}

	remaining := tokenAmount

	if balance.BalanceType() != direction {
		current, err := market.TokenAmount(balance.Balance(), balance.BalanceType())
		if err != nil {
			return err
		}
		if !current.IsZero() {
			var tokenDelta, balanceDelta fpmath.U128
			if current.Gt(remaining) {
				tokenDelta = remaining
				balanceDelta, err = decreaseDelta(market, remaining, balance)
				if err != nil {
					return err
				}
			} else {
				tokenDelta = current
				balanceDelta = balance.Balance()
			}
			if err := decreaseMarketBalance(market, balanceDelta, balance.BalanceType()); err != nil {
				return err
			}
			if err := balance.DecreaseBalance(balanceDelta); err != nil {
				return err
			}
			if remaining, err = remaining.SafeSub(tokenDelta); err != nil {
				return err
			}
		}
		if remaining.IsZero() {
			return nil
		}
		if err := balance.UpdateBalanceType(direction); err != nil {
			return err
		}
	}

	delta, err := increaseDelta(market, remaining, direction)
	if err != nil {
		return err
	}
	if err := balance.IncreaseBalance(delta); err != nil {
		return err
	}
	return increaseMarketBalance(market, delta, direction)
}

// decreaseDelta is the scaled balance to remove from balance for
// tokenAmount. Borrows truncate; deposits round up, capped at the balance.
func decreaseDelta(market *SpotMarket, tokenAmount fpmath.U128, balance SpotBalance) (fpmath.U128, error) {
	side := balance.BalanceType()
	if side == SpotBalanceTypeBorrow {
		return market.SpotBalance(tokenAmount, side)
	}
	b, err := fpmath.GetSpotBalanceRoundUp(tokenAmount, market.CumulativeInterest(side), market.Decimals)
	if err != nil {
		return fpmath.U128{}, err
	}
	return fpmath.Min(b, balance.Balance()), nil
}

// increaseDelta is the scaled balance to add for tokenAmount. New borrows
// are recorded one unit high, so a borrow smaller than one scaled unit
// still records a debt.
func increaseDelta(market *SpotMarket, tokenAmount fpmath.U128, side SpotBalanceType) (fpmath.U128, error) {
	b, err := market.SpotBalance(tokenAmount, side)
	if err != nil {
		return fpmath.U128{}, err
	}
	if side == SpotBalanceTypeBorrow && !tokenAmount.IsZero() {
		return b.SafeAddUint64(1)
	}
	return b, nil
}

func increaseMarketBalance(market *SpotMarket, delta fpmath.U128, side SpotBalanceType) error {
	pool := &market.DepositBalance
	if side == SpotBalanceTypeBorrow {
		pool = &market.BorrowBalance
	}
	next, err := pool.SafeAdd(delta)
	if err != nil {
		return err
	}
	*pool = next
	return nil
}

func decreaseMarketBalance(market *SpotMarket, delta fpmath.U128, side SpotBalanceType) error {
	pool := &market.DepositBalance
	if side == SpotBalanceTypeBorrow {
		pool = &market.BorrowBalance
	}
	next, err := pool.SafeSub(delta)
	if err != nil {
		return err
	}
	*pool = next
	return nil
}
