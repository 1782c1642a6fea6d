package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SpotLedger/internal/core"
	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/state"
)

const watermarkWorkerID = "market_history"

// HistoryRow is one market's interest, pool and insurance fields right
// after the event at Sequence.
type HistoryRow struct {
	Sequence                  int64              `json:"sequence"`
	MarketIndex               uint16             `json:"market_index"`
	EventType                 string             `json:"event_type"`
	Status                    state.MarketStatus `json:"status"`
	CumulativeDepositInterest fpmath.U128        `json:"cumulative_deposit_interest"`
	CumulativeBorrowInterest  fpmath.U128        `json:"cumulative_borrow_interest"`
	DepositBalance            fpmath.U128        `json:"deposit_balance"`
	BorrowBalance             fpmath.U128        `json:"borrow_balance"`
	InsuranceTotalShares      fpmath.U128        `json:"insurance_total_shares"`
	InsuranceUserShares       fpmath.U128        `json:"insurance_user_shares"`
	Timestamp                 time.Time          `json:"timestamp"`
}

// NewHistoryRow extracts the history fields from an engine output.
func NewHistoryRow(output core.CoreOutput) HistoryRow {
	env, m := output.Envelope, output.Market
	return HistoryRow{
		Sequence:                  env.Sequence,
		MarketIndex:               m.MarketIndex,
		EventType:                 env.EventType.String(),
		Status:                    m.Status,
		CumulativeDepositInterest: m.CumulativeDepositInterest,
		CumulativeBorrowInterest:  m.CumulativeBorrowInterest,
		DepositBalance:            m.DepositBalance,
		BorrowBalance:             m.BorrowBalance,
		InsuranceTotalShares:      m.InsuranceFund.TotalShares,
		InsuranceUserShares:       m.InsuranceFund.UserShares,
		Timestamp:                 env.Timestamp,
	}
}

// HistoryStore reads and writes spot.market_history.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Apply records one row and advances the watermark. Rows already present
// are left alone, so replaying the log over an existing projection is safe.
func (s *HistoryStore) Apply(ctx context.Context, row HistoryRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	status, err := row.Status.MarshalText()
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO spot.market_history
			(sequence, market_index, event_type, status,
			 cumulative_deposit_interest, cumulative_borrow_interest,
			 deposit_balance, borrow_balance,
			 insurance_total_shares, insurance_user_shares, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (sequence) DO NOTHING
	`,
		row.Sequence, int(row.MarketIndex), row.EventType, string(status),
		row.CumulativeDepositInterest.String(), row.CumulativeBorrowInterest.String(),
		row.DepositBalance.String(), row.BorrowBalance.String(),
		row.InsuranceTotalShares.String(), row.InsuranceUserShares.String(), row.Timestamp,
	); err != nil {
		return fmt.Errorf("insert history %d: %w", row.Sequence, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO spot.projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = GREATEST(spot.projection_watermark.last_sequence, EXCLUDED.last_sequence),
			    updated_at = NOW()
	`, watermarkWorkerID, row.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// Watermark returns the highest sequence applied, or -1 when nothing has been.
func (s *HistoryStore) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM spot.projection_watermark WHERE worker_id = $1
	`, watermarkWorkerID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// LoadHistory returns up to limit rows for a market, newest first.
func (s *HistoryStore) LoadHistory(ctx context.Context, marketIndex uint16, limit int) ([]HistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, market_index, event_type, status,
		       cumulative_deposit_interest::TEXT, cumulative_borrow_interest::TEXT,
		       deposit_balance::TEXT, borrow_balance::TEXT,
		       insurance_total_shares::TEXT, insurance_user_shares::TEXT, timestamp
		FROM spot.market_history
		WHERE market_index = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, int(marketIndex), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var (
			r                            HistoryRow
			index                        int
			status                       string
			cdi, cbi, dep, bor, tot, usr string
		)
		if err := rows.Scan(&r.Sequence, &index, &r.EventType, &status, &cdi, &cbi, &dep, &bor, &tot, &usr, &r.Timestamp); err != nil {
			return nil, err
		}
		r.MarketIndex = uint16(index)
		if err := r.Status.UnmarshalText([]byte(status)); err != nil {
			return nil, fmt.Errorf("history %d: %w", r.Sequence, err)
		}
		for _, f := range []struct {
			dst *fpmath.U128
			src string
		}{
			{&r.CumulativeDepositInterest, cdi},
			{&r.CumulativeBorrowInterest, cbi},
			{&r.DepositBalance, dep},
			{&r.BorrowBalance, bor},
			{&r.InsuranceTotalShares, tot},
			{&r.InsuranceUserShares, usr},
		} {
			v, err := fpmath.ParseU128(f.src)
			if err != nil {
				return nil, fmt.Errorf("history %d: %w", r.Sequence, err)
			}
			*f.dst = v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
