package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SpotLedger/internal/core"
	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/state"
)

// OutboundStreamName holds the risk snapshots published after every
// applied event.
const OutboundStreamName = "SPOT_RISK_SNAPSHOTS"

// RiskSnapshot is the downstream view of a market after an event.
// Published to spot.risk.snapshots.{market_index}.
type RiskSnapshot struct {
	Sequence                   int64              `json:"sequence"`
	EventType                  string             `json:"event_type"`
	MarketIndex                uint16             `json:"market_index"`
	Name                       string             `json:"name"`
	Status                     state.MarketStatus `json:"status"`
	AssetTier                  state.AssetTier    `json:"asset_tier"`
	Decimals                   uint32             `json:"decimals"`
	InitialAssetWeight         uint32             `json:"initial_asset_weight"`
	MaintenanceAssetWeight     uint32             `json:"maintenance_asset_weight"`
	InitialLiabilityWeight     uint32             `json:"initial_liability_weight"`
	MaintenanceLiabilityWeight uint32             `json:"maintenance_liability_weight"`
	IMFFactor                  uint32             `json:"imf_factor"`
	CumulativeDepositInterest  fpmath.U128        `json:"cumulative_deposit_interest"`
	CumulativeBorrowInterest   fpmath.U128        `json:"cumulative_borrow_interest"`
	AvailableDeposits          *fpmath.U128       `json:"available_deposits,omitempty"`
	InsuranceTotalShares       fpmath.U128        `json:"insurance_total_shares"`
	InsuranceUserShares        fpmath.U128        `json:"insurance_user_shares"`
	StateHash                  string             `json:"state_hash"`
	Timestamp                  time.Time          `json:"timestamp"`
}

// NewRiskSnapshot builds the outbound view of output.
func NewRiskSnapshot(output core.CoreOutput) RiskSnapshot {
	m := output.Market
	env := output.Envelope
	snap := RiskSnapshot{
		Sequence:                   env.Sequence,
		EventType:                  env.EventType.String(),
		MarketIndex:                m.MarketIndex,
		Name:                       m.Name.String(),
		Status:                     m.Status,
		AssetTier:                  m.AssetTier,
		Decimals:                   m.Decimals,
		InitialAssetWeight:         m.InitialAssetWeight,
		MaintenanceAssetWeight:     m.MaintenanceAssetWeight,
		InitialLiabilityWeight:     m.InitialLiabilityWeight,
		MaintenanceLiabilityWeight: m.MaintenanceLiabilityWeight,
		IMFFactor:                  m.IMFFactor,
		CumulativeDepositInterest:  m.CumulativeDepositInterest,
		CumulativeBorrowInterest:   m.CumulativeBorrowInterest,
		InsuranceTotalShares:       m.InsuranceFund.TotalShares,
		InsuranceUserShares:        m.InsuranceFund.UserShares,
		StateHash:                  hex.EncodeToString(env.StateHash[:]),
		Timestamp:                  env.Timestamp,
	}
	// Omitted when borrows exceed deposits.
	if avail, err := m.AvailableDeposits(); err == nil {
		snap.AvailableDeposits = &avail
	}
	return snap
}

// SnapshotSubject is the outbound subject for a market.
func SnapshotSubject(marketIndex uint16) string {
	return fmt.Sprintf("spot.risk.snapshots.%d", marketIndex)
}

// OutboundPublisher publishes risk snapshots for downstream consumers.
// Publishing is best effort; consumers can rebuild from the event log.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, output); err != nil {
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
				op.logger.Warn().Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, output core.CoreOutput) error {
	data, err := json.Marshal(NewRiskSnapshot(output))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = op.js.Publish(ctx, SnapshotSubject(output.Market.MarketIndex), data,
		jetstream.WithMsgID(MessageID(output.Envelope.Sequence)))
	return err
}

// MessageID is the JetStream dedup id for the snapshot at sequence. It is
// derived from the sequence so a republish after restart is dropped by the
// stream.
func MessageID(sequence int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("spotledger:snapshot:%d", sequence))).String()
}

// EnsureOutboundStream creates the outbound snapshot stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      OutboundStreamName,
		Subjects:  []string{"spot.risk.snapshots.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", OutboundStreamName).Msg("ensured outbound stream")
	return nil
}
