package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"SpotLedger/internal/event"
	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/state"
)

// ErrDelistedTerminal is returned for any event targeting a delisted market.
var ErrDelistedTerminal = errors.New("delisted market accepts no further updates")

// ErrIndexDecreased is returned when an interest update would move a
// cumulative index or the interest timestamp backwards.
var ErrIndexDecreased = errors.New("cumulative interest must not decrease")

var ErrUnknownEvent = errors.New("unknown event type")

// MarketEngine is the single writer of spot market state. Events are applied
// to a copy of the target market, checked, hashed into the state chain and
// only then committed to the registry. A read lock lets the query side see
// committed state concurrently.
type MarketEngine struct {
	mu          sync.RWMutex
	sequence    int64 // next sequence to assign
	hasher      *StateHasher
	registry    *state.MarketRegistry
	idempotency *IdempotencyChecker
	seqGuard    *SequenceGuard
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

// CoreOutput is emitted once per applied event.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	// Market is the post-event record. Receivers own it.
	Market *state.SpotMarket
}

// Options configures a MarketEngine. Metrics and DBChecker are optional.
type Options struct {
	StartSequence int64
	LRUCapacity   int
	DBChecker     DBIdempotencyChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewMarketEngine creates an engine emitting to persistChan (blocking) and
// publishChan (dropped when full). Either channel may be nil.
func NewMarketEngine(persistChan, publishChan chan<- CoreOutput, opts Options) *MarketEngine {
	capacity := opts.LRUCapacity
	if capacity <= 0 {
		capacity = 100_000
	}
	return &MarketEngine{
		sequence:    opts.StartSequence,
		hasher:      NewStateHasher(),
		registry:    state.NewMarketRegistry(),
		idempotency: NewIdempotencyChecker(capacity, opts.DBChecker, opts.Metrics, opts.Logger),
		seqGuard:    NewSequenceGuard(),
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// ProcessEvent runs the apply pipeline for one event. Duplicates are
// skipped without error. A rejected event leaves all state untouched.
func (c *MarketEngine) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	key := evt.IdempotencyKey()
	index := evt.MarketIndex()

	c.mu.Lock()

	// Step 1: idempotency (two-tier)
	if c.idempotency.IsDuplicate(eventType, key) {
		c.mu.Unlock()
		c.recordRejected(eventType, "duplicate")
		c.logger.Debug().Str("event_type", eventType).Str("idempotency_key", key).Msg("duplicate event skipped")
		return nil
	}

	// Step 2: per-market ordering
	if err := c.seqGuard.Check(index, evt.SourceSequence()); err != nil {
		c.mu.Unlock()
		c.recordRejected(eventType, "stale")
		return err
	}

	// Step 3: apply to a copy
	prev, exists := c.registry.Get(index)
	next, err := c.dispatch(evt, prev, exists)
	if err == nil {
		// Step 4: invariant post-check
		err = c.postCheck(prev, next)
	}
	if err != nil {
		c.mu.Unlock()
		c.recordRejected(eventType, rejectReason(err))
		if errors.Is(err, fpmath.ErrMathError) && c.metrics != nil {
			c.metrics.MathErrors.WithLabelValues(eventType).Inc()
		}
		c.logger.Warn().Err(err).
			Str("event_type", eventType).
			Uint16("market_index", index).
			Msg("event rejected")
		return fmt.Errorf("%s market %d: %w", eventType, index, err)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		c.mu.Unlock()
		c.recordRejected(eventType, "encode")
		return fmt.Errorf("encode %s: %w", eventType, err)
	}

	// Step 5: commit
	if exists {
		err = c.registry.Replace(next)
	} else {
		err = c.registry.Insert(next)
	}
	if err != nil {
		c.mu.Unlock()
		c.recordRejected(eventType, rejectReason(err))
		return fmt.Errorf("%s market %d: %w", eventType, index, err)
	}

	// Step 6: state hash
	hashStart := time.Now()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, next.CanonicalBytes())
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: key,
		EventType:      evt.EventType(),
		MarketIndex:    index,
		Timestamp:      time.Unix(evt.Timestamp(), 0).UTC(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	if c.seqGuard.Advance(index, evt.SourceSequence()) {
		c.logger.Info().Uint16("market_index", index).Int64("source_sequence", evt.SourceSequence()).Msg("source sequence gap")
	}
	c.idempotency.MarkProcessed(eventType, key)
	c.sequence++
	seq := c.sequence
	output := CoreOutput{Envelope: envelope, Market: next.Clone()}

	c.mu.Unlock()

	// Step 7: emit
	c.emit(output)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(seq))
		c.recordMarketGauges(output.Market)
	}

	c.logger.Debug().
		Str("event_type", eventType).
		Uint16("market_index", index).
		Int64("sequence", envelope.Sequence).
		Msg("event applied")

	return nil
}

// emit sends to persistence (blocking, backpressure) then to the publisher
// (non-blocking, dropped on full; consumers rebuild from the event log).
func (c *MarketEngine) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	if c.publishChan != nil {
		select {
		case c.publishChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (c *MarketEngine) dispatch(evt event.Event, prev *state.SpotMarket, exists bool) (*state.SpotMarket, error) {
	if listed, ok := evt.(*event.SpotMarketListed); ok {
		if exists {
			return nil, state.ErrMarketExists
		}
		return c.handleListed(listed)
	}

	if !exists {
		return nil, state.ErrMarketNotFound
	}
	if prev.Status == state.MarketStatusDelisted {
		return nil, ErrDelistedTerminal
	}
	next := prev.Clone()

	var err error
	switch e := evt.(type) {
	case *event.SpotRiskParamUpdate:
		err = c.handleRiskParamUpdate(next, e)
	case *event.SpotMarketStatusUpdate:
		err = c.handleStatusUpdate(next, e)
	case *event.SpotInterestUpdate:
		err = c.handleInterestUpdate(next, e)
	case *event.InsuranceFundUpdate:
		err = c.handleInsuranceFundUpdate(next, e)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownEvent, evt)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (c *MarketEngine) handleListed(e *event.SpotMarketListed) (*state.SpotMarket, error) {
	next := e.Market
	if next.Status == state.MarketStatusDelisted {
		return nil, fmt.Errorf("%w: cannot list a delisted market", state.ErrInvalidParams)
	}
	next.RevenuePool.Market = next.MarketIndex
	return &next, nil
}

func (c *MarketEngine) handleRiskParamUpdate(m *state.SpotMarket, e *event.SpotRiskParamUpdate) error {
	m.InitialAssetWeight = e.InitialAssetWeight
	m.MaintenanceAssetWeight = e.MaintenanceAssetWeight
	m.InitialLiabilityWeight = e.InitialLiabilityWeight
	m.MaintenanceLiabilityWeight = e.MaintenanceLiabilityWeight
	m.IMFFactor = e.IMFFactor
	m.LiquidatorFee = e.LiquidatorFee
	m.IFLiquidationFee = e.IFLiquidationFee
	m.AssetTier = e.AssetTier
	return nil
}

func (c *MarketEngine) handleStatusUpdate(m *state.SpotMarket, e *event.SpotMarketStatusUpdate) error {
	m.Status = e.Status
	if e.ExpiryTs != nil {
		if *e.ExpiryTs < 0 {
			return fmt.Errorf("%w: expiry_ts must be >= 0, got %d", state.ErrInvalidParams, *e.ExpiryTs)
		}
		m.ExpiryTs = *e.ExpiryTs
	}
	return nil
}

func (c *MarketEngine) handleInterestUpdate(m *state.SpotMarket, e *event.SpotInterestUpdate) error {
	if e.CumulativeDepositInterest.Lt(m.CumulativeDepositInterest) {
		return fmt.Errorf("%w: deposit index %s -> %s", ErrIndexDecreased, m.CumulativeDepositInterest, e.CumulativeDepositInterest)
	}
	if e.CumulativeBorrowInterest.Lt(m.CumulativeBorrowInterest) {
		return fmt.Errorf("%w: borrow index %s -> %s", ErrIndexDecreased, m.CumulativeBorrowInterest, e.CumulativeBorrowInterest)
	}
	if e.LastInterestTs < m.LastInterestTs {
		return fmt.Errorf("%w: last_interest_ts %d -> %d", ErrIndexDecreased, m.LastInterestTs, e.LastInterestTs)
	}
	m.CumulativeDepositInterest = e.CumulativeDepositInterest
	m.CumulativeBorrowInterest = e.CumulativeBorrowInterest
	m.DepositBalance = e.DepositBalance
	m.BorrowBalance = e.BorrowBalance
	m.DepositTokenTwap = e.DepositTokenTwap
	m.BorrowTokenTwap = e.BorrowTokenTwap
	m.UtilizationTwap = e.UtilizationTwap
	m.LastInterestTs = e.LastInterestTs
	return nil
}

func (c *MarketEngine) handleInsuranceFundUpdate(m *state.SpotMarket, e *event.InsuranceFundUpdate) error {
	f := &m.InsuranceFund
	switch e.Op {
	case event.InsuranceOpAddUserShares:
		return f.AddUserShares(e.Shares)
	case event.InsuranceOpRemoveUserShares:
		return f.RemoveUserShares(e.Shares)
	case event.InsuranceOpAddProtocolShares:
		return f.AddProtocolShares(e.Shares)
	case event.InsuranceOpRemoveProtocolShares:
		return f.RemoveProtocolShares(e.Shares)
	case event.InsuranceOpRebase:
		expo, err := f.Rebase(e.VaultBalance)
		if err != nil {
			return err
		}
		if expo > 0 {
			c.logger.Info().Uint16("market_index", m.MarketIndex).Uint32("expo", expo).Msg("insurance fund rebased")
		}
		return nil
	case event.InsuranceOpStake:
		shares, err := fpmath.VaultAmountToShares(e.Amount, f.TotalShares, e.VaultBalance)
		if err != nil {
			return err
		}
		if shares.IsZero() {
			return fmt.Errorf("%w: stake of %d mints no shares", state.ErrInvalidParams, e.Amount)
		}
		return f.AddUserShares(shares)
	case event.InsuranceOpUnstake:
		amount, err := fpmath.SharesToVaultAmount(e.Shares, f.TotalShares, e.VaultBalance)
		if err != nil {
			return err
		}
		if err := f.RemoveUserShares(e.Shares); err != nil {
			return err
		}
		c.logger.Debug().Uint16("market_index", m.MarketIndex).Str("shares", e.Shares.String()).Uint64("amount", amount).Msg("insurance unstake")
		return nil
	case event.InsuranceOpSettleRevenue:
		if !f.RevenueSettleDue(e.Ts) {
			return fmt.Errorf("%w: revenue settle not due until %d", state.ErrInvalidParams, f.NextRevenueSettleTs())
		}
		f.LastRevenueSettleTs = e.Ts
		return nil
	default:
		return fmt.Errorf("%w: insurance op %s", state.ErrInvalidParams, e.Op)
	}
}

// postCheck validates the candidate record and the transition from prev.
func (c *MarketEngine) postCheck(prev, next *state.SpotMarket) error {
	if err := state.ValidateSpotMarket(next); err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	if next.MarketIndex != prev.MarketIndex || next.Decimals != prev.Decimals {
		return fmt.Errorf("%w: market_index and decimals are immutable", state.ErrInvalidParams)
	}
	if next.CumulativeDepositInterest.Lt(prev.CumulativeDepositInterest) ||
		next.CumulativeBorrowInterest.Lt(prev.CumulativeBorrowInterest) {
		return ErrIndexDecreased
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrMarketNotFound):
		return "not_found"
	case errors.Is(err, state.ErrMarketExists):
		return "exists"
	case errors.Is(err, ErrDelistedTerminal):
		return "delisted"
	case errors.Is(err, ErrIndexDecreased):
		return "index_decreased"
	case errors.Is(err, fpmath.ErrMathError):
		return "math"
	case errors.Is(err, state.ErrInvalidParams):
		return "invalid_params"
	default:
		return "other"
	}
}

func (c *MarketEngine) recordRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *MarketEngine) recordMarketGauges(m *state.SpotMarket) {
	label := strconv.Itoa(int(m.MarketIndex))
	c.metrics.MarketStatus.WithLabelValues(label).Set(float64(m.Status))

	if avail, err := m.AvailableDeposits(); err == nil {
		c.metrics.AvailableDeposits.WithLabelValues(label).Set(u128Float(avail))
	}
	c.metrics.InsuranceShares.WithLabelValues(label, "user").Set(u128Float(m.InsuranceFund.UserShares))
	if protocol, err := m.InsuranceFund.ProtocolShares(); err == nil {
		c.metrics.InsuranceShares.WithLabelValues(label, "protocol").Set(u128Float(protocol))
	}
}

func u128Float(v fpmath.U128) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

// --- Read side ---

// GetMarket returns a copy of the committed market record.
func (c *MarketEngine) GetMarket(index uint16) (*state.SpotMarket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.registry.Get(index)
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// ListMarkets returns copies of all committed markets ordered by index.
func (c *MarketEngine) ListMarkets() []*state.SpotMarket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.registry.List()
	out := make([]*state.SpotMarket, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

// GetSequence returns the next sequence to be assigned.
func (c *MarketEngine) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

func (c *MarketEngine) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

// --- Snapshots ---

// SnapshotState is everything needed to resume the engine.
type SnapshotState struct {
	Sequence        int64               `json:"sequence"` // last applied; -1 when empty
	StateHash       [32]byte            `json:"state_hash"`
	Markets         []*state.SpotMarket `json:"markets"`
	SourceSequences map[uint16]int64    `json:"source_sequences"`
	IdempotencyKeys []string            `json:"idempotency_keys"`
}

// CreateSnapshot captures the committed state.
func (c *MarketEngine) CreateSnapshot() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.registry.List()
	markets := make([]*state.SpotMarket, len(list))
	for i, m := range list {
		markets[i] = m.Clone()
	}
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Markets:         markets,
		SourceSequences: c.seqGuard.All(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// Restore replaces all engine state with snap. Markets are re-validated.
func (c *MarketEngine) Restore(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	registry := state.NewMarketRegistry()
	for _, m := range snap.Markets {
		if err := registry.Insert(m.Clone()); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	c.registry = registry
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.seqGuard.Restore(snap.SourceSequences)
	c.idempotency.Warm(snap.IdempotencyKeys)

	c.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("markets", len(snap.Markets)).
		Msg("engine restored")
	return nil
}
