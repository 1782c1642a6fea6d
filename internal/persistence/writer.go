package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"SpotLedger/internal/core"
	"SpotLedger/internal/state"
)

// EventRow is a row of spot.events.
type EventRow struct {
	Sequence       int64
	EventID        uuid.UUID
	EventType      string
	IdempotencyKey string
	MarketIndex    uint16
	Payload        []byte // JSON-encoded event
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// MarketRow is a row of spot.markets: the latest record of one market.
type MarketRow struct {
	MarketIndex uint16
	Name        string
	Status      string
	AssetTier   string
	Document    []byte // JSON-encoded state.SpotMarket
	Sequence    int64
	StateHash   []byte
}

// NewEventRow converts an engine output into its event log row.
func NewEventRow(output core.CoreOutput) EventRow {
	env := output.Envelope
	stateHash := env.StateHash
	prevHash := env.PrevHash
	return EventRow{
		Sequence:       env.Sequence,
		EventID:        uuid.New(),
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		MarketIndex:    env.MarketIndex,
		Payload:        env.Payload,
		StateHash:      stateHash[:],
		PrevHash:       prevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
}

// NewMarketRow converts an engine output into the market's latest row.
func NewMarketRow(output core.CoreOutput) (MarketRow, error) {
	m := output.Market
	doc, err := json.Marshal(m)
	if err != nil {
		return MarketRow{}, fmt.Errorf("marshal market %d: %w", m.MarketIndex, err)
	}
	stateHash := output.Envelope.StateHash
	return MarketRow{
		MarketIndex: m.MarketIndex,
		Name:        m.Name.String(),
		Status:      m.Status.String(),
		AssetTier:   m.AssetTier.String(),
		Document:    doc,
		Sequence:    output.Envelope.Sequence,
		StateHash:   stateHash[:],
	}, nil
}

// LatestPerMarket keeps only the last row for each market, in first-seen
// order, so one upsert statement never touches the same key twice.
func LatestPerMarket(rows []MarketRow) []MarketRow {
	pos := make(map[uint16]int, len(rows))
	out := make([]MarketRow, 0, len(rows))
	for _, r := range rows {
		if i, ok := pos[r.MarketIndex]; ok {
			out[i] = r
			continue
		}
		pos[r.MarketIndex] = len(out)
		out = append(out, r)
	}
	return out
}

// EventLogWriter writes events and market rows with multi-row statements.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch appends events to spot.events. Rows already present are
// skipped, so a retried batch is harmless.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 10
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventID, e.EventType, e.IdempotencyKey, int(e.MarketIndex),
			string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query := `INSERT INTO spot.events
		(sequence, event_id, event_type, idempotency_key, market_index, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (sequence) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertMarkets writes the latest record of each market. An older sequence
// never overwrites a newer one.
func (w *EventLogWriter) UpsertMarkets(ctx context.Context, tx *sql.Tx, markets []MarketRow) error {
	markets = LatestPerMarket(markets)
	if len(markets) == 0 {
		return nil
	}

	const cols = 7
	values := make([]string, 0, len(markets))
	args := make([]interface{}, 0, len(markets)*cols)

	for i, m := range markets {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			int(m.MarketIndex), m.Name, m.Status, m.AssetTier,
			string(m.Document), m.Sequence, m.StateHash,
		)
	}

	query := `INSERT INTO spot.markets
		(market_index, name, status, asset_tier, document, sequence, state_hash)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (market_index) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			asset_tier = EXCLUDED.asset_tier,
			document = EXCLUDED.document,
			sequence = EXCLUDED.sequence,
			state_hash = EXCLUDED.state_hash,
			updated_at = NOW()
		WHERE spot.markets.sequence < EXCLUDED.sequence`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for j := 1; j <= n; j++ {
		if j > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+j)
	}
	b.WriteByte(')')
	return b.String()
}

// MarketStore reads the latest market records.
type MarketStore struct {
	db *sql.DB
}

func NewMarketStore(db *sql.DB) *MarketStore {
	return &MarketStore{db: db}
}

// LoadMarkets returns every stored market ordered by index.
func (s *MarketStore) LoadMarkets(ctx context.Context) ([]*state.SpotMarket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_index, document
		FROM spot.markets
		ORDER BY market_index ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []*state.SpotMarket
	for rows.Next() {
		var index int
		var doc []byte
		if err := rows.Scan(&index, &doc); err != nil {
			return nil, err
		}
		var m state.SpotMarket
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, fmt.Errorf("decode market %d: %w", index, err)
		}
		markets = append(markets, &m)
	}
	return markets, rows.Err()
}

// Ping checks the database is reachable. Used as a readiness probe.
func (s *MarketStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
