package core

import (
	"errors"
	"fmt"
)

// ErrStaleEvent is returned for a new event whose source sequence is not
// ahead of the last one applied to the same market.
var ErrStaleEvent = errors.New("stale event")

// SequenceGuard tracks the last applied source sequence per market.
// Upstream admin streams are sparse, so gaps are counted but accepted.
// Not thread-safe; only accessed under the engine's write lock.
type SequenceGuard struct {
	last map[uint16]int64
	gaps map[uint16]int64
}

func NewSequenceGuard() *SequenceGuard {
	return &SequenceGuard{
		last: make(map[uint16]int64),
		gaps: make(map[uint16]int64),
	}
}

// Check validates sourceSequence for market without recording it.
func (g *SequenceGuard) Check(market uint16, sourceSequence int64) error {
	last, seen := g.last[market]
	if !seen {
		return nil
	}
	if sourceSequence <= last {
		return fmt.Errorf("%w: market=%d last=%d got=%d", ErrStaleEvent, market, last, sourceSequence)
	}
	return nil
}

// Advance records sourceSequence as applied. Returns true when it skipped
// over one or more sequences.
func (g *SequenceGuard) Advance(market uint16, sourceSequence int64) bool {
	last, seen := g.last[market]
	g.last[market] = sourceSequence
	if seen && sourceSequence > last+1 {
		g.gaps[market]++
		return true
	}
	return false
}

// Last returns the last applied source sequence for market.
func (g *SequenceGuard) Last(market uint16) (int64, bool) {
	s, ok := g.last[market]
	return s, ok
}

// Gaps returns how many gaps have been observed for market.
func (g *SequenceGuard) Gaps(market uint16) int64 {
	return g.gaps[market]
}

// All returns a copy of the per-market state for snapshots.
func (g *SequenceGuard) All() map[uint16]int64 {
	out := make(map[uint16]int64, len(g.last))
	for k, v := range g.last {
		out[k] = v
	}
	return out
}

// Restore replaces the per-market state.
func (g *SequenceGuard) Restore(last map[uint16]int64) {
	g.last = make(map[uint16]int64, len(last))
	for k, v := range last {
		g.last[k] = v
	}
}
