package core

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeDB struct {
	keys  map[string]bool
	err   error
	calls int
}

func (f *fakeDB) IsDuplicate(ctx context.Context, eventType, key string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.keys[eventType+":"+key], nil
}

func TestIdempotencyLRU_Evicts(t *testing.T) {
	lru := NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // a is now most recent
	lru.Add("c")

	assert.True(t, lru.Contains("a"))
	assert.False(t, lru.Contains("b"))
	assert.Equal(t, int64(1), lru.Evictions())
	assert.Equal(t, 2, lru.Size())
}

func TestIdempotencyLRU_WarmKeepsOrder(t *testing.T) {
	src := NewIdempotencyLRU(10)
	src.Add("x")
	src.Add("y")
	src.Add("z")

	dst := NewIdempotencyLRU(10)
	dst.WarmFromKeys(src.GetAllKeys())
	assert.Equal(t, []string{"z", "y", "x"}, dst.GetAllKeys())
}

func TestIdempotencyChecker_TwoTier(t *testing.T) {
	db := &fakeDB{keys: map[string]bool{"SpotInterestUpdate:k1": true}}
	ic := NewIdempotencyChecker(16, db, nil, zerolog.Nop())

	assert.True(t, ic.IsDuplicate("SpotInterestUpdate", "k1"))
	assert.Equal(t, 1, db.calls)

	// promoted into the LRU
	assert.True(t, ic.IsDuplicate("SpotInterestUpdate", "k1"))
	assert.Equal(t, 1, db.calls)

	assert.False(t, ic.IsDuplicate("SpotInterestUpdate", "k2"))
	ic.MarkProcessed("SpotInterestUpdate", "k2")
	assert.True(t, ic.IsDuplicate("SpotInterestUpdate", "k2"))
}

func TestIdempotencyChecker_DBErrorIsNotDuplicate(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	ic := NewIdempotencyChecker(16, db, nil, zerolog.Nop())

	assert.False(t, ic.IsDuplicate("SpotMarketListed", "spot_listed:1"))
}

func TestSequenceGuard(t *testing.T) {
	g := NewSequenceGuard()

	assert.NoError(t, g.Check(1, 0))
	assert.False(t, g.Advance(1, 5))
	assert.ErrorIs(t, g.Check(1, 5), ErrStaleEvent)
	assert.NoError(t, g.Check(1, 6))
	assert.True(t, g.Advance(1, 9))
	assert.Equal(t, int64(1), g.Gaps(1))

	last, ok := g.Last(1)
	assert.True(t, ok)
	assert.Equal(t, int64(9), last)
}

func TestStateHasher_Chain(t *testing.T) {
	h := NewStateHasher()
	genesis := h.GetPrevHash()
	assert.Equal(t, GenesisHash(), genesis)

	first := h.ComputeHash(0, []byte("market"))
	assert.Equal(t, PeekHash(genesis, 0, []byte("market")), first)
	assert.NotEqual(t, first, PeekHash(genesis, 1, []byte("market")))

	second := h.ComputeHash(1, []byte("market"))
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, h.GetPrevHash())
}
