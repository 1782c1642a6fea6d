package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "SpotLedger:genesis:v1"

// StateHasher chains state hashes: each hash commits to the previous one,
// the engine sequence and the mutated market's canonical bytes.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// GenesisHash is the chain tip before any event is applied.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || market_bytes)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, marketBytes []byte) [32]byte {
	hash := PeekHash(h.prevHash, sequence, marketBytes)
	h.prevHash = hash
	return hash
}

// PeekHash computes a chain link without touching any hasher. Used to
// verify a persisted chain.
func PeekHash(prev [32]byte, sequence int64, marketBytes []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(marketBytes)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip, e.g. after restoring a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
