package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "vaultrouter:genesis:v1"

// ChainHasher links every emitted event to its predecessor
type ChainHasher struct {
	prevHash [32]byte
}

// NewChainHasher initializes with the genesis hash
func NewChainHasher() *ChainHasher {
	return &ChainHasher{
		prevHash: GenesisHash(),
	}
}

// GenesisHash is the prev_hash of the first event
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates hash[N] = SHA-256(prev_hash || sequence || payload)
// and advances the chain tip.
func (h *ChainHasher) ComputeHash(sequence int64, payload []byte) [32]byte {
	hash := ChainHash(h.prevHash, sequence, payload)
	h.prevHash = hash
	return hash
}

// ChainHash computes one link without touching any chain state, for verifiers
func ChainHash(prev [32]byte, sequence int64, payload []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(prev[:])

	// Sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(payload)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// GetPrevHash returns current chain tip
func (h *ChainHasher) GetPrevHash() [32]byte {
	return h.prevHash
}
