package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Identifiers are keccak256 digests of a domain tag followed by the fields
// that make the object unique. Numbers are encoded as 32-byte big-endian words.

func deriveID(tag string, parts ...[]byte) common.Hash {
	data := make([][]byte, 0, len(parts)+1)
	data = append(data, []byte(tag))
	data = append(data, parts...)
	return crypto.Keccak256Hash(data...)
}

func word(n uint64) []byte {
	b := uint256.NewInt(n).Bytes32()
	return b[:]
}

// BatchID derives the id of batch number for holder and asset
func BatchID(holder, asset common.Address, number uint64) common.Hash {
	return deriveID("batch", holder.Bytes(), asset.Bytes(), word(number))
}

// RequestID derives a request id unique per holder, user, batch and nonce
func RequestID(holder, user common.Address, batchID common.Hash, nonce uint64) common.Hash {
	return deriveID("request", holder.Bytes(), user.Bytes(), batchID.Bytes(), word(nonce))
}

// ProposalID derives a settlement proposal id
func ProposalID(asset, vault common.Address, batchID common.Hash, nonce uint64) common.Hash {
	return deriveID("proposal", asset.Bytes(), vault.Bytes(), batchID.Bytes(), word(nonce))
}

// ReceiverAddress derives the escrow address of a batch receiver
func ReceiverAddress(batchID common.Hash) common.Address {
	return common.BytesToAddress(deriveID("receiver", batchID.Bytes()).Bytes()[12:])
}
