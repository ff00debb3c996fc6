// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Block Header Contract

package beacon

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// ErrExtraDataTooLong is returned when a header's ExtraData exceeds the
// 32-byte limit fixed by §4.8.
var ErrExtraDataTooLong = errors.New("beacon: extra_data exceeds 32 bytes")

// maxExtraData is the §4.8 field limit.
const maxExtraData = 32

// HeaderFields is the 12-field signing preimage every proposer signs and
// every attestor/verifier recomputes (§4.8). Aggregate signatures, the
// attestor bitmap, attestation count and the proposer signature are
// deliberately absent: they are produced after the header is signed and
// are opaque to the core (§4.8, §6).
type HeaderFields struct {
	ParentHash       common.Hash
	StateRoot        common.Hash
	TransactionsRoot common.Hash
	ReceiptsRoot     common.Hash
	Number           uint64
	Timestamp        uint64
	GasLimit         uint64
	GasUsed          uint64
	BaseFeePerGas    [32]byte // little-endian 256-bit
	Proposer         common.Address
	Epoch            uint64
	ExtraData        []byte // <= 32 bytes
}

// Preimage builds the canonical byte concatenation §4.8 specifies, in
// exact field order. It is deterministic across replicas given only the
// header's public fields.
func (h *HeaderFields) Preimage() ([]byte, error) {
	if len(h.ExtraData) > maxExtraData {
		return nil, ErrExtraDataTooLong
	}

	buf := make([]byte, 0, 32*4+8*4+32+20+8+len(h.ExtraData))
	buf = append(buf, h.ParentHash.Bytes()...)
	buf = append(buf, h.StateRoot.Bytes()...)
	buf = append(buf, h.TransactionsRoot.Bytes()...)
	buf = append(buf, h.ReceiptsRoot.Bytes()...)

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], h.Number)
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], h.Timestamp)
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], h.GasLimit)
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], h.GasUsed)
	buf = append(buf, u64[:]...)

	buf = append(buf, h.BaseFeePerGas[:]...)
	buf = append(buf, h.Proposer.Bytes()...)

	binary.LittleEndian.PutUint64(u64[:], h.Epoch)
	buf = append(buf, u64[:]...)

	buf = append(buf, h.ExtraData...)

	return buf, nil
}

// SigningHash hashes the preimage with the blake-class hash spec.md
// §4.8 names, producing the hash every proposer signature and attestor
// vote refers to. Encoding then decoding a header and recomputing this
// hash is required to yield the same value (§8 round-trip property).
func (h *HeaderFields) SigningHash() (common.Hash, error) {
	preimage, err := h.Preimage()
	if err != nil {
		return common.Hash{}, err
	}
	sum := blake2b.Sum256(preimage)
	return common.Hash(sum), nil
}
