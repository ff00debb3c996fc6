// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Pluggable Signature Scheme and VRF

package beacon

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	blst "github.com/supranational/blst/bindings/go"
	"github.com/vechain/go-ecvrf"
)

// Non-goal §1: the design does not fix a specific elliptic curve. Signer
// and VRFProver/VRFVerifier are the seam; BLSSigner and the go-ecvrf
// wrapper below are one concrete, aggregation-capable instantiation,
// matching the teacher's own go.mod choice of supranational/blst.

var blstDST = []byte("MERKLITH_BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// Signer produces a signature over a header's signing-hash preimage.
// The core never stores private keys (§6); Signer lives in the node's
// key-management layer and is handed to proposers only.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() []byte
}

// AggregateVerifier verifies an aggregated multi-signature over a
// shared message given the public keys of the claimed signers. The core
// treats aggregate signatures and attestor bitmaps as opaque blobs
// (§4.8); this interface exists for the node layer that does interpret
// them, not for the consensus core itself.
type AggregateVerifier interface {
	VerifyAggregate(msg []byte, pubKeys [][]byte, aggregateSig []byte) (bool, error)
}

// BLSSigner is a Signer/AggregateVerifier backed by BLS12-381
// signatures with aggregation (github.com/supranational/blst), the
// scheme spec.md §1 asks for ("a signature scheme with aggregation").
type BLSSigner struct {
	sk *blst.SecretKey
	pk *blst.P1Affine
}

// NewBLSSigner derives a signer from 32 bytes of key material (ikm).
func NewBLSSigner(ikm []byte) (*BLSSigner, error) {
	if len(ikm) < 32 {
		return nil, errors.New("beacon: bls ikm must be at least 32 bytes")
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, errors.New("beacon: bls key generation failed")
	}
	pk := new(blst.P1Affine).From(sk)
	return &BLSSigner{sk: sk, pk: pk}, nil
}

func (s *BLSSigner) Sign(msg []byte) ([]byte, error) {
	sig := new(blst.P2Affine).Sign(s.sk, msg, blstDST)
	return sig.Compress(), nil
}

func (s *BLSSigner) PublicKey() []byte {
	return s.pk.Compress()
}

// VerifyAggregate verifies a single BLS aggregate signature against the
// same message signed by every public key in pubKeys (the fast-path
// aggregate case; the finality gadget itself does not call it).
func (s *BLSSigner) VerifyAggregate(msg []byte, pubKeys [][]byte, aggregateSig []byte) (bool, error) {
	sig := new(blst.P2Affine).Uncompress(aggregateSig)
	if sig == nil {
		return false, errors.New("beacon: invalid aggregate signature encoding")
	}
	pks := make([]*blst.P1Affine, 0, len(pubKeys))
	for _, raw := range pubKeys {
		pk := new(blst.P1Affine).Uncompress(raw)
		if pk == nil {
			return false, errors.New("beacon: invalid public key encoding")
		}
		pks = append(pks, pk)
	}
	return sig.FastAggregateVerify(true, pks, msg, blstDST), nil
}

// VRFProver derives, from a secret key and an input, an output and a
// proof (§4.3, GLOSSARY). Proposers supply proofs; the core only ever
// verifies.
type VRFProver interface {
	Prove(input []byte) (output [32]byte, proof []byte, err error)
}

// VRFVerifier recomputes the expected VRF output from a proof and
// compares (§4.3 step 2: "honest verifiers recompute the expected hash
// on the VRF output and compare").
type VRFVerifier interface {
	Verify(publicKey, input, proof []byte) (output [32]byte, ok bool)
}

// ECVRFProver wraps the secp256k1-SHA256-TAI VRF construction from
// github.com/vechain/go-ecvrf (grounded on vechain-thor's go.mod, the
// only VRF library present anywhere in the retrieval pack). The
// construction is secp256k1-specific, so key material is generated and
// (de)compressed on that curve via the teacher's own
// github.com/ethereum/go-ethereum/crypto package — Go's stdlib has no
// secp256k1 curve, and stdlib's generic elliptic.Marshal/Unmarshal
// assume the NIST a=-3 curve form, which secp256k1 (a=0, b=7) does not
// satisfy.
type ECVRFProver struct {
	sk *ecdsa.PrivateKey
}

// NewECVRFProver generates a fresh secp256k1 VRF keypair. In production
// the node's key-management layer loads a persistent key instead.
func NewECVRFProver() (*ECVRFProver, error) {
	sk, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &ECVRFProver{sk: sk}, nil
}

func (p *ECVRFProver) PublicKeyBytes() []byte {
	return crypto.CompressPubkey(&p.sk.PublicKey)
}

// Prove implements VRFProver: alpha = input, returns (beta, pi).
func (p *ECVRFProver) Prove(input []byte) (output [32]byte, proof []byte, err error) {
	beta, pi, err := ecvrf.Secp256k1Sha256Tai.Prove(p.sk, input)
	if err != nil {
		return output, nil, err
	}
	if len(beta) != 32 {
		return output, nil, errors.New("beacon: unexpected vrf output length")
	}
	copy(output[:], beta)
	return output, pi, nil
}

// ECVRFVerifier verifies proofs produced by ECVRFProver.
type ECVRFVerifier struct{}

func (ECVRFVerifier) Verify(publicKey, input, proof []byte) (output [32]byte, ok bool) {
	pk, err := crypto.DecompressPubkey(publicKey)
	if err != nil {
		return output, false
	}
	beta, err := ecvrf.Secp256k1Sha256Tai.Verify(pk, input, proof)
	if err != nil || len(beta) != 32 {
		return output, false
	}
	copy(output[:], beta)
	return output, true
}
