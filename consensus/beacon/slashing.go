// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Slashing Detector

package beacon

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/bloomfilter/v2"
	"github.com/holiman/uint256"
)

// OffenseKind enumerates the slashable offenses §4.6 names, each with
// its own severity.
type OffenseKind uint8

const (
	OffenseDoubleProposal OffenseKind = iota
	OffenseDoubleAttestation
	OffenseSurroundVote
	OffenseInvalidBlock
	OffenseInvalidAttestation
)

func (k OffenseKind) String() string {
	switch k {
	case OffenseDoubleProposal:
		return "double_proposal"
	case OffenseDoubleAttestation:
		return "double_attestation"
	case OffenseSurroundVote:
		return "surround_vote"
	case OffenseInvalidBlock:
		return "invalid_block"
	case OffenseInvalidAttestation:
		return "invalid_attestation"
	default:
		return "unknown"
	}
}

// Evidence records a detected offense, reported by whoever submitted
// the conflicting artifacts (a whistleblower, or the proposer of the
// canonical competing block).
type Evidence struct {
	ID           uuid.UUID
	Offender     common.Address
	Kind         OffenseKind
	Epoch        uint64
	Whistleblower common.Address
	SlashAmount  *uint256.Int
}

// proposalKey identifies a (validator, slot) pair for double-proposal
// detection (§4.6).
type proposalKey struct {
	validator common.Address
	slot      uint64
}

// attestationKey identifies a (validator, target epoch) pair for
// double-attestation detection.
type attestationKey struct {
	validator common.Address
	epoch     uint64
}

// SlashingDetector watches proposals and attestations for equivocation
// and, once a validator is slashed, becomes a no-op for that validator
// forever (I1: Slashed is terminal). A bloom filter gives an O(1)
// negative pre-check before the exact map lookup, avoiding a map probe
// on the overwhelmingly common case of no conflict (§4.6 design: cheap
// pre-check before the exact comparison).
type SlashingDetector struct {
	mu sync.Mutex

	vs *ValidatorSet

	proposals    map[proposalKey]common.Hash
	attestations map[attestationKey]common.Hash
	bloom        *bloomfilter.Filter

	evidence    []Evidence
	slashed     map[common.Address]bool
	keepEpochs  uint64

	whistleblowerBps uint64
	proposerBps      uint64
	severityBps      map[OffenseKind]uint64
}

// NewSlashingDetector builds a detector wired to vs for applying
// slashes, sized per cfg.
func NewSlashingDetector(cfg *Config, vs *ValidatorSet) (*SlashingDetector, error) {
	bf, err := bloomfilter.New(1<<20, 4)
	if err != nil {
		return nil, err
	}
	return &SlashingDetector{
		vs:           vs,
		proposals:    make(map[proposalKey]common.Hash),
		attestations: make(map[attestationKey]common.Hash),
		bloom:        bf,
		slashed:      make(map[common.Address]bool),
		keepEpochs:   cfg.KeepEpochs,
		whistleblowerBps: cfg.WhistleblowerRewardBps,
		proposerBps:      cfg.ProposerRewardBps,
		severityBps: map[OffenseKind]uint64{
			OffenseDoubleProposal:     cfg.SlashDoubleProposalBps,
			OffenseDoubleAttestation:  cfg.SlashDoubleAttestationBps,
			OffenseSurroundVote:       cfg.SlashSurroundVoteBps,
			OffenseInvalidBlock:       cfg.SlashInvalidBlockBps,
			OffenseInvalidAttestation: cfg.SlashInvalidAttBps,
		},
	}, nil
}

func bloomKey(validator common.Address, slot uint64) uint64 {
	var b [28]byte
	copy(b[:20], validator.Bytes())
	b[20] = byte(slot)
	b[21] = byte(slot >> 8)
	b[22] = byte(slot >> 16)
	b[23] = byte(slot >> 24)
	b[24] = byte(slot >> 32)
	b[25] = byte(slot >> 40)
	b[26] = byte(slot >> 48)
	b[27] = byte(slot >> 56)
	var h uint64
	for _, c := range b {
		h = h*1099511628211 ^ uint64(c)
	}
	return h
}

// ReportProposal checks whether validator has already proposed a
// different block for slot, and if so, slashes for double proposal
// (§4.6). A no-op if the validator is already slashed.
func (sd *SlashingDetector) ReportProposal(validator common.Address, slot uint64, blockHash common.Hash, whistleblower common.Address, currentEpoch uint64) (*Evidence, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if sd.slashed[validator] {
		return nil, nil
	}

	key := proposalKey{validator: validator, slot: slot}
	bk := bloomKey(validator, slot)

	if sd.bloom.Contains(bk) {
		if existing, ok := sd.proposals[key]; ok && existing != blockHash {
			return sd.slash(validator, OffenseDoubleProposal, whistleblower, currentEpoch)
		}
	}

	sd.bloom.Add(bk)
	if _, ok := sd.proposals[key]; !ok {
		sd.proposals[key] = blockHash
	}
	return nil, nil
}

// ReportAttestation records an attestation's target epoch -> block
// mapping and slashes on conflict (double attestation) independent of
// the finality gadget's own equivocation check, so the detector can be
// driven directly from stored evidence as well as live processing.
func (sd *SlashingDetector) ReportAttestation(validator common.Address, epoch uint64, blockHash common.Hash, whistleblower common.Address, currentEpoch uint64) (*Evidence, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if sd.slashed[validator] {
		return nil, nil
	}

	key := attestationKey{validator: validator, epoch: epoch}
	if existing, ok := sd.attestations[key]; ok && existing != blockHash {
		return sd.slash(validator, OffenseDoubleAttestation, whistleblower, currentEpoch)
	}
	sd.attestations[key] = blockHash
	return nil, nil
}

// ReportSurroundVote slashes validator directly from a (ErrSurroundVote)
// signal the finality gadget already confirmed.
func (sd *SlashingDetector) ReportSurroundVote(validator common.Address, whistleblower common.Address, currentEpoch uint64) (*Evidence, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.slashed[validator] {
		return nil, nil
	}
	return sd.slash(validator, OffenseSurroundVote, whistleblower, currentEpoch)
}

// ReportInvalidBlock / ReportInvalidAttestation slash the lesser-severity
// offenses (§4.6: 50% and 25% respectively) for protocol violations the
// node's execution/validation layer detects and reports in.
func (sd *SlashingDetector) ReportInvalidBlock(validator, whistleblower common.Address, currentEpoch uint64) (*Evidence, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.slashed[validator] {
		return nil, nil
	}
	return sd.slash(validator, OffenseInvalidBlock, whistleblower, currentEpoch)
}

func (sd *SlashingDetector) ReportInvalidAttestation(validator, whistleblower common.Address, currentEpoch uint64) (*Evidence, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.slashed[validator] {
		return nil, nil
	}
	return sd.slash(validator, OffenseInvalidAttestation, whistleblower, currentEpoch)
}

// slash applies the offense: marks the validator permanently slashed,
// transitions it via the ValidatorSet, computes the slash amount (the
// offense's severity bps of stake) and reduces the stake by it. The
// whistleblower / proposer split of that amount is computed separately
// by WhistleblowerShare and ProposerShare. Arithmetic is checked
// uint256; on overflow (which cannot occur for a bps-of-stake
// computation bounded by stake itself, but is checked per §7's
// "checked arithmetic throughout" requirement) the entire stake is
// burned rather than risk an inconsistent partial credit.
func (sd *SlashingDetector) slash(validator common.Address, kind OffenseKind, whistleblower common.Address, currentEpoch uint64) (*Evidence, error) {
	v, ok := sd.vs.Get(validator)
	if !ok {
		return nil, ErrValidatorNotFound
	}
	if !v.Status.CanBeSlashed() {
		return nil, nil
	}

	bps := sd.severityBps[kind]
	amount, overflow := mulDivBps(v.Stake, bps)
	if overflow {
		amount = new(uint256.Int).Set(v.Stake)
	}

	if err := sd.vs.Slash(validator, currentEpoch); err != nil {
		return nil, err
	}
	if err := sd.vs.ReduceStake(validator, amount); err != nil {
		return nil, err
	}
	sd.slashed[validator] = true

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	ev := Evidence{
		ID:            id,
		Offender:      validator,
		Kind:          kind,
		Epoch:         currentEpoch,
		Whistleblower: whistleblower,
		SlashAmount:   amount,
	}
	sd.evidence = append(sd.evidence, ev)
	return &ev, nil
}

// WhistleblowerShare and ProposerShare split a slash amount per §4.7's
// 4%/1%/remainder-burned rule. The remainder (burned) is implicit:
// callers subtract both shares from SlashAmount themselves.
func (sd *SlashingDetector) WhistleblowerShare(amount *uint256.Int) *uint256.Int {
	share, _ := mulDivBps(amount, sd.whistleblowerBps)
	return share
}

func (sd *SlashingDetector) ProposerShare(amount *uint256.Int) *uint256.Int {
	share, _ := mulDivBps(amount, sd.proposerBps)
	return share
}

// mulDivBps computes amount * bps / 10000 using checked uint256
// arithmetic, reporting overflow rather than wrapping (§7).
func mulDivBps(amount *uint256.Int, bps uint64) (*uint256.Int, bool) {
	product, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(bps))
	if overflow {
		return nil, true
	}
	return new(uint256.Int).Div(product, uint256.NewInt(10000)), false
}

// PruneBefore discards attestation bookkeeping whose target epoch is
// older than keepEpochs relative to currentEpoch (§4.6: evidence windows
// are bounded, not kept forever). Proposal records are not pruned. It
// scans every attestation key, acceptable because pruning runs once per
// epoch, not per attestation.
func (sd *SlashingDetector) PruneBefore(currentEpoch uint64) {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if currentEpoch <= sd.keepEpochs {
		return
	}
	cutoff := currentEpoch - sd.keepEpochs

	for k := range sd.attestations {
		if k.epoch < cutoff {
			delete(sd.attestations, k)
		}
	}
	// Proposals are keyed by slot, not epoch, and are kept. The bloom
	// filter is never pruned (false positives only cost one extra exact
	// lookup, never a false negative).
}

// AllEvidence returns a copy of all recorded slashing evidence.
func (sd *SlashingDetector) AllEvidence() []Evidence {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	out := make([]Evidence, len(sd.evidence))
	copy(out, sd.evidence)
	return out
}
