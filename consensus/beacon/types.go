// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Shared Types

package beacon

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ValidatorStatus is the lifecycle state of a validator (§4.1, I1).
type ValidatorStatus uint8

const (
	StatusPending ValidatorStatus = iota
	StatusActive
	StatusExiting
	StatusWithdrawable
	StatusSlashed
)

func (s ValidatorStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusExiting:
		return "exiting"
	case StatusWithdrawable:
		return "withdrawable"
	case StatusSlashed:
		return "slashed"
	default:
		return "unknown"
	}
}

// CanBeSlashed reports whether a validator in this status is eligible
// for slashing (I1: Active or Exiting can be slashed, Slashed cannot).
func (s ValidatorStatus) CanBeSlashed() bool {
	return s == StatusActive || s == StatusExiting
}

// ContributionMetrics feeds the PoC contribution component (§4.2). It is
// updated at epoch boundaries from block/attestation accounting and is
// read-only from the PoC scorer's perspective.
type ContributionMetrics struct {
	TxCount         uint64
	GasProvided     uint64
	BlocksProposed  uint64
	Attestations    uint64
	UptimeBps       uint16 // 0-10000, 10000 = 100%
	SoftwareVersion uint32 // monotonically increasing; 0 = unknown
	EpochsActive    uint64
}

// Validator is the authoritative record owned exclusively by the
// ValidatorSet (§3 data model).
type Validator struct {
	Address               common.Address
	WithdrawalCredentials [32]byte
	Stake                 *uint256.Int
	Status                ValidatorStatus
	ActivationEpoch       uint64
	ExitEpoch             *uint64
	WithdrawableEpoch     *uint64
	Slashed               bool
	Contribution          ContributionMetrics
	LastObservedEpoch     uint64
}

// Clone returns a deep copy safe to hand to a reader outside the
// mutator actor (§5: parallel readers may snapshot).
func (v *Validator) Clone() *Validator {
	cp := *v
	if v.Stake != nil {
		cp.Stake = new(uint256.Int).Set(v.Stake)
	}
	if v.ExitEpoch != nil {
		e := *v.ExitEpoch
		cp.ExitEpoch = &e
	}
	if v.WithdrawableEpoch != nil {
		e := *v.WithdrawableEpoch
		cp.WithdrawableEpoch = &e
	}
	return &cp
}

// Checkpoint identifies an epoch-boundary block used by the finality
// gadget (§3, GLOSSARY). Identity is the (Epoch, Root) pair.
type Checkpoint struct {
	Epoch uint64
	Root  common.Hash
}

func (c Checkpoint) IsZero() bool {
	return c.Epoch == 0 && c.Root == (common.Hash{})
}

// Attestation is a validator's signed vote on a block, carrying the
// source/target checkpoints the finality gadget consumes (§3).
type Attestation struct {
	Validator   common.Address
	BlockHash   common.Hash
	BlockNumber uint64
	Slot        uint64
	Source      Checkpoint
	Target      Checkpoint
	Signature   []byte
}

// CommitteeMember is a sealed, never-mutated per-epoch committee slot
// (§3). Ordering within a Committee is by VRFOutput ascending (I2).
type CommitteeMember struct {
	Address     common.Address
	PoCScore    float64
	VRFOutput   [32]byte
	VRFProof    []byte
	StakeWeight float64
}

// Committee is the sealed epoch committee (§3, I2, I6).
type Committee struct {
	Epoch           uint64
	Seed            [32]byte
	Members         []CommitteeMember
	AggregateWeight float64
}

// GetMember returns the committee member for an address, if present.
func (c *Committee) GetMember(addr common.Address) (*CommitteeMember, bool) {
	for i := range c.Members {
		if c.Members[i].Address == addr {
			return &c.Members[i], true
		}
	}
	return nil, false
}

// AttestationThreshold is the strict supermajority weight required to
// justify a checkpoint attested by this committee: exactly 2/3 of the
// aggregate weight (not rounded up), compared with strict greater-than
// (§4.3).
func (c *Committee) AttestationThreshold() float64 {
	return c.AggregateWeight * 2.0 / 3.0
}

// ProposerAt returns the proposer for slot s within this committee:
// s mod |committee| (§4.3).
func (c *Committee) ProposerAt(slot uint64) (common.Address, bool) {
	if len(c.Members) == 0 {
		return common.Address{}, false
	}
	idx := slot % uint64(len(c.Members))
	return c.Members[idx].Address, true
}

// vote is the finality gadget's internal record of a validator's latest
// (source, target) pair (§3). A later vote from the same validator
// replaces an earlier one.
type vote struct {
	Validator common.Address
	Source    Checkpoint
	Target    Checkpoint
	Weight    float64
}

// BlockState is the lifecycle of a block as tracked by the finality
// gadget (§4.5).
type BlockState uint8

const (
	BlockProposed BlockState = iota
	BlockPartiallyAttested
	BlockJustified
	BlockFinalized
	BlockRejected
)

func (s BlockState) String() string {
	switch s {
	case BlockProposed:
		return "proposed"
	case BlockPartiallyAttested:
		return "partially_attested"
	case BlockJustified:
		return "justified"
	case BlockFinalized:
		return "finalized"
	case BlockRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Config holds every tunable the consensus core reads. Loaded from TOML
// via config.go (§10 ambient stack); each component constructor takes
// the whole struct and copies out only the fields it reads, keeping
// components independently testable.
type Config struct {
	// Validator set / PoC (§4.1, §4.2)
	UnbondingDelayEpochs uint64
	MinStake             *uint256.Int
	MaxEffectiveStake    *uint256.Int
	StakeWeight          float64
	ContributionWeight   float64
	AgeWeight            float64
	AgeThresholdEpochs   uint64

	// Committee sampler (§4.3)
	CommitteeTargetSize uint64
	CommitteeMinSize    uint64
	CommitteeMaxSize    uint64
	MinCommitteePoC     float64
	StakeWeightBoost    float64

	// Fork choice (§4.4)
	MaxReorgDepth uint64

	// Finality (§4.5) - threshold is derived from committee weight, not
	// configured, but the justification/inactivity-leak window is.
	InactivityLeakEpochs uint64

	// Slashing (§4.6)
	KeepEpochs                uint64
	WhistleblowerRewardBps    uint64
	ProposerRewardBps         uint64
	SlashDoubleProposalBps    uint64
	SlashDoubleAttestationBps uint64
	SlashSurroundVoteBps      uint64
	SlashInvalidBlockBps      uint64
	SlashInvalidAttBps        uint64

	// Reward / penalty (§4.7)
	AnnualRewardBps   uint64
	EpochsPerYear     uint64
	InactivityLeakBps uint64
}

// DefaultConfig returns the defaults named throughout spec.md §4.
func DefaultConfig() *Config {
	oneMerk, _ := new(uint256.Int).SetString("1000000000000000000")
	minStake := new(uint256.Int).Mul(oneMerk, uint256.NewInt(32))
	maxEff := new(uint256.Int).Mul(oneMerk, uint256.NewInt(320))

	return &Config{
		UnbondingDelayEpochs: 4,
		MinStake:             minStake,
		MaxEffectiveStake:    maxEff,
		StakeWeight:          0.5,
		ContributionWeight:   0.3,
		AgeWeight:            0.2,
		AgeThresholdEpochs:   10,

		CommitteeTargetSize: 128,
		CommitteeMinSize:    4,
		CommitteeMaxSize:    512,
		MinCommitteePoC:     0.05,
		StakeWeightBoost:    1.0,

		MaxReorgDepth: 256,

		InactivityLeakEpochs: 4,

		KeepEpochs:                512,
		WhistleblowerRewardBps:    400,
		ProposerRewardBps:         100,
		SlashDoubleProposalBps:    10000,
		SlashDoubleAttestationBps: 10000,
		SlashSurroundVoteBps:      10000,
		SlashInvalidBlockBps:      5000,
		SlashInvalidAttBps:        2500,

		AnnualRewardBps:   500,
		EpochsPerYear:     365,
		InactivityLeakBps: 10,
	}
}

// Stats aggregates runtime counters surfaced to collaborators (metrics,
// explorers); Engine.Stats returns a copy taken under the engine's read
// lock.
type Stats struct {
	AttestationsProcessed uint64
	Justifications        uint64
	Finalizations         uint64
	SlashingEvents         uint64
	Reorganizations       uint64
	LastFinalizedEpoch    uint64
	LastJustifiedEpoch    uint64
	CommitteeSize         uint64
	StartTime             time.Time
}
