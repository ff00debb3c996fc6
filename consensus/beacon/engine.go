// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Engine

package beacon

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// Engine wires every component (ValidatorSet, PoCScorer,
// CommitteeSampler, ForkChoice, FinalityGadget, SlashingDetector,
// RewardCalculator) behind a single-writer/many-reader lock (§5). Unlike
// the teacher's Engine, this one runs no goroutines, timers or RPC
// calls: the core does no I/O and no scheduling (§5, §6) — slot timing,
// block/attestation gossip and persistence are the node layer's job,
// driven by calling the synchronous methods below.
type Engine struct {
	mu sync.RWMutex

	cfg *Config

	validators *ValidatorSet
	scorer     *PoCScorer
	committees *CommitteeSampler
	forkChoice *ForkChoice
	finality   *FinalityGadget
	slashing   *SlashingDetector
	rewards    *RewardCalculator
	metrics    *Metrics

	sealedCommittees map[uint64]*Committee
	currentEpoch     uint64

	stats Stats
}

// NewEngine constructs a fully wired Engine rooted at genesis.
func NewEngine(cfg *Config, genesis common.Hash, verifier VRFVerifier, metrics *Metrics) (*Engine, error) {
	vs := NewValidatorSet(cfg)
	scorer := NewPoCScorer(cfg)
	committees := NewCommitteeSampler(cfg, scorer, verifier)
	fc := NewForkChoice(cfg, genesis)
	finality := NewFinalityGadget(Checkpoint{Epoch: 0, Root: genesis}, fc)
	slashing, err := NewSlashingDetector(cfg, vs)
	if err != nil {
		return nil, fmt.Errorf("beacon: constructing slashing detector: %w", err)
	}
	rewards := NewRewardCalculator(cfg)

	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Engine{
		cfg:              cfg,
		validators:       vs,
		scorer:           scorer,
		committees:       committees,
		forkChoice:       fc,
		finality:         finality,
		slashing:         slashing,
		rewards:          rewards,
		metrics:          metrics,
		sealedCommittees: make(map[uint64]*Committee),
		stats:            Stats{},
	}, nil
}

// RegisterValidator admits a new validator (§4.1).
func (e *Engine) RegisterValidator(addr common.Address, stake *uint256.Int, withdrawalCreds [32]byte, activationEpoch uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.validators.Register(addr, stake, withdrawalCreds, activationEpoch); err != nil {
		return fmt.Errorf("beacon: register validator %s: %w", addr, err)
	}
	log.Debug("validator registered", "address", addr, "stake", stake, "activationEpoch", activationEpoch)
	return nil
}

// InitiateExit begins the unbonding period for addr (§4.1).
func (e *Engine) InitiateExit(addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validators.InitiateExit(addr, e.currentEpoch)
}

// Withdraw transitions an Exiting validator to Withdrawable once its
// unbonding period has elapsed (§4.1).
func (e *Engine) Withdraw(addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validators.MakeWithdrawable(addr, e.currentEpoch)
}

// CalculatePoCScore is a read-only operation; it takes the read lock
// only, allowing concurrent callers (§5: many readers).
func (e *Engine) CalculatePoCScore(addr common.Address) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.validators.Get(addr)
	if !ok {
		return 0, ErrValidatorNotFound
	}
	return e.scorer.CalculatePoCScore(v)
}

// SelectCommittee seals the committee for epoch and retains it for
// ProposerAt/GetMember lookups within the epoch (§4.3).
func (e *Engine) SelectCommittee(epoch uint64, seed [32]byte, proofs map[common.Address][]byte, pubKeys map[common.Address][]byte) (*Committee, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	eligible := e.validators.Eligible()
	committee, err := e.committees.SelectCommittee(epoch, seed, eligible, proofs, pubKeys)
	if err != nil {
		e.metrics.CommitteeSelectionFailures.Inc()
		return nil, fmt.Errorf("beacon: selecting committee for epoch %d: %w", epoch, err)
	}

	e.sealedCommittees[epoch] = committee
	e.stats.CommitteeSize = uint64(len(committee.Members))
	e.metrics.CommitteeSize.Set(float64(len(committee.Members)))
	log.Info("committee sealed", "epoch", epoch, "size", len(committee.Members), "aggregateWeight", committee.AggregateWeight)
	return committee, nil
}

// ProcessBlock registers a proposed block into the fork-choice tree and
// runs the double-proposal check (§4.4, §4.6).
func (e *Engine) ProcessBlock(hash, parent common.Hash, slot, number uint64, proposer, whistleblower common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.forkChoice.AddBlock(hash, parent, slot, number); err != nil {
		return fmt.Errorf("beacon: adding block %s: %w", hash, err)
	}

	ev, err := e.slashing.ReportProposal(proposer, slot, hash, whistleblower, e.currentEpoch)
	if err != nil {
		return fmt.Errorf("beacon: checking double proposal: %w", err)
	}
	if ev != nil {
		e.stats.SlashingEvents++
		e.metrics.SlashingEvents.Inc()
		log.Warn("validator slashed", "offender", ev.Offender, "offense", ev.Kind, "amount", ev.SlashAmount)
	}
	return nil
}

// ProcessAttestation validates and records att against the sealed
// committee for its target epoch, updates fork-choice vote weight, and
// attempts justification/finalization (§4.4, §4.5, §4.6).
func (e *Engine) ProcessAttestation(att Attestation, whistleblower common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	committee, ok := e.sealedCommittees[att.Target.Epoch]
	if !ok {
		return fmt.Errorf("beacon: processing attestation: %w", ErrNotCommitteeMember)
	}
	member, ok := committee.GetMember(att.Validator)
	if !ok {
		return fmt.Errorf("beacon: processing attestation: %w", ErrNotCommitteeMember)
	}

	prevFinalized := e.finality.Finalized()
	prevJustified := e.finality.Justified()

	if err := e.finality.ProcessAttestation(att, committee); err != nil {
		ev, slashErr := e.reportEquivocation(err, att.Validator, att.Target.Epoch, att.BlockHash, whistleblower)
		if slashErr != nil {
			return fmt.Errorf("beacon: slashing after equivocation: %w", slashErr)
		}
		if ev != nil {
			e.stats.SlashingEvents++
			e.metrics.SlashingEvents.Inc()
		}
		return fmt.Errorf("beacon: processing attestation: %w", err)
	}

	if err := e.forkChoice.ProcessAttestation(att.Validator, att.Target.Root, att.Slot, member.StakeWeight); err != nil {
		return fmt.Errorf("beacon: updating fork choice: %w", err)
	}

	e.stats.AttestationsProcessed++
	e.metrics.AttestationsProcessed.Inc()

	if nowJustified := e.finality.Justified(); nowJustified.Epoch > prevJustified.Epoch {
		e.stats.Justifications++
		e.stats.LastJustifiedEpoch = nowJustified.Epoch
		e.metrics.Justifications.Inc()
		log.Info("checkpoint justified", "epoch", nowJustified.Epoch, "root", nowJustified.Root)
	}
	if nowFinalized := e.finality.Finalized(); nowFinalized.Epoch > prevFinalized.Epoch {
		e.stats.Finalizations++
		e.stats.LastFinalizedEpoch = nowFinalized.Epoch
		e.metrics.Finalizations.Inc()
		log.Info("checkpoint finalized", "epoch", nowFinalized.Epoch, "root", nowFinalized.Root)
	}

	return nil
}

// reportEquivocation maps a finality-gadget equivocation error to the
// matching slashing-detector report call.
func (e *Engine) reportEquivocation(err error, validator common.Address, epoch uint64, blockHash common.Hash, whistleblower common.Address) (*Evidence, error) {
	switch err {
	case ErrDoubleAttestation:
		return e.slashing.ReportAttestation(validator, epoch, blockHash, whistleblower, e.currentEpoch)
	case ErrSurroundVote:
		return e.slashing.ReportSurroundVote(validator, whistleblower, e.currentEpoch)
	default:
		return nil, nil
	}
}

// Head returns the current LMD-GHOST canonical head (§4.4).
func (e *Engine) Head() (common.Hash, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.forkChoice.GetHead()
}

// Justified and Finalized expose the finality gadget's current
// checkpoints (§4.5).
func (e *Engine) Justified() Checkpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.finality.Justified()
}

func (e *Engine) Finalized() Checkpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.finality.Finalized()
}

// AdvanceEpoch applies automatic lifecycle transitions, prunes stale
// slashing bookkeeping, and bumps the engine's epoch counter (§4.1,
// §4.6). The node layer calls this once per epoch boundary; the engine
// itself never schedules the call (§5).
func (e *Engine) AdvanceEpoch(epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.validators.AdvanceEpoch(epoch)
	e.slashing.PruneBefore(epoch)
	delete(e.sealedCommittees, safeEpochMinus(epoch, e.cfg.KeepEpochs))
	e.currentEpoch = epoch
}

func safeEpochMinus(epoch, delta uint64) uint64 {
	if epoch < delta {
		return 0
	}
	return epoch - delta
}

// Reward computes the epoch reward for a validator's own stake (§4.7).
func (e *Engine) Reward(addr common.Address, epochs uint64) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.validators.Get(addr)
	if !ok {
		return nil, ErrValidatorNotFound
	}
	return e.rewards.EpochReward(v.Stake, epochs), nil
}

// Stats returns a snapshot of engine-wide counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Validators exposes the underlying set for operations engine.go does
// not wrap directly (e.g. Active(), Len()) — still safe for concurrent
// readers since ValidatorSet carries its own lock.
func (e *Engine) Validators() *ValidatorSet {
	return e.validators
}
