// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Validator Set

package beacon

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrValidatorExists is returned by Register when the address is
	// already known, regardless of its current status.
	ErrValidatorExists = errors.New("beacon: validator already registered")
	// ErrValidatorNotFound is returned by any lookup/mutation on an
	// address the set has never seen.
	ErrValidatorNotFound = errors.New("beacon: validator not found")
	// ErrInsufficientStake is returned by Register when stake is below
	// the configured minimum (§4.1).
	ErrInsufficientStake = errors.New("beacon: stake below minimum")
)

// ValidatorSet owns every Validator record (§3: "the authoritative
// record"). All mutation goes through it; no other component may write
// a Validator's Status, Stake or epoch fields. The lifecycle is
// deliberately idempotent on invalid transitions (I1): callers get a
// no-op, not a panic, when a transition does not apply — mirroring how
// the teacher's engine treats already-active/-exited validators.
type ValidatorSet struct {
	mu         sync.RWMutex
	validators map[common.Address]*Validator
	minStake   *uint256.Int
	unbondDelay uint64
}

// NewValidatorSet constructs an empty set parameterized by cfg.
func NewValidatorSet(cfg *Config) *ValidatorSet {
	return &ValidatorSet{
		validators:  make(map[common.Address]*Validator),
		minStake:    cfg.MinStake,
		unbondDelay: cfg.UnbondingDelayEpochs,
	}
}

// Register admits a new validator in StatusPending (§4.1). Re-registering
// an existing address is an error: identity is the address, forever.
func (vs *ValidatorSet) Register(addr common.Address, stake *uint256.Int, withdrawalCreds [32]byte, activationEpoch uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, ok := vs.validators[addr]; ok {
		return ErrValidatorExists
	}
	if stake.Cmp(vs.minStake) < 0 {
		return ErrInsufficientStake
	}

	vs.validators[addr] = &Validator{
		Address:               addr,
		WithdrawalCredentials: withdrawalCreds,
		Stake:                 new(uint256.Int).Set(stake),
		Status:                StatusPending,
		ActivationEpoch:       activationEpoch,
	}
	return nil
}

// Activate transitions Pending -> Active once the current epoch reaches
// ActivationEpoch. Any other status (including Pending before its
// activation epoch) is a no-op, not an error, per I1.
func (vs *ValidatorSet) Activate(addr common.Address, currentEpoch uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.validators[addr]
	if !ok {
		return ErrValidatorNotFound
	}
	if v.Status == StatusPending && currentEpoch >= v.ActivationEpoch {
		v.Status = StatusActive
	}
	return nil
}

// InitiateExit transitions Active -> Exiting, setting ExitEpoch to
// currentEpoch+UnbondingDelayEpochs and WithdrawableEpoch to a further
// UnbondingDelayEpochs after ExitEpoch (§4.1). Called on any other status, this is a no-op: an
// already-exiting, withdrawable, or slashed validator cannot re-exit.
func (vs *ValidatorSet) InitiateExit(addr common.Address, currentEpoch uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.validators[addr]
	if !ok {
		return ErrValidatorNotFound
	}
	if v.Status != StatusActive {
		return nil
	}
	exitEpoch := currentEpoch + vs.unbondDelay
	withdrawable := exitEpoch + vs.unbondDelay
	v.Status = StatusExiting
	v.ExitEpoch = &exitEpoch
	v.WithdrawableEpoch = &withdrawable
	return nil
}

// MakeWithdrawable transitions Exiting -> Withdrawable once the current
// epoch reaches WithdrawableEpoch. No-op otherwise.
func (vs *ValidatorSet) MakeWithdrawable(addr common.Address, currentEpoch uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.validators[addr]
	if !ok {
		return ErrValidatorNotFound
	}
	if v.Status == StatusExiting && v.WithdrawableEpoch != nil && currentEpoch >= *v.WithdrawableEpoch {
		v.Status = StatusWithdrawable
	}
	return nil
}

// Slash transitions any CanBeSlashed status to Slashed and marks
// Slashed permanently true (I1: Slashed is terminal, never reversible).
// Called on a validator that cannot be slashed (already Slashed, still
// Pending, or already Withdrawable), this is a no-op.
func (vs *ValidatorSet) Slash(addr common.Address, currentEpoch uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.validators[addr]
	if !ok {
		return ErrValidatorNotFound
	}
	if !v.Status.CanBeSlashed() {
		return nil
	}
	v.Status = StatusSlashed
	v.Slashed = true
	exitEpoch := currentEpoch
	withdrawable := currentEpoch + vs.unbondDelay*2
	v.ExitEpoch = &exitEpoch
	v.WithdrawableEpoch = &withdrawable
	return nil
}

// ReduceStake subtracts amount from addr's stake (§4.6, §4.7: a slash
// must actually remove stake, not just flip status). Checked
// subtraction per §7: if amount exceeds the current stake, the entire
// stake is burned to zero rather than underflowing.
func (vs *ValidatorSet) ReduceStake(addr common.Address, amount *uint256.Int) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.validators[addr]
	if !ok {
		return ErrValidatorNotFound
	}

	remaining, underflow := new(uint256.Int).SubOverflow(v.Stake, amount)
	if underflow {
		v.Stake = new(uint256.Int)
		return nil
	}
	v.Stake = remaining
	return nil
}

// UpdateContribution overwrites the accounting inputs to the PoC score
// for addr (§4.2); called by the node layer at epoch boundaries after
// tallying blocks/attestations/uptime.
func (vs *ValidatorSet) UpdateContribution(addr common.Address, m ContributionMetrics) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.validators[addr]
	if !ok {
		return ErrValidatorNotFound
	}
	v.Contribution = m
	return nil
}

// AdvanceEpoch bumps LastObservedEpoch for every validator and applies
// the automatic Pending->Active and Exiting->Withdrawable transitions
// whose epoch has arrived, in one pass (§4.1).
func (vs *ValidatorSet) AdvanceEpoch(epoch uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	for _, v := range vs.validators {
		v.LastObservedEpoch = epoch
		if v.Status == StatusPending && epoch >= v.ActivationEpoch {
			v.Status = StatusActive
		}
		if v.Status == StatusExiting && v.WithdrawableEpoch != nil && epoch >= *v.WithdrawableEpoch {
			v.Status = StatusWithdrawable
		}
	}
}

// Get returns a deep copy of the validator record for addr, safe for a
// concurrent reader to retain (§5).
func (vs *ValidatorSet) Get(addr common.Address) (*Validator, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	v, ok := vs.validators[addr]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Active returns a snapshot slice of every StatusActive validator,
// deep-copied (§4.1: "active" = eligible for committee selection and
// proposing).
func (vs *ValidatorSet) Active() []*Validator {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	out := make([]*Validator, 0, len(vs.validators))
	for _, v := range vs.validators {
		if v.Status == StatusActive {
			out = append(out, v.Clone())
		}
	}
	return out
}

// Eligible returns active validators whose stake meets minStake — the
// pool the committee sampler draws from (§4.3 step 0).
func (vs *ValidatorSet) Eligible() []*Validator {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	out := make([]*Validator, 0, len(vs.validators))
	for _, v := range vs.validators {
		if v.Status == StatusActive && v.Stake.Cmp(vs.minStake) >= 0 {
			out = append(out, v.Clone())
		}
	}
	return out
}

// Len reports the total number of known validators, any status.
func (vs *ValidatorSet) Len() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.validators)
}
