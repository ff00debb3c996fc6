// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Reward and Penalty Accounting

package beacon

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RewardCalculator is a pure function of (stake, epochs, rate) with no
// side effects and no stored state (§4.7: "a pure reward/penalty
// function"); it never touches the ValidatorSet directly, so it is
// safe to call from a read path.
type RewardCalculator struct {
	annualRewardBps   uint64
	epochsPerYear     uint64
	inactivityLeakBps uint64
}

// NewRewardCalculator builds a calculator from cfg.
func NewRewardCalculator(cfg *Config) *RewardCalculator {
	return &RewardCalculator{
		annualRewardBps:   cfg.AnnualRewardBps,
		epochsPerYear:     cfg.EpochsPerYear,
		inactivityLeakBps: cfg.InactivityLeakBps,
	}
}

// EpochReward computes stake * rate_bps * epochs / 10000 / epochsPerYear
// (§4.7), the base issuance a validator earns for `epochs` epochs of
// participation at the configured annual rate.
func (rc *RewardCalculator) EpochReward(stake *uint256.Int, epochs uint64) *uint256.Int {
	if epochs == 0 || stake.IsZero() {
		return new(uint256.Int)
	}
	num, overflow := new(uint256.Int).MulOverflow(stake, uint256.NewInt(rc.annualRewardBps))
	if overflow {
		return new(uint256.Int)
	}
	num, overflow = num.MulOverflow(num, uint256.NewInt(epochs))
	if overflow {
		return new(uint256.Int)
	}
	denom := new(uint256.Int).Mul(uint256.NewInt(10000), uint256.NewInt(rc.epochsPerYear))
	if denom.IsZero() {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(num, denom)
}

// InactivityPenalty computes the penalty applied for `epochs` epochs of
// non-participation, at inactivityLeakBps of stake per epoch — the
// supplemental inactivity-leak concept (original_source's delegation
// and finality crates both reference a leak that the distilled spec
// omits, §12). This keeps stake slowly draining from validators that
// stop attesting, without slashing them outright.
func (rc *RewardCalculator) InactivityPenalty(stake *uint256.Int, epochs uint64) *uint256.Int {
	if epochs == 0 || stake.IsZero() || rc.inactivityLeakBps == 0 {
		return new(uint256.Int)
	}
	num, overflow := new(uint256.Int).MulOverflow(stake, uint256.NewInt(rc.inactivityLeakBps))
	if overflow {
		return new(uint256.Int).Set(stake)
	}
	num, overflow = num.MulOverflow(num, uint256.NewInt(epochs))
	if overflow {
		return new(uint256.Int).Set(stake)
	}
	penalty := new(uint256.Int).Div(num, uint256.NewInt(10000))
	if penalty.Cmp(stake) > 0 {
		return new(uint256.Int).Set(stake)
	}
	return penalty
}

// DelegationEntry is one delegator's stake behind a validator, supplied
// by the node's staking layer. Delegated-stake accounting and
// commission are a supplemented feature (§12), grounded on
// merklith-governance/delegation.rs, not present in the distilled spec.
type DelegationEntry struct {
	Delegator    common.Address
	Amount       *uint256.Int
	CommissionBps uint64 // validator's cut of this delegator's reward share, taken first
}

// DistributeDelegatedReward splits a validator's total epoch reward
// across its delegators pro-rata by stake, after the validator's
// commission is taken off the top of each delegator's share (mirroring
// merklith-governance's commission-first order). The validator's own
// stake (not delegated) earns its full share with no commission
// deduction; callers add that separately via EpochReward.
func (rc *RewardCalculator) DistributeDelegatedReward(totalReward *uint256.Int, delegations []DelegationEntry, totalDelegated *uint256.Int) map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(delegations))
	if totalDelegated.IsZero() || totalReward.IsZero() {
		for _, d := range delegations {
			out[d.Delegator] = new(uint256.Int)
		}
		return out
	}

	for _, d := range delegations {
		share, overflow := new(uint256.Int).MulOverflow(totalReward, d.Amount)
		if overflow {
			out[d.Delegator] = new(uint256.Int)
			continue
		}
		share = new(uint256.Int).Div(share, totalDelegated)

		commission, _ := mulDivBps(share, d.CommissionBps)
		net := new(uint256.Int).Sub(share, commission)
		out[d.Delegator] = net
	}
	return out
}
