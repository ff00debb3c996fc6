// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Proof-of-Contribution Scoring

package beacon

import (
	"errors"
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrStakeBelowMinimum is returned by CalculatePoCScore when a
// validator's stake is below the configured minimum (§4.2).
var ErrStakeBelowMinimum = errors.New("beacon: stake below minimum for poc scoring")

// PoCScorer computes the weighted stake/contribution/age score (§4.2)
// that the committee sampler keys selection on.
type PoCScorer struct {
	minStake           *uint256.Int
	maxEffectiveStake  *uint256.Int
	stakeWeight        float64
	contributionWeight float64
	ageWeight          float64
	ageThresholdEpochs uint64
}

// NewPoCScorer builds a scorer from cfg.
func NewPoCScorer(cfg *Config) *PoCScorer {
	return &PoCScorer{
		minStake:           cfg.MinStake,
		maxEffectiveStake:  cfg.MaxEffectiveStake,
		stakeWeight:        cfg.StakeWeight,
		contributionWeight: cfg.ContributionWeight,
		ageWeight:          cfg.AgeWeight,
		ageThresholdEpochs: cfg.AgeThresholdEpochs,
	}
}

// stakeComponent is sqrt(min(stake, maxEffectiveStake)) / sqrt(maxEffectiveStake)
// (§4.2: "stake component uses a square-root curve to avoid pure
// plutocracy"), matching original_source/crates/merklith-consensus/src/poc.rs
// literally rather than normalizing against minStake first — a validator
// at minStake still gets sqrt(minStake)/sqrt(maxStake), not zero.
func (s *PoCScorer) stakeComponent(stake *uint256.Int) float64 {
	clipped := stake
	if stake.Cmp(s.maxEffectiveStake) > 0 {
		clipped = s.maxEffectiveStake
	}

	maxF := uint256ToFloat(s.maxEffectiveStake)
	if maxF <= 0 {
		return 1.0
	}
	stF := uint256ToFloat(clipped)

	return math.Sqrt(stF) / math.Sqrt(maxF)
}

// contributionComponent blends tx throughput, gas provided, blocks
// proposed and uptime at 40/20/20/20, clipped to [0,1] (§4.2). TxCount,
// GasProvided and BlocksProposed are raw counts, scaled here by dividing
// by 1000 and clipping at 1; UptimeBps is a basis-points fraction
// converted here by dividing by 10000.
func (s *PoCScorer) contributionComponent(m ContributionMetrics) float64 {
	norm := func(v uint64) float64 {
		f := float64(v) / 1000.0
		if f > 1 {
			return 1
		}
		return f
	}

	tx := norm(m.TxCount)
	gas := norm(m.GasProvided)
	blocks := norm(m.BlocksProposed)
	uptime := float64(m.UptimeBps) / 10000.0
	if uptime > 1 {
		uptime = 1
	}

	score := 0.4*tx + 0.2*gas + 0.2*blocks + 0.2*uptime
	return clip01(score)
}

// ageComponent grows linearly from 0 to 1 as epochsActive reaches
// ageThresholdEpochs, then saturates at 1 (§4.2: rewards validators who
// have been active long enough to be proven, not forever-increasing).
func (s *PoCScorer) ageComponent(epochsActive uint64) float64 {
	if s.ageThresholdEpochs == 0 {
		return 1.0
	}
	if epochsActive >= s.ageThresholdEpochs {
		return 1.0
	}
	return float64(epochsActive) / float64(s.ageThresholdEpochs)
}

// CalculatePoCScore computes the weighted sum of the stake, contribution
// and age components for v (§4.2). Returns ErrStakeBelowMinimum if v's
// stake is below the configured minimum — such a validator contributes
// no score and cannot be selected.
func (s *PoCScorer) CalculatePoCScore(v *Validator) (float64, error) {
	if v.Stake.Cmp(s.minStake) < 0 {
		return 0, ErrStakeBelowMinimum
	}

	stake := s.stakeComponent(v.Stake)
	contribution := s.contributionComponent(v.Contribution)
	age := s.ageComponent(v.Contribution.EpochsActive)

	score := s.stakeWeight*stake + s.contributionWeight*contribution + s.ageWeight*age
	return clip01(score), nil
}

func clip01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// uint256ToFloat converts a uint256 to a float64. PoC scoring is a
// relative ranking signal, not accounting; precision loss above 2^53 is
// acceptable here (§4.2 is explicit that stake only needs to be
// compared on a curved, clipped scale).
func uint256ToFloat(v *uint256.Int) float64 {
	bf := new(big.Float).SetInt(v.ToBig())
	f, _ := bf.Float64()
	return f
}
