// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - TOML Configuration Loading

package beacon

import (
	"fmt"
	"io"
	"os"

	"github.com/holiman/uint256"
	"github.com/naoina/toml"
)

// fileConfig is the TOML wire shape, field names following
// merklith-node's config.rs naming (snake_case on the wire, matched to
// Config's Go fields). Stake fields are decimal strings on the wire
// since TOML has no native 256-bit integer type.
type fileConfig struct {
	UnbondingDelayEpochs uint64 `toml:"unbonding_delay_epochs"`
	MinStake             string `toml:"min_stake"`
	MaxEffectiveStake    string `toml:"max_effective_stake"`
	StakeWeight          float64 `toml:"stake_weight"`
	ContributionWeight   float64 `toml:"contribution_weight"`
	AgeWeight            float64 `toml:"age_weight"`
	AgeThresholdEpochs   uint64 `toml:"age_threshold_epochs"`

	CommitteeTargetSize uint64  `toml:"committee_target_size"`
	CommitteeMinSize    uint64  `toml:"committee_min_size"`
	CommitteeMaxSize    uint64  `toml:"committee_max_size"`
	MinCommitteePoC     float64 `toml:"min_committee_poc"`
	StakeWeightBoost    float64 `toml:"stake_weight_boost"`

	MaxReorgDepth uint64 `toml:"max_reorg_depth"`

	InactivityLeakEpochs uint64 `toml:"inactivity_leak_epochs"`

	KeepEpochs                uint64 `toml:"keep_epochs"`
	WhistleblowerRewardBps    uint64 `toml:"whistleblower_reward_bps"`
	ProposerRewardBps         uint64 `toml:"proposer_reward_bps"`
	SlashDoubleProposalBps    uint64 `toml:"slash_double_proposal_bps"`
	SlashDoubleAttestationBps uint64 `toml:"slash_double_attestation_bps"`
	SlashSurroundVoteBps      uint64 `toml:"slash_surround_vote_bps"`
	SlashInvalidBlockBps      uint64 `toml:"slash_invalid_block_bps"`
	SlashInvalidAttBps        uint64 `toml:"slash_invalid_attestation_bps"`

	AnnualRewardBps   uint64 `toml:"annual_reward_bps"`
	EpochsPerYear     uint64 `toml:"epochs_per_year"`
	InactivityLeakBps uint64 `toml:"inactivity_leak_bps"`
}

// LoadConfig reads a TOML configuration file at path and overlays it on
// top of DefaultConfig, following the teacher's own naoina/toml-based
// node config loader. Any field absent from the file keeps its default.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("beacon: opening config %s: %w", path, err)
	}
	defer f.Close()
	return DecodeConfig(f)
}

// DecodeConfig reads TOML from r and overlays it on DefaultConfig.
func DecodeConfig(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("beacon: reading config: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("beacon: parsing config toml: %w", err)
	}

	cfg := DefaultConfig()
	if err := applyFileConfig(cfg, &fc); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fc *fileConfig) error {
	if fc.UnbondingDelayEpochs != 0 {
		cfg.UnbondingDelayEpochs = fc.UnbondingDelayEpochs
	}
	if fc.MinStake != "" {
		v, err := parseStakeString(fc.MinStake)
		if err != nil {
			return fmt.Errorf("beacon: parsing min_stake: %w", err)
		}
		cfg.MinStake = v
	}
	if fc.MaxEffectiveStake != "" {
		v, err := parseStakeString(fc.MaxEffectiveStake)
		if err != nil {
			return fmt.Errorf("beacon: parsing max_effective_stake: %w", err)
		}
		cfg.MaxEffectiveStake = v
	}
	if fc.StakeWeight != 0 {
		cfg.StakeWeight = fc.StakeWeight
	}
	if fc.ContributionWeight != 0 {
		cfg.ContributionWeight = fc.ContributionWeight
	}
	if fc.AgeWeight != 0 {
		cfg.AgeWeight = fc.AgeWeight
	}
	if fc.AgeThresholdEpochs != 0 {
		cfg.AgeThresholdEpochs = fc.AgeThresholdEpochs
	}
	if fc.CommitteeTargetSize != 0 {
		cfg.CommitteeTargetSize = fc.CommitteeTargetSize
	}
	if fc.CommitteeMinSize != 0 {
		cfg.CommitteeMinSize = fc.CommitteeMinSize
	}
	if fc.CommitteeMaxSize != 0 {
		cfg.CommitteeMaxSize = fc.CommitteeMaxSize
	}
	if fc.MinCommitteePoC != 0 {
		cfg.MinCommitteePoC = fc.MinCommitteePoC
	}
	if fc.StakeWeightBoost != 0 {
		cfg.StakeWeightBoost = fc.StakeWeightBoost
	}
	if fc.MaxReorgDepth != 0 {
		cfg.MaxReorgDepth = fc.MaxReorgDepth
	}
	if fc.InactivityLeakEpochs != 0 {
		cfg.InactivityLeakEpochs = fc.InactivityLeakEpochs
	}
	if fc.KeepEpochs != 0 {
		cfg.KeepEpochs = fc.KeepEpochs
	}
	if fc.WhistleblowerRewardBps != 0 {
		cfg.WhistleblowerRewardBps = fc.WhistleblowerRewardBps
	}
	if fc.ProposerRewardBps != 0 {
		cfg.ProposerRewardBps = fc.ProposerRewardBps
	}
	if fc.SlashDoubleProposalBps != 0 {
		cfg.SlashDoubleProposalBps = fc.SlashDoubleProposalBps
	}
	if fc.SlashDoubleAttestationBps != 0 {
		cfg.SlashDoubleAttestationBps = fc.SlashDoubleAttestationBps
	}
	if fc.SlashSurroundVoteBps != 0 {
		cfg.SlashSurroundVoteBps = fc.SlashSurroundVoteBps
	}
	if fc.SlashInvalidBlockBps != 0 {
		cfg.SlashInvalidBlockBps = fc.SlashInvalidBlockBps
	}
	if fc.SlashInvalidAttBps != 0 {
		cfg.SlashInvalidAttBps = fc.SlashInvalidAttBps
	}
	if fc.AnnualRewardBps != 0 {
		cfg.AnnualRewardBps = fc.AnnualRewardBps
	}
	if fc.EpochsPerYear != 0 {
		cfg.EpochsPerYear = fc.EpochsPerYear
	}
	if fc.InactivityLeakBps != 0 {
		cfg.InactivityLeakBps = fc.InactivityLeakBps
	}
	return nil
}

func parseStakeString(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	return v, nil
}
