// Copyright 2024 The go-equa Authors

package beacon

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestCalculatePoCScoreBelowMinStake(t *testing.T) {
	scorer := NewPoCScorer(testConfig())
	v := &Validator{Address: common.HexToAddress("0x01"), Stake: stakeOf(1)}

	_, err := scorer.CalculatePoCScore(v)
	require.ErrorIs(t, err, ErrStakeBelowMinimum)
}

func TestCalculatePoCScoreIsClippedToUnitInterval(t *testing.T) {
	scorer := NewPoCScorer(testConfig())
	v := &Validator{
		Address: common.HexToAddress("0x01"),
		Stake:   stakeOf(100000), // far above MaxEffectiveStake, clipped
		Contribution: ContributionMetrics{
			TxCount: 100000, GasProvided: 100000, BlocksProposed: 100000,
			UptimeBps: 20000, EpochsActive: 1_000_000,
		},
	}

	score, err := scorer.CalculatePoCScore(v)
	require.NoError(t, err)
	require.LessOrEqual(t, score, 1.0)
	require.GreaterOrEqual(t, score, 0.0)
}

func TestCalculatePoCScoreMonotoneInStake(t *testing.T) {
	scorer := NewPoCScorer(testConfig())
	low := &Validator{Address: common.HexToAddress("0x01"), Stake: stakeOf(32)}
	high := &Validator{Address: common.HexToAddress("0x02"), Stake: stakeOf(160)}

	lowScore, err := scorer.CalculatePoCScore(low)
	require.NoError(t, err)
	highScore, err := scorer.CalculatePoCScore(high)
	require.NoError(t, err)

	require.Greater(t, highScore, lowScore)
}

func TestCalculatePoCScoreMonotoneInAge(t *testing.T) {
	scorer := NewPoCScorer(testConfig())
	young := &Validator{Address: common.HexToAddress("0x01"), Stake: stakeOf(32), Contribution: ContributionMetrics{EpochsActive: 1}}
	old := &Validator{Address: common.HexToAddress("0x02"), Stake: stakeOf(32), Contribution: ContributionMetrics{EpochsActive: 100}}

	youngScore, err := scorer.CalculatePoCScore(young)
	require.NoError(t, err)
	oldScore, err := scorer.CalculatePoCScore(old)
	require.NoError(t, err)

	require.GreaterOrEqual(t, oldScore, youngScore)
}

func TestAgeComponentSaturatesAtThreshold(t *testing.T) {
	scorer := NewPoCScorer(testConfig())
	require.Equal(t, 1.0, scorer.ageComponent(scorer.ageThresholdEpochs))
	require.Equal(t, 1.0, scorer.ageComponent(scorer.ageThresholdEpochs*10))
	require.Less(t, scorer.ageComponent(scorer.ageThresholdEpochs/2), 1.0)
}
