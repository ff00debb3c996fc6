// Copyright 2024 The go-equa Authors

package beacon

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func newSlashingFixture(t *testing.T) (*SlashingDetector, *ValidatorSet, common.Address) {
	t.Helper()
	cfg := testConfig()
	vs := NewValidatorSet(cfg)
	addr := common.HexToAddress("0x01")
	require.NoError(t, vs.Register(addr, stakeOf(32), [32]byte{}, 0))
	require.NoError(t, vs.Activate(addr, 0))

	sd, err := NewSlashingDetector(cfg, vs)
	require.NoError(t, err)
	return sd, vs, addr
}

func TestSlashingDoubleProposalDetected(t *testing.T) {
	sd, vs, addr := newSlashingFixture(t)
	whistle := common.HexToAddress("0x99")

	ev, err := sd.ReportProposal(addr, 10, hashN(1), whistle, 1)
	require.NoError(t, err)
	require.Nil(t, ev)

	ev, err = sd.ReportProposal(addr, 10, hashN(2), whistle, 1)
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, OffenseDoubleProposal, ev.Kind)

	v, _ := vs.Get(addr)
	require.Equal(t, StatusSlashed, v.Status)
}

func TestSlashingReducesStakeToZeroForFullSeverityOffense(t *testing.T) {
	sd, vs, addr := newSlashingFixture(t)
	whistle := common.HexToAddress("0x99")

	_, err := sd.ReportProposal(addr, 10, hashN(1), whistle, 1)
	require.NoError(t, err)
	ev, err := sd.ReportProposal(addr, 10, hashN(2), whistle, 1)
	require.NoError(t, err)
	require.NotNil(t, ev)

	v, ok := vs.Get(addr)
	require.True(t, ok)
	require.True(t, v.Stake.IsZero(), "100 percent severity offense must zero out stake")
}

func TestSlashingSameBlockRepeatedIsNotDoubleProposal(t *testing.T) {
	sd, _, addr := newSlashingFixture(t)
	whistle := common.HexToAddress("0x99")

	_, err := sd.ReportProposal(addr, 10, hashN(1), whistle, 1)
	require.NoError(t, err)
	ev, err := sd.ReportProposal(addr, 10, hashN(1), whistle, 1)
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestSlashingIsNoOpAfterAlreadySlashed(t *testing.T) {
	sd, _, addr := newSlashingFixture(t)
	whistle := common.HexToAddress("0x99")

	_, err := sd.ReportProposal(addr, 10, hashN(1), whistle, 1)
	require.NoError(t, err)
	_, err = sd.ReportProposal(addr, 10, hashN(2), whistle, 1)
	require.NoError(t, err)

	// Further reports on the same (now-slashed) validator are no-ops.
	ev, err := sd.ReportProposal(addr, 11, hashN(3), whistle, 2)
	require.NoError(t, err)
	require.Nil(t, ev)

	ev, err = sd.ReportSurroundVote(addr, whistle, 2)
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestSlashingDoubleAttestationDetected(t *testing.T) {
	sd, vs, addr := newSlashingFixture(t)
	whistle := common.HexToAddress("0x99")

	ev, err := sd.ReportAttestation(addr, 5, hashN(1), whistle, 5)
	require.NoError(t, err)
	require.Nil(t, ev)

	ev, err = sd.ReportAttestation(addr, 5, hashN(2), whistle, 5)
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, OffenseDoubleAttestation, ev.Kind)

	v, _ := vs.Get(addr)
	require.Equal(t, StatusSlashed, v.Status)
}

func TestSlashAmountSplitsDoNotExceedTotal(t *testing.T) {
	sd, _, _ := newSlashingFixture(t)
	amount := stakeOf(32)

	whistleShare := sd.WhistleblowerShare(amount)
	proposerShare := sd.ProposerShare(amount)

	sum := whistleShare.Clone()
	sum.Add(sum, proposerShare)
	require.True(t, sum.Cmp(amount) <= 0)
}

func TestPruneBeforeRemovesOldAttestationKeys(t *testing.T) {
	cfg := testConfig()
	cfg.KeepEpochs = 2
	vs := NewValidatorSet(cfg)
	addr := common.HexToAddress("0x01")
	require.NoError(t, vs.Register(addr, stakeOf(32), [32]byte{}, 0))
	require.NoError(t, vs.Activate(addr, 0))
	sd, err := NewSlashingDetector(cfg, vs)
	require.NoError(t, err)

	whistle := common.HexToAddress("0x99")
	_, err = sd.ReportAttestation(addr, 1, hashN(1), whistle, 1)
	require.NoError(t, err)

	sd.PruneBefore(10)

	// The old key at epoch 1 is gone, so re-reporting a different block at
	// the same epoch for the same validator must not be seen as a conflict.
	ev, err := sd.ReportAttestation(addr, 1, hashN(2), whistle, 10)
	require.NoError(t, err)
	require.Nil(t, ev)
}
