// Copyright 2024 The go-equa Authors

package beacon

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return DefaultConfig()
}

func stakeOf(merk uint64) *uint256.Int {
	one, _ := new(uint256.Int).SetString("1000000000000000000")
	return new(uint256.Int).Mul(one, uint256.NewInt(merk))
}

func TestValidatorSetRegisterRejectsLowStake(t *testing.T) {
	vs := NewValidatorSet(testConfig())
	addr := common.HexToAddress("0x01")

	err := vs.Register(addr, stakeOf(1), [32]byte{}, 0)
	require.ErrorIs(t, err, ErrInsufficientStake)
}

func TestValidatorSetRegisterDuplicate(t *testing.T) {
	vs := NewValidatorSet(testConfig())
	addr := common.HexToAddress("0x01")

	require.NoError(t, vs.Register(addr, stakeOf(32), [32]byte{}, 0))
	err := vs.Register(addr, stakeOf(32), [32]byte{}, 0)
	require.ErrorIs(t, err, ErrValidatorExists)
}

func TestValidatorLifecycleHappyPath(t *testing.T) {
	vs := NewValidatorSet(testConfig())
	addr := common.HexToAddress("0x01")

	require.NoError(t, vs.Register(addr, stakeOf(32), [32]byte{}, 1))

	v, ok := vs.Get(addr)
	require.True(t, ok)
	require.Equal(t, StatusPending, v.Status)

	// Too early: activation epoch not reached yet.
	require.NoError(t, vs.Activate(addr, 0))
	v, _ = vs.Get(addr)
	require.Equal(t, StatusPending, v.Status)

	require.NoError(t, vs.Activate(addr, 1))
	v, _ = vs.Get(addr)
	require.Equal(t, StatusActive, v.Status)

	require.NoError(t, vs.InitiateExit(addr, 5))
	v, _ = vs.Get(addr)
	require.Equal(t, StatusExiting, v.Status)
	require.NotNil(t, v.ExitEpoch)
	require.NotNil(t, v.WithdrawableEpoch)

	// Not yet withdrawable.
	require.NoError(t, vs.MakeWithdrawable(addr, *v.ExitEpoch))
	v2, _ := vs.Get(addr)
	require.Equal(t, StatusExiting, v2.Status)

	require.NoError(t, vs.MakeWithdrawable(addr, *v.WithdrawableEpoch))
	v3, _ := vs.Get(addr)
	require.Equal(t, StatusWithdrawable, v3.Status)
}

func TestValidatorInvalidTransitionsAreNoOps(t *testing.T) {
	vs := NewValidatorSet(testConfig())
	addr := common.HexToAddress("0x01")
	require.NoError(t, vs.Register(addr, stakeOf(32), [32]byte{}, 0))

	// InitiateExit on a Pending validator is a no-op, not an error (I1).
	require.NoError(t, vs.InitiateExit(addr, 0))
	v, _ := vs.Get(addr)
	require.Equal(t, StatusPending, v.Status)

	// MakeWithdrawable on a Pending validator is a no-op.
	require.NoError(t, vs.MakeWithdrawable(addr, 0))
	v, _ = vs.Get(addr)
	require.Equal(t, StatusPending, v.Status)
}

func TestValidatorSlashIsTerminalAndIdempotent(t *testing.T) {
	vs := NewValidatorSet(testConfig())
	addr := common.HexToAddress("0x01")
	require.NoError(t, vs.Register(addr, stakeOf(32), [32]byte{}, 0))
	require.NoError(t, vs.Activate(addr, 0))

	require.NoError(t, vs.Slash(addr, 10))
	v, _ := vs.Get(addr)
	require.Equal(t, StatusSlashed, v.Status)
	require.True(t, v.Slashed)

	// Slashing an already-slashed validator is a no-op (I1: terminal).
	require.NoError(t, vs.Slash(addr, 20))
	v2, _ := vs.Get(addr)
	require.Equal(t, StatusSlashed, v2.Status)
}

func TestValidatorSetUnknownAddressErrors(t *testing.T) {
	vs := NewValidatorSet(testConfig())
	addr := common.HexToAddress("0xdead")

	require.ErrorIs(t, vs.Activate(addr, 0), ErrValidatorNotFound)
	require.ErrorIs(t, vs.InitiateExit(addr, 0), ErrValidatorNotFound)
	require.ErrorIs(t, vs.MakeWithdrawable(addr, 0), ErrValidatorNotFound)
	require.ErrorIs(t, vs.Slash(addr, 0), ErrValidatorNotFound)
}

func TestValidatorSetEligibleFiltersByStakeAndStatus(t *testing.T) {
	vs := NewValidatorSet(testConfig())
	active := common.HexToAddress("0x01")
	pending := common.HexToAddress("0x02")

	require.NoError(t, vs.Register(active, stakeOf(32), [32]byte{}, 0))
	require.NoError(t, vs.Activate(active, 0))
	require.NoError(t, vs.Register(pending, stakeOf(32), [32]byte{}, 5))

	eligible := vs.Eligible()
	require.Len(t, eligible, 1)
	require.Equal(t, active, eligible[0].Address)
}
