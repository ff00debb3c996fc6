// Copyright 2024 The go-equa Authors

package beacon

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func hashN(n byte) common.Hash {
	var h common.Hash
	h[31] = n
	return h
}

func TestForkChoiceGetHeadFollowsGreatestWeight(t *testing.T) {
	genesis := hashN(0)
	cfg := testConfig()
	fc := NewForkChoice(cfg, genesis)

	a := hashN(1)
	b := hashN(2)
	require.NoError(t, fc.AddBlock(a, genesis, 1, 1))
	require.NoError(t, fc.AddBlock(b, genesis, 1, 1))

	v1 := common.HexToAddress("0x01")
	v2 := common.HexToAddress("0x02")
	v3 := common.HexToAddress("0x03")

	require.NoError(t, fc.ProcessAttestation(v1, a, 2, 1.0))
	require.NoError(t, fc.ProcessAttestation(v2, b, 2, 1.0))
	require.NoError(t, fc.ProcessAttestation(v3, b, 2, 1.0))

	head, err := fc.GetHead()
	require.NoError(t, err)
	require.Equal(t, b, head)
}

func TestForkChoiceLatestMessageReplacesOlder(t *testing.T) {
	genesis := hashN(0)
	fc := NewForkChoice(testConfig(), genesis)

	a := hashN(1)
	b := hashN(2)
	require.NoError(t, fc.AddBlock(a, genesis, 1, 1))
	require.NoError(t, fc.AddBlock(b, genesis, 1, 1))

	v1 := common.HexToAddress("0x01")
	require.NoError(t, fc.ProcessAttestation(v1, a, 1, 1.0))
	// Later slot vote for b should move v1's weight from a to b entirely.
	require.NoError(t, fc.ProcessAttestation(v1, b, 2, 1.0))

	head, err := fc.GetHead()
	require.NoError(t, err)
	require.Equal(t, b, head)

	// An older-slot vote must not be able to move weight backward.
	require.NoError(t, fc.ProcessAttestation(v1, a, 1, 1.0))
	head, err = fc.GetHead()
	require.NoError(t, err)
	require.Equal(t, b, head)
}

func TestForkChoiceDescendantAttributionReachesAncestors(t *testing.T) {
	genesis := hashN(0)
	fc := NewForkChoice(testConfig(), genesis)

	a := hashN(1)
	b := hashN(2) // sibling of a
	aChild := hashN(3)

	require.NoError(t, fc.AddBlock(a, genesis, 1, 1))
	require.NoError(t, fc.AddBlock(b, genesis, 1, 1))
	require.NoError(t, fc.AddBlock(aChild, a, 2, 2))

	v1 := common.HexToAddress("0x01")
	// A vote for the grandchild must strengthen "a"'s subtree over "b",
	// even though no validator voted for "a" directly.
	require.NoError(t, fc.ProcessAttestation(v1, aChild, 2, 5.0))

	head, err := fc.GetHead()
	require.NoError(t, err)
	require.Equal(t, aChild, head)
}

func TestForkChoiceUnknownBlockErrors(t *testing.T) {
	fc := NewForkChoice(testConfig(), hashN(0))
	err := fc.AddBlock(hashN(1), hashN(99), 1, 1)
	require.ErrorIs(t, err, ErrUnknownBlock)
}

func TestForkChoiceIsAncestor(t *testing.T) {
	genesis := hashN(0)
	fc := NewForkChoice(testConfig(), genesis)
	a := hashN(1)
	b := hashN(2)
	require.NoError(t, fc.AddBlock(a, genesis, 1, 1))
	require.NoError(t, fc.AddBlock(b, a, 2, 2))

	require.True(t, fc.IsAncestor(genesis, b))
	require.True(t, fc.IsAncestor(a, b))
	require.False(t, fc.IsAncestor(b, a))
}
