// Copyright 2024 The go-equa Authors

package beacon

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// buildChain wires a ForkChoice with a 4-epoch chain of checkpoints,
// genesis(0) -> cp1(1) -> cp2(2) -> cp3(3), each block also registered
// as its own checkpoint root, and a 4-member equal-weight committee.
func buildChain(t *testing.T) (*ForkChoice, *FinalityGadget, *Committee, []common.Address) {
	t.Helper()
	genesis := hashN(0)
	fc := NewForkChoice(testConfig(), genesis)

	cp1 := hashN(1)
	cp2 := hashN(2)
	cp3 := hashN(3)
	require.NoError(t, fc.AddBlock(cp1, genesis, 1, 1))
	require.NoError(t, fc.AddBlock(cp2, cp1, 2, 2))
	require.NoError(t, fc.AddBlock(cp3, cp2, 3, 3))

	members := make([]common.Address, 4)
	committeeMembers := make([]CommitteeMember, 4)
	for i := range members {
		addr := common.HexToAddress("0x10")
		addr[19] = byte(i + 1)
		members[i] = addr
		committeeMembers[i] = CommitteeMember{Address: addr, StakeWeight: 1.0}
	}
	committee := &Committee{Epoch: 1, Members: committeeMembers, AggregateWeight: 4.0}

	gadget := NewFinalityGadget(Checkpoint{Epoch: 0, Root: genesis}, fc)
	return fc, gadget, committee, members
}

func attestFrom(gadget *FinalityGadget, committee *Committee, validators []common.Address, source, target Checkpoint) error {
	for _, val := range validators {
		att := Attestation{Validator: val, Target: target, Source: source}
		if err := gadget.ProcessAttestation(att, committee); err != nil {
			return err
		}
	}
	return nil
}

func TestFinalityJustifiesOnSupermajority(t *testing.T) {
	_, gadget, committee, members := buildChain(t)
	genesis := Checkpoint{Epoch: 0, Root: hashN(0)}
	cp1 := Checkpoint{Epoch: 1, Root: hashN(1)}

	// 3 of 4 votes clears the strict 2/3 threshold of weight 4 (> 2.666).
	require.NoError(t, attestFrom(gadget, committee, members[:3], genesis, cp1))

	require.Equal(t, cp1, gadget.Justified())
}

func TestFinalityDoesNotJustifyBelowThreshold(t *testing.T) {
	_, gadget, committee, members := buildChain(t)
	genesis := Checkpoint{Epoch: 0, Root: hashN(0)}
	cp1 := Checkpoint{Epoch: 1, Root: hashN(1)}

	// Exactly 2 of 4 (weight 2) does not exceed threshold (2.666).
	require.NoError(t, attestFrom(gadget, committee, members[:2], genesis, cp1))
	require.Equal(t, genesis, gadget.Justified())
}

func TestFinalityFinalizesOnConsecutiveLink(t *testing.T) {
	_, gadget, committee, members := buildChain(t)
	genesis := Checkpoint{Epoch: 0, Root: hashN(0)}
	cp1 := Checkpoint{Epoch: 1, Root: hashN(1)}
	cp2 := Checkpoint{Epoch: 2, Root: hashN(2)}

	require.NoError(t, attestFrom(gadget, committee, members[:3], genesis, cp1))
	require.Equal(t, cp1, gadget.Justified())
	require.Equal(t, genesis, gadget.Finalized())

	// cp1 -> cp2 supermajority link finalizes cp1 (and cascades to genesis,
	// already finalized) and justifies cp2.
	require.NoError(t, attestFrom(gadget, committee, members[:3], cp1, cp2))

	require.Equal(t, cp2, gadget.Justified())
	require.Equal(t, cp1, gadget.Finalized())

	state, ok := gadget.StateOf(cp1)
	require.True(t, ok)
	require.Equal(t, BlockFinalized, state)
}

func TestFinalityIgnoresVotesWithUnjustifiedSource(t *testing.T) {
	_, gadget, committee, members := buildChain(t)
	cp1 := Checkpoint{Epoch: 1, Root: hashN(1)}
	cp2 := Checkpoint{Epoch: 2, Root: hashN(2)}

	// cp2's source is cp1, but cp1 has never been justified — this link
	// must not count toward cp2's justification weight even though a
	// supermajority of the committee signs it.
	require.NoError(t, attestFrom(gadget, committee, members[:3], cp1, cp2))

	require.Equal(t, Checkpoint{Epoch: 0, Root: hashN(0)}, gadget.Justified())
	_, ok := gadget.StateOf(cp2)
	require.False(t, ok, "checkpoint with unjustified source must never accrue weight")
}

func TestFinalityRejectsNonCommitteeMember(t *testing.T) {
	_, gadget, committee, _ := buildChain(t)
	genesis := Checkpoint{Epoch: 0, Root: hashN(0)}
	cp1 := Checkpoint{Epoch: 1, Root: hashN(1)}

	outsider := common.HexToAddress("0xffff")
	err := gadget.ProcessAttestation(Attestation{Validator: outsider, Source: genesis, Target: cp1}, committee)
	require.ErrorIs(t, err, ErrNotCommitteeMember)
}

func TestFinalityDetectsDoubleAttestation(t *testing.T) {
	_, gadget, committee, members := buildChain(t)
	genesis := Checkpoint{Epoch: 0, Root: hashN(0)}
	cp1 := Checkpoint{Epoch: 1, Root: hashN(1)}
	cp1Alt := Checkpoint{Epoch: 1, Root: hashN(99)}

	val := members[0]
	require.NoError(t, gadget.ProcessAttestation(Attestation{Validator: val, Source: genesis, Target: cp1}, committee))

	err := gadget.ProcessAttestation(Attestation{Validator: val, Source: genesis, Target: cp1Alt}, committee)
	require.ErrorIs(t, err, ErrDoubleAttestation)
}

func TestFinalityDetectsSurroundVote(t *testing.T) {
	_, gadget, committee, members := buildChain(t)
	genesis := Checkpoint{Epoch: 0, Root: hashN(0)}
	cp1 := Checkpoint{Epoch: 1, Root: hashN(1)}
	cp3 := Checkpoint{Epoch: 3, Root: hashN(3)}
	cp2 := Checkpoint{Epoch: 2, Root: hashN(2)}

	val := members[0]
	// First vote: source=genesis(0), target=cp3(3) — a wide span.
	require.NoError(t, gadget.ProcessAttestation(Attestation{Validator: val, Source: genesis, Target: cp3}, committee))

	// Second vote: source=cp1(1), target=cp2(2) — surrounded by the first.
	err := gadget.ProcessAttestation(Attestation{Validator: val, Source: cp1, Target: cp2}, committee)
	require.ErrorIs(t, err, ErrSurroundVote)
}

func TestFinalityMonotonicJustifiedNeverRewinds(t *testing.T) {
	_, gadget, committee, members := buildChain(t)
	genesis := Checkpoint{Epoch: 0, Root: hashN(0)}
	cp1 := Checkpoint{Epoch: 1, Root: hashN(1)}

	require.NoError(t, attestFrom(gadget, committee, members[:3], genesis, cp1))
	before := gadget.Justified()
	require.Equal(t, cp1, before)

	// No further valid attestations arrive; Justified must not regress.
	require.Equal(t, before, gadget.Justified())
}
