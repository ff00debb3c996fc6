// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Two-Phase Finality Gadget

package beacon

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotCommitteeMember is returned when an attestation's validator
	// is not a member of the committee sealed for its target epoch.
	ErrNotCommitteeMember = errors.New("beacon: validator is not a committee member for this epoch")
	// ErrDoubleAttestation flags two distinct attestations from the same
	// validator for the same target epoch (§4.6 slashable offense).
	ErrDoubleAttestation = errors.New("beacon: double attestation detected")
	// ErrSurroundVote flags an attestation whose (source, target) span
	// surrounds, or is surrounded by, an earlier vote from the same
	// validator (§4.6 slashable offense).
	ErrSurroundVote = errors.New("beacon: surround vote detected")
)

// checkpointState tracks the running attestation weight and lifecycle
// state for one checkpoint (§3, §4.5).
type checkpointState struct {
	checkpoint Checkpoint
	state      BlockState
	voters     map[common.Address]float64
	weight     float64
}

// FinalityGadget implements the two-phase (Casper-FFG-style)
// justification/finalization rule of §4.5: a checkpoint is justified
// once attestations from a supermajority (> 2/3 of committee weight)
// link it from an already-justified source; it is finalized once a
// second, consecutive-epoch supermajority link immediately follows a
// justified checkpoint.
type FinalityGadget struct {
	mu sync.RWMutex

	checkpoints map[Checkpoint]*checkpointState
	// lastVote holds a validator's most recent (source, target) pair.
	lastVote map[common.Address]vote
	// allVotes retains every vote a validator has cast, indexed by
	// validator (§9 design note), so a later attestation can be checked
	// for a double attestation or a surround vote against any prior one,
	// not merely the latest.
	allVotes map[common.Address][]vote

	justified Checkpoint
	finalized Checkpoint

	fc *ForkChoice
}

// NewFinalityGadget builds a gadget rooted at genesis, wired to fc so
// that justification/finalization can move the fork-choice search root
// forward (§4.4 step 1).
func NewFinalityGadget(genesis Checkpoint, fc *ForkChoice) *FinalityGadget {
	g := &FinalityGadget{
		checkpoints: make(map[Checkpoint]*checkpointState),
		lastVote:    make(map[common.Address]vote),
		allVotes:    make(map[common.Address][]vote),
		justified:   genesis,
		finalized:   genesis,
		fc:          fc,
	}
	g.checkpoints[genesis] = &checkpointState{
		checkpoint: genesis,
		state:      BlockFinalized,
		voters:     make(map[common.Address]float64),
	}
	return g
}

// ProcessAttestation validates att against the committee, checks for
// double-attestation and surround-vote equivocation, records the vote,
// and attempts justification/finalization (§4.5, §4.6). The returned
// error, if non-nil, is one of the slashable-offense sentinels above;
// callers forward it to the slashing detector rather than discarding
// the attestation silently.
func (g *FinalityGadget) ProcessAttestation(att Attestation, committee *Committee) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	member, ok := committee.GetMember(att.Validator)
	if !ok {
		return ErrNotCommitteeMember
	}

	v := vote{Validator: att.Validator, Source: att.Source, Target: att.Target, Weight: member.StakeWeight}

	for _, prior := range g.allVotes[att.Validator] {
		if prior.Target.Epoch == v.Target.Epoch && prior.Target.Root != v.Target.Root {
			return ErrDoubleAttestation
		}
	}

	for _, prior := range g.allVotes[att.Validator] {
		if surrounds(v, prior) || surrounds(prior, v) {
			return ErrSurroundVote
		}
	}

	g.recordVote(v)
	g.tryJustify(att.Target, committee)
	g.tryFinalize(att.Target, committee)
	return nil
}

// surrounds reports whether a strictly contains b: a.source < b.source
// and b.target < a.target (the classic Casper "surround" definition,
// §4.6).
func surrounds(a, b vote) bool {
	return a.Source.Epoch < b.Source.Epoch && b.Target.Epoch < a.Target.Epoch
}

// recordVote stores v for equivocation bookkeeping unconditionally, but
// only lets it count toward the target checkpoint's justification
// weight if its source is itself already justified or finalized (§4.5
// step 3: "votes whose target = C and whose source is an earlier
// justified checkpoint"). A vote with an unjustified source is not a
// valid supermajority link and must never contribute weight — this is
// the safety core of Casper FFG, not an optimization.
func (g *FinalityGadget) recordVote(v vote) {
	g.lastVote[v.Validator] = v
	g.allVotes[v.Validator] = append(g.allVotes[v.Validator], v)

	if !g.isJustifiedOrFinalized(v.Source) {
		return
	}

	st, ok := g.checkpoints[v.Target]
	if !ok {
		st = &checkpointState{checkpoint: v.Target, state: BlockPartiallyAttested, voters: make(map[common.Address]float64)}
		g.checkpoints[v.Target] = st
	}
	if prevWeight, voted := st.voters[v.Validator]; !voted || prevWeight != v.Weight {
		if voted {
			st.weight -= prevWeight
		}
		st.voters[v.Validator] = v.Weight
		st.weight += v.Weight
	}
}

// isJustifiedOrFinalized reports whether checkpoint c is already
// tracked in one of the two states that make it a valid vote source.
func (g *FinalityGadget) isJustifiedOrFinalized(c Checkpoint) bool {
	st, ok := g.checkpoints[c]
	if !ok {
		return false
	}
	return st.state == BlockJustified || st.state == BlockFinalized
}

// tryJustify marks target Justified once its attestation weight exceeds
// the committee's strict-supermajority threshold and its source is
// already justified or finalized (§4.5 step 1). This is the first of
// the two phases.
func (g *FinalityGadget) tryJustify(target Checkpoint, committee *Committee) {
	st, ok := g.checkpoints[target]
	if !ok || st.state == BlockJustified || st.state == BlockFinalized {
		return
	}
	if st.weight <= committee.AttestationThreshold() {
		return
	}

	st.state = BlockJustified
	if target.Epoch > g.justified.Epoch {
		g.justified = target
		if g.fc != nil {
			_ = g.fc.SetJustifiedRoot(target.Root)
		}
	}
}

// tryFinalize checks, once target is justified, for a justified
// checkpoint one epoch earlier on target's chain from which votes
// weighing more than the committee threshold link directly to target —
// the second phase of Casper FFG (§4.5 step 2). That source checkpoint
// becomes finalized. Unlike a naive implementation that only logs the
// link, this MUST mutate g.finalized and cascade the Finalized state to
// every ancestor of the newly finalized checkpoint, resolving the spec's
// Open Question: a checkpoint cannot be reported finalized while
// remaining logically un-finalized in the data model.
func (g *FinalityGadget) tryFinalize(target Checkpoint, committee *Committee) {
	st, ok := g.checkpoints[target]
	if !ok || st.state != BlockJustified {
		return
	}

	for src, srcState := range g.checkpoints {
		if srcState.state != BlockJustified && srcState.state != BlockFinalized {
			continue
		}
		if src.Epoch+1 != target.Epoch {
			continue
		}
		if !g.fc.IsAncestor(src.Root, target.Root) {
			continue
		}
		var linkWeight float64
		for val, w := range st.voters {
			for _, pv := range g.allVotes[val] {
				if pv.Source == src && pv.Target == target {
					linkWeight += w
					break
				}
			}
		}
		if linkWeight <= committee.AttestationThreshold() {
			continue
		}

		if src.Epoch > g.finalized.Epoch {
			g.finalized = src
		}
		g.cascadeFinalized(src)
		return
	}
}

// cascadeFinalized walks every ancestor checkpoint of root and marks it
// Finalized too: finalization of a child implies finalization of every
// justified ancestor on its chain (resolved Open Question, §9).
func (g *FinalityGadget) cascadeFinalized(root Checkpoint) {
	cur := root
	for {
		st, ok := g.checkpoints[cur]
		if !ok {
			return
		}
		if st.state == BlockFinalized {
			return
		}
		st.state = BlockFinalized
		if cur.Epoch == 0 {
			return
		}
		found := false
		for src, srcState := range g.checkpoints {
			if (srcState.state == BlockJustified || srcState.state == BlockFinalized) &&
				src.Epoch+1 == cur.Epoch && g.fc.IsAncestor(src.Root, cur.Root) {
				cur = src
				found = true
				break
			}
		}
		if !found {
			return
		}
	}
}

// Justified returns the highest-epoch justified checkpoint (I5:
// monotonically non-decreasing — the gadget never rewinds it).
func (g *FinalityGadget) Justified() Checkpoint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.justified
}

// Finalized returns the highest-epoch finalized checkpoint (I5).
func (g *FinalityGadget) Finalized() Checkpoint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.finalized
}

// StateOf returns the tracked BlockState for a checkpoint, if known.
func (g *FinalityGadget) StateOf(c Checkpoint) (BlockState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.checkpoints[c]
	if !ok {
		return 0, false
	}
	return st.state, true
}
