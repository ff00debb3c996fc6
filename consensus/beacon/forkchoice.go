// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - LMD-GHOST Fork Choice

package beacon

import (
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownBlock is returned when a fork-choice operation references a
// block hash the store has never recorded via AddBlock.
var ErrUnknownBlock = errors.New("beacon: unknown block in fork choice store")

// blockNode is one entry in the fork-choice block tree.
type blockNode struct {
	hash       common.Hash
	parent     common.Hash
	slot       uint64
	number     uint64
	children   []common.Hash
	voteWeight float64 // aggregated latest-message weight attributed to this subtree
}

// latestMessage is the most recent (highest-slot) attestation target a
// validator has cast, per LMD-GHOST ("latest message driven").
type latestMessage struct {
	blockHash common.Hash
	slot      uint64
	weight    float64
}

// ForkChoice implements LMD-GHOST (§4.4): the canonical head is found by
// descending from the last justified checkpoint, at each fork choosing
// the child whose subtree carries the greatest attributed vote weight.
type ForkChoice struct {
	mu sync.RWMutex

	nodes map[common.Hash]*blockNode
	votes map[common.Address]latestMessage

	justifiedRoot common.Hash
	maxReorgDepth uint64
}

// NewForkChoice builds an empty store rooted at genesis.
func NewForkChoice(cfg *Config, genesis common.Hash) *ForkChoice {
	fc := &ForkChoice{
		nodes:         make(map[common.Hash]*blockNode),
		votes:         make(map[common.Address]latestMessage),
		justifiedRoot: genesis,
		maxReorgDepth: cfg.MaxReorgDepth,
	}
	fc.nodes[genesis] = &blockNode{hash: genesis}
	return fc
}

// AddBlock registers a new block as a child of parent. parent must
// already be known (genesis is pre-registered by NewForkChoice).
func (fc *ForkChoice) AddBlock(hash, parent common.Hash, slot, number uint64) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	p, ok := fc.nodes[parent]
	if !ok {
		return ErrUnknownBlock
	}
	if _, exists := fc.nodes[hash]; exists {
		return nil
	}
	fc.nodes[hash] = &blockNode{hash: hash, parent: parent, slot: slot, number: number}
	p.children = append(p.children, hash)
	return nil
}

// ProcessAttestation records validator's vote for target, replacing
// their previous vote only if this one is for a strictly later slot
// (LMD: only the latest message counts). The vote weight is propagated
// to every ancestor of target, up to the justified root, resolving the
// spec's descendant-attribution Open Question: a vote for a deep
// descendant strengthens every ancestor subtree on its path, not just
// the immediate parent.
func (fc *ForkChoice) ProcessAttestation(validator common.Address, target common.Hash, slot uint64, weight float64) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if _, ok := fc.nodes[target]; !ok {
		return ErrUnknownBlock
	}

	prev, had := fc.votes[validator]
	if had && prev.slot >= slot {
		return nil
	}

	if had {
		fc.removeWeight(prev.blockHash, prev.weight)
	}
	fc.addWeight(target, weight)
	fc.votes[validator] = latestMessage{blockHash: target, slot: slot, weight: weight}
	return nil
}

// addWeight walks from hash up to the justified root (or genesis if the
// justified root is unknown to this walk, bounded by maxReorgDepth),
// incrementing voteWeight on every node along the path.
func (fc *ForkChoice) addWeight(hash common.Hash, weight float64) {
	fc.walkToRoot(hash, func(n *blockNode) { n.voteWeight += weight })
}

func (fc *ForkChoice) removeWeight(hash common.Hash, weight float64) {
	fc.walkToRoot(hash, func(n *blockNode) { n.voteWeight -= weight })
}

func (fc *ForkChoice) walkToRoot(hash common.Hash, apply func(*blockNode)) {
	cur := hash
	for depth := uint64(0); depth < fc.maxReorgDepth; depth++ {
		n, ok := fc.nodes[cur]
		if !ok {
			return
		}
		apply(n)
		if cur == fc.justifiedRoot || n.parent == cur {
			return
		}
		cur = n.parent
	}
}

// SetJustifiedRoot moves the fork-choice search root forward as the
// finality gadget justifies new checkpoints (§4.4 step 1: descent
// starts "from the last justified checkpoint"). The root only ever
// advances; callers must not move it backward (I5 is enforced by the
// finality gadget, not re-checked here).
func (fc *ForkChoice) SetJustifiedRoot(hash common.Hash) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if _, ok := fc.nodes[hash]; !ok {
		return ErrUnknownBlock
	}
	fc.justifiedRoot = hash
	return nil
}

// GetHead returns the canonical head: starting at the justified root,
// repeatedly descend to the child with the greatest voteWeight (ties
// broken by the child's position in its parent's children list, i.e.
// first-seen), stopping at a leaf. Bounded by maxReorgDepth and guarded
// against cycles with a visited set, per the spec's design note on
// replacing a stack-blowing recursive walk with an iterative one.
func (fc *ForkChoice) GetHead() (common.Hash, error) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	cur, ok := fc.nodes[fc.justifiedRoot]
	if !ok {
		return common.Hash{}, ErrUnknownBlock
	}

	visited := mapset.NewThreadUnsafeSet[common.Hash]()
	visited.Add(cur.hash)

	for depth := uint64(0); depth < fc.maxReorgDepth; depth++ {
		if len(cur.children) == 0 {
			break
		}
		best := cur.children[0]
		bestWeight := fc.nodes[best].voteWeight
		for _, childHash := range cur.children[1:] {
			child := fc.nodes[childHash]
			if child.voteWeight > bestWeight {
				best = childHash
				bestWeight = child.voteWeight
			}
		}
		if visited.Contains(best) {
			// cycle guard: should be unreachable in a well-formed
			// block tree, but never loop forever on corrupted input.
			break
		}
		visited.Add(best)
		cur = fc.nodes[best]
	}

	return cur.hash, nil
}

// AncestorAt returns the ancestor of hash at the given block number, by
// walking parent pointers, bounded by maxReorgDepth (used by the
// finality gadget to validate checkpoint lineage, §4.5).
func (fc *ForkChoice) AncestorAt(hash common.Hash, number uint64) (common.Hash, bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	cur, ok := fc.nodes[hash]
	if !ok {
		return common.Hash{}, false
	}
	for depth := uint64(0); depth < fc.maxReorgDepth; depth++ {
		if cur.number == number {
			return cur.hash, true
		}
		if cur.number < number {
			return common.Hash{}, false
		}
		parent, ok := fc.nodes[cur.parent]
		if !ok || parent == cur {
			return common.Hash{}, false
		}
		cur = parent
	}
	return common.Hash{}, false
}

// IsAncestor reports whether ancestor precedes descendant in the block
// tree, bounded by maxReorgDepth.
func (fc *ForkChoice) IsAncestor(ancestor, descendant common.Hash) bool {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	cur, ok := fc.nodes[descendant]
	if !ok {
		return false
	}
	for depth := uint64(0); depth < fc.maxReorgDepth; depth++ {
		if cur.hash == ancestor {
			return true
		}
		parent, ok := fc.nodes[cur.parent]
		if !ok || parent == cur {
			return false
		}
		cur = parent
	}
	return false
}
