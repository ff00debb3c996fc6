// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Committee Sampler

package beacon

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/VictoriaMetrics/fastcache"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
)

// ErrCommitteeSelectionFailed is returned when fewer than
// CommitteeMinSize validators clear the PoC floor for an epoch (§4.3).
var ErrCommitteeSelectionFailed = errors.New("beacon: committee selection failed: insufficient eligible validators")

// committeeCacheBytes sizes the in-memory sealed-committee cache. The
// core performs no disk I/O (§5); fastcache is a pure in-process LRU,
// never touching a filesystem.
const committeeCacheBytes = 8 * 1024 * 1024

// CommitteeSampler selects and seals one Committee per epoch from the
// PoC-eligible validator pool, keyed by a VRF output per validator
// (§4.3). Each sealed committee's member addresses are also cached
// in-memory by epoch, readable through CachedCommittee without
// recomputing selection.
type CommitteeSampler struct {
	scorer   *PoCScorer
	verifier VRFVerifier
	cache    *fastcache.Cache

	targetSize  uint64
	minSize     uint64
	maxSize     uint64
	minPoC      float64
	stakeBoost  float64
}

// NewCommitteeSampler builds a sampler from cfg, a PoC scorer and a VRF
// verifier (the node supplies the concrete VRF scheme, §1).
func NewCommitteeSampler(cfg *Config, scorer *PoCScorer, verifier VRFVerifier) *CommitteeSampler {
	return &CommitteeSampler{
		scorer:     scorer,
		verifier:   verifier,
		cache:      fastcache.New(committeeCacheBytes),
		targetSize: cfg.CommitteeTargetSize,
		minSize:    cfg.CommitteeMinSize,
		maxSize:    cfg.CommitteeMaxSize,
		minPoC:     cfg.MinCommitteePoC,
		stakeBoost: cfg.StakeWeightBoost,
	}
}

// vrfInput builds epoch || address || seed, the VRF alpha value §4.3
// step 1 specifies.
func vrfInput(epoch uint64, addr common.Address, seed [32]byte) []byte {
	buf := make([]byte, 8+len(addr)+len(seed))
	binary.LittleEndian.PutUint64(buf[0:8], epoch)
	copy(buf[8:8+len(addr)], addr.Bytes())
	copy(buf[8+len(addr):], seed[:])
	return buf
}

// leadingU64 reads the first 8 bytes of a VRF output, big-endian, as
// the numerator of the selection key (§4.3 step 3).
func leadingU64(vrf [32]byte) uint64 {
	return binary.BigEndian.Uint64(vrf[:8])
}

// candidate is an eligible validator together with its VRF proof and
// selection key, before the committee is cut to size.
type candidate struct {
	addr        common.Address
	pocScore    float64
	vrfOutput   [32]byte
	vrfProof    []byte
	selectKey   float64
	stakeWeight float64
}

// SelectCommittee seals the committee for epoch, given the eligible
// validator pool, a per-validator VRF proof supplied by the node
// (already produced off the consensus core, §6), and the epoch seed.
// Candidates below MinCommitteePoC are filtered first (§4.3 step 0).
// Selection key is leading_u64(vrf) / (poc * stakeBoost); lower key
// wins. Ties broken by VRF output ascending, then address ascending.
// The final committee is sorted by VRFOutput ascending (I2).
func (cs *CommitteeSampler) SelectCommittee(
	epoch uint64,
	seed [32]byte,
	eligible []*Validator,
	proofs map[common.Address][]byte,
	pubKeys map[common.Address][]byte,
) (*Committee, error) {
	candidates := make([]candidate, 0, len(eligible))

	for _, v := range eligible {
		score, err := cs.scorer.CalculatePoCScore(v)
		if err != nil || score < cs.minPoC {
			continue
		}
		proof, ok := proofs[v.Address]
		if !ok {
			continue
		}
		pub, ok := pubKeys[v.Address]
		if !ok {
			continue
		}
		input := vrfInput(epoch, v.Address, seed)
		output, ok := cs.verifier.Verify(pub, input, proof)
		if !ok {
			continue
		}

		boosted := score * cs.stakeBoost
		if boosted <= 0 {
			continue
		}
		key := float64(leadingU64(output)) / boosted

		candidates = append(candidates, candidate{
			addr:        v.Address,
			pocScore:    score,
			vrfOutput:   output,
			vrfProof:    proof,
			selectKey:   key,
			stakeWeight: boosted,
		})
	}

	if uint64(len(candidates)) < cs.minSize {
		return nil, ErrCommitteeSelectionFailed
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].selectKey != candidates[j].selectKey {
			return candidates[i].selectKey < candidates[j].selectKey
		}
		if candidates[i].vrfOutput != candidates[j].vrfOutput {
			return lessBytes(candidates[i].vrfOutput[:], candidates[j].vrfOutput[:])
		}
		return lessBytes(candidates[i].addr.Bytes(), candidates[j].addr.Bytes())
	})

	size := cs.targetSize
	if uint64(len(candidates)) < size {
		size = uint64(len(candidates))
	}
	if size > cs.maxSize {
		size = cs.maxSize
	}
	if size < cs.minSize {
		size = cs.minSize
	}
	selected := candidates[:size]

	// I2: pairwise-distinctness guard via golang-set — committee
	// members must be unique addresses (selection from a deduplicated
	// eligible pool guarantees this, but the set check keeps the
	// invariant enforced even if a future caller feeds duplicates).
	seen := mapset.NewThreadUnsafeSet[common.Address]()
	members := make([]CommitteeMember, 0, len(selected))
	var aggregateWeight float64
	for _, c := range selected {
		if seen.Contains(c.addr) {
			continue
		}
		seen.Add(c.addr)
		members = append(members, CommitteeMember{
			Address:     c.addr,
			PoCScore:    c.pocScore,
			VRFOutput:   c.vrfOutput,
			VRFProof:    c.vrfProof,
			StakeWeight: c.stakeWeight,
		})
		aggregateWeight += c.stakeWeight
	}

	// Final ordering by VRFOutput ascending (I2), independent of the
	// selection-key ordering used to cut the set down to size.
	sort.Slice(members, func(i, j int) bool {
		return lessBytes(members[i].VRFOutput[:], members[j].VRFOutput[:])
	})

	committee := &Committee{
		Epoch:           epoch,
		Seed:            seed,
		Members:         members,
		AggregateWeight: aggregateWeight,
	}

	cs.cacheCommittee(committee)
	return committee, nil
}

func (cs *CommitteeSampler) cacheCommittee(c *Committee) {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, c.Epoch)
	cs.cache.Set(key, encodeCommitteeMembers(c))
}

// CachedCommittee returns the sealed committee's member addresses for
// epoch if still resident in the in-memory cache, without recomputing
// selection (a pure lookup-cost optimization; the canonical committee
// is always the one returned by SelectCommittee).
func (cs *CommitteeSampler) CachedCommittee(epoch uint64) ([]common.Address, bool) {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, epoch)
	raw, ok := cs.cache.HasGet(nil, key)
	if !ok {
		return nil, false
	}
	return decodeCommitteeMembers(raw), true
}

func encodeCommitteeMembers(c *Committee) []byte {
	buf := make([]byte, 0, len(c.Members)*common.AddressLength)
	for _, m := range c.Members {
		buf = append(buf, m.Address.Bytes()...)
	}
	return buf
}

func decodeCommitteeMembers(raw []byte) []common.Address {
	n := len(raw) / common.AddressLength
	out := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, common.BytesToAddress(raw[i*common.AddressLength:(i+1)*common.AddressLength]))
	}
	return out
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
