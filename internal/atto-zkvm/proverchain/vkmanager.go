// Package proverchain drives the recursion pipeline: chunk proofs are
// wrapped one-to-one, reduced pairwise into a single proof, compressed to a
// fixed shape, and finally re-keyed against a verifying-key allow-list so
// one root digest covers every program the deployment accepts.
package proverchain

import (
	"errors"
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// ErrVkNotAllowed is returned when a verifying key is not in the manager's
// allow-list. The check happens before any proving work.
var ErrVkNotAllowed = errors.New("proverchain: verifying key not in allow-list")

// VkDigest is the leaf hash of a verifying key in the allow-list tree:
// the preprocessed commitment followed by the entry point.
func VkDigest(perm *poseidon2.Permutation, vk *machine.BaseVerifyingKey) poseidon2.Digest {
	vals := make([]field.Val, 0, poseidon2.DigestWidth+1)
	vals = append(vals, vk.PreprocessedCommit[:]...)
	vals = append(vals, field.FromUint32(vk.StartPc))
	return perm.HashSlice(vals)
}

// MembershipProof opens one leaf of the allow-list tree.
type MembershipProof struct {
	Index    int                `cbor:"1,keyasint"`
	Siblings []poseidon2.Digest `cbor:"2,keyasint"`
}

// VkManager holds the Merkle allow-list of admissible verifying keys. The
// tree depth is fixed at construction; unused leaves are zero digests.
type VkManager struct {
	perm   *poseidon2.Permutation
	depth  int
	levels [][]poseidon2.Digest
	index  map[poseidon2.Digest]int
}

// NewVkManager builds the allow-list over the given keys.
func NewVkManager(spec field.Spec, vks []*machine.BaseVerifyingKey) (*VkManager, error) {
	if len(vks) == 0 {
		return nil, errors.New("proverchain: empty allow-list")
	}
	perm := poseidon2.New(spec)
	depth := 0
	for 1<<depth < len(vks) {
		depth++
	}
	leaves := make([]poseidon2.Digest, 1<<depth)
	index := make(map[poseidon2.Digest]int, len(vks))
	for i, vk := range vks {
		d := VkDigest(perm, vk)
		if _, dup := index[d]; dup {
			return nil, fmt.Errorf("proverchain: duplicate verifying key at index %d", i)
		}
		index[d] = i
		leaves[i] = d
	}
	levels := [][]poseidon2.Digest{leaves}
	for lvl := 0; lvl < depth; lvl++ {
		prev := levels[lvl]
		next := make([]poseidon2.Digest, len(prev)/2)
		for i := range next {
			next[i] = perm.Compress(prev[2*i], prev[2*i+1])
		}
		levels = append(levels, next)
	}
	return &VkManager{perm: perm, depth: depth, levels: levels, index: index}, nil
}

// Root is the allow-list commitment the compress circuit pins.
func (m *VkManager) Root() poseidon2.Digest { return m.levels[m.depth][0] }

// Depth is the height of the allow-list tree.
func (m *VkManager) Depth() int { return m.depth }

// Allowed reports whether the key is in the allow-list.
func (m *VkManager) Allowed(vk *machine.BaseVerifyingKey) bool {
	_, ok := m.index[VkDigest(m.perm, vk)]
	return ok
}

// Membership opens the key's leaf, or ErrVkNotAllowed.
func (m *VkManager) Membership(vk *machine.BaseVerifyingKey) (MembershipProof, error) {
	idx, ok := m.index[VkDigest(m.perm, vk)]
	if !ok {
		return MembershipProof{}, ErrVkNotAllowed
	}
	proof := MembershipProof{Index: idx, Siblings: make([]poseidon2.Digest, m.depth)}
	for lvl := 0; lvl < m.depth; lvl++ {
		proof.Siblings[lvl] = m.levels[lvl][idx>>lvl^1]
	}
	return proof, nil
}

// VerifyMembership replays the path natively.
func (m *VkManager) VerifyMembership(vk *machine.BaseVerifyingKey, proof MembershipProof) bool {
	if len(proof.Siblings) != m.depth || proof.Index < 0 || proof.Index >= 1<<m.depth {
		return false
	}
	d := VkDigest(m.perm, vk)
	for lvl, sib := range proof.Siblings {
		if proof.Index>>lvl&1 == 0 {
			d = m.perm.Compress(d, sib)
		} else {
			d = m.perm.Compress(sib, d)
		}
	}
	return d == m.Root()
}
