package proverchain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/recursion"
)

// Node is one proof in the reduction tree together with its verifying key
// and the number of base chunks it covers.
type Node struct {
	Proof  *machine.BaseProof
	Vk     *machine.BaseVerifyingKey
	Chunks int
}

type builtProgram struct {
	program *recursion.Program
	pk      *machine.BaseProvingKey
}

func shapeID(s recursion.ProofShape) string {
	var sb strings.Builder
	for i, name := range s.ChipNames {
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(s.LogHeights[i]))
		sb.WriteByte(';')
	}
	return sb.String()
}

func vkID(perm *poseidon2.Permutation, vk *machine.BaseVerifyingKey) string {
	d := VkDigest(perm, vk)
	var sb strings.Builder
	for _, v := range d {
		fmt.Fprintf(&sb, "%08x", field.ToUint32(v))
	}
	return sb.String()
}

// stageCore is the shared machinery of every recursion stage: the stage
// machine, a program cache, and the run-complete-prove cycle.
type stageCore struct {
	spec     field.Spec
	rm       *machine.BaseMachine
	perm     *poseidon2.Permutation
	programs map[string]*builtProgram
}

func newStageCore(spec field.Spec) stageCore {
	return stageCore{
		spec:     spec,
		rm:       recursion.NewRecursionMachine(spec),
		perm:     poseidon2.New(spec),
		programs: make(map[string]*builtProgram),
	}
}

func (c *stageCore) cached(key string, build func() (*recursion.Program, error)) (*builtProgram, error) {
	if bp, ok := c.programs[key]; ok {
		return bp, nil
	}
	p, err := build()
	if err != nil {
		return nil, err
	}
	pk, err := c.rm.Setup(p)
	if err != nil {
		return nil, err
	}
	bp := &builtProgram{program: p, pk: pk}
	c.programs[key] = bp
	return bp, nil
}

func (c *stageCore) prove(bp *builtProgram, witness []field.Ext) (*machine.BaseProof, error) {
	record, err := recursion.Run(bp.program, c.perm, witness)
	if err != nil {
		return nil, err
	}
	c.rm.CompleteRecord(record)
	return c.rm.ProveChunk(bp.pk, record)
}

// ConvertStage wraps riscv chunk proofs one-to-one into recursion proofs.
type ConvertStage struct {
	stageCore
	riscv   *machine.BaseMachine
	riscvVk *machine.BaseVerifyingKey
}

// NewConvertStage is entered from the riscv machine and its verifying key.
func NewConvertStage(riscv *machine.BaseMachine, vk *machine.BaseVerifyingKey) *ConvertStage {
	return &ConvertStage{stageCore: newStageCore(riscv.Spec()), riscv: riscv, riscvVk: vk}
}

func (s *ConvertStage) convert(proof *machine.BaseProof) (*Node, error) {
	shape := recursion.ShapeOf(proof)
	bp, err := s.cached(shapeID(shape), func() (*recursion.Program, error) {
		return recursion.BuildConvertProgram(recursion.ChildSpec{Machine: s.riscv, Vk: s.riscvVk, Shape: shape})
	})
	if err != nil {
		return nil, err
	}
	witness, err := recursion.WitnessFromProof(s.riscv, s.riscvVk, proof)
	if err != nil {
		return nil, err
	}
	rproof, err := s.prove(bp, witness)
	if err != nil {
		return nil, err
	}
	return &Node{Proof: rproof, Vk: bp.pk.Vk, Chunks: 1}, nil
}

// Prove wraps every chunk proof of an ensemble.
func (s *ConvertStage) Prove(proofs []*machine.BaseProof) ([]*Node, error) {
	if len(proofs) == 0 {
		return nil, fmt.Errorf("proverchain: no chunk proofs to convert")
	}
	nodes := make([]*Node, len(proofs))
	for i, proof := range proofs {
		node, err := s.convert(proof)
		if err != nil {
			return nil, fmt.Errorf("proverchain: convert chunk %d: %w", i, err)
		}
		nodes[i] = node
	}
	log.Debug().Int("chunks", len(nodes)).Msg("convert stage done")
	return nodes, nil
}

// CombineStage reduces converted nodes pairwise until one proof remains.
type CombineStage struct {
	stageCore
}

// NewCombineStage is entered from the convert stage.
func NewCombineStage(prev *ConvertStage) *CombineStage {
	return &CombineStage{stageCore: newStageCore(prev.spec)}
}

func (s *CombineStage) combine(left, right *Node) (*Node, error) {
	ls := recursion.ShapeOf(left.Proof)
	rs := recursion.ShapeOf(right.Proof)
	key := vkID(s.perm, left.Vk) + "|" + vkID(s.perm, right.Vk) + "|" +
		shapeID(ls) + "|" + shapeID(rs) + "|" + strconv.Itoa(left.Chunks)
	bp, err := s.cached(key, func() (*recursion.Program, error) {
		return recursion.BuildCombineProgram(
			recursion.ChildSpec{Machine: s.rm, Vk: left.Vk, Shape: ls},
			recursion.ChildSpec{Machine: s.rm, Vk: right.Vk, Shape: rs},
			left.Chunks,
		)
	})
	if err != nil {
		return nil, err
	}
	lw, err := recursion.WitnessFromProof(s.rm, left.Vk, left.Proof)
	if err != nil {
		return nil, err
	}
	rw, err := recursion.WitnessFromProof(s.rm, right.Vk, right.Proof)
	if err != nil {
		return nil, err
	}
	proof, err := s.prove(bp, append(lw, rw...))
	if err != nil {
		return nil, err
	}
	return &Node{Proof: proof, Vk: bp.pk.Vk, Chunks: left.Chunks + right.Chunks}, nil
}

// Reduce folds the nodes down to a single proof. An odd node is carried to
// the next round unchanged, so the tree stays left-leaning.
func (s *CombineStage) Reduce(nodes []*Node) (*Node, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("proverchain: nothing to combine")
	}
	for round := 0; len(nodes) > 1; round++ {
		next := make([]*Node, 0, (len(nodes)+1)/2)
		for i := 0; i+1 < len(nodes); i += 2 {
			node, err := s.combine(nodes[i], nodes[i+1])
			if err != nil {
				return nil, fmt.Errorf("proverchain: combine round %d pair %d: %w", round, i/2, err)
			}
			next = append(next, node)
		}
		if len(nodes)%2 == 1 {
			next = append(next, nodes[len(nodes)-1])
		}
		nodes = next
		log.Debug().Int("round", round).Int("nodes", len(nodes)).Msg("combine round done")
	}
	return nodes[0], nil
}

// CompressStage re-proves the combined proof once more, pinning its shape
// so downstream stages see a single fixed layout.
type CompressStage struct {
	stageCore
}

// NewCompressStage is entered from the combine stage.
func NewCompressStage(prev *CombineStage) *CompressStage {
	return &CompressStage{stageCore: newStageCore(prev.spec)}
}

// Prove wraps the node at the compress shape.
func (s *CompressStage) Prove(node *Node) (*Node, error) {
	shape := recursion.ShapeOf(node.Proof)
	key := vkID(s.perm, node.Vk) + "|" + shapeID(shape)
	bp, err := s.cached(key, func() (*recursion.Program, error) {
		return recursion.BuildCompressProgram(recursion.ChildSpec{Machine: s.rm, Vk: node.Vk, Shape: shape})
	})
	if err != nil {
		return nil, err
	}
	witness, err := recursion.WitnessFromProof(s.rm, node.Vk, node.Proof)
	if err != nil {
		return nil, err
	}
	proof, err := s.prove(bp, witness)
	if err != nil {
		return nil, err
	}
	return &Node{Proof: proof, Vk: bp.pk.Vk, Chunks: node.Chunks}, nil
}

// CompressVkStage is the allow-listed compress: the child key is witnessed
// in-circuit and bound to the manager's Merkle root, so every admissible
// program yields the same outer program.
type CompressVkStage struct {
	stageCore
	mgr *VkManager
}

// NewCompressVkStage is entered from the compress stage.
func NewCompressVkStage(prev *CompressStage, mgr *VkManager) *CompressVkStage {
	return &CompressVkStage{stageCore: newStageCore(prev.spec), mgr: mgr}
}

// Prove checks the allow-list before any proving work, then wraps the node
// with the membership witness.
func (s *CompressVkStage) Prove(node *Node) (*Node, error) {
	membership, err := s.mgr.Membership(node.Vk)
	if err != nil {
		return nil, err
	}
	shape := recursion.ShapeOf(node.Proof)
	// The program only depends on the proof shape: the key itself is
	// witnessed, so one circuit serves every allow-listed program.
	bp, err := s.cached(shapeID(shape), func() (*recursion.Program, error) {
		return recursion.BuildCompressVkProgram(
			recursion.ChildSpec{Machine: s.rm, Vk: node.Vk, Shape: shape},
			s.mgr.Root(), s.mgr.Depth(),
		)
	})
	if err != nil {
		return nil, err
	}
	pw, err := recursion.WitnessFromProof(s.rm, node.Vk, node.Proof)
	if err != nil {
		return nil, err
	}
	witness := recursion.VkWitness(node.Vk)
	witness = append(witness, recursion.VkMembershipWitness(membership.Index, membership.Siblings)...)
	witness = append(witness, pw...)
	proof, err := s.prove(bp, witness)
	if err != nil {
		return nil, err
	}
	return &Node{Proof: proof, Vk: bp.pk.Vk, Chunks: node.Chunks}, nil
}

// EmbedProof is the chain's terminal artifact, shaped for the BN254
// wrapper: the outer verifying key digest, the public value stream, its
// digest, and the serialized proof.
type EmbedProof struct {
	VkDigest     poseidon2.Digest `cbor:"1,keyasint"`
	PublicValues []field.Val      `cbor:"2,keyasint"`
	PvDigest     poseidon2.Digest `cbor:"3,keyasint"`
	ProofBytes   []byte           `cbor:"4,keyasint"`
}

// EmbedStage re-expresses the final node for the on-chain exporter.
type EmbedStage struct {
	perm *poseidon2.Permutation
}

// NewEmbedStage is entered from the allow-listed compress stage.
func NewEmbedStage(prev *CompressVkStage) *EmbedStage {
	return &EmbedStage{perm: prev.perm}
}

// Prove digests the node into an EmbedProof.
func (s *EmbedStage) Prove(node *Node) (*EmbedProof, error) {
	raw, err := cbor.Marshal(node.Proof)
	if err != nil {
		return nil, err
	}
	return &EmbedProof{
		VkDigest:     VkDigest(s.perm, node.Vk),
		PublicValues: append([]field.Val(nil), node.Proof.PublicValues...),
		PvDigest:     s.perm.HashSlice(node.Proof.PublicValues),
		ProofBytes:   raw,
	}, nil
}
