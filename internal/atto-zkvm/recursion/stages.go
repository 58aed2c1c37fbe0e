package recursion

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// Machine public-value layout, shared with the emulator encoding.
const (
	pvChunk        = 0
	pvStartPc      = 1
	pvNextPc       = 2
	pvExitCode     = 3
	pvFlagComplete = 4
	pvDigestStart  = 5
	pvDigestLen    = 8
)

// ChildSpec pins one child proof at build time: the machine that produced
// it, its verifying key, and its shape.
type ChildSpec struct {
	Machine *machine.BaseMachine
	Vk      *machine.BaseVerifyingKey
	Shape   ProofShape
}

// BuildConvertProgram wraps exactly one chunk proof: verify it and pass
// its public values through unchanged. The child verifying key is a
// circuit constant, so the resulting program (and its own key) commits to
// which program it wraps.
func BuildConvertProgram(child ChildSpec) (*Program, error) {
	b := NewBuilder()
	cv, err := NewChunkVerifier(b, child.Machine, child.Vk, child.Shape)
	if err != nil {
		return nil, err
	}
	vp := cv.Verify(ConstVkCells(b, child.Vk))
	b.CommitPublicValues(vp.PublicValues)
	return b.Finalize()
}

// BuildCombineProgram verifies two child proofs and merges their public
// values: pc and chunk chaining between the siblings, digest consistency,
// and the group-law aggregation of the global cumulative sums.
// leftChunks is how many base chunks the left subtree covers, fixed by the
// reduction tree's structure.
func BuildCombineProgram(left, right ChildSpec, leftChunks int) (*Program, error) {
	b := NewBuilder()
	lcv, err := NewChunkVerifier(b, left.Machine, left.Vk, left.Shape)
	if err != nil {
		return nil, err
	}
	lvp := lcv.Verify(ConstVkCells(b, left.Vk))
	rcv, err := NewChunkVerifier(b, right.Machine, right.Vk, right.Shape)
	if err != nil {
		return nil, err
	}
	rvp := rcv.Verify(ConstVkCells(b, right.Vk))
	lpv, rpv := lvp.PublicValues, rvp.PublicValues

	// Sibling chaining: the right subtree resumes where the left stopped.
	b.AssertEqF(rpv[pvStartPc], lpv[pvNextPc])
	b.AssertEqF(rpv[pvChunk], b.AddF(lpv[pvChunk], b.ConstF(field.FromUint32(uint32(leftChunks)))))
	b.AssertZeroF(lpv[pvFlagComplete])

	// The committed digest is zero until set and constant afterwards, so a
	// nonzero left limb must persist into the right.
	for j := 0; j < pvDigestLen; j++ {
		ld := lpv[pvDigestStart+j]
		rd := rpv[pvDigestStart+j]
		b.AssertZeroF(b.MulF(ld, b.SubF(rd, ld)))
	}

	sc := NewSepticCircuit(b, left.Machine.Spec())
	sum := sc.CombineDigests(PointFromPvs(lpv), PointFromPvs(rpv))

	out := make([]Felt, machine.NumMachinePvs)
	out[pvChunk] = lpv[pvChunk]
	out[pvStartPc] = lpv[pvStartPc]
	out[pvNextPc] = rpv[pvNextPc]
	out[pvExitCode] = rpv[pvExitCode]
	out[pvFlagComplete] = rpv[pvFlagComplete]
	for j := 0; j < pvDigestLen; j++ {
		out[pvDigestStart+j] = rpv[pvDigestStart+j]
	}
	for i := range sum.X {
		out[machine.PvGlobalSumOffset+i] = sum.X[i]
		out[machine.PvGlobalSumOffset+len(sum.X)+i] = sum.Y[i]
	}
	b.CommitPublicValues(out)
	return b.Finalize()
}

// BuildCompressProgram re-proves one child proof at the fixed compress
// shape, passing its public values through unchanged.
func BuildCompressProgram(child ChildSpec) (*Program, error) {
	return BuildConvertProgram(child)
}

// BuildCompressVkProgram is the allow-listed variant: the child verifying
// key is witnessed rather than constant, and a witnessed Merkle membership
// path must connect its digest to the fixed allow-list root. child.Vk is
// used for its preprocessed shape only, which every admissible key shares.
func BuildCompressVkProgram(child ChildSpec, root poseidon2.Digest, depth int) (*Program, error) {
	b := NewBuilder()
	cv, err := NewChunkVerifier(b, child.Machine, child.Vk, child.Shape)
	if err != nil {
		return nil, err
	}
	vkCells := WitnessVkCells(b)

	leaf := cv.hashSlice(append(vkCells.Commit[:], vkCells.StartPc))
	d := leaf
	for lvl := 0; lvl < depth; lvl++ {
		bit := b.WitnessF()
		b.AssertEqF(b.MulF(bit, bit), bit)
		var sib [digestLen]Felt
		for j := range sib {
			sib[j] = b.WitnessF()
		}
		var left, right [digestLen]Felt
		for j := range d {
			left[j], right[j] = b.SelectF(bit, d[j], sib[j])
		}
		d = cv.compress(left, right)
	}
	for j := range d {
		b.AssertConstF(d[j], root[j])
	}

	vp := cv.Verify(vkCells)
	b.CommitPublicValues(vp.PublicValues)
	return b.Finalize()
}

// VkMembershipWitness flattens an allow-list membership path in the order
// BuildCompressVkProgram reads it: per level, the direction bit then the
// sibling digest.
func VkMembershipWitness(index int, siblings []poseidon2.Digest) []field.Ext {
	var w witnessBuf
	for lvl, sib := range siblings {
		w.felt(field.FromUint32(uint32(index >> lvl & 1)))
		w.digest(sib)
	}
	return w.vals
}
