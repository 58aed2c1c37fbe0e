package proverchain

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/recursion"
)

// ErrInvalidMeta is wrapped by every VerifyMeta rejection.
var ErrInvalidMeta = errors.New("proverchain: invalid meta proof")

// MetaProof carries the surviving proofs of a reduction together with
// their verifying keys and the concatenated public value stream. A fully
// reduced chain holds exactly one proof.
type MetaProof struct {
	Proofs       []*machine.BaseProof        `cbor:"1,keyasint"`
	Vks          []*machine.BaseVerifyingKey `cbor:"2,keyasint"`
	PublicValues []field.Val                 `cbor:"3,keyasint"`
}

// NewMetaProof assembles a MetaProof from reduction nodes in chunk order.
func NewMetaProof(nodes ...*Node) *MetaProof {
	mp := &MetaProof{}
	for _, node := range nodes {
		mp.Proofs = append(mp.Proofs, node.Proof)
		mp.Vks = append(mp.Vks, node.Vk)
		mp.PublicValues = append(mp.PublicValues, node.Proof.PublicValues...)
	}
	return mp
}

// Final returns the last proof of the chain.
func (mp *MetaProof) Final() (*machine.BaseProof, *machine.BaseVerifyingKey) {
	n := len(mp.Proofs)
	return mp.Proofs[n-1], mp.Vks[n-1]
}

// Marshal serializes the meta proof.
func (mp *MetaProof) Marshal() ([]byte, error) { return cbor.Marshal(mp) }

// UnmarshalMetaProof inverts Marshal.
func UnmarshalMetaProof(data []byte) (*MetaProof, error) {
	mp := &MetaProof{}
	if err := cbor.Unmarshal(data, mp); err != nil {
		return nil, err
	}
	return mp, nil
}

// VerifyMeta checks every proof of the chain against its verifying key on
// the recursion machine, then the cross-proof invariants: chunk and pc
// chaining from the program entry point, completion flag placement, digest
// write-once monotonicity, and a zero aggregate global sum.
func VerifyMeta(spec field.Spec, riscvStartPc uint32, meta *MetaProof) error {
	if meta == nil || len(meta.Proofs) == 0 || len(meta.Proofs) != len(meta.Vks) {
		return fmt.Errorf("%w: %d proofs for %d keys", ErrInvalidMeta, len(meta.Proofs), len(meta.Vks))
	}
	rm := recursion.NewRecursionMachine(spec)
	par := rm.Septic()

	stream := 0
	total := par.ZeroDigest()
	var digest [8]uint32
	var digestSet bool
	var prev emulator.PublicValues
	for i, proof := range meta.Proofs {
		if err := rm.VerifyChunk(meta.Vks[i], proof); err != nil {
			return fmt.Errorf("%w: proof %d: %v", ErrInvalidMeta, i, err)
		}
		if stream+len(proof.PublicValues) > len(meta.PublicValues) {
			return fmt.Errorf("%w: public value stream too short", ErrInvalidMeta)
		}
		for j, v := range proof.PublicValues {
			if meta.PublicValues[stream+j] != v {
				return fmt.Errorf("%w: public value stream diverges at proof %d", ErrInvalidMeta, i)
			}
		}
		stream += len(proof.PublicValues)

		pv, err := emulator.PublicValuesFromVals(proof.PublicValues[:emulator.NumPublicValues])
		if err != nil {
			return fmt.Errorf("%w: proof %d: %v", ErrInvalidMeta, i, err)
		}
		if i == 0 {
			if pv.Chunk != 0 {
				return fmt.Errorf("%w: first chunk index %d", ErrInvalidMeta, pv.Chunk)
			}
			if pv.StartPc != riscvStartPc {
				return fmt.Errorf("%w: first start pc %#x, want %#x", ErrInvalidMeta, pv.StartPc, riscvStartPc)
			}
		} else {
			if pv.Chunk <= prev.Chunk {
				return fmt.Errorf("%w: chunk index not increasing at proof %d", ErrInvalidMeta, i)
			}
			if pv.StartPc != prev.NextPc {
				return fmt.Errorf("%w: proof %d starts at %#x, previous stopped at %#x", ErrInvalidMeta, i, pv.StartPc, prev.NextPc)
			}
		}
		last := i == len(meta.Proofs)-1
		if (pv.FlagComplete == 1) != last {
			return fmt.Errorf("%w: completion flag misplaced at proof %d", ErrInvalidMeta, i)
		}
		if last && pv.NextPc != 0 {
			return fmt.Errorf("%w: final next pc %#x", ErrInvalidMeta, pv.NextPc)
		}
		if digestSet && pv.CommittedValueDigest != digest {
			return fmt.Errorf("%w: committed digest changed at proof %d", ErrInvalidMeta, i)
		}
		if pv.CommittedValueDigest != ([8]uint32{}) {
			digest = pv.CommittedValueDigest
			digestSet = true
		}
		sum, err := machine.DecodeGlobalSum(proof.PublicValues)
		if err != nil {
			return fmt.Errorf("%w: proof %d: %v", ErrInvalidMeta, i, err)
		}
		total = par.CombineDigests(total, par.DigestOf(sum))
		prev = pv
	}
	if stream != len(meta.PublicValues) {
		return fmt.Errorf("%w: %d trailing public values", ErrInvalidMeta, len(meta.PublicValues)-stream)
	}
	if !par.DigestIsZero(total) {
		return fmt.Errorf("%w: aggregate global sum nonzero", ErrInvalidMeta)
	}
	return nil
}
