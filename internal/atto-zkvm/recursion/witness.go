package recursion

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// witnessBuf accumulates the external witness stream. Base values embed
// into the low limb, matching how the circuit consumes them.
type witnessBuf struct {
	vals []field.Ext
}

func (w *witnessBuf) ext(v field.Ext) { w.vals = append(w.vals, v) }
func (w *witnessBuf) felt(v field.Val) {
	w.vals = append(w.vals, field.ExtFromBase(v))
}
func (w *witnessBuf) felts(vs []field.Val) {
	for _, v := range vs {
		w.felt(v)
	}
}
func (w *witnessBuf) exts(vs []field.Ext) {
	for _, v := range vs {
		w.ext(v)
	}
}
func (w *witnessBuf) digest(d poseidon2.Digest) { w.felts(d[:]) }
func (w *witnessBuf) extLimbs(v field.Ext) {
	l := field.ExtLimbs(v)
	w.felts(l[:])
}

// VkWitness flattens a verifying key for circuits that read it through
// WitnessVkCells.
func VkWitness(vk *machine.BaseVerifyingKey) []field.Ext {
	var w witnessBuf
	w.digest(vk.PreprocessedCommit)
	w.felt(field.FromUint32(vk.StartPc))
	return w.vals
}

// WitnessFromProof flattens a chunk proof into the witness stream the
// verification circuit for its shape reads. The order must match the cell
// allocation order of ChunkVerifier.readProof exactly.
func WitnessFromProof(m *machine.BaseMachine, vk *machine.BaseVerifyingKey, proof *machine.BaseProof) ([]field.Ext, error) {
	cv, err := NewChunkVerifier(NewBuilder(), m, vk, ShapeOf(proof))
	if err != nil {
		return nil, err
	}
	if len(proof.PublicValues) != machine.NumMachinePvs {
		return nil, fmt.Errorf("recursion: %d public values, want %d", len(proof.PublicValues), machine.NumMachinePvs)
	}

	var w witnessBuf
	w.felts(proof.PublicValues)
	w.digest(proof.MainCommit)
	if cv.hasPerm {
		w.digest(proof.PermCommit)
	}
	w.digest(proof.QuotientCommit)

	for i, meta := range cv.metas {
		ov := &proof.OpenedValues[i]
		if info, ok := vk.HasPreprocessed(meta.Name()); ok {
			if len(ov.PreLocal) != info.Width {
				return nil, fmt.Errorf("recursion: chip %s preprocessed width %d, want %d", meta.Name(), len(ov.PreLocal), info.Width)
			}
			w.exts(ov.PreLocal)
			if !meta.LocalOnly() {
				if len(ov.PreNext) != info.Width {
					return nil, fmt.Errorf("recursion: chip %s preprocessed next width %d, want %d", meta.Name(), len(ov.PreNext), info.Width)
				}
				w.exts(ov.PreNext)
			}
		}
		if len(ov.MainLocal) != meta.MainWidth() {
			return nil, fmt.Errorf("recursion: chip %s main width %d, want %d", meta.Name(), len(ov.MainLocal), meta.MainWidth())
		}
		w.exts(ov.MainLocal)
		if !meta.LocalOnly() {
			if len(ov.MainNext) != meta.MainWidth() {
				return nil, fmt.Errorf("recursion: chip %s main next width %d, want %d", meta.Name(), len(ov.MainNext), meta.MainWidth())
			}
			w.exts(ov.MainNext)
		}
		permFlat := meta.PermutationWidth() * field.ExtDegree
		if len(ov.PermLocal) != permFlat || len(ov.PermNext) != permFlat {
			return nil, fmt.Errorf("recursion: chip %s permutation width %d/%d, want %d", meta.Name(), len(ov.PermLocal), len(ov.PermNext), permFlat)
		}
		w.exts(ov.PermLocal)
		w.exts(ov.PermNext)
		if len(ov.QuotientChunks) != 1<<meta.LogQuotientDegree {
			return nil, fmt.Errorf("recursion: chip %s has %d quotient chunks, want %d", meta.Name(), len(ov.QuotientChunks), 1<<meta.LogQuotientDegree)
		}
		for _, chunk := range ov.QuotientChunks {
			if len(chunk) != field.ExtDegree {
				return nil, fmt.Errorf("recursion: chip %s quotient chunk width %d", meta.Name(), len(chunk))
			}
			w.exts(chunk)
		}
		w.extLimbs(ov.CumulativeSum)
	}

	fri := &proof.OpeningProof.Fri
	layers := cv.logMax - cv.spec.LogBlowup
	if len(fri.CommitPhaseCommits) != layers {
		return nil, fmt.Errorf("recursion: %d fri layers, want %d", len(fri.CommitPhaseCommits), layers)
	}
	for _, c := range fri.CommitPhaseCommits {
		w.digest(c)
	}
	w.extLimbs(fri.FinalValue)
	w.felt(fri.PowWitness)

	if len(fri.Queries) != cv.spec.NumQueries {
		return nil, fmt.Errorf("recursion: %d fri queries, want %d", len(fri.Queries), cv.spec.NumQueries)
	}
	for q, qp := range fri.Queries {
		if len(qp.Steps) != layers {
			return nil, fmt.Errorf("recursion: query %d has %d steps, want %d", q, len(qp.Steps), layers)
		}
		for li, step := range qp.Steps {
			lg := cv.logMax - li
			w.felts(step.Pair[:])
			if len(step.Proof.Siblings) != lg-1 {
				return nil, fmt.Errorf("recursion: query %d layer %d path length %d, want %d", q, li, len(step.Proof.Siblings), lg-1)
			}
			for _, sib := range step.Proof.Siblings {
				w.digest(sib)
			}
		}
	}

	rounds := cv.roundDims()
	if len(proof.OpeningProof.QueryOpenings) != cv.spec.NumQueries {
		return nil, fmt.Errorf("recursion: %d query openings, want %d", len(proof.OpeningProof.QueryOpenings), cv.spec.NumQueries)
	}
	for q, openings := range proof.OpeningProof.QueryOpenings {
		if len(openings) != len(rounds) {
			return nil, fmt.Errorf("recursion: query %d opened %d rounds, want %d", q, len(openings), len(rounds))
		}
		for ri, mats := range rounds {
			oc := &openings[ri]
			if len(oc.Rows) != len(mats) {
				return nil, fmt.Errorf("recursion: query %d round %d opened %d rows, want %d", q, ri, len(oc.Rows), len(mats))
			}
			treeLog := 0
			for mi, d := range mats {
				if d.logLde > treeLog {
					treeLog = d.logLde
				}
				if len(oc.Rows[mi]) != d.width {
					return nil, fmt.Errorf("recursion: query %d round %d row width %d, want %d", q, ri, len(oc.Rows[mi]), d.width)
				}
				w.felts(oc.Rows[mi])
			}
			if len(oc.Proof.Siblings) != treeLog {
				return nil, fmt.Errorf("recursion: query %d round %d path length %d, want %d", q, ri, len(oc.Proof.Siblings), treeLog)
			}
			for _, sib := range oc.Proof.Siblings {
				w.digest(sib)
			}
		}
	}
	return w.vals, nil
}
