package machine

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
)

// ProveEnsemble completes and proves every chunk record, bounded-parallel
// across chunks. The returned proofs are in chunk order.
func (m *BaseMachine) ProveEnsemble(ctx context.Context, pk *BaseProvingKey, records []*emulator.EmulationRecord) ([]*BaseProof, error) {
	for _, record := range records {
		m.CompleteRecord(record)
	}
	proofs := make([]*BaseProof, len(records))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, record := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			proof, err := m.ProveChunk(pk, record)
			if err != nil {
				return err
			}
			proofs[i] = proof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return proofs, nil
}

// VerifyEnsemble checks a full execution: every chunk proof individually,
// the public-value chain between consecutive chunks, and the global septic
// balance across all chunks.
func (m *BaseMachine) VerifyEnsemble(vk *BaseVerifyingKey, proofs []*BaseProof) error {
	if len(proofs) == 0 {
		return reject("no chunk proofs")
	}

	total := m.sept.DigestOf(vk.InitialGlobalSum)
	var prev emulator.PublicValues
	var digest [8]uint32
	for i, proof := range proofs {
		if err := m.VerifyChunk(vk, proof); err != nil {
			return err
		}
		pv, err := emulator.PublicValuesFromVals(proof.PublicValues)
		if err != nil {
			return reject("%v", err)
		}
		if pv.Chunk != uint32(i) {
			return reject("chunk %d carries index %d", i, pv.Chunk)
		}
		if i == 0 {
			if pv.StartPc != vk.StartPc {
				return reject("first chunk starts at pc %#x, program entry is %#x", pv.StartPc, vk.StartPc)
			}
		} else if pv.StartPc != prev.NextPc {
			return reject("chunk %d starts at pc %#x, previous ended at %#x", i, pv.StartPc, prev.NextPc)
		}
		last := i == len(proofs)-1
		if (pv.FlagComplete == 1) != last {
			return reject("chunk %d completion flag %d", i, pv.FlagComplete)
		}
		if last && pv.NextPc != 0 {
			return reject("final chunk does not halt")
		}
		// The committed digest is zero until the commit syscall runs and
		// constant afterwards.
		if pv.CommittedValueDigest != [8]uint32{} {
			if digest != [8]uint32{} && digest != pv.CommittedValueDigest {
				return reject("committed digest changed at chunk %d", i)
			}
			digest = pv.CommittedValueDigest
		} else if digest != [8]uint32{} {
			return reject("committed digest dropped at chunk %d", i)
		}
		prev = pv
		total = m.sept.CombineDigests(total, m.sept.DigestOf(proof.GlobalSum))
	}

	if !m.sept.DigestIsZero(total) {
		return reject("global lookup accumulator does not cancel")
	}
	return nil
}
