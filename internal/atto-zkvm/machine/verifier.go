package machine

import (
	"errors"
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/pcs"
)

// ErrInvalidProof is wrapped by every rejection VerifyChunk can produce, so
// callers can distinguish a bad proof from an operational failure.
var ErrInvalidProof = errors.New("machine: invalid proof")

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProof, fmt.Sprintf(format, args...))
}

// VerifyChunk checks one chunk proof against the verifying key. It replays
// the prover's transcript, verifies the opening argument, and recomputes
// every chip's folded constraints at zeta against the opened quotient.
func (m *BaseMachine) VerifyChunk(vk *BaseVerifyingKey, proof *BaseProof) error {
	if len(proof.PublicValues) != NumMachinePvs {
		return reject("%d public values, want %d", len(proof.PublicValues), NumMachinePvs)
	}
	claimedSum, err := DecodeGlobalSum(proof.PublicValues)
	if err != nil {
		return reject("%v", err)
	}
	if !claimedSum.Equal(proof.GlobalSum) {
		return reject("global sum does not match public values")
	}
	if len(proof.ChipNames) == 0 || len(proof.ChipNames) != len(proof.OpenedValues) {
		return reject("%d chip names for %d opened values", len(proof.ChipNames), len(proof.OpenedValues))
	}

	// Active chips must be a subsequence of the machine's chip order, and
	// every chip with preprocessed columns must be among them.
	metas := make([]*MetaChip, len(proof.ChipNames))
	machineIdx := -1
	for i, name := range proof.ChipNames {
		if proof.ChipOrdering[name] != i {
			return reject("chip ordering inconsistent at %s", name)
		}
		found := false
		for j := machineIdx + 1; j < len(m.chips); j++ {
			if m.chips[j].Name() == name {
				machineIdx = j
				metas[i] = m.chips[j]
				found = true
				break
			}
		}
		if !found {
			return reject("unknown or out-of-order chip %s", name)
		}
	}
	for _, info := range vk.Preprocessed {
		if _, ok := proof.ChipOrdering[info.ChipName]; !ok {
			return reject("preprocessed chip %s missing from proof", info.ChipName)
		}
	}

	for i, meta := range metas {
		ov := &proof.OpenedValues[i]
		if err := checkChipShape(vk, meta, ov); err != nil {
			return err
		}
	}

	// Transcript replay.
	challenger := m.NewChallenger()
	vk.Observe(challenger)
	challenger.ObserveSlice(proof.PublicValues)
	for i := range metas {
		challenger.Observe(field.FromUint64(uint64(proof.OpenedValues[i].LogHeight)))
	}
	challenger.ObserveDigest(proof.MainCommit)
	permCh := PermChallenges{Alpha: challenger.SampleExt(), Beta: challenger.SampleExt()}
	hasPerm := false
	for _, meta := range metas {
		if meta.PermutationWidth() > 0 {
			hasPerm = true
		}
	}
	if hasPerm {
		challenger.ObserveDigest(proof.PermCommit)
	}
	for i := range metas {
		challenger.ObserveExt(proof.OpenedValues[i].CumulativeSum)
	}
	alpha := challenger.SampleExt()
	challenger.ObserveDigest(proof.QuotientCommit)
	zeta := challenger.SampleExt()

	// Opening argument.
	var rounds []pcs.VerifierRound
	if len(vk.Preprocessed) > 0 {
		round := pcs.VerifierRound{Commit: vk.PreprocessedCommit}
		for _, info := range vk.Preprocessed {
			i := proof.ChipOrdering[info.ChipName]
			ov := &proof.OpenedValues[i]
			round.Mats = append(round.Mats, pcs.MatDims{Width: info.Width, Height: 1 << info.LogHeight})
			round.Points = append(round.Points, openingPoints(zeta, info.LogHeight, metas[i].LocalOnly()))
			vals := [][]field.Ext{ov.PreLocal}
			if !metas[i].LocalOnly() {
				vals = append(vals, ov.PreNext)
			}
			round.Values = append(round.Values, vals)
		}
		rounds = append(rounds, round)
	}

	mainRound := pcs.VerifierRound{Commit: proof.MainCommit}
	for i, meta := range metas {
		ov := &proof.OpenedValues[i]
		mainRound.Mats = append(mainRound.Mats, pcs.MatDims{Width: meta.MainWidth(), Height: 1 << ov.LogHeight})
		mainRound.Points = append(mainRound.Points, openingPoints(zeta, ov.LogHeight, meta.LocalOnly()))
		vals := [][]field.Ext{ov.MainLocal}
		if !meta.LocalOnly() {
			vals = append(vals, ov.MainNext)
		}
		mainRound.Values = append(mainRound.Values, vals)
	}
	rounds = append(rounds, mainRound)

	if hasPerm {
		permRound := pcs.VerifierRound{Commit: proof.PermCommit}
		for i, meta := range metas {
			if meta.PermutationWidth() == 0 {
				continue
			}
			ov := &proof.OpenedValues[i]
			permRound.Mats = append(permRound.Mats, pcs.MatDims{Width: meta.PermutationWidth() * field.ExtDegree, Height: 1 << ov.LogHeight})
			permRound.Points = append(permRound.Points, openingPoints(zeta, ov.LogHeight, false))
			permRound.Values = append(permRound.Values, [][]field.Ext{ov.PermLocal, ov.PermNext})
		}
		rounds = append(rounds, permRound)
	}

	quotientRound := pcs.VerifierRound{Commit: proof.QuotientCommit}
	for i := range metas {
		ov := &proof.OpenedValues[i]
		for _, chunk := range ov.QuotientChunks {
			quotientRound.Mats = append(quotientRound.Mats, pcs.MatDims{Width: field.ExtDegree, Height: 1 << ov.LogHeight})
			quotientRound.Points = append(quotientRound.Points, []field.Ext{zeta})
			quotientRound.Values = append(quotientRound.Values, [][]field.Ext{chunk})
		}
	}
	rounds = append(rounds, quotientRound)

	if err := m.scheme.Verify(rounds, proof.OpeningProof, challenger); err != nil {
		return fmt.Errorf("%w: opening argument: %v", ErrInvalidProof, err)
	}

	// Constraint check at zeta, chip by chip.
	pvsExt := embedRow(proof.PublicValues)
	for i, meta := range metas {
		ov := &proof.OpenedValues[i]
		if err := m.checkChipConstraints(meta, ov, pvsExt, permCh, alpha, zeta); err != nil {
			return err
		}
	}

	// Regional lookups must cancel across the chunk's chips.
	if !field.ExtIsZero(proof.CumulativeSum()) {
		return reject("regional cumulative sum is nonzero")
	}
	return nil
}

func checkChipShape(vk *BaseVerifyingKey, meta *MetaChip, ov *ChipOpenedValues) error {
	name := meta.Name()
	if ov.LogHeight < 0 || ov.LogHeight+1 >= field.TwoAdicity {
		return reject("chip %s: log height %d out of range", name, ov.LogHeight)
	}
	if len(ov.MainLocal) != meta.MainWidth() {
		return reject("chip %s: main width %d, want %d", name, len(ov.MainLocal), meta.MainWidth())
	}
	wantNext := meta.MainWidth()
	if meta.LocalOnly() {
		wantNext = 0
	}
	if len(ov.MainNext) != wantNext {
		return reject("chip %s: main next width %d, want %d", name, len(ov.MainNext), wantNext)
	}
	if info, ok := vk.HasPreprocessed(name); ok {
		if info.LogHeight != ov.LogHeight {
			return reject("chip %s: log height %d, key pins %d", name, ov.LogHeight, info.LogHeight)
		}
		if len(ov.PreLocal) != info.Width {
			return reject("chip %s: preprocessed width %d, want %d", name, len(ov.PreLocal), info.Width)
		}
		wantPreNext := info.Width
		if meta.LocalOnly() {
			wantPreNext = 0
		}
		if len(ov.PreNext) != wantPreNext {
			return reject("chip %s: preprocessed next width %d, want %d", name, len(ov.PreNext), wantPreNext)
		}
	} else if len(ov.PreLocal) != 0 || len(ov.PreNext) != 0 {
		return reject("chip %s: unexpected preprocessed openings", name)
	}
	permFlat := meta.PermutationWidth() * field.ExtDegree
	if len(ov.PermLocal) != permFlat || len(ov.PermNext) != permFlat {
		return reject("chip %s: permutation width %d/%d, want %d", name, len(ov.PermLocal), len(ov.PermNext), permFlat)
	}
	if len(ov.QuotientChunks) != 1<<meta.LogQuotientDegree {
		return reject("chip %s: %d quotient chunks, want %d", name, len(ov.QuotientChunks), 1<<meta.LogQuotientDegree)
	}
	for _, chunk := range ov.QuotientChunks {
		if len(chunk) != field.ExtDegree {
			return reject("chip %s: quotient chunk width %d, want %d", name, len(chunk), field.ExtDegree)
		}
	}
	return nil
}

// checkChipConstraints recomputes the alpha-folded constraint value at zeta
// and compares it against the opened quotient times the zerofier.
func (m *BaseMachine) checkChipConstraints(meta *MetaChip, ov *ChipOpenedValues, pvsExt []field.Ext, permCh PermChallenges, alpha, zeta field.Ext) error {
	h := 1 << ov.LogHeight
	td := field.NewDomain(h)
	env := &EvalEnv{
		Public:    pvsExt,
		Sel:       td.SelectorsAtPoint(zeta),
		PreLocal:  ov.PreLocal,
		PreNext:   ov.PreNext,
		MainLocal: ov.MainLocal,
		MainNext:  ov.MainNext,
	}

	folded := field.ExtZero()
	pow := field.ExtOne()
	accumulate := func(c field.Ext) {
		folded = field.ExtAdd(folded, field.ExtMul(pow, c))
		pow = field.ExtMul(pow, alpha)
	}
	for _, c := range meta.Constraints {
		accumulate(Eval(c, env))
	}
	if meta.PermutationWidth() > 0 {
		permLocal := ReassembleExt(ov.PermLocal)
		permNext := ReassembleExt(ov.PermNext)
		EvalPermutation(meta, env, permLocal, permNext, permCh, ov.CumulativeSum, accumulate)
	}

	// q(zeta) = sum_k zeta^(k*h) * chunk_k(zeta)
	qZeta := field.ExtZero()
	zetaPowH := field.ExtExpUint64(zeta, uint64(h))
	cur := field.ExtOne()
	for _, chunk := range ov.QuotientChunks {
		val := ReassembleExt(chunk)[0]
		qZeta = field.ExtAdd(qZeta, field.ExtMul(cur, val))
		cur = field.ExtMul(cur, zetaPowH)
	}

	if !field.ExtEqual(folded, field.ExtMul(qZeta, td.ZerofierAtPoint(zeta))) {
		return reject("chip %s: constraints do not match quotient at zeta", meta.Name())
	}
	return nil
}
