package machine

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/parallel"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/pcs"
)

// CompleteRecord runs every chip's ExtraRecord pass over the record and
// merges the derived events back in. Call exactly once per record before
// proving.
func (m *BaseMachine) CompleteRecord(record *emulator.EmulationRecord) {
	derived := emulator.NewRecord(record.Program, record.Chunk)
	for _, chip := range m.chips {
		chip.ExtraRecord(record, derived)
	}
	record.Append(derived)
}

// activeChip pairs a chip with its per-chunk traces during proving.
type activeChip struct {
	meta      *MetaChip
	main      *matrix.Dense
	pre       *matrix.Dense // nil if the chip has no preprocessed trace
	preIdx    int           // index into the preprocessed commitment
	permIdx   int           // index into the permutation commitment, -1 if none
	logHeight int
	cumSum    field.Ext
}

// ProveChunk produces the STARK proof for one completed record.
//
// Transcript order is load bearing and mirrored exactly by VerifyChunk:
// vk, public values, per-chip degrees, main commit | 2 permutation
// challenges | permutation commit, cumulative sums | alpha | quotient
// commit | zeta | opening argument.
func (m *BaseMachine) ProveChunk(pk *BaseProvingKey, record *emulator.EmulationRecord) (*BaseProof, error) {
	globalPoint := m.GlobalDigest(record.GlobalEvents).Point()
	if record.GlobalSumOverride != nil {
		globalPoint = *record.GlobalSumOverride
	}
	pvs := machinePvs(&record.PublicValues, globalPoint)
	pvsExt := embedRow(pvs)

	// Phase 1: main traces.
	var active []*activeChip
	preIdx := 0
	for _, chip := range m.chips {
		pre, hasPre := pk.PreprocessedByChip[chip.Name()]
		if !chip.IsActive(record) {
			if hasPre {
				return nil, fmt.Errorf("machine: chip %s has preprocessed columns but is inactive for chunk %d", chip.Name(), record.Chunk)
			}
			continue
		}
		ac := &activeChip{meta: chip, permIdx: -1}
		if hasPre {
			ac.pre = pre
			ac.preIdx = preIdx
			preIdx++
		}
		active = append(active, ac)
	}
	parallel.Execute(len(active), func(start, end int) {
		for i := start; i < end; i++ {
			active[i].main = active[i].meta.GenerateMain(record)
		}
	})
	mainMats := make([]*matrix.Dense, len(active))
	for i, ac := range active {
		if ac.main.Width != ac.meta.MainWidth() {
			return nil, fmt.Errorf("machine: chip %s main width %d, declared %d", ac.meta.Name(), ac.main.Width, ac.meta.MainWidth())
		}
		ac.logHeight = field.Log2Strict(ac.main.Height())
		if ac.pre != nil && ac.pre.Height() != ac.main.Height() {
			return nil, fmt.Errorf("machine: chip %s main height %d does not match preprocessed height %d", ac.meta.Name(), ac.main.Height(), ac.pre.Height())
		}
		mainMats[i] = ac.main
	}
	mainCommit, mainData, err := m.scheme.Commit(mainMats)
	if err != nil {
		return nil, err
	}

	challenger := m.NewChallenger()
	pk.Vk.Observe(challenger)
	challenger.ObserveSlice(pvs)
	for _, ac := range active {
		challenger.Observe(field.FromUint64(uint64(ac.logHeight)))
	}
	challenger.ObserveDigest(mainCommit)

	// Phase 2: permutation traces.
	permCh := PermChallenges{Alpha: challenger.SampleExt(), Beta: challenger.SampleExt()}
	permExt := make([]*matrix.ExtDense, len(active))
	parallel.Execute(len(active), func(start, end int) {
		for i := start; i < end; i++ {
			ac := active[i]
			if ac.meta.PermutationWidth() == 0 {
				continue
			}
			permExt[i], ac.cumSum = GeneratePermutation(ac.meta, ac.pre, ac.main, pvsExt, permCh)
		}
	})
	var permMats []*matrix.Dense
	for i, ac := range active {
		if permExt[i] == nil {
			continue
		}
		ac.permIdx = len(permMats)
		permMats = append(permMats, permExt[i].FlattenToBase())
	}
	var permCommit pcs.Commitment
	var permData *pcs.ProverData
	if len(permMats) > 0 {
		permCommit, permData, err = m.scheme.Commit(permMats)
		if err != nil {
			return nil, err
		}
		challenger.ObserveDigest(permCommit)
	}
	for _, ac := range active {
		challenger.ObserveExt(ac.cumSum)
	}

	// Phase 3: quotients.
	alpha := challenger.SampleExt()
	quotientMats := make([][]*matrix.Dense, len(active))
	parallel.Execute(len(active), func(start, end int) {
		for i := start; i < end; i++ {
			ac := active[i]
			quotientMats[i] = m.chipQuotient(ac, pk, mainData, permData, i, pvsExt, permCh, alpha)
		}
	})
	var quotientAll []*matrix.Dense
	for _, chunks := range quotientMats {
		quotientAll = append(quotientAll, chunks...)
	}
	quotientCommit, quotientData, err := m.scheme.Commit(quotientAll)
	if err != nil {
		return nil, err
	}
	challenger.ObserveDigest(quotientCommit)

	// Phase 4: open everything at zeta.
	zeta := challenger.SampleExt()
	var rounds []pcs.ProverRound
	hasPre := pk.PreprocessedData != nil
	if hasPre {
		prePoints := make([][]field.Ext, len(pk.Vk.Preprocessed))
		for pi, info := range pk.Vk.Preprocessed {
			chip, ok := m.chipByName(info.ChipName)
			if !ok {
				return nil, fmt.Errorf("machine: key references unknown chip %s", info.ChipName)
			}
			prePoints[pi] = openingPoints(zeta, info.LogHeight, chip.LocalOnly())
		}
		rounds = append(rounds, pcs.ProverRound{Data: pk.PreprocessedData, Points: prePoints})
	}
	mainPoints := make([][]field.Ext, len(active))
	for i, ac := range active {
		mainPoints[i] = openingPoints(zeta, ac.logHeight, ac.meta.LocalOnly())
	}
	rounds = append(rounds, pcs.ProverRound{Data: mainData, Points: mainPoints})
	if permData != nil {
		var permPoints [][]field.Ext
		for _, ac := range active {
			if ac.permIdx < 0 {
				continue
			}
			// The running sum always constrains the next row.
			permPoints = append(permPoints, openingPoints(zeta, ac.logHeight, false))
		}
		rounds = append(rounds, pcs.ProverRound{Data: permData, Points: permPoints})
	}
	quotientPoints := make([][]field.Ext, len(quotientAll))
	for i := range quotientPoints {
		quotientPoints[i] = []field.Ext{zeta}
	}
	rounds = append(rounds, pcs.ProverRound{Data: quotientData, Points: quotientPoints})

	values, openingProof, err := m.scheme.Open(rounds, challenger)
	if err != nil {
		return nil, err
	}

	// Phase 5: assemble.
	roundIdx := 0
	var preValues [][][]field.Ext
	if hasPre {
		preValues = values[roundIdx]
		roundIdx++
	}
	mainValues := values[roundIdx]
	roundIdx++
	var permValues [][][]field.Ext
	if permData != nil {
		permValues = values[roundIdx]
		roundIdx++
	}
	quotientValues := values[roundIdx]

	proof := &BaseProof{
		MainCommit:     mainCommit,
		PermCommit:     permCommit,
		QuotientCommit: quotientCommit,
		ChipOrdering:   map[string]int{},
		OpeningProof:   openingProof,
		PublicValues:   pvs,
		GlobalSum:      globalPoint,
	}
	quotientBase := 0
	for i, ac := range active {
		ov := ChipOpenedValues{
			MainLocal:     mainValues[i][0],
			CumulativeSum: ac.cumSum,
			LogHeight:     ac.logHeight,
		}
		if !ac.meta.LocalOnly() {
			ov.MainNext = mainValues[i][1]
		}
		if ac.pre != nil {
			ov.PreLocal = preValues[ac.preIdx][0]
			if !ac.meta.LocalOnly() {
				ov.PreNext = preValues[ac.preIdx][1]
			}
		}
		if ac.permIdx >= 0 {
			ov.PermLocal = permValues[ac.permIdx][0]
			ov.PermNext = permValues[ac.permIdx][1]
		}
		numChunks := 1 << ac.meta.LogQuotientDegree
		ov.QuotientChunks = make([][]field.Ext, numChunks)
		for k := 0; k < numChunks; k++ {
			ov.QuotientChunks[k] = quotientValues[quotientBase+k][0]
		}
		quotientBase += numChunks
		proof.ChipOrdering[ac.meta.Name()] = i
		proof.ChipNames = append(proof.ChipNames, ac.meta.Name())
		proof.OpenedValues = append(proof.OpenedValues, ov)
	}

	log.Debug().
		Uint32("chunk", record.Chunk).
		Int("chips", len(active)).
		Msg("chunk proved")
	return proof, nil
}

// openingPoints returns {zeta} or {zeta, g*zeta} for a trace of the given
// log height.
func openingPoints(zeta field.Ext, logHeight int, localOnly bool) []field.Ext {
	if localOnly {
		return []field.Ext{zeta}
	}
	g := field.TwoAdicGenerator(logHeight)
	return []field.Ext{zeta, field.ExtMulBase(zeta, g)}
}

// chipQuotient evaluates the chip's folded constraints over a disjoint
// coset, divides by the trace zerofier, and splits the quotient into
// degree-matched coefficient chunks re-evaluated over the trace domain.
func (m *BaseMachine) chipQuotient(ac *activeChip, pk *BaseProvingKey, mainData, permData *pcs.ProverData, mainIdx int, pvsExt []field.Ext, permCh PermChallenges, alpha field.Ext) []*matrix.Dense {
	h := 1 << ac.logHeight
	lqd := ac.meta.LogQuotientDegree
	qLog := ac.logHeight + lqd
	qSize := 1 << qLog
	step := 1 << lqd
	td := field.NewDomain(h)
	qd := td.CreateDisjointCoset(qLog)

	mainEvals := mainData.CosetEvals(mainIdx, qLog, qd.Shift)
	var preEvals *matrix.Dense
	if ac.pre != nil {
		preEvals = pk.PreprocessedData.CosetEvals(ac.preIdx, qLog, qd.Shift)
	}
	var permEvals *matrix.Dense
	if ac.permIdx >= 0 {
		permEvals = permData.CosetEvals(ac.permIdx, qLog, qd.Shift)
	}

	pts := make([]field.Val, qSize)
	pts[0] = qd.Shift
	g := qd.Generator()
	for i := 1; i < qSize; i++ {
		pts[i] = field.Mul(pts[i-1], g)
	}

	qVals := make([]field.Ext, qSize)
	parallel.Execute(qSize, func(start, end int) {
		for i := start; i < end; i++ {
			next := (i + step) & (qSize - 1)
			env := &EvalEnv{
				Public:    pvsExt,
				Sel:       td.SelectorsAtPoint(field.ExtFromBase(pts[i])),
				MainLocal: embedRow(mainEvals.Row(i)),
				MainNext:  embedRow(mainEvals.Row(next)),
			}
			if preEvals != nil {
				env.PreLocal = embedRow(preEvals.Row(i))
				env.PreNext = embedRow(preEvals.Row(next))
			}

			folded := field.ExtZero()
			pow := field.ExtOne()
			accumulate := func(c field.Ext) {
				folded = field.ExtAdd(folded, field.ExtMul(pow, c))
				pow = field.ExtMul(pow, alpha)
			}
			for _, c := range ac.meta.Constraints {
				accumulate(Eval(c, env))
			}
			if permEvals != nil {
				permLocal := ReassembleExt(embedRow(permEvals.Row(i)))
				permNext := ReassembleExt(embedRow(permEvals.Row(next)))
				EvalPermutation(ac.meta, env, permLocal, permNext, permCh, ac.cumSum, accumulate)
			}
			qVals[i] = field.ExtMul(folded, env.Sel.InvZerofier)
		}
	})

	// Coset interpolation, one base INTT per extension limb.
	shiftInv := field.Inv(qd.Shift)
	limbCoeffs := make([][]field.Val, field.ExtDegree)
	parallel.Execute(field.ExtDegree, func(start, end int) {
		for j := start; j < end; j++ {
			limb := make([]field.Val, qSize)
			for i := range qVals {
				limb[i] = field.ExtLimbs(qVals[i])[j]
			}
			field.INTT(limb)
			sp := field.One()
			for i := range limb {
				limb[i] = field.Mul(limb[i], sp)
				sp = field.Mul(sp, shiftInv)
			}
			limbCoeffs[j] = limb
		}
	})

	chunks := make([]*matrix.Dense, step)
	for k := 0; k < step; k++ {
		cm := matrix.NewDense(h, field.ExtDegree)
		for j := 0; j < field.ExtDegree; j++ {
			col := make([]field.Val, h)
			copy(col, limbCoeffs[j][k*h:(k+1)*h])
			field.NTT(col)
			for r := 0; r < h; r++ {
				cm.Set(r, j, col[r])
			}
		}
		chunks[k] = cm
	}
	return chunks
}
