package recursion

import (
	"fmt"
	"sort"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

const digestLen = poseidon2.DigestWidth

// ProofShape pins the build-time structure of a chunk proof: which chips
// were active and at what heights. The circuit for one shape verifies any
// proof of that shape.
type ProofShape struct {
	ChipNames  []string
	LogHeights []int
}

// ShapeOf extracts the shape of a concrete proof.
func ShapeOf(proof *machine.BaseProof) ProofShape {
	s := ProofShape{ChipNames: append([]string(nil), proof.ChipNames...)}
	for i := range proof.OpenedValues {
		s.LogHeights = append(s.LogHeights, proof.OpenedValues[i].LogHeight)
	}
	return s
}

// VkCells is the verifying key as circuit cells. Constant cells pin the
// circuit to one child program; witnessed cells defer the choice to the
// caller, which must bind them some other way.
type VkCells struct {
	Commit  [digestLen]Felt
	StartPc Felt
}

// ConstVkCells embeds a fixed verifying key into the circuit.
func ConstVkCells(b *Builder, vk *machine.BaseVerifyingKey) VkCells {
	var out VkCells
	for i, v := range vk.PreprocessedCommit {
		out.Commit[i] = b.ConstF(v)
	}
	out.StartPc = b.ConstF(field.FromUint32(vk.StartPc))
	return out
}

// WitnessVkCells reads the verifying key from the witness stream.
func WitnessVkCells(b *Builder) VkCells {
	var out VkCells
	for i := range out.Commit {
		out.Commit[i] = b.WitnessF()
	}
	out.StartPc = b.WitnessF()
	return out
}

// VerifiedProof is what a verified child proof exposes to the surrounding
// circuit: its public values, bound by the transcript replay.
type VerifiedProof struct {
	PublicValues []Felt
}

// ChunkVerifier replays VerifyChunk inside the IR for proofs of one fixed
// shape against one machine and verifying-key structure.
type ChunkVerifier struct {
	b     *Builder
	spec  field.Spec
	vk    *machine.BaseVerifyingKey
	shape ProofShape
	metas []*machine.MetaChip

	hasPerm bool
	logMax  int
}

// NewChunkVerifier resolves the shape against the child machine's chip
// order and the verifying key, rejecting shapes no honest proof can have.
func NewChunkVerifier(b *Builder, m *machine.BaseMachine, vk *machine.BaseVerifyingKey, shape ProofShape) (*ChunkVerifier, error) {
	if len(shape.ChipNames) == 0 || len(shape.ChipNames) != len(shape.LogHeights) {
		return nil, fmt.Errorf("recursion: shape has %d chips for %d heights", len(shape.ChipNames), len(shape.LogHeights))
	}
	spec := m.Spec()
	chips := m.Chips()
	metas := make([]*machine.MetaChip, len(shape.ChipNames))
	machineIdx := -1
	for i, name := range shape.ChipNames {
		found := false
		for j := machineIdx + 1; j < len(chips); j++ {
			if chips[j].Name() == name {
				machineIdx = j
				metas[i] = chips[j]
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("recursion: unknown or out-of-order chip %s", name)
		}
	}
	for _, info := range vk.Preprocessed {
		idx := -1
		for i, name := range shape.ChipNames {
			if name == info.ChipName {
				idx = i
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("recursion: preprocessed chip %s missing from shape", info.ChipName)
		}
		if shape.LogHeights[idx] != info.LogHeight {
			return nil, fmt.Errorf("recursion: chip %s log height %d, key pins %d", info.ChipName, shape.LogHeights[idx], info.LogHeight)
		}
	}
	cv := &ChunkVerifier{b: b, spec: spec, vk: vk, shape: shape, metas: metas}
	for i, meta := range metas {
		lh := shape.LogHeights[i]
		if lh < 0 || lh+1 >= spec.TwoAdicity {
			return nil, fmt.Errorf("recursion: chip %s log height %d out of range", meta.Name(), lh)
		}
		if meta.PermutationWidth() > 0 {
			cv.hasPerm = true
		}
		if lg := lh + spec.LogBlowup; lg > cv.logMax {
			cv.logMax = lg
		}
	}
	return cv, nil
}

// chipCells holds one chip's witnessed openings. Opened values live as
// extension cells; the cumulative sum is limb cells because the transcript
// absorbs it limb-wise.
type chipCells struct {
	preLocal, preNext   []ExtVar
	mainLocal, mainNext []ExtVar
	permLocal, permNext []ExtVar
	quotientChunks      [][]ExtVar
	cumulativeSum       [field.ExtDegree]Felt
}

type stepCells struct {
	pair     [2 * field.ExtDegree]Felt
	siblings [][digestLen]Felt
}

type openingCells struct {
	rows     [][]Felt
	siblings [][digestLen]Felt
}

type proofCells struct {
	publicValues   []Felt
	mainCommit     [digestLen]Felt
	permCommit     [digestLen]Felt
	quotientCommit [digestLen]Felt
	chips          []chipCells
	friCommits     [][digestLen]Felt
	finalValue     [field.ExtDegree]Felt
	powWitness     Felt
	querySteps     [][]stepCells
	queryOpenings  [][]openingCells
}

type matDim struct {
	width  int
	logLde int
}

// roundPlan is one commitment round of the opening argument: the commit
// cells, the build-time matrix dimensions, and the opened points/values.
type roundPlan struct {
	commit [digestLen]Felt
	mats   []matDim
	points [][]ExtVar
	values [][][]ExtVar
}

func (cv *ChunkVerifier) digestCells() [digestLen]Felt {
	var d [digestLen]Felt
	for i := range d {
		d[i] = cv.b.WitnessF()
	}
	return d
}

func (cv *ChunkVerifier) extCells(n int) []ExtVar {
	out := make([]ExtVar, n)
	for i := range out {
		out[i] = cv.b.WitnessE()
	}
	return out
}

// readProof allocates witness cells for every proof field, in the exact
// order WitnessFromProof emits them.
func (cv *ChunkVerifier) readProof() *proofCells {
	b := cv.b
	pc := &proofCells{}
	pc.publicValues = make([]Felt, machine.NumMachinePvs)
	for i := range pc.publicValues {
		pc.publicValues[i] = b.WitnessF()
	}
	pc.mainCommit = cv.digestCells()
	if cv.hasPerm {
		pc.permCommit = cv.digestCells()
	}
	pc.quotientCommit = cv.digestCells()

	for _, meta := range cv.metas {
		var cc chipCells
		if info, ok := cv.vk.HasPreprocessed(meta.Name()); ok {
			cc.preLocal = cv.extCells(info.Width)
			if !meta.LocalOnly() {
				cc.preNext = cv.extCells(info.Width)
			}
		}
		cc.mainLocal = cv.extCells(meta.MainWidth())
		if !meta.LocalOnly() {
			cc.mainNext = cv.extCells(meta.MainWidth())
		}
		permFlat := meta.PermutationWidth() * field.ExtDegree
		cc.permLocal = cv.extCells(permFlat)
		cc.permNext = cv.extCells(permFlat)
		for k := 0; k < 1<<meta.LogQuotientDegree; k++ {
			cc.quotientChunks = append(cc.quotientChunks, cv.extCells(field.ExtDegree))
		}
		for j := range cc.cumulativeSum {
			cc.cumulativeSum[j] = b.WitnessF()
		}
		pc.chips = append(pc.chips, cc)
	}

	layers := cv.logMax - cv.spec.LogBlowup
	for li := 0; li < layers; li++ {
		pc.friCommits = append(pc.friCommits, cv.digestCells())
	}
	for j := range pc.finalValue {
		pc.finalValue[j] = b.WitnessF()
	}
	pc.powWitness = b.WitnessF()

	for q := 0; q < cv.spec.NumQueries; q++ {
		var steps []stepCells
		for li := 0; li < layers; li++ {
			lg := cv.logMax - li
			var st stepCells
			for j := range st.pair {
				st.pair[j] = b.WitnessF()
			}
			for lvl := 0; lvl < lg-1; lvl++ {
				st.siblings = append(st.siblings, cv.digestCells())
			}
			steps = append(steps, st)
		}
		pc.querySteps = append(pc.querySteps, steps)
	}

	rounds := cv.roundDims()
	for q := 0; q < cv.spec.NumQueries; q++ {
		var openings []openingCells
		for _, mats := range rounds {
			var oc openingCells
			treeLog := 0
			for _, d := range mats {
				if d.logLde > treeLog {
					treeLog = d.logLde
				}
				row := make([]Felt, d.width)
				for c := range row {
					row[c] = b.WitnessF()
				}
				oc.rows = append(oc.rows, row)
			}
			for lvl := 0; lvl < treeLog; lvl++ {
				oc.siblings = append(oc.siblings, cv.digestCells())
			}
			openings = append(openings, oc)
		}
		pc.queryOpenings = append(pc.queryOpenings, openings)
	}
	return pc
}

// roundDims lists the matrix dimensions of each commitment round in the
// order the opening argument walks them.
func (cv *ChunkVerifier) roundDims() [][]matDim {
	var rounds [][]matDim
	if len(cv.vk.Preprocessed) > 0 {
		var mats []matDim
		for _, info := range cv.vk.Preprocessed {
			mats = append(mats, matDim{width: info.Width, logLde: info.LogHeight + cv.spec.LogBlowup})
		}
		rounds = append(rounds, mats)
	}
	var mainMats []matDim
	for i, meta := range cv.metas {
		mainMats = append(mainMats, matDim{width: meta.MainWidth(), logLde: cv.shape.LogHeights[i] + cv.spec.LogBlowup})
	}
	rounds = append(rounds, mainMats)
	if cv.hasPerm {
		var permMats []matDim
		for i, meta := range cv.metas {
			if meta.PermutationWidth() == 0 {
				continue
			}
			permMats = append(permMats, matDim{width: meta.PermutationWidth() * field.ExtDegree, logLde: cv.shape.LogHeights[i] + cv.spec.LogBlowup})
		}
		rounds = append(rounds, permMats)
	}
	var quotMats []matDim
	for i, meta := range cv.metas {
		for k := 0; k < 1<<meta.LogQuotientDegree; k++ {
			quotMats = append(quotMats, matDim{width: field.ExtDegree, logLde: cv.shape.LogHeights[i] + cv.spec.LogBlowup})
		}
	}
	rounds = append(rounds, quotMats)
	return rounds
}

// shapeIndex maps a chip name to its position in the shape.
func (cv *ChunkVerifier) shapeIndex(name string) int {
	for i, n := range cv.shape.ChipNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Verify emits the full chunk-verification circuit: transcript replay,
// opening argument, constraint reconstruction at zeta, and the regional
// cumulative-sum check. The returned public-value cells are sound to build
// on once the surrounding circuit binds the verifying-key cells.
func (cv *ChunkVerifier) Verify(vkCells VkCells) *VerifiedProof {
	b := cv.b
	pc := cv.readProof()

	ch := NewCircuitChallenger(b, cv.spec)
	ch.ObserveSlice(vkCells.Commit[:])
	ch.Observe(vkCells.StartPc)
	for _, info := range cv.vk.Preprocessed {
		ch.Observe(b.ConstF(field.FromUint64(uint64(info.LogHeight))))
	}
	ch.ObserveSlice(pc.publicValues)
	for i := range cv.metas {
		ch.Observe(b.ConstF(field.FromUint64(uint64(cv.shape.LogHeights[i]))))
	}
	ch.ObserveSlice(pc.mainCommit[:])
	permAlpha := ch.SampleExt()
	permBeta := ch.SampleExt()
	if cv.hasPerm {
		ch.ObserveSlice(pc.permCommit[:])
	}
	for i := range cv.metas {
		ch.ObserveSlice(pc.chips[i].cumulativeSum[:])
	}
	alpha := ch.SampleExt()
	ch.ObserveSlice(pc.quotientCommit[:])
	zeta := ch.SampleExt()

	cv.verifyOpenings(pc, ch, zeta, vkCells)

	public := make([]ExtVar, len(pc.publicValues))
	for i, v := range pc.publicValues {
		public[i] = b.FeltToExt(v)
	}
	total := b.ConstE(field.ExtZero())
	for i, meta := range cv.metas {
		cumSum := b.LimbsToExt(pc.chips[i].cumulativeSum)
		cv.checkChipConstraints(meta, &pc.chips[i], public, permAlpha, permBeta, alpha, zeta, cumSum, cv.shape.LogHeights[i])
		total = b.AddE(total, cumSum)
	}
	b.AssertConstE(total, field.ExtZero())

	return &VerifiedProof{PublicValues: pc.publicValues}
}

// verifyOpenings mirrors the batched opening argument: the reduced-opening
// accumulation per query and the FRI fold replay.
func (cv *ChunkVerifier) verifyOpenings(pc *proofCells, ch *CircuitChallenger, zeta ExtVar, vkCells VkCells) {
	b := cv.b
	alpha := ch.SampleExt()

	zetaNext := map[int]ExtVar{}
	points := func(logHeight int, localOnly bool) []ExtVar {
		if localOnly {
			return []ExtVar{zeta}
		}
		zn, ok := zetaNext[logHeight]
		if !ok {
			g := field.TwoAdicGenerator(logHeight)
			zn = b.MulE(zeta, b.ConstE(field.ExtFromBase(g)))
			zetaNext[logHeight] = zn
		}
		return []ExtVar{zeta, zn}
	}

	var rounds []roundPlan
	if len(cv.vk.Preprocessed) > 0 {
		round := roundPlan{commit: vkCells.Commit}
		for _, info := range cv.vk.Preprocessed {
			i := cv.shapeIndex(info.ChipName)
			cc := &pc.chips[i]
			round.mats = append(round.mats, matDim{width: info.Width, logLde: info.LogHeight + cv.spec.LogBlowup})
			round.points = append(round.points, points(info.LogHeight, cv.metas[i].LocalOnly()))
			vals := [][]ExtVar{cc.preLocal}
			if !cv.metas[i].LocalOnly() {
				vals = append(vals, cc.preNext)
			}
			round.values = append(round.values, vals)
		}
		rounds = append(rounds, round)
	}

	mainRound := roundPlan{commit: pc.mainCommit}
	for i, meta := range cv.metas {
		cc := &pc.chips[i]
		lh := cv.shape.LogHeights[i]
		mainRound.mats = append(mainRound.mats, matDim{width: meta.MainWidth(), logLde: lh + cv.spec.LogBlowup})
		mainRound.points = append(mainRound.points, points(lh, meta.LocalOnly()))
		vals := [][]ExtVar{cc.mainLocal}
		if !meta.LocalOnly() {
			vals = append(vals, cc.mainNext)
		}
		mainRound.values = append(mainRound.values, vals)
	}
	rounds = append(rounds, mainRound)

	if cv.hasPerm {
		permRound := roundPlan{commit: pc.permCommit}
		for i, meta := range cv.metas {
			if meta.PermutationWidth() == 0 {
				continue
			}
			cc := &pc.chips[i]
			lh := cv.shape.LogHeights[i]
			permRound.mats = append(permRound.mats, matDim{width: meta.PermutationWidth() * field.ExtDegree, logLde: lh + cv.spec.LogBlowup})
			permRound.points = append(permRound.points, points(lh, false))
			permRound.values = append(permRound.values, [][]ExtVar{cc.permLocal, cc.permNext})
		}
		rounds = append(rounds, permRound)
	}

	quotRound := roundPlan{commit: pc.quotientCommit}
	for i := range cv.metas {
		cc := &pc.chips[i]
		lh := cv.shape.LogHeights[i]
		for _, chunk := range cc.quotientChunks {
			quotRound.mats = append(quotRound.mats, matDim{width: field.ExtDegree, logLde: lh + cv.spec.LogBlowup})
			quotRound.points = append(quotRound.points, []ExtVar{zeta})
			quotRound.values = append(quotRound.values, [][]ExtVar{chunk})
		}
	}
	rounds = append(rounds, quotRound)

	// FRI transcript.
	betas := make([]ExtVar, len(pc.friCommits))
	for li, commit := range pc.friCommits {
		ch.ObserveSlice(commit[:])
		betas[li] = ch.SampleExt()
	}
	ch.ObserveSlice(pc.finalValue[:])
	ch.ObservePow(pc.powWitness, cv.spec.GrindingBits)

	zeroE := b.ConstE(field.ExtZero())
	oneE := b.ConstE(field.ExtOne())
	halfInv := field.Inv(field.FromUint32(2))
	halfInvE := b.ConstE(field.ExtFromBase(halfInv))
	finalValue := b.LimbsToExt(pc.finalValue)

	for q := 0; q < cv.spec.NumQueries; q++ {
		idxBits := ch.SampleBits(cv.logMax)

		// Reduced openings at the query index, per LDE size.
		out := map[int]ExtVar{}
		alphaPow := oneE
		for ri, round := range rounds {
			oc := &pc.queryOpenings[q][ri]
			treeLog := 0
			for _, d := range round.mats {
				if d.logLde > treeLog {
					treeLog = d.logLde
				}
			}
			cv.verifyMerkle(round.commit, round.mats, idxBits[cv.logMax-treeLog:], oc.rows, oc.siblings)
			for mi, d := range round.mats {
				matBits := idxBits[cv.logMax-d.logLde:]
				g := b.ConstF(field.TwoAdicGenerator(d.logLde))
				x := b.MulF(b.ConstF(field.CanonicalShift(d.logLde)), b.ExpBits(g, matBits))
				row := oc.rows[mi]
				for pi, z := range round.points[mi] {
					ys := round.values[mi][pi]
					num := zeroE
					w := alphaPow
					for col := 0; col < d.width; col++ {
						diff := b.SubE(b.FeltToExt(row[col]), ys[col])
						num = b.AddE(num, b.MulE(w, diff))
						w = b.MulE(w, alpha)
					}
					denom := b.SubE(b.FeltToExt(x), z)
					cur, ok := out[d.logLde]
					if !ok {
						cur = zeroE
					}
					out[d.logLde] = b.AddE(cur, b.DivE(num, denom))
					alphaPow = w
				}
			}
		}

		// Fold replay down to the final value.
		expected := out[cv.logMax]
		curBits := idxBits
		for li, step := range pc.querySteps[q] {
			lg := cv.logMax - li
			curBits = curBits[:lg]
			pairBits := curBits[:lg-1]

			dims := []matDim{{width: 2 * field.ExtDegree, logLde: lg - 1}}
			cv.verifyMerkle(pc.friCommits[li], dims, pairBits, [][]Felt{step.pair[:]}, step.siblings)

			var l0, l1 [field.ExtDegree]Felt
			copy(l0[:], step.pair[:field.ExtDegree])
			copy(l1[:], step.pair[field.ExtDegree:])
			e0 := b.LimbsToExt(l0)
			e1 := b.LimbsToExt(l1)

			opened, _ := b.SelectE(curBits[lg-1], e0, e1)
			b.AssertEqE(opened, expected)

			g := b.ConstF(field.TwoAdicGenerator(lg))
			x := b.MulF(b.ConstF(field.CanonicalShift(lg)), b.ExpBits(g, pairBits))
			sum := b.MulE(b.AddE(e0, e1), halfInvE)
			diff := b.DivE(b.MulE(b.SubE(e0, e1), halfInvE), b.FeltToExt(x))
			expected = b.AddE(sum, b.MulE(betas[li], diff))
			if inj, ok := out[lg-1]; ok {
				expected = b.AddE(expected, inj)
			}
			curBits = pairBits
		}
		b.AssertEqE(expected, finalValue)
	}
}

// verifyMerkle replays a batched Merkle opening: matrices hash in at the
// level matching their height, the path compresses upward with the
// direction chosen by the index bits, and the result must equal the
// commitment cells.
func (cv *ChunkVerifier) verifyMerkle(commit [digestLen]Felt, dims []matDim, idxBits []Felt, rows [][]Felt, siblings [][digestLen]Felt) {
	b := cv.b
	maxLog := 0
	for _, d := range dims {
		if d.logLde > maxLog {
			maxLog = d.logLde
		}
	}

	order := make([]int, len(dims))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool {
		return dims[order[a]].logLde > dims[order[c]].logLde
	})
	rowAtLog := func(lg int) []Felt {
		var flat []Felt
		for _, j := range order {
			if dims[j].logLde == lg {
				flat = append(flat, rows[j]...)
			}
		}
		return flat
	}

	d := cv.hashSlice(rowAtLog(maxLog))
	lg := maxLog
	for lvl, sib := range siblings {
		bit := idxBits[lvl]
		var left, right [digestLen]Felt
		for j := range d {
			left[j], right[j] = b.SelectF(bit, d[j], sib[j])
		}
		d = cv.compress(left, right)
		lg--
		if inj := rowAtLog(lg); len(inj) > 0 {
			d = cv.compress(d, cv.hashSlice(inj))
		}
	}
	for j := range d {
		b.AssertEqF(d[j], commit[j])
	}
}

// hashSlice mirrors the sponge hash: absorb rate-sized chunks in overwrite
// mode, permuting after each.
func (cv *ChunkVerifier) hashSlice(vs []Felt) [digestLen]Felt {
	b := cv.b
	var state [16]Felt
	for i := range state {
		state[i] = b.Zero()
	}
	rate := cv.spec.Poseidon2Rate
	for start := 0; start < len(vs); start += rate {
		end := start + rate
		if end > len(vs) {
			end = len(vs)
		}
		copy(state[:end-start], vs[start:end])
		state = b.Poseidon2(state)
	}
	var out [digestLen]Felt
	copy(out[:], state[:digestLen])
	return out
}

func (cv *ChunkVerifier) compress(left, right [digestLen]Felt) [digestLen]Felt {
	b := cv.b
	var state [16]Felt
	copy(state[:digestLen], left[:])
	copy(state[digestLen:], right[:])
	state = b.Poseidon2(state)
	var out [digestLen]Felt
	copy(out[:], state[:digestLen])
	return out
}

// circuitEnv supplies cell assignments for a symbolic constraint walk at
// the out-of-domain point.
type circuitEnv struct {
	preLocal, preNext   []ExtVar
	mainLocal, mainNext []ExtVar
	public              []ExtVar
	selFirst, selLast   ExtVar
	selTransition       ExtVar
	memo                map[machine.Expr]ExtVar
}

func (cv *ChunkVerifier) evalExpr(e machine.Expr, env *circuitEnv) ExtVar {
	if v, ok := env.memo[e]; ok {
		return v
	}
	b := cv.b
	var out ExtVar
	switch n := e.(type) {
	case machine.ConstExpr:
		out = b.ConstE(field.ExtFromBase(n.V))
	case machine.VarExpr:
		switch {
		case n.Seg == machine.SegPreprocessed && n.Offset == 0:
			out = env.preLocal[n.Col]
		case n.Seg == machine.SegPreprocessed:
			out = env.preNext[n.Col]
		case n.Offset == 0:
			out = env.mainLocal[n.Col]
		default:
			out = env.mainNext[n.Col]
		}
	case machine.PublicExpr:
		out = env.public[n.Idx]
	case machine.SelectorExpr:
		switch n.Kind {
		case machine.SelFirstRow:
			out = env.selFirst
		case machine.SelLastRow:
			out = env.selLast
		default:
			out = env.selTransition
		}
	case machine.AddExpr:
		out = b.AddE(cv.evalExpr(n.L, env), cv.evalExpr(n.R, env))
	case machine.SubExpr:
		out = b.SubE(cv.evalExpr(n.L, env), cv.evalExpr(n.R, env))
	case machine.MulExpr:
		out = b.MulE(cv.evalExpr(n.L, env), cv.evalExpr(n.R, env))
	case machine.NegExpr:
		out = b.SubE(b.ConstE(field.ExtZero()), cv.evalExpr(n.X, env))
	default:
		panic("recursion: unknown expression node")
	}
	env.memo[e] = out
	return out
}

// reassemble recombines flattened limb openings into extension cells.
func (cv *ChunkVerifier) reassemble(limbEvals []ExtVar) []ExtVar {
	b := cv.b
	out := make([]ExtVar, len(limbEvals)/field.ExtDegree)
	for c := range out {
		acc := limbEvals[c*field.ExtDegree]
		for j := 1; j < field.ExtDegree; j++ {
			var limbs [field.ExtDegree]field.Val
			limbs[j] = field.One()
			basis := b.ConstE(field.ExtFromLimbs(limbs))
			acc = b.AddE(acc, b.MulE(limbEvals[c*field.ExtDegree+j], basis))
		}
		out[c] = acc
	}
	return out
}

func (cv *ChunkVerifier) lookupDenominator(lk machine.Lookup, env *circuitEnv, alpha, beta ExtVar) ExtVar {
	b := cv.b
	betaPow := b.ConstE(field.ExtOne())
	kind := b.ConstE(field.ExtFromBase(field.FromUint32(uint32(lk.Type))))
	acc := b.AddE(alpha, kind)
	for _, v := range lk.Values {
		betaPow = b.MulE(betaPow, beta)
		acc = b.AddE(acc, b.MulE(betaPow, cv.evalExpr(v, env)))
	}
	return acc
}

func (cv *ChunkVerifier) lookupSignedMult(lk machine.Lookup, env *circuitEnv) ExtVar {
	m := cv.evalExpr(lk.Mult, env)
	if lk.IsLooked {
		return cv.b.SubE(cv.b.ConstE(field.ExtZero()), m)
	}
	return m
}

// evalPermutation folds the lookup-argument constraints in the shared
// order.
func (cv *ChunkVerifier) evalPermutation(meta *machine.MetaChip, env *circuitEnv, permLocal, permNext []ExtVar, alphaP, betaP, cumSum ExtVar, accumulate func(ExtVar)) {
	b := cv.b
	lks := meta.RegionalLookups()
	if len(lks) == 0 {
		return
	}
	batch := meta.BatchSize()
	width := meta.PermutationWidth()
	numBatches := width - 1

	for bi := 0; bi < numBatches; bi++ {
		lo := bi * batch
		hi := lo + batch
		if hi > len(lks) {
			hi = len(lks)
		}
		prodAll := b.ConstE(field.ExtOne())
		denoms := make([]ExtVar, 0, hi-lo)
		for li := lo; li < hi; li++ {
			d := cv.lookupDenominator(lks[li], env, alphaP, betaP)
			denoms = append(denoms, d)
			prodAll = b.MulE(prodAll, d)
		}
		rhs := b.ConstE(field.ExtZero())
		for k := range denoms {
			term := cv.lookupSignedMult(lks[lo+k], env)
			for l := range denoms {
				if l != k {
					term = b.MulE(term, denoms[l])
				}
			}
			rhs = b.AddE(rhs, term)
		}
		lhs := b.MulE(permLocal[bi], prodAll)
		accumulate(b.SubE(lhs, rhs))
	}

	zeroE := b.ConstE(field.ExtZero())
	rowSumLocal := zeroE
	for bi := 0; bi < numBatches; bi++ {
		rowSumLocal = b.AddE(rowSumLocal, permLocal[bi])
	}
	rowSumNext := zeroE
	for bi := 0; bi < numBatches; bi++ {
		rowSumNext = b.AddE(rowSumNext, permNext[bi])
	}
	phiLocal := permLocal[width-1]
	phiNext := permNext[width-1]

	accumulate(b.MulE(env.selFirst, b.SubE(phiLocal, rowSumLocal)))
	accumulate(b.MulE(env.selTransition, b.SubE(b.SubE(phiNext, phiLocal), rowSumNext)))
	accumulate(b.MulE(env.selLast, b.SubE(phiLocal, cumSum)))
}

// checkChipConstraints reconstructs the alpha-folded constraint value at
// zeta and equates it with the opened quotient times the zerofier.
func (cv *ChunkVerifier) checkChipConstraints(meta *machine.MetaChip, cc *chipCells, public []ExtVar, permAlpha, permBeta, alpha, zeta ExtVar, cumSum ExtVar, logHeight int) {
	b := cv.b

	// Selectors at zeta over the trace domain.
	zn := zeta
	for i := 0; i < logHeight; i++ {
		zn = b.MulE(zn, zn)
	}
	oneE := b.ConstE(field.ExtOne())
	znm1 := b.SubE(zn, oneE)
	gInv := field.Inv(field.TwoAdicGenerator(logHeight))
	gInvE := b.ConstE(field.ExtFromBase(gInv))
	env := &circuitEnv{
		preLocal:      cc.preLocal,
		preNext:       cc.preNext,
		mainLocal:     cc.mainLocal,
		mainNext:      cc.mainNext,
		public:        public,
		selFirst:      b.DivE(znm1, b.SubE(zeta, oneE)),
		selLast:       b.DivE(znm1, b.SubE(zeta, gInvE)),
		selTransition: b.SubE(zeta, gInvE),
		memo:          map[machine.Expr]ExtVar{},
	}

	folded := b.ConstE(field.ExtZero())
	pow := b.ConstE(field.ExtOne())
	accumulate := func(c ExtVar) {
		folded = b.AddE(folded, b.MulE(pow, c))
		pow = b.MulE(pow, alpha)
	}
	for _, c := range meta.Constraints {
		accumulate(cv.evalExpr(c, env))
	}
	if meta.PermutationWidth() > 0 {
		permLocal := cv.reassemble(cc.permLocal)
		permNext := cv.reassemble(cc.permNext)
		cv.evalPermutation(meta, env, permLocal, permNext, permAlpha, permBeta, cumSum, accumulate)
	}

	qZeta := b.ConstE(field.ExtZero())
	cur := b.ConstE(field.ExtOne())
	for _, chunk := range cc.quotientChunks {
		val := cv.reassemble(chunk)[0]
		qZeta = b.AddE(qZeta, b.MulE(cur, val))
		cur = b.MulE(cur, zn)
	}

	b.AssertEqE(folded, b.MulE(qZeta, znm1))
}
