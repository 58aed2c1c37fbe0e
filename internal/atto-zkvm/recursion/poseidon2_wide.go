package recursion

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

const p2wLanes = 16

const (
	pwIsReal  = 0
	pwAddrIn  = 1
	pwAddrOut = pwAddrIn + p2wLanes
	pwMult    = pwAddrOut + p2wLanes

	pwPreWidth = pwMult + p2wLanes
)

// Poseidon2WideChip proves one full permutation per row, reading the input
// lanes from memory and producing the output lanes, with a state snapshot
// per round like the RISC-V precompile chip. Every hash and transcript step
// of a recursion program goes through here.
type Poseidon2WideChip struct {
	spec field.Spec
	perm *poseidon2.Permutation
}

func NewPoseidon2WideChip(spec field.Spec, perm *poseidon2.Permutation) *Poseidon2WideChip {
	if spec.SboxDegree != 3 {
		panic(fmt.Sprintf("recursion: poseidon2 chip needs the cubing sbox, got degree %d", spec.SboxDegree))
	}
	if spec.Poseidon2Width != p2wLanes {
		panic(fmt.Sprintf("recursion: poseidon2 chip needs width %d, got %d", p2wLanes, spec.Poseidon2Width))
	}
	return &Poseidon2WideChip{spec: spec, perm: perm}
}

func (c *Poseidon2WideChip) rounds() int { return c.spec.ExternalRounds + c.spec.InternalRounds }

func (c *Poseidon2WideChip) Name() string           { return "Poseidon2Wide" }
func (c *Poseidon2WideChip) PreprocessedWidth() int { return pwPreWidth }
func (c *Poseidon2WideChip) MainWidth() int {
	return p2wLanes * (1 + c.rounds())
}

// snapshotCol is the first main column of the state after round r; r == -1
// addresses the input lanes.
func (c *Poseidon2WideChip) snapshotCol(r int) int {
	return (r + 1) * p2wLanes
}

func (c *Poseidon2WideChip) GeneratePreprocessed(program any) *matrix.Dense {
	p, ok := program.(*Program)
	if !ok {
		return nil
	}
	var rows []instr
	for _, in := range p.instrs {
		if in.kind == opPoseidon2 {
			rows = append(rows, in)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	m := paddedTrace(len(rows), pwPreWidth)
	for i, in := range rows {
		row := m.Row(i)
		row[pwIsReal] = field.One()
		for j, addr := range in.ins {
			row[pwAddrIn+j] = field.FromUint32(addr)
		}
		for j, addr := range in.outs {
			row[pwAddrOut+j] = field.FromUint32(addr)
			row[pwMult+j] = field.FromUint32(p.readCount[addr])
		}
	}
	return m
}

func (c *Poseidon2WideChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	half := c.spec.ExternalRounds / 2
	m := paddedTrace(len(record.CircuitPoseidon2), c.MainWidth())
	external := c.perm.ExternalConstants()
	internal := c.perm.InternalConstants()
	for i, ev := range record.CircuitPoseidon2 {
		row := m.Row(i)
		state := make([]field.Val, p2wLanes)
		for j := 0; j < p2wLanes; j++ {
			state[j] = ev.Input[j]
			row[j] = state[j]
		}
		round := 0
		snap := func() {
			copy(row[c.snapshotCol(round):c.snapshotCol(round)+p2wLanes], state)
			round++
		}
		c.perm.ExternalLayer(state)
		for r := 0; r < half; r++ {
			for j := range state {
				state[j] = field.Add(state[j], external[r][j])
				state[j] = field.Mul(field.Mul(state[j], state[j]), state[j])
			}
			c.perm.ExternalLayer(state)
			snap()
		}
		for r := 0; r < c.spec.InternalRounds; r++ {
			state[0] = field.Add(state[0], internal[r])
			state[0] = field.Mul(field.Mul(state[0], state[0]), state[0])
			c.perm.InternalLayer(state)
			snap()
		}
		for r := half; r < c.spec.ExternalRounds; r++ {
			for j := range state {
				state[j] = field.Add(state[j], external[r][j])
				state[j] = field.Mul(field.Mul(state[j], state[j]), state[j])
			}
			c.perm.ExternalLayer(state)
			snap()
		}
	}
	return m
}

func (c *Poseidon2WideChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *Poseidon2WideChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.CircuitPoseidon2) > 0
}
func (c *Poseidon2WideChip) LocalOnly() bool                  { return true }
func (c *Poseidon2WideChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

// exprExternalLayer mirrors Permutation.ExternalLayer symbolically.
func exprExternalLayer(state []expr) []expr {
	w := len(state)
	m4 := [4][4]uint32{
		{5, 7, 1, 3},
		{4, 6, 1, 1},
		{1, 3, 5, 7},
		{1, 1, 4, 6},
	}
	mixed := make([]expr, w)
	for g := 0; g < w; g += 4 {
		for i := 0; i < 4; i++ {
			acc := zero()
			for j := 0; j < 4; j++ {
				acc = add(acc, mul(cu(m4[i][j]), state[g+j]))
			}
			mixed[g+i] = acc
		}
	}
	sums := make([]expr, 4)
	for i := range sums {
		sums[i] = zero()
	}
	for i, v := range mixed {
		sums[i%4] = add(sums[i%4], v)
	}
	out := make([]expr, w)
	for i := range mixed {
		out[i] = add(mixed[i], sums[i%4])
	}
	return out
}

// exprInternalLayer mirrors Permutation.InternalLayer symbolically.
func exprInternalLayer(state []expr, diag []field.Val) []expr {
	sum := zero()
	for _, v := range state {
		sum = add(sum, v)
	}
	out := make([]expr, len(state))
	for i := range state {
		out[i] = add(mul(machine.Const(diag[i]), state[i]), sum)
	}
	return out
}

func cube(x expr) expr { return mul(mul(x, x), x) }

func (c *Poseidon2WideChip) Eval(b *machine.Builder) {
	half := c.spec.ExternalRounds / 2
	isReal := b.PreLocal(pwIsReal)

	external := c.perm.ExternalConstants()
	internal := c.perm.InternalConstants()
	diag := c.perm.InternalDiag()

	snapshot := func(r int) []expr {
		out := make([]expr, p2wLanes)
		for j := 0; j < p2wLanes; j++ {
			out[j] = b.Local(c.snapshotCol(r) + j)
		}
		return out
	}
	constrain := func(r int, computed []expr) {
		next := snapshot(r)
		for j := 0; j < p2wLanes; j++ {
			b.AssertZero(mul(isReal, sub(next[j], computed[j])))
		}
	}

	state := exprExternalLayer(snapshot(-1))
	round := 0
	for r := 0; r < half; r++ {
		sboxed := make([]expr, p2wLanes)
		for j := 0; j < p2wLanes; j++ {
			sboxed[j] = cube(add(state[j], machine.Const(external[r][j])))
		}
		constrain(round, exprExternalLayer(sboxed))
		state = snapshot(round)
		round++
	}
	for r := 0; r < c.spec.InternalRounds; r++ {
		mixed := make([]expr, p2wLanes)
		mixed[0] = cube(add(state[0], machine.Const(internal[r])))
		copy(mixed[1:], state[1:])
		constrain(round, exprInternalLayer(mixed, diag))
		state = snapshot(round)
		round++
	}
	for r := half; r < c.spec.ExternalRounds; r++ {
		sboxed := make([]expr, p2wLanes)
		for j := 0; j < p2wLanes; j++ {
			sboxed[j] = cube(add(state[j], machine.Const(external[r][j])))
		}
		constrain(round, exprExternalLayer(sboxed))
		state = snapshot(round)
		round++
	}

	final := c.snapshotCol(c.rounds() - 1)
	for j := 0; j < p2wLanes; j++ {
		b.Looking(machine.LookupMemory, machine.ScopeRegional,
			baseTuple(b.PreLocal(pwAddrIn+j), b.Local(j)), isReal)
		b.Looked(machine.LookupMemory, machine.ScopeRegional,
			baseTuple(b.PreLocal(pwAddrOut+j), b.Local(final+j)), b.PreLocal(pwMult+j))
	}
}
