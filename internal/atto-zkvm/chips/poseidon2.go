package chips

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

const (
	p2IsReal = iota
	p2Clk
	p2PtrLo
	p2PtrHi
	p2Input // permutation width lanes, then one width-sized snapshot per round

	p2HeaderWidth = p2Input
)

// Poseidon2Chip re-runs the whole permutation inside the trace: one state
// snapshot per round, with the cubing sbox written directly into the round
// constraints. Only the degree-3 sbox fits the quotient budget, so specs
// with a higher degree are rejected at construction.
type Poseidon2Chip struct {
	spec field.Spec
	perm *poseidon2.Permutation
}

func NewPoseidon2Chip(spec field.Spec, perm *poseidon2.Permutation) *Poseidon2Chip {
	if spec.SboxDegree != 3 {
		panic(fmt.Sprintf("chips: poseidon2 chip needs the cubing sbox, got degree %d", spec.SboxDegree))
	}
	return &Poseidon2Chip{spec: spec, perm: perm}
}

func (c *Poseidon2Chip) rounds() int { return c.spec.ExternalRounds + c.spec.InternalRounds }

func (c *Poseidon2Chip) Name() string           { return "Poseidon2" }
func (c *Poseidon2Chip) PreprocessedWidth() int { return 0 }
func (c *Poseidon2Chip) MainWidth() int {
	return p2HeaderWidth + c.spec.Poseidon2Width*(1+c.rounds())
}

func (c *Poseidon2Chip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *Poseidon2Chip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.Poseidon2Events) > 0
}
func (c *Poseidon2Chip) LocalOnly() bool                  { return true }
func (c *Poseidon2Chip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

// snapshotCol is the first column of the state after round r; r == -1
// addresses the raw input lanes.
func (c *Poseidon2Chip) snapshotCol(r int) int {
	return p2Input + (r+1)*c.spec.Poseidon2Width
}

func (c *Poseidon2Chip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	w := c.spec.Poseidon2Width
	half := c.spec.ExternalRounds / 2
	m := newTrace(record, c.Name(), len(record.Poseidon2Events), c.MainWidth())
	external := c.perm.ExternalConstants()
	internal := c.perm.InternalConstants()
	for i, ev := range record.Poseidon2Events {
		row := m.Row(i)
		row[p2IsReal] = field.One()
		row[p2Clk] = field.FromUint32(ev.Clk)
		setWord(row, p2PtrLo, ev.InputPtr)

		state := make([]field.Val, w)
		for j := 0; j < w; j++ {
			state[j] = field.FromUint32(ev.Input[j] % field.ModulusUint32)
			row[p2Input+j] = state[j]
		}
		round := 0
		snap := func() {
			copy(row[c.snapshotCol(round):c.snapshotCol(round)+w], state)
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

func (c *Poseidon2Chip) ExtraRecord(record, derived *emulator.EmulationRecord) {}

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

func (c *Poseidon2Chip) Eval(b *machine.Builder) {
	w := c.spec.Poseidon2Width
	half := c.spec.ExternalRounds / 2
	isReal := b.Local(p2IsReal)
	b.AssertBool(isReal)

	external := c.perm.ExternalConstants()
	internal := c.perm.InternalConstants()
	diag := c.perm.InternalDiag()

	snapshot := func(r int) []expr {
		out := make([]expr, w)
		for j := 0; j < w; j++ {
			out[j] = b.Local(c.snapshotCol(r) + j)
		}
		return out
	}
	constrain := func(r int, computed []expr) {
		next := snapshot(r)
		for j := 0; j < w; j++ {
			b.AssertZero(mul(isReal, sub(next[j], computed[j])))
		}
	}

	state := exprExternalLayer(snapshot(-1))
	round := 0
	for r := 0; r < half; r++ {
		sboxed := make([]expr, w)
		for j := 0; j < w; j++ {
			sboxed[j] = cube(add(state[j], machine.Const(external[r][j])))
		}
		constrain(round, exprExternalLayer(sboxed))
		state = snapshot(round)
		round++
	}
	for r := 0; r < c.spec.InternalRounds; r++ {
		mixed := make([]expr, w)
		mixed[0] = cube(add(state[0], machine.Const(internal[r])))
		copy(mixed[1:], state[1:])
		constrain(round, exprInternalLayer(mixed, diag))
		state = snapshot(round)
		round++
	}
	for r := half; r < c.spec.ExternalRounds; r++ {
		sboxed := make([]expr, w)
		for j := 0; j < w; j++ {
			sboxed[j] = cube(add(state[j], machine.Const(external[r][j])))
		}
		constrain(round, exprExternalLayer(sboxed))
		state = snapshot(round)
		round++
	}

	b.Looking(machine.LookupSyscall, machine.ScopeRegional, []expr{
		cu(syscallTagPrecompile), b.Local(p2Clk),
		cu(emulator.SyscallPoseidon2 & 0xFFFF), cu(emulator.SyscallPoseidon2 >> 16),
		b.Local(p2PtrLo), b.Local(p2PtrHi),
	}, isReal)
}
