package recursion

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

type expr = machine.Expr

func add(l, r expr) expr   { return machine.Add(l, r) }
func sub(l, r expr) expr   { return machine.Sub(l, r) }
func mul(l, r expr) expr   { return machine.Mul(l, r) }
func cu(v uint32) expr     { return machine.ConstU32(v) }
func addN(es ...expr) expr { return machine.AddMany(es...) }

func one() expr  { return cu(1) }
func zero() expr { return cu(0) }

func not(x expr) expr { return sub(one(), x) }

// memTuple is the shared shape of every circuit-memory lookup:
// [addr, v0, v1, v2, v3]. Base-valued cells carry zeros in the high limbs,
// which is what pins witness cells consumed as base values to the low limb.
func memTuple(addr, v0, v1, v2, v3 expr) []expr {
	return []expr{addr, v0, v1, v2, v3}
}

// baseTuple is memTuple for a base-valued cell.
func baseTuple(addr, v expr) []expr {
	return memTuple(addr, v, zero(), zero(), zero())
}

func setExt(row []field.Val, col int, v field.Ext) {
	l := field.ExtLimbs(v)
	copy(row[col:col+field.ExtDegree], l[:])
}

// extCols reads four consecutive main columns as extension limbs.
func extCols(b *machine.Builder, col int) [4]expr {
	var out [4]expr
	for i := range out {
		out[i] = b.Local(col + i)
	}
	return out
}

func paddedTrace(rows, width int) *matrix.Dense {
	return matrix.NewDense(matrix.NextPowerOfTwo(rows), width)
}

const (
	mcAddr = iota
	mcVal0
	mcVal1
	mcVal2
	mcVal3
	mcSend
	mcRecv

	mcPreWidth
)

const (
	mcIsReal = iota

	mcMainWidth
)

// MemConstChip is the constant table of a recursion program: one row per
// constant cell and one per assertion. Send rows produce the cell with the
// program's read multiplicity; receive rows consume a cell once, which
// forces its writer to have produced exactly the row's value. Everything
// but the real-row flag is preprocessed.
type MemConstChip struct{}

func NewMemConstChip() *MemConstChip { return &MemConstChip{} }

func (c *MemConstChip) Name() string           { return "MemoryConst" }
func (c *MemConstChip) PreprocessedWidth() int { return mcPreWidth }
func (c *MemConstChip) MainWidth() int         { return mcMainWidth }

func (c *MemConstChip) GeneratePreprocessed(program any) *matrix.Dense {
	p, ok := program.(*Program)
	if !ok {
		return nil
	}
	rows := len(p.consts) + len(p.asserts)
	if rows == 0 {
		return nil
	}
	m := paddedTrace(rows, mcPreWidth)
	for i, cc := range p.consts {
		row := m.Row(i)
		row[mcAddr] = field.FromUint32(cc.Addr)
		setExt(row, mcVal0, cc.Value)
		row[mcSend] = field.FromUint32(cc.ReadMult)
	}
	for i, as := range p.asserts {
		row := m.Row(len(p.consts) + i)
		row[mcAddr] = field.FromUint32(as.Addr)
		setExt(row, mcVal0, as.Value)
		row[mcRecv] = field.One()
	}
	return m
}

func (c *MemConstChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := paddedTrace(record.CircuitConstRows, mcMainWidth)
	for i := 0; i < record.CircuitConstRows; i++ {
		m.Row(i)[mcIsReal] = field.One()
	}
	return m
}

func (c *MemConstChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *MemConstChip) IsActive(record *emulator.EmulationRecord) bool {
	return record.CircuitConstRows > 0
}
func (c *MemConstChip) LocalOnly() bool                  { return true }
func (c *MemConstChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *MemConstChip) Eval(b *machine.Builder) {
	b.AssertBool(b.Local(mcIsReal))
	tuple := memTuple(
		b.PreLocal(mcAddr),
		b.PreLocal(mcVal0), b.PreLocal(mcVal1), b.PreLocal(mcVal2), b.PreLocal(mcVal3),
	)
	b.Looked(machine.LookupMemory, machine.ScopeRegional, tuple, b.PreLocal(mcSend))
	b.Looking(machine.LookupMemory, machine.ScopeRegional, tuple, b.PreLocal(mcRecv))
}

const (
	wAddr = iota
	wMult

	wPreWidth
)

// MemWitnessChip produces one cell per witness-stream element and per
// hint output. The values are deliberately unconstrained; whatever
// consumes the cell decides what shape it must have.
type MemWitnessChip struct{}

func NewMemWitnessChip() *MemWitnessChip { return &MemWitnessChip{} }

func (c *MemWitnessChip) Name() string           { return "MemoryWitness" }
func (c *MemWitnessChip) PreprocessedWidth() int { return wPreWidth }
func (c *MemWitnessChip) MainWidth() int         { return field.ExtDegree }

func (c *MemWitnessChip) GeneratePreprocessed(program any) *matrix.Dense {
	p, ok := program.(*Program)
	if !ok {
		return nil
	}
	var addrs []uint32
	for _, in := range p.instrs {
		switch in.kind {
		case opWitness:
			addrs = append(addrs, in.out)
		case opHint:
			addrs = append(addrs, in.outs...)
		}
	}
	if len(addrs) == 0 {
		return nil
	}
	m := paddedTrace(len(addrs), wPreWidth)
	for i, addr := range addrs {
		row := m.Row(i)
		row[wAddr] = field.FromUint32(addr)
		row[wMult] = field.FromUint32(p.readCount[addr])
	}
	return m
}

func (c *MemWitnessChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := paddedTrace(len(record.CircuitWitness), c.MainWidth())
	for i, ev := range record.CircuitWitness {
		setExt(m.Row(i), 0, ev.Value)
	}
	return m
}

func (c *MemWitnessChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *MemWitnessChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.CircuitWitness) > 0
}
func (c *MemWitnessChip) LocalOnly() bool                  { return true }
func (c *MemWitnessChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *MemWitnessChip) Eval(b *machine.Builder) {
	b.Looked(machine.LookupMemory, machine.ScopeRegional, memTuple(
		b.PreLocal(wAddr),
		b.Local(0), b.Local(1), b.Local(2), b.Local(3),
	), b.PreLocal(wMult))
}
