package recursion

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	aluIsAdd = iota
	aluIsSub
	aluIsMul
	aluIsDiv
	aluAddrOut
	aluAddrIn1
	aluAddrIn2
	aluMult

	aluPreWidth
)

const (
	baOut = iota
	baIn1
	baIn2

	baMainWidth
)

// BaseAluChip proves base-field arithmetic: one row per operation, operand
// addresses and the output's read multiplicity preprocessed, values in main
// columns. Division is proved as out * in2 == in1.
type BaseAluChip struct{}

func NewBaseAluChip() *BaseAluChip { return &BaseAluChip{} }

func (c *BaseAluChip) Name() string           { return "BaseAlu" }
func (c *BaseAluChip) PreprocessedWidth() int { return aluPreWidth }
func (c *BaseAluChip) MainWidth() int         { return baMainWidth }

// aluFlagCol maps an AluOp to its one-hot preprocessed column.
func aluFlagCol(op AluOp) int {
	switch op {
	case AluAdd:
		return aluIsAdd
	case AluSub:
		return aluIsSub
	case AluMul:
		return aluIsMul
	default:
		return aluIsDiv
	}
}

func aluPreprocessed(p *Program, kind opKind) *matrix.Dense {
	var rows []instr
	for _, in := range p.instrs {
		if in.kind == kind {
			rows = append(rows, in)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	m := paddedTrace(len(rows), aluPreWidth)
	for i, in := range rows {
		row := m.Row(i)
		row[aluFlagCol(in.alu)] = field.One()
		row[aluAddrOut] = field.FromUint32(in.out)
		row[aluAddrIn1] = field.FromUint32(in.a)
		row[aluAddrIn2] = field.FromUint32(in.b)
		row[aluMult] = field.FromUint32(p.readCount[in.out])
	}
	return m
}

func (c *BaseAluChip) GeneratePreprocessed(program any) *matrix.Dense {
	p, ok := program.(*Program)
	if !ok {
		return nil
	}
	return aluPreprocessed(p, opBaseAlu)
}

func (c *BaseAluChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := paddedTrace(len(record.CircuitBaseAlu), baMainWidth)
	for i, ev := range record.CircuitBaseAlu {
		row := m.Row(i)
		row[baOut] = ev.Out
		row[baIn1] = ev.In1
		row[baIn2] = ev.In2
	}
	return m
}

func (c *BaseAluChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *BaseAluChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.CircuitBaseAlu) > 0
}
func (c *BaseAluChip) LocalOnly() bool                  { return true }
func (c *BaseAluChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *BaseAluChip) Eval(b *machine.Builder) {
	out, in1, in2 := b.Local(baOut), b.Local(baIn1), b.Local(baIn2)
	isReal := addN(b.PreLocal(aluIsAdd), b.PreLocal(aluIsSub), b.PreLocal(aluIsMul), b.PreLocal(aluIsDiv))

	b.AssertZero(mul(b.PreLocal(aluIsAdd), sub(out, add(in1, in2))))
	b.AssertZero(mul(b.PreLocal(aluIsSub), sub(out, sub(in1, in2))))
	b.AssertZero(mul(b.PreLocal(aluIsMul), sub(out, mul(in1, in2))))
	b.AssertZero(mul(b.PreLocal(aluIsDiv), sub(mul(out, in2), in1)))

	b.Looking(machine.LookupMemory, machine.ScopeRegional, baseTuple(b.PreLocal(aluAddrIn1), in1), isReal)
	b.Looking(machine.LookupMemory, machine.ScopeRegional, baseTuple(b.PreLocal(aluAddrIn2), in2), isReal)
	b.Looked(machine.LookupMemory, machine.ScopeRegional, baseTuple(b.PreLocal(aluAddrOut), out), b.PreLocal(aluMult))
}

const (
	eaOut = iota // 4 limbs
	eaIn1 = eaOut + 4
	eaIn2 = eaIn1 + 4

	eaMainWidth = eaIn2 + 4
)

// ExtAluChip proves extension-field arithmetic with the tower's limb
// formulas written directly into the constraints. Division is proved as
// out * in2 == in1 limb by limb.
type ExtAluChip struct {
	qnr field.Val
}

func NewExtAluChip() *ExtAluChip {
	return &ExtAluChip{qnr: field.ExtTowerQnr()}
}

func (c *ExtAluChip) Name() string           { return "ExtAlu" }
func (c *ExtAluChip) PreprocessedWidth() int { return aluPreWidth }
func (c *ExtAluChip) MainWidth() int         { return eaMainWidth }

func (c *ExtAluChip) GeneratePreprocessed(program any) *matrix.Dense {
	p, ok := program.(*Program)
	if !ok {
		return nil
	}
	return aluPreprocessed(p, opExtAlu)
}

func (c *ExtAluChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := paddedTrace(len(record.CircuitExtAlu), eaMainWidth)
	for i, ev := range record.CircuitExtAlu {
		row := m.Row(i)
		setExt(row, eaOut, ev.Out)
		setExt(row, eaIn1, ev.In1)
		setExt(row, eaIn2, ev.In2)
	}
	return m
}

func (c *ExtAluChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *ExtAluChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.CircuitExtAlu) > 0
}
func (c *ExtAluChip) LocalOnly() bool                  { return true }
func (c *ExtAluChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

// extMulLimbs is the symbolic limb expansion of the tower product, with w
// the quadratic non-residue: (p0 + p1 u) + (p2 + p3 u) v, u^2 = w, v^2 = u.
func extMulLimbs(p, q [4]expr, w expr) [4]expr {
	return [4]expr{
		addN(mul(p[0], q[0]), mul(w, mul(p[1], q[1])), mul(w, add(mul(p[2], q[3]), mul(p[3], q[2])))),
		addN(mul(p[0], q[1]), mul(p[1], q[0]), mul(p[2], q[2]), mul(w, mul(p[3], q[3]))),
		addN(mul(p[0], q[2]), mul(w, mul(p[1], q[3])), mul(p[2], q[0]), mul(w, mul(p[3], q[1]))),
		addN(mul(p[0], q[3]), mul(p[1], q[2]), mul(p[2], q[1]), mul(p[3], q[0])),
	}
}

func (c *ExtAluChip) Eval(b *machine.Builder) {
	out := extCols(b, eaOut)
	in1 := extCols(b, eaIn1)
	in2 := extCols(b, eaIn2)
	isReal := addN(b.PreLocal(aluIsAdd), b.PreLocal(aluIsSub), b.PreLocal(aluIsMul), b.PreLocal(aluIsDiv))
	w := machine.Const(c.qnr)

	prod := extMulLimbs(in1, in2, w)
	quot := extMulLimbs(out, in2, w)
	for i := 0; i < 4; i++ {
		b.AssertZero(mul(b.PreLocal(aluIsAdd), sub(out[i], add(in1[i], in2[i]))))
		b.AssertZero(mul(b.PreLocal(aluIsSub), sub(out[i], sub(in1[i], in2[i]))))
		b.AssertZero(mul(b.PreLocal(aluIsMul), sub(out[i], prod[i])))
		b.AssertZero(mul(b.PreLocal(aluIsDiv), sub(quot[i], in1[i])))
	}

	b.Looking(machine.LookupMemory, machine.ScopeRegional,
		memTuple(b.PreLocal(aluAddrIn1), in1[0], in1[1], in1[2], in1[3]), isReal)
	b.Looking(machine.LookupMemory, machine.ScopeRegional,
		memTuple(b.PreLocal(aluAddrIn2), in2[0], in2[1], in2[2], in2[3]), isReal)
	b.Looked(machine.LookupMemory, machine.ScopeRegional,
		memTuple(b.PreLocal(aluAddrOut), out[0], out[1], out[2], out[3]), b.PreLocal(aluMult))
}
