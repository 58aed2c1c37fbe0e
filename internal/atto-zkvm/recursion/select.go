package recursion

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	selIsReal = iota
	selAddrBit
	selAddrIn1
	selAddrIn2
	selAddrOut1
	selAddrOut2
	selMult1
	selMult2

	selPreWidth
)

const (
	selBit  = iota
	selIn1  // 4 limbs
	selIn2  = selIn1 + 4
	selOut1 = selIn2 + 4
	selOut2 = selOut1 + 4

	selMainWidth = selOut2 + 4
)

// SelectChip proves the conditional swap: bit zero passes the operands
// through, bit one crosses them. Both outputs are produced so the two
// branches of a Merkle-path step cost one row.
type SelectChip struct{}

func NewSelectChip() *SelectChip { return &SelectChip{} }

func (c *SelectChip) Name() string           { return "Select" }
func (c *SelectChip) PreprocessedWidth() int { return selPreWidth }
func (c *SelectChip) MainWidth() int         { return selMainWidth }

func (c *SelectChip) GeneratePreprocessed(program any) *matrix.Dense {
	p, ok := program.(*Program)
	if !ok {
		return nil
	}
	var rows []instr
	for _, in := range p.instrs {
		if in.kind == opSelect {
			rows = append(rows, in)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	m := paddedTrace(len(rows), selPreWidth)
	for i, in := range rows {
		row := m.Row(i)
		row[selIsReal] = field.One()
		row[selAddrBit] = field.FromUint32(in.bit)
		row[selAddrIn1] = field.FromUint32(in.a)
		row[selAddrIn2] = field.FromUint32(in.b)
		row[selAddrOut1] = field.FromUint32(in.out)
		row[selAddrOut2] = field.FromUint32(in.out2)
		row[selMult1] = field.FromUint32(p.readCount[in.out])
		row[selMult2] = field.FromUint32(p.readCount[in.out2])
	}
	return m
}

func (c *SelectChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := paddedTrace(len(record.CircuitSelects), selMainWidth)
	for i, ev := range record.CircuitSelects {
		row := m.Row(i)
		row[selBit] = ev.Bit
		setExt(row, selIn1, ev.In1)
		setExt(row, selIn2, ev.In2)
		setExt(row, selOut1, ev.Out1)
		setExt(row, selOut2, ev.Out2)
	}
	return m
}

func (c *SelectChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *SelectChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.CircuitSelects) > 0
}
func (c *SelectChip) LocalOnly() bool                  { return true }
func (c *SelectChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *SelectChip) Eval(b *machine.Builder) {
	bit := b.Local(selBit)
	in1 := extCols(b, selIn1)
	in2 := extCols(b, selIn2)
	out1 := extCols(b, selOut1)
	out2 := extCols(b, selOut2)
	isReal := b.PreLocal(selIsReal)

	b.AssertBool(bit)
	for i := 0; i < 4; i++ {
		b.AssertZero(sub(out1[i], add(in1[i], mul(bit, sub(in2[i], in1[i])))))
		b.AssertZero(sub(out2[i], add(in2[i], mul(bit, sub(in1[i], in2[i])))))
	}

	b.Looking(machine.LookupMemory, machine.ScopeRegional, baseTuple(b.PreLocal(selAddrBit), bit), isReal)
	b.Looking(machine.LookupMemory, machine.ScopeRegional,
		memTuple(b.PreLocal(selAddrIn1), in1[0], in1[1], in1[2], in1[3]), isReal)
	b.Looking(machine.LookupMemory, machine.ScopeRegional,
		memTuple(b.PreLocal(selAddrIn2), in2[0], in2[1], in2[2], in2[3]), isReal)
	b.Looked(machine.LookupMemory, machine.ScopeRegional,
		memTuple(b.PreLocal(selAddrOut1), out1[0], out1[1], out1[2], out1[3]), b.PreLocal(selMult1))
	b.Looked(machine.LookupMemory, machine.ScopeRegional,
		memTuple(b.PreLocal(selAddrOut2), out2[0], out2[1], out2[2], out2[3]), b.PreLocal(selMult2))
}
