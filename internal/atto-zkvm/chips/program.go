package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

// The program tuple: decoded instruction fields plus one selector per
// instruction family. The CPU mirrors these columns and binds them through
// the program lookup, so it never has to enumerate opcodes itself.
const (
	progPc = iota
	progOpcode
	progOpA
	progOpBLo
	progOpBHi
	progImmB
	progOpCLo
	progOpCHi
	progImmC
	progIsAlu
	progIsLoad
	progIsSubLoad
	progIsStore
	progIsSubStore
	progIsBeq
	progIsBne
	progIsBlt
	progIsBge
	progIsBltu
	progIsBgeu
	progIsJal
	progIsJalr
	progIsAuipc
	progIsEcall

	progWidth
)

// fillProgramRow writes the tuple for one decoded instruction starting at
// column base.
func fillProgramRow(row []field.Val, base int, pc uint32, ins compiler.Instruction) {
	row[base+progPc] = field.FromUint32(pc)
	row[base+progOpcode] = field.FromUint32(uint32(ins.Opcode))
	row[base+progOpA] = field.FromUint32(ins.OpA)
	setWord(row, base+progOpBLo, ins.OpB)
	row[base+progImmB] = boolVal(ins.ImmB)
	setWord(row, base+progOpCLo, ins.OpC)
	row[base+progImmC] = boolVal(ins.ImmC)

	flag := func(col int, on bool) {
		row[base+col] = boolVal(on)
	}
	op := ins.Opcode
	flag(progIsAlu, op.IsALU())
	flag(progIsLoad, op == compiler.LW)
	flag(progIsSubLoad, op == compiler.LB || op == compiler.LBU || op == compiler.LH || op == compiler.LHU)
	flag(progIsStore, op == compiler.SW)
	flag(progIsSubStore, op == compiler.SB || op == compiler.SH)
	flag(progIsBeq, op == compiler.BEQ)
	flag(progIsBne, op == compiler.BNE)
	flag(progIsBlt, op == compiler.BLT)
	flag(progIsBge, op == compiler.BGE)
	flag(progIsBltu, op == compiler.BLTU)
	flag(progIsBgeu, op == compiler.BGEU)
	flag(progIsJal, op == compiler.JAL)
	flag(progIsJalr, op == compiler.JALR)
	flag(progIsAuipc, op == compiler.AUIPC)
	flag(progIsEcall, op == compiler.ECALL)
}

// programTuple reads the tuple through a column accessor, so the program
// chip and the CPU build byte-identical lookup values.
func programTuple(col func(i int) expr) []expr {
	out := make([]expr, progWidth)
	for i := range out {
		out[i] = col(i)
	}
	return out
}

// ProgramChip commits the decoded program as a preprocessed listing and
// serves instruction fetches: its single main column counts how many times
// the CPU executed each program row.
type ProgramChip struct{}

func NewProgramChip() *ProgramChip { return &ProgramChip{} }

func (c *ProgramChip) Name() string           { return "Program" }
func (c *ProgramChip) PreprocessedWidth() int { return progWidth }
func (c *ProgramChip) MainWidth() int         { return 1 }

func (c *ProgramChip) GeneratePreprocessed(program any) *matrix.Dense {
	p := program.(*compiler.Program)
	m := matrix.NewDense(matrix.NextPowerOfTwo(len(p.Instructions)), progWidth)
	for i, ins := range p.Instructions {
		fillProgramRow(m.Row(i), 0, p.PCBase+uint32(i)*4, ins)
	}
	return m
}

func (c *ProgramChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	p := record.Program
	m := matrix.NewDense(matrix.NextPowerOfTwo(len(p.Instructions)), 1)
	for _, ev := range record.CpuEvents {
		idx := int((ev.Pc - p.PCBase) / 4)
		cur := m.At(idx, 0)
		o := field.One()
		cur.Add(&cur, &o)
		m.Set(idx, 0, cur)
	}
	return m
}

func (c *ProgramChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *ProgramChip) IsActive(record *emulator.EmulationRecord) bool        { return true }
func (c *ProgramChip) LocalOnly() bool                                       { return true }
func (c *ProgramChip) LookupScope() machine.LookupScope                      { return machine.ScopeRegional }

func (c *ProgramChip) Eval(b *machine.Builder) {
	b.Looked(machine.LookupProgram, machine.ScopeRegional,
		programTuple(func(i int) expr { return b.PreLocal(i) }), b.Local(0))
}
