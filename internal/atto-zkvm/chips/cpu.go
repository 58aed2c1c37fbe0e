package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

// Syscall lookup tags: the leading tuple value separates the CPU-to-core
// channel from the core-to-precompile channel.
const (
	syscallTagCpu        = 0
	syscallTagPrecompile = 1
)

// CPU column layout. The program-tuple mirror omits pc, which lives in its
// own column; everything else the program table asserts about the fetched
// instruction is bound through the program lookup.
const (
	cpuIsReal = iota
	cpuClk
	cpuPc
	cpuNextPc
	cpuProgStart
)

const (
	cpuPcLo = cpuProgStart + progWidth - 1 + iota
	cpuPcHi
	cpuALo
	cpuAHi
	cpuBLo
	cpuBHi
	cpuCLo
	cpuCHi
	cpuMemValLo
	cpuMemValHi
	cpuMemTs
	cpuAddrLo
	cpuAddrHi
	cpuAddrCarryLo
	cpuAddrCarryHi
	cpuAddrQ
	cpuLs0
	cpuLs1
	cpuBranchTaken
	cpuCmp
	cpuEq0
	cpuEqInv0
	cpuEq1
	cpuEqInv1
	cpuCodeLo
	cpuCodeHi
	cpuCodeInv
	cpuIsHalt
	cpuIsLastReal

	cpuWidth
)

// CpuChip proves one row per executed instruction: program fetch, operand
// shape, control flow, and the hand-offs to the ALU, memory, and syscall
// chips. Register file reads and subword extraction are taken from the
// event stream; everything that crosses a chip boundary is bound by a
// lookup.
type CpuChip struct{}

func NewCpuChip() *CpuChip { return &CpuChip{} }

func (c *CpuChip) Name() string           { return "Cpu" }
func (c *CpuChip) PreprocessedWidth() int { return 0 }
func (c *CpuChip) MainWidth() int         { return cpuWidth }

func (c *CpuChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }

func (c *CpuChip) IsActive(record *emulator.EmulationRecord) bool { return len(record.CpuEvents) > 0 }
func (c *CpuChip) LocalOnly() bool                                { return false }
func (c *CpuChip) LookupScope() machine.LookupScope               { return machine.ScopeRegional }

func (c *CpuChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.CpuEvents), cpuWidth)
	for i, ev := range record.CpuEvents {
		row := m.Row(i)
		ins := ev.Instruction
		row[cpuIsReal] = field.One()
		row[cpuClk] = field.FromUint32(ev.Clk)
		row[cpuPc] = field.FromUint32(ev.Pc)
		row[cpuNextPc] = field.FromUint32(ev.NextPc)

		var prog [progWidth]field.Val
		fillProgramRow(prog[:], 0, ev.Pc, ins)
		copy(row[cpuProgStart:cpuProgStart+progWidth-1], prog[1:])

		setWord(row, cpuPcLo, ev.Pc)
		setWord(row, cpuALo, ev.A)
		setWord(row, cpuBLo, ev.B)
		setWord(row, cpuCLo, ev.C)

		// Limb-equality witnesses feed the branch taken logic but are
		// maintained on every real row.
		dLo := field.Sub(limbLo(ev.A), limbLo(ev.B))
		dHi := field.Sub(limbHi(ev.A), limbHi(ev.B))
		if dLo.IsZero() {
			row[cpuEq0] = field.One()
		} else {
			row[cpuEqInv0] = field.Inv(dLo)
		}
		if dHi.IsZero() {
			row[cpuEq1] = field.One()
		} else {
			row[cpuEqInv1] = field.Inv(dHi)
		}

		switch {
		case ins.Opcode.IsMemory():
			mem := ev.Mem
			setWord(row, cpuMemValLo, mem.Value)
			row[cpuMemTs] = field.FromUint32(mem.Timestamp)
			addr := ev.B + ev.C
			setWord(row, cpuAddrLo, addr)
			loSum := uint64(ev.B&0xFFFF) + uint64(ev.C&0xFFFF)
			carryLo := loSum >> 16
			row[cpuAddrCarryLo] = field.FromUint64(carryLo)
			hiSum := uint64(ev.B>>16) + uint64(ev.C>>16) + carryLo
			row[cpuAddrCarryHi] = field.FromUint64(hiSum >> 16)
			row[cpuAddrQ] = field.FromUint32((addr & 0xFFFF) >> 2)
			row[cpuLs0] = field.FromUint32(addr & 1)
			row[cpuLs1] = field.FromUint32((addr >> 1) & 1)

		case ins.Opcode.IsBranch():
			var cmp bool
			switch ins.Opcode {
			case compiler.BLT, compiler.BGE:
				cmp = int32(ev.A) < int32(ev.B)
			case compiler.BLTU, compiler.BGEU:
				cmp = ev.A < ev.B
			}
			row[cpuCmp] = boolVal(cmp)
			row[cpuBranchTaken] = boolVal(branchWouldTake(ins.Opcode, ev.A, ev.B))

		case ins.Opcode == compiler.ECALL:
			setWord(row, cpuCodeLo, ev.SyscallCode)
			if ev.SyscallCode == emulator.SyscallHalt {
				row[cpuIsHalt] = field.One()
			} else {
				sum := field.Add(limbLo(ev.SyscallCode), limbHi(ev.SyscallCode))
				row[cpuCodeInv] = field.Inv(sum)
			}
		}
	}
	if n := len(record.CpuEvents); n > 0 {
		m.Set(n-1, cpuIsLastReal, field.One())
	}
	return m
}

func branchWouldTake(op compiler.Opcode, a, b uint32) bool {
	switch op {
	case compiler.BEQ:
		return a == b
	case compiler.BNE:
		return a != b
	case compiler.BLT:
		return int32(a) < int32(b)
	case compiler.BGE:
		return int32(a) >= int32(b)
	case compiler.BLTU:
		return a < b
	default:
		return a >= b
	}
}

func (c *CpuChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, ev := range record.CpuEvents {
		ins := ev.Instruction
		for _, v := range []uint32{ev.A, ev.B, ev.C, ev.Pc} {
			derived.AddU16Range(uint16(v))
			derived.AddU16Range(uint16(v >> 16))
		}
		switch {
		case ins.Opcode.IsMemory():
			mem := ev.Mem
			addr := ev.B + ev.C
			derived.AddU16Range(uint16(mem.Value))
			derived.AddU16Range(uint16(mem.Value >> 16))
			derived.AddU16Range(uint16(addr))
			derived.AddU16Range(uint16(addr >> 16))
			derived.AddU16Range(uint16((addr & 0xFFFF) >> 2))

		case ins.Opcode.IsBranch():
			switch ins.Opcode {
			case compiler.BLT, compiler.BGE:
				var r uint32
				if int32(ev.A) < int32(ev.B) {
					r = 1
				}
				derived.AddAlu(emulator.AluEvent{Clk: ev.Clk, Opcode: compiler.SLT, A: r, B: ev.A, C: ev.B})
			case compiler.BLTU, compiler.BGEU:
				var r uint32
				if ev.A < ev.B {
					r = 1
				}
				derived.AddAlu(emulator.AluEvent{Clk: ev.Clk, Opcode: compiler.SLTU, A: r, B: ev.A, C: ev.B})
			}

		case ins.Opcode == compiler.AUIPC:
			derived.AddAlu(emulator.AluEvent{Clk: ev.Clk, Opcode: compiler.ADD, A: ev.A, B: ev.Pc, C: ins.OpB})

		case ins.Opcode == compiler.ECALL:
			derived.AddU16Range(uint16(ev.SyscallCode))
			derived.AddU16Range(uint16(ev.SyscallCode >> 16))
		}
	}
}

func (c *CpuChip) Eval(b *machine.Builder) {
	isReal := b.Local(cpuIsReal)
	clk, pc, nextPc := b.Local(cpuClk), b.Local(cpuPc), b.Local(cpuNextPc)

	pcol := func(i int) expr {
		if i == progPc {
			return pc
		}
		return b.Local(cpuProgStart + i - 1)
	}
	isAlu := pcol(progIsAlu)
	isLoad := pcol(progIsLoad)
	isSubLoad := pcol(progIsSubLoad)
	isStore := pcol(progIsStore)
	isSubStore := pcol(progIsSubStore)
	isJal := pcol(progIsJal)
	isJalr := pcol(progIsJalr)
	isAuipc := pcol(progIsAuipc)
	isEcall := pcol(progIsEcall)
	isMem := addN(isLoad, isSubLoad, isStore, isSubStore)
	isBranch := addN(pcol(progIsBeq), pcol(progIsBne), pcol(progIsBlt),
		pcol(progIsBge), pcol(progIsBltu), pcol(progIsBgeu))
	isWrite := add(isStore, isSubStore)

	aLo, aHi := b.Local(cpuALo), b.Local(cpuAHi)
	bLo, bHi := b.Local(cpuBLo), b.Local(cpuBHi)
	cLo, cHi := b.Local(cpuCLo), b.Local(cpuCHi)

	b.AssertBool(isReal)

	// Fetch: the whole decoded instruction comes from the program table.
	b.Looking(machine.LookupProgram, machine.ScopeRegional, programTuple(pcol), isReal)

	// Row chaining. Real rows form a prefix; clk counts from 1 and pc
	// follows next_pc.
	nextReal := b.Next(cpuIsReal)
	b.AssertZero(mul(b.IsFirstRow(), mul(isReal, sub(clk, one()))))
	b.AssertZero(mul(b.IsFirstRow(), mul(isReal, sub(pc, b.Public(pvStartPc)))))
	b.AssertZeroTransition(mul(nextReal, sub(b.Next(cpuClk), add(clk, one()))))
	b.AssertZeroTransition(mul(nextReal, sub(b.Next(cpuPc), nextPc)))
	b.AssertZeroTransition(mul(not(isReal), nextReal))

	// Operand limbs are genuine 16-bit values.
	for _, col := range []int{cpuPcLo, cpuPcHi, cpuALo, cpuAHi, cpuBLo, cpuBHi, cpuCLo, cpuCHi} {
		lookingU16(b, b.Local(col), isReal)
	}
	b.AssertZero(mul(isReal, sub(pc, word(b.Local(cpuPcLo), b.Local(cpuPcHi)))))

	// Immediate operands must match the program listing.
	immB, immC := pcol(progImmB), pcol(progImmC)
	gateB := addN(isAlu, isMem, isBranch)
	b.AssertZero(mul(gateB, mul(immB, sub(bLo, pcol(progOpBLo)))))
	b.AssertZero(mul(gateB, mul(immB, sub(bHi, pcol(progOpBHi)))))
	gateC := add(isAlu, isBranch)
	b.AssertZero(mul(gateC, mul(immC, sub(cLo, pcol(progOpCLo)))))
	b.AssertZero(mul(gateC, mul(immC, sub(cHi, pcol(progOpCHi)))))

	// ALU rows delegate the whole operation.
	b.Looking(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(pcol(progOpcode), aLo, aHi, bLo, bHi, cLo, cHi), isAlu)

	// Memory rows: addr = b + c with 16-bit carries, the low limb split into
	// the word offset and the two alignment bits.
	carryLo, carryHi := b.Local(cpuAddrCarryLo), b.Local(cpuAddrCarryHi)
	addrLo, addrHi := b.Local(cpuAddrLo), b.Local(cpuAddrHi)
	b.AssertBool(carryLo)
	b.AssertBool(carryHi)
	b.AssertZero(mul(isMem, sub(add(bLo, cLo), add(addrLo, mul(cu(1<<16), carryLo)))))
	b.AssertZero(mul(isMem, sub(addN(bHi, cHi, carryLo), add(addrHi, mul(cu(1<<16), carryHi)))))
	b.AssertZero(mul(isMem, sub(cLo, pcol(progOpCLo))))
	b.AssertZero(mul(isMem, sub(cHi, pcol(progOpCHi))))
	ls0, ls1 := b.Local(cpuLs0), b.Local(cpuLs1)
	b.AssertBool(ls0)
	b.AssertBool(ls1)
	wordLo := mul(cu(4), b.Local(cpuAddrQ))
	b.AssertZero(mul(isMem, sub(addrLo, addN(wordLo, ls0, mul(cu(2), ls1)))))
	for _, col := range []int{cpuAddrLo, cpuAddrHi, cpuAddrQ, cpuMemValLo, cpuMemValHi} {
		lookingU16(b, b.Local(col), isMem)
	}
	// Word ops see the full word in a; subword loads extract from the event.
	fullWord := addN(isLoad, isStore, isSubStore)
	b.AssertZero(mul(fullWord, sub(aLo, b.Local(cpuMemValLo))))
	b.AssertZero(mul(fullWord, sub(aHi, b.Local(cpuMemValHi))))
	b.Looking(machine.LookupMemory, machine.ScopeRegional,
		[]expr{b.Local(cpuMemTs), wordLo, addrHi, b.Local(cpuMemValLo), b.Local(cpuMemValHi), isWrite}, isMem)

	// Branches: limb equality witnesses, the signed/unsigned compare
	// delegation, and the taken/untaken next pc.
	e0, e1 := b.Local(cpuEq0), b.Local(cpuEq1)
	dLo, dHi := sub(aLo, bLo), sub(aHi, bHi)
	b.AssertZero(mul(e0, dLo))
	b.AssertZero(mul(e1, dHi))
	b.AssertZero(mul(isReal, sub(add(e0, mul(dLo, b.Local(cpuEqInv0))), one())))
	b.AssertZero(mul(isReal, sub(add(e1, mul(dHi, b.Local(cpuEqInv1))), one())))
	isEq := mul(e0, e1)
	cmp := b.Local(cpuCmp)
	b.AssertBool(cmp)
	taken := b.Local(cpuBranchTaken)
	b.AssertZero(sub(taken, addN(
		mul(pcol(progIsBeq), isEq),
		mul(pcol(progIsBne), not(isEq)),
		mul(add(pcol(progIsBlt), pcol(progIsBltu)), cmp),
		mul(add(pcol(progIsBge), pcol(progIsBgeu)), not(cmp)))))
	b.Looking(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(cu(uint32(compiler.SLT)), cmp, zero(), aLo, aHi, bLo, bHi),
		add(pcol(progIsBlt), pcol(progIsBge)))
	b.Looking(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(cu(uint32(compiler.SLTU)), cmp, zero(), aLo, aHi, bLo, bHi),
		add(pcol(progIsBltu), pcol(progIsBgeu)))
	target := word(cLo, cHi)
	b.AssertZero(mul(isBranch, sub(nextPc,
		add(mul(taken, target), mul(not(taken), add(pc, cu(4)))))))

	// Jumps link pc+4; jal's target is its immediate. The jalr target comes
	// from the register file via the event stream.
	b.AssertZero(mul(add(isJal, isJalr), sub(word(aLo, aHi), add(pc, cu(4)))))
	b.AssertZero(mul(isJal, sub(nextPc, word(pcol(progOpBLo), pcol(progOpBHi)))))

	// auipc: a = pc + imm, delegated to the adder.
	b.Looking(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(cu(uint32(compiler.ADD)), aLo, aHi, b.Local(cpuPcLo), b.Local(cpuPcHi),
			pcol(progOpBLo), pcol(progOpBHi)), isAuipc)

	// Ecall hands (code, arg1, arg2) to the syscall core.
	codeLo, codeHi := b.Local(cpuCodeLo), b.Local(cpuCodeHi)
	lookingU16(b, codeLo, isEcall)
	lookingU16(b, codeHi, isEcall)
	b.Looking(machine.LookupSyscall, machine.ScopeRegional,
		[]expr{cu(syscallTagCpu), clk, codeLo, codeHi, bLo, bHi, cLo, cHi}, isEcall)

	// Halt detection: code zero on an ecall row.
	isHalt := b.Local(cpuIsHalt)
	b.AssertBool(isHalt)
	b.AssertZero(mul(isHalt, not(isEcall)))
	b.AssertZero(mul(isHalt, codeLo))
	b.AssertZero(mul(isHalt, codeHi))
	b.AssertZero(mul(sub(isEcall, isHalt),
		sub(one(), mul(add(codeLo, codeHi), b.Local(cpuCodeInv)))))
	b.AssertZero(mul(isHalt, sub(word(bLo, bHi), b.Public(pvExitCode))))

	// Boundary: the last real row pins the chunk's exit state. A halted
	// chunk publishes next_pc zero; a complete chunk must have halted.
	isLast := b.Local(cpuIsLastReal)
	b.AssertZeroTransition(sub(isLast, mul(isReal, not(nextReal))))
	b.AssertZero(mul(b.IsLastRow(), sub(isLast, isReal)))
	b.AssertZero(mul(isLast, mul(not(isHalt), sub(nextPc, b.Public(pvNextPc)))))
	b.AssertZero(mul(isLast, mul(isHalt, b.Public(pvNextPc))))
	b.AssertZero(mul(isLast, mul(b.Public(pvFlagComplete), not(isHalt))))
}
