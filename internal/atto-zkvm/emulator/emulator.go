package emulator

import (
	"context"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/logger"
)

// Options bounds one emulation run.
type Options struct {
	// ChunkSize is the cycle budget per chunk; each chunk becomes one proof.
	ChunkSize uint32
	// MaxCycles aborts runaway programs. Zero means no limit.
	MaxCycles uint64
}

// DefaultOptions matches the prover's trace-size sweet spot.
func DefaultOptions() Options {
	return Options{ChunkSize: 1 << 20}
}

// Error kinds matchable with errors.Is.
var (
	ErrCycleBudget          = errors.New("cycle budget exhausted")
	ErrUnimplementedSyscall = errors.New("unimplemented syscall")
	ErrInvalidMemoryAccess  = errors.New("invalid memory access")
)

// EmulationError is a hard stop of a chunk's execution; no partial record
// survives it.
type EmulationError struct {
	Pc     uint32
	Clk    uint32
	Kind   error // one of the sentinel kinds above, or nil
	Reason string
}

func (e *EmulationError) Error() string {
	return fmt.Sprintf("emulation failed at pc=%#x clk=%d: %s", e.Pc, e.Clk, e.Reason)
}

func (e *EmulationError) Unwrap() error { return e.Kind }

type memCell struct {
	value     uint32
	chunk     uint32
	timestamp uint32
	written   bool
}

// Emulator runs one program to completion, splitting execution into
// bounded chunks and recording events per chunk.
type Emulator struct {
	program *compiler.Program
	opts    Options

	registers [32]uint32
	memory    map[uint32]memCell
	touched   *bitset.BitSet // word index of every address ever accessed
	pc        uint32
	clk       uint32
	accessClk uint32 // per-chunk memory access clock, finer than clk
	chunk     uint32
	cycles    uint64
	halted    bool
	exitCode  uint32

	inputStream [][]byte
	stdout      []byte
	committed   [8]uint32

	record  *EmulationRecord
	records []*EmulationRecord
}

// New returns an emulator positioned at the program's entry point.
func New(program *compiler.Program, opts Options) *Emulator {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultOptions().ChunkSize
	}
	e := &Emulator{
		program: program,
		opts:    opts,
		memory:  map[uint32]memCell{},
		touched: bitset.New(1 << 16),
		pc:      program.PCStart,
		clk:     1,
		record:  NewRecord(program, 0),
	}
	e.record.PublicValues.StartPc = program.PCStart
	return e
}

// WithInput queues one input item for the hint-read syscalls.
func (e *Emulator) WithInput(data []byte) *Emulator {
	e.inputStream = append(e.inputStream, data)
	return e
}

// Stdout returns everything the program wrote.
func (e *Emulator) Stdout() []byte { return e.stdout }

// ExitCode returns the halt code once the run is complete.
func (e *Emulator) ExitCode() uint32 { return e.exitCode }

// Run executes until halt or cycle exhaustion and returns the per-chunk
// records. Memory-initialize events land in the first record, finalize
// events in the last, so the global memory argument balances across the
// whole run.
func (e *Emulator) Run(ctx context.Context) ([]*EmulationRecord, error) {
	log := logger.Logger().With().Str("component", "emulator").Logger()
	for !e.halted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.opts.MaxCycles > 0 && e.cycles >= e.opts.MaxCycles {
			return nil, &EmulationError{Pc: e.pc, Clk: e.clk, Kind: ErrCycleBudget, Reason: "cycle budget exhausted"}
		}
		if err := e.step(); err != nil {
			return nil, err
		}
		e.cycles++
		if e.clk >= e.opts.ChunkSize && !e.halted {
			e.sealChunk(false)
		}
	}
	e.sealChunk(true)
	e.emitMemoryBoundaries()
	log.Debug().
		Uint64("cycles", e.cycles).
		Int("chunks", len(e.records)).
		Uint32("exit_code", e.exitCode).
		Msg("run complete")
	return e.records, nil
}

func (e *Emulator) sealChunk(last bool) {
	pv := &e.record.PublicValues
	pv.Chunk = e.chunk
	pv.NextPc = e.pc
	pv.ExitCode = e.exitCode
	pv.CommittedValueDigest = e.committed
	if last {
		pv.NextPc = 0
		pv.FlagComplete = 1
	}
	e.records = append(e.records, e.record)

	e.chunk++
	e.clk = 1
	e.accessClk = 0
	e.record = NewRecord(e.program, e.chunk)
	e.record.PublicValues.StartPc = e.pc
}

// emitMemoryBoundaries writes init events for every touched address into
// the first record and finalize events into the last.
func (e *Emulator) emitMemoryBoundaries() {
	first := e.records[0]
	last := e.records[len(e.records)-1]
	for wi, ok := e.touched.NextSet(0); ok; wi, ok = e.touched.NextSet(wi + 1) {
		addr := uint32(wi) * 4
		cell := e.memory[addr]
		first.MemoryInit = append(first.MemoryInit, MemoryInitEvent{
			Addr:  addr,
			Value: e.initialWord(addr),
		})
		last.MemoryFinalize = append(last.MemoryFinalize, MemoryFinalizeEvent{
			Addr:      addr,
			Value:     cell.value,
			Chunk:     cell.chunk,
			Timestamp: cell.timestamp,
		})
	}
}

func (e *Emulator) initialWord(addr uint32) uint32 {
	return e.program.Image[addr]
}

// accessWord performs one recorded word access and appends it to the
// chunk's record. Accesses are stamped with a per-chunk access clock that
// ticks for every access, so a syscall can read and write the same word
// within one instruction and still keep the per-address position strictly
// increasing. A reversed position means the emulator itself is broken, so
// it panics rather than producing an unsound record.
func (e *Emulator) accessWord(addr uint32, write bool, value uint32) (MemoryRecord, error) {
	if addr%4 != 0 {
		return MemoryRecord{}, &EmulationError{Pc: e.pc, Clk: e.clk, Kind: ErrInvalidMemoryAccess, Reason: fmt.Sprintf("unaligned access at %#x", addr)}
	}
	cell, seen := e.memory[addr]
	if !seen {
		cell = memCell{value: e.initialWord(addr)}
	}
	e.accessClk++
	if cell.chunk > e.chunk || (cell.chunk == e.chunk && cell.timestamp >= e.accessClk) {
		panic("emulator: memory timestamps not strictly increasing")
	}
	rec := MemoryRecord{
		Addr:          addr,
		PrevValue:     cell.value,
		PrevChunk:     cell.chunk,
		PrevTimestamp: cell.timestamp,
		Chunk:         e.chunk,
		Timestamp:     e.accessClk,
		IsWrite:       write,
	}
	if write {
		cell.value = value
		cell.written = true
	}
	rec.Value = cell.value
	cell.chunk = e.chunk
	cell.timestamp = e.accessClk
	e.memory[addr] = cell
	e.touched.Set(uint(addr / 4))
	e.record.MemoryEvents = append(e.record.MemoryEvents, rec)
	return rec, nil
}

func (e *Emulator) reg(i uint32) uint32 {
	if i == 0 {
		return 0
	}
	return e.registers[i]
}

func (e *Emulator) setReg(i, v uint32) {
	if i != 0 {
		e.registers[i] = v
	}
}

// operand resolves OpB/OpC as register or immediate.
func (e *Emulator) operand(v uint32, imm bool) uint32 {
	if imm {
		return v
	}
	return e.reg(v)
}

func (e *Emulator) step() error {
	ins, ok := e.program.InstructionAt(e.pc)
	if !ok {
		return &EmulationError{Pc: e.pc, Clk: e.clk, Reason: "no instruction at pc"}
	}
	nextPc := e.pc + 4
	ev := CpuEvent{Clk: e.clk, Pc: e.pc, Instruction: ins}
	var memRec *MemoryRecord

	switch {
	case ins.Opcode.IsALU():
		b := e.operand(ins.OpB, ins.ImmB)
		c := e.operand(ins.OpC, ins.ImmC)
		a := aluResult(ins.Opcode, b, c)
		e.setReg(ins.OpA, a)
		ev.A, ev.B, ev.C = a, b, c
		e.record.AddAlu(AluEvent{Clk: e.clk, Opcode: ins.Opcode, A: a, B: b, C: c})

	case ins.Opcode.IsMemory():
		base := e.operand(ins.OpB, ins.ImmB)
		offset := ins.OpC
		addr := base + offset
		word := addr &^ 3
		switch ins.Opcode {
		case compiler.LW:
			rec, err := e.accessWord(word, false, 0)
			if err != nil {
				return err
			}
			memRec = &rec
			e.setReg(ins.OpA, rec.Value)
			ev.A = rec.Value
		case compiler.LB, compiler.LBU, compiler.LH, compiler.LHU:
			rec, err := e.accessWord(word, false, 0)
			if err != nil {
				return err
			}
			memRec = &rec
			v := subword(rec.Value, addr, ins.Opcode)
			e.setReg(ins.OpA, v)
			ev.A = v
		case compiler.SW:
			rec, err := e.accessWord(word, true, e.reg(ins.OpA))
			if err != nil {
				return err
			}
			memRec = &rec
			ev.A = rec.Value
		case compiler.SB, compiler.SH:
			prev, seen := e.memory[word]
			old := prev.value
			if !seen {
				old = e.initialWord(word)
			}
			merged := mergeSubword(old, e.reg(ins.OpA), addr, ins.Opcode)
			rec, err := e.accessWord(word, true, merged)
			if err != nil {
				return err
			}
			memRec = &rec
			ev.A = rec.Value
		}
		ev.B, ev.C = base, offset

	case ins.Opcode.IsBranch():
		a := e.reg(ins.OpA)
		b := e.operand(ins.OpB, ins.ImmB)
		target := e.operand(ins.OpC, ins.ImmC)
		if branchTaken(ins.Opcode, a, b) {
			nextPc = target
		}
		ev.A, ev.B, ev.C = a, b, target

	case ins.Opcode == compiler.JAL:
		e.setReg(ins.OpA, e.pc+4)
		nextPc = e.operand(ins.OpB, ins.ImmB)
		ev.A = e.pc + 4

	case ins.Opcode == compiler.JALR:
		e.setReg(ins.OpA, e.pc+4)
		nextPc = (e.reg(ins.OpB) + ins.OpC) &^ 1
		ev.A = e.pc + 4

	case ins.Opcode == compiler.AUIPC:
		a := e.pc + ins.OpB
		e.setReg(ins.OpA, a)
		ev.A = a

	case ins.Opcode == compiler.ECALL:
		code := e.reg(5)
		arg1 := e.reg(10)
		arg2 := e.reg(11)
		ret, err := e.syscall(code, arg1, arg2)
		if err != nil {
			return err
		}
		e.setReg(10, ret)
		ev.A, ev.B, ev.C = ret, arg1, arg2
		ev.SyscallCode = code
		e.record.SyscallEvents = append(e.record.SyscallEvents, SyscallEvent{
			Clk: e.clk, Chunk: e.chunk, Code: code, Arg1: arg1, Arg2: arg2,
		})

	default:
		return &EmulationError{Pc: e.pc, Clk: e.clk, Reason: "unimplemented opcode " + ins.Opcode.String()}
	}

	ev.NextPc = nextPc
	ev.Mem = memRec
	e.record.CpuEvents = append(e.record.CpuEvents, ev)

	e.pc = nextPc
	e.clk++
	return nil
}

func aluResult(op compiler.Opcode, b, c uint32) uint32 {
	switch op {
	case compiler.ADD:
		return b + c
	case compiler.SUB:
		return b - c
	case compiler.XOR:
		return b ^ c
	case compiler.OR:
		return b | c
	case compiler.AND:
		return b & c
	case compiler.SLL:
		return b << (c & 31)
	case compiler.SRL:
		return b >> (c & 31)
	case compiler.SRA:
		return uint32(int32(b) >> (c & 31))
	case compiler.SLT:
		if int32(b) < int32(c) {
			return 1
		}
		return 0
	case compiler.SLTU:
		if b < c {
			return 1
		}
		return 0
	case compiler.MUL:
		return b * c
	case compiler.MULH:
		return uint32(uint64(int64(int32(b))*int64(int32(c))) >> 32)
	case compiler.MULHU:
		return uint32((uint64(b) * uint64(c)) >> 32)
	case compiler.MULHSU:
		return uint32(uint64(int64(int32(b))*int64(c)) >> 32)
	case compiler.DIV:
		if c == 0 {
			return 0xFFFF_FFFF
		}
		if b == 0x8000_0000 && c == 0xFFFF_FFFF {
			return b
		}
		return uint32(int32(b) / int32(c))
	case compiler.DIVU:
		if c == 0 {
			return 0xFFFF_FFFF
		}
		return b / c
	case compiler.REM:
		if c == 0 {
			return b
		}
		if b == 0x8000_0000 && c == 0xFFFF_FFFF {
			return 0
		}
		return uint32(int32(b) % int32(c))
	case compiler.REMU:
		if c == 0 {
			return b
		}
		return b % c
	default:
		panic("emulator: not an ALU opcode: " + op.String())
	}
}

func branchTaken(op compiler.Opcode, a, b uint32) bool {
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
	case compiler.BGEU:
		return a >= b
	default:
		panic("emulator: not a branch opcode: " + op.String())
	}
}

func subword(word, addr uint32, op compiler.Opcode) uint32 {
	shift := (addr % 4) * 8
	switch op {
	case compiler.LB:
		return uint32(int32(int8(word >> shift)))
	case compiler.LBU:
		return (word >> shift) & 0xFF
	case compiler.LH:
		return uint32(int32(int16(word >> shift)))
	case compiler.LHU:
		return (word >> shift) & 0xFFFF
	default:
		panic("emulator: not a subword load")
	}
}

func mergeSubword(old, value, addr uint32, op compiler.Opcode) uint32 {
	shift := (addr % 4) * 8
	switch op {
	case compiler.SB:
		mask := uint32(0xFF) << shift
		return (old &^ mask) | ((value & 0xFF) << shift)
	case compiler.SH:
		mask := uint32(0xFFFF) << shift
		return (old &^ mask) | ((value & 0xFFFF) << shift)
	default:
		panic("emulator: not a subword store")
	}
}
