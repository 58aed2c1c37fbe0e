package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	memIsReal = iota
	memIsCpu
	memTs
	memAddrLo
	memAddrHi
	memValLo
	memValHi
	memPrevLo
	memPrevHi
	memPrevChunk
	memPrevTs
	memIsWrite

	memWidth
)

// MemoryReadWriteChip holds one row per memory access in the chunk,
// whether it came from an instruction or from a syscall touching memory
// directly. CPU instruction accesses answer the CPU's memory lookup; every
// access is forwarded with its displaced previous version to the local
// memory chip, which turns it into a pair of global interactions.
type MemoryReadWriteChip struct{}

func NewMemoryReadWriteChip() *MemoryReadWriteChip { return &MemoryReadWriteChip{} }

func (c *MemoryReadWriteChip) Name() string           { return "MemoryReadWrite" }
func (c *MemoryReadWriteChip) PreprocessedWidth() int { return 0 }
func (c *MemoryReadWriteChip) MainWidth() int         { return memWidth }

func (c *MemoryReadWriteChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *MemoryReadWriteChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.MemoryEvents) > 0
}
func (c *MemoryReadWriteChip) LocalOnly() bool                  { return true }
func (c *MemoryReadWriteChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

// cpuAccessSet keys the accesses attached to instruction events by their
// per-chunk timestamp, which is unique across all accesses.
func cpuAccessSet(record *emulator.EmulationRecord) map[uint32]bool {
	set := make(map[uint32]bool)
	for _, ev := range record.CpuEvents {
		if ev.Mem != nil {
			set[ev.Mem.Timestamp] = true
		}
	}
	return set
}

func (c *MemoryReadWriteChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	cpu := cpuAccessSet(record)
	m := newTrace(record, c.Name(), len(record.MemoryEvents), memWidth)
	for i, rec := range record.MemoryEvents {
		row := m.Row(i)
		row[memIsReal] = field.One()
		row[memIsCpu] = boolVal(cpu[rec.Timestamp])
		row[memTs] = field.FromUint32(rec.Timestamp)
		setWord(row, memAddrLo, rec.Addr)
		setWord(row, memValLo, rec.Value)
		setWord(row, memPrevLo, rec.PrevValue)
		row[memPrevChunk] = field.FromUint32(rec.PrevChunk)
		row[memPrevTs] = field.FromUint32(rec.PrevTimestamp)
		row[memIsWrite] = boolVal(rec.IsWrite)
	}
	return m
}

func (c *MemoryReadWriteChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, rec := range record.MemoryEvents {
		for _, v := range []uint32{rec.Addr, rec.Value, rec.PrevValue} {
			derived.AddU16Range(uint16(v))
			derived.AddU16Range(uint16(v >> 16))
		}
	}
}

func (c *MemoryReadWriteChip) Eval(b *machine.Builder) {
	isReal, isCpu := b.Local(memIsReal), b.Local(memIsCpu)
	isWrite := b.Local(memIsWrite)
	b.AssertBool(isReal)
	b.AssertBool(isCpu)
	b.AssertBool(isWrite)
	b.AssertZero(mul(isCpu, not(isReal)))

	// A read leaves the word untouched.
	b.AssertZero(mul(isReal, mul(not(isWrite), sub(b.Local(memValLo), b.Local(memPrevLo)))))
	b.AssertZero(mul(isReal, mul(not(isWrite), sub(b.Local(memValHi), b.Local(memPrevHi)))))

	for _, col := range []int{memAddrLo, memAddrHi, memValLo, memValHi, memPrevLo, memPrevHi} {
		lookingU16(b, b.Local(col), isReal)
	}

	b.Looked(machine.LookupMemory, machine.ScopeRegional, []expr{
		b.Local(memTs), b.Local(memAddrLo), b.Local(memAddrHi),
		b.Local(memValLo), b.Local(memValHi), b.Local(memIsWrite),
	}, isCpu)

	b.Looking(machine.LookupInstruction, machine.ScopeRegional, []expr{
		b.Local(memTs), b.Local(memAddrLo), b.Local(memAddrHi),
		b.Local(memValLo), b.Local(memValHi),
		b.Local(memPrevLo), b.Local(memPrevHi),
		b.Local(memPrevChunk), b.Local(memPrevTs),
		b.Local(memIsWrite),
	}, isReal)
}
