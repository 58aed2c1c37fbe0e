package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	memLocalIsReal = iota
	memLocalTs
	memLocalAddrLo
	memLocalAddrHi
	memLocalValLo
	memLocalValHi
	memLocalPrevLo
	memLocalPrevHi
	memLocalPrevChunk
	memLocalPrevTs
	memLocalIsWrite
	memLocalChunkGt // prev_chunk strictly below the current chunk
	memLocalDcLo    // 24-bit chunk difference witness
	memLocalDcHi
	memLocalDkLo // 24-bit timestamp difference witness
	memLocalDkHi

	memLocalWidth
)

// MemoryLocalChip turns each access of the chunk into its pair of global
// interactions: it receives the displaced previous version of the word and
// sends the new one stamped with the current chunk. The displaced stamp is
// forced strictly below the new one, which is what makes the whole-run
// version chain of every address linear.
type MemoryLocalChip struct{}

func NewMemoryLocalChip() *MemoryLocalChip { return &MemoryLocalChip{} }

func (c *MemoryLocalChip) Name() string           { return "MemoryLocal" }
func (c *MemoryLocalChip) PreprocessedWidth() int { return 0 }
func (c *MemoryLocalChip) MainWidth() int         { return memLocalWidth }

func (c *MemoryLocalChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *MemoryLocalChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.MemoryEvents) > 0
}
func (c *MemoryLocalChip) LocalOnly() bool                  { return true }
func (c *MemoryLocalChip) LookupScope() machine.LookupScope { return machine.ScopeGlobal }

func (c *MemoryLocalChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.MemoryEvents), memLocalWidth)
	for i, rec := range record.MemoryEvents {
		row := m.Row(i)
		row[memLocalIsReal] = field.One()
		row[memLocalTs] = field.FromUint32(rec.Timestamp)
		setWord(row, memLocalAddrLo, rec.Addr)
		setWord(row, memLocalValLo, rec.Value)
		setWord(row, memLocalPrevLo, rec.PrevValue)
		row[memLocalPrevChunk] = field.FromUint32(rec.PrevChunk)
		row[memLocalPrevTs] = field.FromUint32(rec.PrevTimestamp)
		row[memLocalIsWrite] = boolVal(rec.IsWrite)
		if rec.PrevChunk < rec.Chunk {
			row[memLocalChunkGt] = field.One()
			d := rec.Chunk - rec.PrevChunk - 1
			row[memLocalDcLo] = field.FromUint32(d & 0xFFFF)
			row[memLocalDcHi] = field.FromUint32(d >> 16)
		} else {
			d := rec.Timestamp - rec.PrevTimestamp - 1
			row[memLocalDkLo] = field.FromUint32(d & 0xFFFF)
			row[memLocalDkHi] = field.FromUint32(d >> 16)
		}
	}
	return m
}

func (c *MemoryLocalChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, rec := range record.MemoryEvents {
		derived.GlobalEvents = append(derived.GlobalEvents,
			emulator.GlobalLookupEvent{
				Kind: emulator.KindMemory,
				Values: [6]uint32{
					rec.Addr & 0xFFFF, rec.Addr >> 16,
					rec.PrevValue & 0xFFFF, rec.PrevValue >> 16,
					rec.PrevChunk, rec.PrevTimestamp,
				},
				IsReceive: true,
			},
			emulator.GlobalLookupEvent{
				Kind: emulator.KindMemory,
				Values: [6]uint32{
					rec.Addr & 0xFFFF, rec.Addr >> 16,
					rec.Value & 0xFFFF, rec.Value >> 16,
					rec.Chunk, rec.Timestamp,
				},
			})
		if rec.PrevChunk < rec.Chunk {
			d := rec.Chunk - rec.PrevChunk - 1
			derived.AddU16Range(uint16(d & 0xFFFF))
			derived.AddU8Range(uint8(d >> 16))
		} else {
			d := rec.Timestamp - rec.PrevTimestamp - 1
			derived.AddU16Range(uint16(d & 0xFFFF))
			derived.AddU8Range(uint8(d >> 16))
		}
	}
}

func (c *MemoryLocalChip) Eval(b *machine.Builder) {
	isReal := b.Local(memLocalIsReal)
	b.AssertBool(isReal)
	b.AssertBool(b.Local(memLocalIsWrite))

	// Displaced stamp strictly below (chunk, ts). Differences are 24-bit:
	// chunk counts and per-chunk access clocks both stay far below 2^24.
	chunk := b.Public(pvChunk)
	chunkGt := b.Local(memLocalChunkGt)
	b.AssertBool(chunkGt)
	dc := add(b.Local(memLocalDcLo), mul(cu(1<<16), b.Local(memLocalDcHi)))
	dk := add(b.Local(memLocalDkLo), mul(cu(1<<16), b.Local(memLocalDkHi)))
	chunkDiff := sub(chunk, b.Local(memLocalPrevChunk))
	b.AssertZero(mul(isReal, add(
		mul(chunkGt, sub(chunkDiff, add(dc, one()))),
		mul(not(chunkGt), chunkDiff))))
	b.AssertZero(mul(isReal, mul(not(chunkGt),
		sub(sub(b.Local(memLocalTs), b.Local(memLocalPrevTs)), add(dk, one())))))
	lookingU16(b, b.Local(memLocalDcLo), mul(isReal, chunkGt))
	lookingU8(b, b.Local(memLocalDcHi), mul(isReal, chunkGt))
	lookingU16(b, b.Local(memLocalDkLo), mul(isReal, not(chunkGt)))
	lookingU8(b, b.Local(memLocalDkHi), mul(isReal, not(chunkGt)))

	b.Looked(machine.LookupInstruction, machine.ScopeRegional, []expr{
		b.Local(memLocalTs), b.Local(memLocalAddrLo), b.Local(memLocalAddrHi),
		b.Local(memLocalValLo), b.Local(memLocalValHi),
		b.Local(memLocalPrevLo), b.Local(memLocalPrevHi),
		b.Local(memLocalPrevChunk), b.Local(memLocalPrevTs),
		b.Local(memLocalIsWrite),
	}, isReal)

	kind := cu(uint32(emulator.KindMemory))
	b.Looking(machine.LookupGlobal, machine.ScopeRegional, []expr{
		kind, b.Local(memLocalAddrLo), b.Local(memLocalAddrHi),
		b.Local(memLocalPrevLo), b.Local(memLocalPrevHi),
		b.Local(memLocalPrevChunk), b.Local(memLocalPrevTs), one(),
	}, isReal)
	b.Looking(machine.LookupGlobal, machine.ScopeRegional, []expr{
		kind, b.Local(memLocalAddrLo), b.Local(memLocalAddrHi),
		b.Local(memLocalValLo), b.Local(memLocalValHi),
		chunk, b.Local(memLocalTs), zero(),
	}, isReal)
}
