package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	memFinIsReal = iota
	memFinAddrLo
	memFinAddrHi
	memFinValLo
	memFinValHi
	memFinChunk
	memFinTs
	memFinHiGt
	memFinDiffHi
	memFinDiffLo

	memFinWidth
)

// MemoryFinalizeChip retires the last version of every touched address,
// consuming the global tuple the final access sent. Like the init chip it
// keeps its rows strictly sorted by address so no address can be retired
// twice.
type MemoryFinalizeChip struct{}

func NewMemoryFinalizeChip() *MemoryFinalizeChip { return &MemoryFinalizeChip{} }

func (c *MemoryFinalizeChip) Name() string           { return "MemoryFinalize" }
func (c *MemoryFinalizeChip) PreprocessedWidth() int { return 0 }
func (c *MemoryFinalizeChip) MainWidth() int         { return memFinWidth }

func (c *MemoryFinalizeChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *MemoryFinalizeChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.MemoryFinalize) > 0
}
func (c *MemoryFinalizeChip) LocalOnly() bool                  { return false }
func (c *MemoryFinalizeChip) LookupScope() machine.LookupScope { return machine.ScopeGlobal }

func (c *MemoryFinalizeChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.MemoryFinalize), memFinWidth)
	for i, ev := range record.MemoryFinalize {
		row := m.Row(i)
		row[memFinIsReal] = field.One()
		setWord(row, memFinAddrLo, ev.Addr)
		setWord(row, memFinValLo, ev.Value)
		row[memFinChunk] = field.FromUint32(ev.Chunk)
		row[memFinTs] = field.FromUint32(ev.Timestamp)
		if i+1 < len(record.MemoryFinalize) {
			fillAddrOrder(row, memFinHiGt, memFinDiffHi, memFinDiffLo,
				ev.Addr, record.MemoryFinalize[i+1].Addr)
		}
	}
	return m
}

func (c *MemoryFinalizeChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	if len(record.MemoryFinalize) > 0 {
		// Wraparound row of the address-order gadget.
		derived.AddU16Range(0)
	}
	for i, ev := range record.MemoryFinalize {
		derived.GlobalEvents = append(derived.GlobalEvents, emulator.GlobalLookupEvent{
			Kind: emulator.KindMemory,
			Values: [6]uint32{
				ev.Addr & 0xFFFF, ev.Addr >> 16,
				ev.Value & 0xFFFF, ev.Value >> 16,
				ev.Chunk, ev.Timestamp,
			},
			IsReceive: true,
		})
		derived.AddU16Range(uint16(ev.Addr))
		derived.AddU16Range(uint16(ev.Addr >> 16))
		derived.AddU16Range(uint16(ev.Value))
		derived.AddU16Range(uint16(ev.Value >> 16))
		if i+1 < len(record.MemoryFinalize) {
			next := record.MemoryFinalize[i+1].Addr
			if next>>16 != ev.Addr>>16 {
				derived.AddU16Range(uint16(next>>16 - ev.Addr>>16 - 1))
			} else {
				derived.AddU16Range(uint16(next&0xFFFF - ev.Addr&0xFFFF - 1))
			}
		}
	}
}

func (c *MemoryFinalizeChip) Eval(b *machine.Builder) {
	isReal := b.Local(memFinIsReal)
	evalAddrOrder(b, memFinIsReal, memFinAddrLo, memFinAddrHi,
		memFinHiGt, memFinDiffHi, memFinDiffLo)

	for _, col := range []int{memFinAddrLo, memFinAddrHi, memFinValLo, memFinValHi} {
		lookingU16(b, b.Local(col), isReal)
	}

	b.Looking(machine.LookupGlobal, machine.ScopeRegional, []expr{
		cu(uint32(emulator.KindMemory)),
		b.Local(memFinAddrLo), b.Local(memFinAddrHi),
		b.Local(memFinValLo), b.Local(memFinValHi),
		b.Local(memFinChunk), b.Local(memFinTs), one(),
	}, isReal)
}
