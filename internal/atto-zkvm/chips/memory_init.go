package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	memInitIsReal = iota
	memInitAddrLo
	memInitAddrHi
	memInitValLo
	memInitValHi
	memInitHiGt   // next address differs already in the high limb
	memInitDiffHi // strict difference witnesses toward the next row
	memInitDiffLo

	memInitWidth
)

// MemoryInitChip seeds the version chain of every touched address with
// stamp (0, 0). Rows are sorted by address and each address may appear
// once; the strictly increasing address constraint enforces that.
type MemoryInitChip struct{}

func NewMemoryInitChip() *MemoryInitChip { return &MemoryInitChip{} }

func (c *MemoryInitChip) Name() string           { return "MemoryInit" }
func (c *MemoryInitChip) PreprocessedWidth() int { return 0 }
func (c *MemoryInitChip) MainWidth() int         { return memInitWidth }

func (c *MemoryInitChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *MemoryInitChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.MemoryInit) > 0
}
func (c *MemoryInitChip) LocalOnly() bool                  { return false }
func (c *MemoryInitChip) LookupScope() machine.LookupScope { return machine.ScopeGlobal }

// fillAddrOrder fills the strict-increase witnesses between consecutive
// addresses: row i carries the decomposition of next_addr - addr - 1.
func fillAddrOrder(row []field.Val, hiGt, diffHi, diffLo int, addr, next uint32) {
	if next>>16 != addr>>16 {
		row[hiGt] = field.One()
		row[diffHi] = field.FromUint32(next>>16 - addr>>16 - 1)
	} else {
		row[diffLo] = field.FromUint32(next&0xFFFF - addr&0xFFFF - 1)
	}
}

func (c *MemoryInitChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.MemoryInit), memInitWidth)
	for i, ev := range record.MemoryInit {
		row := m.Row(i)
		row[memInitIsReal] = field.One()
		setWord(row, memInitAddrLo, ev.Addr)
		setWord(row, memInitValLo, ev.Value)
		if i+1 < len(record.MemoryInit) {
			fillAddrOrder(row, memInitHiGt, memInitDiffHi, memInitDiffLo,
				ev.Addr, record.MemoryInit[i+1].Addr)
		}
	}
	return m
}

func (c *MemoryInitChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	if len(record.MemoryInit) > 0 {
		// Wraparound row of the address-order gadget.
		derived.AddU16Range(0)
	}
	for i, ev := range record.MemoryInit {
		derived.GlobalEvents = append(derived.GlobalEvents, emulator.GlobalLookupEvent{
			Kind: emulator.KindMemory,
			Values: [6]uint32{
				ev.Addr & 0xFFFF, ev.Addr >> 16,
				ev.Value & 0xFFFF, ev.Value >> 16,
				0, 0,
			},
		})
		derived.AddU16Range(uint16(ev.Addr))
		derived.AddU16Range(uint16(ev.Addr >> 16))
		derived.AddU16Range(uint16(ev.Value))
		derived.AddU16Range(uint16(ev.Value >> 16))
		if i+1 < len(record.MemoryInit) {
			next := record.MemoryInit[i+1].Addr
			if next>>16 != ev.Addr>>16 {
				derived.AddU16Range(uint16(next>>16 - ev.Addr>>16 - 1))
			} else {
				derived.AddU16Range(uint16(next&0xFFFF - ev.Addr&0xFFFF - 1))
			}
		}
	}
}

// evalAddrOrder emits the shared strictly-increasing-address constraints
// used by the init and finalize chips.
func evalAddrOrder(b *machine.Builder, isReal, addrLo, addrHi, hiGt, diffHi, diffLo int) {
	t := b.IsTransition()
	real, nextReal := b.Local(isReal), b.Next(isReal)
	b.AssertBool(real)
	// Real rows form a prefix.
	b.AssertZeroTransition(mul(not(real), nextReal))

	gt := b.Local(hiGt)
	b.AssertBool(gt)
	gate := mul(t, nextReal)
	b.AssertZero(mul(gate, add(
		mul(gt, sub(sub(b.Next(addrHi), b.Local(addrHi)), add(b.Local(diffHi), one()))),
		mul(not(gt), sub(b.Next(addrHi), b.Local(addrHi))))))
	b.AssertZero(mul(gate, mul(not(gt),
		sub(sub(b.Next(addrLo), b.Local(addrLo)), add(b.Local(diffLo), one())))))
	// Lookup multiplicities cannot carry row selectors, so the last row,
	// whose next-row view wraps to row zero, fires one spurious zero-valued
	// range check. The generators add a matching table count for it.
	lookingU16(b, b.Local(diffHi), mul(nextReal, gt))
	lookingU16(b, b.Local(diffLo), mul(nextReal, not(gt)))
}

func (c *MemoryInitChip) Eval(b *machine.Builder) {
	isReal := b.Local(memInitIsReal)
	evalAddrOrder(b, memInitIsReal, memInitAddrLo, memInitAddrHi,
		memInitHiGt, memInitDiffHi, memInitDiffLo)

	for _, col := range []int{memInitAddrLo, memInitAddrHi, memInitValLo, memInitValHi} {
		lookingU16(b, b.Local(col), isReal)
	}

	b.Looking(machine.LookupGlobal, machine.ScopeRegional, []expr{
		cu(uint32(emulator.KindMemory)),
		b.Local(memInitAddrLo), b.Local(memInitAddrHi),
		b.Local(memInitValLo), b.Local(memInitValHi),
		zero(), zero(), zero(),
	}, isReal)
}
