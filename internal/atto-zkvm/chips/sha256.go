package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	shaIsReal = iota
	shaIsStart
	shaClk
	shaPtrLo
	shaPtrHi
	shaIdx
	shaWLo
	shaWHi

	shaWidth
)

// sha256ExtendSteps is the number of extended schedule words per call.
const sha256ExtendSteps = 48

// Sha256ExtendChip lays each extension call out as one row per extended
// schedule word, indices 16 through 63, chained by a step counter. The
// first row of each call answers the syscall channel; the word values are
// carried from the event with their limbs range-checked.
type Sha256ExtendChip struct{}

func NewSha256ExtendChip() *Sha256ExtendChip { return &Sha256ExtendChip{} }

func (c *Sha256ExtendChip) Name() string           { return "Sha256Extend" }
func (c *Sha256ExtendChip) PreprocessedWidth() int { return 0 }
func (c *Sha256ExtendChip) MainWidth() int         { return shaWidth }

func (c *Sha256ExtendChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *Sha256ExtendChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.Sha256Events) > 0
}
func (c *Sha256ExtendChip) LocalOnly() bool                  { return false }
func (c *Sha256ExtendChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *Sha256ExtendChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.Sha256Events)*sha256ExtendSteps, shaWidth)
	r := 0
	for _, ev := range record.Sha256Events {
		for i := 16; i < 64; i++ {
			row := m.Row(r)
			r++
			row[shaIsReal] = field.One()
			if i == 16 {
				row[shaIsStart] = field.One()
			}
			row[shaClk] = field.FromUint32(ev.Clk)
			setWord(row, shaPtrLo, ev.WPtr)
			row[shaIdx] = field.FromUint32(uint32(i))
			setWord(row, shaWLo, ev.W[i])
		}
	}
	return m
}

func (c *Sha256ExtendChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, ev := range record.Sha256Events {
		for i := 16; i < 64; i++ {
			derived.AddU16Range(uint16(ev.W[i]))
			derived.AddU16Range(uint16(ev.W[i] >> 16))
		}
	}
}

func (c *Sha256ExtendChip) Eval(b *machine.Builder) {
	isReal, isStart := b.Local(shaIsReal), b.Local(shaIsStart)
	b.AssertBool(isReal)
	b.AssertBool(isStart)
	b.AssertZero(mul(isStart, not(isReal)))

	// Step counter: each call starts at 16 and counts up, and a row can
	// only open a new call right after index 63 of the previous one.
	idx := b.Local(shaIdx)
	b.AssertZero(mul(isStart, sub(idx, cu(16))))
	cont := mul(b.Next(shaIsReal), not(b.Next(shaIsStart)))
	b.AssertZeroTransition(mul(cont, sub(b.Next(shaIdx), add(idx, one()))))
	b.AssertZeroTransition(mul(cont, sub(b.Next(shaClk), b.Local(shaClk))))
	b.AssertZeroTransition(mul(cont, sub(b.Next(shaPtrLo), b.Local(shaPtrLo))))
	b.AssertZeroTransition(mul(cont, sub(b.Next(shaPtrHi), b.Local(shaPtrHi))))
	b.AssertZeroTransition(mul(cont, not(isReal)))
	b.AssertZeroTransition(mul(mul(b.Next(shaIsReal), b.Next(shaIsStart)),
		mul(isReal, sub(idx, cu(63)))))

	lookingU16(b, b.Local(shaWLo), isReal)
	lookingU16(b, b.Local(shaWHi), isReal)

	b.Looking(machine.LookupSyscall, machine.ScopeRegional, []expr{
		cu(syscallTagPrecompile), b.Local(shaClk),
		cu(emulator.SyscallSha256Extend & 0xFFFF), cu(emulator.SyscallSha256Extend >> 16),
		b.Local(shaPtrLo), b.Local(shaPtrHi),
	}, isStart)
}
