package recursion

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const pvIsReal = 0

// PublicValuesChip binds the proof's public-value vector to cells computed
// inside the circuit: one real row whose columns must equal the machine
// public values, each consumed from memory at a preprocessed address. This
// is what makes the committed chunk data and the carried global sum a
// constrained output of the verified computation rather than prover input.
type PublicValuesChip struct{}

func NewPublicValuesChip() *PublicValuesChip { return &PublicValuesChip{} }

func (c *PublicValuesChip) Name() string           { return "PublicValues" }
func (c *PublicValuesChip) PreprocessedWidth() int { return 1 + machine.NumMachinePvs }
func (c *PublicValuesChip) MainWidth() int         { return machine.NumMachinePvs }

func (c *PublicValuesChip) GeneratePreprocessed(program any) *matrix.Dense {
	p, ok := program.(*Program)
	if !ok {
		return nil
	}
	var commit *instr
	for i := range p.instrs {
		if p.instrs[i].kind == opCommit {
			commit = &p.instrs[i]
			break
		}
	}
	if commit == nil {
		return nil
	}
	m := paddedTrace(1, c.PreprocessedWidth())
	row := m.Row(0)
	row[pvIsReal] = field.One()
	for i, addr := range commit.ins {
		row[1+i] = field.FromUint32(addr)
	}
	return m
}

func (c *PublicValuesChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := paddedTrace(len(record.CircuitCommits), c.MainWidth())
	for i, ev := range record.CircuitCommits {
		copy(m.Row(i), ev.Values)
	}
	return m
}

func (c *PublicValuesChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *PublicValuesChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.CircuitCommits) > 0
}
func (c *PublicValuesChip) LocalOnly() bool                  { return true }
func (c *PublicValuesChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *PublicValuesChip) Eval(b *machine.Builder) {
	isReal := b.PreLocal(pvIsReal)
	for i := 0; i < machine.NumMachinePvs; i++ {
		v := b.Local(i)
		b.AssertZero(mul(isReal, sub(v, b.Public(i))))
		b.Looking(machine.LookupMemory, machine.ScopeRegional, baseTuple(b.PreLocal(1+i), v), isReal)
	}
}
