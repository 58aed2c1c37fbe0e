package machine

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

// ChipBehavior is the contract every trace+constraint unit implements.
//
// GenerateMain must be a pure function of the record's event vectors and
// must produce power-of-two (or pinned-shape) heights whose padding rows
// satisfy Eval unconditionally. ExtraRecord derives secondary events (byte
// range checks) into derived; it must be idempotent and only ever add.
type ChipBehavior interface {
	Name() string
	PreprocessedWidth() int
	MainWidth() int

	GeneratePreprocessed(program any) *matrix.Dense
	GenerateMain(record *emulator.EmulationRecord) *matrix.Dense
	ExtraRecord(record *emulator.EmulationRecord, derived *emulator.EmulationRecord)

	IsActive(record *emulator.EmulationRecord) bool
	// LocalOnly chips have no transition constraints, so their columns are
	// opened at zeta only, not at g*zeta.
	LocalOnly() bool
	LookupScope() LookupScope

	Eval(b *Builder)
}

// MetaChip wraps a chip with the symbolic data extracted from one Eval run:
// constraints, lookups, and the quotient degree. Built once per machine.
type MetaChip struct {
	ChipBehavior

	Constraints       []Expr
	Lookups           []Lookup
	LogQuotientDegree int
}

// NewMetaChip runs Eval symbolically and records the result.
func NewMetaChip(chip ChipBehavior) *MetaChip {
	b := NewBuilder(chip.PreprocessedWidth(), chip.MainWidth())
	chip.Eval(b)
	return &MetaChip{
		ChipBehavior:      chip,
		Constraints:       b.Constraints(),
		Lookups:           b.Lookups(),
		LogQuotientDegree: b.LogQuotientDegree(),
	}
}

// BatchSize is how many lookups share one permutation-trace column.
func (m *MetaChip) BatchSize() int { return 1 << m.LogQuotientDegree }

// RegionalLookups filters the chip's lookups to the regional scope.
func (m *MetaChip) RegionalLookups() []Lookup {
	var out []Lookup
	for _, lk := range m.Lookups {
		if lk.Scope == ScopeRegional {
			out = append(out, lk)
		}
	}
	return out
}

// PermutationWidth is the extension-column count of the permutation trace:
// one column per lookup batch plus the running sum.
func (m *MetaChip) PermutationWidth() int {
	lks := m.RegionalLookups()
	if len(lks) == 0 {
		return 0
	}
	batches := (len(lks) + m.BatchSize() - 1) / m.BatchSize()
	return batches + 1
}
