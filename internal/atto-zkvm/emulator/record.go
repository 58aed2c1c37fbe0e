package emulator

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/septic"
)

// PublicValues is the per-proof public interface: where the chunk started
// and stopped, the committed output digest, and completion flags. The field
// encoding feeds both the challenger and the public-value columns.
type PublicValues struct {
	Chunk                uint32
	StartPc              uint32
	NextPc               uint32
	ExitCode             uint32
	FlagComplete         uint32
	CommittedValueDigest [8]uint32
}

// NumPublicValues is the flattened width of PublicValues.
const NumPublicValues = 13

// ToVals flattens the struct into field elements, the order every chip and
// the challenger agree on.
func (pv *PublicValues) ToVals() []field.Val {
	out := make([]field.Val, 0, NumPublicValues)
	out = append(out,
		field.FromUint32(pv.Chunk),
		field.FromUint32(pv.StartPc),
		field.FromUint32(pv.NextPc),
		field.FromUint32(pv.ExitCode),
		field.FromUint32(pv.FlagComplete),
	)
	for _, w := range pv.CommittedValueDigest {
		out = append(out, field.FromUint32(w))
	}
	return out
}

// PublicValuesFromVals inverts ToVals.
func PublicValuesFromVals(vals []field.Val) (PublicValues, error) {
	if len(vals) < NumPublicValues {
		return PublicValues{}, fmt.Errorf("emulator: %d public values, want at least %d", len(vals), NumPublicValues)
	}
	pv := PublicValues{
		Chunk:        field.ToUint32(vals[0]),
		StartPc:      field.ToUint32(vals[1]),
		NextPc:       field.ToUint32(vals[2]),
		ExitCode:     field.ToUint32(vals[3]),
		FlagComplete: field.ToUint32(vals[4]),
	}
	for i := range pv.CommittedValueDigest {
		pv.CommittedValueDigest[i] = field.ToUint32(vals[5+i])
	}
	return pv, nil
}

// EmulationRecord accumulates the events of one execution chunk, one vector
// per event kind. Chips read their vector in GenerateMain and derive
// secondary events (byte range checks) in ExtraRecord.
type EmulationRecord struct {
	Program      *compiler.Program
	Chunk        uint32
	PublicValues PublicValues

	CpuEvents     []CpuEvent
	AddSubEvents  []AluEvent
	BitwiseEvents []AluEvent
	MulEvents     []AluEvent
	DivRemEvents  []AluEvent
	LtEvents      []AluEvent
	ShiftLeft     []AluEvent
	ShiftRight    []AluEvent

	MemoryEvents   []MemoryRecord
	MemoryInit     []MemoryInitEvent
	MemoryFinalize []MemoryFinalizeEvent

	SyscallEvents    []SyscallEvent
	Poseidon2Events  []Poseidon2Event
	Uint256MulEvents []Uint256MulEvent
	Sha256Events     []Sha256ExtendEvent
	KeccakEvents     []KeccakPermuteEvent

	GlobalEvents []GlobalLookupEvent

	// Circuit event vectors, filled by recursion program runs instead of
	// RISC-V emulation. CircuitConstRows counts the rows of the constant
	// table so the chip can size its trace to the preprocessed height.
	CircuitConstRows int
	CircuitWitness   []CircuitWitnessEvent
	CircuitBaseAlu   []CircuitBaseAluEvent
	CircuitExtAlu    []CircuitExtAluEvent
	CircuitSelects   []CircuitSelectEvent
	CircuitPoseidon2 []CircuitPoseidon2Event
	CircuitExpBits   []CircuitExpBitsEvent
	CircuitCommits   []CircuitCommitEvent

	// GlobalSumOverride, when set, replaces the digest of GlobalEvents as
	// the proof's global sum. Recursion records carry the sum aggregated
	// from their verified child proofs here; the commit chip binds it to
	// the in-circuit computation.
	GlobalSumOverride *septic.Point

	// ByteLookups holds deduplicated byte-table lookups with multiplicities.
	ByteLookups map[ByteLookupEvent]uint64

	// Shape pins per-chip log2 trace heights; nil means natural padding.
	Shape map[string]int
}

// NewRecord returns an empty record for one chunk of the program.
func NewRecord(program *compiler.Program, chunk uint32) *EmulationRecord {
	return &EmulationRecord{
		Program:     program,
		Chunk:       chunk,
		ByteLookups: map[ByteLookupEvent]uint64{},
	}
}

// AddByteLookup bumps the multiplicity of one byte-table lookup.
func (r *EmulationRecord) AddByteLookup(ev ByteLookupEvent) {
	r.ByteLookups[ev]++
}

// AddU8Range range-checks one byte through the byte table.
func (r *EmulationRecord) AddU8Range(b uint8) {
	r.AddByteLookup(ByteLookupEvent{Opcode: ByteU8Range, B: b})
}

// AddU16Range range-checks one 16-bit value through the byte table.
func (r *EmulationRecord) AddU16Range(v uint16) {
	r.AddByteLookup(ByteLookupEvent{Opcode: ByteU16Range, A1: v})
}

// AddAlu routes an ALU event to the vector of the chip that proves it.
func (r *EmulationRecord) AddAlu(ev AluEvent) {
	switch ev.Opcode {
	case compiler.ADD, compiler.SUB:
		r.AddSubEvents = append(r.AddSubEvents, ev)
	case compiler.XOR, compiler.OR, compiler.AND:
		r.BitwiseEvents = append(r.BitwiseEvents, ev)
	case compiler.MUL, compiler.MULH, compiler.MULHU, compiler.MULHSU:
		r.MulEvents = append(r.MulEvents, ev)
	case compiler.DIV, compiler.DIVU, compiler.REM, compiler.REMU:
		r.DivRemEvents = append(r.DivRemEvents, ev)
	case compiler.SLT, compiler.SLTU:
		r.LtEvents = append(r.LtEvents, ev)
	case compiler.SLL:
		r.ShiftLeft = append(r.ShiftLeft, ev)
	case compiler.SRL, compiler.SRA:
		r.ShiftRight = append(r.ShiftRight, ev)
	default:
		panic("emulator: not an ALU opcode: " + ev.Opcode.String())
	}
}

// Append merges other into r. Append is associative: splitting a run into
// chunks and merging in any grouping yields the same record as one big run,
// which is what lets chunks be proved independently.
func (r *EmulationRecord) Append(other *EmulationRecord) {
	r.CpuEvents = append(r.CpuEvents, other.CpuEvents...)
	r.AddSubEvents = append(r.AddSubEvents, other.AddSubEvents...)
	r.BitwiseEvents = append(r.BitwiseEvents, other.BitwiseEvents...)
	r.MulEvents = append(r.MulEvents, other.MulEvents...)
	r.DivRemEvents = append(r.DivRemEvents, other.DivRemEvents...)
	r.LtEvents = append(r.LtEvents, other.LtEvents...)
	r.ShiftLeft = append(r.ShiftLeft, other.ShiftLeft...)
	r.ShiftRight = append(r.ShiftRight, other.ShiftRight...)
	r.MemoryEvents = append(r.MemoryEvents, other.MemoryEvents...)
	r.MemoryInit = append(r.MemoryInit, other.MemoryInit...)
	r.MemoryFinalize = append(r.MemoryFinalize, other.MemoryFinalize...)
	r.SyscallEvents = append(r.SyscallEvents, other.SyscallEvents...)
	r.Poseidon2Events = append(r.Poseidon2Events, other.Poseidon2Events...)
	r.Uint256MulEvents = append(r.Uint256MulEvents, other.Uint256MulEvents...)
	r.Sha256Events = append(r.Sha256Events, other.Sha256Events...)
	r.KeccakEvents = append(r.KeccakEvents, other.KeccakEvents...)
	r.GlobalEvents = append(r.GlobalEvents, other.GlobalEvents...)
	r.CircuitConstRows += other.CircuitConstRows
	r.CircuitWitness = append(r.CircuitWitness, other.CircuitWitness...)
	r.CircuitBaseAlu = append(r.CircuitBaseAlu, other.CircuitBaseAlu...)
	r.CircuitExtAlu = append(r.CircuitExtAlu, other.CircuitExtAlu...)
	r.CircuitSelects = append(r.CircuitSelects, other.CircuitSelects...)
	r.CircuitPoseidon2 = append(r.CircuitPoseidon2, other.CircuitPoseidon2...)
	r.CircuitExpBits = append(r.CircuitExpBits, other.CircuitExpBits...)
	r.CircuitCommits = append(r.CircuitCommits, other.CircuitCommits...)
	for ev, mult := range other.ByteLookups {
		r.ByteLookups[ev] += mult
	}
}

// PinnedLog returns the pinned log2 height for a chip, if any.
func (r *EmulationRecord) PinnedLog(chip string) (int, bool) {
	if r.Shape == nil {
		return 0, false
	}
	lg, ok := r.Shape[chip]
	return lg, ok
}
