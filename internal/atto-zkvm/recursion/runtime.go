package recursion

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// Run executes a finalized program against a witness stream and returns the
// record of the run. The record's public values and global sum come from
// the program's commit operation, so the resulting proof carries whatever
// the circuit computed and bound there.
func Run(p *Program, perm *poseidon2.Permutation, witness []field.Ext) (*emulator.EmulationRecord, error) {
	mem := make([]field.Ext, p.numCells)
	for _, c := range p.consts {
		mem[c.Addr] = c.Value
	}
	base := func(addr uint32) field.Val {
		return mem[addr].B0.A0
	}

	record := emulator.NewRecord(nil, 0)
	record.CircuitConstRows = len(p.consts) + len(p.asserts)

	wi := 0
	for pc, in := range p.instrs {
		switch in.kind {
		case opWitness:
			if wi >= len(witness) {
				return nil, fmt.Errorf("recursion: witness exhausted at instruction %d", pc)
			}
			mem[in.out] = witness[wi]
			wi++
			record.CircuitWitness = append(record.CircuitWitness, emulator.CircuitWitnessEvent{Value: mem[in.out]})

		case opBaseAlu:
			a, bv := base(in.a), base(in.b)
			var out field.Val
			switch in.alu {
			case AluAdd:
				out = field.Add(a, bv)
			case AluSub:
				out = field.Sub(a, bv)
			case AluMul:
				out = field.Mul(a, bv)
			case AluDiv:
				if bv.IsZero() {
					return nil, fmt.Errorf("recursion: division by zero at instruction %d", pc)
				}
				out = field.Mul(a, field.Inv(bv))
			}
			mem[in.out] = field.ExtFromBase(out)
			record.CircuitBaseAlu = append(record.CircuitBaseAlu, emulator.CircuitBaseAluEvent{Out: out, In1: a, In2: bv})

		case opExtAlu:
			a, bv := mem[in.a], mem[in.b]
			var out field.Ext
			switch in.alu {
			case AluAdd:
				out = field.ExtAdd(a, bv)
			case AluSub:
				out = field.ExtSub(a, bv)
			case AluMul:
				out = field.ExtMul(a, bv)
			case AluDiv:
				if field.ExtIsZero(bv) {
					return nil, fmt.Errorf("recursion: extension division by zero at instruction %d", pc)
				}
				out = field.ExtDiv(a, bv)
			}
			mem[in.out] = out
			record.CircuitExtAlu = append(record.CircuitExtAlu, emulator.CircuitExtAluEvent{Out: out, In1: a, In2: bv})

		case opSelect:
			bit := base(in.bit)
			if !bit.IsZero() && !bit.IsOne() {
				return nil, fmt.Errorf("recursion: non-boolean select bit at instruction %d", pc)
			}
			a, bv := mem[in.a], mem[in.b]
			o1, o2 := a, bv
			if bit.IsOne() {
				o1, o2 = bv, a
			}
			mem[in.out] = o1
			mem[in.out2] = o2
			record.CircuitSelects = append(record.CircuitSelects, emulator.CircuitSelectEvent{
				Bit: bit, In1: a, In2: bv, Out1: o1, Out2: o2,
			})

		case opPoseidon2:
			var input [16]field.Val
			state := make([]field.Val, 16)
			for i, addr := range in.ins {
				input[i] = base(addr)
				state[i] = input[i]
			}
			perm.Permute(state)
			for i, addr := range in.outs {
				mem[addr] = field.ExtFromBase(state[i])
			}
			record.CircuitPoseidon2 = append(record.CircuitPoseidon2, emulator.CircuitPoseidon2Event{Input: input})

		case opExpBits:
			g := base(in.a)
			bits := make([]uint32, len(in.ins))
			acc := field.One()
			sq := g
			for i, addr := range in.ins {
				bit := base(addr)
				if !bit.IsZero() && !bit.IsOne() {
					return nil, fmt.Errorf("recursion: non-boolean exponent bit at instruction %d", pc)
				}
				if bit.IsOne() {
					bits[i] = 1
					acc = field.Mul(acc, sq)
				}
				sq = field.Mul(sq, sq)
			}
			mem[in.out] = field.ExtFromBase(acc)
			record.CircuitExpBits = append(record.CircuitExpBits, emulator.CircuitExpBitsEvent{Base: g, Bits: bits})

		case opHint:
			deps := make([]field.Ext, len(in.ins))
			for i, addr := range in.ins {
				deps[i] = mem[addr]
			}
			vals := in.hint(deps)
			if len(vals) != len(in.outs) {
				return nil, fmt.Errorf("recursion: hint produced %d values, want %d", len(vals), len(in.outs))
			}
			for i, addr := range in.outs {
				mem[addr] = vals[i]
				record.CircuitWitness = append(record.CircuitWitness, emulator.CircuitWitnessEvent{Value: vals[i]})
			}

		case opCommit:
			vals := make([]field.Val, len(in.ins))
			for i, addr := range in.ins {
				vals[i] = base(addr)
			}
			record.CircuitCommits = append(record.CircuitCommits, emulator.CircuitCommitEvent{Values: vals})
		}
	}
	if wi != len(witness) {
		return nil, fmt.Errorf("recursion: %d witness elements unread", len(witness)-wi)
	}

	for _, as := range p.asserts {
		if !field.ExtEqual(mem[as.Addr], as.Value) {
			return nil, fmt.Errorf("recursion: assertion failed at cell %d", as.Addr)
		}
	}

	commit := record.CircuitCommits[0]
	if len(commit.Values) != machine.NumMachinePvs {
		return nil, fmt.Errorf("recursion: committed %d public values, want %d", len(commit.Values), machine.NumMachinePvs)
	}
	pv, err := emulator.PublicValuesFromVals(commit.Values[:emulator.NumPublicValues])
	if err != nil {
		return nil, err
	}
	record.PublicValues = pv
	pt, err := machine.DecodeGlobalSum(commit.Values)
	if err != nil {
		return nil, err
	}
	record.GlobalSumOverride = &pt
	return record, nil
}
