package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// opcodeByName is the inverse of opcodeNames, built once.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, numOpcodes)
	for op, name := range opcodeNames {
		m[name] = Opcode(op)
	}
	return m
}()

// Assemble parses a textual program, one instruction per line, into a
// Program rooted at DefaultPCBase. The format is the flattened operand
// form the CPU chip consumes: the first operand is always a register
// (x0..x31), the remaining operands are registers or immediates
// (decimal or 0x hex). `ecall`, `ebreak` and `unimp` take no operands.
//
//	add  x1, x0, 21     # x1 = 21
//	mul  x3, x1, x2
//	.word 0x2000 7      # seed one word of the memory image
//	ecall
//
// Comments start with '#' or '//'. Blank lines are skipped.
func Assemble(src string) (*Program, error) {
	b := NewBuilder()
	for num, raw := range strings.Split(src, "\n") {
		line := stripComment(raw)
		if line == "" {
			continue
		}
		if err := assembleLine(b, line); err != nil {
			return nil, fmt.Errorf("line %d: %w", num+1, err)
		}
	}
	p := b.Build()
	if len(p.Instructions) == 0 {
		return nil, fmt.Errorf("empty program")
	}
	return p, nil
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func assembleLine(b *Builder, line string) error {
	line = strings.Join(strings.Fields(line), " ")
	head, rest, _ := strings.Cut(line, " ")
	head = strings.ToLower(head)

	if head == ".word" {
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return fmt.Errorf(".word wants addr and value, got %q", rest)
		}
		addr, err := parseImm(fields[0])
		if err != nil {
			return err
		}
		value, err := parseImm(fields[1])
		if err != nil {
			return err
		}
		b.SetWord(addr, value)
		return nil
	}

	op, ok := opcodeByName[head]
	if !ok {
		return fmt.Errorf("unknown mnemonic %q", head)
	}

	var operands []string
	if rest = strings.TrimSpace(rest); rest != "" {
		operands = strings.Split(rest, ",")
	}

	ins := Instruction{Opcode: op}
	switch op {
	case ECALL, EBREAK, UNIMP:
		if len(operands) != 0 {
			return fmt.Errorf("%s takes no operands", head)
		}
	default:
		if len(operands) != 3 {
			return fmt.Errorf("%s wants 3 operands, got %d", head, len(operands))
		}
		a, aImm, err := parseOperand(operands[0])
		if err != nil {
			return err
		}
		if aImm {
			return fmt.Errorf("first operand of %s must be a register", head)
		}
		ins.OpA = a
		if ins.OpB, ins.ImmB, err = parseOperand(operands[1]); err != nil {
			return err
		}
		if ins.OpC, ins.ImmC, err = parseOperand(operands[2]); err != nil {
			return err
		}
	}
	b.Emit(ins)
	return nil
}

func parseOperand(s string) (value uint32, imm bool, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "x") {
		reg, err := strconv.ParseUint(s[1:], 10, 32)
		if err != nil || reg > 31 {
			return 0, false, fmt.Errorf("bad register %q", s)
		}
		return uint32(reg), false, nil
	}
	v, err := parseImm(s)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func parseImm(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad immediate %q: %w", s, err)
	}
	if neg {
		return uint32(-int64(v)), nil
	}
	return uint32(v), nil
}
