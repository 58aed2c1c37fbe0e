package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssemble(t *testing.T) {
	src := `
		# doubles the seeded word
		add  x1, x0, 21
		lw   x2, x0, 0x2000
		mul  x3, x1, x2   // product
		.word 0x2000 2
		ecall
	`
	p, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, p.Instructions, 4)
	require.Equal(t, uint32(DefaultPCBase), p.PCStart)
	require.Equal(t, uint32(2), p.Image[0x2000])

	require.Equal(t, Instruction{Opcode: ADD, OpA: 1, OpC: 21, ImmC: true}, p.Instructions[0])
	require.Equal(t, Instruction{Opcode: LW, OpA: 2, OpC: 0x2000, ImmC: true}, p.Instructions[1])
	require.Equal(t, Instruction{Opcode: MUL, OpA: 3, OpB: 1, OpC: 2}, p.Instructions[2])
	require.Equal(t, Instruction{Opcode: ECALL}, p.Instructions[3])
}

func TestAssembleNegativeImmediate(t *testing.T) {
	p, err := Assemble("add x1, x0, -1")
	require.NoError(t, err)
	require.Equal(t, uint32(0xffffffff), p.Instructions[0].OpC)
}

func TestAssembleErrors(t *testing.T) {
	for name, src := range map[string]string{
		"empty":            "# nothing here",
		"unknown mnemonic": "frobnicate x1, x2, x3",
		"operand count":    "add x1, x2",
		"imm destination":  "add 5, x2, x3",
		"bad register":     "add x99, x2, x3",
		"ecall operands":   "ecall x1, x2, x3",
		"word arity":       ".word 0x2000",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Assemble(src)
			require.Error(t, err)
		})
	}
}
