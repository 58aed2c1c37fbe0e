package attozkvm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
)

func testProgram() *Program {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 21))
	b.Emit(compiler.NewALUImm(compiler.ADD, 2, 0, 2))
	b.Emit(compiler.NewALU(compiler.MUL, 3, 1, 2))
	b.Emit(compiler.NewALU(compiler.XOR, 4, 3, 1))
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, emulator.SyscallHalt))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, 0))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
	return b.Build()
}

func testClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(&Config{ChunkSize: 1 << 10, NumQueries: 4, GrindingBits: 2})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil)
	require.NoError(t, err)

	_, err = NewClient(&Config{ChunkSize: 0})
	require.ErrorIs(t, err, &Error{Code: ErrInvalidConfig})

	_, err = NewClient(&Config{ChunkSize: 1 << 10, NumQueries: -1})
	require.ErrorIs(t, err, &Error{Code: ErrInvalidConfig})

	_, err = NewClient(&Config{ChunkSize: 1 << 31})
	require.ErrorIs(t, err, &Error{Code: ErrInvalidConfig})
}

func TestProveRiscvRejectsEmptyProgram(t *testing.T) {
	client := testClient(t)
	_, err := client.ProveRiscv(context.Background(), &Program{}, nil)
	require.ErrorIs(t, err, &Error{Code: ErrInvalidInput})
}

func TestStageOrderEnforced(t *testing.T) {
	client := testClient(t)
	_, err := client.ProveRecursion(nil, nil)
	require.ErrorIs(t, err, &Error{Code: ErrInvalidInput})
	_, err = client.ProveOnChain(nil, t.TempDir())
	require.ErrorIs(t, err, &Error{Code: ErrInvalidInput})
}

func TestClientEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full pipeline")
	}
	client := testClient(t)
	program := testProgram()

	riscv, err := client.ProveRiscv(context.Background(), program, nil)
	require.NoError(t, err)
	require.NotEmpty(t, riscv.Proofs)
	require.Equal(t, uint32(0), riscv.ExitCode)

	rec, err := client.ProveRecursion(riscv, nil)
	require.NoError(t, err)
	require.Len(t, rec.Meta.Proofs, 1)
	require.NoError(t, client.VerifyMeta(program.PCStart, rec.Meta))

	dir := t.TempDir()
	ep, err := client.ProveOnChain(rec, dir)
	require.NoError(t, err)
	require.NotEmpty(t, ep.ProofBytes)
	_, err = os.Stat(filepath.Join(dir, "proof.json"))
	require.NoError(t, err)

	t.Run("wrong_entry_point", func(t *testing.T) {
		err := client.VerifyMeta(program.PCStart+4, rec.Meta)
		require.ErrorIs(t, err, &Error{Code: ErrProofVerification})
	})
}
