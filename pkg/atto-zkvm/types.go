package attozkvm

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/proverchain"
)

// Program is a compiled RISC-V program image.
type Program = compiler.Program

// Assemble parses the compiler package's textual program format. It is a
// convenience for examples and tests; real programs arrive as decoded
// images from a loader.
func Assemble(src string) (*Program, error) {
	p, err := compiler.Assemble(src)
	if err != nil {
		return nil, wrapErr(ErrInvalidInput, "program assembly failed", err)
	}
	return p, nil
}

// ChunkProof is one execution chunk's STARK proof.
type ChunkProof = machine.BaseProof

// VerifyingKey commits to a program's preprocessed traces.
type VerifyingKey = machine.BaseVerifyingKey

// MetaProof is the aggregated proof of a full execution.
type MetaProof = proverchain.MetaProof

// EmbedProof is the BN254-shaped terminal artifact.
type EmbedProof = proverchain.EmbedProof

// VkManager is the verifying-key allow-list for the compress stage.
type VkManager = proverchain.VkManager

// Config bounds a client's emulation and proving runs.
type Config struct {
	// ChunkSize is the cycle budget per chunk; each chunk becomes one
	// STARK proof.
	ChunkSize uint32

	// MaxCycles aborts runaway programs. Zero means no limit.
	MaxCycles uint64

	// NumQueries overrides the FRI query count. Zero keeps the field
	// default. Lowering it below the default weakens soundness and is
	// meant for tests only.
	NumQueries int

	// GrindingBits overrides the proof-of-work bits. Zero keeps the
	// field default.
	GrindingBits int
}

// DefaultConfig returns the production parameters.
func DefaultConfig() *Config {
	return &Config{ChunkSize: 1 << 20}
}
