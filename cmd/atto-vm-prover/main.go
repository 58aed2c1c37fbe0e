// atto-vm-prover runs a RISC-V program through the proving pipeline and
// writes the resulting artifacts.
//
// The program file is either assembled text (see the compiler package's
// Assemble format) or a cbor-encoded Program produced by an external
// loader. The input stream is raw bytes, read from the -input file or
// from stdin when "-" is given.
//
//	atto-vm-prover -stage riscv    prog.s        # chunk proofs only
//	atto-vm-prover -stage recursion prog.s       # + aggregated meta proof
//	atto-vm-prover -stage onchain  prog.cbor     # + BN254 settlement files
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/logger"
	attozkvm "github.com/attovm/atto-zkvm/pkg/atto-zkvm"
)

const metaFile = "meta_proof.cbor"

func main() {
	var (
		stage     = flag.String("stage", "recursion", "pipeline stage to stop at: riscv, recursion or onchain")
		inputPath = flag.String("input", "", "input stream file, \"-\" for stdin, empty for none")
		outDir    = flag.String("out", "out", "artifact output directory")
		chunkSize = flag.Uint("chunk-size", 0, "cycles per proving chunk (0 = default)")
		queries   = flag.Int("queries", 0, "FRI query count override (0 = default)")
		grind     = flag.Int("grind", 0, "proof-of-work grinding bits override (0 = default)")
		quiet     = flag.Bool("quiet", false, "suppress progress logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] program-file\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if *quiet {
		logger.Disable()
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*stage, flag.Arg(0), *inputPath, *outDir, *chunkSize, *queries, *grind); err != nil {
		fmt.Fprintf(os.Stderr, "atto-vm-prover: %v\n", err)
		os.Exit(1)
	}
}

func run(stage, programPath, inputPath, outDir string, chunkSize uint, queries, grind int) error {
	switch stage {
	case "riscv", "recursion", "onchain":
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}

	program, err := loadProgram(programPath)
	if err != nil {
		return err
	}
	input, err := loadInput(inputPath)
	if err != nil {
		return err
	}

	config := attozkvm.DefaultConfig()
	if chunkSize > 0 {
		config.ChunkSize = uint32(chunkSize)
	}
	config.NumQueries = queries
	config.GrindingBits = grind
	client, err := attozkvm.NewClient(config)
	if err != nil {
		return err
	}

	log := logger.Logger().With().Str("component", "cli").Logger()
	log.Info().Str("stage", stage).Int("instructions", len(program.Instructions)).Msg("proving")

	riscv, err := client.ProveRiscv(context.Background(), program, input)
	if err != nil {
		return err
	}
	if len(riscv.Stdout) > 0 {
		os.Stdout.Write(riscv.Stdout)
	}
	log.Info().Int("chunks", len(riscv.Proofs)).Uint32("exit_code", riscv.ExitCode).Msg("riscv stage done")
	if stage == "riscv" {
		return nil
	}

	rec, err := client.ProveRecursion(riscv, nil)
	if err != nil {
		return err
	}
	if err := client.VerifyMeta(program.PCStart, rec.Meta); err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	data, err := rec.Meta.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, metaFile), data, 0o644); err != nil {
		return err
	}
	log.Info().Str("path", filepath.Join(outDir, metaFile)).Msg("recursion stage done")
	if stage == "recursion" {
		return nil
	}

	if _, err := client.ProveOnChain(rec, outDir); err != nil {
		return err
	}
	log.Info().Str("dir", outDir).Msg("on-chain artifacts written")
	return nil
}

func loadProgram(path string) (*attozkvm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".cbor" || ext == ".bin" {
		var p attozkvm.Program
		if err := cbor.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode program image %s: %w", path, err)
		}
		return &p, nil
	}
	p, err := compiler.Assemble(string(data))
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", path, err)
	}
	return p, nil
}

func loadInput(path string) ([]byte, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(path)
	}
}
