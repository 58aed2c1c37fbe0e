package attozkvm

import (
	"context"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/chips"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/onchain"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/proverchain"
)

// Client runs the proving pipeline with one fixed parameter set.
type Client struct {
	spec field.Spec
	opts emulator.Options
}

// NewClient validates the configuration and builds a client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ChunkSize == 0 {
		return nil, wrapErr(ErrInvalidConfig, "chunk size must be positive", nil)
	}
	spec := field.DefaultSpec()
	if config.NumQueries < 0 || config.GrindingBits < 0 {
		return nil, wrapErr(ErrInvalidConfig, "negative proof parameters", nil)
	}
	if config.NumQueries > 0 {
		spec.NumQueries = config.NumQueries
	}
	if config.GrindingBits > 0 {
		spec.GrindingBits = config.GrindingBits
	}
	if config.ChunkSize > 1<<spec.MaxLogChunkSize {
		return nil, wrapErr(ErrInvalidConfig, "chunk size exceeds the trace budget", nil)
	}
	return &Client{
		spec: spec,
		opts: emulator.Options{ChunkSize: config.ChunkSize, MaxCycles: config.MaxCycles},
	}, nil
}

// RiscvResult is the outcome of the base proving stage.
type RiscvResult struct {
	Proofs   []*ChunkProof
	Vk       *VerifyingKey
	Stdout   []byte
	ExitCode uint32

	riscv *machine.BaseMachine
}

// ProveRiscv emulates the program with the given input stream and proves
// every execution chunk.
func (c *Client) ProveRiscv(ctx context.Context, program *Program, input []byte) (*RiscvResult, error) {
	if program == nil || len(program.Instructions) == 0 {
		return nil, wrapErr(ErrInvalidInput, "empty program", nil)
	}
	e := emulator.New(program, c.opts)
	if len(input) > 0 {
		e.WithInput(input)
	}
	records, err := e.Run(ctx)
	if err != nil {
		return nil, wrapErr(ErrExecution, "emulation failed", err)
	}

	m := chips.NewRiscvMachine(c.spec)
	pk, err := m.Setup(program)
	if err != nil {
		return nil, wrapErr(ErrProofGeneration, "setup failed", err)
	}
	proofs, err := m.ProveEnsemble(ctx, pk, records)
	if err != nil {
		return nil, wrapErr(ErrProofGeneration, "chunk proving failed", err)
	}
	if err := m.VerifyEnsemble(pk.Vk, proofs); err != nil {
		return nil, wrapErr(ErrProofVerification, "ensemble self-check failed", err)
	}
	return &RiscvResult{
		Proofs:   proofs,
		Vk:       pk.Vk,
		Stdout:   e.Stdout(),
		ExitCode: e.ExitCode(),
		riscv:    m,
	}, nil
}

// RecursionResult is the outcome of the aggregation stages.
type RecursionResult struct {
	Meta  *MetaProof
	final *proverchain.Node
	embed *proverchain.EmbedStage
}

// ProveRecursion reduces the chunk proofs to a single proof: convert,
// pairwise combine, compress, and the allow-listed compress. A nil manager
// trusts only this run's own compress key.
func (c *Client) ProveRecursion(res *RiscvResult, mgr *VkManager) (*RecursionResult, error) {
	if res == nil || res.riscv == nil {
		return nil, wrapErr(ErrInvalidInput, "recursion requires a riscv proving result", nil)
	}
	convert := proverchain.NewConvertStage(res.riscv, res.Vk)
	nodes, err := convert.Prove(res.Proofs)
	if err != nil {
		return nil, wrapErr(ErrProofGeneration, "convert stage failed", err)
	}
	combine := proverchain.NewCombineStage(convert)
	node, err := combine.Reduce(nodes)
	if err != nil {
		return nil, wrapErr(ErrProofGeneration, "combine stage failed", err)
	}
	compress := proverchain.NewCompressStage(combine)
	node, err = compress.Prove(node)
	if err != nil {
		return nil, wrapErr(ErrProofGeneration, "compress stage failed", err)
	}
	if mgr == nil {
		mgr, err = proverchain.NewVkManager(c.spec, []*machine.BaseVerifyingKey{node.Vk})
		if err != nil {
			return nil, wrapErr(ErrProofGeneration, "allow-list construction failed", err)
		}
	}
	compressVk := proverchain.NewCompressVkStage(compress, mgr)
	node, err = compressVk.Prove(node)
	if err != nil {
		return nil, wrapErr(ErrProofGeneration, "allow-listed compress failed", err)
	}
	return &RecursionResult{
		Meta:  proverchain.NewMetaProof(node),
		final: node,
		embed: proverchain.NewEmbedStage(compressVk),
	}, nil
}

// ProveOnChain embeds the final proof and writes the settlement artifacts
// to dir.
func (c *Client) ProveOnChain(res *RecursionResult, dir string) (*EmbedProof, error) {
	if res == nil || res.embed == nil {
		return nil, wrapErr(ErrInvalidInput, "on-chain proving requires a recursion result", nil)
	}
	ep, err := res.embed.Prove(res.final)
	if err != nil {
		return nil, wrapErr(ErrProofGeneration, "embed stage failed", err)
	}
	if err := onchain.Export(ep, dir); err != nil {
		return nil, wrapErr(ErrExport, "artifact export failed", err)
	}
	return ep, nil
}

// VerifyMeta checks an aggregated proof against the program entry point.
func (c *Client) VerifyMeta(startPc uint32, meta *MetaProof) error {
	if err := proverchain.VerifyMeta(c.spec, startPc, meta); err != nil {
		return wrapErr(ErrProofVerification, "meta proof rejected", err)
	}
	return nil
}

// NewVkManager builds a verifying-key allow-list with the client's
// parameters.
func (c *Client) NewVkManager(vks ...*VerifyingKey) (*VkManager, error) {
	mgr, err := proverchain.NewVkManager(c.spec, vks)
	if err != nil {
		return nil, wrapErr(ErrInvalidInput, "allow-list construction failed", err)
	}
	return mgr, nil
}
