// Package attozkvm is the public interface of the Atto zkVM: a RISC-V
// zero-knowledge virtual machine with a STARK proving stack and recursive
// proof aggregation.
//
// The pipeline has three levels. ProveRiscv emulates a compiled program in
// chunks and produces one STARK proof per chunk. ProveRecursion wraps those
// proofs in-circuit and reduces them pairwise to a single proof of the
// whole execution, optionally re-keyed against a verifying-key allow-list.
// ProveOnChain re-expresses the final proof for BN254 settlement and writes
// the contract artifacts.
//
// A minimal run:
//
//	client, err := attozkvm.NewClient(attozkvm.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	riscv, err := client.ProveRiscv(ctx, program, input)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// nil allow-list: trust only this run's own compress key
//	rec, err := client.ProveRecursion(riscv, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := client.VerifyMeta(program.PCStart, rec.Meta); err != nil {
//		log.Fatal(err)
//	}
package attozkvm
