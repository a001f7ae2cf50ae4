// Package vmhost names the WASM contract-execution boundary (spec §1): the
// core accepts TxContractDeploy/TxContractCall transactions into the
// mempool and into blocks, but delegates their execution to an Executor the
// orchestrator wires in. No execution engine lives in this repository.
//
// Adapted from the teacher's doc-only internal/vm package (WASM runtime +
// host functions + gas accounting, described but never implemented there)
// into a minimal Go contract so the core can reference the collaborator by
// interface instead of leaving it as inert prose.
package vmhost

import (
	"context"

	"empower1.com/ptcnode/internal/core"
)

// ContractCall is the subset of a TxContractDeploy/TxContractCall
// transaction an Executor needs.
type ContractCall struct {
	Tx       *core.Transaction
	GasLimit uint64
}

// Receipt is the result of executing a ContractCall.
type Receipt struct {
	Success    bool
	GasUsed    uint64
	ReturnData []byte
	Logs       [][]byte
}

// Executor runs contract calls. The node core never implements this
// itself; it only calls through whatever Executor the orchestrator wires.
type Executor interface {
	Execute(ctx context.Context, call ContractCall) (Receipt, error)
}

// NullExecutor accepts every call and performs no execution, the default
// wired when no real VM is configured.
type NullExecutor struct{}

// Execute implements Executor by reporting success with zero gas used.
func (NullExecutor) Execute(ctx context.Context, call ContractCall) (Receipt, error) {
	return Receipt{Success: true}, nil
}
