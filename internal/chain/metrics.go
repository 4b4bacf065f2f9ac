package chain

import "github.com/ethereum/go-ethereum/metrics"

// Counters mirroring the registration style of miner/worker.go's
// txConditionalRejectedCounter/txConditionalMinedTimer: package-level
// metrics registered once at import time, incremented inline by the
// operations they describe.
var (
	admittedCounter = metrics.NewRegisteredCounter("ledger/transactions/admitted", nil)
	rejectedCounter = metrics.NewRegisteredCounter("ledger/transactions/rejected", nil)
	minedTimer      = metrics.NewRegisteredTimer("ledger/blocks/mined", nil)
)
