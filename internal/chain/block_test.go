package chain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenesisBlockWellFormedByConvention(t *testing.T) {
	genesis := NewGenesisBlock()
	require.True(t, genesis.WellFormed())
	require.Equal(t, 0, genesis.Index)
	require.Equal(t, GenesisPreviousHash, genesis.PreviousHash)
}

func TestMineProducesRequiredPrefix(t *testing.T) {
	genesis := NewGenesisBlock()
	txs := []Transaction{NewTransactionWith("alice", "bob", 10, 1000, "sig-1")}
	b := NewBlock(1, txs, 1001, genesis.Hash, 2)
	b.Mine()

	require.True(t, strings.HasPrefix(b.Hash, "00"))
	require.True(t, b.WellFormed())
}

func TestWellFormedRejectsTamperedHash(t *testing.T) {
	genesis := NewGenesisBlock()
	b := NewBlock(1, nil, 1001, genesis.Hash, 1)
	b.Mine()

	b.Transactions = append(b.Transactions, NewTransactionWith("alice", "bob", 999, 1000, "tampered"))
	require.False(t, b.WellFormed())
}

func TestWellFormedRejectsShortPoWPrefix(t *testing.T) {
	genesis := NewGenesisBlock()
	b := NewBlock(1, nil, 1001, genesis.Hash, 4)
	// Recompute without mining: vanishingly unlikely to already satisfy
	// difficulty 4, and if it did by chance WellFormed would still
	// correctly report true — this test only exercises the common case.
	if strings.HasPrefix(b.Hash, "0000") {
		t.Skip("block happened to satisfy difficulty without mining")
	}
	require.False(t, b.WellFormed())
}

func TestDifficultyAndHashExcludedFromHashedPayload(t *testing.T) {
	genesis := NewGenesisBlock()
	txs := []Transaction{NewTransactionWith("alice", "bob", 10, 1000, "sig-1")}

	a := NewBlock(1, txs, 1001, genesis.Hash, 1)
	b := NewBlock(1, txs, 1001, genesis.Hash, 5)
	// Same nonce (0), same everything-that-matters except difficulty: the
	// pre-mining hash must be identical since difficulty is excluded from
	// the hashed payload (spec.md §3).
	require.Equal(t, a.Hash, b.Hash)
}

func TestNonSystemCount(t *testing.T) {
	b := NewBlock(1, []Transaction{
		NewTransactionWith("alice", "bob", 1, 1, "s1"),
		NewTransactionWith(SystemSender, "miner-1", 1, 1, "s2"),
	}, 1, "0", 0)
	require.Equal(t, 1, b.NonSystemCount())
}
