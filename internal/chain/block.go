package chain

import (
	"strings"
)

// GenesisPreviousHash is the previous_hash value of the genesis block,
// accepted as well-formed by convention regardless of its own hash.
const GenesisPreviousHash = "0"

// Block is an ordered set of transactions bound to its position in the
// chain by index and previous_hash, sealed by a proof-of-work nonce.
//
// The hash covers {index, transactions, timestamp, previous_hash, nonce}
// only — difficulty and the hash itself are excluded from the hashed
// payload, matching spec.md §3.
type Block struct {
	Index        int           `json:"index"`
	Transactions []Transaction `json:"transactions"`
	Timestamp    float64       `json:"timestamp"`
	PreviousHash string        `json:"previous_hash"`
	Nonce        int           `json:"nonce"`
	Difficulty   int           `json:"difficulty"`
	Hash         string        `json:"hash"`
}

// NewBlock constructs a block and computes its initial hash at nonce 0. The
// caller mines it separately via Mine.
func NewBlock(index int, txs []Transaction, timestamp float64, previousHash string, difficulty int) *Block {
	b := &Block{
		Index:        index,
		Transactions: txs,
		Timestamp:    timestamp,
		PreviousHash: previousHash,
		Nonce:        0,
		Difficulty:   difficulty,
	}
	b.Hash = b.computeHash()
	return b
}

// NewGenesisBlock returns the index-0 block every chain starts with: no
// transactions, previous_hash "0", timestamp 0, accepted as well-formed
// regardless of its proof-of-work prefix. Every field is fixed, so every
// ledger starts from the same genesis hash and blocks mined on one node
// extend the tip of another.
func NewGenesisBlock() *Block {
	b := &Block{
		Index:        0,
		Transactions: []Transaction{},
		Timestamp:    0,
		PreviousHash: GenesisPreviousHash,
		Nonce:        0,
		Difficulty:   0,
	}
	b.Hash = b.computeHash()
	return b
}

// computeHash recomputes the block's hash from its hashed fields, ignoring
// whatever is currently stored in b.Hash.
func (b *Block) computeHash() string {
	txPayloads := make([]interface{}, len(b.Transactions))
	for i, tx := range b.Transactions {
		txPayloads[i] = tx.canonicalPayload()
	}
	payload := canonical{
		"index":         b.Index,
		"transactions":  txPayloads,
		"timestamp":     b.Timestamp,
		"previous_hash": b.PreviousHash,
		"nonce":         b.Nonce,
	}
	return hashCanonical(payload)
}

// Mine repeatedly increments the nonce and recomputes the hash until it
// carries Difficulty leading hex zero characters. It is single-threaded,
// CPU-bound, and not cancellable mid-call — the enclosing mining loop is
// what responds to StopMining, checked only between block attempts.
func (b *Block) Mine() {
	target := strings.Repeat("0", b.Difficulty)
	for !strings.HasPrefix(b.Hash, target) {
		b.Nonce++
		b.Hash = b.computeHash()
	}
}

// WellFormed reports whether the stored hash matches a fresh recomputation
// and carries the required proof-of-work prefix. The genesis block (index 0,
// previous_hash "0") is always well-formed by convention.
func (b *Block) WellFormed() bool {
	if b.Index == 0 && b.PreviousHash == GenesisPreviousHash {
		return true
	}
	if b.Hash != b.computeHash() {
		return false
	}
	return strings.HasPrefix(b.Hash, strings.Repeat("0", b.Difficulty))
}

// NonSystemCount returns the number of transactions in the block that are
// not the system mining-reward transaction.
func (b *Block) NonSystemCount() int {
	n := 0
	for _, tx := range b.Transactions {
		if !tx.IsSystem() {
			n++
		}
	}
	return n
}
