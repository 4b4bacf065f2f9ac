// Package chain implements the ledger state machine: transactions, blocks,
// and the chain/pending/rejected/balance aggregate that admits and mines
// them.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SystemSender is the reserved sender address for mining-reward
// transactions. A transaction with this sender never debits a balance.
const SystemSender = "0"

// Transaction is the identifying content of a single transfer: sender,
// recipient, amount, timestamp and an opaque signature. It carries no
// cryptographic guarantee — signature is a random identifier, not a proof
// of authorization.
type Transaction struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    float64   `json:"amount"`
	Timestamp float64   `json:"timestamp"`
	Signature string    `json:"signature"`
}

// NewTransaction builds a Transaction with the current wall clock as
// timestamp and a fresh random signature. Use NewTransactionWith when
// replaying or testing against fixed values.
func NewTransaction(sender, recipient string, amount float64) Transaction {
	return Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Timestamp: nowUnix(),
		Signature: uuid.NewString(),
	}
}

// NewTransactionWith builds a Transaction with an explicit timestamp and
// signature, for deterministic tests and for reconstructing transactions
// received over the wire.
func NewTransactionWith(sender, recipient string, amount, timestamp float64, signature string) Transaction {
	return Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Timestamp: timestamp,
		Signature: signature,
	}
}

// IsSystem reports whether this transaction is a mining reward.
func (t Transaction) IsSystem() bool {
	return t.Sender == SystemSender
}

// Triple identifies a transaction's (sender, recipient, amount) for the
// over-eager duplicate heuristic described in spec.md §4.3 and §9: two
// transfers between the same parties for the same amount are treated as a
// likely double-submission even if their signatures differ.
type Triple struct {
	Sender    string
	Recipient string
	Amount    float64
}

// AsTriple extracts the (sender, recipient, amount) triple.
func (t Transaction) AsTriple() Triple {
	return Triple{Sender: t.Sender, Recipient: t.Recipient, Amount: t.Amount}
}

// canonical is the key-sorted subset of fields that participate in Hash.
// encoding/json already marshals struct fields in declaration order, so to
// get a stable key-sorted payload independent of Go's field order we route
// through a map, the same way the original Python implementation calls
// json.dumps(..., sort_keys=True).
type canonical map[string]interface{}

func (t Transaction) canonicalPayload() canonical {
	return canonical{
		"sender":    t.Sender,
		"recipient": t.Recipient,
		"amount":    t.Amount,
		"timestamp": t.Timestamp,
		"signature": t.Signature,
	}
}

// Hash returns the hex-encoded SHA-256 of the transaction's canonical,
// key-sorted JSON serialization. Two transactions with identical field
// values hash identically regardless of construction order.
func (t Transaction) Hash() string {
	return hashCanonical(t.canonicalPayload())
}

// Equal reports whether two transactions share the same content hash.
func (t Transaction) Equal(other Transaction) bool {
	return t.Hash() == other.Hash()
}

func hashCanonical(v canonical) string {
	// map keys are marshaled in sorted order by encoding/json, matching
	// Python's sort_keys=True.
	b, err := json.Marshal(v)
	if err != nil {
		// canonical is built entirely from this package's own types;
		// marshaling it can only fail on programmer error.
		panic("chain: failed to marshal canonical payload: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
