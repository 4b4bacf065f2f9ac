package chain

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// defaultRejectedCap bounds the in-memory rejected pool (spec.md §5:
// "acknowledged as an unbounded growth risk; an implementer may cap it at
// e.g. 10 000 entries with FIFO eviction").
const defaultRejectedCap = 10_000

// defaultMiningReward is credited to the miner for every mined block unless
// overridden with WithMiningReward.
const defaultMiningReward = 1.0

// initialSenderBalance is credited the first time an account appears as a
// sender, either during live admission or while replaying a chain.
const initialSenderBalance = 100.0

// Ledger owns the chain, pending pool, rejected pool and balance map. All
// mutation (admission, mining, block append, chain replacement) takes the
// embedded lock in exclusive mode; read-only chain queries may take it
// shared, per spec.md §5.
type Ledger struct {
	mu sync.RWMutex

	chain    []*Block
	pending  []Transaction
	rejected []Rejected
	balances map[string]float64

	difficulty   int
	miningReward float64
	rejectedCap  int
}

// Option configures a Ledger at construction time.
type Option func(*Ledger)

// WithMiningReward overrides the default mining reward of 1.0.
func WithMiningReward(reward float64) Option {
	return func(l *Ledger) { l.miningReward = reward }
}

// WithRejectedCap overrides the default 10,000-entry FIFO cap on the
// rejected pool. A cap of 0 disables eviction.
func WithRejectedCap(cap int) Option {
	return func(l *Ledger) { l.rejectedCap = cap }
}

// NewLedger creates a Ledger seeded with the genesis block.
func NewLedger(difficulty int, opts ...Option) *Ledger {
	l := &Ledger{
		chain:        []*Block{NewGenesisBlock()},
		balances:     make(map[string]float64),
		difficulty:   difficulty,
		miningReward: defaultMiningReward,
		rejectedCap:  defaultRejectedCap,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Difficulty returns the proof-of-work difficulty new blocks are mined at.
func (l *Ledger) Difficulty() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.difficulty
}

// AddTransaction runs the admission algorithm of spec.md §4.3. It never
// returns an error for invalid input — rejected transactions are recorded
// with a reason and (false, reason) is returned. (true, "") means admitted.
func (l *Ledger) AddTransaction(tx Transaction) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addTransactionLocked(tx)
}

func (l *Ledger) addTransactionLocked(tx Transaction) (bool, string) {
	if l.hasDuplicateLocked(tx) {
		l.rejectLocked(tx, ReasonDuplicate)
		return false, ReasonDuplicate
	}

	if tx.IsSystem() {
		l.pending = append(l.pending, tx)
		admittedCounter.Inc(1)
		return true, ""
	}

	if tx.Sender == tx.Recipient {
		l.rejectLocked(tx, ReasonSelfTransfer)
		return false, ReasonSelfTransfer
	}

	l.ensureAccountLocked(tx.Sender, initialSenderBalance)
	l.ensureAccountLocked(tx.Recipient, 0)

	senderBalance := l.balances[tx.Sender]
	if senderBalance < tx.Amount {
		reason := insufficientFundsReason(senderBalance, tx.Amount)
		l.rejectLocked(tx, reason)
		return false, reason
	}

	l.balances[tx.Sender] -= tx.Amount
	l.balances[tx.Recipient] += tx.Amount
	l.pending = append(l.pending, tx)
	admittedCounter.Inc(1)
	log.Debug("ledger: admitted transaction", "sender", tx.Sender, "recipient", tx.Recipient, "amount", tx.Amount)
	return true, ""
}

func (l *Ledger) hasDuplicateLocked(tx Transaction) bool {
	hash := tx.Hash()
	triple := tx.AsTriple()
	for _, p := range l.pending {
		if p.Hash() == hash {
			return true
		}
		if p.AsTriple() == triple {
			return true
		}
	}
	for _, b := range l.chain {
		for _, t := range b.Transactions {
			if t.Hash() == hash {
				return true
			}
		}
	}
	return false
}

func (l *Ledger) ensureAccountLocked(addr string, initial float64) {
	if _, ok := l.balances[addr]; !ok {
		l.balances[addr] = initial
	}
}

func (l *Ledger) rejectLocked(tx Transaction, reason string) {
	l.rejected = append(l.rejected, Rejected{
		Transaction: tx,
		Reason:      reason,
		Timestamp:   nowUnix(),
	})
	if l.rejectedCap > 0 && len(l.rejected) > l.rejectedCap {
		l.rejected = l.rejected[len(l.rejected)-l.rejectedCap:]
	}
	rejectedCounter.Inc(1)
	log.Warn("ledger: rejected transaction", "sender", tx.Sender, "recipient", tx.Recipient, "amount", tx.Amount, "reason", reason)
}

// NonSystemPendingCount returns the number of pending transactions that are
// not the system mining-reward transaction — the mining trigger condition
// (spec.md glossary) compares this to 3.
func (l *Ledger) NonSystemPendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonSystemPendingCountLocked()
}

func (l *Ledger) nonSystemPendingCountLocked() int {
	n := 0
	for _, tx := range l.pending {
		if !tx.IsSystem() {
			n++
		}
	}
	return n
}

// ErrNoPendingTransactions is returned by MinePending when the pending pool
// is empty — exported so callers (the RPC surface, §6 GET /mine) can map it
// to the documented "400 no txs" response.
var ErrNoPendingTransactions = fmt.Errorf("chain: no pending transactions to mine")

// MinePending builds a block from the current pending pool plus a system
// mining-reward transaction for minerAddress, mines it, and appends it to
// the chain. Per spec.md §5, the proof-of-work search itself runs outside
// the ledger lock: pending is snapshotted under lock, mined lock-free, then
// the tip is re-validated before append. If the tip moved while mining, the
// freshly mined block is discarded and ErrBlockOutOfSequence is returned —
// the caller (the mining loop, §4.7) treats that as "try again next tick".
func (l *Ledger) MinePending(minerAddress string) (*Block, error) {
	candidate, tipHash := l.prepareMiningCandidate(minerAddress)
	if candidate == nil {
		return nil, ErrNoPendingTransactions
	}

	start := time.Now()
	candidate.Mine()
	minedTimer.UpdateSince(start)

	if err := l.appendIfTipUnchanged(candidate, tipHash); err != nil {
		return nil, err
	}
	log.Info("ledger: mined block", "index", candidate.Index, "hash", candidate.Hash, "txs", len(candidate.Transactions))
	return candidate, nil
}

func (l *Ledger) prepareMiningCandidate(minerAddress string) (*Block, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil, ""
	}

	tip := l.chain[len(l.chain)-1]
	reward := NewTransaction(SystemSender, minerAddress, l.miningReward)
	txs := make([]Transaction, len(l.pending), len(l.pending)+1)
	copy(txs, l.pending)
	txs = append(txs, reward)

	block := NewBlock(len(l.chain), txs, nowUnix(), tip.Hash, l.difficulty)
	return block, tip.Hash
}

func (l *Ledger) appendIfTipUnchanged(block *Block, expectedTipHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tip := l.chain[len(l.chain)-1]
	if tip.Hash != expectedTipHash {
		return ErrBlockOutOfSequence
	}
	if !block.WellFormed() {
		return ErrBlockMalformed
	}

	l.chain = append(l.chain, block)
	l.creditRewardLocked(block)
	l.prunePendingForTransactionsLocked(block.Transactions)
	return nil
}

// AppendBlock validates and appends a block received from a peer
// (spec.md §4.5 HandleNewBlock's direct-append path). It fails with
// ErrBlockOutOfSequence if the block does not extend the current tip by
// exactly one, or ErrBlockMalformed if it is not well-formed.
func (l *Ledger) AppendBlock(block *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tip := l.chain[len(l.chain)-1]
	if block.Index != tip.Index+1 || block.PreviousHash != tip.Hash {
		return ErrBlockOutOfSequence
	}
	if !block.WellFormed() {
		return ErrBlockMalformed
	}

	l.chain = append(l.chain, block)
	l.creditRewardLocked(block)
	l.prunePendingForTransactionsLocked(block.Transactions)
	log.Info("ledger: appended block", "index", block.Index, "hash", block.Hash)
	return nil
}

func (l *Ledger) creditRewardLocked(block *Block) {
	for _, tx := range block.Transactions {
		if !tx.IsSystem() {
			continue
		}
		l.ensureAccountLocked(tx.Recipient, 0)
		l.balances[tx.Recipient] += tx.Amount
	}
}

func (l *Ledger) prunePendingForTransactionsLocked(txs []Transaction) {
	hashes := make(map[string]struct{}, len(txs))
	triples := make(map[Triple]struct{}, len(txs))
	for _, tx := range txs {
		hashes[tx.Hash()] = struct{}{}
		triples[tx.AsTriple()] = struct{}{}
	}

	kept := l.pending[:0:0]
	for _, tx := range l.pending {
		if _, dup := hashes[tx.Hash()]; dup {
			continue
		}
		if _, dup := triples[tx.AsTriple()]; dup {
			continue
		}
		kept = append(kept, tx)
	}
	l.pending = kept
}

// IsChainValid walks the chain from index 1, checking hash integrity,
// previous-hash linkage, proof-of-work, and simulated balance admissibility
// (spec.md §4.3).
func (l *Ledger) IsChainValid() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := replayBalances(l.chain)
	return ok
}

// ReplaceChain accepts candidate only if it is strictly longer than the
// current chain and passes full chain validation. On acceptance, balances
// are rebuilt from scratch by replaying candidate, and pending is filtered
// to drop any transaction whose content hash or (sender, recipient, amount)
// triple already appears in candidate (spec.md §4.3).
func (l *Ledger) ReplaceChain(candidate []*Block) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(candidate) <= len(l.chain) {
		return false, ErrChainNotLonger
	}

	balances, ok := replayBalances(candidate)
	if !ok {
		return false, ErrChainInvalid
	}

	l.chain = candidate
	l.balances = balances

	var allTxs []Transaction
	for _, b := range l.chain {
		allTxs = append(allTxs, b.Transactions...)
	}
	l.prunePendingForTransactionsLocked(allTxs)

	log.Info("ledger: chain replaced", "length", len(l.chain))
	return true, nil
}

// replayBalances walks blocks from index 1, validating chain linkage,
// proof-of-work, and per-transaction admissibility, and returns the
// balances that result plus whether the whole chain validated. It never
// mutates its input and is used both by IsChainValid (validate only) and
// ReplaceChain (validate + adopt the resulting balances).
func replayBalances(blocks []*Block) (map[string]float64, bool) {
	balances := make(map[string]float64)
	if len(blocks) == 0 {
		return balances, false
	}
	if len(blocks) == 1 {
		return balances, true
	}

	for i := 1; i < len(blocks); i++ {
		cur, prev := blocks[i], blocks[i-1]

		if cur.Hash != cur.computeHash() {
			return balances, false
		}
		if cur.PreviousHash != prev.Hash {
			return balances, false
		}
		if !strings.HasPrefix(cur.Hash, strings.Repeat("0", cur.Difficulty)) {
			return balances, false
		}

		for _, tx := range cur.Transactions {
			if tx.IsSystem() {
				if _, ok := balances[tx.Recipient]; !ok {
					balances[tx.Recipient] = 0
				}
				balances[tx.Recipient] += tx.Amount
				continue
			}

			if _, ok := balances[tx.Sender]; !ok {
				balances[tx.Sender] = initialSenderBalance
			}
			if _, ok := balances[tx.Recipient]; !ok {
				balances[tx.Recipient] = 0
			}
			if balances[tx.Sender] < tx.Amount {
				return balances, false
			}
			balances[tx.Sender] -= tx.Amount
			balances[tx.Recipient] += tx.Amount
		}
	}
	return balances, true
}

// Balance returns the current balance for an address, 0 if unknown.
func (l *Ledger) Balance(addr string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[addr]
}

// Chain returns a shallow copy of the chain slice (the Blocks themselves
// are treated as immutable once appended).
func (l *Ledger) Chain() []*Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Block, len(l.chain))
	copy(out, l.chain)
	return out
}

// ChainLength returns len(Chain()) without copying the slice.
func (l *Ledger) ChainLength() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// BlockAt returns the block at index i, or (nil, false) if out of range.
func (l *Ledger) BlockAt(i int) (*Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.chain) {
		return nil, false
	}
	return l.chain[i], true
}

// LatestBlock returns the chain tip.
func (l *Ledger) LatestBlock() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1]
}

// PendingTransactions returns a copy of the pending pool.
func (l *Ledger) PendingTransactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Transaction, len(l.pending))
	copy(out, l.pending)
	return out
}

// RejectedTransactions returns a copy of the rejected pool.
func (l *Ledger) RejectedTransactions() []Rejected {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Rejected, len(l.rejected))
	copy(out, l.rejected)
	return out
}

// TransactionForAddress describes one chain transaction involving an
// address, along with the block it was included in. Pending transactions
// are not described by this type.
type TransactionForAddress struct {
	Transaction Transaction `json:"transaction"`
	BlockIndex  int         `json:"block_index"`
	BlockHash   string      `json:"block_hash"`
}

// TransactionsForAddress returns every chain transaction where addr is
// sender or recipient, in chain order.
func (l *Ledger) TransactionsForAddress(addr string) []TransactionForAddress {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []TransactionForAddress
	for _, b := range l.chain {
		for _, tx := range b.Transactions {
			if tx.Sender == addr || tx.Recipient == addr {
				out = append(out, TransactionForAddress{
					Transaction: tx,
					BlockIndex:  b.Index,
					BlockHash:   b.Hash,
				})
			}
		}
	}
	return out
}
