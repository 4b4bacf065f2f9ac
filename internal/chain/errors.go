package chain

import "errors"

// Rejection reasons, returned verbatim in RPC error bodies (spec.md §7).
const (
	ReasonDuplicate    = "Duplicate transaction"
	ReasonSelfTransfer = "Source and recipient must differ"
)

// insufficientFundsReason formats the "Insufficient funds: S < A" reason
// with Python-style float rendering (100.0, not 100) so it reads exactly
// like the original implementation's f-string (spec.md §8 scenario 3).
func insufficientFundsReason(senderBalance, amount float64) string {
	return "Insufficient funds: " + formatPyFloat(senderBalance) + " < " + formatPyFloat(amount)
}

// Sentinel errors for ReplaceChain/AppendBlock/MinePending failure paths
// that are structural rather than ordinary admission outcomes.
var (
	// ErrChainNotLonger is returned by ReplaceChain when the candidate is
	// not strictly longer than the current chain — never logged as a
	// failure, just a no-op (spec.md §8 property: ReplaceChain is a no-op
	// when the candidate is not strictly longer).
	ErrChainNotLonger = errors.New("chain: candidate chain is not strictly longer")

	// ErrChainInvalid is returned by ReplaceChain when the candidate fails
	// IsChainValid.
	ErrChainInvalid = errors.New("chain: candidate chain failed validation")

	// ErrBlockOutOfSequence is returned by AppendBlock when the block's
	// index/previous_hash do not extend the current tip by exactly one.
	ErrBlockOutOfSequence = errors.New("chain: block does not extend the current tip")

	// ErrBlockMalformed is returned by AppendBlock when the block fails
	// WellFormed.
	ErrBlockMalformed = errors.New("chain: block is not well-formed")
)

// RejectionError wraps an admission rejection reason as an error value.
// AddTransaction itself does not return it: it reports a rejection as the
// pair (false, reason).
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

// Rejected is a transaction that failed admission, retained for
// inspection per spec.md §3 (rejected pool).
type Rejected struct {
	Transaction Transaction `json:"transaction"`
	Reason      string      `json:"reason"`
	Timestamp   float64     `json:"timestamp"`
}
