package chain

import "fmt"

// InvalidTransactionError is raised while building a call, before any
// network access.
type InvalidTransactionError struct {
	Method string
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid %s transaction: %s", e.Method, e.Reason)
}

// TransactionFailedError reports a transaction that could not be broadcast
// (Hash empty) or that reverted on-chain.
type TransactionFailedError struct {
	Method string
	Hash   string
	Reason string
	Err    error
}

func (e *TransactionFailedError) Error() string {
	msg := fmt.Sprintf("%s transaction failed: %s", e.Method, e.Reason)
	if e.Hash != "" {
		msg += " (" + e.Hash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransactionFailedError) Unwrap() error { return e.Err }
