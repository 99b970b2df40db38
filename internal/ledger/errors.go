package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// TxError describes a failed submission or confirmation. Kind is one of the
// domain submission or confirmation sentinels. Signature is set whenever the
// transaction reached the ledger, so the caller can re-query its outcome.
type TxError struct {
	Kind        error
	Signature   solana.Signature
	ExplorerURL string
	Err         error
}

func (e *TxError) Error() string {
	var zero solana.Signature
	if e.Signature == zero {
		if e.Err == nil {
			return e.Kind.Error()
		}
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("%v (tx %s)", e.Kind, e.Signature)
	}
	return fmt.Sprintf("%v (tx %s): %v", e.Kind, e.Signature, e.Err)
}

func (e *TxError) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// HasSignature reports whether the transaction reached the ledger.
func (e *TxError) HasSignature() bool {
	var zero solana.Signature
	return e.Signature != zero
}

func (c *Client) txError(kind error, sig solana.Signature, err error) *TxError {
	e := &TxError{Kind: kind, Signature: sig, Err: err}
	if e.HasSignature() {
		e.ExplorerURL = c.ExplorerLink(sig)
	}
	return e
}
