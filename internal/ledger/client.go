// Package ledger submits transactions to a Solana cluster and reads account
// state on behalf of the orchestrator. It signs with the operator's wallet
// plus any protocol co-signers and confirms against the blockhash window the
// transaction was built with.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPC is the subset of the JSON-RPC client the ledger adapter uses.
// *rpc.Client satisfies it.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

var _ RPC = (*rpc.Client)(nil)

// Options tunes submission and confirmation.
type Options struct {
	Commitment    rpc.CommitmentType
	MaxRetries    int
	SkipPreflight bool
	PollInterval  time.Duration
	ExplorerURL   string
}

// Client is the ledger adapter. A nil wallet gives a read-only client whose
// SignAndSend always fails with domain.ErrSigningUnavailable.
type Client struct {
	rpc    RPC
	wallet Wallet
	opts   Options
	logger *slog.Logger
}

// NewClient creates a Client. wallet may be nil.
func NewClient(r RPC, wallet Wallet, opts Options, logger *slog.Logger) *Client {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:    r,
		wallet: wallet,
		opts:   opts,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Connected reports whether the client can sign.
func (c *Client) Connected() bool { return c.wallet != nil }

// PublicKey returns the wallet address, or the zero key when read-only.
func (c *Client) PublicKey() solana.PublicKey {
	if c.wallet == nil {
		return solana.PublicKey{}
	}
	return c.wallet.PublicKey()
}

// ExplorerLink returns a block explorer URL for sig.
func (c *Client) ExplorerLink(sig solana.Signature) string {
	if c.opts.ExplorerURL == "" {
		return ""
	}
	return c.opts.ExplorerURL + sig.String()
}

// SignAndSend builds a transaction paid by the wallet from instructions,
// signs it with cosigners and then the wallet, submits it and waits for
// confirmation. The returned signature is also set on a *TxError when the
// transaction reached the ledger but its outcome is unknown or failed.
func (c *Client) SignAndSend(ctx context.Context, instructions []solana.Instruction, cosigners ...solana.PrivateKey) (solana.Signature, error) {
	var zero solana.Signature
	if c.wallet == nil {
		return zero, domain.ErrSigningUnavailable
	}
	if len(instructions) == 0 {
		return zero, fmt.Errorf("ledger: sign and send: no instructions")
	}

	latest, err := c.rpc.GetLatestBlockhash(ctx, c.opts.Commitment)
	if err != nil {
		return zero, c.txError(domain.ErrSubmissionFailed, zero, fmt.Errorf("latest blockhash: %w", err))
	}
	if latest == nil || latest.Value == nil {
		return zero, c.txError(domain.ErrSubmissionFailed, zero, errors.New("latest blockhash: empty response"))
	}

	tx, err := solana.NewTransaction(instructions, latest.Value.Blockhash, solana.TransactionPayer(c.wallet.PublicKey()))
	if err != nil {
		return zero, fmt.Errorf("ledger: build transaction: %w", err)
	}
	if len(cosigners) > 0 {
		if err := partialSign(tx, cosigners...); err != nil {
			return zero, err
		}
	}
	if err := c.wallet.SignTransaction(ctx, tx); err != nil {
		return zero, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}
	if pk, missing := missingSigner(tx); missing {
		return zero, fmt.Errorf("ledger: transaction is missing a signature from %s", pk)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       c.opts.SkipPreflight,
		PreflightCommitment: c.opts.Commitment,
	}
	if c.opts.MaxRetries > 0 {
		n := uint(c.opts.MaxRetries)
		opts.MaxRetries = &n
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		c.logger.WarnContext(ctx, "transaction submission failed", slog.String("error", err.Error()))
		return zero, c.txError(domain.ErrSubmissionFailed, zero, err)
	}
	c.logger.DebugContext(ctx, "transaction submitted",
		slog.String("signature", sig.String()),
		slog.Uint64("last_valid_block_height", latest.Value.LastValidBlockHeight),
	)

	if err := c.Confirm(ctx, sig, latest.Value.LastValidBlockHeight); err != nil {
		return sig, err
	}
	c.logger.InfoContext(ctx, "transaction confirmed", slog.String("signature", sig.String()))
	return sig, nil
}

// Confirm waits until sig reaches the client's commitment, fails, or the
// block height moves past lastValidBlockHeight. Context cancellation
// abandons only the wait; the transaction may still land.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		st, err := c.SignatureStatus(ctx, sig)
		switch {
		case err != nil:
			c.logger.DebugContext(ctx, "signature status unavailable", slog.String("error", err.Error()))
		case st != nil && st.Err != nil:
			return c.txError(domain.ErrExecutionReverted, sig, fmt.Errorf("%v", st.Err))
		case st != nil && c.reached(st.ConfirmationStatus):
			return nil
		}

		height, err := c.rpc.GetBlockHeight(ctx, c.opts.Commitment)
		if err == nil && height > lastValidBlockHeight {
			// One last look: it may have landed in the final valid block.
			if st, err := c.SignatureStatus(ctx, sig); err == nil && st != nil {
				if st.Err != nil {
					return c.txError(domain.ErrExecutionReverted, sig, fmt.Errorf("%v", st.Err))
				}
				if c.reached(st.ConfirmationStatus) {
					return nil
				}
			}
			return c.txError(domain.ErrConfirmationTimeout, sig,
				fmt.Errorf("block height %d passed %d", height, lastValidBlockHeight))
		}

		select {
		case <-ctx.Done():
			return c.txError(domain.ErrConfirmationTimeout, sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) reached(status rpc.ConfirmationStatusType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return c.opts.Commitment != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return c.opts.Commitment == rpc.CommitmentProcessed
	}
	return false
}

// SignatureStatus returns the current status of sig, or nil when the
// cluster does not know it.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("ledger: signature status %s: %w", sig, err)
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// AccountData returns the raw data of addr, or domain.ErrNotFound when the
// account does not exist.
func (c *Client) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.opts.Commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("ledger: account %s: %w", addr, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: account %s: %w", addr, err)
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, fmt.Errorf("ledger: account %s: %w", addr, domain.ErrNotFound)
	}
	return out.Value.Data.GetBinary(), nil
}

// AccountExists reports whether addr holds an account.
func (c *Client) AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	_, err := c.AccountData(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TokenBalance returns the raw base-unit balance of a token account. A
// missing account has a zero balance.
func (c *Client) TokenBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetTokenAccountBalance(ctx, addr, c.opts.Commitment)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, nil
		}
		if ok, existsErr := c.AccountExists(ctx, addr); existsErr == nil && !ok {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: token balance %s: %w", addr, err)
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	n, ok := new(big.Int).SetString(out.Value.Amount, 10)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("ledger: token balance %s: bad amount %q", addr, out.Value.Amount)
	}
	return n.Uint64(), nil
}

// ProgramAccounts lists accounts owned by program that match filters.
func (c *Client) ProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) ([]*rpc.KeyedAccount, error) {
	out, err := c.rpc.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Commitment: c.opts.Commitment,
		Encoding:   solana.EncodingBase64,
		Filters:    filters,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: program accounts %s: %w", program, err)
	}
	return out, nil
}
