// Package recovery inspects and withdraws liquidity positions held in a
// DAO's spot pool. It backs the recover-liquidity operator tool.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/gagliardetto/solana-go"
)

var (
	// ErrNoPosition means the signer never provided liquidity to the DAO.
	ErrNoPosition = errors.New("recovery: no liquidity position for signer")
	// ErrZeroLiquidity means the signer's position exists but is empty.
	ErrZeroLiquidity = errors.New("recovery: signer position has zero liquidity")
)

// Ledger is the signing and balance side of the cluster connection.
type Ledger interface {
	PublicKey() solana.PublicKey
	TokenBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	SignAndSend(ctx context.Context, instructions []solana.Instruction, cosigners ...solana.PrivateKey) (solana.Signature, error)
	ExplorerLink(sig solana.Signature) string
}

// Protocol reads futarchy accounts and builds the withdraw instruction.
// *futarchy.Client satisfies it.
type Protocol interface {
	FetchDao(ctx context.Context, addr solana.PublicKey) (futarchy.Dao, error)
	FetchAmmPosition(ctx context.Context, dao, authority solana.PublicKey) (solana.PublicKey, *futarchy.AmmPosition, error)
	ListAmmPositions(ctx context.Context, dao solana.PublicKey) ([]futarchy.KeyedPosition, error)
	WithdrawLiquidity(dao futarchy.DaoRefs, authority solana.PublicKey, liquidity futarchy.U128, minBase, minQuote uint64) (solana.Instruction, error)
}

// Position is the signer's view of its liquidity in a DAO.
type Position struct {
	Address   solana.PublicKey
	Authority solana.PublicKey
	Exists    bool
	Liquidity futarchy.U128
}

// Report is the dry-run result.
type Report struct {
	Dao       solana.PublicKey
	BaseMint  solana.PublicKey
	QuoteMint solana.PublicKey
	Signer    Position
	// Positions is every position recorded for the DAO. It is filled when a
	// scan was requested or the signer has no position.
	Positions []futarchy.KeyedPosition
	Scanned   bool
}

// Withdrawal is the outcome of an executed recovery.
type Withdrawal struct {
	Signature   solana.Signature
	ExplorerURL string
	Liquidity   futarchy.U128

	BaseBefore, BaseAfter   uint64
	QuoteBefore, QuoteAfter uint64
}

// BaseDelta is the base-token amount received, in base units.
func (w Withdrawal) BaseDelta() int64 { return int64(w.BaseAfter) - int64(w.BaseBefore) }

// QuoteDelta is the quote-token amount received, in base units.
func (w Withdrawal) QuoteDelta() int64 { return int64(w.QuoteAfter) - int64(w.QuoteBefore) }

// Tool runs recoveries for the signer behind its Ledger.
type Tool struct {
	ledger   Ledger
	protocol Protocol
	logger   *slog.Logger
}

// New creates a Tool.
func New(ledger Ledger, protocol Protocol, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{ledger: ledger, protocol: protocol, logger: logger.With(slog.String("component", "recovery"))}
}

// Inspect reports the signer's position in dao without sending anything.
func (t *Tool) Inspect(ctx context.Context, dao solana.PublicKey, scan bool) (Report, error) {
	d, err := t.protocol.FetchDao(ctx, dao)
	if err != nil {
		return Report{}, fmt.Errorf("recovery: load dao %s: %w", dao, err)
	}

	signer := t.ledger.PublicKey()
	addr, pos, err := t.protocol.FetchAmmPosition(ctx, dao, signer)
	if err != nil {
		return Report{}, err
	}

	r := Report{
		Dao:       dao,
		BaseMint:  d.BaseMint,
		QuoteMint: d.QuoteMint,
		Signer:    Position{Address: addr, Authority: signer},
	}
	if pos != nil {
		r.Signer.Exists = true
		r.Signer.Liquidity = pos.Liquidity
	}

	if scan || !r.Signer.Exists {
		all, err := t.protocol.ListAmmPositions(ctx, dao)
		if err != nil {
			return r, err
		}
		r.Positions = all
		r.Scanned = true
	}

	t.logger.InfoContext(ctx, "inspected position",
		slog.String("dao", dao.String()),
		slog.String("position", addr.String()),
		slog.Bool("exists", r.Signer.Exists),
		slog.String("liquidity", r.Signer.Liquidity.String()),
		slog.Int("scanned", len(r.Positions)),
	)
	return r, nil
}

// Withdraw removes the signer's full liquidity from dao. Missing token
// accounts are created in the same transaction. Minimum outputs are zero.
func (t *Tool) Withdraw(ctx context.Context, dao solana.PublicKey) (Withdrawal, error) {
	r, err := t.Inspect(ctx, dao, false)
	if err != nil {
		return Withdrawal{}, err
	}
	if !r.Signer.Exists {
		return Withdrawal{}, ErrNoPosition
	}
	if r.Signer.Liquidity.IsZero() {
		return Withdrawal{}, ErrZeroLiquidity
	}

	signer := r.Signer.Authority
	baseATA, err := futarchy.AssociatedTokenAddress(signer, r.BaseMint)
	if err != nil {
		return Withdrawal{}, err
	}
	quoteATA, err := futarchy.AssociatedTokenAddress(signer, r.QuoteMint)
	if err != nil {
		return Withdrawal{}, err
	}

	w := Withdrawal{Liquidity: r.Signer.Liquidity}
	if w.BaseBefore, err = t.ledger.TokenBalance(ctx, baseATA); err != nil {
		return w, err
	}
	if w.QuoteBefore, err = t.ledger.TokenBalance(ctx, quoteATA); err != nil {
		return w, err
	}

	createBase, err := futarchy.CreateTokenAccountIdempotent(signer, signer, r.BaseMint)
	if err != nil {
		return w, err
	}
	createQuote, err := futarchy.CreateTokenAccountIdempotent(signer, signer, r.QuoteMint)
	if err != nil {
		return w, err
	}
	refs := futarchy.DaoRefs{Address: dao, BaseMint: r.BaseMint, QuoteMint: r.QuoteMint}
	withdraw, err := t.protocol.WithdrawLiquidity(refs, signer, r.Signer.Liquidity, 0, 0)
	if err != nil {
		return w, err
	}

	sig, err := t.ledger.SignAndSend(ctx, []solana.Instruction{createBase, createQuote, withdraw})
	if err != nil {
		return w, fmt.Errorf("recovery: withdraw liquidity: %w", err)
	}
	w.Signature = sig
	w.ExplorerURL = t.ledger.ExplorerLink(sig)

	if w.BaseAfter, err = t.ledger.TokenBalance(ctx, baseATA); err != nil {
		return w, err
	}
	if w.QuoteAfter, err = t.ledger.TokenBalance(ctx, quoteATA); err != nil {
		return w, err
	}

	t.logger.InfoContext(ctx, "liquidity withdrawn",
		slog.String("dao", dao.String()),
		slog.String("signature", sig.String()),
		slog.Int64("base_delta", w.BaseDelta()),
		slog.Int64("quote_delta", w.QuoteDelta()),
	)
	return w, nil
}
