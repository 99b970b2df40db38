package futarchy

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// AccountReader is the read side of the ledger that the Client needs. Missing
// accounts are reported as domain.ErrNotFound.
type AccountReader interface {
	AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)
	ProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) ([]*rpc.KeyedAccount, error)
}

// Client reads futarchy accounts through an AccountReader and exposes the
// instruction builders of its Programs.
type Client struct {
	Programs
	reader AccountReader
}

// NewClient creates a Client for programs reading through reader.
func NewClient(programs Programs, reader AccountReader) *Client {
	return &Client{Programs: programs, reader: reader}
}

// FetchDao loads and decodes the DAO at addr.
func (c *Client) FetchDao(ctx context.Context, addr solana.PublicKey) (Dao, error) {
	data, err := c.reader.AccountData(ctx, addr)
	if err != nil {
		return Dao{}, fmt.Errorf("futarchy: fetch dao %s: %w", addr, err)
	}
	return DecodeDao(data)
}

// FetchProposal loads and decodes the proposal at addr.
func (c *Client) FetchProposal(ctx context.Context, addr solana.PublicKey) (Proposal, error) {
	data, err := c.reader.AccountData(ctx, addr)
	if err != nil {
		return Proposal{}, fmt.Errorf("futarchy: fetch proposal %s: %w", addr, err)
	}
	return DecodeProposal(data)
}

// ProposalRefs loads a proposal and its DAO and returns their addresses.
func (c *Client) ProposalRefs(ctx context.Context, daoAddr, proposalAddr solana.PublicKey) (ProposalRefs, Proposal, error) {
	dao, err := c.FetchDao(ctx, daoAddr)
	if err != nil {
		return ProposalRefs{}, Proposal{}, err
	}
	prop, err := c.FetchProposal(ctx, proposalAddr)
	if err != nil {
		return ProposalRefs{}, Proposal{}, err
	}
	if !prop.Dao.Equals(daoAddr) {
		return ProposalRefs{}, Proposal{}, fmt.Errorf("futarchy: proposal %s belongs to dao %s, not %s", proposalAddr, prop.Dao, daoAddr)
	}
	return prop.Refs(proposalAddr, dao.Refs(daoAddr)), prop, nil
}

// NextTransactionIndex returns the index the next squads transaction of
// multisig will be created with.
func (c *Client) NextTransactionIndex(ctx context.Context, multisig solana.PublicKey) (uint64, error) {
	data, err := c.reader.AccountData(ctx, multisig)
	if err != nil {
		return 0, fmt.Errorf("futarchy: fetch multisig %s: %w", multisig, err)
	}
	m, err := DecodeSquadsMultisig(data)
	if err != nil {
		return 0, err
	}
	return m.TransactionIndex + 1, nil
}

// FetchAmmPosition returns the position of authority in dao's spot pool, or
// nil when the authority never provided liquidity.
func (c *Client) FetchAmmPosition(ctx context.Context, dao, authority solana.PublicKey) (solana.PublicKey, *AmmPosition, error) {
	addr, err := c.AmmPositionAddress(dao, authority)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	data, err := c.reader.AccountData(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return addr, nil, nil
	}
	if err != nil {
		return addr, nil, fmt.Errorf("futarchy: fetch amm position %s: %w", addr, err)
	}
	pos, err := DecodeAmmPosition(data)
	if err != nil {
		return addr, nil, err
	}
	return addr, &pos, nil
}

// KeyedPosition is an AmmPosition with its account address.
type KeyedPosition struct {
	Address solana.PublicKey
	AmmPosition
}

// ListAmmPositions returns every liquidity position recorded for dao.
func (c *Client) ListAmmPositions(ctx context.Context, dao solana.PublicKey) ([]KeyedPosition, error) {
	disc := accountDiscriminator(accountAmmPosition)
	accounts, err := c.reader.ProgramAccounts(ctx, c.Futarchy, []rpc.RPCFilter{
		{DataSize: ammPositionSize},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(disc[:])}},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: discriminatorLen, Bytes: solana.Base58(dao.Bytes())}},
	})
	if err != nil {
		return nil, fmt.Errorf("futarchy: list amm positions for %s: %w", dao, err)
	}

	out := make([]KeyedPosition, 0, len(accounts))
	for _, acc := range accounts {
		if acc == nil || acc.Account == nil || acc.Account.Data == nil {
			continue
		}
		pos, err := DecodeAmmPosition(acc.Account.Data.GetBinary())
		if err != nil {
			continue
		}
		out = append(out, KeyedPosition{Address: acc.Pubkey, AmmPosition: pos})
	}
	return out, nil
}
