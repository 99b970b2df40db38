package futarchy

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seeds used by the futarchy program.
var (
	seedDAO            = []byte("dao")
	seedProposal       = []byte("proposal")
	seedAmmPosition    = []byte("amm_position")
	seedEventAuthority = []byte("__event_authority")

	seedQuestion         = []byte("question")
	seedConditionalVault = []byte("conditional_vault")
	seedConditionalToken = []byte("conditional_token")

	seedSquadsPrefix      = []byte("multisig")
	seedSquadsMultisig    = []byte("multisig")
	seedSquadsVault       = []byte("vault")
	seedSquadsTransaction = []byte("transaction")
	seedSquadsProposal    = []byte("proposal")
)

// Conditional token indexes. Outcome 0 is fail, outcome 1 is pass.
const (
	outcomeFail uint8 = 0
	outcomePass uint8 = 1
	numOutcomes uint8 = 2
)

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func findPDA(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("futarchy: derive address: %w", err)
	}
	return addr, nil
}

// DAOAddress derives the DAO account for creator and nonce.
func (p Programs) DAOAddress(creator solana.PublicKey, nonce uint64) (solana.PublicKey, error) {
	return findPDA(p.Futarchy, seedDAO, creator.Bytes(), u64le(nonce))
}

// ProposalAddress derives the futarchy proposal bound to a squads proposal.
func (p Programs) ProposalAddress(squadsProposal solana.PublicKey) (solana.PublicKey, error) {
	return findPDA(p.Futarchy, seedProposal, squadsProposal.Bytes())
}

// AmmPositionAddress derives the liquidity position of authority in dao's
// spot pool.
func (p Programs) AmmPositionAddress(dao, authority solana.PublicKey) (solana.PublicKey, error) {
	return findPDA(p.Futarchy, seedAmmPosition, dao.Bytes(), authority.Bytes())
}

// EventAuthority derives the futarchy program's event authority.
func (p Programs) EventAuthority() (solana.PublicKey, error) {
	return findPDA(p.Futarchy, seedEventAuthority)
}

// VaultEventAuthority derives the conditional vault program's event authority.
func (p Programs) VaultEventAuthority() (solana.PublicKey, error) {
	return findPDA(p.ConditionalVault, seedEventAuthority)
}

// QuestionAddress derives the conditional vault question for a proposal. The
// proposal is both the question id and its oracle.
func (p Programs) QuestionAddress(proposal solana.PublicKey) (solana.PublicKey, error) {
	return findPDA(p.ConditionalVault, seedQuestion, proposal.Bytes(), proposal.Bytes(), []byte{numOutcomes})
}

// ConditionalVaultAddress derives the vault splitting underlying into
// conditional tokens for question.
func (p Programs) ConditionalVaultAddress(question, underlying solana.PublicKey) (solana.PublicKey, error) {
	return findPDA(p.ConditionalVault, seedConditionalVault, question.Bytes(), underlying.Bytes())
}

// ConditionalTokenMint derives the mint for one outcome of vault.
func (p Programs) ConditionalTokenMint(vault solana.PublicKey, outcome uint8) (solana.PublicKey, error) {
	return findPDA(p.ConditionalVault, seedConditionalToken, vault.Bytes(), []byte{outcome})
}

// SquadsMultisig derives the squads multisig created for a DAO.
func (p Programs) SquadsMultisig(dao solana.PublicKey) (solana.PublicKey, error) {
	return findPDA(p.Squads, seedSquadsPrefix, seedSquadsMultisig, dao.Bytes())
}

// SquadsVault derives the default vault of multisig.
func (p Programs) SquadsVault(multisig solana.PublicKey) (solana.PublicKey, error) {
	return findPDA(p.Squads, seedSquadsPrefix, multisig.Bytes(), seedSquadsVault, []byte{0})
}

// SquadsTransaction derives the vault transaction at index.
func (p Programs) SquadsTransaction(multisig solana.PublicKey, index uint64) (solana.PublicKey, error) {
	return findPDA(p.Squads, seedSquadsPrefix, multisig.Bytes(), seedSquadsTransaction, u64le(index))
}

// SquadsProposal derives the squads proposal for the transaction at index.
func (p Programs) SquadsProposal(multisig solana.PublicKey, index uint64) (solana.PublicKey, error) {
	return findPDA(p.Squads, seedSquadsPrefix, multisig.Bytes(), seedSquadsTransaction, u64le(index), seedSquadsProposal)
}

// AssociatedTokenAddress derives the associated token account of owner for
// mint. Owner may itself be a program address.
func AssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("futarchy: derive token account: %w", err)
	}
	return addr, nil
}
